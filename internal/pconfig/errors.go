package pconfig

// Error is a ConfigError (spec.md §7): missing/contradictory configuration
// or a missing required path. Its presence always aborts the run.
type Error struct {
	Reason string
}

func (e *Error) Error() string { return "pconfig: " + e.Reason }
