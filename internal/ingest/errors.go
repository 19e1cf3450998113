package ingest

import "fmt"

// IngestError reports a malformed trace line or an unsupported flag
// combination encountered while parsing (spec.md §4.1, §7). Unknown
// operation names are not errors — they are recorded in Result.Unsupported
// instead.
type IngestError struct {
	Server string
	Line   string
	Reason string
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("ingest: %s: %s: %q", e.Server, e.Reason, e.Line)
}
