package explore

import (
	"github.com/sandia-minimega/paracheck/internal/call"
	"github.com/sandia-minimega/paracheck/internal/execgraph"
	"github.com/sandia-minimega/paracheck/internal/frontier"
	"github.com/sandia-minimega/paracheck/internal/layout"
)

// PruneOptions toggles each domain pruning policy independently
// (spec.md §4.6 "Prune policies").
type PruneOptions struct {
	DropFsyncTerminal bool
	// Objects, when non-nil, enables the HDF5 DATA_CHUNKS policy. Writes
	// are identified by (offset, length) lookups against it.
	Objects *layout.OBJMapping
}

// Prune removes CrashStates matched by any enabled policy.
func Prune(states []*frontier.CrashState, g *execgraph.Graph, opts PruneOptions) []*frontier.CrashState {
	arena := g.Arena()
	out := states[:0]
	for _, s := range states {
		if opts.DropFsyncTerminal && isFsyncTerminal(arena, s) {
			continue
		}
		if opts.Objects != nil && isDataChunkOnly(arena, opts.Objects, s) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// isFsyncTerminal reports whether the cut's last call is an Fsync: an
// Fsync cannot be reordered past itself in durable order (spec.md §4.6).
func isFsyncTerminal(arena *call.Arena, s *frontier.CrashState) bool {
	if s.Pivot < 0 {
		return false
	}
	_, ok := arena.Get(s.Pivot).(*call.Fsync)
	return ok
}

// isDataChunkOnly reports whether the pivot, any reorder victim, or the
// cut's last call is tagged solely as DATA_CHUNKS in the HDF5 object map
// (spec.md §4.6).
func isDataChunkOnly(arena *call.Arena, objs *layout.OBJMapping, s *frontier.CrashState) bool {
	check := func(pos int) bool {
		pw, ok := arena.Get(pos).(*call.Pwrite)
		if !ok {
			return false
		}
		kinds := objs.Query(pw.Offset, pw.Length)
		return len(kinds) == 1 && kinds[layout.KindDataChunks]
	}

	if s.Pivot >= 0 && check(s.Pivot) {
		return true
	}
	for _, v := range s.ReorderSet {
		if check(v) {
			return true
		}
	}
	return false
}
