// Package explore deduplicates, prunes and orders the CrashStates the
// frontier enumerator produces (C7, spec.md §4.6).
package explore

import (
	"sort"
	"strconv"
	"strings"

	"github.com/sandia-minimega/paracheck/internal/frontier"
)

// Dedup removes CrashStates with an equal call set, keeping one
// representative per equivalence class: prefer the MPI-originated one, else
// the one with the smallest reorder set, else a deterministic arbitrary
// pick (spec.md §4.6 "Dedup").
func Dedup(states []*frontier.CrashState) []*frontier.CrashState {
	best := make(map[string]*frontier.CrashState)
	var order []string

	for _, s := range states {
		key := setKey(s.Included)
		cur, ok := best[key]
		if !ok {
			best[key] = s
			order = append(order, key)
			continue
		}
		if betterRepresentative(s, cur) {
			best[key] = s
		}
	}

	out := make([]*frontier.CrashState, 0, len(order))
	for _, key := range order {
		out = append(out, best[key])
	}
	return out
}

// betterRepresentative reports whether candidate should replace current as
// the kept representative of an equivalence class.
func betterRepresentative(candidate, current *frontier.CrashState) bool {
	if candidate.MPIOriginated != current.MPIOriginated {
		return candidate.MPIOriginated
	}
	if len(candidate.ReorderSet) != len(current.ReorderSet) {
		return len(candidate.ReorderSet) < len(current.ReorderSet)
	}
	return false
}

func setKey(included map[int]bool) string {
	positions := make([]int, 0, len(included))
	for pos := range included {
		positions = append(positions, pos)
	}
	sort.Ints(positions)

	var b strings.Builder
	for i, pos := range positions {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(pos))
	}
	return b.String()
}
