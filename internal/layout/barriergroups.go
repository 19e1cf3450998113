package layout

import "github.com/sandia-minimega/paracheck/internal/call"

// BarrierGroups maps each server-side write position to the MPI epoch (the
// span between two collective calls) its originating client write fell in,
// and back from an epoch to every position realizing a write from it
// (spec.md §4.5 "MPI-aware causality"). Barrier itself carries no pointer to
// the writes it brackets, so membership is inferred positionally: every
// Pwrite between two Barrier/collective calls in the workload's own call
// order belongs to the epoch between them.
type BarrierGroups struct {
	groupOf map[int]int
	members map[int][]int
}

// BuildBarrierGroups walks a workload's calls in order, incrementing an
// epoch counter at each Barrier, and resolves every Pwrite it finds to its
// server-side realizers via mapping and positionOf.
func BuildBarrierGroups(workload []call.Call, mapping *OPMapping, positionOf map[call.Call]int) *BarrierGroups {
	g := &BarrierGroups{
		groupOf: make(map[int]int),
		members: make(map[int][]int),
	}

	group := 0
	for _, c := range workload {
		if _, ok := c.(*call.Barrier); ok {
			group++
			continue
		}
		cw, ok := c.(*call.Pwrite)
		if !ok || mapping == nil {
			continue
		}
		for _, sw := range mapping.Realizers(cw) {
			pos, ok := positionOf[sw]
			if !ok {
				continue
			}
			g.groupOf[pos] = group
			g.members[group] = append(g.members[group], pos)
		}
	}

	return g
}

// GroupOf returns the epoch a server-side position was realized in.
func (g *BarrierGroups) GroupOf(pos int) (int, bool) {
	gid, ok := g.groupOf[pos]
	return gid, ok
}

// Members returns every server-side position realized within an epoch.
func (g *BarrierGroups) Members(group int) []int {
	return g.members[group]
}
