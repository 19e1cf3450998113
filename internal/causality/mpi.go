package causality

// RefineMPI implements the optional MPI-aware causality layer (spec.md
// §4.4): when base and pivot are server-side calls realizing client
// writes from the same collective barrier group, on different servers,
// the dependent set grows to include every other server-side call in
// barrierGroup with a gid strictly between base's and pivot's. Callers
// assemble barrierGroup (the server-side realizers of every client write
// in the group, via internal/layout's OPMapping) before calling this.
//
// It returns ok=false ("ordered", skipped) when base and pivot share a
// server, or when no intervening call belongs to the group.
func (r *Relations) RefineMPI(base, pivot int, barrierGroup []int) (dependent []int, ok bool) {
	arena := r.graph.Arena()
	if arena.Get(base).Server() == arena.Get(pivot).Server() {
		return nil, false
	}

	lo, hi := arena.Get(base).GID(), arena.Get(pivot).GID()
	if lo > hi {
		lo, hi = hi, lo
	}

	dependent = []int{base}
	for _, pos := range barrierGroup {
		if pos == base || pos == pivot {
			continue
		}
		g := arena.Get(pos).GID()
		if g > lo && g < hi {
			dependent = append(dependent, pos)
		}
	}
	if len(dependent) == 1 {
		return nil, false
	}
	return dependent, true
}
