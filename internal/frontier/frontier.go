// Package frontier enumerates consistent global cuts over a reduced
// execution graph and the small k-reorderings admissible at each cut
// (C6, spec.md §4.5).
package frontier

import (
	"sort"

	"github.com/sandia-minimega/paracheck/internal/call"
	"github.com/sandia-minimega/paracheck/internal/causality"
	"github.com/sandia-minimega/paracheck/internal/execgraph"
	"github.com/sandia-minimega/paracheck/internal/layout"
)

// CrashState is an ordered, consistent prefix of ExecGraph nodes,
// optionally annotated with a reorder victim set omitted from the cut
// (spec.md §3 "CrashState"). Equality for deduplication purposes is set
// equality over Included (internal/explore owns that comparison).
type CrashState struct {
	Included      map[int]bool
	ReorderSet    []int
	Pivot         int
	MPIOriginated bool
}

// serverSeq is one server's calls in graph-position order, the S_i of
// spec.md §4.5 (the leading null sentinel is modeled as frontier index 0,
// meaning "nothing from this server is selected").
type serverSeq struct {
	server *call.Server
	seq    []int // graph positions, timestamp order
}

// Enumerate returns the full set of consistent CrashStates: one atomic
// state per surviving frontier, plus k∈{1,2} reorder variants
// (spec.md §4.5). groups, if non-nil, supplies the MPI epoch membership
// (SPEC_FULL.md §4.4 "MPI-aware causality") used to enlarge a cross-server
// victim's dependent set beyond what PersistsBeforeAll alone would force
// out; pass nil when no workload trace was ingested.
func Enumerate(g *execgraph.Graph, r *causality.Relations, groups *layout.BarrierGroups) []*CrashState {
	servers := groupByServer(g)
	indexOf := make(map[int]int, g.Len()) // position -> index within its server's seq
	serverOf := make(map[int]int, g.Len()) // position -> index into servers
	for si, s := range servers {
		for li, pos := range s.seq {
			indexOf[pos] = li
			serverOf[pos] = si
		}
	}

	var states []*CrashState
	frontier := make([]int, len(servers))
	enumerateFrontiers(servers, frontier, 0, func(f []int) {
		included := cutFor(servers, f)
		if !isConsistent(g, indexOf, serverOf, f, included) {
			return
		}
		pivot, ok := lastByGID(g, included)
		if !ok {
			states = append(states, &CrashState{Included: cloneSet(included), Pivot: -1})
			return
		}
		states = append(states, &CrashState{Included: cloneSet(included), Pivot: pivot})
		states = append(states, reorderVariants(g, r, groups, included, pivot)...)
	})

	return states
}

func groupByServer(g *execgraph.Graph) []*serverSeq {
	arena := g.Arena()
	idx := make(map[*call.Server]int)
	var servers []*serverSeq
	for pos := 0; pos < arena.Len(); pos++ {
		srv := arena.Get(pos).Server()
		si, ok := idx[srv]
		if !ok {
			si = len(servers)
			idx[srv] = si
			servers = append(servers, &serverSeq{server: srv})
		}
		servers[si].seq = append(servers[si].seq, pos)
	}
	return servers
}

// enumerateFrontiers walks the cartesian product of {0..len(seq)} per
// server, calling visit with each complete frontier tuple.
func enumerateFrontiers(servers []*serverSeq, frontier []int, i int, visit func([]int)) {
	if i == len(servers) {
		visit(frontier)
		return
	}
	for f := 0; f <= len(servers[i].seq); f++ {
		frontier[i] = f
		enumerateFrontiers(servers, frontier, i+1, visit)
	}
}

// cutFor returns the set of positions selected by frontier f: for server
// i, the first f[i] positions of its sequence.
func cutFor(servers []*serverSeq, f []int) map[int]bool {
	included := make(map[int]bool)
	for i, s := range servers {
		for _, pos := range s.seq[:f[i]] {
			included[pos] = true
		}
	}
	return included
}

// isConsistent applies spec.md §4.5's consistency filter: for every
// cross-server edge (u,v), if u is unselected yet v is selected, the
// frontier is dropped.
func isConsistent(g *execgraph.Graph, indexOf, serverOf map[int]int, frontier []int, included map[int]bool) bool {
	for u := 0; u < g.Len(); u++ {
		for _, v := range g.Successors(u) {
			if serverOf[u] == serverOf[v] {
				continue
			}
			if !included[u] && included[v] {
				return false
			}
		}
	}
	return true
}

func lastByGID(g *execgraph.Graph, included map[int]bool) (int, bool) {
	arena := g.Arena()
	best, bestGID, found := -1, -1, false
	for pos := range included {
		if gid := arena.Get(pos).GID(); !found || gid > bestGID {
			best, bestGID, found = pos, gid, true
		}
	}
	return best, found
}

func cloneSet(s map[int]bool) map[int]bool {
	out := make(map[int]bool, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// reorderVariants emits, for k∈{1,2}, one CrashState per admissible
// size-k victim combination drawn from the cut's non-Fsync calls
// excluding the pivot (spec.md §4.5).
func reorderVariants(g *execgraph.Graph, r *causality.Relations, groups *layout.BarrierGroups, included map[int]bool, pivot int) []*CrashState {
	arena := g.Arena()
	var candidates []int
	for pos := range included {
		if pos == pivot {
			continue
		}
		if _, isFsync := arena.Get(pos).(*call.Fsync); isFsync {
			continue
		}
		candidates = append(candidates, pos)
	}
	sort.Ints(candidates)

	sortedCut := make([]int, 0, len(included))
	for pos := range included {
		sortedCut = append(sortedCut, pos)
	}
	sort.Slice(sortedCut, func(i, j int) bool { return arena.Get(sortedCut[i]).GID() < arena.Get(sortedCut[j]).GID() })

	var out []*CrashState

	for _, v := range candidates {
		dep, ok := r.PersistsBeforeAll(v, tailAfter(arena, sortedCut, v), pivot)
		if !ok {
			continue
		}
		dep, mpi := widenForMPI(r, groups, v, pivot, dep)
		out = append(out, reorderState(included, dep, pivot, mpi))
	}

	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			v1, v2 := candidates[i], candidates[j]
			if arena.Get(v2).GID() < arena.Get(v1).GID() {
				v1, v2 = v2, v1
			}
			tail1 := tailAfter(arena, sortedCut, v1)
			dep1, ok := r.PersistsBeforeAll(v1, tail1, pivot)
			if !ok {
				continue
			}
			// Resolved Open Question (spec.md §9): v2 is evaluated against
			// the tail with only v1's own position removed, not v1's
			// whole dependent set.
			tail2 := removePos(tailAfter(arena, sortedCut, v2), v1)
			dep2, ok := r.PersistsBeforeAll(v2, tail2, pivot)
			if !ok {
				continue
			}
			combined := append(append([]int{}, dep1...), dep2...)
			combined, mpi1 := widenForMPI(r, groups, v1, pivot, combined)
			combined, mpi2 := widenForMPI(r, groups, v2, pivot, combined)
			out = append(out, reorderState(included, combined, pivot, mpi1 || mpi2))
		}
	}

	return out
}

// widenForMPI checks whether base and pivot fall in the same workload
// barrier epoch on different servers and, if so, unions RefineMPI's
// enlarged dependent set into dep (SPEC_FULL.md §4.5). It reports whether
// the widening fired, which marks the resulting CrashState MPIOriginated.
func widenForMPI(r *causality.Relations, groups *layout.BarrierGroups, base, pivot int, dep []int) ([]int, bool) {
	if groups == nil {
		return dep, false
	}
	gBase, ok := groups.GroupOf(base)
	if !ok {
		return dep, false
	}
	gPivot, ok := groups.GroupOf(pivot)
	if !ok || gBase != gPivot {
		return dep, false
	}
	mpiDep, ok := r.RefineMPI(base, pivot, groups.Members(gBase))
	if !ok {
		return dep, false
	}
	return unionPositions(dep, mpiDep), true
}

func unionPositions(a, b []int) []int {
	seen := make(map[int]bool, len(a)+len(b))
	out := make([]int, 0, len(a)+len(b))
	for _, p := range append(append([]int{}, a...), b...) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

func tailAfter(arena *call.Arena, sortedCut []int, base int) []int {
	baseGID := arena.Get(base).GID()
	var tail []int
	for _, pos := range sortedCut {
		if arena.Get(pos).GID() > baseGID {
			tail = append(tail, pos)
		}
	}
	return tail
}

func removePos(tail []int, pos int) []int {
	out := tail[:0]
	for _, p := range tail {
		if p != pos {
			out = append(out, p)
		}
	}
	return out
}

func reorderState(included map[int]bool, dependent []int, pivot int, mpiOriginated bool) *CrashState {
	remaining := cloneSet(included)
	for _, d := range dependent {
		delete(remaining, d)
	}
	return &CrashState{Included: remaining, ReorderSet: dependent, Pivot: pivot, MPIOriginated: mpiOriginated}
}
