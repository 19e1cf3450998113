// Package causality computes the happens-before and persists-before
// relations over a reduced execution graph (C5, spec.md §4.4).
package causality

import (
	"github.com/sandia-minimega/paracheck/internal/call"
	"github.com/sandia-minimega/paracheck/internal/execgraph"
)

// matrix is a dense n*n boolean relation indexed by graph position, for
// O(1) queries (spec.md §4.4: "Both relations are represented as dense
// boolean matrices").
type matrix struct {
	n    int
	bits []bool
}

func newMatrix(n int) *matrix {
	return &matrix{n: n, bits: make([]bool, n*n)}
}

func (m *matrix) set(i, j int)      { m.bits[i*m.n+j] = true }
func (m *matrix) get(i, j int) bool { return m.bits[i*m.n+j] }

// Relations holds the HB and PB matrices for one reduced graph, frozen
// once Build returns (spec.md §5: "the graph and causality matrices are
// frozen before C6 runs").
type Relations struct {
	graph *execgraph.Graph
	hb    *matrix
	pb    *matrix
}

// Build computes HB as the graph's transitive closure and PB under the
// default "ordered journaling with fsync" local-FS policy (spec.md §4.4).
func Build(g *execgraph.Graph) *Relations {
	n := g.Len()
	r := &Relations{graph: g, hb: newMatrix(n), pb: newMatrix(n)}
	r.computeHB()
	r.computePB()
	return r
}

// computeHB runs a reachability search from every node; n is expected to
// be in the low thousands for a single replay run, so O(n*(n+e)) is fine.
func (r *Relations) computeHB() {
	n := r.graph.Len()
	for src := 0; src < n; src++ {
		visited := make([]bool, n)
		stack := append([]int(nil), r.graph.Successors(src)...)
		for len(stack) > 0 {
			v := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if visited[v] {
				continue
			}
			visited[v] = true
			r.hb.set(src, v)
			stack = append(stack, r.graph.Successors(v)...)
		}
	}
}

// computePB implements the default policy: same-server pairs inherit HB
// directly; cross-server pairs require an intervening Fsync on a's server
// that shares a path with a (spec.md §4.4).
func (r *Relations) computePB() {
	n := r.graph.Len()
	arena := r.graph.Arena()

	fsyncsByServer := make(map[*call.Server][]int)
	for pos := 0; pos < n; pos++ {
		if _, ok := arena.Get(pos).(*call.Fsync); ok {
			srv := arena.Get(pos).Server()
			fsyncsByServer[srv] = append(fsyncsByServer[srv], pos)
		}
	}

	for a := 0; a < n; a++ {
		ca := arena.Get(a)
		for b := 0; b < n; b++ {
			if a == b {
				continue
			}
			cb := arena.Get(b)
			if ca.Server() == cb.Server() {
				if r.hb.get(a, b) {
					r.pb.set(a, b)
				}
				continue
			}
			for _, s := range fsyncsByServer[ca.Server()] {
				if !call.HasSamePath(ca, arena.Get(s)) {
					continue
				}
				if r.hb.get(a, s) && r.hb.get(s, b) {
					r.pb.set(a, b)
					break
				}
			}
		}
	}
}

// HB reports whether a happens-before b.
func (r *Relations) HB(a, b int) bool { return r.hb.get(a, b) }

// PB reports whether a persists-before b.
func (r *Relations) PB(a, b int) bool { return r.pb.get(a, b) }

// PersistsBeforeAll computes the dependent set for a candidate victim
// against the tail of calls ending at pivot (spec.md §4.4
// "persists_before_all"). ok is false when base is not reorderable
// against pivot (already durable, or a pb-transitive conflict arose while
// scanning the tail).
func (r *Relations) PersistsBeforeAll(base int, tail []int, pivot int) (dependent []int, ok bool) {
	if r.PB(base, pivot) {
		return nil, false
	}

	dependent = []int{base}
	for _, c := range tail {
		if c == base || c == pivot {
			continue
		}
		if !r.PB(base, c) {
			continue
		}
		if r.PB(c, pivot) {
			return nil, false
		}
		dependent = append(dependent, c)
	}
	return dependent, true
}
