package explore

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sandia-minimega/paracheck/internal/call"
	"github.com/sandia-minimega/paracheck/internal/execgraph"
	"github.com/sandia-minimega/paracheck/internal/frontier"
)

// tourCost accumulates, across every Tour call in the process, the
// realized tour cost against the naive already-sorted cost, letting an
// operator see the churn reduction the greedy solver buys (spec.md §4.6).
var tourCost = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "paracheck_tour_cost_total",
	Help: "Cumulative server-touch churn across replay tours, by whether the order was greedy or naive.",
}, []string{"order"})

func init() {
	prometheus.MustRegister(tourCost)
}

// Tour orders states to minimize snapshot/restore churn: it builds an
// n×n cost matrix where cost(i,j) is the number of servers touched by the
// symmetric difference of states i and j, then solves a fixed-endpoint
// TSP with a greedy nearest-neighbor heuristic (spec.md §4.6 "Tour").
// The returned slice is a permutation of [0,len(states)) with endpoints
// fixed to (0, n-1).
func Tour(states []*frontier.CrashState, g *execgraph.Graph) []int {
	n := len(states)
	if n <= 2 {
		perm := make([]int, n)
		for i := range perm {
			perm[i] = i
		}
		return perm
	}

	touched := make([]map[*call.Server]bool, n)
	for i, s := range states {
		touched[i] = touchedServers(g, s.Included)
	}

	cost := func(i, j int) int { return symmetricDiffServerCount(touched[i], touched[j]) }

	visited := make([]bool, n)
	perm := make([]int, 0, n)
	perm = append(perm, 0)
	visited[0] = true

	cur := 0
	for len(perm) < n-1 {
		best, bestCost := -1, -1
		for j := 1; j < n-1; j++ {
			if visited[j] {
				continue
			}
			c := cost(cur, j)
			if best == -1 || c < bestCost {
				best, bestCost = j, c
			}
		}
		if best == -1 {
			break
		}
		visited[best] = true
		perm = append(perm, best)
		cur = best
	}
	perm = append(perm, n-1)

	naive := 0
	greedy := 0
	for i := 1; i < n; i++ {
		naive += cost(i-1, i)
	}
	for i := 1; i < len(perm); i++ {
		greedy += cost(perm[i-1], perm[i])
	}
	tourCost.WithLabelValues("naive").Add(float64(naive))
	tourCost.WithLabelValues("greedy").Add(float64(greedy))

	return perm
}

func touchedServers(g *execgraph.Graph, included map[int]bool) map[*call.Server]bool {
	arena := g.Arena()
	out := make(map[*call.Server]bool)
	for pos := range included {
		out[arena.Get(pos).Server()] = true
	}
	return out
}

func symmetricDiffServerCount(a, b map[*call.Server]bool) int {
	count := 0
	for s := range a {
		if !b[s] {
			count++
		}
	}
	for s := range b {
		if !a[s] {
			count++
		}
	}
	return count
}
