package causality

import (
	"testing"

	"github.com/sandia-minimega/paracheck/internal/call"
	"github.com/sandia-minimega/paracheck/internal/execgraph"
)

func buildArena(calls ...call.Call) *call.Arena {
	a := call.NewArena(len(calls))
	for i, c := range calls {
		c.SetGID(i)
		a.Add(c)
	}
	return a
}

func TestHBTransitiveClosure(t *testing.T) {
	srv := &call.Server{Name: "mds0"}
	c0 := &call.Creat{Base: call.Base{Srv: srv}, Path: "/a"}
	c1 := &call.Mkdir{Base: call.Base{Srv: srv}, Path: "/b"}
	c2 := &call.Truncate{Base: call.Base{Srv: srv}, Path: "/a"}

	arena := buildArena(c0, c1, c2)
	g := execgraph.Build(arena)
	r := Build(g)

	if !r.HB(0, 1) || !r.HB(1, 2) {
		t.Fatalf("expected direct chain edges to be HB")
	}
	if !r.HB(0, 2) {
		t.Fatalf("expected HB to be transitive: 0 -> 1 -> 2 implies 0 -> 2")
	}
	if r.HB(2, 0) {
		t.Fatalf("did not expect HB in reverse of the chain")
	}
}

func TestPBSameServerMatchesHB(t *testing.T) {
	srv := &call.Server{Name: "mds0"}
	c0 := &call.Creat{Base: call.Base{Srv: srv}, Path: "/a"}
	c1 := &call.Mkdir{Base: call.Base{Srv: srv}, Path: "/b"}
	arena := buildArena(c0, c1)
	g := execgraph.Build(arena)
	r := Build(g)

	if !r.PB(0, 1) {
		t.Fatalf("expected same-server PB to match HB")
	}
}

func TestPBCrossServerRequiresFsyncOnSamePath(t *testing.T) {
	srvA := &call.Server{Name: "a"}
	srvB := &call.Server{Name: "b"}

	write := &call.Pwrite{Base: call.Base{Srv: srvA}, Path: "/f", Offset: 0, Length: 4}
	fsync := &call.Fsync{Base: call.Base{Srv: srvA}, Path: "/f"}
	send := &call.Sendto{Base: call.Base{Srv: srvA}, Peer: "b"}
	recv := &call.Recvfrom{Base: call.Base{Srv: srvB}, Peer: "a"}
	after := &call.Creat{Base: call.Base{Srv: srvB}, Path: "/y"}
	send.Correlated = recv
	recv.Correlated = send

	arena := buildArena(write, fsync, send, recv, after)
	g := execgraph.Build(arena)
	g.Reduce()
	r := Build(g)

	if !r.PB(0, 4) {
		t.Fatalf("expected write->fsync(same path)->send/recv->later call on b to establish cross-server PB")
	}
}

func TestPBCrossServerWithoutFsyncIsFalse(t *testing.T) {
	srvA := &call.Server{Name: "a"}
	srvB := &call.Server{Name: "b"}

	write := &call.Pwrite{Base: call.Base{Srv: srvA}, Path: "/f", Offset: 0, Length: 4}
	send := &call.Sendto{Base: call.Base{Srv: srvA}, Peer: "b"}
	recv := &call.Recvfrom{Base: call.Base{Srv: srvB}, Peer: "a"}
	send.Correlated = recv
	recv.Correlated = send

	arena := buildArena(write, send, recv)
	g := execgraph.Build(arena)
	g.Reduce()
	r := Build(g)

	if r.PB(0, 2) {
		t.Fatalf("expected no PB across servers without an intervening fsync on the shared path")
	}
}

func TestPersistsBeforeAllNotReorderableWhenAlreadyDurable(t *testing.T) {
	srv := &call.Server{Name: "mds0"}
	c0 := &call.Creat{Base: call.Base{Srv: srv}, Path: "/a"}
	c1 := &call.Mkdir{Base: call.Base{Srv: srv}, Path: "/b"}
	arena := buildArena(c0, c1)
	g := execgraph.Build(arena)
	r := Build(g)

	_, ok := r.PersistsBeforeAll(0, []int{0, 1}, 1)
	if ok {
		t.Fatalf("expected base already PB pivot to be reported not-reorderable")
	}
}

func TestPersistsBeforeAllCollectsDependents(t *testing.T) {
	srvA := &call.Server{Name: "a"}
	srvB := &call.Server{Name: "b"}

	base := &call.Pwrite{Base: call.Base{Srv: srvA}, Path: "/f"}
	other := &call.Mkdir{Base: call.Base{Srv: srvB}, Path: "/g"}
	pivot := &call.Truncate{Base: call.Base{Srv: srvB}, Path: "/g"}

	arena := buildArena(base, other, pivot)
	g := execgraph.Build(arena)
	r := Build(g)

	dep, ok := r.PersistsBeforeAll(0, []int{0, 1, 2}, 2)
	if !ok {
		t.Fatalf("expected base on a different server with no fsync path to pivot to be reorderable")
	}
	if len(dep) != 1 || dep[0] != 0 {
		t.Fatalf("expected only the base itself in the dependent set absent any pb(base,c); got %v", dep)
	}
}

func TestRefineMPISameServerSkipped(t *testing.T) {
	srv := &call.Server{Name: "a"}
	c0 := &call.Pwrite{Base: call.Base{Srv: srv}}
	c1 := &call.Pwrite{Base: call.Base{Srv: srv}}
	arena := buildArena(c0, c1)
	g := execgraph.Build(arena)
	r := Build(g)

	_, ok := r.RefineMPI(0, 1, []int{0, 1})
	if ok {
		t.Fatalf("expected same-server base/pivot to skip MPI refinement")
	}
}

func TestRefineMPIExtendsDependentSet(t *testing.T) {
	srvA := &call.Server{Name: "a"}
	srvB := &call.Server{Name: "b"}
	srvC := &call.Server{Name: "c"}

	base := &call.Pwrite{Base: call.Base{Srv: srvA}}
	mid := &call.Pwrite{Base: call.Base{Srv: srvC}}
	pivot := &call.Pwrite{Base: call.Base{Srv: srvB}}

	arena := buildArena(base, mid, pivot)
	g := execgraph.Build(arena)
	r := Build(g)

	dep, ok := r.RefineMPI(0, 2, []int{0, 1, 2})
	if !ok {
		t.Fatalf("expected an intervening same-group call to trigger MPI refinement")
	}
	if len(dep) != 2 {
		t.Fatalf("expected base plus the intervening call in the dependent set; got %v", dep)
	}
}
