package execgraph

import (
	"strings"
	"testing"

	"github.com/sandia-minimega/paracheck/internal/call"
)

func buildArena(calls ...call.Call) *call.Arena {
	a := call.NewArena(len(calls))
	for i, c := range calls {
		c.SetGID(i)
		a.Add(c)
	}
	return a
}

func TestIntraServerChain(t *testing.T) {
	srv := &call.Server{Name: "mds0"}
	c0 := &call.Creat{Base: call.Base{Srv: srv, Op: "creat"}, Path: "/a"}
	c1 := &call.Mkdir{Base: call.Base{Srv: srv, Op: "mkdir"}, Path: "/b"}
	c2 := &call.Truncate{Base: call.Base{Srv: srv, Op: "truncate"}, Path: "/a"}

	arena := buildArena(c0, c1, c2)
	g := Build(arena)

	if got := g.Successors(0); len(got) != 1 || got[0] != 1 {
		t.Fatalf("expected 0->1 intra-server edge; got %v", got)
	}
	if got := g.Successors(1); len(got) != 1 || got[0] != 2 {
		t.Fatalf("expected 1->2 intra-server edge; got %v", got)
	}
}

func TestSendRecvEdge(t *testing.T) {
	srvA := &call.Server{Name: "a"}
	srvB := &call.Server{Name: "b"}

	send := &call.Sendto{Base: call.Base{Srv: srvA, Op: "sendto"}, Peer: "b"}
	recv := &call.Recvfrom{Base: call.Base{Srv: srvB, Op: "recvfrom"}, Peer: "a"}
	send.Correlated = recv
	recv.Correlated = send

	arena := buildArena(send, recv)
	g := Build(arena)

	if got := g.Successors(0); len(got) != 1 || got[0] != 1 {
		t.Fatalf("expected send->recv edge; got %v", got)
	}
}

func TestReduceDropsSendRecvNodesAndReconnects(t *testing.T) {
	srvA := &call.Server{Name: "a"}
	srvB := &call.Server{Name: "b"}

	before := &call.Creat{Base: call.Base{Srv: srvA, Op: "creat"}, Path: "/x"}
	send := &call.Sendto{Base: call.Base{Srv: srvA, Op: "sendto"}, Peer: "b"}
	recv := &call.Recvfrom{Base: call.Base{Srv: srvB, Op: "recvfrom"}, Peer: "a"}
	after := &call.Mkdir{Base: call.Base{Srv: srvB, Op: "mkdir"}, Path: "/y"}
	send.Correlated = recv
	recv.Correlated = send

	arena := buildArena(before, send, recv, after)
	g := Build(arena)
	g.Reduce()

	// before(0) -> send(1) intra, send(1) -> recv(2) correlated,
	// recv(2) -> after(3) intra. After dropping send/recv, before should
	// reach after directly.
	succ := g.Successors(0)
	found := false
	for _, v := range succ {
		if v == 3 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected before to connect directly to after once send/recv are dropped; got successors %v", succ)
	}
	if len(g.Successors(1)) != 0 || len(g.Successors(2)) != 0 {
		t.Fatalf("expected dropped nodes to have no outgoing edges")
	}
}

func TestTransitiveReductionKeepsIntraEdges(t *testing.T) {
	srv := &call.Server{Name: "mds0"}
	c0 := &call.Creat{Base: call.Base{Srv: srv, Op: "creat"}, Path: "/a"}
	c1 := &call.Mkdir{Base: call.Base{Srv: srv, Op: "mkdir"}, Path: "/b"}
	c2 := &call.Truncate{Base: call.Base{Srv: srv, Op: "truncate"}, Path: "/a"}

	arena := buildArena(c0, c1, c2)
	g := Build(arena)
	// Force a redundant direct edge 0->2 alongside the 0->1->2 chain.
	g.addEdge(0, 2)
	g.Reduce()

	succ := g.Successors(0)
	if len(succ) != 1 || succ[0] != 1 {
		t.Fatalf("expected the redundant 0->2 edge to be removed by transitive reduction; got %v", succ)
	}
}

func TestDumpDOTProducesValidish(t *testing.T) {
	srv := &call.Server{Name: "mds0"}
	c0 := &call.Creat{Base: call.Base{Srv: srv, Op: "creat"}, Path: "/a"}
	arena := buildArena(c0)
	g := Build(arena)
	g.Reduce()

	var sb strings.Builder
	if err := g.DumpDOT(&sb, nil); err != nil {
		t.Fatalf("DumpDOT returned error: %v", err)
	}
	out := sb.String()
	if !strings.HasPrefix(out, "digraph execgraph {") {
		t.Fatalf("expected DOT output to start with the digraph header; got %q", out[:40])
	}
	if !strings.Contains(out, "cluster_0") {
		t.Fatalf("expected one cluster per server in DOT output")
	}
}

func TestDumpDOTDrawsBugEdgesRed(t *testing.T) {
	srv := &call.Server{Name: "mds0"}
	c0 := &call.Creat{Base: call.Base{Srv: srv, Op: "creat"}, Path: "/a"}
	c1 := &call.Mkdir{Base: call.Base{Srv: srv, Op: "mkdir"}, Path: "/b"}
	arena := buildArena(c0, c1)
	g := Build(arena)
	g.Reduce()

	var sb strings.Builder
	if err := g.DumpDOT(&sb, [][2]int{{1, 0}}); err != nil {
		t.Fatalf("DumpDOT returned error: %v", err)
	}
	if !strings.Contains(sb.String(), "n1 -> n0 [color=red];") {
		t.Fatalf("expected a red bug edge n1 -> n0; got %q", sb.String())
	}
}
