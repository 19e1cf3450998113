package replay

import (
	"context"
	"testing"
	"time"

	"github.com/sandia-minimega/paracheck/internal/call"
	"github.com/sandia-minimega/paracheck/internal/execgraph"
	"github.com/sandia-minimega/paracheck/internal/frontier"
	"github.com/sandia-minimega/paracheck/internal/sandbox"
)

type fakeRunner struct {
	snapshots   [][]byte
	restores    int
	starts      int
	checkerFunc func() (sandbox.CheckerResult, error)
	copyFunc    func() (sandbox.CopyResult, error)
}

func (f *fakeRunner) Snapshot(ctx context.Context, path string) ([]byte, error) {
	return []byte("snap"), nil
}
func (f *fakeRunner) Restore(ctx context.Context, blob []byte, path string) error {
	f.restores++
	return nil
}
func (f *fakeRunner) StartFS(ctx context.Context) error { f.starts++; return nil }
func (f *fakeRunner) StopFS(ctx context.Context) error  { return nil }
func (f *fakeRunner) RunChecker(ctx context.Context, exe string, args []string, mountPoint string, timeout time.Duration) (sandbox.CheckerResult, error) {
	if f.checkerFunc != nil {
		return f.checkerFunc()
	}
	return sandbox.CheckerResult{Status: sandbox.CheckerOK}, nil
}
func (f *fakeRunner) CopyTree(ctx context.Context, src, dst string, timeout time.Duration) (sandbox.CopyResult, error) {
	if f.copyFunc != nil {
		return f.copyFunc()
	}
	return sandbox.CopyResult{}, nil
}

func buildArena(calls ...call.Call) *call.Arena {
	a := call.NewArena(len(calls))
	for i, c := range calls {
		c.SetGID(i)
		a.Add(c)
	}
	return a
}

func TestRunClassifiesOK(t *testing.T) {
	srv := &call.Server{Name: "mds0", DataPath: "/data"}
	c0 := &call.Mkdir{Base: call.Base{Srv: srv}, Path: "a"}
	arena := buildArena(c0)
	g := execgraph.Build(arena)

	runner := &fakeRunner{}
	d := NewDriver(arena, g, map[*call.Server]sandbox.Runner{srv: runner}, "/mnt", t.TempDir(), "true", nil, time.Second, time.Second)
	if err := d.Capture(context.Background(), map[*call.Server]string{srv: "/data"}); err != nil {
		t.Fatalf("capture: %v", err)
	}

	states := []*frontier.CrashState{{Included: map[int]bool{0: true}}}
	outcomes, err := d.Run(context.Background(), states, map[*call.Server]string{srv: "/data"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Status != OK {
		t.Fatalf("expected a single OK outcome, got %+v", outcomes)
	}
	if runner.restores == 0 {
		t.Fatalf("expected the touched server to be restored")
	}
}

func TestRunClassifiesCheckerFailedAndLocalizesReorders(t *testing.T) {
	srv := &call.Server{Name: "mds0", DataPath: "/data"}
	c0 := &call.Mkdir{Base: call.Base{Srv: srv}, Path: "a"}
	c1 := &call.Creat{Base: call.Base{Srv: srv}, Path: "b"}
	arena := buildArena(c0, c1)
	g := execgraph.Build(arena)

	calls := 0
	runner := &fakeRunner{
		checkerFunc: func() (sandbox.CheckerResult, error) {
			calls++
			// Always fail, so the localization pass (which omits call 1)
			// fails too and confirms victim 1.
			return sandbox.CheckerResult{Status: sandbox.CheckerFailed, ExitCode: 1}, nil
		},
	}
	d := NewDriver(arena, g, map[*call.Server]sandbox.Runner{srv: runner}, "/mnt", t.TempDir(), "false", nil, time.Second, time.Second)
	_ = d.Capture(context.Background(), map[*call.Server]string{srv: "/data"})

	states := []*frontier.CrashState{{Included: map[int]bool{0: true, 1: true}, ReorderSet: []int{1}, Pivot: 1}}
	outcomes, err := d.Run(context.Background(), states, map[*call.Server]string{srv: "/data"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcomes[0].Status != CheckerFailed {
		t.Fatalf("expected CheckerFailed, got %v", outcomes[0].Status)
	}
	if len(outcomes[0].ConfirmedReorders) != 1 || outcomes[0].ConfirmedReorders[0] != 1 {
		t.Fatalf("expected victim 1 to be confirmed (checker always fails in this fake), got %v", outcomes[0].ConfirmedReorders)
	}
}

func TestRunClassifiesSaveTimeout(t *testing.T) {
	srv := &call.Server{Name: "mds0", DataPath: "/data"}
	c0 := &call.Mkdir{Base: call.Base{Srv: srv}, Path: "a"}
	arena := buildArena(c0)
	g := execgraph.Build(arena)

	runner := &fakeRunner{
		copyFunc: func() (sandbox.CopyResult, error) { return sandbox.CopyResult{TimedOut: true}, nil },
	}
	d := NewDriver(arena, g, map[*call.Server]sandbox.Runner{srv: runner}, "/mnt", t.TempDir(), "true", nil, time.Second, time.Second)
	_ = d.Capture(context.Background(), map[*call.Server]string{srv: "/data"})

	states := []*frontier.CrashState{{Included: map[int]bool{0: true}}}
	outcomes, err := d.Run(context.Background(), states, map[*call.Server]string{srv: "/data"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcomes[0].Status != SaveTimeout {
		t.Fatalf("expected SaveTimeout, got %v", outcomes[0].Status)
	}
}

func TestTouchedServersOnlyDiffersFromPrev(t *testing.T) {
	srvA := &call.Server{Name: "a"}
	srvB := &call.Server{Name: "b"}
	c0 := &call.Mkdir{Base: call.Base{Srv: srvA}, Path: "a"}
	c1 := &call.Mkdir{Base: call.Base{Srv: srvB}, Path: "b"}
	arena := buildArena(c0, c1)
	g := execgraph.Build(arena)
	d := &Driver{Arena: arena, Graph: g}

	prev := &frontier.CrashState{Included: map[int]bool{0: true}}
	cur := &frontier.CrashState{Included: map[int]bool{0: true, 1: true}}

	touched := d.touchedServers(cur, prev)
	if len(touched) != 1 || !touched[srvB] {
		t.Fatalf("expected only srvB touched, got %v", touched)
	}
}
