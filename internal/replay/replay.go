// Package replay drives the per-CrashState restore/replay/check loop (C8,
// spec.md §4.7): for every state in tour order it restores only the
// servers touched since the previous state, replays the state's included
// calls onto their data paths, saves the client's view of the mount, and
// invokes an external checker, classifying the outcome.
package replay

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"
	"golang.org/x/exp/slices"

	"github.com/sandia-minimega/paracheck/internal/call"
	"github.com/sandia-minimega/paracheck/internal/execgraph"
	"github.com/sandia-minimega/paracheck/internal/frontier"
	"github.com/sandia-minimega/paracheck/internal/pcalog"
	"github.com/sandia-minimega/paracheck/internal/sandbox"
)

// OutcomeKind classifies how one CrashState's replay finished (spec.md §7,
// §4.7 "Failure classifications").
type OutcomeKind int

const (
	OK OutcomeKind = iota
	CheckerFailed
	PfsUnavailable
	SaveTimeout
)

func (k OutcomeKind) String() string {
	switch k {
	case OK:
		return "ok"
	case CheckerFailed:
		return "checker_failed"
	case PfsUnavailable:
		return "pfs_unavailable"
	case SaveTimeout:
		return "save_timeout"
	default:
		return "unknown"
	}
}

// Outcome is the per-state replay result.
type Outcome struct {
	State             *frontier.CrashState
	Status            OutcomeKind
	CheckerResult     sandbox.CheckerResult
	ConfirmedReorders []int
	ResultDir         string
	Err               error
}

var (
	statesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "paracheck_states_total",
		Help: "Total CrashStates handed to the replay driver.",
	})
	statesExplored = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "paracheck_states_explored_total",
		Help: "CrashStates the replay driver actually replayed (post-dedup/prune).",
	})
	statesPruned = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "paracheck_states_pruned_total",
		Help: "CrashStates dropped before replay by a Prune policy.",
	})
	vulnerabilities = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "paracheck_vulnerabilities_total",
		Help: "Confirmed crash-consistency vulnerabilities, by checker/pfs-availability kind.",
	}, []string{"kind"})
	checkerDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "paracheck_checker_duration_seconds",
		Help:    "Wall-clock time spent inside one checker invocation.",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(statesTotal, statesExplored, statesPruned, vulnerabilities, checkerDuration)
}

// RecordPruned increments paracheck_states_pruned_total by n; called by
// the CLI after internal/explore.Prune reports how many states it dropped.
func RecordPruned(n int) {
	statesPruned.Add(float64(n))
}

// Driver replays an ordered sequence of CrashStates against one or more
// sandbox.Runners, one per server under test.
type Driver struct {
	Arena   *call.Arena
	Graph   *execgraph.Graph
	Runners map[*call.Server]sandbox.Runner

	MountPoint     string
	ResultDir      string
	CheckerExe     string
	CheckerArgs    []string
	CheckerTimeout time.Duration
	CopyTimeout    time.Duration

	RunID string

	initial map[*call.Server][]byte
}

// NewDriver builds a Driver with a fresh run ID (spec.md §9; SPEC_FULL.md
// §4.7 "rs/xid run IDs").
func NewDriver(arena *call.Arena, g *execgraph.Graph, runners map[*call.Server]sandbox.Runner, mountPoint, resultDir, checkerExe string, checkerArgs []string, checkerTimeout, copyTimeout time.Duration) *Driver {
	return &Driver{
		Arena:          arena,
		Graph:          g,
		Runners:        runners,
		MountPoint:     mountPoint,
		ResultDir:      resultDir,
		CheckerExe:     checkerExe,
		CheckerArgs:    checkerArgs,
		CheckerTimeout: checkerTimeout,
		CopyTimeout:    copyTimeout,
		RunID:          xid.New().String(),
		initial:        make(map[*call.Server][]byte),
	}
}

// Capture takes the baseline snapshot of every server once, before any
// state is replayed. All later restores reapply this same baseline, then
// replay the state's calls on top of it.
func (d *Driver) Capture(ctx context.Context, dataPaths map[*call.Server]string) error {
	for srv, runner := range d.Runners {
		blob, err := runner.Snapshot(ctx, dataPaths[srv])
		if err != nil {
			return fmt.Errorf("replay: snapshot %s: %w", srv.Name, err)
		}
		d.initial[srv] = blob
	}
	return nil
}

// Run replays states in the given order (normally internal/explore.Tour's
// output), returning one Outcome per state. onProgress, if given, is
// called after each state finishes with (states completed, total).
func (d *Driver) Run(ctx context.Context, states []*frontier.CrashState, dataPaths map[*call.Server]string, onProgress ...func(int, int)) ([]Outcome, error) {
	statesTotal.Add(float64(len(states)))

	outcomes := make([]Outcome, 0, len(states))
	var prev *frontier.CrashState

	for i, s := range states {
		if ctx.Err() != nil {
			break
		}

		touched := d.touchedServers(s, prev)
		if err := d.restore(ctx, touched, dataPaths); err != nil {
			return outcomes, err
		}
		d.apply(touched, s)

		outcome := d.checkOne(ctx, s, i)
		if outcome.Status == PfsUnavailable || outcome.Status == SaveTimeout {
			// Full clean restart: restore every server, not just the
			// touched ones, before continuing (spec.md §4.7 step 3).
			all := make(map[*call.Server]bool, len(d.Runners))
			for srv := range d.Runners {
				all[srv] = true
			}
			if err := d.restore(ctx, all, dataPaths); err != nil {
				return outcomes, err
			}
		}

		if outcome.Status == CheckerFailed && len(s.ReorderSet) > 0 {
			outcome.ConfirmedReorders = d.localizeReorders(ctx, s, i, touched, dataPaths)
		}

		outcomes = append(outcomes, outcome)
		statesExplored.Inc()
		prev = s

		for _, cb := range onProgress {
			cb(i+1, len(states))
		}
	}

	return outcomes, ctx.Err()
}

// touchedServers returns the servers owning any call whose inclusion
// differs between prev and s (spec.md §4.7 step 1). A nil prev touches
// every server s includes.
func (d *Driver) touchedServers(s, prev *frontier.CrashState) map[*call.Server]bool {
	out := make(map[*call.Server]bool)
	arena := d.Arena

	diff := func(pos int) {
		out[arena.Get(pos).Server()] = true
	}

	if prev == nil {
		for pos := range s.Included {
			diff(pos)
		}
		return out
	}

	for pos := range s.Included {
		if !prev.Included[pos] {
			diff(pos)
		}
	}
	for pos := range prev.Included {
		if !s.Included[pos] {
			diff(pos)
		}
	}
	return out
}

func (d *Driver) restore(ctx context.Context, touched map[*call.Server]bool, dataPaths map[*call.Server]string) error {
	// A restore already under way runs to completion even if ctx is
	// cancelled, so no server is left half restored.
	ctx = context.WithoutCancel(ctx)
	for srv := range touched {
		runner, ok := d.Runners[srv]
		if !ok {
			continue
		}
		blob := d.initial[srv]
		if err := runner.Restore(ctx, blob, dataPaths[srv]); err != nil {
			return fmt.Errorf("replay: restore %s: %w", srv.Name, err)
		}
		if err := runner.StartFS(ctx); err != nil {
			return fmt.Errorf("replay: start fs %s: %w", srv.Name, err)
		}
	}
	return nil
}

// apply replays, in gid order, every included call whose server was
// touched this round (spec.md §4.7 step 2).
func (d *Driver) apply(touched map[*call.Server]bool, s *frontier.CrashState) {
	positions := sortedIncluded(s)
	for _, pos := range positions {
		c := d.Arena.Get(pos)
		if !touched[c.Server()] {
			continue
		}
		srv := c.Server()
		if err := c.Apply(srv.DataPath); err != nil {
			pcalog.WarnFields(pcalog.Fields{"server": srv.Name, "gid": c.GID()}, "replay error: %v (%s)", err, c.Raw())
		}
	}
}

func sortedIncluded(s *frontier.CrashState) []int {
	out := make([]int, 0, len(s.Included))
	for pos := range s.Included {
		out = append(out, pos)
	}
	slices.Sort(out)
	return out
}

// checkOne saves the client's view of the mount and invokes the checker,
// classifying the result (spec.md §4.7 steps 3-4).
func (d *Driver) checkOne(ctx context.Context, s *frontier.CrashState, index int) Outcome {
	stateDir := filepath.Join(d.ResultDir, "result", d.RunID, "prefixes", fmt.Sprintf("state-%04d", index))
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return Outcome{State: s, Status: PfsUnavailable, ResultDir: stateDir, Err: err}
	}

	var anyRunner sandbox.Runner
	for _, r := range d.Runners {
		anyRunner = r
		break
	}
	if anyRunner == nil {
		return Outcome{State: s, Status: PfsUnavailable, ResultDir: stateDir, Err: fmt.Errorf("replay: no runner configured")}
	}

	copyRes, err := anyRunner.CopyTree(ctx, d.MountPoint, stateDir, d.CopyTimeout)
	if err != nil || copyRes.TimedOut {
		pcalog.WarnFields(pcalog.Fields{"run_id": d.RunID, "state": index}, "save_workload timed out or failed: %v", err)
		vulnerabilities.WithLabelValues("save_timeout").Inc()
		return Outcome{State: s, Status: SaveTimeout, ResultDir: stateDir, Err: err}
	}

	start := time.Now()
	res, err := anyRunner.RunChecker(ctx, d.CheckerExe, d.CheckerArgs, d.MountPoint, d.CheckerTimeout)
	checkerDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return Outcome{State: s, Status: PfsUnavailable, CheckerResult: res, ResultDir: stateDir, Err: err}
	}

	switch res.Status {
	case sandbox.CheckerTimedOut:
		vulnerabilities.WithLabelValues("pfs_unavailable").Inc()
		return Outcome{State: s, Status: PfsUnavailable, CheckerResult: res, ResultDir: stateDir}
	case sandbox.CheckerFailed:
		vulnerabilities.WithLabelValues("checker_failed").Inc()
		return Outcome{State: s, Status: CheckerFailed, CheckerResult: res, ResultDir: stateDir}
	default:
		return Outcome{State: s, Status: OK, CheckerResult: res, ResultDir: stateDir}
	}
}

// localizeReorders re-runs the checker once per reorder-set victim, each
// time with exactly that victim omitted from the base state, to localize
// which individual reorder(s) are responsible for a failure (spec.md §4.7
// "Auxiliary exploration").
func (d *Driver) localizeReorders(ctx context.Context, s *frontier.CrashState, index int, touched map[*call.Server]bool, dataPaths map[*call.Server]string) []int {
	var confirmed []int

	// The base state is the cut with every victim put back; its servers
	// are restored and replayed along with the touched ones.
	base := cloneIncluded(s.Included)
	servers := make(map[*call.Server]bool, len(touched))
	for srv := range touched {
		servers[srv] = true
	}
	for _, v := range s.ReorderSet {
		base[v] = true
		servers[d.Arena.Get(v).Server()] = true
	}

	for _, victim := range s.ReorderSet {
		trial := cloneIncluded(base)
		delete(trial, victim)
		trialState := &frontier.CrashState{Included: trial, Pivot: s.Pivot}

		if err := d.restore(ctx, servers, dataPaths); err != nil {
			pcalog.Error("replay: auxiliary restore failed for victim %d: %v", victim, err)
			continue
		}
		d.apply(servers, trialState)

		outcome := d.checkOne(ctx, trialState, index)
		if outcome.Status == CheckerFailed {
			confirmed = append(confirmed, victim)
		}
	}

	return confirmed
}

func cloneIncluded(included map[int]bool) map[int]bool {
	out := make(map[int]bool, len(included))
	for k, v := range included {
		out[k] = v
	}
	return out
}
