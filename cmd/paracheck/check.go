package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/sandia-minimega/paracheck/internal/call"
	"github.com/sandia-minimega/paracheck/internal/causality"
	"github.com/sandia-minimega/paracheck/internal/execgraph"
	"github.com/sandia-minimega/paracheck/internal/explore"
	"github.com/sandia-minimega/paracheck/internal/frontier"
	"github.com/sandia-minimega/paracheck/internal/ingest"
	"github.com/sandia-minimega/paracheck/internal/layout"
	"github.com/sandia-minimega/paracheck/internal/pcalog"
	"github.com/sandia-minimega/paracheck/internal/pconfig"
	"github.com/sandia-minimega/paracheck/internal/replay"
)

var (
	traceDir       string
	objMapPath     string
	workloadTrace  string
	checkerExe     string
	checkerTimeout time.Duration
	copyTimeout    time.Duration
	resultDir      string
	dotPath        string
	dropFsyncTerm  bool
	keyPath        string
	traceDialect   string
)

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Ingest traces, enumerate crash states, and replay them against a checker",
		RunE:  runCheck,
	}
	cmd.Flags().StringVar(&traceDir, "trace-dir", "", "directory containing one trace file per configured service (service name + .trace)")
	cmd.Flags().StringVar(&objMapPath, "object-map", "", "path to an HDF5 object-range JSON map (enables the DATA_CHUNKS prune policy)")
	cmd.Flags().StringVar(&workloadTrace, "workload-trace", "", "path to the MPI rank/workload trace (enables MPI-aware barrier-group causality)")
	cmd.Flags().StringVar(&checkerExe, "checker", "", "checker executable to run against the mount point after each replayed state")
	cmd.Flags().DurationVar(&checkerTimeout, "checker-timeout", 30*time.Second, "timeout for one checker invocation")
	cmd.Flags().DurationVar(&copyTimeout, "copy-timeout", 60*time.Second, "timeout for saving the client's view of the mount")
	cmd.Flags().StringVar(&resultDir, "result-dir", "./paracheck-results", "directory to hold per-state saved workloads")
	cmd.Flags().StringVar(&dotPath, "dot", "", "write the reduced execution graph as Graphviz DOT to this path")
	cmd.Flags().BoolVar(&dropFsyncTerm, "drop-fsync-terminal", true, "prune states whose last call is a durable Fsync")
	cmd.Flags().StringVar(&keyPath, "ssh-key", "", "private key path for services configured with ssh_target")
	cmd.Flags().StringVar(&traceDialect, "dialect", "kernel", "trace grammar: kernel or recorder")
	cmd.MarkFlagRequired("trace-dir")
	cmd.MarkFlagRequired("checker")
	return cmd
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := pconfig.Load(configPath)
	if err != nil {
		return configError{err}
	}

	sources, err := openTraces(cfg, traceDir)
	if err != nil {
		return ingestError{err}
	}
	defer closeTraces(sources)

	dialect, err := parseDialect(traceDialect)
	if err != nil {
		return configError{err}
	}

	header := cfg.Type.FrameHeader()
	result, err := ingest.Ingest(sources, ingest.Config{
		Dialect: dialect,
		Client:  cfg.ClientName,
		Header:  &header,
	})
	if err != nil {
		return ingestError{err}
	}
	for _, op := range result.Unsupported {
		pcalog.Warn("ingest: no Call mapping for operation %q", op)
	}

	g := execgraph.Build(result.Arena)
	g.Reduce()

	groups, err := buildBarrierGroups(cfg, g, dialect)
	if err != nil {
		return ingestError{err}
	}

	relations := causality.Build(g)
	states := frontier.Enumerate(g, relations, groups)
	pcalog.Info("enumerated %d candidate crash states", len(states))

	states = explore.Dedup(states)

	var objs *layout.OBJMapping
	if objMapPath != "" {
		objs, err = loadObjMap(objMapPath)
		if err != nil {
			return ingestError{err}
		}
	}
	before := len(states)
	states = explore.Prune(states, g, explore.PruneOptions{
		DropFsyncTerminal: dropFsyncTerm,
		Objects:           objs,
	})
	replay.RecordPruned(before - len(states))
	pcalog.Info("%d states survive dedup/prune", len(states))

	order := explore.Tour(states, g)
	ordered := make([]*frontier.CrashState, len(order))
	for i, idx := range order {
		ordered[i] = states[idx]
	}

	runners, err := buildRunners(cfg, keyPath)
	if err != nil {
		return configError{err}
	}
	paths := dataPaths(cfg)

	driver := replay.NewDriver(result.Arena, g, runners, cfg.MountPoint, resultDir, checkerExe, nil, checkerTimeout, copyTimeout)
	if err := driver.Capture(ctx, paths); err != nil {
		return fmt.Errorf("paracheck: capturing baseline snapshots: %w", err)
	}

	outcomes, err := runWithProgress(ctx, driver, ordered, paths)
	if err != nil {
		return fmt.Errorf("paracheck: replay: %w", err)
	}

	if dotPath != "" {
		if err := writeDOT(g, vulnerabilityEdges(outcomes), dotPath); err != nil {
			return err
		}
	}

	summarize(outcomes)
	return nil
}

// vulnerabilityEdges collects one (victim, pivot) edge per confirmed
// reorder-induced failure, for DumpDOT's red "bug" pass (spec.md §6).
// Atomic-cut failures (no reorder involved) contribute no edge.
func vulnerabilityEdges(outcomes []replay.Outcome) [][2]int {
	var edges [][2]int
	for _, o := range outcomes {
		if o.Status != replay.CheckerFailed {
			continue
		}
		for _, victim := range o.ConfirmedReorders {
			edges = append(edges, [2]int{victim, o.State.Pivot})
		}
	}
	return edges
}

// runWithProgress replays the full ordered tour in one driver.Run call, so
// restore churn is diffed against the actual previous state, and renders a
// static (non-interactive) progress bar line as each state finishes.
func runWithProgress(ctx context.Context, driver *replay.Driver, states []*frontier.CrashState, paths map[*call.Server]string) ([]replay.Outcome, error) {
	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = 40
	label := lipgloss.NewStyle().Faint(true)

	onProgress := func(done, total int) {
		pct := float64(done) / float64(total)
		fmt.Printf("\r%s %s", bar.ViewAs(pct), label.Render(fmt.Sprintf("%d/%d states", done, total)))
	}

	outcomes, err := driver.Run(ctx, states, paths, onProgress)
	fmt.Println()
	return outcomes, err
}

func summarize(outcomes []replay.Outcome) {
	byKind := map[replay.OutcomeKind]int{}
	for _, o := range outcomes {
		byKind[o.Status]++
	}
	fmt.Printf("states replayed: %d\n", len(outcomes))
	for _, k := range []replay.OutcomeKind{replay.OK, replay.CheckerFailed, replay.PfsUnavailable, replay.SaveTimeout} {
		if n := byKind[k]; n > 0 {
			fmt.Printf("  %-16s %d\n", k, n)
		}
	}
}

func writeDOT(g *execgraph.Graph, bugs [][2]int, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("paracheck: creating dot file: %w", err)
	}
	defer f.Close()
	return g.DumpDOT(f, bugs)
}

// buildBarrierGroups ingests the optional MPI rank/workload trace and
// matches its writes onto the server-side writes already in g's arena, so
// internal/frontier can widen a cross-server victim's dependent set to the
// rest of its barrier epoch (SPEC_FULL.md §4.4 "MPI-aware causality").
// Returns nil, nil when no --workload-trace was given.
func buildBarrierGroups(cfg *pconfig.Config, g *execgraph.Graph, dialect ingest.Dialect) (*layout.BarrierGroups, error) {
	if workloadTrace == "" {
		return nil, nil
	}

	f, err := os.Open(workloadTrace)
	if err != nil {
		return nil, fmt.Errorf("paracheck: opening workload trace: %w", err)
	}
	defer f.Close()

	workloadSrv := &call.Server{Name: cfg.ClientName}
	wresult, err := ingest.Ingest([]ingest.Source{{Server: workloadSrv, Reader: f, IsWorkload: true, MPIOnly: true}}, ingest.Config{
		Dialect: dialect,
		Client:  cfg.ClientName,
	})
	if err != nil {
		return nil, fmt.Errorf("paracheck: ingesting workload trace: %w", err)
	}
	for _, op := range wresult.Unsupported {
		pcalog.Warn("ingest: no Call mapping for MPI workload operation %q", op)
	}

	// Storage servers are indexed by their position in the config file,
	// matching the round-robin ordering internal/layout.Locate assumes.
	storageIndex := make(map[*call.Server]int)
	for _, srv := range cfg.Services {
		if srv.Role == call.RoleStorage {
			storageIndex[srv] = len(storageIndex)
		}
	}

	serverWritesByPath := make(map[string]map[int][]*call.Pwrite)
	positionOf := make(map[call.Call]int, g.Arena().Len())
	for pos := 0; pos < g.Arena().Len(); pos++ {
		c := g.Arena().Get(pos)
		positionOf[c] = pos
		pw, ok := c.(*call.Pwrite)
		if !ok {
			continue
		}
		idx, ok := storageIndex[pw.Server()]
		if !ok {
			continue
		}
		if serverWritesByPath[pw.Path] == nil {
			serverWritesByPath[pw.Path] = make(map[int][]*call.Pwrite)
		}
		serverWritesByPath[pw.Path][idx] = append(serverWritesByPath[pw.Path][idx], pw)
	}

	clientWritesByPath := make(map[string][]*call.Pwrite)
	for _, c := range wresult.Arena.All() {
		if pw, ok := c.(*call.Pwrite); ok {
			clientWritesByPath[pw.Path] = append(clientWritesByPath[pw.Path], pw)
		}
	}

	var mappings []*layout.OPMapping
	for path, clientWrites := range clientWritesByPath {
		m, err := layout.Match(clientWrites, serverWritesByPath[path], len(storageIndex), cfg.StripeSize, cfg.Padding, cfg.Aggregation)
		if err != nil {
			return nil, fmt.Errorf("paracheck: matching workload writes for %s: %w", path, err)
		}
		mappings = append(mappings, m)
	}
	merged := layout.MergeOPMappings(mappings...)

	return layout.BuildBarrierGroups(wresult.Arena.All(), merged, positionOf), nil
}

func loadObjMap(path string) (*layout.OBJMapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("paracheck: opening object map: %w", err)
	}
	defer f.Close()
	return layout.Scan(f)
}

// openTraces opens one trace file per configured service, named
// <service>.trace under traceDir.
func openTraces(cfg *pconfig.Config, dir string) ([]ingest.Source, error) {
	sources := make([]ingest.Source, 0, len(cfg.Services))
	for _, srv := range cfg.Services {
		path := filepath.Join(dir, srv.Name+".trace")
		f, err := os.Open(path)
		if err != nil {
			closeSourcesFrom(sources)
			return nil, fmt.Errorf("paracheck: opening trace for %s: %w", srv.Name, err)
		}
		sources = append(sources, ingest.Source{Server: srv, Reader: f})
	}
	return sources, nil
}

func closeTraces(sources []ingest.Source) { closeSourcesFrom(sources) }

func parseDialect(s string) (ingest.Dialect, error) {
	switch s {
	case "kernel":
		return ingest.KernelDialect, nil
	case "recorder":
		return ingest.RecorderDialect, nil
	default:
		return 0, fmt.Errorf("paracheck: unknown trace dialect %q (want kernel or recorder)", s)
	}
}

func closeSourcesFrom(sources []ingest.Source) {
	for _, s := range sources {
		if closer, ok := s.Reader.(*os.File); ok {
			closer.Close()
		}
	}
}
