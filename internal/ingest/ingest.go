package ingest

import (
	"bufio"
	"fmt"
	"io"
	"sort"

	"github.com/sandia-minimega/paracheck/internal/call"
)

// Dialect selects which trace grammar a Source's lines follow.
type Dialect int

const (
	KernelDialect Dialect = iota
	RecorderDialect
)

// Source is one trace stream to ingest: a server process's strace output,
// or a rank's recorder log.
type Source struct {
	Server     *call.Server
	Reader     io.Reader
	IsWorkload bool
	MPIOnly    bool
}

// Config bundles the run-wide parameters ingest needs beyond the raw trace
// bytes (spec.md §4.1).
type Config struct {
	Dialect Dialect
	// Client names the workload side of sendto/recvfrom pairs so the
	// socket-peer table can default unresolved descriptors to it.
	Client string
	// Header, if non-nil, enables the wire-frame merge pass for this
	// file system's TCP header sentinel (spec.md §4.3 step 2).
	Header *FrameHeader
}

// Result is the output of a full ingest run: an Arena owning every Call in
// global timestamp order, plus the diagnostic list of operation names that
// produced no Call.
type Result struct {
	Arena       *call.Arena
	Unsupported []string
}

type tagged struct {
	c   call.Call
	srv *call.Server
}

// Ingest parses every source and returns their Calls merged into a single
// Arena with gids assigned in one global timestamp order (spec.md §4.1,
// "Output"). It returns an *IngestError for a malformed line or an
// unsupported flag combination; unknown operation names are never an
// error and instead populate Result.Unsupported.
func Ingest(sources []Source, cfg Config) (*Result, error) {
	diag := newDiagnostics()
	var all []tagged

	for _, src := range sources {
		st := newDescState(src.Server.DataPath, cfg.Client)
		calls, err := ingestOne(src, cfg.Dialect, st, diag)
		if err != nil {
			return nil, err
		}
		for _, c := range calls {
			all = append(all, tagged{c: c, srv: src.Server})
		}
	}

	if cfg.Header != nil {
		all = mergeFrameHeaders(all, *cfg.Header)
	}
	correlateSendRecv(all, cfg.Client)

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].c.Timestamp() < all[j].c.Timestamp()
	})

	arena := call.NewArena(len(all))
	localID := make(map[*call.Server]int)
	for gid, t := range all {
		t.c.SetGID(gid)
		t.c.SetLocalID(localID[t.srv])
		localID[t.srv]++
		arena.Add(t.c)
	}

	return &Result{Arena: arena, Unsupported: diag.sorted()}, nil
}

func ingestOne(src Source, dialect Dialect, st *descState, diag *diagnostics) ([]call.Call, error) {
	var out []call.Call
	scanner := bufio.NewScanner(src.Reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		var ev event
		switch dialect {
		case KernelDialect:
			if skipLine(line) {
				continue
			}
			kl, ok := parseKernelLine(line)
			if !ok {
				return nil, &IngestError{Server: src.Server.Name, Line: line, Reason: "line did not match kernel trace grammar"}
			}
			ev = event{timestamp: kl.Timestamp, funcName: kl.FuncName, args: kl.Args, retval: kl.Retval, errmsg: kl.ErrMsg}
		case RecorderDialect:
			rl, ok := parseRecorderLine(line)
			if !ok {
				return nil, &IngestError{Server: src.Server.Name, Line: line, Reason: "line did not match recorder trace grammar"}
			}
			ev = event{timestamp: rl.TimeStart, funcName: rl.FuncName, args: rl.Args, retval: rl.Retval}
		default:
			return nil, fmt.Errorf("ingest: unknown dialect %d", dialect)
		}

		mpiOnly := src.MPIOnly
		calls, err := dispatch(ev, st, src.Server, src.IsWorkload, mpiOnly, diag)
		if err != nil {
			return nil, err
		}
		for _, c := range calls {
			c.SetRaw(line)
			out = append(out, c)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ingest: reading %s: %w", src.Server.Name, err)
	}
	return out, nil
}
