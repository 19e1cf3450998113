// Package sandbox abstracts the subprocess orchestration a replay state
// needs — snapshot, restore, start/stop the file system under test, run an
// external checker, copy a tree — behind a single Runner interface so
// internal/replay never branches on "is this server local, remote, or
// containerized" (spec.md §9 "sandbox runner").
package sandbox

import (
	"context"
	"time"
)

// CheckerStatus classifies how run_checker finished.
type CheckerStatus int

const (
	CheckerOK CheckerStatus = iota
	CheckerFailed
	CheckerTimedOut
)

// CheckerResult is the outcome of one run_checker invocation.
type CheckerResult struct {
	Status   CheckerStatus
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// CopyResult is the outcome of one copy_tree invocation.
type CopyResult struct {
	Bytes    int64
	Duration time.Duration
	TimedOut bool
}

// Runner performs the subprocess orchestration for one server under test.
// Methods are safe to call sequentially from the replay state loop; a
// Runner is not expected to be shared concurrently across servers.
type Runner interface {
	// Snapshot tars up path and returns an opaque blob a later Restore call
	// on the same Runner can reapply.
	Snapshot(ctx context.Context, path string) ([]byte, error)

	// Restore replaces path's contents with a previously captured blob.
	Restore(ctx context.Context, blob []byte, path string) error

	// StartFS is the hook for bringing the file-system service under test
	// up. Local, SSH and Container all return nil without running any
	// command; none of them runs a Strategy's StartCmd or MountCmd.
	StartFS(ctx context.Context) error

	// StopFS is the hook for bringing the file-system service under test
	// down. Local, SSH and Container all return nil without running any
	// command; none of them runs a Strategy's StopCmd or UnmountCmd.
	StopFS(ctx context.Context) error

	// RunChecker runs the configured checker with cwd set to the mount
	// point. On timeout Local kills the checker's whole process group and
	// Container kills its container; SSH reports CheckerTimedOut and does
	// not stop the remote command.
	RunChecker(ctx context.Context, exe string, args []string, mountPoint string, timeout time.Duration) (CheckerResult, error)

	// CopyTree copies src to dst, used for the save_workload step; honors
	// the supplied timeout via ctx.
	CopyTree(ctx context.Context, src, dst string, timeout time.Duration) (CopyResult, error)
}
