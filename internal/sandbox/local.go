package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	proc "github.com/c9s/goprocinfo/linux"

	"github.com/sandia-minimega/paracheck/internal/pcalog"
)

// Local runs every sandbox operation as a subprocess on the host paracheck
// itself is running on. It is the default Runner (spec.md §9 "sandbox
// runner").
type Local struct {
	Strategy *Strategy
	DataPath string
	DataDirs []string
	SudoFor  func(cmd string) bool
}

// NewLocal builds a Local runner for one server.
func NewLocal(strategy *Strategy, dataPath string, dataDirs []string, runSudo bool) *Local {
	return &Local{
		Strategy: strategy,
		DataPath: dataPath,
		DataDirs: dataDirs,
		SudoFor: func(cmd string) bool {
			return runSudo || strategy.NeedsSudo
		},
	}
}

func (l *Local) shell(ctx context.Context, cmd string) error {
	if cmd == "" {
		return nil
	}
	if l.SudoFor(cmd) {
		cmd = "sudo " + cmd
	}
	c := exec.CommandContext(ctx, "sh", "-c", cmd)
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	var stderr bytes.Buffer
	c.Stderr = &stderr
	if err := c.Run(); err != nil {
		return fmt.Errorf("sandbox: %q: %v: %s", cmd, err, stderr.String())
	}
	return nil
}

func (l *Local) Snapshot(ctx context.Context, path string) ([]byte, error) {
	dirs := strings.Join(l.DataDirs, " ")
	tmp, err := os.CreateTemp("", "paracheck-snapshot-*.tar")
	if err != nil {
		return nil, err
	}
	tmp.Close()
	defer os.Remove(tmp.Name())

	flags := strings.Join(l.Strategy.SnapshotTarFlags, " ")
	cmd := fmt.Sprintf("tar %s -cf %s -C %s %s", flags, tmp.Name(), path, dirs)
	if err := l.shell(ctx, cmd); err != nil {
		return nil, err
	}
	return os.ReadFile(tmp.Name())
}

func (l *Local) Restore(ctx context.Context, blob []byte, path string) error {
	for _, dir := range append(append([]string{}, l.DataDirs...), l.Strategy.ExtraCleanDirs...) {
		full := filepath.Join(path, dir)
		if err := l.shell(ctx, fmt.Sprintf("rm -rf %s/*", full)); err != nil {
			return err
		}
	}

	tmp, err := os.CreateTemp("", "paracheck-restore-*.tar")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()

	flags := strings.Join(l.Strategy.RestoreTarFlags, " ")
	cmd := fmt.Sprintf("tar %s -xf %s -C %s", flags, tmp.Name(), path)
	return l.shell(ctx, cmd)
}

func (l *Local) StartFS(ctx context.Context) error {
	return nil
}

func (l *Local) StopFS(ctx context.Context) error {
	return nil
}

func (l *Local) RunChecker(ctx context.Context, exe string, args []string, mountPoint string, timeout time.Duration) (CheckerResult, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := exec.CommandContext(cctx, exe, args...)
	c.Dir = mountPoint
	c.Env = os.Environ()
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.Cancel = func() error {
		l.logHangState(c.Process.Pid)
		return syscall.Kill(-c.Process.Pid, syscall.SIGKILL)
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	start := time.Now()
	err := c.Run()
	elapsed := time.Since(start)

	if cctx.Err() == context.DeadlineExceeded {
		if c.Process != nil {
			_ = syscall.Kill(-c.Process.Pid, syscall.SIGKILL)
		}
		return CheckerResult{Status: CheckerTimedOut, Stdout: stdout.String(), Stderr: stderr.String(), Duration: elapsed}, nil
	}

	if err != nil {
		exitCode := -1
		if ee, ok := err.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		}
		return CheckerResult{Status: CheckerFailed, ExitCode: exitCode, Stdout: stdout.String(), Stderr: stderr.String(), Duration: elapsed}, nil
	}

	return CheckerResult{Status: CheckerOK, Stdout: stdout.String(), Stderr: stderr.String(), Duration: elapsed}, nil
}

// logHangState reads /proc/<pid>/stat to tell an uninterruptible-sleep hang
// (state D, classic PFS unavailability) from a runaway compute loop before
// the checker is killed (SPEC_FULL.md §4.7 "Hang diagnostics").
func (l *Local) logHangState(pid int) {
	stat, err := proc.ReadProcessStat(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		pcalog.Warn("checker pid %d timed out; could not read /proc stat: %v", pid, err)
		return
	}
	pcalog.WarnFields(pcalog.Fields{"pid": pid, "state": stat.State}, "checker timed out")
}

func (l *Local) CopyTree(ctx context.Context, src, dst string, timeout time.Duration) (CopyResult, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := fmt.Sprintf("cp -r %s/* %s", src, dst)
	c := exec.CommandContext(cctx, "sh", "-c", cmd)
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	start := time.Now()
	err := c.Run()
	elapsed := time.Since(start)

	if cctx.Err() == context.DeadlineExceeded {
		if c.Process != nil {
			_ = syscall.Kill(-c.Process.Pid, syscall.SIGKILL)
		}
		return CopyResult{Duration: elapsed, TimedOut: true}, nil
	}
	if err != nil {
		return CopyResult{Duration: elapsed}, err
	}

	size, _ := dirSize(dst)
	return CopyResult{Bytes: size, Duration: elapsed}, nil
}

func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}
