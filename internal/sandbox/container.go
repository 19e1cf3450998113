package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"

	"github.com/sandia-minimega/paracheck/internal/pcalog"
)

// Container runs a checker inside a short-lived Docker container, used
// when call.Server.ContainerImage is set (SPEC_FULL.md §4.7). Snapshot,
// Restore, StartFS and StopFS fall back to an embedded Local runner: those
// operations act on the host's data path, not the container.
type Container struct {
	*Local

	Image  string
	cli    *client.Client
	mounts []string
}

// NewContainer wraps a Local runner so only RunChecker is containerized.
func NewContainer(image string, local *Local) (*Container, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("sandbox: docker client: %w", err)
	}
	return &Container{Local: local, Image: image, cli: cli}, nil
}

func (c *Container) RunChecker(ctx context.Context, exe string, args []string, mountPoint string, timeout time.Duration) (CheckerResult, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cfg := &container.Config{
		Image:      c.Image,
		Cmd:        append([]string{exe}, args...),
		WorkingDir: "/mnt/pfs",
		Tty:        false,
	}
	hostCfg := &container.HostConfig{
		Binds: []string{mountPoint + ":/mnt/pfs"},
	}

	resp, err := c.cli.ContainerCreate(cctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return CheckerResult{}, fmt.Errorf("sandbox: container create: %w", err)
	}
	defer func() {
		_ = c.cli.ContainerRemove(context.Background(), resp.ID, types.ContainerRemoveOptions{Force: true})
	}()

	start := time.Now()
	if err := c.cli.ContainerStart(cctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return CheckerResult{}, fmt.Errorf("sandbox: container start: %w", err)
	}

	statusCh, errCh := c.cli.ContainerWait(cctx, resp.ID, container.WaitConditionNotRunning)
	var exitCode int64
	select {
	case err := <-errCh:
		if cctx.Err() == context.DeadlineExceeded {
			pcalog.Warn("containerized checker %s timed out", resp.ID[:12])
			_ = c.cli.ContainerKill(context.Background(), resp.ID, "SIGKILL")
			return CheckerResult{Status: CheckerTimedOut, Duration: time.Since(start)}, nil
		}
		if err != nil {
			return CheckerResult{}, fmt.Errorf("sandbox: container wait: %w", err)
		}
	case status := <-statusCh:
		exitCode = status.StatusCode
	}

	elapsed := time.Since(start)

	logs, err := c.cli.ContainerLogs(context.Background(), resp.ID, types.ContainerLogsOptions{ShowStdout: true, ShowStderr: true})
	var outBuf bytes.Buffer
	if err == nil {
		_, _ = io.Copy(&outBuf, logs)
		logs.Close()
	}

	if exitCode != 0 {
		return CheckerResult{Status: CheckerFailed, ExitCode: int(exitCode), Stdout: outBuf.String(), Duration: elapsed}, nil
	}
	return CheckerResult{Status: CheckerOK, ExitCode: 0, Stdout: outBuf.String(), Duration: elapsed}, nil
}
