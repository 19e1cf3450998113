package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/sandia-minimega/paracheck/internal/pcalog"
)

// SSH runs every sandbox operation on a remote host over an SSH session,
// used when a call.Server.SSHTarget is set (SPEC_FULL.md §4.7). It carries
// the same command set as Local but issues each one through an
// ssh.Client session rather than os/exec.
type SSH struct {
	Strategy *Strategy
	DataPath string
	DataDirs []string
	SudoFor  func(cmd string) bool

	client *ssh.Client
}

// NewSSH dials target (user@host) with the supplied signer and returns a
// Runner bound to one remote server.
func NewSSH(target string, signer ssh.Signer, strategy *Strategy, dataPath string, dataDirs []string, runSudo bool) (*SSH, error) {
	user, host, err := splitTarget(target)
	if err != nil {
		return nil, err
	}

	config := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}

	client, err := ssh.Dial("tcp", host+":22", config)
	if err != nil {
		return nil, fmt.Errorf("sandbox: ssh dial %s: %w", target, err)
	}

	return &SSH{
		Strategy: strategy,
		DataPath: dataPath,
		DataDirs: dataDirs,
		SudoFor:  func(cmd string) bool { return runSudo || strategy.NeedsSudo },
		client:   client,
	}, nil
}

func splitTarget(target string) (user, host string, err error) {
	parts := strings.SplitN(target, "@", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("sandbox: SSHTarget %q must be user@host", target)
	}
	return parts[0], parts[1], nil
}

func (s *SSH) run(cmd string) (stdout, stderr string, err error) {
	if cmd == "" {
		return "", "", nil
	}
	if s.SudoFor(cmd) {
		cmd = "sudo " + cmd
	}
	session, err := s.client.NewSession()
	if err != nil {
		return "", "", fmt.Errorf("sandbox: ssh session: %w", err)
	}
	defer session.Close()

	var outBuf, errBuf bytes.Buffer
	session.Stdout = &outBuf
	session.Stderr = &errBuf

	err = session.Run(cmd)
	return outBuf.String(), errBuf.String(), err
}

func (s *SSH) Snapshot(ctx context.Context, path string) ([]byte, error) {
	dirs := strings.Join(s.DataDirs, " ")
	flags := strings.Join(s.Strategy.SnapshotTarFlags, " ")
	cmd := fmt.Sprintf("tar %s -cf - -C %s %s", flags, path, dirs)

	session, err := s.client.NewSession()
	if err != nil {
		return nil, err
	}
	defer session.Close()

	var outBuf bytes.Buffer
	session.Stdout = &outBuf
	if s.SudoFor(cmd) {
		cmd = "sudo " + cmd
	}
	if err := session.Run(cmd); err != nil {
		return nil, fmt.Errorf("sandbox: ssh snapshot: %w", err)
	}
	return outBuf.Bytes(), nil
}

func (s *SSH) Restore(ctx context.Context, blob []byte, path string) error {
	for _, dir := range append(append([]string{}, s.DataDirs...), s.Strategy.ExtraCleanDirs...) {
		if _, _, err := s.run(fmt.Sprintf("rm -rf %s/*", path+"/"+dir)); err != nil {
			return err
		}
	}

	flags := strings.Join(s.Strategy.RestoreTarFlags, " ")
	cmd := fmt.Sprintf("tar %s -xf - -C %s", flags, path)
	if s.SudoFor(cmd) {
		cmd = "sudo " + cmd
	}

	session, err := s.client.NewSession()
	if err != nil {
		return err
	}
	defer session.Close()

	session.Stdin = bytes.NewReader(blob)
	if err := session.Run(cmd); err != nil {
		return fmt.Errorf("sandbox: ssh restore: %w", err)
	}
	return nil
}

func (s *SSH) StartFS(ctx context.Context) error {
	return nil
}

func (s *SSH) StopFS(ctx context.Context) error {
	return nil
}

func (s *SSH) RunChecker(ctx context.Context, exe string, args []string, mountPoint string, timeout time.Duration) (CheckerResult, error) {
	cmd := fmt.Sprintf("cd %s && %s %s", mountPoint, exe, strings.Join(args, " "))

	done := make(chan struct{})
	var stdout, stderr string
	var runErr error
	start := time.Now()

	go func() {
		stdout, stderr, runErr = s.run(cmd)
		close(done)
	}()

	select {
	case <-done:
		elapsed := time.Since(start)
		if runErr != nil {
			exitCode := -1
			if ee, ok := runErr.(*ssh.ExitError); ok {
				exitCode = ee.ExitStatus()
			}
			return CheckerResult{Status: CheckerFailed, ExitCode: exitCode, Stdout: stdout, Stderr: stderr, Duration: elapsed}, nil
		}
		return CheckerResult{Status: CheckerOK, Stdout: stdout, Stderr: stderr, Duration: elapsed}, nil
	case <-time.After(timeout):
		pcalog.Warn("ssh checker on %s timed out after %s", s.client.RemoteAddr(), timeout)
		return CheckerResult{Status: CheckerTimedOut, Duration: time.Since(start)}, nil
	case <-ctx.Done():
		return CheckerResult{Status: CheckerTimedOut, Duration: time.Since(start)}, ctx.Err()
	}
}

func (s *SSH) CopyTree(ctx context.Context, src, dst string, timeout time.Duration) (CopyResult, error) {
	start := time.Now()
	done := make(chan error, 1)

	go func() {
		_, _, err := s.run(fmt.Sprintf("cp -r %s/* %s", src, dst))
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return CopyResult{Duration: time.Since(start)}, err
		}
		return CopyResult{Duration: time.Since(start)}, nil
	case <-time.After(timeout):
		return CopyResult{Duration: time.Since(start), TimedOut: true}, nil
	case <-ctx.Done():
		return CopyResult{Duration: time.Since(start), TimedOut: true}, ctx.Err()
	}
}

// Close releases the underlying SSH connection.
func (s *SSH) Close() error {
	return s.client.Close()
}
