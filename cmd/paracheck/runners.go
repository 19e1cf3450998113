package main

import (
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"

	"github.com/sandia-minimega/paracheck/internal/call"
	"github.com/sandia-minimega/paracheck/internal/pconfig"
	"github.com/sandia-minimega/paracheck/internal/sandbox"
)

// buildRunners picks a sandbox.Runner implementation per server: Local by
// default, SSH when SSHTarget is set, Container layered on top of Local
// when ContainerImage is set (SPEC_FULL.md §4.7).
func buildRunners(cfg *pconfig.Config, keyPath string) (map[*call.Server]sandbox.Runner, error) {
	strategy, ok := sandbox.Strategies[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("paracheck: no sandbox strategy for file system type %q", cfg.Type)
	}

	runners := make(map[*call.Server]sandbox.Runner, len(cfg.Services))
	for _, srv := range cfg.Services {
		local := sandbox.NewLocal(strategy, srv.DataPath, srv.DataDirs, cfg.RunSudo)

		switch {
		case srv.ContainerImage != "":
			c, err := sandbox.NewContainer(srv.ContainerImage, local)
			if err != nil {
				return nil, fmt.Errorf("paracheck: container runner for %s: %w", srv.Name, err)
			}
			runners[srv] = c
		case srv.SSHTarget != "":
			signer, err := loadSigner(keyPath)
			if err != nil {
				return nil, fmt.Errorf("paracheck: ssh key for %s: %w", srv.Name, err)
			}
			r, err := sandbox.NewSSH(srv.SSHTarget, signer, strategy, srv.DataPath, srv.DataDirs, cfg.RunSudo)
			if err != nil {
				return nil, fmt.Errorf("paracheck: ssh runner for %s: %w", srv.Name, err)
			}
			runners[srv] = r
		default:
			runners[srv] = local
		}
	}
	return runners, nil
}

func loadSigner(keyPath string) (ssh.Signer, error) {
	b, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}
	return ssh.ParsePrivateKey(b)
}

func dataPaths(cfg *pconfig.Config) map[*call.Server]string {
	out := make(map[*call.Server]string, len(cfg.Services))
	for _, s := range cfg.Services {
		out[s] = s.DataPath
	}
	return out
}
