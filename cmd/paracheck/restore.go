package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sandia-minimega/paracheck/internal/pconfig"
)

var restoreService string

func newRestoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Revert one or all configured servers to their last recorded snapshot",
		RunE:  runRestore,
	}
	cmd.Flags().StringVar(&snapshotDir, "snapshot-dir", "./paracheck-snapshots", "directory holding one snapshot archive per server")
	cmd.Flags().StringVar(&restoreService, "service", "", "restore only this service (default: every configured service)")
	cmd.Flags().StringVar(&keyPath, "ssh-key", "", "private key path for services configured with ssh_target")
	return cmd
}

func runRestore(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := pconfig.Load(configPath)
	if err != nil {
		return configError{err}
	}

	runners, err := buildRunners(cfg, keyPath)
	if err != nil {
		return configError{err}
	}

	for _, srv := range cfg.Services {
		if restoreService != "" && srv.Name != restoreService {
			continue
		}
		path := filepath.Join(snapshotDir, srv.Name+".tar")
		blob, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("paracheck: reading snapshot for %s: %w", srv.Name, err)
		}
		runner := runners[srv]
		if err := runner.Restore(ctx, blob, srv.DataPath); err != nil {
			return fmt.Errorf("paracheck: restoring %s: %w", srv.Name, err)
		}
		if err := runner.StartFS(ctx); err != nil {
			return fmt.Errorf("paracheck: starting %s: %w", srv.Name, err)
		}
		fmt.Printf("restored %s from %s\n", srv.Name, path)
	}
	return nil
}
