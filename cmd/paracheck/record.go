package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sandia-minimega/paracheck/internal/pconfig"
)

var snapshotDir string

func newRecordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Capture a baseline snapshot of every configured server's data path",
		Long: "record snapshots the on-disk state of every configured server so later `check` or `restore`\n" +
			"runs have a known-good baseline to replay crash states against. Trace capture itself happens\n" +
			"outside paracheck (spec.md §6); this only saves what `check` restores between states.",
		RunE: runRecord,
	}
	cmd.Flags().StringVar(&snapshotDir, "snapshot-dir", "./paracheck-snapshots", "directory to write one snapshot archive per server")
	cmd.Flags().StringVar(&keyPath, "ssh-key", "", "private key path for services configured with ssh_target")
	return cmd
}

func runRecord(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := pconfig.Load(configPath)
	if err != nil {
		return configError{err}
	}

	runners, err := buildRunners(cfg, keyPath)
	if err != nil {
		return configError{err}
	}

	if err := os.MkdirAll(snapshotDir, 0o755); err != nil {
		return fmt.Errorf("paracheck: creating snapshot dir: %w", err)
	}

	for _, srv := range cfg.Services {
		runner := runners[srv]
		blob, err := runner.Snapshot(ctx, srv.DataPath)
		if err != nil {
			return fmt.Errorf("paracheck: snapshotting %s: %w", srv.Name, err)
		}
		path := filepath.Join(snapshotDir, srv.Name+".tar")
		if err := os.WriteFile(path, blob, 0o644); err != nil {
			return fmt.Errorf("paracheck: writing snapshot for %s: %w", srv.Name, err)
		}
		fmt.Printf("snapshotted %s (%d bytes) -> %s\n", srv.Name, len(blob), path)
	}
	return nil
}
