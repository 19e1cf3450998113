package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sandia-minimega/paracheck/internal/pconfig"
)

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Load and validate the run configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := pconfig.Load(configPath)
			if err != nil {
				return configError{err}
			}

			fmt.Printf("type:        %s\n", cfg.Type)
			fmt.Printf("mount_point: %s\n", cfg.MountPoint)
			fmt.Printf("client:      %s\n", cfg.ClientName)
			fmt.Printf("stripe_size: %d\n", cfg.StripeSize)
			fmt.Printf("services:\n")
			for _, s := range cfg.Services {
				fmt.Printf("  - %-10s role=%-8s host=%-12s data_path=%s\n", s.Name, s.Role, s.Host, s.DataPath)
			}
			return nil
		},
	}
}
