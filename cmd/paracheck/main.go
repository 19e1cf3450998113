// Command paracheck explores crash-consistency states of a clustered file
// system: it ingests per-server traces (spec.md §6), builds the
// execution-dependency graph and persistence-causality relation, enumerates
// crash-consistent frontiers, and replays each one against a checker.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/sandia-minimega/paracheck/internal/pcalog"
)

var (
	configPath  string
	logLevel    string
	metricsAddr string
)

// Exit codes (spec.md §6 "Exit codes", SPEC_FULL.md §4.9).
const (
	exitOK          = 0
	exitConfigError = 1
	exitIngestError = 2
)

func main() {
	root := &cobra.Command{
		Use:   "paracheck",
		Short: "Crash-consistency exploration engine for clustered file systems",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "paracheck.ini", "path to the run configuration file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error, fatal")
	root.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on (disabled if empty)")

	root.AddCommand(newConfigCmd())
	root.AddCommand(newRecordCmd())
	root.AddCommand(newCheckCmd())
	root.AddCommand(newRestoreCmd())

	cobra.OnInitialize(func() {
		level, err := pcalog.ParseLevel(logLevel)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(exitConfigError)
		}
		pcalog.AddLogger("stderr", os.Stderr, level)

		if metricsAddr != "" {
			go serveMetrics(metricsAddr)
		}
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitFor(err))
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		pcalog.Error("metrics server: %v", err)
	}
}

// exitFor maps a command error to the exit code families from spec.md §7.
func exitFor(err error) int {
	switch err.(type) {
	case configError:
		return exitConfigError
	case ingestError:
		return exitIngestError
	default:
		return exitConfigError
	}
}

// configError and ingestError tag a cobra RunE error with its exit-code
// family without pulling internal/pconfig's and internal/ingest's own
// error types into this package's error-switch.
type configError struct{ error }
type ingestError struct{ error }
