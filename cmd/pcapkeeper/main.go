// Package main is the entrypoint for the pcapkeeper daemon and CLI.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/MacJediWizard/pcapkeeper/internal/config"
	"github.com/MacJediWizard/pcapkeeper/internal/diskusage"
	"github.com/MacJediWizard/pcapkeeper/internal/journal"
	"github.com/MacJediWizard/pcapkeeper/internal/retention"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "pcapkeeper",
		Short: "Capacity-bound retention for packet capture storage",
		Long: `pcapkeeper keeps packet capture storage under its configured file count
and size limits by removing the oldest captures, guided by the document
index that catalogs them.

Run 'pcapkeeper start' to run the retention daemon.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath, "Path to the config file")

	rootCmd.AddCommand(
		newVersionCmd(),
		newStartCmd(&configPath),
		newRunOnceCmd(&configPath),
		newUsageCmd(&configPath),
		newSweepCmd(&configPath),
		newJournalCmd(&configPath),
		newConfigCmd(&configPath),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "pcapkeeper %s\n", Version)
			fmt.Fprintf(out, "  Commit:     %s\n", Commit)
			fmt.Fprintf(out, "  Built:      %s\n", BuildDate)
			fmt.Fprintf(out, "  Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func newStartCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the retention daemon",
		Long: `Start pcapkeeper as a long-running daemon process.

The daemon will:
  - Run a retention cycle on the configured schedule
  - Reload the config file when it changes
  - Serve /health, /status and /metrics on server.listen`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := config.NewStore(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx, store)
		},
	}
}

func newRunOnceCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run-once",
		Short: "Run a single retention cycle and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := config.NewStore(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := newRuntime(store, newLogger(store.Current().Log))
			if err != nil {
				return err
			}
			defer rt.Close()

			stats := retention.NewStats(rt.sink)
			report := rt.engine.CleanupOldPcapFiles(ctx, stats)
			return printJSON(cmd, map[string]any{"stats": stats, "cycle": report})
		},
	}
}

func newUsageCmd(configPath *string) *cobra.Command {
	var unitName string

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Print capture and probe storage usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			unit, err := diskusage.ParseUnit(unitName)
			if err != nil {
				return err
			}
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			agg := diskusage.NewAggregator(diskusage.NewOSProbe(), newLogger(cfg.Log))
			pcap, pcapErr := agg.PcapUsage(cfg.CaptureLocations, unit)
			probe, probeErr := agg.ProbeUsage(cfg.ProbeLocation, unit)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "STORAGE\tUSED\tFREE\tTOTAL\tUNIT\n")
			fmt.Fprintf(w, "capture\t%d\t%d\t%d\t%s\n", pcap.Used, pcap.Free, pcap.Total, unit)
			fmt.Fprintf(w, "probe\t%d\t%d\t%d\t%s\n", probe.Used, probe.Free, probe.Total, unit)
			if err := w.Flush(); err != nil {
				return err
			}
			return errors.Join(pcapErr, probeErr)
		},
	}

	cmd.Flags().StringVar(&unitName, "unit", "MB", "Unit: B, KB, MB or GB")

	return cmd
}

func newSweepCmd(configPath *string) *cobra.Command {
	var (
		olderThan time.Duration
		paths     []string
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove capture files older than a duration, ignoring the index",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return errors.New("--older-than must be positive")
			}
			store, err := config.NewStore(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if len(paths) == 0 {
				paths = store.Current().CaptureLocations
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := newRuntime(store, newLogger(store.Current().Log))
			if err != nil {
				return err
			}
			defer rt.Close()

			cutoff := time.Now().Add(-olderThan)
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "PATH\tREMOVED\tFREED_MB\n")
			for _, p := range paths {
				removed, mb := rt.engine.BruteForceCleanup(ctx, p, cutoff)
				fmt.Fprintf(w, "%s\t%d\t%d\n", p, removed, mb)
			}
			return w.Flush()
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Remove files modified before now minus this duration")
	cmd.Flags().StringSliceVar(&paths, "path", nil, "Directories to sweep (default: all capture locations)")
	_ = cmd.MarkFlagRequired("older-than")

	return cmd
}

func newJournalCmd(configPath *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "List recent removals from the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Journal.Path == "" {
				return errors.New("journal.path is not configured")
			}

			store, err := journal.Open(cfg.Journal.Path, newLogger(cfg.Log))
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "REMOVED_AT\tMODE\tSIZE\tCONFIRMED\tPATH\n")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%d\t%v\t%s\n",
					e.RemovedAt.Format(time.RFC3339), e.Mode, e.SizeBytes, e.Confirmed, e.Path)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Number of entries to show")

	return cmd
}

func newConfigCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "validate",
			Short: "Check the config file",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.Load(*configPath)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Config file %s is valid (%d capture locations, schedule %q)\n",
					*configPath, len(cfg.CaptureLocations), cfg.Schedule)
				return nil
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.Load(*configPath)
				if err != nil {
					return err
				}
				if cfg.Index.Password != "" {
					cfg.Index.Password = "[REDACTED]"
				}
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(cfg)
			},
		},
	)

	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
