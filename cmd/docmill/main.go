package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
	"github.com/spf13/cobra"
)

// Injected at build time via -ldflags; defaults to "dev".
var version = "dev"

var (
	flagConfig     string
	flagInput      string
	flagCheckpoint string
	flagWorkers    int
	flagWriters    int
	flagResume     bool
	flagRetry      bool
	flagStatusAddr string
)

func main() {
	root := &cobra.Command{
		Use:           "docmill",
		Short:         "Batch document extraction pipeline",
		Long:          "docmill walks an input tree, extracts structured records from each file\nunder a pool of memory-guarded workers, and loads them into SQLite through\nsharded batching writers. Progress is checkpointed so interrupted runs\nresume and failed files can be retried selectively.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "config.yaml", "path to config file")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one ingest run",
		RunE:  runOnce,
	}
	runCmd.Flags().StringVar(&flagInput, "input", "", "input directory (overrides config)")
	runCmd.Flags().StringVar(&flagCheckpoint, "checkpoint", "", "checkpoint file path (overrides config)")
	runCmd.Flags().IntVar(&flagWorkers, "workers", 0, "worker count (0 = auto-size from host capacity)")
	runCmd.Flags().IntVar(&flagWriters, "writers", 0, "writer count (0 = auto-size from host capacity)")
	runCmd.Flags().BoolVar(&flagResume, "resume", false, "skip files already completed in the checkpoint")
	runCmd.Flags().BoolVar(&flagRetry, "retry-failed", false, "process only retry-eligible failed files")
	runCmd.Flags().StringVar(&flagStatusAddr, "status-addr", "", "address for the live status API (overrides config)")
	runCmd.MarkFlagsMutuallyExclusive("resume", "retry-failed")

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Run ingests on the configured cron schedule until interrupted",
		RunE:  runWatch,
	}
	watchCmd.Flags().StringVar(&flagInput, "input", "", "input directory (overrides config)")
	watchCmd.Flags().StringVar(&flagCheckpoint, "checkpoint", "", "checkpoint file path (overrides config)")
	watchCmd.Flags().StringVar(&flagStatusAddr, "status-addr", "", "address for the live status API (overrides config)")

	root.AddCommand(runCmd, watchCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// setupLogging installs the default slog logger: text on stderr, fanned out
// to a JSON log file when one is configured.
func setupLogging(level, file string) error {
	stderrHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(level),
	})

	if file == "" {
		slog.SetDefault(slog.New(stderrHandler))
		return nil
	}

	f, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file %q: %w", file, err)
	}
	fileHandler := slog.NewJSONHandler(f, &slog.HandlerOptions{
		Level: parseLogLevel(level),
	})
	slog.SetDefault(slog.New(slogmulti.Fanout(stderrHandler, fileHandler)))
	return nil
}

// parseLogLevel converts a config string ("debug", "info", "warn", "error")
// to its slog.Level equivalent. Unknown values default to Info.
func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
