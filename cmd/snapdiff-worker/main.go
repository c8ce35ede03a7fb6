// Command snapdiff-worker runs the snapdiff queue workers: it leases
// capture and pdiff work from the release server's work queues,
// executes it, and reports results back.
//
// Example usage:
//
//	snapdiff-worker \
//	    --release-server-prefix=http://localhost:5000/api \
//	    --capture-queue-url=http://localhost:5000/api/work_queue/run-capture \
//	    --capture-binary=/usr/bin/phantomjs \
//	    --capture-script=./capture.js \
//	    --pdiff-queue-url=http://localhost:5000/api/work_queue/run-pdiff \
//	    --pdiff-binary=/usr/bin/perceptualdiff
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/petrijr/snapdiff"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	cfg := snapdiff.DefaultConfig()

	cmd := &cobra.Command{
		Use:           "snapdiff-worker",
		Short:         "Run snapdiff capture and pdiff queue workers",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				loaded, err := snapdiff.LoadConfig(configPath)
				if err != nil {
					return err
				}
				// Flags set explicitly on the command line win over the
				// config file.
				merged := loaded
				applyFlagOverrides(cmd, &merged, &cfg)
				cfg = merged
			}
			return run(cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to YAML config file")
	cmd.Flags().StringVar(&cfg.ReleaseServerPrefix, "release-server-prefix", cfg.ReleaseServerPrefix, "URL prefix of the release server API")
	cmd.Flags().StringVar(&cfg.CaptureQueueURL, "capture-queue-url", cfg.CaptureQueueURL, "URL of the capture work queue")
	cmd.Flags().StringVar(&cfg.PdiffQueueURL, "pdiff-queue-url", cfg.PdiffQueueURL, "URL of the pdiff work queue")
	cmd.Flags().StringVar(&cfg.CaptureBinary, "capture-binary", cfg.CaptureBinary, "path to the capture tool binary")
	cmd.Flags().StringVar(&cfg.CaptureScript, "capture-script", cfg.CaptureScript, "path to the capture script")
	cmd.Flags().StringVar(&cfg.PdiffBinary, "pdiff-binary", cfg.PdiffBinary, "path to the perceptual diff binary")
	cmd.Flags().IntVar(&cfg.FetchWorkers, "fetch-workers", cfg.FetchWorkers, "concurrent HTTP operations")
	cmd.Flags().IntVar(&cfg.ProcWorkers, "proc-workers", cfg.ProcWorkers, "concurrent subprocess operations")
	cmd.Flags().StringVar(&cfg.WorkDir, "work-dir", cfg.WorkDir, "scratch directory for per-lease files")
	cmd.Flags().StringVar(&cfg.CacheDir, "cache-dir", cfg.CacheDir, "directory for the local artifact cache (empty disables)")
	cmd.Flags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")

	return cmd
}

// applyFlagOverrides copies explicitly-set flag values over the loaded
// file config.
func applyFlagOverrides(cmd *cobra.Command, dst, flags *snapdiff.Config) {
	set := func(name string) bool { return cmd.Flags().Changed(name) }
	if set("release-server-prefix") {
		dst.ReleaseServerPrefix = flags.ReleaseServerPrefix
	}
	if set("capture-queue-url") {
		dst.CaptureQueueURL = flags.CaptureQueueURL
	}
	if set("pdiff-queue-url") {
		dst.PdiffQueueURL = flags.PdiffQueueURL
	}
	if set("capture-binary") {
		dst.CaptureBinary = flags.CaptureBinary
	}
	if set("capture-script") {
		dst.CaptureScript = flags.CaptureScript
	}
	if set("pdiff-binary") {
		dst.PdiffBinary = flags.PdiffBinary
	}
	if set("fetch-workers") {
		dst.FetchWorkers = flags.FetchWorkers
	}
	if set("proc-workers") {
		dst.ProcWorkers = flags.ProcWorkers
	}
	if set("work-dir") {
		dst.WorkDir = flags.WorkDir
	}
	if set("cache-dir") {
		dst.CacheDir = flags.CacheDir
	}
	if set("log-level") {
		dst.LogLevel = flags.LogLevel
	}
}

func run(cfg snapdiff.Config) error {
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	runner, err := snapdiff.NewRunner(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runner.Start(ctx); err != nil {
		return err
	}
	logger.Info("workers started")

	<-ctx.Done()
	logger.Info("shutting down")
	runner.Stop()
	return nil
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
