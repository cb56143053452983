package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/xiyadong1/obs2oss/internal/app"
	"github.com/xiyadong1/obs2oss/internal/config"
	"github.com/xiyadong1/obs2oss/internal/logger"
	"github.com/xiyadong1/obs2oss/internal/report"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "obs2oss",
	Short: "Migrate objects in bulk from OBS/S3 buckets to OSS",
	Long: `A concurrent multi-bucket object migration tool. Discovers objects under
each configured bucket mapping, transfers them through a bounded worker
pool with checksum verification and bounded retries, and reports live and
final progress per source bucket.`,
	RunE: runMigration,
}

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Re-run only the objects that failed in a previous run",
	RunE:  runRetry,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is ./config.yaml)")

	for _, c := range []*cobra.Command{rootCmd, retryCmd} {
		c.Flags().Int("concurrency", 50, "Number of concurrent workers")
		c.Flags().Int64("chunk-size", 5*1024*1024, "Streaming chunk size in bytes")
		c.Flags().Int64("streaming-threshold", 0, "Streaming threshold in bytes (0 = 10x chunk size)")
		c.Flags().Int("max-attempts", 3, "Maximum transfer attempts per object")
		c.Flags().Int("retry-interval", 5, "Seconds between retry attempts")
		c.Flags().Int64("item-limit", 0, "Global cap on discovered objects (0 = unlimited)")
		c.Flags().Int("progress-interval", 5, "Seconds between progress reports")
		c.Flags().String("checkpoint", "./checkpoint.db", "Checkpoint database file")
		c.Flags().Bool("resume", true, "Skip objects completed in a previous run")
		c.Flags().Bool("dry-run", false, "List objects without migrating")
		c.Flags().String("report-dir", "./migrate_log", "Directory for report and failed-list files")
		c.Flags().String("metrics-addr", ":8080", "Prometheus metrics listen address (empty to disable)")
		c.Flags().String("log-level", "info", "Log level (debug/info/warn/error)")
	}

	rootCmd.AddCommand(retryCmd)
}

func runMigration(cmd *cobra.Command, args []string) error {
	return run(cmd, func(ctx context.Context, engine *app.Engine) (*report.Report, error) {
		return engine.Run(ctx)
	})
}

func runRetry(cmd *cobra.Command, args []string) error {
	return run(cmd, func(ctx context.Context, engine *app.Engine) (*report.Report, error) {
		return engine.RunRetry(ctx)
	})
}

func run(cmd *cobra.Command, invoke func(context.Context, *app.Engine) (*report.Report, error)) error {
	cfgPath := configFile
	if cfgPath == "" {
		if _, err := os.Stat("./config.yaml"); err == nil {
			cfgPath = "./config.yaml"
		}
	}

	cfg, err := config.Load(cfgPath, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine, err := app.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("Received shutdown signal, draining")
		engine.RequestStop()
	}()

	result, runErr := invoke(ctx, engine)

	if closeErr := engine.Close(); closeErr != nil {
		log.Error("Error closing engine", zap.Error(closeErr))
	}

	if result != nil && !cfg.Migration.DryRun {
		path, writeErr := report.Write(result, cfg.Migration.ReportDir)
		if writeErr != nil {
			log.Error("Failed to persist report", zap.Error(writeErr))
		} else {
			log.Info("Report written", zap.String("path", path))
			if result.Failed > 0 {
				log.Warn("Some objects failed; re-run them with the retry subcommand",
					zap.Int64("failed", result.Failed))
			}
		}
	}

	return runErr
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
