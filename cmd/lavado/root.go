package main

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/warp/payroll-engine/batch"
	"github.com/warp/payroll-engine/config"
	"github.com/warp/payroll-engine/store/sqlite"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:           "lavado",
	Short:         "Payroll penalty batch engine",
	Long:          `Turns attendance into timesheets, penalty records and payroll deductions, one resumable batch per company and period.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", ".", "directory holding config.yml")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
}

// =============================================================================
// DEPENDENCIES
// =============================================================================

type dependencies struct {
	Config       *config.Config
	Log          *logrus.Logger
	Store        *sqlite.Store
	Orchestrator *batch.Orchestrator
	redis        *redis.Client
}

func loadConfig() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, nil, err
	}
	log, err := config.NewLogger(cfg.Log, os.Stdout)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// initDependencies opens the migrated store and wires the orchestrator with
// the configured company lock.
func initDependencies(ctx context.Context) (*dependencies, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	deps := &dependencies{Config: cfg, Log: log, Store: store}
	deps.Orchestrator = batch.NewOrchestrator(store, log)

	if cfg.Lock.Driver == "redis" {
		deps.redis = redis.NewClient(&redis.Options{Addr: cfg.Lock.RedisAddr})
		if err := deps.redis.Ping(ctx).Err(); err != nil {
			deps.Close()
			return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Lock.RedisAddr, err)
		}
		deps.Orchestrator.Locker = batch.NewRedisLocker(deps.redis, cfg.Lock.TTL, log)
	}
	return deps, nil
}

func (d *dependencies) Close() {
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			d.Log.WithError(err).Warn("failed to close redis client")
		}
	}
	if err := d.Store.Close(); err != nil {
		d.Log.WithError(err).Warn("failed to close database")
	}
}
