package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/warp/payroll-engine/store/sqlite"
)

var migrateRollback bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the embedded schema migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}

		store, err := sqlite.Open(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		if migrateRollback {
			err = store.Rollback(ctx)
		} else {
			err = store.Migrate(ctx)
		}
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}

		version, err := store.Version(ctx)
		if err != nil {
			return err
		}
		log.WithField("version", version).Info("database schema up to date")
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVarP(&migrateRollback, "rollback", "r", false, "roll back the latest migration")
}
