package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/warp/payroll-engine/factory"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load a YAML fixture into the database",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		fixture, err := factory.LoadFile(seedFile)
		if err != nil {
			return err
		}

		deps, err := initDependencies(ctx)
		if err != nil {
			return err
		}
		defer deps.Close()

		if err := fixture.Apply(ctx, deps.Store); err != nil {
			return err
		}
		deps.Log.WithFields(logrus.Fields{
			"company":    fixture.Company,
			"employees":  len(fixture.Employees),
			"policies":   len(fixture.Policies),
			"attendance": len(fixture.Attendance),
		}).Info("fixture loaded")
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "", "fixture file")
	_ = seedCmd.MarkFlagRequired("file")
}
