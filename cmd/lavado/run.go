package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/warp/payroll-engine/payroll"
)

var (
	runCompany string
	runStart   string
	runEnd     string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Create or resume the batch of a company and process it",
	Long: `Runs the batch of --company over [--start, --end]. Without dates the
previous calendar month is used. A run that fails part-way is resumed by
running the same command again.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		period, err := runPeriod()
		if err != nil {
			return err
		}

		deps, err := initDependencies(ctx)
		if err != nil {
			return err
		}
		defer deps.Close()

		b, err := deps.Orchestrator.Run(ctx, payroll.CompanyID(runCompany), period.Start, period.End)
		if err != nil {
			return err
		}
		deps.Log.WithFields(logrus.Fields{
			"batch":   b.ID,
			"company": b.Company,
			"status":  b.Status,
		}).Info("batch finished")
		fmt.Fprintln(cmd.OutOrStdout(), b.ID)
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runCompany, "company", "", "company to process")
	runCmd.Flags().StringVar(&runStart, "start", "", "first day, YYYY-MM-DD")
	runCmd.Flags().StringVar(&runEnd, "end", "", "last day, YYYY-MM-DD")
	_ = runCmd.MarkFlagRequired("company")
}

func runPeriod() (payroll.Period, error) {
	if runStart == "" && runEnd == "" {
		return payroll.PreviousMonth(payroll.Today()), nil
	}
	start, err := payroll.ParseDate(runStart)
	if err != nil {
		return payroll.Period{}, fmt.Errorf("invalid --start: %w", err)
	}
	end, err := payroll.ParseDate(runEnd)
	if err != nil {
		return payroll.Period{}, fmt.Errorf("invalid --end: %w", err)
	}
	period := payroll.Period{Start: start, End: end}
	return period, period.Validate()
}
