package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"PaperSieve/internal/usecase"
)

var (
	runDays   int
	runDryRun bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline once",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		application, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer application.Close()

		report, err := application.Run(ctx, usecase.RunOptions{Days: runDays, DryRun: runDryRun})
		if err != nil {
			return err
		}

		logger.Info("pipeline complete",
			zap.String("run_id", report.RunID),
			zap.Int("fetched", report.Fetched),
			zap.Int("new", report.New),
			zap.Int("relevant", report.Relevant),
			zap.Int("delivered", report.Delivered),
			zap.Int("sent", report.Sent),
			zap.Int("classifier_calls", report.Cascade.ClassifierCalls()),
			zap.Float64("full_saved_pct", report.Cascade.SavedPercent()),
		)
		return nil
	},
}

func init() {
	runCmd.Flags().IntVar(&runDays, "days", 0, "lookback window in days (0 uses the configured value)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "filter and log without notifying or storing")
}
