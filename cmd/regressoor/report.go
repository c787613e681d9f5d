package main

import (
	"fmt"
	"os"

	"github.com/ethpandaops/regressoor/pkg/history"
	"github.com/ethpandaops/regressoor/pkg/trend"
	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Report on the recorded history",
}

var reportSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Per-run score summary across the history",
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := historyRecords()
		if err != nil {
			return err
		}

		if err := trend.RenderSummary(
			os.Stdout, trend.Summary(records),
		); err != nil {
			return fmt.Errorf("rendering summary: %w", err)
		}

		trend.RenderTrendVerdict(os.Stdout, records)

		return nil
	},
}

var reportProgressionCmd = &cobra.Command{
	Use:   "progression",
	Short: "Per-test outcome matrix across all runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := historyRecords()
		if err != nil {
			return err
		}

		if err := trend.RenderMatrix(
			os.Stdout, trend.Progression(records),
		); err != nil {
			return fmt.Errorf("rendering progression: %w", err)
		}

		return nil
	},
}

var reportChartCmd = &cobra.Command{
	Use:   "chart",
	Short: "Quantized score chart across all runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := historyRecords()
		if err != nil {
			return err
		}

		trend.RenderChart(os.Stdout, trend.Chart(records))

		return nil
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.AddCommand(reportSummaryCmd)
	reportCmd.AddCommand(reportProgressionCmd)
	reportCmd.AddCommand(reportChartCmd)
}

// historyRecords loads the history and returns its records in
// execution order.
func historyRecords() ([]*history.RunRecord, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	store, err := openHistory(cfg)
	if err != nil {
		return nil, err
	}

	return store.Records(), nil
}
