package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ethpandaops/regressoor/pkg/history"
	"github.com/ethpandaops/regressoor/pkg/trend"
	"github.com/ethpandaops/regressoor/pkg/upload"
	"github.com/spf13/cobra"
)

var (
	exportOut    string
	exportUpload bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the recorded history as CSV",
}

var exportSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "One row per run with counts and score",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExport(cmd, "summary.csv", trend.WriteSummaryCSV)
	},
}

var exportDetailedCmd = &cobra.Command{
	Use:   "detailed",
	Short: "One row per test per run",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExport(cmd, "detailed.csv", trend.WriteDetailedCSV)
	},
}

var exportProgressionCmd = &cobra.Command{
	Use:   "progression",
	Short: "Outcome matrix, tests as rows and runs as columns",
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := historyRecords()
		if err != nil {
			return err
		}

		return writeExport(cmd, "progression.csv", func(f *os.File) error {
			return trend.WriteProgressionCSV(f, trend.Progression(records))
		})
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.AddCommand(exportSummaryCmd)
	exportCmd.AddCommand(exportDetailedCmd)
	exportCmd.AddCommand(exportProgressionCmd)

	exportCmd.PersistentFlags().StringVar(&exportOut, "out", "",
		"output file path (defaults to the export name in the working directory)")
	exportCmd.PersistentFlags().BoolVar(&exportUpload, "upload", false,
		"upload the export to the configured S3 bucket")
}

// runExport writes a record-level CSV export.
func runExport(
	cmd *cobra.Command,
	defaultName string,
	write func(w io.Writer, records []*history.RunRecord) error,
) error {
	records, err := historyRecords()
	if err != nil {
		return err
	}

	return writeExport(cmd, defaultName, func(f *os.File) error {
		return write(f, records)
	})
}

// writeExport writes an export to --out (or the default name) and
// optionally uploads it.
func writeExport(
	cmd *cobra.Command,
	defaultName string,
	write func(f *os.File) error,
) error {
	out := exportOut
	if out == "" {
		out = defaultName
	}

	if dir := filepath.Dir(out); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating export directory: %w", err)
		}
	}

	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("creating export file: %w", err)
	}

	if err := write(f); err != nil {
		f.Close()

		return fmt.Errorf("writing export: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing export file: %w", err)
	}

	log.WithField("path", out).Info("Export written")

	if exportUpload {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		uploader, err := buildUploader(cmd.Context(), cfg)
		if err != nil {
			return err
		}

		if uploader == nil {
			return fmt.Errorf("--upload requires upload configuration")
		}

		if err := uploadExport(cmd.Context(), uploader, out, cfg.History.Path); err != nil {
			return err
		}
	}

	return nil
}

// uploadExport pushes the export artifact together with the history
// document it was derived from.
func uploadExport(
	ctx context.Context,
	uploader upload.Uploader,
	artifact, historyPath string,
) error {
	if err := uploader.UploadFile(ctx, artifact); err != nil {
		return fmt.Errorf("uploading export: %w", err)
	}

	if err := uploader.UploadFile(ctx, historyPath); err != nil {
		return fmt.Errorf("uploading history: %w", err)
	}

	return nil
}
