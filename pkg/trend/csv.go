package trend

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/ethpandaops/regressoor/pkg/history"
)

// WriteSummaryCSV writes one row per record.
func WriteSummaryCSV(w io.Writer, records []*history.RunRecord) error {
	cw := csv.NewWriter(w)

	header := []string{
		"label", "revision_id", "execution_timestamp",
		"total_tests", "passed", "failed", "errored",
		"reliability_score", "services_up", "services_probed",
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing summary header: %w", err)
	}

	for _, rec := range records {
		row := []string{
			rec.Label,
			rec.RevisionID,
			rec.ExecutionTimestamp.UTC().Format("2006-01-02T15:04:05Z"),
			strconv.Itoa(rec.TotalTests),
			strconv.Itoa(rec.Passed),
			strconv.Itoa(rec.Failed),
			strconv.Itoa(rec.Errored),
			fmt.Sprintf("%.1f", rec.ReliabilityScore),
			strconv.Itoa(rec.ServicesUp()),
			strconv.Itoa(len(rec.Availability)),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing summary row: %w", err)
		}
	}

	cw.Flush()

	return cw.Error()
}

// WriteDetailedCSV writes one row per test per record.
func WriteDetailedCSV(w io.Writer, records []*history.RunRecord) error {
	cw := csv.NewWriter(w)

	header := []string{"label", "revision_id", "test", "outcome", "duration_seconds", "detail"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing detailed header: %w", err)
	}

	for _, rec := range records {
		for _, t := range rec.Tests {
			row := []string{
				rec.Label,
				rec.RevisionID,
				t.Name,
				string(t.Outcome),
				strconv.FormatFloat(t.Duration, 'f', 3, 64),
				t.Detail,
			}
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("writing detailed row: %w", err)
			}
		}
	}

	cw.Flush()

	return cw.Error()
}

// WriteProgressionCSV writes the progression matrix, one row per test.
func WriteProgressionCSV(w io.Writer, m *Matrix) error {
	cw := csv.NewWriter(w)

	header := append([]string{"test"}, m.Labels...)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing progression header: %w", err)
	}

	for i, name := range m.TestNames {
		row := make([]string, 0, len(m.Cells[i])+1)
		row = append(row, name)

		for _, o := range m.Cells[i] {
			row = append(row, string(o))
		}

		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing progression row: %w", err)
		}
	}

	cw.Flush()

	return cw.Error()
}
