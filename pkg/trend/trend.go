// Package trend builds multi-revision views over the run history: summary
// rows, first-vs-latest deltas, a per-test progression matrix, and a
// quantized score chart.
package trend

import (
	"math"
	"sort"
	"time"

	"github.com/ethpandaops/regressoor/pkg/compare"
	"github.com/ethpandaops/regressoor/pkg/history"
)

// chartLevels is the resolution of the score chart. Scores are quantized to
// this many points; the legend keeps the exact values.
const chartLevels = 5

// SummaryRow is one history record flattened for tabular output.
type SummaryRow struct {
	Label              string    `json:"label"`
	RevisionID         string    `json:"revision_id"`
	ExecutionTimestamp time.Time `json:"execution_timestamp"`
	Total              int       `json:"total"`
	Passed             int       `json:"passed"`
	Failed             int       `json:"failed"`
	Errored            int       `json:"errored"`
	Score              float64   `json:"score"`
	ServicesUp         int       `json:"services_up"`
	ServicesProbed     int       `json:"services_probed"`
}

// Summary flattens records (already ordered by execution timestamp) into
// summary rows.
func Summary(records []*history.RunRecord) []SummaryRow {
	rows := make([]SummaryRow, 0, len(records))

	for _, rec := range records {
		rows = append(rows, SummaryRow{
			Label:              rec.Label,
			RevisionID:         shortRevision(rec.RevisionID),
			ExecutionTimestamp: rec.ExecutionTimestamp,
			Total:              rec.TotalTests,
			Passed:             rec.Passed,
			Failed:             rec.Failed,
			Errored:            rec.Errored,
			Score:              rec.ReliabilityScore,
			ServicesUp:         rec.ServicesUp(),
			ServicesProbed:     len(rec.Availability),
		})
	}

	return rows
}

// FirstVsLatest compares the oldest record against the newest. Returns nil
// when the history holds fewer than two records.
func FirstVsLatest(records []*history.RunRecord) *compare.Result {
	if len(records) < 2 {
		return nil
	}

	return compare.Compare(records[0], records[len(records)-1])
}

// Matrix is the per-test progression across all records: one row per test
// name (sorted), one column per record in execution order.
type Matrix struct {
	TestNames []string
	Labels    []string
	// Cells[i][j] is TestNames[i]'s outcome under Labels[j].
	Cells [][]history.Outcome
	// Improved[i] is TestNames[i]'s any-adjacent-improvement flag.
	Improved []bool
}

// Progression builds the progression matrix over all records.
func Progression(records []*history.RunRecord) *Matrix {
	names := testNameUnion(records)

	m := &Matrix{
		TestNames: names,
		Labels:    make([]string, 0, len(records)),
		Cells:     make([][]history.Outcome, len(names)),
		Improved:  make([]bool, len(names)),
	}

	for _, rec := range records {
		m.Labels = append(m.Labels, rec.Label)
	}

	improved := make(map[string]struct{})
	for _, name := range ImprovedTests(records) {
		improved[name] = struct{}{}
	}

	for i, name := range names {
		m.Cells[i] = make([]history.Outcome, len(records))
		for j, rec := range records {
			m.Cells[i][j] = rec.Outcome(name)
		}

		_, m.Improved[i] = improved[name]
	}

	return m
}

// ChartPoint is one record's score quantized for the bar chart. Level runs
// 0..chartLevels-1; Score keeps the exact value for the legend.
type ChartPoint struct {
	Label string
	Score float64
	Level int
}

// Chart quantizes each record's score to the chart scale.
func Chart(records []*history.RunRecord) []ChartPoint {
	points := make([]ChartPoint, 0, len(records))

	for _, rec := range records {
		points = append(points, ChartPoint{
			Label: rec.Label,
			Score: rec.ReliabilityScore,
			Level: quantize(rec.ReliabilityScore),
		})
	}

	return points
}

// ImprovedTests lists every test with at least one adjacent non-passed to
// passed transition across the chronological records, sorted by name. This
// is an any-adjacent-improvement signal, not a monotonic one: a flapping
// test still counts, and an aggregate score masked by a simultaneous
// regression does not hide it.
func ImprovedTests(records []*history.RunRecord) []string {
	names := testNameUnion(records)
	improved := make([]string, 0, len(names))

	for _, name := range names {
		for i := 1; i < len(records); i++ {
			prev := records[i-1].Outcome(name)
			cur := records[i].Outcome(name)

			if prev != history.OutcomePassed && cur == history.OutcomePassed {
				improved = append(improved, name)

				break
			}
		}
	}

	return improved
}

// Improving reports whether any test improved between adjacent records.
func Improving(records []*history.RunRecord) bool {
	return len(ImprovedTests(records)) > 0
}

// testNameUnion collects every test name seen across records, sorted.
func testNameUnion(records []*history.RunRecord) []string {
	seen := make(map[string]struct{})

	for _, rec := range records {
		for _, t := range rec.Tests {
			seen[t.Name] = struct{}{}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// quantize maps a 0..100 score onto 0..chartLevels-1.
func quantize(score float64) int {
	step := 100.0 / float64(chartLevels-1)
	level := int(math.Round(score / step))

	if level < 0 {
		return 0
	}

	if level > chartLevels-1 {
		return chartLevels - 1
	}

	return level
}

func shortRevision(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}

	return rev
}
