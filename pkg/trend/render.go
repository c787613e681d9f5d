package trend

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/ethpandaops/regressoor/pkg/compare"
	"github.com/ethpandaops/regressoor/pkg/history"
)

// Outcome glyphs used by the progression matrix.
const (
	glyphPassed  = "✓"
	glyphFailed  = "✗"
	glyphError   = "E"
	glyphMissing = "·"
)

func glyph(o history.Outcome) string {
	switch o {
	case history.OutcomePassed:
		return glyphPassed
	case history.OutcomeFailed:
		return glyphFailed
	case history.OutcomeError:
		return glyphError
	default:
		return glyphMissing
	}
}

// RenderSummary writes the summary table.
func RenderSummary(w io.Writer, rows []SummaryRow) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LABEL\tREVISION\tEXECUTED\tTOTAL\tPASSED\tFAILED\tERRORED\tSCORE\tSERVICES")

	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%.1f%%\t%d/%d\n",
			row.Label,
			row.RevisionID,
			row.ExecutionTimestamp.Format("2006-01-02 15:04"),
			row.Total, row.Passed, row.Failed, row.Errored,
			row.Score,
			row.ServicesUp, row.ServicesProbed,
		)
	}

	return tw.Flush()
}

// RenderComparison writes a full comparison result, bucket by bucket.
func RenderComparison(w io.Writer, res *compare.Result) {
	fmt.Fprintf(w, "Comparing %s -> %s\n\n", res.OldLabel, res.NewLabel)
	fmt.Fprintf(w, "Score delta:   %+.1f%%\n", res.ScoreDelta)
	fmt.Fprintf(w, "Passed delta:  %+d\n", res.PassedDelta)
	fmt.Fprintf(w, "Failed delta:  %+d\n", res.FailedDelta)
	fmt.Fprintf(w, "Errored delta: %+d\n", res.ErroredDelta)
	fmt.Fprintf(w, "Total delta:   %+d\n", res.TotalDelta)

	renderBucket(w, "Fixed", res.Fixed)
	renderBucket(w, "Regressed", res.Regressed)
	renderBucket(w, "Stable", res.Stable)
	renderBucket(w, "Still failing", res.StillFailing)

	if len(res.Services) > 0 {
		fmt.Fprintf(w, "\nServices:\n")

		for _, s := range res.Services {
			fmt.Fprintf(w, "  %-20s %s -> %s (%s)\n", s.Name, s.Old, s.New, s.Transition)
		}
	}
}

func renderBucket(w io.Writer, title string, changes []compare.TestChange) {
	fmt.Fprintf(w, "\n%s (%d):\n", title, len(changes))

	for _, c := range changes {
		fmt.Fprintf(w, "  %s (%s -> %s)\n", c.Name, c.OldOutcome, c.NewOutcome)
	}
}

// RenderMatrix writes the progression matrix with one glyph per run.
func RenderMatrix(w io.Writer, m *Matrix) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "TEST\t%s\tIMPROVED\n", strings.Join(m.Labels, "\t"))

	for i, name := range m.TestNames {
		glyphs := make([]string, 0, len(m.Cells[i]))
		for _, o := range m.Cells[i] {
			glyphs = append(glyphs, glyph(o))
		}

		marker := ""
		if m.Improved[i] {
			marker = "↑"
		}

		fmt.Fprintf(tw, "%s\t%s\t%s\n", name, strings.Join(glyphs, "\t"), marker)
	}

	return tw.Flush()
}

// RenderChart writes the quantized score chart with a legend mapping each
// bar back to the exact score.
func RenderChart(w io.Writer, points []ChartPoint) {
	for _, p := range points {
		bar := strings.Repeat("█", p.Level+1)
		fmt.Fprintf(w, "%-24s %-6s %.1f%%\n", p.Label, bar, p.Score)
	}
}

// RenderTrendVerdict writes the one-line improvement verdict, naming the
// tests that went non-passed to passed between adjacent runs.
func RenderTrendVerdict(w io.Writer, records []*history.RunRecord) {
	improved := ImprovedTests(records)

	if len(improved) > 0 {
		fmt.Fprintf(w, "Trend: improving (%s)\n", strings.Join(improved, ", "))
	} else {
		fmt.Fprintln(w, "Trend: not improving")
	}
}
