package trend

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/regressoor/pkg/history"
)

func run(label string, offset time.Duration, score float64, tests ...history.TestOutcome) *history.RunRecord {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := &history.RunRecord{
		Label:              label,
		RevisionID:         "0123456789abcdef",
		ExecutionTimestamp: base.Add(offset),
		ReliabilityScore:   score,
		Tests:              tests,
		TotalTests:         len(tests),
	}

	for _, t := range tests {
		if t.Outcome == history.OutcomePassed {
			rec.Passed++
		}
	}

	return rec
}

func TestSummary(t *testing.T) {
	records := []*history.RunRecord{
		run("v1", 0, 50),
		run("v2", time.Hour, 75),
	}
	records[0].Availability = history.ServiceAvailability{
		"gateway": history.StatusUp,
		"catalog": history.StatusDown,
	}

	rows := Summary(records)
	require.Len(t, rows, 2)
	assert.Equal(t, "v1", rows[0].Label)
	assert.Equal(t, "01234567", rows[0].RevisionID)
	assert.Equal(t, 1, rows[0].ServicesUp)
	assert.Equal(t, 2, rows[0].ServicesProbed)
}

func TestFirstVsLatest(t *testing.T) {
	assert.Nil(t, FirstVsLatest(nil))
	assert.Nil(t, FirstVsLatest([]*history.RunRecord{run("only", 0, 50)}))

	records := []*history.RunRecord{
		run("v1", 0, 40, history.TestOutcome{Name: "a", Outcome: history.OutcomeFailed}),
		run("v2", time.Hour, 60, history.TestOutcome{Name: "a", Outcome: history.OutcomeFailed}),
		run("v3", 2*time.Hour, 90, history.TestOutcome{Name: "a", Outcome: history.OutcomePassed}),
	}

	res := FirstVsLatest(records)
	require.NotNil(t, res)
	assert.Equal(t, "v1", res.OldLabel)
	assert.Equal(t, "v3", res.NewLabel)
	assert.InDelta(t, 50, res.ScoreDelta, 1e-9)
	require.Len(t, res.Fixed, 1)
	assert.Equal(t, "a", res.Fixed[0].Name)
}

func TestProgression(t *testing.T) {
	records := []*history.RunRecord{
		run("v1", 0, 50,
			history.TestOutcome{Name: "b", Outcome: history.OutcomeFailed},
			history.TestOutcome{Name: "a", Outcome: history.OutcomePassed},
		),
		run("v2", time.Hour, 75,
			history.TestOutcome{Name: "b", Outcome: history.OutcomePassed},
			history.TestOutcome{Name: "c", Outcome: history.OutcomeError},
		),
	}

	m := Progression(records)
	assert.Equal(t, []string{"a", "b", "c"}, m.TestNames)
	assert.Equal(t, []string{"v1", "v2"}, m.Labels)
	assert.Equal(t, []history.Outcome{history.OutcomePassed, history.OutcomeMissing}, m.Cells[0])
	assert.Equal(t, []history.Outcome{history.OutcomeFailed, history.OutcomePassed}, m.Cells[1])
	assert.Equal(t, []history.Outcome{history.OutcomeMissing, history.OutcomeError}, m.Cells[2])
	assert.Equal(t, []bool{false, true, false}, m.Improved)
}

func TestChartQuantization(t *testing.T) {
	tests := []struct {
		name     string
		score    float64
		expected int
	}{
		{name: "zero", score: 0, expected: 0},
		{name: "low", score: 10, expected: 0},
		{name: "mid-low", score: 30, expected: 1},
		{name: "middle", score: 50, expected: 2},
		{name: "mid-high", score: 70, expected: 3},
		{name: "high", score: 90, expected: 4},
		{name: "perfect", score: 100, expected: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			points := Chart([]*history.RunRecord{run("v", 0, tt.score)})
			require.Len(t, points, 1)
			assert.Equal(t, tt.expected, points[0].Level)
			assert.InDelta(t, tt.score, points[0].Score, 1e-9, "legend keeps the exact score")
		})
	}
}

func TestImprovedTests(t *testing.T) {
	passed := func(name string) history.TestOutcome {
		return history.TestOutcome{Name: name, Outcome: history.OutcomePassed}
	}
	failed := func(name string) history.TestOutcome {
		return history.TestOutcome{Name: name, Outcome: history.OutcomeFailed}
	}

	t.Run("empty history", func(t *testing.T) {
		assert.Empty(t, ImprovedTests(nil))
		assert.False(t, Improving(nil))
	})

	t.Run("fix masked by a simultaneous regression", func(t *testing.T) {
		// The aggregate score stays flat at 50, but test_b still went
		// failed to passed between adjacent runs.
		records := []*history.RunRecord{
			run("v1", 0, 50, passed("test_a"), failed("test_b")),
			run("v2", time.Hour, 50, failed("test_a"), passed("test_b")),
		}

		assert.Equal(t, []string{"test_b"}, ImprovedTests(records))
		assert.True(t, Improving(records))
	})

	t.Run("flapping test still counts", func(t *testing.T) {
		records := []*history.RunRecord{
			run("v1", 0, 0, failed("a")),
			run("v2", time.Hour, 100, passed("a")),
			run("v3", 2*time.Hour, 0, failed("a")),
		}

		assert.Equal(t, []string{"a"}, ImprovedTests(records))
	})

	t.Run("missing to passed counts", func(t *testing.T) {
		records := []*history.RunRecord{
			run("v1", 0, 100, passed("a")),
			run("v2", time.Hour, 100, passed("a"), passed("b")),
		}

		assert.Equal(t, []string{"b"}, ImprovedTests(records))
	})

	t.Run("decline only", func(t *testing.T) {
		records := []*history.RunRecord{
			run("v1", 0, 100, passed("a")),
			run("v2", time.Hour, 0, failed("a")),
		}

		assert.Empty(t, ImprovedTests(records))
		assert.False(t, Improving(records))
	})
}

func TestWriteSummaryCSV(t *testing.T) {
	var buf bytes.Buffer

	records := []*history.RunRecord{run("v1", 0, 66.666666)}
	require.NoError(t, WriteSummaryCSV(&buf, records))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "label", rows[0][0])
	assert.Equal(t, "v1", rows[1][0])
	assert.Equal(t, "66.7", rows[1][7])
}

func TestWriteDetailedCSV(t *testing.T) {
	var buf bytes.Buffer

	records := []*history.RunRecord{
		run("v1", 0, 50,
			history.TestOutcome{Name: "a", Outcome: history.OutcomePassed, Duration: 0.25},
			history.TestOutcome{Name: "b", Outcome: history.OutcomeFailed, Detail: "boom"},
		),
	}
	require.NoError(t, WriteDetailedCSV(&buf, records))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"v1", "0123456789abcdef", "a", "passed", "0.250", ""}, rows[1])
	assert.Equal(t, "boom", rows[2][5])
}

func TestRenderMatrixGlyphs(t *testing.T) {
	records := []*history.RunRecord{
		run("v1", 0, 0, history.TestOutcome{Name: "a", Outcome: history.OutcomeFailed}),
		run("v2", time.Hour, 100, history.TestOutcome{Name: "a", Outcome: history.OutcomePassed}),
	}

	var buf bytes.Buffer
	require.NoError(t, RenderMatrix(&buf, Progression(records)))

	out := buf.String()
	assert.Contains(t, out, "✗")
	assert.Contains(t, out, "✓")
	assert.Contains(t, out, "↑")
	assert.True(t, strings.HasPrefix(out, "TEST"))
}
