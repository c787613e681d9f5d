package history

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	return log
}

func rec(label string, ts time.Time, passed, total int) *RunRecord {
	return &RunRecord{
		Label:              label,
		RevisionID:         "deadbeefcafe",
		ExecutionTimestamp: ts,
		TotalTests:         total,
		Passed:             passed,
		Failed:             total - passed,
		ReliabilityScore:   Score(passed, total),
	}
}

func TestScore(t *testing.T) {
	tests := []struct {
		name     string
		passed   int
		total    int
		expected float64
	}{
		{name: "all passing", passed: 10, total: 10, expected: 100},
		{name: "partial", passed: 7, total: 10, expected: 70},
		{name: "none passing", passed: 0, total: 10, expected: 0},
		{name: "empty run scores zero", passed: 0, total: 0, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, Score(tt.passed, tt.total), 1e-9)
		})
	}
}

func TestStoreLoadMissingFile(t *testing.T) {
	s := NewStore(testLogger(), filepath.Join(t.TempDir(), "history.json"))

	require.NoError(t, s.Load())
	assert.Empty(t, s.Records())
}

func TestStoreLoadCorrupt(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "not json", content: "{{{"},
		{name: "wrong shape", content: `{"label": "a"}`},
		{name: "empty label", content: `[{"execution_timestamp": "2026-01-01T00:00:00Z"}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "history.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			err := NewStore(testLogger(), path).Load()
			require.Error(t, err)

			var corrupt *CorruptHistoryError
			require.ErrorAs(t, err, &corrupt)
			assert.Equal(t, path, corrupt.Path)
		})
	}
}

func TestStoreAppendLastWriteWins(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		first, second *RunRecord
		expectedScore float64
	}{
		{
			name:          "newer replaces older",
			first:         rec("v1", base, 5, 10),
			second:        rec("v1", base.Add(time.Hour), 8, 10),
			expectedScore: 80,
		},
		{
			name:          "older is discarded",
			first:         rec("v1", base.Add(time.Hour), 8, 10),
			second:        rec("v1", base, 5, 10),
			expectedScore: 80,
		},
		{
			name:          "equal timestamp favours incoming",
			first:         rec("v1", base, 5, 10),
			second:        rec("v1", base, 9, 10),
			expectedScore: 90,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore(testLogger(), filepath.Join(t.TempDir(), "history.json"))
			require.NoError(t, s.Load())

			require.NoError(t, s.Append(tt.first))
			require.NoError(t, s.Append(tt.second))

			recs := s.Records()
			require.Len(t, recs, 1)
			assert.Equal(t, "v1", recs[0].Label)
			assert.InDelta(t, tt.expectedScore, recs[0].ReliabilityScore, 1e-9)
		})
	}
}

func TestStoreMergeCommutativeIdempotent(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := rec("a", base, 3, 10)
	aNewer := rec("a", base.Add(time.Hour), 6, 10)
	b := rec("b", base.Add(30*time.Minute), 10, 10)

	fold := func(batches ...[]*RunRecord) Store {
		s := NewStore(testLogger(), filepath.Join(t.TempDir(), "history.json"))
		require.NoError(t, s.Load())

		for _, batch := range batches {
			require.NoError(t, s.Merge(batch))
		}

		return s
	}

	forward := fold([]*RunRecord{a, b}, []*RunRecord{aNewer})
	reverse := fold([]*RunRecord{aNewer}, []*RunRecord{a, b})
	repeated := fold([]*RunRecord{a, b}, []*RunRecord{aNewer}, []*RunRecord{a, b, aNewer})

	for _, s := range []Store{forward, reverse, repeated} {
		assert.Equal(t, []string{"b", "a"}, s.Labels())

		got, err := s.Get("a")
		require.NoError(t, err)
		assert.InDelta(t, 60, got.ReliabilityScore, 1e-9)
	}
}

func TestStoreGetUnknownLabel(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore(testLogger(), filepath.Join(t.TempDir(), "history.json"))
	require.NoError(t, s.Load())
	require.NoError(t, s.Append(rec("v1", base, 5, 10)))
	require.NoError(t, s.Append(rec("v2", base.Add(time.Hour), 8, 10)))

	_, err := s.Get("v3")
	require.Error(t, err)

	var notFound *LabelNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "v3", notFound.Label)
	require.Len(t, notFound.Available, 2)
	assert.Equal(t, "v1", notFound.Available[0].Label)
	assert.Equal(t, "v2", notFound.Available[1].Label)
	assert.Contains(t, err.Error(), "v1")
	assert.Contains(t, err.Error(), "v2")
}

func TestStorePersistenceIgnoresDocumentOrder(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	path := filepath.Join(t.TempDir(), "history.json")

	// Write the document newest-first; Load must not care.
	doc := []*RunRecord{
		rec("v2", base.Add(time.Hour), 8, 10),
		rec("v1", base, 5, 10),
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	s := NewStore(testLogger(), path)
	require.NoError(t, s.Load())
	assert.Equal(t, []string{"v1", "v2"}, s.Labels())
}

func TestStoreRoundTrip(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	path := filepath.Join(t.TempDir(), "history.json")

	s := NewStore(testLogger(), path)
	require.NoError(t, s.Load())

	record := rec("v1", base, 5, 10)
	record.Tests = []TestOutcome{
		{Name: "test_checkout", Outcome: OutcomePassed, Duration: 0.31},
		{Name: "test_search", Outcome: OutcomeFailed, Detail: "timeout"},
	}
	record.Availability = ServiceAvailability{"gateway": StatusUp, "catalog": StatusDown}
	require.NoError(t, s.Append(record))

	reloaded := NewStore(testLogger(), path)
	require.NoError(t, reloaded.Load())

	got, err := reloaded.Get("v1")
	require.NoError(t, err)
	assert.Equal(t, record.Tests, got.Tests)
	assert.Equal(t, StatusUp, got.Availability["gateway"])
	assert.Equal(t, OutcomeMissing, got.Outcome("test_unknown"))
	assert.Equal(t, 1, got.ServicesUp())
}

func TestStoreLoadToleratesUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	doc := `[{"label":"v1","revision_id":"abc","execution_timestamp":"2026-03-01T12:00:00Z",` +
		`"total_tests":1,"passed":1,"reliability_score":100,"future_field":{"x":1}}]`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	s := NewStore(testLogger(), path)
	require.NoError(t, s.Load())

	got, err := s.Get("v1")
	require.NoError(t, err)
	assert.InDelta(t, 100, got.ReliabilityScore, 1e-9)
}

func TestStoreSaveIsAtomicReplacement(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	path := filepath.Join(t.TempDir(), "history.json")

	s := NewStore(testLogger(), path)
	require.NoError(t, s.Load())
	require.NoError(t, s.Append(rec("v1", base, 5, 10)))
	require.NoError(t, s.Append(rec("v2", base.Add(time.Hour), 8, 10)))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files left behind")
	assert.Equal(t, "history.json", entries[0].Name())
}
