package indexstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/regressoor/pkg/api/indexstore"
	"github.com/ethpandaops/regressoor/pkg/config"
)

func setupTestStore(t *testing.T) indexstore.Store {
	t.Helper()

	cfg := &config.APIDatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := indexstore.NewStore(log, cfg)
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() { _ = s.Stop() })

	return s
}

func TestStore_UpsertAndListRuns(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)

	runA := &indexstore.Run{
		Label:              "v1.0",
		RevisionID:         "aaa111",
		ExecutionTimestamp: now,
		TotalTests:         10,
		Passed:             8,
		Failed:             1,
		Errored:            1,
		ReliabilityScore:   80,
	}
	runB := &indexstore.Run{
		Label:              "v1.1",
		RevisionID:         "bbb222",
		ExecutionTimestamp: now.Add(time.Hour),
		TotalTests:         10,
		Passed:             10,
		ReliabilityScore:   100,
	}

	require.NoError(t, s.UpsertRun(ctx, runB))
	require.NoError(t, s.UpsertRun(ctx, runA))

	// ListRuns orders by execution timestamp regardless of insert order.
	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "v1.0", runs[0].Label)
	assert.Equal(t, "v1.1", runs[1].Label)
	assert.InDelta(t, 80.0, runs[0].ReliabilityScore, 0.001)

	got, err := s.GetRunByLabel(ctx, "v1.1")
	require.NoError(t, err)
	assert.Equal(t, "bbb222", got.RevisionID)

	_, err = s.GetRunByLabel(ctx, "missing")
	require.Error(t, err)
}

func TestStore_UpsertRunReplacesByLabel(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	run := &indexstore.Run{
		Label:            "nightly",
		RevisionID:       "old",
		TotalTests:       5,
		Passed:           3,
		ReliabilityScore: 60,
	}
	require.NoError(t, s.UpsertRun(ctx, run))

	updated := &indexstore.Run{
		Label:            "nightly",
		RevisionID:       "new",
		TotalTests:       5,
		Passed:           5,
		ReliabilityScore: 100,
	}
	require.NoError(t, s.UpsertRun(ctx, updated))

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1, "upsert must not duplicate the row")
	assert.Equal(t, "new", runs[0].RevisionID)
	assert.Equal(t, 5, runs[0].Passed)
}

func TestStore_ListLabels(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()

	labels := []string{"r1", "r2", "r3"}
	for i, label := range labels {
		require.NoError(t, s.UpsertRun(ctx, &indexstore.Run{
			Label:              label,
			ExecutionTimestamp: now.Add(time.Duration(i) * time.Minute),
		}))
	}

	got, err := s.ListLabels(ctx)
	require.NoError(t, err)
	assert.Equal(t, labels, got)
}

func TestStore_DeleteRunsNotIn(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for _, label := range []string{"keep", "drop-a", "drop-b"} {
		require.NoError(t, s.UpsertRun(ctx, &indexstore.Run{Label: label}))
	}

	require.NoError(t, s.DeleteRunsNotIn(ctx, []string{"keep"}))

	labels, err := s.ListLabels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"keep"}, labels)

	// An empty keep list clears the index.
	require.NoError(t, s.DeleteRunsNotIn(ctx, nil))

	labels, err = s.ListLabels(ctx)
	require.NoError(t, err)
	assert.Empty(t, labels)
}
