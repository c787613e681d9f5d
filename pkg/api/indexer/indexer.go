package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethpandaops/regressoor/pkg/api/indexstore"
	"github.com/ethpandaops/regressoor/pkg/history"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// defaultConcurrency is the number of records indexed in parallel when
// no explicit concurrency value is configured.
const defaultConcurrency = 4

// Indexer is a background service that periodically re-reads the history
// file and upserts its records into the index store.
type Indexer interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Indexer = (*indexer)(nil)

type indexer struct {
	log         logrus.FieldLogger
	store       indexstore.Store
	history     history.Store
	interval    time.Duration
	concurrency int
	done        chan struct{}
	wg          sync.WaitGroup
	dbMu        sync.Mutex // serializes DB writes to avoid SQLite contention
}

// NewIndexer creates a new background indexer.
func NewIndexer(
	log logrus.FieldLogger,
	store indexstore.Store,
	hist history.Store,
	interval time.Duration,
	concurrency int,
) Indexer {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	return &indexer{
		log:         log.WithField("component", "indexer"),
		store:       store,
		history:     hist,
		interval:    interval,
		concurrency: concurrency,
		done:        make(chan struct{}),
	}
}

// Start launches a background goroutine that runs an immediate indexing
// pass and then ticks at the configured interval. The first pass is
// asynchronous so the caller is not blocked.
func (idx *indexer) Start(ctx context.Context) error {
	idx.log.WithFields(logrus.Fields{
		"interval":    idx.interval.String(),
		"concurrency": idx.concurrency,
	}).Info("Starting indexer")

	idx.wg.Add(1)

	go func() {
		defer idx.wg.Done()

		// Run one pass immediately.
		idx.runPass(ctx)

		ticker := time.NewTicker(idx.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				idx.runPass(ctx)
			case <-idx.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop signals the indexer goroutine to stop and waits for it.
func (idx *indexer) Stop() error {
	close(idx.done)
	idx.wg.Wait()

	idx.log.Info("Indexer stopped")

	return nil
}

// runPass executes one full indexing pass over the history file.
func (idx *indexer) runPass(ctx context.Context) {
	start := time.Now()

	if err := idx.indexHistory(ctx); err != nil {
		idx.log.WithError(err).Warn("Indexing pass failed")

		return
	}

	idx.log.WithField("duration", time.Since(start).Round(time.Millisecond)).
		Debug("Indexing pass completed")
}

// indexHistory re-reads the history file, upserts every record, and
// prunes indexed runs whose label no longer exists in the file. History
// read errors leave the existing index untouched.
func (idx *indexer) indexHistory(ctx context.Context) error {
	if err := idx.history.Load(); err != nil {
		return fmt.Errorf("loading history: %w", err)
	}

	records := idx.history.Records()

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(idx.concurrency)

	var indexed atomic.Int64

	for _, rec := range records {
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			case <-idx.done:
				return nil
			default:
			}

			if err := idx.indexRecord(gCtx, rec); err != nil {
				idx.log.WithError(err).
					WithField("label", rec.Label).
					Warn("Failed to index run")

				return nil //nolint:nilerr // log and continue
			}

			indexed.Add(1)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("indexing runs: %w", err)
	}

	labels := make([]string, 0, len(records))
	for _, rec := range records {
		labels = append(labels, rec.Label)
	}

	idx.dbMu.Lock()
	err := idx.store.DeleteRunsNotIn(ctx, labels)
	idx.dbMu.Unlock()

	if err != nil {
		return fmt.Errorf("pruning removed runs: %w", err)
	}

	if count := indexed.Load(); count > 0 {
		idx.log.WithField("runs", count).Debug("Indexed runs")
	}

	return nil
}

// indexRecord converts one history record into an index row and upserts it.
func (idx *indexer) indexRecord(
	ctx context.Context, rec *history.RunRecord,
) error {
	availability, err := json.Marshal(rec.Availability)
	if err != nil {
		return fmt.Errorf("marshaling availability: %w", err)
	}

	tests, err := json.Marshal(rec.Tests)
	if err != nil {
		return fmt.Errorf("marshaling tests: %w", err)
	}

	run := &indexstore.Run{
		Label:              rec.Label,
		RevisionID:         rec.RevisionID,
		RevisionMessage:    rec.RevisionMessage,
		RevisionTimestamp:  rec.RevisionTimestamp,
		ExecutionTimestamp: rec.ExecutionTimestamp,
		TotalTests:         rec.TotalTests,
		Passed:             rec.Passed,
		Failed:             rec.Failed,
		Errored:            rec.Errored,
		ReliabilityScore:   rec.ReliabilityScore,
		AvailabilityJSON:   string(availability),
		TestsJSON:          string(tests),
		IndexedAt:          time.Now().UTC(),
	}

	idx.dbMu.Lock()
	defer idx.dbMu.Unlock()

	return idx.store.UpsertRun(ctx, run)
}
