package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/ethpandaops/regressoor/pkg/compare"
	"github.com/ethpandaops/regressoor/pkg/config"
	"github.com/ethpandaops/regressoor/pkg/docker"
	"github.com/ethpandaops/regressoor/pkg/history"
	"github.com/ethpandaops/regressoor/pkg/isolator"
	"github.com/ethpandaops/regressoor/pkg/recorder"
	"github.com/sirupsen/logrus"
)

// DefaultCurrentLabel is the label given to the live run closing a
// retrospective.
const DefaultCurrentLabel = "current"

// workspaceHistoryName is the history document an isolated run writes
// inside its workspace before it is merged into the main store.
const workspaceHistoryName = ".regressoor_history.json"

// RetrospectiveOptions controls the labels a retrospective records under.
type RetrospectiveOptions struct {
	// OldLabel overrides the replayed revision's label. Only valid when a
	// single ref is replayed; refs otherwise label themselves.
	OldLabel string
	// NewLabel labels the closing live run. Empty means DefaultCurrentLabel.
	NewLabel string
}

// RetrospectiveResult is the outcome of one retrospective: the replayed
// records, the closing live run, and the old-vs-current comparison.
type RetrospectiveResult struct {
	Replayed   []*history.RunRecord
	Current    *history.RunRecord
	Comparison *compare.Result
}

// Pipeline orchestrates isolation, recording, and teardown for one or
// more revisions.
type Pipeline interface {
	// Run records a single run. With isolate set the repository HEAD is
	// checked out into an isolated workspace first; otherwise the tests
	// run against the live checkout.
	Run(ctx context.Context, label string, isolate bool) (*history.RunRecord, error)

	// Retrospective replays the given refs strictly in order, each in a
	// fresh workspace torn down before the next starts, then runs the
	// test surface against the live tree and compares the last replayed
	// revision against it. A partial result is returned alongside the
	// error when a ref fails.
	Retrospective(
		ctx context.Context, refs []string, opts RetrospectiveOptions,
	) (*RetrospectiveResult, error)
}

// Compile-time interface check.
var _ Pipeline = (*pipeline)(nil)

type pipeline struct {
	log    logrus.FieldLogger
	cfg    *config.Config
	store  history.Store
	docker docker.Manager
}

// New creates a pipeline. The docker manager may be nil, in which case
// service deployment is skipped with a warning.
func New(
	log logrus.FieldLogger,
	cfg *config.Config,
	store history.Store,
	mgr docker.Manager,
) Pipeline {
	return &pipeline{
		log:    log.WithField("component", "pipeline"),
		cfg:    cfg,
		store:  store,
		docker: mgr,
	}
}

func (p *pipeline) Run(
	ctx context.Context, label string, isolate bool,
) (*history.RunRecord, error) {
	if !isolate {
		rec := recorder.New(p.log, p.cfg, p.store)

		return rec.Run(ctx, recorder.Options{Label: label})
	}

	return p.runIsolated(ctx, label, "HEAD")
}

func (p *pipeline) Retrospective(
	ctx context.Context, refs []string, opts RetrospectiveOptions,
) (*RetrospectiveResult, error) {
	if len(refs) == 0 {
		return nil, fmt.Errorf("at least one ref is required")
	}

	if opts.OldLabel != "" && len(refs) != 1 {
		return nil, fmt.Errorf(
			"an explicit old label requires exactly one ref, got %d", len(refs))
	}

	newLabel := opts.NewLabel
	if newLabel == "" {
		newLabel = DefaultCurrentLabel
	}

	result := &RetrospectiveResult{
		Replayed: make([]*history.RunRecord, 0, len(refs)),
	}

	for _, ref := range refs {
		p.log.WithField("ref", ref).Info("Replaying revision")

		label := ref
		if opts.OldLabel != "" {
			label = opts.OldLabel
		}

		record, err := p.runIsolated(ctx, label, ref)
		if err != nil {
			return result, fmt.Errorf("replaying %s: %w", ref, err)
		}

		result.Replayed = append(result.Replayed, record)
	}

	p.log.WithField("label", newLabel).Info("Running against the live tree")

	rec := recorder.New(p.log, p.cfg, p.store)

	current, err := rec.Run(ctx, recorder.Options{Label: newLabel})
	if err != nil {
		return result, fmt.Errorf("recording live run: %w", err)
	}

	result.Current = current
	result.Comparison = compare.Compare(
		result.Replayed[len(result.Replayed)-1], current,
	)

	return result, nil
}

// runIsolated runs one revision in a fresh workspace. The run lands in a
// workspace-local history document first and is merged into the main
// store before teardown. Teardown always runs, whatever the outcome.
func (p *pipeline) runIsolated(
	ctx context.Context,
	label, ref string,
) (record *history.RunRecord, err error) {
	iso := isolator.New(p.log, p.cfg, p.docker)

	defer func() {
		if terr := iso.Teardown(ctx); terr != nil {
			p.log.WithError(terr).Warn("Teardown failed")

			if err == nil {
				err = terr
			}
		}
	}()

	ws, err := iso.Prepare(ctx, ref)
	if err != nil {
		var notFound *isolator.RevisionNotFoundError
		if errors.As(err, &notFound) {
			return nil, err
		}

		return nil, fmt.Errorf("preparing workspace: %w", err)
	}

	for _, warning := range ws.Warnings {
		p.log.WithField("ref", ref).Warnf("%v", warning)
	}

	local := history.NewStore(
		p.log, filepath.Join(ws.Dir, workspaceHistoryName),
	)
	if err := local.Load(); err != nil {
		return nil, fmt.Errorf("opening workspace history: %w", err)
	}

	rec := recorder.New(p.log, p.cfg, local)

	record, err = rec.Run(ctx, recorder.Options{Label: label, Workspace: ws})
	if err != nil {
		return nil, err
	}

	if err := p.store.Merge(local.Records()); err != nil {
		return nil, fmt.Errorf("merging workspace history: %w", err)
	}

	return record, nil
}
