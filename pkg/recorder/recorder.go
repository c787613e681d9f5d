// Package recorder executes the test surface against the deployed system,
// probes service availability, and persists the resulting run record.
package recorder

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/regressoor/pkg/config"
	"github.com/ethpandaops/regressoor/pkg/history"
	"github.com/ethpandaops/regressoor/pkg/isolator"
	"github.com/ethpandaops/regressoor/pkg/sysinfo"
)

// probeTimeout bounds each service health probe.
const probeTimeout = 5 * time.Second

// Options controls a single recorded run.
type Options struct {
	// Label overrides the default commit-derived label.
	Label string
	// Workspace is the isolated checkout to run in. Nil runs against the
	// live deployment from the repository root.
	Workspace *isolator.Workspace
}

// Recorder runs the test surface and records the outcome.
type Recorder interface {
	// Run executes the test surface and persists a record. The record is
	// persisted even when every test failed or every service was down.
	Run(ctx context.Context, opts Options) (*history.RunRecord, error)
}

type recorder struct {
	log    logrus.FieldLogger
	cfg    *config.Config
	store  history.Store
	client *http.Client
}

var _ Recorder = (*recorder)(nil)

// New creates a recorder persisting into store.
func New(log logrus.FieldLogger, cfg *config.Config, store history.Store) Recorder {
	return &recorder{
		log:    log.WithField("component", "recorder"),
		cfg:    cfg,
		store:  store,
		client: &http.Client{Timeout: probeTimeout},
	}
}

func (r *recorder) Run(ctx context.Context, opts Options) (*history.RunRecord, error) {
	rev, dir, err := r.target(ctx, opts)
	if err != nil {
		return nil, err
	}

	label := opts.Label
	if label == "" {
		label = "commit_" + rev.ShortID()
	}

	log := r.log.WithFields(logrus.Fields{
		"label":    label,
		"revision": rev.ShortID(),
	})
	log.Info("Running test surface")

	pre := r.probeAvailability(ctx)

	outcomes, counts, err := r.execute(ctx, dir)
	if err != nil {
		return nil, err
	}

	// A second probe after the run catches services that dropped while the
	// tests were executing; the worse of the two statuses is recorded.
	availability := worstAvailability(pre, r.probeAvailability(ctx))

	rec := &history.RunRecord{
		Label:              label,
		RevisionID:         rev.ID,
		RevisionMessage:    rev.Message,
		RevisionTimestamp:  rev.Timestamp,
		ExecutionTimestamp: time.Now().UTC(),
		Availability:       availability,
		TotalTests:         counts.Total,
		Passed:             counts.Passed,
		Failed:             counts.Failed,
		Errored:            counts.Error,
		ReliabilityScore:   history.Score(counts.Passed, counts.Total),
		Tests:              outcomes,
		System:             sysinfo.Collect(ctx),
	}

	// The record always lands in the history, even for a fully failed run.
	if err := r.store.Append(rec); err != nil {
		return nil, fmt.Errorf("persisting run record: %w", err)
	}

	log.WithFields(logrus.Fields{
		"total":  rec.TotalTests,
		"passed": rec.Passed,
		"score":  fmt.Sprintf("%.1f%%", rec.ReliabilityScore),
	}).Info("Run recorded")

	return rec, nil
}

// target resolves which tree to run in and which revision it represents.
func (r *recorder) target(ctx context.Context, opts Options) (*isolator.Revision, string, error) {
	if opts.Workspace != nil {
		return opts.Workspace.Revision, opts.Workspace.Dir, nil
	}

	rev, err := isolator.Describe(ctx, r.cfg.Isolation.RepoPath, "HEAD")
	if err != nil {
		return nil, "", fmt.Errorf("describing working tree: %w", err)
	}

	return rev, r.cfg.Isolation.RepoPath, nil
}

// probeAvailability checks each configured service's health endpoint.
func (r *recorder) probeAvailability(ctx context.Context) history.ServiceAvailability {
	if len(r.cfg.Services) == 0 {
		return nil
	}

	availability := make(history.ServiceAvailability, len(r.cfg.Services))

	for i := range r.cfg.Services {
		svc := &r.cfg.Services[i]
		availability[svc.Name] = r.probe(ctx, svc.HealthURL)

		r.log.WithFields(logrus.Fields{
			"service": svc.Name,
			"status":  availability[svc.Name],
		}).Debug("Probed service")
	}

	return availability
}

// worstAvailability folds the pre-run and post-run probes, keeping the
// worse status per service.
func worstAvailability(pre, post history.ServiceAvailability) history.ServiceAvailability {
	if pre == nil && post == nil {
		return nil
	}

	merged := make(history.ServiceAvailability, len(pre))

	for name, status := range pre {
		merged[name] = status
	}

	for name, status := range post {
		if existing, ok := merged[name]; !ok || statusRank(status) < statusRank(existing) {
			merged[name] = status
		}
	}

	return merged
}

// statusRank orders availability statuses from worst to best.
func statusRank(s history.AvailabilityStatus) int {
	switch s {
	case history.StatusDown:
		return 0
	case history.StatusUnknown:
		return 1
	default:
		return 2
	}
}

func (r *recorder) probe(ctx context.Context, url string) history.AvailabilityStatus {
	if url == "" {
		return history.StatusUnknown
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return history.StatusDown
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return history.StatusDown
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return history.StatusUp
	}

	return history.StatusDown
}

// execute runs the test command and parses the report it writes. A non-zero
// exit is expected when tests fail; only a missing or unreadable report is
// an error.
func (r *recorder) execute(ctx context.Context, dir string) ([]history.TestOutcome, reportSummary, error) {
	workDir := filepath.Join(dir, r.cfg.Tests.Dir)
	reportPath := filepath.Join(workDir, r.cfg.Tests.ReportPath)

	// Drop a previous run's report so a command that silently does
	// nothing cannot reuse it.
	_ = os.Remove(reportPath)

	argv := r.cfg.Tests.Command
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = workDir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), r.serviceEnv()...)

	if err := cmd.Run(); err != nil {
		if _, statErr := os.Stat(reportPath); statErr != nil {
			return nil, reportSummary{}, fmt.Errorf(
				"test command failed without producing a report: %w", err)
		}

		r.log.WithError(err).Debug("Test command exited non-zero")
	}

	return parseReport(reportPath)
}

// serviceEnv exposes each service endpoint to the test command, e.g.
// SERVICE_GATEWAY_URL.
func (r *recorder) serviceEnv() []string {
	env := make([]string, 0, len(r.cfg.Services))

	for i := range r.cfg.Services {
		svc := &r.cfg.Services[i]
		key := "SERVICE_" + strings.ToUpper(strings.ReplaceAll(svc.Name, "-", "_")) + "_URL"
		env = append(env, key+"="+svc.BaseURL)
	}

	return env
}
