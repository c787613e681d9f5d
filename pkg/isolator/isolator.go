// Package isolator materializes a revision in an isolated workspace and
// deploys the system under test there: git checkout, test-surface overlay,
// best-effort container deployment, and idempotent teardown.
package isolator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/regressoor/pkg/config"
	"github.com/ethpandaops/regressoor/pkg/docker"
)

// healthPollInterval is how often service health endpoints are probed while
// waiting for an isolated deployment to come up.
const healthPollInterval = time.Second

// Workspace is a prepared isolated checkout.
type Workspace struct {
	Dir      string
	Revision *Revision
	// Warnings collects the non-fatal problems hit during preparation:
	// missing overlays and services that failed to deploy.
	Warnings []error
}

// Isolator prepares isolated revision workspaces.
type Isolator interface {
	// Prepare checks out the revision, overlays the test surface, and
	// deploys the target best-effort. The only fatal failures are an
	// unresolvable revision and a broken checkout.
	Prepare(ctx context.Context, ref string) (*Workspace, error)
	// Teardown removes containers, network, and the workspace. It is
	// idempotent and also sweeps stale state from earlier runs.
	Teardown(ctx context.Context) error
}

type isolator struct {
	log    logrus.FieldLogger
	cfg    *config.Config
	docker docker.Manager
	client *http.Client

	runID      string
	containers []string
}

var _ Isolator = (*isolator)(nil)

// New creates an isolator. The docker manager may be nil when no service
// configures a container; deployment is then skipped entirely.
func New(log logrus.FieldLogger, cfg *config.Config, mgr docker.Manager) Isolator {
	return &isolator{
		log:    log.WithField("component", "isolator"),
		cfg:    cfg,
		docker: mgr,
		client: &http.Client{Timeout: 5 * time.Second},
		runID:  newRunID(),
	}
}

// newRunID generates a short unique run identifier.
func newRunID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}

	return hex.EncodeToString(b)
}

func (i *isolator) Prepare(ctx context.Context, ref string) (*Workspace, error) {
	log := i.log.WithField("ref", ref)
	repo := i.cfg.Isolation.RepoPath
	dir := i.cfg.Isolation.Workspace

	// A crashed run may have left a checkout behind.
	if err := i.removeWorkspace(ctx); err != nil {
		return nil, fmt.Errorf("removing stale workspace: %w", err)
	}

	sha, err := ResolveRevision(ctx, repo, ref)
	if err != nil {
		return nil, err
	}

	rev, err := revisionInfo(ctx, repo, sha)
	if err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"revision": rev.ShortID(),
		"dir":      dir,
	}).Info("Preparing isolated workspace")

	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace parent: %w", err)
	}

	if err := addWorktree(ctx, repo, dir, sha); err != nil {
		return nil, err
	}

	ws := &Workspace{Dir: dir, Revision: rev}

	i.applyOverlays(ws)
	i.deploy(ctx, ws)

	return ws, nil
}

// applyOverlays copies the configured test-surface paths from the invoking
// tree into the workspace so the current tests run against the old revision.
func (i *isolator) applyOverlays(ws *Workspace) {
	for _, overlay := range i.cfg.Tests.Overlays {
		src := filepath.Join(i.cfg.Isolation.RepoPath, overlay)

		if _, err := os.Stat(src); err != nil {
			warn := &OverlayMissingWarning{Path: overlay}
			ws.Warnings = append(ws.Warnings, warn)
			i.log.WithField("path", overlay).Warn("Overlay path missing, skipping")

			continue
		}

		if err := copyTree(src, filepath.Join(ws.Dir, overlay)); err != nil {
			ws.Warnings = append(ws.Warnings, &OverlayMissingWarning{Path: overlay})
			i.log.WithError(err).WithField("path", overlay).Warn("Overlay copy failed")
		}
	}
}

// deploy starts the configured service containers. Every failure is a
// warning; the recorder's availability probes capture what actually runs.
func (i *isolator) deploy(ctx context.Context, ws *Workspace) {
	var deployed []*config.ServiceConfig

	for idx := range i.cfg.Services {
		if i.cfg.Services[idx].Container != nil {
			deployed = append(deployed, &i.cfg.Services[idx])
		}
	}

	if len(deployed) == 0 {
		return
	}

	if i.docker == nil {
		ws.Warnings = append(ws.Warnings, &DeploymentStartWarning{
			Service: "all",
			Cause:   fmt.Errorf("no container runtime available"),
		})

		return
	}

	if err := i.docker.EnsureNetwork(ctx, i.cfg.Global.ContainerNetwork); err != nil {
		ws.Warnings = append(ws.Warnings, &DeploymentStartWarning{Service: "network", Cause: err})
		i.log.WithError(err).Warn("Failed to ensure container network, continuing")

		return
	}

	for _, svc := range deployed {
		if err := i.startService(ctx, ws, svc); err != nil {
			ws.Warnings = append(ws.Warnings, &DeploymentStartWarning{
				Service: svc.Name,
				Cause:   err,
			})
			i.log.WithError(err).WithField("service", svc.Name).
				Warn("Service failed to start, continuing")
		}
	}

	i.waitReady(ctx, ws, deployed)
}

func (i *isolator) startService(ctx context.Context, ws *Workspace, svc *config.ServiceConfig) error {
	cc := svc.Container

	if err := i.docker.PullImage(ctx, cc.Image, cc.PullPolicy); err != nil {
		return err
	}

	memory, err := cc.MemoryBytes()
	if err != nil {
		return err
	}

	labels := docker.ManagedLabels(i.runID)
	labels[docker.ServiceLabel] = svc.Name

	absDir, err := filepath.Abs(ws.Dir)
	if err != nil {
		return fmt.Errorf("resolving workspace path: %w", err)
	}

	spec := &docker.ContainerSpec{
		Name:        fmt.Sprintf("regressoor-%s-%s", i.runID, svc.Name),
		Image:       cc.Image,
		Entrypoint:  cc.Entrypoint,
		Command:     cc.Command,
		Env:         cc.Environment,
		NetworkName: i.cfg.Global.ContainerNetwork,
		Ports:       cc.Ports,
		Labels:      labels,
		MemoryBytes: memory,
		Mounts: []docker.Mount{
			{Source: absDir, Target: "/app", ReadOnly: false},
		},
	}

	id, err := i.docker.CreateContainer(ctx, spec)
	if err != nil {
		return err
	}

	i.containers = append(i.containers, id)

	return i.docker.StartContainer(ctx, id)
}

// waitReady polls each deployed service's health endpoint until it answers
// or the timeout lapses, then holds the settle delay. Failure here is a
// warning; the run proceeds and records the service as down.
func (i *isolator) waitReady(ctx context.Context, ws *Workspace, svcs []*config.ServiceConfig) {
	deadline := time.Now().Add(i.cfg.Isolation.ReadyTimeout)

	for _, svc := range svcs {
		if svc.HealthURL == "" {
			continue
		}

		if !i.pollHealth(ctx, svc.HealthURL, deadline) {
			ws.Warnings = append(ws.Warnings, &DeploymentStartWarning{
				Service: svc.Name,
				Cause:   fmt.Errorf("not ready within %s", i.cfg.Isolation.ReadyTimeout),
			})
			i.log.WithField("service", svc.Name).Warn("Service never became ready")
		}
	}

	select {
	case <-time.After(i.cfg.Isolation.ReadyWaitAfter):
	case <-ctx.Done():
	}
}

func (i *isolator) pollHealth(ctx context.Context, url string, deadline time.Time) bool {
	ticker := time.NewTicker(healthPollInterval)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return false
		}

		resp, err := i.client.Do(req)
		if err == nil {
			resp.Body.Close()

			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return true
			}
		}

		if time.Now().After(deadline) {
			return false
		}

		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func (i *isolator) Teardown(ctx context.Context) error {
	if i.docker != nil {
		containers, err := i.docker.ListContainers(ctx)
		if err != nil {
			i.log.WithError(err).Warn("Failed to list containers during teardown")
		}

		for _, c := range containers {
			// Current run's containers plus anything a crashed run left.
			if err := i.docker.RemoveContainer(ctx, c.ID); err != nil {
				i.log.WithError(err).WithField("container", c.Name).
					Warn("Failed to remove container")
			}
		}

		i.containers = nil

		// Best effort; the network may be shared or already gone.
		if err := i.docker.RemoveNetwork(ctx, i.cfg.Global.ContainerNetwork); err != nil {
			i.log.WithField("network", i.cfg.Global.ContainerNetwork).
				Debug("Network not removed during teardown")
		}
	}

	if err := i.removeWorkspace(ctx); err != nil {
		return fmt.Errorf("removing workspace: %w", err)
	}

	return nil
}

// removeWorkspace drops the checkout directory and its worktree
// registration. Missing state is not an error.
func (i *isolator) removeWorkspace(ctx context.Context) error {
	dir := i.cfg.Isolation.Workspace

	if _, err := os.Stat(dir); err == nil {
		if err := removeWorktree(ctx, i.cfg.Isolation.RepoPath, dir); err != nil {
			// Not a registered worktree, or git is unavailable. Fall
			// back to a plain removal.
			if err := os.RemoveAll(dir); err != nil {
				return err
			}
		}
	}

	pruneWorktrees(ctx, i.cfg.Isolation.RepoPath)

	return nil
}
