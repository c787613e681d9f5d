package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethpandaops/regressoor/pkg/config"
	"github.com/ethpandaops/regressoor/pkg/docker"
	"github.com/ethpandaops/regressoor/pkg/pipeline"
	"github.com/ethpandaops/regressoor/pkg/upload"
	"github.com/spf13/cobra"
)

var (
	runLabel   string
	runIsolate bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the test surface and record the outcome",
	Long: `Execute the configured test command against the services, score the
result, and fold it into the history document. With --isolate the
repository HEAD is checked out into a scratch workspace and the
services are deployed from it first.`,
	RunE: runRecord,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runLabel, "label", "",
		"label for this run (defaults to commit_<short-hash>)")
	runCmd.Flags().BoolVar(&runIsolate, "isolate", false,
		"run against an isolated checkout of HEAD")
}

func runRecord(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openHistory(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	mgr, stopMgr, err := containerManager(ctx, cfg, runIsolate)
	if err != nil {
		return err
	}
	defer stopMgr()

	uploader, err := buildUploader(ctx, cfg)
	if err != nil {
		return err
	}

	p := pipeline.New(log, cfg, store, mgr)

	rec, err := p.Run(ctx, runLabel, runIsolate)
	if err != nil {
		return err
	}

	fmt.Printf("%s: %d/%d passed (%.1f%%)\n",
		rec.Label, rec.Passed, rec.TotalTests, rec.ReliabilityScore)

	if uploader != nil {
		if err := uploader.UploadFile(ctx, store.Path()); err != nil {
			log.WithError(err).Warn("Failed to upload history")
		}
	}

	return nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	}()

	return ctx, cancel
}

// containerManager creates and starts a docker manager when the config
// deploys containers in isolation mode. A nil manager means deployment
// is skipped with a warning downstream.
func containerManager(
	ctx context.Context, cfg *config.Config, isolate bool,
) (docker.Manager, func(), error) {
	noop := func() {}

	if !isolate || !hasContainers(cfg) {
		return nil, noop, nil
	}

	mgr, err := docker.NewManager(log)
	if err != nil {
		return nil, noop, fmt.Errorf("creating container manager: %w", err)
	}

	if err := mgr.Start(ctx); err != nil {
		return nil, noop, fmt.Errorf("starting container manager: %w", err)
	}

	stop := func() {
		if err := mgr.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop container manager")
		}
	}

	return mgr, stop, nil
}

// hasContainers reports whether any service deploys a container.
func hasContainers(cfg *config.Config) bool {
	for i := range cfg.Services {
		if cfg.Services[i].Container != nil {
			return true
		}
	}

	return false
}

// buildUploader creates the S3 uploader when uploads are enabled and
// verifies connectivity up front.
func buildUploader(
	ctx context.Context, cfg *config.Config,
) (upload.Uploader, error) {
	if cfg.Upload == nil || !cfg.Upload.Enabled {
		return nil, nil
	}

	uploader, err := upload.NewS3Uploader(log, cfg.Upload)
	if err != nil {
		return nil, fmt.Errorf("creating S3 uploader: %w", err)
	}

	// Fail fast: verify S3 is reachable and writable before running.
	if err := uploader.Preflight(ctx); err != nil {
		return nil, fmt.Errorf("S3 upload preflight check failed: %w", err)
	}

	log.Info("S3 upload preflight check passed")

	return uploader, nil
}
