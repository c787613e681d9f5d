package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ethpandaops/regressoor/pkg/docker"
	"github.com/spf13/cobra"
)

var forceCleanup bool

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove dangling regressoor containers, networks, and workspaces",
	Long: `Remove all containers, the container network, and the workspace
directory created by regressoor. This is useful for cleaning up after
interrupted runs.`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVarP(&forceCleanup, "force", "f", false,
		"Skip confirmation prompt")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()

	mgr, err := docker.NewManager(log)
	if err != nil {
		return fmt.Errorf("creating container manager: %w", err)
	}

	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("starting container manager: %w", err)
	}

	defer func() {
		if err := mgr.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop container manager")
		}
	}()

	containers, err := mgr.ListContainers(ctx)
	if err != nil {
		return fmt.Errorf("listing containers: %w", err)
	}

	workspace := cfg.Isolation.Workspace

	_, wsErr := os.Stat(workspace)
	haveWorkspace := wsErr == nil

	if len(containers) == 0 && !haveWorkspace {
		log.Info("No regressoor resources found")

		return nil
	}

	if len(containers) > 0 {
		fmt.Printf("\nContainers to be removed (%d):\n", len(containers))

		for _, c := range containers {
			id := c.ID
			if len(id) > 12 {
				id = id[:12]
			}

			fmt.Printf("  - %s (%s)\n", c.Name, id)
		}
	}

	if haveWorkspace {
		fmt.Printf("\nWorkspace to be removed:\n  - %s\n", workspace)
	}

	fmt.Println()

	if !forceCleanup {
		fmt.Print("Are you sure you want to remove these resources? [y/N] ")

		reader := bufio.NewReader(os.Stdin)

		answer, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("reading confirmation: %w", err)
		}

		answer = strings.ToLower(strings.TrimSpace(answer))
		if answer != "y" && answer != "yes" {
			log.Info("Cleanup aborted")

			return nil
		}
	}

	for _, c := range containers {
		if err := mgr.RemoveContainer(ctx, c.ID); err != nil {
			log.WithError(err).WithField("container", c.Name).
				Warn("Failed to remove container")

			continue
		}

		log.WithField("container", c.Name).Info("Removed container")
	}

	if err := mgr.RemoveNetwork(ctx, cfg.Global.ContainerNetwork); err != nil {
		log.WithError(err).Debug("Network removal skipped")
	}

	if haveWorkspace {
		if err := os.RemoveAll(workspace); err != nil {
			return fmt.Errorf("removing workspace: %w", err)
		}

		log.WithField("path", workspace).Info("Removed workspace")
	}

	log.Info("Cleanup completed")

	return nil
}
