package main

import (
	"fmt"
	"os"

	"github.com/ethpandaops/regressoor/pkg/pipeline"
	"github.com/ethpandaops/regressoor/pkg/trend"
	"github.com/spf13/cobra"
)

var (
	retrospectiveOldLabel string
	retrospectiveNewLabel string
)

var retrospectiveCmd = &cobra.Command{
	Use:   "retrospective <ref> [<ref>...]",
	Short: "Replay old revisions, run the live tree, and compare",
	Long: `Check out each ref into an isolated workspace, deploy the services
from it, run the current test surface, and record the outcome under the
ref name. Refs are replayed strictly in the order given, each with a
fresh deployment torn down before the next starts. The test surface then
runs once against the live tree (recorded as "current" unless
overridden) and the last replayed revision is compared against it,
followed by a trend summary over the whole history.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRetrospective,
}

func init() {
	rootCmd.AddCommand(retrospectiveCmd)

	retrospectiveCmd.Flags().StringVar(&retrospectiveOldLabel, "old-label", "",
		"label for the replayed revision (single ref only; defaults to the ref name)")
	retrospectiveCmd.Flags().StringVar(&retrospectiveNewLabel, "new-label",
		pipeline.DefaultCurrentLabel, "label for the closing live run")
}

func runRetrospective(cmd *cobra.Command, args []string) error {
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

	mgr, stopMgr, err := containerManager(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer stopMgr()

	p := pipeline.New(log, cfg, store, mgr)

	result, err := p.Retrospective(ctx, args, pipeline.RetrospectiveOptions{
		OldLabel: retrospectiveOldLabel,
		NewLabel: retrospectiveNewLabel,
	})
	if err != nil {
		return err
	}

	fmt.Printf("\nReplayed %d revisions\n\n", len(result.Replayed))

	trend.RenderComparison(os.Stdout, result.Comparison)
	fmt.Println()

	all := store.Records()

	if err := trend.RenderSummary(os.Stdout, trend.Summary(all)); err != nil {
		return fmt.Errorf("rendering summary: %w", err)
	}

	trend.RenderTrendVerdict(os.Stdout, all)

	return nil
}
