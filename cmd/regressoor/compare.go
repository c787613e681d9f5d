package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/ethpandaops/regressoor/pkg/compare"
	"github.com/ethpandaops/regressoor/pkg/history"
	"github.com/ethpandaops/regressoor/pkg/trend"
	"github.com/spf13/cobra"
)

var failOnRegression bool

var compareCmd = &cobra.Command{
	Use:   "compare <baseline> <current>",
	Short: "Compare two recorded runs",
	Long: `Compare the recorded runs for two labels and report fixed,
regressed, stable, and still-failing tests along with service
availability transitions. With --fail-on-regression the exit code is 2
when any test regressed or a service degraded.`,
	Args: cobra.ExactArgs(2),
	RunE: runCompare,
}

func init() {
	rootCmd.AddCommand(compareCmd)
	compareCmd.Flags().BoolVar(&failOnRegression, "fail-on-regression", false,
		"exit with code 2 when regressions are found")
}

func runCompare(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openHistory(cfg)
	if err != nil {
		return err
	}

	baseline, err := store.Get(args[0])
	if err != nil {
		return describeLookupError(err)
	}

	current, err := store.Get(args[1])
	if err != nil {
		return describeLookupError(err)
	}

	result := compare.Compare(baseline, current)

	trend.RenderComparison(os.Stdout, result)

	if failOnRegression && result.HasRegressions() {
		os.Exit(2)
	}

	return nil
}

// describeLookupError prints the available labels when a lookup fails so
// the caller can pick a valid one, then returns the original error.
func describeLookupError(err error) error {
	var notFound *history.LabelNotFoundError
	if !errors.As(err, &notFound) {
		return err
	}

	if len(notFound.Available) == 0 {
		return fmt.Errorf("run %q not found: history is empty", notFound.Label)
	}

	fmt.Fprintf(os.Stderr, "Run %q not found. Available runs:\n\n", notFound.Label)

	w := tabwriter.NewWriter(os.Stderr, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "LABEL\tREVISION\tRECORDED\tSCORE")

	for _, l := range notFound.Available {
		rev := l.RevisionID
		if len(rev) > 8 {
			rev = rev[:8]
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%.1f%%\n",
			l.Label,
			rev,
			l.ExecutionTimestamp.Format(time.RFC3339),
			l.ReliabilityScore,
		)
	}

	if werr := w.Flush(); werr != nil {
		return werr
	}

	fmt.Fprintln(os.Stderr)

	return fmt.Errorf("run %q not found", notFound.Label)
}
