package recorder

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethpandaops/regressoor/pkg/history"
)

// report is the JSON document the test command writes, in the shape of
// pytest-json-report: a summary block plus one entry per test.
type report struct {
	Summary reportSummary `json:"summary"`
	Tests   []reportTest  `json:"tests"`
}

type reportSummary struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`
	Error  int `json:"error"`
}

type reportTest struct {
	NodeID   string        `json:"nodeid"`
	Outcome  string        `json:"outcome"`
	Duration float64       `json:"duration"`
	Call     *reportsStage `json:"call,omitempty"`
}

type reportsStage struct {
	Longrepr string `json:"longrepr,omitempty"`
}

// parseReport reads the test report and converts it into outcomes. Counts
// are derived from the test entries; the summary block is only trusted when
// the report carries no per-test detail.
func parseReport(path string) ([]history.TestOutcome, reportSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, reportSummary{}, fmt.Errorf("reading test report: %w", err)
	}

	var rep report
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, reportSummary{}, fmt.Errorf("parsing test report: %w", err)
	}

	outcomes := make([]history.TestOutcome, 0, len(rep.Tests))
	counts := reportSummary{}

	for _, t := range rep.Tests {
		outcome := mapOutcome(t.Outcome)

		switch outcome {
		case history.OutcomePassed:
			counts.Passed++
		case history.OutcomeError:
			counts.Error++
		default:
			counts.Failed++
		}

		counts.Total++

		to := history.TestOutcome{
			Name:     t.NodeID,
			Outcome:  outcome,
			Duration: t.Duration,
		}

		// Detail carries the failure text only for non-passing outcomes; a
		// passed test keeps no error payload.
		if t.Call != nil && outcome != history.OutcomePassed {
			to.Detail = t.Call.Longrepr
		}

		outcomes = append(outcomes, to)
	}

	if len(outcomes) == 0 {
		counts = rep.Summary
		counts.Total = rep.Summary.Total
	}

	return outcomes, counts, nil
}

// mapOutcome folds pytest outcome strings into ours. Errored setups and
// teardowns count as errors; anything else non-passing is a failure.
func mapOutcome(outcome string) history.Outcome {
	switch outcome {
	case "passed", "xpassed":
		return history.OutcomePassed
	case "error":
		return history.OutcomeError
	default:
		return history.OutcomeFailed
	}
}
