// Package compare implements the pure comparison engine between two run
// records: per-test transitions, aggregate deltas, and service availability
// transitions. Nothing here touches storage.
package compare

import (
	"sort"

	"github.com/ethpandaops/regressoor/pkg/history"
)

// Transition classifies one test's movement between two runs.
type Transition string

const (
	// TransitionFixed is non-passed in the old run, passed in the new.
	TransitionFixed Transition = "fixed"
	// TransitionRegressed is passed in the old run, non-passed in the new.
	TransitionRegressed Transition = "regressed"
	// TransitionStable is passed in both runs.
	TransitionStable Transition = "stable"
	// TransitionStillFailing is non-passed in both runs.
	TransitionStillFailing Transition = "still_failing"
)

// ServiceTransition classifies one service's availability movement.
type ServiceTransition string

const (
	ServiceRestored   ServiceTransition = "restored"
	ServiceDegraded   ServiceTransition = "degraded"
	ServiceStableUp   ServiceTransition = "stable_up"
	ServiceStableDown ServiceTransition = "stable_down"
)

// TestChange is one test's outcome in both runs. A test absent from a record
// carries OutcomeMissing, which never counts as passed.
type TestChange struct {
	Name       string          `json:"name"`
	OldOutcome history.Outcome `json:"old_outcome"`
	NewOutcome history.Outcome `json:"new_outcome"`
}

// ServiceChange is one service's availability in both runs. A service absent
// from a record carries StatusUnknown, which never counts as up.
type ServiceChange struct {
	Name       string                     `json:"name"`
	Old        history.AvailabilityStatus `json:"old"`
	New        history.AvailabilityStatus `json:"new"`
	Transition ServiceTransition          `json:"transition"`
}

// Result is a full comparison between two records. Every test name present
// in either record lands in exactly one of the four buckets; rows within
// each bucket are sorted by name.
type Result struct {
	OldLabel string `json:"old_label"`
	NewLabel string `json:"new_label"`

	Fixed        []TestChange `json:"fixed"`
	Regressed    []TestChange `json:"regressed"`
	Stable       []TestChange `json:"stable"`
	StillFailing []TestChange `json:"still_failing"`

	ScoreDelta   float64 `json:"score_delta"`
	TotalDelta   int     `json:"total_delta"`
	PassedDelta  int     `json:"passed_delta"`
	FailedDelta  int     `json:"failed_delta"`
	ErroredDelta int     `json:"errored_delta"`

	Services []ServiceChange `json:"services,omitempty"`
}

// HasRegressions reports whether any test regressed or any service went
// from up to down.
func (r *Result) HasRegressions() bool {
	if len(r.Regressed) > 0 {
		return true
	}

	for _, s := range r.Services {
		if s.Transition == ServiceDegraded {
			return true
		}
	}

	return false
}

// Compare evaluates newRec against oldRec. It is pure: the inputs are not
// modified and the same inputs always produce the same result, including
// ordering.
func Compare(oldRec, newRec *history.RunRecord) *Result {
	res := &Result{
		OldLabel:     oldRec.Label,
		NewLabel:     newRec.Label,
		ScoreDelta:   newRec.ReliabilityScore - oldRec.ReliabilityScore,
		TotalDelta:   newRec.TotalTests - oldRec.TotalTests,
		PassedDelta:  newRec.Passed - oldRec.Passed,
		FailedDelta:  newRec.Failed - oldRec.Failed,
		ErroredDelta: newRec.Errored - oldRec.Errored,
	}

	for _, name := range unionTestNames(oldRec, newRec) {
		change := TestChange{
			Name:       name,
			OldOutcome: oldRec.Outcome(name),
			NewOutcome: newRec.Outcome(name),
		}

		switch {
		case !change.OldOutcome.Passed() && change.NewOutcome.Passed():
			res.Fixed = append(res.Fixed, change)
		case change.OldOutcome.Passed() && !change.NewOutcome.Passed():
			res.Regressed = append(res.Regressed, change)
		case change.OldOutcome.Passed() && change.NewOutcome.Passed():
			res.Stable = append(res.Stable, change)
		default:
			res.StillFailing = append(res.StillFailing, change)
		}
	}

	res.Services = compareAvailability(oldRec.Availability, newRec.Availability)

	return res
}

func unionTestNames(oldRec, newRec *history.RunRecord) []string {
	seen := make(map[string]struct{}, len(oldRec.Tests)+len(newRec.Tests))

	for _, t := range oldRec.Tests {
		seen[t.Name] = struct{}{}
	}

	for _, t := range newRec.Tests {
		seen[t.Name] = struct{}{}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

func compareAvailability(oldAv, newAv history.ServiceAvailability) []ServiceChange {
	seen := make(map[string]struct{}, len(oldAv)+len(newAv))

	for name := range oldAv {
		seen[name] = struct{}{}
	}

	for name := range newAv {
		seen[name] = struct{}{}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}

	sort.Strings(names)

	changes := make([]ServiceChange, 0, len(names))

	for _, name := range names {
		change := ServiceChange{
			Name: name,
			Old:  statusOrUnknown(oldAv, name),
			New:  statusOrUnknown(newAv, name),
		}

		switch {
		case !change.Old.Up() && change.New.Up():
			change.Transition = ServiceRestored
		case change.Old.Up() && !change.New.Up():
			change.Transition = ServiceDegraded
		case change.Old.Up() && change.New.Up():
			change.Transition = ServiceStableUp
		default:
			change.Transition = ServiceStableDown
		}

		changes = append(changes, change)
	}

	return changes
}

func statusOrUnknown(av history.ServiceAvailability, name string) history.AvailabilityStatus {
	if av == nil {
		return history.StatusUnknown
	}

	if s, ok := av[name]; ok {
		return s
	}

	return history.StatusUnknown
}
