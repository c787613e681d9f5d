// Package history defines the persistent run history: labeled run records
// with per-test outcomes and service availability, stored as a single JSON
// document.
package history

import (
	"time"
)

// Outcome is the result of a single test within a run.
type Outcome string

const (
	OutcomePassed Outcome = "passed"
	OutcomeFailed Outcome = "failed"
	OutcomeError  Outcome = "error"
	// OutcomeMissing marks a test absent from a record when comparing
	// across runs. It is never persisted.
	OutcomeMissing Outcome = "missing"
)

// Passed reports whether the outcome counts as a pass. Errored and missing
// tests never do.
func (o Outcome) Passed() bool {
	return o == OutcomePassed
}

// AvailabilityStatus is the probed state of a single service.
type AvailabilityStatus string

const (
	StatusUp      AvailabilityStatus = "up"
	StatusDown    AvailabilityStatus = "down"
	StatusUnknown AvailabilityStatus = "unknown"
)

// Up reports whether the service answered its health probe.
func (s AvailabilityStatus) Up() bool {
	return s == StatusUp
}

// TestOutcome is one test's result within a run.
type TestOutcome struct {
	Name     string  `json:"name"`
	Outcome  Outcome `json:"outcome"`
	Duration float64 `json:"duration,omitempty"`
	Detail   string  `json:"detail,omitempty"`
}

// ServiceAvailability maps service name to its probed status.
type ServiceAvailability map[string]AvailabilityStatus

// SystemInfo captures the host a run executed on.
type SystemInfo struct {
	Hostname      string  `json:"hostname,omitempty"`
	OS            string  `json:"os,omitempty"`
	Platform      string  `json:"platform,omitempty"`
	KernelVersion string  `json:"kernel_version,omitempty"`
	CPUModel      string  `json:"cpu_model,omitempty"`
	CPUCores      int     `json:"cpu_cores,omitempty"`
	MemoryGB      float64 `json:"memory_gb,omitempty"`
}

// RunRecord is one labeled execution of the test surface against a revision.
// Label is the sole dedup key within a history document; when two records
// share a label, the one with the later ExecutionTimestamp wins.
type RunRecord struct {
	Label              string              `json:"label"`
	RevisionID         string              `json:"revision_id"`
	RevisionMessage    string              `json:"revision_message,omitempty"`
	RevisionTimestamp  time.Time           `json:"revision_timestamp,omitempty"`
	ExecutionTimestamp time.Time           `json:"execution_timestamp"`
	Availability       ServiceAvailability `json:"availability,omitempty"`
	TotalTests         int                 `json:"total_tests"`
	Passed             int                 `json:"passed"`
	Failed             int                 `json:"failed"`
	Errored            int                 `json:"errored"`
	ReliabilityScore   float64             `json:"reliability_score"`
	Tests              []TestOutcome       `json:"tests,omitempty"`
	System             *SystemInfo         `json:"system,omitempty"`
}

// Score computes the reliability score as a percentage of passed tests.
// A run with no tests scores zero, not NaN.
func Score(passed, total int) float64 {
	if total == 0 {
		return 0
	}

	return float64(passed) / float64(total) * 100
}

// Outcome returns the recorded outcome for a test name, or OutcomeMissing
// when the record does not contain the test.
func (r *RunRecord) Outcome(name string) Outcome {
	for _, t := range r.Tests {
		if t.Name == name {
			return t.Outcome
		}
	}

	return OutcomeMissing
}

// ServicesUp counts services probed as up.
func (r *RunRecord) ServicesUp() int {
	n := 0

	for _, s := range r.Availability {
		if s.Up() {
			n++
		}
	}

	return n
}

// supersedes reports whether rec should replace existing under the
// last-write-wins rule. Equal timestamps favour the incoming record so that
// re-appending a record is a no-op in effect.
func supersedes(rec, existing *RunRecord) bool {
	return !rec.ExecutionTimestamp.Before(existing.ExecutionTimestamp)
}
