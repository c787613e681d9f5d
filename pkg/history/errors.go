package history

import (
	"fmt"
	"strings"
	"time"
)

// CorruptHistoryError indicates the history document exists but could not be
// parsed. A missing document is not corrupt; it is an empty history.
type CorruptHistoryError struct {
	Path string
	Err  error
}

func (e *CorruptHistoryError) Error() string {
	return fmt.Sprintf("corrupt history document %s: %v", e.Path, e.Err)
}

func (e *CorruptHistoryError) Unwrap() error {
	return e.Err
}

// LabelSummary is one line of the available-label listing carried by
// LabelNotFoundError.
type LabelSummary struct {
	Label              string
	RevisionID         string
	ExecutionTimestamp time.Time
	ReliabilityScore   float64
}

// LabelNotFoundError indicates a lookup for a label with no record. It
// carries every label present so callers can print the available set.
type LabelNotFoundError struct {
	Label     string
	Available []LabelSummary
}

func (e *LabelNotFoundError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("no record labeled %q (history is empty)", e.Label)
	}

	labels := make([]string, 0, len(e.Available))
	for _, s := range e.Available {
		labels = append(labels, s.Label)
	}

	return fmt.Sprintf(
		"no record labeled %q, available labels: %s",
		e.Label, strings.Join(labels, ", "),
	)
}
