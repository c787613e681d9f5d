package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// Store is the persistent run history. Implementations keep the canonical
// history as a single JSON document; ordering on disk is never significant.
type Store interface {
	// Load reads the document from disk. A missing file yields an empty
	// history; unparseable content yields a *CorruptHistoryError.
	Load() error
	// Save writes the document atomically.
	Save() error
	// Append folds one record in under last-write-wins and persists.
	Append(rec *RunRecord) error
	// Merge folds a set of records in under last-write-wins and persists.
	// Merging is commutative and idempotent over the resulting label set.
	Merge(records []*RunRecord) error
	// Get returns the record for a label, or a *LabelNotFoundError
	// listing everything present.
	Get(label string) (*RunRecord, error)
	// Records returns all records ordered by execution timestamp.
	Records() []*RunRecord
	// Labels returns all labels ordered by execution timestamp.
	Labels() []string
	// Path returns the document location.
	Path() string
}

type store struct {
	log  logrus.FieldLogger
	path string

	mu      sync.Mutex
	records map[string]*RunRecord
}

var _ Store = (*store)(nil)

// NewStore creates a file-backed history store at path. Call Load before use.
func NewStore(log logrus.FieldLogger, path string) Store {
	return &store{
		log:     log.WithField("component", "history"),
		path:    path,
		records: make(map[string]*RunRecord),
	}
}

func (s *store) Path() string {
	return s.path
}

func (s *store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.records = make(map[string]*RunRecord)

			return nil
		}

		return fmt.Errorf("reading history document: %w", err)
	}

	var records []*RunRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return &CorruptHistoryError{Path: s.path, Err: err}
	}

	s.records = make(map[string]*RunRecord, len(records))

	for _, rec := range records {
		if rec.Label == "" {
			return &CorruptHistoryError{
				Path: s.path,
				Err:  fmt.Errorf("record with empty label"),
			}
		}

		s.fold(rec)
	}

	s.log.WithFields(logrus.Fields{
		"path":    s.path,
		"records": len(s.records),
	}).Debug("Loaded history")

	return nil
}

func (s *store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.save()
}

func (s *store) Append(rec *RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fold(rec) {
		s.log.WithFields(logrus.Fields{
			"label": rec.Label,
			"score": rec.ReliabilityScore,
		}).Info("Recorded run")
	} else {
		s.log.WithField("label", rec.Label).
			Warn("Discarded run older than the stored record for its label")
	}

	return s.save()
}

func (s *store) Merge(records []*RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		s.fold(rec)
	}

	return s.save()
}

func (s *store) Get(label string) (*RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[label]; ok {
		return rec, nil
	}

	avail := make([]LabelSummary, 0, len(s.records))

	for _, rec := range s.sorted() {
		avail = append(avail, LabelSummary{
			Label:              rec.Label,
			RevisionID:         rec.RevisionID,
			ExecutionTimestamp: rec.ExecutionTimestamp,
			ReliabilityScore:   rec.ReliabilityScore,
		})
	}

	return nil, &LabelNotFoundError{Label: label, Available: avail}
}

func (s *store) Records() []*RunRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sorted()
}

func (s *store) Labels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := s.sorted()
	labels := make([]string, 0, len(recs))

	for _, rec := range recs {
		labels = append(labels, rec.Label)
	}

	return labels
}

// fold applies last-write-wins for rec's label. Returns false when an
// existing record with a later timestamp kept its place.
func (s *store) fold(rec *RunRecord) bool {
	if existing, ok := s.records[rec.Label]; ok && !supersedes(rec, existing) {
		return false
	}

	s.records[rec.Label] = rec

	return true
}

func (s *store) sorted() []*RunRecord {
	recs := make([]*RunRecord, 0, len(s.records))
	for _, rec := range s.records {
		recs = append(recs, rec)
	}

	sort.Slice(recs, func(i, j int) bool {
		if recs[i].ExecutionTimestamp.Equal(recs[j].ExecutionTimestamp) {
			return recs[i].Label < recs[j].Label
		}

		return recs[i].ExecutionTimestamp.Before(recs[j].ExecutionTimestamp)
	})

	return recs
}

// save writes the sorted document via a temp file and rename so a crash
// never leaves a half-written history. Caller holds the lock.
func (s *store) save() error {
	data, err := json.MarshalIndent(s.sorted(), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding history: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating history directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".history-*.json")
	if err != nil {
		return fmt.Errorf("creating temp history file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return fmt.Errorf("writing history: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("closing temp history file: %w", err)
	}

	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("setting history permissions: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("replacing history document: %w", err)
	}

	return nil
}
