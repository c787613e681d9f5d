package indexstore

import "time"

// Run is a single indexed run record in the database. It denormalizes
// the fields the API queries on; the full per-test detail is kept as
// JSON so the run endpoint can serve it without re-reading the history
// file.
type Run struct {
	ID                 uint      `gorm:"primaryKey"`
	Label              string    `gorm:"not null;uniqueIndex"`
	RevisionID         string    `gorm:"index"`
	RevisionMessage    string
	RevisionTimestamp  time.Time
	ExecutionTimestamp time.Time `gorm:"index"`

	// Denormalized test stats.
	TotalTests       int
	Passed           int
	Failed           int
	Errored          int
	ReliabilityScore float64

	// Service availability and per-test outcomes serialized as JSON.
	AvailabilityJSON string `gorm:"type:text"`
	TestsJSON        string `gorm:"type:text"`

	IndexedAt time.Time
}
