package indexstore

import (
	"context"
	"fmt"

	"github.com/ethpandaops/regressoor/pkg/config"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store provides persistence for the indexed run data.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	UpsertRun(ctx context.Context, run *Run) error
	GetRunByLabel(ctx context.Context, label string) (*Run, error)
	ListRuns(ctx context.Context) ([]Run, error)
	ListLabels(ctx context.Context) ([]string, error)
	DeleteRunsNotIn(ctx context.Context, labels []string) error
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.APIDatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new index Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.APIDatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "indexstore"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening index database: %w", err)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(&Run{}); err != nil {
		return fmt.Errorf("running index migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).
		Info("Index database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// UpsertRun inserts or updates a run record keyed by label.
func (s *store) UpsertRun(ctx context.Context, run *Run) error {
	result := s.db.WithContext(ctx).
		Where("label = ?", run.Label).
		Assign(run).
		FirstOrCreate(run)
	if result.Error != nil {
		return fmt.Errorf("upserting run: %w", result.Error)
	}

	return nil
}

// GetRunByLabel returns the run with the given label.
func (s *store) GetRunByLabel(
	ctx context.Context, label string,
) (*Run, error) {
	var run Run
	if err := s.db.WithContext(ctx).
		Where("label = ?", label).
		First(&run).Error; err != nil {
		return nil, fmt.Errorf("getting run: %w", err)
	}

	return &run, nil
}

// ListRuns returns all runs ordered by execution timestamp.
func (s *store) ListRuns(ctx context.Context) ([]Run, error) {
	var runs []Run
	if err := s.db.WithContext(ctx).
		Order("execution_timestamp ASC").
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	return runs, nil
}

// ListLabels returns just the labels of all indexed runs.
func (s *store) ListLabels(ctx context.Context) ([]string, error) {
	var labels []string
	if err := s.db.WithContext(ctx).
		Model(&Run{}).
		Order("execution_timestamp ASC").
		Pluck("label", &labels).Error; err != nil {
		return nil, fmt.Errorf("listing labels: %w", err)
	}

	return labels, nil
}

// DeleteRunsNotIn removes indexed runs whose label is no longer present
// in the history file, keeping the index an exact mirror.
func (s *store) DeleteRunsNotIn(
	ctx context.Context, labels []string,
) error {
	if len(labels) == 0 {
		if err := s.db.WithContext(ctx).
			Where("1 = 1").
			Delete(&Run{}).Error; err != nil {
			return fmt.Errorf("clearing runs: %w", err)
		}

		return nil
	}

	if err := s.db.WithContext(ctx).
		Where("label NOT IN ?", labels).
		Delete(&Run{}).Error; err != nil {
		return fmt.Errorf("pruning runs: %w", err)
	}

	return nil
}
