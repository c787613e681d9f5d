package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethpandaops/regressoor/pkg/config"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store provides persistence for users and sessions.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	SeedUsers(ctx context.Context, users []config.BasicAuthUser) error
	GetUserByID(ctx context.Context, id uint) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	CreateSession(ctx context.Context, session *Session) error
	GetSessionByToken(ctx context.Context, token string) (*Session, error)
	UpdateSessionLastActive(ctx context.Context, id uint, ts time.Time) error
	DeleteSession(ctx context.Context, token string) error
	DeleteExpiredSessions(ctx context.Context) error
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.APIDatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.APIDatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "api_store"),
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
		return fmt.Errorf("opening database: %w", err)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(
		&User{},
		&Session{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

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

// SeedUsers creates or updates users defined in the config file. Passwords
// may be given as bcrypt hashes or plaintext; plaintext values are hashed
// before storage.
func (s *store) SeedUsers(
	ctx context.Context, users []config.BasicAuthUser,
) error {
	for _, u := range users {
		hash := u.Password
		if !isBcryptHash(hash) {
			hashed, err := bcrypt.GenerateFromPassword(
				[]byte(u.Password), bcrypt.DefaultCost,
			)
			if err != nil {
				return fmt.Errorf(
					"hashing password for %s: %w", u.Username, err,
				)
			}

			hash = string(hashed)
		}

		role := u.Role
		if role == "" {
			role = RoleViewer
		}

		var existing User

		err := s.db.WithContext(ctx).
			Where("username = ?", u.Username).
			First(&existing).Error

		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			user := &User{
				Username:     u.Username,
				PasswordHash: hash,
				Role:         role,
			}

			if err := s.db.WithContext(ctx).
				Create(user).Error; err != nil {
				return fmt.Errorf(
					"creating user %s: %w", u.Username, err,
				)
			}
		case err != nil:
			return fmt.Errorf("looking up user %s: %w", u.Username, err)
		default:
			existing.PasswordHash = hash
			existing.Role = role

			if err := s.db.WithContext(ctx).
				Save(&existing).Error; err != nil {
				return fmt.Errorf(
					"updating user %s: %w", u.Username, err,
				)
			}
		}
	}

	s.log.WithField("count", len(users)).Debug("Seeded users")

	return nil
}

// GetUserByID returns the user with the given ID.
func (s *store) GetUserByID(ctx context.Context, id uint) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).
		First(&user, id).Error; err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}

	return &user, nil
}

// GetUserByUsername returns the user with the given username.
func (s *store) GetUserByUsername(
	ctx context.Context, username string,
) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).
		Where("username = ?", username).
		First(&user).Error; err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}

	return &user, nil
}

// CreateSession persists a new session.
func (s *store) CreateSession(
	ctx context.Context, session *Session,
) error {
	if err := s.db.WithContext(ctx).
		Create(session).Error; err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	return nil
}

// GetSessionByToken returns the session for the given token.
func (s *store) GetSessionByToken(
	ctx context.Context, token string,
) (*Session, error) {
	var session Session
	if err := s.db.WithContext(ctx).
		Where("token = ?", token).
		First(&session).Error; err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}

	return &session, nil
}

// UpdateSessionLastActive stamps the session's last activity time.
func (s *store) UpdateSessionLastActive(
	ctx context.Context, id uint, ts time.Time,
) error {
	if err := s.db.WithContext(ctx).
		Model(&Session{}).
		Where("id = ?", id).
		Update("last_active_at", ts).Error; err != nil {
		return fmt.Errorf("updating session: %w", err)
	}

	return nil
}

// DeleteSession removes the session with the given token.
func (s *store) DeleteSession(ctx context.Context, token string) error {
	if err := s.db.WithContext(ctx).
		Where("token = ?", token).
		Delete(&Session{}).Error; err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}

	return nil
}

// DeleteExpiredSessions removes all sessions past their expiry time.
func (s *store) DeleteExpiredSessions(ctx context.Context) error {
	if err := s.db.WithContext(ctx).
		Where("expires_at < ?", time.Now().UTC()).
		Delete(&Session{}).Error; err != nil {
		return fmt.Errorf("deleting expired sessions: %w", err)
	}

	return nil
}

// isBcryptHash reports whether v looks like a bcrypt hash.
func isBcryptHash(v string) bool {
	return len(v) == 60 &&
		(strings.HasPrefix(v, "$2a$") ||
			strings.HasPrefix(v, "$2b$") ||
			strings.HasPrefix(v, "$2y$"))
}
