package config

import (
	"fmt"
	"time"
)

const (
	// DefaultAPIListen is the default API listen address.
	DefaultAPIListen = ":8090"

	// DefaultSessionTTL is how long API sessions stay valid.
	DefaultSessionTTL = 24 * time.Hour

	// DefaultIndexInterval is how often the indexer folds the history
	// document into the index database.
	DefaultIndexInterval = time.Minute

	// DefaultIndexConcurrency bounds concurrent index upserts.
	DefaultIndexConcurrency = 4
)

// APIConfig contains all API server configuration.
type APIConfig struct {
	Server   APIServerConfig    `yaml:"server" mapstructure:"server"`
	Auth     APIAuthConfig      `yaml:"auth" mapstructure:"auth"`
	Database APIDatabaseConfig  `yaml:"database" mapstructure:"database"`
	Indexing *APIIndexingConfig `yaml:"indexing,omitempty" mapstructure:"indexing"`
}

// APIServerConfig contains HTTP server settings.
type APIServerConfig struct {
	Listen      string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Enabled       bool          `yaml:"enabled" mapstructure:"enabled"`
	Auth          RateLimitTier `yaml:"auth,omitempty" mapstructure:"auth"`
	Public        RateLimitTier `yaml:"public,omitempty" mapstructure:"public"`
	Authenticated RateLimitTier `yaml:"authenticated,omitempty" mapstructure:"authenticated"`
}

// RateLimitTier defines request limits for a specific tier.
type RateLimitTier struct {
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// APIAuthConfig contains authentication settings.
type APIAuthConfig struct {
	SessionTTL    time.Duration   `yaml:"session_ttl" mapstructure:"session_ttl"`
	AnonymousRead bool            `yaml:"anonymous_read" mapstructure:"anonymous_read"`
	Basic         BasicAuthConfig `yaml:"basic,omitempty" mapstructure:"basic"`
}

// BasicAuthConfig configures username/password authentication.
type BasicAuthConfig struct {
	Enabled bool            `yaml:"enabled" mapstructure:"enabled"`
	Users   []BasicAuthUser `yaml:"users,omitempty" mapstructure:"users"`
}

// BasicAuthUser defines a basic auth user from config. Password is a bcrypt
// hash.
type BasicAuthUser struct {
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	Role     string `yaml:"role" mapstructure:"role"`
}

// APIIndexingConfig configures the background indexer that folds the
// history document into a queryable database.
type APIIndexingConfig struct {
	Enabled     bool          `yaml:"enabled" mapstructure:"enabled"`
	Interval    time.Duration `yaml:"interval,omitempty" mapstructure:"interval"`
	Concurrency int           `yaml:"concurrency,omitempty" mapstructure:"concurrency"`
}

// APIDatabaseConfig contains database connection settings.
type APIDatabaseConfig struct {
	Driver   string               `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

func (c *APIConfig) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultAPIListen
	}

	if c.Auth.SessionTTL == 0 {
		c.Auth.SessionTTL = DefaultSessionTTL
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}

	if c.Database.Driver == "sqlite" && c.Database.SQLite.Path == "" {
		c.Database.SQLite.Path = "./.regressoor/api.db"
	}

	if c.Indexing != nil {
		if c.Indexing.Interval == 0 {
			c.Indexing.Interval = DefaultIndexInterval
		}

		if c.Indexing.Concurrency == 0 {
			c.Indexing.Concurrency = DefaultIndexConcurrency
		}
	}
}

// Validate checks the API configuration for errors.
func (c *APIConfig) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.Database.Driver == "postgres" && c.Database.Postgres.Host == "" {
		return fmt.Errorf("postgres host is required")
	}

	if c.Auth.Basic.Enabled && len(c.Auth.Basic.Users) == 0 {
		return fmt.Errorf("basic auth enabled with no users")
	}

	for i, u := range c.Auth.Basic.Users {
		if u.Username == "" || u.Password == "" {
			return fmt.Errorf("basic auth user %d: username and password are required", i)
		}
	}

	return nil
}
