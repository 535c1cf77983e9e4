// Package config loads portal configuration from an optional YAML file,
// an optional .env file and the process environment, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/program_portal/internal/app/domain/principal"
	"github.com/R3E-Network/program_portal/pkg/logger"
)

// DefaultPath is read when PORTAL_CONFIG is unset.
const DefaultPath = "config/portal.yaml"

// Config is the full portal configuration.
type Config struct {
	Server      ServerConfig     `yaml:"server"`
	Database    DatabaseConfig   `yaml:"database"`
	Redis       RedisConfig      `yaml:"redis"`
	Auth        AuthConfig       `yaml:"auth"`
	Identifiers IdentifierConfig `yaml:"identifiers"`
	Integrity   IntegrityConfig  `yaml:"integrity"`
	Logging     LoggingConfig    `yaml:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"PORTAL_HTTP_ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"PORTAL_HTTP_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"PORTAL_HTTP_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"PORTAL_SHUTDOWN_TIMEOUT"`
	AllowedOrigins  string        `yaml:"allowed_origins" env:"PORTAL_CORS_ORIGINS"`
	AuditLog        string        `yaml:"audit_log" env:"PORTAL_AUDIT_LOG"`
}

// DatabaseConfig selects and tunes the store. Driver is "memory" or
// "postgres".
type DatabaseConfig struct {
	Driver          string        `yaml:"driver" env:"PORTAL_DB_DRIVER"`
	DSN             string        `yaml:"dsn" env:"DATABASE_URL"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"PORTAL_DB_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"PORTAL_DB_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"PORTAL_DB_CONN_MAX_LIFETIME"`
	MigrateOnStart  bool          `yaml:"migrate_on_start" env:"PORTAL_DB_MIGRATE"`
}

// RedisConfig enables the distributed identifier lock when Addr is set.
type RedisConfig struct {
	Addr      string `yaml:"addr" env:"REDIS_ADDR"`
	Password  string `yaml:"password" env:"REDIS_PASSWORD"`
	DB        int    `yaml:"db" env:"REDIS_DB"`
	Namespace string `yaml:"namespace" env:"REDIS_LOCK_NAMESPACE"`
}

// AuthConfig controls principal authentication and request throttling.
type AuthConfig struct {
	JWTSecret  string  `yaml:"jwt_secret" env:"PORTAL_JWT_SECRET"`
	Issuer     string  `yaml:"issuer" env:"PORTAL_JWT_ISSUER"`
	AdminRoles string  `yaml:"admin_roles" env:"PORTAL_ADMIN_ROLES"`
	RateLimit  float64 `yaml:"rate_limit" env:"PORTAL_RATE_LIMIT"`
	RateBurst  int     `yaml:"rate_burst" env:"PORTAL_RATE_BURST"`
}

// IdentifierConfig tunes identifier allocation.
type IdentifierConfig struct {
	MaxAttempts int `yaml:"max_attempts" env:"PORTAL_ALLOC_MAX_ATTEMPTS"`
}

// IntegrityConfig schedules the constraint scanner.
type IntegrityConfig struct {
	Enabled  bool   `yaml:"enabled" env:"PORTAL_INTEGRITY_ENABLED"`
	Schedule string `yaml:"schedule" env:"PORTAL_INTEGRITY_SCHEDULE"`
}

// LoggingConfig mirrors logger.LoggingConfig for file and env decoding.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "memory",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			MigrateOnStart:  true,
		},
		Redis: RedisConfig{Namespace: "portal:lock"},
		Auth: AuthConfig{
			Issuer:     "program-portal",
			AdminRoles: "super_admin,admin",
			RateLimit:  20,
			RateBurst:  40,
		},
		Identifiers: IdentifierConfig{MaxAttempts: 5},
		Integrity:   IntegrityConfig{Enabled: true, Schedule: "*/15 * * * *"},
		Logging:     LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration. An empty path falls back to PORTAL_CONFIG
// and then DefaultPath; a missing file is only an error when the path was
// given explicitly.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	explicit := path != ""
	if !explicit {
		if env := strings.TrimSpace(os.Getenv("PORTAL_CONFIG")); env != "" {
			path, explicit = env, true
		} else {
			path = DefaultPath
		}
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Database.Driver) {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Database.DSN) == "" {
			return errors.New("config: database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("config: unknown database driver %q", c.Database.Driver)
	}
	if c.Identifiers.MaxAttempts <= 0 {
		return errors.New("config: identifiers.max_attempts must be positive")
	}
	if c.Auth.RateLimit < 0 || c.Auth.RateBurst < 0 {
		return errors.New("config: auth rate limit must not be negative")
	}
	if len(c.AdminRoles()) == 0 {
		return errors.New("config: at least one admin role is required")
	}
	return nil
}

// AdminRoles parses the comma separated administrative role list.
func (c *Config) AdminRoles() []principal.Role {
	var roles []principal.Role
	for _, r := range strings.Split(c.Auth.AdminRoles, ",") {
		if r = strings.ToLower(strings.TrimSpace(r)); r != "" {
			roles = append(roles, principal.Role(r))
		}
	}
	return roles
}

// LoggerConfig converts the logging section for logger.New.
func (c *Config) LoggerConfig() logger.LoggingConfig {
	return logger.LoggingConfig{Level: c.Logging.Level, Format: c.Logging.Format}
}

// CORSOrigins parses the comma separated list of allowed browser origins.
func (c *Config) CORSOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.Server.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
