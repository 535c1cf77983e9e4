// Package runtime assembles a runnable portal from configuration and owns
// the resources it opens.
package runtime

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	app "github.com/R3E-Network/program_portal/internal/app"
	"github.com/R3E-Network/program_portal/internal/app/httpapi"
	"github.com/R3E-Network/program_portal/internal/app/services/identifiers"
	"github.com/R3E-Network/program_portal/internal/app/storage"
	"github.com/R3E-Network/program_portal/internal/app/storage/memory"
	"github.com/R3E-Network/program_portal/internal/app/storage/postgres"
	"github.com/R3E-Network/program_portal/internal/config"
	"github.com/R3E-Network/program_portal/internal/platform/migrations"
	"github.com/R3E-Network/program_portal/pkg/logger"
)

// minSigningKeyLen is the shortest accepted HS256 secret.
const minSigningKeyLen = 32

// Application wires core dependencies and manages the server lifecycle.
type Application struct {
	cfg    *config.Config
	log    *logger.Logger
	app    *app.Application
	server *httpapi.Server
	db     *sqlx.DB
	redis  *redis.Client
}

// NewApplication constructs a portal from cfg. Nothing listens until Run.
func NewApplication(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.New(cfg.LoggerConfig())
	}
	key, err := ParseSigningKey(cfg.Auth.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("auth.jwt_secret: %w", err)
	}

	a := &Application{cfg: cfg, log: log}
	repo, err := a.buildRepository(ctx)
	if err != nil {
		return nil, fmt.Errorf("configure store: %w", err)
	}
	locker, err := a.buildLocker(ctx)
	if err != nil {
		a.closeResources()
		return nil, fmt.Errorf("configure identifier lock: %w", err)
	}

	a.app, err = app.New(repo, app.Options{
		AdminRoles:        cfg.AdminRoles(),
		MaxAttempts:       cfg.Identifiers.MaxAttempts,
		Locker:            locker,
		IntegrityEnabled:  cfg.Integrity.Enabled,
		IntegritySchedule: cfg.Integrity.Schedule,
	}, log.Named("app"))
	if err != nil {
		a.closeResources()
		return nil, err
	}

	handler, err := httpapi.NewHandler(a.app, httpapi.Config{
		JWTSecret:      string(key),
		Issuer:         cfg.Auth.Issuer,
		RateLimit:      cfg.Auth.RateLimit,
		RateBurst:      cfg.Auth.RateBurst,
		AllowedOrigins: cfg.CORSOrigins(),
		AuditLogPath:   cfg.Server.AuditLog,
	}, log.Named("httpapi"))
	if err != nil {
		a.closeResources()
		return nil, err
	}
	a.server = httpapi.NewServer(handler, httpapi.ServerConfig{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, log.Named("http"))
	if err := a.app.Attach(a.server); err != nil {
		a.closeResources()
		return nil, err
	}
	return a, nil
}

// Portal exposes the composed services.
func (a *Application) Portal() *app.Application {
	return a.app
}

// Run starts every service and blocks until ctx is cancelled.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return err
	}
	a.log.WithField("services", a.app.Services()).Info("portal started")
	<-ctx.Done()
	return nil
}

// Shutdown stops services in reverse order and releases connections.
func (a *Application) Shutdown(ctx context.Context) error {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := a.app.Stop(shutdownCtx)
	a.closeResources()
	return err
}

func (a *Application) buildRepository(ctx context.Context) (storage.Repository, error) {
	repo, db, err := OpenRepository(ctx, a.cfg.Database, a.log)
	if err != nil {
		return nil, err
	}
	a.db = db
	return repo, nil
}

// OpenRepository opens the configured store. For the postgres driver it
// also returns the pool, which the caller must close, and applies pending
// migrations when MigrateOnStart is set.
func OpenRepository(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (storage.Repository, *sqlx.DB, error) {
	if strings.EqualFold(cfg.Driver, "memory") {
		log.Warn("using in-memory store; data is lost on restart")
		return memory.New(), nil, nil
	}

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if cfg.MigrateOnStart {
		if err := migrations.Up(db.DB); err != nil {
			db.Close()
			return nil, nil, err
		}
		log.Info("database migrations applied")
	}
	return postgres.New(db), db, nil
}

func (a *Application) buildLocker(ctx context.Context) (identifiers.Locker, error) {
	if a.cfg.Redis.Addr == "" {
		a.log.Info("redis not configured; identifier allocation locks are process-local")
		return identifiers.NewLocalLocker(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", a.cfg.Redis.Addr, err)
	}
	a.redis = client
	return identifiers.NewRedisLocker(client, a.cfg.Redis.Namespace), nil
}

func (a *Application) closeResources() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("error closing redis client")
		}
		a.redis = nil
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
		a.db = nil
	}
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// ParseSigningKey accepts a raw secret or one prefixed with "base64:" or
// "hex:".
func ParseSigningKey(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, errors.New("missing signing key")
	}

	var key []byte
	switch {
	case strings.HasPrefix(value, "base64:"):
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, "base64:"))
		if err != nil {
			return nil, fmt.Errorf("decode base64 signing key: %w", err)
		}
		key = decoded
	case strings.HasPrefix(value, "hex:"):
		decoded, err := hex.DecodeString(strings.TrimPrefix(value, "hex:"))
		if err != nil {
			return nil, fmt.Errorf("decode hex signing key: %w", err)
		}
		key = decoded
	default:
		key = []byte(value)
	}

	if len(key) < minSigningKeyLen {
		return nil, fmt.Errorf("signing key must be at least %d bytes, got %d", minSigningKeyLen, len(key))
	}
	return key, nil
}
