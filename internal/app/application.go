package app

import (
	"context"
	"fmt"

	"github.com/R3E-Network/program_portal/internal/app/domain/principal"
	"github.com/R3E-Network/program_portal/internal/app/integrity"
	"github.com/R3E-Network/program_portal/internal/app/services/applications"
	"github.com/R3E-Network/program_portal/internal/app/services/archives"
	"github.com/R3E-Network/program_portal/internal/app/services/ghosts"
	"github.com/R3E-Network/program_portal/internal/app/services/identifiers"
	"github.com/R3E-Network/program_portal/internal/app/services/organizations"
	"github.com/R3E-Network/program_portal/internal/app/services/permissions"
	"github.com/R3E-Network/program_portal/internal/app/services/status"
	"github.com/R3E-Network/program_portal/internal/app/services/submissions"
	"github.com/R3E-Network/program_portal/internal/app/storage"
	"github.com/R3E-Network/program_portal/internal/app/storage/memory"
	"github.com/R3E-Network/program_portal/internal/app/system"
	"github.com/R3E-Network/program_portal/pkg/logger"
)

// Options tunes how the application is composed. The zero value is usable.
type Options struct {
	// AdminRoles defaults to super_admin and admin.
	AdminRoles []principal.Role
	// MaxAttempts bounds identifier allocation retries.
	MaxAttempts int
	// Locker serialises allocation per identifier prefix. Defaults to an
	// in-process lock, which is only correct for a single replica.
	Locker identifiers.Locker
	// IntegrityEnabled schedules the constraint scanner.
	IntegrityEnabled  bool
	IntegritySchedule string
}

// Application ties the portal services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Repository    storage.Repository
	Gate          *permissions.Gate
	Ghosts        *ghosts.Ledger
	Identifiers   *identifiers.Allocator
	Status        *status.Engine
	Organizations *organizations.Service
	Applications  *applications.Service
	Submissions   *submissions.Service
	Archive       *archives.Manager
	Integrity     *integrity.Scanner
}

// New builds a fully initialised application. A nil repository defaults to
// the in-memory store.
func New(repo storage.Repository, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if repo == nil {
		repo = memory.New()
	}

	gate := permissions.New(opts.AdminRoles...)
	ledger := ghosts.New(repo, gate, log.Named("ghosts"))
	alloc := identifiers.New(repo, repo, ledger, identifiers.Options{
		Locker:      opts.Locker,
		MaxAttempts: opts.MaxAttempts,
	}, log.Named("identifiers"))
	engine := status.New(repo)
	archive := archives.New(repo, ledger, gate, log.Named("archive"))

	scanner, err := integrity.NewScanner(archive, opts.IntegritySchedule, log.Named("integrity"))
	if err != nil {
		return nil, fmt.Errorf("configure integrity scanner: %w", err)
	}

	manager := system.NewManager()
	for _, name := range []string{"organizations", "applications", "submissions", "archive"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}
	if opts.IntegrityEnabled {
		if err := manager.Register(scanner); err != nil {
			return nil, fmt.Errorf("register %s: %w", scanner.Name(), err)
		}
	} else {
		log.Warn("integrity scanner disabled; constraint issues are only computed on request")
	}

	return &Application{
		manager:       manager,
		log:           log,
		Repository:    repo,
		Gate:          gate,
		Ghosts:        ledger,
		Identifiers:   alloc,
		Status:        engine,
		Organizations: organizations.New(repo, alloc, gate, log.Named("organizations")),
		Applications:  applications.New(repo, alloc, engine, gate, log.Named("applications")),
		Submissions:   submissions.New(repo, gate, log.Named("submissions")),
		Archive:       archive,
		Integrity:     scanner,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Services lists registered lifecycle services in start order.
func (a *Application) Services() []string {
	return a.manager.Services()
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
