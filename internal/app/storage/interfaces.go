package storage

import (
	"context"
	"errors"
	"time"

	"github.com/R3E-Network/program_portal/internal/app/domain/application"
	"github.com/R3E-Network/program_portal/internal/app/domain/archive"
	"github.com/R3E-Network/program_portal/internal/app/domain/ghost"
	"github.com/R3E-Network/program_portal/internal/app/domain/organization"
	"github.com/R3E-Network/program_portal/internal/app/domain/submission"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrDuplicate is returned when a write violates a uniqueness constraint.
	ErrDuplicate = errors.New("storage: duplicate key")
)

// CompanyStore persists companies.
type CompanyStore interface {
	CreateCompany(ctx context.Context, c organization.Company) (organization.Company, error)
	GetCompany(ctx context.Context, id int64) (organization.Company, error)
	ListCompanies(ctx context.Context) ([]organization.Company, error)
	CompanyCodeExists(ctx context.Context, code string) (bool, error)
	DeleteCompany(ctx context.Context, id int64) error
}

// FacilityStore persists facilities.
type FacilityStore interface {
	CreateFacility(ctx context.Context, f organization.Facility) (organization.Facility, error)
	GetFacility(ctx context.Context, id int64) (organization.Facility, error)
	// ListFacilities returns facilities of a company; companyID 0 lists all.
	ListFacilities(ctx context.Context, companyID int64) ([]organization.Facility, error)
	DeleteFacility(ctx context.Context, id int64) error
}

// ApplicationStore persists applications. Identifiers are unique across all
// rows, archived or not.
type ApplicationStore interface {
	CreateApplication(ctx context.Context, app application.Application) (application.Application, error)
	UpdateApplication(ctx context.Context, app application.Application) (application.Application, error)
	GetApplication(ctx context.Context, id int64) (application.Application, error)
	GetApplicationByIdentifier(ctx context.Context, identifier string) (application.Application, error)
	ListApplications(ctx context.Context, filter application.Filter) ([]application.Application, error)
	ListIdentifiersWithPrefix(ctx context.Context, prefix string) ([]string, error)
	DeleteApplication(ctx context.Context, id int64) error
}

// SubmissionStore persists activity submissions.
type SubmissionStore interface {
	CreateSubmission(ctx context.Context, sub submission.Submission) (submission.Submission, error)
	UpdateSubmission(ctx context.Context, sub submission.Submission) (submission.Submission, error)
	GetSubmission(ctx context.Context, id int64) (submission.Submission, error)
	// ListSubmissions returns submissions of an application ordered by id;
	// applicationID 0 lists all.
	ListSubmissions(ctx context.Context, applicationID int64) ([]submission.Submission, error)
	DeleteSubmission(ctx context.Context, id int64) error
}

// GhostStore persists retired application identifiers.
type GhostStore interface {
	// RecordGhost inserts the entry, or re-opens it if it was cleared. It
	// reports whether anything changed.
	RecordGhost(ctx context.Context, entry ghost.Entry) (bool, error)
	// ClearGhosts marks open entries cleared and returns how many changed.
	ClearGhosts(ctx context.Context, identifiers []string, actor string, at time.Time) (int, error)
	GetGhost(ctx context.Context, identifier string) (ghost.Entry, error)
	ListGhosts(ctx context.Context, includeCleared bool) ([]ghost.Entry, error)
	ListOpenGhostsWithPrefix(ctx context.Context, prefix string) ([]string, error)
}

// ArchiveStore persists archive records.
type ArchiveStore interface {
	// CreateArchiveRecord returns ErrDuplicate if the entity already has an
	// open record.
	CreateArchiveRecord(ctx context.Context, rec archive.Record) (archive.Record, error)
	GetOpenArchiveRecord(ctx context.Context, ref archive.Ref) (archive.Record, error)
	// ListOpenArchiveRecords lists unrestored records; an empty type lists all.
	ListOpenArchiveRecords(ctx context.Context, entityType archive.EntityType) ([]archive.Record, error)
	RestoreArchiveRecord(ctx context.Context, id string, at time.Time) (archive.Record, error)
	DeleteArchiveRecords(ctx context.Context, ref archive.Ref) error
}

// Repository groups every store behind one handle.
type Repository interface {
	CompanyStore
	FacilityStore
	ApplicationStore
	SubmissionStore
	GhostStore
	ArchiveStore

	// InTx runs fn against a transactional view of the repository. Writes made
	// through tx become visible only if fn returns nil; otherwise none of them
	// do. Calling InTx on a transactional view runs fn in the same transaction.
	InTx(ctx context.Context, fn func(tx Repository) error) error
}
