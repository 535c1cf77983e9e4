package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/R3E-Network/program_portal/internal/app/domain/application"
	"github.com/R3E-Network/program_portal/internal/app/domain/archive"
	"github.com/R3E-Network/program_portal/internal/app/domain/ghost"
	"github.com/R3E-Network/program_portal/internal/app/domain/organization"
	"github.com/R3E-Network/program_portal/internal/app/domain/submission"
	"github.com/R3E-Network/program_portal/internal/app/storage"
)

const uniqueViolation = "23505"

// Store implements storage.Repository backed by PostgreSQL.
type Store struct {
	db   *sqlx.DB
	q    sqlx.ExtContext
	inTx bool
}

var _ storage.Repository = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db, q: db}
}

// InTx implements storage.Repository.
func (s *Store) InTx(ctx context.Context, fn func(tx storage.Repository) error) error {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&Store{db: s.db, q: tx, inTx: true}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// --- CompanyStore -----------------------------------------------------------

func (s *Store) CreateCompany(ctx context.Context, c organization.Company) (organization.Company, error) {
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	err := sqlx.GetContext(ctx, s.q, &c.ID, `
		INSERT INTO companies (name, code, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, c.Name, c.Code, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return organization.Company{}, mapError(err)
	}
	return c, nil
}

func (s *Store) GetCompany(ctx context.Context, id int64) (organization.Company, error) {
	var c organization.Company
	err := sqlx.GetContext(ctx, s.q, &c, `
		SELECT id, name, code, created_at, updated_at
		FROM companies
		WHERE id = $1
	`, id)
	if err != nil {
		return organization.Company{}, mapError(err)
	}
	return c, nil
}

func (s *Store) ListCompanies(ctx context.Context) ([]organization.Company, error) {
	var result []organization.Company
	err := sqlx.SelectContext(ctx, s.q, &result, `
		SELECT id, name, code, created_at, updated_at
		FROM companies
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CompanyCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, s.q, &exists, `
		SELECT EXISTS (SELECT 1 FROM companies WHERE code = $1)
	`, code)
	return exists, err
}

func (s *Store) DeleteCompany(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, `DELETE FROM companies WHERE id = $1`, id)
}

// --- FacilityStore ----------------------------------------------------------

func (s *Store) CreateFacility(ctx context.Context, f organization.Facility) (organization.Facility, error) {
	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now

	err := sqlx.GetContext(ctx, s.q, &f.ID, `
		INSERT INTO facilities (company_id, name, sequence, code, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, f.CompanyID, f.Name, f.Sequence, f.Code, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		return organization.Facility{}, mapError(err)
	}
	return f, nil
}

func (s *Store) GetFacility(ctx context.Context, id int64) (organization.Facility, error) {
	var f organization.Facility
	err := sqlx.GetContext(ctx, s.q, &f, `
		SELECT id, company_id, name, sequence, code, created_at, updated_at
		FROM facilities
		WHERE id = $1
	`, id)
	if err != nil {
		return organization.Facility{}, mapError(err)
	}
	return f, nil
}

func (s *Store) ListFacilities(ctx context.Context, companyID int64) ([]organization.Facility, error) {
	var result []organization.Facility
	err := sqlx.SelectContext(ctx, s.q, &result, `
		SELECT id, company_id, name, sequence, code, created_at, updated_at
		FROM facilities
		WHERE $1 = 0 OR company_id = $1
		ORDER BY id
	`, companyID)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) DeleteFacility(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, `DELETE FROM facilities WHERE id = $1`, id)
}

// --- ApplicationStore -------------------------------------------------------

const applicationColumns = `id, identifier, company_id, facility_id, activity_type, phase, status, created_by, created_at, updated_at`

func (s *Store) CreateApplication(ctx context.Context, app application.Application) (application.Application, error) {
	now := time.Now().UTC()
	app.CreatedAt = now
	app.UpdatedAt = now

	err := sqlx.GetContext(ctx, s.q, &app.ID, `
		INSERT INTO applications (identifier, company_id, facility_id, activity_type, phase, status, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, app.Identifier, app.CompanyID, app.FacilityID, app.ActivityType, app.Phase, app.Status, app.CreatedBy, app.CreatedAt, app.UpdatedAt)
	if err != nil {
		return application.Application{}, mapError(err)
	}
	return app, nil
}

func (s *Store) UpdateApplication(ctx context.Context, app application.Application) (application.Application, error) {
	existing, err := s.GetApplication(ctx, app.ID)
	if err != nil {
		return application.Application{}, err
	}
	app.Identifier = existing.Identifier
	app.CompanyID = existing.CompanyID
	app.FacilityID = existing.FacilityID
	app.CreatedBy = existing.CreatedBy
	app.CreatedAt = existing.CreatedAt
	app.UpdatedAt = time.Now().UTC()

	result, err := s.q.ExecContext(ctx, `
		UPDATE applications
		SET activity_type = $2, phase = $3, status = $4, updated_at = $5
		WHERE id = $1
	`, app.ID, app.ActivityType, app.Phase, app.Status, app.UpdatedAt)
	if err != nil {
		return application.Application{}, mapError(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return application.Application{}, storage.ErrNotFound
	}
	return app, nil
}

func (s *Store) GetApplication(ctx context.Context, id int64) (application.Application, error) {
	var app application.Application
	err := sqlx.GetContext(ctx, s.q, &app, `SELECT `+applicationColumns+` FROM applications WHERE id = $1`, id)
	if err != nil {
		return application.Application{}, mapError(err)
	}
	return app, nil
}

func (s *Store) GetApplicationByIdentifier(ctx context.Context, identifier string) (application.Application, error) {
	var app application.Application
	err := sqlx.GetContext(ctx, s.q, &app, `SELECT `+applicationColumns+` FROM applications WHERE identifier = $1`, identifier)
	if err != nil {
		return application.Application{}, mapError(err)
	}
	return app, nil
}

func (s *Store) ListApplications(ctx context.Context, filter application.Filter) ([]application.Application, error) {
	var result []application.Application
	err := sqlx.SelectContext(ctx, s.q, &result, `
		SELECT `+applicationColumns+`
		FROM applications
		WHERE ($1 = 0 OR company_id = $1) AND ($2 = 0 OR facility_id = $2)
		ORDER BY id
	`, filter.CompanyID, filter.FacilityID)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) ListIdentifiersWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	var result []string
	err := sqlx.SelectContext(ctx, s.q, &result, `
		SELECT identifier FROM applications
		WHERE starts_with(identifier, $1)
		ORDER BY identifier
	`, prefix)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) DeleteApplication(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, `DELETE FROM applications WHERE id = $1`, id)
}

// --- SubmissionStore --------------------------------------------------------

const submissionColumns = `id, application_id, template_id, activity_type, payload, status, submitted_at, reviewed_by, reviewed_at, created_at, updated_at`

func (s *Store) CreateSubmission(ctx context.Context, sub submission.Submission) (submission.Submission, error) {
	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now
	if len(sub.Payload) == 0 {
		sub.Payload = json.RawMessage(`{}`)
	}

	err := sqlx.GetContext(ctx, s.q, &sub.ID, `
		INSERT INTO activity_submissions (application_id, template_id, activity_type, payload, status, submitted_at, reviewed_by, reviewed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, sub.ApplicationID, sub.TemplateID, sub.ActivityType, string(sub.Payload), sub.Status, toNullTime(sub.SubmittedAt), sub.ReviewedBy, toNullTime(sub.ReviewedAt), sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		return submission.Submission{}, mapError(err)
	}
	return sub, nil
}

func (s *Store) UpdateSubmission(ctx context.Context, sub submission.Submission) (submission.Submission, error) {
	existing, err := s.GetSubmission(ctx, sub.ID)
	if err != nil {
		return submission.Submission{}, err
	}
	sub.ApplicationID = existing.ApplicationID
	sub.CreatedAt = existing.CreatedAt
	sub.UpdatedAt = time.Now().UTC()
	if len(sub.Payload) == 0 {
		sub.Payload = json.RawMessage(`{}`)
	}

	result, err := s.q.ExecContext(ctx, `
		UPDATE activity_submissions
		SET template_id = $2, activity_type = $3, payload = $4, status = $5, submitted_at = $6, reviewed_by = $7, reviewed_at = $8, updated_at = $9
		WHERE id = $1
	`, sub.ID, sub.TemplateID, sub.ActivityType, string(sub.Payload), sub.Status, toNullTime(sub.SubmittedAt), sub.ReviewedBy, toNullTime(sub.ReviewedAt), sub.UpdatedAt)
	if err != nil {
		return submission.Submission{}, mapError(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return submission.Submission{}, storage.ErrNotFound
	}
	return sub, nil
}

func (s *Store) GetSubmission(ctx context.Context, id int64) (submission.Submission, error) {
	var sub submission.Submission
	err := sqlx.GetContext(ctx, s.q, &sub, `SELECT `+submissionColumns+` FROM activity_submissions WHERE id = $1`, id)
	if err != nil {
		return submission.Submission{}, mapError(err)
	}
	return sub, nil
}

func (s *Store) ListSubmissions(ctx context.Context, applicationID int64) ([]submission.Submission, error) {
	var result []submission.Submission
	err := sqlx.SelectContext(ctx, s.q, &result, `
		SELECT `+submissionColumns+`
		FROM activity_submissions
		WHERE $1 = 0 OR application_id = $1
		ORDER BY id
	`, applicationID)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) DeleteSubmission(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, `DELETE FROM activity_submissions WHERE id = $1`, id)
}

// --- GhostStore -------------------------------------------------------------

func (s *Store) RecordGhost(ctx context.Context, entry ghost.Entry) (bool, error) {
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}
	result, err := s.q.ExecContext(ctx, `
		INSERT INTO ghost_identifiers (identifier, reason, cleared, recorded_at)
		VALUES ($1, $2, FALSE, $3)
		ON CONFLICT (identifier) DO UPDATE
		SET reason = EXCLUDED.reason, cleared = FALSE, recorded_at = EXCLUDED.recorded_at, cleared_at = NULL, cleared_by = ''
		WHERE ghost_identifiers.cleared
	`, entry.Identifier, entry.Reason, entry.RecordedAt)
	if err != nil {
		return false, mapError(err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (s *Store) ClearGhosts(ctx context.Context, identifiers []string, actor string, at time.Time) (int, error) {
	if len(identifiers) == 0 {
		return 0, nil
	}
	result, err := s.q.ExecContext(ctx, `
		UPDATE ghost_identifiers
		SET cleared = TRUE, cleared_at = $2, cleared_by = $3
		WHERE identifier = ANY($1) AND NOT cleared
	`, pq.Array(identifiers), at, actor)
	if err != nil {
		return 0, mapError(err)
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}

func (s *Store) GetGhost(ctx context.Context, identifier string) (ghost.Entry, error) {
	var entry ghost.Entry
	err := sqlx.GetContext(ctx, s.q, &entry, `
		SELECT identifier, reason, cleared, recorded_at, cleared_at, cleared_by
		FROM ghost_identifiers
		WHERE identifier = $1
	`, identifier)
	if err != nil {
		return ghost.Entry{}, mapError(err)
	}
	return entry, nil
}

func (s *Store) ListGhosts(ctx context.Context, includeCleared bool) ([]ghost.Entry, error) {
	var result []ghost.Entry
	err := sqlx.SelectContext(ctx, s.q, &result, `
		SELECT identifier, reason, cleared, recorded_at, cleared_at, cleared_by
		FROM ghost_identifiers
		WHERE $1 OR NOT cleared
		ORDER BY identifier
	`, includeCleared)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) ListOpenGhostsWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	var result []string
	err := sqlx.SelectContext(ctx, s.q, &result, `
		SELECT identifier FROM ghost_identifiers
		WHERE NOT cleared AND starts_with(identifier, $1)
		ORDER BY identifier
	`, prefix)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// --- ArchiveStore -----------------------------------------------------------

const archiveColumns = `id, entity_type, entity_id, reason, actor, archived_at, restored_at`

func (s *Store) CreateArchiveRecord(ctx context.Context, rec archive.Record) (archive.Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ArchivedAt.IsZero() {
		rec.ArchivedAt = time.Now().UTC()
	}
	rec.RestoredAt = nil

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO archive_records (id, entity_type, entity_id, reason, actor, archived_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.ID, rec.EntityType, rec.EntityID, rec.Reason, rec.Actor, rec.ArchivedAt)
	if err != nil {
		return archive.Record{}, mapError(err)
	}
	return rec, nil
}

func (s *Store) GetOpenArchiveRecord(ctx context.Context, ref archive.Ref) (archive.Record, error) {
	var rec archive.Record
	err := sqlx.GetContext(ctx, s.q, &rec, `
		SELECT `+archiveColumns+`
		FROM archive_records
		WHERE entity_type = $1 AND entity_id = $2 AND restored_at IS NULL
	`, ref.Type, ref.ID)
	if err != nil {
		return archive.Record{}, mapError(err)
	}
	return rec, nil
}

func (s *Store) ListOpenArchiveRecords(ctx context.Context, entityType archive.EntityType) ([]archive.Record, error) {
	var result []archive.Record
	err := sqlx.SelectContext(ctx, s.q, &result, `
		SELECT `+archiveColumns+`
		FROM archive_records
		WHERE restored_at IS NULL AND ($1 = '' OR entity_type = $1)
		ORDER BY archived_at, id
	`, entityType)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) RestoreArchiveRecord(ctx context.Context, id string, at time.Time) (archive.Record, error) {
	var rec archive.Record
	err := sqlx.GetContext(ctx, s.q, &rec, `
		UPDATE archive_records
		SET restored_at = $2
		WHERE id = $1 AND restored_at IS NULL
		RETURNING `+archiveColumns, id, at)
	if err != nil {
		return archive.Record{}, mapError(err)
	}
	return rec, nil
}

func (s *Store) DeleteArchiveRecords(ctx context.Context, ref archive.Ref) error {
	_, err := s.q.ExecContext(ctx, `
		DELETE FROM archive_records WHERE entity_type = $1 AND entity_id = $2
	`, ref.Type, ref.ID)
	return err
}

// --- helpers ----------------------------------------------------------------

func (s *Store) deleteByID(ctx context.Context, query string, id int64) error {
	result, err := s.q.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func mapError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", storage.ErrDuplicate, pqErr.Constraint)
	}
	return err
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
