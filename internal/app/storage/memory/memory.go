package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/program_portal/internal/app/domain/application"
	"github.com/R3E-Network/program_portal/internal/app/domain/archive"
	"github.com/R3E-Network/program_portal/internal/app/domain/ghost"
	"github.com/R3E-Network/program_portal/internal/app/domain/organization"
	"github.com/R3E-Network/program_portal/internal/app/domain/submission"
	"github.com/R3E-Network/program_portal/internal/app/storage"
)

// Store is an in-memory implementation of storage.Repository. It is safe for
// concurrent use and is primarily intended for tests and local development.
//
// Transactions run against a cloned snapshot while holding the store's write
// lock; the snapshot replaces the live state only when the callback succeeds.
type Store struct {
	mu sync.RWMutex
	st *state
}

type state struct {
	nextID       int64
	companies    map[int64]organization.Company
	facilities   map[int64]organization.Facility
	applications map[int64]application.Application
	identifiers  map[string]int64
	submissions  map[int64]submission.Submission
	ghosts       map[string]ghost.Entry
	archives     map[string]archive.Record
}

var _ storage.Repository = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{st: newState()}
}

func newState() *state {
	return &state{
		nextID:       1,
		companies:    make(map[int64]organization.Company),
		facilities:   make(map[int64]organization.Facility),
		applications: make(map[int64]application.Application),
		identifiers:  make(map[string]int64),
		submissions:  make(map[int64]submission.Submission),
		ghosts:       make(map[string]ghost.Entry),
		archives:     make(map[string]archive.Record),
	}
}

func (st *state) clone() *state {
	out := &state{
		nextID:       st.nextID,
		companies:    make(map[int64]organization.Company, len(st.companies)),
		facilities:   make(map[int64]organization.Facility, len(st.facilities)),
		applications: make(map[int64]application.Application, len(st.applications)),
		identifiers:  make(map[string]int64, len(st.identifiers)),
		submissions:  make(map[int64]submission.Submission, len(st.submissions)),
		ghosts:       make(map[string]ghost.Entry, len(st.ghosts)),
		archives:     make(map[string]archive.Record, len(st.archives)),
	}
	for k, v := range st.companies {
		out.companies[k] = v
	}
	for k, v := range st.facilities {
		out.facilities[k] = v
	}
	for k, v := range st.applications {
		out.applications[k] = v
	}
	for k, v := range st.identifiers {
		out.identifiers[k] = v
	}
	for k, v := range st.submissions {
		out.submissions[k] = cloneSubmission(v)
	}
	for k, v := range st.ghosts {
		out.ghosts[k] = cloneGhost(v)
	}
	for k, v := range st.archives {
		out.archives[k] = cloneRecord(v)
	}
	return out
}

func (st *state) nextIDLocked() int64 {
	id := st.nextID
	st.nextID++
	return id
}

// InTx implements storage.Repository.
func (s *Store) InTx(ctx context.Context, fn func(tx storage.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &Store{st: s.st.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = tx.st
	return nil
}

// CompanyStore implementation -------------------------------------------------

func (s *Store) CreateCompany(_ context.Context, c organization.Company) (organization.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.st.companies {
		if existing.Code == c.Code {
			return organization.Company{}, storage.ErrDuplicate
		}
	}
	c.ID = s.st.nextIDLocked()
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	s.st.companies[c.ID] = c
	return c, nil
}

func (s *Store) GetCompany(_ context.Context, id int64) (organization.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.st.companies[id]
	if !ok {
		return organization.Company{}, storage.ErrNotFound
	}
	return c, nil
}

func (s *Store) ListCompanies(_ context.Context) ([]organization.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]organization.Company, 0, len(s.st.companies))
	for _, c := range s.st.companies {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) CompanyCodeExists(_ context.Context, code string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.st.companies {
		if c.Code == code {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) DeleteCompany(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.st.companies[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.st.companies, id)
	return nil
}

// FacilityStore implementation ------------------------------------------------

func (s *Store) CreateFacility(_ context.Context, f organization.Facility) (organization.Facility, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.st.facilities {
		if existing.CompanyID == f.CompanyID && existing.Sequence == f.Sequence {
			return organization.Facility{}, storage.ErrDuplicate
		}
	}
	f.ID = s.st.nextIDLocked()
	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now
	s.st.facilities[f.ID] = f
	return f, nil
}

func (s *Store) GetFacility(_ context.Context, id int64) (organization.Facility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.st.facilities[id]
	if !ok {
		return organization.Facility{}, storage.ErrNotFound
	}
	return f, nil
}

func (s *Store) ListFacilities(_ context.Context, companyID int64) ([]organization.Facility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]organization.Facility, 0)
	for _, f := range s.st.facilities {
		if companyID == 0 || f.CompanyID == companyID {
			result = append(result, f)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) DeleteFacility(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.st.facilities[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.st.facilities, id)
	return nil
}

// ApplicationStore implementation ---------------------------------------------

func (s *Store) CreateApplication(_ context.Context, app application.Application) (application.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.st.identifiers[app.Identifier]; exists {
		return application.Application{}, storage.ErrDuplicate
	}
	app.ID = s.st.nextIDLocked()
	now := time.Now().UTC()
	app.CreatedAt = now
	app.UpdatedAt = now
	s.st.applications[app.ID] = app
	s.st.identifiers[app.Identifier] = app.ID
	return app, nil
}

func (s *Store) UpdateApplication(_ context.Context, app application.Application) (application.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.st.applications[app.ID]
	if !ok {
		return application.Application{}, storage.ErrNotFound
	}
	// identity and ownership are fixed at creation
	app.Identifier = original.Identifier
	app.CompanyID = original.CompanyID
	app.FacilityID = original.FacilityID
	app.CreatedBy = original.CreatedBy
	app.CreatedAt = original.CreatedAt
	app.UpdatedAt = time.Now().UTC()
	s.st.applications[app.ID] = app
	return app, nil
}

func (s *Store) GetApplication(_ context.Context, id int64) (application.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	app, ok := s.st.applications[id]
	if !ok {
		return application.Application{}, storage.ErrNotFound
	}
	return app, nil
}

func (s *Store) GetApplicationByIdentifier(_ context.Context, identifier string) (application.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.st.identifiers[identifier]
	if !ok {
		return application.Application{}, storage.ErrNotFound
	}
	return s.st.applications[id], nil
}

func (s *Store) ListApplications(_ context.Context, filter application.Filter) ([]application.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]application.Application, 0)
	for _, app := range s.st.applications {
		if filter.CompanyID != 0 && app.CompanyID != filter.CompanyID {
			continue
		}
		if filter.FacilityID != 0 && app.FacilityID != filter.FacilityID {
			continue
		}
		result = append(result, app)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) ListIdentifiersWithPrefix(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []string
	for identifier := range s.st.identifiers {
		if strings.HasPrefix(identifier, prefix) {
			result = append(result, identifier)
		}
	}
	sort.Strings(result)
	return result, nil
}

func (s *Store) DeleteApplication(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	app, ok := s.st.applications[id]
	if !ok {
		return storage.ErrNotFound
	}
	delete(s.st.identifiers, app.Identifier)
	delete(s.st.applications, id)
	return nil
}

// SubmissionStore implementation ----------------------------------------------

func (s *Store) CreateSubmission(_ context.Context, sub submission.Submission) (submission.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub.ID = s.st.nextIDLocked()
	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now
	s.st.submissions[sub.ID] = cloneSubmission(sub)
	return cloneSubmission(sub), nil
}

func (s *Store) UpdateSubmission(_ context.Context, sub submission.Submission) (submission.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.st.submissions[sub.ID]
	if !ok {
		return submission.Submission{}, storage.ErrNotFound
	}
	sub.ApplicationID = original.ApplicationID
	sub.CreatedAt = original.CreatedAt
	sub.UpdatedAt = time.Now().UTC()
	s.st.submissions[sub.ID] = cloneSubmission(sub)
	return cloneSubmission(sub), nil
}

func (s *Store) GetSubmission(_ context.Context, id int64) (submission.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.st.submissions[id]
	if !ok {
		return submission.Submission{}, storage.ErrNotFound
	}
	return cloneSubmission(sub), nil
}

func (s *Store) ListSubmissions(_ context.Context, applicationID int64) ([]submission.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]submission.Submission, 0)
	for _, sub := range s.st.submissions {
		if applicationID == 0 || sub.ApplicationID == applicationID {
			result = append(result, cloneSubmission(sub))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) DeleteSubmission(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.st.submissions[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.st.submissions, id)
	return nil
}

// GhostStore implementation ---------------------------------------------------

func (s *Store) RecordGhost(_ context.Context, entry ghost.Entry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.st.ghosts[entry.Identifier]
	if ok && !existing.Cleared {
		return false, nil
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}
	entry.Cleared = false
	entry.ClearedAt = nil
	entry.ClearedBy = ""
	s.st.ghosts[entry.Identifier] = entry
	return true, nil
}

func (s *Store) ClearGhosts(_ context.Context, identifiers []string, actor string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleared := 0
	for _, identifier := range identifiers {
		entry, ok := s.st.ghosts[identifier]
		if !ok || entry.Cleared {
			continue
		}
		clearedAt := at
		entry.Cleared = true
		entry.ClearedAt = &clearedAt
		entry.ClearedBy = actor
		s.st.ghosts[identifier] = entry
		cleared++
	}
	return cleared, nil
}

func (s *Store) GetGhost(_ context.Context, identifier string) (ghost.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.st.ghosts[identifier]
	if !ok {
		return ghost.Entry{}, storage.ErrNotFound
	}
	return cloneGhost(entry), nil
}

func (s *Store) ListGhosts(_ context.Context, includeCleared bool) ([]ghost.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]ghost.Entry, 0, len(s.st.ghosts))
	for _, entry := range s.st.ghosts {
		if entry.Cleared && !includeCleared {
			continue
		}
		result = append(result, cloneGhost(entry))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Identifier < result[j].Identifier })
	return result, nil
}

func (s *Store) ListOpenGhostsWithPrefix(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []string
	for identifier, entry := range s.st.ghosts {
		if !entry.Cleared && strings.HasPrefix(identifier, prefix) {
			result = append(result, identifier)
		}
	}
	sort.Strings(result)
	return result, nil
}

// ArchiveStore implementation -------------------------------------------------

func (s *Store) CreateArchiveRecord(_ context.Context, rec archive.Record) (archive.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.openRecordLocked(rec.Ref()); ok {
		return archive.Record{}, storage.ErrDuplicate
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ArchivedAt.IsZero() {
		rec.ArchivedAt = time.Now().UTC()
	}
	rec.RestoredAt = nil
	s.st.archives[rec.ID] = rec
	return cloneRecord(rec), nil
}

func (s *Store) GetOpenArchiveRecord(_ context.Context, ref archive.Ref) (archive.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.openRecordLocked(ref)
	if !ok {
		return archive.Record{}, storage.ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (s *Store) ListOpenArchiveRecords(_ context.Context, entityType archive.EntityType) ([]archive.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]archive.Record, 0)
	for _, rec := range s.st.archives {
		if !rec.Open() {
			continue
		}
		if entityType != "" && rec.EntityType != entityType {
			continue
		}
		result = append(result, cloneRecord(rec))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].ArchivedAt.Equal(result[j].ArchivedAt) {
			return result[i].ArchivedAt.Before(result[j].ArchivedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (s *Store) RestoreArchiveRecord(_ context.Context, id string, at time.Time) (archive.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.st.archives[id]
	if !ok || !rec.Open() {
		return archive.Record{}, storage.ErrNotFound
	}
	restoredAt := at
	rec.RestoredAt = &restoredAt
	s.st.archives[id] = rec
	return cloneRecord(rec), nil
}

func (s *Store) DeleteArchiveRecords(_ context.Context, ref archive.Ref) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, rec := range s.st.archives {
		if rec.Ref() == ref {
			delete(s.st.archives, id)
		}
	}
	return nil
}

func (s *Store) openRecordLocked(ref archive.Ref) (archive.Record, bool) {
	for _, rec := range s.st.archives {
		if rec.Open() && rec.Ref() == ref {
			return rec, true
		}
	}
	return archive.Record{}, false
}

// helpers ---------------------------------------------------------------------

func cloneSubmission(sub submission.Submission) submission.Submission {
	if sub.Payload != nil {
		sub.Payload = append([]byte(nil), sub.Payload...)
	}
	sub.SubmittedAt = cloneTime(sub.SubmittedAt)
	sub.ReviewedAt = cloneTime(sub.ReviewedAt)
	return sub
}

func cloneGhost(entry ghost.Entry) ghost.Entry {
	entry.ClearedAt = cloneTime(entry.ClearedAt)
	return entry
}

func cloneRecord(rec archive.Record) archive.Record {
	rec.RestoredAt = cloneTime(rec.RestoredAt)
	return rec
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
