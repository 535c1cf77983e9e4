package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/program_portal/internal/app/domain/application"
	"github.com/R3E-Network/program_portal/internal/app/domain/archive"
	"github.com/R3E-Network/program_portal/internal/app/domain/ghost"
	"github.com/R3E-Network/program_portal/internal/app/domain/organization"
	"github.com/R3E-Network/program_portal/internal/app/storage"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(sqlx.NewDb(db, "postgres")), mock
}

func TestCreateApplicationMapsUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO applications").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "applications_identifier_key"})

	_, err := store.CreateApplication(context.Background(), application.Application{Identifier: "ACME-F01-FRA-001"})
	assert.ErrorIs(t, err, storage.ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateApplicationReturnsID(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO applications").
		WithArgs("ACME-F01-FRA-001", int64(1), int64(2), "FRA", application.PhaseIntake, application.StatusPending, "u1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	app, err := store.CreateApplication(context.Background(), application.Application{
		Identifier:   "ACME-F01-FRA-001",
		CompanyID:    1,
		FacilityID:   2,
		ActivityType: "FRA",
		Phase:        application.PhaseIntake,
		Status:       application.StatusPending,
		CreatedBy:    "u1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), app.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCompanyNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, name, code, created_at, updated_at").
		WithArgs(int64(9)).
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetCompany(context.Background(), 9)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListIdentifiersWithPrefix(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT identifier FROM applications").
		WithArgs("ACME-F01-FRA-").
		WillReturnRows(sqlmock.NewRows([]string{"identifier"}).
			AddRow("ACME-F01-FRA-001").
			AddRow("ACME-F01-FRA-002"))

	ids, err := store.ListIdentifiersWithPrefix(context.Background(), "ACME-F01-FRA-")
	require.NoError(t, err)
	assert.Equal(t, []string{"ACME-F01-FRA-001", "ACME-F01-FRA-002"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordGhostReportsChange(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO ghost_identifiers").
		WithArgs("ACME-F01-FRA-001", "archived", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO ghost_identifiers").
		WithArgs("ACME-F01-FRA-001", "archived", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	changed, err := store.RecordGhost(ctx, ghost.Entry{Identifier: "ACME-F01-FRA-001", Reason: "archived"})
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = store.RecordGhost(ctx, ghost.Entry{Identifier: "ACME-F01-FRA-001", Reason: "archived"})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClearGhostsSkipsEmpty(t *testing.T) {
	store, mock := newMockStore(t)

	n, err := store.ClearGhosts(context.Background(), nil, "admin", time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClearGhosts(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE ghost_identifiers").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "admin").
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := store.ClearGhosts(context.Background(), []string{"A-1", "A-2", "A-3"}, "admin", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInTxRollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO archive_records").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := store.InTx(context.Background(), func(tx storage.Repository) error {
		if _, err := tx.CreateArchiveRecord(context.Background(), archive.Record{
			EntityType: archive.EntityCompany,
			EntityID:   1,
			Reason:     "closed",
			Actor:      "admin",
		}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInTxCommitsAndNests(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM archive_records").
		WithArgs(archive.EntityFacility, int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.InTx(context.Background(), func(tx storage.Repository) error {
		return tx.InTx(context.Background(), func(inner storage.Repository) error {
			return inner.DeleteArchiveRecords(context.Background(), archive.Ref{Type: archive.EntityFacility, ID: 3})
		})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteFacilityMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM facilities").
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.DeleteFacility(context.Background(), 5)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	store := New(db)
	ctx := context.Background()

	code := fmt.Sprintf("T%05d", time.Now().UnixNano()%100000)
	company, err := store.CreateCompany(ctx, organization.Company{Name: "Integration", Code: code})
	if err != nil {
		t.Fatalf("create company: %v", err)
	}
	defer store.DeleteCompany(ctx, company.ID)

	if _, err := store.CreateCompany(ctx, organization.Company{Name: "Integration 2", Code: code}); !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("expected duplicate company code, got %v", err)
	}
}
