package identifiers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/program_portal/internal/app/domain/application"
	"github.com/R3E-Network/program_portal/internal/app/domain/organization"
	"github.com/R3E-Network/program_portal/internal/app/services/ghosts"
	"github.com/R3E-Network/program_portal/internal/app/storage"
	"github.com/R3E-Network/program_portal/internal/app/storage/memory"
	svcerrors "github.com/R3E-Network/program_portal/internal/errors"
	"github.com/R3E-Network/program_portal/pkg/logger"
)

type fixture struct {
	store  *memory.Store
	ledger *ghosts.Ledger
	alloc  *Allocator
}

func newFixture(opts Options) fixture {
	store := memory.New()
	ledger := ghosts.New(store, nil, logger.NewDiscard())
	return fixture{
		store:  store,
		ledger: ledger,
		alloc:  New(store, store, ledger, opts, logger.NewDiscard()),
	}
}

func (f fixture) insert(ctx context.Context, identifier string) error {
	_, err := f.store.CreateApplication(ctx, application.Application{
		Identifier:   identifier,
		ActivityType: "FRA",
		Phase:        application.PhaseIntake,
		Status:       application.StatusPending,
	})
	return err
}

func TestPrefix(t *testing.T) {
	prefix, err := Prefix("acme", "f01", "fra")
	require.NoError(t, err)
	assert.Equal(t, "ACME-F01-FRA-", prefix)
	assert.Equal(t, "ACME-F01-FRA-007", Format(prefix, 7))
	assert.Equal(t, "ACME-F01-FRA-1234", Format(prefix, 1234))

	_, err = Prefix("ACME", "", "FRA")
	assert.True(t, svcerrors.IsValidation(err))
	_, err = Prefix("ACME", "F01", "--")
	assert.True(t, svcerrors.IsValidation(err))
}

func TestAllocateSequential(t *testing.T) {
	ctx := context.Background()
	f := newFixture(Options{})

	first, err := f.alloc.Allocate(ctx, "ACME", "F01", "FRA", f.insert)
	require.NoError(t, err)
	second, err := f.alloc.Allocate(ctx, "ACME", "F01", "FRA", f.insert)
	require.NoError(t, err)
	other, err := f.alloc.Allocate(ctx, "ACME", "F02", "FRA", f.insert)
	require.NoError(t, err)

	assert.Equal(t, "ACME-F01-FRA-001", first)
	assert.Equal(t, "ACME-F01-FRA-002", second)
	assert.Equal(t, "ACME-F02-FRA-001", other)
}

func TestAllocateSkipsGhosts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(Options{})

	require.NoError(t, f.insert(ctx, "ACME-F01-FRA-001"))
	require.NoError(t, f.insert(ctx, "ACME-F01-FRA-002"))
	require.NoError(t, f.ledger.Record(ctx, "ACME-F01-FRA-003", "archived"))

	predicted, err := f.alloc.Predict(ctx, "ACME", "F01", "FRA")
	require.NoError(t, err)
	assert.Equal(t, "ACME-F01-FRA-004", predicted)

	got, err := f.alloc.Allocate(ctx, "ACME", "F01", "FRA", f.insert)
	require.NoError(t, err)
	assert.Equal(t, "ACME-F01-FRA-004", got)
}

func TestAllocateFillsGapsButNotGhosts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(Options{})

	require.NoError(t, f.insert(ctx, "ACME-F01-FRA-002"))
	require.NoError(t, f.ledger.Record(ctx, "ACME-F01-FRA-001", "deleted"))

	got, err := f.alloc.Allocate(ctx, "ACME", "F01", "FRA", f.insert)
	require.NoError(t, err)
	assert.Equal(t, "ACME-F01-FRA-003", got)
}

func TestClearedGhostBecomesReusable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(Options{})
	admin := adminPrincipal()

	require.NoError(t, f.ledger.Record(ctx, "ACME-F01-FRA-001", "deleted"))
	_, err := f.ledger.Clear(ctx, admin, "ACME-F01-FRA-001")
	require.NoError(t, err)

	got, err := f.alloc.Allocate(ctx, "ACME", "F01", "FRA", f.insert)
	require.NoError(t, err)
	assert.Equal(t, "ACME-F01-FRA-001", got)
}

func TestAllocateRetriesOnDuplicate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(Options{})

	calls := 0
	got, err := f.alloc.Allocate(ctx, "ACME", "F01", "FRA", func(ctx context.Context, identifier string) error {
		calls++
		if calls == 1 {
			// Another writer lands the same identifier first.
			require.NoError(t, f.insert(ctx, identifier))
			return storage.ErrDuplicate
		}
		return f.insert(ctx, identifier)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "ACME-F01-FRA-002", got)
}

func TestAllocateConflictAfterBudget(t *testing.T) {
	ctx := context.Background()
	f := newFixture(Options{MaxAttempts: 3})

	calls := 0
	_, err := f.alloc.Allocate(ctx, "ACME", "F01", "FRA", func(context.Context, string) error {
		calls++
		return fmt.Errorf("%w: applications_identifier_key", storage.ErrDuplicate)
	})
	require.Error(t, err)
	assert.True(t, svcerrors.IsConflict(err))
	assert.Equal(t, 3, calls)
}

func TestAllocatePassesThroughOtherErrors(t *testing.T) {
	f := newFixture(Options{})
	boom := errors.New("boom")

	_, err := f.alloc.Allocate(context.Background(), "ACME", "F01", "FRA", func(context.Context, string) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestAllocateConcurrentUnique(t *testing.T) {
	ctx := context.Background()
	f := newFixture(Options{})

	const workers = 20
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[string]struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := f.alloc.Allocate(ctx, "ACME", "F01", "FRA", f.insert)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			ids[id] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, ids, workers)
	for seq := 1; seq <= workers; seq++ {
		assert.Contains(t, ids, fmt.Sprintf("ACME-F01-FRA-%03d", seq))
	}
}

func TestAllocateConcurrentWithoutLockRelyingOnRetry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(Options{Locker: NoopLocker{}, MaxAttempts: 50})

	const workers = 10
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.alloc.Allocate(ctx, "ACME", "F01", "FRA", f.insert)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	apps, err := f.store.ListApplications(ctx, application.Filter{})
	require.NoError(t, err)
	assert.Len(t, apps, workers)
}

func TestUniqueShortName(t *testing.T) {
	ctx := context.Background()
	f := newFixture(Options{})

	got, err := f.alloc.UniqueShortName(ctx, "ACMENE")
	require.NoError(t, err)
	assert.Equal(t, "ACMENE", got)

	_, err = f.store.CreateCompany(ctx, organization.Company{Name: "Acme Energy", Code: "ACMENE"})
	require.NoError(t, err)
	got, err = f.alloc.UniqueShortName(ctx, "ACMENE")
	require.NoError(t, err)
	assert.Equal(t, "ACMEN2", got)

	_, err = f.store.CreateCompany(ctx, organization.Company{Name: "Acme Energy 2", Code: "ACMEN2"})
	require.NoError(t, err)
	got, err = f.alloc.UniqueShortName(ctx, "ACMENE")
	require.NoError(t, err)
	assert.Equal(t, "ACMEN3", got)

	_, err = f.alloc.UniqueShortName(ctx, "--")
	assert.True(t, svcerrors.IsValidation(err))
}

func TestUniqueShortNameTwoDigitSuffix(t *testing.T) {
	ctx := context.Background()
	f := newFixture(Options{})

	for _, code := range []string{"ACME", "ACME2", "ACME3", "ACME4", "ACME5", "ACME6", "ACME7", "ACME8", "ACME9"} {
		_, err := f.store.CreateCompany(ctx, organization.Company{Name: code, Code: code})
		require.NoError(t, err)
	}
	got, err := f.alloc.UniqueShortName(ctx, "ACME")
	require.NoError(t, err)
	assert.Equal(t, "ACME10", got)
}

func TestUniqueShortNameTimeFallback(t *testing.T) {
	ctx := context.Background()
	fixed := time.UnixMilli(1_700_000_000_042)
	f := newFixture(Options{Now: func() time.Time { return fixed }})

	_, err := f.store.CreateCompany(ctx, organization.Company{Name: "Acme", Code: "ACMENE"})
	require.NoError(t, err)
	for n := 2; n <= 99; n++ {
		code := withSuffix("ACMENE", fmt.Sprint(n))
		_, err := f.store.CreateCompany(ctx, organization.Company{Name: code, Code: code})
		require.NoError(t, err)
	}

	got, err := f.alloc.UniqueShortName(ctx, "ACMENE")
	require.NoError(t, err)
	assert.Equal(t, "ACME42", got)
	assert.LessOrEqual(t, len(got), MaxShortNameLen)
}
