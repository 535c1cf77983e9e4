package testutil

import (
	"context"
	"time"

	"github.com/R3E-Network/program_portal/internal/app/domain/archive"
	"github.com/R3E-Network/program_portal/internal/app/domain/ghost"
	"github.com/R3E-Network/program_portal/internal/app/storage"
)

// FaultyRepository wraps a repository and consults Fail before archive,
// ghost and delete writes. A non-nil result aborts the write.
type FaultyRepository struct {
	storage.Repository
	Fail func(op string) error
}

func (f *FaultyRepository) check(op string) error {
	if f.Fail == nil {
		return nil
	}
	return f.Fail(op)
}

// InTx keeps the fault hook active inside transactions.
func (f *FaultyRepository) InTx(ctx context.Context, fn func(tx storage.Repository) error) error {
	return f.Repository.InTx(ctx, func(tx storage.Repository) error {
		return fn(&FaultyRepository{Repository: tx, Fail: f.Fail})
	})
}

func (f *FaultyRepository) CreateArchiveRecord(ctx context.Context, rec archive.Record) (archive.Record, error) {
	if err := f.check("CreateArchiveRecord"); err != nil {
		return archive.Record{}, err
	}
	return f.Repository.CreateArchiveRecord(ctx, rec)
}

func (f *FaultyRepository) RestoreArchiveRecord(ctx context.Context, id string, at time.Time) (archive.Record, error) {
	if err := f.check("RestoreArchiveRecord"); err != nil {
		return archive.Record{}, err
	}
	return f.Repository.RestoreArchiveRecord(ctx, id, at)
}

func (f *FaultyRepository) RecordGhost(ctx context.Context, entry ghost.Entry) (bool, error) {
	if err := f.check("RecordGhost"); err != nil {
		return false, err
	}
	return f.Repository.RecordGhost(ctx, entry)
}

func (f *FaultyRepository) DeleteApplication(ctx context.Context, id int64) error {
	if err := f.check("DeleteApplication"); err != nil {
		return err
	}
	return f.Repository.DeleteApplication(ctx, id)
}

// FailAfter returns a Fail hook that lets n calls of op through and fails
// every later one with err.
func FailAfter(op string, n int, err error) func(string) error {
	calls := 0
	return func(got string) error {
		if got != op {
			return nil
		}
		calls++
		if calls > n {
			return err
		}
		return nil
	}
}
