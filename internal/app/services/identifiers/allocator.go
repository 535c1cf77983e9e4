// Package identifiers allocates human-readable application identifiers of
// the form COMPANY-FACILITY-ACTIVITY-SEQ and unique company short codes.
package identifiers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/R3E-Network/program_portal/internal/app/metrics"
	"github.com/R3E-Network/program_portal/internal/app/storage"
	svcerrors "github.com/R3E-Network/program_portal/internal/errors"
	"github.com/R3E-Network/program_portal/pkg/logger"
)

// DefaultMaxAttempts is the allocation retry budget used when none is set.
const DefaultMaxAttempts = 5

// GhostIndex lists retired identifiers that must not be reissued.
type GhostIndex interface {
	OpenWithPrefix(ctx context.Context, prefix string) ([]string, error)
}

// Options tunes an Allocator.
type Options struct {
	Locker      Locker
	MaxAttempts int
	Now         func() time.Time
}

// Allocator issues identifiers that collide neither with existing
// applications nor with open ghost identifiers.
type Allocator struct {
	companies   storage.CompanyStore
	apps        storage.ApplicationStore
	ghosts      GhostIndex
	locker      Locker
	maxAttempts int
	now         func() time.Time
	log         *logger.Logger
}

// New constructs an allocator. A nil locker defaults to an in-process
// LocalLocker.
func New(companies storage.CompanyStore, apps storage.ApplicationStore, ghosts GhostIndex, opts Options, log *logger.Logger) *Allocator {
	if log == nil {
		log = logger.NewDefault("identifiers")
	}
	if opts.Locker == nil {
		opts.Locker = NewLocalLocker()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Allocator{
		companies:   companies,
		apps:        apps,
		ghosts:      ghosts,
		locker:      opts.Locker,
		maxAttempts: opts.MaxAttempts,
		now:         opts.Now,
		log:         log,
	}
}

// UniqueShortName returns base if no company uses it, otherwise base with a
// numeric suffix from 2 to 99 that keeps the code within MaxShortNameLen.
// If every suffix is taken it falls back to the last two digits of the
// current time without a further check.
func (a *Allocator) UniqueShortName(ctx context.Context, base string) (string, error) {
	base = head(normalizeSegment(base), MaxShortNameLen)
	if base == "" {
		return "", svcerrors.Validation("company name must contain letters or digits")
	}

	taken, err := a.companies.CompanyCodeExists(ctx, base)
	if err != nil {
		return "", svcerrors.Internal("check company code", err)
	}
	if !taken {
		return base, nil
	}

	for n := 2; n <= 99; n++ {
		candidate := withSuffix(base, strconv.Itoa(n))
		taken, err := a.companies.CompanyCodeExists(ctx, candidate)
		if err != nil {
			return "", svcerrors.Internal("check company code", err)
		}
		if !taken {
			return candidate, nil
		}
	}

	fallback := withSuffix(base, fmt.Sprintf("%02d", a.now().UnixMilli()%100))
	a.log.WithField("base", base).
		WithField("code", fallback).
		Warn("short name suffixes exhausted; using time-based code")
	return fallback, nil
}

func withSuffix(base, suffix string) string {
	return head(base, MaxShortNameLen-len(suffix)) + suffix
}

// Prefix builds the COMPANY-FACILITY-ACTIVITY- prefix shared by every
// sequence number of one series.
func Prefix(companyCode, facilityCode, activityType string) (string, error) {
	segments := []struct{ name, value string }{
		{"company code", companyCode},
		{"facility code", facilityCode},
		{"activity type", activityType},
	}
	parts := make([]string, 0, len(segments)+1)
	for _, seg := range segments {
		v := normalizeSegment(seg.value)
		if v == "" {
			return "", svcerrors.Required(seg.name)
		}
		parts = append(parts, v)
	}
	return strings.Join(parts, "-") + "-", nil
}

// Format renders the identifier for seq within a prefix series.
func Format(prefix string, seq int) string {
	return fmt.Sprintf("%s%03d", prefix, seq)
}

// Predict returns the identifier the next allocation would issue, without
// reserving it.
func (a *Allocator) Predict(ctx context.Context, companyCode, facilityCode, activityType string) (string, error) {
	prefix, err := Prefix(companyCode, facilityCode, activityType)
	if err != nil {
		return "", err
	}
	return a.next(ctx, prefix)
}

// Allocate picks the next free identifier and hands it to insert, all
// inside a critical section keyed by the prefix. If insert reports
// storage.ErrDuplicate the sequence is re-derived and retried up to the
// configured budget, after which a Conflict error is returned.
func (a *Allocator) Allocate(ctx context.Context, companyCode, facilityCode, activityType string, insert func(ctx context.Context, identifier string) error) (string, error) {
	prefix, err := Prefix(companyCode, facilityCode, activityType)
	if err != nil {
		return "", err
	}

	release, err := a.locker.Lock(ctx, "appid:"+prefix)
	if err != nil {
		metrics.RecordAllocation("lock_error")
		return "", svcerrors.Conflict("acquire identifier allocation lock", err)
	}
	defer release()

	var lastErr error
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		identifier, err := a.next(ctx, prefix)
		if err != nil {
			metrics.RecordAllocation("error")
			return "", err
		}

		err = insert(ctx, identifier)
		if err == nil {
			metrics.RecordAllocation("ok")
			return identifier, nil
		}
		if !errors.Is(err, storage.ErrDuplicate) {
			metrics.RecordAllocation("error")
			return "", err
		}

		lastErr = err
		metrics.RecordAllocationRetry()
		a.log.WithField("identifier", identifier).
			WithField("attempt", attempt).
			Warn("identifier taken concurrently; retrying")
	}

	metrics.RecordAllocation("conflict")
	return "", svcerrors.Conflict(
		fmt.Sprintf("could not allocate identifier for %s after %d attempts", prefix, a.maxAttempts),
		lastErr,
	).WithDetails("prefix", prefix)
}

// next returns the smallest positive sequence whose identifier is neither
// held by an application nor ghosted.
func (a *Allocator) next(ctx context.Context, prefix string) (string, error) {
	live, err := a.apps.ListIdentifiersWithPrefix(ctx, prefix)
	if err != nil {
		return "", svcerrors.Internal("list application identifiers", err)
	}
	ghosted, err := a.ghosts.OpenWithPrefix(ctx, prefix)
	if err != nil {
		return "", svcerrors.Internal("list ghost identifiers", err)
	}

	taken := make(map[string]struct{}, len(live)+len(ghosted))
	for _, id := range live {
		taken[id] = struct{}{}
	}
	for _, id := range ghosted {
		taken[id] = struct{}{}
	}

	for seq := 1; ; seq++ {
		candidate := Format(prefix, seq)
		if _, ok := taken[candidate]; !ok {
			return candidate, nil
		}
	}
}
