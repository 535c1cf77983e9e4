// Package ghosts maintains the ledger of retired application identifiers.
// An identifier recorded here and not yet cleared is never issued again.
package ghosts

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/R3E-Network/program_portal/internal/app/domain/ghost"
	"github.com/R3E-Network/program_portal/internal/app/domain/principal"
	"github.com/R3E-Network/program_portal/internal/app/services/permissions"
	"github.com/R3E-Network/program_portal/internal/app/storage"
	svcerrors "github.com/R3E-Network/program_portal/internal/errors"
	"github.com/R3E-Network/program_portal/pkg/logger"
)

// Ledger records and clears ghost identifiers.
type Ledger struct {
	store storage.GhostStore
	gate  *permissions.Gate
	log   *logger.Logger
	now   func() time.Time
}

// New constructs a ledger.
func New(store storage.GhostStore, gate *permissions.Gate, log *logger.Logger) *Ledger {
	if log == nil {
		log = logger.NewDefault("ghosts")
	}
	if gate == nil {
		gate = permissions.New()
	}
	return &Ledger{store: store, gate: gate, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Bind returns a ledger writing through store, typically a transactional
// view owned by the caller.
func (l *Ledger) Bind(store storage.GhostStore) *Ledger {
	bound := *l
	bound.store = store
	return &bound
}

// Record retires identifier. Recording an identifier that is already open is
// a no-op; recording a cleared one re-opens it.
func (l *Ledger) Record(ctx context.Context, identifier, reason string) error {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return svcerrors.Required("identifier")
	}
	changed, err := l.store.RecordGhost(ctx, ghost.Entry{
		Identifier: identifier,
		Reason:     strings.TrimSpace(reason),
		RecordedAt: l.now(),
	})
	if err != nil {
		return svcerrors.Internal("record ghost identifier", err)
	}
	if changed {
		l.log.WithField("identifier", identifier).Info("identifier ghosted")
	}
	return nil
}

// IsGhosted reports whether identifier is currently blocked.
func (l *Ledger) IsGhosted(ctx context.Context, identifier string) (bool, error) {
	entry, err := l.store.GetGhost(ctx, identifier)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, svcerrors.Internal("get ghost identifier", err)
	}
	return !entry.Cleared, nil
}

// Clear releases one identifier. Clearing an absent or already-cleared
// identifier is a no-op.
func (l *Ledger) Clear(ctx context.Context, actor principal.Principal, identifier string) (int, error) {
	return l.ClearMany(ctx, actor, []string{identifier})
}

// ClearMany releases identifiers and returns how many were open. It is
// idempotent.
func (l *Ledger) ClearMany(ctx context.Context, actor principal.Principal, identifiers []string) (int, error) {
	if err := l.gate.Authorize(actor, permissions.ActionManageGhosts); err != nil {
		return 0, err
	}
	cleaned := normalize(identifiers)
	if len(cleaned) == 0 {
		return 0, svcerrors.Required("identifiers")
	}
	n, err := l.store.ClearGhosts(ctx, cleaned, actor.ID, l.now())
	if err != nil {
		return 0, svcerrors.Internal("clear ghost identifiers", err)
	}
	l.log.WithField("actor", actor.ID).
		WithField("requested", len(cleaned)).
		WithField("cleared", n).
		Info("ghost identifiers cleared")
	return n, nil
}

// ListOpen returns every open entry with counts.
func (l *Ledger) ListOpen(ctx context.Context, actor principal.Principal) (ghost.Listing, error) {
	if err := l.gate.Authorize(actor, permissions.ActionManageGhosts); err != nil {
		return ghost.Listing{}, err
	}
	all, err := l.store.ListGhosts(ctx, true)
	if err != nil {
		return ghost.Listing{}, svcerrors.Internal("list ghost identifiers", err)
	}
	listing := ghost.Listing{Entries: make([]ghost.Entry, 0, len(all))}
	for _, entry := range all {
		if entry.Cleared {
			listing.ClearedCount++
			continue
		}
		listing.Entries = append(listing.Entries, entry)
	}
	listing.OpenCount = len(listing.Entries)
	return listing, nil
}

// OpenWithPrefix lists open identifiers sharing prefix.
func (l *Ledger) OpenWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	return l.store.ListOpenGhostsWithPrefix(ctx, prefix)
}

func normalize(identifiers []string) []string {
	seen := make(map[string]struct{}, len(identifiers))
	out := make([]string, 0, len(identifiers))
	for _, id := range identifiers {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
