// Package archives soft-archives, restores and permanently deletes portal
// entities while keeping references between them consistent.
package archives

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/program_portal/internal/app/domain/archive"
	"github.com/R3E-Network/program_portal/internal/app/domain/principal"
	"github.com/R3E-Network/program_portal/internal/app/metrics"
	"github.com/R3E-Network/program_portal/internal/app/services/ghosts"
	"github.com/R3E-Network/program_portal/internal/app/services/permissions"
	"github.com/R3E-Network/program_portal/internal/app/storage"
	svcerrors "github.com/R3E-Network/program_portal/internal/errors"
	"github.com/R3E-Network/program_portal/pkg/logger"
)

// Request describes a bulk archive.
type Request struct {
	EntityType     archive.EntityType `json:"entity_type"`
	IDs            []int64            `json:"ids"`
	Reason         string             `json:"reason"`
	IncludeRelated bool               `json:"include_related"`

	// IncludeSubmissions extends an IncludeRelated cascade past
	// applications to their submissions.
	IncludeSubmissions bool `json:"include_submissions"`
}

// Result lists the archive records a bulk archive wrote, parents first, and
// the identifiers it ghosted.
type Result struct {
	Records []archive.Record `json:"records"`
	Ghosted []string         `json:"ghosted"`
}

// Refs returns the archived entities.
func (r Result) Refs() []archive.Ref {
	refs := make([]archive.Ref, len(r.Records))
	for i, rec := range r.Records {
		refs[i] = rec.Ref()
	}
	return refs
}

// Manager coordinates archive records with the ghost ledger.
type Manager struct {
	repo   storage.Repository
	ledger *ghosts.Ledger
	gate   *permissions.Gate
	log    *logger.Logger
	now    func() time.Time
}

// New constructs a manager.
func New(repo storage.Repository, ledger *ghosts.Ledger, gate *permissions.Gate, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.NewDefault("archives")
	}
	if gate == nil {
		gate = permissions.New()
	}
	if ledger == nil {
		ledger = ghosts.New(repo, gate, log)
	}
	return &Manager{
		repo:   repo,
		ledger: ledger,
		gate:   gate,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// BulkArchive archives the requested entities and, with IncludeRelated,
// the facilities and applications beneath them. The closure is resolved before anything is
// written and the whole batch commits in one transaction. Every archived
// application's identifier is ghosted.
func (m *Manager) BulkArchive(ctx context.Context, actor principal.Principal, req Request) (result Result, err error) {
	defer func() { metrics.RecordArchiveOperation("archive", err, countByType(result.Refs())) }()

	if err := m.gate.Authorize(actor, permissions.ActionArchive); err != nil {
		return Result{}, err
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return Result{}, svcerrors.Required("reason")
	}
	if len(req.IDs) == 0 {
		return Result{}, svcerrors.Required("ids")
	}
	if !req.EntityType.Valid() {
		return Result{}, svcerrors.Validation(fmt.Sprintf("unknown entity type %q", req.EntityType))
	}

	roots := make([]archive.Ref, 0, len(req.IDs))
	for _, id := range req.IDs {
		roots = append(roots, archive.Ref{Type: req.EntityType, ID: id})
	}
	roots = dedupe(roots)

	err = m.repo.InTx(ctx, func(tx storage.Repository) error {
		archived, err := openRecords(ctx, tx)
		if err != nil {
			return err
		}

		nodes, err := m.closure(ctx, tx, roots, req, archived)
		if err != nil {
			return err
		}

		ledger := m.ledger.Bind(tx)
		now := m.now()
		out := Result{Records: make([]archive.Record, 0, len(nodes))}
		for _, n := range nodes {
			rec, err := tx.CreateArchiveRecord(ctx, archive.Record{
				ID:         uuid.NewString(),
				EntityType: n.ref.Type,
				EntityID:   n.ref.ID,
				Reason:     reason,
				Actor:      actor.ID,
				ArchivedAt: now,
			})
			if errors.Is(err, storage.ErrDuplicate) {
				return svcerrors.Conflict(n.ref.String()+" was archived concurrently", err)
			}
			if err != nil {
				return svcerrors.Internal("create archive record", err)
			}
			out.Records = append(out.Records, rec)

			if n.ref.Type == archive.EntityApplication && n.identifier != "" {
				if err := ledger.Record(ctx, n.identifier, "archived: "+reason); err != nil {
					return err
				}
				out.Ghosted = append(out.Ghosted, n.identifier)
			}
		}
		result = out
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	m.log.WithField("actor", actor.ID).
		WithField("entity_type", req.EntityType).
		WithField("roots", len(roots)).
		WithField("archived", len(result.Records)).
		WithField("ghosted", len(result.Ghosted)).
		Info("entities archived")
	return result, nil
}

// closure resolves roots and, when req.IncludeRelated is set, their
// dependents in top-down order. Roots must exist and be active; dependents
// that are already archived are skipped.
func (m *Manager) closure(ctx context.Context, tx storage.Repository, roots []archive.Ref, req Request, archived map[archive.Ref]archive.Record) ([]node, error) {
	var (
		alreadyArchived []archive.Ref
		queue           []archive.Ref
		seen            = make(map[archive.Ref]struct{})
	)
	for _, ref := range roots {
		if _, err := describe(ctx, tx, ref); err != nil {
			return nil, err
		}
		if _, ok := archived[ref]; ok {
			alreadyArchived = append(alreadyArchived, ref)
			continue
		}
		seen[ref] = struct{}{}
		queue = append(queue, ref)
	}
	if len(alreadyArchived) > 0 {
		return nil, svcerrors.Validation("entities are already archived").
			WithDetails("entities", refStrings(alreadyArchived))
	}

	resolved := make([]archive.Ref, 0, len(queue))
	for len(queue) > 0 {
		ref := queue[0]
		queue = queue[1:]
		resolved = append(resolved, ref)
		if !req.IncludeRelated {
			continue
		}
		deps, err := children(ctx, tx, ref, req.IncludeSubmissions)
		if err != nil {
			return nil, err
		}
		for _, dep := range deps {
			if _, ok := seen[dep]; ok {
				continue
			}
			seen[dep] = struct{}{}
			if _, ok := archived[dep]; ok {
				continue
			}
			queue = append(queue, dep)
		}
	}
	sortTopDown(resolved)

	nodes := make([]node, 0, len(resolved))
	for _, ref := range resolved {
		n, err := describe(ctx, tx, ref)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// Restore closes the open archive record of each entity. Ghost entries are
// left alone. Restoring an entity whose parent stays archived, or was
// permanently deleted, is rejected unless the parent is restored in the
// same batch.
func (m *Manager) Restore(ctx context.Context, actor principal.Principal, refs []archive.Ref) (restored []archive.Record, err error) {
	defer func() {
		affected := make([]archive.Ref, len(restored))
		for i, rec := range restored {
			affected[i] = rec.Ref()
		}
		metrics.RecordArchiveOperation("restore", err, countByType(affected))
	}()

	if err := m.gate.Authorize(actor, permissions.ActionRestore); err != nil {
		return nil, err
	}
	refs = dedupe(refs)
	if len(refs) == 0 {
		return nil, svcerrors.Required("ids")
	}
	sortTopDown(refs)

	batch := make(map[archive.Ref]struct{}, len(refs))
	for _, ref := range refs {
		batch[ref] = struct{}{}
	}

	err = m.repo.InTx(ctx, func(tx storage.Repository) error {
		archived, err := openRecords(ctx, tx)
		if err != nil {
			return err
		}

		var blocked []string
		for _, ref := range refs {
			if _, ok := archived[ref]; !ok {
				return svcerrors.NotFound("archive record", ref.String())
			}
			n, err := describe(ctx, tx, ref)
			if err != nil {
				return err
			}
			for _, parent := range n.parents {
				if _, inBatch := batch[parent]; inBatch {
					continue
				}
				if _, ok := archived[parent]; ok {
					blocked = append(blocked, fmt.Sprintf("%s -> %s", ref, parent))
					continue
				}
				if _, err := describe(ctx, tx, parent); err != nil {
					if !svcerrors.IsNotFound(err) {
						return err
					}
					blocked = append(blocked, fmt.Sprintf("%s -> %s (missing)", ref, parent))
				}
			}
		}
		if len(blocked) > 0 {
			return svcerrors.Constraint("cannot restore entities whose parents are archived or deleted", blocked)
		}

		now := m.now()
		out := make([]archive.Record, 0, len(refs))
		for _, ref := range refs {
			rec, err := tx.RestoreArchiveRecord(ctx, archived[ref].ID, now)
			if err != nil {
				return svcerrors.Internal("restore archive record", err)
			}
			out = append(out, rec)
		}
		restored = out
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.log.WithField("actor", actor.ID).
		WithField("restored", len(restored)).
		Info("entities restored")
	return restored, nil
}

// PermanentlyDelete removes archived entities and their archive records.
// Every target must be archived, and no live entity outside the batch may
// still reference one. Ghost entries are untouched.
func (m *Manager) PermanentlyDelete(ctx context.Context, actor principal.Principal, refs []archive.Ref) (deleted []archive.Ref, err error) {
	defer func() { metrics.RecordArchiveOperation("delete", err, countByType(deleted)) }()

	if err := m.gate.Authorize(actor, permissions.ActionPermanentDelete); err != nil {
		return nil, err
	}
	refs = dedupe(refs)
	if len(refs) == 0 {
		return nil, svcerrors.Required("ids")
	}

	batch := make(map[archive.Ref]struct{}, len(refs))
	for _, ref := range refs {
		batch[ref] = struct{}{}
	}

	err = m.repo.InTx(ctx, func(tx storage.Repository) error {
		archived, err := openRecords(ctx, tx)
		if err != nil {
			return err
		}

		var notArchived, offenders []string
		for _, ref := range refs {
			if _, err := describe(ctx, tx, ref); err != nil {
				return err
			}
			if _, ok := archived[ref]; !ok {
				notArchived = append(notArchived, ref.String())
				continue
			}
			deps, err := children(ctx, tx, ref, true)
			if err != nil {
				return err
			}
			for _, dep := range deps {
				if _, inBatch := batch[dep]; inBatch {
					continue
				}
				if _, ok := archived[dep]; ok {
					continue
				}
				offenders = append(offenders, fmt.Sprintf("%s -> %s", dep, ref))
			}
		}
		if len(notArchived) > 0 {
			return svcerrors.Constraint("entities must be archived before permanent deletion", notArchived)
		}
		if len(offenders) > 0 {
			return svcerrors.Constraint("live entities still reference the targets", offenders)
		}

		ordered := append([]archive.Ref(nil), refs...)
		sortTopDown(ordered)
		for i := len(ordered) - 1; i >= 0; i-- {
			ref := ordered[i]
			if err := deleteEntity(ctx, tx, ref); err != nil {
				return err
			}
			if err := tx.DeleteArchiveRecords(ctx, ref); err != nil {
				return svcerrors.Internal("delete archive records", err)
			}
		}
		deleted = ordered
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.log.WithField("actor", actor.ID).
		WithField("entities", refStrings(deleted)).
		Warn("entities permanently deleted")
	return deleted, nil
}

func deleteEntity(ctx context.Context, tx storage.Repository, ref archive.Ref) error {
	var err error
	switch ref.Type {
	case archive.EntityCompany:
		err = tx.DeleteCompany(ctx, ref.ID)
	case archive.EntityFacility:
		err = tx.DeleteFacility(ctx, ref.ID)
	case archive.EntityApplication:
		err = tx.DeleteApplication(ctx, ref.ID)
	case archive.EntitySubmission:
		err = tx.DeleteSubmission(ctx, ref.ID)
	}
	if err != nil {
		return svcerrors.Internal("delete "+ref.String(), err)
	}
	return nil
}

// ListArchived returns open archive records, optionally of one type.
func (m *Manager) ListArchived(ctx context.Context, actor principal.Principal, entityType archive.EntityType) ([]archive.Record, error) {
	if err := m.gate.Authorize(actor, permissions.ActionArchive); err != nil {
		return nil, err
	}
	if entityType != "" && !entityType.Valid() {
		return nil, svcerrors.Validation(fmt.Sprintf("unknown entity type %q", entityType))
	}
	records, err := m.repo.ListOpenArchiveRecords(ctx, entityType)
	if err != nil {
		return nil, svcerrors.Internal("list archive records", err)
	}
	return records, nil
}
