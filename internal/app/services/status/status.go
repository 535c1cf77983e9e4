// Package status derives the human-facing detailed status of an application
// from its submission history. Nothing computed here is ever persisted.
package status

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/R3E-Network/program_portal/internal/app/domain/application"
	"github.com/R3E-Network/program_portal/internal/app/domain/archive"
	"github.com/R3E-Network/program_portal/internal/app/domain/submission"
	"github.com/R3E-Network/program_portal/internal/app/storage"
	svcerrors "github.com/R3E-Network/program_portal/internal/errors"
)

// DefaultLabel is reported when an application has no meaningful history.
const DefaultLabel = "Draft"

// Store is the read surface the engine needs.
type Store interface {
	GetApplication(ctx context.Context, id int64) (application.Application, error)
	ListSubmissions(ctx context.Context, applicationID int64) ([]submission.Submission, error)
	ListOpenArchiveRecords(ctx context.Context, entityType archive.EntityType) ([]archive.Record, error)
}

// Summary pairs the stored coarse workflow fields with the derived label.
// DetailedStatus is never written back to the application.
type Summary struct {
	ApplicationID  int64              `json:"application_id"`
	Identifier     string             `json:"identifier"`
	Phase          application.Phase  `json:"phase"`
	Status         application.Status `json:"status"`
	DetailedStatus string             `json:"detailed_status"`
}

// Engine computes detailed statuses.
type Engine struct {
	store Store
}

// New constructs an engine over store.
func New(store Store) *Engine {
	return &Engine{store: store}
}

// ComputeDetailedStatus loads the application's active submissions and
// derives its label.
func (e *Engine) ComputeDetailedStatus(ctx context.Context, applicationID int64) (string, error) {
	summary, err := e.Summarize(ctx, applicationID)
	if err != nil {
		return "", err
	}
	return summary.DetailedStatus, nil
}

// Summarize returns the stored and derived status of an application.
func (e *Engine) Summarize(ctx context.Context, applicationID int64) (Summary, error) {
	app, err := e.store.GetApplication(ctx, applicationID)
	if errors.Is(err, storage.ErrNotFound) {
		return Summary{}, svcerrors.NotFound("application", strconv.FormatInt(applicationID, 10))
	}
	if err != nil {
		return Summary{}, svcerrors.Internal("get application", err)
	}

	subs, err := e.activeSubmissions(ctx, applicationID)
	if err != nil {
		return Summary{}, err
	}

	return Summary{
		ApplicationID:  app.ID,
		Identifier:     app.Identifier,
		Phase:          app.Phase,
		Status:         app.Status,
		DetailedStatus: Derive(subs),
	}, nil
}

func (e *Engine) activeSubmissions(ctx context.Context, applicationID int64) ([]submission.Submission, error) {
	subs, err := e.store.ListSubmissions(ctx, applicationID)
	if err != nil {
		return nil, svcerrors.Internal("list submissions", err)
	}
	if len(subs) == 0 {
		return subs, nil
	}

	records, err := e.store.ListOpenArchiveRecords(ctx, archive.EntitySubmission)
	if err != nil {
		return nil, svcerrors.Internal("list archived submissions", err)
	}
	if len(records) == 0 {
		return subs, nil
	}
	archived := make(map[int64]struct{}, len(records))
	for _, rec := range records {
		archived[rec.EntityID] = struct{}{}
	}

	active := subs[:0:0]
	for _, sub := range subs {
		if _, ok := archived[sub.ID]; !ok {
			active = append(active, sub)
		}
	}
	return active, nil
}

// Derive maps a submission history to a label:
//
//   - the latest submitted, approved or completed submission wins, ordered by
//     submission time (creation time when unset) with later inserts winning
//     ties, and is rendered as "<Status>: <activity type>";
//   - otherwise the most recently updated draft's status, title-cased;
//   - otherwise DefaultLabel.
//
// Derive does not modify subs.
func Derive(subs []submission.Submission) string {
	var (
		best      *submission.Submission
		bestDraft *submission.Submission
	)
	for i := range subs {
		sub := &subs[i]
		switch sub.Status {
		case submission.StatusSubmitted, submission.StatusApproved, submission.StatusCompleted:
			if best == nil || newerSubmission(sub, best) {
				best = sub
			}
		case submission.StatusDraft:
			if bestDraft == nil || newerDraft(sub, bestDraft) {
				bestDraft = sub
			}
		}
	}

	if best != nil {
		return label(best.Status) + ": " + best.ActivityType
	}
	if bestDraft != nil {
		if l := label(bestDraft.Status); l != "" {
			return l
		}
	}
	return DefaultLabel
}

func effectiveTime(sub *submission.Submission) time.Time {
	if sub.SubmittedAt != nil && !sub.SubmittedAt.IsZero() {
		return *sub.SubmittedAt
	}
	return sub.CreatedAt
}

func newerSubmission(a, b *submission.Submission) bool {
	ta, tb := effectiveTime(a), effectiveTime(b)
	if !ta.Equal(tb) {
		return ta.After(tb)
	}
	return a.ID > b.ID
}

func newerDraft(a, b *submission.Submission) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.ID > b.ID
}

// label title-cases a status: "in_progress" becomes "In Progress".
func label(s submission.Status) string {
	words := strings.FieldsFunc(string(s), func(r rune) bool { return r == '_' || unicode.IsSpace(r) })
	for i, w := range words {
		runes := []rune(strings.ToLower(w))
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}

// SortByRecency orders submissions the way Derive ranks them, newest first.
// Drafts and rejected submissions sort after ranked ones.
func SortByRecency(subs []submission.Submission) {
	sort.SliceStable(subs, func(i, j int) bool {
		ri, rj := ranked(subs[i].Status), ranked(subs[j].Status)
		if ri != rj {
			return ri
		}
		return newerSubmission(&subs[i], &subs[j])
	})
}

func ranked(s submission.Status) bool {
	switch s {
	case submission.StatusSubmitted, submission.StatusApproved, submission.StatusCompleted:
		return true
	}
	return false
}
