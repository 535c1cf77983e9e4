// Package submissions manages the activity forms attached to an
// application: drafting, submission and administrative review.
package submissions

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/program_portal/internal/app/domain/application"
	"github.com/R3E-Network/program_portal/internal/app/domain/archive"
	"github.com/R3E-Network/program_portal/internal/app/domain/principal"
	"github.com/R3E-Network/program_portal/internal/app/domain/submission"
	"github.com/R3E-Network/program_portal/internal/app/services/permissions"
	"github.com/R3E-Network/program_portal/internal/app/services/status"
	"github.com/R3E-Network/program_portal/internal/app/storage"
	svcerrors "github.com/R3E-Network/program_portal/internal/errors"
	"github.com/R3E-Network/program_portal/pkg/logger"
)

// activityTypePath is where a payload may carry its activity type when the
// request omits it.
const activityTypePath = "activity.type"

// DraftRequest creates a draft (ID 0) or updates an existing one.
type DraftRequest struct {
	ID            int64           `json:"id"`
	ApplicationID int64           `json:"application_id"`
	TemplateID    string          `json:"template_id"`
	ActivityType  string          `json:"activity_type"`
	Payload       json.RawMessage `json:"payload"`
}

// Service manages submissions.
type Service struct {
	repo storage.Repository
	gate *permissions.Gate
	log  *logger.Logger
	now  func() time.Time
}

// New constructs a submissions service.
func New(repo storage.Repository, gate *permissions.Gate, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("submissions")
	}
	if gate == nil {
		gate = permissions.New()
	}
	return &Service{repo: repo, gate: gate, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// SaveDraft validates the payload and stores it as a draft. Only drafts may
// be edited.
func (s *Service) SaveDraft(ctx context.Context, actor principal.Principal, req DraftRequest) (submission.Submission, error) {
	payload, err := normalizePayload(req.Payload)
	if err != nil {
		return submission.Submission{}, err
	}
	activity := strings.ToUpper(strings.TrimSpace(req.ActivityType))
	if activity == "" {
		activity = strings.ToUpper(strings.TrimSpace(gjson.GetBytes(payload, activityTypePath).String()))
	}
	if activity == "" {
		return submission.Submission{}, svcerrors.Required("activity_type")
	}

	if req.ID == 0 {
		app, err := s.editableApplication(ctx, actor, req.ApplicationID)
		if err != nil {
			return submission.Submission{}, err
		}
		sub, err := s.repo.CreateSubmission(ctx, submission.Submission{
			ApplicationID: app.ID,
			TemplateID:    strings.TrimSpace(req.TemplateID),
			ActivityType:  activity,
			Payload:       payload,
			Status:        submission.StatusDraft,
		})
		if err != nil {
			return submission.Submission{}, svcerrors.Internal("create submission", err)
		}
		s.log.WithField("submission_id", sub.ID).
			WithField("application_id", app.ID).
			Info("draft created")
		return sub, nil
	}

	existing, err := s.load(ctx, req.ID)
	if err != nil {
		return submission.Submission{}, err
	}
	if _, err := s.editableApplication(ctx, actor, existing.ApplicationID); err != nil {
		return submission.Submission{}, err
	}
	if existing.Status != submission.StatusDraft {
		return submission.Submission{}, svcerrors.Validation("only drafts can be edited").
			WithDetails("status", string(existing.Status))
	}
	existing.ActivityType = activity
	existing.Payload = payload
	if tpl := strings.TrimSpace(req.TemplateID); tpl != "" {
		existing.TemplateID = tpl
	}
	updated, err := s.repo.UpdateSubmission(ctx, existing)
	if err != nil {
		return submission.Submission{}, svcerrors.Internal("update submission", err)
	}
	return updated, nil
}

// Submit moves a draft to submitted and stamps the submission time.
func (s *Service) Submit(ctx context.Context, actor principal.Principal, id int64) (submission.Submission, error) {
	sub, err := s.load(ctx, id)
	if err != nil {
		return submission.Submission{}, err
	}
	if _, err := s.editableApplication(ctx, actor, sub.ApplicationID); err != nil {
		return submission.Submission{}, err
	}
	if sub.Status != submission.StatusDraft {
		return submission.Submission{}, svcerrors.Validation("only drafts can be submitted").
			WithDetails("status", string(sub.Status))
	}
	if parsed := gjson.ParseBytes(sub.Payload); !parsed.IsObject() || len(parsed.Map()) == 0 {
		return submission.Submission{}, svcerrors.Validation("submission payload is empty")
	}

	now := s.now()
	sub.Status = submission.StatusSubmitted
	sub.SubmittedAt = &now
	updated, err := s.repo.UpdateSubmission(ctx, sub)
	if err != nil {
		return submission.Submission{}, svcerrors.Internal("update submission", err)
	}
	s.log.WithField("submission_id", id).
		WithField("application_id", sub.ApplicationID).
		WithField("activity_type", sub.ActivityType).
		Info("submission submitted")
	return updated, nil
}

// Review records an administrative decision. Submitted records may be
// approved or rejected; approved records may be completed.
func (s *Service) Review(ctx context.Context, actor principal.Principal, id int64, decision submission.Decision) (submission.Submission, error) {
	if err := s.gate.Authorize(actor, permissions.ActionReviewSubmission); err != nil {
		return submission.Submission{}, err
	}
	sub, err := s.load(ctx, id)
	if err != nil {
		return submission.Submission{}, err
	}
	if err := s.requireActive(ctx, archive.Ref{Type: archive.EntitySubmission, ID: id}); err != nil {
		return submission.Submission{}, err
	}

	next, ok := reviewTransitions[sub.Status][decision]
	if !ok {
		return submission.Submission{}, svcerrors.Validation("decision not allowed in current status").
			WithDetails("status", string(sub.Status)).
			WithDetails("decision", string(decision))
	}

	now := s.now()
	sub.Status = next
	sub.ReviewedBy = actor.ID
	sub.ReviewedAt = &now
	updated, err := s.repo.UpdateSubmission(ctx, sub)
	if err != nil {
		return submission.Submission{}, svcerrors.Internal("update submission", err)
	}
	s.log.WithField("submission_id", id).
		WithField("decision", decision).
		WithField("actor", actor.ID).
		Info("submission reviewed")
	return updated, nil
}

var reviewTransitions = map[submission.Status]map[submission.Decision]submission.Status{
	submission.StatusSubmitted: {
		submission.DecisionApprove: submission.StatusApproved,
		submission.DecisionReject:  submission.StatusRejected,
	},
	submission.StatusApproved: {
		submission.DecisionComplete: submission.StatusCompleted,
	},
}

// History returns an application's active submissions, newest ranked first.
func (s *Service) History(ctx context.Context, actor principal.Principal, applicationID int64) ([]submission.Submission, error) {
	app, err := s.application(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if err := s.gate.AuthorizeCompany(actor, permissions.ActionViewRecord, app.CompanyID); err != nil {
		return nil, err
	}
	subs, err := s.repo.ListSubmissions(ctx, applicationID)
	if err != nil {
		return nil, svcerrors.Internal("list submissions", err)
	}
	archived, err := s.repo.ListOpenArchiveRecords(ctx, archive.EntitySubmission)
	if err != nil {
		return nil, svcerrors.Internal("list archived submissions", err)
	}
	hidden := make(map[int64]struct{}, len(archived))
	for _, rec := range archived {
		hidden[rec.EntityID] = struct{}{}
	}
	active := make([]submission.Submission, 0, len(subs))
	for _, sub := range subs {
		if _, ok := hidden[sub.ID]; !ok {
			active = append(active, sub)
		}
	}
	status.SortByRecency(active)
	return active, nil
}

// Field extracts a value from a submission payload using a gjson path.
func Field(sub submission.Submission, path string) (string, bool) {
	res := gjson.GetBytes(sub.Payload, path)
	return res.String(), res.Exists()
}

func normalizePayload(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return json.RawMessage(`{}`), nil
	}
	if !gjson.Valid(trimmed) {
		return nil, svcerrors.Validation("payload is not valid JSON")
	}
	if !gjson.Parse(trimmed).IsObject() {
		return nil, svcerrors.Validation("payload must be a JSON object")
	}
	return json.RawMessage(trimmed), nil
}

func (s *Service) load(ctx context.Context, id int64) (submission.Submission, error) {
	sub, err := s.repo.GetSubmission(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return submission.Submission{}, svcerrors.NotFound("submission", strconv.FormatInt(id, 10))
	}
	if err != nil {
		return submission.Submission{}, svcerrors.Internal("get submission", err)
	}
	return sub, nil
}

func (s *Service) application(ctx context.Context, id int64) (application.Application, error) {
	app, err := s.repo.GetApplication(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return application.Application{}, svcerrors.NotFound("application", strconv.FormatInt(id, 10))
	}
	if err != nil {
		return application.Application{}, svcerrors.Internal("get application", err)
	}
	return app, nil
}

// editableApplication loads an application the actor may edit and that is
// not archived.
func (s *Service) editableApplication(ctx context.Context, actor principal.Principal, id int64) (application.Application, error) {
	app, err := s.application(ctx, id)
	if err != nil {
		return application.Application{}, err
	}
	if err := s.gate.AuthorizeCompany(actor, permissions.ActionEditRecord, app.CompanyID); err != nil {
		return application.Application{}, err
	}
	if err := s.requireActive(ctx, archive.Ref{Type: archive.EntityApplication, ID: id}); err != nil {
		return application.Application{}, err
	}
	return app, nil
}

func (s *Service) requireActive(ctx context.Context, ref archive.Ref) error {
	_, err := s.repo.GetOpenArchiveRecord(ctx, ref)
	if err == nil {
		return svcerrors.Validation(string(ref.Type) + " is archived").WithDetails("entity", ref.String())
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return svcerrors.Internal("check archive state", err)
	}
	return nil
}
