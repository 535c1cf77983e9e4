// Package applications handles application intake, identifier preview,
// coarse workflow transitions and detailed status reads.
package applications

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/R3E-Network/program_portal/internal/app/domain/application"
	"github.com/R3E-Network/program_portal/internal/app/domain/archive"
	"github.com/R3E-Network/program_portal/internal/app/domain/organization"
	"github.com/R3E-Network/program_portal/internal/app/domain/principal"
	"github.com/R3E-Network/program_portal/internal/app/services/identifiers"
	"github.com/R3E-Network/program_portal/internal/app/services/permissions"
	"github.com/R3E-Network/program_portal/internal/app/services/status"
	"github.com/R3E-Network/program_portal/internal/app/storage"
	svcerrors "github.com/R3E-Network/program_portal/internal/errors"
	"github.com/R3E-Network/program_portal/pkg/logger"
)

// CreateRequest identifies where a new application is filed.
type CreateRequest struct {
	CompanyID    int64  `json:"company_id"`
	FacilityID   int64  `json:"facility_id"`
	ActivityType string `json:"activity_type"`
}

// TransitionRequest sets the stored phase and base status. Empty fields keep
// their current value.
type TransitionRequest struct {
	Phase  application.Phase  `json:"phase"`
	Status application.Status `json:"status"`
}

// Service exposes application operations.
type Service struct {
	repo   storage.Repository
	alloc  *identifiers.Allocator
	engine *status.Engine
	gate   *permissions.Gate
	log    *logger.Logger
}

// New constructs an applications service.
func New(repo storage.Repository, alloc *identifiers.Allocator, engine *status.Engine, gate *permissions.Gate, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("applications")
	}
	if gate == nil {
		gate = permissions.New()
	}
	if engine == nil {
		engine = status.New(repo)
	}
	return &Service{repo: repo, alloc: alloc, engine: engine, gate: gate, log: log}
}

// CreateApplication files a new application and allocates its identifier.
func (s *Service) CreateApplication(ctx context.Context, actor principal.Principal, req CreateRequest) (application.Application, error) {
	if err := s.gate.AuthorizeCompany(actor, permissions.ActionCreateRecord, req.CompanyID); err != nil {
		return application.Application{}, err
	}
	activity := strings.ToUpper(strings.TrimSpace(req.ActivityType))
	if activity == "" {
		return application.Application{}, svcerrors.Required("activity_type")
	}

	company, facility, err := s.resolveSite(ctx, req.CompanyID, req.FacilityID)
	if err != nil {
		return application.Application{}, err
	}

	var created application.Application
	identifier, err := s.alloc.Allocate(ctx, company.Code, facility.Code, activity, func(ctx context.Context, identifier string) error {
		app, err := s.repo.CreateApplication(ctx, application.Application{
			Identifier:   identifier,
			CompanyID:    company.ID,
			FacilityID:   facility.ID,
			ActivityType: activity,
			Phase:        application.PhaseIntake,
			Status:       application.StatusPending,
			CreatedBy:    actor.ID,
		})
		if err != nil {
			return err
		}
		created = app
		return nil
	})
	if err != nil {
		if svcerrors.GetServiceError(err) != nil {
			return application.Application{}, err
		}
		return application.Application{}, svcerrors.Internal("create application", err)
	}

	s.log.WithField("application_id", created.ID).
		WithField("identifier", identifier).
		WithField("actor", actor.ID).
		Info("application created")
	return created, nil
}

// PredictNextID previews the identifier the next application filed at the
// same site and activity would receive. Nothing is reserved.
func (s *Service) PredictNextID(ctx context.Context, actor principal.Principal, req CreateRequest) (string, error) {
	if err := s.gate.AuthorizeCompany(actor, permissions.ActionViewRecord, req.CompanyID); err != nil {
		return "", err
	}
	company, facility, err := s.resolveSite(ctx, req.CompanyID, req.FacilityID)
	if err != nil {
		return "", err
	}
	return s.alloc.Predict(ctx, company.Code, facility.Code, req.ActivityType)
}

// Get returns an application visible to actor.
func (s *Service) Get(ctx context.Context, actor principal.Principal, id int64) (application.Application, error) {
	app, err := s.load(ctx, s.repo, id)
	if err != nil {
		return application.Application{}, err
	}
	if err := s.gate.AuthorizeCompany(actor, permissions.ActionViewRecord, app.CompanyID); err != nil {
		return application.Application{}, err
	}
	return app, nil
}

// List returns active applications matching filter. Non-administrative
// actors only see their own company.
func (s *Service) List(ctx context.Context, actor principal.Principal, filter application.Filter) ([]application.Application, error) {
	if !s.gate.IsAdmin(actor) {
		filter.CompanyID = actor.CompanyID
	}
	if err := s.gate.AuthorizeCompany(actor, permissions.ActionViewRecord, filter.CompanyID); err != nil {
		return nil, err
	}
	apps, err := s.repo.ListApplications(ctx, filter)
	if err != nil {
		return nil, svcerrors.Internal("list applications", err)
	}
	archived, err := s.repo.ListOpenArchiveRecords(ctx, archive.EntityApplication)
	if err != nil {
		return nil, svcerrors.Internal("list archived applications", err)
	}
	hidden := make(map[int64]struct{}, len(archived))
	for _, rec := range archived {
		hidden[rec.EntityID] = struct{}{}
	}
	active := make([]application.Application, 0, len(apps))
	for _, app := range apps {
		if _, ok := hidden[app.ID]; !ok {
			active = append(active, app)
		}
	}
	return active, nil
}

// GetDetailedStatus returns the label derived from the application's
// submission history.
func (s *Service) GetDetailedStatus(ctx context.Context, actor principal.Principal, id int64) (string, error) {
	summary, err := s.Summary(ctx, actor, id)
	if err != nil {
		return "", err
	}
	return summary.DetailedStatus, nil
}

// Summary returns the stored workflow fields next to the derived label.
func (s *Service) Summary(ctx context.Context, actor principal.Principal, id int64) (status.Summary, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return status.Summary{}, err
	}
	return s.engine.Summarize(ctx, id)
}

// Transition moves an application to another phase and base status. It
// never consults or writes the detailed status.
func (s *Service) Transition(ctx context.Context, actor principal.Principal, id int64, req TransitionRequest) (application.Application, error) {
	if err := s.gate.Authorize(actor, permissions.ActionTransitionStatus); err != nil {
		return application.Application{}, err
	}
	if req.Phase == "" && req.Status == "" {
		return application.Application{}, svcerrors.Validation("phase or status is required")
	}
	if req.Phase != "" && !application.ValidPhase(req.Phase) {
		return application.Application{}, svcerrors.Validation("unknown phase " + strconv.Quote(string(req.Phase)))
	}
	if req.Status != "" && !application.ValidStatus(req.Status) {
		return application.Application{}, svcerrors.Validation("unknown status " + strconv.Quote(string(req.Status)))
	}

	var updated application.Application
	err := s.repo.InTx(ctx, func(tx storage.Repository) error {
		app, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := requireActive(ctx, tx, archive.Ref{Type: archive.EntityApplication, ID: id}); err != nil {
			return err
		}
		from := app.Phase
		if req.Phase != "" {
			app.Phase = req.Phase
		}
		if req.Status != "" {
			app.Status = req.Status
		}
		updated, err = tx.UpdateApplication(ctx, app)
		if err != nil {
			return svcerrors.Internal("update application", err)
		}
		s.log.WithField("application_id", id).
			WithField("from_phase", from).
			WithField("phase", updated.Phase).
			WithField("status", updated.Status).
			WithField("actor", actor.ID).
			Info("application transitioned")
		return nil
	})
	if err != nil {
		return application.Application{}, err
	}
	return updated, nil
}

func (s *Service) load(ctx context.Context, r storage.ApplicationStore, id int64) (application.Application, error) {
	app, err := r.GetApplication(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return application.Application{}, svcerrors.NotFound("application", strconv.FormatInt(id, 10))
	}
	if err != nil {
		return application.Application{}, svcerrors.Internal("get application", err)
	}
	return app, nil
}

// resolveSite loads the company and facility, checking that the facility
// belongs to the company and that neither is archived.
func (s *Service) resolveSite(ctx context.Context, companyID, facilityID int64) (organization.Company, organization.Facility, error) {
	company, err := s.repo.GetCompany(ctx, companyID)
	if errors.Is(err, storage.ErrNotFound) {
		return organization.Company{}, organization.Facility{}, svcerrors.NotFound("company", strconv.FormatInt(companyID, 10))
	}
	if err != nil {
		return organization.Company{}, organization.Facility{}, svcerrors.Internal("get company", err)
	}
	facility, err := s.repo.GetFacility(ctx, facilityID)
	if errors.Is(err, storage.ErrNotFound) {
		return organization.Company{}, organization.Facility{}, svcerrors.NotFound("facility", strconv.FormatInt(facilityID, 10))
	}
	if err != nil {
		return organization.Company{}, organization.Facility{}, svcerrors.Internal("get facility", err)
	}
	if facility.CompanyID != company.ID {
		return organization.Company{}, organization.Facility{}, svcerrors.Validation("facility does not belong to company").
			WithDetails("company_id", companyID).
			WithDetails("facility_id", facilityID)
	}
	for _, ref := range []archive.Ref{
		{Type: archive.EntityCompany, ID: company.ID},
		{Type: archive.EntityFacility, ID: facility.ID},
	} {
		if err := requireActive(ctx, s.repo, ref); err != nil {
			return organization.Company{}, organization.Facility{}, err
		}
	}
	return company, facility, nil
}

func requireActive(ctx context.Context, r storage.ArchiveStore, ref archive.Ref) error {
	_, err := r.GetOpenArchiveRecord(ctx, ref)
	if err == nil {
		return svcerrors.Validation(string(ref.Type) + " is archived").WithDetails("entity", ref.String())
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return svcerrors.Internal("check archive state", err)
	}
	return nil
}
