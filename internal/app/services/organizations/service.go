// Package organizations registers companies and facilities and assigns the
// short codes application identifiers are built from.
package organizations

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/R3E-Network/program_portal/internal/app/domain/archive"
	"github.com/R3E-Network/program_portal/internal/app/domain/organization"
	"github.com/R3E-Network/program_portal/internal/app/domain/principal"
	"github.com/R3E-Network/program_portal/internal/app/services/identifiers"
	"github.com/R3E-Network/program_portal/internal/app/services/permissions"
	"github.com/R3E-Network/program_portal/internal/app/storage"
	svcerrors "github.com/R3E-Network/program_portal/internal/errors"
	"github.com/R3E-Network/program_portal/pkg/logger"
)

const registerAttempts = 3

// Service manages companies and facilities.
type Service struct {
	repo  storage.Repository
	alloc *identifiers.Allocator
	gate  *permissions.Gate
	log   *logger.Logger
}

// New constructs an organizations service.
func New(repo storage.Repository, alloc *identifiers.Allocator, gate *permissions.Gate, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("organizations")
	}
	if gate == nil {
		gate = permissions.New()
	}
	return &Service{repo: repo, alloc: alloc, gate: gate, log: log}
}

// RegisterCompany creates a company with a unique short code derived from
// its name.
func (s *Service) RegisterCompany(ctx context.Context, actor principal.Principal, name string) (organization.Company, error) {
	if err := s.gate.Authorize(actor, permissions.ActionCreateRecord); err != nil {
		return organization.Company{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return organization.Company{}, svcerrors.Required("name")
	}
	base := identifiers.ShortName(name)
	if base == "" {
		return organization.Company{}, svcerrors.Validation("company name must contain letters or digits")
	}

	var lastErr error
	for attempt := 0; attempt < registerAttempts; attempt++ {
		code, err := s.alloc.UniqueShortName(ctx, base)
		if err != nil {
			return organization.Company{}, err
		}
		company, err := s.repo.CreateCompany(ctx, organization.Company{Name: name, Code: code})
		if errors.Is(err, storage.ErrDuplicate) {
			lastErr = err
			continue
		}
		if err != nil {
			return organization.Company{}, svcerrors.Internal("create company", err)
		}
		s.log.WithField("company_id", company.ID).
			WithField("code", company.Code).
			WithField("actor", actor.ID).
			Info("company registered")
		return company, nil
	}
	return organization.Company{}, svcerrors.Conflict("could not reserve a company code for "+strconv.Quote(name), lastErr)
}

// RegisterFacility adds a facility to a company. Facilities are numbered per
// company and coded F01, F02 and so on.
func (s *Service) RegisterFacility(ctx context.Context, actor principal.Principal, companyID int64, name string) (organization.Facility, error) {
	if err := s.gate.AuthorizeCompany(actor, permissions.ActionCreateRecord, companyID); err != nil {
		return organization.Facility{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return organization.Facility{}, svcerrors.Required("name")
	}

	var (
		created organization.Facility
		lastErr error
	)
	for attempt := 0; attempt < registerAttempts; attempt++ {
		err := s.repo.InTx(ctx, func(tx storage.Repository) error {
			if err := requireActiveCompany(ctx, tx, companyID); err != nil {
				return err
			}
			existing, err := tx.ListFacilities(ctx, companyID)
			if err != nil {
				return svcerrors.Internal("list facilities", err)
			}
			seq := 1
			for _, f := range existing {
				if f.Sequence >= seq {
					seq = f.Sequence + 1
				}
			}
			created, err = tx.CreateFacility(ctx, organization.Facility{
				CompanyID: companyID,
				Name:      name,
				Sequence:  seq,
				Code:      FacilityCode(seq),
			})
			return err
		})
		if errors.Is(err, storage.ErrDuplicate) {
			lastErr = err
			continue
		}
		if err != nil {
			if svcerrors.GetServiceError(err) != nil {
				return organization.Facility{}, err
			}
			return organization.Facility{}, svcerrors.Internal("create facility", err)
		}
		s.log.WithField("company_id", companyID).
			WithField("facility_id", created.ID).
			WithField("code", created.Code).
			Info("facility registered")
		return created, nil
	}
	return organization.Facility{}, svcerrors.Conflict("could not assign a facility sequence", lastErr)
}

// FacilityCode formats a facility sequence number.
func FacilityCode(seq int) string {
	return fmt.Sprintf("F%02d", seq)
}

// GetCompany returns a company visible to actor.
func (s *Service) GetCompany(ctx context.Context, actor principal.Principal, id int64) (organization.Company, error) {
	if err := s.gate.AuthorizeCompany(actor, permissions.ActionViewRecord, id); err != nil {
		return organization.Company{}, err
	}
	company, err := s.repo.GetCompany(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return organization.Company{}, svcerrors.NotFound("company", strconv.FormatInt(id, 10))
	}
	if err != nil {
		return organization.Company{}, svcerrors.Internal("get company", err)
	}
	return company, nil
}

// ListFacilities returns the active facilities of a company.
func (s *Service) ListFacilities(ctx context.Context, actor principal.Principal, companyID int64) ([]organization.Facility, error) {
	if err := s.gate.AuthorizeCompany(actor, permissions.ActionViewRecord, companyID); err != nil {
		return nil, err
	}
	facilities, err := s.repo.ListFacilities(ctx, companyID)
	if err != nil {
		return nil, svcerrors.Internal("list facilities", err)
	}
	archived, err := s.repo.ListOpenArchiveRecords(ctx, archive.EntityFacility)
	if err != nil {
		return nil, svcerrors.Internal("list archived facilities", err)
	}
	hidden := make(map[int64]struct{}, len(archived))
	for _, rec := range archived {
		hidden[rec.EntityID] = struct{}{}
	}
	active := facilities[:0]
	for _, f := range facilities {
		if _, ok := hidden[f.ID]; !ok {
			active = append(active, f)
		}
	}
	return active, nil
}

func requireActiveCompany(ctx context.Context, r storage.Repository, companyID int64) error {
	if _, err := r.GetCompany(ctx, companyID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return svcerrors.NotFound("company", strconv.FormatInt(companyID, 10))
		}
		return svcerrors.Internal("get company", err)
	}
	_, err := r.GetOpenArchiveRecord(ctx, archive.Ref{Type: archive.EntityCompany, ID: companyID})
	if err == nil {
		return svcerrors.Validation("company is archived").WithDetails("company_id", companyID)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return svcerrors.Internal("check company archive state", err)
	}
	return nil
}
