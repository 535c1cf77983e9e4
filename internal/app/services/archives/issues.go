package archives

import (
	"context"
	"sort"

	"github.com/R3E-Network/program_portal/internal/app/domain/application"
	"github.com/R3E-Network/program_portal/internal/app/domain/archive"
	"github.com/R3E-Network/program_portal/internal/app/domain/principal"
	"github.com/R3E-Network/program_portal/internal/app/services/permissions"
	svcerrors "github.com/R3E-Network/program_portal/internal/errors"
)

// ConstraintIssues lists live entities whose references point at archived
// or missing rows. It is advisory and changes nothing.
func (m *Manager) ConstraintIssues(ctx context.Context, actor principal.Principal) ([]archive.Issue, error) {
	if err := m.gate.Authorize(actor, permissions.ActionViewDiagnostics); err != nil {
		return nil, err
	}
	return m.Scan(ctx)
}

// Scan is ConstraintIssues without the permission check, for scheduled jobs.
func (m *Manager) Scan(ctx context.Context) ([]archive.Issue, error) {
	archived, err := openRecords(ctx, m.repo)
	if err != nil {
		return nil, err
	}

	companies, err := m.repo.ListCompanies(ctx)
	if err != nil {
		return nil, svcerrors.Internal("list companies", err)
	}
	facilities, err := m.repo.ListFacilities(ctx, 0)
	if err != nil {
		return nil, svcerrors.Internal("list facilities", err)
	}
	apps, err := m.repo.ListApplications(ctx, application.Filter{})
	if err != nil {
		return nil, svcerrors.Internal("list applications", err)
	}
	subs, err := m.repo.ListSubmissions(ctx, 0)
	if err != nil {
		return nil, svcerrors.Internal("list submissions", err)
	}

	exists := make(map[archive.Ref]struct{}, len(companies)+len(facilities)+len(apps))
	for _, c := range companies {
		exists[archive.Ref{Type: archive.EntityCompany, ID: c.ID}] = struct{}{}
	}
	for _, f := range facilities {
		exists[archive.Ref{Type: archive.EntityFacility, ID: f.ID}] = struct{}{}
	}
	for _, app := range apps {
		exists[archive.Ref{Type: archive.EntityApplication, ID: app.ID}] = struct{}{}
	}

	var issues []archive.Issue
	check := func(entity archive.Ref, parents ...archive.Ref) {
		if _, ok := archived[entity]; ok {
			return
		}
		for _, parent := range parents {
			if _, ok := exists[parent]; !ok {
				issues = append(issues, archive.Issue{Entity: entity, References: parent, Problem: archive.ProblemMissing})
				continue
			}
			if _, ok := archived[parent]; ok {
				issues = append(issues, archive.Issue{Entity: entity, References: parent, Problem: archive.ProblemArchived})
			}
		}
	}

	for _, f := range facilities {
		check(archive.Ref{Type: archive.EntityFacility, ID: f.ID}, archive.Ref{Type: archive.EntityCompany, ID: f.CompanyID})
	}
	for _, app := range apps {
		check(archive.Ref{Type: archive.EntityApplication, ID: app.ID}, applicationParents(app)...)
	}
	for _, sub := range subs {
		check(archive.Ref{Type: archive.EntitySubmission, ID: sub.ID}, archive.Ref{Type: archive.EntityApplication, ID: sub.ApplicationID})
	}

	sort.SliceStable(issues, func(i, j int) bool {
		a, b := issues[i].Entity, issues[j].Entity
		if a.Type.Rank() != b.Type.Rank() {
			return a.Type.Rank() < b.Type.Rank()
		}
		return a.ID < b.ID
	})
	return issues, nil
}
