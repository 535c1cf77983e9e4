// Package testutil provides fixtures and fault-injecting wrappers shared by
// the portal's tests.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/program_portal/internal/app/domain/application"
	"github.com/R3E-Network/program_portal/internal/app/domain/organization"
	"github.com/R3E-Network/program_portal/internal/app/domain/principal"
	"github.com/R3E-Network/program_portal/internal/app/domain/submission"
	"github.com/R3E-Network/program_portal/internal/app/storage"
)

// Admin returns an administrative principal.
func Admin() principal.Principal {
	return principal.Principal{ID: "admin-1", Role: principal.RoleAdmin, Level: principal.LevelOwner}
}

// Member returns a non-administrative principal of a company.
func Member(companyID int64, level principal.Level) principal.Principal {
	return principal.Principal{
		ID:        fmt.Sprintf("user-%d-%s", companyID, level),
		Role:      principal.RoleApplicant,
		Level:     level,
		CompanyID: companyID,
	}
}

// Org is a seeded company with its facilities and applications.
type Org struct {
	Company      organization.Company
	Facilities   []organization.Facility
	Applications []application.Application
}

// SeedOrg creates a company with code and one facility per entry of
// appsPerFacility, each holding that many FRA applications.
func SeedOrg(t testing.TB, repo storage.Repository, code string, appsPerFacility ...int) Org {
	t.Helper()
	ctx := context.Background()

	org := Org{Company: SeedCompany(t, repo, code)}
	for i, n := range appsPerFacility {
		f := SeedFacility(t, repo, org.Company.ID, i+1)
		org.Facilities = append(org.Facilities, f)
		for seq := 1; seq <= n; seq++ {
			app, err := repo.CreateApplication(ctx, application.Application{
				Identifier:   fmt.Sprintf("%s-%s-FRA-%03d", code, f.Code, seq),
				CompanyID:    org.Company.ID,
				FacilityID:   f.ID,
				ActivityType: "FRA",
				Phase:        application.PhaseIntake,
				Status:       application.StatusPending,
				CreatedBy:    "seed",
			})
			require.NoError(t, err)
			org.Applications = append(org.Applications, app)
		}
	}
	return org
}

// SeedCompany creates a company.
func SeedCompany(t testing.TB, repo storage.CompanyStore, code string) organization.Company {
	t.Helper()
	c, err := repo.CreateCompany(context.Background(), organization.Company{Name: code + " Corp", Code: code})
	require.NoError(t, err)
	return c
}

// SeedFacility creates facility F<seq> of a company.
func SeedFacility(t testing.TB, repo storage.FacilityStore, companyID int64, seq int) organization.Facility {
	t.Helper()
	f, err := repo.CreateFacility(context.Background(), organization.Facility{
		CompanyID: companyID,
		Name:      fmt.Sprintf("Site %d", seq),
		Sequence:  seq,
		Code:      fmt.Sprintf("F%02d", seq),
	})
	require.NoError(t, err)
	return f
}

// SeedSubmission adds a submission to an application. A nil submittedAt
// leaves it unset.
func SeedSubmission(t testing.TB, repo storage.SubmissionStore, applicationID int64, status submission.Status, activityType string, submittedAt *time.Time) submission.Submission {
	t.Helper()
	sub, err := repo.CreateSubmission(context.Background(), submission.Submission{
		ApplicationID: applicationID,
		TemplateID:    "tpl-" + activityType,
		ActivityType:  activityType,
		Payload:       json.RawMessage(`{"measure":"lighting"}`),
		Status:        status,
		SubmittedAt:   submittedAt,
	})
	require.NoError(t, err)
	return sub
}
