package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/program_portal/internal/app/domain/principal"
	"github.com/R3E-Network/program_portal/internal/app/services/applications"
	"github.com/R3E-Network/program_portal/internal/app/system"
	"github.com/R3E-Network/program_portal/pkg/logger"
)

func TestNewWiresServices(t *testing.T) {
	application, err := New(nil, Options{IntegrityEnabled: true}, logger.NewDiscard())
	require.NoError(t, err)

	assert.Equal(t, []string{"organizations", "applications", "submissions", "archive", "integrity-scanner"}, application.Services())
	require.NoError(t, application.Attach(system.NoopService{ServiceName: "extra"}))

	ctx := context.Background()
	require.NoError(t, application.Start(ctx))
	defer application.Stop(ctx)

	admin := principal.Principal{ID: "admin-1", Role: principal.RoleAdmin, Level: principal.LevelOwner}
	company, err := application.Organizations.RegisterCompany(ctx, admin, "Acme")
	require.NoError(t, err)
	facility, err := application.Organizations.RegisterFacility(ctx, admin, company.ID, "Plant")
	require.NoError(t, err)

	created, err := application.Applications.CreateApplication(ctx, admin, applications.CreateRequest{
		CompanyID:    company.ID,
		FacilityID:   facility.ID,
		ActivityType: "FRA",
	})
	require.NoError(t, err)
	assert.Equal(t, "ACME-F01-FRA-001", created.Identifier)

	issues, err := application.Integrity.RunOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestNewHonoursAdminRoles(t *testing.T) {
	application, err := New(nil, Options{AdminRoles: []principal.Role{"program_officer"}}, logger.NewDiscard())
	require.NoError(t, err)

	officer := principal.Principal{ID: "po-1", Role: "program_officer"}
	assert.True(t, application.Gate.IsAdmin(officer))
	assert.False(t, application.Gate.IsAdmin(principal.Principal{ID: "a", Role: principal.RoleAdmin}))
	assert.NotContains(t, application.Services(), "integrity-scanner")
}

func TestNewRejectsBadSchedule(t *testing.T) {
	_, err := New(nil, Options{IntegritySchedule: "every tuesday"}, logger.NewDiscard())
	require.Error(t, err)
}
