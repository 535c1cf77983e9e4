package permissions

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/R3E-Network/program_portal/internal/app/domain/principal"
	svcerrors "github.com/R3E-Network/program_portal/internal/errors"
)

var allLevels = []principal.Level{"", "bogus", principal.LevelViewer, principal.LevelEditor, principal.LevelManager, principal.LevelOwner}

func TestHasLevelMonotonic(t *testing.T) {
	for _, have := range allLevels {
		p := principal.Principal{Level: have}
		for i, required := range allLevels {
			if !HasLevel(p, required) {
				continue
			}
			for _, lower := range allLevels[:i] {
				if lower.Rank() <= required.Rank() {
					assert.True(t, HasLevel(p, lower), "%s >= %s but not >= %s", have, required, lower)
				}
			}
		}
		if HasLevel(p, principal.LevelEditor) {
			assert.True(t, HasLevel(p, principal.LevelViewer))
		}
	}
}

func TestAuthorizeMatrix(t *testing.T) {
	gate := New()
	admin := principal.Principal{ID: "a", Role: principal.RoleAdmin}
	viewer := principal.Principal{ID: "v", Role: principal.RoleApplicant, Level: principal.LevelViewer}
	editor := principal.Principal{ID: "e", Role: principal.RoleApplicant, Level: principal.LevelEditor}
	manager := principal.Principal{ID: "m", Role: principal.RoleContractor, Level: principal.LevelManager}
	owner := principal.Principal{ID: "o", Role: principal.RoleApplicant, Level: principal.LevelOwner}

	cases := []struct {
		action Action
		allow  []principal.Principal
		deny   []principal.Principal
	}{
		{ActionViewRecord, []principal.Principal{admin, viewer, editor, owner}, nil},
		{ActionCreateRecord, []principal.Principal{admin, editor, manager, owner}, []principal.Principal{viewer}},
		{ActionEditRecord, []principal.Principal{admin, editor, owner}, []principal.Principal{viewer}},
		{ActionInviteCollaborator, []principal.Principal{admin, manager, owner}, []principal.Principal{viewer, editor}},
		{ActionChangePermissionLevel, []principal.Principal{admin, manager}, []principal.Principal{editor}},
		{ActionTransferOwnership, []principal.Principal{admin, owner}, []principal.Principal{viewer, editor}},
		{ActionArchive, []principal.Principal{admin}, []principal.Principal{owner, manager}},
		{ActionRestore, []principal.Principal{admin}, []principal.Principal{owner}},
		{ActionPermanentDelete, []principal.Principal{admin}, []principal.Principal{owner}},
		{ActionManageGhosts, []principal.Principal{admin}, []principal.Principal{owner}},
	}
	for _, tc := range cases {
		for _, p := range tc.allow {
			assert.NoError(t, gate.Authorize(p, tc.action), "%s should be allowed %s", p.ID, tc.action)
		}
		for _, p := range tc.deny {
			err := gate.Authorize(p, tc.action)
			assert.True(t, svcerrors.IsPermission(err), "%s should be denied %s", p.ID, tc.action)
		}
	}
}

func TestConfiguredAdminRoles(t *testing.T) {
	gate := New("Program_Officer")
	officer := principal.Principal{ID: "po", Role: "program_officer"}
	admin := principal.Principal{ID: "a", Role: principal.RoleAdmin}

	assert.NoError(t, gate.Authorize(officer, ActionArchive))
	assert.Error(t, gate.Authorize(admin, ActionArchive))
}

func TestAdminRoleMatchIgnoresCase(t *testing.T) {
	gate := New()
	for _, role := range []principal.Role{"Admin", " SUPER_ADMIN ", "admin"} {
		p := principal.Principal{ID: "a", Role: role}
		assert.True(t, gate.IsAdmin(p), "role %q", role)
		assert.NoError(t, gate.Authorize(p, ActionPermanentDelete), "role %q", role)
	}
	assert.False(t, gate.IsAdmin(principal.Principal{ID: "c", Role: "Contractor"}))

	self := principal.Principal{ID: "root", Role: "Super_Admin", Level: principal.LevelOwner}
	assert.NoError(t, gate.AuthorizeLevelChange(self, self, principal.LevelViewer))
}

func TestAuthorizeCompanyScopesNonAdmins(t *testing.T) {
	gate := New()
	editor := principal.Principal{ID: "e", Role: principal.RoleApplicant, Level: principal.LevelEditor, CompanyID: 7}
	admin := principal.Principal{ID: "a", Role: principal.RoleAdmin}

	assert.NoError(t, gate.AuthorizeCompany(editor, ActionCreateRecord, 7))
	assert.True(t, svcerrors.IsPermission(gate.AuthorizeCompany(editor, ActionCreateRecord, 8)))
	assert.NoError(t, gate.AuthorizeCompany(admin, ActionCreateRecord, 8))
}

func TestAuthorizeLevelChange(t *testing.T) {
	gate := New()
	manager := principal.Principal{ID: "m", Role: principal.RoleApplicant, Level: principal.LevelManager, CompanyID: 1}
	member := principal.Principal{ID: "x", Role: principal.RoleApplicant, Level: principal.LevelViewer, CompanyID: 1}
	admin := principal.Principal{ID: "a", Role: principal.RoleAdmin, CompanyID: 1}
	root := principal.Principal{ID: "r", Role: principal.RoleSuperAdmin}

	assert.NoError(t, gate.AuthorizeLevelChange(manager, member, principal.LevelEditor))
	assert.True(t, svcerrors.IsPermission(gate.AuthorizeLevelChange(manager, member, principal.LevelOwner)))
	assert.True(t, svcerrors.IsPermission(gate.AuthorizeLevelChange(manager, manager, principal.LevelViewer)))
	assert.True(t, svcerrors.IsPermission(gate.AuthorizeLevelChange(admin, admin, principal.LevelOwner)))
	assert.NoError(t, gate.AuthorizeLevelChange(root, root, principal.LevelOwner))
	assert.True(t, svcerrors.IsValidation(gate.AuthorizeLevelChange(admin, member, "superuser")))
}
