// Package permissions holds the single authorization predicate every
// mutating portal operation consults before touching storage.
package permissions

import (
	"strings"

	"github.com/R3E-Network/program_portal/internal/app/domain/principal"
	svcerrors "github.com/R3E-Network/program_portal/internal/errors"
)

// Action names a gated operation.
type Action string

const (
	ActionViewRecord            Action = "view_record"
	ActionCreateRecord          Action = "create_record"
	ActionEditRecord            Action = "edit_record"
	ActionInviteCollaborator    Action = "invite_collaborator"
	ActionChangePermissionLevel Action = "change_permission_level"
	ActionTransferOwnership     Action = "transfer_ownership"
	ActionArchive               Action = "archive"
	ActionRestore               Action = "restore"
	ActionPermanentDelete       Action = "permanent_delete"
	ActionManageGhosts          Action = "manage_ghosts"
	ActionReviewSubmission      Action = "review_submission"
	ActionTransitionStatus      Action = "transition_status"
	ActionViewDiagnostics       Action = "view_diagnostics"
)

// minimumLevel maps company-scoped actions to the lowest level that may
// perform them. Actions absent from the map are administrative only.
var minimumLevel = map[Action]principal.Level{
	ActionViewRecord:            principal.LevelViewer,
	ActionCreateRecord:          principal.LevelEditor,
	ActionEditRecord:            principal.LevelEditor,
	ActionInviteCollaborator:    principal.LevelManager,
	ActionChangePermissionLevel: principal.LevelManager,
	ActionTransferOwnership:     principal.LevelManager,
}

// Gate is a stateless authorization matrix.
type Gate struct {
	adminRoles map[principal.Role]struct{}
}

// DefaultAdminRoles lists the roles treated as administrative when none are
// configured.
var DefaultAdminRoles = []principal.Role{principal.RoleSuperAdmin, principal.RoleAdmin}

// New builds a gate. An empty role list falls back to DefaultAdminRoles.
func New(adminRoles ...principal.Role) *Gate {
	if len(adminRoles) == 0 {
		adminRoles = DefaultAdminRoles
	}
	set := make(map[principal.Role]struct{}, len(adminRoles))
	for _, r := range adminRoles {
		set[normalizeRole(r)] = struct{}{}
	}
	return &Gate{adminRoles: set}
}

// HasLevel reports whether p's level ranks at or above required.
func HasLevel(p principal.Principal, required principal.Level) bool {
	return p.Level.Rank() >= required.Rank()
}

// IsAdmin reports whether p holds an administrative role. Roles compare
// case-insensitively.
func (g *Gate) IsAdmin(p principal.Principal) bool {
	_, ok := g.adminRoles[normalizeRole(p.Role)]
	return ok
}

func normalizeRole(r principal.Role) principal.Role {
	return principal.Role(strings.ToLower(strings.TrimSpace(string(r))))
}

// Allowed reports whether p may perform action.
func (g *Gate) Allowed(p principal.Principal, action Action) bool {
	if g.IsAdmin(p) {
		return true
	}
	required, ok := minimumLevel[action]
	if !ok {
		return false
	}
	return HasLevel(p, required)
}

// Authorize returns a PermissionDenied error when p may not perform action.
func (g *Gate) Authorize(p principal.Principal, action Action) error {
	if g.Allowed(p, action) {
		return nil
	}
	return svcerrors.PermissionDenied(string(action)).
		WithDetails("principal", p.ID).
		WithDetails("role", string(p.Role)).
		WithDetails("level", string(p.Level))
}

// AuthorizeCompany authorizes action and, for non-administrative principals,
// requires the target company to be the principal's own.
func (g *Gate) AuthorizeCompany(p principal.Principal, action Action, companyID int64) error {
	if err := g.Authorize(p, action); err != nil {
		return err
	}
	if g.IsAdmin(p) || p.CompanyID == companyID {
		return nil
	}
	return svcerrors.PermissionDenied(string(action)).
		WithDetails("principal", p.ID).
		WithDetails("company_id", companyID)
}

// AuthorizeLevelChange checks that actor may set target's permission level
// to level. Nobody but a super admin may change their own level, and
// non-administrative actors may not grant a level above their own.
func (g *Gate) AuthorizeLevelChange(actor principal.Principal, target principal.Principal, level principal.Level) error {
	if err := g.AuthorizeCompany(actor, ActionChangePermissionLevel, target.CompanyID); err != nil {
		return err
	}
	if level.Rank() == 0 {
		return svcerrors.Validation("unknown permission level " + string(level))
	}
	if actor.ID == target.ID && normalizeRole(actor.Role) != principal.RoleSuperAdmin {
		return svcerrors.PermissionDenied("change own permission level").
			WithDetails("principal", actor.ID)
	}
	if !g.IsAdmin(actor) && level.Rank() > actor.Level.Rank() {
		return svcerrors.PermissionDenied("grant a level above your own").
			WithDetails("principal", actor.ID).
			WithDetails("level", string(level))
	}
	return nil
}
