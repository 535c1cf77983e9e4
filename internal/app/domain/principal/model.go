package principal

// Role is a coarse capability class.
type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleContractor Role = "contractor"
	RoleApplicant  Role = "applicant"
)

// Level is an ordinal permission level within a company.
type Level string

const (
	LevelViewer  Level = "viewer"
	LevelEditor  Level = "editor"
	LevelManager Level = "manager"
	LevelOwner   Level = "owner"
)

// Rank returns the ordinal position of the level. Unknown levels rank
// below viewer.
func (l Level) Rank() int {
	switch l {
	case LevelViewer:
		return 1
	case LevelEditor:
		return 2
	case LevelManager:
		return 3
	case LevelOwner:
		return 4
	}
	return 0
}

// Principal is the authenticated caller of an operation.
type Principal struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	Level     Level  `json:"level"`
	CompanyID int64  `json:"company_id"`
}

// System is the principal used by scheduled jobs and the admin CLI.
var System = Principal{ID: "system", Role: RoleSuperAdmin, Level: LevelOwner}
