package rbac

// Role names carried in access tokens.
const (
	RoleOwner = "owner"
	// RoleManager runs campaigns: queue contacts, start, pause, cancel.
	RoleManager = "manager"
	RoleAgent   = "agent"
	RoleAnalyst = "analyst"

	RoleSuperAdmin = "super_admin"
	// RoleSupport is a hidden platform role, denied unless a route names it.
	RoleSupport = "support"
)

// Route role sets.
var (
	CampaignAdmins = []string{RoleOwner, RoleManager}
	Dialers        = []string{RoleOwner, RoleManager, RoleAgent}
	Viewers        = []string{RoleOwner, RoleManager, RoleAgent, RoleAnalyst}
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }
