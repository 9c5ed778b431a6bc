package rbac

// Role constants
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

// Permission constants
const (
	PermView             = "view"
	PermManageRules      = "manage_rules"
	PermManagePlaybooks  = "manage_playbooks"
	PermRunAutomation    = "run_automation"
	PermDecideActions    = "decide_actions"
	PermManageGuardrails = "manage_guardrails"
	PermAcknowledgeAlert = "acknowledge_alert"
	PermRunWorker        = "run_worker"
)

// RolePermissions defines what each role can do.
var RolePermissions = map[string][]string{
	RoleAdmin: {
		PermView, PermManageRules, PermManagePlaybooks, PermRunAutomation,
		PermDecideActions, PermManageGuardrails, PermAcknowledgeAlert, PermRunWorker,
	},
	RoleOperator: {
		PermView, PermManageRules, PermManagePlaybooks, PermRunAutomation,
		PermDecideActions, PermManageGuardrails, PermAcknowledgeAlert,
		// Operator CANNOT: PermRunWorker
	},
	RoleViewer: {
		PermView,
	},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role, permission string) bool {
	perms, ok := RolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == permission {
			return true
		}
	}
	return false
}

func IsValidRole(role string) bool {
	_, ok := RolePermissions[role]
	return ok
}
