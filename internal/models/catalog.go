package models

// Permission names used across the application. The catalog below is seeded
// once and only ever grows; renaming a permission is a breaking change.
const (
	PermViewProject     = "view_project"
	PermEditProject     = "edit_project"
	PermDeleteProject   = "delete_project"
	PermManageMembers   = "manage_members"
	PermViewTask        = "view_task"
	PermCreateTask      = "create_task"
	PermEditTask        = "edit_task"
	PermDeleteTask      = "delete_task"
	PermViewReports     = "view_reports"
	PermViewAuditLogs   = "view_audit_logs"
	PermExportAuditLogs = "export_audit_logs"
	PermManageSecurity  = "manage_security"
	PermManageUsers     = "manage_users"
)

// BuiltinPermissions is the seeded permission catalog.
var BuiltinPermissions = []Permission{
	{Name: PermViewProject, DisplayName: "View project", Category: "projects"},
	{Name: PermEditProject, DisplayName: "Edit project", Category: "projects"},
	{Name: PermDeleteProject, DisplayName: "Delete project", Category: "projects"},
	{Name: PermManageMembers, DisplayName: "Manage project members", Category: "projects"},
	{Name: PermViewTask, DisplayName: "View tasks", Category: "tasks"},
	{Name: PermCreateTask, DisplayName: "Create tasks", Category: "tasks"},
	{Name: PermEditTask, DisplayName: "Edit tasks", Category: "tasks"},
	{Name: PermDeleteTask, DisplayName: "Delete tasks", Category: "tasks"},
	{Name: PermViewReports, DisplayName: "View reports", Category: "reporting"},
	{Name: PermViewAuditLogs, DisplayName: "View audit logs", Category: "administration"},
	{Name: PermExportAuditLogs, DisplayName: "Export audit logs", Category: "administration"},
	{Name: PermManageSecurity, DisplayName: "Manage security events", Category: "administration"},
	{Name: PermManageUsers, DisplayName: "Manage users", Category: "administration"},
}

// BuiltinRoles is the seeded role catalog. Priority only drives primary-role
// selection for the dashboard; icons and ordering in the UI come from here.
var BuiltinRoles = []Role{
	{Name: RoleSuperAdmin, DisplayName: "Super Admin", Description: "Full access to everything", Priority: 70},
	{Name: RoleProjectAdmin, DisplayName: "Project Admin", Description: "Manages a project and its members", Priority: 60},
	{Name: RoleQAEngineer, DisplayName: "QA Engineer", Description: "Tests and verifies work", Priority: 50},
	{Name: RoleDesigner, DisplayName: "Designer", Description: "Designs and reviews work", Priority: 40},
	{Name: RoleDeveloper, DisplayName: "Developer", Description: "Builds and edits tasks", Priority: 30},
	{Name: RoleClient, DisplayName: "Client", Description: "Read-only project visibility", Priority: 20},
	{Name: RoleGuest, DisplayName: "Guest", Description: "No standing access", Priority: 10},
}

// BuiltinRolePermissions maps each builtin role to its granted permission
// names. Guest deliberately has none.
var BuiltinRolePermissions = map[string][]string{
	RoleSuperAdmin: {
		PermViewProject, PermEditProject, PermDeleteProject, PermManageMembers,
		PermViewTask, PermCreateTask, PermEditTask, PermDeleteTask,
		PermViewReports, PermViewAuditLogs, PermExportAuditLogs,
		PermManageSecurity, PermManageUsers,
	},
	RoleProjectAdmin: {
		PermViewProject, PermEditProject, PermManageMembers,
		PermViewTask, PermCreateTask, PermEditTask, PermDeleteTask,
		PermViewReports, PermViewAuditLogs,
	},
	RoleQAEngineer: {
		PermViewProject, PermViewTask, PermCreateTask, PermEditTask, PermViewReports,
	},
	RoleDesigner: {
		PermViewProject, PermViewTask, PermCreateTask, PermEditTask,
	},
	RoleDeveloper: {
		PermViewProject, PermViewTask, PermCreateTask, PermEditTask,
	},
	RoleClient: {
		PermViewProject, PermViewTask, PermViewReports,
	},
	RoleGuest: {},
}
