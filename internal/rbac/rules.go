package rbac

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Default policy. Learners act on their own sessions; ownership is checked
// by the handlers or RequireOwnerOr.
var RolePermissions = map[string][]string{
	RoleUser: {
		"certification:view",
		"session:create",
		"session:play",
		"session:view-own",
		"flag:toggle",
		"stats:view-own",
		"billing:checkout",
		"resource:view",
		"user:change_password",
	},
	// Admin-only: bank:import, subscription:grant, users:update_role,
	// events:view, stats:view-all, session:view-all.
	RoleAdmin: {
		"*",
	},
}
