// Package perm resolves a member's effective permission set from role
// assignments plus per-member grants and revokes.
package perm

// Permission is an atomic capability.
type Permission string

// Association governance permissions.
const (
	PermMembersView Permission = "members.view"
	PermMembersEdit Permission = "members.edit"

	PermRolesView Permission = "roles.view"
	PermRolesEdit Permission = "roles.edit"

	PermSectionsView Permission = "sections.view"
	PermSectionsEdit Permission = "sections.edit"

	PermSettingsEdit Permission = "settings.edit"

	PermCotisationsView     Permission = "cotisations.view"
	PermCotisationsRecord   Permission = "cotisations.record"
	PermCotisationsValidate Permission = "cotisations.validate"

	PermExpensesView    Permission = "expenses.view"
	PermExpensesCreate  Permission = "expenses.create"
	PermExpensesApprove Permission = "expenses.approve"
	PermExpensesPay     Permission = "expenses.pay"

	PermLoansView             Permission = "loans.view"
	PermLoansRecordRepayment  Permission = "loans.record_repayment"
	PermLoansValidateRepayment Permission = "loans.validate_repayment"
)

// AllScopes lists every governance permission.
func AllScopes() []Permission {
	return []Permission{
		PermMembersView, PermMembersEdit,
		PermRolesView, PermRolesEdit,
		PermSectionsView, PermSectionsEdit,
		PermSettingsEdit,
		PermCotisationsView, PermCotisationsRecord, PermCotisationsValidate,
		PermExpensesView, PermExpensesCreate, PermExpensesApprove, PermExpensesPay,
		PermLoansView, PermLoansRecordRepayment, PermLoansValidateRepayment,
	}
}

// System role identifiers. System roles cannot be deleted from an
// association's catalog, only custom roles can.
const (
	RolePresident          = "president"
	RoleSecretaire         = "secretaire"
	RoleTresorier          = "tresorier"
	RoleAdminAssociation   = "admin_association"
	RoleResponsableSection = "responsable_section"
	RoleSecretaireSection  = "secretaire_section"
	RoleTresorierSection   = "tresorier_section"
)

// SystemRoles lists the built-in role identifiers.
func SystemRoles() []string {
	return []string{
		RolePresident,
		RoleSecretaire,
		RoleTresorier,
		RoleAdminAssociation,
		RoleResponsableSection,
		RoleSecretaireSection,
		RoleTresorierSection,
	}
}

// IsSystemRole reports whether id names a built-in role.
func IsSystemRole(id string) bool {
	switch id {
	case RolePresident, RoleSecretaire, RoleTresorier, RoleAdminAssociation,
		RoleResponsableSection, RoleSecretaireSection, RoleTresorierSection:
		return true
	}
	return false
}

// builtinRolePermissions is the fallback permission table used when an
// association has not customised a system role.
var builtinRolePermissions = map[string][]Permission{
	RoleAdminAssociation: AllScopes(),
	RolePresident: {
		PermMembersView, PermMembersEdit,
		PermRolesView,
		PermSectionsView,
		PermCotisationsView,
		PermExpensesView, PermExpensesCreate, PermExpensesApprove, PermExpensesPay,
		PermLoansView,
	},
	RoleSecretaire: {
		PermMembersView, PermMembersEdit,
		PermSectionsView,
		PermCotisationsView,
		PermExpensesView, PermExpensesCreate,
	},
	RoleTresorier: {
		PermMembersView,
		PermCotisationsView, PermCotisationsRecord, PermCotisationsValidate,
		PermExpensesView, PermExpensesCreate, PermExpensesApprove, PermExpensesPay,
		PermLoansView, PermLoansRecordRepayment, PermLoansValidateRepayment,
	},
	RoleResponsableSection: {
		PermMembersView,
		PermSectionsView,
		PermCotisationsView,
		PermExpensesView, PermExpensesCreate, PermExpensesApprove,
		PermLoansView,
	},
	RoleSecretaireSection: {
		PermMembersView,
		PermSectionsView,
		PermCotisationsView,
		PermExpensesView, PermExpensesCreate,
	},
	RoleTresorierSection: {
		PermMembersView,
		PermCotisationsView, PermCotisationsRecord,
		PermExpensesView, PermExpensesCreate, PermExpensesApprove,
		PermLoansView, PermLoansRecordRepayment,
	},
}

// BuiltinPermissions returns the fallback permissions for a system role.
// Unknown role ids yield nil.
func BuiltinPermissions(roleID string) []Permission {
	perms, ok := builtinRolePermissions[roleID]
	if !ok {
		return nil
	}
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}
