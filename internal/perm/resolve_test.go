package perm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveUnionsRolePermissions(t *testing.T) {
	set := Resolve([]string{RoleSecretaire, RoleTresorier}, nil, Overrides{})
	require.True(t, set.Contains(PermMembersEdit))
	require.True(t, set.Contains(PermCotisationsValidate))
	require.False(t, set.Contains(PermSettingsEdit))
}

func TestResolveCatalogOverridesBuiltin(t *testing.T) {
	catalog := map[string][]Permission{
		RoleTresorier: {PermCotisationsView},
	}
	set := Resolve([]string{RoleTresorier}, catalog, Overrides{})
	require.True(t, set.Contains(PermCotisationsView))
	require.False(t, set.Contains(PermCotisationsValidate))
}

func TestResolveUnknownRoleContributesNothing(t *testing.T) {
	set := Resolve([]string{"ghost_role"}, nil, Overrides{})
	require.Empty(t, set)
}

func TestRevokeBeatsGrant(t *testing.T) {
	overrides := Overrides{
		Grant:  []Permission{PermExpensesApprove},
		Revoke: []Permission{PermExpensesApprove},
	}
	set := Resolve([]string{RolePresident}, nil, overrides)
	require.False(t, set.Contains(PermExpensesApprove))

	// Revoke also strips a role-derived permission.
	set = Resolve([]string{RoleTresorier}, nil, Overrides{Revoke: []Permission{PermLoansValidateRepayment}})
	require.False(t, set.Contains(PermLoansValidateRepayment))
	require.True(t, set.Contains(PermLoansRecordRepayment))
}

func TestResolveIsIdempotent(t *testing.T) {
	roles := []string{RolePresident, RoleTresorierSection}
	overrides := Overrides{Grant: []Permission{PermSettingsEdit}, Revoke: []Permission{PermExpensesPay}}
	first := Resolve(roles, nil, overrides)
	second := Resolve(roles, nil, overrides)
	require.Equal(t, first, second)
}

func TestAdminHasEverything(t *testing.T) {
	set := Resolve([]string{RoleAdminAssociation}, nil, Overrides{})
	for _, p := range AllScopes() {
		require.True(t, set.Contains(p), "admin missing %s", p)
	}
}

func TestHas(t *testing.T) {
	require.True(t, Has([]string{RoleTresorier}, nil, Overrides{}, PermExpensesApprove))
	require.False(t, Has([]string{RoleSecretaire}, nil, Overrides{}, PermExpensesApprove))
}
