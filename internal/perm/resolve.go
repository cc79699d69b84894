package perm

// Set is a resolved permission set.
type Set map[Permission]struct{}

// Contains reports membership.
func (s Set) Contains(p Permission) bool {
	_, ok := s[p]
	return ok
}

// List returns the permissions in the set, order unspecified.
func (s Set) List() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	return out
}

// Overrides layers per-member grants and revokes on top of role permissions.
type Overrides struct {
	Grant  []Permission
	Revoke []Permission
}

// Resolve computes the effective permission set: union of permissions from
// every assigned role (association catalog first, built-in system tables as
// fallback), plus grants, minus revokes. Revoke always wins over grant.
// A role id absent from both the catalog and the built-in tables contributes
// no permissions.
func Resolve(roleIDs []string, catalog map[string][]Permission, overrides Overrides) Set {
	set := make(Set)
	for _, roleID := range roleIDs {
		perms, ok := catalog[roleID]
		if !ok {
			perms = BuiltinPermissions(roleID)
		}
		for _, p := range perms {
			set[p] = struct{}{}
		}
	}
	for _, p := range overrides.Grant {
		set[p] = struct{}{}
	}
	for _, p := range overrides.Revoke {
		delete(set, p)
	}
	return set
}

// Has reports whether the resolved set for the given roles and overrides
// contains p. Pure function, safe to call per-render.
func Has(roleIDs []string, catalog map[string][]Permission, overrides Overrides, p Permission) bool {
	return Resolve(roleIDs, catalog, overrides).Contains(p)
}
