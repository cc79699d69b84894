// Package org models associations, sections, members and roles: the
// authority topology consumed by the cotisation, expense and loan engines.
package org

import (
	"time"

	"github.com/google/uuid"

	"github.com/teranga-app/teranga/internal/perm"
)

// MemberStatus enumerates member lifecycle states.
type MemberStatus string

const (
	MemberActive    MemberStatus = "active"
	MemberPending   MemberStatus = "pending"
	MemberSuspended MemberStatus = "suspended"
	MemberInactive  MemberStatus = "inactive"
)

// MemberType is a catalog entry naming a membership category with its fixed
// monthly cotisation amount and default permission set.
type MemberType struct {
	Name             string
	CotisationAmount float64
	Permissions      []perm.Permission
}

// CotisationSettings governs dues deadlines for an association.
type CotisationSettings struct {
	DueDay                    int // 1..31
	GracePeriodDays           int
	LateFeesEnabled           bool
	LateFeesAmount            float64
	InactivityThresholdMonths int
}

// Association is the root aggregate.
type Association struct {
	ID                   uuid.UUID
	Name                 string
	LegalStatus          string
	DomiciliationCountry string
	PrimaryCurrency      string
	IsMultiSection       bool
	MemberTypes          []MemberType
	Roles                []Role
	CotisationSettings   CotisationSettings
	AccessRights         map[string]int
	ApprovalCeiling      float64
	Version              int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// MemberTypeByName looks up a catalog entry.
func (a Association) MemberTypeByName(name string) (MemberType, bool) {
	for _, mt := range a.MemberTypes {
		if mt.Name == name {
			return mt, true
		}
	}
	return MemberType{}, false
}

// RoleCatalog returns the association's role permission catalog keyed by
// role id. System roles the association has not customised are absent; the
// permission resolver falls back to the built-in tables for those.
func (a Association) RoleCatalog() map[string][]perm.Permission {
	catalog := make(map[string][]perm.Permission, len(a.Roles))
	for _, r := range a.Roles {
		catalog[r.ID] = r.Permissions
	}
	return catalog
}

// Bureau holds the officer seats of a section. Seats are optional.
type Bureau struct {
	ResponsableID *uuid.UUID
	SecretaireID  *uuid.UUID
	TresorierID   *uuid.UUID
}

// Section is a geographic subdivision of a multi-section association.
type Section struct {
	ID            uuid.UUID
	AssociationID uuid.UUID
	Country       string
	City          string
	Currency      string
	Language      string
	Bureau        Bureau
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Member joins a user to an association. SectionID nil means the member is
// attached to the central body.
type Member struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	AssociationID    uuid.UUID
	SectionID        *uuid.UUID
	MemberType       string
	Status           MemberStatus
	JoinDate         time.Time
	Roles            []string
	CotisationAmount float64
	TotalContributed float64
	Overrides        perm.Overrides
	Version          int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HasRole reports whether the member holds the given role.
func (m Member) HasRole(roleID string) bool {
	for _, r := range m.Roles {
		if r == roleID {
			return true
		}
	}
	return false
}

// Role is a named permission bundle scoped to an association.
type Role struct {
	ID          string
	Name        string
	Color       string
	Permissions []perm.Permission
	IsSystem    bool
}

// ResolvePermissions computes the member's effective permission set against
// the association's role catalog.
func ResolvePermissions(m Member, a Association) perm.Set {
	return perm.Resolve(m.Roles, a.RoleCatalog(), m.Overrides)
}

// HasPermission is a pure predicate over ResolvePermissions.
func HasPermission(m Member, a Association, p perm.Permission) bool {
	return ResolvePermissions(m, a).Contains(p)
}
