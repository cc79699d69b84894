package org

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"

	"github.com/teranga-app/teranga/internal/perm"
	"github.com/teranga-app/teranga/internal/shared"
)

// Service orchestrates organizational operations.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

// NewService constructs a Service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// CreateAssociationInput describes a new association.
type CreateAssociationInput struct {
	Name                 string
	LegalStatus          string
	DomiciliationCountry string
	PrimaryCurrency      string
	IsMultiSection       bool
	MemberTypes          []MemberType
	CotisationSettings   CotisationSettings
	ApprovalCeiling      float64
}

// CreateAssociation validates and persists a new association. System roles
// are seeded into the catalog with their built-in permission tables.
func (s *Service) CreateAssociation(ctx context.Context, input CreateAssociationInput) (Association, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return Association{}, shared.Validationf("association name required")
	}
	if _, err := currency.ParseISO(input.PrimaryCurrency); err != nil {
		return Association{}, shared.Validationf("invalid currency code %q", input.PrimaryCurrency)
	}
	if err := validateCotisationSettings(input.CotisationSettings); err != nil {
		return Association{}, err
	}
	if input.ApprovalCeiling < 0 {
		return Association{}, shared.Validationf("approval ceiling must not be negative")
	}
	for _, mt := range input.MemberTypes {
		if strings.TrimSpace(mt.Name) == "" {
			return Association{}, shared.Validationf("member type name required")
		}
		if mt.CotisationAmount < 0 {
			return Association{}, shared.Validationf("member type %q cotisation amount must not be negative", mt.Name)
		}
	}

	now := time.Now()
	assoc := Association{
		ID:                   uuid.New(),
		Name:                 name,
		LegalStatus:          strings.TrimSpace(input.LegalStatus),
		DomiciliationCountry: strings.TrimSpace(input.DomiciliationCountry),
		PrimaryCurrency:      input.PrimaryCurrency,
		IsMultiSection:       input.IsMultiSection,
		MemberTypes:          input.MemberTypes,
		Roles:                seedSystemRoles(),
		CotisationSettings:   input.CotisationSettings,
		AccessRights:         map[string]int{},
		ApprovalCeiling:      input.ApprovalCeiling,
		Version:              1,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.repo.CreateAssociation(ctx, assoc); err != nil {
		return Association{}, err
	}
	return assoc, nil
}

func seedSystemRoles() []Role {
	ids := perm.SystemRoles()
	roles := make([]Role, 0, len(ids))
	for _, id := range ids {
		roles = append(roles, Role{
			ID:          id,
			Name:        id,
			Permissions: perm.BuiltinPermissions(id),
			IsSystem:    true,
		})
	}
	return roles
}

func validateCotisationSettings(settings CotisationSettings) error {
	if settings.DueDay < 1 || settings.DueDay > 31 {
		return shared.Validationf("due day must be between 1 and 31, got %d", settings.DueDay)
	}
	if settings.GracePeriodDays < 0 {
		return shared.Validationf("grace period days must not be negative")
	}
	if settings.LateFeesEnabled && settings.LateFeesAmount < 0 {
		return shared.Validationf("late fees amount must not be negative")
	}
	if settings.InactivityThresholdMonths < 0 {
		return shared.Validationf("inactivity threshold must not be negative")
	}
	return nil
}

// UpdateCotisationSettings replaces an association's dues settings.
func (s *Service) UpdateCotisationSettings(ctx context.Context, associationID uuid.UUID, settings CotisationSettings) error {
	if err := validateCotisationSettings(settings); err != nil {
		return err
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		assoc, err := tx.GetAssociationForUpdate(ctx, associationID)
		if err != nil {
			return err
		}
		assoc.CotisationSettings = settings
		return tx.UpdateAssociation(ctx, assoc)
	})
}

// AddMemberType appends a catalog entry.
func (s *Service) AddMemberType(ctx context.Context, associationID uuid.UUID, mt MemberType) error {
	if strings.TrimSpace(mt.Name) == "" {
		return shared.Validationf("member type name required")
	}
	if mt.CotisationAmount < 0 {
		return shared.Validationf("cotisation amount must not be negative")
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		assoc, err := tx.GetAssociationForUpdate(ctx, associationID)
		if err != nil {
			return err
		}
		if _, exists := assoc.MemberTypeByName(mt.Name); exists {
			return shared.Validationf("member type %q already exists", mt.Name)
		}
		assoc.MemberTypes = append(assoc.MemberTypes, mt)
		return tx.UpdateAssociation(ctx, assoc)
	})
}

// UpdateMemberType replaces a catalog entry. Existing members keep the
// cotisation amount snapshotted at assignment; only future assignments see
// the new amount.
func (s *Service) UpdateMemberType(ctx context.Context, associationID uuid.UUID, mt MemberType) error {
	if strings.TrimSpace(mt.Name) == "" {
		return shared.Validationf("member type name required")
	}
	if mt.CotisationAmount < 0 {
		return shared.Validationf("cotisation amount must not be negative")
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		assoc, err := tx.GetAssociationForUpdate(ctx, associationID)
		if err != nil {
			return err
		}
		for i, existing := range assoc.MemberTypes {
			if existing.Name == mt.Name {
				assoc.MemberTypes[i] = mt
				return tx.UpdateAssociation(ctx, assoc)
			}
		}
		return shared.Validationf("member type %q not in association catalog", mt.Name)
	})
}

// AddMemberInput describes a new member.
type AddMemberInput struct {
	UserID        uuid.UUID
	AssociationID uuid.UUID
	SectionID     *uuid.UUID
	MemberType    string
	JoinDate      time.Time
	Roles         []string
}

// AddMember joins a user to an association. The member type must exist in
// the association's catalog; its cotisation amount is snapshotted onto the
// member at assignment time.
func (s *Service) AddMember(ctx context.Context, input AddMemberInput) (Member, error) {
	assoc, err := s.repo.GetAssociation(ctx, input.AssociationID)
	if err != nil {
		return Member{}, err
	}
	mt, ok := assoc.MemberTypeByName(input.MemberType)
	if !ok {
		return Member{}, shared.Validationf("member type %q not in association catalog", input.MemberType)
	}
	if input.SectionID != nil {
		if !assoc.IsMultiSection {
			return Member{}, shared.Validationf("association is single-section, member cannot reference a section")
		}
		if _, err := s.repo.GetSection(ctx, *input.SectionID); err != nil {
			return Member{}, err
		}
	}
	joinDate := input.JoinDate
	if joinDate.IsZero() {
		joinDate = time.Now()
	}
	now := time.Now()
	member := Member{
		ID:               uuid.New(),
		UserID:           input.UserID,
		AssociationID:    input.AssociationID,
		SectionID:        input.SectionID,
		MemberType:       mt.Name,
		Status:           MemberActive,
		JoinDate:         joinDate,
		Roles:            input.Roles,
		CotisationAmount: mt.CotisationAmount,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.CreateMember(ctx, member); err != nil {
		return Member{}, err
	}
	return member, nil
}

// AssignRole adds a role to a member. The role must exist in the
// association's catalog.
func (s *Service) AssignRole(ctx context.Context, memberID uuid.UUID, roleID string) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		member, err := tx.GetMemberForUpdate(ctx, memberID)
		if err != nil {
			return err
		}
		assoc, err := tx.GetAssociationForUpdate(ctx, member.AssociationID)
		if err != nil {
			return err
		}
		if _, ok := assoc.RoleCatalog()[roleID]; !ok && !perm.IsSystemRole(roleID) {
			return shared.Validationf("role %q not in association catalog", roleID)
		}
		if member.HasRole(roleID) {
			return nil
		}
		member.Roles = append(member.Roles, roleID)
		return tx.UpdateMember(ctx, member)
	})
}

// RemoveRole removes a role from a member. Removing admin_association from
// its last holder is rejected to prevent association lockout.
func (s *Service) RemoveRole(ctx context.Context, memberID uuid.UUID, roleID string) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		member, err := tx.GetMemberForUpdate(ctx, memberID)
		if err != nil {
			return err
		}
		if !member.HasRole(roleID) {
			return nil
		}
		if roleID == perm.RoleAdminAssociation {
			admins, err := tx.CountMembersWithRole(ctx, member.AssociationID, perm.RoleAdminAssociation)
			if err != nil {
				return err
			}
			if admins <= 1 {
				return shared.Invariantf("cannot remove the last admin_association of the association")
			}
		}
		roles := member.Roles[:0]
		for _, r := range member.Roles {
			if r != roleID {
				roles = append(roles, r)
			}
		}
		member.Roles = roles
		return tx.UpdateMember(ctx, member)
	})
}

// SetPermissionOverrides replaces a member's grant/revoke overrides.
func (s *Service) SetPermissionOverrides(ctx context.Context, memberID uuid.UUID, overrides perm.Overrides) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		member, err := tx.GetMemberForUpdate(ctx, memberID)
		if err != nil {
			return err
		}
		member.Overrides = overrides
		return tx.UpdateMember(ctx, member)
	})
}

// CreateRole adds a custom role to the association catalog.
func (s *Service) CreateRole(ctx context.Context, associationID uuid.UUID, role Role) error {
	role.ID = strings.TrimSpace(role.ID)
	if role.ID == "" {
		return shared.Validationf("role id required")
	}
	if perm.IsSystemRole(role.ID) {
		return shared.Validationf("role id %q is reserved", role.ID)
	}
	role.IsSystem = false
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		assoc, err := tx.GetAssociationForUpdate(ctx, associationID)
		if err != nil {
			return err
		}
		if _, exists := assoc.RoleCatalog()[role.ID]; exists {
			return shared.Validationf("role %q already exists", role.ID)
		}
		assoc.Roles = append(assoc.Roles, role)
		return tx.UpdateAssociation(ctx, assoc)
	})
}

// DeleteRole removes a custom role from the catalog and from every member
// holding it. System roles cannot be deleted.
func (s *Service) DeleteRole(ctx context.Context, associationID uuid.UUID, roleID string) error {
	if perm.IsSystemRole(roleID) {
		return shared.Invariantf("system role %q cannot be deleted", roleID)
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		assoc, err := tx.GetAssociationForUpdate(ctx, associationID)
		if err != nil {
			return err
		}
		roles := assoc.Roles[:0]
		found := false
		for _, r := range assoc.Roles {
			if r.ID == roleID {
				found = true
				continue
			}
			roles = append(roles, r)
		}
		if !found {
			return shared.ErrNotFound
		}
		assoc.Roles = roles
		if err := tx.UpdateAssociation(ctx, assoc); err != nil {
			return err
		}
		return tx.RemoveRoleFromMembers(ctx, associationID, roleID)
	})
}

// CreateSection adds a geographic section to a multi-section association.
func (s *Service) CreateSection(ctx context.Context, associationID uuid.UUID, country, city, currencyCode, lang string) (Section, error) {
	assoc, err := s.repo.GetAssociation(ctx, associationID)
	if err != nil {
		return Section{}, err
	}
	if !assoc.IsMultiSection {
		return Section{}, shared.Validationf("association is not multi-section")
	}
	if _, err := currency.ParseISO(currencyCode); err != nil {
		return Section{}, shared.Validationf("invalid currency code %q", currencyCode)
	}
	if lang != "" {
		if _, err := language.Parse(lang); err != nil {
			return Section{}, shared.Validationf("invalid language tag %q", lang)
		}
	}
	now := time.Now()
	section := Section{
		ID:            uuid.New(),
		AssociationID: associationID,
		Country:       strings.TrimSpace(country),
		City:          strings.TrimSpace(city),
		Currency:      currencyCode,
		Language:      lang,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.CreateSection(ctx, section); err != nil {
		return Section{}, err
	}
	return section, nil
}

// DeleteSection removes a section. Its members are reassigned to the
// central pool in the same transaction rather than deleted.
func (s *Service) DeleteSection(ctx context.Context, sectionID uuid.UUID) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.ReassignSectionMembersToCentral(ctx, sectionID); err != nil {
			return err
		}
		return tx.DeleteSection(ctx, sectionID)
	})
}

// ChangeMemberSection moves a member between sections, or to the central
// pool when sectionID is nil.
func (s *Service) ChangeMemberSection(ctx context.Context, memberID uuid.UUID, sectionID *uuid.UUID) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		member, err := tx.GetMemberForUpdate(ctx, memberID)
		if err != nil {
			return err
		}
		if sectionID != nil {
			section, err := s.repo.GetSection(ctx, *sectionID)
			if err != nil {
				return err
			}
			if section.AssociationID != member.AssociationID {
				return shared.Validationf("section belongs to another association")
			}
		}
		member.SectionID = sectionID
		return tx.UpdateMember(ctx, member)
	})
}

// SetBureau assigns the officer seats of a section. Seats must reference
// members of the owning association.
func (s *Service) SetBureau(ctx context.Context, sectionID uuid.UUID, bureau Bureau) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		section, err := tx.GetSectionForUpdate(ctx, sectionID)
		if err != nil {
			return err
		}
		for _, seat := range []*uuid.UUID{bureau.ResponsableID, bureau.SecretaireID, bureau.TresorierID} {
			if seat == nil {
				continue
			}
			member, err := s.repo.GetMember(ctx, *seat)
			if err != nil {
				return err
			}
			if member.AssociationID != section.AssociationID {
				return shared.Validationf("bureau member %s belongs to another association", seat)
			}
		}
		section.Bureau = bureau
		return tx.UpdateSection(ctx, section)
	})
}

// SetMemberStatus updates a member lifecycle state.
func (s *Service) SetMemberStatus(ctx context.Context, memberID uuid.UUID, status MemberStatus) error {
	switch status {
	case MemberActive, MemberPending, MemberSuspended, MemberInactive:
	default:
		return shared.Validationf("unknown member status %q", status)
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		member, err := tx.GetMemberForUpdate(ctx, memberID)
		if err != nil {
			return err
		}
		member.Status = status
		return tx.UpdateMember(ctx, member)
	})
}

// GetAssociation fetches an association snapshot.
func (s *Service) GetAssociation(ctx context.Context, id uuid.UUID) (Association, error) {
	return s.repo.GetAssociation(ctx, id)
}

// ListAssociations returns every association. Used by periodic sweeps.
func (s *Service) ListAssociations(ctx context.Context) ([]Association, error) {
	return s.repo.ListAssociations(ctx)
}

// GetMember fetches a member snapshot.
func (s *Service) GetMember(ctx context.Context, id uuid.UUID) (Member, error) {
	return s.repo.GetMember(ctx, id)
}

// GetSection fetches a section snapshot.
func (s *Service) GetSection(ctx context.Context, id uuid.UUID) (Section, error) {
	return s.repo.GetSection(ctx, id)
}

// ListMembers returns the association roster.
func (s *Service) ListMembers(ctx context.Context, associationID uuid.UUID) ([]Member, error) {
	return s.repo.ListMembers(ctx, associationID)
}
