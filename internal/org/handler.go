package org

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/teranga-app/teranga/internal/perm"
	"github.com/teranga-app/teranga/internal/platform/httpx"
	"github.com/teranga-app/teranga/internal/shared"
)

// ActorHeader carries the acting member's id on every mutating request.
// Authentication itself lives in the gateway in front of this service.
const ActorHeader = "X-Member-ID"

// ActorLoader resolves the acting member and their association from a
// request. Every domain handler embeds one.
type ActorLoader struct {
	Service *Service
}

// Load reads the actor header and fetches the member and association.
func (l *ActorLoader) Load(ctx context.Context, r *http.Request) (Member, Association, error) {
	raw := r.Header.Get(ActorHeader)
	if raw == "" {
		return Member{}, Association{}, shared.Authorizationf("missing %s header", ActorHeader)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return Member{}, Association{}, shared.Validationf("invalid %s header", ActorHeader)
	}
	member, err := l.Service.GetMember(ctx, id)
	if err != nil {
		return Member{}, Association{}, err
	}
	assoc, err := l.Service.GetAssociation(ctx, member.AssociationID)
	if err != nil {
		return Member{}, Association{}, err
	}
	return member, assoc, nil
}

// Handler wires HTTP endpoints for associations, sections, members and roles.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	actors    *ActorLoader
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, actors *ActorLoader) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		actors:    actors,
		validator: validator.New(),
	}
}

// MountRoutes registers organization routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreateAssociation)
	r.Get("/{associationID}", h.handleGetAssociation)
	r.Put("/{associationID}/cotisation-settings", h.handleUpdateCotisationSettings)
	r.Post("/{associationID}/member-types", h.handleAddMemberType)
	r.Put("/{associationID}/member-types/{typeName}", h.handleUpdateMemberType)
	r.Post("/{associationID}/sections", h.handleCreateSection)
	r.Delete("/sections/{sectionID}", h.handleDeleteSection)
	r.Put("/sections/{sectionID}/bureau", h.handleSetBureau)
	r.Post("/{associationID}/roles", h.handleCreateRole)
	r.Delete("/{associationID}/roles/{roleID}", h.handleDeleteRole)
	r.Post("/{associationID}/members", h.handleAddMember)
	r.Get("/{associationID}/members", h.handleListMembers)
	r.Post("/members/{memberID}/roles/{roleID}", h.handleAssignRole)
	r.Delete("/members/{memberID}/roles/{roleID}", h.handleRemoveRole)
	r.Put("/members/{memberID}/overrides", h.handleSetOverrides)
	r.Put("/members/{memberID}/section", h.handleChangeMemberSection)
	r.Put("/members/{memberID}/status", h.handleSetMemberStatus)
}

type createAssociationForm struct {
	Name           string  `json:"name" validate:"required"`
	LegalStatus    string  `json:"legalStatus"`
	Country        string  `json:"domiciliationCountry" validate:"required"`
	Currency       string  `json:"primaryCurrency" validate:"required,len=3"`
	IsMultiSection bool    `json:"isMultiSection"`
	DueDay         int     `json:"dueDay" validate:"required,min=1,max=31"`
	GracePeriod    int     `json:"gracePeriodDays" validate:"min=0"`
	ApprovalCeil   float64 `json:"approvalCeiling" validate:"min=0"`
}

func (h *Handler) handleCreateAssociation(w http.ResponseWriter, r *http.Request) {
	var form createAssociationForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	assoc, err := h.service.CreateAssociation(r.Context(), CreateAssociationInput{
		Name:                 form.Name,
		LegalStatus:          form.LegalStatus,
		DomiciliationCountry: form.Country,
		PrimaryCurrency:      form.Currency,
		IsMultiSection:       form.IsMultiSection,
		CotisationSettings: CotisationSettings{
			DueDay:          form.DueDay,
			GracePeriodDays: form.GracePeriod,
		},
		ApprovalCeiling: form.ApprovalCeil,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, assoc)
}

func (h *Handler) handleGetAssociation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "associationID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid association id")
		return
	}
	assoc, err := h.service.GetAssociation(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, assoc)
}

type cotisationSettingsForm struct {
	DueDay                    int     `json:"dueDay" validate:"required,min=1,max=31"`
	GracePeriodDays           int     `json:"gracePeriodDays" validate:"min=0"`
	LateFeesEnabled           bool    `json:"lateFeesEnabled"`
	LateFeesAmount            float64 `json:"lateFeesAmount" validate:"min=0"`
	InactivityThresholdMonths int     `json:"inactivityThresholdMonths" validate:"min=0"`
}

func (h *Handler) handleUpdateCotisationSettings(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "associationID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid association id")
		return
	}
	actor, assoc, err := h.actors.Load(r.Context(), r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if assoc.ID != id || !HasPermission(actor, assoc, perm.PermSettingsEdit) {
		httpx.RespondError(w, shared.Authorizationf("member %s may not manage settings", actor.ID))
		return
	}
	var form cotisationSettingsForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.UpdateCotisationSettings(r.Context(), id, CotisationSettings{
		DueDay:                    form.DueDay,
		GracePeriodDays:           form.GracePeriodDays,
		LateFeesEnabled:           form.LateFeesEnabled,
		LateFeesAmount:            form.LateFeesAmount,
		InactivityThresholdMonths: form.InactivityThresholdMonths,
	}); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type memberTypeForm struct {
	Name             string   `json:"name" validate:"required"`
	CotisationAmount float64  `json:"cotisationAmount" validate:"min=0"`
	Permissions      []string `json:"permissions"`
}

func (h *Handler) handleAddMemberType(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "associationID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid association id")
		return
	}
	var form memberTypeForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	perms := make([]perm.Permission, 0, len(form.Permissions))
	for _, p := range form.Permissions {
		perms = append(perms, perm.Permission(p))
	}
	if err := h.service.AddMemberType(r.Context(), id, MemberType{
		Name:             form.Name,
		CotisationAmount: form.CotisationAmount,
		Permissions:      perms,
	}); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

type updateMemberTypeForm struct {
	CotisationAmount float64  `json:"cotisationAmount" validate:"min=0"`
	Permissions      []string `json:"permissions"`
}

func (h *Handler) handleUpdateMemberType(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "associationID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid association id")
		return
	}
	actor, assoc, err := h.actors.Load(r.Context(), r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if assoc.ID != id || !HasPermission(actor, assoc, perm.PermSettingsEdit) {
		httpx.RespondError(w, shared.Authorizationf("member %s may not manage settings", actor.ID))
		return
	}
	var form updateMemberTypeForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	perms := make([]perm.Permission, 0, len(form.Permissions))
	for _, p := range form.Permissions {
		perms = append(perms, perm.Permission(p))
	}
	if err := h.service.UpdateMemberType(r.Context(), id, MemberType{
		Name:             chi.URLParam(r, "typeName"),
		CotisationAmount: form.CotisationAmount,
		Permissions:      perms,
	}); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createSectionForm struct {
	Country  string `json:"country" validate:"required"`
	City     string `json:"city" validate:"required"`
	Currency string `json:"currency" validate:"required,len=3"`
	Language string `json:"language" validate:"required"`
}

func (h *Handler) handleCreateSection(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "associationID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid association id")
		return
	}
	var form createSectionForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	section, err := h.service.CreateSection(r.Context(), id, form.Country, form.City, form.Currency, form.Language)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, section)
}

func (h *Handler) handleDeleteSection(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "sectionID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid section id")
		return
	}
	if err := h.service.DeleteSection(r.Context(), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type bureauForm struct {
	ResponsableID *uuid.UUID `json:"responsableId"`
	SecretaireID  *uuid.UUID `json:"secretaireId"`
	TresorierID   *uuid.UUID `json:"tresorierId"`
}

func (h *Handler) handleSetBureau(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "sectionID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid section id")
		return
	}
	var form bureauForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.service.SetBureau(r.Context(), id, Bureau{
		ResponsableID: form.ResponsableID,
		SecretaireID:  form.SecretaireID,
		TresorierID:   form.TresorierID,
	}); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createRoleForm struct {
	ID          string   `json:"id" validate:"required"`
	Name        string   `json:"name" validate:"required"`
	Color       string   `json:"color"`
	Permissions []string `json:"permissions"`
}

func (h *Handler) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "associationID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid association id")
		return
	}
	actor, assoc, err := h.actors.Load(r.Context(), r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if !HasPermission(actor, assoc, perm.PermRolesEdit) {
		httpx.RespondError(w, shared.Authorizationf("member %s may not manage roles", actor.ID))
		return
	}
	var form createRoleForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	perms := make([]perm.Permission, 0, len(form.Permissions))
	for _, p := range form.Permissions {
		perms = append(perms, perm.Permission(p))
	}
	if err := h.service.CreateRole(r.Context(), id, Role{
		ID:          form.ID,
		Name:        form.Name,
		Color:       form.Color,
		Permissions: perms,
	}); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "associationID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid association id")
		return
	}
	if err := h.service.DeleteRole(r.Context(), id, chi.URLParam(r, "roleID")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addMemberForm struct {
	UserID     uuid.UUID  `json:"userId" validate:"required"`
	MemberType string     `json:"memberType" validate:"required"`
	SectionID  *uuid.UUID `json:"sectionId"`
	JoinDate   string     `json:"joinDate" validate:"omitempty,datetime=2006-01-02"`
	Roles      []string   `json:"roles"`
}

func (h *Handler) handleAddMember(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "associationID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid association id")
		return
	}
	actor, assoc, err := h.actors.Load(r.Context(), r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if assoc.ID != id || !HasPermission(actor, assoc, perm.PermMembersEdit) {
		httpx.RespondError(w, shared.Authorizationf("member %s may not manage members", actor.ID))
		return
	}
	var form addMemberForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	joinDate := time.Now()
	if form.JoinDate != "" {
		joinDate, _ = time.Parse("2006-01-02", form.JoinDate)
	}
	member, err := h.service.AddMember(r.Context(), AddMemberInput{
		UserID:        form.UserID,
		AssociationID: id,
		SectionID:     form.SectionID,
		MemberType:    form.MemberType,
		JoinDate:      joinDate,
		Roles:         form.Roles,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, member)
}

func (h *Handler) handleListMembers(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "associationID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid association id")
		return
	}
	members, err := h.service.ListMembers(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, members)
}

func (h *Handler) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	memberID, err := uuid.Parse(chi.URLParam(r, "memberID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid member id")
		return
	}
	if err := h.service.AssignRole(r.Context(), memberID, chi.URLParam(r, "roleID")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRemoveRole(w http.ResponseWriter, r *http.Request) {
	memberID, err := uuid.Parse(chi.URLParam(r, "memberID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid member id")
		return
	}
	if err := h.service.RemoveRole(r.Context(), memberID, chi.URLParam(r, "roleID")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type overridesForm struct {
	Grant  []string `json:"grant"`
	Revoke []string `json:"revoke"`
}

func (h *Handler) handleSetOverrides(w http.ResponseWriter, r *http.Request) {
	memberID, err := uuid.Parse(chi.URLParam(r, "memberID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid member id")
		return
	}
	var form overridesForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	overrides := perm.Overrides{}
	for _, p := range form.Grant {
		overrides.Grant = append(overrides.Grant, perm.Permission(p))
	}
	for _, p := range form.Revoke {
		overrides.Revoke = append(overrides.Revoke, perm.Permission(p))
	}
	if err := h.service.SetPermissionOverrides(r.Context(), memberID, overrides); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type changeSectionForm struct {
	SectionID *uuid.UUID `json:"sectionId"`
}

func (h *Handler) handleChangeMemberSection(w http.ResponseWriter, r *http.Request) {
	memberID, err := uuid.Parse(chi.URLParam(r, "memberID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid member id")
		return
	}
	var form changeSectionForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.service.ChangeMemberSection(r.Context(), memberID, form.SectionID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type memberStatusForm struct {
	Status string `json:"status" validate:"required,oneof=active pending suspended inactive"`
}

func (h *Handler) handleSetMemberStatus(w http.ResponseWriter, r *http.Request) {
	memberID, err := uuid.Parse(chi.URLParam(r, "memberID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid member id")
		return
	}
	var form memberStatusForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.SetMemberStatus(r.Context(), memberID, MemberStatus(form.Status)); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
