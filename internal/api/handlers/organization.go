package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"carebase/internal/core"
	"carebase/internal/types"
)

// OrgRepo defines the data access contract for organization operations.
type OrgRepo interface {
	GetByID(ctx context.Context, id string) (*types.Organization, error)
	Update(ctx context.Context, org *types.Organization) error
}

// UpdateOrganizationRequest is the request body for PATCH /v1/organization.
// Omitted fields are left unchanged; empty strings clear optional fields.
type UpdateOrganizationRequest struct {
	Name         *string `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	BillingEmail *string `json:"billing_email,omitempty" validate:"omitempty,email"`
	Address      *string `json:"address,omitempty" validate:"omitempty,max=500"`
	Phone        *string `json:"phone,omitempty" validate:"omitempty,max=30"`
	WebhookURL   *string `json:"webhook_url,omitempty" validate:"omitempty,url"`
}

// OrganizationDTO is the API representation of an organization.
type OrganizationDTO struct {
	ID                 string         `json:"id"`
	Name               string         `json:"name"`
	BillingEmail       string         `json:"billing_email"`
	Plan               types.PlanTier `json:"plan"`
	Address            string         `json:"address,omitempty"`
	Phone              string         `json:"phone,omitempty"`
	WebhookURL         string         `json:"webhook_url,omitempty"`
	FreeStaffAllowance int            `json:"free_staff_allowance"`
}

// OrganizationHandler serves the organization profile endpoints.
type OrganizationHandler struct {
	orgRepo   OrgRepo
	audit     AuditLogger
	validator *core.Validator
	logger    *slog.Logger
}

// NewOrganizationHandler creates an OrganizationHandler.
func NewOrganizationHandler(orgRepo OrgRepo, audit AuditLogger, v *core.Validator, l *slog.Logger) *OrganizationHandler {
	if l == nil {
		l = slog.Default()
	}
	return &OrganizationHandler{
		orgRepo:   orgRepo,
		audit:     audit,
		validator: v,
		logger:    l,
	}
}

// Routes returns the route registrar for the organization endpoints.
// Profile updates require admin or above.
func (h *OrganizationHandler) Routes(guard RoleGuard) func(r chi.Router) {
	return func(r chi.Router) {
		r.Get("/organization", h.Get)
		r.With(guard(types.RoleAdmin)).Patch("/organization", h.Update)
	}
}

// Get handles GET /v1/organization.
func (h *OrganizationHandler) Get(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	org, err := h.orgRepo.GetByID(r.Context(), orgID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: toOrganizationDTO(org)})
}

// Update handles PATCH /v1/organization. Plan changes go through
// POST /v1/billing/plan, not this endpoint.
func (h *OrganizationHandler) Update(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}
	actor, _ := types.GetActor(r.Context())

	var req UpdateOrganizationRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	org, err := h.orgRepo.GetByID(r.Context(), orgID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if req.Name != nil {
		org.Name = *req.Name
	}
	if req.BillingEmail != nil {
		org.BillingEmail = *req.BillingEmail
	}
	if req.Address != nil {
		org.Address = *req.Address
	}
	if req.Phone != nil {
		org.Phone = *req.Phone
	}
	if req.WebhookURL != nil {
		org.WebhookURL = *req.WebhookURL
	}

	if err := h.orgRepo.Update(r.Context(), org); err != nil {
		core.Error(w, r, err)
		return
	}

	emitAudit(r.Context(), h.audit, h.logger, actor, types.AuditActionOrgUpdated, orgID, "organization")

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: toOrganizationDTO(org)})
}

// toOrganizationDTO converts an Organization to its API representation.
func toOrganizationDTO(o *types.Organization) OrganizationDTO {
	return OrganizationDTO{
		ID:                 o.ID,
		Name:               o.Name,
		BillingEmail:       o.BillingEmail,
		Plan:               o.Plan,
		Address:            o.Address,
		Phone:              o.Phone,
		WebhookURL:         o.WebhookURL,
		FreeStaffAllowance: o.FreeStaffAllowance,
	}
}
