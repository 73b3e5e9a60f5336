package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"carebase/internal/auth"
	"carebase/internal/billing"
	"carebase/internal/core"
	"carebase/internal/db"
	"carebase/internal/types"
)

// StaffRepo defines the data access contract for staff operations.
// Mirrors the db.StaffRepository methods relevant to this handler.
type StaffRepo interface {
	Create(ctx context.Context, st *types.Staff) error
	GetByID(ctx context.Context, id string, orgID string) (*types.Staff, error)
	List(ctx context.Context, orgID string, params db.ListStaffParams) ([]*types.Staff, types.PageInfo, error)
	Update(ctx context.Context, st *types.Staff) error
	UpdateStatus(ctx context.Context, id string, orgID string, status types.StaffStatus) error
	CountRepresentatives(ctx context.Context, orgID string) (int, error)
	CountActive(ctx context.Context, orgID string) (int, error)
}

// InvitationRepo defines the data access contract for staff invitations.
type InvitationRepo interface {
	Create(ctx context.Context, inv *types.Invitation) error
	GetByID(ctx context.Context, id string, orgID string) (*types.Invitation, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*types.Invitation, error)
	ListPending(ctx context.Context, orgID string) ([]*types.Invitation, error)
	ExpireStale(ctx context.Context, orgID string) (int, error)
	MarkAccepted(ctx context.Context, id string) error
	Revoke(ctx context.Context, id string, orgID string) error
	UpdateToken(ctx context.Context, id string, orgID string, tokenHash string, expiresAt time.Time) error
}

// StaffSessionRepo provides session invalidation when a staff member is retired.
type StaffSessionRepo interface {
	DeleteByStaff(ctx context.Context, staffID string) (int, error)
}

// StaffOrgRepo provides the plan lookup for staff-limit enforcement.
type StaffOrgRepo interface {
	GetByID(ctx context.Context, id string) (*types.Organization, error)
}

// InviteTokenGenerator issues opaque invitation tokens.
type InviteTokenGenerator interface {
	GenerateInviteToken() (string, error)
}

// PasswordService hashes passwords for the invitation accept flow.
type PasswordService interface {
	HashPassword(password string) (string, error)
}

// --- Request/Response Models ---

// StaffDTO is the safe API representation of a staff member.
type StaffDTO struct {
	ID          string            `json:"id"`
	Email       string            `json:"email"`
	Name        string            `json:"name"`
	NameKana    string            `json:"name_kana,omitempty"`
	Role        types.StaffRole   `json:"role"`
	Status      types.StaffStatus `json:"status"`
	LastLoginAt *time.Time        `json:"last_login_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// UpdateStaffRequest is the request body for PATCH /v1/staff/{id}.
type UpdateStaffRequest struct {
	Name     *string          `json:"name,omitempty" validate:"omitempty,min=1,max=100"`
	NameKana *string          `json:"name_kana,omitempty" validate:"omitempty,max=100"`
	Role     *types.StaffRole `json:"role,omitempty" validate:"omitempty,staff_role"`
}

// InviteStaffRequest is the request body for POST /v1/staff/invitations.
type InviteStaffRequest struct {
	Email string          `json:"email" validate:"required,email"`
	Role  types.StaffRole `json:"role" validate:"required,oneof=admin caregiver"`
}

// InvitationDTO is the API representation of a staff invitation.
// AcceptURL is present only on create/resend responses.
type InvitationDTO struct {
	ID        string                 `json:"id"`
	Email     string                 `json:"email"`
	Role      types.StaffRole        `json:"role"`
	Status    types.InvitationStatus `json:"status"`
	InvitedBy string                 `json:"invited_by"`
	ExpiresAt time.Time              `json:"expires_at"`
	CreatedAt time.Time              `json:"created_at"`
	AcceptURL string                 `json:"accept_url,omitempty"`
}

// AcceptInvitationRequest is the request body for the public endpoint
// POST /v1/auth/invitations/accept.
type AcceptInvitationRequest struct {
	Token    string `json:"token" validate:"required,len=64"`
	Name     string `json:"name" validate:"required,min=1,max=100"`
	NameKana string `json:"name_kana,omitempty" validate:"omitempty,max=100"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// StaffHandlerConfig carries the invitation parameters from configuration.
type StaffHandlerConfig struct {
	InviteTTL    time.Duration
	DashboardURL string
}

// StaffHandler manages the staff lifecycle and the invitation flow.
type StaffHandler struct {
	staffRepo   StaffRepo
	inviteRepo  InvitationRepo
	sessionRepo StaffSessionRepo
	orgRepo     StaffOrgRepo
	catalog     billing.Catalog
	tokenGen    InviteTokenGenerator
	passwords   PasswordService
	audit       AuditLogger
	validator   *core.Validator
	logger      *slog.Logger
	cfg         StaffHandlerConfig
}

// NewStaffHandler creates a StaffHandler with the provided dependencies.
func NewStaffHandler(
	staffRepo StaffRepo,
	inviteRepo InvitationRepo,
	sessionRepo StaffSessionRepo,
	orgRepo StaffOrgRepo,
	catalog billing.Catalog,
	tokenGen InviteTokenGenerator,
	passwords PasswordService,
	audit AuditLogger,
	v *core.Validator,
	l *slog.Logger,
	cfg StaffHandlerConfig,
) *StaffHandler {
	if l == nil {
		l = slog.Default()
	}
	if cfg.InviteTTL <= 0 {
		cfg.InviteTTL = 72 * time.Hour
	}
	return &StaffHandler{
		staffRepo:   staffRepo,
		inviteRepo:  inviteRepo,
		sessionRepo: sessionRepo,
		orgRepo:     orgRepo,
		catalog:     catalog,
		tokenGen:    tokenGen,
		passwords:   passwords,
		audit:       audit,
		validator:   v,
		logger:      l,
		cfg:         cfg,
	}
}

// Routes returns the route registrar for the staff endpoints. Invitation
// management requires admin or above; retiring staff requires admin.
func (h *StaffHandler) Routes(guard RoleGuard) func(r chi.Router) {
	return func(r chi.Router) {
		r.Get("/staff", h.List)
		r.Get("/staff/{id}", h.Get)
		r.With(guard(types.RoleAdmin)).Patch("/staff/{id}", h.Update)
		r.With(guard(types.RoleAdmin)).Delete("/staff/{id}", h.Retire)

		r.With(guard(types.RoleAdmin)).Post("/staff/invitations", h.Invite)
		r.With(guard(types.RoleAdmin)).Get("/staff/invitations", h.ListInvitations)
		r.With(guard(types.RoleAdmin)).Delete("/staff/invitations/{id}", h.RevokeInvitation)
		r.With(guard(types.RoleAdmin)).Post("/staff/invitations/{id}/resend", h.ResendInvitation)

		// Public: token in the body authenticates the caller.
		r.Post("/auth/invitations/accept", h.AcceptInvitation)
	}
}

// List handles GET /v1/staff with optional status and role filters.
func (h *StaffHandler) List(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	filter := db.ListStaffParams{
		Limit:  limit,
		Cursor: r.URL.Query().Get("cursor"),
	}

	if statusStr := r.URL.Query().Get("status"); statusStr != "" {
		status := types.StaffStatus(statusStr)
		switch status {
		case types.StaffActive, types.StaffInvited, types.StaffRetired:
			filter.Status = []types.StaffStatus{status}
		default:
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationInvalidField,
				"status must be one of: active, invited, retired",
				nil,
			))
			return
		}
	}

	if roleStr := r.URL.Query().Get("role"); roleStr != "" {
		role := types.StaffRole(roleStr)
		switch role {
		case types.RoleRepresentative, types.RoleAdmin, types.RoleCaregiver:
			filter.Role = role
		default:
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationInvalidField,
				"role must be one of: representative, admin, caregiver",
				nil,
			))
			return
		}
	}

	staff, pageInfo, err := h.staffRepo.List(r.Context(), orgID, filter)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	data := make([]StaffDTO, 0, len(staff))
	for _, st := range staff {
		data = append(data, toStaffDTO(st))
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: data, Meta: listMeta(pageInfo)})
}

// Get handles GET /v1/staff/{id}.
func (h *StaffHandler) Get(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	staff, err := h.staffRepo.GetByID(r.Context(), chi.URLParam(r, "id"), orgID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: toStaffDTO(staff)})
}

// Update handles PATCH /v1/staff/{id}.
//
// Role transition rules:
//   - Only the representative can grant or remove the representative role.
//   - The last representative cannot be demoted.
func (h *StaffHandler) Update(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}
	actor, _ := types.GetActor(r.Context())

	var req UpdateStaffRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	target, err := h.staffRepo.GetByID(r.Context(), chi.URLParam(r, "id"), orgID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if req.Name != nil {
		target.Name = *req.Name
	}
	if req.NameKana != nil {
		target.NameKana = *req.NameKana
	}
	if req.Role != nil && *req.Role != target.Role {
		if err := h.validateRoleTransition(r.Context(), actor, target, *req.Role, orgID); err != nil {
			core.Error(w, r, err)
			return
		}
		target.Role = *req.Role
	}

	if err := h.staffRepo.Update(r.Context(), target); err != nil {
		core.Error(w, r, err)
		return
	}

	emitAudit(r.Context(), h.audit, h.logger, actor, types.AuditActionStaffUpdated, target.ID, "staff")

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: toStaffDTO(target)})
}

// Retire handles DELETE /v1/staff/{id}. Staff records are never hard-deleted;
// the account moves to the terminal retired status and all of its sessions
// are revoked.
func (h *StaffHandler) Retire(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}
	actor, _ := types.GetActor(r.Context())

	targetID := chi.URLParam(r, "id")
	target, err := h.staffRepo.GetByID(r.Context(), targetID, orgID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	// Admins cannot retire the representative; the representative can retire
	// anyone but the last representative.
	if target.Role == types.RoleRepresentative {
		if actor.Role != types.RoleRepresentative {
			core.Error(w, r, types.NewAppError(
				types.ErrCodePermissionRole,
				"only the representative can retire a representative",
				nil,
			))
			return
		}
		repCount, err := h.staffRepo.CountRepresentatives(r.Context(), orgID)
		if err != nil {
			core.Error(w, r, err)
			return
		}
		if repCount <= 1 {
			core.Error(w, r, types.NewAppError(
				types.ErrCodePermissionRole,
				"cannot retire the last representative of the organization",
				nil,
			))
			return
		}
	}

	if err := h.staffRepo.UpdateStatus(r.Context(), targetID, orgID, types.StaffRetired); err != nil {
		core.Error(w, r, err)
		return
	}

	if h.sessionRepo != nil {
		if _, err := h.sessionRepo.DeleteByStaff(r.Context(), targetID); err != nil {
			h.logger.WarnContext(r.Context(), "failed to revoke sessions for retired staff",
				"staff_id", targetID,
				"error", err,
			)
		}
	}

	emitAudit(r.Context(), h.audit, h.logger, actor, types.AuditActionStaffDeleted, targetID, "staff")

	w.WriteHeader(http.StatusNoContent)
}

// Invite handles POST /v1/staff/invitations.
//
//  1. Validate input; the representative role cannot be granted by invite.
//  2. Enforce the plan's staff limit.
//  3. Generate an opaque token; store only its digest.
//  4. Return the accept URL once. It is not retrievable afterwards.
func (h *StaffHandler) Invite(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}
	actor, _ := types.GetActor(r.Context())

	var req InviteStaffRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.checkStaffLimit(r.Context(), orgID); err != nil {
		core.Error(w, r, err)
		return
	}

	rawToken, err := h.tokenGen.GenerateInviteToken()
	if err != nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to generate invitation token",
			err,
		))
		return
	}

	now := time.Now().UTC()
	inv := &types.Invitation{
		ID:             "inv_" + uuid.NewString(),
		OrganizationID: orgID,
		Email:          auth.CanonicalizeEmail(req.Email),
		Role:           req.Role,
		Status:         types.InvitationPending,
		TokenHash:      auth.HashToken(rawToken),
		InvitedBy:      actor.ID,
		ExpiresAt:      now.Add(h.cfg.InviteTTL),
		CreatedAt:      now,
	}

	if err := h.inviteRepo.Create(r.Context(), inv); err != nil {
		core.Error(w, r, err)
		return
	}

	emitAudit(r.Context(), h.audit, h.logger, actor, types.AuditActionInviteCreated, inv.ID, "invitation")

	dto := toInvitationDTO(inv)
	dto.AcceptURL = h.acceptURL(rawToken)
	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: dto})
}

// ListInvitations handles GET /v1/staff/invitations. Only pending,
// unexpired invitations are returned.
func (h *StaffHandler) ListInvitations(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	// Lazily expire overdue invitations so the pending list never shows a
	// token that can no longer be accepted.
	if _, err := h.inviteRepo.ExpireStale(r.Context(), orgID); err != nil {
		h.logger.WarnContext(r.Context(), "failed to expire stale invitations", "error", err)
	}

	invitations, err := h.inviteRepo.ListPending(r.Context(), orgID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	data := make([]InvitationDTO, 0, len(invitations))
	for _, inv := range invitations {
		data = append(data, toInvitationDTO(inv))
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: data})
}

// RevokeInvitation handles DELETE /v1/staff/invitations/{id}. Already
// accepted or revoked invitations report a conflict.
func (h *StaffHandler) RevokeInvitation(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}
	actor, _ := types.GetActor(r.Context())

	inviteID := chi.URLParam(r, "id")
	if err := h.inviteRepo.Revoke(r.Context(), inviteID, orgID); err != nil {
		core.Error(w, r, err)
		return
	}

	emitAudit(r.Context(), h.audit, h.logger, actor, types.AuditActionInviteRevoked, inviteID, "invitation")

	w.WriteHeader(http.StatusNoContent)
}

// ResendInvitation handles POST /v1/staff/invitations/{id}/resend. The old
// token stops working; a fresh accept URL is returned.
func (h *StaffHandler) ResendInvitation(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}
	actor, _ := types.GetActor(r.Context())

	inviteID := chi.URLParam(r, "id")
	inv, err := h.inviteRepo.GetByID(r.Context(), inviteID, orgID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if inv.Status != types.InvitationPending {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeConflictInvite,
			"only pending invitations can be resent",
			nil,
		))
		return
	}

	rawToken, err := h.tokenGen.GenerateInviteToken()
	if err != nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to generate invitation token",
			err,
		))
		return
	}

	expiresAt := time.Now().UTC().Add(h.cfg.InviteTTL)
	if err := h.inviteRepo.UpdateToken(r.Context(), inviteID, orgID, auth.HashToken(rawToken), expiresAt); err != nil {
		core.Error(w, r, err)
		return
	}

	emitAudit(r.Context(), h.audit, h.logger, actor, types.AuditActionInviteCreated, inviteID, "invitation")

	inv.ExpiresAt = expiresAt
	dto := toInvitationDTO(inv)
	dto.AcceptURL = h.acceptURL(rawToken)
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: dto})
}

// AcceptInvitation handles POST /v1/auth/invitations/accept. The endpoint is
// public; the invitation token authenticates the caller.
func (h *StaffHandler) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	var req AcceptInvitationRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	inv, err := h.inviteRepo.GetByTokenHash(r.Context(), auth.HashToken(req.Token))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if time.Now().UTC().After(inv.ExpiresAt) {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenInvalid,
			"invitation has expired",
			nil,
		))
		return
	}

	passwordHash, err := h.passwords.HashPassword(req.Password)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	now := time.Now().UTC()
	staff := &types.Staff{
		ID:             "stf_" + uuid.NewString(),
		OrganizationID: inv.OrganizationID,
		Email:          inv.Email,
		Name:           req.Name,
		NameKana:       req.NameKana,
		PasswordHash:   passwordHash,
		Role:           inv.Role,
		Status:         types.StaffActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := h.staffRepo.Create(r.Context(), staff); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.inviteRepo.MarkAccepted(r.Context(), inv.ID); err != nil {
		// The staff record exists; a failed status flip surfaces as a
		// conflict on the next accept attempt rather than a broken account.
		h.logger.ErrorContext(r.Context(), "failed to mark invitation accepted",
			"invitation_id", inv.ID,
			"error", err,
		)
	}

	emitAudit(r.Context(), h.audit, h.logger, types.Actor{
		ID:             staff.ID,
		Type:           types.ActorTypeStaff,
		OrganizationID: staff.OrganizationID,
		Role:           staff.Role,
	}, types.AuditActionInviteAccepted, inv.ID, "invitation")

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: toStaffDTO(staff)})
}

// validateRoleTransition enforces the role change rules for Update.
func (h *StaffHandler) validateRoleTransition(ctx context.Context, actor types.Actor, target *types.Staff, newRole types.StaffRole, orgID string) error {
	if newRole == types.RoleRepresentative || target.Role == types.RoleRepresentative {
		if actor.Role != types.RoleRepresentative {
			return types.NewAppError(
				types.ErrCodePermissionRole,
				"only the representative can change representative roles",
				nil,
			)
		}
	}

	if target.Role == types.RoleRepresentative && newRole != types.RoleRepresentative {
		repCount, err := h.staffRepo.CountRepresentatives(ctx, orgID)
		if err != nil {
			return err
		}
		if repCount <= 1 {
			return types.NewAppError(
				types.ErrCodePermissionRole,
				"cannot demote the last representative of the organization",
				nil,
			)
		}
	}

	return nil
}

// checkStaffLimit rejects invitations that would exceed the plan's staff cap.
// Plans with MaxStaff == 0 are unlimited.
func (h *StaffHandler) checkStaffLimit(ctx context.Context, orgID string) error {
	org, err := h.orgRepo.GetByID(ctx, orgID)
	if err != nil {
		return err
	}

	plan, ok := h.catalog.GetPlan(org.Plan)
	if !ok || plan.MaxStaff == 0 {
		return nil
	}

	active, err := h.staffRepo.CountActive(ctx, orgID)
	if err != nil {
		return err
	}
	if active >= plan.MaxStaff {
		return types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidPlan,
			fmt.Sprintf("the %s plan allows at most %d staff member(s)", org.Plan, plan.MaxStaff),
			nil,
			map[string]any{"max_staff": plan.MaxStaff, "active_staff": active},
		)
	}
	return nil
}

// acceptURL builds the invitation accept link shown to the inviter.
func (h *StaffHandler) acceptURL(rawToken string) string {
	return fmt.Sprintf("%s/invitations/accept?token=%s", h.cfg.DashboardURL, rawToken)
}

// toStaffDTO converts a Staff to the safe API representation.
func toStaffDTO(st *types.Staff) StaffDTO {
	return StaffDTO{
		ID:          st.ID,
		Email:       st.Email,
		Name:        st.Name,
		NameKana:    st.NameKana,
		Role:        st.Role,
		Status:      st.Status,
		LastLoginAt: st.LastLoginAt,
		CreatedAt:   st.CreatedAt,
	}
}

// toInvitationDTO converts an Invitation to its API representation.
func toInvitationDTO(inv *types.Invitation) InvitationDTO {
	return InvitationDTO{
		ID:        inv.ID,
		Email:     inv.Email,
		Role:      inv.Role,
		Status:    inv.Status,
		InvitedBy: inv.InvitedBy,
		ExpiresAt: inv.ExpiresAt,
		CreatedAt: inv.CreatedAt,
	}
}
