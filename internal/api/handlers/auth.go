package handlers

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"carebase/internal/core"
	"carebase/internal/types"
)

// AuthService defines the authentication operations the auth handler uses.
// Implemented by auth.Service.
type AuthService interface {
	Login(ctx context.Context, email, password, ip, userAgent string) (*types.Staff, *types.Session, string, error)
	Logout(ctx context.Context, rawToken string) error
	ChangePassword(ctx context.Context, staffID, orgID, currentPassword, newPassword string) error
}

// AuthStaffRepo provides the staff lookup for GET /v1/auth/me.
type AuthStaffRepo interface {
	GetByID(ctx context.Context, id string, orgID string) (*types.Staff, error)
}

// LoginRequest is the request body for POST /v1/auth/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

// LoginResponse carries the bearer token and the authenticated staff member.
// The raw token appears only here; it is never retrievable again.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Staff     StaffDTO  `json:"staff"`
}

// ChangePasswordRequest is the request body for PATCH /v1/auth/password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=72"`
}

// AuthHandler serves login, logout, and password management.
type AuthHandler struct {
	service   AuthService
	staffRepo AuthStaffRepo
	audit     AuditLogger
	validator *core.Validator
	logger    *slog.Logger
}

// NewAuthHandler creates an AuthHandler with the provided dependencies.
func NewAuthHandler(service AuthService, staffRepo AuthStaffRepo, audit AuditLogger, v *core.Validator, l *slog.Logger) *AuthHandler {
	if l == nil {
		l = slog.Default()
	}
	return &AuthHandler{
		service:   service,
		staffRepo: staffRepo,
		audit:     audit,
		validator: v,
		logger:    l,
	}
}

// Routes returns the route registrar for the auth endpoints.
func (h *AuthHandler) Routes() func(r chi.Router) {
	return func(r chi.Router) {
		r.Post("/auth/login", h.Login)
		r.Post("/auth/logout", h.Logout)
		r.Patch("/auth/password", h.ChangePassword)
		r.Get("/auth/me", h.Me)
	}
}

// Login handles POST /v1/auth/login. Unknown emails and wrong passwords both
// produce the same invalid-credentials error.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	staff, session, rawToken, err := h.service.Login(r.Context(), req.Email, req.Password, clientIP(r), r.UserAgent())
	if err != nil {
		core.Error(w, r, err)
		return
	}

	emitAudit(r.Context(), h.audit, h.logger, types.Actor{
		ID:             staff.ID,
		Type:           types.ActorTypeStaff,
		OrganizationID: staff.OrganizationID,
		Role:           staff.Role,
	}, types.AuditActionLogin, staff.ID, "staff")

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: LoginResponse{
		Token:     rawToken,
		ExpiresAt: session.ExpiresAt,
		Staff:     toStaffDTO(staff),
	}})
}

// Logout handles POST /v1/auth/logout. It invalidates the session backing the
// presented bearer token.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenMissing,
			"Bearer token is required",
			nil,
		))
		return
	}

	if err := h.service.Logout(r.Context(), token); err != nil {
		core.Error(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ChangePassword handles PATCH /v1/auth/password. On success every other
// session for the staff member is revoked.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenMissing,
			"Authentication required",
			nil,
		))
		return
	}

	var req ChangePasswordRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.service.ChangePassword(r.Context(), actor.ID, actor.OrganizationID, req.CurrentPassword, req.NewPassword); err != nil {
		core.Error(w, r, err)
		return
	}

	emitAudit(r.Context(), h.audit, h.logger, actor, types.AuditActionPasswordChanged, actor.ID, "staff")

	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: map[string]string{"message": "password updated"},
	})
}

// Me handles GET /v1/auth/me. Returns the authenticated staff member.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenMissing,
			"Authentication required",
			nil,
		))
		return
	}

	staff, err := h.staffRepo.GetByID(r.Context(), actor.ID, actor.OrganizationID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: toStaffDTO(staff)})
}

// bearerToken extracts the bearer token from the Authorization header.
func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// clientIP extracts the remote IP without the port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
