package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"carebase/internal/core"
	"carebase/internal/db"
	"carebase/internal/types"
)

// ClientRepo defines the data access contract for client operations.
type ClientRepo interface {
	Create(ctx context.Context, cl *types.Client) error
	GetByID(ctx context.Context, id string, orgID string) (*types.Client, error)
	List(ctx context.Context, orgID string, params db.ListClientsParams) ([]*types.Client, types.PageInfo, error)
	Update(ctx context.Context, cl *types.Client) error
	Delete(ctx context.Context, id string, orgID string) error
}

// CreateClientRequest is the request body for POST /v1/clients.
type CreateClientRequest struct {
	Name       string          `json:"name" validate:"required,min=1,max=100"`
	NameKana   string          `json:"name_kana,omitempty" validate:"omitempty,max=100"`
	BirthDate  *time.Time      `json:"birth_date,omitempty"`
	CareLevel  types.CareLevel `json:"care_level,omitempty" validate:"omitempty,care_level"`
	RoomNumber string          `json:"room_number,omitempty" validate:"omitempty,max=20"`
	Notes      string          `json:"notes,omitempty" validate:"omitempty,max=2000"`
}

// UpdateClientRequest is the request body for PATCH /v1/clients/{id}.
type UpdateClientRequest struct {
	Name       *string             `json:"name,omitempty" validate:"omitempty,min=1,max=100"`
	NameKana   *string             `json:"name_kana,omitempty" validate:"omitempty,max=100"`
	BirthDate  *time.Time          `json:"birth_date,omitempty"`
	CareLevel  *types.CareLevel    `json:"care_level,omitempty" validate:"omitempty,care_level"`
	Status     *types.ClientStatus `json:"status,omitempty" validate:"omitempty,oneof=active suspended discharged"`
	RoomNumber *string             `json:"room_number,omitempty" validate:"omitempty,max=20"`
	Notes      *string             `json:"notes,omitempty" validate:"omitempty,max=2000"`
}

// ClientHandler manages care recipient records.
type ClientHandler struct {
	clientRepo ClientRepo
	audit      AuditLogger
	validator  *core.Validator
	logger     *slog.Logger
}

// NewClientHandler creates a ClientHandler with the provided dependencies.
func NewClientHandler(clientRepo ClientRepo, audit AuditLogger, v *core.Validator, l *slog.Logger) *ClientHandler {
	if l == nil {
		l = slog.Default()
	}
	return &ClientHandler{
		clientRepo: clientRepo,
		audit:      audit,
		validator:  v,
		logger:     l,
	}
}

// Routes returns the route registrar for the client endpoints. All staff
// roles can read; caregivers can also write since daily record keeping is
// their job.
func (h *ClientHandler) Routes() func(r chi.Router) {
	return func(r chi.Router) {
		r.Get("/clients", h.List)
		r.Post("/clients", h.Create)
		r.Get("/clients/{id}", h.Get)
		r.Patch("/clients/{id}", h.Update)
		r.Delete("/clients/{id}", h.Delete)
	}
}

// List handles GET /v1/clients with optional status, care level, and name
// search filters.
func (h *ClientHandler) List(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	params := db.ListClientsParams{
		Limit:  limit,
		Cursor: r.URL.Query().Get("cursor"),
		Search: r.URL.Query().Get("q"),
	}

	if statusStr := r.URL.Query().Get("status"); statusStr != "" {
		status := types.ClientStatus(statusStr)
		switch status {
		case types.ClientActive, types.ClientSuspended, types.ClientDischarged:
			params.Status = []types.ClientStatus{status}
		default:
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationInvalidField,
				"status must be one of: active, suspended, discharged",
				nil,
			))
			return
		}
	}

	if level := r.URL.Query().Get("care_level"); level != "" {
		params.CareLevel = types.CareLevel(level)
	}

	clients, pageInfo, err := h.clientRepo.List(r.Context(), orgID, params)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: clients, Meta: listMeta(pageInfo)})
}

// Create handles POST /v1/clients.
func (h *ClientHandler) Create(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}
	actor, _ := types.GetActor(r.Context())

	var req CreateClientRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	now := time.Now().UTC()
	client := &types.Client{
		ID:             "cli_" + uuid.NewString(),
		OrganizationID: orgID,
		Name:           req.Name,
		NameKana:       req.NameKana,
		BirthDate:      req.BirthDate,
		CareLevel:      req.CareLevel,
		Status:         types.ClientActive,
		RoomNumber:     req.RoomNumber,
		Notes:          req.Notes,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := h.clientRepo.Create(r.Context(), client); err != nil {
		core.Error(w, r, err)
		return
	}

	emitAudit(r.Context(), h.audit, h.logger, actor, types.AuditActionClientCreated, client.ID, "client")

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: client})
}

// Get handles GET /v1/clients/{id}.
func (h *ClientHandler) Get(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	client, err := h.clientRepo.GetByID(r.Context(), chi.URLParam(r, "id"), orgID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: client})
}

// Update handles PATCH /v1/clients/{id}.
func (h *ClientHandler) Update(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}
	actor, _ := types.GetActor(r.Context())

	var req UpdateClientRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	client, err := h.clientRepo.GetByID(r.Context(), chi.URLParam(r, "id"), orgID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if req.Name != nil {
		client.Name = *req.Name
	}
	if req.NameKana != nil {
		client.NameKana = *req.NameKana
	}
	if req.BirthDate != nil {
		client.BirthDate = req.BirthDate
	}
	if req.CareLevel != nil {
		client.CareLevel = *req.CareLevel
	}
	if req.Status != nil {
		client.Status = *req.Status
	}
	if req.RoomNumber != nil {
		client.RoomNumber = *req.RoomNumber
	}
	if req.Notes != nil {
		client.Notes = *req.Notes
	}

	if err := h.clientRepo.Update(r.Context(), client); err != nil {
		core.Error(w, r, err)
		return
	}

	emitAudit(r.Context(), h.audit, h.logger, actor, types.AuditActionClientUpdated, client.ID, "client")

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: client})
}

// Delete handles DELETE /v1/clients/{id}. Records are soft-deleted so they
// remain available to the audit trail.
func (h *ClientHandler) Delete(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}
	actor, _ := types.GetActor(r.Context())

	clientID := chi.URLParam(r, "id")
	if err := h.clientRepo.Delete(r.Context(), clientID, orgID); err != nil {
		core.Error(w, r, err)
		return
	}

	emitAudit(r.Context(), h.audit, h.logger, actor, types.AuditActionClientDeleted, clientID, "client")

	w.WriteHeader(http.StatusNoContent)
}
