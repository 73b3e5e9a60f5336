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

// DeviceRepo defines the data access contract for device operations.
type DeviceRepo interface {
	Create(ctx context.Context, dv *types.Device) error
	GetByID(ctx context.Context, id string, orgID string) (*types.Device, error)
	List(ctx context.Context, orgID string, params db.ListDevicesParams) ([]*types.Device, types.PageInfo, error)
	Update(ctx context.Context, dv *types.Device) error
	UpdateStatus(ctx context.Context, id string, orgID string, status types.DeviceStatus) error
}

// RegisterDeviceRequest is the request body for POST /v1/devices.
// There is no registration cap: the device count only drives billing, and
// free/demo organizations price devices at zero.
type RegisterDeviceRequest struct {
	Name         string           `json:"name" validate:"required,min=1,max=100"`
	Kind         types.DeviceKind `json:"kind" validate:"required,device_kind"`
	SerialNumber string           `json:"serial_number" validate:"required,min=1,max=100"`
}

// UpdateDeviceRequest is the request body for PATCH /v1/devices/{id}.
// Serial numbers are immutable after registration.
type UpdateDeviceRequest struct {
	Name *string           `json:"name,omitempty" validate:"omitempty,min=1,max=100"`
	Kind *types.DeviceKind `json:"kind,omitempty" validate:"omitempty,device_kind"`
}

// UpdateDeviceStatusRequest is the request body for
// PATCH /v1/devices/{id}/status. Retirement is terminal.
type UpdateDeviceStatusRequest struct {
	Status types.DeviceStatus `json:"status" validate:"required,oneof=active inactive retired"`
}

// DeviceHandler manages device registration and lifecycle.
type DeviceHandler struct {
	deviceRepo DeviceRepo
	audit      AuditLogger
	validator  *core.Validator
	logger     *slog.Logger
}

// NewDeviceHandler creates a DeviceHandler with the provided dependencies.
func NewDeviceHandler(deviceRepo DeviceRepo, audit AuditLogger, v *core.Validator, l *slog.Logger) *DeviceHandler {
	if l == nil {
		l = slog.Default()
	}
	return &DeviceHandler{
		deviceRepo: deviceRepo,
		audit:      audit,
		validator:  v,
		logger:     l,
	}
}

// Routes returns the route registrar for the device endpoints. Registration
// and lifecycle changes require admin or above since they affect billing.
func (h *DeviceHandler) Routes(guard RoleGuard) func(r chi.Router) {
	return func(r chi.Router) {
		r.Get("/devices", h.List)
		r.Get("/devices/{id}", h.Get)
		r.With(guard(types.RoleAdmin)).Post("/devices", h.Register)
		r.With(guard(types.RoleAdmin)).Patch("/devices/{id}", h.Update)
		r.With(guard(types.RoleAdmin)).Patch("/devices/{id}/status", h.UpdateStatus)
	}
}

// List handles GET /v1/devices with optional status and kind filters.
func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	params := db.ListDevicesParams{
		Limit:  limit,
		Cursor: r.URL.Query().Get("cursor"),
	}

	if statusStr := r.URL.Query().Get("status"); statusStr != "" {
		status := types.DeviceStatus(statusStr)
		switch status {
		case types.DeviceActive, types.DeviceInactive, types.DeviceRetired:
			params.Status = []types.DeviceStatus{status}
		default:
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationInvalidField,
				"status must be one of: active, inactive, retired",
				nil,
			))
			return
		}
	}

	if kind := r.URL.Query().Get("kind"); kind != "" {
		params.Kind = types.DeviceKind(kind)
	}

	devices, pageInfo, err := h.deviceRepo.List(r.Context(), orgID, params)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: devices, Meta: listMeta(pageInfo)})
}

// Get handles GET /v1/devices/{id}.
func (h *DeviceHandler) Get(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	device, err := h.deviceRepo.GetByID(r.Context(), chi.URLParam(r, "id"), orgID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: device})
}

// Register handles POST /v1/devices. Duplicate serial numbers report a
// conflict.
func (h *DeviceHandler) Register(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}
	actor, _ := types.GetActor(r.Context())

	var req RegisterDeviceRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	now := time.Now().UTC()
	device := &types.Device{
		ID:             "dev_" + uuid.NewString(),
		OrganizationID: orgID,
		Name:           req.Name,
		Kind:           req.Kind,
		SerialNumber:   req.SerialNumber,
		Status:         types.DeviceActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := h.deviceRepo.Create(r.Context(), device); err != nil {
		core.Error(w, r, err)
		return
	}

	emitAudit(r.Context(), h.audit, h.logger, actor, types.AuditActionDeviceRegistered, device.ID, "device")

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: device})
}

// Update handles PATCH /v1/devices/{id}.
func (h *DeviceHandler) Update(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}
	actor, _ := types.GetActor(r.Context())

	var req UpdateDeviceRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	device, err := h.deviceRepo.GetByID(r.Context(), chi.URLParam(r, "id"), orgID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if req.Name != nil {
		device.Name = *req.Name
	}
	if req.Kind != nil {
		device.Kind = *req.Kind
	}

	if err := h.deviceRepo.Update(r.Context(), device); err != nil {
		core.Error(w, r, err)
		return
	}

	emitAudit(r.Context(), h.audit, h.logger, actor, types.AuditActionDeviceUpdated, device.ID, "device")

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: device})
}

// UpdateStatus handles PATCH /v1/devices/{id}/status. Deactivated devices
// stop counting toward the device fee; retired devices can never come back.
func (h *DeviceHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}
	actor, _ := types.GetActor(r.Context())

	var req UpdateDeviceStatusRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	deviceID := chi.URLParam(r, "id")
	if err := h.deviceRepo.UpdateStatus(r.Context(), deviceID, orgID, req.Status); err != nil {
		core.Error(w, r, err)
		return
	}

	emitAudit(r.Context(), h.audit, h.logger, actor, types.AuditActionDeviceDeactivated, deviceID, "device")

	device, err := h.deviceRepo.GetByID(r.Context(), deviceID, orgID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: device})
}
