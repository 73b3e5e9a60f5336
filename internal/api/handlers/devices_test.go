package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carebase/internal/db"
	"carebase/internal/types"
)

type fakeDeviceRepo struct {
	createFn  func(ctx context.Context, dv *types.Device) error
	getByIDFn func(ctx context.Context, id, orgID string) (*types.Device, error)
	listFn    func(ctx context.Context, orgID string, params db.ListDevicesParams) ([]*types.Device, types.PageInfo, error)
	updateFn  func(ctx context.Context, dv *types.Device) error
	statusFn  func(ctx context.Context, id, orgID string, status types.DeviceStatus) error
}

func (f *fakeDeviceRepo) Create(ctx context.Context, dv *types.Device) error {
	return f.createFn(ctx, dv)
}

func (f *fakeDeviceRepo) GetByID(ctx context.Context, id, orgID string) (*types.Device, error) {
	return f.getByIDFn(ctx, id, orgID)
}

func (f *fakeDeviceRepo) List(ctx context.Context, orgID string, params db.ListDevicesParams) ([]*types.Device, types.PageInfo, error) {
	return f.listFn(ctx, orgID, params)
}

func (f *fakeDeviceRepo) Update(ctx context.Context, dv *types.Device) error {
	return f.updateFn(ctx, dv)
}

func (f *fakeDeviceRepo) UpdateStatus(ctx context.Context, id, orgID string, status types.DeviceStatus) error {
	return f.statusFn(ctx, id, orgID, status)
}

func TestDeviceRegister_DefaultsToActive(t *testing.T) {
	var created *types.Device
	repo := &fakeDeviceRepo{
		createFn: func(_ context.Context, dv *types.Device) error {
			created = dv
			return nil
		},
	}
	audit := &recordingAudit{}
	h := NewDeviceHandler(repo, audit, testValidator(), testLogger())

	actor := testActor(types.RoleAdmin)
	rec := doRequest(t, h.Routes(passGuard), http.MethodPost, "/v1/devices",
		RegisterDeviceRequest{Name: "見守りセンサー 101", Kind: types.DeviceKindSensor, SerialNumber: "SN-2024-0001"}, &actor)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, created)
	assert.Equal(t, types.DeviceActive, created.Status)
	assert.Equal(t, "SN-2024-0001", created.SerialNumber)

	require.Len(t, audit.events, 1)
	assert.Equal(t, types.AuditActionDeviceRegistered, audit.events[0].Action)
}

func TestDeviceRegister_DuplicateSerialConflicts(t *testing.T) {
	repo := &fakeDeviceRepo{
		createFn: func(context.Context, *types.Device) error {
			return types.NewAppError(types.ErrCodeConflictSerial, "serial number already registered", nil)
		},
	}
	h := NewDeviceHandler(repo, &recordingAudit{}, testValidator(), testLogger())

	actor := testActor(types.RoleAdmin)
	rec := doRequest(t, h.Routes(passGuard), http.MethodPost, "/v1/devices",
		RegisterDeviceRequest{Name: "sensor", Kind: types.DeviceKindSensor, SerialNumber: "SN-DUP"}, &actor)

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(types.ErrCodeConflictSerial), errorCode(t, rec))
}

func TestDeviceRegister_RejectsUnknownKind(t *testing.T) {
	h := NewDeviceHandler(&fakeDeviceRepo{}, &recordingAudit{}, testValidator(), testLogger())

	actor := testActor(types.RoleAdmin)
	rec := doRequest(t, h.Routes(passGuard), http.MethodPost, "/v1/devices",
		map[string]string{"name": "drone", "kind": "drone", "serial_number": "SN-1"}, &actor)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeviceList_KindFilter(t *testing.T) {
	var gotParams db.ListDevicesParams
	repo := &fakeDeviceRepo{
		listFn: func(_ context.Context, _ string, params db.ListDevicesParams) ([]*types.Device, types.PageInfo, error) {
			gotParams = params
			return nil, types.PageInfo{}, nil
		},
	}
	h := NewDeviceHandler(repo, &recordingAudit{}, testValidator(), testLogger())

	actor := testActor(types.RoleCaregiver)
	rec := doRequest(t, h.Routes(passGuard), http.MethodGet, "/v1/devices?status=inactive&kind=tablet", nil, &actor)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []types.DeviceStatus{types.DeviceInactive}, gotParams.Status)
	assert.Equal(t, types.DeviceKindTablet, gotParams.Kind)
}

func TestDeviceUpdateStatus_ReturnsUpdatedDevice(t *testing.T) {
	var gotStatus types.DeviceStatus
	repo := &fakeDeviceRepo{
		statusFn: func(_ context.Context, _, _ string, status types.DeviceStatus) error {
			gotStatus = status
			return nil
		},
		getByIDFn: func(_ context.Context, id, _ string) (*types.Device, error) {
			return &types.Device{ID: id, Status: types.DeviceInactive}, nil
		},
	}
	h := NewDeviceHandler(repo, &recordingAudit{}, testValidator(), testLogger())

	actor := testActor(types.RoleAdmin)
	rec := doRequest(t, h.Routes(passGuard), http.MethodPatch, "/v1/devices/dev_1/status",
		UpdateDeviceStatusRequest{Status: types.DeviceInactive}, &actor)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, types.DeviceInactive, gotStatus)

	var data types.Device
	decodeData(t, rec, &data)
	assert.Equal(t, types.DeviceInactive, data.Status)
}
