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

type fakeClientRepo struct {
	createFn  func(ctx context.Context, cl *types.Client) error
	getByIDFn func(ctx context.Context, id, orgID string) (*types.Client, error)
	listFn    func(ctx context.Context, orgID string, params db.ListClientsParams) ([]*types.Client, types.PageInfo, error)
	updateFn  func(ctx context.Context, cl *types.Client) error
	deleteFn  func(ctx context.Context, id, orgID string) error
}

func (f *fakeClientRepo) Create(ctx context.Context, cl *types.Client) error {
	return f.createFn(ctx, cl)
}

func (f *fakeClientRepo) GetByID(ctx context.Context, id, orgID string) (*types.Client, error) {
	return f.getByIDFn(ctx, id, orgID)
}

func (f *fakeClientRepo) List(ctx context.Context, orgID string, params db.ListClientsParams) ([]*types.Client, types.PageInfo, error) {
	return f.listFn(ctx, orgID, params)
}

func (f *fakeClientRepo) Update(ctx context.Context, cl *types.Client) error {
	return f.updateFn(ctx, cl)
}

func (f *fakeClientRepo) Delete(ctx context.Context, id, orgID string) error {
	return f.deleteFn(ctx, id, orgID)
}

func TestClientCreate_DefaultsToActive(t *testing.T) {
	var created *types.Client
	repo := &fakeClientRepo{
		createFn: func(_ context.Context, cl *types.Client) error {
			created = cl
			return nil
		},
	}
	audit := &recordingAudit{}
	h := NewClientHandler(repo, audit, testValidator(), testLogger())

	actor := testActor(types.RoleCaregiver)
	rec := doRequest(t, h.Routes(), http.MethodPost, "/v1/clients",
		CreateClientRequest{Name: "田中 花子", NameKana: "タナカ ハナコ", CareLevel: types.CareLevelCare2, RoomNumber: "203"}, &actor)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, created)
	assert.Equal(t, types.ClientActive, created.Status)
	assert.Equal(t, "org_1", created.OrganizationID)
	assert.NotEmpty(t, created.ID)

	require.Len(t, audit.events, 1)
	assert.Equal(t, types.AuditActionClientCreated, audit.events[0].Action)
}

func TestClientCreate_RejectsUnknownCareLevel(t *testing.T) {
	h := NewClientHandler(&fakeClientRepo{}, &recordingAudit{}, testValidator(), testLogger())

	actor := testActor(types.RoleCaregiver)
	rec := doRequest(t, h.Routes(), http.MethodPost, "/v1/clients",
		map[string]string{"name": "田中 花子", "care_level": "care_9"}, &actor)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClientList_SearchAndFilters(t *testing.T) {
	var gotParams db.ListClientsParams
	repo := &fakeClientRepo{
		listFn: func(_ context.Context, _ string, params db.ListClientsParams) ([]*types.Client, types.PageInfo, error) {
			gotParams = params
			return nil, types.PageInfo{}, nil
		},
	}
	h := NewClientHandler(repo, &recordingAudit{}, testValidator(), testLogger())

	actor := testActor(types.RoleCaregiver)
	rec := doRequest(t, h.Routes(), http.MethodGet, "/v1/clients?status=suspended&care_level=care_3&q=田中", nil, &actor)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []types.ClientStatus{types.ClientSuspended}, gotParams.Status)
	assert.Equal(t, types.CareLevelCare3, gotParams.CareLevel)
	assert.Equal(t, "田中", gotParams.Search)
}

func TestClientUpdate_PartialMerge(t *testing.T) {
	var updated *types.Client
	repo := &fakeClientRepo{
		getByIDFn: func(_ context.Context, id, _ string) (*types.Client, error) {
			return &types.Client{ID: id, Name: "田中 花子", RoomNumber: "203", Status: types.ClientActive}, nil
		},
		updateFn: func(_ context.Context, cl *types.Client) error {
			updated = cl
			return nil
		},
	}
	h := NewClientHandler(repo, &recordingAudit{}, testValidator(), testLogger())

	room := "310"
	actor := testActor(types.RoleCaregiver)
	rec := doRequest(t, h.Routes(), http.MethodPatch, "/v1/clients/cli_1",
		UpdateClientRequest{RoomNumber: &room}, &actor)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, updated)
	assert.Equal(t, "310", updated.RoomNumber)
	assert.Equal(t, "田中 花子", updated.Name)
}

func TestClientDelete_SoftDeletes(t *testing.T) {
	var deletedID string
	repo := &fakeClientRepo{
		deleteFn: func(_ context.Context, id, _ string) error {
			deletedID = id
			return nil
		},
	}
	audit := &recordingAudit{}
	h := NewClientHandler(repo, audit, testValidator(), testLogger())

	actor := testActor(types.RoleCaregiver)
	rec := doRequest(t, h.Routes(), http.MethodDelete, "/v1/clients/cli_1", nil, &actor)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "cli_1", deletedID)
	require.Len(t, audit.events, 1)
	assert.Equal(t, types.AuditActionClientDeleted, audit.events[0].Action)
}
