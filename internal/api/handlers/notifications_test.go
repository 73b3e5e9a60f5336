package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carebase/internal/db"
	"carebase/internal/types"
)

type fakeNotificationRepo struct {
	listFn        func(ctx context.Context, orgID string, params db.ListNotificationsParams) ([]*types.Notification, types.PageInfo, error)
	markReadFn    func(ctx context.Context, id, orgID string) error
	markAllReadFn func(ctx context.Context, orgID string) (int, error)
	countUnreadFn func(ctx context.Context, orgID string) (int, error)
}

func (f *fakeNotificationRepo) List(ctx context.Context, orgID string, params db.ListNotificationsParams) ([]*types.Notification, types.PageInfo, error) {
	return f.listFn(ctx, orgID, params)
}

func (f *fakeNotificationRepo) MarkRead(ctx context.Context, id, orgID string) error {
	return f.markReadFn(ctx, id, orgID)
}

func (f *fakeNotificationRepo) MarkAllRead(ctx context.Context, orgID string) (int, error) {
	return f.markAllReadFn(ctx, orgID)
}

func (f *fakeNotificationRepo) CountUnread(ctx context.Context, orgID string) (int, error) {
	return f.countUnreadFn(ctx, orgID)
}

func TestNotificationList_Filters(t *testing.T) {
	var gotParams db.ListNotificationsParams
	repo := &fakeNotificationRepo{
		listFn: func(_ context.Context, _ string, params db.ListNotificationsParams) ([]*types.Notification, types.PageInfo, error) {
			gotParams = params
			return []*types.Notification{{
				ID:        "ntf_1",
				Type:      types.NotifyDeviceOffline,
				Level:     types.LevelCritical,
				Title:     "Device offline",
				CreatedAt: time.Now().UTC(),
			}}, types.PageInfo{HasMore: true, NextCursor: "cur_next"}, nil
		},
	}
	h := NewNotificationHandler(repo, testLogger())

	actor := testActor(types.RoleCaregiver)
	rec := doRequest(t, h.Routes(), http.MethodGet, "/v1/notifications?unread_only=true&level=critical&limit=10", nil, &actor)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, gotParams.UnreadOnly)
	assert.Equal(t, types.LevelCritical, gotParams.Level)
	assert.Equal(t, 10, gotParams.Limit)

	meta := decodeMeta(t, rec)
	require.NotNil(t, meta)
	require.NotNil(t, meta.Pagination)
	assert.Equal(t, "cur_next", meta.Pagination.NextCursor)
}

func TestNotificationList_RejectsUnknownLevel(t *testing.T) {
	h := NewNotificationHandler(&fakeNotificationRepo{}, testLogger())

	actor := testActor(types.RoleCaregiver)
	rec := doRequest(t, h.Routes(), http.MethodGet, "/v1/notifications?level=urgent", nil, &actor)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(types.ErrCodeValidationInvalidField), errorCode(t, rec))
}

func TestNotificationUnreadCount(t *testing.T) {
	repo := &fakeNotificationRepo{
		countUnreadFn: func(context.Context, string) (int, error) { return 5, nil },
	}
	h := NewNotificationHandler(repo, testLogger())

	actor := testActor(types.RoleCaregiver)
	rec := doRequest(t, h.Routes(), http.MethodGet, "/v1/notifications/unread-count", nil, &actor)

	require.Equal(t, http.StatusOK, rec.Code)

	var data map[string]int
	decodeData(t, rec, &data)
	assert.Equal(t, 5, data["unread"])
}

func TestNotificationMarkRead(t *testing.T) {
	var gotID string
	repo := &fakeNotificationRepo{
		markReadFn: func(_ context.Context, id, orgID string) error {
			gotID = id
			assert.Equal(t, "org_1", orgID)
			return nil
		},
	}
	h := NewNotificationHandler(repo, testLogger())

	actor := testActor(types.RoleCaregiver)
	rec := doRequest(t, h.Routes(), http.MethodPost, "/v1/notifications/ntf_7/read", nil, &actor)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "ntf_7", gotID)
}

func TestNotificationMarkAllRead(t *testing.T) {
	repo := &fakeNotificationRepo{
		markAllReadFn: func(context.Context, string) (int, error) { return 3, nil },
	}
	h := NewNotificationHandler(repo, testLogger())

	actor := testActor(types.RoleCaregiver)
	rec := doRequest(t, h.Routes(), http.MethodPost, "/v1/notifications/read-all", nil, &actor)

	require.Equal(t, http.StatusOK, rec.Code)

	var data map[string]int
	decodeData(t, rec, &data)
	assert.Equal(t, 3, data["marked_read"])
}

func TestNotificationList_RequiresOrg(t *testing.T) {
	h := NewNotificationHandler(&fakeNotificationRepo{}, testLogger())

	rec := doRequest(t, h.Routes(), http.MethodGet, "/v1/notifications", nil, nil)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
