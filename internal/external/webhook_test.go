package external

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carebase/internal/config"
	"carebase/internal/types"
)

func testNotifyConfig() config.NotifyConfig {
	return config.NotifyConfig{
		UserAgent:      "CareBase-Notify/1.0",
		DefaultTimeout: 2 * time.Second,
		MaxRetries:     1,
	}
}

func testNotification() *types.Notification {
	return &types.Notification{
		ID:             "ntf_123",
		OrganizationID: "org_1",
		Type:           types.NotifyDeviceOffline,
		Level:          types.LevelCritical,
		Title:          "Device offline",
		Body:           "Sensor S-401 has not reported for 30 minutes",
		CreatedAt:      time.Date(2024, 12, 1, 9, 0, 0, 0, time.UTC),
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWebhookPushDeliversSignedPayload(t *testing.T) {
	var gotBody []byte
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Carebase-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(testNotifyConfig(), "signing-secret", discardLogger(), WithSleepFunc(noSleep))

	err := n.Push(context.Background(), srv.URL, testNotification())
	require.NoError(t, err)

	var payload webhookPayload
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	assert.Equal(t, "ntf_123", payload.ID)
	assert.Equal(t, types.LevelCritical, payload.Level)
	assert.Equal(t, "Device offline", payload.Title)

	require.NotEmpty(t, gotSig)
	assert.True(t, VerifySignature(gotBody, gotSig, "signing-secret"))
	assert.False(t, VerifySignature(gotBody, gotSig, "wrong-secret"))
}

func TestWebhookPushEmptyURLRejected(t *testing.T) {
	n := NewWebhookNotifier(testNotifyConfig(), "secret", discardLogger())

	err := n.Push(context.Background(), "", testNotification())
	require.Error(t, err)

	appErr, ok := err.(*types.AppError)
	require.True(t, ok)
	assert.Equal(t, types.ErrCodeValidationMissingField, appErr.Code)
}

func TestWebhookPushEndpointRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(testNotifyConfig(), "secret", discardLogger(), WithSleepFunc(noSleep))

	err := n.Push(context.Background(), srv.URL, testNotification())
	require.Error(t, err)

	appErr, ok := err.(*types.AppError)
	require.True(t, ok)
	assert.Equal(t, types.ErrCodeUpstreamWebhook, appErr.Code)
}

func TestWebhookPushRetriesThenSucceeds(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(testNotifyConfig(), "secret", discardLogger(), WithSleepFunc(noSleep))

	err := n.Push(context.Background(), srv.URL, testNotification())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestSignPayloadDeterministic(t *testing.T) {
	now := time.Unix(1733043600, 0)
	payload := []byte(`{"id":"ntf_1"}`)

	first := SignPayload(payload, "key", now)
	second := SignPayload(payload, "key", now)
	assert.Equal(t, first, second)
	assert.Contains(t, first, "t=1733043600,v1=")
}

func TestVerifySignatureMalformedHeader(t *testing.T) {
	payload := []byte(`{}`)
	assert.False(t, VerifySignature(payload, "", "key"))
	assert.False(t, VerifySignature(payload, "garbage", "key"))
	assert.False(t, VerifySignature(payload, "t=123", "key"))
	assert.False(t, VerifySignature(payload, "v1=abc", "key"))
}
