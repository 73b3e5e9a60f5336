package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"carebase/internal/core"
	"carebase/internal/types"
)

// recordingAudit captures audit events for assertion.
type recordingAudit struct {
	events []*types.AuditEvent
	err    error
}

func (a *recordingAudit) Insert(_ context.Context, ev *types.AuditEvent) error {
	if a.err != nil {
		return a.err
	}
	a.events = append(a.events, ev)
	return nil
}

// passGuard is a RoleGuard that lets everything through. Role enforcement is
// covered by the core middleware tests.
func passGuard(types.StaffRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler { return next }
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testValidator() *core.Validator {
	return core.NewValidator(testLogger())
}

func testActor(role types.StaffRole) types.Actor {
	return types.Actor{
		ID:             "stf_actor",
		Type:           types.ActorTypeStaff,
		OrganizationID: "org_1",
		Role:           role,
	}
}

// doRequest mounts the registrar under /v1, injects the actor when non-nil,
// and performs the request.
func doRequest(t *testing.T, register func(chi.Router), method, path string, body any, actor *types.Actor) *httptest.ResponseRecorder {
	t.Helper()

	router := chi.NewRouter()
	router.Route("/v1", register)

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if actor != nil {
		req = req.WithContext(types.WithActor(req.Context(), *actor))
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// decodeData unmarshals the data field of a success envelope into dst.
func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()

	var envelope struct {
		Data json.RawMessage     `json:"data"`
		Meta *types.ResponseMeta `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, dst))
}

// decodeMeta unmarshals the meta field of a success envelope.
func decodeMeta(t *testing.T, rec *httptest.ResponseRecorder) *types.ResponseMeta {
	t.Helper()

	var envelope struct {
		Meta *types.ResponseMeta `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope.Meta
}

// errorCode extracts the error code from an error envelope.
func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope.Error.Code
}
