// Package handlers contains the HTTP handler implementations for the
// CareBase API. Each handler declares focused interfaces for the repositories
// and services it uses so tests can inject lightweight fakes.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"carebase/internal/core"
	"carebase/internal/types"
)

// RoleGuard produces middleware enforcing a minimum staff role. The core
// server's RequireRole satisfies this; tests can pass a no-op.
type RoleGuard func(min types.StaffRole) func(http.Handler) http.Handler

// AuditLogger records audit events. Failures are logged, never propagated.
type AuditLogger interface {
	Insert(ctx context.Context, ev *types.AuditEvent) error
}

// requireOrg pulls the authenticated organization ID from the context and
// writes a 401 when it is absent. Returns ok=false after writing the error.
func requireOrg(w http.ResponseWriter, r *http.Request) (string, bool) {
	orgID, ok := types.GetOrgID(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenMissing,
			"Organization context is required",
			nil,
		))
		return "", false
	}
	return orgID, true
}

// parseLimit reads the "limit" query parameter, defaulting to 20.
// Values outside [1, 100] are rejected.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return 20, true
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit < 1 || limit > 100 {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidField,
			"limit must be a number between 1 and 100",
			nil,
		))
		return 0, false
	}
	return limit, true
}

// emitAudit logs an audit event. Errors are logged but not propagated so the
// primary operation never fails because of the audit log.
func emitAudit(ctx context.Context, audit AuditLogger, logger *slog.Logger, actor types.Actor, action, resourceID, resourceType string) {
	if audit == nil {
		return
	}

	ev := &types.AuditEvent{
		OrganizationID: actor.OrganizationID,
		Actor:          actor,
		Action:         action,
		ResourceID:     resourceID,
		ResourceType:   resourceType,
		Timestamp:      time.Now().UTC(),
	}

	if err := audit.Insert(ctx, ev); err != nil {
		logger.WarnContext(ctx, "failed to log audit event",
			"action", action,
			"resource_id", resourceID,
			"error", err,
		)
	}
}

// listMeta converts repo pagination output into a response envelope meta.
func listMeta(pageInfo types.PageInfo) *types.ResponseMeta {
	return &types.ResponseMeta{Pagination: &pageInfo}
}
