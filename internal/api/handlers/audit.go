package handlers

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzip"

	"carebase/internal/core"
	"carebase/internal/types"
)

// AuditReader defines the read side of the audit trail.
type AuditReader interface {
	List(ctx context.Context, filter types.AuditFilter) ([]*types.AuditEvent, types.PageInfo, error)
	ForEach(ctx context.Context, filter types.AuditFilter, fn func(*types.AuditEvent) error) error
}

// AuditHandler serves the audit trail endpoints. The trail is append-only;
// there are no mutation routes here.
type AuditHandler struct {
	repo   AuditReader
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(repo AuditReader, l *slog.Logger) *AuditHandler {
	if l == nil {
		l = slog.Default()
	}
	return &AuditHandler{repo: repo, logger: l}
}

// Routes returns the route registrar for the audit endpoints. Admin or above
// only.
func (h *AuditHandler) Routes(guard RoleGuard) func(r chi.Router) {
	return func(r chi.Router) {
		r.With(guard(types.RoleAdmin)).Get("/audit", h.List)
		r.With(guard(types.RoleAdmin)).Get("/audit/export", h.Export)
	}
}

// List handles GET /v1/audit with optional action, resource_type, since, and
// until filters.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	filter, err := buildAuditFilter(r, orgID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	filter.Pagination.Limit = limit
	filter.Pagination.NextCursor = r.URL.Query().Get("cursor")

	events, pageInfo, err := h.repo.List(r.Context(), filter)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: events, Meta: listMeta(pageInfo)})
}

// Export handles GET /v1/audit/export. Events are streamed as CSV, oldest
// first, gzip-compressed when the client accepts it. Rows are written as they
// arrive from the database, so an error mid-stream can truncate the file
// after headers are sent.
func (h *AuditHandler) Export(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	filter, err := buildAuditFilter(r, orgID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	filename := fmt.Sprintf("audit-%s.csv", time.Now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")

	var out io.Writer = w
	if strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`.gz"`)
		gz := gzip.NewWriter(w)
		defer func() {
			if err := gz.Close(); err != nil {
				h.logger.Warn("failed to flush gzip audit export", "error", err)
			}
		}()
		out = gz
	} else {
		w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	}

	cw := csv.NewWriter(out)
	header := []string{"id", "occurred_at", "actor_id", "actor_type", "action", "resource_type", "resource_id"}
	if err := cw.Write(header); err != nil {
		h.logger.Error("failed to write audit export header", "error", err)
		return
	}

	err = h.repo.ForEach(r.Context(), filter, func(ev *types.AuditEvent) error {
		return cw.Write([]string{
			ev.ID,
			ev.Timestamp.UTC().Format(time.RFC3339),
			ev.Actor.ID,
			string(ev.Actor.Type),
			ev.Action,
			ev.ResourceType,
			ev.ResourceID,
		})
	})
	if err != nil {
		// Headers are already out; log and truncate.
		h.logger.Error("audit export aborted mid-stream", "error", err, "organization_id", orgID)
		return
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		h.logger.Error("failed to flush audit export", "error", err)
	}
}

// buildAuditFilter parses the shared audit query parameters. Timestamps are
// RFC 3339.
func buildAuditFilter(r *http.Request, orgID string) (types.AuditFilter, error) {
	filter := types.AuditFilter{
		OrganizationID: orgID,
		Action:         r.URL.Query().Get("action"),
		ResourceType:   r.URL.Query().Get("resource_type"),
	}

	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		since, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			return types.AuditFilter{}, types.NewAppError(
				types.ErrCodeValidationInvalidField,
				"since must be an RFC 3339 timestamp",
				err,
			)
		}
		filter.Since = since
	}

	if untilStr := r.URL.Query().Get("until"); untilStr != "" {
		until, err := time.Parse(time.RFC3339, untilStr)
		if err != nil {
			return types.AuditFilter{}, types.NewAppError(
				types.ErrCodeValidationInvalidField,
				"until must be an RFC 3339 timestamp",
				err,
			)
		}
		filter.Until = until
	}

	if !filter.Since.IsZero() && !filter.Until.IsZero() && filter.Until.Before(filter.Since) {
		return types.AuditFilter{}, types.NewAppError(
			types.ErrCodeValidationInvalidField,
			"until must not be before since",
			nil,
		)
	}

	return filter, nil
}
