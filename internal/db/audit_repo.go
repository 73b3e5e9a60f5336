package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"carebase/internal/types"
)

// AuditRepository provides append-only data access for the audit_events table.
// Events are never updated or deleted.
type AuditRepository struct {
	db DBTX
}

// NewAuditRepository creates a new AuditRepository backed by the given
// database connection (pool or transaction).
func NewAuditRepository(db DBTX) *AuditRepository {
	return &AuditRepository{db: db}
}

const auditColumns = `a.id, a.organization_id, a.actor_id, a.actor_type, a.action,
	a.resource_id, a.resource_type, a.old_value, a.new_value, a.occurred_at`

func scanAuditEvent(row pgx.Row) (*types.AuditEvent, error) {
	var ev types.AuditEvent
	var (
		resourceID   *string
		resourceType *string
	)
	err := row.Scan(
		&ev.ID,
		&ev.OrganizationID,
		&ev.Actor.ID,
		&ev.Actor.Type,
		&ev.Action,
		&resourceID,
		&resourceType,
		&ev.OldValue,
		&ev.NewValue,
		&ev.Timestamp,
	)
	if err != nil {
		return nil, err
	}
	if resourceID != nil {
		ev.ResourceID = *resourceID
	}
	if resourceType != nil {
		ev.ResourceType = *resourceType
	}
	ev.Actor.OrganizationID = ev.OrganizationID
	return &ev, nil
}

// Insert appends an audit event. Audit writes happen inside the same
// transaction as the mutation they record.
func (r *AuditRepository) Insert(ctx context.Context, ev *types.AuditEvent) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO audit_events (id, organization_id, actor_id, actor_type, action,
		 resource_id, resource_type, old_value, new_value, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10, NOW()))`,
		ev.ID,
		ev.OrganizationID,
		ev.Actor.ID,
		ev.Actor.Type,
		ev.Action,
		nilIfEmpty(ev.ResourceID),
		nilIfEmpty(ev.ResourceType),
		ev.OldValue,
		ev.NewValue,
		nilIfZeroTime(ev.Timestamp),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert audit event", err)
	}
	return nil
}

// buildAuditConditions translates an AuditFilter into SQL conditions.
// Organization scope is always enforced.
func buildAuditConditions(filter types.AuditFilter) ([]string, []any, int) {
	var conditions []string
	var args []any
	argIdx := 1

	conditions = append(conditions, fmt.Sprintf("a.organization_id = $%d", argIdx))
	args = append(args, filter.OrganizationID)
	argIdx++

	if filter.Action != "" {
		conditions = append(conditions, fmt.Sprintf("a.action = $%d", argIdx))
		args = append(args, filter.Action)
		argIdx++
	}

	if filter.ResourceType != "" {
		conditions = append(conditions, fmt.Sprintf("a.resource_type = $%d", argIdx))
		args = append(args, filter.ResourceType)
		argIdx++
	}

	if !filter.Since.IsZero() {
		conditions = append(conditions, fmt.Sprintf("a.occurred_at >= $%d", argIdx))
		args = append(args, filter.Since)
		argIdx++
	}

	if !filter.Until.IsZero() {
		conditions = append(conditions, fmt.Sprintf("a.occurred_at < $%d", argIdx))
		args = append(args, filter.Until)
		argIdx++
	}

	return conditions, args, argIdx
}

// List returns audit events matching the filter, newest first, with
// cursor-based pagination on occurred_at.
func (r *AuditRepository) List(ctx context.Context, filter types.AuditFilter) ([]*types.AuditEvent, types.PageInfo, error) {
	limit := clampLimit(filter.Pagination.Limit)

	conditions, args, argIdx := buildAuditConditions(filter)

	if filter.Pagination.NextCursor != "" {
		cursorTime, err := time.Parse(time.RFC3339Nano, filter.Pagination.NextCursor)
		if err != nil {
			return nil, types.PageInfo{}, types.NewAppError(
				types.ErrCodeValidationInvalidField,
				"invalid cursor format; expected RFC3339 timestamp",
				err,
			)
		}
		conditions = append(conditions, fmt.Sprintf("a.occurred_at < $%d", argIdx))
		args = append(args, cursorTime)
		argIdx++
	}

	query := fmt.Sprintf(
		`SELECT `+auditColumns+`
		 FROM audit_events a
		 WHERE %s
		 ORDER BY a.occurred_at DESC
		 LIMIT $%d`,
		strings.Join(conditions, " AND "),
		argIdx,
	)
	args = append(args, limit+1)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "failed to list audit events", err)
	}
	defer rows.Close()

	var results []*types.AuditEvent
	for rows.Next() {
		ev, scanErr := scanAuditEvent(rows)
		if scanErr != nil {
			return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "failed to scan audit event row", scanErr)
		}
		results = append(results, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "error iterating audit event rows", err)
	}

	page := types.PageInfo{}
	if len(results) > limit {
		results = results[:limit]
		page.HasMore = true
		page.NextCursor = results[limit-1].Timestamp.Format(time.RFC3339Nano)
	}
	return results, page, nil
}

// ForEach streams all audit events matching the filter, oldest first, calling
// fn for each row. Used by the CSV export so the full result set never sits
// in memory at once. Iteration stops at the first error from fn.
func (r *AuditRepository) ForEach(ctx context.Context, filter types.AuditFilter, fn func(*types.AuditEvent) error) error {
	conditions, args, _ := buildAuditConditions(filter)

	query := fmt.Sprintf(
		`SELECT `+auditColumns+`
		 FROM audit_events a
		 WHERE %s
		 ORDER BY a.occurred_at ASC`,
		strings.Join(conditions, " AND "),
	)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to stream audit events", err)
	}
	defer rows.Close()

	for rows.Next() {
		ev, scanErr := scanAuditEvent(rows)
		if scanErr != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to scan audit event row", scanErr)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "error iterating audit event rows", err)
	}

	return nil
}
