package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"carebase/internal/types"
)

// NotificationRepository provides data access for the notifications table.
type NotificationRepository struct {
	db DBTX
}

// NewNotificationRepository creates a new NotificationRepository backed by the
// given database connection (pool or transaction).
func NewNotificationRepository(db DBTX) *NotificationRepository {
	return &NotificationRepository{db: db}
}

const notificationColumns = `n.id, n.organization_id, n.type, n.level, n.title,
	n.body, n.read_at, n.created_at`

func scanNotification(row pgx.Row) (*types.Notification, error) {
	var n types.Notification
	err := row.Scan(
		&n.ID,
		&n.OrganizationID,
		&n.Type,
		&n.Level,
		&n.Title,
		&n.Body,
		&n.ReadAt,
		&n.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// Create inserts a new notification.
func (r *NotificationRepository) Create(ctx context.Context, n *types.Notification) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO notifications (id, organization_id, type, level, title, body, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))`,
		n.ID,
		n.OrganizationID,
		n.Type,
		n.Level,
		n.Title,
		n.Body,
		nilIfZeroTime(n.CreatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create notification", err)
	}
	return nil
}

// ListNotificationsParams defines filtering parameters for notification listing.
type ListNotificationsParams struct {
	UnreadOnly bool
	Level      types.NotificationLevel
	Limit      int
	Cursor     string
}

// List returns notifications for an organization, newest first, with
// cursor-based pagination on created_at.
func (r *NotificationRepository) List(ctx context.Context, orgID string, params ListNotificationsParams) ([]*types.Notification, types.PageInfo, error) {
	limit := clampLimit(params.Limit)

	var conditions []string
	var args []any
	argIdx := 1

	conditions = append(conditions, fmt.Sprintf("n.organization_id = $%d", argIdx))
	args = append(args, orgID)
	argIdx++

	if params.UnreadOnly {
		conditions = append(conditions, "n.read_at IS NULL")
	}

	if params.Level != "" {
		conditions = append(conditions, fmt.Sprintf("n.level = $%d", argIdx))
		args = append(args, params.Level)
		argIdx++
	}

	if params.Cursor != "" {
		cursorTime, err := time.Parse(time.RFC3339Nano, params.Cursor)
		if err != nil {
			return nil, types.PageInfo{}, types.NewAppError(
				types.ErrCodeValidationInvalidField,
				"invalid cursor format; expected RFC3339 timestamp",
				err,
			)
		}
		conditions = append(conditions, fmt.Sprintf("n.created_at < $%d", argIdx))
		args = append(args, cursorTime)
		argIdx++
	}

	query := fmt.Sprintf(
		`SELECT `+notificationColumns+`
		 FROM notifications n
		 WHERE %s
		 ORDER BY n.created_at DESC
		 LIMIT $%d`,
		strings.Join(conditions, " AND "),
		argIdx,
	)
	args = append(args, limit+1)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "failed to list notifications", err)
	}
	defer rows.Close()

	var results []*types.Notification
	for rows.Next() {
		n, scanErr := scanNotification(rows)
		if scanErr != nil {
			return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "failed to scan notification row", scanErr)
		}
		results = append(results, n)
	}
	if err := rows.Err(); err != nil {
		return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "error iterating notification rows", err)
	}

	page := types.PageInfo{}
	if len(results) > limit {
		results = results[:limit]
		page.HasMore = true
		page.NextCursor = results[limit-1].CreatedAt.Format(time.RFC3339Nano)
	}
	return results, page, nil
}

// MarkRead sets read_at on a single notification. Marking an already-read
// notification succeeds without changing the original read time.
func (r *NotificationRepository) MarkRead(ctx context.Context, id string, orgID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE notifications SET read_at = COALESCE(read_at, NOW())
		 WHERE id = $1 AND organization_id = $2`,
		id,
		orgID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark notification read", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundNotification, "notification not found", nil)
	}
	return nil
}

// MarkAllRead sets read_at on all unread notifications for an organization
// and returns the number of rows affected.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, orgID string) (int, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE notifications SET read_at = NOW()
		 WHERE organization_id = $1 AND read_at IS NULL`,
		orgID,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to mark notifications read", err)
	}
	return int(tag.RowsAffected()), nil
}

// CountUnread returns the number of unread notifications for an organization.
func (r *NotificationRepository) CountUnread(ctx context.Context, orgID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications
		 WHERE organization_id = $1 AND read_at IS NULL`,
		orgID,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count unread notifications", err)
	}
	return count, nil
}
