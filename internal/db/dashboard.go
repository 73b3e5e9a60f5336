package db

import (
	"context"
	"time"

	"carebase/internal/types"
)

// DashboardStore bundles the COUNT queries behind the dashboard summary.
// It satisfies billing.DashboardDB without pulling the full repository set
// into the reporter.
type DashboardStore struct {
	db DBTX
}

// NewDashboardStore creates a DashboardStore.
func NewDashboardStore(db DBTX) *DashboardStore {
	return &DashboardStore{db: db}
}

func (s *DashboardStore) CountActiveClients(ctx context.Context, orgID string) (int, error) {
	return s.count(ctx,
		`SELECT COUNT(*) FROM clients
		 WHERE organization_id = $1 AND status = 'active' AND deleted_at IS NULL`,
		orgID)
}

func (s *DashboardStore) CountActiveStaff(ctx context.Context, orgID string) (int, error) {
	return s.count(ctx,
		`SELECT COUNT(*) FROM staff
		 WHERE organization_id = $1 AND status = 'active' AND deleted_at IS NULL`,
		orgID)
}

func (s *DashboardStore) CountActiveDevices(ctx context.Context, orgID string) (int, error) {
	return s.count(ctx,
		`SELECT COUNT(*) FROM devices
		 WHERE organization_id = $1 AND status = 'active'`,
		orgID)
}

func (s *DashboardStore) CountUnreadNotifications(ctx context.Context, orgID string) (int, error) {
	return s.count(ctx,
		`SELECT COUNT(*) FROM notifications
		 WHERE organization_id = $1 AND read_at IS NULL`,
		orgID)
}

// CountClientsRegisteredInMonth counts clients created in the calendar month
// containing the given time. Soft-deleted records still count; the metric
// tracks registrations, not survivors.
func (s *DashboardStore) CountClientsRegisteredInMonth(ctx context.Context, orgID string, month time.Time) (int, error) {
	start, end := monthBounds(month)
	return s.count(ctx,
		`SELECT COUNT(*) FROM clients
		 WHERE organization_id = $1 AND created_at >= $2 AND created_at < $3`,
		orgID, start, end)
}

// CountStaffRegisteredInMonth counts staff created in the calendar month
// containing the given time.
func (s *DashboardStore) CountStaffRegisteredInMonth(ctx context.Context, orgID string, month time.Time) (int, error) {
	start, end := monthBounds(month)
	return s.count(ctx,
		`SELECT COUNT(*) FROM staff
		 WHERE organization_id = $1 AND created_at >= $2 AND created_at < $3`,
		orgID, start, end)
}

func (s *DashboardStore) count(ctx context.Context, query string, args ...any) (int, error) {
	var count int
	if err := s.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to run dashboard count", err)
	}
	return count, nil
}

// monthBounds returns the half-open UTC interval covering the calendar month
// that contains t.
func monthBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}
