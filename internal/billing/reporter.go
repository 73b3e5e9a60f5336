package billing

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"carebase/internal/types"
)

// DashboardDB provides the aggregation queries the dashboard reporter needs.
// This is a focused interface so the reporter does not depend on the full
// repository set; internal/db satisfies it with direct COUNT queries.
type DashboardDB interface {
	CountActiveClients(ctx context.Context, orgID string) (int, error)
	CountActiveStaff(ctx context.Context, orgID string) (int, error)
	CountActiveDevices(ctx context.Context, orgID string) (int, error)
	CountUnreadNotifications(ctx context.Context, orgID string) (int, error)

	// CountClientsRegisteredInMonth and CountStaffRegisteredInMonth count
	// records created within the calendar month containing the given time.
	CountClientsRegisteredInMonth(ctx context.Context, orgID string, month time.Time) (int, error)
	CountStaffRegisteredInMonth(ctx context.Context, orgID string, month time.Time) (int, error)
}

// DashboardReporter aggregates the live counts shown on the My-Page
// dashboard and attaches month-over-month growth for the headline metrics.
type DashboardReporter struct {
	db DashboardDB

	// now is injectable for tests; defaults to time.Now.
	now func() time.Time
}

// NewDashboardReporter creates a reporter backed by the given aggregation DB.
func NewDashboardReporter(db DashboardDB) *DashboardReporter {
	return &DashboardReporter{db: db, now: time.Now}
}

// Summarize fans out the count queries concurrently and assembles the
// dashboard summary. Growth compares registrations in the current calendar
// month against the previous one using the zero-base-guarded growth helper.
func (r *DashboardReporter) Summarize(ctx context.Context, orgID string) (*types.DashboardSummary, error) {
	now := r.now().UTC()
	lastMonth := now.AddDate(0, -1, 0)

	var (
		summary                          types.DashboardSummary
		clientsThis, clientsLast         int
		staffThis, staffLast             int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		summary.ActiveClients, err = r.db.CountActiveClients(gctx, orgID)
		return err
	})
	g.Go(func() (err error) {
		summary.ActiveStaff, err = r.db.CountActiveStaff(gctx, orgID)
		return err
	})
	g.Go(func() (err error) {
		summary.ActiveDevices, err = r.db.CountActiveDevices(gctx, orgID)
		return err
	})
	g.Go(func() (err error) {
		summary.UnreadNotifications, err = r.db.CountUnreadNotifications(gctx, orgID)
		return err
	})
	g.Go(func() (err error) {
		clientsThis, err = r.db.CountClientsRegisteredInMonth(gctx, orgID, now)
		return err
	})
	g.Go(func() (err error) {
		clientsLast, err = r.db.CountClientsRegisteredInMonth(gctx, orgID, lastMonth)
		return err
	})
	g.Go(func() (err error) {
		staffThis, err = r.db.CountStaffRegisteredInMonth(gctx, orgID, now)
		return err
	})
	g.Go(func() (err error) {
		staffLast, err = r.db.CountStaffRegisteredInMonth(gctx, orgID, lastMonth)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary.ClientGrowth = CalculateMonthOverMonthGrowth(clientsThis, clientsLast)
	summary.StaffGrowth = CalculateMonthOverMonthGrowth(staffThis, staffLast)
	return &summary, nil
}
