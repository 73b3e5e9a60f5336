package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"carebase/internal/notifications"
	"carebase/internal/types"
)

// SubscriptionSource streams and advances subscriptions for the cycle run.
// internal/db.SubscriptionRepository satisfies it.
type SubscriptionSource interface {
	ForEachActive(ctx context.Context, fn func(*types.Subscription) error) error
	Upsert(ctx context.Context, sub *types.Subscription) error
}

// CycleOrgs resolves the organization an invoice belongs to.
type CycleOrgs interface {
	GetByID(ctx context.Context, id string) (*types.Organization, error)
}

// CycleCounters provides the live counts the fee computation bills against.
type CycleCounters interface {
	CountActiveDevices(ctx context.Context, orgID string) (int, error)
	CountActiveStaff(ctx context.Context, orgID string) (int, error)
}

// InvoiceWriter persists the invoice produced for a billing period.
type InvoiceWriter interface {
	Insert(ctx context.Context, inv *types.Invoice) error
}

// CycleNotifier fans out the invoice-issued notification. Satisfied by
// notifications.Dispatcher; may be nil to run silently.
type CycleNotifier interface {
	Dispatch(ctx context.Context, n *types.Notification) error
}

// CycleResult summarizes one cycle run for logging and exit reporting.
type CycleResult struct {
	Processed int
	Invoiced  int
	Skipped   int
	Failed    int
}

// CycleRunner closes billing periods. For every active subscription whose
// current period has elapsed it computes the itemized fee from live counts,
// writes an open invoice for the elapsed period, advances the subscription to
// the next calendar month, and notifies the organization.
//
// A failure on one organization is logged and counted but never aborts the
// run; the remaining tenants still get invoiced.
type CycleRunner struct {
	subs     SubscriptionSource
	orgs     CycleOrgs
	counters CycleCounters
	invoices InvoiceWriter
	engine   *PricingEngine
	notifier CycleNotifier
	logger   *slog.Logger
	clock    types.Clock
	newID    func() string
}

// NewCycleRunner creates a runner. notifier may be nil.
func NewCycleRunner(
	subs SubscriptionSource,
	orgs CycleOrgs,
	counters CycleCounters,
	invoices InvoiceWriter,
	engine *PricingEngine,
	notifier CycleNotifier,
	logger *slog.Logger,
) *CycleRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &CycleRunner{
		subs:     subs,
		orgs:     orgs,
		counters: counters,
		invoices: invoices,
		engine:   engine,
		notifier: notifier,
		logger:   logger,
		clock:    types.RealClock{},
		newID:    func() string { return "invc_" + uuid.NewString() },
	}
}

// Run executes one billing cycle pass. Only the subscription stream itself
// can fail the run; per-organization errors are absorbed into the result.
func (c *CycleRunner) Run(ctx context.Context) (CycleResult, error) {
	now := c.clock.Now().UTC()
	var result CycleResult

	err := c.subs.ForEachActive(ctx, func(sub *types.Subscription) error {
		result.Processed++

		if sub.CurrentPeriodEnd.After(now) {
			result.Skipped++
			return nil
		}

		if err := c.closePeriod(ctx, sub); err != nil {
			result.Failed++
			c.logger.ErrorContext(ctx, "billing cycle failed for organization",
				"organization_id", sub.OrganizationID,
				"period_end", sub.CurrentPeriodEnd,
				"error", err,
			)
			return nil
		}

		result.Invoiced++
		return nil
	})
	if err != nil {
		return result, err
	}
	return result, nil
}

// closePeriod invoices the elapsed period and rolls the subscription forward.
func (c *CycleRunner) closePeriod(ctx context.Context, sub *types.Subscription) error {
	org, err := c.orgs.GetByID(ctx, sub.OrganizationID)
	if err != nil {
		return fmt.Errorf("resolving organization: %w", err)
	}

	deviceCount, err := c.counters.CountActiveDevices(ctx, sub.OrganizationID)
	if err != nil {
		return fmt.Errorf("counting devices: %w", err)
	}
	staffCount, err := c.counters.CountActiveStaff(ctx, sub.OrganizationID)
	if err != nil {
		return fmt.Errorf("counting staff: %w", err)
	}

	products, missing := c.engine.ResolveProducts(sub.ActiveProductIDs)
	for _, id := range missing {
		c.logger.WarnContext(ctx, "subscription references unknown product",
			"organization_id", sub.OrganizationID,
			"product_id", id,
		)
	}

	breakdown, err := c.engine.CalculateMonthlyFee(FeeInput{
		Plan:                sub.Plan,
		DeviceCount:         deviceCount,
		ActiveProducts:      products,
		AIEnabledProductIDs: sub.AIEnabledProductIDs,
		StaffCount:          staffCount,
		FreeStaffAllowance:  org.FreeStaffAllowance,
		PreviousDiscount:    org.PreviousDiscount,
	})
	if err != nil {
		return fmt.Errorf("computing monthly fee: %w", err)
	}

	breakdownJSON, err := json.Marshal(breakdown)
	if err != nil {
		return fmt.Errorf("encoding breakdown: %w", err)
	}

	invoice := &types.Invoice{
		ID:             c.newID(),
		OrganizationID: sub.OrganizationID,
		Status:         types.InvoiceOpen,
		PeriodStart:    sub.CurrentPeriodStart,
		PeriodEnd:      sub.CurrentPeriodEnd,
		Subtotal:       breakdown.Subtotal,
		Tax:            breakdown.Tax,
		Total:          breakdown.Total,
		Breakdown:      breakdownJSON,
	}
	if err := c.invoices.Insert(ctx, invoice); err != nil {
		return fmt.Errorf("writing invoice: %w", err)
	}

	// The next period starts where the elapsed one ended, so no billable day
	// is ever skipped or double-counted even when the job runs late.
	sub.CurrentPeriodStart = sub.CurrentPeriodEnd
	sub.CurrentPeriodEnd = sub.CurrentPeriodEnd.AddDate(0, 1, 0)
	if err := c.subs.Upsert(ctx, sub); err != nil {
		return fmt.Errorf("advancing subscription period: %w", err)
	}

	c.logger.InfoContext(ctx, "invoice issued",
		"organization_id", sub.OrganizationID,
		"invoice_id", invoice.ID,
		"total", invoice.Total,
	)

	if c.notifier != nil {
		if err := c.notifier.Dispatch(ctx, notifications.BillingWarning(sub.OrganizationID, invoice)); err != nil {
			c.logger.WarnContext(ctx, "invoice notification failed",
				"organization_id", sub.OrganizationID,
				"invoice_id", invoice.ID,
				"error", err,
			)
		}
	}
	return nil
}
