package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"carebase/internal/types"
)

// SubscriptionRepository provides data access for the subscriptions table.
// A subscription stores only the pricing inputs (plan, products, AI toggles);
// itemized amounts are always computed fresh by the pricing engine.
type SubscriptionRepository struct {
	db DBTX
}

// NewSubscriptionRepository creates a new SubscriptionRepository backed by the
// given database connection (pool or transaction).
func NewSubscriptionRepository(db DBTX) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// GetByOrg retrieves the subscription for an organization.
// Returns ErrCodeNotFoundSubscription if none exists.
func (r *SubscriptionRepository) GetByOrg(ctx context.Context, orgID string) (*types.Subscription, error) {
	var sub types.Subscription
	err := r.db.QueryRow(ctx,
		`SELECT organization_id, plan, status, active_product_ids, ai_enabled_product_ids,
		 current_period_start, current_period_end, updated_at
		 FROM subscriptions
		 WHERE organization_id = $1`,
		orgID,
	).Scan(
		&sub.OrganizationID,
		&sub.Plan,
		&sub.Status,
		&sub.ActiveProductIDs,
		&sub.AIEnabledProductIDs,
		&sub.CurrentPeriodStart,
		&sub.CurrentPeriodEnd,
		&sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve subscription", err)
	}
	return &sub, nil
}

// Upsert creates or replaces the subscription for an organization.
// Used at signup and by the plan-change flow.
func (r *SubscriptionRepository) Upsert(ctx context.Context, sub *types.Subscription) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO subscriptions (organization_id, plan, status, active_product_ids,
		 ai_enabled_product_ids, current_period_start, current_period_end, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		 ON CONFLICT (organization_id)
		 DO UPDATE SET plan = $2, status = $3, active_product_ids = $4,
		   ai_enabled_product_ids = $5, current_period_start = $6,
		   current_period_end = $7, updated_at = NOW()`,
		sub.OrganizationID,
		sub.Plan,
		sub.Status,
		sub.ActiveProductIDs,
		sub.AIEnabledProductIDs,
		sub.CurrentPeriodStart,
		sub.CurrentPeriodEnd,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert subscription", err)
	}
	return nil
}

// UpdateProducts replaces the active product and AI enablement lists.
func (r *SubscriptionRepository) UpdateProducts(ctx context.Context, orgID string, activeProductIDs, aiEnabledProductIDs []string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions
		 SET active_product_ids = $1, ai_enabled_product_ids = $2, updated_at = NOW()
		 WHERE organization_id = $3`,
		activeProductIDs,
		aiEnabledProductIDs,
		orgID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update subscription products", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription not found", nil)
	}
	return nil
}

// UpdateStatus transitions the subscription lifecycle status.
func (r *SubscriptionRepository) UpdateStatus(ctx context.Context, orgID string, status types.SubscriptionStatus) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions SET status = $1, updated_at = NOW()
		 WHERE organization_id = $2`,
		status,
		orgID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update subscription status", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription not found", nil)
	}
	return nil
}

// ForEachActive streams every active subscription, calling fn for each one.
// Used by the billing cycle job so the full tenant set never sits in memory
// at once. Iteration stops at the first error from fn.
func (r *SubscriptionRepository) ForEachActive(ctx context.Context, fn func(*types.Subscription) error) error {
	rows, err := r.db.Query(ctx,
		`SELECT organization_id, plan, status, active_product_ids, ai_enabled_product_ids,
		 current_period_start, current_period_end, updated_at
		 FROM subscriptions
		 WHERE status = 'active'
		 ORDER BY organization_id`,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to stream active subscriptions", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sub types.Subscription
		if err := rows.Scan(
			&sub.OrganizationID,
			&sub.Plan,
			&sub.Status,
			&sub.ActiveProductIDs,
			&sub.AIEnabledProductIDs,
			&sub.CurrentPeriodStart,
			&sub.CurrentPeriodEnd,
			&sub.UpdatedAt,
		); err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to scan subscription row", err)
		}
		if err := fn(&sub); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "error iterating subscription rows", err)
	}
	return nil
}

// InvoiceRepository provides data access for the invoices table. Invoices are
// written by the billing cycle job and read-only through the API.
type InvoiceRepository struct {
	db DBTX
}

// NewInvoiceRepository creates a new InvoiceRepository backed by the given
// database connection (pool or transaction).
func NewInvoiceRepository(db DBTX) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

const invoiceColumns = `iv.id, iv.organization_id, iv.status, iv.period_start,
	iv.period_end, iv.subtotal, iv.tax, iv.total, iv.breakdown, iv.paid_at, iv.created_at`

func scanInvoice(row pgx.Row) (*types.Invoice, error) {
	var inv types.Invoice
	err := row.Scan(
		&inv.ID,
		&inv.OrganizationID,
		&inv.Status,
		&inv.PeriodStart,
		&inv.PeriodEnd,
		&inv.Subtotal,
		&inv.Tax,
		&inv.Total,
		&inv.Breakdown,
		&inv.PaidAt,
		&inv.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// Insert writes a new invoice for a billing period.
func (r *InvoiceRepository) Insert(ctx context.Context, inv *types.Invoice) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO invoices (id, organization_id, status, period_start, period_end,
		 subtotal, tax, total, breakdown, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10, NOW()))`,
		inv.ID,
		inv.OrganizationID,
		inv.Status,
		inv.PeriodStart,
		inv.PeriodEnd,
		inv.Subtotal,
		inv.Tax,
		inv.Total,
		inv.Breakdown,
		nilIfZeroTime(inv.CreatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert invoice", err)
	}
	return nil
}

// GetByID retrieves an invoice by ID scoped to an organization.
func (r *InvoiceRepository) GetByID(ctx context.Context, id string, orgID string) (*types.Invoice, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+invoiceColumns+`
		 FROM invoices iv
		 WHERE iv.id = $1 AND iv.organization_id = $2`,
		id,
		orgID,
	)

	inv, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundInvoice, "invoice not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve invoice", err)
	}
	return inv, nil
}

// ListByOrg returns invoices for an organization, most recent period first.
func (r *InvoiceRepository) ListByOrg(ctx context.Context, orgID string, limit int) ([]*types.Invoice, error) {
	limit = clampLimit(limit)

	rows, err := r.db.Query(ctx,
		`SELECT `+invoiceColumns+`
		 FROM invoices iv
		 WHERE iv.organization_id = $1
		 ORDER BY iv.period_start DESC
		 LIMIT $2`,
		orgID,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list invoices", err)
	}
	defer rows.Close()

	var results []*types.Invoice
	for rows.Next() {
		inv, scanErr := scanInvoice(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan invoice row", scanErr)
		}
		results = append(results, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating invoice rows", err)
	}

	return results, nil
}

// MarkPaid sets paid status and paid_at on an open invoice.
func (r *InvoiceRepository) MarkPaid(ctx context.Context, id string, orgID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE invoices SET status = 'paid', paid_at = NOW()
		 WHERE id = $1 AND organization_id = $2 AND status = 'open'`,
		id,
		orgID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark invoice paid", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundInvoice, "invoice not found or not open", nil)
	}
	return nil
}
