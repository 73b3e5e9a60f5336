package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"carebase/internal/types"
)

// OrganizationRepository provides data access for the organizations table.
type OrganizationRepository struct {
	db DBTX
}

// NewOrganizationRepository creates a new OrganizationRepository backed by the
// given database connection (pool or transaction).
func NewOrganizationRepository(db DBTX) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

// orgColumns defines the standard set of columns selected for organization queries.
// Used consistently across all query methods to avoid column drift.
const orgColumns = `o.id, o.name, o.billing_email, o.plan, o.address, o.phone,
	o.webhook_url, o.free_staff_allowance, o.previous_discount,
	o.created_at, o.updated_at, o.deleted_at`

// scanOrg scans a single organization row into a types.Organization struct.
// The columns must match the order defined in orgColumns.
func scanOrg(row pgx.Row) (*types.Organization, error) {
	var org types.Organization
	var (
		address    *string
		phone      *string
		webhookURL *string
	)

	err := row.Scan(
		&org.ID,
		&org.Name,
		&org.BillingEmail,
		&org.Plan,
		&address,
		&phone,
		&webhookURL,
		&org.FreeStaffAllowance,
		&org.PreviousDiscount,
		&org.CreatedAt,
		&org.UpdatedAt,
		&org.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	if address != nil {
		org.Address = *address
	}
	if phone != nil {
		org.Phone = *phone
	}
	if webhookURL != nil {
		org.WebhookURL = *webhookURL
	}
	return &org, nil
}

// Create inserts a new organization record. The caller must set the ID
// (prefixed UUID, e.g. "org_...") and required fields before calling.
func (r *OrganizationRepository) Create(ctx context.Context, org *types.Organization) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO organizations (id, name, billing_email, plan, address, phone,
		 webhook_url, free_staff_allowance, previous_discount, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10, NOW()), COALESCE($11, NOW()))`,
		org.ID,
		org.Name,
		org.BillingEmail,
		org.Plan,
		nilIfEmpty(org.Address),
		nilIfEmpty(org.Phone),
		nilIfEmpty(org.WebhookURL),
		org.FreeStaffAllowance,
		org.PreviousDiscount,
		nilIfZeroTime(org.CreatedAt),
		nilIfZeroTime(org.UpdatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create organization", err)
	}
	return nil
}

// GetByID retrieves an organization by its ID. Excludes soft-deleted organizations.
// Returns ErrCodeNotFoundOrg if no active organization is found.
func (r *OrganizationRepository) GetByID(ctx context.Context, id string) (*types.Organization, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+orgColumns+`
		 FROM organizations o
		 WHERE o.id = $1 AND o.deleted_at IS NULL`,
		id,
	)

	org, err := scanOrg(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundOrg, "organization not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve organization", err)
	}
	return org, nil
}

// Update applies changes to an organization record. The caller passes the full
// Organization struct; only mutable profile fields (name, billing_email,
// address, phone, webhook_url) are written. The updated_at timestamp is set by
// the database.
func (r *OrganizationRepository) Update(ctx context.Context, org *types.Organization) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE organizations
		 SET name = $1,
		     billing_email = $2,
		     address = $3,
		     phone = $4,
		     webhook_url = $5,
		     updated_at = NOW()
		 WHERE id = $6 AND deleted_at IS NULL`,
		org.Name,
		org.BillingEmail,
		nilIfEmpty(org.Address),
		nilIfEmpty(org.Phone),
		nilIfEmpty(org.WebhookURL),
		org.ID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update organization", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundOrg, "organization not found", nil)
	}
	return nil
}

// UpdatePlan updates the organization's plan tier. Called together with the
// subscription update inside the plan-change transaction.
func (r *OrganizationRepository) UpdatePlan(ctx context.Context, id string, plan types.PlanTier) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE organizations
		 SET plan = $1,
		     updated_at = NOW()
		 WHERE id = $2 AND deleted_at IS NULL`,
		plan,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update organization plan", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundOrg, "organization not found", nil)
	}
	return nil
}

// UpdateAllowances updates the free staff allowance and carried-over discount
// used by the pricing engine when reporting free staff slots.
func (r *OrganizationRepository) UpdateAllowances(ctx context.Context, id string, freeStaffAllowance, previousDiscount int) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE organizations
		 SET free_staff_allowance = $1,
		     previous_discount = $2,
		     updated_at = NOW()
		 WHERE id = $3 AND deleted_at IS NULL`,
		freeStaffAllowance,
		previousDiscount,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update organization allowances", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundOrg, "organization not found", nil)
	}
	return nil
}

// Delete performs a soft delete by setting deleted_at = NOW().
// The caller must invalidate sessions and cancel the subscription before
// calling Delete.
func (r *OrganizationRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE organizations SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete organization", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundOrg, "organization not found or already deleted", nil)
	}
	return nil
}
