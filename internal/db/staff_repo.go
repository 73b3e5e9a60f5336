package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"carebase/internal/types"
)

// StaffRepository provides data access for the staff table.
type StaffRepository struct {
	db DBTX
}

// NewStaffRepository creates a new StaffRepository backed by the given
// database connection (pool or transaction).
func NewStaffRepository(db DBTX) *StaffRepository {
	return &StaffRepository{db: db}
}

// staffColumns defines the standard set of columns selected for staff queries.
// Used consistently across all query methods to avoid column drift.
const staffColumns = `s.id, s.organization_id, s.email, s.name, s.name_kana,
	s.password_hash, s.role, s.status,
	s.created_at, s.updated_at, s.last_login_at, s.deleted_at`

// scanStaff scans a single staff row into a types.Staff struct.
// The columns must match the order defined in staffColumns.
func scanStaff(row pgx.Row) (*types.Staff, error) {
	var st types.Staff
	var (
		nameKana     *string
		passwordHash *string
	)
	err := row.Scan(
		&st.ID,
		&st.OrganizationID,
		&st.Email,
		&st.Name,
		&nameKana,
		&passwordHash,
		&st.Role,
		&st.Status,
		&st.CreatedAt,
		&st.UpdatedAt,
		&st.LastLoginAt,
		&st.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	if nameKana != nil {
		st.NameKana = *nameKana
	}
	if passwordHash != nil {
		st.PasswordHash = *passwordHash
	}
	return &st, nil
}

// Create inserts a new staff record.
// Returns ErrCodeConflictEmail (409) if a staff member with the same email
// already exists (unique constraint violation on idx_staff_email).
func (r *StaffRepository) Create(ctx context.Context, st *types.Staff) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO staff (id, organization_id, email, name, name_kana,
		 password_hash, role, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, NOW()), COALESCE($10, NOW()))`,
		st.ID,
		st.OrganizationID,
		st.Email,
		st.Name,
		nilIfEmpty(st.NameKana),
		nilIfEmpty(st.PasswordHash),
		st.Role,
		st.Status,
		nilIfZeroTime(st.CreatedAt),
		nilIfZeroTime(st.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictEmail, "staff member already exists", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create staff member", err)
	}
	return nil
}

// GetByID retrieves a staff member by ID scoped to an organization.
// Returns ErrCodeNotFoundStaff if no active staff member is found.
func (r *StaffRepository) GetByID(ctx context.Context, id string, orgID string) (*types.Staff, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+staffColumns+`
		 FROM staff s
		 WHERE s.id = $1 AND s.organization_id = $2 AND s.deleted_at IS NULL`,
		id,
		orgID,
	)

	st, err := scanStaff(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundStaff, "staff member not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve staff member", err)
	}
	return st, nil
}

// GetByEmail retrieves a staff member by email address for login.
//   - Returns ErrCodeAuthInvalidCreds if no staff member exists, so login
//     cannot distinguish a wrong email from a wrong password.
//   - Returns ErrCodeNotFoundOrg if the owning organization was soft-deleted.
//
// The query joins organizations to check for soft-deletion in a single round trip.
func (r *StaffRepository) GetByEmail(ctx context.Context, email string) (*types.Staff, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+staffColumns+`, o.deleted_at
		 FROM staff s
		 LEFT JOIN organizations o ON o.id = s.organization_id
		 WHERE s.email = $1 AND s.deleted_at IS NULL`,
		email,
	)

	var st types.Staff
	var (
		nameKana     *string
		passwordHash *string
		orgDeletedAt *time.Time
	)
	err := row.Scan(
		&st.ID,
		&st.OrganizationID,
		&st.Email,
		&st.Name,
		&nameKana,
		&passwordHash,
		&st.Role,
		&st.Status,
		&st.CreatedAt,
		&st.UpdatedAt,
		&st.LastLoginAt,
		&st.DeletedAt,
		&orgDeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeAuthInvalidCreds, "invalid email or password", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve staff member by email", err)
	}
	if nameKana != nil {
		st.NameKana = *nameKana
	}
	if passwordHash != nil {
		st.PasswordHash = *passwordHash
	}

	if orgDeletedAt != nil {
		return nil, types.NewAppError(types.ErrCodeNotFoundOrg, "organization has been deleted", nil)
	}

	return &st, nil
}

// ListStaffParams defines filtering parameters for staff listing.
type ListStaffParams struct {
	Status []types.StaffStatus
	Role   types.StaffRole
	Limit  int
	Cursor string
}

// List returns staff members for an organization with optional status and role
// filters, newest first, using cursor-based pagination on created_at.
func (r *StaffRepository) List(ctx context.Context, orgID string, params ListStaffParams) ([]*types.Staff, types.PageInfo, error) {
	limit := clampLimit(params.Limit)

	var conditions []string
	var args []any
	argIdx := 1

	// Organization scope is always enforced.
	conditions = append(conditions, fmt.Sprintf("s.organization_id = $%d", argIdx))
	args = append(args, orgID)
	argIdx++

	// Always exclude soft-deleted records.
	conditions = append(conditions, "s.deleted_at IS NULL")

	if len(params.Status) > 0 {
		placeholders := make([]string, len(params.Status))
		for i, s := range params.Status {
			placeholders[i] = fmt.Sprintf("$%d", argIdx)
			args = append(args, s)
			argIdx++
		}
		conditions = append(conditions, fmt.Sprintf("s.status IN (%s)", strings.Join(placeholders, ", ")))
	}

	if params.Role != "" {
		conditions = append(conditions, fmt.Sprintf("s.role = $%d", argIdx))
		args = append(args, params.Role)
		argIdx++
	}

	// Cursor-based pagination: fetch items older than the cursor timestamp.
	if params.Cursor != "" {
		cursorTime, err := time.Parse(time.RFC3339Nano, params.Cursor)
		if err != nil {
			return nil, types.PageInfo{}, types.NewAppError(
				types.ErrCodeValidationInvalidField,
				"invalid cursor format; expected RFC3339 timestamp",
				err,
			)
		}
		conditions = append(conditions, fmt.Sprintf("s.created_at < $%d", argIdx))
		args = append(args, cursorTime)
		argIdx++
	}

	// Fetch limit+1 to determine has_more without a second count query.
	query := fmt.Sprintf(
		`SELECT `+staffColumns+`
		 FROM staff s
		 WHERE %s
		 ORDER BY s.created_at DESC
		 LIMIT $%d`,
		strings.Join(conditions, " AND "),
		argIdx,
	)
	args = append(args, limit+1)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "failed to list staff", err)
	}
	defer rows.Close()

	var results []*types.Staff
	for rows.Next() {
		st, scanErr := scanStaff(rows)
		if scanErr != nil {
			return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "failed to scan staff row", scanErr)
		}
		results = append(results, st)
	}
	if err := rows.Err(); err != nil {
		return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "error iterating staff rows", err)
	}

	page := types.PageInfo{}
	if len(results) > limit {
		results = results[:limit]
		page.HasMore = true
		page.NextCursor = results[limit-1].CreatedAt.Format(time.RFC3339Nano)
	}
	return results, page, nil
}

// Update applies changes to a staff record. Updates the mutable fields: name,
// name_kana, and role.
func (r *StaffRepository) Update(ctx context.Context, st *types.Staff) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE staff SET name = $1, name_kana = $2, role = $3, updated_at = NOW()
		 WHERE id = $4 AND organization_id = $5 AND deleted_at IS NULL`,
		st.Name,
		nilIfEmpty(st.NameKana),
		st.Role,
		st.ID,
		st.OrganizationID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update staff member", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundStaff, "staff member not found", nil)
	}
	return nil
}

// UpdateStatus transitions a staff member to a new status. Retiring an
// already-retired staff member is a conflict, enforced by the status guard.
func (r *StaffRepository) UpdateStatus(ctx context.Context, id string, orgID string, status types.StaffStatus) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE staff SET status = $1, updated_at = NOW()
		 WHERE id = $2 AND organization_id = $3 AND status <> $1 AND deleted_at IS NULL`,
		status,
		id,
		orgID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update staff status", err)
	}
	if tag.RowsAffected() == 0 {
		if status == types.StaffRetired {
			return types.NewAppError(types.ErrCodeConflictRetired, "staff member not found or already retired", nil)
		}
		return types.NewAppError(types.ErrCodeNotFoundStaff, "staff member not found", nil)
	}
	return nil
}

// UpdatePassword updates the staff member's password hash. Session
// invalidation is handled by the caller within the same transaction.
func (r *StaffRepository) UpdatePassword(ctx context.Context, id string, newHash string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE staff SET password_hash = $1, updated_at = NOW()
		 WHERE id = $2 AND deleted_at IS NULL`,
		newHash,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update password", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundStaff, "staff member not found", nil)
	}
	return nil
}

// UpdateLastLogin updates the last_login_at timestamp for a staff member.
// Called during the login transaction.
func (r *StaffRepository) UpdateLastLogin(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE staff SET last_login_at = NOW() WHERE id = $1 AND deleted_at IS NULL`,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update last login", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundStaff, "staff member not found", nil)
	}
	return nil
}

// Delete performs a soft delete on a staff member by setting deleted_at = NOW().
// The caller is responsible for session invalidation within the same transaction.
func (r *StaffRepository) Delete(ctx context.Context, id string, orgID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE staff SET deleted_at = NOW()
		 WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL`,
		id,
		orgID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete staff member", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundStaff, "staff member not found", nil)
	}
	return nil
}

// CountRepresentatives returns the number of active representative-role staff
// for the given organization. Used to enforce the "last representative"
// constraint on role changes and removals.
//
// Note: callers must count within a transaction holding an appropriate lock
// to avoid a concurrent removal of the final representative. This method
// performs a plain COUNT.
func (r *StaffRepository) CountRepresentatives(ctx context.Context, orgID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM staff
		 WHERE organization_id = $1 AND role = 'representative'
		   AND status = 'active' AND deleted_at IS NULL`,
		orgID,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count representatives", err)
	}
	return count, nil
}

// CountActive returns the number of active staff for an organization.
// Feeds the staff portion of the monthly fee calculation.
func (r *StaffRepository) CountActive(ctx context.Context, orgID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM staff
		 WHERE organization_id = $1 AND status = 'active' AND deleted_at IS NULL`,
		orgID,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count active staff", err)
	}
	return count, nil
}
