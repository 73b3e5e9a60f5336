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

// DeviceRepository provides data access for the devices table. Devices are
// never soft-deleted; retirement is a terminal status so billing history can
// still resolve past device counts.
type DeviceRepository struct {
	db DBTX
}

// NewDeviceRepository creates a new DeviceRepository backed by the given
// database connection (pool or transaction).
func NewDeviceRepository(db DBTX) *DeviceRepository {
	return &DeviceRepository{db: db}
}

const deviceColumns = `d.id, d.organization_id, d.name, d.kind, d.serial_number,
	d.status, d.last_seen_at, d.created_at, d.updated_at`

func scanDevice(row pgx.Row) (*types.Device, error) {
	var dv types.Device
	err := row.Scan(
		&dv.ID,
		&dv.OrganizationID,
		&dv.Name,
		&dv.Kind,
		&dv.SerialNumber,
		&dv.Status,
		&dv.LastSeenAt,
		&dv.CreatedAt,
		&dv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &dv, nil
}

// Create registers a new device.
// Returns ErrCodeConflictSerial (409) if the serial number is already
// registered (unique constraint violation on idx_devices_serial).
func (r *DeviceRepository) Create(ctx context.Context, dv *types.Device) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO devices (id, organization_id, name, kind, serial_number,
		 status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()), COALESCE($8, NOW()))`,
		dv.ID,
		dv.OrganizationID,
		dv.Name,
		dv.Kind,
		dv.SerialNumber,
		dv.Status,
		nilIfZeroTime(dv.CreatedAt),
		nilIfZeroTime(dv.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictSerial, "serial number already registered", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create device", err)
	}
	return nil
}

// GetByID retrieves a device by ID scoped to an organization.
// Returns ErrCodeNotFoundDevice if the device does not exist.
func (r *DeviceRepository) GetByID(ctx context.Context, id string, orgID string) (*types.Device, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+deviceColumns+`
		 FROM devices d
		 WHERE d.id = $1 AND d.organization_id = $2`,
		id,
		orgID,
	)

	dv, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundDevice, "device not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve device", err)
	}
	return dv, nil
}

// ListDevicesParams defines filtering parameters for device listing.
type ListDevicesParams struct {
	Status []types.DeviceStatus
	Kind   types.DeviceKind
	Limit  int
	Cursor string
}

// List returns devices for an organization, newest first, with cursor-based
// pagination on created_at.
func (r *DeviceRepository) List(ctx context.Context, orgID string, params ListDevicesParams) ([]*types.Device, types.PageInfo, error) {
	limit := clampLimit(params.Limit)

	var conditions []string
	var args []any
	argIdx := 1

	conditions = append(conditions, fmt.Sprintf("d.organization_id = $%d", argIdx))
	args = append(args, orgID)
	argIdx++

	if len(params.Status) > 0 {
		placeholders := make([]string, len(params.Status))
		for i, s := range params.Status {
			placeholders[i] = fmt.Sprintf("$%d", argIdx)
			args = append(args, s)
			argIdx++
		}
		conditions = append(conditions, fmt.Sprintf("d.status IN (%s)", strings.Join(placeholders, ", ")))
	}

	if params.Kind != "" {
		conditions = append(conditions, fmt.Sprintf("d.kind = $%d", argIdx))
		args = append(args, params.Kind)
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
		conditions = append(conditions, fmt.Sprintf("d.created_at < $%d", argIdx))
		args = append(args, cursorTime)
		argIdx++
	}

	query := fmt.Sprintf(
		`SELECT `+deviceColumns+`
		 FROM devices d
		 WHERE %s
		 ORDER BY d.created_at DESC
		 LIMIT $%d`,
		strings.Join(conditions, " AND "),
		argIdx,
	)
	args = append(args, limit+1)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "failed to list devices", err)
	}
	defer rows.Close()

	var results []*types.Device
	for rows.Next() {
		dv, scanErr := scanDevice(rows)
		if scanErr != nil {
			return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "failed to scan device row", scanErr)
		}
		results = append(results, dv)
	}
	if err := rows.Err(); err != nil {
		return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "error iterating device rows", err)
	}

	page := types.PageInfo{}
	if len(results) > limit {
		results = results[:limit]
		page.HasMore = true
		page.NextCursor = results[limit-1].CreatedAt.Format(time.RFC3339Nano)
	}
	return results, page, nil
}

// Update applies changes to a device record. Updates the mutable fields:
// name and kind. Serial numbers are immutable after registration.
func (r *DeviceRepository) Update(ctx context.Context, dv *types.Device) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE devices SET name = $1, kind = $2, updated_at = NOW()
		 WHERE id = $3 AND organization_id = $4`,
		dv.Name,
		dv.Kind,
		dv.ID,
		dv.OrganizationID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update device", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundDevice, "device not found", nil)
	}
	return nil
}

// UpdateStatus transitions a device to a new status. Retired devices are
// terminal and cannot transition again.
func (r *DeviceRepository) UpdateStatus(ctx context.Context, id string, orgID string, status types.DeviceStatus) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE devices SET status = $1, updated_at = NOW()
		 WHERE id = $2 AND organization_id = $3 AND status <> 'retired'`,
		status,
		id,
		orgID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update device status", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundDevice, "device not found or retired", nil)
	}
	return nil
}

// TouchLastSeen updates last_seen_at for a device heartbeat.
func (r *DeviceRepository) TouchLastSeen(ctx context.Context, id string, orgID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE devices SET last_seen_at = NOW()
		 WHERE id = $1 AND organization_id = $2 AND status = 'active'`,
		id,
		orgID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update device heartbeat", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundDevice, "device not found or not active", nil)
	}
	return nil
}

// ListStale returns active devices across all organizations whose last
// heartbeat is older than the threshold. Devices that have never reported
// (NULL last_seen_at) are compared by their registration time instead.
// Used by the offline watchdog.
func (r *DeviceRepository) ListStale(ctx context.Context, threshold time.Time) ([]*types.Device, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+deviceColumns+`
		 FROM devices d
		 WHERE d.status = 'active'
		   AND COALESCE(d.last_seen_at, d.created_at) < $1
		 ORDER BY d.organization_id, d.id`,
		threshold,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list stale devices", err)
	}
	defer rows.Close()

	var results []*types.Device
	for rows.Next() {
		dv, scanErr := scanDevice(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan device row", scanErr)
		}
		results = append(results, dv)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating device rows", err)
	}

	return results, nil
}

// CountActive returns the number of active devices for an organization.
// This count drives the per-device portion of the monthly fee.
func (r *DeviceRepository) CountActive(ctx context.Context, orgID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM devices
		 WHERE organization_id = $1 AND status = 'active'`,
		orgID,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count active devices", err)
	}
	return count, nil
}
