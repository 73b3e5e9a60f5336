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

// ClientRepository provides data access for the clients table (care recipients).
type ClientRepository struct {
	db DBTX
}

// NewClientRepository creates a new ClientRepository backed by the given
// database connection (pool or transaction).
func NewClientRepository(db DBTX) *ClientRepository {
	return &ClientRepository{db: db}
}

const clientColumns = `c.id, c.organization_id, c.name, c.name_kana, c.birth_date,
	c.care_level, c.status, c.room_number, c.notes,
	c.created_at, c.updated_at, c.deleted_at`

func scanClient(row pgx.Row) (*types.Client, error) {
	var cl types.Client
	var (
		nameKana   *string
		careLevel  *types.CareLevel
		roomNumber *string
		notes      *string
	)
	err := row.Scan(
		&cl.ID,
		&cl.OrganizationID,
		&cl.Name,
		&nameKana,
		&cl.BirthDate,
		&careLevel,
		&cl.Status,
		&roomNumber,
		&notes,
		&cl.CreatedAt,
		&cl.UpdatedAt,
		&cl.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	if nameKana != nil {
		cl.NameKana = *nameKana
	}
	if careLevel != nil {
		cl.CareLevel = *careLevel
	}
	if roomNumber != nil {
		cl.RoomNumber = *roomNumber
	}
	if notes != nil {
		cl.Notes = *notes
	}
	return &cl, nil
}

// Create inserts a new client record.
func (r *ClientRepository) Create(ctx context.Context, cl *types.Client) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO clients (id, organization_id, name, name_kana, birth_date,
		 care_level, status, room_number, notes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10, NOW()), COALESCE($11, NOW()))`,
		cl.ID,
		cl.OrganizationID,
		cl.Name,
		nilIfEmpty(cl.NameKana),
		cl.BirthDate,
		nilIfEmpty(string(cl.CareLevel)),
		cl.Status,
		nilIfEmpty(cl.RoomNumber),
		nilIfEmpty(cl.Notes),
		nilIfZeroTime(cl.CreatedAt),
		nilIfZeroTime(cl.UpdatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create client", err)
	}
	return nil
}

// GetByID retrieves a client by ID scoped to an organization.
// Returns ErrCodeNotFoundClient if no active client is found.
func (r *ClientRepository) GetByID(ctx context.Context, id string, orgID string) (*types.Client, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+clientColumns+`
		 FROM clients c
		 WHERE c.id = $1 AND c.organization_id = $2 AND c.deleted_at IS NULL`,
		id,
		orgID,
	)

	cl, err := scanClient(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundClient, "client not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve client", err)
	}
	return cl, nil
}

// ListClientsParams defines filtering parameters for client listing.
type ListClientsParams struct {
	Status    []types.ClientStatus
	CareLevel types.CareLevel
	// Search matches name or name_kana as a case-insensitive prefix.
	Search string
	Limit  int
	Cursor string
}

// List returns clients for an organization, newest first, with cursor-based
// pagination on created_at.
func (r *ClientRepository) List(ctx context.Context, orgID string, params ListClientsParams) ([]*types.Client, types.PageInfo, error) {
	limit := clampLimit(params.Limit)

	var conditions []string
	var args []any
	argIdx := 1

	conditions = append(conditions, fmt.Sprintf("c.organization_id = $%d", argIdx))
	args = append(args, orgID)
	argIdx++

	conditions = append(conditions, "c.deleted_at IS NULL")

	if len(params.Status) > 0 {
		placeholders := make([]string, len(params.Status))
		for i, s := range params.Status {
			placeholders[i] = fmt.Sprintf("$%d", argIdx)
			args = append(args, s)
			argIdx++
		}
		conditions = append(conditions, fmt.Sprintf("c.status IN (%s)", strings.Join(placeholders, ", ")))
	}

	if params.CareLevel != "" {
		conditions = append(conditions, fmt.Sprintf("c.care_level = $%d", argIdx))
		args = append(args, params.CareLevel)
		argIdx++
	}

	if params.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(c.name ILIKE $%d OR c.name_kana ILIKE $%d)", argIdx, argIdx))
		args = append(args, params.Search+"%")
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
		conditions = append(conditions, fmt.Sprintf("c.created_at < $%d", argIdx))
		args = append(args, cursorTime)
		argIdx++
	}

	query := fmt.Sprintf(
		`SELECT `+clientColumns+`
		 FROM clients c
		 WHERE %s
		 ORDER BY c.created_at DESC
		 LIMIT $%d`,
		strings.Join(conditions, " AND "),
		argIdx,
	)
	args = append(args, limit+1)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "failed to list clients", err)
	}
	defer rows.Close()

	var results []*types.Client
	for rows.Next() {
		cl, scanErr := scanClient(rows)
		if scanErr != nil {
			return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "failed to scan client row", scanErr)
		}
		results = append(results, cl)
	}
	if err := rows.Err(); err != nil {
		return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "error iterating client rows", err)
	}

	page := types.PageInfo{}
	if len(results) > limit {
		results = results[:limit]
		page.HasMore = true
		page.NextCursor = results[limit-1].CreatedAt.Format(time.RFC3339Nano)
	}
	return results, page, nil
}

// Update applies changes to a client record. Updates the mutable fields:
// name, name_kana, birth_date, care_level, status, room_number, notes.
func (r *ClientRepository) Update(ctx context.Context, cl *types.Client) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE clients
		 SET name = $1, name_kana = $2, birth_date = $3, care_level = $4,
		     status = $5, room_number = $6, notes = $7, updated_at = NOW()
		 WHERE id = $8 AND organization_id = $9 AND deleted_at IS NULL`,
		cl.Name,
		nilIfEmpty(cl.NameKana),
		cl.BirthDate,
		nilIfEmpty(string(cl.CareLevel)),
		cl.Status,
		nilIfEmpty(cl.RoomNumber),
		nilIfEmpty(cl.Notes),
		cl.ID,
		cl.OrganizationID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update client", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundClient, "client not found", nil)
	}
	return nil
}

// Delete performs a soft delete on a client by setting deleted_at = NOW().
func (r *ClientRepository) Delete(ctx context.Context, id string, orgID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE clients SET deleted_at = NOW()
		 WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL`,
		id,
		orgID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete client", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundClient, "client not found", nil)
	}
	return nil
}

// CountActive returns the number of active clients for an organization.
func (r *ClientRepository) CountActive(ctx context.Context, orgID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM clients
		 WHERE organization_id = $1 AND status = 'active' AND deleted_at IS NULL`,
		orgID,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count active clients", err)
	}
	return count, nil
}
