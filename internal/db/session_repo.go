package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"carebase/internal/types"
)

// SessionRepository provides data access for the sessions table. Bearer
// tokens are opaque; only SHA-256 digests are stored and queried.
type SessionRepository struct {
	db DBTX
}

// NewSessionRepository creates a new SessionRepository backed by the given
// database connection (pool or transaction).
func NewSessionRepository(db DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `se.id, se.staff_id, se.organization_id, se.token_hash,
	se.user_agent, se.ip_address, se.expires_at, se.created_at`

func scanSession(row pgx.Row) (*types.Session, error) {
	var s types.Session
	var (
		userAgent *string
		ipAddress *string
	)
	err := row.Scan(
		&s.ID,
		&s.StaffID,
		&s.OrganizationID,
		&s.TokenHash,
		&userAgent,
		&ipAddress,
		&s.ExpiresAt,
		&s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if userAgent != nil {
		s.UserAgent = *userAgent
	}
	if ipAddress != nil {
		s.IPAddress = *ipAddress
	}
	return &s, nil
}

// Create inserts a new session record.
func (r *SessionRepository) Create(ctx context.Context, s *types.Session) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO sessions (id, staff_id, organization_id, token_hash,
		 user_agent, ip_address, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()))`,
		s.ID,
		s.StaffID,
		s.OrganizationID,
		s.TokenHash,
		nilIfEmpty(s.UserAgent),
		nilIfEmpty(s.IPAddress),
		s.ExpiresAt,
		nilIfZeroTime(s.CreatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create session", err)
	}
	return nil
}

// GetByTokenHash retrieves a session by its token digest. Expiry is checked
// by the caller so it can distinguish an expired session from an unknown
// token. Returns ErrCodeAuthTokenInvalid when no session matches.
func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*types.Session, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+sessionColumns+`
		 FROM sessions se
		 WHERE se.token_hash = $1`,
		tokenHash,
	)

	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid session token", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve session", err)
	}
	return s, nil
}

// Delete removes a session by ID. Used for explicit logout.
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM sessions WHERE id = $1`,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete session", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeAuthTokenInvalid, "session not found", nil)
	}
	return nil
}

// DeleteByStaff removes all sessions for a staff member. Called after
// password changes and staff removal to force re-authentication.
func (r *SessionRepository) DeleteByStaff(ctx context.Context, staffID string) (int, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM sessions WHERE staff_id = $1`,
		staffID,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete staff sessions", err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteExpired removes all sessions past their expiry and returns the number
// of rows removed. Called periodically from the maintenance loop.
func (r *SessionRepository) DeleteExpired(ctx context.Context) (int, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM sessions WHERE expires_at <= NOW()`,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete expired sessions", err)
	}
	return int(tag.RowsAffected()), nil
}
