package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"carebase/internal/types"
)

// InvitationRepository provides data access for the invitations table.
// Raw invitation tokens are never stored; lookups go through the SHA-256
// token hash.
type InvitationRepository struct {
	db DBTX
}

// NewInvitationRepository creates a new InvitationRepository backed by the
// given database connection (pool or transaction).
func NewInvitationRepository(db DBTX) *InvitationRepository {
	return &InvitationRepository{db: db}
}

const invitationColumns = `i.id, i.organization_id, i.email, i.role, i.status,
	i.token_hash, i.invited_by, i.expires_at, i.accepted_at, i.created_at`

func scanInvitation(row pgx.Row) (*types.Invitation, error) {
	var inv types.Invitation
	err := row.Scan(
		&inv.ID,
		&inv.OrganizationID,
		&inv.Email,
		&inv.Role,
		&inv.Status,
		&inv.TokenHash,
		&inv.InvitedBy,
		&inv.ExpiresAt,
		&inv.AcceptedAt,
		&inv.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// Create inserts a new pending invitation.
// Returns ErrCodeConflictInvite (409) if a pending invitation for the same
// email already exists in the organization (partial unique index on
// (organization_id, email) WHERE status = 'pending').
func (r *InvitationRepository) Create(ctx context.Context, inv *types.Invitation) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO invitations (id, organization_id, email, role, status,
		 token_hash, invited_by, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, 'pending', $5, $6, $7, COALESCE($8, NOW()))`,
		inv.ID,
		inv.OrganizationID,
		inv.Email,
		inv.Role,
		inv.TokenHash,
		inv.InvitedBy,
		inv.ExpiresAt,
		nilIfZeroTime(inv.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictInvite, "a pending invitation already exists for this email", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create invitation", err)
	}
	return nil
}

// GetByID retrieves an invitation by ID scoped to an organization.
// Returns ErrCodeNotFoundInvitation if it does not exist.
func (r *InvitationRepository) GetByID(ctx context.Context, id string, orgID string) (*types.Invitation, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+invitationColumns+`
		 FROM invitations i
		 WHERE i.id = $1 AND i.organization_id = $2`,
		id,
		orgID,
	)

	inv, err := scanInvitation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundInvitation, "invitation not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve invitation", err)
	}
	return inv, nil
}

// GetByTokenHash retrieves a pending invitation by its SHA-256 token hash.
// Used by the accept flow to resolve the raw token. Expiry is checked by the
// caller so it can distinguish expired from unknown tokens.
// Returns ErrCodeAuthTokenInvalid if no pending invitation matches.
func (r *InvitationRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*types.Invitation, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+invitationColumns+`
		 FROM invitations i
		 WHERE i.token_hash = $1 AND i.status = 'pending'`,
		tokenHash,
	)

	inv, err := scanInvitation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid invitation token", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve invitation by token", err)
	}
	return inv, nil
}

// ListPending returns all pending, unexpired invitations for an organization,
// newest first.
func (r *InvitationRepository) ListPending(ctx context.Context, orgID string) ([]*types.Invitation, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+invitationColumns+`
		 FROM invitations i
		 WHERE i.organization_id = $1 AND i.status = 'pending' AND i.expires_at > NOW()
		 ORDER BY i.created_at DESC`,
		orgID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list invitations", err)
	}
	defer rows.Close()

	var results []*types.Invitation
	for rows.Next() {
		inv, scanErr := scanInvitation(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan invitation row", scanErr)
		}
		results = append(results, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating invitation rows", err)
	}

	return results, nil
}

// MarkAccepted transitions a pending invitation to accepted. A second accept
// fails the status guard and reports a conflict.
func (r *InvitationRepository) MarkAccepted(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE invitations SET status = 'accepted', accepted_at = NOW()
		 WHERE id = $1 AND status = 'pending'`,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to accept invitation", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictInvite, "invitation is not pending", nil)
	}
	return nil
}

// Revoke transitions a pending invitation to revoked.
func (r *InvitationRepository) Revoke(ctx context.Context, id string, orgID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE invitations SET status = 'revoked'
		 WHERE id = $1 AND organization_id = $2 AND status = 'pending'`,
		id,
		orgID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to revoke invitation", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictInvite, "invitation not found or not pending", nil)
	}
	return nil
}

// UpdateToken replaces the token hash and expiry on a pending invitation.
// Used by the resend flow to regenerate tokens without creating a new record.
func (r *InvitationRepository) UpdateToken(ctx context.Context, id string, orgID string, tokenHash string, expiresAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE invitations SET token_hash = $1, expires_at = $2
		 WHERE id = $3 AND organization_id = $4 AND status = 'pending'`,
		tokenHash,
		expiresAt,
		id,
		orgID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update invitation token", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictInvite, "invitation not found or not pending", nil)
	}
	return nil
}

// ExpireStale marks pending invitations past their expiry as expired and
// returns the number of rows affected. Called opportunistically by the
// invitation list handler.
func (r *InvitationRepository) ExpireStale(ctx context.Context, orgID string) (int, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE invitations SET status = 'expired'
		 WHERE organization_id = $1 AND status = 'pending' AND expires_at <= NOW()`,
		orgID,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to expire invitations", err)
	}
	return int(tag.RowsAffected()), nil
}

// ExpireAllStale is the cross-tenant variant of ExpireStale, run by the
// janitor job so invitations expire even in organizations nobody is viewing.
func (r *InvitationRepository) ExpireAllStale(ctx context.Context) (int, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE invitations SET status = 'expired'
		 WHERE status = 'pending' AND expires_at <= NOW()`,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to expire invitations", err)
	}
	return int(tag.RowsAffected()), nil
}
