package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"carebase/internal/types"
)

// bcryptCost is the bcrypt cost factor used for password hashing.
const bcryptCost = 12

// StaffRepo defines the data access methods needed by the Service for staff
// operations.
type StaffRepo interface {
	GetByEmail(ctx context.Context, email string) (*types.Staff, error)
	GetByID(ctx context.Context, id string, orgID string) (*types.Staff, error)
	UpdatePassword(ctx context.Context, id string, newHash string) error
	UpdateLastLogin(ctx context.Context, id string) error
}

// SessionRepo defines the data access methods needed by the Service for
// session operations.
type SessionRepo interface {
	Create(ctx context.Context, session *types.Session) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*types.Session, error)
	Delete(ctx context.Context, id string) error
	DeleteByStaff(ctx context.Context, staffID string) (int, error)
}

// PasswordHasher abstracts bcrypt operations for testability.
type PasswordHasher interface {
	CompareHashAndPassword(hashedPassword, password string) error
	GenerateFromPassword(password string) (string, error)
}

// bcryptHasher is the production implementation of PasswordHasher.
type bcryptHasher struct{}

func (b *bcryptHasher) CompareHashAndPassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

func (b *bcryptHasher) GenerateFromPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Service implements login, session validation, and password management.
//
// Enumeration protection: login reports "invalid email or password" for both
// unknown emails and wrong passwords.
type Service struct {
	staffRepo   StaffRepo
	sessionRepo SessionRepo
	tokenGen    TokenGenerator
	hasher      PasswordHasher
	sessionTTL  time.Duration
	clock       types.Clock
	logger      *slog.Logger
}

// ServiceConfig holds the dependencies for creating an auth Service.
type ServiceConfig struct {
	StaffRepo   StaffRepo
	SessionRepo SessionRepo
	TokenGen    TokenGenerator
	Hasher      PasswordHasher
	SessionTTL  time.Duration
	Clock       types.Clock
	Logger      *slog.Logger
}

// NewService creates a new auth Service.
// If TokenGen is nil, the production CryptoTokenGenerator is used.
// If Hasher is nil, the production bcryptHasher is used.
// If Clock is nil, RealClock is used.
// If Logger is nil, slog.Default() is used.
func NewService(cfg ServiceConfig) *Service {
	tokenGen := cfg.TokenGen
	if tokenGen == nil {
		tokenGen = &CryptoTokenGenerator{}
	}
	hasher := cfg.Hasher
	if hasher == nil {
		hasher = &bcryptHasher{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Service{
		staffRepo:   cfg.StaffRepo,
		sessionRepo: cfg.SessionRepo,
		tokenGen:    tokenGen,
		hasher:      hasher,
		sessionTTL:  ttl,
		clock:       clock,
		logger:      logger,
	}
}

// Login verifies credentials and creates a session.
//
//  1. Fetch the staff member by canonicalized email.
//  2. Verify the password hash (bcrypt).
//  3. Check the account status: retired accounts cannot log in.
//  4. Create a session and update last_login_at.
//
// Returns the staff member, the session, and the raw bearer token. The raw
// token is never stored; only its digest is.
func (s *Service) Login(ctx context.Context, email, password, ip, userAgent string) (*types.Staff, *types.Session, string, error) {
	staff, err := s.staffRepo.GetByEmail(ctx, CanonicalizeEmail(email))
	if err != nil {
		return nil, nil, "", err
	}

	if err := s.hasher.CompareHashAndPassword(staff.PasswordHash, password); err != nil {
		s.logger.Info("login rejected",
			"email", email,
			"reason", "invalid_credentials",
		)
		return nil, nil, "", types.NewAppError(types.ErrCodeAuthInvalidCreds, "invalid email or password", nil)
	}

	if staff.Status == types.StaffRetired {
		return nil, nil, "", types.NewAppError(types.ErrCodeAuthAccountRetired, "account has been retired", nil)
	}
	if staff.Status != types.StaffActive {
		return nil, nil, "", types.NewAppError(types.ErrCodeAuthInvalidCreds, "invalid email or password", nil)
	}

	session, rawToken, err := s.CreateSession(ctx, staff.ID, staff.OrganizationID, ip, userAgent)
	if err != nil {
		return nil, nil, "", err
	}

	if err := s.staffRepo.UpdateLastLogin(ctx, staff.ID); err != nil {
		// Log but don't fail the login for a timestamp update.
		s.logger.Warn("failed to update last login",
			"staff_id", staff.ID,
			"error", err,
		)
	}

	s.logger.Info("staff logged in",
		"staff_id", staff.ID,
		"org_id", staff.OrganizationID,
	)

	return staff, session, rawToken, nil
}

// CreateSession generates a bearer token, stores its digest, and returns the
// session together with the raw token.
func (s *Service) CreateSession(ctx context.Context, staffID, orgID, ip, userAgent string) (*types.Session, string, error) {
	rawToken, err := s.tokenGen.GenerateSessionToken()
	if err != nil {
		return nil, "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to generate session token", err)
	}

	now := s.clock.Now()
	session := &types.Session{
		ID:             "sess_" + uuid.NewString(),
		StaffID:        staffID,
		OrganizationID: orgID,
		TokenHash:      HashToken(rawToken),
		IPAddress:      ip,
		UserAgent:      userAgent,
		ExpiresAt:      now.Add(s.sessionTTL),
		CreatedAt:      now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, "", err
	}

	return session, rawToken, nil
}

// Authenticate resolves a raw bearer token to an active staff member.
// Returns ErrCodeAuthSessionExpired for known-but-expired sessions and
// ErrCodeAuthTokenInvalid for unknown tokens.
func (s *Service) Authenticate(ctx context.Context, rawToken string) (*types.Staff, *types.Session, error) {
	session, err := s.sessionRepo.GetByTokenHash(ctx, HashToken(rawToken))
	if err != nil {
		return nil, nil, err
	}

	if s.clock.Now().After(session.ExpiresAt) {
		// Best effort removal; the maintenance loop catches leftovers.
		if delErr := s.sessionRepo.Delete(ctx, session.ID); delErr != nil {
			s.logger.Warn("failed to delete expired session",
				"session_id", session.ID,
				"error", delErr,
			)
		}
		return nil, nil, types.NewAppError(types.ErrCodeAuthSessionExpired, "session has expired", nil)
	}

	staff, err := s.staffRepo.GetByID(ctx, session.StaffID, session.OrganizationID)
	if err != nil {
		return nil, nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "session staff no longer exists", err)
	}
	if staff.Status != types.StaffActive {
		return nil, nil, types.NewAppError(types.ErrCodeAuthAccountRetired, "account has been retired", nil)
	}

	return staff, session, nil
}

// Logout deletes the session backing the given raw token. Unknown tokens are
// reported as invalid.
func (s *Service) Logout(ctx context.Context, rawToken string) error {
	session, err := s.sessionRepo.GetByTokenHash(ctx, HashToken(rawToken))
	if err != nil {
		return err
	}
	if err := s.sessionRepo.Delete(ctx, session.ID); err != nil {
		return err
	}
	s.logger.Info("session invalidated", "session_id", session.ID)
	return nil
}

// ChangePassword verifies the current password, stores the new hash, and
// revokes every session for the staff member so stolen tokens stop working.
func (s *Service) ChangePassword(ctx context.Context, staffID, orgID, currentPassword, newPassword string) error {
	staff, err := s.staffRepo.GetByID(ctx, staffID, orgID)
	if err != nil {
		return err
	}

	if err := s.hasher.CompareHashAndPassword(staff.PasswordHash, currentPassword); err != nil {
		return types.NewAppError(types.ErrCodeAuthInvalidCreds, "current password is incorrect", nil)
	}

	newHash, err := s.hasher.GenerateFromPassword(newPassword)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to hash password", err)
	}

	if err := s.staffRepo.UpdatePassword(ctx, staffID, newHash); err != nil {
		return err
	}

	removed, err := s.sessionRepo.DeleteByStaff(ctx, staffID)
	if err != nil {
		s.logger.Warn("failed to revoke sessions after password change",
			"staff_id", staffID,
			"error", err,
		)
		return nil
	}

	s.logger.Info("password changed",
		"staff_id", staffID,
		"sessions_revoked", removed,
	)
	return nil
}

// HashPassword hashes a plaintext password for storage. Used by the
// invitation accept flow when creating the staff record.
func (s *Service) HashPassword(password string) (string, error) {
	hash, err := s.hasher.GenerateFromPassword(password)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to hash password", err)
	}
	return hash, nil
}
