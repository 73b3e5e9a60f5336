package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carebase/internal/types"
)

type fakeAuthService struct {
	loginFn          func(ctx context.Context, email, password, ip, userAgent string) (*types.Staff, *types.Session, string, error)
	logoutFn         func(ctx context.Context, rawToken string) error
	changePasswordFn func(ctx context.Context, staffID, orgID, currentPassword, newPassword string) error
}

func (f *fakeAuthService) Login(ctx context.Context, email, password, ip, userAgent string) (*types.Staff, *types.Session, string, error) {
	return f.loginFn(ctx, email, password, ip, userAgent)
}

func (f *fakeAuthService) Logout(ctx context.Context, rawToken string) error {
	return f.logoutFn(ctx, rawToken)
}

func (f *fakeAuthService) ChangePassword(ctx context.Context, staffID, orgID, currentPassword, newPassword string) error {
	return f.changePasswordFn(ctx, staffID, orgID, currentPassword, newPassword)
}

type fakeAuthStaffRepo struct {
	staff *types.Staff
	err   error
}

func (f *fakeAuthStaffRepo) GetByID(context.Context, string, string) (*types.Staff, error) {
	return f.staff, f.err
}

func newAuthHandler(service *fakeAuthService, staffRepo *fakeAuthStaffRepo, audit *recordingAudit) *AuthHandler {
	return NewAuthHandler(service, staffRepo, audit, testValidator(), testLogger())
}

func TestLogin_ReturnsTokenAndStaff(t *testing.T) {
	expires := time.Now().UTC().Add(24 * time.Hour)
	service := &fakeAuthService{
		loginFn: func(_ context.Context, email, password, _, _ string) (*types.Staff, *types.Session, string, error) {
			assert.Equal(t, "rep@example.com", email)
			assert.Equal(t, "correct-horse", password)
			return &types.Staff{
					ID:             "stf_1",
					OrganizationID: "org_1",
					Email:          "rep@example.com",
					Name:           "山田 太郎",
					Role:           types.RoleRepresentative,
					Status:         types.StaffActive,
				},
				&types.Session{ID: "ses_1", ExpiresAt: expires},
				"cbs_rawtoken", nil
		},
	}
	audit := &recordingAudit{}
	h := newAuthHandler(service, &fakeAuthStaffRepo{}, audit)

	rec := doRequest(t, h.Routes(), http.MethodPost, "/v1/auth/login",
		LoginRequest{Email: "rep@example.com", Password: "correct-horse"}, nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var data LoginResponse
	decodeData(t, rec, &data)
	assert.Equal(t, "cbs_rawtoken", data.Token)
	assert.Equal(t, "stf_1", data.Staff.ID)
	assert.Equal(t, types.RoleRepresentative, data.Staff.Role)

	require.Len(t, audit.events, 1)
	assert.Equal(t, types.AuditActionLogin, audit.events[0].Action)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	service := &fakeAuthService{
		loginFn: func(context.Context, string, string, string, string) (*types.Staff, *types.Session, string, error) {
			return nil, nil, "", types.NewAppError(types.ErrCodeAuthInvalidCreds, "invalid email or password", nil)
		},
	}
	h := newAuthHandler(service, &fakeAuthStaffRepo{}, &recordingAudit{})

	rec := doRequest(t, h.Routes(), http.MethodPost, "/v1/auth/login",
		LoginRequest{Email: "rep@example.com", Password: "wrong-password"}, nil)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, string(types.ErrCodeAuthInvalidCreds), errorCode(t, rec))
}

func TestLogin_RejectsMalformedEmail(t *testing.T) {
	h := newAuthHandler(&fakeAuthService{}, &fakeAuthStaffRepo{}, &recordingAudit{})

	rec := doRequest(t, h.Routes(), http.MethodPost, "/v1/auth/login",
		LoginRequest{Email: "not-an-email", Password: "correct-horse"}, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogout_InvalidatesPresentedToken(t *testing.T) {
	var gotToken string
	service := &fakeAuthService{
		logoutFn: func(_ context.Context, rawToken string) error {
			gotToken = rawToken
			return nil
		},
	}
	h := newAuthHandler(service, &fakeAuthStaffRepo{}, &recordingAudit{})

	router := chi.NewRouter()
	router.Route("/v1", h.Routes())

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer cbs_sometoken")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "cbs_sometoken", gotToken)
}

func TestLogout_MissingToken(t *testing.T) {
	h := newAuthHandler(&fakeAuthService{}, &fakeAuthStaffRepo{}, &recordingAudit{})

	rec := doRequest(t, h.Routes(), http.MethodPost, "/v1/auth/logout", nil, nil)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, string(types.ErrCodeAuthTokenMissing), errorCode(t, rec))
}

func TestChangePassword_UsesActorIdentity(t *testing.T) {
	var gotStaffID, gotOrgID string
	service := &fakeAuthService{
		changePasswordFn: func(_ context.Context, staffID, orgID, current, next string) error {
			gotStaffID = staffID
			gotOrgID = orgID
			assert.Equal(t, "old-password", current)
			assert.Equal(t, "new-password-1", next)
			return nil
		},
	}
	h := newAuthHandler(service, &fakeAuthStaffRepo{}, &recordingAudit{})

	actor := testActor(types.RoleCaregiver)
	rec := doRequest(t, h.Routes(), http.MethodPatch, "/v1/auth/password",
		ChangePasswordRequest{CurrentPassword: "old-password", NewPassword: "new-password-1"}, &actor)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "stf_actor", gotStaffID)
	assert.Equal(t, "org_1", gotOrgID)
}

func TestChangePassword_ShortNewPasswordRejected(t *testing.T) {
	h := newAuthHandler(&fakeAuthService{}, &fakeAuthStaffRepo{}, &recordingAudit{})

	actor := testActor(types.RoleCaregiver)
	rec := doRequest(t, h.Routes(), http.MethodPatch, "/v1/auth/password",
		ChangePasswordRequest{CurrentPassword: "old-password", NewPassword: "short"}, &actor)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMe_ReturnsAuthenticatedStaff(t *testing.T) {
	staffRepo := &fakeAuthStaffRepo{staff: &types.Staff{
		ID:    "stf_actor",
		Email: "me@example.com",
		Role:  types.RoleCaregiver,
	}}
	h := newAuthHandler(&fakeAuthService{}, staffRepo, &recordingAudit{})

	actor := testActor(types.RoleCaregiver)
	rec := doRequest(t, h.Routes(), http.MethodGet, "/v1/auth/me", nil, &actor)

	require.Equal(t, http.StatusOK, rec.Code)

	var data StaffDTO
	decodeData(t, rec, &data)
	assert.Equal(t, "stf_actor", data.ID)
	assert.Equal(t, "me@example.com", data.Email)
}

func TestMe_Unauthenticated(t *testing.T) {
	h := newAuthHandler(&fakeAuthService{}, &fakeAuthStaffRepo{}, &recordingAudit{})

	rec := doRequest(t, h.Routes(), http.MethodGet, "/v1/auth/me", nil, nil)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
