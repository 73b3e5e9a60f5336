package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// All handlers MUST use these constants instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationMissingField  ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidEmail  ErrorCode = "validation_invalid_email"
	ErrCodeValidationInvalidPlan   ErrorCode = "validation_invalid_plan"
	ErrCodeValidationNegativeCount ErrorCode = "validation_negative_count"
	ErrCodeValidationInvalidField  ErrorCode = "validation_invalid_field"
	ErrCodeValidationInvalidRange  ErrorCode = "validation_invalid_range"

	// Auth (401)
	ErrCodeAuthTokenMissing   ErrorCode = "auth_token_missing"
	ErrCodeAuthTokenInvalid   ErrorCode = "auth_token_invalid"
	ErrCodeAuthSessionExpired ErrorCode = "auth_session_expired"
	ErrCodeAuthInvalidCreds   ErrorCode = "auth_invalid_credentials"
	ErrCodeAuthAccountRetired ErrorCode = "auth_account_retired"

	// Permission (403)
	ErrCodePermissionRole        ErrorCode = "permission_role_insufficient"
	ErrCodePermissionOrgMismatch ErrorCode = "permission_organization_mismatch"

	// Not Found (404)
	ErrCodeNotFoundOrg          ErrorCode = "not_found_organization"
	ErrCodeNotFoundStaff        ErrorCode = "not_found_staff"
	ErrCodeNotFoundClient       ErrorCode = "not_found_client"
	ErrCodeNotFoundDevice       ErrorCode = "not_found_device"
	ErrCodeNotFoundInvitation   ErrorCode = "not_found_invitation"
	ErrCodeNotFoundNotification ErrorCode = "not_found_notification"
	ErrCodeNotFoundSubscription ErrorCode = "not_found_subscription"
	ErrCodeNotFoundInvoice      ErrorCode = "not_found_invoice"

	// Conflict (409)
	ErrCodeConflictEmail   ErrorCode = "conflict_email_exists"
	ErrCodeConflictSerial  ErrorCode = "conflict_serial_exists"
	ErrCodeConflictInvite  ErrorCode = "conflict_invitation_state"
	ErrCodeConflictRetired ErrorCode = "conflict_already_retired"
	ErrCodeConflictPlan    ErrorCode = "conflict_plan_unchanged"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB          ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected  ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamWebhook     ErrorCode = "upstream_webhook_unavailable"
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Used by the API layer to translate AppErrors into HTTP responses.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case s == string(ErrCodeAuthAccountRetired):
		return http.StatusForbidden // 403
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized // 401
	case strings.HasPrefix(s, "permission_"):
		return http.StatusForbidden // 403
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict // 409
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway // 502
	case strings.HasPrefix(s, "internal_"):
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// AppError is the standard application error type used throughout the platform.
// All domain and handler errors should be expressed as AppError to enable
// consistent error formatting, HTTP status mapping, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
// This is useful for adding context without mutating the original error.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error. This is the standard constructor for domain errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with the given code, message,
// underlying error, and structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}
