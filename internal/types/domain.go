package types

import (
	"encoding/json"
	"time"
)

// Organization represents a billable caregiving-facility operator that owns
// staff, clients, and devices.
type Organization struct {
	ID           string     `json:"id" db:"id"`
	Name         string     `json:"name" db:"name"`
	BillingEmail string     `json:"billing_email" db:"billing_email"`
	Plan         PlanTier   `json:"plan" db:"plan"`
	Address      string     `json:"address,omitempty" db:"address"`
	Phone        string     `json:"phone,omitempty" db:"phone"`

	// WebhookURL receives critical notification pushes when set.
	WebhookURL string `json:"webhook_url,omitempty" db:"webhook_url"`

	// FreeStaffAllowance is the number of free staff slots granted on top of
	// the representative, and PreviousDiscount any previously applied discount
	// count. Both feed the pricing engine's allowance reporting.
	FreeStaffAllowance int `json:"free_staff_allowance" db:"free_staff_allowance"`
	PreviousDiscount   int `json:"previous_discount" db:"previous_discount"`

	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt *time.Time `json:"-" db:"deleted_at"`
}

// Staff represents a human user within an organization.
type Staff struct {
	ID             string      `json:"id" db:"id"`
	OrganizationID string      `json:"organization_id" db:"organization_id"`
	Email          string      `json:"email" db:"email"`
	Name           string      `json:"name" db:"name"`
	NameKana       string      `json:"name_kana,omitempty" db:"name_kana"`
	PasswordHash   string      `json:"-" db:"password_hash"`
	Role           StaffRole   `json:"role" db:"role"`
	Status         StaffStatus `json:"status" db:"status"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
	DeletedAt   *time.Time `json:"-" db:"deleted_at"`
}

// Client represents a care recipient registered to a facility.
type Client struct {
	ID             string       `json:"id" db:"id"`
	OrganizationID string       `json:"organization_id" db:"organization_id"`
	Name           string       `json:"name" db:"name"`
	NameKana       string       `json:"name_kana,omitempty" db:"name_kana"`
	BirthDate      *time.Time   `json:"birth_date,omitempty" db:"birth_date"`
	CareLevel      CareLevel    `json:"care_level,omitempty" db:"care_level"`
	Status         ClientStatus `json:"status" db:"status"`
	RoomNumber     string       `json:"room_number,omitempty" db:"room_number"`
	Notes          string       `json:"notes,omitempty" db:"notes"`

	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt *time.Time `json:"-" db:"deleted_at"`
}

// Device represents a tablet, sensor, or station registered to a facility.
// Active devices drive the per-device portion of the monthly fee.
type Device struct {
	ID             string       `json:"id" db:"id"`
	OrganizationID string       `json:"organization_id" db:"organization_id"`
	Name           string       `json:"name" db:"name"`
	Kind           DeviceKind   `json:"kind" db:"kind"`
	SerialNumber   string       `json:"serial_number" db:"serial_number"`
	Status         DeviceStatus `json:"status" db:"status"`
	LastSeenAt     *time.Time   `json:"last_seen_at,omitempty" db:"last_seen_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Invitation represents a pending staff invitation. The raw token is shown
// once at creation; only its digest is stored.
type Invitation struct {
	ID             string           `json:"id" db:"id"`
	OrganizationID string           `json:"organization_id" db:"organization_id"`
	Email          string           `json:"email" db:"email"`
	Role           StaffRole        `json:"role" db:"role"`
	Status         InvitationStatus `json:"status" db:"status"`
	TokenHash      string           `json:"-" db:"token_hash"`
	InvitedBy      string           `json:"invited_by" db:"invited_by"`
	ExpiresAt      time.Time        `json:"expires_at" db:"expires_at"`
	AcceptedAt     *time.Time       `json:"accepted_at,omitempty" db:"accepted_at"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
}

// Notification represents an in-app notification for an organization.
type Notification struct {
	ID             string            `json:"id" db:"id"`
	OrganizationID string            `json:"organization_id" db:"organization_id"`
	Type           NotificationType  `json:"type" db:"type"`
	Level          NotificationLevel `json:"level" db:"level"`
	Title          string            `json:"title" db:"title"`
	Body           string            `json:"body" db:"body"`
	ReadAt         *time.Time        `json:"read_at,omitempty" db:"read_at"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
}

// Session represents an authenticated staff session. The bearer token is
// opaque; only its digest is stored.
type Session struct {
	ID             string    `json:"id" db:"id"`
	StaffID        string    `json:"staff_id" db:"staff_id"`
	OrganizationID string    `json:"organization_id" db:"organization_id"`
	TokenHash      string    `json:"-" db:"token_hash"`
	UserAgent      string    `json:"user_agent" db:"user_agent"`
	IPAddress      string    `json:"ip_address" db:"ip_address"`
	ExpiresAt      time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// Subscription is the persisted billing state for an organization.
// The itemized monthly breakdown is always computed fresh by the pricing
// engine; this record only stores the inputs.
type Subscription struct {
	OrganizationID      string             `json:"organization_id" db:"organization_id"`
	Plan                PlanTier           `json:"plan" db:"plan"`
	Status              SubscriptionStatus `json:"status" db:"status"`
	ActiveProductIDs    []string           `json:"active_product_ids" db:"active_product_ids"`
	AIEnabledProductIDs []string           `json:"ai_enabled_product_ids" db:"ai_enabled_product_ids"`
	CurrentPeriodStart  time.Time          `json:"current_period_start" db:"current_period_start"`
	CurrentPeriodEnd    time.Time          `json:"current_period_end" db:"current_period_end"`
	UpdatedAt           time.Time          `json:"updated_at" db:"updated_at"`
}

// Invoice represents a persisted billing statement for one period.
// Written by the billing cycle job; read-only through the API.
type Invoice struct {
	ID             string          `json:"id" db:"id"`
	OrganizationID string          `json:"organization_id" db:"organization_id"`
	Status         InvoiceStatus   `json:"status" db:"status"`
	PeriodStart    time.Time       `json:"period_start" db:"period_start"`
	PeriodEnd      time.Time       `json:"period_end" db:"period_end"`
	Subtotal       int             `json:"subtotal" db:"subtotal"`
	Tax            int             `json:"tax" db:"tax"`
	Total          int             `json:"total" db:"total"`
	Breakdown      json.RawMessage `json:"breakdown,omitempty" db:"breakdown"`
	PaidAt         *time.Time      `json:"paid_at,omitempty" db:"paid_at"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// AuditEvent records an action taken on a resource for the audit log viewer.
type AuditEvent struct {
	ID             string          `json:"id" db:"id"`
	OrganizationID string          `json:"organization_id" db:"organization_id"`
	Actor          Actor           `json:"actor" db:"-"`
	Action         string          `json:"action" db:"action"`
	ResourceID     string          `json:"resource_id" db:"resource_id"`
	ResourceType   string          `json:"resource_type" db:"resource_type"`
	OldValue       json.RawMessage `json:"old_value,omitempty" db:"old_value"`
	NewValue       json.RawMessage `json:"new_value,omitempty" db:"new_value"`
	Timestamp      time.Time       `json:"timestamp" db:"occurred_at"`
}

// Standard audit action strings. Handlers MUST use these for consistency.
const (
	AuditActionStaffCreated      = "staff.created"
	AuditActionStaffUpdated      = "staff.updated"
	AuditActionStaffDeleted      = "staff.deleted"
	AuditActionClientCreated     = "client.created"
	AuditActionClientUpdated     = "client.updated"
	AuditActionClientDeleted     = "client.deleted"
	AuditActionDeviceRegistered  = "device.registered"
	AuditActionDeviceUpdated     = "device.updated"
	AuditActionDeviceDeactivated = "device.deactivated"
	AuditActionInviteCreated     = "invitation.created"
	AuditActionInviteRevoked     = "invitation.revoked"
	AuditActionInviteAccepted    = "invitation.accepted"
	AuditActionOrgUpdated        = "organization.updated"
	AuditActionPlanChanged       = "organization.plan_changed"
	AuditActionPasswordChanged   = "auth.password_changed"
	AuditActionLogin             = "auth.login"
)

// AuditFilter defines filtering parameters for audit log queries.
type AuditFilter struct {
	OrganizationID string    `json:"organization_id"`
	Action         string    `json:"action,omitempty"`
	ResourceType   string    `json:"resource_type,omitempty"`
	Since          time.Time `json:"since,omitempty"`
	Until          time.Time `json:"until,omitempty"`
	Pagination     PageInfo  `json:"pagination"`
}

// DashboardSummary contains the aggregated counts for the My-Page dashboard,
// including month-over-month growth for the headline metrics.
type DashboardSummary struct {
	ActiveClients       int          `json:"active_clients"`
	ActiveStaff         int          `json:"active_staff"`
	ActiveDevices       int          `json:"active_devices"`
	UnreadNotifications int          `json:"unread_notifications"`
	ClientGrowth        GrowthResult `json:"client_growth"`
	StaffGrowth         GrowthResult `json:"staff_growth"`
}

// GrowthResult is the month-over-month comparison for a single metric.
type GrowthResult struct {
	Direction  GrowthDirection `json:"direction"`
	Percentage int             `json:"percentage"`
}
