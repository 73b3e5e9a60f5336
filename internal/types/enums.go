package types

// PlanTier identifies the billing plan for an organization.
type PlanTier string

const (
	PlanFree     PlanTier = "free"
	PlanStandard PlanTier = "standard"
	PlanAI       PlanTier = "ai"
	PlanDemo     PlanTier = "demo"
)

// PlanChange is the result of comparing two plan tiers.
type PlanChange string

const (
	PlanChangeUpgrade   PlanChange = "upgrade"
	PlanChangeDowngrade PlanChange = "downgrade"
	PlanChangeLateral   PlanChange = "lateral"
)

// GrowthDirection indicates the month-over-month movement of a metric.
type GrowthDirection string

const (
	GrowthUp      GrowthDirection = "up"
	GrowthDown    GrowthDirection = "down"
	GrowthNeutral GrowthDirection = "neutral"
)

// ProductType distinguishes add-on products with an AI-enhanced mode
// from plain add-ons.
type ProductType string

const (
	ProductStandard ProductType = "standard"
	ProductAI       ProductType = "ai"
)

// StaffRole defines authorization levels within an organization.
// The representative is the first registered staff member and is always
// exempt from per-staff charges.
type StaffRole string

const (
	RoleRepresentative StaffRole = "representative"
	RoleAdmin          StaffRole = "admin"
	RoleCaregiver      StaffRole = "caregiver"
)

// StaffStatus represents the account lifecycle state of a staff member.
type StaffStatus string

const (
	StaffActive  StaffStatus = "active"
	StaffInvited StaffStatus = "invited"
	StaffRetired StaffStatus = "retired"
)

// ClientStatus represents the care status of a facility client.
type ClientStatus string

const (
	ClientActive     ClientStatus = "active"
	ClientSuspended  ClientStatus = "suspended"
	ClientDischarged ClientStatus = "discharged"
)

// CareLevel is the certified long-term care level of a client.
// Levels follow the national certification scale: support 1-2, care 1-5.
type CareLevel string

const (
	CareLevelSupport1 CareLevel = "support_1"
	CareLevelSupport2 CareLevel = "support_2"
	CareLevelCare1    CareLevel = "care_1"
	CareLevelCare2    CareLevel = "care_2"
	CareLevelCare3    CareLevel = "care_3"
	CareLevelCare4    CareLevel = "care_4"
	CareLevelCare5    CareLevel = "care_5"
)

// DeviceStatus represents the lifecycle state of a registered device.
// Only active devices count toward the per-device fee.
type DeviceStatus string

const (
	DeviceActive   DeviceStatus = "active"
	DeviceInactive DeviceStatus = "inactive"
	DeviceRetired  DeviceStatus = "retired"
)

// DeviceKind identifies the type of hardware registered to a facility.
type DeviceKind string

const (
	DeviceKindTablet  DeviceKind = "tablet"
	DeviceKindSensor  DeviceKind = "sensor"
	DeviceKindStation DeviceKind = "station"
)

// InvitationStatus represents the lifecycle state of a staff invitation.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationRevoked  InvitationStatus = "revoked"
	InvitationExpired  InvitationStatus = "expired"
)

// NotificationType identifies the kind of notification event.
type NotificationType string

const (
	NotifyAnnouncement   NotificationType = "announcement"
	NotifyBillingWarning NotificationType = "billing_warning"
	NotifyDeviceOffline  NotificationType = "device_offline"
	NotifyInviteAccepted NotificationType = "invite_accepted"
	NotifyPlanChanged    NotificationType = "plan_changed"
)

// NotificationLevel determines notification display priority and whether
// the webhook push channel is used.
type NotificationLevel string

const (
	LevelInfo     NotificationLevel = "info"
	LevelWarning  NotificationLevel = "warning"
	LevelCritical NotificationLevel = "critical"
)

// SubscriptionStatus represents the state of a billing subscription.
type SubscriptionStatus string

const (
	SubStatusActive   SubscriptionStatus = "active"
	SubStatusPastDue  SubscriptionStatus = "past_due"
	SubStatusCanceled SubscriptionStatus = "canceled"
	SubStatusTrialing SubscriptionStatus = "trialing"
)

// InvoiceStatus represents the payment state of a persisted invoice.
type InvoiceStatus string

const (
	InvoicePaid    InvoiceStatus = "paid"
	InvoiceOpen    InvoiceStatus = "open"
	InvoiceVoid    InvoiceStatus = "void"
	InvoiceOverdue InvoiceStatus = "overdue"
)
