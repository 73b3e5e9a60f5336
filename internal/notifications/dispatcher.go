// Package notifications creates in-app notifications and fans critical ones
// out to the organization's webhook endpoint. In-app persistence is the
// source of truth; webhook delivery is best effort.
package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"carebase/internal/types"
)

// Store persists notifications for the in-app feed.
type Store interface {
	Create(ctx context.Context, n *types.Notification) error
}

// OrgLookup resolves the webhook endpoint for an organization.
type OrgLookup interface {
	GetByID(ctx context.Context, id string) (*types.Organization, error)
}

// WebhookPusher delivers a notification to an external endpoint.
// Implemented by external.WebhookNotifier.
type WebhookPusher interface {
	Push(ctx context.Context, endpointURL string, n *types.Notification) error
}

// Dispatcher routes notifications to their channels. The in-app store always
// receives the notification; the webhook channel only sees critical ones,
// and only when the organization has configured an endpoint.
type Dispatcher struct {
	store   Store
	orgs    OrgLookup
	webhook WebhookPusher
	logger  *slog.Logger
	clock   types.Clock
}

// NewDispatcher creates a Dispatcher. The webhook pusher may be nil, in
// which case only the in-app channel is used.
func NewDispatcher(store Store, orgs OrgLookup, webhook WebhookPusher, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:   store,
		orgs:    orgs,
		webhook: webhook,
		logger:  logger,
		clock:   types.RealClock{},
	}
}

// Dispatch persists the notification and pushes it to the organization's
// webhook when the level is critical. A webhook failure never fails the
// dispatch; the in-app record already exists.
func (d *Dispatcher) Dispatch(ctx context.Context, n *types.Notification) error {
	if n.ID == "" {
		n.ID = "ntf_" + uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = d.clock.Now().UTC()
	}

	if err := d.store.Create(ctx, n); err != nil {
		return err
	}

	if n.Level != types.LevelCritical || d.webhook == nil {
		return nil
	}

	org, err := d.orgs.GetByID(ctx, n.OrganizationID)
	if err != nil {
		d.logger.WarnContext(ctx, "webhook push skipped, organization lookup failed",
			"organization_id", n.OrganizationID,
			"notification_id", n.ID,
			"error", err,
		)
		return nil
	}
	if org.WebhookURL == "" {
		return nil
	}

	if err := d.webhook.Push(ctx, org.WebhookURL, n); err != nil {
		d.logger.WarnContext(ctx, "webhook push failed",
			"organization_id", n.OrganizationID,
			"notification_id", n.ID,
			"error", err,
		)
	}
	return nil
}

// DeviceOffline builds the notification raised when a device has not
// reported within the offline threshold.
func DeviceOffline(orgID string, device *types.Device, lastSeen time.Time) *types.Notification {
	return &types.Notification{
		OrganizationID: orgID,
		Type:           types.NotifyDeviceOffline,
		Level:          types.LevelCritical,
		Title:          fmt.Sprintf("デバイス「%s」がオフラインです", device.Name),
		Body:           fmt.Sprintf("Device %s (serial %s) last reported at %s.", device.Name, device.SerialNumber, lastSeen.UTC().Format(time.RFC3339)),
	}
}

// BillingWarning builds the notification raised when a monthly invoice is
// issued.
func BillingWarning(orgID string, invoice *types.Invoice) *types.Notification {
	return &types.Notification{
		OrganizationID: orgID,
		Type:           types.NotifyBillingWarning,
		Level:          types.LevelWarning,
		Title:          "今月の請求書が発行されました",
		Body:           fmt.Sprintf("Invoice %s for %d yen (tax included) has been issued.", invoice.ID, invoice.Total),
	}
}

// PlanChanged builds the notification raised when an organization's plan
// tier changes.
func PlanChanged(orgID string, from, to types.PlanTier) *types.Notification {
	return &types.Notification{
		OrganizationID: orgID,
		Type:           types.NotifyPlanChanged,
		Level:          types.LevelInfo,
		Title:          "プランが変更されました",
		Body:           fmt.Sprintf("Plan changed from %s to %s.", from, to),
	}
}
