package external

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"carebase/internal/config"
	"carebase/internal/types"
)

// WebhookNotifier delivers critical notifications to an organization's
// configured webhook endpoint. Deliveries are signed with HMAC-SHA256 so the
// receiving side can verify the payload came from CareBase.
type WebhookNotifier struct {
	base       *BaseClient
	signingKey string
	logger     *slog.Logger
	clock      types.Clock
}

// NewWebhookNotifier builds a notifier from the Notify configuration section.
// signingKey is the shared secret used to sign payloads.
func NewWebhookNotifier(cfg config.NotifyConfig, signingKey string, logger *slog.Logger, opts ...BaseClientOption) *WebhookNotifier {
	policy := DefaultRetryPolicy()
	if cfg.MaxRetries > 0 {
		policy.MaxRetries = cfg.MaxRetries
	}

	httpClient := &http.Client{Timeout: cfg.DefaultTimeout}
	if cfg.DefaultTimeout <= 0 {
		httpClient.Timeout = 10 * time.Second
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &WebhookNotifier{
		base:       NewBaseClient(httpClient, "webhook-notifier", policy, cfg.UserAgent, opts...),
		signingKey: signingKey,
		logger:     logger,
		clock:      types.RealClock{},
	}
}

// webhookPayload is the JSON document POSTed to the organization's endpoint.
type webhookPayload struct {
	ID         string                  `json:"id"`
	Type       types.NotificationType  `json:"type"`
	Level      types.NotificationLevel `json:"level"`
	Title      string                  `json:"title"`
	Body       string                  `json:"body"`
	OccurredAt time.Time               `json:"occurred_at"`
}

// Push delivers the notification to the given endpoint. Callers are expected
// to invoke Push only for critical-level notifications on organizations with
// a configured webhook URL.
//
// The request carries an X-Carebase-Signature header in the format
// "t=<unix>,v1=<hex hmac>" where the signed content is "{t}.{body}".
func (n *WebhookNotifier) Push(ctx context.Context, endpointURL string, notification *types.Notification) error {
	if endpointURL == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField, "webhook endpoint URL is required", nil)
	}

	payload := webhookPayload{
		ID:         notification.ID,
		Type:       notification.Type,
		Level:      notification.Level,
		Title:      notification.Title,
		Body:       notification.Body,
		OccurredAt: notification.CreatedAt,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode webhook payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(body))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build webhook request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Carebase-Signature", SignPayload(body, n.signingKey, n.clock.Now()))

	resp, err := n.base.Do(req)
	if err != nil {
		n.logger.Warn("webhook delivery failed",
			"notification_id", notification.ID,
			"error", err,
		)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		n.logger.Warn("webhook endpoint rejected delivery",
			"notification_id", notification.ID,
			"status", resp.StatusCode,
		)
		return types.NewAppError(
			types.ErrCodeUpstreamWebhook,
			fmt.Sprintf("webhook endpoint rejected delivery with %d", resp.StatusCode),
			nil,
		)
	}

	n.logger.Info("webhook delivered",
		"notification_id", notification.ID,
		"status", resp.StatusCode,
	)
	return nil
}

// SignPayload produces the signature header value for a payload.
// The signed content is "{unix_timestamp}.{payload}" using HMAC-SHA256.
func SignPayload(payload []byte, key string, now time.Time) string {
	ts := now.Unix()
	content := fmt.Sprintf("%d.%s", ts, string(payload))
	return fmt.Sprintf("t=%d,v1=%s", ts, computeHMAC(content, key))
}

// VerifySignature checks a payload against a signature header value. It
// recomputes the HMAC from the timestamp embedded in the header, so receivers
// should separately enforce a timestamp tolerance window.
func VerifySignature(payload []byte, header, key string) bool {
	var ts int64
	var sig string
	for _, segment := range bytes.Split([]byte(header), []byte(",")) {
		kv := bytes.SplitN(segment, []byte("="), 2)
		if len(kv) != 2 {
			continue
		}
		switch string(kv[0]) {
		case "t":
			fmt.Sscanf(string(kv[1]), "%d", &ts)
		case "v1":
			sig = string(kv[1])
		}
	}
	if ts == 0 || sig == "" {
		return false
	}

	content := fmt.Sprintf("%d.%s", ts, string(payload))
	expected := computeHMAC(content, key)
	return hmac.Equal([]byte(sig), []byte(expected))
}

// computeHMAC computes the HMAC-SHA256 of content using the given key and
// returns it as a lowercase hex string.
func computeHMAC(content, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(content))
	return hex.EncodeToString(mac.Sum(nil))
}
