package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Template ids understood by the delivery layer.
const (
	TemplateTransferInitiated = "ownership-transfer-initiated"
	TemplateTransferAccepted  = "ownership-transfer-accepted"
	TemplateTransferCancelled = "ownership-transfer-cancelled"
	TemplateInvitation        = "member-invitation"
	TemplateInvitationResend  = "member-invitation-resend"
	TemplateOrgSoftDeleted    = "organization-soft-deleted"
	TemplateOrgRestored       = "organization-restored"
)

// Notifier delivers a templated message to a recipient. Implementations are
// fire-and-forget: callers invoke Send after commit and only log failures, a
// delivery problem never rolls back or fails the state transition.
type Notifier interface {
	Send(ctx context.Context, templateID, recipient string, payload map[string]any) error
}

// LogNotifier writes notifications to the structured log. Default in
// development and in tests of the wiring.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier constructs a Notifier that only logs.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		panic("logger is required")
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(ctx context.Context, templateID, recipient string, payload map[string]any) error {
	n.logger.Info("notification dispatched",
		zap.String("template_id", templateID),
		zap.String("recipient", recipient),
		zap.Any("payload", payload),
	)
	return nil
}

// WebhookNotifier posts notifications to an external delivery service which
// owns retry and backoff.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier constructs a Notifier posting to the given endpoint.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{url: url, client: &http.Client{Timeout: timeout}}
}

func (n *WebhookNotifier) Send(ctx context.Context, templateID, recipient string, payload map[string]any) error {
	body, err := json.Marshal(map[string]any{
		"templateId": templateID,
		"recipient":  recipient,
		"payload":    payload,
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint returned %d", resp.StatusCode)
	}
	return nil
}

var (
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = (*WebhookNotifier)(nil)
)
