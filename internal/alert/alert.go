// Package alert raises critical compensation failures to a human channel.
// Delivery is fire-and-forget: a lost alert is logged, never propagated.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Notifier delivers critical compensation alerts.
type Notifier interface {
	NotifyCritical(ctx context.Context, orderID *int64, stepName string) error
}

// LogNotifier writes alerts to the error log only. Used when no webhook is
// configured.
type LogNotifier struct{}

// NotifyCritical implements Notifier.
func (LogNotifier) NotifyCritical(_ context.Context, orderID *int64, stepName string) error {
	event := log.Error().Str("step", stepName)
	if orderID != nil {
		event = event.Int64("order_id", *orderID)
	}
	event.Msg("CRITICAL compensation failure, manual intervention required")
	return nil
}

// WebhookNotifier POSTs alerts to an operator webhook (Slack-style JSON
// body). Failures are returned so the caller can log them; nothing retries.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a WebhookNotifier with a bounded per-call
// timeout.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type webhookBody struct {
	Severity string `json:"severity"`
	OrderID  *int64 `json:"order_id,omitempty"`
	StepName string `json:"step_name"`
	Message  string `json:"message"`
}

// NotifyCritical implements Notifier.
func (n *WebhookNotifier) NotifyCritical(ctx context.Context, orderID *int64, stepName string) error {
	body, err := json.Marshal(webhookBody{
		Severity: "critical",
		OrderID:  orderID,
		StepName: stepName,
		Message:  fmt.Sprintf("saga compensation failed at %s and was halted", stepName),
	})
	if err != nil {
		return fmt.Errorf("marshal alert body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver alert: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("alert webhook returned %d", resp.StatusCode)
	}
	return nil
}
