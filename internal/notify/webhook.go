// Package notify delivers fire-and-forget human-readable alerts. Delivery
// failures are logged and swallowed; nothing here feeds back into pipeline
// state.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// WebhookNotifier posts alerts to a configured webhook URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
	log    *zap.Logger
}

// NewWebhook builds a notifier. An empty URL yields a no-op notifier.
func NewWebhook(url string, logger *zap.Logger) *WebhookNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
		log:    logger,
	}
}

// Notify posts {subject, body} as JSON. The returned error is always nil;
// failures are logged only.
func (n *WebhookNotifier) Notify(ctx context.Context, subject, body string) error {
	if n.url == "" {
		return nil
	}

	payload, err := json.Marshal(map[string]string{
		"subject": subject,
		"body":    body,
	})
	if err != nil {
		n.log.Warn("notification encode failed", zap.Error(err))
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		n.log.Warn("notification request build failed", zap.Error(err))
		return nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.log.Warn("notification delivery failed", zap.Error(err))
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		n.log.Warn("notification rejected", zap.Int("status", resp.StatusCode))
	}
	return nil
}
