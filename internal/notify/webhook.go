package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"example.com/backstage/services/keygate/internal/models"

	"github.com/pkg/errors"
)

// WebhookNotifier posts notifications to a chat webhook as {"content": text}
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a webhook notifier with a per-request timeout
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type webhookPayload struct {
	Content string `json:"content"`
}

// Notify posts n and treats any non-2xx response as a failure
func (w *WebhookNotifier) Notify(ctx context.Context, n models.Notification) error {
	content := n.Text
	if n.Kind == models.KindKick {
		content = fmt.Sprintf("[kick] %s", n.Text)
	}
	body, err := json.Marshal(webhookPayload{Content: content})
	if err != nil {
		return errors.Wrap(err, "failed to marshal webhook payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "failed to build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "webhook request failed")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
