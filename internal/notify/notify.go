package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Notification is one operator-facing message about a server.
type Notification struct {
	Server  string    `json:"server"`
	Subject string    `json:"subject"` // "crash", "restart", "exhausted"
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Notifier delivers notifications to operators. Implementations must be
// safe for concurrent use; delivery is best-effort and must not block the
// watchdog for long.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// SlogNotifier writes notifications to the daemon log. It is the default
// when no external channel is configured.
type SlogNotifier struct{}

func (SlogNotifier) Notify(_ context.Context, n Notification) error {
	slog.Warn("server notification", "server", n.Server, "subject", n.Subject, "message", n.Message)
	return nil
}

// WebhookNotifier POSTs notifications as JSON to a configured URL.
type WebhookNotifier struct {
	URL    string
	client *http.Client
}

func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{URL: url, client: &http.Client{Timeout: timeout}}
}

func (w *WebhookNotifier) Notify(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook post: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Multi fans a notification out to several notifiers, returning the first
// error after attempting all of them.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var first error
	for _, nt := range m {
		if err := nt.Notify(ctx, n); err != nil && first == nil {
			first = err
		}
	}
	return first
}
