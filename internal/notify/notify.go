// Package notify tells the user about newly detected major changes.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go-pagewatch/internal/config"
	"go-pagewatch/internal/logger"
)

// Summary is what a Notifier displays.
type Summary struct {
	Count   int       `json:"count"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Notifier delivers a summary to one sink.
type Notifier interface {
	Notify(ctx context.Context, s Summary) error
}

// FlagCounter reports how many pages currently have an unacknowledged change.
// *pagetree.Tree satisfies it.
type FlagCounter interface {
	FlaggedCount() int
}

// Gateway caps the reported count and fans the summary out to its sinks.
type Gateway struct {
	flags     FlagCounter
	notifiers []Notifier
	log       logger.Logger
	now       func() time.Time
}

// NewGateway creates a Gateway. A LogNotifier is always installed; a
// WebhookNotifier is added when a webhook URL is configured.
func NewGateway(cfg config.NotifyConfig, flags FlagCounter, log logger.Logger) *Gateway {
	log = log.With(map[string]interface{}{"component": "notify"})
	notifiers := []Notifier{NewLogNotifier(log)}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, NewWebhookNotifier(cfg.WebhookURL, cfg.Timeout))
	}
	return &Gateway{flags: flags, notifiers: notifiers, log: log, now: time.Now}
}

// AddNotifier installs an additional sink.
func (g *Gateway) AddNotifier(n Notifier) {
	g.notifiers = append(g.notifiers, n)
}

// Notify reports majorCount new major changes, capped to the number of pages
// still flagged, since the user may already have viewed some of them. It
// returns the count that was shown, which is zero when nothing was sent.
// Delivery failures are logged only.
func (g *Gateway) Notify(ctx context.Context, majorCount int) int {
	if majorCount <= 0 {
		return 0
	}
	count := majorCount
	if flagged := g.flags.FlaggedCount(); flagged < count {
		count = flagged
	}
	if count <= 0 {
		return 0
	}

	s := Summary{Count: count, Message: Message(count), At: g.now()}
	for _, n := range g.notifiers {
		if err := n.Notify(ctx, s); err != nil {
			g.log.Error(err, "Failed to deliver notification")
		}
	}
	return count
}

// Message returns the user-facing text for count changes.
func Message(count int) string {
	if count == 1 {
		return "1 website has changed"
	}
	return fmt.Sprintf("%d websites have changed", count)
}

// LogNotifier writes summaries to the application log.
type LogNotifier struct {
	log logger.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(log logger.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(_ context.Context, s Summary) error {
	n.log.With(map[string]interface{}{"count": s.Count}).Info(s.Message)
	return nil
}

// WebhookNotifier POSTs summaries as JSON.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a WebhookNotifier.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{url: url, client: &http.Client{Timeout: timeout}}
}

func (n *WebhookNotifier) Notify(ctx context.Context, s Summary) error {
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}
