// Package notify delivers operational alerts. Console delivery is always on;
// the webhook channel is best-effort and must never fail the caller.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// Level grades an alert.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Alert is the structured payload handed to every channel.
type Alert struct {
	Title    string            `json:"title"`
	Message  string            `json:"message"`
	Level    Level             `json:"level"`
	Metadata map[string]string `json:"metadata,omitempty"`
	URL      string            `json:"url,omitempty"`
}

// Notifier delivers alerts to one channel.
type Notifier interface {
	Notify(ctx context.Context, alert Alert)
}

// Console writes alerts to stderr, one line per alert.
type Console struct{}

// NewConsole constructs a console notifier.
func NewConsole() *Console { return &Console{} }

func (c *Console) Notify(_ context.Context, alert Alert) {
	fmt.Fprintf(os.Stderr, "[%s] %s: %s\n", alert.Level, alert.Title, alert.Message)
	for k, v := range alert.Metadata {
		fmt.Fprintf(os.Stderr, "  %s=%s\n", k, v)
	}
}

// Webhook POSTs the alert as JSON to a configured endpoint. Delivery is
// fire-and-forget: failures are logged and swallowed.
type Webhook struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewWebhook constructs a webhook notifier. A short timeout keeps a dead
// endpoint from stalling the pipeline.
func NewWebhook(url string, logger *slog.Logger) *Webhook {
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
		logger: logger,
	}
}

func (w *Webhook) Notify(ctx context.Context, alert Alert) {
	body, err := json.Marshal(alert)
	if err != nil {
		w.logger.Error("webhook alert marshal failed", "error", err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		w.logger.Error("webhook request build failed", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		w.logger.Warn("webhook delivery failed", "url", w.url, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		w.logger.Warn("webhook delivery rejected", "url", w.url, "status", resp.StatusCode)
	}
}

// Multi fans one alert out to several channels.
type Multi struct {
	channels []Notifier
}

// NewMulti combines notifiers; nil entries are dropped.
func NewMulti(channels ...Notifier) *Multi {
	out := make([]Notifier, 0, len(channels))
	for _, ch := range channels {
		if ch != nil {
			out = append(out, ch)
		}
	}
	return &Multi{channels: out}
}

func (m *Multi) Notify(ctx context.Context, alert Alert) {
	for _, ch := range m.channels {
		ch.Notify(ctx, alert)
	}
}
