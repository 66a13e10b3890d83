package notify

// webhook.go — sink de eventos estilo Slack incoming-webhook.
// La entrega es best-effort: un fallo se loguea y se descarta, nunca
// se propaga al trading.

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alejandrodnm/stockbot/internal/domain"
)

// Webhook implementa ports.Notifier contra un incoming webhook HTTP.
type Webhook struct {
	url  string
	http *http.Client
}

// NewWebhook crea el sink apuntando a la URL dada.
func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:  url,
		http: &http.Client{Timeout: 5 * time.Second},
	}
}

type webhookPayload struct {
	Text     string         `json:"text"`
	Severity string         `json:"severity"`
	Event    string         `json:"event"`
	Detail   map[string]any `json:"detail,omitempty"`
	At       string         `json:"at"`
}

// Notify envía el evento. Siempre devuelve nil: los fallos solo se loguean.
func (w *Webhook) Notify(ctx context.Context, ev domain.Event) error {
	payload := webhookPayload{
		Text:     fmt.Sprintf("[%s] %s", ev.Severity, ev.Message),
		Severity: string(ev.Severity),
		Event:    string(ev.Type),
		Detail:   ev.Detail,
		At:       ev.At.Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("notify: marshal webhook payload", "err", err)
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		slog.Warn("notify: build webhook request", "err", err)
		return nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		slog.Warn("notify: webhook delivery failed", "err", err, "event", ev.Type)
		return nil
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		slog.Warn("notify: webhook rejected", "status", resp.StatusCode, "event", ev.Type)
	}
	return nil
}

// Fanout entrega cada evento a varios sinks en orden.
type Fanout []interface {
	Notify(ctx context.Context, ev domain.Event) error
}

// Notify entrega a todos; los errores individuales no cortan el fanout.
func (f Fanout) Notify(ctx context.Context, ev domain.Event) error {
	for _, n := range f {
		if err := n.Notify(ctx, ev); err != nil {
			slog.Warn("notify: sink error", "err", err)
		}
	}
	return nil
}
