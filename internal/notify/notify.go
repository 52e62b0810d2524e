// Package notify delivers informational messages to users. Delivery is best
// effort: callers log failures and carry on.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindRequestReceived  Kind = "request_received"
	KindRequestApproved  Kind = "request_approved"
	KindRequestRejected  Kind = "request_rejected"
	KindHandoverStarted  Kind = "handover_started"
	KindAwaitingParty    Kind = "awaiting_counterpart"
	KindAdoptionComplete Kind = "adoption_completed"
	KindHandoverCanceled Kind = "handover_cancelled"
)

type Notification struct {
	ID      string `json:"id"`
	UserID  string `json:"user_id"`
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	// Link is a hint for the client, e.g. "/requests/{id}".
	Link string `json:"link,omitempty"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the log instead of delivering them.
type LogNotifier struct {
	Log *slog.Logger
}

func (l LogNotifier) Notify(ctx context.Context, n Notification) error {
	log := l.Log
	if log == nil {
		log = slog.Default()
	}
	log.InfoContext(ctx, "notification", "id", n.ID, "user_id", n.UserID, "kind", n.Kind, "message", n.Message, "link", n.Link)
	return nil
}

// Nop drops every notification.
type Nop struct{}

func (Nop) Notify(context.Context, Notification) error { return nil }

const defaultWebhookTimeout = 5 * time.Second

// WebhookNotifier POSTs each notification as JSON to URL.
type WebhookNotifier struct {
	URL     string
	Secret  string
	Timeout time.Duration
	Client  *http.Client
}

func NewWebhookNotifier(url, secret string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookNotifier{URL: url, Secret: secret, Timeout: timeout, Client: &http.Client{Timeout: timeout}}
}

func (w *WebhookNotifier) Notify(ctx context.Context, n Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Adoptline-Kind", string(n.Kind))
	req.Header.Set("X-Adoptline-Delivery", n.ID)
	if strings.TrimSpace(w.Secret) != "" {
		req.Header.Set("X-Adoptline-Secret", w.Secret)
	}
	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
