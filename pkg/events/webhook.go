package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookForwarder delivers events to an external endpoint as signed JSON
// POST requests. It implements Handler and can be subscribed to a
// Dispatcher when cross-process notification is wanted.
type WebhookForwarder struct {
	url    string
	secret string
	client *http.Client
}

// NewWebhookForwarder creates a forwarder for the given endpoint. The secret
// may be empty, in which case requests are unsigned.
func NewWebhookForwarder(url, secret string) *WebhookForwarder {
	return &WebhookForwarder{
		url:    url,
		secret: secret,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Handle posts the event to the configured endpoint.
func (f *WebhookForwarder) Handle(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-AAI-Event", string(ev.Type))
	if f.secret != "" {
		req.Header.Set("X-AAI-Signature", sign(f.secret, payload))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
