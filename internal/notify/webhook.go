package notify

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

// Webhook POSTs failures as JSON to an HTTP endpoint, signing the body
// with HMAC-SHA256 when a secret is configured. The receiving side is
// expected to fan out to mail/SMS/whatever it wants; that delivery is
// outside this process.
type Webhook struct {
	url    string
	secret string
	client *http.Client
}

// NewWebhook creates a Webhook notifier for url. secret may be empty.
func NewWebhook(url, secret string) *Webhook {
	return &Webhook{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// NotifyFailure implements Notifier.
func (w *Webhook) NotifyFailure(ctx context.Context, f Failure) error {
	body, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("notify: encode failure: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.secret != "" {
		req.Header.Set("X-Signature-256", "sha256="+w.sign(body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: post to webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify: webhook returned %s", resp.Status)
	}
	return nil
}

func (w *Webhook) sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(w.secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
