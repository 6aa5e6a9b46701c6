package transport

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

	"github.com/rs/zerolog"

	"github.com/guardline/guardline/pkg/messages"
)

// SMSWebhook forwards messages to an SMS carrier gateway over HTTP. One
// attempt per call; retry policy belongs to the gateway's flush, not here.
type SMSWebhook struct {
	url    string
	secret string
	client *http.Client
	logger zerolog.Logger
}

// NewSMSWebhook creates the fallback channel. An empty secret disables
// request signing.
func NewSMSWebhook(url, secret string, timeout time.Duration, logger zerolog.Logger) *SMSWebhook {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SMSWebhook{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "sms_webhook").Logger(),
	}
}

// AttemptSend POSTs the message to the carrier gateway, signing the body
// with HMAC-SHA256 when a secret is configured.
func (t *SMSWebhook) AttemptSend(ctx context.Context, msg *messages.Outbound) error {
	if t.url == "" {
		return fmt.Errorf("sms webhook url not configured")
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.secret != "" {
		req.Header.Set("X-Webhook-Signature", sign(body, t.secret))
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sms webhook returned status %d", resp.StatusCode)
	}

	t.logger.Debug().Str("message_id", msg.ID).Msg("SMS webhook accepted message")
	return nil
}

func sign(body []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
