package transport

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardline/guardline/pkg/messages"
)

// TestSMSWebhookAttemptSend verifies the POST body and HMAC signature
func TestSMSWebhookAttemptSend(t *testing.T) {
	const secret = "test-secret"
	var gotSignature string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get("X-Webhook-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	hook := NewSMSWebhook(srv.URL, secret, 2*time.Second, zerolog.Nop())
	msg := messages.NewOutbound(messages.KindStatus, "Tourist Police", "check-in")

	require.NoError(t, hook.AttemptSend(context.Background(), msg))

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(gotBody)
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), gotSignature)
	assert.Contains(t, string(gotBody), msg.ID)
}

// TestSMSWebhookRejectsNon2xx verifies a carrier error fails the attempt
func TestSMSWebhookRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	hook := NewSMSWebhook(srv.URL, "", 2*time.Second, zerolog.Nop())
	err := hook.AttemptSend(context.Background(), messages.NewOutbound(messages.KindStatus, "x", "y"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

// TestSMSWebhookNoSignatureWithoutSecret verifies signing is skipped when no
// secret is configured.
func TestSMSWebhookNoSignatureWithoutSecret(t *testing.T) {
	var gotSignature string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get("X-Webhook-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	hook := NewSMSWebhook(srv.URL, "", 2*time.Second, zerolog.Nop())
	require.NoError(t, hook.AttemptSend(context.Background(), messages.NewOutbound(messages.KindStatus, "x", "y")))
	assert.Empty(t, gotSignature)
}
