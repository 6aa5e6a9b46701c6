// Package transport implements the delivery channels the gateway sends
// through: a NATS JetStream primary channel, an SMS-gateway webhook
// fallback, and an in-memory channel for tests and demos.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/guardline/guardline/pkg/messages"
)

// NotifyStream holds outbound notifications for downstream consumers
// (authority dashboards, contact relays).
var NotifyStream = jetstream.StreamConfig{
	Name:        "NOTIFICATIONS",
	Description: "Outbound safety notifications",
	Subjects:    []string{"notify.>"},
	Retention:   jetstream.LimitsPolicy,
	MaxBytes:    256 * 1024 * 1024,
	MaxAge:      7 * 24 * time.Hour,
	Storage:     jetstream.FileStorage,
	Replicas:    1,
	Discard:     jetstream.DiscardOld,
}

// NATS publishes outbound messages to the notification stream. Message ids
// double as JetStream MsgIDs so a flushed retry is de-duplicated server
// side.
type NATS struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger zerolog.Logger
}

// ConnectNATS dials the server, creates the JetStream context, and ensures
// the notification stream exists.
func ConnectNATS(ctx context.Context, url, name string, logger zerolog.Logger) (*NATS, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if _, err := js.Stream(ctx, NotifyStream.Name); err != nil {
		if _, err := js.CreateStream(ctx, NotifyStream); err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to create stream %s: %w", NotifyStream.Name, err)
		}
	}

	return &NATS{
		nc:     nc,
		js:     js,
		logger: logger.With().Str("component", "nats_transport").Logger(),
	}, nil
}

// AttemptSend publishes the message to notify.<kind>
func (t *NATS) AttemptSend(ctx context.Context, msg *messages.Outbound) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	subject := "notify." + string(msg.Kind)
	_, err = t.js.Publish(ctx, subject, data, jetstream.WithMsgID(msg.ID))
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	t.logger.Debug().
		Str("message_id", msg.ID).
		Str("subject", subject).
		Msg("Published notification")
	return nil
}

// Close drains the underlying connection
func (t *NATS) Close() {
	if t.nc != nil {
		t.nc.Close()
	}
}
