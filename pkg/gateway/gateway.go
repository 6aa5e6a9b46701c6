// Package gateway routes outbound messages to the primary channel while
// online and to a persistent FIFO queue while offline, reconciling the queue
// once connectivity returns.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/guardline/guardline/pkg/messages"
)

// ErrSendFailed reports a failed transport attempt. The gateway never
// propagates it as a failure: the message is downgraded to failed and the
// status surfaced to the caller. Retry happens only through the
// connectivity-triggered flush, never by busy-retrying.
var ErrSendFailed = errors.New("transport send failed")

// Mode is the gateway connectivity mode
type Mode string

const (
	ModeOnline          Mode = "normal"
	ModeOfflineFallback Mode = "offline-fallback"
	ModeSyncing         Mode = "syncing"
)

// State is the snapshot of the connectivity singleton owned by the gateway
type State struct {
	Online        bool `json:"online"`
	SignalQuality int  `json:"signal_quality"` // 0..4
	Mode          Mode `json:"mode"`
}

// Transport is a delivery channel. Both the primary (network) and fallback
// (SMS-equivalent) channels expose the same single-attempt contract; the
// gateway is their only caller.
type Transport interface {
	AttemptSend(ctx context.Context, msg *messages.Outbound) error
}

// NoticeFunc builds the one status message emitted when entering offline
// fallback. Nil disables the notice.
type NoticeFunc func() *messages.Outbound

// Config sizes the gateway queues. The offline queue is unbounded when
// QueueCap is zero; a positive cap drops the oldest queued message, marking
// it failed. Size deliberately: an unbounded queue grows without limit
// under a prolonged outage.
type Config struct {
	QueueCap int
	LogCap   int // retained message history for inspection
}

// DefaultConfig returns the default gateway sizing
func DefaultConfig() Config {
	return Config{QueueCap: 0, LogCap: 200}
}

// Gateway owns every outbound message from creation to its terminal delivery
// state, plus the process-wide connectivity state. All transitions are
// linearized under one lock, so queue appends and the flush never
// interleave inconsistently.
type Gateway struct {
	mu       sync.Mutex
	cfg      Config
	primary  Transport
	fallback Transport
	notice   NoticeFunc

	online bool
	signal int
	mode   Mode

	queue []*messages.Outbound
	log   []*messages.Outbound

	logger zerolog.Logger
}

// New creates a gateway in the online state
func New(cfg Config, primary, fallback Transport, logger zerolog.Logger) *Gateway {
	if cfg.LogCap <= 0 {
		cfg.LogCap = DefaultConfig().LogCap
	}
	return &Gateway{
		cfg:      cfg,
		primary:  primary,
		fallback: fallback,
		online:   true,
		signal:   4,
		mode:     ModeOnline,
		logger:   logger.With().Str("component", "gateway").Logger(),
	}
}

// SetOfflineNotice installs the builder for the fallback-activation status
// message.
func (g *Gateway) SetOfflineNotice(fn NoticeFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.notice = fn
}

// State returns the current connectivity snapshot
func (g *Gateway) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return State{Online: g.online, SignalQuality: g.signal, Mode: g.mode}
}

// QueueDepth returns the number of messages awaiting flush
func (g *Gateway) QueueDepth() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queue)
}

// Log returns a copy of the retained message history, oldest first
func (g *Gateway) Log() []messages.Outbound {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]messages.Outbound, len(g.log))
	for i, m := range g.log {
		out[i] = *m
	}
	return out
}

// Probe feeds an externally measured connectivity sample into the state
// machine. Going offline enters fallback mode and emits one best-effort
// status notice over the fallback channel; coming back online flushes the
// queue in FIFO order before settling in the online mode.
func (g *Gateway) Probe(ctx context.Context, online bool, signalQuality int) State {
	g.mu.Lock()
	defer g.mu.Unlock()

	if signalQuality < 0 {
		signalQuality = 0
	}
	if signalQuality > 4 {
		signalQuality = 4
	}

	wasOnline := g.online
	g.online = online
	g.signal = signalQuality

	switch {
	case wasOnline && !online:
		g.mode = ModeOfflineFallback
		g.logger.Warn().Int("signal", signalQuality).Msg("Primary channel lost, entering offline fallback")
		g.emitOfflineNoticeLocked(ctx)

	case !wasOnline && online:
		if len(g.queue) > 0 {
			g.mode = ModeSyncing
			g.logger.Info().Int("queued", len(g.queue)).Msg("Connectivity restored, flushing queue")
			g.flushLocked(ctx)
		}
		g.mode = ModeOnline
		g.logger.Info().Int("signal", signalQuality).Msg("Primary channel online")
	}

	return State{Online: g.online, SignalQuality: g.signal, Mode: g.mode}
}

// Send routes a message by the current mode: immediate primary delivery when
// online, otherwise a non-blocking append to the offline queue. The returned
// state is the message's delivery state when Send returns; callers must not
// assume synchronous delivery of queued messages.
func (g *Gateway) Send(ctx context.Context, msg *messages.Outbound) messages.DeliveryState {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.recordLocked(msg)

	if g.mode != ModeOnline {
		msg.DeliveryState = messages.DeliveryQueued
		g.enqueueLocked(msg)
		g.logger.Debug().Str("message_id", msg.ID).Str("kind", string(msg.Kind)).Msg("Queued message for flush")
		return msg.DeliveryState
	}

	if err := g.primary.AttemptSend(ctx, msg); err != nil {
		msg.DeliveryState = messages.DeliveryFailed
		g.logger.Warn().Err(fmt.Errorf("%w: %v", ErrSendFailed, err)).Str("message_id", msg.ID).Msg("Primary send failed")
		return msg.DeliveryState
	}

	msg.DeliveryState = messages.DeliveryDelivered
	g.logger.Debug().Str("message_id", msg.ID).Str("kind", string(msg.Kind)).Msg("Delivered message")
	return msg.DeliveryState
}

// emitOfflineNoticeLocked sends the single fallback-activation notice. A
// failed fallback attempt is a terminal no-op, never queued recursively.
func (g *Gateway) emitOfflineNoticeLocked(ctx context.Context) {
	if g.notice == nil {
		return
	}
	msg := g.notice()
	if msg == nil {
		return
	}
	g.recordLocked(msg)

	if g.fallback == nil {
		msg.DeliveryState = messages.DeliveryFailed
		g.logger.Warn().Msg("No fallback channel, offline notice dropped")
		return
	}
	if err := g.fallback.AttemptSend(ctx, msg); err != nil {
		msg.DeliveryState = messages.DeliveryFailed
		g.logger.Warn().Err(err).Msg("Cannot currently send offline notice")
		return
	}
	msg.DeliveryState = messages.DeliverySent
	g.logger.Info().Str("message_id", msg.ID).Msg("Offline notice sent over fallback")
}

// flushLocked drains the queue in FIFO creation order. Each attempt is
// independently marked sent or failed; the queue is empty afterwards either
// way.
func (g *Gateway) flushLocked(ctx context.Context) {
	for _, msg := range g.queue {
		if err := g.primary.AttemptSend(ctx, msg); err != nil {
			msg.DeliveryState = messages.DeliveryFailed
			g.logger.Warn().Err(fmt.Errorf("%w: %v", ErrSendFailed, err)).Str("message_id", msg.ID).Msg("Flush attempt failed")
			continue
		}
		msg.DeliveryState = messages.DeliverySent
		g.logger.Debug().Str("message_id", msg.ID).Msg("Flushed queued message")
	}
	g.queue = g.queue[:0]
}

// enqueueLocked appends under the optional cap, dropping the oldest entry
// when full.
func (g *Gateway) enqueueLocked(msg *messages.Outbound) {
	if g.cfg.QueueCap > 0 && len(g.queue) >= g.cfg.QueueCap {
		dropped := g.queue[0]
		dropped.DeliveryState = messages.DeliveryFailed
		g.queue = g.queue[1:]
		g.logger.Warn().Str("message_id", dropped.ID).Msg("Queue full, dropped oldest message")
	}
	g.queue = append(g.queue, msg)
}

// recordLocked appends the message to the bounded history log
func (g *Gateway) recordLocked(msg *messages.Outbound) {
	g.log = append(g.log, msg)
	if len(g.log) > g.cfg.LogCap {
		g.log = g.log[len(g.log)-g.cfg.LogCap:]
	}
}
