package gateway

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardline/guardline/pkg/messages"
	"github.com/guardline/guardline/pkg/transport"
)

func newTestGateway(cfg Config) (*Gateway, *transport.Memory, *transport.Memory) {
	primary := transport.NewMemory()
	fallback := transport.NewMemory()
	return New(cfg, primary, fallback, zerolog.Nop()), primary, fallback
}

func statusMsg(body string) *messages.Outbound {
	return messages.NewOutbound(messages.KindStatus, "Tourist Police", body)
}

// TestSendOnline verifies immediate primary delivery while online
func TestSendOnline(t *testing.T) {
	gw, primary, _ := newTestGateway(DefaultConfig())

	msg := statusMsg("check-in")
	state := gw.Send(context.Background(), msg)

	assert.Equal(t, messages.DeliveryDelivered, state)
	assert.Equal(t, messages.DeliveryDelivered, msg.DeliveryState)
	require.Len(t, primary.Sent(), 1)
	assert.Equal(t, 0, gw.QueueDepth(), "online sends never touch the queue")
}

// TestSendOnlineFailure verifies a failed primary attempt downgrades the
// message to failed without queuing it.
func TestSendOnlineFailure(t *testing.T) {
	gw, primary, _ := newTestGateway(DefaultConfig())
	primary.SetAvailable(false)

	state := gw.Send(context.Background(), statusMsg("check-in"))

	assert.Equal(t, messages.DeliveryFailed, state)
	assert.Equal(t, 0, gw.QueueDepth())
}

// TestSendOfflineQueues verifies offline sends are queued, never attempted
func TestSendOfflineQueues(t *testing.T) {
	gw, primary, _ := newTestGateway(DefaultConfig())
	gw.Probe(context.Background(), false, 0)

	state := gw.Send(context.Background(), statusMsg("check-in"))

	assert.Equal(t, messages.DeliveryQueued, state)
	assert.Equal(t, 1, gw.QueueDepth())
	assert.Empty(t, primary.Sent(), "offline sends must not hit the primary channel")
}

// TestProbeModes tests the connectivity mode transitions
func TestProbeModes(t *testing.T) {
	gw, _, _ := newTestGateway(DefaultConfig())
	ctx := context.Background()

	assert.Equal(t, ModeOnline, gw.State().Mode)

	state := gw.Probe(ctx, false, 1)
	assert.Equal(t, ModeOfflineFallback, state.Mode)
	assert.False(t, state.Online)

	state = gw.Probe(ctx, true, 3)
	assert.Equal(t, ModeOnline, state.Mode)
	assert.True(t, state.Online)
	assert.Equal(t, 3, state.SignalQuality)
}

// TestFlushFIFO verifies queued messages are flushed in creation order when
// connectivity returns.
func TestFlushFIFO(t *testing.T) {
	gw, primary, _ := newTestGateway(DefaultConfig())
	ctx := context.Background()

	gw.Probe(ctx, false, 0)
	var queued []*messages.Outbound
	for i := 0; i < 4; i++ {
		msg := statusMsg(fmt.Sprintf("queued-%d", i))
		gw.Send(ctx, msg)
		queued = append(queued, msg)
	}
	require.Equal(t, 4, gw.QueueDepth())

	gw.Probe(ctx, true, 4)

	assert.Equal(t, 0, gw.QueueDepth())
	sent := primary.Sent()
	require.Len(t, sent, 4)
	for i, msg := range queued {
		assert.Equal(t, msg.ID, sent[i].ID, "flush must preserve FIFO order")
		assert.Equal(t, messages.DeliverySent, msg.DeliveryState)
	}
	assert.Equal(t, ModeOnline, gw.State().Mode)
}

// TestFlushPartialFailure verifies each flush attempt is marked
// independently and the queue is drained either way.
func TestFlushPartialFailure(t *testing.T) {
	gw, primary, _ := newTestGateway(DefaultConfig())
	ctx := context.Background()

	gw.Probe(ctx, false, 0)
	msg := statusMsg("queued")
	gw.Send(ctx, msg)

	primary.SetAvailable(false)
	gw.Probe(ctx, true, 4)

	assert.Equal(t, 0, gw.QueueDepth(), "queue drains even when attempts fail")
	assert.Equal(t, messages.DeliveryFailed, msg.DeliveryState)
}

// TestOfflineNotice verifies one status notice goes out over the fallback
// channel when entering offline fallback.
func TestOfflineNotice(t *testing.T) {
	gw, primary, fallback := newTestGateway(DefaultConfig())
	notice := statusMsg("offline notice")
	gw.SetOfflineNotice(func() *messages.Outbound { return notice })

	gw.Probe(context.Background(), false, 0)

	require.Len(t, fallback.Sent(), 1)
	assert.Equal(t, notice.ID, fallback.Sent()[0].ID)
	assert.Equal(t, messages.DeliverySent, notice.DeliveryState)
	assert.Empty(t, primary.Sent())
	assert.Equal(t, 0, gw.QueueDepth(), "the notice is never queued")
}

// TestOfflineNoticeFallbackFailure verifies a failed fallback attempt is a
// terminal no-op.
func TestOfflineNoticeFallbackFailure(t *testing.T) {
	gw, _, fallback := newTestGateway(DefaultConfig())
	notice := statusMsg("offline notice")
	gw.SetOfflineNotice(func() *messages.Outbound { return notice })
	fallback.SetAvailable(false)

	gw.Probe(context.Background(), false, 0)

	assert.Equal(t, messages.DeliveryFailed, notice.DeliveryState)
	assert.Equal(t, 0, gw.QueueDepth(), "a failed notice must not be queued")
	assert.Empty(t, fallback.Sent())
}

// TestOfflineNoticeWithoutFallback verifies the notice is dropped when no
// fallback channel is configured.
func TestOfflineNoticeWithoutFallback(t *testing.T) {
	primary := transport.NewMemory()
	gw := New(DefaultConfig(), primary, nil, zerolog.Nop())
	notice := statusMsg("offline notice")
	gw.SetOfflineNotice(func() *messages.Outbound { return notice })

	gw.Probe(context.Background(), false, 0)

	assert.Equal(t, messages.DeliveryFailed, notice.DeliveryState)
}

// TestQueueCapDropsOldest verifies the bounded queue drops its oldest entry
func TestQueueCapDropsOldest(t *testing.T) {
	gw, _, _ := newTestGateway(Config{QueueCap: 2, LogCap: 10})
	ctx := context.Background()

	gw.Probe(ctx, false, 0)
	first := statusMsg("first")
	gw.Send(ctx, first)
	gw.Send(ctx, statusMsg("second"))
	gw.Send(ctx, statusMsg("third"))

	assert.Equal(t, 2, gw.QueueDepth())
	assert.Equal(t, messages.DeliveryFailed, first.DeliveryState, "dropped message is marked failed")
}

// TestLogBounded verifies the retained message history is bounded
func TestLogBounded(t *testing.T) {
	gw, _, _ := newTestGateway(Config{LogCap: 3})
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		gw.Send(ctx, statusMsg(fmt.Sprintf("msg-%d", i)))
	}

	log := gw.Log()
	require.Len(t, log, 3)
	assert.Equal(t, "msg-5", log[2].Body)
}
