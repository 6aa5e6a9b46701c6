package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardline/guardline/pkg/geo"
	"github.com/guardline/guardline/pkg/messages"
	"github.com/guardline/guardline/pkg/risk"
)

// recordingSender captures every message routed to it
type recordingSender struct {
	mu   sync.Mutex
	sent []messages.Outbound
}

func (s *recordingSender) Send(_ context.Context, msg *messages.Outbound) messages.DeliveryState {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg.DeliveryState = messages.DeliveryDelivered
	s.sent = append(s.sent, *msg)
	return msg.DeliveryState
}

func (s *recordingSender) messages() []messages.Outbound {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]messages.Outbound, len(s.sent))
	copy(out, s.sent)
	return out
}

// manualConfig disables the internal timer so tests drive ticks themselves
func manualConfig() Config {
	return Config{
		CountdownTicks:     3,
		TickInterval:       0,
		Recipient:          "Emergency Services",
		EscalateOnHighTier: true,
	}
}

func newTestDispatcher(cfg Config) (*Dispatcher, *recordingSender) {
	sender := &recordingSender{}
	return New(cfg, "tourist-12345", sender, zerolog.Nop()), sender
}

// TestActivate tests starting a countdown from idle
func TestActivate(t *testing.T) {
	d, _ := newTestDispatcher(manualConfig())

	incident, err := d.Activate(context.Background(), KindMedical)
	require.NoError(t, err)

	assert.NotEmpty(t, incident.ID)
	assert.Equal(t, KindMedical, incident.Kind)
	assert.Equal(t, StateCountdown, incident.State)
	assert.Equal(t, StateCountdown, d.State())
	assert.Equal(t, 3, d.Remaining())
}

// TestActivateRejectsUnknownKind verifies unknown kinds never start a
// countdown.
func TestActivateRejectsUnknownKind(t *testing.T) {
	d, _ := newTestDispatcher(manualConfig())

	_, err := d.Activate(context.Background(), Kind("earthquake"))
	require.Error(t, err)
	assert.Equal(t, StateIdle, d.State())
}

// TestActivateWhileActive verifies a second activation is rejected and the
// original incident is untouched.
func TestActivateWhileActive(t *testing.T) {
	d, _ := newTestDispatcher(manualConfig())
	ctx := context.Background()

	first, err := d.Activate(ctx, KindMedical)
	require.NoError(t, err)

	_, err = d.Activate(ctx, KindSecurity)
	require.ErrorIs(t, err, ErrAlreadyActive)

	active, ok := d.Active()
	require.True(t, ok)
	assert.Equal(t, first.ID, active.ID)
	assert.Equal(t, KindMedical, active.Kind)
}

// TestCountdownAutoDispatch drives the countdown to zero and verifies the
// incident dispatches with an emergency notification.
func TestCountdownAutoDispatch(t *testing.T) {
	d, sender := newTestDispatcher(manualConfig())
	ctx := context.Background()

	_, err := d.Activate(ctx, KindMedical)
	require.NoError(t, err)
	gen := d.Generation()

	assert.True(t, d.Tick(ctx, gen))
	assert.True(t, d.Tick(ctx, gen))
	assert.Equal(t, 1, d.Remaining())
	assert.False(t, d.Tick(ctx, gen), "final tick ends the countdown")

	assert.Equal(t, StateDispatched, d.State())
	active, ok := d.Active()
	require.True(t, ok)
	assert.Equal(t, StateDispatched, active.State)
	assert.Equal(t, PriorityHigh, active.Priority)
	assert.Equal(t, 5, active.ResponderETAMin)
	require.NotNil(t, active.DispatchedAt)

	sent := sender.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, messages.KindEmergency, sent[0].Kind)
	assert.Contains(t, sent[0].Body, "EMERGENCY")
	assert.Contains(t, sent[0].Body, "medical")
}

// TestCancelDuringCountdown verifies cancel aborts the countdown and no
// emergency notification goes out.
func TestCancelDuringCountdown(t *testing.T) {
	d, sender := newTestDispatcher(manualConfig())
	ctx := context.Background()

	_, err := d.Activate(ctx, KindSecurity)
	require.NoError(t, err)
	gen := d.Generation()
	d.Tick(ctx, gen)

	require.NoError(t, d.Cancel(ctx))

	assert.Equal(t, StateIdle, d.State())
	_, ok := d.Active()
	assert.False(t, ok)
	assert.Empty(t, sender.messages(), "cancel must suppress the notification")

	history := d.History()
	require.Len(t, history, 1)
	assert.Equal(t, StateCancelled, history[0].State)
}

// TestCancelNotice verifies the optional status notice goes out on cancel
// when configured, identifying the cancelled incident.
func TestCancelNotice(t *testing.T) {
	cfg := manualConfig()
	cfg.SendCancelNotice = true
	d, sender := newTestDispatcher(cfg)
	ctx := context.Background()

	incident, err := d.Activate(ctx, KindSecurity)
	require.NoError(t, err)
	require.NoError(t, d.Cancel(ctx))

	sent := sender.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, messages.KindStatus, sent[0].Kind)
	assert.Contains(t, sent[0].Body, "STATUS:")
	assert.Contains(t, sent[0].Body, incident.ID)
	assert.Contains(t, sent[0].Body, "cancelled")
}

// TestStaleGenerationTick verifies a tick from a superseded countdown is a
// no-op.
func TestStaleGenerationTick(t *testing.T) {
	d, sender := newTestDispatcher(manualConfig())
	ctx := context.Background()

	_, err := d.Activate(ctx, KindOther)
	require.NoError(t, err)
	staleGen := d.Generation()
	require.NoError(t, d.Cancel(ctx))

	// New activation; the stale timer must not touch it
	_, err = d.Activate(ctx, KindMedical)
	require.NoError(t, err)

	assert.False(t, d.Tick(ctx, staleGen))
	assert.Equal(t, 3, d.Remaining(), "stale tick must not decrement")
	assert.Empty(t, sender.messages())
}

// TestExplicitDispatch verifies dispatch skips the rest of the countdown
func TestExplicitDispatch(t *testing.T) {
	d, sender := newTestDispatcher(manualConfig())
	ctx := context.Background()

	_, err := d.Activate(ctx, KindAccident)
	require.NoError(t, err)

	incident, err := d.Dispatch(ctx)
	require.NoError(t, err)

	assert.Equal(t, StateDispatched, incident.State)
	assert.Equal(t, PriorityMedium, incident.Priority, "accident defaults to medium priority")
	assert.Equal(t, 6, incident.ResponderETAMin)
	require.Len(t, sender.messages(), 1)

	// The invalidated countdown generation can no longer tick
	assert.False(t, d.Tick(ctx, d.Generation()-1))
}

// TestPriorityEscalation verifies a high risk tier escalates any kind to
// critical when enabled.
func TestPriorityEscalation(t *testing.T) {
	tests := []struct {
		name     string
		kind     Kind
		tier     risk.Tier
		escalate bool
		want     Priority
	}{
		{
			name:     "medical in high tier escalates",
			kind:     KindMedical,
			tier:     risk.TierHigh,
			escalate: true,
			want:     PriorityCritical,
		},
		{
			name:     "accident in high tier escalates",
			kind:     KindAccident,
			tier:     risk.TierHigh,
			escalate: true,
			want:     PriorityCritical,
		},
		{
			name:     "medical in low tier stays high",
			kind:     KindMedical,
			tier:     risk.TierLow,
			escalate: true,
			want:     PriorityHigh,
		},
		{
			name:     "other in medium tier stays medium",
			kind:     KindOther,
			tier:     risk.TierMedium,
			escalate: true,
			want:     PriorityMedium,
		},
		{
			name:     "escalation disabled",
			kind:     KindMedical,
			tier:     risk.TierHigh,
			escalate: false,
			want:     PriorityHigh,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := manualConfig()
			cfg.EscalateOnHighTier = tt.escalate
			d, _ := newTestDispatcher(cfg)
			d.SetTierSource(func() risk.Tier { return tt.tier })

			_, err := d.Activate(context.Background(), tt.kind)
			require.NoError(t, err)
			incident, err := d.Dispatch(context.Background())
			require.NoError(t, err)

			assert.Equal(t, tt.want, incident.Priority)
		})
	}
}

// TestDispatchSnapshotsLocationAndIdentity verifies the dispatched incident
// carries the location and identity snapshots.
func TestDispatchSnapshotsLocationAndIdentity(t *testing.T) {
	d, _ := newTestDispatcher(manualConfig())
	pos := geo.Position{Lat: 19.0438, Lng: 72.8534, AccuracyM: 5, ObservedAt: time.Now().UTC()}
	verification := &messages.IdentityVerification{Valid: true, RiskLevel: "low", VerifiedAt: time.Now().UTC()}

	d.SetPositionSource(func() (geo.Position, bool) { return pos, true })
	d.SetIdentitySource(func() *messages.IdentityVerification { return verification })

	_, err := d.Activate(context.Background(), KindMedical)
	require.NoError(t, err)
	incident, err := d.Dispatch(context.Background())
	require.NoError(t, err)

	assert.True(t, incident.LocationKnown)
	assert.Equal(t, pos.Lat, incident.Location.Lat)
	require.NotNil(t, incident.Identity)
	assert.True(t, incident.Identity.Valid)
}

// TestLifecycleToResolution walks dispatched -> responding -> resolved and
// back to idle.
func TestLifecycleToResolution(t *testing.T) {
	d, _ := newTestDispatcher(manualConfig())
	ctx := context.Background()

	_, err := d.Activate(ctx, KindMedical)
	require.NoError(t, err)
	_, err = d.Dispatch(ctx)
	require.NoError(t, err)

	require.NoError(t, d.MarkResponding())
	assert.Equal(t, StateResponding, d.State())

	require.NoError(t, d.Resolve())
	assert.Equal(t, StateIdle, d.State())

	history := d.History()
	require.Len(t, history, 1)
	assert.Equal(t, StateResolved, history[0].State)
	require.NotNil(t, history[0].ResolvedAt)

	// A new activation is possible again
	_, err = d.Activate(ctx, KindOther)
	assert.NoError(t, err)
}

// TestInvalidTransitions tests rejected state-machine calls
func TestInvalidTransitions(t *testing.T) {
	ctx := context.Background()

	t.Run("cancel from idle", func(t *testing.T) {
		d, _ := newTestDispatcher(manualConfig())
		assert.ErrorIs(t, d.Cancel(ctx), ErrInvalidTransition)
	})

	t.Run("dispatch from idle", func(t *testing.T) {
		d, _ := newTestDispatcher(manualConfig())
		_, err := d.Dispatch(ctx)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("responding before dispatch", func(t *testing.T) {
		d, _ := newTestDispatcher(manualConfig())
		_, err := d.Activate(ctx, KindMedical)
		require.NoError(t, err)
		assert.ErrorIs(t, d.MarkResponding(), ErrInvalidTransition)
	})

	t.Run("resolve before responding", func(t *testing.T) {
		d, _ := newTestDispatcher(manualConfig())
		_, err := d.Activate(ctx, KindMedical)
		require.NoError(t, err)
		_, err = d.Dispatch(ctx)
		require.NoError(t, err)
		assert.ErrorIs(t, d.Resolve(), ErrInvalidTransition)
	})

	t.Run("cancel after dispatch", func(t *testing.T) {
		d, _ := newTestDispatcher(manualConfig())
		_, err := d.Activate(ctx, KindMedical)
		require.NoError(t, err)
		_, err = d.Dispatch(ctx)
		require.NoError(t, err)
		assert.ErrorIs(t, d.Cancel(ctx), ErrInvalidTransition)
	})
}

// TestSubscribeSeesTransitions verifies subscribers observe every incident
// transition in order.
func TestSubscribeSeesTransitions(t *testing.T) {
	d, _ := newTestDispatcher(manualConfig())
	ctx := context.Background()

	var states []State
	d.Subscribe(func(incident Incident) { states = append(states, incident.State) })

	_, err := d.Activate(ctx, KindMedical)
	require.NoError(t, err)
	_, err = d.Dispatch(ctx)
	require.NoError(t, err)
	require.NoError(t, d.MarkResponding())
	require.NoError(t, d.Resolve())

	assert.Equal(t, []State{StateCountdown, StateDispatched, StateResponding, StateResolved}, states)
}
