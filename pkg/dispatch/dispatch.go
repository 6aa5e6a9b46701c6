// Package dispatch implements the emergency activation state machine:
// countdown, auto-dispatch or manual cancel, active incident, resolution.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/guardline/guardline/pkg/geo"
	"github.com/guardline/guardline/pkg/messages"
	"github.com/guardline/guardline/pkg/risk"
)

var (
	// ErrAlreadyActive rejects an activation while an incident is pending or
	// active. The original incident is untouched.
	ErrAlreadyActive = errors.New("emergency already active")

	// ErrInvalidTransition rejects a state-machine call from an invalid
	// source state. No side effect is applied.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Kind classifies an emergency
type Kind string

const (
	KindMedical  Kind = "medical"
	KindSecurity Kind = "security"
	KindAccident Kind = "accident"
	KindOther    Kind = "other"
)

// Valid reports whether k is a known emergency kind
func (k Kind) Valid() bool {
	switch k {
	case KindMedical, KindSecurity, KindAccident, KindOther:
		return true
	}
	return false
}

// Priority orders responder urgency
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// State is a dispatcher or incident lifecycle state. Incidents move
// monotonically forward: countdown -> dispatched -> responding -> resolved,
// or countdown -> cancelled. Cancelled and resolved are terminal; the
// dispatcher itself returns to idle after either.
type State string

const (
	StateIdle       State = "idle"
	StateCountdown  State = "countdown"
	StateDispatched State = "dispatched"
	StateResponding State = "responding"
	StateResolved   State = "resolved"
	StateCancelled  State = "cancelled"
)

// Incident is one emergency activation. Created on dispatch preparation,
// mutated only by the dispatcher's transition function; terminal incidents
// are immutable history.
type Incident struct {
	ID              string                         `json:"id"`
	Kind            Kind                           `json:"kind"`
	Priority        Priority                       `json:"priority"`
	State           State                          `json:"state"`
	CreatedAt       time.Time                      `json:"created_at"`
	DispatchedAt    *time.Time                     `json:"dispatched_at,omitempty"`
	ResolvedAt      *time.Time                     `json:"resolved_at,omitempty"`
	Location        geo.Position                   `json:"location"`
	LocationKnown   bool                           `json:"location_known"`
	ResponderETAMin int                            `json:"responder_eta_min"`
	Identity        *messages.IdentityVerification `json:"identity,omitempty"`
}

// Config holds dispatcher tuning. The escalation override exists because the
// high-tier-escalates-to-critical rule is a documented default, not a law.
type Config struct {
	CountdownTicks     int           // Ticks before auto-dispatch, default 10
	TickInterval       time.Duration // Wall-clock length of one tick; 0 disables the internal timer
	Recipient          string        // Emergency services recipient
	EscalateOnHighTier bool          // Escalate any kind to critical when risk tier is high
	SendCancelNotice   bool          // Emit an optional status notice on cancel
}

// DefaultConfig returns the default dispatcher tuning
func DefaultConfig() Config {
	return Config{
		CountdownTicks:     10,
		TickInterval:       time.Second,
		Recipient:          "Emergency Services",
		EscalateOnHighTier: true,
	}
}

// Sender is the outbound path for incident notifications; satisfied by the
// connectivity gateway.
type Sender interface {
	Send(ctx context.Context, msg *messages.Outbound) messages.DeliveryState
}

// Dispatcher governs emergency activation. All transitions are linearized
// under one lock, so countdown expiry and an explicit cancel or dispatch
// have exactly one winner; the loser observes ErrInvalidTransition.
type Dispatcher struct {
	mu         sync.Mutex
	cfg        Config
	state      State
	remaining  int
	generation uint64

	pending *Incident
	history []Incident

	sender     Sender
	subjectID  string
	tierFn     func() risk.Tier
	positionFn func() (geo.Position, bool)
	identityFn func() *messages.IdentityVerification

	subs   []func(Incident)
	logger zerolog.Logger
}

// New creates an idle dispatcher. tierFn supplies the current risk tier for
// priority escalation, positionFn the location snapshot, identityFn the
// latest verification result (all optional).
func New(cfg Config, subjectID string, sender Sender, logger zerolog.Logger) *Dispatcher {
	if cfg.CountdownTicks <= 0 {
		cfg.CountdownTicks = DefaultConfig().CountdownTicks
	}
	if cfg.Recipient == "" {
		cfg.Recipient = DefaultConfig().Recipient
	}
	return &Dispatcher{
		cfg:       cfg,
		state:     StateIdle,
		sender:    sender,
		subjectID: subjectID,
		logger:    logger.With().Str("component", "dispatcher").Logger(),
	}
}

// SetTierSource installs the current-risk-tier provider
func (d *Dispatcher) SetTierSource(fn func() risk.Tier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tierFn = fn
}

// SetPositionSource installs the location snapshot provider
func (d *Dispatcher) SetPositionSource(fn func() (geo.Position, bool)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.positionFn = fn
}

// SetIdentitySource installs the identity verification provider
func (d *Dispatcher) SetIdentitySource(fn func() *messages.IdentityVerification) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.identityFn = fn
}

// Subscribe registers a callback invoked on every incident transition.
// Callbacks run synchronously and must not call back into the dispatcher.
func (d *Dispatcher) Subscribe(fn func(Incident)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs = append(d.subs, fn)
}

// Activate starts the countdown for a new incident. Valid only from idle;
// any other state returns ErrAlreadyActive. The returned incident snapshot
// carries the fresh id the caller reports back to the person activating.
func (d *Dispatcher) Activate(ctx context.Context, kind Kind) (Incident, error) {
	if !kind.Valid() {
		return Incident{}, fmt.Errorf("unknown emergency kind %q", kind)
	}

	d.mu.Lock()
	if d.state != StateIdle {
		d.mu.Unlock()
		return Incident{}, ErrAlreadyActive
	}

	d.generation++
	gen := d.generation
	d.state = StateCountdown
	d.remaining = d.cfg.CountdownTicks
	d.pending = &Incident{
		ID:        uuid.New().String(),
		Kind:      kind,
		State:     StateCountdown,
		CreatedAt: time.Now().UTC(),
	}
	snapshot := *d.pending
	d.logger.Info().
		Str("incident_id", snapshot.ID).
		Str("kind", string(kind)).
		Int("countdown_ticks", d.remaining).
		Msg("Emergency activated, countdown started")
	d.notifyLocked(snapshot)
	d.mu.Unlock()

	if d.cfg.TickInterval > 0 {
		go d.runCountdown(ctx, gen)
	}
	return snapshot, nil
}

// runCountdown is the cancellable timer owned by the dispatcher. The
// generation guard makes a stale timer a no-op after cancel, dispatch, or a
// later incident's countdown.
func (d *Dispatcher) runCountdown(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !d.Tick(ctx, gen) {
				return
			}
		}
	}
}

// Tick applies one countdown decrement for the given generation. It returns
// false once the countdown is no longer running (expired, cancelled,
// dispatched, or superseded). Reaching zero while still in countdown
// auto-dispatches: absence of explicit cancellation before expiry is
// implicit consent to dispatch.
func (d *Dispatcher) Tick(ctx context.Context, gen uint64) bool {
	d.mu.Lock()

	if d.state != StateCountdown || gen != d.generation {
		d.mu.Unlock()
		return false
	}

	d.remaining--
	if d.remaining > 0 {
		d.mu.Unlock()
		return true
	}

	incident := d.dispatchLocked()
	d.mu.Unlock()

	d.emitEmergency(ctx, incident)
	return false
}

// Cancel aborts the countdown and discards the pending incident. Valid only
// from countdown.
func (d *Dispatcher) Cancel(ctx context.Context) error {
	d.mu.Lock()

	if d.state != StateCountdown {
		d.mu.Unlock()
		return fmt.Errorf("%w: cancel from %s", ErrInvalidTransition, d.state)
	}

	d.generation++ // invalidate any running countdown timer
	incident := *d.pending
	incident.State = StateCancelled
	d.history = append(d.history, incident)
	d.pending = nil
	d.state = StateIdle
	d.remaining = 0
	d.logger.Info().Str("incident_id", incident.ID).Msg("Emergency cancelled during countdown")
	d.notifyLocked(incident)
	d.mu.Unlock()

	if d.cfg.SendCancelNotice && d.sender != nil {
		notice := messages.NewOutbound(messages.KindStatus, d.cfg.Recipient,
			messages.CancelBody(d.subjectID, incident.ID))
		d.sender.Send(ctx, notice)
	}
	return nil
}

// Dispatch triggers the incident immediately, without waiting for the
// countdown to expire. Valid only from countdown.
func (d *Dispatcher) Dispatch(ctx context.Context) (Incident, error) {
	d.mu.Lock()

	if d.state != StateCountdown {
		d.mu.Unlock()
		return Incident{}, fmt.Errorf("%w: dispatch from %s", ErrInvalidTransition, d.state)
	}

	incident := d.dispatchLocked()
	d.mu.Unlock()

	d.emitEmergency(ctx, incident)
	return incident, nil
}

// dispatchLocked performs the countdown -> dispatched transition: derives
// priority, snapshots location and identity, and records the incident.
// Callers hold d.mu.
func (d *Dispatcher) dispatchLocked() Incident {
	d.generation++ // invalidate any running countdown timer
	d.remaining = 0

	incident := d.pending
	incident.Priority = d.priorityLocked(incident.Kind)
	incident.ResponderETAMin = responderETA(incident.Kind)
	now := time.Now().UTC()
	incident.DispatchedAt = &now
	incident.State = StateDispatched

	if d.positionFn != nil {
		if pos, ok := d.positionFn(); ok {
			incident.Location = pos
			incident.LocationKnown = true
		}
	}
	if d.identityFn != nil {
		incident.Identity = d.identityFn()
	}

	d.state = StateDispatched
	d.logger.Info().
		Str("incident_id", incident.ID).
		Str("kind", string(incident.Kind)).
		Str("priority", string(incident.Priority)).
		Bool("location_known", incident.LocationKnown).
		Msg("Incident dispatched")
	d.notifyLocked(*incident)
	return *incident
}

// priorityLocked derives priority from kind, escalating to critical when the
// current risk tier is high and escalation is enabled.
func (d *Dispatcher) priorityLocked(kind Kind) Priority {
	base := PriorityMedium
	if kind == KindMedical || kind == KindSecurity {
		base = PriorityHigh
	}
	if d.cfg.EscalateOnHighTier && d.tierFn != nil && d.tierFn() == risk.TierHigh {
		return PriorityCritical
	}
	return base
}

// responderETA estimates arrival minutes by emergency kind
func responderETA(kind Kind) int {
	switch kind {
	case KindMedical:
		return 5
	case KindSecurity:
		return 4
	default:
		return 6
	}
}

// emitEmergency sends the incident notification through the gateway. Called
// without the lock held; the gateway applies its own discipline.
func (d *Dispatcher) emitEmergency(ctx context.Context, incident Incident) {
	if d.sender == nil {
		return
	}
	msg := messages.NewOutbound(messages.KindEmergency, d.cfg.Recipient,
		messages.EmergencyBody(d.subjectID, string(incident.Kind), incident.Location))
	state := d.sender.Send(ctx, msg)
	d.logger.Info().
		Str("incident_id", incident.ID).
		Str("message_id", msg.ID).
		Str("delivery_state", string(state)).
		Msg("Emergency notification routed")
}

// MarkResponding records that responders are en route. Authority-only;
// valid only from dispatched.
func (d *Dispatcher) MarkResponding() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateDispatched {
		return fmt.Errorf("%w: responding from %s", ErrInvalidTransition, d.state)
	}
	d.state = StateResponding
	d.pending.State = StateResponding
	d.logger.Info().Str("incident_id", d.pending.ID).Msg("Responders en route")
	d.notifyLocked(*d.pending)
	return nil
}

// Resolve closes the incident. Authority-only; valid only from responding.
// The dispatcher returns to idle for the next activation.
func (d *Dispatcher) Resolve() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateResponding {
		return fmt.Errorf("%w: resolve from %s", ErrInvalidTransition, d.state)
	}

	incident := *d.pending
	now := time.Now().UTC()
	incident.ResolvedAt = &now
	incident.State = StateResolved
	d.history = append(d.history, incident)
	d.pending = nil
	d.state = StateIdle
	d.logger.Info().Str("incident_id", incident.ID).Msg("Incident resolved")
	d.notifyLocked(incident)
	return nil
}

// State returns the dispatcher's current state
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Remaining returns the countdown ticks left, zero when not counting
func (d *Dispatcher) Remaining() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateCountdown {
		return 0
	}
	return d.remaining
}

// Generation returns the current countdown generation, for external tick
// drivers.
func (d *Dispatcher) Generation() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.generation
}

// Active returns the pending or in-flight incident, false when idle
func (d *Dispatcher) Active() (Incident, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending == nil {
		return Incident{}, false
	}
	return *d.pending, true
}

// History returns terminal incidents, oldest first
func (d *Dispatcher) History() []Incident {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Incident, len(d.history))
	copy(out, d.history)
	return out
}

func (d *Dispatcher) notifyLocked(incident Incident) {
	for _, fn := range d.subs {
		fn(incident)
	}
}
