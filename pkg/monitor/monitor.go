// Package monitor wires the zone index, position tracker, risk scorer,
// emergency dispatcher, and connectivity gateway into one running service
// and drives the periodic activities.
package monitor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/guardline/guardline/pkg/dispatch"
	"github.com/guardline/guardline/pkg/gateway"
	"github.com/guardline/guardline/pkg/geo"
	"github.com/guardline/guardline/pkg/messages"
	"github.com/guardline/guardline/pkg/risk"
	"github.com/guardline/guardline/pkg/tracker"
	"github.com/guardline/guardline/pkg/zones"
)

// LocationSource delivers position samples at its own cadence. The monitor
// never assumes a fixed rate; absent samples mean "last known position".
type LocationSource interface {
	Positions(ctx context.Context) <-chan geo.Position
}

// ConnectivityProbe measures primary-channel availability
type ConnectivityProbe interface {
	Sample() (online bool, signalQuality int)
}

// ContextFeed supplies the external inputs to risk assessment
type ContextFeed interface {
	Context() risk.Context
}

// Store persists snapshots of the engine's durable state. All calls are
// best-effort; the engine runs without one.
type Store interface {
	SaveIncident(ctx context.Context, incident dispatch.Incident) error
	SaveMessage(ctx context.Context, msg messages.Outbound) error
	SavePosition(ctx context.Context, pos geo.Position) error
}

// Event is a broadcastable engine occurrence for live feeds
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	At      time.Time       `json:"at"`
}

// Event types emitted by the monitor
const (
	EventAssessment   = "assessment.updated"
	EventTransition   = "zone.transition"
	EventIncident     = "incident.updated"
	EventConnectivity = "connectivity.changed"
)

// Config holds monitor scheduling and identity settings
type Config struct {
	SubjectID      string        // Identifier reported in outbound messages
	AlertRecipient string        // Recipient of zone advisories
	AssessInterval time.Duration // Periodic re-assessment cadence
	ProbeInterval  time.Duration // Connectivity probe cadence
}

// DefaultConfig returns the default monitor settings
func DefaultConfig() Config {
	return Config{
		SubjectID:      "tourist-12345",
		AlertRecipient: "Tourist Police",
		AssessInterval: 15 * time.Second,
		ProbeInterval:  10 * time.Second,
	}
}

// Service owns the component graph. Each component keeps its own lock; the
// service adds only the latest-assessment and identity snapshots.
type Service struct {
	cfg Config

	index      *zones.Index
	tracker    *tracker.Tracker
	scorer     *risk.Scorer
	dispatcher *dispatch.Dispatcher
	gateway    *gateway.Gateway
	feed       ContextFeed
	store      Store

	mu         sync.Mutex
	assessment risk.Assessment
	identity   *messages.IdentityVerification
	zonesNow   []zones.Zone
	lastPos    *geo.Position
	runCtx     context.Context

	subsMu sync.Mutex
	subs   []func(Event)

	logger  zerolog.Logger
	metrics *Metrics
}

// New assembles the service and subscribes the internal event flow. The
// dispatcher and gateway must be constructed against the same logger and
// gateway instance passed here.
func New(cfg Config, index *zones.Index, trk *tracker.Tracker, scorer *risk.Scorer,
	disp *dispatch.Dispatcher, gw *gateway.Gateway, feed ContextFeed, logger zerolog.Logger) *Service {

	if cfg.AssessInterval <= 0 {
		cfg.AssessInterval = DefaultConfig().AssessInterval
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = DefaultConfig().ProbeInterval
	}

	s := &Service{
		cfg:        cfg,
		index:      index,
		tracker:    trk,
		scorer:     scorer,
		dispatcher: disp,
		gateway:    gw,
		feed:       feed,
		runCtx:     context.Background(),
		logger:     logger.With().Str("component", "monitor").Logger(),
		metrics:    NewMetrics(),
	}

	disp.SetTierSource(func() risk.Tier { return s.Assessment().Tier })
	disp.SetPositionSource(trk.Current)
	disp.SetIdentitySource(s.Identity)
	disp.Subscribe(s.onIncident)

	trk.Subscribe(s.onTransition)

	gw.SetOfflineNotice(s.offlineNotice)

	// Baseline assessment so tier queries before the first sample are sane
	s.reassess()

	return s
}

// SetStore attaches optional persistence
func (s *Service) SetStore(store Store) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store = store
}

// Metrics returns the service's Prometheus registry
func (s *Service) Metrics() *prometheus.Registry {
	return s.metrics.Registry
}

// Subscribe registers a live-event callback
func (s *Service) Subscribe(fn func(Event)) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	s.subs = append(s.subs, fn)
}

// Run drives the periodic activities until the context is cancelled:
// position ingestion, the connectivity probe, and the assessment timer. The
// emergency countdown timer is owned by the dispatcher itself.
func (s *Service) Run(ctx context.Context, source LocationSource, probe ConnectivityProbe) error {
	s.mu.Lock()
	s.runCtx = ctx
	s.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)

	if source != nil {
		g.Go(func() error {
			for pos := range source.Positions(ctx) {
				s.IngestPosition(pos)
			}
			return ctx.Err()
		})
	}

	if probe != nil {
		g.Go(func() error {
			ticker := time.NewTicker(s.cfg.ProbeInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
					online, signal := probe.Sample()
					s.Probe(online, signal)
				}
			}
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(s.cfg.AssessInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				s.Reassess()
			}
		}
	})

	s.logger.Info().
		Dur("assess_interval", s.cfg.AssessInterval).
		Dur("probe_interval", s.cfg.ProbeInterval).
		Msg("Monitor running")

	return g.Wait()
}

// IngestPosition feeds one sample into the tracker. Rejected samples are
// counted and logged, never fatal.
func (s *Service) IngestPosition(pos geo.Position) error {
	_, err := s.tracker.Update(pos)
	if err != nil {
		s.metrics.PositionsTotal.WithLabelValues("rejected").Inc()
		s.logger.Debug().Err(err).Msg("Rejected position sample")
		return err
	}
	s.metrics.PositionsTotal.WithLabelValues("accepted").Inc()
	s.mu.Lock()
	s.lastPos = &pos
	s.mu.Unlock()
	s.persistPosition(pos)
	return nil
}

// Probe feeds one connectivity reading into the gateway and refreshes the
// assessment when the mode changed.
func (s *Service) Probe(online bool, signalQuality int) gateway.State {
	before := s.gateway.State()
	after := s.gateway.Probe(s.ctx(), online, signalQuality)
	s.metrics.QueueDepth.Set(float64(s.gateway.QueueDepth()))

	if before.Mode != after.Mode {
		payload, _ := json.Marshal(after)
		s.publish(Event{Type: EventConnectivity, Payload: payload, At: time.Now().UTC()})
		s.reassess()
	}
	return after
}

// Reassess recomputes the safety assessment on demand
func (s *Service) Reassess() risk.Assessment {
	return s.reassess()
}

// Assessment returns the latest assessment snapshot
func (s *Service) Assessment() risk.Assessment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assessment
}

// SetIdentity records the latest verification result from the external
// identity service.
func (s *Service) SetIdentity(v messages.IdentityVerification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = &v
}

// Identity returns the latest verification result, nil if none delivered
func (s *Service) Identity() *messages.IdentityVerification {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return nil
	}
	v := *s.identity
	return &v
}

// Dispatcher exposes the emergency state machine to the API layer
func (s *Service) Dispatcher() *dispatch.Dispatcher { return s.dispatcher }

// Gateway exposes the connectivity gateway to the API layer
func (s *Service) Gateway() *gateway.Gateway { return s.gateway }

// Tracker exposes the position tracker to the API layer
func (s *Service) Tracker() *tracker.Tracker { return s.tracker }

// Zones exposes the zone index to the API layer
func (s *Service) Zones() *zones.Index { return s.index }

// Activate starts an emergency countdown using the service run context, so
// the countdown survives the originating request.
func (s *Service) Activate(kind dispatch.Kind) (dispatch.Incident, error) {
	return s.dispatcher.Activate(s.ctx(), kind)
}

// Cancel aborts a running countdown
func (s *Service) Cancel() error {
	return s.dispatcher.Cancel(s.ctx())
}

// DispatchNow triggers the pending incident immediately
func (s *Service) DispatchNow() (dispatch.Incident, error) {
	return s.dispatcher.Dispatch(s.ctx())
}

// onTransition reacts to a zone transition batch: refresh the assessment
// and send an advisory when a high-severity zone was entered. It runs inside
// the tracker's update, so it works from the batch alone and never queries
// the tracker.
func (s *Service) onTransition(batch tracker.Batch) {
	for range batch.Entered {
		s.metrics.TransitionsTotal.WithLabelValues("entered").Inc()
	}
	for range batch.Exited {
		s.metrics.TransitionsTotal.WithLabelValues("exited").Inc()
	}

	s.mu.Lock()
	s.zonesNow = batch.Current
	s.mu.Unlock()

	payload, _ := json.Marshal(batch)
	s.publish(Event{Type: EventTransition, Payload: payload, At: time.Now().UTC()})

	s.reassess()

	for _, z := range batch.Entered {
		if z.Severity != zones.SeverityHigh {
			continue
		}
		msg := messages.NewOutbound(messages.KindAlert, s.cfg.AlertRecipient,
			messages.AlertBody(s.cfg.SubjectID, z.Name))
		state := s.gateway.Send(s.ctx(), msg)
		s.metrics.MessagesTotal.WithLabelValues(string(state)).Inc()
		s.persistMessage(*msg)
		s.logger.Warn().
			Str("zone", z.Name).
			Str("delivery_state", string(state)).
			Msg("High risk zone entered, advisory sent")
	}
}

// onIncident records dispatcher transitions for metrics, persistence, and
// the live feed.
func (s *Service) onIncident(incident dispatch.Incident) {
	s.metrics.IncidentsTotal.WithLabelValues(string(incident.State)).Inc()
	payload, _ := json.Marshal(incident)
	s.publish(Event{Type: EventIncident, Payload: payload, At: time.Now().UTC()})
	s.persistIncident(incident)
}

// offlineNotice builds the fallback-activation status message with the last
// known position and last safe zone. It runs under the gateway's lock, so it
// reads only the service's own snapshots.
func (s *Service) offlineNotice() *messages.Outbound {
	s.mu.Lock()
	var pos geo.Position
	if s.lastPos != nil {
		pos = *s.lastPos
	}
	safeZone := "unknown"
	for _, z := range s.zonesNow {
		if z.Severity != zones.SeverityHigh {
			safeZone = z.Name
			break
		}
	}
	s.mu.Unlock()

	return messages.NewOutbound(messages.KindStatus, s.cfg.AlertRecipient,
		messages.OfflineStatusBody(safeZone, pos))
}

// reassess recomputes and stores the assessment, never silently skipped
func (s *Service) reassess() risk.Assessment {
	var ctx risk.Context
	if s.feed != nil {
		ctx = s.feed.Context()
	}
	state := s.gateway.State()
	ctx.Online = state.Online
	ctx.SignalQuality = state.SignalQuality

	s.mu.Lock()
	current := s.zonesNow
	s.mu.Unlock()

	assessment := s.scorer.Assess(current, ctx)

	s.mu.Lock()
	s.assessment = assessment
	s.mu.Unlock()

	s.metrics.SafetyScore.Set(float64(assessment.Score))
	payload, _ := json.Marshal(assessment)
	s.publish(Event{Type: EventAssessment, Payload: payload, At: assessment.ComputedAt})
	return assessment
}

func (s *Service) ctx() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runCtx
}

// persistTargets snapshots the store and run context under the service lock
func (s *Service) persistTargets() (Store, context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store, s.runCtx
}

func (s *Service) publish(ev Event) {
	s.subsMu.Lock()
	subs := make([]func(Event), len(s.subs))
	copy(subs, s.subs)
	s.subsMu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func (s *Service) persistIncident(incident dispatch.Incident) {
	store, base := s.persistTargets()
	if store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(base, 2*time.Second)
	defer cancel()
	if err := store.SaveIncident(ctx, incident); err != nil {
		s.logger.Warn().Err(err).Str("incident_id", incident.ID).Msg("Failed to persist incident")
	}
}

func (s *Service) persistMessage(msg messages.Outbound) {
	store, base := s.persistTargets()
	if store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(base, 2*time.Second)
	defer cancel()
	if err := store.SaveMessage(ctx, msg); err != nil {
		s.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("Failed to persist message")
	}
}

func (s *Service) persistPosition(pos geo.Position) {
	store, base := s.persistTargets()
	if store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(base, 2*time.Second)
	defer cancel()
	if err := store.SavePosition(ctx, pos); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to persist position snapshot")
	}
}
