// Package tracker owns the agent's current position and derives zone
// enter/exit transitions from consecutive samples.
package tracker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/guardline/guardline/pkg/geo"
	"github.com/guardline/guardline/pkg/zones"
)

// ErrStaleSample rejects a position update that is invalid or older than the
// previously accepted sample. The tracker state is unchanged.
var ErrStaleSample = errors.New("stale or invalid position sample")

// DefaultHistoryCap bounds the retained position history
const DefaultHistoryCap = 50

// Batch groups every zone transition caused by a single accepted update.
// Delivery is atomic per update: one batch, containing all entered and
// exited zones for that sample.
type Batch struct {
	Position geo.Position `json:"position"`
	Entered  []zones.Zone `json:"entered"`
	Exited   []zones.Zone `json:"exited"`
	Current  []zones.Zone `json:"current"` // full zone set after this update
	At       time.Time    `json:"at"`
}

// Subscriber receives transition batches synchronously during Update.
// Subscribers must not call back into the tracker.
type Subscriber func(Batch)

// Tracker holds the latest accepted position plus a bounded history. All
// mutation happens through Update under a single lock.
type Tracker struct {
	mu         sync.Mutex
	index      *zones.Index
	current    *geo.Position
	zonesNow   []zones.Zone
	history    []geo.Position
	historyCap int
	subs       []Subscriber
	logger     zerolog.Logger
}

// New creates a tracker bound to a zone index
func New(index *zones.Index, logger zerolog.Logger) *Tracker {
	return &Tracker{
		index:      index,
		historyCap: DefaultHistoryCap,
		logger:     logger.With().Str("component", "tracker").Logger(),
	}
}

// SetHistoryCap bounds the retained history; values below 1 keep only the
// current sample.
func (t *Tracker) SetHistoryCap(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n < 1 {
		n = 1
	}
	t.historyCap = n
	if len(t.history) > n {
		t.history = append([]geo.Position(nil), t.history[len(t.history)-n:]...)
	}
}

// Subscribe registers a callback for transition batches. Callbacks run
// synchronously before the triggering Update returns.
func (t *Tracker) Subscribe(fn Subscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs = append(t.subs, fn)
}

// Update validates and accepts a new sample, superseding the previous one.
// It returns the transition batch for this update, or nil when no zone
// boundary was crossed. A rejected sample returns ErrStaleSample and leaves
// the tracker untouched.
func (t *Tracker) Update(pos geo.Position) (*Batch, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if pos.AccuracyM < 0 {
		return nil, fmt.Errorf("%w: negative accuracy %v", ErrStaleSample, pos.AccuracyM)
	}
	if !geo.ValidCoordinates(pos.Lat, pos.Lng) {
		return nil, fmt.Errorf("%w: coordinates (%v, %v) out of range", ErrStaleSample, pos.Lat, pos.Lng)
	}
	if pos.ObservedAt.IsZero() {
		return nil, fmt.Errorf("%w: missing observation time", ErrStaleSample)
	}
	if t.current != nil && pos.ObservedAt.Before(t.current.ObservedAt) {
		return nil, fmt.Errorf("%w: observed_at %s precedes accepted sample %s",
			ErrStaleSample, pos.ObservedAt.Format(time.RFC3339), t.current.ObservedAt.Format(time.RFC3339))
	}

	newZones := t.index.ZonesContaining(pos.Lat, pos.Lng)
	entered, exited := diffZones(t.zonesNow, newZones)

	t.current = &pos
	t.zonesNow = newZones
	t.history = append(t.history, pos)
	if len(t.history) > t.historyCap {
		t.history = t.history[len(t.history)-t.historyCap:]
	}

	if len(entered) == 0 && len(exited) == 0 {
		return nil, nil
	}

	batch := Batch{
		Position: pos,
		Entered:  entered,
		Exited:   exited,
		Current:  newZones,
		At:       pos.ObservedAt,
	}

	t.logger.Debug().
		Int("entered", len(entered)).
		Int("exited", len(exited)).
		Float64("lat", pos.Lat).
		Float64("lng", pos.Lng).
		Msg("Zone transition")

	// Synchronous dispatch: every subscriber sees the batch before Update
	// returns, preserving per-update ordering.
	for _, fn := range t.subs {
		fn(batch)
	}

	return &batch, nil
}

// Current returns the latest accepted position, false if none yet
func (t *Tracker) Current() (geo.Position, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return geo.Position{}, false
	}
	return *t.current, true
}

// CurrentZones returns the zones containing the latest accepted position
func (t *Tracker) CurrentZones() []zones.Zone {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]zones.Zone, len(t.zonesNow))
	copy(out, t.zonesNow)
	return out
}

// History returns a copy of the bounded position history, oldest first
func (t *Tracker) History() []geo.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]geo.Position, len(t.history))
	copy(out, t.history)
	return out
}

// diffZones returns the zones present in new but not old (entered) and in
// old but not new (exited), compared by id.
func diffZones(old, new []zones.Zone) (entered, exited []zones.Zone) {
	oldIDs := make(map[string]bool, len(old))
	for _, z := range old {
		oldIDs[z.ID] = true
	}
	newIDs := make(map[string]bool, len(new))
	for _, z := range new {
		newIDs[z.ID] = true
	}

	for _, z := range new {
		if !oldIDs[z.ID] {
			entered = append(entered, z)
		}
	}
	for _, z := range old {
		if !newIDs[z.ID] {
			exited = append(exited, z)
		}
	}
	return entered, exited
}
