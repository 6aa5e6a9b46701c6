// Package sim provides simulated location and connectivity sources for demo
// runs and tests. They implement the same interfaces real sensors and
// carrier probes would, so swapping in hardware touches nothing in the core.
package sim

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/guardline/guardline/pkg/geo"
	"github.com/guardline/guardline/pkg/risk"
)

// Walker is a random-walk location source. Each interval it drifts the
// position slightly, mimicking a person moving through the city.
type Walker struct {
	mu       sync.Mutex
	rng      *rand.Rand
	pos      geo.Position
	interval time.Duration
	driftDeg float64
}

// NewWalker starts a walker at the given coordinates
func NewWalker(lat, lng float64, interval time.Duration, seed int64) *Walker {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Walker{
		rng: rand.New(rand.NewSource(seed)),
		pos: geo.Position{
			Lat:        lat,
			Lng:        lng,
			AccuracyM:  5,
			ObservedAt: time.Now().UTC(),
		},
		interval: interval,
		driftDeg: 0.001,
	}
}

// Positions emits drifting samples until the context is cancelled
func (w *Walker) Positions(ctx context.Context) <-chan geo.Position {
	out := make(chan geo.Position)
	go func() {
		defer close(out)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case out <- w.step():
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func (w *Walker) step() geo.Position {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pos = geo.Position{
		Lat:        w.pos.Lat + (w.rng.Float64()-0.5)*w.driftDeg,
		Lng:        w.pos.Lng + (w.rng.Float64()-0.5)*w.driftDeg,
		AccuracyM:  float64(3 + w.rng.Intn(10)),
		ObservedAt: time.Now().UTC(),
	}
	return w.pos
}

// FlappingLink simulates a connectivity probe that is online roughly 70% of
// the time with a random signal quality, reproducing the flapping the demo
// dashboard shows.
type FlappingLink struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewFlappingLink creates a seeded link simulator
func NewFlappingLink(seed int64) *FlappingLink {
	return &FlappingLink{rng: rand.New(rand.NewSource(seed))}
}

// Sample returns one simulated probe reading
func (l *FlappingLink) Sample() (online bool, signalQuality int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	online = l.rng.Float64() > 0.3
	signalQuality = l.rng.Intn(5)
	if !online {
		signalQuality = 0
	}
	return online, signalQuality
}

// Feed is a simulated context feed supplying crowd density and historical
// incident rate. Values vary slowly around a midpoint.
type Feed struct {
	mu      sync.Mutex
	rng     *rand.Rand
	crowd   float64
	history float64
}

// NewFeed creates a seeded context feed
func NewFeed(seed int64) *Feed {
	return &Feed{
		rng:     rand.New(rand.NewSource(seed)),
		crowd:   0.3,
		history: 0.2,
	}
}

// Context returns the current simulated contextual inputs. Connectivity
// fields are filled in by the monitor from the gateway state.
func (f *Feed) Context() risk.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.crowd = clamp01(f.crowd + (f.rng.Float64()-0.5)*0.1)
	f.history = clamp01(f.history + (f.rng.Float64()-0.5)*0.05)
	return risk.Context{
		CrowdDensity: f.crowd,
		IncidentRate: f.history,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
