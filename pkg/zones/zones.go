// Package zones maintains the catalog of named circular risk zones and
// answers point-containment queries against it.
package zones

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/guardline/guardline/pkg/geo"
)

// Severity is the coarse risk classification of a zone
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Valid reports whether s is a known severity tier
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

// rank orders severities for aggregation; higher is worse
func (s Severity) rank() int {
	switch s {
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// Zone is a named circular geographic risk region. Zones are immutable after
// load; a reload replaces the whole set.
type Zone struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Severity      Severity `json:"severity"`
	CenterLat     float64  `json:"center_lat"`
	CenterLng     float64  `json:"center_lng"`
	RadiusM       float64  `json:"radius_m"`
	IncidentCount int      `json:"incident_count"`
	Description   string   `json:"description,omitempty"`
}

// Contains reports whether the point lies within the zone radius, boundary
// inclusive.
func (z Zone) Contains(lat, lng float64) bool {
	return geo.DistanceMeters(z.CenterLat, z.CenterLng, lat, lng) <= z.RadiusM
}

// validate checks a single zone definition at load time
func (z Zone) validate() error {
	if z.ID == "" {
		return fmt.Errorf("zone has empty id")
	}
	if z.Name == "" {
		return fmt.Errorf("zone %s: empty name", z.ID)
	}
	if !z.Severity.Valid() {
		return fmt.Errorf("zone %s: invalid severity %q", z.ID, z.Severity)
	}
	if z.RadiusM <= 0 {
		return fmt.Errorf("zone %s: radius must be positive, got %v", z.ID, z.RadiusM)
	}
	if !geo.ValidCoordinates(z.CenterLat, z.CenterLng) {
		return fmt.Errorf("zone %s: center (%v, %v) out of range", z.ID, z.CenterLat, z.CenterLng)
	}
	if z.IncidentCount < 0 {
		return fmt.Errorf("zone %s: negative incident count", z.ID)
	}
	return nil
}

// Index answers "which zones contain point P". Reads are safe for concurrent
// use; Load replaces the whole set atomically and is mutually exclusive with
// reads.
type Index struct {
	mu    sync.RWMutex
	zones []Zone
}

// NewIndex creates an empty zone index
func NewIndex() *Index {
	return &Index{}
}

// Load validates and atomically replaces the zone set. A validation failure
// leaves the previous set untouched. Duplicate ids are rejected.
func (idx *Index) Load(zones []Zone) error {
	seen := make(map[string]bool, len(zones))
	for _, z := range zones {
		if err := z.validate(); err != nil {
			return fmt.Errorf("zone load failed: %w", err)
		}
		if seen[z.ID] {
			return fmt.Errorf("zone load failed: duplicate zone id %s", z.ID)
		}
		seen[z.ID] = true
	}

	replacement := make([]Zone, len(zones))
	copy(replacement, zones)

	idx.mu.Lock()
	idx.zones = replacement
	idx.mu.Unlock()
	return nil
}

// LoadFile reads a JSON zone catalog from disk and loads it
func (idx *Index) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("zone load failed: %w", err)
	}
	var zones []Zone
	if err := json.Unmarshal(data, &zones); err != nil {
		return fmt.Errorf("zone load failed: malformed catalog %s: %w", path, err)
	}
	return idx.Load(zones)
}

// ZonesContaining returns every zone whose radius covers the point. A point
// inside overlapping zones returns all matches; the caller aggregates.
func (idx *Index) ZonesContaining(lat, lng float64) []Zone {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var matches []Zone
	for _, z := range idx.zones {
		if z.Contains(lat, lng) {
			matches = append(matches, z)
		}
	}
	return matches
}

// All returns a copy of the loaded zone set
func (idx *Index) All() []Zone {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]Zone, len(idx.zones))
	copy(out, idx.zones)
	return out
}

// Len returns the number of loaded zones
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.zones)
}

// AggregateSeverity is the maximum severity among the given zones, low when
// the set is empty.
func AggregateSeverity(zones []Zone) Severity {
	agg := SeverityLow
	for _, z := range zones {
		if z.Severity.rank() > agg.rank() {
			agg = z.Severity
		}
	}
	return agg
}
