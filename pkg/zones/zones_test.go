package zones

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardline/guardline/pkg/geo"
)

func testZone(id string, severity Severity) Zone {
	return Zone{
		ID:        id,
		Name:      "Zone " + id,
		Severity:  severity,
		CenterLat: 19.0438,
		CenterLng: 72.8534,
		RadiusM:   800,
	}
}

// TestZoneContains tests boundary-inclusive point containment
func TestZoneContains(t *testing.T) {
	zone := Zone{
		ID:        "Z-TEST",
		Name:      "Test Zone",
		Severity:  SeverityHigh,
		CenterLat: 19.0438,
		CenterLng: 72.8534,
		RadiusM:   800,
	}

	tests := []struct {
		name string
		lat  float64
		lng  float64
		want bool
	}{
		{
			name: "center point",
			lat:  19.0438,
			lng:  72.8534,
			want: true,
		},
		{
			name: "well inside radius",
			lat:  19.0460,
			lng:  72.8540,
			want: true,
		},
		{
			name: "well outside radius",
			lat:  19.1197,
			lng:  72.8464,
			want: false,
		},
		{
			name: "just outside radius",
			lat:  19.0438,
			lng:  72.8620, // ~900m east of center
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, zone.Contains(tt.lat, tt.lng))
		})
	}
}

// TestZoneContainsBoundary verifies a point at exactly the radius distance is
// treated as inside.
func TestZoneContainsBoundary(t *testing.T) {
	zone := Zone{
		ID:        "Z-EDGE",
		Name:      "Edge Zone",
		Severity:  SeverityMedium,
		CenterLat: 19.0,
		CenterLng: 72.85,
	}

	// Pick a nearby point, then set the radius to the exact distance
	lat, lng := 19.003, 72.853
	zone.RadiusM = geo.DistanceMeters(zone.CenterLat, zone.CenterLng, lat, lng)

	assert.True(t, zone.Contains(lat, lng), "boundary point should be inside")
}

// TestIndexLoad tests catalog validation on load
func TestIndexLoad(t *testing.T) {
	tests := []struct {
		name    string
		zones   []Zone
		wantErr string
	}{
		{
			name:  "valid catalog",
			zones: []Zone{testZone("Z-1", SeverityHigh), testZone("Z-2", SeverityLow)},
		},
		{
			name:  "empty catalog",
			zones: nil,
		},
		{
			name:    "duplicate ids",
			zones:   []Zone{testZone("Z-1", SeverityHigh), testZone("Z-1", SeverityLow)},
			wantErr: "duplicate zone id",
		},
		{
			name: "missing id",
			zones: []Zone{
				{Name: "Nameless", Severity: SeverityLow, CenterLat: 19, CenterLng: 72, RadiusM: 100},
			},
			wantErr: "empty id",
		},
		{
			name: "invalid severity",
			zones: []Zone{
				{ID: "Z-BAD", Name: "Bad", Severity: "extreme", CenterLat: 19, CenterLng: 72, RadiusM: 100},
			},
			wantErr: "invalid severity",
		},
		{
			name: "non-positive radius",
			zones: []Zone{
				{ID: "Z-BAD", Name: "Bad", Severity: SeverityLow, CenterLat: 19, CenterLng: 72, RadiusM: 0},
			},
			wantErr: "radius must be positive",
		},
		{
			name: "center out of range",
			zones: []Zone{
				{ID: "Z-BAD", Name: "Bad", Severity: SeverityLow, CenterLat: 91, CenterLng: 72, RadiusM: 100},
			},
			wantErr: "out of range",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := NewIndex()
			err := idx.Load(tt.zones)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, len(tt.zones), idx.Len())
		})
	}
}

// TestIndexLoadFailureKeepsPreviousSet verifies a failed reload leaves the
// loaded catalog untouched.
func TestIndexLoadFailureKeepsPreviousSet(t *testing.T) {
	idx := NewIndex()
	require.NoError(t, idx.Load([]Zone{testZone("Z-1", SeverityHigh)}))

	err := idx.Load([]Zone{testZone("Z-2", SeverityLow), {ID: "Z-BAD"}})
	require.Error(t, err)

	assert.Equal(t, 1, idx.Len())
	assert.Equal(t, "Z-1", idx.All()[0].ID)
}

// TestZonesContaining tests overlapping zone queries
func TestZonesContaining(t *testing.T) {
	idx := NewIndex()
	inner := testZone("Z-INNER", SeverityHigh)
	inner.RadiusM = 300
	outer := testZone("Z-OUTER", SeverityMedium)
	outer.RadiusM = 1500
	far := testZone("Z-FAR", SeverityLow)
	far.CenterLat = 18.9217
	far.CenterLng = 72.8318

	require.NoError(t, idx.Load([]Zone{inner, outer, far}))

	matches := idx.ZonesContaining(19.0438, 72.8534)
	require.Len(t, matches, 2)
	ids := []string{matches[0].ID, matches[1].ID}
	assert.Contains(t, ids, "Z-INNER")
	assert.Contains(t, ids, "Z-OUTER")

	assert.Empty(t, idx.ZonesContaining(25.0, 80.0))
}

// TestAggregateSeverity tests maximum-severity aggregation
func TestAggregateSeverity(t *testing.T) {
	tests := []struct {
		name  string
		zones []Zone
		want  Severity
	}{
		{
			name:  "empty set is low",
			zones: nil,
			want:  SeverityLow,
		},
		{
			name:  "single medium",
			zones: []Zone{testZone("Z-1", SeverityMedium)},
			want:  SeverityMedium,
		},
		{
			name:  "high dominates",
			zones: []Zone{testZone("Z-1", SeverityLow), testZone("Z-2", SeverityHigh), testZone("Z-3", SeverityMedium)},
			want:  SeverityHigh,
		},
		{
			name:  "all low",
			zones: []Zone{testZone("Z-1", SeverityLow), testZone("Z-2", SeverityLow)},
			want:  SeverityLow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AggregateSeverity(tt.zones))
		})
	}
}

// TestDefaultCatalog sanity-checks the built-in Mumbai catalog
func TestDefaultCatalog(t *testing.T) {
	catalog := DefaultCatalog()
	require.NotEmpty(t, catalog)

	idx := NewIndex()
	require.NoError(t, idx.Load(catalog))

	// Dharavi center must resolve to a high severity zone
	matches := idx.ZonesContaining(19.0438, 72.8534)
	require.NotEmpty(t, matches)
	assert.Equal(t, SeverityHigh, AggregateSeverity(matches))
}

// TestConcurrentReads exercises concurrent queries against a reload
func TestConcurrentReads(t *testing.T) {
	idx := NewIndex()
	require.NoError(t, idx.Load(DefaultCatalog()))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			idx.ZonesContaining(19.0438, 72.8534)
			idx.All()
		}
	}()

	for i := 0; i < 20; i++ {
		require.NoError(t, idx.Load(DefaultCatalog()))
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("concurrent readers did not finish")
	}
}
