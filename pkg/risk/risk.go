// Package risk derives a 0-100 safety score and a coarse risk tier from zone
// membership and contextual inputs.
package risk

import (
	"math"
	"time"

	"github.com/guardline/guardline/pkg/zones"
)

// Tier is the coarse risk classification derived from a safety score. It is
// the authoritative cutover for any automated decision, not just a display
// hint.
type Tier string

const (
	TierLow    Tier = "low"
	TierMedium Tier = "medium"
	TierHigh   Tier = "high"
)

// Score thresholds for tier classification
const (
	lowTierMinScore    = 90
	mediumTierMinScore = 70
)

// TierFor maps a safety score to its risk tier: >=90 low, 70-89 medium,
// below 70 high.
func TierFor(score int) Tier {
	switch {
	case score >= lowTierMinScore:
		return TierLow
	case score >= mediumTierMinScore:
		return TierMedium
	default:
		return TierHigh
	}
}

// Factor names
const (
	FactorLocation            = "location"
	FactorTimeOfDay           = "time_of_day"
	FactorCrowdDensity        = "crowd_density"
	FactorHistoricalIncidents = "historical_incidents"
	FactorConnectivity        = "connectivity"
)

// Factor is one scored risk dimension. Factors are ephemeral and recomputed
// on every assessment pass.
type Factor struct {
	Name  string `json:"name"`
	Score int    `json:"score"` // 0-100, higher is safer
	Tier  Tier   `json:"tier"`
}

// Assessment is an immutable safety snapshot, superseded wholesale on
// recomputation.
type Assessment struct {
	Score      int       `json:"score"` // 0-100, higher is safer
	Tier       Tier      `json:"tier"`
	Factors    []Factor  `json:"factors"`
	ComputedAt time.Time `json:"computed_at"`
}

// Context carries the external inputs to an assessment. The engine consumes
// these from a context feed; it never computes them itself.
type Context struct {
	Now           time.Time `json:"now"`            // Assessment time; zero means time.Now
	CrowdDensity  float64   `json:"crowd_density"`  // 0..1
	IncidentRate  float64   `json:"incident_rate"`  // Normalized historical rate 0..1
	Online        bool      `json:"online"`         // Primary channel availability
	SignalQuality int       `json:"signal_quality"` // 0..4
}

// Weights configures the contribution of each factor to the overall score.
// They are normalized by their sum, so only relative magnitude matters.
type Weights struct {
	Location            float64 `json:"location"`
	TimeOfDay           float64 `json:"time_of_day"`
	CrowdDensity        float64 `json:"crowd_density"`
	HistoricalIncidents float64 `json:"historical_incidents"`
	Connectivity        float64 `json:"connectivity"`
}

// DefaultWeights weighs location risk heaviest; the remaining factors share
// the rest evenly.
func DefaultWeights() Weights {
	return Weights{
		Location:            0.40,
		TimeOfDay:           0.15,
		CrowdDensity:        0.15,
		HistoricalIncidents: 0.15,
		Connectivity:        0.15,
	}
}

func (w Weights) sum() float64 {
	return w.Location + w.TimeOfDay + w.CrowdDensity + w.HistoricalIncidents + w.Connectivity
}

// Scorer combines factor sub-scores into safety assessments
type Scorer struct {
	weights Weights
}

// NewScorer creates a scorer with the given weights. Non-positive weight
// sums fall back to the defaults.
func NewScorer(w Weights) *Scorer {
	if w.sum() <= 0 {
		w = DefaultWeights()
	}
	return &Scorer{weights: w}
}

// Assess computes a fresh assessment from the zones currently containing the
// subject and the contextual inputs. Given identical inputs the result is
// identical.
func (s *Scorer) Assess(current []zones.Zone, ctx Context) Assessment {
	now := ctx.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	factors := []Factor{
		newFactor(FactorLocation, locationScore(current)),
		newFactor(FactorTimeOfDay, timeOfDayScore(now)),
		newFactor(FactorCrowdDensity, crowdDensityScore(ctx.CrowdDensity)),
		newFactor(FactorHistoricalIncidents, historicalScore(ctx.IncidentRate)),
		newFactor(FactorConnectivity, connectivityScore(ctx.Online, ctx.SignalQuality)),
	}

	w := s.weights
	weighted := float64(factors[0].Score)*w.Location +
		float64(factors[1].Score)*w.TimeOfDay +
		float64(factors[2].Score)*w.CrowdDensity +
		float64(factors[3].Score)*w.HistoricalIncidents +
		float64(factors[4].Score)*w.Connectivity

	score := clampScore(int(math.Round(weighted / w.sum())))

	return Assessment{
		Score:      score,
		Tier:       TierFor(score),
		Factors:    factors,
		ComputedAt: now,
	}
}

func newFactor(name string, score int) Factor {
	score = clampScore(score)
	return Factor{Name: name, Score: score, Tier: TierFor(score)}
}

// locationScore maps the aggregate severity of the containing zones to a
// sub-score.
func locationScore(current []zones.Zone) int {
	switch zones.AggregateSeverity(current) {
	case zones.SeverityHigh:
		return 30
	case zones.SeverityMedium:
		return 70
	default:
		return 93
	}
}

// timeOfDayScore reflects that daytime is safer than evening and night
func timeOfDayScore(now time.Time) int {
	hour := now.Hour()
	switch {
	case hour >= 6 && hour < 19:
		return 95
	case hour >= 19 && hour < 23:
		return 75
	default:
		return 55
	}
}

func crowdDensityScore(density float64) int {
	density = clampUnit(density)
	return int(math.Round(100 - 60*density))
}

func historicalScore(rate float64) int {
	rate = clampUnit(rate)
	return int(math.Round(95 - 55*rate))
}

func connectivityScore(online bool, signal int) int {
	if !online {
		return 40
	}
	if signal < 0 {
		signal = 0
	}
	if signal > 4 {
		signal = 4
	}
	return 60 + 10*signal
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
