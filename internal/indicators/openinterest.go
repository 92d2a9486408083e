package indicators

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/perpsight/perpsight/internal/market"
)

// Institutional presence tiers by absolute open interest in USD.
const (
	oiLightMaxUSD    = 200_000_000
	oiModerateMaxUSD = 500_000_000
	oiSignificantMax = 1_000_000_000
)

// Leverage ratios used to derive theoretical liquidation clusters.
var liquidationLeverages = []float64{2, 3, 5, 10, 20, 25, 50, 100}

// Liquidation cluster volume tiers (USD).
const (
	clusterMajorUSD    = 50_000
	clusterCriticalUSD = 100_000
)

// InstitutionalPresence tiers absolute open interest.
type InstitutionalPresence string

const (
	PresenceLight       InstitutionalPresence = "light"
	PresenceModerate    InstitutionalPresence = "moderate"
	PresenceSignificant InstitutionalPresence = "significant"
	PresenceDominant    InstitutionalPresence = "dominant"
)

// ClusterTier grades a liquidation cluster by aggregated volume.
type ClusterTier string

const (
	TierMinor    ClusterTier = "minor"
	TierMajor    ClusterTier = "major"
	TierCritical ClusterTier = "critical"
)

// LiquidationCluster is a theoretical liquidation level at a standard leverage.
type LiquidationCluster struct {
	Side     string      `json:"side"` // long or short
	Leverage float64     `json:"leverage"`
	Price    float64     `json:"price"`
	Volume   float64     `json:"volume_usd"`
	Tier     ClusterTier `json:"tier"`
}

// OIAnalysis is the open-interest pressure engine output.
type OIAnalysis struct {
	Summary
	Change24hPct  float64               `json:"oi_change_24h_pct"`
	Turnover      float64               `json:"oi_turnover"`
	PressureRatio float64               `json:"oi_pressure_ratio"`
	Presence      InstitutionalPresence `json:"institutional_presence"`
	Clusters      []LiquidationCluster  `json:"liquidation_clusters,omitempty"`
}

// Evidence returns a one-line summary for signal reasoning.
func (a *OIAnalysis) Evidence() string {
	return fmt.Sprintf("OI %+.1f%% 24h, pressure %+.1f%%, %s presence",
		a.Change24hPct, a.PressureRatio, a.Presence)
}

// CriticalClusterWithin reports whether a critical liquidation cluster sits
// within pct of the mark price.
func (a *OIAnalysis) CriticalClusterWithin(mark, pct float64) bool {
	if mark <= 0 {
		return false
	}
	for _, c := range a.Clusters {
		if c.Tier != TierCritical {
			continue
		}
		if dist := (c.Price - mark) / mark; dist >= -pct && dist <= pct {
			return true
		}
	}
	return false
}

// AnalyzeOpenInterest runs the OI engine over the current snapshot, the
// rolling history window, and the ticker (for turnover and mark price).
func AnalyzeOpenInterest(current *market.OpenInterest, history []market.OpenInterest, ticker *market.Ticker) *OIAnalysis {
	if current == nil || current.USD <= 0 {
		return &OIAnalysis{Summary: unavailable("no open interest snapshot"), Presence: PresenceLight}
	}

	change24h := 0.0
	pressure := 0.0
	if len(history) > 0 {
		oldest := history[0]
		if oldest.USD > 0 {
			change24h = (current.USD - oldest.USD) / oldest.USD * 100
		}
		var sum float64
		for _, h := range history {
			sum += h.USD
		}
		if avg := sum / float64(len(history)); avg > 0 {
			pressure = (current.USD - avg) / avg * 100
		}
	}

	turnover := 0.0
	mark := 0.0
	if ticker != nil {
		mark = ticker.Price
		if current.USD > 0 {
			turnover = ticker.Volume24h / current.USD
		}
	}

	presence := PresenceLight
	switch {
	case current.USD >= oiSignificantMax:
		presence = PresenceDominant
	case current.USD >= oiModerateMaxUSD:
		presence = PresenceSignificant
	case current.USD >= oiLightMaxUSD:
		presence = PresenceModerate
	}

	clusters := liquidationClusters(mark, current.USD)

	// Rising OI amplifies whatever direction price is moving; the directional
	// read comes from 24h change sign combined with pressure.
	lean := LeanNeutral
	score := 50.0
	switch {
	case change24h > 2 && pressure > 0:
		lean = LeanBullish
		score = clamp(50+change24h+pressure/2, 50, 90)
	case change24h < -2 && pressure < 0:
		lean = LeanBearish
		score = clamp(50-change24h-pressure/2, 50, 90)
	}

	log.Debug().
		Float64("oi_usd", current.USD).
		Float64("change_24h", change24h).
		Float64("pressure", pressure).
		Str("presence", string(presence)).
		Msg("Open interest analyzed")

	return &OIAnalysis{
		Summary:       Summary{Score: score, Lean: lean}.Checked(),
		Change24hPct:  change24h,
		Turnover:      turnover,
		PressureRatio: pressure,
		Presence:      presence,
		Clusters:      clusters,
	}
}

// liquidationClusters derives theoretical long and short liquidation levels
// at standard leverage ratios: longs at mark*(1-0.95/lev), shorts symmetric.
// Cluster volume assumes open interest distributes inversely with leverage.
func liquidationClusters(mark, oiUSD float64) []LiquidationCluster {
	if mark <= 0 || oiUSD <= 0 {
		return nil
	}

	var weightSum float64
	for _, lev := range liquidationLeverages {
		weightSum += 1 / lev
	}

	clusters := make([]LiquidationCluster, 0, 2*len(liquidationLeverages))
	for _, lev := range liquidationLeverages {
		// Half the book long, half short; volume share decays with leverage.
		volume := oiUSD / 2 * (1 / lev) / weightSum
		tier := TierMinor
		switch {
		case volume >= clusterCriticalUSD:
			tier = TierCritical
		case volume >= clusterMajorUSD:
			tier = TierMajor
		}
		clusters = append(clusters,
			LiquidationCluster{Side: "long", Leverage: lev, Price: mark * (1 - 0.95/lev), Volume: volume, Tier: tier},
			LiquidationCluster{Side: "short", Leverage: lev, Price: mark * (1 + 0.95/lev), Volume: volume, Tier: tier},
		)
	}
	return clusters
}
