package indicators

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perpsight/perpsight/internal/market"
)

func TestAnalyzeOpenInterestUnavailable(t *testing.T) {
	tests := []struct {
		name    string
		current *market.OpenInterest
	}{
		{"nil snapshot", nil},
		{"zero usd", &market.OpenInterest{Base: 100, USD: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := AnalyzeOpenInterest(tt.current, nil, nil)
			assert.True(t, result.Unavailable)
			assert.Equal(t, PresenceLight, result.Presence)
		})
	}
}

func TestAnalyzeOpenInterestPresenceTiers(t *testing.T) {
	tests := []struct {
		usd  float64
		want InstitutionalPresence
	}{
		{100_000_000, PresenceLight},
		{200_000_000, PresenceModerate},
		{500_000_000, PresenceSignificant},
		{2_000_000_000, PresenceDominant},
	}
	for _, tt := range tests {
		result := AnalyzeOpenInterest(&market.OpenInterest{USD: tt.usd}, nil, nil)
		assert.Equal(t, tt.want, result.Presence, "usd %.0f", tt.usd)
	}
}

func TestAnalyzeOpenInterestRisingBullish(t *testing.T) {
	history := []market.OpenInterest{{USD: 100_000_000}, {USD: 100_000_000}}
	current := &market.OpenInterest{USD: 120_000_000}

	result := AnalyzeOpenInterest(current, history, nil)

	require.False(t, result.Unavailable)
	assert.InDelta(t, 20, result.Change24hPct, 1e-9)
	assert.InDelta(t, 20, result.PressureRatio, 1e-9)
	assert.Equal(t, LeanBullish, result.Lean)
	// 50 + change + pressure/2.
	assert.InDelta(t, 80, result.Score, 1e-9)
}

func TestAnalyzeOpenInterestFallingBearish(t *testing.T) {
	history := []market.OpenInterest{{USD: 100_000_000}, {USD: 100_000_000}}
	current := &market.OpenInterest{USD: 80_000_000}

	result := AnalyzeOpenInterest(current, history, nil)

	assert.InDelta(t, -20, result.Change24hPct, 1e-9)
	assert.Equal(t, LeanBearish, result.Lean)
	assert.InDelta(t, 80, result.Score, 1e-9)
}

func TestAnalyzeOpenInterestFlatNeutral(t *testing.T) {
	history := []market.OpenInterest{{USD: 100_000_000}}
	current := &market.OpenInterest{USD: 101_000_000}

	result := AnalyzeOpenInterest(current, history, nil)

	assert.Equal(t, LeanNeutral, result.Lean)
	assert.InDelta(t, 50, result.Score, 1e-9)
}

func TestAnalyzeOpenInterestTurnover(t *testing.T) {
	current := &market.OpenInterest{USD: 100_000_000}
	ticker := &market.Ticker{Price: 100, Volume24h: 50_000_000}

	result := AnalyzeOpenInterest(current, nil, ticker)
	assert.InDelta(t, 0.5, result.Turnover, 1e-9)
}

func TestLiquidationClusters(t *testing.T) {
	clusters := liquidationClusters(100, 1_000_000)
	require.Len(t, clusters, 2*len(liquidationLeverages))

	byKey := make(map[string]LiquidationCluster)
	for _, c := range clusters {
		byKey[fmt.Sprintf("%s@%g", c.Side, c.Leverage)] = c
	}

	// Longs at mark*(1-0.95/lev), shorts mirrored above.
	long2 := byKey["long@2"]
	assert.InDelta(t, 52.5, long2.Price, 1e-9)
	assert.Equal(t, TierCritical, long2.Tier)

	short2 := byKey["short@2"]
	assert.InDelta(t, 147.5, short2.Price, 1e-9)

	long100 := byKey["long@100"]
	assert.InDelta(t, 99.05, long100.Price, 1e-9)
	assert.Equal(t, TierMinor, long100.Tier)

	// High leverage concentrates less volume than low leverage.
	assert.Greater(t, long2.Volume, long100.Volume)
}

func TestLiquidationClustersNoMark(t *testing.T) {
	assert.Nil(t, liquidationClusters(0, 1_000_000))
	assert.Nil(t, liquidationClusters(100, 0))
}

func TestCriticalClusterWithin(t *testing.T) {
	analysis := &OIAnalysis{Clusters: []LiquidationCluster{
		{Side: "long", Leverage: 100, Price: 99, Volume: 150_000, Tier: TierCritical},
		{Side: "short", Leverage: 100, Price: 101, Volume: 30_000, Tier: TierMinor},
	}}

	assert.True(t, analysis.CriticalClusterWithin(100, 0.02))
	assert.False(t, analysis.CriticalClusterWithin(100, 0.005))
	assert.False(t, analysis.CriticalClusterWithin(0, 0.02))

	minorOnly := &OIAnalysis{Clusters: []LiquidationCluster{
		{Price: 100, Volume: 10_000, Tier: TierMinor},
	}}
	assert.False(t, minorOnly.CriticalClusterWithin(100, 0.05))
}
