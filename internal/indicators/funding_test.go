package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/perpsight/perpsight/internal/market"
)

func TestAnalyzeFundingUnavailable(t *testing.T) {
	result := AnalyzeFunding(nil, nil, nil)

	assert.True(t, result.Unavailable)
	assert.Equal(t, RegimeNeutralFunding, result.Regime)
}

func TestAnalyzeFundingNeutral(t *testing.T) {
	result := AnalyzeFunding(&market.FundingRate{Rate: 0.0001}, nil, nil)

	assert.False(t, result.Extreme)
	assert.Equal(t, RegimeNeutralFunding, result.Regime)
	assert.Equal(t, LeanNeutral, result.Lean)
	assert.InDelta(t, 50, result.Score, 1e-9)
}

func TestAnalyzeFundingCrowdedLongs(t *testing.T) {
	// 0.06% funding: longs pay heavily, reversal bias is short.
	result := AnalyzeFunding(&market.FundingRate{Rate: 0.0006}, nil, nil)

	assert.True(t, result.Extreme)
	assert.Equal(t, RegimeCrowdedLongs, result.Regime)
	assert.Equal(t, LeanBearish, result.Lean)
	assert.InDelta(t, 80, result.Score, 1e-9)
}

func TestAnalyzeFundingCrowdedShorts(t *testing.T) {
	result := AnalyzeFunding(&market.FundingRate{Rate: -0.0006}, nil, nil)

	assert.True(t, result.Extreme)
	assert.Equal(t, RegimeCrowdedShorts, result.Regime)
	assert.Equal(t, LeanBullish, result.Lean)
	assert.InDelta(t, 80, result.Score, 1e-9)
}

func TestFundingOICorrelation(t *testing.T) {
	funding := []market.FundingRate{{Rate: 0.0001}, {Rate: 0.0002}, {Rate: 0.0003}, {Rate: 0.0004}}
	rising := []market.OpenInterest{{USD: 1e8}, {USD: 2e8}, {USD: 3e8}, {USD: 4e8}}
	falling := []market.OpenInterest{{USD: 4e8}, {USD: 3e8}, {USD: 2e8}, {USD: 1e8}}

	assert.InDelta(t, 1.0, fundingOICorrelation(funding, rising), 1e-9)
	assert.InDelta(t, -1.0, fundingOICorrelation(funding, falling), 1e-9)

	// Fewer than three aligned samples yields no correlation.
	assert.Zero(t, fundingOICorrelation(funding[:2], rising))
}

func TestPearsonZeroVariance(t *testing.T) {
	assert.Zero(t, pearson([]float64{1, 1, 1}, []float64{1, 2, 3}))
	assert.Zero(t, pearson(nil, nil))
}
