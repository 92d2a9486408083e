package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perpsight/perpsight/internal/market"
)

// rangeCandles builds flat-price candles with a fixed high-low span.
func rangeCandles(n int, price, span float64) []market.Candle {
	candles := make([]market.Candle, n)
	for i := range candles {
		candles[i] = market.Candle{
			OpenTime: int64(i) * 3_600_000,
			Open:     price,
			High:     price + span/2,
			Low:      price - span/2,
			Close:    price,
			Volume:   100,
		}
	}
	return candles
}

func TestAnalyzeEnhancedInsufficientCandles(t *testing.T) {
	result := AnalyzeEnhanced(rangeCandles(10, 100, 1), nil, nil)

	assert.True(t, result.Unavailable)
	assert.Equal(t, RegimeNormal, result.Regime)
}

func TestAnalyzeEnhancedVolatilityRegimes(t *testing.T) {
	tests := []struct {
		span float64
		want VolatilityRegime
	}{
		{0.5, RegimeRanging}, // 0.5% ATR
		{1.0, RegimeNormal},
		{2.0, RegimeHigh},
		{4.0, RegimeExtreme},
	}
	ticker := &market.Ticker{Volume24h: 100_000_000}
	for _, tt := range tests {
		result := AnalyzeEnhanced(rangeCandles(30, 100, tt.span), ticker, nil)
		assert.Equal(t, tt.want, result.Regime, "span %.1f", tt.span)
		assert.InDelta(t, tt.span, result.ATRPct, 1e-9)
	}
}

func TestAnalyzeEnhancedLiquidityTiers(t *testing.T) {
	tests := []struct {
		volume float64
		want   LiquidityTier
	}{
		{500_000, LiquidityIlliquid},
		{5_000_000, LiquidityLow},
		{30_000_000, LiquidityMedium},
		{100_000_000, LiquidityHigh},
	}
	for _, tt := range tests {
		result := AnalyzeEnhanced(rangeCandles(30, 100, 1), &market.Ticker{Volume24h: tt.volume}, nil)
		assert.Equal(t, tt.want, result.Tier, "volume %.0f", tt.volume)
	}
}

func TestAnalyzeEnhancedNilTickerUnknownLiquidity(t *testing.T) {
	// No ticker means the volume is unknown, not zero. The tier must not
	// collapse to illiquid or the pair gets rejected on a transient outage.
	result := AnalyzeEnhanced(rangeCandles(30, 100, 1), nil, nil)

	assert.Equal(t, LiquidityUnknown, result.Tier)
	assert.Zero(t, result.Volume24h)
	assert.Equal(t, LeanNeutral, result.Lean)
	assert.InDelta(t, 50.0, result.Score, 1e-9)
}

func TestCrossDivergencesPriceOBV(t *testing.T) {
	// Price grinds up on thin volume and dumps on heavy volume: OBV falls
	// while price rises.
	candles := make([]market.Candle, divergenceWindowBars)
	price := 100.0
	for i := range candles {
		volume := 1.0
		if i%3 == 2 {
			price -= 1
			volume = 10
		} else {
			price += 2
		}
		candles[i] = market.Candle{
			Open: price, Close: price,
			High: price + 0.5, Low: price - 0.5,
			Volume: volume,
		}
	}

	divs := crossDivergences(candles, nil)
	assert.Contains(t, divs, "price/obv")
}

func TestCrossDivergencesPriceCVD(t *testing.T) {
	candles := ramp(divergenceWindowBars, 100, 1)
	deltas := make([]float64, divergenceWindowBars)
	for i := range deltas {
		deltas[i] = -float64(i) // delta falls while price rises
	}
	cvd := &CVDAnalysis{Deltas: deltas}

	divs := crossDivergences(candles, cvd)
	assert.Contains(t, divs, "price/cvd")
}

func TestCrossDivergencesShortWindow(t *testing.T) {
	assert.Nil(t, crossDivergences(rangeCandles(10, 100, 1), nil))
}

func TestAnalyzeEnhancedDivergenceLean(t *testing.T) {
	candles := ramp(30, 100, 1)
	deltas := make([]float64, 30)
	for i := range deltas {
		deltas[i] = -float64(i)
	}
	result := AnalyzeEnhanced(candles, &market.Ticker{Volume24h: 100_000_000}, &CVDAnalysis{Deltas: deltas})

	// Price leg is up, so divergences argue for a bearish reversal.
	require.NotEmpty(t, result.Divergences)
	assert.Equal(t, LeanBearish, result.Lean)
	assert.Greater(t, result.Score, 50.0)
}

func TestATRPercent(t *testing.T) {
	assert.InDelta(t, 2.0, atrPercent(rangeCandles(30, 100, 2), atrPeriod), 1e-9)
	assert.Zero(t, atrPercent(rangeCandles(5, 100, 2), atrPeriod))
}

func TestOBVSeries(t *testing.T) {
	candles := []market.Candle{
		{Close: 100, Volume: 10},
		{Close: 101, Volume: 10}, // up: +10
		{Close: 100, Volume: 5},  // down: -5
		{Close: 100, Volume: 7},  // flat: unchanged
	}

	obv := obvSeries(candles)
	assert.Equal(t, []float64{0, 10, 5, 5}, obv)
}
