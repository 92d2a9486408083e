package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perpsight/perpsight/internal/market"
)

// zigzag interpolates candles between turning points, step bars per leg.
func zigzag(points []float64, step int) []market.Candle {
	var vals []float64
	for i := 0; i < len(points)-1; i++ {
		a, b := points[i], points[i+1]
		for s := 0; s < step; s++ {
			vals = append(vals, a+(b-a)*float64(s)/float64(step))
		}
	}
	vals = append(vals, points[len(points)-1])

	candles := make([]market.Candle, len(vals))
	for i, v := range vals {
		candles[i] = market.Candle{
			OpenTime: int64(i) * 3_600_000,
			Open:     v,
			High:     v + 0.5,
			Low:      v - 0.5,
			Close:    v,
			Volume:   100,
		}
	}
	return candles
}

func TestAnalyzeStructureInsufficientCandles(t *testing.T) {
	result := AnalyzeStructure(zigzag([]float64{100, 105}, 10)[:10])

	assert.True(t, result.Unavailable)
	assert.Equal(t, TrendConsolidation, result.Trend)
	assert.NotEmpty(t, result.Reason)
}

func TestFindSwingsLocatesExtrema(t *testing.T) {
	// Single peak at index 3 and trough at index 6.
	candles := zigzag([]float64{1, 4, 1, 5}, 3)
	swings := FindSwings(candles, 2)

	require.Len(t, swings, 2)
	assert.Equal(t, SwingHigh, swings[0].Kind)
	assert.Equal(t, 3, swings[0].Index)
	assert.InDelta(t, 4.5, swings[0].Price, 1e-9)
	assert.Equal(t, SwingLow, swings[1].Kind)
	assert.Equal(t, 6, swings[1].Index)
	assert.InDelta(t, 0.5, swings[1].Price, 1e-9)
}

func TestFindSwingsTooFewCandles(t *testing.T) {
	candles := zigzag([]float64{1, 2, 1}, 5)
	assert.Nil(t, FindSwings(candles[:9], 5))
}

func TestFindSwingsFlatSeriesHasNone(t *testing.T) {
	flat := make([]market.Candle, 30)
	for i := range flat {
		flat[i] = market.Candle{OpenTime: int64(i), Open: 100, High: 100.5, Low: 99.5, Close: 100}
	}
	assert.Empty(t, FindSwings(flat, 5))
}

func TestAnalyzeStructureUptrend(t *testing.T) {
	// Higher highs and higher lows: 110 -> 115 peaks over 100 -> 105 troughs.
	candles := zigzag([]float64{103, 110, 100, 115, 105, 125}, 6)

	result := AnalyzeStructure(candles)

	require.False(t, result.Unavailable)
	assert.Equal(t, TrendBullishImpulse, result.Trend)
	assert.Equal(t, LeanBullish, result.Lean)
	assert.Greater(t, result.Score, 50.0)
	assert.LessOrEqual(t, result.Score, 95.0)
	require.NotNil(t, result.BOS)
	assert.Equal(t, LeanBullish, result.BOS.Type)
}

func TestAnalyzeStructureDowntrend(t *testing.T) {
	candles := zigzag([]float64{127, 120, 130, 115, 125, 105}, 6)

	result := AnalyzeStructure(candles)

	require.False(t, result.Unavailable)
	assert.Equal(t, TrendBearishImpulse, result.Trend)
	assert.Equal(t, LeanBearish, result.Lean)
	require.NotNil(t, result.BOS)
	assert.Equal(t, LeanBearish, result.BOS.Type)
	// The broken level is the most recent trough, not the first.
	assert.InDelta(t, 114.5, result.BOS.Price, 1e-9)
}

func TestClassifyTrend(t *testing.T) {
	high := func(p float64) Swing { return Swing{Kind: SwingHigh, Price: p} }
	low := func(p float64) Swing { return Swing{Kind: SwingLow, Price: p} }

	tests := []struct {
		name   string
		swings []Swing
		want   TrendState
	}{
		{"bullish impulse", []Swing{low(100), high(110), low(105), high(115)}, TrendBullishImpulse},
		{"bearish impulse", []Swing{high(115), low(105), high(110), low(100)}, TrendBearishImpulse},
		{"bullish correction", []Swing{low(100), high(115), low(105), high(110)}, TrendBullishCorrection},
		{"bearish correction", []Swing{high(115), low(105), high(110), low(105)}, TrendBearishCorrection},
		{"consolidation", []Swing{low(100), high(110), low(100), high(110)}, TrendConsolidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trend, _ := classifyTrend(tt.swings)
			assert.Equal(t, tt.want, trend)
		})
	}
}

func TestAnalyzeStructureDeterministic(t *testing.T) {
	candles := zigzag([]float64{103, 110, 100, 115, 105, 125}, 6)

	a := AnalyzeStructure(candles)
	b := AnalyzeStructure(candles)

	assert.Equal(t, a.Score, b.Score)
	assert.Equal(t, a.Trend, b.Trend)
	assert.Equal(t, a.Swings, b.Swings)
}
