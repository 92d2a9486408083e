package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perpsight/perpsight/internal/market"
)

func ramp(n int, start, step float64) []market.Candle {
	candles := make([]market.Candle, n)
	for i := range candles {
		v := start + float64(i)*step
		candles[i] = market.Candle{
			OpenTime: int64(i) * 3_600_000,
			Open:     v, High: v + 0.5, Low: v - 0.5, Close: v,
			Volume: 100,
		}
	}
	return candles
}

func TestAnalyzeMomentumInsufficientCandles(t *testing.T) {
	result := AnalyzeMomentum(ramp(30, 100, 1))

	assert.True(t, result.Unavailable)
	assert.NotEmpty(t, result.Reason)
}

func TestAnalyzeMomentumUptrend(t *testing.T) {
	result := AnalyzeMomentum(ramp(60, 100, 1))

	require.False(t, result.Unavailable)
	// A relentless ramp: overbought RSI argues down, EMA stack and MACD
	// argue up, price stays inside the bands.
	assert.Equal(t, LeanBearish, result.Votes["rsi"])
	assert.Equal(t, LeanBullish, result.Votes["ema"])
	assert.Equal(t, LeanBullish, result.Votes["macd"])
	assert.Equal(t, LeanBullish, result.Lean)

	assert.Greater(t, result.RSI, 70.0)
	assert.Greater(t, result.MACD, result.MACDSignal)
	assert.Greater(t, result.EMA[12], result.EMA[26])
	assert.GreaterOrEqual(t, result.Score, 0.0)
	assert.LessOrEqual(t, result.Score, 95.0)
}

func TestAnalyzeMomentumDowntrend(t *testing.T) {
	result := AnalyzeMomentum(ramp(60, 200, -1))

	require.False(t, result.Unavailable)
	assert.Equal(t, LeanBearish, result.Lean)
	assert.Less(t, result.RSI, 30.0)
	assert.Less(t, result.MACD, result.MACDSignal)
}

func TestAnalyzeMomentumBollingerBands(t *testing.T) {
	result := AnalyzeMomentum(ramp(60, 100, 1))

	require.False(t, result.Unavailable)
	assert.Greater(t, result.BollingerUpper, result.BollingerMid)
	assert.Greater(t, result.BollingerMid, result.BollingerLower)
}

func TestMajority(t *testing.T) {
	tests := []struct {
		name   string
		votes  map[string]Lean
		want   Lean
		margin int
	}{
		{"empty", map[string]Lean{}, LeanNeutral, 0},
		{"all neutral", map[string]Lean{"a": LeanNeutral, "b": LeanNeutral}, LeanNeutral, 0},
		{"bulls win", map[string]Lean{"a": LeanBullish, "b": LeanBullish, "c": LeanBearish}, LeanBullish, 1},
		{"bears win", map[string]Lean{"a": LeanBearish, "b": LeanBearish, "c": LeanNeutral}, LeanBearish, 2},
		{"tie", map[string]Lean{"a": LeanBullish, "b": LeanBearish}, LeanNeutral, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lean, margin := majority(tt.votes)
			assert.Equal(t, tt.want, lean)
			assert.Equal(t, tt.margin, margin)
		})
	}
}

func TestRSIDistance(t *testing.T) {
	assert.Equal(t, 0.0, rsiDistance(50))
	assert.Equal(t, 30.0, rsiDistance(80))
	assert.Equal(t, 30.0, rsiDistance(20))
}

func TestChannelPlumbing(t *testing.T) {
	values := []float64{1, 2, 3}
	assert.Equal(t, values, chanToSlice(sliceToChan(values)))
	assert.Equal(t, 3.0, lastOf(values))
	assert.Equal(t, 0.0, lastOf(nil))
}
