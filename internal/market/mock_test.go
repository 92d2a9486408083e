package market

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perpsight/perpsight/internal/pairs"
)

func TestMockGatewayDeterministic(t *testing.T) {
	ctx := context.Background()

	a, err := NewMockGateway().Candles(ctx, "BTC", pairs.TF1h, 50)
	require.NoError(t, err)
	b, err := NewMockGateway().Candles(ctx, "BTC", pairs.TF1h, 50)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	require.Len(t, a, 50)
	for _, c := range a {
		assert.GreaterOrEqual(t, c.High, c.Low)
		assert.Positive(t, c.Volume)
	}
}

func TestMockGatewayPairsDiffer(t *testing.T) {
	ctx := context.Background()
	g := NewMockGateway()

	btc, err := g.Ticker(ctx, "BTC")
	require.NoError(t, err)
	eth, err := g.Ticker(ctx, "ETH")
	require.NoError(t, err)

	assert.NotEqual(t, btc.Price, eth.Price)
}

func TestMockGatewayForcedFailures(t *testing.T) {
	ctx := context.Background()
	g := NewMockGateway()
	boom := errors.New("synthetic outage")

	g.FailWith("candles", boom)
	_, err := g.Candles(ctx, "BTC", pairs.TF1h, 10)
	assert.ErrorIs(t, err, boom)

	// Other calls are unaffected.
	_, err = g.Ticker(ctx, "BTC")
	assert.NoError(t, err)

	g.ClearFailures()
	_, err = g.Candles(ctx, "BTC", pairs.TF1h, 10)
	assert.NoError(t, err)
}

func TestMockGatewayCandlesetOverride(t *testing.T) {
	ctx := context.Background()
	g := NewMockGateway()
	preset := []Candle{{OpenTime: 1, Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 10}}
	g.Candleset[pairs.Normalize("BTC")] = preset

	got, err := g.Candles(ctx, "BTC", pairs.TF1h, 500)
	require.NoError(t, err)
	assert.Equal(t, preset, got)

	// The override returns a copy, not the shared slice.
	got[0].Close = 0
	assert.Equal(t, 100.5, g.Candleset[pairs.Normalize("BTC")][0].Close)
}

func TestMockGatewayTrendOverride(t *testing.T) {
	ctx := context.Background()
	g := NewMockGateway()
	g.Trend[pairs.Normalize("BTC")] = 0.01

	candles, err := g.Candles(ctx, "BTC", pairs.TF1h, 100)
	require.NoError(t, err)
	assert.Greater(t, candles[len(candles)-1].Close, candles[0].Close)
}

func TestMockGatewayVolumeOverride(t *testing.T) {
	ctx := context.Background()
	g := NewMockGateway()
	g.Volume24h[pairs.Normalize("BTC")] = 123_456

	ticker, err := g.Ticker(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, 123_456.0, ticker.Volume24h)
}

func TestMockGatewayMultiExchangeTicker(t *testing.T) {
	g := NewMockGateway()

	multi, err := g.MultiExchangeTicker(context.Background(), "BTC")
	require.NoError(t, err)
	require.Len(t, multi.Tickers, 3)
	assert.False(t, multi.Degradation.Degraded)
	assert.Equal(t, "healthy", multi.Degradation.HealthStatus)
}

func TestMockGatewayHealth(t *testing.T) {
	g := NewMockGateway()
	assert.NoError(t, g.Health(context.Background()))

	g.FailWith("health", errors.New("down"))
	assert.Error(t, g.Health(context.Background()))
}

func TestMockGatewayCandlesRespectsContext(t *testing.T) {
	g := NewMockGateway()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Candles(ctx, "BTC", pairs.TF1h, 10)
	assert.ErrorIs(t, err, context.Canceled)
}
