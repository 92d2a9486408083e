package pairs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeframe(t *testing.T) {
	tests := []struct {
		input   string
		want    Timeframe
		wantErr bool
	}{
		{"1h", TF1h, false},
		{"4H", TF4h, false},
		{" 1d ", TF1d, false},
		{"2h", "", true},
		{"", "", true},
		{"daily", "", true},
	}
	for _, tt := range tests {
		tf, err := ParseTimeframe(tt.input)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.input)
			continue
		}
		require.NoError(t, err, "input %q", tt.input)
		assert.Equal(t, tt.want, tf)
	}
}

func TestIntervalMs(t *testing.T) {
	assert.Equal(t, int64(60_000), TF1m.IntervalMs())
	assert.Equal(t, int64(3_600_000), TF1h.IntervalMs())
	assert.Equal(t, int64(86_400_000), TF1d.IntervalMs())
}

func TestTimeframesOrdered(t *testing.T) {
	tfs := Timeframes()
	require.NotEmpty(t, tfs)
	for i := 1; i < len(tfs); i++ {
		assert.Less(t, tfs[i-1].IntervalMs(), tfs[i].IntervalMs())
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "BTC", Normalize(" btc "))
	assert.Equal(t, "ETH", Normalize("ETH"))
}

func TestIsKnown(t *testing.T) {
	assert.True(t, IsKnown("BTC"))
	assert.True(t, IsKnown("btc"))
	assert.True(t, IsKnown(" sol "))
	assert.False(t, IsKnown("NOTACOIN"))
	assert.False(t, IsKnown(""))
}

func TestUniverseCopy(t *testing.T) {
	u := Universe()
	require.GreaterOrEqual(t, len(u), 60)

	u[0] = "HACKED"
	assert.True(t, IsKnown(Universe()[0]))
}

func TestSymbols(t *testing.T) {
	assert.Equal(t, "BTC-USDT-SWAP", SwapSymbol("btc"))
	assert.Equal(t, "BTCUSDT", SpotSymbol(" btc"))
}
