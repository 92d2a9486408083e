package pairs

import (
	"fmt"
	"strings"
)

// Timeframe is a normalized candle interval identifier.
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF30m Timeframe = "30m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
)

// timeframeIntervals maps each supported timeframe to its candle interval in milliseconds.
var timeframeIntervals = map[Timeframe]int64{
	TF1m:  60_000,
	TF5m:  300_000,
	TF15m: 900_000,
	TF30m: 1_800_000,
	TF1h:  3_600_000,
	TF4h:  14_400_000,
	TF1d:  86_400_000,
}

// ParseTimeframe normalizes and validates a timeframe string.
// Input is case-insensitive; the canonical form is lowercase.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := timeframeIntervals[tf]; !ok {
		return "", fmt.Errorf("unsupported timeframe: %q", s)
	}
	return tf, nil
}

// IntervalMs returns the candle interval for the timeframe in milliseconds.
func (tf Timeframe) IntervalMs() int64 {
	return timeframeIntervals[tf]
}

// Timeframes returns the closed set of supported timeframes, shortest first.
func Timeframes() []Timeframe {
	return []Timeframe{TF1m, TF5m, TF15m, TF30m, TF1h, TF4h, TF1d}
}

// universe is the closed set of recognized perpetual-swap base assets.
// Anything outside this set is rejected at the validation boundary.
var universe = []string{
	"BTC", "ETH", "SOL", "XRP", "BNB", "DOGE", "ADA", "AVAX", "LINK", "DOT",
	"TON", "TRX", "POL", "LTC", "BCH", "NEAR", "UNI", "APT", "ARB", "OP",
	"FIL", "ATOM", "ICP", "INJ", "SUI", "SEI", "TIA", "STX", "IMX", "HBAR",
	"VET", "RNDR", "GRT", "AAVE", "MKR", "ALGO", "FTM", "THETA", "EOS", "SAND",
	"MANA", "AXS", "GALA", "CHZ", "CRV", "LDO", "SNX", "COMP", "DYDX", "GMX",
	"PEPE", "SHIB", "WIF", "BONK", "FLOKI", "ORDI", "JUP", "PYTH", "WLD", "ENS",
	"ETC", "XLM", "DASH", "ZEC", "NEO",
}

var universeSet = func() map[string]struct{} {
	set := make(map[string]struct{}, len(universe))
	for _, p := range universe {
		set[p] = struct{}{}
	}
	return set
}()

// Normalize uppercases and trims a pair identifier.
func Normalize(pair string) string {
	return strings.ToUpper(strings.TrimSpace(pair))
}

// IsKnown reports whether the normalized pair belongs to the recognized universe.
func IsKnown(pair string) bool {
	_, ok := universeSet[Normalize(pair)]
	return ok
}

// Universe returns a copy of the recognized pair set.
func Universe() []string {
	out := make([]string, len(universe))
	copy(out, universe)
	return out
}

// SwapSymbol derives the provider-qualified perpetual symbol (BTC -> BTC-USDT-SWAP).
func SwapSymbol(pair string) string {
	return Normalize(pair) + "-USDT-SWAP"
}

// SpotSymbol derives the USDT-margined contract symbol used by the primary
// exchange client (BTC -> BTCUSDT).
func SpotSymbol(pair string) string {
	return Normalize(pair) + "USDT"
}
