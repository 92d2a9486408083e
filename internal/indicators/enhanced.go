package indicators

import (
	"fmt"
	"math"

	"github.com/cinar/indicator/v2/momentum"
	"github.com/rs/zerolog/log"

	"github.com/perpsight/perpsight/internal/market"
)

// ATR%-based volatility regimes.
type VolatilityRegime string

const (
	RegimeRanging VolatilityRegime = "ranging"
	RegimeNormal  VolatilityRegime = "normal"
	RegimeHigh    VolatilityRegime = "high"
	RegimeExtreme VolatilityRegime = "extreme"
)

// Liquidity tiers by 24h USD volume. Illiquid pairs are rejected outright.
// Unknown means no ticker was available, which degrades the check instead of
// rejecting the pair.
type LiquidityTier string

const (
	LiquidityUnknown  LiquidityTier = "unknown"
	LiquidityIlliquid LiquidityTier = "illiquid"
	LiquidityLow      LiquidityTier = "low"
	LiquidityMedium   LiquidityTier = "medium"
	LiquidityHigh     LiquidityTier = "high"
)

const (
	liquidityIlliquidMax = 1_000_000
	liquidityLowMax      = 10_000_000
	liquidityMediumMax   = 50_000_000
)

const (
	atrPeriod            = 14
	divergenceWindowBars = 20
)

// EnhancedAnalysis is the volatility/liquidity/divergence engine output.
type EnhancedAnalysis struct {
	Summary
	ATRPct      float64          `json:"atr_pct"`
	Regime      VolatilityRegime `json:"volatility_regime"`
	Tier        LiquidityTier    `json:"liquidity_tier"`
	Volume24h   float64          `json:"volume_24h_usd"`
	Divergences []string         `json:"divergences,omitempty"`
}

// Evidence returns a one-line summary for signal reasoning.
func (a *EnhancedAnalysis) Evidence() string {
	return fmt.Sprintf("ATR %.2f%% (%s regime), %s liquidity, %d divergences",
		a.ATRPct, a.Regime, a.Tier, len(a.Divergences))
}

// AnalyzeEnhanced runs the enhanced layer: ATR regime, liquidity tier and a
// divergence cross-check of price against RSI, CVD and OBV.
func AnalyzeEnhanced(candles []market.Candle, ticker *market.Ticker, cvd *CVDAnalysis) *EnhancedAnalysis {
	if len(candles) < atrPeriod+1 {
		return &EnhancedAnalysis{
			Summary: unavailable(fmt.Sprintf("need %d candles, got %d", atrPeriod+1, len(candles))),
			Regime:  RegimeNormal,
			Tier:    LiquidityLow,
		}
	}

	atrPct := atrPercent(candles, atrPeriod)
	regime := RegimeNormal
	switch {
	case atrPct < 0.8:
		regime = RegimeRanging
	case atrPct <= 1.5:
		regime = RegimeNormal
	case atrPct <= 2.5:
		regime = RegimeHigh
	default:
		regime = RegimeExtreme
	}

	volume := 0.0
	tier := LiquidityUnknown
	if ticker != nil {
		volume = ticker.Volume24h
		tier = LiquidityHigh
		switch {
		case volume < liquidityIlliquidMax:
			tier = LiquidityIlliquid
		case volume < liquidityLowMax:
			tier = LiquidityLow
		case volume < liquidityMediumMax:
			tier = LiquidityMedium
		}
	}

	divergences := crossDivergences(candles, cvd)

	// Divergences argue for reversal of the latest price leg.
	lean := LeanNeutral
	score := 50.0
	if len(divergences) > 0 {
		if candles[len(candles)-1].Close >= candles[0].Close {
			lean = LeanBearish
		} else {
			lean = LeanBullish
		}
		score = clamp(55+10*float64(len(divergences)), 55, 90)
	}
	if tier == LiquidityIlliquid {
		lean = LeanNeutral
		score = 0
	}

	log.Debug().
		Float64("atr_pct", atrPct).
		Str("regime", string(regime)).
		Str("tier", string(tier)).
		Strs("divergences", divergences).
		Msg("Enhanced layer analyzed")

	return &EnhancedAnalysis{
		Summary:     Summary{Score: score, Lean: lean}.Checked(),
		ATRPct:      atrPct,
		Regime:      regime,
		Tier:        tier,
		Volume24h:   volume,
		Divergences: divergences,
	}
}

// atrPercent computes Wilder-smoothed ATR as a percentage of the last close.
// ATR is not exposed through the channel API we use elsewhere, so it is
// computed directly.
func atrPercent(candles []market.Candle, period int) float64 {
	trs := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		hl := candles[i].High - candles[i].Low
		hc := math.Abs(candles[i].High - candles[i-1].Close)
		lc := math.Abs(candles[i].Low - candles[i-1].Close)
		trs = append(trs, math.Max(hl, math.Max(hc, lc)))
	}
	if len(trs) < period {
		return 0
	}

	var atr float64
	for _, tr := range trs[:period] {
		atr += tr
	}
	atr /= float64(period)
	for _, tr := range trs[period:] {
		atr = (atr*float64(period-1) + tr) / float64(period)
	}

	last := candles[len(candles)-1].Close
	if last <= 0 {
		return 0
	}
	return atr / last * 100
}

// obvSeries computes on-balance volume over the candle sequence.
func obvSeries(candles []market.Candle) []float64 {
	obv := make([]float64, len(candles))
	for i := 1; i < len(candles); i++ {
		switch {
		case candles[i].Close > candles[i-1].Close:
			obv[i] = obv[i-1] + candles[i].Volume
		case candles[i].Close < candles[i-1].Close:
			obv[i] = obv[i-1] - candles[i].Volume
		default:
			obv[i] = obv[i-1]
		}
	}
	return obv
}

// crossDivergences compares the price trend against RSI, CVD and OBV trends
// over the trailing window and reports each disagreement.
func crossDivergences(candles []market.Candle, cvd *CVDAnalysis) []string {
	n := len(candles)
	if n < divergenceWindowBars {
		return nil
	}
	window := candles[n-divergenceWindowBars:]

	closes := make([]float64, len(window))
	for i, c := range window {
		closes[i] = c.Close
	}
	priceUp := closes[len(closes)-1] > closes[0]

	var out []string

	rsiSeries := computeSeries(sanitize(closes), momentum.NewRsiWithPeriod[float64](rsiPeriod))
	if len(rsiSeries) >= 2 && (rsiSeries[len(rsiSeries)-1] > rsiSeries[0]) != priceUp {
		out = append(out, "price/rsi")
	}

	if cvd != nil && !cvd.Unavailable && len(cvd.Deltas) >= divergenceWindowBars {
		deltas := cvd.Deltas[len(cvd.Deltas)-divergenceWindowBars:]
		if (deltas[len(deltas)-1] > deltas[0]) != priceUp {
			out = append(out, "price/cvd")
		}
	}

	obv := obvSeries(window)
	if (obv[len(obv)-1] > obv[0]) != priceUp {
		out = append(out, "price/obv")
	}

	return out
}
