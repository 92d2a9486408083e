package indicators

import (
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/perpsight/perpsight/internal/market"
	"github.com/perpsight/perpsight/internal/pairs"
)

// Window for price/CVD divergence detection.
const cvdDivergenceBars = 20

// DominantSide labels the winning side of the volume delta.
type DominantSide string

const (
	DominantBuyers  DominantSide = "buyers"
	DominantSellers DominantSide = "sellers"
	DominantNeutral DominantSide = "neutral"
)

// CVDDivergence classifies a price/delta disagreement.
type CVDDivergence string

const (
	DivergenceNone          CVDDivergence = "none"
	DivergenceBullish       CVDDivergence = "bullish"
	DivergenceBearish       CVDDivergence = "bearish"
	DivergenceHiddenBullish CVDDivergence = "hidden_bullish"
	DivergenceHiddenBearish CVDDivergence = "hidden_bearish"
)

// CVDAnalysis is the cumulative-volume-delta engine output.
type CVDAnalysis struct {
	Summary
	Cumulative      float64       `json:"cumulative_delta"`
	DominantSide    DominantSide  `json:"dominant_side"`
	AggressionRatio float64       `json:"aggression_ratio"`
	Divergence      CVDDivergence `json:"divergence"`
	Estimated       bool          `json:"estimated"` // true when derived from candle bodies
	Deltas          []float64     `json:"-"`
}

// Evidence returns a one-line summary for signal reasoning.
func (a *CVDAnalysis) Evidence() string {
	source := "trade flow"
	if a.Estimated {
		source = "candle estimate"
	}
	return fmt.Sprintf("%s dominant (aggression %.2f, %s), divergence=%s",
		a.DominantSide, a.AggressionRatio, source, a.Divergence)
}

// AnalyzeCVD runs the CVD engine. Trades may be nil; the engine then
// estimates buy share from candle body position.
func AnalyzeCVD(candles []market.Candle, trades []market.Trade, tf pairs.Timeframe) *CVDAnalysis {
	if len(candles) == 0 {
		return &CVDAnalysis{
			Summary:      unavailable("no candles"),
			DominantSide: DominantNeutral,
			Divergence:   DivergenceNone,
		}
	}

	var buys, sells []float64
	estimated := len(trades) == 0
	if estimated {
		buys, sells = estimateVolumes(candles)
	} else {
		buys, sells = bucketTrades(candles, trades, tf)
	}

	deltas := make([]float64, len(candles))
	var totalBuy, totalSell, cumulative float64
	for i := range candles {
		delta := buys[i] - sells[i]
		cumulative += delta
		deltas[i] = cumulative
		totalBuy += buys[i]
		totalSell += sells[i]
	}

	dominant := DominantNeutral
	aggression := 0.5
	if total := totalBuy + totalSell; total > 0 {
		aggression = totalBuy / total
		switch {
		case aggression > 0.55:
			dominant = DominantBuyers
		case aggression < 0.45:
			dominant = DominantSellers
		}
	}

	divergence := detectCVDDivergence(candles, deltas)

	lean := LeanNeutral
	score := 50.0
	switch dominant {
	case DominantBuyers:
		lean = LeanBullish
		score = clamp(50+(aggression-0.5)*200, 50, 90)
	case DominantSellers:
		lean = LeanBearish
		score = clamp(50+(0.5-aggression)*200, 50, 90)
	}

	// A regular divergence argues against the dominant side.
	switch divergence {
	case DivergenceBullish:
		lean = LeanBullish
		score = clamp(score+10, 0, 95)
	case DivergenceBearish:
		lean = LeanBearish
		score = clamp(score+10, 0, 95)
	case DivergenceHiddenBullish, DivergenceHiddenBearish:
		score = clamp(score+5, 0, 95)
	}

	log.Debug().
		Str("dominant", string(dominant)).
		Float64("aggression", aggression).
		Str("divergence", string(divergence)).
		Bool("estimated", estimated).
		Msg("CVD analyzed")

	return &CVDAnalysis{
		Summary:         Summary{Score: score, Lean: lean}.Checked(),
		Cumulative:      cumulative,
		DominantSide:    dominant,
		AggressionRatio: clamp(aggression, 0, 1),
		Divergence:      divergence,
		Estimated:       estimated,
		Deltas:          deltas,
	}
}

// estimateVolumes derives per-bar buy/sell volume from candle body position:
// buy_ratio = clamp((close-low)/max(high-low, eps), 0.1, 0.9).
func estimateVolumes(candles []market.Candle) (buys, sells []float64) {
	const eps = 1e-9
	buys = make([]float64, len(candles))
	sells = make([]float64, len(candles))
	for i, c := range candles {
		span := c.High - c.Low
		if span < eps {
			span = eps
		}
		ratio := clamp((c.Close-c.Low)/span, 0.1, 0.9)
		buys[i] = c.Volume * ratio
		sells[i] = c.Volume * (1 - ratio)
	}
	return buys, sells
}

// bucketTrades segments trades into the candle buckets they fall in. Trades
// outside the candle range are ignored.
func bucketTrades(candles []market.Candle, trades []market.Trade, tf pairs.Timeframe) (buys, sells []float64) {
	interval := tf.IntervalMs()
	buys = make([]float64, len(candles))
	sells = make([]float64, len(candles))
	if len(candles) == 0 {
		return buys, sells
	}
	start := candles[0].OpenTime
	for _, t := range trades {
		idx := int((t.Time - start) / interval)
		if idx < 0 || idx >= len(candles) {
			continue
		}
		if t.Side == market.SideBuy {
			buys[idx] += t.Size
		} else {
			sells[idx] += t.Size
		}
	}
	return buys, sells
}

// detectCVDDivergence compares the latest price swing pair with the CVD swing
// pair over the trailing window.
func detectCVDDivergence(candles []market.Candle, deltas []float64) CVDDivergence {
	n := len(candles)
	if n < cvdDivergenceBars {
		return DivergenceNone
	}

	window := candles[n-cvdDivergenceBars:]
	cvdWindow := sanitize(deltas[n-cvdDivergenceBars:])

	half := cvdDivergenceBars / 2
	priceLow1, priceHigh1 := rangeOf(window[:half])
	priceLow2, priceHigh2 := rangeOf(window[half:])
	cvdLow1, cvdHigh1 := minMax(cvdWindow[:half])
	cvdLow2, cvdHigh2 := minMax(cvdWindow[half:])

	switch {
	// Price lower-low while delta holds a higher-low: sellers are exhausting.
	case priceLow2 < priceLow1 && cvdLow2 > cvdLow1:
		return DivergenceBullish
	case priceHigh2 > priceHigh1 && cvdHigh2 < cvdHigh1:
		return DivergenceBearish
	case priceLow2 > priceLow1 && cvdLow2 < cvdLow1:
		return DivergenceHiddenBullish
	case priceHigh2 < priceHigh1 && cvdHigh2 > cvdHigh1:
		return DivergenceHiddenBearish
	default:
		return DivergenceNone
	}
}

func rangeOf(candles []market.Candle) (low, high float64) {
	low = math.Inf(1)
	high = math.Inf(-1)
	for _, c := range candles {
		low = math.Min(low, c.Low)
		high = math.Max(high, c.High)
	}
	return low, high
}

func minMax(vals []float64) (low, high float64) {
	low = math.Inf(1)
	high = math.Inf(-1)
	for _, v := range vals {
		low = math.Min(low, v)
		high = math.Max(high, v)
	}
	return low, high
}
