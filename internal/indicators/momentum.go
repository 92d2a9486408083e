package indicators

import (
	"fmt"

	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/cinar/indicator/v2/volatility"
	"github.com/rs/zerolog/log"

	"github.com/perpsight/perpsight/internal/market"
)

// Standard periods for the momentum ensemble.
const (
	rsiPeriod        = 14
	macdFastPeriod   = 12
	macdSlowPeriod   = 26
	macdSignalPeriod = 9
	bollingerPeriod  = 20
)

var emaPeriods = []int{12, 26, 50, 200}

// MomentumAnalysis is the technical-indicator ensemble output. Each
// sub-indicator votes a bias; the ensemble lean is the majority, ties
// resolving to neutral.
type MomentumAnalysis struct {
	Summary
	RSI            float64         `json:"rsi"`
	EMA            map[int]float64 `json:"ema"`
	MACD           float64         `json:"macd"`
	MACDSignal     float64         `json:"macd_signal"`
	BollingerUpper float64         `json:"bollinger_upper"`
	BollingerMid   float64         `json:"bollinger_mid"`
	BollingerLower float64         `json:"bollinger_lower"`
	Votes          map[string]Lean `json:"votes"`
}

// Evidence returns a one-line summary for signal reasoning.
func (a *MomentumAnalysis) Evidence() string {
	return fmt.Sprintf("RSI %.1f, MACD %.4f vs signal %.4f, ensemble %s",
		a.RSI, a.MACD, a.MACDSignal, a.Lean)
}

// AnalyzeMomentum runs RSI, EMA crosses, MACD and Bollinger over closes.
func AnalyzeMomentum(candles []market.Candle) *MomentumAnalysis {
	if len(candles) < macdSlowPeriod+macdSignalPeriod {
		return &MomentumAnalysis{
			Summary: unavailable(fmt.Sprintf("need %d candles, got %d", macdSlowPeriod+macdSignalPeriod, len(candles))),
		}
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	closes = sanitize(closes)
	last := closes[len(closes)-1]

	votes := make(map[string]Lean)

	// RSI(14), Wilder smoothing per the library implementation.
	rsi := lastOf(computeSeries(closes, momentum.NewRsiWithPeriod[float64](rsiPeriod)))
	switch {
	case rsi < 30:
		votes["rsi"] = LeanBullish
	case rsi > 70:
		votes["rsi"] = LeanBearish
	default:
		votes["rsi"] = LeanNeutral
	}

	// EMA stack: price above the longest available EMA is bullish.
	emas := make(map[int]float64, len(emaPeriods))
	for _, period := range emaPeriods {
		if len(closes) < period {
			continue
		}
		emas[period] = lastOf(computeSeries(closes, trend.NewEmaWithPeriod[float64](period)))
	}
	if ema26, ok := emas[26]; ok {
		ema12 := emas[12]
		switch {
		case ema12 > ema26 && last > ema26:
			votes["ema"] = LeanBullish
		case ema12 < ema26 && last < ema26:
			votes["ema"] = LeanBearish
		default:
			votes["ema"] = LeanNeutral
		}
	}

	// MACD(12,26,9).
	macdIndicator := trend.NewMacdWithPeriod[float64](macdFastPeriod, macdSlowPeriod, macdSignalPeriod)
	macdChan, signalChan := macdIndicator.Compute(sliceToChan(closes))
	macdVal := lastOf(chanToSlice(macdChan))
	signalVal := lastOf(chanToSlice(signalChan))
	switch {
	case macdVal > signalVal:
		votes["macd"] = LeanBullish
	case macdVal < signalVal:
		votes["macd"] = LeanBearish
	default:
		votes["macd"] = LeanNeutral
	}

	// Bollinger(20, 2 std dev).
	var upper, mid, lower float64
	if len(closes) >= bollingerPeriod {
		bb := volatility.NewBollingerBandsWithPeriod[float64](bollingerPeriod)
		lowerChan, midChan, upperChan := bb.Compute(sliceToChan(closes))
		lower = lastOf(chanToSlice(lowerChan))
		mid = lastOf(chanToSlice(midChan))
		upper = lastOf(chanToSlice(upperChan))
		switch {
		case last < lower:
			votes["bollinger"] = LeanBullish
		case last > upper:
			votes["bollinger"] = LeanBearish
		default:
			votes["bollinger"] = LeanNeutral
		}
	}

	lean, margin := majority(votes)

	// Score scales with agreement strength plus RSI distance from the midline.
	score := clamp(50+15*float64(margin)+clamp((50-rsiDistance(rsi))/2, 0, 15), 0, 95)
	if lean == LeanNeutral {
		score = 50
	}

	log.Debug().
		Float64("rsi", rsi).
		Float64("macd", macdVal).
		Str("lean", string(lean)).
		Msg("Momentum ensemble analyzed")

	return &MomentumAnalysis{
		Summary:        Summary{Score: score, Lean: lean}.Checked(),
		RSI:            rsi,
		EMA:            emas,
		MACD:           macdVal,
		MACDSignal:     signalVal,
		BollingerUpper: upper,
		BollingerMid:   mid,
		BollingerLower: lower,
		Votes:          votes,
	}
}

// rsiDistance is the distance of RSI from the neutral midline.
func rsiDistance(rsi float64) float64 {
	if rsi > 50 {
		return rsi - 50
	}
	return 50 - rsi
}

// majority tallies votes; the margin is |bullish - bearish|. Ties are neutral.
func majority(votes map[string]Lean) (Lean, int) {
	bulls, bears := 0, 0
	for _, v := range votes {
		switch v {
		case LeanBullish:
			bulls++
		case LeanBearish:
			bears++
		}
	}
	switch {
	case bulls > bears:
		return LeanBullish, bulls - bears
	case bears > bulls:
		return LeanBearish, bears - bulls
	default:
		return LeanNeutral, 0
	}
}

// computer is the subset of the cinar indicator API the ensemble needs.
type computer interface {
	Compute(<-chan float64) <-chan float64
}

// computeSeries feeds a slice through a channel-based indicator and collects
// the output, the same plumbing the library's own examples use.
func computeSeries(values []float64, ind computer) []float64 {
	return chanToSlice(ind.Compute(sliceToChan(values)))
}

func sliceToChan(values []float64) chan float64 {
	c := make(chan float64, len(values))
	for _, v := range values {
		c <- v
	}
	close(c)
	return c
}

func chanToSlice(c <-chan float64) []float64 {
	var out []float64
	for v := range c {
		out = append(out, v)
	}
	return out
}

func lastOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return values[len(values)-1]
}
