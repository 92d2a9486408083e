package indicators

import (
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/perpsight/perpsight/internal/market"
)

// Standard retracement and extension ratios.
var (
	fibRetracements = []float64{0, 0.236, 0.382, 0.5, 0.618, 0.786, 1.0}
	fibExtensions   = []float64{1.272, 1.618, 2.618}
)

// Golden zone: the 0.618-0.786 retracement band.
const (
	goldenZoneLow  = 0.618
	goldenZoneHigh = 0.786
)

// Level respect test parameters over the trailing 20 candles.
const (
	fibRespectWindow   = 20
	fibTouchTolerance  = 0.005 // price within 0.5% counts as a touch
	fibRespectMinShare = 0.60  // >=60% of touches must hold
)

// FibSignal labels the actionable setup relative to computed levels.
type FibSignal string

const (
	FibNone            FibSignal = "none"
	FibBounceSupport   FibSignal = "bounce_support"
	FibBreakResistance FibSignal = "break_resistance"
	FibExtensionTarget FibSignal = "extension_target"
)

// FibLevel is a single retracement or extension level.
type FibLevel struct {
	Ratio     float64 `json:"ratio"`
	Price     float64 `json:"price"`
	Extension bool    `json:"extension,omitempty"`
	Respected bool    `json:"respected"`
	Touches   int     `json:"touches"`
}

// FibAnalysis is the Fibonacci engine output.
type FibAnalysis struct {
	Summary
	SwingHigh    float64    `json:"swing_high"`
	SwingLow     float64    `json:"swing_low"`
	Uptrend      bool       `json:"uptrend"` // retracement measured low -> high
	Levels       []FibLevel `json:"levels"`
	InGoldenZone bool       `json:"in_golden_zone"`
	Signal       FibSignal  `json:"signal"`
}

// Evidence returns a one-line summary for signal reasoning.
func (a *FibAnalysis) Evidence() string {
	zone := ""
	if a.InGoldenZone {
		zone = ", price in golden zone"
	}
	return fmt.Sprintf("fib %s from %.4f-%.4f%s", a.Signal, a.SwingLow, a.SwingHigh, zone)
}

// AnalyzeFibonacci computes retracement and extension levels from the two
// most recent confirmed swing points, tests which levels the market has
// respected, and emits a setup signal.
func AnalyzeFibonacci(candles []market.Candle) *FibAnalysis {
	if len(candles) < minStructureCandles {
		return &FibAnalysis{
			Summary: unavailable(fmt.Sprintf("need %d candles, got %d", minStructureCandles, len(candles))),
			Signal:  FibNone,
		}
	}

	swings := FindSwings(candles, swingLookback)
	high, low, uptrend, ok := latestSwingPair(swings)
	if !ok {
		return &FibAnalysis{Summary: unavailable("no confirmed swing pair"), Signal: FibNone}
	}

	span := high - low
	if span <= 0 {
		return &FibAnalysis{Summary: unavailable("degenerate swing range"), Signal: FibNone}
	}

	levels := make([]FibLevel, 0, len(fibRetracements)+len(fibExtensions))
	for _, r := range fibRetracements {
		price := high - span*r
		if !uptrend {
			price = low + span*r
		}
		levels = append(levels, FibLevel{Ratio: r, Price: price})
	}
	for _, r := range fibExtensions {
		price := low + span*r
		if !uptrend {
			price = high - span*r
		}
		levels = append(levels, FibLevel{Ratio: r, Price: price, Extension: true})
	}

	window := candles
	if len(window) > fibRespectWindow {
		window = window[len(window)-fibRespectWindow:]
	}
	for i := range levels {
		levels[i].Touches, levels[i].Respected = testRespect(window, levels[i].Price)
	}

	last := candles[len(candles)-1].Close
	inGolden := inGoldenZone(last, high, low, uptrend)
	signal, lean, score := deriveFibSignal(last, levels, uptrend, inGolden)

	log.Debug().
		Float64("swing_high", high).
		Float64("swing_low", low).
		Bool("uptrend", uptrend).
		Str("signal", string(signal)).
		Msg("Fibonacci analyzed")

	return &FibAnalysis{
		Summary:      Summary{Score: score, Lean: lean}.Checked(),
		SwingHigh:    high,
		SwingLow:     low,
		Uptrend:      uptrend,
		Levels:       levels,
		InGoldenZone: inGolden,
		Signal:       signal,
	}
}

// latestSwingPair returns the two most recent opposite-kind swings.
// Uptrend means the low precedes the high.
func latestSwingPair(swings []Swing) (high, low float64, uptrend, ok bool) {
	if len(swings) < 2 {
		return 0, 0, false, false
	}

	last := swings[len(swings)-1]
	for i := len(swings) - 2; i >= 0; i-- {
		if swings[i].Kind == last.Kind {
			continue
		}
		if last.Kind == SwingHigh {
			return last.Price, swings[i].Price, true, true
		}
		return swings[i].Price, last.Price, false, true
	}
	return 0, 0, false, false
}

// testRespect counts touches within tolerance that subsequently closed away
// by at least the same tolerance; respect requires >=60% of touches to hold.
func testRespect(window []market.Candle, level float64) (touches int, respected bool) {
	if level <= 0 {
		return 0, false
	}

	held := 0
	for i, c := range window {
		touched := c.Low <= level*(1+fibTouchTolerance) && c.High >= level*(1-fibTouchTolerance)
		if !touched {
			continue
		}
		touches++
		for j := i + 1; j < len(window); j++ {
			if math.Abs(window[j].Close-level)/level >= fibTouchTolerance {
				held++
				break
			}
		}
	}
	respected = touches > 0 && float64(held)/float64(touches) >= fibRespectMinShare
	return touches, respected
}

func inGoldenZone(price, high, low float64, uptrend bool) bool {
	span := high - low
	if span <= 0 {
		return false
	}
	var zoneLow, zoneHigh float64
	if uptrend {
		zoneLow = high - span*goldenZoneHigh
		zoneHigh = high - span*goldenZoneLow
	} else {
		zoneLow = low + span*goldenZoneLow
		zoneHigh = low + span*goldenZoneHigh
	}
	return price >= zoneLow && price <= zoneHigh
}

// deriveFibSignal checks proximity to respected levels: bounce off support
// within 2%, break of resistance within 1%, trend-aligned extension within 5%.
func deriveFibSignal(price float64, levels []FibLevel, uptrend, inGolden bool) (FibSignal, Lean, float64) {
	trendLean := LeanBullish
	if !uptrend {
		trendLean = LeanBearish
	}

	for _, l := range levels {
		if !l.Respected || l.Price <= 0 {
			continue
		}
		dist := math.Abs(price-l.Price) / l.Price
		switch {
		case l.Extension && dist <= 0.05:
			return FibExtensionTarget, trendLean, 70
		case !l.Extension && price > l.Price && dist <= 0.02:
			score := 65.0
			if inGolden {
				score = 80
			}
			return FibBounceSupport, LeanBullish, score
		case !l.Extension && price < l.Price && dist <= 0.01:
			return FibBreakResistance, LeanBearish, 65
		}
	}

	if inGolden {
		return FibNone, trendLean, 60
	}
	return FibNone, LeanNeutral, 50
}
