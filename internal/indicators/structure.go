package indicators

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/perpsight/perpsight/internal/market"
)

// Default swing lookback: a point is a swing high iff strictly greater than
// the k neighbors on each side.
const swingLookback = 5

// Minimum candles for any structural analysis.
const minStructureCandles = 20

// SwingKind distinguishes swing highs from swing lows.
type SwingKind string

const (
	SwingHigh SwingKind = "high"
	SwingLow  SwingKind = "low"
)

// Swing is a confirmed local extremum.
type Swing struct {
	Index int       `json:"index"`
	Price float64   `json:"price"`
	Time  int64     `json:"time"`
	Kind  SwingKind `json:"kind"`
}

// TrendState classifies the structure over the last six swings.
type TrendState string

const (
	TrendBullishImpulse    TrendState = "bullish_impulse"
	TrendBearishImpulse    TrendState = "bearish_impulse"
	TrendBullishCorrection TrendState = "bullish_correction"
	TrendBearishCorrection TrendState = "bearish_correction"
	TrendConsolidation     TrendState = "consolidation"
)

// BreakOfStructure records the most recent swing broken by a subsequent close.
type BreakOfStructure struct {
	Type  Lean    `json:"type"` // bullish: swing high broken; bearish: swing low broken
	Price float64 `json:"price"`
	Time  int64   `json:"time"`
}

// StructureAnalysis is the market-structure engine output.
type StructureAnalysis struct {
	Summary
	Trend           TrendState        `json:"trend"`
	Swings          []Swing           `json:"swings,omitempty"`
	BOS             *BreakOfStructure `json:"bos,omitempty"`
	ImpulseCount    int               `json:"impulse_count"`
	RespectedLevels int               `json:"respected_levels"`
}

// Evidence returns a one-line summary for signal reasoning.
func (a *StructureAnalysis) Evidence() string {
	if a.BOS != nil {
		return fmt.Sprintf("%s structure with %s BOS at %.4f", a.Trend, a.BOS.Type, a.BOS.Price)
	}
	return fmt.Sprintf("%s structure, %d impulse confirmations", a.Trend, a.ImpulseCount)
}

// FindSwings locates confirmed swing points using a k-lookback test. The
// returned slice is ordered by candle index. Candles must be chronological.
func FindSwings(candles []market.Candle, k int) []Swing {
	if len(candles) < 2*k+1 {
		return nil
	}

	var swings []Swing
	for i := k; i < len(candles)-k; i++ {
		isHigh := true
		isLow := true
		for j := i - k; j <= i+k; j++ {
			if j == i {
				continue
			}
			if candles[j].High >= candles[i].High {
				isHigh = false
			}
			if candles[j].Low <= candles[i].Low {
				isLow = false
			}
			if !isHigh && !isLow {
				break
			}
		}
		if isHigh {
			swings = append(swings, Swing{Index: i, Price: candles[i].High, Time: candles[i].OpenTime, Kind: SwingHigh})
		}
		if isLow {
			swings = append(swings, Swing{Index: i, Price: candles[i].Low, Time: candles[i].OpenTime, Kind: SwingLow})
		}
	}
	return swings
}

// AnalyzeStructure runs the market-structure engine over chronological candles.
func AnalyzeStructure(candles []market.Candle) *StructureAnalysis {
	if len(candles) < minStructureCandles {
		return &StructureAnalysis{
			Summary: unavailable(fmt.Sprintf("need %d candles, got %d", minStructureCandles, len(candles))),
			Trend:   TrendConsolidation,
		}
	}

	swings := FindSwings(candles, swingLookback)
	if len(swings) < 2 {
		return &StructureAnalysis{
			Summary: unavailable("too few confirmed swings"),
			Trend:   TrendConsolidation,
		}
	}

	recent := swings
	if len(recent) > 6 {
		recent = recent[len(recent)-6:]
	}

	trend, impulses := classifyTrend(recent)
	bos := findBOS(candles, swings)
	respected := countRespectedLevels(candles, swings)

	lean := LeanNeutral
	switch trend {
	case TrendBullishImpulse, TrendBullishCorrection:
		lean = LeanBullish
	case TrendBearishImpulse, TrendBearishCorrection:
		lean = LeanBearish
	}
	// A break against the trend direction overrides the swing classification.
	if bos != nil {
		lean = bos.Type
	}

	score := clamp(50+10*float64(impulses)+5*float64(respected), 0, 95)

	log.Debug().
		Str("trend", string(trend)).
		Int("swings", len(swings)).
		Int("impulses", impulses).
		Int("respected", respected).
		Msg("Market structure analyzed")

	return &StructureAnalysis{
		Summary:         Summary{Score: score, Lean: lean}.Checked(),
		Trend:           trend,
		Swings:          recent,
		BOS:             bos,
		ImpulseCount:    impulses,
		RespectedLevels: respected,
	}
}

// classifyTrend inspects consecutive swing highs and lows: higher-high plus
// higher-low means a bullish impulse, lower-high plus lower-low a bearish
// one; a single-sided pattern is a correction; anything else consolidation.
func classifyTrend(swings []Swing) (TrendState, int) {
	var highs, lows []float64
	for _, s := range swings {
		if s.Kind == SwingHigh {
			highs = append(highs, s.Price)
		} else {
			lows = append(lows, s.Price)
		}
	}

	higherHighs := ascending(highs)
	higherLows := ascending(lows)
	lowerHighs := descending(highs)
	lowerLows := descending(lows)

	impulses := 0
	countSteps := func(vals []float64, up bool) int {
		n := 0
		for i := 1; i < len(vals); i++ {
			if (up && vals[i] > vals[i-1]) || (!up && vals[i] < vals[i-1]) {
				n++
			}
		}
		return n
	}

	switch {
	case higherHighs && higherLows && len(highs) >= 2 && len(lows) >= 2:
		impulses = countSteps(highs, true) + countSteps(lows, true)
		return TrendBullishImpulse, impulses
	case lowerHighs && lowerLows && len(highs) >= 2 && len(lows) >= 2:
		impulses = countSteps(highs, false) + countSteps(lows, false)
		return TrendBearishImpulse, impulses
	case higherLows && len(lows) >= 2:
		return TrendBullishCorrection, countSteps(lows, true)
	case lowerHighs && len(highs) >= 2:
		return TrendBearishCorrection, countSteps(highs, false)
	default:
		return TrendConsolidation, 0
	}
}

func ascending(vals []float64) bool {
	if len(vals) < 2 {
		return false
	}
	for i := 1; i < len(vals); i++ {
		if vals[i] <= vals[i-1] {
			return false
		}
	}
	return true
}

func descending(vals []float64) bool {
	if len(vals) < 2 {
		return false
	}
	for i := 1; i < len(vals); i++ {
		if vals[i] >= vals[i-1] {
			return false
		}
	}
	return true
}

// findBOS returns the most recent swing broken by a later close beyond it.
func findBOS(candles []market.Candle, swings []Swing) *BreakOfStructure {
	var latest *BreakOfStructure
	for _, s := range swings {
		for i := s.Index + 1; i < len(candles); i++ {
			if s.Kind == SwingHigh && candles[i].Close > s.Price {
				latest = &BreakOfStructure{Type: LeanBullish, Price: s.Price, Time: candles[i].OpenTime}
				break
			}
			if s.Kind == SwingLow && candles[i].Close < s.Price {
				latest = &BreakOfStructure{Type: LeanBearish, Price: s.Price, Time: candles[i].OpenTime}
				break
			}
		}
	}
	return latest
}

// countRespectedLevels counts swing levels that were touched again and held:
// price came within 0.5% of the level after the swing without closing beyond it.
func countRespectedLevels(candles []market.Candle, swings []Swing) int {
	respected := 0
	for _, s := range swings {
		touched := false
		held := true
		for i := s.Index + 1; i < len(candles); i++ {
			c := candles[i]
			if s.Kind == SwingHigh {
				if c.High >= s.Price*0.995 && c.High <= s.Price*1.005 {
					touched = true
				}
				if c.Close > s.Price {
					held = false
					break
				}
			} else {
				if c.Low <= s.Price*1.005 && c.Low >= s.Price*0.995 {
					touched = true
				}
				if c.Close < s.Price {
					held = false
					break
				}
			}
		}
		if touched && held {
			respected++
		}
	}
	return respected
}
