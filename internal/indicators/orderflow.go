package indicators

import (
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/perpsight/perpsight/internal/market"
)

// FlowTrend classifies institutional order-flow behavior.
type FlowTrend string

const (
	FlowAccumulation FlowTrend = "accumulation"
	FlowDistribution FlowTrend = "distribution"
	FlowManipulation FlowTrend = "manipulation"
	FlowNeutral      FlowTrend = "neutral"
)

// AbsorptionEvent is large aggressive volume hitting an unmoving book level.
type AbsorptionEvent struct {
	Side   market.TradeSide `json:"side"` // aggressor side that got absorbed
	Price  float64          `json:"price"`
	Volume float64          `json:"volume"`
}

// IcebergLevel is a price level showing repeated small-size replenishment.
type IcebergLevel struct {
	Price   float64 `json:"price"`
	Refills int     `json:"refills"`
}

// OrderFlowAnalysis is the institutional order-flow engine output.
type OrderFlowAnalysis struct {
	Summary
	Trend         FlowTrend         `json:"flow_trend"`
	Absorptions   []AbsorptionEvent `json:"absorptions,omitempty"`
	Icebergs      []IcebergLevel    `json:"icebergs,omitempty"`
	BookImbalance float64           `json:"book_imbalance"` // bid volume / ask volume
}

// Evidence returns a one-line summary for signal reasoning.
func (a *OrderFlowAnalysis) Evidence() string {
	return fmt.Sprintf("%s flow, book imbalance %.2f, %d absorption / %d iceberg events",
		a.Trend, a.BookImbalance, len(a.Absorptions), len(a.Icebergs))
}

// AnalyzeOrderFlow runs the institutional engine over the book and recent trades.
func AnalyzeOrderFlow(book *market.OrderBook, trades []market.Trade, candles []market.Candle) *OrderFlowAnalysis {
	if book == nil || (len(book.Bids) == 0 && len(book.Asks) == 0) {
		return &OrderFlowAnalysis{Summary: unavailable("no order book"), Trend: FlowNeutral}
	}

	imbalance := bookImbalance(book)
	absorptions := findAbsorptions(book, trades)
	icebergs := findIcebergs(trades)
	flow := classifyFlow(candles, imbalance, absorptions)

	lean := LeanNeutral
	score := 50.0
	switch flow {
	case FlowAccumulation:
		lean = LeanBullish
		score = clamp(55+10*float64(len(absorptions))+5*float64(len(icebergs)), 55, 90)
	case FlowDistribution:
		lean = LeanBearish
		score = clamp(55+10*float64(len(absorptions))+5*float64(len(icebergs)), 55, 90)
	case FlowManipulation:
		// Manipulation is informative but directionless; flag it loudly.
		score = 70
	}

	log.Debug().
		Str("flow", string(flow)).
		Float64("imbalance", imbalance).
		Int("absorptions", len(absorptions)).
		Int("icebergs", len(icebergs)).
		Msg("Order flow analyzed")

	return &OrderFlowAnalysis{
		Summary:       Summary{Score: score, Lean: lean}.Checked(),
		Trend:         flow,
		Absorptions:   absorptions,
		Icebergs:      icebergs,
		BookImbalance: imbalance,
	}
}

// maxBookImbalance caps the bid/ask ratio so a one-sided book stays finite
// and JSON-encodable.
const maxBookImbalance = 100.0

// bookImbalance is total bid size over total ask size across the visible book.
func bookImbalance(book *market.OrderBook) float64 {
	var bidVol, askVol float64
	for _, l := range book.Bids {
		bidVol += l.Size
	}
	for _, l := range book.Asks {
		askVol += l.Size
	}
	if askVol == 0 {
		if bidVol == 0 {
			return 1
		}
		return maxBookImbalance
	}
	return math.Min(bidVol/askVol, maxBookImbalance)
}

// findAbsorptions looks for aggressive volume concentrated at the touch that
// failed to move it: trade volume at the best level exceeding several times
// the level's displayed size.
func findAbsorptions(book *market.OrderBook, trades []market.Trade) []AbsorptionEvent {
	if len(trades) == 0 {
		return nil
	}

	var events []AbsorptionEvent
	check := func(level market.PriceLevel, side market.TradeSide) {
		const tolerance = 0.0005
		var hit float64
		for _, t := range trades {
			if t.Side != side {
				continue
			}
			if math.Abs(t.Price-level.Price) <= level.Price*tolerance {
				hit += t.Size
			}
		}
		if level.Size > 0 && hit > level.Size*3 {
			events = append(events, AbsorptionEvent{Side: side, Price: level.Price, Volume: hit})
		}
	}

	if len(book.Asks) > 0 {
		check(book.Asks[0], market.SideBuy)
	}
	if len(book.Bids) > 0 {
		check(book.Bids[0], market.SideSell)
	}
	return events
}

// findIcebergs infers hidden size from repeated small prints at one level.
func findIcebergs(trades []market.Trade) []IcebergLevel {
	if len(trades) < 10 {
		return nil
	}

	var meanSize float64
	for _, t := range trades {
		meanSize += t.Size
	}
	meanSize /= float64(len(trades))

	counts := make(map[float64]int)
	for _, t := range trades {
		if t.Size < meanSize*0.5 {
			counts[t.Price]++
		}
	}

	var icebergs []IcebergLevel
	for price, n := range counts {
		if n >= 5 {
			icebergs = append(icebergs, IcebergLevel{Price: price, Refills: n})
		}
	}
	return icebergs
}

// classifyFlow combines book imbalance, absorption and bar-to-bar behavior.
// Manipulation is flagged when consecutive bars alternate extreme dominance
// with price reverting back each time.
func classifyFlow(candles []market.Candle, imbalance float64, absorptions []AbsorptionEvent) FlowTrend {
	if detectsManipulation(candles) {
		return FlowManipulation
	}

	switch {
	case imbalance > 1.5:
		return FlowAccumulation
	case imbalance > 0 && imbalance < 0.67:
		return FlowDistribution
	}

	// Absorption of sellers into bids is accumulation, of buyers into asks
	// distribution.
	for _, a := range absorptions {
		if a.Side == market.SideSell {
			return FlowAccumulation
		}
		if a.Side == market.SideBuy {
			return FlowDistribution
		}
	}
	return FlowNeutral
}

// detectsManipulation checks the last few bars for alternating extreme
// dominance with closes reverting toward the open.
func detectsManipulation(candles []market.Candle) bool {
	const window = 6
	if len(candles) < window {
		return false
	}

	tail := candles[len(candles)-window:]
	alternations := 0
	reversions := 0
	prevBull := tail[0].Close > tail[0].Open
	for _, c := range tail[1:] {
		span := c.High - c.Low
		if span <= 0 {
			continue
		}
		body := math.Abs(c.Close - c.Open)
		bull := c.Close > c.Open
		if bull != prevBull {
			alternations++
		}
		// Long wicks with small bodies mean the push was faded.
		if body < span*0.3 {
			reversions++
		}
		prevBull = bull
	}
	return alternations >= 3 && reversions >= 3
}
