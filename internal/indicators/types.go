package indicators

import "math"

// Lean is the directional bias of a single engine.
type Lean string

const (
	LeanBullish Lean = "bullish"
	LeanBearish Lean = "bearish"
	LeanNeutral Lean = "neutral"
)

// Layer names double as pattern names in the learning registry.
const (
	LayerStructure     = "market_structure"
	LayerCVD           = "cvd"
	LayerMomentum      = "momentum"
	LayerOpenInterest  = "open_interest"
	LayerFunding       = "funding"
	LayerInstitutional = "institutional"
	LayerFibonacci     = "fibonacci"
	LayerEnhanced      = "enhanced"
)

// Layers returns all eight layer names in scoring order.
func Layers() []string {
	return []string{
		LayerStructure, LayerCVD, LayerMomentum, LayerOpenInterest,
		LayerFunding, LayerInstitutional, LayerFibonacci, LayerEnhanced,
	}
}

// Summary carries the fields every engine output shares. Score is in
// [0,100]; a neutral lean contributes zero to the confluence sum regardless
// of score.
type Summary struct {
	Score       float64 `json:"score"`
	Lean        Lean    `json:"lean"`
	Unavailable bool    `json:"unavailable,omitempty"`
	Reason      string  `json:"reason,omitempty"`
}

// Signed converts the summary to a signed score in [-100, +100].
func (s Summary) Signed() float64 {
	switch s.Lean {
	case LeanBullish:
		return s.Score
	case LeanBearish:
		return -s.Score
	default:
		return 0
	}
}

// unavailable builds a Summary for an engine that cannot produce a result.
// Its weight is redistributed by the scorer.
func unavailable(reason string) Summary {
	return Summary{Lean: LeanNeutral, Unavailable: true, Reason: reason}
}

// Set is the tagged bundle of all eight engine outputs for one pair and
// timeframe. A nil field means the engine did not run (disabled layer).
type Set struct {
	Structure    *StructureAnalysis `json:"market_structure,omitempty"`
	CVD          *CVDAnalysis       `json:"cvd,omitempty"`
	Momentum     *MomentumAnalysis  `json:"momentum,omitempty"`
	OpenInterest *OIAnalysis        `json:"open_interest,omitempty"`
	Funding      *FundingAnalysis   `json:"funding,omitempty"`
	OrderFlow    *OrderFlowAnalysis `json:"institutional,omitempty"`
	Fibonacci    *FibAnalysis       `json:"fibonacci,omitempty"`
	Enhanced     *EnhancedAnalysis  `json:"enhanced,omitempty"`
}

// Summary returns the common fields for a layer; ok is false when the layer
// did not run.
func (s *Set) Summary(layer string) (Summary, bool) {
	switch layer {
	case LayerStructure:
		if s.Structure != nil {
			return s.Structure.Summary, true
		}
	case LayerCVD:
		if s.CVD != nil {
			return s.CVD.Summary, true
		}
	case LayerMomentum:
		if s.Momentum != nil {
			return s.Momentum.Summary, true
		}
	case LayerOpenInterest:
		if s.OpenInterest != nil {
			return s.OpenInterest.Summary, true
		}
	case LayerFunding:
		if s.Funding != nil {
			return s.Funding.Summary, true
		}
	case LayerInstitutional:
		if s.OrderFlow != nil {
			return s.OrderFlow.Summary, true
		}
	case LayerFibonacci:
		if s.Fibonacci != nil {
			return s.Fibonacci.Summary, true
		}
	case LayerEnhanced:
		if s.Enhanced != nil {
			return s.Enhanced.Summary, true
		}
	}
	return Summary{}, false
}

// Evidence returns the one-line evidence string for a layer, or "" when the
// layer did not run or is unavailable.
func (s *Set) Evidence(layer string) string {
	switch layer {
	case LayerStructure:
		if s.Structure != nil && !s.Structure.Unavailable {
			return s.Structure.Evidence()
		}
	case LayerCVD:
		if s.CVD != nil && !s.CVD.Unavailable {
			return s.CVD.Evidence()
		}
	case LayerMomentum:
		if s.Momentum != nil && !s.Momentum.Unavailable {
			return s.Momentum.Evidence()
		}
	case LayerOpenInterest:
		if s.OpenInterest != nil && !s.OpenInterest.Unavailable {
			return s.OpenInterest.Evidence()
		}
	case LayerFunding:
		if s.Funding != nil && !s.Funding.Unavailable {
			return s.Funding.Evidence()
		}
	case LayerInstitutional:
		if s.OrderFlow != nil && !s.OrderFlow.Unavailable {
			return s.OrderFlow.Evidence()
		}
	case LayerFibonacci:
		if s.Fibonacci != nil && !s.Fibonacci.Unavailable {
			return s.Fibonacci.Evidence()
		}
	case LayerEnhanced:
		if s.Enhanced != nil && !s.Enhanced.Unavailable {
			return s.Enhanced.Evidence()
		}
	}
	return ""
}

// sanitize replaces non-finite values with 0 before stats computation.
func sanitize(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			out[i] = 0
			continue
		}
		out[i] = v
	}
	return out
}

// finite reports whether every value in the summary is finite. An engine
// producing NaN or Inf collapses to unavailable at the scoring boundary.
func (s Summary) finite() bool {
	return !math.IsNaN(s.Score) && !math.IsInf(s.Score, 0)
}

// Checked collapses a non-finite summary to unavailable.
func (s Summary) Checked() Summary {
	if !s.finite() {
		return unavailable("non-finite score")
	}
	if s.Score < 0 {
		s.Score = 0
	}
	if s.Score > 100 {
		s.Score = 100
	}
	return s
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
