package confluence

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/perpsight/perpsight/internal/indicators"
	"github.com/perpsight/perpsight/internal/pairs"
)

// SignalClass is the final classification of a confluence evaluation.
type SignalClass string

const (
	SignalStrongBuy  SignalClass = "STRONG_BUY"
	SignalBuy        SignalClass = "BUY"
	SignalHold       SignalClass = "HOLD"
	SignalSell       SignalClass = "SELL"
	SignalStrongSell SignalClass = "STRONG_SELL"
)

// RiskLevel grades the environment the signal fires into.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Classification thresholds on the weighted overall score.
const (
	strongThreshold = 50
	weakThreshold   = 20
)

// baseWeights is the default weight vector; it sums to 1.0 before any
// adjustment and is renormalized after every composition step.
var baseWeights = map[string]float64{
	indicators.LayerStructure:     0.10,
	indicators.LayerCVD:           0.15,
	indicators.LayerMomentum:      0.15,
	indicators.LayerOpenInterest:  0.15,
	indicators.LayerFunding:       0.10,
	indicators.LayerInstitutional: 0.10,
	indicators.LayerFibonacci:     0.05,
	indicators.LayerEnhanced:      0.20,
}

// BaseWeights returns a copy of the default weight vector, keyed by layer.
func BaseWeights() map[string]float64 {
	out := make(map[string]float64, len(baseWeights))
	for k, v := range baseWeights {
		out[k] = v
	}
	return out
}

// timeframeMultipliers adjust weights per analysis horizon.
var timeframeMultipliers = map[pairs.Timeframe]map[string]float64{
	pairs.TF1h: {
		indicators.LayerMomentum:      1.3,
		indicators.LayerEnhanced:      1.5,
		indicators.LayerInstitutional: 0.7,
	},
	pairs.TF1d: {
		indicators.LayerStructure:     1.3,
		indicators.LayerInstitutional: 1.4,
		indicators.LayerMomentum:      0.8,
	},
}

// WeightProvider supplies learned per-pattern adjustments. The scorer reads
// the most recent committed value on every evaluation.
type WeightProvider interface {
	// Multiplier returns current_weight/base_weight for the pattern, 1.0 when unknown.
	Multiplier(pattern string) float64
	// MinConfidence returns the pattern's confidence floor in [0.5, 0.95].
	MinConfidence(pattern string) float64
}

// staticWeights is the no-learning fallback provider.
type staticWeights struct{}

func (staticWeights) Multiplier(string) float64    { return 1.0 }
func (staticWeights) MinConfidence(string) float64 { return 0.6 }

// Result is the outcome of one confluence evaluation.
type Result struct {
	OverallScore   float64            `json:"overall_score"`
	Signal         SignalClass        `json:"signal"`
	LayersPassed   int                `json:"layers_passed"`
	LayerScores    map[string]float64 `json:"layer_scores"`
	ActiveWeights  map[string]float64 `json:"active_weights"`
	RiskLevel      RiskLevel          `json:"risk_level"`
	Recommendation string             `json:"recommendation"`
	Timeframe      string             `json:"timeframe"`
	Timestamp      int64              `json:"timestamp"`
	DegradedLayers []string           `json:"degraded_layers,omitempty"`
}

// Scorer combines the eight engine outputs into a weighted decision.
type Scorer struct {
	weights WeightProvider
	logger  zerolog.Logger
	now     func() time.Time
}

// NewScorer creates a scorer. A nil provider disables learned adjustments.
func NewScorer(weights WeightProvider) *Scorer {
	if weights == nil {
		weights = staticWeights{}
	}
	return &Scorer{
		weights: weights,
		logger:  log.With().Str("component", "confluence").Logger(),
		now:     time.Now,
	}
}

// Score evaluates the engine set for one pair and timeframe. price is the
// current mark, used for liquidation-cluster proximity; zero disables that
// check. enabled restricts scoring to a layer subset; nil means all eight.
func (s *Scorer) Score(set *indicators.Set, tf pairs.Timeframe, price float64, enabled map[string]bool) *Result {
	active := make(map[string]float64, len(baseWeights))
	signed := make(map[string]float64, len(baseWeights))
	var degraded []string

	// Compose the weight vector: base x learned multiplier x timeframe
	// multiplier, dropping unavailable and disabled layers, then renormalize.
	tfMult := timeframeMultipliers[tf]
	for _, layer := range indicators.Layers() {
		if enabled != nil && !enabled[layer] {
			continue
		}
		summary, ran := set.Summary(layer)
		if !ran {
			continue
		}
		summary = summary.Checked()
		if summary.Unavailable {
			degraded = append(degraded, layer)
			continue
		}

		w := baseWeights[layer] * s.weights.Multiplier(layer)
		if m, ok := tfMult[layer]; ok {
			w *= m
		}
		active[layer] = w
		signed[layer] = summary.Signed()
	}

	normalize(active)

	overall := 0.0
	for layer, w := range active {
		overall += w * signed[layer]
	}

	class := classify(overall)
	passed := s.layersPassed(set, signed, class)
	risk, forcedHold := s.riskLevel(set, price)
	if forcedHold {
		class = SignalHold
		overall = clampScore(overall)
	}

	result := &Result{
		OverallScore:   overall,
		Signal:         class,
		LayersPassed:   passed,
		LayerScores:    signed,
		ActiveWeights:  active,
		RiskLevel:      risk,
		Recommendation: recommend(class, risk, dominantLayer(active, signed)),
		Timeframe:      string(tf),
		Timestamp:      s.now().UnixMilli(),
		DegradedLayers: degraded,
	}

	s.logger.Debug().
		Float64("overall", overall).
		Str("signal", string(class)).
		Int("layers_passed", passed).
		Str("risk", string(risk)).
		Strs("degraded", degraded).
		Msg("Confluence scored")

	return result
}

// normalize rescales weights in place to sum to 1.0.
func normalize(weights map[string]float64) {
	var sum float64
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 {
		return
	}
	for k := range weights {
		weights[k] /= sum
	}
}

// classify maps the overall score to a signal class. The boundaries round
// toward HOLD: an exact +-threshold stays in the weaker class.
func classify(overall float64) SignalClass {
	switch {
	case overall > strongThreshold:
		return SignalStrongBuy
	case overall > weakThreshold:
		return SignalBuy
	case overall < -strongThreshold:
		return SignalStrongSell
	case overall < -weakThreshold:
		return SignalSell
	default:
		return SignalHold
	}
}

// layersPassed counts engines whose direction matches the final class and
// whose raw score clears the pattern's learned confidence floor.
func (s *Scorer) layersPassed(set *indicators.Set, signed map[string]float64, class SignalClass) int {
	dir := 0.0
	switch class {
	case SignalBuy, SignalStrongBuy:
		dir = 1
	case SignalSell, SignalStrongSell:
		dir = -1
	default:
		return 0
	}

	passed := 0
	for layer, sc := range signed {
		if sc*dir <= 0 {
			continue
		}
		summary, _ := set.Summary(layer)
		if summary.Score >= s.weights.MinConfidence(layer)*100 {
			passed++
		}
	}
	return passed
}

// riskLevel grades the environment. Returns forcedHold=true for illiquid
// pairs, which are rejected regardless of the other layers.
func (s *Scorer) riskLevel(set *indicators.Set, price float64) (RiskLevel, bool) {
	if set.Enhanced != nil && !set.Enhanced.Unavailable {
		if set.Enhanced.Tier == indicators.LiquidityIlliquid {
			return RiskHigh, true
		}
		if set.Enhanced.Regime == indicators.RegimeExtreme {
			return RiskHigh, false
		}
	}
	if set.OpenInterest != nil && !set.OpenInterest.Unavailable &&
		set.OpenInterest.CriticalClusterWithin(price, 0.02) {
		return RiskHigh, false
	}
	if set.Enhanced != nil && !set.Enhanced.Unavailable &&
		set.Enhanced.Regime == indicators.RegimeRanging &&
		set.OrderFlow != nil && !set.OrderFlow.Unavailable &&
		set.OrderFlow.Trend == indicators.FlowNeutral {
		return RiskLow, false
	}
	return RiskMedium, false
}

// clampScore pulls a forced-HOLD score into the HOLD band so the emitted
// bias never contradicts the classification sign.
func clampScore(overall float64) float64 {
	return math.Max(-weakThreshold, math.Min(weakThreshold, overall))
}

// dominantLayer is the layer with the largest absolute weighted contribution.
func dominantLayer(weights, signed map[string]float64) string {
	best := ""
	bestAbs := 0.0
	for layer, w := range weights {
		if abs := math.Abs(w * signed[layer]); abs > bestAbs {
			best = layer
			bestAbs = abs
		}
	}
	return best
}

// recommend fills the recommendation template keyed by class, risk and the
// dominant factor.
func recommend(class SignalClass, risk RiskLevel, dominant string) string {
	action := map[SignalClass]string{
		SignalStrongBuy:  "Strong long setup",
		SignalBuy:        "Moderate long setup",
		SignalHold:       "No edge",
		SignalSell:       "Moderate short setup",
		SignalStrongSell: "Strong short setup",
	}[class]

	caution := map[RiskLevel]string{
		RiskLow:    "conditions are calm",
		RiskMedium: "size positions normally",
		RiskHigh:   "reduce size and widen invalidation",
	}[risk]

	if class == SignalHold || dominant == "" {
		return fmt.Sprintf("%s; %s.", action, caution)
	}
	return fmt.Sprintf("%s driven by %s; %s.", action, dominant, caution)
}
