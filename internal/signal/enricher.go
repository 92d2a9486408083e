package signal

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/perpsight/perpsight/internal/confluence"
	"github.com/perpsight/perpsight/internal/indicators"
	"github.com/perpsight/perpsight/internal/pairs"
)

// Bias is the trade direction a signal argues for.
type Bias string

const (
	BiasLong    Bias = "long"
	BiasShort   Bias = "short"
	BiasNeutral Bias = "neutral"
)

// Strength grades conviction from the overall score magnitude.
type Strength string

const (
	StrengthWeak       Strength = "WEAK"
	StrengthModerate   Strength = "MODERATE"
	StrengthStrong     Strength = "STRONG"
	StrengthVeryStrong Strength = "VERY_STRONG"
)

// Stop distance per strength tier, as a fraction of entry.
var stopDistances = map[Strength]float64{
	StrengthVeryStrong: 0.010,
	StrengthStrong:     0.012,
	StrengthModerate:   0.015,
	StrengthWeak:       0.020,
}

// Take-profit ladder: R-multiples applied to the configured risk-reward.
var tpMultiples = []float64{0.5, 1.0, 1.5}

// bookConflictRatio: a book side dominating the other by more than this
// factor contradicts a signal leaning against it.
const bookConflictRatio = 3.0

// realityCheckConfidenceCap bounds confidence after a bias rewrite.
const realityCheckConfidenceCap = 60

// Reasoning is the structured rationale attached to a signal.
type Reasoning struct {
	PrimaryFactors     []string          `json:"primary_factors"`
	SupportingEvidence map[string]string `json:"supporting_evidence"`
	RiskFactors        []string          `json:"risk_factors"`
	MarketContext      string            `json:"market_context"`
}

// Signal is the fully enriched, actionable output for one pair.
type Signal struct {
	SignalID        string               `json:"signal_id"`
	Pair            string               `json:"pair"`
	Timeframe       string               `json:"timeframe"`
	Bias            Bias                 `json:"bias"`
	Confidence      float64              `json:"confidence"`
	Strength        Strength             `json:"strength"`
	Entry           float64              `json:"entry,omitempty"`
	StopLoss        float64              `json:"stop_loss,omitempty"`
	TakeProfits     []float64            `json:"take_profits,omitempty"`
	RiskReward      float64              `json:"risk_reward,omitempty"`
	RecommendedSize float64              `json:"recommended_size_fraction"`
	SizeCoins       float64              `json:"size_coins,omitempty"`
	MaxHolding      time.Duration        `json:"max_holding,omitempty"`
	Reasoning       Reasoning            `json:"reasoning"`
	Invalidation    []string             `json:"invalidation_conditions,omitempty"`
	Incomplete      bool                 `json:"incomplete,omitempty"`
	CreatedAtMs     int64                `json:"created_at_ms"`
	RiskLevel       confluence.RiskLevel `json:"risk_level"`
}

// Config carries the sizing and target parameters.
type Config struct {
	RiskReward      float64 // target RR for the TP ladder, default 2.0
	AccountEquity   float64 // USD, for the coin-quantity example
	RiskPerTradePct float64 // percent of equity risked per trade
	BaseSizePct     float64 // base position size fraction, default 0.10
	MaxSizePct      float64 // clamp ceiling, default 0.30
}

func (c *Config) withDefaults() Config {
	out := Config{
		RiskReward:      2.0,
		AccountEquity:   10000,
		RiskPerTradePct: 1.0,
		BaseSizePct:     0.10,
		MaxSizePct:      0.30,
	}
	if c == nil {
		return out
	}
	if c.RiskReward > 0 {
		out.RiskReward = c.RiskReward
	}
	if c.AccountEquity > 0 {
		out.AccountEquity = c.AccountEquity
	}
	if c.RiskPerTradePct > 0 {
		out.RiskPerTradePct = c.RiskPerTradePct
	}
	if c.BaseSizePct > 0 {
		out.BaseSizePct = c.BaseSizePct
	}
	if c.MaxSizePct > 0 {
		out.MaxSizePct = c.MaxSizePct
	}
	return out
}

// Enricher turns confluence results into execution-ready signals.
type Enricher struct {
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time
	newID  func() string
}

// NewEnricher creates an enricher. nil config uses defaults.
func NewEnricher(cfg *Config) *Enricher {
	return &Enricher{
		cfg:    cfg.withDefaults(),
		logger: log.With().Str("component", "enricher").Logger(),
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}
}

// Enrich produces a Signal from a scored result. price <= 0 means the
// gateway could not supply one: the signal is emitted with zero size and
// marked incomplete rather than priced off a placeholder.
func (e *Enricher) Enrich(pair string, tf pairs.Timeframe, result *confluence.Result, set *indicators.Set, price float64) *Signal {
	bias := biasOf(result.Signal)
	strength := strengthOf(result.OverallScore)
	confidence := math.Abs(result.OverallScore)

	reasoning := e.buildReasoning(result, set)
	bias, confidence = e.realityCheck(bias, confidence, set, &reasoning)

	sig := &Signal{
		SignalID:    e.newID(),
		Pair:        pair,
		Timeframe:   string(tf),
		Bias:        bias,
		Confidence:  confidence,
		Strength:    strength,
		Reasoning:   reasoning,
		RiskLevel:   result.RiskLevel,
		CreatedAtMs: e.now().UnixMilli(),
	}

	if bias == BiasNeutral {
		return sig
	}
	if price <= 0 {
		sig.Incomplete = true
		return sig
	}

	sd := stopDistances[strength]
	sig.Entry = price
	if bias == BiasLong {
		sig.StopLoss = price * (1 - sd)
	} else {
		sig.StopLoss = price * (1 + sd)
	}

	risk := math.Abs(sig.Entry - sig.StopLoss)
	for _, m := range tpMultiples {
		target := risk * e.cfg.RiskReward * m
		if bias == BiasLong {
			sig.TakeProfits = append(sig.TakeProfits, sig.Entry+target)
		} else {
			sig.TakeProfits = append(sig.TakeProfits, sig.Entry-target)
		}
	}
	sig.RiskReward = math.Abs(sig.TakeProfits[0]-sig.Entry) / risk

	sig.RecommendedSize = clamp(
		e.cfg.BaseSizePct*(confidence/100)*(strengthValue(strength)/100),
		0, e.cfg.MaxSizePct)
	sig.SizeCoins = e.cfg.AccountEquity * e.cfg.RiskPerTradePct / 100 / risk
	sig.MaxHolding = maxHolding(tf)
	sig.Invalidation = invalidationConditions(bias, sig.StopLoss)

	e.logger.Debug().
		Str("pair", pair).
		Str("bias", string(bias)).
		Str("strength", string(strength)).
		Float64("entry", sig.Entry).
		Float64("stop", sig.StopLoss).
		Msg("Signal enriched")

	return sig
}

func biasOf(class confluence.SignalClass) Bias {
	switch class {
	case confluence.SignalBuy, confluence.SignalStrongBuy:
		return BiasLong
	case confluence.SignalSell, confluence.SignalStrongSell:
		return BiasShort
	default:
		return BiasNeutral
	}
}

func strengthOf(overall float64) Strength {
	abs := math.Abs(overall)
	switch {
	case abs >= 75:
		return StrengthVeryStrong
	case abs > 50:
		return StrengthStrong
	case abs > 20:
		return StrengthModerate
	default:
		return StrengthWeak
	}
}

// strengthValue maps the strength tier to a 0-100 scale for sizing.
func strengthValue(s Strength) float64 {
	switch s {
	case StrengthVeryStrong:
		return 100
	case StrengthStrong:
		return 75
	case StrengthModerate:
		return 50
	default:
		return 25
	}
}

// maxHolding caps the advised holding period at 24 bars of the timeframe.
func maxHolding(tf pairs.Timeframe) time.Duration {
	return 24 * time.Duration(tf.IntervalMs()) * time.Millisecond
}

func invalidationConditions(bias Bias, stop float64) []string {
	if bias == BiasLong {
		return []string{
			fmt.Sprintf("candle close below %.6f", stop),
			"CVD flips to sell dominance",
			"open interest unwinds while price stalls",
		}
	}
	return []string{
		fmt.Sprintf("candle close above %.6f", stop),
		"CVD flips to buy dominance",
		"open interest unwinds while price stalls",
	}
}

// buildReasoning assembles the top contributing factors, their evidence and
// the environment risk factors.
func (e *Enricher) buildReasoning(result *confluence.Result, set *indicators.Set) Reasoning {
	type contribution struct {
		layer  string
		weight float64
	}
	contribs := make([]contribution, 0, len(result.ActiveWeights))
	for layer, w := range result.ActiveWeights {
		contribs = append(contribs, contribution{layer, math.Abs(w * result.LayerScores[layer])})
	}
	sort.Slice(contribs, func(i, j int) bool {
		if contribs[i].weight != contribs[j].weight {
			return contribs[i].weight > contribs[j].weight
		}
		return contribs[i].layer < contribs[j].layer
	})

	evidence := make(map[string]string)
	var primary []string
	for _, c := range contribs {
		if len(primary) == 3 {
			break
		}
		primary = append(primary, c.layer)
		if ev := set.Evidence(c.layer); ev != "" {
			evidence[c.layer] = ev
		}
	}

	return Reasoning{
		PrimaryFactors:     primary,
		SupportingEvidence: evidence,
		RiskFactors:        riskFactors(set),
		MarketContext: fmt.Sprintf("%s on %s timeframe, risk %s: %s",
			result.Signal, result.Timeframe, result.RiskLevel, result.Recommendation),
	}
}

func riskFactors(set *indicators.Set) []string {
	var out []string
	if set.Enhanced != nil && !set.Enhanced.Unavailable {
		switch set.Enhanced.Regime {
		case indicators.RegimeHigh, indicators.RegimeExtreme:
			out = append(out, fmt.Sprintf("%s volatility regime (ATR %.2f%%)", set.Enhanced.Regime, set.Enhanced.ATRPct))
		}
		switch set.Enhanced.Tier {
		case indicators.LiquidityIlliquid, indicators.LiquidityLow:
			out = append(out, fmt.Sprintf("%s liquidity tier", set.Enhanced.Tier))
		case indicators.LiquidityUnknown:
			out = append(out, "liquidity unknown, ticker unavailable")
		}
	}
	if set.OpenInterest != nil && !set.OpenInterest.Unavailable && len(set.OpenInterest.Clusters) > 0 {
		out = append(out, fmt.Sprintf("%d liquidation clusters nearby", len(set.OpenInterest.Clusters)))
	}
	return out
}

// realityCheck enforces cross-layer consistency: primary factors without
// supporting evidence are dropped, and a bias contradicted by a heavily
// one-sided order book in two or more layers is rewritten to neutral with
// confidence capped.
func (e *Enricher) realityCheck(bias Bias, confidence float64, set *indicators.Set, r *Reasoning) (Bias, float64) {
	kept := r.PrimaryFactors[:0]
	for _, f := range r.PrimaryFactors {
		if _, ok := r.SupportingEvidence[f]; ok {
			kept = append(kept, f)
		}
	}
	r.PrimaryFactors = kept

	if bias == BiasNeutral || set.OrderFlow == nil || set.OrderFlow.Unavailable {
		return bias, confidence
	}

	imbalance := set.OrderFlow.BookImbalance
	bookSide := BiasNeutral
	if imbalance > bookConflictRatio {
		bookSide = BiasLong
	} else if imbalance > 0 && imbalance < 1/bookConflictRatio {
		bookSide = BiasShort
	}
	if bookSide == BiasNeutral || bookSide == bias {
		return bias, confidence
	}

	// Count layers agreeing with the book against the stated bias.
	against := 0
	for _, layer := range indicators.Layers() {
		summary, ok := set.Summary(layer)
		if !ok || summary.Unavailable {
			continue
		}
		signed := summary.Signed()
		if (bookSide == BiasLong && signed > 0) || (bookSide == BiasShort && signed < 0) {
			against++
		}
	}
	if against < 2 {
		return bias, confidence
	}

	e.logger.Info().
		Float64("book_imbalance", imbalance).
		Int("layers_against", against).
		Msg("Reality check rewrote bias to neutral")

	if confidence > realityCheckConfidenceCap {
		confidence = realityCheckConfidenceCap
	}
	return BiasNeutral, confidence
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
