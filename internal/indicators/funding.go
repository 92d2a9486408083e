package indicators

import (
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/perpsight/perpsight/internal/market"
)

// Extreme funding threshold: |rate| > 0.03% signals a crowded side.
const extremeFundingRate = 0.0003

// FundingRegime classifies the current funding environment.
type FundingRegime string

const (
	RegimeNeutralFunding FundingRegime = "neutral"
	RegimeCrowdedLongs   FundingRegime = "crowded_longs"
	RegimeCrowdedShorts  FundingRegime = "crowded_shorts"
)

// FundingAnalysis is the funding-rate regime engine output.
type FundingAnalysis struct {
	Summary
	Rate          float64       `json:"rate"`
	Extreme       bool          `json:"extreme"`
	Regime        FundingRegime `json:"regime"`
	OICorrelation float64       `json:"funding_oi_correlation"`
}

// Evidence returns a one-line summary for signal reasoning.
func (a *FundingAnalysis) Evidence() string {
	return fmt.Sprintf("funding %.4f%% (%s), OI correlation %.2f",
		a.Rate*100, a.Regime, a.OICorrelation)
}

// AnalyzeFunding runs the funding engine. Strongly positive funding means
// crowded longs and a short reversal bias; strongly negative the opposite.
func AnalyzeFunding(current *market.FundingRate, history []market.FundingRate, oiHistory []market.OpenInterest) *FundingAnalysis {
	if current == nil {
		return &FundingAnalysis{Summary: unavailable("no funding rate"), Regime: RegimeNeutralFunding}
	}

	rate := current.Rate
	extreme := math.Abs(rate) > extremeFundingRate

	regime := RegimeNeutralFunding
	lean := LeanNeutral
	score := 50.0
	switch {
	case rate > extremeFundingRate:
		regime = RegimeCrowdedLongs
		lean = LeanBearish
		score = clamp(50+math.Abs(rate)/extremeFundingRate*15, 50, 90)
	case rate < -extremeFundingRate:
		regime = RegimeCrowdedShorts
		lean = LeanBullish
		score = clamp(50+math.Abs(rate)/extremeFundingRate*15, 50, 90)
	}

	correlation := fundingOICorrelation(history, oiHistory)

	log.Debug().
		Float64("rate", rate).
		Bool("extreme", extreme).
		Str("regime", string(regime)).
		Float64("oi_correlation", correlation).
		Msg("Funding regime analyzed")

	return &FundingAnalysis{
		Summary:       Summary{Score: score, Lean: lean}.Checked(),
		Rate:          rate,
		Extreme:       extreme,
		Regime:        regime,
		OICorrelation: correlation,
	}
}

// fundingOICorrelation computes Pearson correlation over the aligned tails of
// both series. A zero-variance denominator yields 0.
func fundingOICorrelation(funding []market.FundingRate, oi []market.OpenInterest) float64 {
	n := len(funding)
	if len(oi) < n {
		n = len(oi)
	}
	if n < 3 {
		return 0
	}

	xs := make([]float64, n)
	ys := make([]float64, n)
	for i := 0; i < n; i++ {
		xs[i] = funding[len(funding)-n+i].Rate
		ys[i] = oi[len(oi)-n+i].USD
	}
	return pearson(sanitize(xs), sanitize(ys))
}

func pearson(xs, ys []float64) float64 {
	n := float64(len(xs))
	if n == 0 {
		return 0
	}

	var sumX, sumY float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
	}
	meanX, meanY := sumX/n, sumY/n

	var cov, varX, varY float64
	for i := range xs {
		dx := xs[i] - meanX
		dy := ys[i] - meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}

	denom := math.Sqrt(varX * varY)
	if denom == 0 || math.IsNaN(denom) {
		return 0
	}
	return cov / denom
}
