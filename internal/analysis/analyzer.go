package analysis

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/perpsight/perpsight/internal/breaker"
	"github.com/perpsight/perpsight/internal/confluence"
	"github.com/perpsight/perpsight/internal/errs"
	"github.com/perpsight/perpsight/internal/indicators"
	"github.com/perpsight/perpsight/internal/market"
	"github.com/perpsight/perpsight/internal/pairs"
	"github.com/perpsight/perpsight/internal/signal"
)

// Fetch limits and defaults.
const (
	DefaultCandleLimit = 100
	MaxCandleLimit     = 1000
	tradeLimit         = 200
	fundingHistLimit   = 48
	oiHistLimit        = 48

	// DefaultTimeout bounds one pair analysis end to end.
	DefaultTimeout = 30 * time.Second
)

// criticalLayers must produce results; losing two or more fails the pair.
var criticalLayers = map[string]bool{
	indicators.LayerStructure: true,
	indicators.LayerCVD:       true,
	indicators.LayerMomentum:  true,
}

// Options tunes a single analysis request.
type Options struct {
	Limit          int             // candle count, clamped to [1, MaxCandleLimit]
	IncludeDetails bool            // attach the full indicator set to the result
	EnabledLayers  map[string]bool // nil means all eight
}

func (o Options) candleLimit() int {
	if o.Limit <= 0 {
		return DefaultCandleLimit
	}
	if o.Limit > MaxCandleLimit {
		return MaxCandleLimit
	}
	return o.Limit
}

// Result is one completed pair analysis.
type Result struct {
	Pair             string             `json:"pair"`
	Timeframe        string             `json:"timeframe"`
	Signal           *signal.Signal     `json:"signal"`
	Confluence       *confluence.Result `json:"confluence"`
	Indicators       *indicators.Set    `json:"indicators,omitempty"`
	DegradedLayers   []string           `json:"degraded_layers,omitempty"`
	ProcessingTimeMs int64              `json:"processing_time_ms"`
}

// Analyzer runs the full pipeline for one pair: fetch, engines, scoring,
// enrichment, guarded by the pair's circuit breaker.
type Analyzer struct {
	gateway  market.Gateway
	scorer   *confluence.Scorer
	enricher *signal.Enricher
	breakers *breaker.Registry
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewAnalyzer wires the pipeline. A zero timeout uses the default 30s.
func NewAnalyzer(gateway market.Gateway, scorer *confluence.Scorer, enricher *signal.Enricher, breakers *breaker.Registry, timeout time.Duration) *Analyzer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Analyzer{
		gateway:  gateway,
		scorer:   scorer,
		enricher: enricher,
		breakers: breakers,
		timeout:  timeout,
		logger:   log.With().Str("component", "analyzer").Logger(),
	}
}

// Analyze validates, fetches, runs the engines and scores one pair. The
// breaker records the outcome; validation failures bypass it entirely.
func (a *Analyzer) Analyze(ctx context.Context, pair string, tf pairs.Timeframe, opts Options) (*Result, error) {
	started := time.Now()

	normalized := pairs.Normalize(pair)
	if !pairs.IsKnown(normalized) {
		return nil, errs.Newf(errs.KindValidation, "unknown pair %q", pair)
	}
	if _, err := pairs.ParseTimeframe(string(tf)); err != nil {
		return nil, errs.Wrap(errs.KindValidation, "invalid timeframe", err)
	}

	var result *Result
	err := a.breakers.Do(normalized, func() error {
		var runErr error
		result, runErr = a.run(ctx, normalized, tf, opts)
		return runErr
	})
	if err != nil {
		return nil, err
	}

	result.ProcessingTimeMs = time.Since(started).Milliseconds()
	return result, nil
}

func (a *Analyzer) run(ctx context.Context, pair string, tf pairs.Timeframe, opts Options) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	snap, degraded, err := a.fetch(ctx, pair, tf, opts.candleLimit())
	if err != nil {
		return nil, err
	}

	set := a.runEngines(ctx, snap, tf, opts.EnabledLayers)

	unavailableCritical := 0
	for layer := range criticalLayers {
		if summary, ran := set.Summary(layer); ran && summary.Unavailable {
			unavailableCritical++
		}
	}
	if unavailableCritical >= 2 {
		return nil, errs.Newf(errs.KindServiceUnavailable,
			"%d critical engines unavailable for %s", unavailableCritical, pair)
	}

	price, _ := snap.Price()
	scored := a.scorer.Score(set, tf, price, opts.EnabledLayers)
	scored.DegradedLayers = mergeDegraded(scored.DegradedLayers, degraded)
	sig := a.enricher.Enrich(pair, tf, scored, set, price)

	result := &Result{
		Pair:           pair,
		Timeframe:      string(tf),
		Signal:         sig,
		Confluence:     scored,
		DegradedLayers: scored.DegradedLayers,
	}
	if opts.IncludeDetails {
		result.Indicators = set
	}

	a.logger.Debug().
		Str("pair", pair).
		Str("timeframe", string(tf)).
		Str("signal", string(scored.Signal)).
		Float64("score", scored.OverallScore).
		Strs("degraded", result.DegradedLayers).
		Msg("Pair analyzed")

	return result, nil
}

// fetch pulls all inputs concurrently. Candles are required; every other
// input degrades the engines that need it. degraded lists the inputs lost.
func (a *Analyzer) fetch(ctx context.Context, pair string, tf pairs.Timeframe, limit int) (*market.Snapshot, []string, error) {
	snap := &market.Snapshot{Pair: pair}

	var mu sync.Mutex
	var degraded []string
	soft := func(input string, fn func() error) func() error {
		return func() error {
			if err := fn(); err != nil {
				mu.Lock()
				degraded = append(degraded, input)
				mu.Unlock()
				a.logger.Warn().Err(err).Str("pair", pair).Str("input", input).
					Msg("Optional input unavailable")
			}
			return nil
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		candles, err := a.gateway.Candles(gctx, pair, tf, limit)
		if err != nil {
			return errs.Wrap(errs.Classify(err), "candle fetch failed", err)
		}
		snap.Candles = candles
		return nil
	})
	g.Go(soft("trades", func() error {
		trades, err := a.gateway.Trades(gctx, pair, tradeLimit)
		snap.Trades = trades
		return err
	}))
	g.Go(soft("order_book", func() error {
		book, err := a.gateway.OrderBook(gctx, pair)
		snap.Book = book
		return err
	}))
	g.Go(soft("ticker", func() error {
		ticker, err := a.gateway.Ticker(gctx, pair)
		snap.Ticker = ticker
		return err
	}))
	g.Go(soft("funding", func() error {
		funding, err := a.gateway.FundingRate(gctx, pair)
		snap.Funding = funding
		return err
	}))
	g.Go(soft("funding_history", func() error {
		hist, err := a.gateway.FundingHistory(gctx, pair, fundingHistLimit)
		snap.FundingHistory = hist
		return err
	}))
	g.Go(soft("open_interest", func() error {
		oi, err := a.gateway.OpenInterest(gctx, pair)
		snap.OI = oi
		return err
	}))
	g.Go(soft("open_interest_history", func() error {
		hist, err := a.gateway.OpenInterestHistory(gctx, pair, tf, oiHistLimit)
		snap.OIHistory = hist
		return err
	}))

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return snap, degraded, nil
}

// runEngines executes the enabled engines in parallel. The scorer observes
// the complete set only after every goroutine finished.
func (a *Analyzer) runEngines(ctx context.Context, snap *market.Snapshot, tf pairs.Timeframe, enabled map[string]bool) *indicators.Set {
	on := func(layer string) bool { return enabled == nil || enabled[layer] }

	set := &indicators.Set{}
	var wg sync.WaitGroup
	spawn := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			fn()
		}()
	}

	// CVD feeds the enhanced layer's divergence check, so both run on one
	// goroutine; everything else is independent.
	spawn(func() {
		if on(indicators.LayerCVD) {
			set.CVD = indicators.AnalyzeCVD(snap.Candles, snap.Trades, tf)
		}
		if on(indicators.LayerEnhanced) {
			set.Enhanced = indicators.AnalyzeEnhanced(snap.Candles, snap.Ticker, set.CVD)
		}
	})
	spawn(func() {
		if on(indicators.LayerStructure) {
			set.Structure = indicators.AnalyzeStructure(snap.Candles)
		}
	})
	spawn(func() {
		if on(indicators.LayerMomentum) {
			set.Momentum = indicators.AnalyzeMomentum(snap.Candles)
		}
	})
	spawn(func() {
		if on(indicators.LayerOpenInterest) {
			set.OpenInterest = indicators.AnalyzeOpenInterest(snap.OI, snap.OIHistory, snap.Ticker)
		}
	})
	spawn(func() {
		if on(indicators.LayerFunding) {
			set.Funding = indicators.AnalyzeFunding(snap.Funding, snap.FundingHistory, snap.OIHistory)
		}
	})
	spawn(func() {
		if on(indicators.LayerInstitutional) {
			set.OrderFlow = indicators.AnalyzeOrderFlow(snap.Book, snap.Trades, snap.Candles)
		}
	})
	spawn(func() {
		if on(indicators.LayerFibonacci) {
			set.Fibonacci = indicators.AnalyzeFibonacci(snap.Candles)
		}
	})
	wg.Wait()
	return set
}

func mergeDegraded(layers, inputs []string) []string {
	seen := make(map[string]struct{}, len(layers)+len(inputs))
	out := make([]string, 0, len(layers)+len(inputs))
	for _, s := range append(layers, inputs...) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
