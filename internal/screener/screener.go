package screener

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/perpsight/perpsight/internal/analysis"
	"github.com/perpsight/perpsight/internal/errs"
	"github.com/perpsight/perpsight/internal/pairs"
)

// Batching defaults.
const (
	DefaultBatchSize       = 15
	DefaultRegimeBatchSize = 10
	DefaultInterBatchDelay = 250 * time.Millisecond

	// MaxSymbols bounds one screening request after dedup.
	MaxSymbols = 100
)

var symbolPattern = regexp.MustCompile(`^[A-Z0-9]{2,10}$`)

// Request is one multi-symbol screening call.
type Request struct {
	Symbols        []string
	Timeframe      pairs.Timeframe
	IncludeDetails bool
	EnabledLayers  map[string]bool
	// Regime selects the smaller regime-detection batch size.
	Regime bool
}

// Failure describes one pair that could not be analyzed.
type Failure struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

// PairOutcome is the per-pair slot in a screening response: exactly one of
// Result or Failure is set.
type PairOutcome struct {
	Pair             string           `json:"pair"`
	Result           *analysis.Result `json:"result,omitempty"`
	Failure          *Failure         `json:"failure,omitempty"`
	ProcessingTimeMs int64            `json:"processing_time_ms"`
}

// BatchSummary reports one executed batch.
type BatchSummary struct {
	Index            int   `json:"index"`
	Size             int   `json:"size"`
	Succeeded        int   `json:"succeeded"`
	Failed           int   `json:"failed"`
	ProcessingTimeMs int64 `json:"processing_time_ms"`
}

// Stats is the order-independent aggregate over one screening run.
type Stats struct {
	TotalRequested   int            `json:"total_symbols_requested"`
	TotalProcessed   int            `json:"total_symbols_processed"`
	Succeeded        int            `json:"successful_results"`
	Failed           int            `json:"failed_results"`
	SuccessRatePct   float64        `json:"success_rate_pct"`
	ProcessingTimeMs int64          `json:"processing_time_ms"`
	BatchingUsed     bool           `json:"batching_used"`
	BatchCount       int            `json:"batch_count"`
	Batches          []BatchSummary `json:"batch_summaries,omitempty"`
	SignalHistogram  map[string]int `json:"signal_histogram"`
	AverageScore     float64        `json:"average_score"`
}

// Response bundles outcomes, in request order, with the aggregate stats.
type Response struct {
	Results []PairOutcome `json:"results"`
	Stats   Stats         `json:"stats"`
}

// Config tunes batching.
type Config struct {
	BatchSize       int
	RegimeBatchSize int
	InterBatchDelay time.Duration
}

func (c *Config) withDefaults() Config {
	out := Config{
		BatchSize:       DefaultBatchSize,
		RegimeBatchSize: DefaultRegimeBatchSize,
		InterBatchDelay: DefaultInterBatchDelay,
	}
	if c == nil {
		return out
	}
	if c.BatchSize > 0 {
		out.BatchSize = c.BatchSize
	}
	if c.RegimeBatchSize > 0 {
		out.RegimeBatchSize = c.RegimeBatchSize
	}
	if c.InterBatchDelay > 0 {
		out.InterBatchDelay = c.InterBatchDelay
	}
	return out
}

// Screener fans one request out over the analyzer in bounded batches.
// One pair's failure never aborts its siblings.
type Screener struct {
	analyzer *analysis.Analyzer
	cfg      Config
	logger   zerolog.Logger
	// sleep is swapped in tests to avoid real inter-batch delays.
	sleep func(ctx context.Context, d time.Duration)
}

// NewScreener creates a screener. nil config uses defaults.
func NewScreener(analyzer *analysis.Analyzer, cfg *Config) *Screener {
	return &Screener{
		analyzer: analyzer,
		cfg:      cfg.withDefaults(),
		logger:   log.With().Str("component", "screener").Logger(),
		sleep: func(ctx context.Context, d time.Duration) {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
			case <-t.C:
			}
		},
	}
}

// Screen validates, batches and runs the request. A validation error is
// returned only for request-level problems; per-symbol problems become
// per-pair failures.
func (s *Screener) Screen(ctx context.Context, req Request) (*Response, error) {
	started := time.Now()

	symbols, err := normalizeSymbols(req.Symbols)
	if err != nil {
		return nil, err
	}
	if _, err := pairs.ParseTimeframe(string(req.Timeframe)); err != nil {
		return nil, errs.Wrap(errs.KindValidation, "invalid timeframe", err)
	}

	batchSize := s.cfg.BatchSize
	if req.Regime {
		batchSize = s.cfg.RegimeBatchSize
	}

	outcomes := make([]PairOutcome, len(symbols))
	var batches []BatchSummary
	batching := len(symbols) > batchSize

	for batchIdx, start := 0, 0; start < len(symbols); batchIdx, start = batchIdx+1, start+batchSize {
		if batchIdx > 0 {
			s.sleep(ctx, s.cfg.InterBatchDelay)
		}

		end := start + batchSize
		if end > len(symbols) {
			end = len(symbols)
		}

		batchStart := time.Now()
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			i := i
			wg.Add(1)
			go func() {
				defer wg.Done()
				outcomes[i] = s.analyzeOne(ctx, symbols[i], req)
			}()
		}
		wg.Wait()

		summary := BatchSummary{
			Index:            batchIdx,
			Size:             end - start,
			ProcessingTimeMs: time.Since(batchStart).Milliseconds(),
		}
		for i := start; i < end; i++ {
			if outcomes[i].Failure == nil {
				summary.Succeeded++
			} else {
				summary.Failed++
			}
		}
		batches = append(batches, summary)
	}

	stats := aggregate(outcomes, batches, batching)
	stats.TotalRequested = len(req.Symbols)
	stats.ProcessingTimeMs = time.Since(started).Milliseconds()

	s.logger.Info().
		Int("requested", stats.TotalRequested).
		Int("processed", stats.TotalProcessed).
		Int("succeeded", stats.Succeeded).
		Int("failed", stats.Failed).
		Int("batches", stats.BatchCount).
		Msg("Screen completed")

	return &Response{Results: outcomes, Stats: stats}, nil
}

func (s *Screener) analyzeOne(ctx context.Context, symbol string, req Request) PairOutcome {
	started := time.Now()
	outcome := PairOutcome{Pair: symbol}

	if !pairs.IsKnown(symbol) {
		outcome.Failure = &Failure{
			Category: string(errs.KindValidation),
			Message:  "unknown symbol " + symbol,
		}
		outcome.ProcessingTimeMs = time.Since(started).Milliseconds()
		return outcome
	}

	result, err := s.analyzer.Analyze(ctx, symbol, req.Timeframe, analysis.Options{
		IncludeDetails: req.IncludeDetails,
		EnabledLayers:  req.EnabledLayers,
	})
	if err != nil {
		outcome.Failure = &Failure{
			Category: string(errs.KindOf(err)),
			Message:  err.Error(),
		}
	} else {
		outcome.Result = result
	}
	outcome.ProcessingTimeMs = time.Since(started).Milliseconds()
	return outcome
}

// normalizeSymbols uppercases, pattern-checks and dedups while preserving
// order. Pattern violations and size-limit breaches are request-level errors.
func normalizeSymbols(symbols []string) ([]string, error) {
	if len(symbols) == 0 {
		return nil, errs.New(errs.KindValidation, "symbols list is empty")
	}

	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, raw := range symbols {
		sym := pairs.Normalize(raw)
		if !symbolPattern.MatchString(sym) {
			return nil, errs.Newf(errs.KindValidation, "malformed symbol %q", raw)
		}
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}
	if len(out) > MaxSymbols {
		return nil, errs.Newf(errs.KindValidation, "too many symbols: %d (max %d)", len(out), MaxSymbols)
	}
	return out, nil
}

func aggregate(outcomes []PairOutcome, batches []BatchSummary, batching bool) Stats {
	stats := Stats{
		TotalProcessed:  len(outcomes),
		BatchingUsed:    batching,
		BatchCount:      len(batches),
		Batches:         batches,
		SignalHistogram: make(map[string]int),
	}

	var scoreSum float64
	for _, o := range outcomes {
		if o.Failure != nil {
			stats.Failed++
			continue
		}
		stats.Succeeded++
		if o.Result != nil && o.Result.Confluence != nil {
			stats.SignalHistogram[string(o.Result.Confluence.Signal)]++
			scoreSum += o.Result.Confluence.OverallScore
		}
	}
	if stats.Succeeded > 0 {
		stats.AverageScore = scoreSum / float64(stats.Succeeded)
	}
	if stats.TotalProcessed > 0 {
		stats.SuccessRatePct = float64(stats.Succeeded) / float64(stats.TotalProcessed) * 100
	}
	return stats
}
