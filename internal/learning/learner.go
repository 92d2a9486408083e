package learning

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/perpsight/perpsight/internal/errs"
	"github.com/perpsight/perpsight/internal/metrics"
)

// Learning parameters.
const (
	// DefaultVelocity scales sentiment into weight deltas.
	DefaultVelocity = 0.15
	// DefaultMinFeedback is the minimum sample before any adjustment.
	DefaultMinFeedback = 3
	// Sentiment thresholds that trigger adjustments.
	DefaultNegativeThreshold = -0.25
	DefaultPositiveThreshold = 0.40
	// maxWeightDelta caps a single adjustment.
	maxWeightDelta = 0.2
	// Confidence shifts applied alongside weight changes.
	confidenceRaise = 0.05
	confidenceDrop  = 0.02

	// feedbackWindow is the trailing sentiment window.
	feedbackWindow = 7 * 24 * time.Hour
	// feedbackMirrorSize bounds the in-process feedback mirror.
	feedbackMirrorSize = 1000
	// queueSize bounds the intake channel; overflow drops the oldest entry.
	queueSize = 1000
)

// FeedbackRecord is one user rating of an emitted signal.
type FeedbackRecord struct {
	RefID         string    `json:"ref_id"`
	Rating        int       `json:"rating"` // +1 or -1
	PatternNames  []string  `json:"pattern_names,omitempty"`
	ResponseTimeS float64   `json:"response_time_s,omitempty"`
	ReceivedAt    time.Time `json:"received_at"`
}

// Journal persists feedback durably. The learner also keeps a bounded
// in-memory mirror so sentiment queries never block on storage.
type Journal interface {
	AppendFeedback(ctx context.Context, record FeedbackRecord) error
}

// WeightStore persists learned pattern weights. A Journal that also
// implements WeightStore gets every adjustment written through, so restored
// processes resume from the learned state.
type WeightStore interface {
	UpsertPattern(ctx context.Context, weight PatternWeight) error
}

// PatternStats summarizes trailing-window sentiment for one pattern.
type PatternStats struct {
	Pattern      string  `json:"pattern"`
	Positive     int     `json:"positive"`
	Negative     int     `json:"negative"`
	Total        int     `json:"total"`
	NetSentiment float64 `json:"net_sentiment"`
}

// Stats is the aggregate feedback view over a window.
type Stats struct {
	WindowDays      int            `json:"window_days"`
	TotalFeedback   int            `json:"total_feedback"`
	Positive        int            `json:"positive"`
	Negative        int            `json:"negative"`
	AvgResponseTime float64        `json:"avg_response_time_s"`
	Patterns        []PatternStats `json:"patterns"`
}

// Config tunes the learner.
type Config struct {
	Velocity          float64
	MinFeedback       int
	NegativeThreshold float64
	PositiveThreshold float64
}

func (c *Config) withDefaults() Config {
	out := Config{
		Velocity:          DefaultVelocity,
		MinFeedback:       DefaultMinFeedback,
		NegativeThreshold: DefaultNegativeThreshold,
		PositiveThreshold: DefaultPositiveThreshold,
	}
	if c == nil {
		return out
	}
	if c.Velocity > 0 {
		out.Velocity = c.Velocity
	}
	if c.MinFeedback > 0 {
		out.MinFeedback = c.MinFeedback
	}
	if c.NegativeThreshold < 0 {
		out.NegativeThreshold = c.NegativeThreshold
	}
	if c.PositiveThreshold > 0 {
		out.PositiveThreshold = c.PositiveThreshold
	}
	return out
}

// Learner consumes feedback records and adjusts pattern weights. Writes to
// the registry are serialized through the single consumer goroutine.
type Learner struct {
	registry *Registry
	journal  Journal
	weights  WeightStore
	cfg      Config
	logger   zerolog.Logger
	now      func() time.Time

	queue chan FeedbackRecord

	// pending and latched are only touched by the consumer goroutine.
	pending map[string]struct{}
	latched map[string]struct{}

	mu     sync.Mutex
	mirror []FeedbackRecord
	seen   map[string]struct{}
}

// NewLearner creates a learner writing into registry. journal may be nil
// for purely in-memory operation; when it also implements WeightStore,
// adjustments are written through to it.
func NewLearner(registry *Registry, journal Journal, cfg *Config) *Learner {
	l := &Learner{
		registry: registry,
		journal:  journal,
		cfg:      cfg.withDefaults(),
		logger:   log.With().Str("component", "learner").Logger(),
		now:      time.Now,
		queue:    make(chan FeedbackRecord, queueSize),
		pending:  make(map[string]struct{}),
		latched:  make(map[string]struct{}),
		seen:     make(map[string]struct{}, feedbackMirrorSize),
	}
	if ws, ok := journal.(WeightStore); ok {
		l.weights = ws
	}
	return l
}

// Submit validates and enqueues a feedback record. A ref_id already rated is
// accepted as a no-op so repeated deliveries stay idempotent. When the queue
// is full the oldest buffered record is dropped.
func (l *Learner) Submit(record FeedbackRecord) error {
	if record.RefID == "" {
		return errs.New(errs.KindValidation, "ref_id is required")
	}
	if record.Rating != 1 && record.Rating != -1 {
		return errs.Newf(errs.KindValidation, "rating must be +1 or -1, got %d", record.Rating)
	}
	if record.ReceivedAt.IsZero() {
		record.ReceivedAt = l.now()
	}

	l.mu.Lock()
	_, dup := l.seen[record.RefID]
	l.mu.Unlock()
	if dup {
		return nil
	}

	for {
		select {
		case l.queue <- record:
			return nil
		default:
		}
		select {
		case dropped := <-l.queue:
			l.logger.Warn().Str("ref_id", dropped.RefID).Msg("Feedback queue full, dropped oldest")
		default:
		}
	}
}

// Run consumes the feedback queue until ctx is cancelled. Backlogged records
// are drained before sentiment is evaluated, so a burst of feedback for a
// pattern produces a single adjustment rather than one per record.
func (l *Learner) Run(ctx context.Context) {
	l.logger.Info().Msg("Feedback learner started")
	for {
		select {
		case <-ctx.Done():
			l.logger.Info().Msg("Feedback learner stopped")
			return
		case record := <-l.queue:
			l.apply(ctx, record)
			l.drain(ctx)
			l.flush(ctx)
		}
	}
}

func (l *Learner) drain(ctx context.Context) {
	for {
		select {
		case record := <-l.queue:
			l.apply(ctx, record)
		default:
			return
		}
	}
}

// apply records the feedback and marks each named pattern for evaluation on
// the next flush.
func (l *Learner) apply(ctx context.Context, record FeedbackRecord) {
	l.mu.Lock()
	if _, dup := l.seen[record.RefID]; dup {
		l.mu.Unlock()
		return
	}
	l.seen[record.RefID] = struct{}{}
	l.mirror = append(l.mirror, record)
	if len(l.mirror) > feedbackMirrorSize {
		evicted := l.mirror[0]
		l.mirror = l.mirror[1:]
		delete(l.seen, evicted.RefID)
	}
	l.mu.Unlock()

	if l.journal != nil {
		if err := l.journal.AppendFeedback(ctx, record); err != nil {
			l.logger.Error().Err(err).Str("ref_id", record.RefID).Msg("Failed to persist feedback")
		}
	}

	for _, pattern := range record.PatternNames {
		l.pending[pattern] = struct{}{}
	}
}

// flush evaluates every pattern touched since the last flush.
func (l *Learner) flush(ctx context.Context) {
	for pattern := range l.pending {
		delete(l.pending, pattern)
		l.evaluate(ctx, pattern)
	}
}

// evaluate recomputes the pattern's trailing-window sentiment and applies an
// adjustment when it crosses a threshold. A pattern that adjusted stays
// latched until its sentiment returns inside the neutral band, so one
// crossing yields one adjustment no matter how much feedback piles on.
func (l *Learner) evaluate(ctx context.Context, pattern string) {
	stats := l.patternWindow(pattern, l.now().Add(-feedbackWindow))
	if stats.Total < l.cfg.MinFeedback {
		return
	}

	net := stats.NetSentiment
	var weightDelta, confidenceDelta float64
	switch {
	case net < l.cfg.NegativeThreshold:
		weightDelta = -math.Min(maxWeightDelta, math.Abs(net)*l.cfg.Velocity)
		confidenceDelta = confidenceRaise
	case net > l.cfg.PositiveThreshold:
		weightDelta = math.Min(maxWeightDelta, net*l.cfg.Velocity)
		confidenceDelta = -confidenceDrop
	default:
		delete(l.latched, pattern)
		return
	}

	if _, held := l.latched[pattern]; held {
		return
	}
	l.latched[pattern] = struct{}{}

	updated := l.registry.adjust(pattern, weightDelta, confidenceDelta, net, stats.Total, l.now())
	l.logger.Info().
		Str("pattern", pattern).
		Float64("net_sentiment", net).
		Int("samples", stats.Total).
		Float64("weight_delta", weightDelta).
		Float64("current_weight", updated.CurrentWeight).
		Float64("min_confidence", updated.MinConfidence).
		Msg("Pattern weight adjusted")
	metrics.PatternWeight.WithLabelValues(pattern).Set(updated.CurrentWeight)

	if l.weights != nil {
		if err := l.weights.UpsertPattern(ctx, updated); err != nil {
			l.logger.Error().Err(err).Str("pattern", pattern).Msg("Failed to persist pattern weight")
		}
	}
}

func (l *Learner) patternWindow(pattern string, since time.Time) PatternStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := PatternStats{Pattern: pattern}
	for _, r := range l.mirror {
		if r.ReceivedAt.Before(since) || !names(r.PatternNames, pattern) {
			continue
		}
		if r.Rating > 0 {
			stats.Positive++
		} else {
			stats.Negative++
		}
	}
	stats.Total = stats.Positive + stats.Negative
	if stats.Total > 0 {
		stats.NetSentiment = float64(stats.Positive-stats.Negative) / float64(stats.Total)
	}
	return stats
}

func names(patterns []string, want string) bool {
	for _, p := range patterns {
		if p == want {
			return true
		}
	}
	return false
}

// Stats aggregates feedback over the trailing number of days (default 7).
func (l *Learner) Stats(days int) Stats {
	if days <= 0 {
		days = 7
	}
	since := l.now().Add(-time.Duration(days) * 24 * time.Hour)

	l.mu.Lock()
	defer l.mu.Unlock()

	out := Stats{WindowDays: days}
	perPattern := make(map[string]*PatternStats)
	var responseSum float64
	var responseCount int

	for _, r := range l.mirror {
		if r.ReceivedAt.Before(since) {
			continue
		}
		out.TotalFeedback++
		if r.Rating > 0 {
			out.Positive++
		} else {
			out.Negative++
		}
		if r.ResponseTimeS > 0 {
			responseSum += r.ResponseTimeS
			responseCount++
		}
		for _, p := range r.PatternNames {
			ps, ok := perPattern[p]
			if !ok {
				ps = &PatternStats{Pattern: p}
				perPattern[p] = ps
			}
			if r.Rating > 0 {
				ps.Positive++
			} else {
				ps.Negative++
			}
		}
	}

	if responseCount > 0 {
		out.AvgResponseTime = responseSum / float64(responseCount)
	}
	for _, ps := range perPattern {
		ps.Total = ps.Positive + ps.Negative
		if ps.Total > 0 {
			ps.NetSentiment = float64(ps.Positive-ps.Negative) / float64(ps.Total)
		}
		out.Patterns = append(out.Patterns, *ps)
	}
	sort.Slice(out.Patterns, func(i, j int) bool {
		return out.Patterns[i].Pattern < out.Patterns[j].Pattern
	})
	return out
}

// WeeklyReport renders a human-readable summary of the trailing 7 days.
func (l *Learner) WeeklyReport() string {
	stats := l.Stats(7)

	var b strings.Builder
	fmt.Fprintf(&b, "Feedback report, trailing %d days\n", stats.WindowDays)
	fmt.Fprintf(&b, "Total feedback: %d (%d positive, %d negative)\n",
		stats.TotalFeedback, stats.Positive, stats.Negative)
	if stats.AvgResponseTime > 0 {
		fmt.Fprintf(&b, "Average response time: %.1fs\n", stats.AvgResponseTime)
	}
	for _, ps := range stats.Patterns {
		fmt.Fprintf(&b, "  %s: %d ratings, net sentiment %+.2f\n",
			ps.Pattern, ps.Total, ps.NetSentiment)
	}
	for _, pw := range l.registry.All() {
		if len(pw.History) == 0 {
			continue
		}
		last := pw.History[len(pw.History)-1]
		fmt.Fprintf(&b, "  weight %s: %.3f (last delta %+.3f at %s)\n",
			pw.Name, pw.CurrentWeight, last.Delta, last.AppliedAt.Format(time.RFC3339))
	}
	return b.String()
}
