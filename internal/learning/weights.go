package learning

import (
	"sync"
	"time"
)

// Weight and confidence bounds for learned patterns.
const (
	WeightFloor   = 0.1
	WeightCeiling = 2.0

	MinConfidenceFloor   = 0.60
	MinConfidenceCeiling = 0.95

	// adjustmentHistorySize bounds the per-pattern adjustment ring.
	adjustmentHistorySize = 10
)

// Adjustment is one recorded weight change.
type Adjustment struct {
	Delta         float64   `json:"delta"`
	NetSentiment  float64   `json:"net_sentiment"`
	FeedbackCount int       `json:"feedback_count"`
	AppliedAt     time.Time `json:"applied_at"`
}

// PatternWeight is the learned state for one pattern.
type PatternWeight struct {
	Name          string       `json:"pattern_name"`
	BaseWeight    float64      `json:"base_weight"`
	CurrentWeight float64      `json:"current_weight"`
	MinConfidence float64      `json:"min_confidence"`
	History       []Adjustment `json:"adjustment_history"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// Registry holds pattern weights shared between the learner (writer) and the
// confluence scorer (reader). Writes are serialized per registry; reads see
// the most recent committed value.
type Registry struct {
	mu         sync.RWMutex
	defaultMin float64
	patterns   map[string]*PatternWeight
}

// NewRegistry creates an empty registry. Unknown patterns read as neutral.
func NewRegistry() *Registry {
	return &Registry{
		defaultMin: MinConfidenceFloor,
		patterns:   make(map[string]*PatternWeight),
	}
}

// SetDefaultMinConfidence sets the confidence floor applied to unknown and
// newly seeded patterns, clamped to the registry bounds. Call before Seed.
func (r *Registry) SetDefaultMinConfidence(v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultMin = clampConfidence(v)
}

// Multiplier returns current_weight/base_weight, 1.0 for unknown patterns.
func (r *Registry) Multiplier(pattern string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.patterns[pattern]
	if !ok || p.BaseWeight == 0 {
		return 1.0
	}
	return p.CurrentWeight / p.BaseWeight
}

// MinConfidence returns the pattern's confidence floor, or the registry
// default when the pattern is unknown.
func (r *Registry) MinConfidence(pattern string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.patterns[pattern]; ok {
		return p.MinConfidence
	}
	return r.defaultMin
}

// Get returns a copy of the pattern's state.
func (r *Registry) Get(pattern string) (PatternWeight, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.patterns[pattern]
	if !ok {
		return PatternWeight{}, false
	}
	return copyPattern(p), true
}

// All returns copies of every tracked pattern.
func (r *Registry) All() []PatternWeight {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PatternWeight, 0, len(r.patterns))
	for _, p := range r.patterns {
		out = append(out, copyPattern(p))
	}
	return out
}

// Seed registers a pattern with its base weight if not already present.
func (r *Registry) Seed(pattern string, baseWeight float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.patterns[pattern]; ok {
		return
	}
	r.patterns[pattern] = &PatternWeight{
		Name:          pattern,
		BaseWeight:    baseWeight,
		CurrentWeight: baseWeight,
		MinConfidence: r.defaultMin,
		UpdatedAt:     time.Now(),
	}
}

// Restore installs a previously persisted pattern state, clamping to bounds.
func (r *Registry) Restore(p PatternWeight) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.CurrentWeight = clampWeight(p.CurrentWeight)
	p.MinConfidence = clampConfidence(p.MinConfidence)
	if len(p.History) > adjustmentHistorySize {
		p.History = p.History[len(p.History)-adjustmentHistorySize:]
	}
	stored := p
	r.patterns[p.Name] = &stored
}

// adjust applies a weight delta and confidence shift atomically, recording
// the change in the pattern's history ring. Returns the updated copy.
func (r *Registry) adjust(pattern string, weightDelta, confidenceDelta, net float64, count int, at time.Time) PatternWeight {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.patterns[pattern]
	if !ok {
		p = &PatternWeight{
			Name:          pattern,
			BaseWeight:    1.0,
			CurrentWeight: 1.0,
			MinConfidence: r.defaultMin,
		}
		r.patterns[pattern] = p
	}

	p.CurrentWeight = clampWeight(p.CurrentWeight + weightDelta)
	p.MinConfidence = clampConfidence(p.MinConfidence + confidenceDelta)
	p.UpdatedAt = at
	p.History = append(p.History, Adjustment{
		Delta:         weightDelta,
		NetSentiment:  net,
		FeedbackCount: count,
		AppliedAt:     at,
	})
	if len(p.History) > adjustmentHistorySize {
		p.History = p.History[len(p.History)-adjustmentHistorySize:]
	}
	return copyPattern(p)
}

func copyPattern(p *PatternWeight) PatternWeight {
	out := *p
	out.History = append([]Adjustment(nil), p.History...)
	return out
}

func clampWeight(w float64) float64 {
	if w < WeightFloor {
		return WeightFloor
	}
	if w > WeightCeiling {
		return WeightCeiling
	}
	return w
}

func clampConfidence(c float64) float64 {
	if c < MinConfidenceFloor {
		return MinConfidenceFloor
	}
	if c > MinConfidenceCeiling {
		return MinConfidenceCeiling
	}
	return c
}
