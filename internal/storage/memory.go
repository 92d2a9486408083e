package storage

import (
	"context"
	"sync"
	"time"

	"github.com/perpsight/perpsight/internal/learning"
	"github.com/perpsight/perpsight/internal/signal"
)

// Bounded in-process mirrors, evicted oldest-first by insertion time.
const (
	memoryFeedbackCap = 1000
	memorySignalCap   = 50
)

// MemoryStore is the in-process Store used when no external backend is
// configured, and as the test double everywhere else.
type MemoryStore struct {
	mu sync.RWMutex

	feedback      []learning.FeedbackRecord
	feedbackByRef map[string]int

	patterns map[string]learning.PatternWeight

	signals     []string
	signalsByID map[string]*SignalQuality

	now func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		feedbackByRef: make(map[string]int),
		patterns:      make(map[string]learning.PatternWeight),
		signalsByID:   make(map[string]*SignalQuality),
		now:           time.Now,
	}
}

// AppendFeedback records a feedback entry, evicting the oldest beyond the cap.
func (s *MemoryStore) AppendFeedback(_ context.Context, record learning.FeedbackRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.feedback = append(s.feedback, record)
	if len(s.feedback) > memoryFeedbackCap {
		evicted := s.feedback[0]
		s.feedback = s.feedback[1:]
		delete(s.feedbackByRef, evicted.RefID)
		for ref := range s.feedbackByRef {
			s.feedbackByRef[ref]--
		}
	}
	s.feedbackByRef[record.RefID] = len(s.feedback) - 1
	return nil
}

func (s *MemoryStore) FeedbackByRef(_ context.Context, refID string) (*learning.FeedbackRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.feedbackByRef[refID]
	if !ok {
		return nil, ErrNotFound
	}
	record := s.feedback[idx]
	return &record, nil
}

func (s *MemoryStore) FeedbackSince(_ context.Context, since time.Time) ([]learning.FeedbackRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []learning.FeedbackRecord
	for _, r := range s.feedback {
		if !r.ReceivedAt.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpsertPattern(_ context.Context, weight learning.PatternWeight) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patterns[weight.Name] = weight
	return nil
}

func (s *MemoryStore) Pattern(_ context.Context, name string) (*learning.PatternWeight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.patterns[name]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *MemoryStore) Patterns(_ context.Context) ([]learning.PatternWeight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]learning.PatternWeight, 0, len(s.patterns))
	for _, p := range s.patterns {
		out = append(out, p)
	}
	return out, nil
}

// UpsertSignal journals an emitted signal, keeping the most recent 50.
func (s *MemoryStore) UpsertSignal(_ context.Context, sig *signal.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.signalsByID[sig.SignalID]; ok {
		existing.Signal = sig
		return nil
	}

	s.signals = append(s.signals, sig.SignalID)
	if len(s.signals) > memorySignalCap {
		evicted := s.signals[0]
		s.signals = s.signals[1:]
		delete(s.signalsByID, evicted)
	}
	s.signalsByID[sig.SignalID] = &SignalQuality{
		SignalID:  sig.SignalID,
		Signal:    sig,
		CreatedAt: s.now(),
	}
	return nil
}

func (s *MemoryStore) RateSignal(_ context.Context, signalID string, rating int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sq, ok := s.signalsByID[signalID]
	if !ok {
		return ErrNotFound
	}
	at := s.now()
	sq.FinalRating = &rating
	sq.RatedAt = &at
	return nil
}

func (s *MemoryStore) RecentSignals(_ context.Context, limit int) ([]SignalQuality, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.signals) {
		limit = len(s.signals)
	}
	out := make([]SignalQuality, 0, limit)
	for i := len(s.signals) - 1; i >= len(s.signals)-limit; i-- {
		out = append(out, *s.signalsByID[s.signals[i]])
	}
	return out, nil
}
