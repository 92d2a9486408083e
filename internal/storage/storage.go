package storage

import (
	"context"
	"errors"
	"time"

	"github.com/perpsight/perpsight/internal/learning"
	"github.com/perpsight/perpsight/internal/signal"
)

// ErrNotFound is returned when a keyed lookup misses.
var ErrNotFound = errors.New("not found")

// SignalQuality tracks an emitted signal and its eventual user rating.
type SignalQuality struct {
	SignalID    string         `json:"signal_id"`
	Signal      *signal.Signal `json:"signal"`
	FinalRating *int           `json:"final_rating,omitempty"` // +1 / -1, nil while unrated
	RatedAt     *time.Time     `json:"rated_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// FeedbackStore is the durable feedback journal.
type FeedbackStore interface {
	AppendFeedback(ctx context.Context, record learning.FeedbackRecord) error
	FeedbackByRef(ctx context.Context, refID string) (*learning.FeedbackRecord, error)
	FeedbackSince(ctx context.Context, since time.Time) ([]learning.FeedbackRecord, error)
}

// PatternStore persists learned pattern weights across restarts.
type PatternStore interface {
	UpsertPattern(ctx context.Context, weight learning.PatternWeight) error
	Pattern(ctx context.Context, name string) (*learning.PatternWeight, error)
	Patterns(ctx context.Context) ([]learning.PatternWeight, error)
}

// SignalStore is the signal quality journal.
type SignalStore interface {
	UpsertSignal(ctx context.Context, sig *signal.Signal) error
	RateSignal(ctx context.Context, signalID string, rating int) error
	RecentSignals(ctx context.Context, limit int) ([]SignalQuality, error)
}

// Store is the full persistence contract consumed by the core.
type Store interface {
	FeedbackStore
	PatternStore
	SignalStore
}
