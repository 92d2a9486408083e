package recovery

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Admission control for provider-recovery traffic.
const (
	// MaxConcurrent bounds recoveries in flight.
	MaxConcurrent = 2
	// dispatchInterval spaces recovery dispatches.
	dispatchInterval = time.Second
	// queueCap bounds pending recoveries; the universe is ~65 symbols so
	// this never fills under per-symbol deduplication.
	queueCap = 128
)

// Handler attempts to recover provider access for one symbol.
type Handler func(ctx context.Context, symbol string) error

// Queue is the rate-limited recovery queue: one pending entry per symbol,
// at most MaxConcurrent handlers in flight, dispatched at 1/s.
type Queue struct {
	handler Handler
	limiter *rate.Limiter
	sem     chan struct{}
	logger  zerolog.Logger

	mu      sync.Mutex
	pending map[string]struct{}
	queue   chan string
}

// NewQueue creates a queue around the handler.
func NewQueue(handler Handler) *Queue {
	return &Queue{
		handler: handler,
		limiter: rate.NewLimiter(rate.Every(dispatchInterval), 1),
		sem:     make(chan struct{}, MaxConcurrent),
		logger:  log.With().Str("component", "recovery").Logger(),
		pending: make(map[string]struct{}),
		queue:   make(chan string, queueCap),
	}
}

// Enqueue schedules a recovery for the symbol. A symbol already pending or
// in flight is not queued again.
func (q *Queue) Enqueue(symbol string) {
	q.mu.Lock()
	if _, dup := q.pending[symbol]; dup {
		q.mu.Unlock()
		return
	}
	q.pending[symbol] = struct{}{}
	q.mu.Unlock()

	select {
	case q.queue <- symbol:
		q.logger.Debug().Str("symbol", symbol).Msg("Recovery queued")
	default:
		// Queue full; drop the reservation so a later attempt can requeue.
		q.mu.Lock()
		delete(q.pending, symbol)
		q.mu.Unlock()
		q.logger.Warn().Str("symbol", symbol).Msg("Recovery queue full, dropped")
	}
}

// Pending reports whether the symbol has a queued or in-flight recovery.
func (q *Queue) Pending(symbol string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.pending[symbol]
	return ok
}

// Run dispatches recoveries until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) {
	q.logger.Info().Msg("Recovery queue started")
	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		q.logger.Info().Msg("Recovery queue stopped")
	}()

	for {
		var symbol string
		select {
		case <-ctx.Done():
			return
		case symbol = <-q.queue:
		}

		if err := q.limiter.Wait(ctx); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case q.sem <- struct{}{}:
		}

		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			defer func() {
				<-q.sem
				q.mu.Lock()
				delete(q.pending, symbol)
				q.mu.Unlock()
			}()

			if err := q.handler(ctx, symbol); err != nil {
				q.logger.Warn().Err(err).Str("symbol", symbol).Msg("Recovery attempt failed")
				return
			}
			q.logger.Info().Str("symbol", symbol).Msg("Provider recovered")
		}(symbol)
	}
}
