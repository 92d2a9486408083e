package breaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/perpsight/perpsight/internal/errs"
)

// Breaker states for Prometheus metrics.
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half_open"

	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Per-pair breaker defaults: trip after 3 consecutive failures, stay open
// for 60s, allow a single probe in half-open.
const (
	DefaultFailureThreshold = 3
	DefaultOpenTimeout      = 60 * time.Second
	DefaultHalfOpenMaxReqs  = 1
)

// aggregateName is the shared breaker guarding full confluence evaluations.
const aggregateName = "confluence-aggregate"

// Settings configures the registry.
type Settings struct {
	FailureThreshold uint32
	OpenTimeout      time.Duration
	HalfOpenMaxReqs  uint32
}

func (s *Settings) withDefaults() Settings {
	out := Settings{
		FailureThreshold: DefaultFailureThreshold,
		OpenTimeout:      DefaultOpenTimeout,
		HalfOpenMaxReqs:  DefaultHalfOpenMaxReqs,
	}
	if s == nil {
		return out
	}
	if s.FailureThreshold > 0 {
		out.FailureThreshold = s.FailureThreshold
	}
	if s.OpenTimeout > 0 {
		out.OpenTimeout = s.OpenTimeout
	}
	if s.HalfOpenMaxReqs > 0 {
		out.HalfOpenMaxReqs = s.HalfOpenMaxReqs
	}
	return out
}

// metrics holds the Prometheus instruments shared by all registries.
type metrics struct {
	state    *prometheus.GaugeVec
	requests *prometheus.CounterVec
}

var (
	globalMetrics *metrics
	metricsOnce   sync.Once
)

func initMetrics() {
	metricsOnce.Do(func() {
		globalMetrics = &metrics{
			state: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "perpsight_breaker_state",
					Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)",
				},
				[]string{"pair"},
			),
			requests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "perpsight_breaker_requests_total",
					Help: "Requests through circuit breakers",
				},
				[]string{"pair", "result"},
			),
		}
	})
}

// Registry maintains one circuit breaker per trading pair plus a shared
// aggregate breaker. Breakers are created lazily on first use.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	settings Settings
	metrics  *metrics
}

// NewRegistry creates a registry. nil settings use the defaults.
func NewRegistry(settings *Settings) *Registry {
	initMetrics()
	return &Registry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		settings: settings.withDefaults(),
		metrics:  globalMetrics,
	}
}

func (r *Registry) get(name string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	s := r.settings
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: s.HalfOpenMaxReqs,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.updateState(name, to)
			log.Warn().
				Str("breaker", name).
				Str("from", stateLabel(from)).
				Str("to", stateLabel(to)).
				Msg("Circuit breaker state changed")
		},
	})
	r.breakers[name] = cb
	r.updateState(name, cb.State())
	return cb
}

// Do runs fn behind the pair's breaker. Validation errors pass through
// without counting as failures; an open breaker yields service_unavailable.
func (r *Registry) Do(pair string, fn func() error) error {
	return r.execute(r.get(pair), pair, fn)
}

// DoAggregate runs fn behind the shared confluence breaker.
func (r *Registry) DoAggregate(fn func() error) error {
	return r.execute(r.get(aggregateName), aggregateName, fn)
}

func (r *Registry) execute(cb *gobreaker.CircuitBreaker, name string, fn func() error) error {
	var passthrough error
	_, err := cb.Execute(func() (interface{}, error) {
		if callErr := fn(); callErr != nil {
			if !errs.TripsBreaker(callErr) {
				// Caller bug, not service health; report success upstream.
				passthrough = callErr
				return nil, nil
			}
			return nil, callErr
		}
		return nil, nil
	})

	if passthrough != nil {
		r.metrics.requests.WithLabelValues(name, ResultSuccess).Inc()
		return passthrough
	}
	if err != nil {
		r.metrics.requests.WithLabelValues(name, ResultFailure).Inc()
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return errs.Wrap(errs.KindServiceUnavailable, "circuit breaker open for "+name, err)
		}
		return err
	}
	r.metrics.requests.WithLabelValues(name, ResultSuccess).Inc()
	return nil
}

// State returns the pair breaker's current state label.
func (r *Registry) State(pair string) string {
	return stateLabel(r.get(pair).State())
}

// Open reports whether the pair's breaker currently rejects calls.
func (r *Registry) Open(pair string) bool {
	return r.get(pair).State() == gobreaker.StateOpen
}

func (r *Registry) updateState(name string, state gobreaker.State) {
	var v float64
	switch state {
	case gobreaker.StateClosed:
		v = 0
	case gobreaker.StateOpen:
		v = 1
	case gobreaker.StateHalfOpen:
		v = 2
	}
	r.metrics.state.WithLabelValues(name).Set(v)
}

func stateLabel(state gobreaker.State) string {
	switch state {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
