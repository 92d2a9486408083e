package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perpsight/perpsight/internal/errs"
)

func fastSettings() *Settings {
	return &Settings{FailureThreshold: 3, OpenTimeout: 50 * time.Millisecond}
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	r := NewRegistry(fastSettings())
	boom := errs.New(errs.KindServiceUnavailable, "provider down")

	for i := 0; i < 3; i++ {
		err := r.Do("BTC", func() error { return boom })
		require.Error(t, err)
		assert.Equal(t, errs.KindServiceUnavailable, errs.KindOf(err))
	}

	assert.Equal(t, StateOpen, r.State("BTC"))
	assert.True(t, r.Open("BTC"))

	// While open the call is rejected without running fn.
	ran := false
	err := r.Do("BTC", func() error { ran = true; return nil })
	require.Error(t, err)
	assert.False(t, ran)
	assert.Equal(t, errs.KindServiceUnavailable, errs.KindOf(err))
	assert.Contains(t, err.Error(), "circuit breaker open")
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	r := NewRegistry(fastSettings())
	boom := errs.New(errs.KindServiceUnavailable, "provider down")

	for i := 0; i < 3; i++ {
		_ = r.Do("ETH", func() error { return boom })
	}
	require.Equal(t, StateOpen, r.State("ETH"))

	time.Sleep(60 * time.Millisecond)

	// The cooldown has elapsed: a successful probe closes the breaker.
	err := r.Do("ETH", func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, r.State("ETH"))
	assert.False(t, r.Open("ETH"))
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	r := NewRegistry(fastSettings())
	boom := errs.New(errs.KindServiceUnavailable, "provider down")

	for i := 0; i < 3; i++ {
		_ = r.Do("SOL", func() error { return boom })
	}
	time.Sleep(60 * time.Millisecond)

	err := r.Do("SOL", func() error { return boom })
	require.Error(t, err)
	assert.Equal(t, StateOpen, r.State("SOL"))
}

func TestBreakerValidationErrorsPassThrough(t *testing.T) {
	r := NewRegistry(fastSettings())
	bad := errs.New(errs.KindValidation, "unknown pair")

	// Validation errors surface unchanged and never count as failures.
	for i := 0; i < 10; i++ {
		err := r.Do("BTC", func() error { return bad })
		require.Error(t, err)
		assert.Equal(t, errs.KindValidation, errs.KindOf(err))
	}
	assert.Equal(t, StateClosed, r.State("BTC"))
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	r := NewRegistry(fastSettings())
	boom := errs.New(errs.KindTimeout, "deadline exceeded")

	// Two failures, a success, two more failures: consecutive count never
	// reaches the threshold.
	_ = r.Do("BTC", func() error { return boom })
	_ = r.Do("BTC", func() error { return boom })
	require.NoError(t, r.Do("BTC", func() error { return nil }))
	_ = r.Do("BTC", func() error { return boom })
	_ = r.Do("BTC", func() error { return boom })

	assert.Equal(t, StateClosed, r.State("BTC"))
}

func TestBreakerPerPairIsolation(t *testing.T) {
	r := NewRegistry(fastSettings())
	boom := errs.New(errs.KindServiceUnavailable, "provider down")

	for i := 0; i < 3; i++ {
		_ = r.Do("BTC", func() error { return boom })
	}

	assert.True(t, r.Open("BTC"))
	assert.False(t, r.Open("ETH"))
	require.NoError(t, r.Do("ETH", func() error { return nil }))
}

func TestAggregateBreakerIndependent(t *testing.T) {
	r := NewRegistry(fastSettings())
	boom := errs.New(errs.KindServiceUnavailable, "scorer crashed")

	for i := 0; i < 3; i++ {
		_ = r.DoAggregate(func() error { return boom })
	}

	// The shared breaker is open, but pair breakers are untouched.
	err := r.DoAggregate(func() error { return nil })
	require.Error(t, err)
	assert.Equal(t, errs.KindServiceUnavailable, errs.KindOf(err))
	assert.False(t, r.Open("BTC"))
}

func TestBreakerDefaults(t *testing.T) {
	s := (*Settings)(nil).withDefaults()
	assert.Equal(t, uint32(DefaultFailureThreshold), s.FailureThreshold)
	assert.Equal(t, DefaultOpenTimeout, s.OpenTimeout)
	assert.Equal(t, uint32(DefaultHalfOpenMaxReqs), s.HalfOpenMaxReqs)
}
