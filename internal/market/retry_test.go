package market

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perpsight/perpsight/internal/errs"
)

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	assert.Equal(t, 3, config.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, config.InitialBackoff)
	assert.Equal(t, 5*time.Second, config.MaxBackoff)
	assert.Equal(t, 2.0, config.BackoffFactor)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil error", nil, false},
		{"timeout kind", errs.New(errs.KindTimeout, "deadline exceeded"), true},
		{"rate limit kind", errs.New(errs.KindRateLimit, "throttled"), true},
		{"unavailable kind", errs.New(errs.KindServiceUnavailable, "down"), true},
		{"validation kind", errs.New(errs.KindValidation, "bad pair"), false},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"connection reset", errors.New("read: connection reset by peer"), true},
		{"plain timeout", errors.New("i/o timeout"), true},
		{"too many requests", errors.New("429 Too Many Requests"), true},
		{"exchange internal", errors.New("<APIError> code=-1001, msg=internal error"), true},
		{"recv window", errors.New("code=-1021 timestamp outside of recvWindow"), true},
		{"parse error", errors.New("invalid character 'x'"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}
}

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2.0,
	}
}

func TestWithRetrySuccessFirstTry(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastRetry(), func() error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetryRecoversAfterTransientFailures(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastRetry(), func() error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryStopsOnNonRetryable(t *testing.T) {
	calls := 0
	bad := errs.New(errs.KindValidation, "unknown symbol")
	err := WithRetry(context.Background(), fastRetry(), func() error {
		calls++
		return bad
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastRetry(), func() error {
		calls++
		return errors.New("connection refused")
	})

	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.Contains(t, err.Error(), "after 4 attempts")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestWithRetryRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := WithRetry(ctx, fastRetry(), func() error {
		calls++
		cancel()
		return errors.New("connection refused")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Contains(t, err.Error(), "cancelled")
}
