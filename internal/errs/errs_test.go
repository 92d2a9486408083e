package errs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	plain := New(KindValidation, "unknown pair")
	assert.Equal(t, "validation_error: unknown pair", plain.Error())

	wrapped := Wrap(KindTimeout, "candles fetch", errors.New("i/o timeout"))
	assert.Equal(t, "timeout_error: candles fetch: i/o timeout", wrapped.Error())
	assert.EqualError(t, errors.Unwrap(wrapped), "i/o timeout")
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindValidation, KindOf(New(KindValidation, "bad")))
	assert.Equal(t, KindRateLimit, KindOf(fmt.Errorf("outer: %w", New(KindRateLimit, "throttled"))))
	assert.Equal(t, KindTimeout, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindInternal, KindOf(errors.New("anything else")))
}

func TestTripsBreaker(t *testing.T) {
	assert.False(t, TripsBreaker(New(KindValidation, "bad request")))
	assert.True(t, TripsBreaker(New(KindTimeout, "slow")))
	assert.True(t, TripsBreaker(New(KindServiceUnavailable, "down")))
	assert.True(t, TripsBreaker(errors.New("unknown")))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindValidation, http.StatusBadRequest},
		{KindTimeout, http.StatusRequestTimeout},
		{KindServiceUnavailable, http.StatusServiceUnavailable},
		{KindRateLimit, http.StatusTooManyRequests},
		{KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.kind), string(tt.kind))
	}
}

func TestCode(t *testing.T) {
	assert.Equal(t, "VALIDATION_FAILED", Code(KindValidation))
	assert.Equal(t, "TIMEOUT", Code(KindTimeout))
	assert.Equal(t, "SERVICE_UNAVAILABLE", Code(KindServiceUnavailable))
	assert.Equal(t, "RATE_LIMIT", Code(KindRateLimit))
	assert.Equal(t, "INTERNAL", Code(KindInternal))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, Kind("")},
		{"categorized passes through", New(KindRateLimit, "throttled"), KindRateLimit},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"cancelled", context.Canceled, KindTimeout},
		{"timeout message", errors.New("request timeout"), KindTimeout},
		{"rate message", errors.New("429 too many"), KindRateLimit},
		{"unavailable message", errors.New("503 service unavailable"), KindServiceUnavailable},
		{"anything else", errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
