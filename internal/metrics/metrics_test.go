package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeGatewayError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"deadline", context.DeadlineExceeded, GatewayErrorTimeout},
		{"timeout message", errors.New("read timeout"), GatewayErrorTimeout},
		{"throttled", errors.New("429 Too Many Requests"), GatewayErrorRateLimit},
		{"refused", errors.New("dial tcp: connection refused"), GatewayErrorNetwork},
		{"bad request", errors.New("400 invalid symbol"), GatewayErrorInvalidReq},
		{"upstream", errors.New("502 bad gateway"), GatewayErrorServerError},
		{"unclassified", errors.New("something odd"), GatewayErrorOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeGatewayError(tt.err))
		})
	}
}

func TestRecordFeedbackLabels(t *testing.T) {
	// Counter lookups only; the assertion is that both labels stay in the
	// bounded set and recording never panics.
	RecordFeedback(1)
	RecordFeedback(-1)

	positive, err := FeedbackReceived.GetMetricWithLabelValues("positive")
	assert.NoError(t, err)
	assert.NotNil(t, positive)
	negative, err := FeedbackReceived.GetMetricWithLabelValues("negative")
	assert.NoError(t, err)
	assert.NotNil(t, negative)
}
