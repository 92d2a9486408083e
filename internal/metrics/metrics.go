package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bounded-cardinality label sets. Label values outside these sets are
// normalized before recording so no metric accumulates unbounded series.
const (
	// Gateway error categories.
	GatewayErrorTimeout     = "timeout"
	GatewayErrorRateLimit   = "rate_limit"
	GatewayErrorNetwork     = "network"
	GatewayErrorInvalidReq  = "invalid_request"
	GatewayErrorServerError = "server_error"
	GatewayErrorOther       = "other"
)

// NormalizeGatewayError maps arbitrary provider errors to the bounded set.
func NormalizeGatewayError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return GatewayErrorTimeout
	case strings.Contains(msg, "rate") || strings.Contains(msg, "429"):
		return GatewayErrorRateLimit
	case strings.Contains(msg, "connection") || strings.Contains(msg, "network") || strings.Contains(msg, "dial"):
		return GatewayErrorNetwork
	case strings.Contains(msg, "400") || strings.Contains(msg, "invalid"):
		return GatewayErrorInvalidReq
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") || strings.Contains(msg, "503"):
		return GatewayErrorServerError
	default:
		return GatewayErrorOther
	}
}

var (
	// Analyses counts completed per-pair analyses by outcome category.
	Analyses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perpsight_analyses_total",
		Help: "Completed pair analyses by outcome",
	}, []string{"outcome"})

	// AnalysisDuration tracks per-pair pipeline latency.
	AnalysisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "perpsight_analysis_duration_ms",
		Help:    "Pair analysis duration in milliseconds",
		Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
	})

	// ScreenedSymbols counts symbols processed by screening runs.
	ScreenedSymbols = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perpsight_screened_symbols_total",
		Help: "Symbols processed by the screener",
	}, []string{"result"})

	// SignalsEmitted counts enriched signals by class.
	SignalsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perpsight_signals_total",
		Help: "Enriched signals by classification",
	}, []string{"signal"})

	// GatewayErrors counts provider failures by normalized category.
	GatewayErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perpsight_gateway_errors_total",
		Help: "Market gateway errors by category",
	}, []string{"category"})

	// FeedbackReceived counts accepted feedback by rating.
	FeedbackReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perpsight_feedback_total",
		Help: "Accepted feedback records by rating",
	}, []string{"rating"})

	// PatternWeight exposes the current learned weight per pattern. The
	// pattern set is the eight fixed layer names, so cardinality is bounded.
	PatternWeight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "perpsight_pattern_weight",
		Help: "Current learned weight per pattern",
	}, []string{"pattern"})

	// HTTPRequests counts API requests.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perpsight_http_requests_total",
		Help: "HTTP requests by method, path and status",
	}, []string{"method", "path", "status"})

	// HTTPDuration tracks API latency.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "perpsight_http_request_duration_ms",
		Help:    "HTTP request duration in milliseconds",
		Buckets: []float64{10, 50, 100, 250, 500, 1000, 5000, 30000},
	}, []string{"method", "path"})
)

// RecordAnalysis records one completed analysis.
func RecordAnalysis(outcome string, durationMs float64) {
	Analyses.WithLabelValues(outcome).Inc()
	AnalysisDuration.Observe(durationMs)
}

// RecordGatewayError records a normalized provider failure.
func RecordGatewayError(err error) {
	if category := NormalizeGatewayError(err); category != "" {
		GatewayErrors.WithLabelValues(category).Inc()
	}
}

// RecordFeedback records an accepted rating.
func RecordFeedback(rating int) {
	label := "positive"
	if rating < 0 {
		label = "negative"
	}
	FeedbackReceived.WithLabelValues(label).Inc()
}
