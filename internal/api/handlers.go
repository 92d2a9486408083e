package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/perpsight/perpsight/internal/analysis"
	"github.com/perpsight/perpsight/internal/errs"
	"github.com/perpsight/perpsight/internal/learning"
	"github.com/perpsight/perpsight/internal/metrics"
	"github.com/perpsight/perpsight/internal/pairs"
	"github.com/perpsight/perpsight/internal/screener"
	"github.com/perpsight/perpsight/internal/storage"
	"github.com/perpsight/perpsight/internal/validation"
)

// Meta is attached to every successful response.
type Meta struct {
	ProcessingTimeMs int64  `json:"processing_time_ms"`
	Timestamp        int64  `json:"timestamp"`
	APIVersion       string `json:"api_version"`
	BatchingEnabled  bool   `json:"batching_enabled,omitempty"`
	BatchSize        int    `json:"batch_size,omitempty"`
}

// envelope is the success wrapper.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Meta    Meta        `json:"meta"`
}

// errorEnvelope is the failure wrapper.
type errorEnvelope struct {
	Success          bool   `json:"success"`
	Error            string `json:"error"`
	Message          string `json:"message"`
	ProcessingTimeMs int64  `json:"processing_time_ms"`
	Timestamp        int64  `json:"timestamp"`
}

func respond(c *gin.Context, started time.Time, data interface{}, meta func(*Meta)) {
	m := Meta{
		ProcessingTimeMs: time.Since(started).Milliseconds(),
		Timestamp:        time.Now().UnixMilli(),
		APIVersion:       APIVersion,
	}
	if meta != nil {
		meta(&m)
	}
	c.JSON(http.StatusOK, envelope{Success: true, Data: data, Meta: m})
}

func respondError(c *gin.Context, started time.Time, err error) {
	kind := errs.KindOf(err)
	code := errs.Code(kind)
	if kind == errs.KindValidation && strings.Contains(err.Error(), "too many symbols") {
		code = "TOO_MANY_SYMBOLS"
	}
	c.JSON(errs.HTTPStatus(kind), errorEnvelope{
		Error:            code,
		Message:          err.Error(),
		ProcessingTimeMs: time.Since(started).Milliseconds(),
		Timestamp:        time.Now().UnixMilli(),
	})
}

// respondJournalWarning logs a journal write failure without surfacing it;
// the analytical result is still valid.
func respondJournalWarning(err error) {
	log.Warn().Err(err).Msg("Signal journal write failed")
}

func respondBadRequest(c *gin.Context, started time.Time, message string) {
	c.JSON(http.StatusBadRequest, errorEnvelope{
		Error:            "INVALID_REQUEST",
		Message:          message,
		ProcessingTimeMs: time.Since(started).Milliseconds(),
		Timestamp:        time.Now().UnixMilli(),
	})
}

// AnalyzeRequest is the single-pair request body.
type AnalyzeRequest struct {
	Pair           string          `json:"pair" binding:"required"`
	Timeframe      string          `json:"timeframe" binding:"required"`
	Limit          int             `json:"limit,omitempty"`
	IncludeDetails bool            `json:"include_details,omitempty"`
	EnabledLayers  map[string]bool `json:"enabled_layers,omitempty"`
}

func (s *Server) handleAnalyze(c *gin.Context) {
	started := time.Now()

	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, started, "invalid request body: "+err.Error())
		return
	}
	s.analyze(c, started, req)
}

func (s *Server) handleAnalyzePair(c *gin.Context) {
	started := time.Now()

	req := AnalyzeRequest{
		Pair:      c.Param("pair"),
		Timeframe: c.DefaultQuery("timeframe", string(pairs.TF1h)),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			respondBadRequest(c, started, "limit must be an integer")
			return
		}
		req.Limit = limit
	}
	req.IncludeDetails = c.Query("include_details") == "true"
	s.analyze(c, started, req)
}

func (s *Server) analyze(c *gin.Context, started time.Time, req AnalyzeRequest) {
	if err := validation.AnalyzeRequest(req.Pair, req.Timeframe, req.Limit); err != nil {
		respondError(c, started, err)
		return
	}
	tf, _ := pairs.ParseTimeframe(req.Timeframe)

	result, err := s.analyzer.Analyze(c.Request.Context(), req.Pair, tf, analysis.Options{
		Limit:          req.Limit,
		IncludeDetails: req.IncludeDetails,
		EnabledLayers:  req.EnabledLayers,
	})
	if err != nil {
		metrics.RecordAnalysis(string(errs.KindOf(err)), float64(time.Since(started).Milliseconds()))
		respondError(c, started, err)
		return
	}
	metrics.RecordAnalysis("ok", float64(result.ProcessingTimeMs))
	if result.Signal != nil {
		metrics.SignalsEmitted.WithLabelValues(string(result.Confluence.Signal)).Inc()
	}

	if s.store != nil && result.Signal != nil {
		if err := s.store.UpsertSignal(c.Request.Context(), result.Signal); err != nil {
			// Journal failure never fails the analysis.
			respondJournalWarning(err)
		}
	}
	respond(c, started, result, nil)
}

// ScreenRequest is the multi-symbol request body.
type ScreenRequest struct {
	Symbols        []string        `json:"symbols" binding:"required"`
	Timeframe      string          `json:"timeframe" binding:"required"`
	IncludeDetails bool            `json:"include_details,omitempty"`
	EnabledLayers  map[string]bool `json:"enabled_layers,omitempty"`
	Regime         bool            `json:"regime,omitempty"`
}

func (s *Server) handleScreen(c *gin.Context) {
	started := time.Now()

	var req ScreenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, started, "invalid request body: "+err.Error())
		return
	}
	if err := validation.ScreenRequest(req.Symbols, req.Timeframe); err != nil {
		respondError(c, started, err)
		return
	}
	tf, _ := pairs.ParseTimeframe(req.Timeframe)

	resp, err := s.screener.Screen(c.Request.Context(), screener.Request{
		Symbols:        req.Symbols,
		Timeframe:      tf,
		IncludeDetails: req.IncludeDetails,
		EnabledLayers:  req.EnabledLayers,
		Regime:         req.Regime,
	})
	if err != nil {
		respondError(c, started, err)
		return
	}

	metrics.ScreenedSymbols.WithLabelValues("ok").Add(float64(resp.Stats.Succeeded))
	metrics.ScreenedSymbols.WithLabelValues("failed").Add(float64(resp.Stats.Failed))

	respond(c, started, resp, func(m *Meta) {
		m.BatchingEnabled = resp.Stats.BatchingUsed
		m.BatchSize = s.cfg.BatchSize
	})
}

// FeedbackRequest is the rating submission body.
type FeedbackRequest struct {
	RefID         string   `json:"ref_id" binding:"required"`
	Rating        int      `json:"rating" binding:"required"`
	PatternNames  []string `json:"pattern_names,omitempty"`
	ResponseTimeS float64  `json:"response_time_s,omitempty"`
}

func (s *Server) handleFeedback(c *gin.Context) {
	started := time.Now()

	var req FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, started, "invalid request body: "+err.Error())
		return
	}
	if err := validation.FeedbackRequest(req.RefID, req.Rating); err != nil {
		respondError(c, started, err)
		return
	}

	if err := s.learner.Submit(learning.FeedbackRecord{
		RefID:         req.RefID,
		Rating:        req.Rating,
		PatternNames:  req.PatternNames,
		ResponseTimeS: req.ResponseTimeS,
	}); err != nil {
		respondError(c, started, err)
		return
	}
	metrics.RecordFeedback(req.Rating)

	// A rating for an unknown signal id is journaled but changes nothing else.
	if s.store != nil {
		if err := s.store.RateSignal(c.Request.Context(), req.RefID, req.Rating); err != nil && err != storage.ErrNotFound {
			respondJournalWarning(err)
		}
	}

	respond(c, started, gin.H{"accepted": true, "ref_id": req.RefID}, nil)
}

func (s *Server) handleFeedbackStats(c *gin.Context) {
	started := time.Now()

	days := 7
	if raw := c.Query("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondBadRequest(c, started, "days must be a positive integer")
			return
		}
		days = parsed
	}
	respond(c, started, s.learner.Stats(days), nil)
}

func (s *Server) handleWeeklyReport(c *gin.Context) {
	started := time.Now()
	respond(c, started, gin.H{
		"report": s.learner.WeeklyReport(),
		"stats":  s.learner.Stats(7),
	}, nil)
}

func (s *Server) handleRecentSignals(c *gin.Context) {
	started := time.Now()

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondBadRequest(c, started, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	signals, err := s.store.RecentSignals(c.Request.Context(), limit)
	if err != nil {
		respondError(c, started, errs.Wrap(errs.KindInternal, "failed to read signal journal", err))
		return
	}
	respond(c, started, gin.H{"signals": signals, "count": len(signals)}, nil)
}

func (s *Server) handleHealth(c *gin.Context) {
	started := time.Now()

	status := "ok"
	httpStatus := http.StatusOK
	var gatewayErr string
	if err := s.gateway.Health(c.Request.Context()); err != nil {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
		gatewayErr = err.Error()
		metrics.RecordGatewayError(err)
	}

	c.JSON(httpStatus, gin.H{
		"status":         status,
		"gateway_error":  gatewayErr,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"version":        APIVersion,
		"processing_ms":  time.Since(started).Milliseconds(),
	})
}
