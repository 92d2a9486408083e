package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/perpsight/perpsight/internal/analysis"
	"github.com/perpsight/perpsight/internal/learning"
	"github.com/perpsight/perpsight/internal/market"
	"github.com/perpsight/perpsight/internal/metrics"
	"github.com/perpsight/perpsight/internal/screener"
	"github.com/perpsight/perpsight/internal/storage"
)

// APIVersion is reported in every response meta block.
const APIVersion = "1.0"

// Config contains server configuration.
type Config struct {
	Host          string
	Port          int
	EnableMetrics bool
	BatchSize     int
}

// Server is the REST surface over the analysis core.
type Server struct {
	router   *gin.Engine
	cfg      Config
	analyzer *analysis.Analyzer
	screener *screener.Screener
	learner  *learning.Learner
	store    storage.Store
	gateway  market.Gateway
	server   *http.Server
	started  time.Time
}

// NewServer wires the routes over the provided components.
func NewServer(cfg Config, analyzer *analysis.Analyzer, scr *screener.Screener, learner *learning.Learner, store storage.Store, gateway market.Gateway) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware())
	router.Use(metrics.GinMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	s := &Server{
		router:   router,
		cfg:      cfg,
		analyzer: analyzer,
		screener: scr,
		learner:  learner,
		store:    store,
		gateway:  gateway,
		started:  time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	if s.cfg.EnableMetrics {
		s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/analyze", s.handleAnalyze)
		v1.GET("/analyze/:pair", s.handleAnalyzePair)
		v1.POST("/screen", s.handleScreen)
		v1.POST("/feedback", s.handleFeedback)
		v1.GET("/feedback/stats", s.handleFeedbackStats)
		v1.GET("/reports/weekly", s.handleWeeklyReport)
		v1.GET("/signals/recent", s.handleRecentSignals)
	}
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine { return s.router }

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Str("addr", addr).Msg("Starting API server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("Stopping API server")
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
	}
	return nil
}

// LoggerMiddleware logs every request through zerolog.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		event := log.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = log.Error()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("Request handled")
	}
}
