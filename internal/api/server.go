// Package api exposes the analysis pipeline over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/health-analytics-server/internal/analysis"
	"github.com/health-analytics-server/internal/domain"
	"github.com/health-analytics-server/internal/inference"
	"github.com/health-analytics-server/internal/predcache"
	"github.com/health-analytics-server/internal/store"
)

// Server represents the HTTP server
type Server struct {
	cfg      domain.ServerConfig
	logger   *logrus.Logger
	analyzer *analysis.Analyzer
	cache    *predcache.Cache
	store    store.Store
	trainer  inference.Trainer
	training domain.TrainingConfig
	router   *gin.Engine
	server   *http.Server
}

// NewServer creates a new HTTP server instance. trainer may be nil
// when the serving backend has no offline training.
func NewServer(
	cfg *domain.Config,
	logger *logrus.Logger,
	analyzer *analysis.Analyzer,
	cache *predcache.Cache,
	st store.Store,
	trainer inference.Trainer,
) *Server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestIDMiddleware())

	s := &Server{
		cfg:      cfg.Server,
		logger:   logger,
		analyzer: analyzer,
		cache:    cache,
		store:    st,
		trainer:  trainer,
		training: cfg.Training,
		router:   router,
	}
	s.setupRoutes()
	return s
}

// Start runs the server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/analysis/comprehensive", s.handleComprehensiveAnalysis)
		v1.POST("/analysis/domain/:domain", s.handleDomainAnalysis)
		v1.GET("/assessments/:id", s.handleGetAssessment)
		v1.GET("/assessments", s.handleListAssessments)
		v1.POST("/train/:domain", s.handleTrain)
	}
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestIDMiddleware adds a unique request ID to each request
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}
