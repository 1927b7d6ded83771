// Package server exposes the appraisal service over HTTP.
//
//	POST /v1/appraisals   run one consensus appraisal
//	GET  /healthz         liveness
//	GET  /metrics         Prometheus exposition
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ahrav/go-appraise/internal/appraisal"
	"github.com/ahrav/go-appraise/internal/consensus"
	"github.com/ahrav/go-appraise/internal/domain"
)

// Server defaults.
const (
	DefaultRequestTimeout  = 10 * time.Minute
	DefaultShutdownTimeout = 15 * time.Second
	RequestIDHeader        = "X-Request-ID"
)

// Appraiser runs appraisals; *appraisal.Service implements it.
type Appraiser interface {
	Appraise(ctx context.Context, req appraisal.Request, opts ...consensus.RunOption) (*consensus.Report, error)
}

// Config configures a Server.
type Config struct {
	Addr string

	// RequestTimeout bounds a single appraisal; a run cut short still
	// returns its partial report with 504.
	RequestTimeout time.Duration

	Logger   *slog.Logger
	Gatherer prometheus.Gatherer

	// AllowOrigins enables CORS for the listed origins; empty disables it.
	AllowOrigins []string
}

// Server is the HTTP front end of the appraisal service.
type Server struct {
	cfg    Config
	svc    Appraiser
	router *gin.Engine
	logger *slog.Logger
}

// AppraisalResponse is the body of a completed appraisal.
type AppraisalResponse struct {
	Result domain.ConsensusResult `json:"result"`
	Report *consensus.Report      `json:"report"`
}

// ErrorResponse is the body of a failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id"`
}

// New builds a Server around svc.
func New(svc Appraiser, cfg Config) (*Server, error) {
	if svc == nil {
		return nil, errors.New("server: appraiser is nil")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		cfg:    cfg,
		svc:    svc,
		router: router,
		logger: cfg.Logger.With("component", "server"),
	}
	router.Use(s.requestLogger())
	if len(cfg.AllowOrigins) > 0 {
		corsCfg := cors.DefaultConfig()
		corsCfg.AllowOrigins = cfg.AllowOrigins
		corsCfg.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
		corsCfg.AllowHeaders = []string{"Origin", "Content-Type", RequestIDHeader}
		router.Use(cors.New(corsCfg))
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{})))
	v1 := s.router.Group("/v1")
	v1.POST("/appraisals", s.handleAppraise)
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleAppraise(c *gin.Context) {
	var req appraisal.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err))
		return
	}
	if req.RunID == "" {
		req.RunID = c.GetString(requestIDKey)
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
	defer cancel()

	report, err := s.svc.Appraise(ctx, req)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, AppraisalResponse{Result: report.Result, Report: report})
	case report != nil && errors.Is(err, context.DeadlineExceeded):
		s.logger.Warn("appraisal timed out, returning partial report", "run_id", report.RunID)
		c.JSON(http.StatusGatewayTimeout, AppraisalResponse{Result: report.Result, Report: report})
	case errors.Is(err, domain.ErrInvalidRequest):
		s.fail(c, http.StatusBadRequest, err)
	case errors.Is(err, context.Canceled):
		s.fail(c, 499, err)
	default:
		s.fail(c, http.StatusInternalServerError, err)
	}
}

func (s *Server) fail(c *gin.Context, status int, err error) {
	s.logger.Warn("request failed", "status", status, "path", c.FullPath(), "error", err)
	c.AbortWithStatusJSON(status, ErrorResponse{Error: err.Error(), RequestID: c.GetString(requestIDKey)})
}

const requestIDKey = "request_id"

// requestLogger tags each request with an ID and logs its outcome.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)

		start := time.Now()
		c.Next()
		s.logger.Info("request",
			"request_id", id,
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
		)
	}
}
