// Package server exposes the record table, reports and the live stream
// over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/atikulmunna/logscope/internal/aggregator"
	"github.com/atikulmunna/logscope/internal/hub"
	"github.com/atikulmunna/logscope/internal/metrics"
	"github.com/atikulmunna/logscope/internal/output"
	"github.com/atikulmunna/logscope/internal/report"
	"github.com/atikulmunna/logscope/internal/table"
)

// Config wires the server. Table and Report.Engine are required; the live
// collaborators are optional and their routes answer 503 without them.
type Config struct {
	Table   *table.Table
	Report  report.Options
	Hub     *hub.Hub
	Live    *aggregator.Aggregator
	Metrics *metrics.Metrics
	Port    string
	Logger  *zap.Logger
}

// Server holds the Gin engine and dependencies for the report API.
type Server struct {
	engine *gin.Engine
	cfg    Config
	log    *zap.Logger
}

// New creates the API server.
func New(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	// Disable automatic redirects that cause 301 issues.
	engine.RedirectTrailingSlash = false
	engine.RedirectFixedPath = false

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	engine.Use(requestLogger(log))

	s := &Server{
		engine: engine,
		cfg:    cfg,
		log:    log,
	}

	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) setupRoutes() {
	// Health check.
	s.engine.GET("/healthz", func(c *gin.Context) {
		access, errs := s.cfg.Table.Len()
		body := gin.H{
			"status":         "ok",
			"session":        s.cfg.Table.ID,
			"access_records": access,
			"error_records":  errs,
		}
		if s.cfg.Live != nil {
			stats := s.cfg.Live.Snapshot()
			body["uptime"] = stats.Uptime
			body["files_watched"] = stats.FilesWatched
			body["eps"] = stats.EPS
			body["dropped_logs"] = stats.DroppedLogs
		}
		c.JSON(http.StatusOK, body)
	})

	api := s.engine.Group("/api")
	api.GET("/stats", s.handleStats)
	api.GET("/report", s.handleReport)
	api.GET("/errors", s.handleErrors)
	api.GET("/export/access.csv", s.handleExportAccess)
	api.GET("/export/errors.csv", s.handleExportErrors)

	// WebSocket.
	s.engine.GET("/ws", s.handleWebSocket)

	if s.cfg.Metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.cfg.Metrics.Handler()))
	}

	// pprof profiling endpoints.
	s.engine.GET("/debug/pprof/", gin.WrapF(pprof.Index))
	s.engine.GET("/debug/pprof/cmdline", gin.WrapF(pprof.Cmdline))
	s.engine.GET("/debug/pprof/profile", gin.WrapF(pprof.Profile))
	s.engine.GET("/debug/pprof/symbol", gin.WrapF(pprof.Symbol))
	s.engine.GET("/debug/pprof/trace", gin.WrapF(pprof.Trace))
	s.engine.GET("/debug/pprof/allocs", gin.WrapH(pprof.Handler("allocs")))
	s.engine.GET("/debug/pprof/heap", gin.WrapH(pprof.Handler("heap")))
	s.engine.GET("/debug/pprof/goroutine", gin.WrapH(pprof.Handler("goroutine")))
}

func (s *Server) handleStats(c *gin.Context) {
	access, errs := s.cfg.Table.Len()
	body := gin.H{
		"session":        s.cfg.Table.ID,
		"access_records": access,
		"error_records":  errs,
		"shards":         s.cfg.Table.Shards(),
	}
	if s.cfg.Live != nil {
		body["live"] = s.cfg.Live.Snapshot()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleReport(c *gin.Context) {
	opts := s.cfg.Report
	if v := c.Query("top"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "top must be a positive integer"})
			return
		}
		opts.TopN = n
	}
	opts.Logger = s.log

	r, err := report.Build(c.Request.Context(), s.cfg.Table, opts)
	if err != nil {
		s.log.Error("report failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) handleErrors(c *gin.Context) {
	recs := s.cfg.Table.ErrorsOfType(c.Query("type"))
	c.JSON(http.StatusOK, gin.H{
		"count":  len(recs),
		"errors": recs,
	})
}

func (s *Server) handleExportAccess(c *gin.Context) {
	recs := s.cfg.Table.Access()
	name := "access.csv"
	if c.Query("bots") == "true" {
		recs = report.BotRecords(recs)
		name = "bot_requests.csv"
	}
	attachment(c, name)
	if err := output.WriteAccessCSV(c.Writer, recs); err != nil {
		s.log.Warn("access export interrupted", zap.Error(err))
	}
}

func (s *Server) handleExportErrors(c *gin.Context) {
	attachment(c, "errors.csv")
	if err := output.WriteErrorCSV(c.Writer, s.cfg.Table.ErrorsOfType(c.Query("type"))); err != nil {
		s.log.Warn("error export interrupted", zap.Error(err))
	}
}

func attachment(c *gin.Context, name string) {
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Status(http.StatusOK)
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
