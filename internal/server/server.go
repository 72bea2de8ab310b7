package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	xquery "xquery-go"
	"xquery-go/internal/metrics"
)

// ExecuteRequest is the body of POST /api/execute.
type ExecuteRequest struct {
	XML        string `json:"xml"`
	Query      string `json:"query"`
	WorkingDir string `json:"working_dir"`
}

// PreprocessRequest is the body of POST /api/preprocess.
type PreprocessRequest struct {
	Query string `json:"query"`
}

type PreprocessResponse struct {
	Query string `json:"query"`
}

type Server struct {
	engine *xquery.Engine
	logger *slog.Logger
	router *gin.Engine
}

func New(engine *xquery.Engine, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{engine: engine, logger: logger, router: gin.New()}
	s.router.Use(gin.Recovery(), s.requestMetrics())

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/api")
	api.POST("/execute", s.execute)
	api.POST("/preprocess", s.preprocess)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// execute always answers 200 with the result shape; query failures are
// reported through success=false rather than the HTTP status.
func (s *Server) execute(c *gin.Context) {
	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}
	c.Header("X-Request-ID", uuid.NewString())
	c.JSON(http.StatusOK, s.engine.Execute(req.XML, req.Query, req.WorkingDir))
}

func (s *Server) preprocess(c *gin.Context) {
	var req PreprocessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	c.JSON(http.StatusOK, PreprocessResponse{Query: xquery.Preprocess(req.Query)})
}

func (s *Server) requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RequestTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
	}
}
