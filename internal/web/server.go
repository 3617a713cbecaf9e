// Package web serves the UI shell's JSON status API and its live event
// stream over a websocket.
package web

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hpungsan/tilth/internal/app"
)

// Server is the HTTP server plus its event hub.
type Server struct {
	HTTP *http.Server
	Hub  *Hub

	app    *app.App
	logger *zap.Logger
}

// NewServer creates and configures the HTTP server for `tilth serve`.
func NewServer(a *app.App, version, bind string, port int) *Server {
	gin.SetMode(gin.ReleaseMode)
	logger := a.Logger.Named("web")

	s := &Server{
		Hub:    NewHub(a.Shell, logger),
		app:    a,
		logger: logger,
	}
	h := &Handlers{app: a, version: version}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger), securityHeaders())
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/ws"})))

	r.GET("/", func(c *gin.Context) { c.Redirect(http.StatusFound, "/api/status") })
	api := r.Group("/api")
	api.GET("/status", h.HandleStatus)
	api.GET("/queue", h.HandleQueue)
	api.POST("/sync", h.HandleSync)
	api.PUT("/connectivity", h.HandleConnectivity)
	api.GET("/knowledge", h.HandleKnowledge)
	r.GET("/ws", s.Hub.HandleWS)

	s.HTTP = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", bind, port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Next()
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

// Run starts the hub and the HTTP server and shuts both down gracefully on
// SIGINT/SIGTERM or when ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s.Hub.Start(ctx)
	defer s.Hub.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.HTTP.ListenAndServe()
	}()

	s.logger.Info("tilth serving", zap.String("addr", "http://"+s.HTTP.Addr))
	if strings.Contains(s.HTTP.Addr, "0.0.0.0") || strings.Contains(s.HTTP.Addr, "::") {
		fmt.Fprintln(os.Stderr, "WARNING: Server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.HTTP.Shutdown(shutdownCtx)
	}
}
