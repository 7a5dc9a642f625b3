// Package adminhttp exposes the operator API over HTTP. Mutating routes
// forward to the controller, which applies them at the next cycle
// boundary or delay tick; the loop stays the only writer of trading
// state.
package adminhttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"autohelm/internal/core"
	"autohelm/internal/logger"
)

const shutdownGrace = 5 * time.Second

var log = logger.Named("api")

// Config carries what the server needs to listen.
type Config struct {
	Addr   string
	Router *Router
}

// Server hosts the admin API on a plain http.Server with graceful
// shutdown driven by the context handed to Start.
type Server struct {
	addr   string
	router *Router
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Router == nil {
		return nil, &core.ConfigurationError{Field: "router", Msg: "required"}
	}
	addr := cfg.Addr
	if addr == "" {
		addr = ":8686"
	}
	return &Server{addr: addr, router: cfg.Router}, nil
}

// Addr returns the listen address the server was configured with.
func (s *Server) Addr() string { return s.addr }

// Start blocks until ctx is cancelled or the listener fails. In-flight
// requests get shutdownGrace to finish.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("admin API listening on %s", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warnf("shutdown: %v", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// engine assembles the gin handler tree.
func (s *Server) engine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.Register(engine.Group("/api/v1"))
	return engine
}

// requestLogger emits one debug line per request.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debugf("HTTP %s %s status=%d ip=%s dur=%s",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(),
			c.ClientIP(), time.Since(start).Round(time.Millisecond))
	}
}
