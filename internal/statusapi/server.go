// Package statusapi is the ambient HTTP surface over the gateway's status
// shared memory: a JSON stats endpoint, the HTML status page, and the
// minimal player page. Unlike the worker's epoll-driven streaming path,
// this runs as a regular net/http server (it is not on the hot path and
// carries no per-client state), adapted from the teacher's gin-based
// management API.
package statusapi

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/r2hgw/rtp2httpd/internal/statusmem"
)

// Server serves the status JSON/HTML surface for one worker's shared
// memory region.
type Server struct {
	region     *statusmem.Region
	workerIDs  []int
	logger     *slog.Logger
	engine     *gin.Engine
	httpServer *http.Server
}

// New builds the status HTTP server bound to host:port, reporting on the
// given worker ids out of region.
func New(region *statusmem.Region, workerIDs []int, host string, port int, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(slogRequestLogger(logger))

	s := &Server{region: region, workerIDs: workerIDs, logger: logger, engine: engine}
	engine.GET("/status.json", s.handleStatusJSON)
	engine.GET("/status", s.handleStatusPage)
	engine.GET("/player", s.handlePlayerPage)

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func slogRequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()
		if logger != nil {
			logger.Info("statusapi request",
				"path", path,
				"status", c.Writer.Status(),
				"latency_ms", time.Since(start).Milliseconds(),
			)
		}
	}
}

// Engine exposes the underlying gin engine for testing via httptest.
func (s *Server) Engine() *gin.Engine { return s.engine }

// Addr returns the server's configured listen address.
func (s *Server) Addr() string { return s.httpServer.Addr }

// ListenAndServe runs the status server until it is shut down.
func (s *Server) ListenAndServe() error { return s.httpServer.ListenAndServe() }

// Shutdown gracefully stops the status server.
func (s *Server) Shutdown(ctx context.Context) error { return s.httpServer.Shutdown(ctx) }
