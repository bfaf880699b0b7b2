// Package api serves the birthday HTTP endpoints.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"cloud.google.com/go/civil"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/medianage/internal/clock"
	"github.com/ethpandaops/medianage/internal/export"
)

// Config configures the API listener.
type Config struct {
	// Addr defaults to ":8080".
	Addr string `yaml:"addr"`
}

// Histogram accepts birth dates.
type Histogram interface {
	Add(d civil.Date) error
}

// MedianFinder answers median queries.
type MedianFinder interface {
	FindMedian(start, end civil.Date) (civil.Date, bool, error)
}

// AddedFunc is called after a birthday has been counted.
type AddedFunc func(d civil.Date, addedAt time.Time)

// Server is the gin HTTP server for the birthday endpoints.
type Server struct {
	log     logrus.FieldLogger
	addr    string
	store   Histogram
	median  MedianFinder
	clock   clock.Clock
	health  *export.HealthMetrics
	onAdded AddedFunc
	now     func() time.Time

	router   *gin.Engine
	server   *http.Server
	listener net.Listener
}

// New creates a server. health and onAdded may be nil.
func New(
	log logrus.FieldLogger,
	cfg Config,
	store Histogram,
	median MedianFinder,
	clk clock.Clock,
	health *export.HealthMetrics,
	onAdded AddedFunc,
) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}

	s := &Server{
		log:     log.WithField("component", "api"),
		addr:    cfg.Addr,
		store:   store,
		median:  median,
		clock:   clk,
		health:  health,
		onAdded: onAdded,
		now:     time.Now,
	}

	s.router = s.routes()

	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	b := r.Group("/birthday")
	b.GET("/add", s.handleAdd)
	b.GET("/medianage", s.handleMedianAge)
	b.GET("/median", s.handleMedian)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving in the background.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.log.WithField("addr", ln.Addr().String()).Info("API server started")

		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("API server error")
		}
	}()

	return nil
}

// Addr returns the actual listener address, or the configured one before
// Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}

	return s.addr
}

// Stop drains in-flight requests for up to five seconds.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}

	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		s.log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"query":    c.Request.URL.RawQuery,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Debug("Handled request")
	}
}
