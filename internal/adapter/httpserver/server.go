package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/marketpulse/internal/adapter/metrics"
	"github.com/pscheid92/marketpulse/internal/adapter/redis"
	"github.com/pscheid92/marketpulse/internal/broadcast"
	"github.com/pscheid92/marketpulse/internal/domain"
	"github.com/pscheid92/marketpulse/internal/platform/config"
)

// StreamRegistry exposes the local connection registry to operators.
type StreamRegistry interface {
	Stats() broadcast.Stats
	Connections() []broadcast.ConnectionInfo
}

// InstanceLister lists the instances with a recent heartbeat.
type InstanceLister interface {
	Active(ctx context.Context) ([]redis.InstanceInfo, error)
}

// MarketPublisher publishes operator market updates.
type MarketPublisher interface {
	MarketUpdate(ctx context.Context, updateType string, data json.RawMessage) (int, error)
}

// RequestLogSink accepts request-log entries without blocking.
type RequestLogSink interface {
	Enqueue(entry domain.RequestLogEntry) bool
}

// Dependencies are the collaborators behind the HTTP routes. Instances and
// RequestLog are optional.
type Dependencies struct {
	Stream         echo.HandlerFunc
	Registry       StreamRegistry
	Instances      InstanceLister
	Market         MarketPublisher
	RequestLog     RequestLogSink
	MetricsHandler http.Handler
	HTTPMetrics    *metrics.HTTPMetrics
	HealthChecks   []HealthCheck
	Clock          clockwork.Clock
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	stream         echo.HandlerFunc
	registry       StreamRegistry
	instances      InstanceLister
	market         MarketPublisher
	requestLog     RequestLogSink
	metricsHandler http.Handler
	httpMetrics    *metrics.HTTPMetrics

	healthChecks []HealthCheck
	draining     atomic.Bool
	clock        clockwork.Clock
	startTime    time.Time
}

func NewServer(cfg *config.Config, deps Dependencies) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	srv := &Server{
		echo:           e,
		config:         cfg,
		stream:         deps.Stream,
		registry:       deps.Registry,
		instances:      deps.Instances,
		market:         deps.Market,
		requestLog:     deps.RequestLog,
		metricsHandler: deps.MetricsHandler,
		httpMetrics:    deps.HTTPMetrics,
		healthChecks:   deps.HealthChecks,
		clock:          clock,
		startTime:      clock.Now(),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// MarkDraining makes readiness fail while the server finishes in-flight work.
func (s *Server) MarkDraining() {
	s.draining.Store(true)
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
