package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/marketpulse/internal/adapter/auth"
	"github.com/pscheid92/marketpulse/internal/adapter/httpserver"
	"github.com/pscheid92/marketpulse/internal/adapter/metrics"
	"github.com/pscheid92/marketpulse/internal/adapter/postgres"
	"github.com/pscheid92/marketpulse/internal/adapter/redis"
	"github.com/pscheid92/marketpulse/internal/adapter/websocket"
	"github.com/pscheid92/marketpulse/internal/app"
	"github.com/pscheid92/marketpulse/internal/broadcast"
	"github.com/pscheid92/marketpulse/internal/domain"
	"github.com/pscheid92/marketpulse/internal/platform/config"
	"github.com/pscheid92/marketpulse/internal/platform/logging"
	"github.com/pscheid92/marketpulse/internal/platform/retry"
	"github.com/pscheid92/marketpulse/internal/platform/version"
	"github.com/pscheid92/marketpulse/internal/platform/workqueue"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const (
	heartbeatInterval   = 15 * time.Second
	retentionLeaseKey   = "marketpulse:leader:retention"
	retentionLeaseTTL   = 2 * time.Hour
	relayRestartBackoff = 5 * time.Second
	shutdownTimeout     = 10 * time.Second
)

// background tracks the goroutines that must be joined on shutdown.
type background struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (b *background) Go(fn func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
}

func (b *background) Stop() {
	b.cancel()
	b.wg.Wait()
}

type shutdownDeps struct {
	srv        *httpserver.Server
	registry   *broadcast.Registry
	pricePoll  *app.PricePoller
	newsPoll   *app.NewsPoller
	requestLog *workqueue.Queue[domain.RequestLogEntry]
	background *background
}

func runGracefulShutdown(deps shutdownDeps) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")
		deps.srv.MarkDraining()

		deps.pricePoll.Stop()
		deps.newsPoll.Stop()
		deps.registry.CloseAll("server shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := deps.srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		deps.background.Stop()

		if err := deps.requestLog.Close(shutdownCtx); err != nil {
			slog.Error("Request log queue did not drain", "error", err)
		}

		close(done)
	}()

	return done
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = defaultInstanceID()
	}
	return cfg
}

func defaultInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "instance"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

func startupPolicy(dependency string) retry.Policy {
	p := retry.Startup
	p.OnRetry = func(attempt int, err error, backoff time.Duration) {
		slog.Warn("Dependency not ready, retrying", "dependency", dependency, "attempt", attempt, "backoff", backoff, "error", err)
	}
	return p
}

func setupDB(cfg *config.Config, m *metrics.DBMetrics) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := retry.Do(ctx, startupPolicy("postgres"), retry.Transient, func() (*pgxpool.Pool, error) {
		return postgres.Connect(ctx, cfg.DatabaseURL, m)
	})
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

// setupRedis connects to Redis when REDIS_URL is set. Without it the
// instance runs standalone.
func setupRedis(cfg *config.Config, m *metrics.RedisMetrics) *goredis.Client {
	if cfg.RedisURL == "" {
		slog.Info("REDIS_URL not set, running without cluster relay")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	client, err := retry.Do(ctx, startupPolicy("redis"), retry.Transient, func() (*goredis.Client, error) {
		return redis.NewClient(ctx, cfg.RedisURL, m)
	})
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

// runRelay keeps the relay subscription alive until ctx is cancelled.
func runRelay(ctx context.Context, relay *redis.Relay, clock clockwork.Clock) {
	for {
		err := relay.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		slog.Warn("Relay subscription ended, restarting", "error", err, "backoff", relayRestartBackoff)
		select {
		case <-ctx.Done():
			return
		case <-clock.After(relayRestartBackoff):
		}
	}
}

func main() {
	decimal.MarshalJSONWithoutQuotes = true
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "version", version.Get().String(), "env", cfg.AppEnv, "port", cfg.Port, "instance_id", cfg.InstanceID)

	reg := metrics.NewRegistry()
	streamMetrics := metrics.NewStreamMetrics(reg)
	pollerMetrics := metrics.NewPollerMetrics(reg)
	queueMetrics := metrics.NewQueueMetrics(reg)

	pool := setupDB(cfg, metrics.NewDBMetrics(reg))
	defer pool.Close()

	redisMetrics := metrics.NewRedisMetrics(reg)
	redisClient := setupRedis(cfg, redisMetrics)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	registry := broadcast.NewRegistry(clock, streamMetrics)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	bg := &background{cancel: bgCancel}

	var (
		cluster   domain.Deliverer
		instances *redis.InstanceRegistry
		lease     app.Lease
	)
	if redisClient != nil {
		relay := redis.NewRelay(redisClient, registry, cfg.InstanceID, redisMetrics)
		cluster = relay
		bg.Go(func() { runRelay(bgCtx, relay, clock) })

		instances = redis.NewInstanceRegistry(redisClient, cfg.InstanceID, version.Get().Version, heartbeatInterval, registry, clock)
		bg.Go(func() { instances.Run(bgCtx) })

		lease = redis.NewLease(redisClient, retentionLeaseKey, cfg.InstanceID, retentionLeaseTTL)
	}

	dispatcher := app.NewDispatcher(registry, cluster, clock)

	alerts := app.NewAlertEvaluator(postgres.NewAlertRepo(pool), dispatcher, clock, pollerMetrics)
	pricePoller := app.NewPricePoller(postgres.NewPriceRepo(pool), dispatcher, alerts, clock, cfg.PricePollInterval, pollerMetrics)
	newsPoller := app.NewNewsPoller(postgres.NewNewsRepo(pool), postgres.NewWatchlistRepo(pool), dispatcher, clock, app.NewsPollerConfig{
		Interval:     cfg.NewsPollInterval,
		Lookback:     cfg.NewsLookback,
		BatchLimit:   cfg.NewsBatchLimit,
		SeenCapacity: cfg.SeenNewsCapacity,
	}, pollerMetrics)

	requestLogRepo := postgres.NewRequestLogRepo(pool)
	requestLog := workqueue.New[domain.RequestLogEntry](workqueue.Options{
		Name:     "request_log",
		Capacity: cfg.RequestLogQueueSize,
		Clock:    clock,
		Observer: queueMetrics.For("request_log"),
	}, requestLogRepo.InsertBatch)
	requestLog.Start()

	retention := app.NewRetentionJob(requestLogRepo, lease, clock, cfg.RequestLogRetention)
	bg.Go(func() { retention.Run(bgCtx) })

	limits := websocket.NewConnectionLimits(websocket.LimitsConfig{
		MaxConnections:       cfg.MaxWebSocketConnections,
		MaxPerIP:             cfg.MaxConnectionsPerIP,
		ConnectionsPerSecond: cfg.ConnectionRate,
		Burst:                cfg.ConnectionBurst,
	}, clock)
	verifier := auth.NewJWTVerifier(cfg.AuthJWTSecret, cfg.AuthJWTAudience, clock)
	streamHandler := websocket.NewHandler(registry, pricePoller, verifier, limits, clock, streamMetrics, websocket.HandlerConfig{
		AppURL:         cfg.AppURL,
		Development:    !cfg.IsProduction(),
		AllowedOrigins: cfg.Origins(),
	})

	healthChecks := []httpserver.HealthCheck{
		{Name: "postgres", Check: postgres.SchemaCheck(pool)},
	}
	if redisClient != nil {
		healthChecks = append(healthChecks, httpserver.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}

	deps := httpserver.Dependencies{
		Stream:         streamHandler.Serve,
		Registry:       registry,
		Market:         dispatcher,
		RequestLog:     requestLog,
		MetricsHandler: metrics.Handler(reg),
		HTTPMetrics:    metrics.NewHTTPMetrics(reg),
		HealthChecks:   healthChecks,
		Clock:          clock,
	}
	// Assigned only when set to avoid a typed-nil interface.
	if instances != nil {
		deps.Instances = instances
	}
	srv := httpserver.NewServer(cfg, deps)

	pricePoller.Start(bgCtx)
	newsPoller.Start(bgCtx)

	done := runGracefulShutdown(shutdownDeps{
		srv:        srv,
		registry:   registry,
		pricePoll:  pricePoller,
		newsPoll:   newsPoller,
		requestLog: requestLog,
		background: bg,
	})

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
