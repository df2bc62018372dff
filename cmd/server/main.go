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
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/adapter/httpserver"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/adapter/hue"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/adapter/metrics"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/adapter/overlay"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/adapter/postgres"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/adapter/redis"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/adapter/scrape"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/adapter/statefile"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/adapter/twitchirc"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/app"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/detect"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/domain"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/hub"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/platform/config"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/platform/logging"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/platform/retry"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/platform/version"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 10 * time.Second
	connectTimeout  = 10 * time.Second
	connectAttempts = 5
)

// startupRetry retries dependency connects a few times so the service
// survives Redis or Postgres starting slightly after it.
var startupRetry = retry.Policy{
	MaxAttempts: connectAttempts,
	Backoff:     retry.DefaultBackoff(),
	OnRetry: func(attempt int, err error, delay time.Duration) {
		slog.Warn("Dependency not reachable, retrying", "attempt", attempt, "delay", delay, "error", err)
	},
}

func alwaysRetry(error) retry.Action { return retry.Retry }

func setupDB(ctx context.Context, clock clockwork.Clock, cfg *config.Config) (*pgxpool.Pool, error) {
	pool, err := retry.Do(ctx, clock, startupRetry, alwaysRetry, func() (*pgxpool.Pool, error) {
		connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		return postgres.Connect(connectCtx, cfg.DatabaseURL)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := postgres.RunMigrationsWithLock(migrateCtx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return pool, nil
}

func setupRedis(ctx context.Context, clock clockwork.Clock, cfg *config.Config, breakerMetrics *metrics.CircuitBreakerMetrics) (*goredis.Client, error) {
	client, err := retry.Do(ctx, clock, startupRetry, alwaysRetry, func() (*goredis.Client, error) {
		connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		return redis.NewClient(connectCtx, cfg.RedisURL, breakerMetrics)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func setupStateStore(cfg *config.Config, redisClient *goredis.Client) domain.StateStore {
	if cfg.StateBackend == "redis" {
		return redis.NewStateStore(redisClient)
	}
	return statefile.New(cfg.StateFile)
}

// loadSeed returns the persisted total, or START_VALUE when nothing was saved.
func loadSeed(ctx context.Context, cfg *config.Config, store domain.StateStore) (int64, error) {
	total, found, err := store.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load persisted total from %s: %w", cfg.StateBackend, err)
	}
	if !found {
		slog.Info("No persisted total, using start value", "start_value", cfg.StartValue)
		return cfg.StartValue, nil
	}
	slog.Info("Resuming from persisted total", "total", total, "backend", cfg.StateBackend)
	return total, nil
}

func setupSampler(cfg *config.Config, clock clockwork.Clock) app.SampleSource {
	if cfg.ScrapeDisabled {
		slog.Info("Scraping disabled, only manual triggers produce donations")
		return nil
	}

	source := scrape.New(scrape.Config{
		URL:             cfg.MHURL,
		AmountSelector:  cfg.ScrapeAmountSelector,
		SpinnerSelector: cfg.ScrapeSpinnerSelector,
		UserAgent:       cfg.ScrapeUserAgent,
		Timeout:         cfg.ScrapeTimeout,
		LoadWait:        cfg.ScrapeLoadWait,
		RetryInterval:   cfg.ScrapeRetryInterval,
	}, clock)
	return detect.NewSampler(source, clock)
}

func setupSinks(cfg *config.Config, clock clockwork.Clock, broadcaster *overlay.Broadcaster, redisClient *goredis.Client, pool *pgxpool.Pool, breakerMetrics *metrics.CircuitBreakerMetrics) ([]app.Sink, error) {
	sinks := []app.Sink{overlay.NewSink(broadcaster, cfg.PathToGIF)}

	if cfg.TwitchEnabled {
		sinks = append(sinks, twitchirc.New(twitchirc.Config{
			Host:    cfg.TwitchHost,
			Port:    cfg.TwitchPort,
			TLS:     cfg.TwitchTLS,
			Nick:    cfg.TwitchNick,
			OAuth:   cfg.TwitchOAuth,
			Channel: cfg.TwitchChannel,
		}, clock))
	}

	if cfg.HueEnabled {
		policy, err := hue.LoadPolicy(cfg.HueEffectsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load Hue effect policy %s: %w", cfg.HueEffectsFile, err)
		}
		client := hue.NewClient(hue.Config{
			BridgeIP:    cfg.HueBridgeIP,
			AppKey:      cfg.HueAppKey,
			GroupID:     cfg.HueGroupID,
			InsecureTLS: cfg.HueInsecureTLS,
		}, breakerMetrics)
		sinks = append(sinks, hue.NewTrigger(client, policy, clock))
	}

	if redisClient != nil {
		sinks = append(sinks, redis.NewEventPublisher(redisClient))
	}
	if pool != nil {
		sinks = append(sinks, postgres.NewLedger(pool))
	}

	return sinks, nil
}

func healthChecks(pipeline *app.Pipeline, h *hub.Hub, redisClient *goredis.Client, pool *pgxpool.Pool) []httpserver.HealthCheck {
	checks := []httpserver.HealthCheck{
		{Name: "monitor", Check: func(context.Context) error {
			if !pipeline.Ready() {
				return errors.New("waiting for first poll")
			}
			return nil
		}},
		{Name: "hub", Check: func(context.Context) error {
			if h.Closed() {
				return hub.ErrClosed
			}
			return nil
		}},
	}
	if redisClient != nil {
		checks = append(checks, httpserver.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}})
	}
	if pool != nil {
		checks = append(checks, httpserver.HealthCheck{Name: "postgres", Check: pool.Ping})
	}
	return checks
}

func main() {
	os.Exit(run())
}

// run wires and runs the service. It returns the process exit code so that
// deferred cleanup runs before the process exits.
func run() int {
	clock := clockwork.NewRealClock()

	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Printf("Failed to load config: %v", err)
		return 1
	}

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", version.Get().String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := metrics.NewRegistry()
	breakerMetrics := metrics.NewCircuitBreakerMetrics(reg)

	// Pass nil explicitly for optional stores to avoid typed-nil interfaces.
	var redisClient *goredis.Client
	if cfg.RedisURL != "" {
		if redisClient, err = setupRedis(ctx, clock, cfg, breakerMetrics); err != nil {
			slog.Error("Startup failed", "error", err)
			return 1
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				slog.Warn("Failed to close Redis client", "error", err)
			}
		}()
	}
	var pool *pgxpool.Pool
	var history httpserver.DonationHistory
	if cfg.DatabaseURL != "" {
		if pool, err = setupDB(ctx, clock, cfg); err != nil {
			slog.Error("Startup failed", "error", err)
			return 1
		}
		defer pool.Close()
		history = postgres.NewLedger(pool)
	}

	store := setupStateStore(cfg, redisClient)
	seed, err := loadSeed(ctx, cfg, store)
	if err != nil {
		slog.Error("Startup failed", "error", err)
		return 1
	}

	eventHub := hub.New(cfg.HubQueueCapacity, metrics.NewHubMetrics(reg))
	broadcaster := overlay.NewBroadcaster(clock, overlay.NewOriginPolicy(cfg.AppURL, cfg.IsDevelopment()).Allow, metrics.NewOverlayMetrics(reg))

	sinks, err := setupSinks(cfg, clock, broadcaster, redisClient, pool, breakerMetrics)
	if err != nil {
		slog.Error("Startup failed", "error", err)
		return 1
	}

	forwarderMetrics := metrics.NewForwarderMetrics(reg)
	var forwarders []*app.Forwarder
	for _, sink := range sinks {
		forwarders = append(forwarders, app.NewForwarder(sink, eventHub, clock, app.ForwarderConfig{
			AttemptTimeout: cfg.AdapterAttemptTimeout,
			Backoff:        retry.DefaultBackoff(),
		}, forwarderMetrics))
		slog.Info("Consumer enabled", "sink", sink.Name())
	}

	monitor := app.NewMonitor(
		setupSampler(cfg, clock),
		detect.NewClassifier(cfg.SprintThreshold),
		eventHub,
		store,
		clock,
		app.MonitorConfig{Interval: cfg.RefreshInterval(), Seed: seed, SignalAmount: cfg.TriggerSignalAmount},
		metrics.NewMonitorMetrics(reg),
	)
	pipeline := app.NewPipeline(monitor, eventHub, forwarders...)

	srv, err := httpserver.NewServer(cfg, httpserver.Deps{
		Pipeline:     pipeline,
		Streams:      broadcaster,
		History:      history,
		Metrics:      metrics.Handler(reg),
		HTTPMetrics:  metrics.NewHTTPMetrics(reg),
		HealthChecks: healthChecks(pipeline, eventHub, redisClient, pool),
	})
	if err != nil {
		slog.Error("Failed to create server", "error", err)
		return 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pipeline.Run(gctx) })
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server error", "error", err)
		return 1
	}
	slog.Info("Shutdown complete", "last_total", monitor.LastTotal())
	return 0
}
