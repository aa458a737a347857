package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/msgtap/internal/adapter/api"
	"github.com/V4T54L/msgtap/internal/adapter/api/handler"
	"github.com/V4T54L/msgtap/internal/adapter/metrics"
	"github.com/V4T54L/msgtap/internal/adapter/repository/memory"
	"github.com/V4T54L/msgtap/internal/adapter/repository/postgres"
	redisrepo "github.com/V4T54L/msgtap/internal/adapter/repository/redis"
	"github.com/V4T54L/msgtap/internal/adapter/sanitize"
	"github.com/V4T54L/msgtap/internal/diag"
	"github.com/V4T54L/msgtap/internal/domain"
	"github.com/V4T54L/msgtap/internal/enrich"
	"github.com/V4T54L/msgtap/internal/logstore"
	"github.com/V4T54L/msgtap/internal/pkg/config"
	"github.com/V4T54L/msgtap/internal/usecase"

	_ "github.com/lib/pq" // Keep for postgres driver
)

// app is the wired server: the message logger, its host and both HTTP
// handlers. Background loops are started by run.
type app struct {
	logger   *slog.Logger
	registry *prometheus.Registry
	host     *memory.Host
	settings domain.SettingsRepository
	logging  *usecase.MessageLoggingUseCase
	api      http.Handler
	admin    http.Handler

	background []func(ctx context.Context) error
	closers    []func() error
}

// newApp wires every component from cfg. ctx bounds the startup calls to
// redis and the SSE broker's lifetime.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{logger: logger, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewPipelineMetrics(a.registry)

	a.host = memory.NewHost(cfg.SelfUserID, logger)

	settings, err := a.openSettings(ctx, cfg)
	if err != nil {
		a.close()
		return nil, err
	}
	a.settings = settings

	var db *sql.DB
	if cfg.PostgresURL != "" {
		db, err = sql.Open("postgres", cfg.PostgresURL)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			logger.Warn("could not reach postgres, identity lookups will degrade", "error", err)
		}
		a.closers = append(a.closers, db.Close)
	}

	sanitizer := sanitize.NewSanitizer(cfg.RedactionFields(), logger)
	d := diag.New(settings, logger.With("component", "message_logger").Handler(), slog.NewTextHandler(os.Stderr, nil), sanitizer)

	var resolver domain.IdentityResolver = a.host
	if db != nil {
		resolver = postgres.NewIdentityRepository(db, logger, cfg.IdentityCacheTTL, m)
	}
	enricher := enrich.NewService(resolver, enrich.Config{
		Timeout:   cfg.EnrichTimeout,
		RateLimit: cfg.EnrichRateLimit,
		Burst:     cfg.EnrichBurst,
	}, d, m)

	a.logging = usecase.NewMessageLoggingUseCase(usecase.MessageLoggingDeps{
		Store:     a.host,
		Holder:    a.host,
		Settings:  settings,
		Log:       logstore.New(cfg.MaxEntries, logger, m),
		Enricher:  enricher,
		Diag:      d,
		Sanitizer: sanitizer,
		Metrics:   m,
		Logger:    logger,
	})
	a.closers = append(a.closers, cancelFunc(settings.Watch(a.logging.OnSettingChanged)).close)
	a.logging.Reload()

	broker := handler.NewSSEBroker(ctx, logger)
	a.closers = append(a.closers, cancelFunc(a.logging.OnAppend(broker.Publish)).close)

	deps := api.RouterDeps{
		Logger:      logger,
		Logs:        a.logging,
		Settings:    settings,
		Diagnostics: d,
		Host:        a.host,
		Mutations:   usecase.NewIngestMutationUseCase(a.host, logger),
		Stream:      broker,
	}
	switch keys := cfg.APIKeyList(); {
	case len(keys) > 0:
		deps.APIKeys = memory.NewAPIKeys(keys)
	case db != nil:
		deps.APIKeys = postgres.NewAPIKeyRepository(db, logger, cfg.APIKeyCacheTTL, m)
	default:
		logger.Warn("no API keys configured, the API is unauthenticated")
	}
	a.api = api.NewRouter(deps)
	a.admin = api.NewAdminRouter(a.registry, logger)

	return a, nil
}

func (a *app) openSettings(ctx context.Context, cfg *config.Config) (domain.SettingsRepository, error) {
	if cfg.RedisAddr == "" {
		return memory.NewSettings(cfg.SettingDefaults()), nil
	}

	opts, err := redisOptions(cfg.RedisAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis address: %w", err)
	}
	client := redis.NewClient(opts)
	a.closers = append(a.closers, client.Close)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	repo, err := redisrepo.NewSettingsRepository(ctx, client, a.logger, cfg.SettingsKey, cfg.SettingsChannel, cfg.SettingDefaults())
	if err != nil {
		return nil, err
	}
	a.background = append(a.background, repo.Run)
	return repo, nil
}

// redisOptions accepts either a redis:// URL or a bare host:port.
func redisOptions(addr string) (*redis.Options, error) {
	if strings.Contains(addr, "://") {
		return redis.ParseURL(addr)
	}
	return &redis.Options{Addr: addr}, nil
}

// run starts the background loops. Each one runs until ctx is cancelled; a
// loop that fails early is logged and does not stop the others.
func (a *app) run(ctx context.Context) {
	for _, fn := range a.background {
		go func() {
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("background loop stopped", "error", err)
			}
		}()
	}
}

// shutdown stops the message logger, waits for its in-flight work and then
// releases every connection.
func (a *app) shutdown(ctx context.Context) error {
	var errs []error
	if a.logging != nil {
		errs = append(errs, a.logging.Close(ctx))
	}
	errs = append(errs, a.close())
	return errors.Join(errs...)
}

func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// cancelFunc adapts an unsubscribe func to the closers list.
type cancelFunc func()

func (f cancelFunc) close() error {
	f()
	return nil
}
