package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/gatehouse-io/gatehouse/pkg/api"
	"github.com/gatehouse-io/gatehouse/pkg/config"
	"github.com/gatehouse-io/gatehouse/pkg/decision"
	"github.com/gatehouse-io/gatehouse/pkg/events"
	"github.com/gatehouse-io/gatehouse/pkg/janitor"
	"github.com/gatehouse-io/gatehouse/pkg/middleware"
	"github.com/gatehouse-io/gatehouse/pkg/observability"
	"github.com/gatehouse-io/gatehouse/pkg/policy"
	"github.com/gatehouse-io/gatehouse/pkg/reset"
	"github.com/gatehouse-io/gatehouse/pkg/session"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "gatehouse: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.ParsedLogLevel(), os.Stdout)
	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Observability.OTelEnabled {
		providers, err := observability.InitOTel(ctx, observability.OTelConfig{
			Enabled:        true,
			Endpoint:       cfg.Observability.OTelEndpoint,
			ServiceName:    cfg.Observability.OTelServiceName,
			ServiceVersion: cfg.Observability.OTelServiceVersion,
			Insecure:       cfg.Observability.OTelInsecure,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
		}
		defer func() {
			if err := providers.Shutdown(context.Background()); err != nil {
				logger.WithError(err).Warn("OpenTelemetry shutdown failed")
			}
		}()
	}

	// Storage.
	var store policy.Store
	var sessionStore session.Store
	healthChecks := map[string]api.HealthCheck{}

	switch cfg.Storage.Type {
	case "postgres":
		db, err := sql.Open("postgres", cfg.Storage.PostgresURL)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(cfg.Storage.MaxConns)
		db.SetConnMaxLifetime(cfg.Storage.ConnLifetime)
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("failed to ping database: %w", err)
		}
		if cfg.Storage.Migrate {
			if err := policy.RunMigrations(ctx, db); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
		}
		store = policy.NewPostgresStore(db)
		if cfg.Storage.Seed {
			if _, err := policy.SeedDefaults(ctx, store); err != nil {
				return fmt.Errorf("failed to seed defaults: %w", err)
			}
		}
		sessionStore = session.NewPostgresStore(db)
		healthChecks["postgres"] = func(ctx context.Context) error { return db.PingContext(ctx) }
		logger.Info("using postgres storage")
	default:
		store = policy.NewMemoryStore()
		sessionStore = session.NewMemoryStore()
		logger.Warn("using in-memory storage, data will not survive restarts")
	}

	// Redis.
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to ping redis: %w", err)
		}
		healthChecks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	// Events.
	var publisher events.Publisher = events.NewLogPublisher(logger)
	if redisClient != nil {
		publisher = events.MultiPublisher{publisher, events.NewRedisPublisher(redisClient)}
	}
	async := events.NewAsyncPublisher(publisher, cfg.Events.BufferSize, logger, metrics)
	defer async.Close()

	// Authorization.
	engine := policy.NewEngine(store)
	var cache decision.Cache
	if cfg.Cache.Enabled {
		if redisClient != nil {
			cache = decision.NewRedisCache(redisClient, cfg.Cache.TTL)
		} else {
			cache = decision.NewLocalCache(cfg.Cache.LocalEntries, cfg.Cache.TTL)
		}
	}
	authorizer := decision.NewAuthorizer(engine, store, cache, metrics, logger)
	admin := policy.NewAdmin(store, authorizer, async, metrics, logger)

	// Sessions and password reset.
	sessions := session.NewManager(sessionStore, store, []byte(cfg.Auth.JWTSecret), session.Config{
		AccessTTL:  cfg.Auth.AccessTTL,
		RefreshTTL: cfg.Auth.RefreshTTL,
		SessionTTL: cfg.Auth.SessionTTL,
	}, async, metrics, logger)

	var resets *reset.Manager
	if redisClient != nil {
		resets = reset.NewManager(redisClient, store, sessions, reset.Config{
			TokenTTL:   cfg.Reset.TokenTTL,
			RateLimit:  cfg.Reset.RateLimit,
			RateWindow: cfg.Reset.RateWindow,
		}, async, metrics, logger)
	}

	var limiter *middleware.DistributedRateLimiter
	if redisClient != nil {
		limiter = middleware.NewDistributedRateLimiter(redisClient, nil, "ratelimit")
	}

	server := api.NewServer(api.Options{
		Sessions:     sessions,
		Resets:       resets,
		Authorizer:   authorizer,
		Admin:        admin,
		Store:        store,
		Logger:       logger,
		Metrics:      metrics,
		Registry:     registry,
		RateLimiter:  limiter,
		HealthChecks: healthChecks,
	})

	// Background sweeper.
	sweeper := janitor.New(sessionStore, "", metrics, logger)
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("failed to start janitor: %w", err)
	}
	defer sweeper.Stop()

	var handler http.Handler = server
	if cfg.Observability.OTelEnabled {
		handler = otelhttp.NewHandler(server, "gatehouse")
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", httpServer.Addr).Info("gatehouse listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	logger.Info("gatehouse stopped")
	return nil
}
