package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/mamamind47/sfa-queue/internal/announce"
	"github.com/mamamind47/sfa-queue/internal/auth"
	"github.com/mamamind47/sfa-queue/internal/config"
	"github.com/mamamind47/sfa-queue/internal/httpapi"
	"github.com/mamamind47/sfa-queue/internal/identity"
	"github.com/mamamind47/sfa-queue/internal/live"
	"github.com/mamamind47/sfa-queue/internal/logger"
	"github.com/mamamind47/sfa-queue/internal/queue"
	"github.com/mamamind47/sfa-queue/internal/store"
	"github.com/mamamind47/sfa-queue/internal/store/memory"
	"github.com/mamamind47/sfa-queue/internal/store/postgres"
	"github.com/mamamind47/sfa-queue/internal/telemetry"
)

const serviceName = "queue-service"

var autoMigrate bool

func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&autoMigrate, "auto-migrate", true, "Apply pending migrations on startup (postgres only)")
}

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE:  runServe,
	}
	addServeFlags(cmd)
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.InsecureSecret() {
		log.Warn("AUTH_SECRET is unset, staff sessions are signed with the built-in development secret", "store", cfg.StoreKind)
	}

	shutdownTracing := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: serviceName,
		Version:     version,
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
		SampleRatio: cfg.TraceSampleRatio,
	}, log)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn("tracing shutdown", "error", err)
		}
	}()

	st, closeStore, err := openStore(ctx, cfg, autoMigrate, log)
	if err != nil {
		return err
	}
	defer closeStore()

	directory, closeDirectory, err := openDirectory(cfg, log)
	if err != nil {
		return err
	}
	defer closeDirectory()

	hub := live.NewHub(cfg.SubscriberBuffer, logger.WithComponent(log, "live"))
	notifier := live.NewNotifier(hub, st, logger.WithComponent(log, "live"))

	provider := announce.NewProvider(announce.ProviderConfig{
		Kind:         cfg.AnnounceProvider,
		WebhookURL:   cfg.AnnounceWebhookURL,
		WebhookToken: cfg.AnnounceWebhookToken,
	}, logger.WithComponent(log, "announce"))
	announcer := announce.NewWorker(provider, announce.Config{}, logger.WithComponent(log, "announce"))

	engine := queue.NewEngine(st, directory, notifier, announcer, queue.Options{
		Location:      cfg.Location(),
		Logger:        logger.WithComponent(log, "queue"),
		NotifyTimeout: cfg.NotifyTimeout,
	})
	if err := seedServices(ctx, engine, cfg.SeedServices, log); err != nil {
		return err
	}

	gate := auth.NewGate(auth.Config{
		Mode:       cfg.AuthMode,
		Secret:     cfg.AuthSecret,
		StaffPIN:   cfg.StaffPIN,
		AdminPIN:   cfg.AdminPIN,
		SessionTTL: cfg.SessionTTL,
	})
	handler := httpapi.NewHandler(engine, httpapi.Options{
		Gate:              gate,
		Streamer:          notifier,
		KeepAlive:         cfg.StreamKeepAlive,
		BasePath:          cfg.BasePath,
		ForceCookieSecure: cfg.ForceCookieSecure,
		Logger:            logger.WithComponent(log, "http"),
	})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		PerMinute: cfg.RateLimitPerMinute,
		Burst:     cfg.RateLimitBurst,
	})

	api := handler.Routes()
	root := http.NewServeMux()
	// Live channels stay outside otelhttp so the stream handler can reach
	// the connection to lift the write deadline.
	streams := httpapi.LoggingMiddleware(log, limiter.Middleware(api))
	root.Handle("/api/stream/", streams)
	root.Handle("/realtime/", streams)
	root.Handle("/", otelhttp.NewHandler(httpapi.LoggingMiddleware(log, limiter.Middleware(api)), serviceName))

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      root,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	server.RegisterOnShutdown(hub.CloseAll)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", "addr", server.Addr, "store", cfg.StoreKind)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return announcer.Run(gctx)
	})
	g.Go(func() error {
		return limiter.Run(gctx, time.Minute)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(sctx); err != nil {
			log.Error("server shutdown", "error", err)
			return server.Close()
		}
		return nil
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg config.Config, migrate bool, log *slog.Logger) (store.Store, func(), error) {
	if cfg.StoreKind == "memory" {
		log.Warn("using in-memory store, data is lost on restart")
		return memory.NewStore(), func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("db connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("db ping: %w", err)
	}
	if migrate {
		if err := postgres.MigrateUp(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}
	return postgres.NewStore(pool), pool.Close, nil
}

// openDirectory builds the student directory, cached in Redis when
// REDIS_URL is set.
func openDirectory(cfg config.Config, log *slog.Logger) (identity.Directory, func(), error) {
	client := identity.NewUniversityClient(cfg.UniversityAPIURL, cfg.UniversityAPIKey, cfg.UniversityTimeout)
	if cfg.UniversityAPIURL == "" {
		log.Warn("UNIVERSITY_API_URL not set, student tickets are disabled")
	}
	if cfg.RedisURL == "" {
		return client, func() {}, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	cached := identity.NewCachedDirectory(client, rdb, cfg.IdentityCacheTTL, logger.WithComponent(log, "identity"))
	return cached, func() { _ = rdb.Close() }, nil
}

func seedServices(ctx context.Context, engine *queue.Engine, raw string, log *slog.Logger) error {
	services, err := config.ParseServices(raw)
	if err != nil {
		return err
	}
	for _, svc := range services {
		created, err := engine.EnsureService(ctx, svc[0], svc[1])
		if err != nil {
			return fmt.Errorf("seed %s: %w", svc[0], err)
		}
		log.Info("service ready", "id", created.ID, "code", created.Code, "name", created.Name)
	}
	return nil
}
