// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/Shivanand-hulikatti/club-registration/internal/auth"
	"github.com/Shivanand-hulikatti/club-registration/internal/config"
	"github.com/Shivanand-hulikatti/club-registration/internal/database"
	"github.com/Shivanand-hulikatti/club-registration/internal/handler"
	"github.com/Shivanand-hulikatti/club-registration/internal/jobs"
	"github.com/Shivanand-hulikatti/club-registration/internal/logger"
	"github.com/Shivanand-hulikatti/club-registration/internal/metrics"
	"github.com/Shivanand-hulikatti/club-registration/internal/notify"
	"github.com/Shivanand-hulikatti/club-registration/internal/policy"
	"github.com/Shivanand-hulikatti/club-registration/internal/repository"
	"github.com/Shivanand-hulikatti/club-registration/internal/scheduler"
	"github.com/Shivanand-hulikatti/club-registration/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 1. Configuration and logging ──────────────────────────────────────
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log := logger.Initialize(cfg.Log.Level, cfg.Log.Format)
	m := metrics.New(prometheus.DefaultRegisterer)

	// ── 2. Store ──────────────────────────────────────────────────────────
	store, closeStore, err := openStore(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer closeStore()

	// ── 3. Notifications ──────────────────────────────────────────────────
	sink, closeSink, err := openSink(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("notification sink: %w", err)
	}
	defer closeSink()
	dispatcher := notify.NewDispatcher(sink, notify.Options{
		Workers:    cfg.Notify.Workers,
		QueueSize:  cfg.Notify.QueueSize,
		MaxRetries: cfg.Notify.MaxRetries,
		RetryDelay: cfg.Notify.RetryDelay,
	}, log, m)

	// ── 4. Wire up layers ─────────────────────────────────────────────────
	svcOpts := []service.Option{service.WithLogger(log), service.WithMetrics(m)}
	cancellation := policy.NewCancellation(cfg.Registration.CancellationWindow)
	regSvc := service.NewRegistrationService(store, cancellation, dispatcher, svcOpts...)
	entitySvc := service.NewEntityService(store, svcOpts...)

	router := handler.NewRouter(handler.RouterConfig{
		Registrations: handler.NewRegistrationHandler(regSvc, log),
		Entities:      handler.NewEntityHandler(entitySvc, log),
		Requests:      handler.NewRequestHandler(entitySvc, log),
		Validator:     auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		Logger:        log,
		AllowedOrigin: cfg.Server.AllowedOrigin,
		Metrics:       promhttp.Handler(),
	})

	var cronJobs []scheduler.Job
	if cfg.Jobs.ReconcileSchedule != "" {
		reconciler := jobs.NewReconciler(store, log, m, 0)
		cronJobs = append(cronJobs, scheduler.Job{
			Name:     "reconcile-rosters",
			Schedule: cfg.Jobs.ReconcileSchedule,
			Run:      reconciler.Run,
		})
	}
	sched, err := scheduler.New(log, cronJobs...)
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	// ── 5. Start server with graceful shutdown ────────────────────────────
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error {
		log.Info("server listening", "addr", srv.Addr, "store", cfg.Database.Driver, "sink", sink.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}

// openStore builds the configured backend and returns its cleanup.
func openStore(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger) (repository.Store, func(), error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		dsn := cfg.DSN()
		if cfg.MigrateOnStart {
			if err := database.RunMigrations(dsn, log); err != nil {
				return nil, nil, err
			}
		}
		pool, err := database.NewPool(ctx, dsn, database.DefaultPoolOptions(), log)
		if err != nil {
			return nil, nil, err
		}
		log.Info("connected to postgres")
		return repository.NewPostgresStore(pool, repository.WithTxTimeout(cfg.TxTimeout)), pool.Close, nil

	case config.DriverSQLite:
		store, err := repository.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		log.Info("opened sqlite store", "path", cfg.SQLitePath)
		return store, func() { _ = store.Close() }, nil

	default:
		log.Warn("using in-memory store; registrations are lost on restart")
		return repository.NewMemoryStore(), func() {}, nil
	}
}

// openSink builds the configured notification sink and returns its cleanup.
func openSink(ctx context.Context, cfg *config.Config, log *slog.Logger) (notify.Sink, func(), error) {
	nc := cfg.Notify
	switch nc.Sink {
	case config.SinkEmail:
		renderer := notify.NewRenderer(nc.Locale, cfg.Registration.CancellationWindow, log)
		var mailer notify.Mailer = notify.NewLogMailer(log)
		if nc.SendGrid.APIKey != "" {
			mailer = notify.NewSendGridMailer(nc.SendGrid.APIKey, nc.SendGrid.FromEmail, nc.SendGrid.FromName)
		}
		return notify.NewEmailSink(renderer, mailer, log), func() {}, nil

	case config.SinkRedis:
		client, err := notify.NewRedisClient(ctx, nc.Redis.URL)
		if err != nil {
			return nil, nil, err
		}
		return notify.NewRedisSink(client, nc.Redis.List), closeQuietly(client, log), nil

	case config.SinkKafka:
		client, err := notify.NewKafkaClient(nc.Kafka.Brokers)
		if err != nil {
			return nil, nil, err
		}
		return notify.NewKafkaSink(client, nc.Kafka.Topic), client.Close, nil

	default:
		return notify.NewLogSink(log), func() {}, nil
	}
}

func closeQuietly(c io.Closer, log *slog.Logger) func() {
	return func() {
		if err := c.Close(); err != nil {
			log.Warn("close failed", "error", err)
		}
	}
}
