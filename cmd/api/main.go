// Package main is the entry point for the reconciler API server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/donation-reconciler/internal/api"
	"github.com/onnwee/donation-reconciler/internal/auth"
	"github.com/onnwee/donation-reconciler/internal/config"
	"github.com/onnwee/donation-reconciler/internal/db"
	"github.com/onnwee/donation-reconciler/internal/health"
	"github.com/onnwee/donation-reconciler/internal/hooks"
	"github.com/onnwee/donation-reconciler/internal/idempotency"
	"github.com/onnwee/donation-reconciler/internal/jobs"
	"github.com/onnwee/donation-reconciler/internal/middleware"
	"github.com/onnwee/donation-reconciler/internal/payment"
	"github.com/onnwee/donation-reconciler/internal/paystack"
	"github.com/onnwee/donation-reconciler/internal/reconcile"
	"github.com/onnwee/donation-reconciler/internal/tracing"
	"github.com/onnwee/donation-reconciler/internal/webhook"
)

const (
	serviceName     = "donation-reconciler"
	shutdownTimeout = 10 * time.Second

	rateLimitCleanupInterval   = time.Minute
	idempotencyCleanupInterval = time.Hour
)

var version = "dev"

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "optional YAML config file; environment variables take precedence")
	flag.Parse()

	if *help {
		fmt.Println("Donation Reconciler API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config:", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "config", cfg.LogSummary())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// run serves until ctx is cancelled and then shuts down gracefully.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	tp, err := tracing.NewProvider(tracing.Config{
		ServiceName:  serviceName,
		Version:      version,
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: cfg.TracingExporter,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SamplingRate: cfg.TracingSampleRate,
		InsecureMode: cfg.TracingInsecure,
	})
	if err != nil {
		return fmt.Errorf("failed to start tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      a.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return serve(ctx, server, a, logger)
}

// serve runs the background loops and the server until ctx is done.
func serve(ctx context.Context, server *http.Server, a *app, logger *slog.Logger) error {
	bgCtx, cancelBackground := context.WithCancel(ctx)
	defer cancelBackground()
	for _, loop := range a.background {
		go loop(bgCtx)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// app is the assembled reconciler: the handler chain, the loops to run
// beside it and the connections to close afterwards.
type app struct {
	handler    http.Handler
	background []func(ctx context.Context)
	closers    []func() error
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("close failed", "error", err)
		}
	}
}

// newApp wires storage, Paystack clients, the webhook pipeline and the
// router from cfg. Postgres and Redis are used when their URLs are set;
// otherwise in-memory implementations take their place.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{}
	checks := map[string]health.Checker{}

	var (
		store       payment.Store
		idempotent  idempotency.Repository
		limiter     middleware.RateLimitStore
		httpMetrics = middleware.NewMetrics()
		jobMetrics  = jobs.NewMetrics()
		runner      = jobs.NewRunner(jobMetrics, logger)
	)

	if cfg.DatabaseURL != "" {
		conn, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, conn.Close)
		if err := db.Migrate(ctx, conn); err != nil {
			a.close()
			return nil, err
		}
		store = payment.NewPostgresStore(conn, logger)
		idempotent = idempotency.NewPostgresRepository(conn)
		checks["database"] = health.NewDBChecker(conn)
		logger.Info("using postgres record store")
	} else {
		store = payment.NewInMemoryStore()
		idempotent = idempotency.NewInMemoryRepository()
		logger.Warn("DATABASE_URL not set, records are kept in memory")
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		a.closers = append(a.closers, client.Close)
		limiter = middleware.NewRedisRateLimitStore(client, httpMetrics, logger)
		checks["redis"] = health.NewRedisChecker(client)
		logger.Info("using redis rate limit store")
	} else {
		mem := middleware.NewInMemoryRateLimitStore()
		a.background = append(a.background, func(ctx context.Context) {
			runner.Every(ctx, jobs.Job{
				Type:     jobs.JobTypeRateLimitCleanup,
				Interval: rateLimitCleanupInterval,
				Run: func(context.Context) error {
					mem.Cleanup()
					return nil
				},
			})
		})
		limiter = mem
	}

	a.background = append(a.background, func(ctx context.Context) {
		runner.Every(ctx, jobs.Job{
			Type:     jobs.JobTypeIdempotencyCleanup,
			Interval: idempotencyCleanupInterval,
			Timeout:  time.Minute,
			Run: func(ctx context.Context) error {
				_, err := idempotency.CleanupOldKeys(ctx, idempotent, idempotency.DefaultExpiry, logger)
				return err
			},
		})
	})

	keys := paystack.StaticKeys{
		Live: paystack.Credentials{SecretKey: cfg.PaystackLiveSecretKey, PublicKey: cfg.PaystackLivePublicKey},
		Test: paystack.Credentials{SecretKey: cfg.PaystackTestSecretKey, PublicKey: cfg.PaystackTestPublicKey},
	}
	clients := paystack.NewClients(keys,
		paystack.WithBaseURL(cfg.PaystackBaseURL),
		paystack.WithTimeout(time.Duration(cfg.PaystackTimeoutSeconds)*time.Second),
	)
	checks["paystack"] = health.NewGatewayChecker(cfg.PaystackBaseURL)

	registry := hooks.NewRegistry(logger)
	registerHookLogging(registry, logger)

	metrics := reconcile.NewMetrics()
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := metrics.Register(reg); err != nil {
		a.close()
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	if err := httpMetrics.Register(reg); err != nil {
		a.close()
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	if err := jobMetrics.Register(reg); err != nil {
		a.close()
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	transitions := reconcile.NewTransitions(store, registry, metrics, cfg.PaystackDashboardURL, logger)
	receiver := webhook.NewReceiver(
		webhook.NewInterpreter(keys),
		webhook.NewDispatcher(
			webhook.NewDonationProcessor(store, transitions, logger),
			webhook.NewSubscriptionProcessor(store, registry, cfg.PaystackDashboardURL, logger),
			metrics, logger,
		),
		logger,
		webhook.AllowUnknownMethod(cfg.WebhookAllowUnknownMethod),
	)

	tokens, err := auth.NewJWTService(cfg.OperatorJWTSecret, cfg.OperatorJWTPreviousSecret)
	if err != nil {
		a.close()
		return nil, err
	}

	a.handler = api.NewRouter(api.RouterConfig{
		Webhooks:       api.NewWebhookHandlers(receiver, logger),
		Receipts:       api.NewReceiptHandlers(reconcile.NewReturnReconciler(store, clients, transitions, metrics, logger), logger),
		Operator:       api.NewOperatorHandlers(reconcile.NewActions(store, clients, registry, metrics, logger), logger),
		Health:         api.NewHealthHandlers(checks, logger),
		Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Tokens:         tokens,
		RateLimitStore: limiter,
		WebhookLimit:   middleware.PerMinute(cfg.WebhookRateLimitPerMinute),
		OperatorLimit:  middleware.DefaultOperatorLimit(),
		Idempotency:    idempotent,
		HTTPMetrics:    httpMetrics,
		CORSOrigins:    cfg.CORSAllowedOrigins,
		ServiceName:    serviceName,
		Logger:         logger,
	})
	return a, nil
}

// registerHookLogging logs every lifecycle hook. Receipt mail and analytics
// listeners register beside it.
func registerHookLogging(registry *hooks.Registry, logger *slog.Logger) {
	names := []string{
		hooks.DonationCompleted,
		hooks.DonationFailed,
		hooks.DonationRefunded,
		hooks.RecurringActivated,
		hooks.RecurringFailed,
		hooks.RecurringRenewed,
		hooks.RecurringCancelled,
	}
	for _, name := range names {
		registry.On(name, func(ctx context.Context, e hooks.Event) {
			attrs := []any{"hook", e.Name, "test_mode", e.TestMode}
			if e.DonationID != "" {
				attrs = append(attrs, "donation_id", e.DonationID)
			}
			if e.RecurringID != "" {
				attrs = append(attrs, "recurring_id", e.RecurringID)
			}
			if e.Reference != "" {
				attrs = append(attrs, "reference", e.Reference)
			}
			logger.InfoContext(ctx, "lifecycle hook", attrs...)
		})
	}
}
