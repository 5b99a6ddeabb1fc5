// Package main is the entry point for the memberpay API server.
//
// It loads configuration, opens the database pool, builds the webhook
// providers, the reconciliation engine and the provider invoice clients, and
// serves the webhook and checkout routes on the core chassis.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
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

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"memberpay/internal/api/handlers"
	"memberpay/internal/config"
	"memberpay/internal/core"
	"memberpay/internal/db"
	"memberpay/internal/external"
	"memberpay/internal/membership"
	"memberpay/internal/metrics"
	"memberpay/internal/queue"
	"memberpay/internal/webhook"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("memberpay API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	srv, err := newServer(context.Background(), cfg, logger)
	if err != nil {
		return err
	}
	return runHTTPServer(srv, cfg, logger)
}

// newServer opens the database pool and wires every component onto the
// server. The pool is closed if wiring fails; on success the server owns it.
func newServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *core.Server, err error) {
	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	defer closeOnErr(&err, pool.Close)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	providers, err := buildProviders(cfg, logger)
	if err != nil {
		return nil, err
	}

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}
	srv.Closers = append(srv.Closers, pool.Close)
	srv.HealthProbes = append(srv.HealthProbes, db.HealthProbe{Pool: pool})
	srv.Authenticator = db.NewSessionRepository(pool)

	invoiceClients := external.NewClientRegistry(cfg, logger)
	pending := db.NewPendingInvoiceRepository(pool)
	subscriptions := db.NewSubscriptionRepository(pool, logger)

	deps := webhook.EngineDeps{
		Subscriptions: subscriptions,
		Users:         db.NewUserRepository(pool),
		Pending:       pending,
		Invoices:      invoiceClients,
		Logger:        logger,
	}
	if cfg.AWS.DisputeQueueURL != "" {
		sqsClient := sqs.NewFromConfig(awsCfg)
		deps.Disputes = queue.NewDisputeQueue(sqsClient, cfg.AWS.DisputeQueueURL, logger)
		srv.HealthProbes = append(srv.HealthProbes, queue.HealthProbe{
			Client:   sqsClient,
			QueueURL: cfg.AWS.DisputeQueueURL,
		})
	}

	engine, err := webhook.NewEngine(deps)
	if err != nil {
		return nil, fmt.Errorf("creating reconciliation engine: %w", err)
	}

	var webhookMetrics metrics.WebhookMetrics = metrics.Noop{}
	if cfg.AWS.MetricsEnabled {
		webhookMetrics = metrics.NewCloudWatchMetrics(cloudwatch.NewFromConfig(awsCfg), cfg.AWS.MetricsNamespace, logger)
	}

	webhookHandler := handlers.NewWebhookHandler(handlers.WebhookHandlerConfig{
		Providers:    providers,
		Engine:       engine,
		Events:       db.NewWebhookEventRepository(pool),
		Metrics:      webhookMetrics,
		MaxBodyBytes: cfg.Webhook.MaxBodyBytes,
		Logger:       logger,
	})
	srv.PublicRouteRegistrars = append(srv.PublicRouteRegistrars, webhookHandler.RegisterRoutes)

	checkoutHandler := handlers.NewCheckoutHandler(
		invoiceClients,
		membership.NewStaticRegistry(cfg.Whop.PlanIDs),
		pending,
		subscriptions,
		srv.Validator,
		cfg.Server.PublicBaseURL,
		logger,
	)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, checkoutHandler.RegisterRoutes)

	srv.MountRoutes()
	return srv, nil
}

// closeOnErr runs closeFn when *errp is non-nil.
func closeOnErr(errp *error, closeFn func()) {
	if *errp != nil {
		closeFn()
	}
}

// buildProviders constructs a webhook provider for every enabled provider.
// A provider without a signing secret fails construction unless unverified
// mode is on.
func buildProviders(cfg *config.Config, logger *slog.Logger) ([]webhook.Provider, error) {
	providerConfig := func(secret config.SecretString) webhook.ProviderConfig {
		return webhook.ProviderConfig{
			Secret:          secret.Unmask(),
			AllowUnverified: cfg.Webhook.AllowUnverified,
			Logger:          logger,
		}
	}

	var out []webhook.Provider
	if cfg.BTCPay.Enabled {
		p, err := webhook.NewBTCPayProvider(providerConfig(cfg.BTCPay.WebhookSecret))
		if err != nil {
			return nil, fmt.Errorf("building btcpay provider: %w", err)
		}
		out = append(out, p)
	}
	if cfg.Whop.Enabled {
		p, err := webhook.NewWhopProvider(providerConfig(cfg.Whop.WebhookSecret))
		if err != nil {
			return nil, fmt.Errorf("building whop provider: %w", err)
		}
		out = append(out, p)
	}
	if cfg.Stripe.Enabled {
		p, err := webhook.NewStripeProvider(providerConfig(cfg.Stripe.WebhookSecret))
		if err != nil {
			return nil, fmt.Errorf("building stripe provider: %w", err)
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, errors.New("no payment provider is enabled")
	}
	return out, nil
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			_ = srv.Shutdown(context.Background())
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	// Release the DB pool after in-flight webhooks drain.
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
