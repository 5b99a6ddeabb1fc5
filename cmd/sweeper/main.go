// Package main is the entrypoint for the Sweeper Lambda function.
//
// An EventBridge schedule invokes the handler, which re-checks pending
// checkout invoices whose webhook never arrived:
//  1. Parse SweepPayload and determine the reference time.
//  2. Acquire the hourly job lock so overlapping invocations skip.
//  3. Record job start in job_history.
//  4. Run the sweep.
//  5. Record job completion with status and item count.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/google/uuid"

	"memberpay/internal/config"
	"memberpay/internal/db"
	"memberpay/internal/external"
	"memberpay/internal/metrics"
	"memberpay/internal/scheduler"
	"memberpay/internal/types"
	"memberpay/internal/webhook"
)

// lockTTL covers the Lambda timeout with margin.
const lockTTL = 15 * time.Minute

// polledProviders are the providers whose settlement id matches the webhook
// subscription key. Whop grants are keyed by membership, which a checkout
// read does not return, so Whop rows settle by webhook only.
var polledProviders = []types.ProviderTag{types.ProviderBTCPay, types.ProviderStripe}

// Sweeper runs one sweep.
type Sweeper interface {
	Run(ctx context.Context, now time.Time) (scheduler.SweepResult, error)
}

// JobLocker abstracts the distributed lock acquisition.
type JobLocker interface {
	Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, lockID string, workerID string) error
}

// JobHistorian abstracts the job history recording.
type JobHistorian interface {
	Start(ctx context.Context, jobType string) (int64, error)
	Finish(ctx context.Context, id int64, status string, items int, err error) error
}

// Handler holds the dependencies for the sweeper Lambda handler function.
type Handler struct {
	Sweeper    Sweeper
	JobLock    JobLocker
	JobHistory JobHistorian
	WorkerID   string
	Logger     *slog.Logger
}

// Handle runs one sweep under the hourly job lock.
func (h *Handler) Handle(ctx context.Context, payload scheduler.SweepPayload) (string, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := time.Now().UTC()
	if payload.ReferenceTime != nil {
		now = payload.ReferenceTime.UTC()
	}

	lockID := fmt.Sprintf("%s:%s", scheduler.JobSweep, now.Truncate(time.Hour).Format("2006-01-02T15"))
	acquired, err := h.JobLock.Acquire(ctx, lockID, h.WorkerID, lockTTL)
	if err != nil {
		logger.ErrorContext(ctx, "failed to acquire job lock", "lock_id", lockID, "error", err)
		return "", fmt.Errorf("acquiring job lock %s: %w", lockID, err)
	}
	if !acquired {
		logger.InfoContext(ctx, "job lock not acquired, another worker is processing", "lock_id", lockID)
		return fmt.Sprintf("skipped: lock %s held by another worker", lockID), nil
	}
	defer func() {
		if err := h.JobLock.Release(ctx, lockID, h.WorkerID); err != nil {
			logger.WarnContext(ctx, "failed to release job lock", "lock_id", lockID, "error", err)
		}
	}()

	// History is best effort; jobID 0 skips Finish.
	jobID, err := h.JobHistory.Start(ctx, scheduler.JobSweep)
	if err != nil {
		logger.ErrorContext(ctx, "failed to start job history", "error", err)
		jobID = 0
	}

	res, runErr := h.Sweeper.Run(ctx, now)

	status := "success"
	if runErr != nil {
		status = "failed"
	}
	if jobID != 0 {
		if err := h.JobHistory.Finish(ctx, jobID, status, res.Checked, runErr); err != nil {
			logger.ErrorContext(ctx, "failed to finish job history", "job_id", jobID, "error", err)
		}
	}

	if runErr != nil {
		logger.ErrorContext(ctx, "sweep failed", "error", runErr, "checked_before_error", res.Checked)
		return "", fmt.Errorf("sweep failed: %w", runErr)
	}

	return fmt.Sprintf("sweep complete: %d checked, %d settled, %d failed", res.Checked, res.Settled, res.Failed), nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("Sweeper Lambda initializing (cold start)")

	h, err := newHandler(context.Background(), logger)
	if err != nil {
		logger.Error("failed to initialize sweeper", "error", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

// newHandler wires the sweep from configuration. The pool stays open for
// the lifetime of the Lambda container.
func newHandler(ctx context.Context, logger *slog.Logger) (*Handler, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	invoiceClients := external.NewClientRegistry(cfg, logger)
	pending := db.NewPendingInvoiceRepository(pool)

	engine, err := webhook.NewEngine(webhook.EngineDeps{
		Subscriptions: db.NewSubscriptionRepository(pool, logger),
		Users:         db.NewUserRepository(pool),
		Pending:       pending,
		Invoices:      invoiceClients,
		Logger:        logger,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating reconciliation engine: %w", err)
	}

	var sweepMetrics metrics.SweepMetrics = metrics.Noop{}
	if cfg.AWS.MetricsEnabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		sweepMetrics = metrics.NewCloudWatchMetrics(cloudwatch.NewFromConfig(awsCfg), cfg.AWS.MetricsNamespace, logger)
	}

	sweeper := scheduler.NewSweeper(pending, invoiceClients, engine, sweepMetrics, scheduler.SweepConfig{
		StaleAfter:  cfg.Sweep.StaleAfter,
		MaxAge:      cfg.Sweep.MaxAge,
		Limit:       cfg.Sweep.Limit,
		Concurrency: cfg.Sweep.Concurrency,
		Providers:   polledProviders,
	}, logger)

	return &Handler{
		Sweeper:    sweeper,
		JobLock:    db.NewJobLockRepository(pool),
		JobHistory: db.NewJobHistoryRepository(pool),
		WorkerID:   uuid.NewString(),
		Logger:     logger,
	}, nil
}
