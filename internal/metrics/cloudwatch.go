// Package metrics publishes webhook and sweep counters to CloudWatch.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Metric and dimension names.
const (
	MetricWebhookReceived = "WebhookReceived"
	MetricWebhookLatency  = "WebhookLatency"
	MetricSweepChecked    = "SweepInvoicesChecked"
	MetricSweepSettled    = "SweepInvoicesSettled"
	MetricSweepFailed     = "SweepInvoicesFailed"

	DimProvider = "Provider"
	DimOutcome  = "Outcome"
	DimResult   = "Result"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// WebhookMetrics records per-delivery webhook results.
type WebhookMetrics interface {
	// RecordWebhook counts one delivery. result is the engine action, or the
	// rejection reason ("signature_invalid", "decode_failed", "error").
	RecordWebhook(ctx context.Context, provider, outcome, result string)
	RecordLatency(ctx context.Context, provider string, d time.Duration)
}

// SweepMetrics records reconciliation sweep totals.
type SweepMetrics interface {
	RecordSweep(ctx context.Context, checked, settled, failed int)
}

var (
	_ WebhookMetrics = (*CloudWatchMetrics)(nil)
	_ SweepMetrics   = (*CloudWatchMetrics)(nil)
	_ WebhookMetrics = Noop{}
	_ SweepMetrics   = Noop{}
)

// CloudWatchMetrics emits metrics with PutMetricData. Publishing failures
// are logged and never surface to callers.
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchMetrics publishes to namespace.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchMetrics{client: client, namespace: namespace, logger: logger}
}

func (m *CloudWatchMetrics) RecordWebhook(ctx context.Context, provider, outcome, result string) {
	m.put(ctx, "failed to record webhook metric", cwtypes.MetricDatum{
		MetricName: aws.String(MetricWebhookReceived),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			dim(DimProvider, provider),
			dim(DimOutcome, outcome),
			dim(DimResult, result),
		},
	})
}

// RecordLatency is recorded in milliseconds.
func (m *CloudWatchMetrics) RecordLatency(ctx context.Context, provider string, d time.Duration) {
	m.put(ctx, "failed to record webhook latency metric", cwtypes.MetricDatum{
		MetricName: aws.String(MetricWebhookLatency),
		Value:      aws.Float64(float64(d.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: []cwtypes.Dimension{dim(DimProvider, provider)},
	})
}

func (m *CloudWatchMetrics) RecordSweep(ctx context.Context, checked, settled, failed int) {
	count := func(name string, v int) cwtypes.MetricDatum {
		return cwtypes.MetricDatum{
			MetricName: aws.String(name),
			Value:      aws.Float64(float64(v)),
			Unit:       cwtypes.StandardUnitCount,
		}
	}
	m.put(ctx, "failed to record sweep metrics",
		count(MetricSweepChecked, checked),
		count(MetricSweepSettled, settled),
		count(MetricSweepFailed, failed),
	)
}

func (m *CloudWatchMetrics) put(ctx context.Context, failMsg string, data ...cwtypes.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, failMsg, "error", err, "namespace", m.namespace)
	}
}

func dim(name, value string) cwtypes.Dimension {
	if value == "" {
		value = "none"
	}
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

// Noop discards all metrics. It is used when METRICS_ENABLED is false.
type Noop struct{}

func (Noop) RecordWebhook(context.Context, string, string, string) {}
func (Noop) RecordLatency(context.Context, string, time.Duration)  {}
func (Noop) RecordSweep(context.Context, int, int, int)            {}
