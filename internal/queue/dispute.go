// Package queue provides the SQS producer that hands payment disputes to
// manual review.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"memberpay/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSAttributesGetter is the call the health probe uses.
type SQSAttributesGetter interface {
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// DisputeQueue enqueues dispute notices. FIFO queues get a message group per
// provider and a deduplication id derived from the provider event id, so a
// redelivered webhook is enqueued once.
type DisputeQueue struct {
	client   SQSSender
	queueURL string
	fifo     bool
	logger   *slog.Logger
}

// NewDisputeQueue creates a DisputeQueue sending to queueURL.
func NewDisputeQueue(client SQSSender, queueURL string, logger *slog.Logger) *DisputeQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &DisputeQueue{
		client:   client,
		queueURL: queueURL,
		fifo:     strings.HasSuffix(queueURL, ".fifo"),
		logger:   logger,
	}
}

// EnqueueDispute serializes notice and sends it.
func (q *DisputeQueue) EnqueueDispute(ctx context.Context, notice types.DisputeNotice) error {
	body, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal DisputeNotice: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"provider": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(notice.Provider)),
			},
			"event_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(notice.EventType),
			},
		},
	}
	if q.fifo {
		input.MessageGroupId = aws.String(string(notice.Provider))
		input.MessageDeduplicationId = aws.String(DeduplicationID(notice))
	}

	if _, err := q.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("queue: failed to send DisputeNotice to %s: %w", q.queueURL, err)
	}

	q.logger.InfoContext(ctx, "dispute enqueued for review",
		"provider", string(notice.Provider),
		"event_id", notice.EventID,
		"resource_id", notice.ResourceID,
	)
	return nil
}

// DeduplicationID is stable for a given provider event.
func DeduplicationID(notice types.DisputeNotice) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(string(notice.Provider)+":"+notice.EventID)).String()
}

// HealthProbe checks that the dispute queue is reachable.
type HealthProbe struct {
	Client   SQSAttributesGetter
	QueueURL string
}

func (p HealthProbe) Name() string { return "sqs" }

func (p HealthProbe) Check(ctx context.Context) error {
	_, err := p.Client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(p.QueueURL),
		AttributeNames: []sqsTypes.QueueAttributeName{sqsTypes.QueueAttributeNameApproximateNumberOfMessages},
	})
	return err
}
