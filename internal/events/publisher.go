package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/nih-cfde/deriva-action-provider/internal/aws"
)

// LifecycleEvent is published whenever an action reaches a terminal status.
// Downstream consumers (audit pipelines, notification flows) subscribe to
// the queue; the provider itself never reads it back.
type LifecycleEvent struct {
	ActionID  string    `json:"action_id"`
	RequestID string    `json:"request_id,omitempty"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher wraps an SQS client and a queue URL. A nil Publisher (or one
// with an empty queue URL) drops events, so callers never need to branch.
type Publisher struct {
	sqs      aws.SQSAPI
	queueURL string
	logger   *zap.Logger
}

// NewPublisher returns a Publisher bound to a queue URL. queueURL may be
// empty to disable publishing.
func NewPublisher(sqsClient aws.SQSAPI, queueURL string, logger *zap.Logger) *Publisher {
	return &Publisher{
		sqs:      sqsClient,
		queueURL: queueURL,
		logger:   logger.With(zap.String("component", "event-publisher")),
	}
}

// Publish sends a lifecycle event to the queue. Failures are logged and
// returned but callers treat them as best-effort.
func (p *Publisher) Publish(ctx context.Context, ev LifecycleEvent) error {
	if p == nil || p.queueURL == "" {
		return nil
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal lifecycle event: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    &p.queueURL,
		MessageBody: sdkaws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"action_id": {
				DataType:    sdkaws.String("String"),
				StringValue: &ev.ActionID,
			},
			"status": {
				DataType:    sdkaws.String("String"),
				StringValue: &ev.Status,
			},
		},
	}

	if _, err := p.sqs.SendMessage(ctx, input); err != nil {
		p.logger.Warn("lifecycle event publish failed",
			zap.String("action_id", ev.ActionID), zap.Error(err))
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}
