package handler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"support-agent/internal/followup"
	"support-agent/internal/integrations/delayqueue"
)

type FollowUpDeliverer interface {
	DeliverFollowUp(ctx context.Context, task followup.Task) error
}

// FollowUpConsumer delivers follow-ups that arrive on the delay queue.
type FollowUpConsumer struct {
	deliver FollowUpDeliverer
	logger  *slog.Logger
}

// NewFollowUpConsumer builds a FollowUpConsumer. A nil logger uses
// slog.Default.
func NewFollowUpConsumer(deliver FollowUpDeliverer, logger *slog.Logger) (*FollowUpConsumer, error) {
	if deliver == nil {
		return nil, errors.New("handler: follow-up deliverer must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FollowUpConsumer{deliver: deliver, logger: logger}, nil
}

// HandleSQS delivers every record of ev. Records that fail to deliver are
// reported back so SQS retries only those. Records that cannot be decoded
// are dropped.
func (c *FollowUpConsumer) HandleSQS(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		task, err := delayqueue.Decode(rec.Body)
		if err != nil {
			c.logger.ErrorContext(ctx, "follow-up message dropped", "message_id", rec.MessageId, "err", err)
			continue
		}
		if err := c.deliver.DeliverFollowUp(ctx, task); err != nil {
			c.logger.ErrorContext(ctx, "follow-up failed",
				"message_id", rec.MessageId,
				"task_id", task.ID,
				"session_id", task.SessionID,
				"receive_count", rec.Attributes["ApproximateReceiveCount"],
				"err", err,
			)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
			continue
		}
		c.logger.InfoContext(ctx, "follow-up delivered",
			"task_id", task.ID,
			"session_id", task.SessionID,
			"late_by", time.Since(task.DueAt).String(),
		)
	}
	return resp, nil
}
