// Package delayqueue schedules follow-up messages on an SQS queue using
// per-message delivery delay. A queue consumer hands each message back to
// the chat service once the delay has passed.
package delayqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"

	"support-agent/internal/followup"
)

// MaxDelay is the longest delivery delay SQS accepts.
const MaxDelay = 15 * time.Minute

// sqsAPI is the subset of *sqs.Client used here.
type sqsAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Scheduler implements the chat service's follow-up scheduler on SQS.
type Scheduler struct {
	api      sqsAPI
	queueURL string
	now      func() time.Time
}

// message is the queue body. Field names are part of the wire format shared
// with the consumer.
type message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Content   string    `json:"content"`
	DueAt     time.Time `json:"dueAt"`
}

func New(api sqsAPI, queueURL string) (*Scheduler, error) {
	if api == nil {
		return nil, errors.New("delayqueue: api must not be nil")
	}
	queueURL = strings.TrimSpace(queueURL)
	if queueURL == "" {
		return nil, errors.New("delayqueue: queue url is required")
	}
	return &Scheduler{api: api, queueURL: queueURL, now: time.Now}, nil
}

// Schedule sends task with its delay rounded up to whole seconds.
func (s *Scheduler) Schedule(ctx context.Context, task followup.Task) (followup.Task, error) {
	if strings.TrimSpace(task.SessionID) == "" {
		return followup.Task{}, errors.New("delayqueue: Schedule: session id must not be empty")
	}
	if task.Delay < 0 {
		task.Delay = 0
	}
	if task.Delay > MaxDelay {
		return followup.Task{}, fmt.Errorf("delayqueue: Schedule: delay %s exceeds %s", task.Delay, MaxDelay)
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	task.DueAt = s.now().Add(task.Delay)

	body, err := json.Marshal(message{
		ID:        task.ID,
		SessionID: task.SessionID,
		Content:   task.Content,
		DueAt:     task.DueAt,
	})
	if err != nil {
		return followup.Task{}, fmt.Errorf("delayqueue: Schedule: encode: %w", err)
	}

	_, err = s.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     aws.String(s.queueURL),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: int32(math.Ceil(task.Delay.Seconds())),
	})
	if err != nil {
		return followup.Task{}, fmt.Errorf("delayqueue: Schedule: send: %w", err)
	}
	return task, nil
}

// Decode parses a queue body written by Schedule.
func Decode(body string) (followup.Task, error) {
	var m message
	if err := json.Unmarshal([]byte(body), &m); err != nil {
		return followup.Task{}, fmt.Errorf("delayqueue: decode: %w", err)
	}
	if strings.TrimSpace(m.SessionID) == "" {
		return followup.Task{}, errors.New("delayqueue: decode: missing session id")
	}
	if m.Content == "" {
		return followup.Task{}, errors.New("delayqueue: decode: missing content")
	}
	return followup.Task{
		ID:        m.ID,
		SessionID: m.SessionID,
		Content:   m.Content,
		DueAt:     m.DueAt,
	}, nil
}
