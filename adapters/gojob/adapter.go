package gojob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"

	"github.com/goliatone/go-charter-sync/core"
	"github.com/goliatone/go-charter-sync/worker"
)

const (
	JobIDProcessEvent = "charter.event.process"
	ParamEventID      = "event_id"
)

// RetryPolicy bounds queue redelivery. The event store stays the source of
// truth for attempts; the queue only decides when to hand the id back.
type RetryPolicy struct {
	MaxDelay      time.Duration
	FallbackDelay time.Duration
}

// NackFor maps a processing report to queue nack options. ok is false when
// the delivery should be acked instead.
func (p RetryPolicy) NackFor(report worker.Report, now time.Time) (opts queue.NackOptions, ok bool) {
	switch report.Outcome {
	case worker.OutcomeRetry:
		delay := p.FallbackDelay
		if report.Decision != nil && report.Decision.NextRetryAt != nil {
			delay = report.Decision.NextRetryAt.Sub(now)
		}
		return queue.NackOptions{Delay: p.bound(delay), Requeue: true, Reason: reportReason(report)}, true
	case worker.OutcomeDeadLetter:
		return queue.NackOptions{DeadLetter: true, Reason: reportReason(report)}, true
	default:
		return queue.NackOptions{}, false
	}
}

func (p RetryPolicy) bound(delay time.Duration) time.Duration {
	if delay < 0 {
		delay = 0
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

func reportReason(report worker.Report) string {
	if report.Decision != nil && report.Decision.ErrorCode != "" {
		return report.Decision.ErrorCode
	}
	return string(report.Outcome)
}

// ProcessMessage builds the queue message for one recorded event. The event
// id doubles as the idempotency key so duplicate enqueues collapse.
func ProcessMessage(eventID string) *job.ExecutionMessage {
	eventID = strings.TrimSpace(eventID)
	return &job.ExecutionMessage{
		JobID:          JobIDProcessEvent,
		ScriptPath:     JobIDProcessEvent,
		Parameters:     map[string]any{ParamEventID: eventID},
		IdempotencyKey: eventID,
		DedupPolicy:    job.DedupPolicyDrop,
	}
}

// EventIDFrom extracts the event id of a process message.
func EventIDFrom(msg *job.ExecutionMessage) (string, error) {
	if msg == nil {
		return "", fmt.Errorf("gojob: execution message is required")
	}
	if strings.TrimSpace(msg.JobID) != JobIDProcessEvent {
		return "", fmt.Errorf("gojob: unexpected job %q", msg.JobID)
	}
	raw, _ := msg.Parameters[ParamEventID].(string)
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("gojob: %s parameter is required", ParamEventID)
	}
	return strings.TrimSpace(raw), nil
}

// EventEnqueuer publishes newly recorded events to a go-job queue. It plugs
// into the webhook gateway as its notifier.
type EventEnqueuer struct {
	enqueuer queue.Enqueuer
}

func NewEventEnqueuer(enqueuer queue.Enqueuer) *EventEnqueuer {
	return &EventEnqueuer{enqueuer: enqueuer}
}

func (e *EventEnqueuer) EventRecorded(ctx context.Context, event core.WebhookEvent) error {
	return e.Enqueue(ctx, event.ID)
}

func (e *EventEnqueuer) Enqueue(ctx context.Context, eventID string) error {
	if e == nil || e.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if strings.TrimSpace(eventID) == "" {
		return fmt.Errorf("gojob: event id is required")
	}
	return e.enqueuer.Enqueue(ctx, ProcessMessage(eventID))
}

type EventProcessor interface {
	ProcessEvent(ctx context.Context, eventID string) (worker.Report, error)
}

// Consumer drains process messages from a go-job queue. Claiming keeps it
// safe to run next to the poller.
type Consumer struct {
	dequeuer  queue.Dequeuer
	processor EventProcessor
	policy    RetryPolicy
	observer  *core.Observer
	now       core.Clock
}

type ConsumerOption func(*Consumer)

func WithObserver(observer *core.Observer) ConsumerOption {
	return func(c *Consumer) {
		if observer != nil {
			c.observer = observer
		}
	}
}

func WithClock(clock core.Clock) ConsumerOption {
	return func(c *Consumer) {
		c.now = clock
	}
}

func NewConsumer(dequeuer queue.Dequeuer, processor EventProcessor, policy RetryPolicy, opts ...ConsumerOption) *Consumer {
	consumer := &Consumer{
		dequeuer:  dequeuer,
		processor: processor,
		policy:    policy,
		observer:  core.NewObserver("charter", nil, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(consumer)
		}
	}
	return consumer
}

// Run consumes until ctx is cancelled or the dequeuer fails.
func (c *Consumer) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		if err := c.ConsumeOne(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
	return nil
}

// ConsumeOne handles a single delivery. Messages that cannot name an event
// are dead-lettered on the queue since no event row can record them.
func (c *Consumer) ConsumeOne(ctx context.Context) error {
	if c == nil || c.dequeuer == nil || c.processor == nil {
		return fmt.Errorf("gojob: consumer requires dequeuer and processor")
	}
	delivery, err := c.dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	if delivery == nil {
		return nil
	}
	eventID, err := EventIDFrom(delivery.Message())
	if err != nil {
		c.observer.Warn(ctx, "queue message rejected", map[string]any{"error": err.Error()})
		return delivery.Nack(ctx, queue.NackOptions{DeadLetter: true, Reason: err.Error()})
	}

	report, err := c.processor.ProcessEvent(ctx, eventID)
	if err != nil {
		c.observer.Error(ctx, "queue event processing failed", map[string]any{
			"event_id": eventID,
			"error":    err.Error(),
		})
		return delivery.Nack(ctx, queue.NackOptions{
			Delay:   c.policy.bound(c.policy.FallbackDelay),
			Requeue: true,
			Reason:  core.ErrorTextCode(err),
		})
	}
	if opts, nack := c.policy.NackFor(report, c.now.Now()); nack {
		return delivery.Nack(ctx, opts)
	}
	return delivery.Ack(ctx)
}

var _ core.EventNotifier = (*EventEnqueuer)(nil)
