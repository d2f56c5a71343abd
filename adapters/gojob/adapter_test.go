package gojob

import (
	"context"
	"errors"
	"testing"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"

	"github.com/goliatone/go-charter-sync/core"
	"github.com/goliatone/go-charter-sync/worker"
)

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func TestProcessMessageRoundTrip(t *testing.T) {
	msg := ProcessMessage(" evt_1 ")
	if msg.JobID != JobIDProcessEvent || msg.IdempotencyKey != "evt_1" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if msg.DedupPolicy != job.DedupPolicyDrop {
		t.Fatalf("expected duplicate enqueues to be dropped, got %q", msg.DedupPolicy)
	}
	eventID, err := EventIDFrom(msg)
	if err != nil || eventID != "evt_1" {
		t.Fatalf("expected evt_1, got %q %v", eventID, err)
	}
	if _, err := EventIDFrom(&job.ExecutionMessage{JobID: "other"}); err == nil {
		t.Fatalf("expected foreign job to be rejected")
	}
	if _, err := EventIDFrom(&job.ExecutionMessage{JobID: JobIDProcessEvent}); err == nil {
		t.Fatalf("expected missing event id to be rejected")
	}
}

func TestEventEnqueuerPublishesRecordedEvents(t *testing.T) {
	enqueuer := &stubEnqueuer{}
	notifier := NewEventEnqueuer(enqueuer)
	if err := notifier.EventRecorded(context.Background(), core.WebhookEvent{ID: "evt_9"}); err != nil {
		t.Fatalf("event recorded: %v", err)
	}
	if len(enqueuer.messages) != 1 || enqueuer.messages[0].Parameters[ParamEventID] != "evt_9" {
		t.Fatalf("unexpected enqueued messages %+v", enqueuer.messages)
	}
	if err := NewEventEnqueuer(nil).Enqueue(context.Background(), "evt_9"); err == nil {
		t.Fatalf("expected unconfigured enqueuer error")
	}
}

func TestRetryPolicyMapsOutcomes(t *testing.T) {
	policy := RetryPolicy{MaxDelay: time.Minute, FallbackDelay: 5 * time.Second}
	next := testNow.Add(10 * time.Minute)

	opts, nack := policy.NackFor(worker.Report{
		Outcome:  worker.OutcomeRetry,
		Decision: &core.FailureDecision{NextRetryAt: &next, ErrorCode: core.ErrorUnresolvedReference},
	}, testNow)
	if !nack || !opts.Requeue || opts.Delay != time.Minute || opts.Reason != core.ErrorUnresolvedReference {
		t.Fatalf("expected bounded requeue, got %+v %v", opts, nack)
	}

	opts, nack = policy.NackFor(worker.Report{Outcome: worker.OutcomeDeadLetter}, testNow)
	if !nack || !opts.DeadLetter || opts.Requeue {
		t.Fatalf("expected dead letter nack, got %+v", opts)
	}

	for _, outcome := range []worker.Outcome{worker.OutcomeCompleted, worker.OutcomeSkipped, worker.OutcomeLost} {
		if _, nack := policy.NackFor(worker.Report{Outcome: outcome}, testNow); nack {
			t.Fatalf("expected ack for %s", outcome)
		}
	}
}

func TestConsumerAcksAndNacks(t *testing.T) {
	cases := []struct {
		name       string
		report     worker.Report
		err        error
		wantAck    bool
		wantDead   bool
		wantRetry  bool
		wantCalled bool
	}{
		{name: "completed", report: worker.Report{Outcome: worker.OutcomeCompleted}, wantAck: true, wantCalled: true},
		{name: "lost", report: worker.Report{Outcome: worker.OutcomeLost}, wantAck: true, wantCalled: true},
		{name: "retry", report: worker.Report{Outcome: worker.OutcomeRetry}, wantRetry: true, wantCalled: true},
		{name: "dead letter", report: worker.Report{Outcome: worker.OutcomeDeadLetter}, wantDead: true, wantCalled: true},
		{name: "store failure", err: errors.New("db down"), wantRetry: true, wantCalled: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			delivery := &stubDelivery{msg: ProcessMessage("evt_1")}
			processor := &stubProcessor{report: tc.report, err: tc.err}
			consumer := NewConsumer(&stubDequeuer{deliveries: []queue.Delivery{delivery}}, processor,
				RetryPolicy{FallbackDelay: time.Second},
				WithClock(func() time.Time { return testNow }),
			)
			if err := consumer.ConsumeOne(context.Background()); err != nil {
				t.Fatalf("consume: %v", err)
			}
			if processor.called != tc.wantCalled || processor.lastID != "evt_1" {
				t.Fatalf("unexpected processor call %+v", processor)
			}
			if delivery.acked != tc.wantAck {
				t.Fatalf("expected acked=%v", tc.wantAck)
			}
			if tc.wantDead && !delivery.nack.DeadLetter {
				t.Fatalf("expected dead letter nack, got %+v", delivery.nack)
			}
			if tc.wantRetry && !delivery.nack.Requeue {
				t.Fatalf("expected requeue nack, got %+v", delivery.nack)
			}
		})
	}
}

func TestConsumerDeadLettersForeignMessages(t *testing.T) {
	delivery := &stubDelivery{msg: &job.ExecutionMessage{JobID: "unrelated"}}
	processor := &stubProcessor{}
	consumer := NewConsumer(&stubDequeuer{deliveries: []queue.Delivery{delivery}}, processor, RetryPolicy{})
	if err := consumer.ConsumeOne(context.Background()); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if processor.called || !delivery.nack.DeadLetter {
		t.Fatalf("expected rejected message on the dead letter queue, got %+v", delivery.nack)
	}
}

func TestConsumerRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	consumer := NewConsumer(&stubDequeuer{}, &stubProcessor{}, RetryPolicy{})
	if err := consumer.Run(ctx); err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}
}

type stubEnqueuer struct {
	messages []*job.ExecutionMessage
}

func (s *stubEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	s.messages = append(s.messages, msg)
	return nil
}

type stubDequeuer struct {
	deliveries []queue.Delivery
}

func (s *stubDequeuer) Dequeue(ctx context.Context) (queue.Delivery, error) {
	if len(s.deliveries) == 0 {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	next := s.deliveries[0]
	s.deliveries = s.deliveries[1:]
	return next, nil
}

type stubDelivery struct {
	msg   *job.ExecutionMessage
	acked bool
	nack  queue.NackOptions
}

func (s *stubDelivery) Message() *job.ExecutionMessage { return s.msg }

func (s *stubDelivery) Ack(context.Context) error {
	s.acked = true
	return nil
}

func (s *stubDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	s.nack = opts
	return nil
}

type stubProcessor struct {
	report worker.Report
	err    error
	called bool
	lastID string
}

func (s *stubProcessor) ProcessEvent(_ context.Context, eventID string) (worker.Report, error) {
	s.called = true
	s.lastID = eventID
	return s.report, s.err
}
