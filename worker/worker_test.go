package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-charter-sync/core"
	"github.com/goliatone/go-charter-sync/events"
	"github.com/goliatone/go-charter-sync/reconcile"
	"github.com/goliatone/go-charter-sync/store/memory"
	"github.com/goliatone/go-charter-sync/webhooks"
	"github.com/goliatone/go-charter-sync/workflow"
)

type rig struct {
	store     *memory.Store
	claims    *webhooks.ClaimManager
	processor *Processor
	poller    *Poller
	request   core.Request
	now       *time.Time
}

func newRig(t *testing.T, maxRetries int) rig {
	t.Helper()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := memory.New(clock)
	request, err := store.RequestStore().Create(context.Background(), core.CreateRequestInput{
		AgentID: "agent_7",
		TripID:  "trip_1",
		Status:  core.RequestStatusAwaitingQuotes,
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	parser, err := events.NewParser()
	if err != nil {
		t.Fatalf("parser: %v", err)
	}
	engine := workflow.NewEngine(store.RequestStore(), store.WorkflowStore(), workflow.WithClock(clock))
	reconciler, err := reconcile.New(store, engine)
	if err != nil {
		t.Fatalf("reconciler: %v", err)
	}
	claims := webhooks.NewClaimManager(store.WebhookEventStore(), &webhooks.Scheduler{
		Policy:     webhooks.ExponentialRetryPolicy{Initial: time.Second, Max: time.Minute},
		MaxRetries: maxRetries,
	}, webhooks.WithClaimClock(clock))
	processor := NewProcessor(claims, store.WebhookEventStore(), parser, reconciler)
	poller := NewPoller(processor, core.WorkerConfig{Concurrency: 4, BatchSize: 50, LeaseTimeout: time.Minute})
	poller.Now = clock
	return rig{store: store, claims: claims, processor: processor, poller: poller, request: request, now: &now}
}

func (r rig) record(t *testing.T, externalID string, kind string, raw string) core.WebhookEvent {
	t.Helper()
	event, created, err := r.store.WebhookEventStore().Record(context.Background(), core.RecordEventInput{
		Source:          core.DefaultEventSource,
		ExternalEventID: externalID,
		Kind:            kind,
		RawPayload:      []byte(raw),
	})
	if err != nil || !created {
		t.Fatalf("record %s: created=%v err=%v", externalID, created, err)
	}
	return event
}

func quotePayload(eventID string, tripID string, quoteID string) string {
	return `{"event":"TripRequestSellerResponse","eventId":"` + eventID + `","timestamp":"2026-03-01T10:00:00Z",
	"data":{"tripId":"` + tripID + `","quote":{"id":"` + quoteID + `","price":{"currency":"USD","total":42000}},
	"seller":{"id":"op_1","companyName":"Sky Charter"}}}`
}

func TestProcessorCompletesQuoteEvent(t *testing.T) {
	r := newRig(t, 3)
	ctx := context.Background()
	event := r.record(t, "evt_1", "TripRequestSellerResponse", quotePayload("evt_1", "trip_1", "q_1"))

	report, err := r.processor.Process(ctx, event.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if report.Outcome != OutcomeCompleted {
		t.Fatalf("expected completed, got %+v", report)
	}
	stored, _ := r.store.WebhookEventStore().Get(ctx, event.ID)
	if stored.Status != core.EventStatusCompleted || stored.Linked.RequestID != r.request.ID || stored.Linked.QuoteID == "" {
		t.Fatalf("unexpected stored event %+v", stored)
	}
	if stored.ProcessedAt == nil {
		t.Fatalf("expected processed_at to be set")
	}

	again, err := r.processor.Process(ctx, event.ID)
	if err != nil || again.Outcome != OutcomeLost {
		t.Fatalf("completed event must not be processed twice: %+v %v", again, err)
	}
}

func TestProcessorSkipsUnknownKind(t *testing.T) {
	r := newRig(t, 3)
	ctx := context.Background()
	event := r.record(t, "evt_x", "BrandNewThing",
		`{"event":"BrandNewThing","eventId":"evt_x","timestamp":"2026-03-01T10:00:00Z","data":{}}`)

	report, err := r.processor.Process(ctx, event.ID)
	if err != nil || report.Outcome != OutcomeSkipped {
		t.Fatalf("expected skipped, got %+v %v", report, err)
	}
	stored, _ := r.store.WebhookEventStore().Get(ctx, event.ID)
	if stored.Status != core.EventStatusSkipped {
		t.Fatalf("expected skipped status, got %s", stored.Status)
	}
}

func TestProcessorDeadLettersMalformedPayloadImmediately(t *testing.T) {
	r := newRig(t, 5)
	ctx := context.Background()
	raw := `{"event":"TripRequestSellerResponse","eventId":"evt_m","timestamp":"2026-03-01T10:00:00Z",
	"data":{"quote":{"id":"q_1","price":{"total":1}}}}`
	event := r.record(t, "evt_m", "TripRequestSellerResponse", raw)

	report, err := r.processor.Process(ctx, event.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if report.Outcome != OutcomeDeadLetter || report.Decision == nil || report.Decision.RetryCount != 1 {
		t.Fatalf("expected immediate dead letter, got %+v", report)
	}
	stored, _ := r.store.WebhookEventStore().Get(ctx, event.ID)
	if stored.ErrorCode != core.ErrorMalformedPayload || !strings.HasPrefix(stored.ErrorStack, "worker.parse") {
		t.Fatalf("unexpected failure details %+v", stored)
	}
}

func TestProcessorRetriesUnknownRequestUntilDeadLetter(t *testing.T) {
	r := newRig(t, 3)
	ctx := context.Background()
	event := r.record(t, "evt_u", "TripRequestSellerResponse", quotePayload("evt_u", "trip_unknown", "q_9"))

	for attempt := 1; attempt <= 3; attempt++ {
		report, err := r.processor.Process(ctx, event.ID)
		if err != nil {
			t.Fatalf("attempt %d: %v", attempt, err)
		}
		if attempt < 3 {
			if report.Outcome != OutcomeRetry || report.Decision.NextRetryAt == nil {
				t.Fatalf("attempt %d: expected retry, got %+v", attempt, report)
			}
			*r.now = *report.Decision.NextRetryAt
			continue
		}
		if report.Outcome != OutcomeDeadLetter {
			t.Fatalf("attempt %d: expected dead letter, got %+v", attempt, report)
		}
	}
	stored, _ := r.store.WebhookEventStore().Get(ctx, event.ID)
	if stored.Status != core.EventStatusDeadLetter || stored.RetryCount != 3 {
		t.Fatalf("unexpected final event %+v", stored)
	}
	if !strings.Contains(stored.ErrorStack, "reconcile.TripRequestSellerResponse") {
		t.Fatalf("expected reconcile stage in stack, got %q", stored.ErrorStack)
	}
}

func TestPollerProcessesBatchExactlyOnce(t *testing.T) {
	r := newRig(t, 3)
	ctx := context.Background()
	const total = 12
	for i := 0; i < total; i++ {
		id := fmt.Sprintf("evt_%02d", i)
		r.record(t, id, "TripRequestSellerResponse", quotePayload(id, "trip_1", fmt.Sprintf("q_%02d", i)))
	}

	summary, err := r.poller.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if summary.Selected != total || summary.Outcomes[OutcomeCompleted] != total {
		t.Fatalf("unexpected summary %+v", summary)
	}
	request, _ := r.store.RequestStore().Get(ctx, r.request.ID)
	if request.QuotesReceived != total {
		t.Fatalf("expected %d quotes received, got %d", total, request.QuotesReceived)
	}

	summary, err = r.poller.RunOnce(ctx)
	if err != nil || summary.Selected != 0 {
		t.Fatalf("second poll should find nothing: %+v %v", summary, err)
	}
}

func TestPollerConcurrentRunsClaimOnce(t *testing.T) {
	r := newRig(t, 3)
	ctx := context.Background()
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("evt_c%d", i)
		r.record(t, id, "TripRequestSellerResponse", quotePayload(id, "trip_1", fmt.Sprintf("q_c%d", i)))
	}

	type run struct {
		summary TickSummary
		err     error
	}
	results := make(chan run, 3)
	for i := 0; i < 3; i++ {
		go func() {
			summary, err := r.poller.RunOnce(ctx)
			results <- run{summary: summary, err: err}
		}()
	}
	completed := 0
	for i := 0; i < 3; i++ {
		result := <-results
		if result.err != nil {
			t.Fatalf("run once: %v", result.err)
		}
		completed += result.summary.Outcomes[OutcomeCompleted]
	}
	if completed != 8 {
		t.Fatalf("expected 8 completions across pollers, got %d", completed)
	}
}

func TestPollerReclaimsExpiredLease(t *testing.T) {
	r := newRig(t, 3)
	ctx := context.Background()
	event := r.record(t, "evt_l", "TripRequestSellerResponse", quotePayload("evt_l", "trip_1", "q_l"))
	if claimed, err := r.claims.Claim(ctx, event.ID); err != nil || !claimed {
		t.Fatalf("claim: %v %v", claimed, err)
	}
	*r.now = r.now.Add(2 * time.Minute)

	summary, err := r.poller.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if summary.Reclaimed != 1 {
		t.Fatalf("expected one reclaimed lease, got %+v", summary)
	}
	// The reclaimed event is scheduled into the future by the retry backoff.
	*r.now = r.now.Add(time.Minute)
	if _, err := r.poller.RunOnce(ctx); err != nil {
		t.Fatalf("second run: %v", err)
	}
	stored, _ := r.store.WebhookEventStore().Get(ctx, event.ID)
	if stored.Status != core.EventStatusCompleted || stored.RetryCount != 1 {
		t.Fatalf("expected completion after reclaim, got %+v", stored)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	r := newRig(t, 3)
	r.poller.Config.PollInterval = time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.poller.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("poller did not stop after cancel")
	}
}

func TestPollerRejectsMissingDependencies(t *testing.T) {
	poller := NewPoller(nil, core.WorkerConfig{})
	if _, err := poller.RunOnce(context.Background()); err == nil {
		t.Fatalf("expected configuration error")
	}
	if err := poller.Run(context.Background()); err == nil || errors.Is(err, context.Canceled) {
		t.Fatalf("expected configuration error from run, got %v", err)
	}
}
