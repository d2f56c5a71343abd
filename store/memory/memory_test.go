package memory

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-charter-sync/core"
	"github.com/goliatone/go-charter-sync/store/conformance"
)

func TestStoreConformance(t *testing.T) {
	ctx := context.Background()
	checks := []struct {
		name string
		run  func(*Store) error
	}{
		{"event ledger", func(s *Store) error { return conformance.ValidateEventLedger(ctx, s.WebhookEventStore()) }},
		{"claim exclusivity", func(s *Store) error { return conformance.ValidateClaimExclusivity(ctx, s.WebhookEventStore(), 16) }},
		{"retry scheduling", func(s *Store) error { return conformance.ValidateRetryScheduling(ctx, s.WebhookEventStore()) }},
		{"lease expiry", func(s *Store) error { return conformance.ValidateLeaseExpiry(ctx, s.WebhookEventStore()) }},
		{"quote upsert", func(s *Store) error { return conformance.ValidateQuoteUpsert(ctx, s) }},
		{"conversations", func(s *Store) error { return conformance.ValidateConversationGetOrCreate(ctx, s, 16) }},
		{"workflow", func(s *Store) error { return conformance.ValidateWorkflowTransitions(ctx, s) }},
	}
	for _, check := range checks {
		t.Run(check.name, func(t *testing.T) {
			if err := check.run(New(nil)); err != nil {
				t.Fatalf("%v", err)
			}
		})
	}
}

func TestReplayRejectsNonTerminalEvent(t *testing.T) {
	ctx := context.Background()
	store := New(nil).WebhookEventStore()
	event, _, err := store.Record(ctx, core.RecordEventInput{
		Source:          core.DefaultEventSource,
		ExternalEventID: "evt_pending",
		Kind:            "TripChatSeller",
		RawPayload:      []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	_, err = store.Replay(ctx, event.ID, time.Now())
	if core.ErrorTextCode(err) != core.ErrorBadInput {
		t.Fatalf("expected bad input, got %v", err)
	}
}

func TestFindProcessableOrdersByArrival(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := New(func() time.Time { return fixed }).WebhookEventStore()
	ids := []string{}
	for _, ext := range []string{"a", "b", "c"} {
		event, _, err := store.Record(ctx, core.RecordEventInput{
			Source:          core.DefaultEventSource,
			ExternalEventID: ext,
			Kind:            "TripChatSeller",
			RawPayload:      []byte(`{}`),
		})
		if err != nil {
			t.Fatalf("record: %v", err)
		}
		ids = append(ids, event.ID)
	}
	events, err := store.FindProcessable(ctx, fixed, 2)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(events) != 2 || events[0].ID != ids[0] || events[1].ID != ids[1] {
		t.Fatalf("expected oldest two events in arrival order")
	}
}

func TestUnknownRequestQuoteIsNotFound(t *testing.T) {
	_, err := New(nil).QuoteStore().Upsert(context.Background(), core.UpsertQuoteInput{
		RequestID:       "missing",
		OperatorID:      "op",
		ExternalQuoteID: "q",
	})
	if core.ErrorTextCode(core.ClassifyError(err)) != core.ErrorNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}
