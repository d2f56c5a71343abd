// Package conformance holds behavioral checks shared by every store
// implementation. Each check returns an error describing the first violated
// expectation.
package conformance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-charter-sync/core"
)

func recordInput(externalID string) core.RecordEventInput {
	return core.RecordEventInput{
		Source:          core.DefaultEventSource,
		ExternalEventID: externalID,
		Kind:            "TripRequestSellerResponse",
		APIVersion:      "v1",
		OccurredAt:      time.Now().UTC(),
		Refs:            core.CorrelationRefs{TripID: "trip_" + externalID},
		MaxRetries:      3,
		RawPayload:      []byte(`{"event":"TripRequestSellerResponse"}`),
	}
}

// ValidateEventLedger checks dedupe, the claim lifecycle and terminal writes.
func ValidateEventLedger(ctx context.Context, store core.WebhookEventStore) error {
	if store == nil {
		return fmt.Errorf("conformance: webhook event store is required")
	}
	externalID := "ledger_" + uuid.NewString()
	first, created, err := store.Record(ctx, recordInput(externalID))
	if err != nil {
		return err
	}
	if !created || first.Status != core.EventStatusPending {
		return fmt.Errorf("conformance: first record should create a pending event")
	}
	second, created, err := store.Record(ctx, recordInput(externalID))
	if err != nil {
		return err
	}
	if created || second.ID != first.ID {
		return fmt.Errorf("conformance: duplicate record should return the existing event")
	}

	now := time.Now().UTC()
	claimed, err := store.Claim(ctx, first.ID, uuid.NewString(), now)
	if err != nil {
		return err
	}
	if !claimed {
		return fmt.Errorf("conformance: first claim should succeed")
	}
	claimed, err = store.Claim(ctx, first.ID, uuid.NewString(), now)
	if err != nil {
		return err
	}
	if claimed {
		return fmt.Errorf("conformance: second claim should fail while processing")
	}
	if err := store.Complete(ctx, first.ID, core.LinkedIDs{RequestID: "req_1"}, map[string]any{"kind": "quote"}, now); err != nil {
		return err
	}
	if err := store.Complete(ctx, first.ID, core.LinkedIDs{}, nil, now); !errors.Is(err, core.ErrEventNotProcessing) {
		return fmt.Errorf("conformance: completing a completed event should fail with ErrEventNotProcessing, got %v", err)
	}
	loaded, err := store.Get(ctx, first.ID)
	if err != nil {
		return err
	}
	if loaded.Status != core.EventStatusCompleted || loaded.Linked.RequestID != "req_1" || loaded.ProcessedAt == nil {
		return fmt.Errorf("conformance: expected completed event with links, got %+v", loaded)
	}
	if string(loaded.RawPayload) != string(recordInput(externalID).RawPayload) {
		return fmt.Errorf("conformance: raw payload should be preserved")
	}
	if claimed, _ := store.Claim(ctx, first.ID, uuid.NewString(), now); claimed {
		return fmt.Errorf("conformance: terminal event should not be claimable")
	}
	return nil
}

// ValidateClaimExclusivity races workers on one event; exactly one may win.
func ValidateClaimExclusivity(ctx context.Context, store core.WebhookEventStore, workers int) error {
	if workers < 2 {
		workers = 8
	}
	event, _, err := store.Record(ctx, recordInput("race_"+uuid.NewString()))
	if err != nil {
		return err
	}
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  int
		firstErr error
	)
	start := make(chan struct{})
	for idx := 0; idx < workers; idx++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			claimed, claimErr := store.Claim(ctx, event.ID, uuid.NewString(), time.Now().UTC())
			mu.Lock()
			defer mu.Unlock()
			if claimErr != nil && firstErr == nil {
				firstErr = claimErr
			}
			if claimed {
				winners++
			}
		}()
	}
	close(start)
	wg.Wait()
	if firstErr != nil {
		return firstErr
	}
	if winners != 1 {
		return fmt.Errorf("conformance: expected exactly one claim winner, got %d", winners)
	}
	return nil
}

// ValidateRetryScheduling checks failure writes and the pull query window.
func ValidateRetryScheduling(ctx context.Context, store core.WebhookEventStore) error {
	event, _, err := store.Record(ctx, recordInput("retry_"+uuid.NewString()))
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if _, err := store.Claim(ctx, event.ID, uuid.NewString(), now); err != nil {
		return err
	}
	next := now.Add(time.Minute)
	if err := store.ApplyFailure(ctx, event.ID, core.FailureDecision{
		RetryCount:   1,
		Status:       core.EventStatusPending,
		NextRetryAt:  &next,
		ErrorCode:    core.ErrorUnresolvedReference,
		ErrorMessage: "request not known yet",
		ErrorStack:   "reconcile.quote",
	}, now); err != nil {
		return err
	}
	if containsEvent(ctx, store, now, event.ID) {
		return fmt.Errorf("conformance: event scheduled in the future should not be processable")
	}
	if !containsEvent(ctx, store, next, event.ID) {
		return fmt.Errorf("conformance: event should be processable once next_retry_at is due")
	}
	loaded, err := store.Get(ctx, event.ID)
	if err != nil {
		return err
	}
	if loaded.RetryCount != 1 || loaded.ErrorMessage != "request not known yet" || loaded.ErrorStack != "reconcile.quote" {
		return fmt.Errorf("conformance: failure details not persisted: %+v", loaded)
	}

	if _, err := store.Claim(ctx, event.ID, uuid.NewString(), next); err != nil {
		return err
	}
	if err := store.ApplyFailure(ctx, event.ID, core.FailureDecision{
		RetryCount: 2,
		Status:     core.EventStatusDeadLetter,
		ErrorCode:  core.ErrorUnresolvedReference,
	}, next); err != nil {
		return err
	}
	dead, err := store.List(ctx, core.EventFilter{Status: core.EventStatusDeadLetter, Limit: 500})
	if err != nil {
		return err
	}
	found := false
	for _, candidate := range dead {
		found = found || candidate.ID == event.ID
	}
	if !found {
		return fmt.Errorf("conformance: dead-lettered event should be listed")
	}

	replayed, err := store.Replay(ctx, event.ID, next)
	if err != nil {
		return err
	}
	if replayed.Status != core.EventStatusPending || replayed.RetryCount != 0 || replayed.ErrorMessage != "" {
		return fmt.Errorf("conformance: replay should reset the envelope, got %+v", replayed)
	}
	return nil
}

// ValidateLeaseExpiry checks that stale claims are reported for reclaim.
func ValidateLeaseExpiry(ctx context.Context, store core.WebhookEventStore) error {
	event, _, err := store.Record(ctx, recordInput("lease_"+uuid.NewString()))
	if err != nil {
		return err
	}
	claimedAt := time.Now().UTC().Add(-10 * time.Minute)
	if _, err := store.Claim(ctx, event.ID, uuid.NewString(), claimedAt); err != nil {
		return err
	}
	expired, err := store.FindExpiredClaims(ctx, claimedAt.Add(5*time.Minute), 100)
	if err != nil {
		return err
	}
	for _, candidate := range expired {
		if candidate.ID == event.ID {
			return nil
		}
	}
	return fmt.Errorf("conformance: expired claim %s not reported", event.ID)
}

func containsEvent(ctx context.Context, store core.WebhookEventStore, now time.Time, id string) bool {
	events, err := store.FindProcessable(ctx, now, 500)
	if err != nil {
		return false
	}
	for _, event := range events {
		if event.ID == id {
			return true
		}
	}
	return false
}

// ValidateQuoteUpsert checks insert counting, revisions and stale updates.
func ValidateQuoteUpsert(ctx context.Context, stores core.StoreProvider) error {
	request, err := stores.RequestStore().Create(ctx, core.CreateRequestInput{
		AgentID: "agent_1",
		TripID:  "trip_" + uuid.NewString(),
		Status:  core.RequestStatusAwaitingQuotes,
	})
	if err != nil {
		return err
	}
	operator, err := stores.OperatorStore().Upsert(ctx, core.UpsertOperatorInput{ExternalOperatorID: "op_" + uuid.NewString(), CompanyName: "Sky"})
	if err != nil {
		return err
	}
	sourceAt := time.Now().UTC().Truncate(time.Second)
	in := core.UpsertQuoteInput{
		RequestID:       request.ID,
		OperatorID:      operator.ID,
		ExternalQuoteID: "q_" + uuid.NewString(),
		EventID:         "evt_1",
		Price:           core.PriceBreakdown{Currency: "USD", BasePrice: 40000, Taxes: 2000, Total: 42000},
		Status:          core.QuoteStatusReceived,
		SourceUpdatedAt: sourceAt,
	}
	first, err := stores.QuoteStore().Upsert(ctx, in)
	if err != nil {
		return err
	}
	if !first.Created {
		return fmt.Errorf("conformance: first upsert should create the quote")
	}
	again, err := stores.QuoteStore().Upsert(ctx, in)
	if err != nil {
		return err
	}
	if again.Created || again.Revision != nil {
		return fmt.Errorf("conformance: identical upsert should be a no-op")
	}
	loaded, err := stores.RequestStore().Get(ctx, request.ID)
	if err != nil {
		return err
	}
	if loaded.QuotesReceived != 1 {
		return fmt.Errorf("conformance: expected quotes_received=1, got %d", loaded.QuotesReceived)
	}

	update := in
	update.EventID = "evt_2"
	update.Price.Total = 39500
	update.Status = core.QuoteStatusUpdated
	update.SourceUpdatedAt = sourceAt.Add(time.Minute)
	updated, err := stores.QuoteStore().Upsert(ctx, update)
	if err != nil {
		return err
	}
	if updated.Created || updated.Revision == nil || !updated.Revision.Applied {
		return fmt.Errorf("conformance: newer update should apply with a revision")
	}
	if updated.Quote.Price.Total != 39500 || !strings.Contains(updated.Quote.Notes, "42000.00") {
		return fmt.Errorf("conformance: expected applied total and prior value note, got %+v", updated.Quote)
	}

	stale := in
	stale.EventID = "evt_3"
	stale.Price.Total = 45000
	stale.SourceUpdatedAt = sourceAt.Add(-time.Minute)
	staleResult, err := stores.QuoteStore().Upsert(ctx, stale)
	if err != nil {
		return err
	}
	if staleResult.Revision == nil || staleResult.Revision.Applied || staleResult.Quote.Price.Total != 39500 {
		return fmt.Errorf("conformance: stale update should be recorded but not applied")
	}
	replayed, err := stores.QuoteStore().Upsert(ctx, stale)
	if err != nil {
		return err
	}
	if replayed.Revision == nil || replayed.Revision.ID != staleResult.Revision.ID {
		return fmt.Errorf("conformance: replayed stale update should return the recorded revision")
	}
	revisions, err := stores.QuoteStore().ListRevisions(ctx, first.Quote.ID)
	if err != nil {
		return err
	}
	if len(revisions) != 2 || revisions[0].PreviousTotal != 42000 {
		return fmt.Errorf("conformance: expected two revisions keeping prior totals, got %+v", revisions)
	}
	loaded, err = stores.RequestStore().Get(ctx, request.ID)
	if err != nil {
		return err
	}
	if loaded.QuotesReceived != 1 {
		return fmt.Errorf("conformance: updates must not increment quotes_received, got %d", loaded.QuotesReceived)
	}
	return nil
}

// ValidateConversationGetOrCreate races get-or-create and message appends.
func ValidateConversationGetOrCreate(ctx context.Context, stores core.StoreProvider, workers int) error {
	if workers < 2 {
		workers = 8
	}
	request, err := stores.RequestStore().Create(ctx, core.CreateRequestInput{AgentID: "agent_1", TripID: "trip_" + uuid.NewString()})
	if err != nil {
		return err
	}
	conversations := stores.ConversationStore()
	ids := make([]string, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for idx := 0; idx < workers; idx++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			<-start
			conversation, getErr := conversations.GetOrCreate(ctx, request.ID, core.ConversationTypeOperator)
			ids[idx] = conversation.ID
			errs[idx] = getErr
		}(idx)
	}
	close(start)
	wg.Wait()
	for idx := range ids {
		if errs[idx] != nil {
			return errs[idx]
		}
		if ids[idx] != ids[0] {
			return fmt.Errorf("conformance: expected one conversation, got %s and %s", ids[0], ids[idx])
		}
	}
	conversationID := ids[0]

	participants := []core.Sender{core.AgentSender("agent_1"), core.AssistantSender(), core.OperatorSender("op_1")}
	for _, participant := range participants {
		if _, err := conversations.EnsureParticipant(ctx, conversationID, participant.Kind(), participant.Ref()); err != nil {
			return err
		}
	}
	if _, err := conversations.EnsureParticipant(ctx, conversationID, core.SenderKindAgent, "agent_1"); err != nil {
		return err
	}

	sentAt := time.Now().UTC().Truncate(time.Second)
	first, err := conversations.AppendMessage(ctx, core.AppendMessageInput{
		ConversationID:    conversationID,
		ExternalMessageID: "m_1",
		Sender:            core.OperatorSender("op_1"),
		Content:           "Aircraft available",
		SentAt:            sentAt,
	})
	if err != nil {
		return err
	}
	duplicate, err := conversations.AppendMessage(ctx, core.AppendMessageInput{
		ConversationID:    conversationID,
		ExternalMessageID: "m_1",
		Sender:            core.OperatorSender("op_1"),
		Content:           "Aircraft available",
		SentAt:            sentAt,
	})
	if err != nil {
		return err
	}
	if !first.Created || duplicate.Created || duplicate.Message.ID != first.Message.ID {
		return fmt.Errorf("conformance: duplicate external message id should not append")
	}
	reply, err := conversations.AppendMessage(ctx, core.AppendMessageInput{
		ConversationID:          conversationID,
		ExternalMessageID:       "m_2",
		Sender:                  core.AgentSender("agent_1"),
		Content:                 "Please hold it",
		ParentExternalMessageID: "m_1",
		SentAt:                  sentAt.Add(time.Second),
	})
	if err != nil {
		return err
	}
	if reply.Message.ParentMessageID != first.Message.ID || reply.Message.ThreadRootID != first.Message.ID {
		return fmt.Errorf("conformance: reply should link to its parent thread root")
	}
	if reply.Message.Sender != core.AgentSender("agent_1") {
		return fmt.Errorf("conformance: sender should round-trip, got %s", reply.Message.Sender)
	}

	members, err := conversations.ListParticipants(ctx, conversationID)
	if err != nil {
		return err
	}
	if len(members) != 3 {
		return fmt.Errorf("conformance: expected 3 participants, got %d", len(members))
	}
	unread := map[string]int{}
	for _, member := range members {
		unread[string(member.Role)] = member.UnreadCount
	}
	if unread["operator"] != 1 || unread["agent"] != 1 || unread["assistant"] != 2 {
		return fmt.Errorf("conformance: unexpected unread counters %v", unread)
	}

	loaded, err := conversations.Get(ctx, conversationID)
	if err != nil {
		return err
	}
	if loaded.MessageCount != 2 || loaded.LastMessageID != reply.Message.ID {
		return fmt.Errorf("conformance: last message pointer not updated: %+v", loaded)
	}
	messages, err := conversations.ListMessages(ctx, conversationID, 0)
	if err != nil {
		return err
	}
	if len(messages) != 2 || messages[0].ID != first.Message.ID {
		return fmt.Errorf("conformance: expected messages in sent order")
	}
	if err := conversations.MarkRead(ctx, conversationID, core.SenderKindAssistant, core.AssistantRef, reply.Message.ID); err != nil {
		return err
	}
	return nil
}

// ValidateWorkflowTransitions checks the compare-and-set, head and history.
func ValidateWorkflowTransitions(ctx context.Context, stores core.StoreProvider) error {
	request, err := stores.RequestStore().Create(ctx, core.CreateRequestInput{AgentID: "agent_1", TripID: "trip_" + uuid.NewString()})
	if err != nil {
		return err
	}
	at := time.Now().UTC().Truncate(time.Millisecond)
	first, err := stores.WorkflowStore().ApplyTransition(ctx, core.TransitionRecord{
		RequestID: request.ID,
		From:      core.RequestStatusDraft,
		To:        core.RequestStatusPending,
		Source:    "agent",
		AgentID:   "agent_1",
		At:        at,
	})
	if err != nil {
		return err
	}
	if first.FromState != core.RequestStatusDraft || first.ToState != core.RequestStatusPending {
		return fmt.Errorf("conformance: unexpected history entry %+v", first)
	}
	second, err := stores.WorkflowStore().ApplyTransition(ctx, core.TransitionRecord{
		RequestID: request.ID,
		From:      core.RequestStatusPending,
		To:        core.RequestStatusAnalyzing,
		Source:    "webhook",
		EventID:   "evt_9",
		At:        at.Add(1500 * time.Millisecond),
	})
	if err != nil {
		return err
	}
	if second.StateDurationMS != 1500 {
		return fmt.Errorf("conformance: expected 1500ms in pending, got %d", second.StateDurationMS)
	}
	if _, err := stores.WorkflowStore().ApplyTransition(ctx, core.TransitionRecord{
		RequestID: request.ID,
		From:      core.RequestStatusPending,
		To:        core.RequestStatusCancelled,
		At:        at.Add(2 * time.Second),
	}); !errors.Is(err, core.ErrStatusConflict) {
		return fmt.Errorf("conformance: stale from-state should conflict, got %v", err)
	}
	state, err := stores.WorkflowStore().GetState(ctx, request.ID)
	if err != nil {
		return err
	}
	if state.CurrentState != core.RequestStatusAnalyzing || state.PreviousState != core.RequestStatusPending {
		return fmt.Errorf("conformance: unexpected workflow head %+v", state)
	}
	history, err := stores.WorkflowStore().ListHistory(ctx, request.ID)
	if err != nil {
		return err
	}
	if len(history) != 2 {
		return fmt.Errorf("conformance: expected 2 history rows, got %d", len(history))
	}
	loaded, err := stores.RequestStore().Get(ctx, request.ID)
	if err != nil {
		return err
	}
	if loaded.Status != core.RequestStatusAnalyzing {
		return fmt.Errorf("conformance: request status not updated, got %s", loaded.Status)
	}
	return nil
}
