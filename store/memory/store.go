// Package memory provides in-process implementations of the charter stores.
// They honor the same claim, dedupe and compare-and-set semantics as the SQL
// stores and back tests and single-process development runs.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-charter-sync/core"
)

type Store struct {
	mu    sync.Mutex
	clock core.Clock

	events        map[string]core.WebhookEvent
	eventKeys     map[string]string
	eventSeq      map[string]int64
	requests      map[string]core.Request
	quotes        map[string]core.Quote
	quoteKeys     map[string]string
	revisions     map[string][]core.QuoteRevision
	operators     map[string]core.OperatorProfile
	operatorKeys  map[string]string
	conversations map[string]core.Conversation
	convKeys      map[string]string
	participants  map[string][]core.ConversationParticipant
	messages      map[string][]core.Message
	states        map[string]core.WorkflowState
	history       map[string][]core.WorkflowHistory
	sequence      int64
}

func New(clock core.Clock) *Store {
	return &Store{
		clock:         clock,
		events:        map[string]core.WebhookEvent{},
		eventKeys:     map[string]string{},
		eventSeq:      map[string]int64{},
		requests:      map[string]core.Request{},
		quotes:        map[string]core.Quote{},
		quoteKeys:     map[string]string{},
		revisions:     map[string][]core.QuoteRevision{},
		operators:     map[string]core.OperatorProfile{},
		operatorKeys:  map[string]string{},
		conversations: map[string]core.Conversation{},
		convKeys:      map[string]string{},
		participants:  map[string][]core.ConversationParticipant{},
		messages:      map[string][]core.Message{},
		states:        map[string]core.WorkflowState{},
		history:       map[string][]core.WorkflowHistory{},
	}
}

func (s *Store) WebhookEventStore() core.WebhookEventStore { return (*eventStore)(s) }

func (s *Store) RequestStore() core.RequestStore { return (*requestStore)(s) }

func (s *Store) QuoteStore() core.QuoteStore { return (*quoteStore)(s) }

func (s *Store) OperatorStore() core.OperatorStore { return (*operatorStore)(s) }

func (s *Store) ConversationStore() core.ConversationStore { return (*conversationStore)(s) }

func (s *Store) WorkflowStore() core.WorkflowStore { return (*workflowStore)(s) }

func (s *Store) now() time.Time {
	return s.clock.Now()
}

// nextSeq orders records created within the same clock tick.
func (s *Store) nextSeq() int64 {
	s.sequence++
	return s.sequence
}

type eventStore Store

func eventKey(source string, externalID string) string {
	return strings.ToLower(strings.TrimSpace(source)) + "|" + strings.TrimSpace(externalID)
}

func (s *eventStore) Record(_ context.Context, in core.RecordEventInput) (core.WebhookEvent, bool, error) {
	if err := in.Validate(); err != nil {
		return core.WebhookEvent{}, false, core.BadInputError(err.Error(), nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := eventKey(in.Source, in.ExternalEventID)
	if id, ok := s.eventKeys[key]; ok {
		return cloneEvent(s.events[id]), false, nil
	}
	now := (*Store)(s).now()
	event := core.WebhookEvent{
		ID:               uuid.NewString(),
		Source:           strings.TrimSpace(in.Source),
		ExternalEventID:  strings.TrimSpace(in.ExternalEventID),
		Kind:             strings.TrimSpace(in.Kind),
		APIVersion:       in.APIVersion,
		OccurredAt:       in.OccurredAt,
		Refs:             in.Refs,
		Status:           core.EventStatusPending,
		MaxRetries:       in.MaxRetries,
		SignatureVersion: in.SignatureVersion,
		RawPayload:       append([]byte(nil), in.RawPayload...),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	s.events[event.ID] = event
	s.eventKeys[key] = event.ID
	s.eventSeq[event.ID] = (*Store)(s).nextSeq()
	return cloneEvent(event), true, nil
}

func (s *eventStore) Get(_ context.Context, id string) (core.WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[strings.TrimSpace(id)]
	if !ok {
		return core.WebhookEvent{}, core.ErrNotFound
	}
	return cloneEvent(event), nil
}

func (s *eventStore) GetByExternalID(_ context.Context, source string, externalEventID string) (core.WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.eventKeys[eventKey(source, externalEventID)]
	if !ok {
		return core.WebhookEvent{}, core.ErrNotFound
	}
	return cloneEvent(s.events[id]), nil
}

func (s *eventStore) Claim(_ context.Context, id string, token string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[strings.TrimSpace(id)]
	if !ok || event.Status != core.EventStatusPending {
		return false, nil
	}
	claimedAt := now.UTC()
	event.Status = core.EventStatusProcessing
	event.ClaimedAt = &claimedAt
	event.ClaimToken = token
	event.UpdatedAt = claimedAt
	s.events[event.ID] = event
	return true, nil
}

func (s *eventStore) processing(id string) (core.WebhookEvent, error) {
	event, ok := s.events[strings.TrimSpace(id)]
	if !ok {
		return core.WebhookEvent{}, core.ErrNotFound
	}
	if event.Status != core.EventStatusProcessing {
		return core.WebhookEvent{}, core.ErrEventNotProcessing
	}
	return event, nil
}

func (s *eventStore) Complete(_ context.Context, id string, linked core.LinkedIDs, parsed map[string]any, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, err := s.processing(id)
	if err != nil {
		return err
	}
	finished := now.UTC()
	event.Status = core.EventStatusCompleted
	event.Linked = linked
	event.ParsedData = cloneMap(parsed)
	event.NextRetryAt = nil
	event.ClaimedAt = nil
	event.ClaimToken = ""
	event.ProcessedAt = &finished
	event.UpdatedAt = finished
	s.events[event.ID] = event
	return nil
}

func (s *eventStore) Skip(_ context.Context, id string, reason string, parsed map[string]any, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, err := s.processing(id)
	if err != nil {
		return err
	}
	finished := now.UTC()
	details := cloneMap(parsed)
	if details == nil {
		details = map[string]any{}
	}
	details["skip_reason"] = reason
	event.Status = core.EventStatusSkipped
	event.ParsedData = details
	event.NextRetryAt = nil
	event.ClaimedAt = nil
	event.ClaimToken = ""
	event.ProcessedAt = &finished
	event.UpdatedAt = finished
	s.events[event.ID] = event
	return nil
}

func (s *eventStore) ApplyFailure(_ context.Context, id string, decision core.FailureDecision, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, err := s.processing(id)
	if err != nil {
		return err
	}
	updated := now.UTC()
	event.Status = decision.Status
	event.RetryCount = decision.RetryCount
	event.NextRetryAt = decision.NextRetryAt
	event.ErrorCode = decision.ErrorCode
	event.ErrorMessage = decision.ErrorMessage
	event.ErrorStack = decision.ErrorStack
	event.ClaimedAt = nil
	event.ClaimToken = ""
	if decision.DeadLetter() {
		event.ProcessedAt = &updated
	}
	event.UpdatedAt = updated
	s.events[event.ID] = event
	return nil
}

func (s *eventStore) FindProcessable(_ context.Context, now time.Time, limit int) ([]core.WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []core.WebhookEvent{}
	for _, event := range s.events {
		if event.Processable(now) {
			out = append(out, cloneEvent(event))
		}
	}
	s.sortEvents(out, false)
	return limitEvents(out, 0, limit), nil
}

func (s *eventStore) FindExpiredClaims(_ context.Context, cutoff time.Time, limit int) ([]core.WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []core.WebhookEvent{}
	for _, event := range s.events {
		if event.Status == core.EventStatusProcessing && event.ClaimedAt != nil && !event.ClaimedAt.After(cutoff) {
			out = append(out, cloneEvent(event))
		}
	}
	s.sortEvents(out, false)
	return limitEvents(out, 0, limit), nil
}

func (s *eventStore) Replay(_ context.Context, id string, now time.Time) (core.WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[strings.TrimSpace(id)]
	if !ok {
		return core.WebhookEvent{}, core.ErrNotFound
	}
	if !event.Status.Terminal() {
		return core.WebhookEvent{}, core.BadInputError("only terminal events can be replayed", map[string]any{
			"event_id": event.ID,
			"status":   string(event.Status),
		})
	}
	event.Status = core.EventStatusPending
	event.RetryCount = 0
	event.NextRetryAt = nil
	event.ClaimedAt = nil
	event.ClaimToken = ""
	event.ErrorCode = ""
	event.ErrorMessage = ""
	event.ErrorStack = ""
	event.ProcessedAt = nil
	event.UpdatedAt = now.UTC()
	s.events[event.ID] = event
	return cloneEvent(event), nil
}

func (s *eventStore) List(_ context.Context, filter core.EventFilter) ([]core.WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []core.WebhookEvent{}
	for _, event := range s.events {
		if filter.Status != "" && event.Status != filter.Status {
			continue
		}
		if filter.Kind != "" && event.Kind != filter.Kind {
			continue
		}
		if filter.Source != "" && !strings.EqualFold(event.Source, filter.Source) {
			continue
		}
		out = append(out, cloneEvent(event))
	}
	s.sortEvents(out, true)
	return limitEvents(out, filter.Offset, filter.Limit), nil
}

func (s *eventStore) sortEvents(events []core.WebhookEvent, newestFirst bool) {
	sort.SliceStable(events, func(i, j int) bool {
		left, right := s.eventSeq[events[i].ID], s.eventSeq[events[j].ID]
		if newestFirst {
			return left > right
		}
		return left < right
	})
}

func limitEvents(events []core.WebhookEvent, offset int, limit int) []core.WebhookEvent {
	if offset > 0 {
		if offset >= len(events) {
			return []core.WebhookEvent{}
		}
		events = events[offset:]
	}
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events
}

func cloneEvent(event core.WebhookEvent) core.WebhookEvent {
	event.RawPayload = append([]byte(nil), event.RawPayload...)
	event.ParsedData = cloneMap(event.ParsedData)
	return event
}

func cloneMap(input map[string]any) map[string]any {
	if input == nil {
		return nil
	}
	out := make(map[string]any, len(input))
	for key, value := range input {
		out[key] = value
	}
	return out
}

var _ core.StoreProvider = (*Store)(nil)
