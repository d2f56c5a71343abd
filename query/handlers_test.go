package query

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-charter-sync/core"
	"github.com/goliatone/go-charter-sync/store/memory"
)

func seedConversation(t *testing.T, store *memory.Store) (core.Request, core.Conversation) {
	t.Helper()
	ctx := context.Background()
	request, err := store.RequestStore().Create(ctx, core.CreateRequestInput{AgentID: "agent_7", TripID: "trip_1"})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	conversation, err := store.ConversationStore().GetOrCreate(ctx, request.ID, core.ConversationTypeOperator)
	if err != nil {
		t.Fatalf("get or create conversation: %v", err)
	}
	operator := core.OperatorSender("op_1")
	if _, err := store.ConversationStore().EnsureParticipant(ctx, conversation.ID, operator.Kind(), operator.Ref()); err != nil {
		t.Fatalf("ensure participant: %v", err)
	}
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := store.ConversationStore().AppendMessage(ctx, core.AppendMessageInput{
			ConversationID:    conversation.ID,
			ExternalMessageID: fmt.Sprintf("m_%d", i),
			Sender:            operator,
			Content:           fmt.Sprintf("message %d", i),
			SentAt:            base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("append message %d: %v", i, err)
		}
	}
	return request, conversation
}

func TestGetConversationQuery_ByRequestDefaultsToOperatorThread(t *testing.T) {
	store := memory.New(nil)
	request, conversation := seedConversation(t, store)

	view, err := NewGetConversationQuery(store.ConversationStore()).Query(context.Background(), GetConversationMessage{
		RequestID:    request.ID,
		MessageLimit: 2,
	})
	if err != nil {
		t.Fatalf("query conversation: %v", err)
	}
	if view.Conversation.ID != conversation.ID {
		t.Fatalf("expected conversation %s, got %s", conversation.ID, view.Conversation.ID)
	}
	if len(view.Participants) != 1 {
		t.Fatalf("expected one participant, got %d", len(view.Participants))
	}
	if len(view.Messages) != 2 || view.Messages[0].ExternalMessageID != "m_1" || view.Messages[1].ExternalMessageID != "m_2" {
		t.Fatalf("expected the two most recent messages in order, got %+v", view.Messages)
	}
}

func TestGetConversationQuery_ByID(t *testing.T) {
	store := memory.New(nil)
	_, conversation := seedConversation(t, store)

	view, err := NewGetConversationQuery(store.ConversationStore()).Query(context.Background(), GetConversationMessage{
		ConversationID: conversation.ID,
	})
	if err != nil {
		t.Fatalf("query conversation: %v", err)
	}
	if len(view.Messages) != 3 || view.Conversation.MessageCount != 3 {
		t.Fatalf("unexpected view %+v", view)
	}
}

func TestGetConversationQuery_MissingThreadIsNotFound(t *testing.T) {
	store := memory.New(nil)
	request, _ := seedConversation(t, store)

	_, err := NewGetConversationQuery(store.ConversationStore()).Query(context.Background(), GetConversationMessage{
		RequestID: request.ID,
		Kind:      core.ConversationTypeInternal,
	})
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetRequestWorkflowQuery_BeforeAndAfterTransition(t *testing.T) {
	store := memory.New(nil)
	ctx := context.Background()
	request, err := store.RequestStore().Create(ctx, core.CreateRequestInput{AgentID: "agent_7", TripID: "trip_1"})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	qry := NewGetRequestWorkflowQuery(store.RequestStore(), store.WorkflowStore())

	view, err := qry.Query(ctx, GetRequestWorkflowMessage{RequestID: request.ID})
	if err != nil {
		t.Fatalf("query workflow: %v", err)
	}
	if view.State != nil || len(view.History) != 0 {
		t.Fatalf("expected empty workflow before first transition, got %+v", view)
	}

	if _, err := store.WorkflowStore().ApplyTransition(ctx, core.TransitionRecord{
		RequestID: request.ID,
		From:      request.Status,
		To:        core.RequestStatusPending,
		Source:    "agent",
		AgentID:   "agent_7",
	}); err != nil {
		t.Fatalf("apply transition: %v", err)
	}
	view, err = qry.Query(ctx, GetRequestWorkflowMessage{RequestID: request.ID})
	if err != nil {
		t.Fatalf("query workflow: %v", err)
	}
	if view.State == nil || view.State.CurrentState != core.RequestStatusPending || len(view.History) != 1 {
		t.Fatalf("unexpected workflow view %+v", view)
	}
	if view.Request.Status != core.RequestStatusPending {
		t.Fatalf("expected request status pending, got %s", view.Request.Status)
	}
}

func TestListEventsQuery_FiltersByStatus(t *testing.T) {
	store := memory.New(nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, _, err := store.WebhookEventStore().Record(ctx, core.RecordEventInput{
			Source:          core.DefaultEventSource,
			ExternalEventID: fmt.Sprintf("evt_%d", i),
			Kind:            "TripChatSeller",
			RawPayload:      []byte(`{}`),
		}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	events, err := NewListEventsQuery(store.WebhookEventStore()).Query(ctx, ListEventsMessage{
		Filter: core.EventFilter{Status: core.EventStatusPending, Limit: 2},
	})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected limit to apply, got %d", len(events))
	}

	dead, err := NewListEventsQuery(store.WebhookEventStore()).Query(ctx, ListEventsMessage{
		Filter: core.EventFilter{Status: core.EventStatusDeadLetter},
	})
	if err != nil || len(dead) != 0 {
		t.Fatalf("expected no dead letters, got %d %v", len(dead), err)
	}
}

func TestMessages_ValidateReturnsRichError(t *testing.T) {
	cases := map[string]interface{ Validate() error }{
		"list status":       ListEventsMessage{Filter: core.EventFilter{Status: "lost"}},
		"list limit":        ListEventsMessage{Filter: core.EventFilter{Limit: MaxListLimit + 1}},
		"list offset":       ListEventsMessage{Filter: core.EventFilter{Offset: -1}},
		"conversation refs": GetConversationMessage{},
		"conversation kind": GetConversationMessage{RequestID: "req_1", Kind: "public"},
		"workflow request":  GetRequestWorkflowMessage{},
	}
	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			err := msg.Validate()
			var rich *goerrors.Error
			if !goerrors.As(err, &rich) {
				t.Fatalf("expected go-errors envelope, got %T", err)
			}
			if rich.TextCode != core.ErrorBadInput {
				t.Fatalf("expected %q text code, got %q", core.ErrorBadInput, rich.TextCode)
			}
			if rich.Code != http.StatusBadRequest {
				t.Fatalf("expected %d code, got %d", http.StatusBadRequest, rich.Code)
			}
		})
	}
}

func TestQueries_NilReaderReturnsRichError(t *testing.T) {
	var list *ListEventsQuery
	_, listErr := list.Query(context.Background(), ListEventsMessage{})
	_, convErr := NewGetConversationQuery(nil).Query(context.Background(), GetConversationMessage{ConversationID: "c"})
	_, flowErr := NewGetRequestWorkflowQuery(nil, nil).Query(context.Background(), GetRequestWorkflowMessage{RequestID: "r"})
	for idx, err := range []error{listErr, convErr, flowErr} {
		var rich *goerrors.Error
		if !goerrors.As(err, &rich) || rich.Category != goerrors.CategoryInternal {
			t.Fatalf("case %d: expected internal go-errors envelope, got %v", idx, err)
		}
	}
}
