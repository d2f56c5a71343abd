package query

import (
	"context"
	"errors"
	"strings"

	"github.com/goliatone/go-charter-sync/core"
)

type EventLister interface {
	List(ctx context.Context, filter core.EventFilter) ([]core.WebhookEvent, error)
}

type ConversationReader interface {
	Get(ctx context.Context, id string) (core.Conversation, error)
	ListByRequest(ctx context.Context, requestID string) ([]core.Conversation, error)
	ListParticipants(ctx context.Context, conversationID string) ([]core.ConversationParticipant, error)
	ListMessages(ctx context.Context, conversationID string, limit int) ([]core.Message, error)
}

type RequestReader interface {
	Get(ctx context.Context, id string) (core.Request, error)
}

type WorkflowReader interface {
	GetState(ctx context.Context, requestID string) (core.WorkflowState, error)
	ListHistory(ctx context.Context, requestID string) ([]core.WorkflowHistory, error)
}

type ListEventsQuery struct {
	reader EventLister
}

func NewListEventsQuery(reader EventLister) *ListEventsQuery {
	return &ListEventsQuery{reader: reader}
}

func (q *ListEventsQuery) Query(ctx context.Context, msg ListEventsMessage) ([]core.WebhookEvent, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: event reader is required")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return q.reader.List(ctx, msg.Filter)
}

type GetConversationQuery struct {
	reader ConversationReader
}

func NewGetConversationQuery(reader ConversationReader) *GetConversationQuery {
	return &GetConversationQuery{reader: reader}
}

func (q *GetConversationQuery) Query(ctx context.Context, msg GetConversationMessage) (core.ConversationView, error) {
	if q == nil || q.reader == nil {
		return core.ConversationView{}, queryDependencyError("query: conversation reader is required")
	}
	if err := msg.Validate(); err != nil {
		return core.ConversationView{}, err
	}
	conversation, err := q.resolve(ctx, msg)
	if err != nil {
		return core.ConversationView{}, err
	}
	participants, err := q.reader.ListParticipants(ctx, conversation.ID)
	if err != nil {
		return core.ConversationView{}, err
	}
	messages, err := q.reader.ListMessages(ctx, conversation.ID, msg.MessageLimit)
	if err != nil {
		return core.ConversationView{}, err
	}
	return core.ConversationView{
		Conversation: conversation,
		Participants: participants,
		Messages:     messages,
	}, nil
}

func (q *GetConversationQuery) resolve(ctx context.Context, msg GetConversationMessage) (core.Conversation, error) {
	if id := strings.TrimSpace(msg.ConversationID); id != "" {
		return q.reader.Get(ctx, id)
	}
	kind := msg.Kind
	if kind == "" {
		kind = core.ConversationTypeOperator
	}
	conversations, err := q.reader.ListByRequest(ctx, strings.TrimSpace(msg.RequestID))
	if err != nil {
		return core.Conversation{}, err
	}
	for _, conversation := range conversations {
		if conversation.Type == kind {
			return conversation, nil
		}
	}
	return core.Conversation{}, core.ErrNotFound
}

type GetRequestWorkflowQuery struct {
	requests RequestReader
	workflow WorkflowReader
}

func NewGetRequestWorkflowQuery(requests RequestReader, workflow WorkflowReader) *GetRequestWorkflowQuery {
	return &GetRequestWorkflowQuery{requests: requests, workflow: workflow}
}

func (q *GetRequestWorkflowQuery) Query(ctx context.Context, msg GetRequestWorkflowMessage) (core.RequestWorkflowView, error) {
	if q == nil || q.requests == nil || q.workflow == nil {
		return core.RequestWorkflowView{}, queryDependencyError("query: request and workflow readers are required")
	}
	if err := msg.Validate(); err != nil {
		return core.RequestWorkflowView{}, err
	}
	requestID := strings.TrimSpace(msg.RequestID)
	request, err := q.requests.Get(ctx, requestID)
	if err != nil {
		return core.RequestWorkflowView{}, err
	}
	view := core.RequestWorkflowView{Request: request}
	state, err := q.workflow.GetState(ctx, requestID)
	switch {
	case err == nil:
		view.State = &state
	case !errors.Is(err, core.ErrNotFound):
		return core.RequestWorkflowView{}, err
	}
	history, err := q.workflow.ListHistory(ctx, requestID)
	if err != nil {
		return core.RequestWorkflowView{}, err
	}
	view.History = history
	return view, nil
}
