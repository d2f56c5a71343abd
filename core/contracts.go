package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// WebhookEventStore persists the inbound event ledger. Record is idempotent on
// (source, external event id); Claim is the only synchronization point
// between workers.
type WebhookEventStore interface {
	Record(ctx context.Context, in RecordEventInput) (event WebhookEvent, created bool, err error)
	Get(ctx context.Context, id string) (WebhookEvent, error)
	GetByExternalID(ctx context.Context, source string, externalEventID string) (WebhookEvent, error)
	Claim(ctx context.Context, id string, token string, now time.Time) (bool, error)
	Complete(ctx context.Context, id string, linked LinkedIDs, parsed map[string]any, now time.Time) error
	Skip(ctx context.Context, id string, reason string, parsed map[string]any, now time.Time) error
	ApplyFailure(ctx context.Context, id string, decision FailureDecision, now time.Time) error
	FindProcessable(ctx context.Context, now time.Time, limit int) ([]WebhookEvent, error)
	FindExpiredClaims(ctx context.Context, cutoff time.Time, limit int) ([]WebhookEvent, error)
	Replay(ctx context.Context, id string, now time.Time) (WebhookEvent, error)
	List(ctx context.Context, filter EventFilter) ([]WebhookEvent, error)
}

type RequestStore interface {
	Create(ctx context.Context, in CreateRequestInput) (Request, error)
	Get(ctx context.Context, id string) (Request, error)
	FindByTripRef(ctx context.Context, tripID string, rfqID string) (Request, error)
	RaiseQuotesReceived(ctx context.Context, id string, count int) (Request, error)
}

type QuoteStore interface {
	Upsert(ctx context.Context, in UpsertQuoteInput) (UpsertQuoteResult, error)
	GetByExternalID(ctx context.Context, externalQuoteID string) (Quote, error)
	ListByRequest(ctx context.Context, requestID string) ([]Quote, error)
	ListRevisions(ctx context.Context, quoteID string) ([]QuoteRevision, error)
}

type OperatorStore interface {
	Upsert(ctx context.Context, in UpsertOperatorInput) (OperatorProfile, error)
	GetByExternalID(ctx context.Context, externalOperatorID string) (OperatorProfile, error)
}

type ConversationStore interface {
	GetOrCreate(ctx context.Context, requestID string, kind ConversationType) (Conversation, error)
	Get(ctx context.Context, id string) (Conversation, error)
	ListByRequest(ctx context.Context, requestID string) ([]Conversation, error)
	EnsureParticipant(ctx context.Context, conversationID string, role SenderKind, ref string) (ConversationParticipant, error)
	ListParticipants(ctx context.Context, conversationID string) ([]ConversationParticipant, error)
	AppendMessage(ctx context.Context, in AppendMessageInput) (AppendMessageResult, error)
	ListMessages(ctx context.Context, conversationID string, limit int) ([]Message, error)
	MarkRead(ctx context.Context, conversationID string, role SenderKind, ref string, messageID string) error
}

type WorkflowStore interface {
	GetState(ctx context.Context, requestID string) (WorkflowState, error)
	ApplyTransition(ctx context.Context, record TransitionRecord) (WorkflowHistory, error)
	ListHistory(ctx context.Context, requestID string) ([]WorkflowHistory, error)
}

// StoreProvider exposes every persistence contract built by a store factory.
type StoreProvider interface {
	WebhookEventStore() WebhookEventStore
	RequestStore() RequestStore
	QuoteStore() QuoteStore
	OperatorStore() OperatorStore
	ConversationStore() ConversationStore
	WorkflowStore() WorkflowStore
}

type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

// InboundRequest is the transport-neutral view of one webhook delivery.
type InboundRequest struct {
	Source     string
	Headers    map[string]string
	Body       []byte
	ReceivedAt time.Time
}

// EventNotifier is told about newly recorded events so a push driver can
// process them without waiting for the next poll.
type EventNotifier interface {
	EventRecorded(ctx context.Context, event WebhookEvent) error
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// Clock abstracts time for components that compute leases and backoff.
type Clock func() time.Time

func (c Clock) Now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}
