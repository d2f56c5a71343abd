package core

import (
	"fmt"
	"strings"
	"time"
)

const DefaultEventSource = "avinode"

type EventStatus string

const (
	EventStatusPending    EventStatus = "pending"
	EventStatusProcessing EventStatus = "processing"
	EventStatusCompleted  EventStatus = "completed"
	EventStatusSkipped    EventStatus = "skipped"
	EventStatusDeadLetter EventStatus = "dead_letter"
)

// Terminal reports whether no further claim can succeed for the status.
func (s EventStatus) Terminal() bool {
	switch s {
	case EventStatusCompleted, EventStatusSkipped, EventStatusDeadLetter:
		return true
	default:
		return false
	}
}

// CorrelationRefs are the external marketplace identifiers carried by an event.
type CorrelationRefs struct {
	TripID  string
	RFQID   string
	QuoteID string
}

// LinkedIDs are the internal entity ids resolved while reconciling an event.
type LinkedIDs struct {
	RequestID      string
	QuoteID        string
	OperatorID     string
	ConversationID string
	MessageID      string
}

func (l LinkedIDs) Empty() bool {
	return l == LinkedIDs{}
}

// WebhookEvent is the raw inbound payload plus its processing envelope. The
// payload is immutable; only claim and retry operations mutate the envelope.
type WebhookEvent struct {
	ID               string
	Source           string
	ExternalEventID  string
	Kind             string
	APIVersion       string
	OccurredAt       time.Time
	Refs             CorrelationRefs
	Status           EventStatus
	RetryCount       int
	MaxRetries       int
	NextRetryAt      *time.Time
	ClaimedAt        *time.Time
	ClaimToken       string
	Linked           LinkedIDs
	ParsedData       map[string]any
	ErrorCode        string
	ErrorMessage     string
	ErrorStack       string
	SignatureVersion string
	RawPayload       []byte
	ProcessedAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Processable reports whether the pull query would select the event at now.
func (e WebhookEvent) Processable(now time.Time) bool {
	if e.Status != EventStatusPending {
		return false
	}
	return e.NextRetryAt == nil || !e.NextRetryAt.After(now)
}

type RecordEventInput struct {
	Source           string
	ExternalEventID  string
	Kind             string
	APIVersion       string
	OccurredAt       time.Time
	Refs             CorrelationRefs
	MaxRetries       int
	SignatureVersion string
	RawPayload       []byte
}

func (in RecordEventInput) Validate() error {
	if strings.TrimSpace(in.Source) == "" {
		return fmt.Errorf("core: event source is required")
	}
	if strings.TrimSpace(in.ExternalEventID) == "" {
		return fmt.Errorf("core: external event id is required")
	}
	if strings.TrimSpace(in.Kind) == "" {
		return fmt.Errorf("core: event kind is required")
	}
	if len(in.RawPayload) == 0 {
		return fmt.Errorf("core: raw payload is required")
	}
	return nil
}

// FailureDecision is the outcome computed by the retry scheduler for one
// failed attempt.
type FailureDecision struct {
	RetryCount   int
	Status       EventStatus
	NextRetryAt  *time.Time
	ErrorCode    string
	ErrorMessage string
	ErrorStack   string
}

func (d FailureDecision) DeadLetter() bool {
	return d.Status == EventStatusDeadLetter
}

type EventFilter struct {
	Status EventStatus
	Kind   string
	Source string
	Limit  int
	Offset int
}

type RequestStatus string

const (
	RequestStatusDraft                RequestStatus = "draft"
	RequestStatusPending              RequestStatus = "pending"
	RequestStatusAnalyzing            RequestStatus = "analyzing"
	RequestStatusFetchingClientData   RequestStatus = "fetching_client_data"
	RequestStatusTripCreated          RequestStatus = "trip_created"
	RequestStatusAwaitingUserAction   RequestStatus = "awaiting_user_action"
	RequestStatusAvinodeSessionActive RequestStatus = "avinode_session_active"
	RequestStatusMonitoringForQuotes  RequestStatus = "monitoring_for_quotes"
	RequestStatusSearchingFlights     RequestStatus = "searching_flights"
	RequestStatusAwaitingQuotes       RequestStatus = "awaiting_quotes"
	RequestStatusAnalyzingProposals   RequestStatus = "analyzing_proposals"
	RequestStatusGeneratingEmail      RequestStatus = "generating_email"
	RequestStatusSendingProposal      RequestStatus = "sending_proposal"
	RequestStatusCompleted            RequestStatus = "completed"
	RequestStatusFailed               RequestStatus = "failed"
	RequestStatusCancelled            RequestStatus = "cancelled"
)

// HappyPath lists the forward lifecycle in order.
var HappyPath = []RequestStatus{
	RequestStatusDraft,
	RequestStatusPending,
	RequestStatusAnalyzing,
	RequestStatusFetchingClientData,
	RequestStatusTripCreated,
	RequestStatusAwaitingUserAction,
	RequestStatusAvinodeSessionActive,
	RequestStatusMonitoringForQuotes,
	RequestStatusSearchingFlights,
	RequestStatusAwaitingQuotes,
	RequestStatusAnalyzingProposals,
	RequestStatusGeneratingEmail,
	RequestStatusSendingProposal,
	RequestStatusCompleted,
}

// AllRequestStatuses is the happy path followed by the failure exits.
func AllRequestStatuses() []RequestStatus {
	out := append([]RequestStatus(nil), HappyPath...)
	return append(out, RequestStatusFailed, RequestStatusCancelled)
}

func (s RequestStatus) Terminal() bool {
	switch s {
	case RequestStatusCompleted, RequestStatusFailed, RequestStatusCancelled:
		return true
	default:
		return false
	}
}

func (s RequestStatus) Valid() bool {
	for _, candidate := range AllRequestStatuses() {
		if candidate == s {
			return true
		}
	}
	return false
}

func ParseRequestStatus(value string) (RequestStatus, bool) {
	status := RequestStatus(strings.ToLower(strings.TrimSpace(value)))
	return status, status.Valid()
}

type Request struct {
	ID                 string
	AgentID            string
	TripID             string
	RFQID              string
	Status             RequestStatus
	OperatorsContacted int
	QuotesExpected     int
	QuotesReceived     int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type CreateRequestInput struct {
	AgentID            string
	TripID             string
	RFQID              string
	Status             RequestStatus
	OperatorsContacted int
	QuotesExpected     int
}

type QuoteStatus string

const (
	QuoteStatusReceived  QuoteStatus = "received"
	QuoteStatusUpdated   QuoteStatus = "updated"
	QuoteStatusAccepted  QuoteStatus = "accepted"
	QuoteStatusDeclined  QuoteStatus = "declined"
	QuoteStatusExpired   QuoteStatus = "expired"
	QuoteStatusWithdrawn QuoteStatus = "withdrawn"
)

func NormalizeQuoteStatus(value string) QuoteStatus {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "accepted", "booked":
		return QuoteStatusAccepted
	case "declined", "rejected":
		return QuoteStatusDeclined
	case "expired":
		return QuoteStatusExpired
	case "withdrawn", "cancelled", "canceled":
		return QuoteStatusWithdrawn
	case "updated":
		return QuoteStatusUpdated
	default:
		return QuoteStatusReceived
	}
}

type PriceBreakdown struct {
	Currency  string
	BasePrice float64
	Taxes     float64
	Fees      float64
	Total     float64
}

type Quote struct {
	ID              string
	RequestID       string
	OperatorID      string
	ExternalQuoteID string
	Price           PriceBreakdown
	ValidFrom       *time.Time
	ValidUntil      *time.Time
	Status          QuoteStatus
	AircraftType    string
	AircraftTail    string
	Notes           string
	SourceUpdatedAt time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type UpsertQuoteInput struct {
	RequestID       string
	OperatorID      string
	ExternalQuoteID string
	EventID         string
	Price           PriceBreakdown
	ValidFrom       *time.Time
	ValidUntil      *time.Time
	Status          QuoteStatus
	AircraftType    string
	AircraftTail    string
	Notes           string
	SourceUpdatedAt time.Time
}

func (in UpsertQuoteInput) Validate() error {
	if strings.TrimSpace(in.RequestID) == "" {
		return fmt.Errorf("core: quote request id is required")
	}
	if strings.TrimSpace(in.OperatorID) == "" {
		return fmt.Errorf("core: quote operator id is required")
	}
	if strings.TrimSpace(in.ExternalQuoteID) == "" {
		return fmt.Errorf("core: external quote id is required")
	}
	if in.Price.Total < 0 {
		return fmt.Errorf("core: quote total must not be negative")
	}
	return nil
}

// QuoteRevision keeps the prior value of a quote whenever an update arrives.
// Applied is false for stale updates that lost against a newer source time.
type QuoteRevision struct {
	ID             string
	QuoteID        string
	EventID        string
	PreviousTotal  float64
	NewTotal       float64
	Currency       string
	PreviousStatus QuoteStatus
	NewStatus      QuoteStatus
	Applied        bool
	RecordedAt     time.Time
}

type UpsertQuoteResult struct {
	Quote    Quote
	Created  bool
	Revision *QuoteRevision
}

type OperatorProfile struct {
	ID                 string
	ExternalOperatorID string
	CompanyName        string
	ContactEmail       string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type UpsertOperatorInput struct {
	ExternalOperatorID string
	CompanyName        string
	ContactEmail       string
}

type ConversationType string

const (
	ConversationTypeOperator ConversationType = "operator"
	ConversationTypeInternal ConversationType = "internal"
)

func (t ConversationType) Valid() bool {
	return t == ConversationTypeOperator || t == ConversationTypeInternal
}

type Conversation struct {
	ID            string
	RequestID     string
	Type          ConversationType
	LastMessageID string
	LastMessageAt *time.Time
	MessageCount  int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type ConversationParticipant struct {
	ID                string
	ConversationID    string
	Role              SenderKind
	ParticipantRef    string
	UnreadCount       int
	LastReadMessageID string
	LastReadAt        *time.Time
	CreatedAt         time.Time
}

type ContentType string

const (
	ContentTypeText ContentType = "text"
	ContentTypeRich ContentType = "rich"
)

type Message struct {
	ID                string
	ConversationID    string
	ExternalMessageID string
	Sender            Sender
	Content           string
	ContentType       ContentType
	RichPayload       map[string]any
	ParentMessageID   string
	ThreadRootID      string
	SentAt            time.Time
	CreatedAt         time.Time
}

type AppendMessageInput struct {
	ConversationID          string
	ExternalMessageID       string
	Sender                  Sender
	Content                 string
	RichPayload             map[string]any
	ParentExternalMessageID string
	SentAt                  time.Time
}

func (in AppendMessageInput) Validate() error {
	if strings.TrimSpace(in.ConversationID) == "" {
		return fmt.Errorf("core: conversation id is required")
	}
	if err := in.Sender.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(in.Content) == "" && len(in.RichPayload) == 0 {
		return fmt.Errorf("core: message content or rich payload is required")
	}
	return nil
}

type AppendMessageResult struct {
	Message Message
	Created bool
}

// WorkflowState is the mutable head pointer of a request lifecycle.
type WorkflowState struct {
	RequestID     string
	CurrentState  RequestStatus
	PreviousState RequestStatus
	Source        string
	AgentID       string
	EnteredAt     time.Time
	UpdatedAt     time.Time
}

// WorkflowHistory is one immutable transition log entry.
type WorkflowHistory struct {
	ID              string
	RequestID       string
	FromState       RequestStatus
	ToState         RequestStatus
	Source          string
	AgentID         string
	EventID         string
	Reason          string
	StateDurationMS int64
	CreatedAt       time.Time
}

// TransitionRecord is everything a legal transition persists atomically.
type TransitionRecord struct {
	RequestID string
	From      RequestStatus
	To        RequestStatus
	Source    string
	AgentID   string
	EventID   string
	Reason    string
	At        time.Time
}
