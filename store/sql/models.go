package sqlstore

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-charter-sync/core"
)

type webhookEventRecord struct {
	bun.BaseModel `bun:"table:charter_webhook_events,alias:cwe"`

	ID               string         `bun:"id,pk"`
	Source           string         `bun:"source,notnull"`
	ExternalEventID  string         `bun:"external_event_id,notnull"`
	Kind             string         `bun:"kind,notnull"`
	APIVersion       string         `bun:"api_version,notnull"`
	OccurredAt       *time.Time     `bun:"occurred_at,nullzero"`
	TripID           string         `bun:"trip_id,notnull"`
	RFQID            string         `bun:"rfq_id,notnull"`
	ExternalQuoteID  string         `bun:"external_quote_id,notnull"`
	Status           string         `bun:"status,notnull"`
	RetryCount       int            `bun:"retry_count,notnull"`
	MaxRetries       int            `bun:"max_retries,notnull"`
	NextRetryAt      *time.Time     `bun:"next_retry_at,nullzero"`
	ClaimedAt        *time.Time     `bun:"claimed_at,nullzero"`
	ClaimToken       string         `bun:"claim_token,notnull"`
	RequestID        string         `bun:"request_id,notnull"`
	QuoteID          string         `bun:"quote_id,notnull"`
	OperatorID       string         `bun:"operator_id,notnull"`
	ConversationID   string         `bun:"conversation_id,notnull"`
	MessageID        string         `bun:"message_id,notnull"`
	ParsedData       map[string]any `bun:"parsed_data,type:jsonb"`
	ErrorCode        string         `bun:"error_code,notnull"`
	ErrorMessage     string         `bun:"error_message,notnull"`
	ErrorStack       string         `bun:"error_stack,notnull"`
	SignatureVersion string         `bun:"signature_version,notnull"`
	RawPayload       []byte         `bun:"raw_payload,notnull"`
	ProcessedAt      *time.Time     `bun:"processed_at,nullzero"`
	CreatedAt        time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt        time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type requestRecord struct {
	bun.BaseModel `bun:"table:charter_requests,alias:cr"`

	ID                 string    `bun:"id,pk"`
	AgentID            string    `bun:"agent_id,notnull"`
	TripID             string    `bun:"trip_id,notnull"`
	RFQID              string    `bun:"rfq_id,notnull"`
	Status             string    `bun:"status,notnull"`
	OperatorsContacted int       `bun:"operators_contacted,notnull"`
	QuotesExpected     int       `bun:"quotes_expected,notnull"`
	QuotesReceived     int       `bun:"quotes_received,notnull"`
	CreatedAt          time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt          time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type quoteRecord struct {
	bun.BaseModel `bun:"table:charter_quotes,alias:cq"`

	ID              string     `bun:"id,pk"`
	RequestID       string     `bun:"request_id,notnull"`
	OperatorID      string     `bun:"operator_id,notnull"`
	ExternalQuoteID string     `bun:"external_quote_id,notnull"`
	Currency        string     `bun:"currency,notnull"`
	BasePrice       float64    `bun:"base_price,notnull"`
	Taxes           float64    `bun:"taxes,notnull"`
	Fees            float64    `bun:"fees,notnull"`
	Total           float64    `bun:"total,notnull"`
	ValidFrom       *time.Time `bun:"valid_from,nullzero"`
	ValidUntil      *time.Time `bun:"valid_until,nullzero"`
	Status          string     `bun:"status,notnull"`
	AircraftType    string     `bun:"aircraft_type,notnull"`
	AircraftTail    string     `bun:"aircraft_tail,notnull"`
	Notes           string     `bun:"notes,notnull"`
	SourceUpdatedAt time.Time  `bun:"source_updated_at,notnull"`
	CreatedAt       time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt       time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type quoteRevisionRecord struct {
	bun.BaseModel `bun:"table:charter_quote_revisions,alias:cqr"`

	ID             string    `bun:"id,pk"`
	QuoteID        string    `bun:"quote_id,notnull"`
	RevisionNo     int       `bun:"revision_no,notnull"`
	EventID        string    `bun:"event_id,notnull"`
	PreviousTotal  float64   `bun:"previous_total,notnull"`
	NewTotal       float64   `bun:"new_total,notnull"`
	Currency       string    `bun:"currency,notnull"`
	PreviousStatus string    `bun:"previous_status,notnull"`
	NewStatus      string    `bun:"new_status,notnull"`
	Applied        bool      `bun:"applied,notnull"`
	RecordedAt     time.Time `bun:"recorded_at,nullzero,notnull,default:current_timestamp"`
}

type operatorRecord struct {
	bun.BaseModel `bun:"table:charter_operators,alias:cop"`

	ID                 string    `bun:"id,pk"`
	ExternalOperatorID string    `bun:"external_operator_id,notnull"`
	CompanyName        string    `bun:"company_name,notnull"`
	ContactEmail       string    `bun:"contact_email,notnull"`
	CreatedAt          time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt          time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type conversationRecord struct {
	bun.BaseModel `bun:"table:charter_conversations,alias:cc"`

	ID               string     `bun:"id,pk"`
	RequestID        string     `bun:"request_id,notnull"`
	ConversationType string     `bun:"conversation_type,notnull"`
	LastMessageID    string     `bun:"last_message_id,notnull"`
	LastMessageAt    *time.Time `bun:"last_message_at,nullzero"`
	MessageCount     int        `bun:"message_count,notnull"`
	CreatedAt        time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt        time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type participantRecord struct {
	bun.BaseModel `bun:"table:charter_conversation_participants,alias:ccp"`

	ID                string     `bun:"id,pk"`
	ConversationID    string     `bun:"conversation_id,notnull"`
	Role              string     `bun:"role,notnull"`
	ParticipantRef    string     `bun:"participant_ref,notnull"`
	UnreadCount       int        `bun:"unread_count,notnull"`
	LastReadMessageID string     `bun:"last_read_message_id,notnull"`
	LastReadAt        *time.Time `bun:"last_read_at,nullzero"`
	CreatedAt         time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type messageRecord struct {
	bun.BaseModel `bun:"table:charter_messages,alias:cm"`

	ID                string         `bun:"id,pk"`
	ConversationID    string         `bun:"conversation_id,notnull"`
	ExternalMessageID *string        `bun:"external_message_id"`
	SenderType        string         `bun:"sender_type,notnull"`
	SenderID          string         `bun:"sender_id,notnull"`
	Content           string         `bun:"content,notnull"`
	ContentType       string         `bun:"content_type,notnull"`
	RichPayload       map[string]any `bun:"rich_payload,type:jsonb"`
	ParentMessageID   string         `bun:"parent_message_id,notnull"`
	ThreadRootID      string         `bun:"thread_root_id,notnull"`
	SentAt            time.Time      `bun:"sent_at,notnull"`
	CreatedAt         time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type workflowStateRecord struct {
	bun.BaseModel `bun:"table:charter_workflow_states,alias:cws"`

	RequestID     string    `bun:"request_id,pk"`
	CurrentState  string    `bun:"current_state,notnull"`
	PreviousState string    `bun:"previous_state,notnull"`
	Source        string    `bun:"source,notnull"`
	AgentID       string    `bun:"agent_id,notnull"`
	EnteredAt     time.Time `bun:"entered_at,notnull"`
	UpdatedAt     time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type workflowHistoryRecord struct {
	bun.BaseModel `bun:"table:charter_workflow_history,alias:cwh"`

	ID              string    `bun:"id,pk"`
	RequestID       string    `bun:"request_id,notnull"`
	FromState       string    `bun:"from_state,notnull"`
	ToState         string    `bun:"to_state,notnull"`
	Source          string    `bun:"source,notnull"`
	AgentID         string    `bun:"agent_id,notnull"`
	EventID         string    `bun:"event_id,notnull"`
	Reason          string    `bun:"reason,notnull"`
	StateDurationMS int64     `bun:"state_duration_ms,notnull"`
	CreatedAt       time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func (r *webhookEventRecord) toDomain() core.WebhookEvent {
	if r == nil {
		return core.WebhookEvent{}
	}
	event := core.WebhookEvent{
		ID:              r.ID,
		Source:          r.Source,
		ExternalEventID: r.ExternalEventID,
		Kind:            r.Kind,
		APIVersion:      r.APIVersion,
		Refs: core.CorrelationRefs{
			TripID:  r.TripID,
			RFQID:   r.RFQID,
			QuoteID: r.ExternalQuoteID,
		},
		Status:      core.EventStatus(r.Status),
		RetryCount:  r.RetryCount,
		MaxRetries:  r.MaxRetries,
		NextRetryAt: utcPtr(r.NextRetryAt),
		ClaimedAt:   utcPtr(r.ClaimedAt),
		ClaimToken:  r.ClaimToken,
		Linked: core.LinkedIDs{
			RequestID:      r.RequestID,
			QuoteID:        r.QuoteID,
			OperatorID:     r.OperatorID,
			ConversationID: r.ConversationID,
			MessageID:      r.MessageID,
		},
		ParsedData:       r.ParsedData,
		ErrorCode:        r.ErrorCode,
		ErrorMessage:     r.ErrorMessage,
		ErrorStack:       r.ErrorStack,
		SignatureVersion: r.SignatureVersion,
		RawPayload:       append([]byte(nil), r.RawPayload...),
		ProcessedAt:      utcPtr(r.ProcessedAt),
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
	}
	if r.OccurredAt != nil {
		event.OccurredAt = r.OccurredAt.UTC()
	}
	return event
}

func newWebhookEventRecord(id string, in core.RecordEventInput, now time.Time) *webhookEventRecord {
	record := &webhookEventRecord{
		ID:               id,
		Source:           in.Source,
		ExternalEventID:  in.ExternalEventID,
		Kind:             in.Kind,
		APIVersion:       in.APIVersion,
		TripID:           in.Refs.TripID,
		RFQID:            in.Refs.RFQID,
		ExternalQuoteID:  in.Refs.QuoteID,
		Status:           string(core.EventStatusPending),
		MaxRetries:       in.MaxRetries,
		SignatureVersion: in.SignatureVersion,
		RawPayload:       append([]byte(nil), in.RawPayload...),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if !in.OccurredAt.IsZero() {
		occurred := in.OccurredAt.UTC()
		record.OccurredAt = &occurred
	}
	return record
}

func (r *requestRecord) toDomain() core.Request {
	if r == nil {
		return core.Request{}
	}
	return core.Request{
		ID:                 r.ID,
		AgentID:            r.AgentID,
		TripID:             r.TripID,
		RFQID:              r.RFQID,
		Status:             core.RequestStatus(r.Status),
		OperatorsContacted: r.OperatorsContacted,
		QuotesExpected:     r.QuotesExpected,
		QuotesReceived:     r.QuotesReceived,
		CreatedAt:          r.CreatedAt.UTC(),
		UpdatedAt:          r.UpdatedAt.UTC(),
	}
}

func (r *quoteRecord) toDomain() core.Quote {
	if r == nil {
		return core.Quote{}
	}
	return core.Quote{
		ID:              r.ID,
		RequestID:       r.RequestID,
		OperatorID:      r.OperatorID,
		ExternalQuoteID: r.ExternalQuoteID,
		Price: core.PriceBreakdown{
			Currency:  r.Currency,
			BasePrice: r.BasePrice,
			Taxes:     r.Taxes,
			Fees:      r.Fees,
			Total:     r.Total,
		},
		ValidFrom:       utcPtr(r.ValidFrom),
		ValidUntil:      utcPtr(r.ValidUntil),
		Status:          core.QuoteStatus(r.Status),
		AircraftType:    r.AircraftType,
		AircraftTail:    r.AircraftTail,
		Notes:           r.Notes,
		SourceUpdatedAt: r.SourceUpdatedAt.UTC(),
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
}

func quoteRecordFromDomain(quote core.Quote) *quoteRecord {
	return &quoteRecord{
		ID:              quote.ID,
		RequestID:       quote.RequestID,
		OperatorID:      quote.OperatorID,
		ExternalQuoteID: quote.ExternalQuoteID,
		Currency:        quote.Price.Currency,
		BasePrice:       quote.Price.BasePrice,
		Taxes:           quote.Price.Taxes,
		Fees:            quote.Price.Fees,
		Total:           quote.Price.Total,
		ValidFrom:       utcPtr(quote.ValidFrom),
		ValidUntil:      utcPtr(quote.ValidUntil),
		Status:          string(quote.Status),
		AircraftType:    quote.AircraftType,
		AircraftTail:    quote.AircraftTail,
		Notes:           quote.Notes,
		SourceUpdatedAt: quote.SourceUpdatedAt.UTC(),
		CreatedAt:       quote.CreatedAt.UTC(),
		UpdatedAt:       quote.UpdatedAt.UTC(),
	}
}

func (r *quoteRevisionRecord) toDomain() core.QuoteRevision {
	if r == nil {
		return core.QuoteRevision{}
	}
	return core.QuoteRevision{
		ID:             r.ID,
		QuoteID:        r.QuoteID,
		EventID:        r.EventID,
		PreviousTotal:  r.PreviousTotal,
		NewTotal:       r.NewTotal,
		Currency:       r.Currency,
		PreviousStatus: core.QuoteStatus(r.PreviousStatus),
		NewStatus:      core.QuoteStatus(r.NewStatus),
		Applied:        r.Applied,
		RecordedAt:     r.RecordedAt.UTC(),
	}
}

func (r *operatorRecord) toDomain() core.OperatorProfile {
	if r == nil {
		return core.OperatorProfile{}
	}
	return core.OperatorProfile{
		ID:                 r.ID,
		ExternalOperatorID: r.ExternalOperatorID,
		CompanyName:        r.CompanyName,
		ContactEmail:       r.ContactEmail,
		CreatedAt:          r.CreatedAt.UTC(),
		UpdatedAt:          r.UpdatedAt.UTC(),
	}
}

func (r *conversationRecord) toDomain() core.Conversation {
	if r == nil {
		return core.Conversation{}
	}
	return core.Conversation{
		ID:            r.ID,
		RequestID:     r.RequestID,
		Type:          core.ConversationType(r.ConversationType),
		LastMessageID: r.LastMessageID,
		LastMessageAt: utcPtr(r.LastMessageAt),
		MessageCount:  r.MessageCount,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
}

func (r *participantRecord) toDomain() core.ConversationParticipant {
	if r == nil {
		return core.ConversationParticipant{}
	}
	return core.ConversationParticipant{
		ID:                r.ID,
		ConversationID:    r.ConversationID,
		Role:              core.SenderKind(r.Role),
		ParticipantRef:    r.ParticipantRef,
		UnreadCount:       r.UnreadCount,
		LastReadMessageID: r.LastReadMessageID,
		LastReadAt:        utcPtr(r.LastReadAt),
		CreatedAt:         r.CreatedAt.UTC(),
	}
}

func (r *messageRecord) toDomain() (core.Message, error) {
	if r == nil {
		return core.Message{}, nil
	}
	sender, err := core.SenderFrom(r.SenderType, r.SenderID)
	if err != nil {
		return core.Message{}, err
	}
	message := core.Message{
		ID:              r.ID,
		ConversationID:  r.ConversationID,
		Sender:          sender,
		Content:         r.Content,
		ContentType:     core.ContentType(r.ContentType),
		RichPayload:     r.RichPayload,
		ParentMessageID: r.ParentMessageID,
		ThreadRootID:    r.ThreadRootID,
		SentAt:          r.SentAt.UTC(),
		CreatedAt:       r.CreatedAt.UTC(),
	}
	if r.ExternalMessageID != nil {
		message.ExternalMessageID = *r.ExternalMessageID
	}
	return message, nil
}

func (r *workflowStateRecord) toDomain() core.WorkflowState {
	if r == nil {
		return core.WorkflowState{}
	}
	return core.WorkflowState{
		RequestID:     r.RequestID,
		CurrentState:  core.RequestStatus(r.CurrentState),
		PreviousState: core.RequestStatus(r.PreviousState),
		Source:        r.Source,
		AgentID:       r.AgentID,
		EnteredAt:     r.EnteredAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
}

func (r *workflowHistoryRecord) toDomain() core.WorkflowHistory {
	if r == nil {
		return core.WorkflowHistory{}
	}
	return core.WorkflowHistory{
		ID:              r.ID,
		RequestID:       r.RequestID,
		FromState:       core.RequestStatus(r.FromState),
		ToState:         core.RequestStatus(r.ToState),
		Source:          r.Source,
		AgentID:         r.AgentID,
		EventID:         r.EventID,
		Reason:          r.Reason,
		StateDurationMS: r.StateDurationMS,
		CreatedAt:       r.CreatedAt.UTC(),
	}
}

func utcPtr(value *time.Time) *time.Time {
	if value == nil || value.IsZero() {
		return nil
	}
	out := value.UTC()
	return &out
}
