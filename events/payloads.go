package events

import (
	"context"
	"time"

	"github.com/goliatone/go-charter-sync/core"
)

// External event kinds published by the marketplace.
const (
	KindTripRequestSellerResponse = "TripRequestSellerResponse"
	KindTripChatSeller            = "TripChatSeller"
	KindTripChatInternal          = "TripChatInternal"
	KindTripRequestMine           = "TripRequestMine"
	KindTripRequestBuyer          = "TripRequestBuyer"
	KindEmptyLegCreatedMine       = "EmptyLegCreatedMine"
	KindEmptyLegUpdatedMine       = "EmptyLegUpdatedMine"
	KindEmptyLegDeletedMine       = "EmptyLegDeletedMine"
	KindQuotes                    = "Quotes"
	KindQuotedTrips               = "QuotedTrips"
)

// CanonicalEvent is the normalized, kind-independent view of one webhook.
type CanonicalEvent struct {
	EventID     string
	Kind        string
	APIVersion  string
	OccurredAt  time.Time
	TripRef     string
	RequestRef  string
	OperatorRef string
	QuoteRef    string
	MessageRef  string
	Payload     Payload
}

// Result is what a visitor reports back for one event.
type Result struct {
	Linked     core.LinkedIDs
	Details    map[string]any
	Skipped    bool
	SkipReason string
}

// PayloadVisitor handles every payload variant.
type PayloadVisitor interface {
	VisitQuote(ctx context.Context, event CanonicalEvent, payload QuotePayload) (Result, error)
	VisitQuoteList(ctx context.Context, event CanonicalEvent, payload QuoteListPayload) (Result, error)
	VisitQuotedTrips(ctx context.Context, event CanonicalEvent, payload QuotedTripsPayload) (Result, error)
	VisitMessage(ctx context.Context, event CanonicalEvent, payload MessagePayload) (Result, error)
	VisitStatus(ctx context.Context, event CanonicalEvent, payload StatusPayload) (Result, error)
	VisitEmptyLeg(ctx context.Context, event CanonicalEvent, payload EmptyLegPayload) (Result, error)
	VisitSkipped(ctx context.Context, event CanonicalEvent, payload SkippedPayload) (Result, error)
}

// Payload is the sealed set of event variants.
type Payload interface {
	Accept(ctx context.Context, event CanonicalEvent, visitor PayloadVisitor) (Result, error)
	sealed()
}

// Dispatch runs the visitor case matching the event payload.
func Dispatch(ctx context.Context, event CanonicalEvent, visitor PayloadVisitor) (Result, error) {
	if event.Payload == nil {
		return Result{}, core.MalformedPayloadError("event payload is missing", map[string]any{"event_id": event.EventID})
	}
	return event.Payload.Accept(ctx, event, visitor)
}

type OperatorDetails struct {
	ExternalID   string
	CompanyName  string
	ContactEmail string
}

func (o OperatorDetails) UpsertInput() core.UpsertOperatorInput {
	return core.UpsertOperatorInput{
		ExternalOperatorID: o.ExternalID,
		CompanyName:        o.CompanyName,
		ContactEmail:       o.ContactEmail,
	}
}

type QuoteDetails struct {
	ExternalQuoteID string
	Status          core.QuoteStatus
	Price           core.PriceBreakdown
	ValidFrom       *time.Time
	ValidUntil      *time.Time
	AircraftType    string
	AircraftTail    string
	Notes           string
	SourceUpdatedAt time.Time
}

type QuotePayload struct {
	Quote    QuoteDetails
	Operator OperatorDetails
}

func (p QuotePayload) Accept(ctx context.Context, event CanonicalEvent, visitor PayloadVisitor) (Result, error) {
	return visitor.VisitQuote(ctx, event, p)
}

func (QuotePayload) sealed() {}

type QuoteListPayload struct {
	Quotes []QuotePayload
}

func (p QuoteListPayload) Accept(ctx context.Context, event CanonicalEvent, visitor PayloadVisitor) (Result, error) {
	return visitor.VisitQuoteList(ctx, event, p)
}

func (QuoteListPayload) sealed() {}

type QuotedTripsPayload struct {
	QuotesReceived int
}

func (p QuotedTripsPayload) Accept(ctx context.Context, event CanonicalEvent, visitor PayloadVisitor) (Result, error) {
	return visitor.VisitQuotedTrips(ctx, event, p)
}

func (QuotedTripsPayload) sealed() {}

type MessagePayload struct {
	ConversationType        core.ConversationType
	ExternalMessageID       string
	Sender                  core.Sender
	Operator                *OperatorDetails
	Content                 string
	RichPayload             map[string]any
	ParentExternalMessageID string
	SentAt                  time.Time
}

func (p MessagePayload) Accept(ctx context.Context, event CanonicalEvent, visitor PayloadVisitor) (Result, error) {
	return visitor.VisitMessage(ctx, event, p)
}

func (MessagePayload) sealed() {}

// StatusPayload carries an external trip status. Mapped is false when the
// status has no request lifecycle equivalent.
type StatusPayload struct {
	ExternalStatus string
	Target         core.RequestStatus
	Mapped         bool
	Reason         string
}

func (p StatusPayload) Accept(ctx context.Context, event CanonicalEvent, visitor PayloadVisitor) (Result, error) {
	return visitor.VisitStatus(ctx, event, p)
}

func (StatusPayload) sealed() {}

type EmptyLegAction string

const (
	EmptyLegCreated EmptyLegAction = "created"
	EmptyLegUpdated EmptyLegAction = "updated"
	EmptyLegDeleted EmptyLegAction = "deleted"
)

type EmptyLegPayload struct {
	Action           EmptyLegAction
	ExternalID       string
	DepartureAirport string
	ArrivalAirport   string
	DepartureAt      *time.Time
	AircraftType     string
	Price            core.PriceBreakdown
}

func (p EmptyLegPayload) Accept(ctx context.Context, event CanonicalEvent, visitor PayloadVisitor) (Result, error) {
	return visitor.VisitEmptyLeg(ctx, event, p)
}

func (EmptyLegPayload) sealed() {}

// SkippedPayload marks a well-formed event of a kind nothing handles.
type SkippedPayload struct {
	ExternalKind string
	Reason       string
}

func (p SkippedPayload) Accept(ctx context.Context, event CanonicalEvent, visitor PayloadVisitor) (Result, error) {
	return visitor.VisitSkipped(ctx, event, p)
}

func (SkippedPayload) sealed() {}
