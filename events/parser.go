package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-charter-sync/core"
)

// Envelope is the outer shape shared by every webhook.
type Envelope struct {
	Event      string          `json:"event"`
	Timestamp  time.Time       `json:"timestamp"`
	EventID    string          `json:"eventId"`
	APIVersion string          `json:"apiVersion"`
	Data       json.RawMessage `json:"data"`
}

// Refs extracts the correlation identifiers carried by the data object.
func (e Envelope) Refs() core.CorrelationRefs {
	var refs wireRefs
	_ = json.Unmarshal(e.Data, &refs)
	out := core.CorrelationRefs{
		TripID: strings.TrimSpace(refs.TripID),
		RFQID:  strings.TrimSpace(refs.RFQID),
	}
	if refs.Quote != nil {
		out.QuoteID = strings.TrimSpace(refs.Quote.ID)
	}
	return out
}

type Parser struct {
	validator *SchemaValidator
}

func NewParser() (*Parser, error) {
	validator, err := NewSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &Parser{validator: validator}, nil
}

// DecodeEnvelope validates and decodes the outer envelope only.
func (p *Parser) DecodeEnvelope(raw []byte) (Envelope, error) {
	if p == nil || p.validator == nil {
		return Envelope{}, fmt.Errorf("events: parser is not initialized")
	}
	if err := p.validator.ValidateEnvelope(raw); err != nil {
		return Envelope{}, core.WrapMalformedPayload(err, "webhook envelope is invalid", nil)
	}
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Envelope{}, core.WrapMalformedPayload(err, "webhook envelope could not be decoded", nil)
	}
	envelope.Event = strings.TrimSpace(envelope.Event)
	envelope.EventID = strings.TrimSpace(envelope.EventID)
	envelope.APIVersion = strings.TrimSpace(envelope.APIVersion)
	envelope.Timestamp = envelope.Timestamp.UTC()
	return envelope, nil
}

// Parse decodes a stored raw payload into its canonical event.
func (p *Parser) Parse(raw []byte) (CanonicalEvent, error) {
	envelope, err := p.DecodeEnvelope(raw)
	if err != nil {
		return CanonicalEvent{}, err
	}
	meta := map[string]any{"event_id": envelope.EventID, "event_kind": envelope.Event}
	if err := p.validator.ValidateData(envelope.Event, envelope.Data); err != nil {
		return CanonicalEvent{}, core.WrapMalformedPayload(err, "webhook data is invalid", meta)
	}

	refs := envelope.Refs()
	event := CanonicalEvent{
		EventID:    envelope.EventID,
		Kind:       envelope.Event,
		APIVersion: envelope.APIVersion,
		OccurredAt: envelope.Timestamp,
		TripRef:    refs.TripID,
		RequestRef: refs.RFQID,
		QuoteRef:   refs.QuoteID,
	}

	if requiresTripRef(envelope.Event) && event.TripRef == "" && event.RequestRef == "" {
		return CanonicalEvent{}, core.MalformedPayloadError("trip or rfq correlation id is required", meta)
	}

	switch envelope.Event {
	case KindTripRequestSellerResponse:
		err = parseQuote(envelope, &event)
	case KindQuotes:
		err = parseQuoteList(envelope, &event)
	case KindQuotedTrips:
		err = parseQuotedTrips(envelope, &event)
	case KindTripChatSeller, KindTripChatInternal:
		err = parseMessage(envelope, &event)
	case KindTripRequestMine, KindTripRequestBuyer:
		err = parseStatus(envelope, &event)
	case KindEmptyLegCreatedMine, KindEmptyLegUpdatedMine, KindEmptyLegDeletedMine:
		err = parseEmptyLeg(envelope, &event)
	default:
		event.Payload = SkippedPayload{
			ExternalKind: envelope.Event,
			Reason:       "unsupported event kind",
		}
	}
	if err != nil {
		return CanonicalEvent{}, core.WrapMalformedPayload(err, "webhook data could not be normalized", meta)
	}
	return event, nil
}

func requiresTripRef(kind string) bool {
	switch kind {
	case KindTripRequestSellerResponse, KindQuotes, KindQuotedTrips,
		KindTripChatSeller, KindTripChatInternal,
		KindTripRequestMine, KindTripRequestBuyer:
		return true
	default:
		return false
	}
}

type wireRefs struct {
	TripID string `json:"tripId"`
	RFQID  string `json:"rfqId"`
	Quote  *struct {
		ID string `json:"id"`
	} `json:"quote"`
}

type wirePrice struct {
	Currency string  `json:"currency"`
	Base     float64 `json:"base"`
	Taxes    float64 `json:"taxes"`
	Fees     float64 `json:"fees"`
	Total    float64 `json:"total"`
}

func (p wirePrice) breakdown() core.PriceBreakdown {
	total := p.Total
	if total == 0 {
		total = p.Base + p.Taxes + p.Fees
	}
	currency := strings.ToUpper(strings.TrimSpace(p.Currency))
	if currency == "" {
		currency = "USD"
	}
	return core.PriceBreakdown{
		Currency:  currency,
		BasePrice: p.Base,
		Taxes:     p.Taxes,
		Fees:      p.Fees,
		Total:     total,
	}
}

type wireSeller struct {
	ID          string `json:"id"`
	CompanyName string `json:"companyName"`
	Email       string `json:"email"`
}

func (s wireSeller) details() OperatorDetails {
	return OperatorDetails{
		ExternalID:   strings.TrimSpace(s.ID),
		CompanyName:  strings.TrimSpace(s.CompanyName),
		ContactEmail: strings.TrimSpace(s.Email),
	}
}

type wireAircraft struct {
	Type       string `json:"type"`
	TailNumber string `json:"tailNumber"`
}

type wireQuote struct {
	ID         string       `json:"id"`
	Status     string       `json:"status"`
	Price      wirePrice    `json:"price"`
	ValidFrom  *time.Time   `json:"validFrom"`
	ValidUntil *time.Time   `json:"validUntil"`
	Aircraft   wireAircraft `json:"aircraft"`
	Notes      string       `json:"notes"`
	UpdatedAt  *time.Time   `json:"updatedAt"`
	Seller     *wireSeller  `json:"seller"`
}

func (q wireQuote) payload(fallback *wireSeller, occurredAt time.Time) (QuotePayload, error) {
	id := strings.TrimSpace(q.ID)
	if id == "" {
		return QuotePayload{}, fmt.Errorf("quote id is required")
	}
	seller := q.Seller
	if seller == nil || strings.TrimSpace(seller.ID) == "" {
		seller = fallback
	}
	if seller == nil || strings.TrimSpace(seller.ID) == "" {
		return QuotePayload{}, fmt.Errorf("quote %s seller id is required", id)
	}
	updatedAt := occurredAt
	if q.UpdatedAt != nil && !q.UpdatedAt.IsZero() {
		updatedAt = q.UpdatedAt.UTC()
	}
	return QuotePayload{
		Quote: QuoteDetails{
			ExternalQuoteID: id,
			Status:          core.NormalizeQuoteStatus(q.Status),
			Price:           q.Price.breakdown(),
			ValidFrom:       utcPtr(q.ValidFrom),
			ValidUntil:      utcPtr(q.ValidUntil),
			AircraftType:    strings.TrimSpace(q.Aircraft.Type),
			AircraftTail:    strings.TrimSpace(q.Aircraft.TailNumber),
			Notes:           strings.TrimSpace(q.Notes),
			SourceUpdatedAt: updatedAt,
		},
		Operator: seller.details(),
	}, nil
}

func parseQuote(envelope Envelope, event *CanonicalEvent) error {
	var data struct {
		Quote  wireQuote   `json:"quote"`
		Seller *wireSeller `json:"seller"`
	}
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return err
	}
	payload, err := data.Quote.payload(data.Seller, envelope.Timestamp)
	if err != nil {
		return err
	}
	event.QuoteRef = payload.Quote.ExternalQuoteID
	event.OperatorRef = payload.Operator.ExternalID
	event.Payload = payload
	return nil
}

func parseQuoteList(envelope Envelope, event *CanonicalEvent) error {
	var data struct {
		Quotes []wireQuote `json:"quotes"`
		Seller *wireSeller `json:"seller"`
	}
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return err
	}
	list := QuoteListPayload{Quotes: make([]QuotePayload, 0, len(data.Quotes))}
	for _, quote := range data.Quotes {
		payload, err := quote.payload(data.Seller, envelope.Timestamp)
		if err != nil {
			return err
		}
		list.Quotes = append(list.Quotes, payload)
	}
	event.Payload = list
	return nil
}

func parseQuotedTrips(envelope Envelope, event *CanonicalEvent) error {
	var data struct {
		QuotedCount *int              `json:"quotedCount"`
		Quotes      []json.RawMessage `json:"quotes"`
	}
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return err
	}
	count := len(data.Quotes)
	if data.QuotedCount != nil {
		count = *data.QuotedCount
	}
	if count < 0 {
		return fmt.Errorf("quoted count must not be negative")
	}
	event.Payload = QuotedTripsPayload{QuotesReceived: count}
	return nil
}

type wireSender struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type wireMessage struct {
	ID          string         `json:"id"`
	Content     string         `json:"content"`
	RichContent map[string]any `json:"richContent"`
	ParentID    string         `json:"parentId"`
	SentAt      *time.Time     `json:"sentAt"`
	Sender      *wireSender    `json:"sender"`
}

func parseMessage(envelope Envelope, event *CanonicalEvent) error {
	var data struct {
		Message wireMessage `json:"message"`
		Seller  *wireSeller `json:"seller"`
	}
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return err
	}
	message := data.Message
	payload := MessagePayload{
		ExternalMessageID:       strings.TrimSpace(message.ID),
		Content:                 strings.TrimSpace(message.Content),
		RichPayload:             message.RichContent,
		ParentExternalMessageID: strings.TrimSpace(message.ParentID),
		SentAt:                  envelope.Timestamp,
	}
	if message.SentAt != nil && !message.SentAt.IsZero() {
		payload.SentAt = message.SentAt.UTC()
	}
	if payload.ExternalMessageID == "" {
		return fmt.Errorf("message id is required")
	}

	switch envelope.Event {
	case KindTripChatSeller:
		if data.Seller == nil || strings.TrimSpace(data.Seller.ID) == "" {
			return fmt.Errorf("seller id is required")
		}
		operator := data.Seller.details()
		payload.ConversationType = core.ConversationTypeOperator
		payload.Sender = core.OperatorSender(operator.ExternalID)
		payload.Operator = &operator
		event.OperatorRef = operator.ExternalID
	default:
		if message.Sender == nil {
			return fmt.Errorf("internal message sender is required")
		}
		kind, ok := core.ParseSenderKind(message.Sender.Type)
		if !ok || kind == core.SenderKindOperator {
			return fmt.Errorf("internal message sender type %q is not allowed", message.Sender.Type)
		}
		sender, err := core.SenderFrom(string(kind), message.Sender.ID)
		if err != nil {
			return err
		}
		payload.ConversationType = core.ConversationTypeInternal
		payload.Sender = sender
	}
	if payload.Content == "" && len(payload.RichPayload) == 0 {
		return fmt.Errorf("message %s has no content", payload.ExternalMessageID)
	}
	event.MessageRef = payload.ExternalMessageID
	event.Payload = payload
	return nil
}

func parseStatus(envelope Envelope, event *CanonicalEvent) error {
	var data struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return err
	}
	target, mapped := MapExternalStatus(data.Status)
	event.Payload = StatusPayload{
		ExternalStatus: strings.TrimSpace(data.Status),
		Target:         target,
		Mapped:         mapped,
		Reason:         strings.TrimSpace(data.Reason),
	}
	return nil
}

func parseEmptyLeg(envelope Envelope, event *CanonicalEvent) error {
	var data struct {
		EmptyLeg struct {
			ID               string       `json:"id"`
			DepartureAirport string       `json:"departureAirport"`
			ArrivalAirport   string       `json:"arrivalAirport"`
			DepartureAt      *time.Time   `json:"departureDate"`
			Aircraft         wireAircraft `json:"aircraft"`
			Price            wirePrice    `json:"price"`
		} `json:"emptyLeg"`
	}
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return err
	}
	leg := data.EmptyLeg
	if strings.TrimSpace(leg.ID) == "" {
		return fmt.Errorf("empty leg id is required")
	}
	action := EmptyLegCreated
	switch envelope.Event {
	case KindEmptyLegUpdatedMine:
		action = EmptyLegUpdated
	case KindEmptyLegDeletedMine:
		action = EmptyLegDeleted
	}
	event.Payload = EmptyLegPayload{
		Action:           action,
		ExternalID:       strings.TrimSpace(leg.ID),
		DepartureAirport: strings.ToUpper(strings.TrimSpace(leg.DepartureAirport)),
		ArrivalAirport:   strings.ToUpper(strings.TrimSpace(leg.ArrivalAirport)),
		DepartureAt:      utcPtr(leg.DepartureAt),
		AircraftType:     strings.TrimSpace(leg.Aircraft.Type),
		Price:            leg.Price.breakdown(),
	}
	return nil
}

func utcPtr(value *time.Time) *time.Time {
	if value == nil || value.IsZero() {
		return nil
	}
	converted := value.UTC()
	return &converted
}
