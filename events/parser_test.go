package events

import (
	"context"
	"strings"
	"testing"

	"github.com/goliatone/go-charter-sync/core"
)

func newTestParser(t *testing.T) *Parser {
	t.Helper()
	parser, err := NewParser()
	if err != nil {
		t.Fatalf("new parser: %v", err)
	}
	return parser
}

const quoteEvent = `{
  "event": "TripRequestSellerResponse",
  "eventId": "evt_quote_1",
  "timestamp": "2026-03-01T10:00:00Z",
  "apiVersion": "v1",
  "data": {
    "tripId": "trip_100",
    "rfqId": "rfq_100",
    "quote": {
      "id": "q_1",
      "status": "received",
      "price": {"currency": "usd", "base": 38000, "taxes": 2500, "fees": 1500},
      "aircraft": {"type": "Citation XLS", "tailNumber": "N123CX"},
      "validUntil": "2026-03-05T00:00:00Z"
    },
    "seller": {"id": "op_9", "companyName": "Sky Charter", "email": "ops@sky.example"}
  }
}`

func TestParser_QuoteEvent(t *testing.T) {
	event, err := newTestParser(t).Parse([]byte(quoteEvent))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Kind != KindTripRequestSellerResponse || event.EventID != "evt_quote_1" {
		t.Fatalf("unexpected envelope fields %#v", event)
	}
	if event.TripRef != "trip_100" || event.RequestRef != "rfq_100" || event.QuoteRef != "q_1" || event.OperatorRef != "op_9" {
		t.Fatalf("unexpected refs %#v", event)
	}
	payload, ok := event.Payload.(QuotePayload)
	if !ok {
		t.Fatalf("expected quote payload, got %T", event.Payload)
	}
	if payload.Quote.Price.Total != 42000 || payload.Quote.Price.Currency != "USD" {
		t.Fatalf("expected derived total 42000 USD, got %#v", payload.Quote.Price)
	}
	if payload.Quote.AircraftTail != "N123CX" || payload.Quote.ValidUntil == nil {
		t.Fatalf("unexpected quote details %#v", payload.Quote)
	}
	if !payload.Quote.SourceUpdatedAt.Equal(event.OccurredAt) {
		t.Fatalf("expected source time to default to event time")
	}
	if payload.Operator.CompanyName != "Sky Charter" {
		t.Fatalf("unexpected operator %#v", payload.Operator)
	}
}

func TestParser_MissingCorrelationIsMalformed(t *testing.T) {
	raw := `{"event":"TripRequestSellerResponse","eventId":"e1","timestamp":"2026-03-01T10:00:00Z",
	  "data":{"quote":{"id":"q_1"},"seller":{"id":"op_1"}}}`
	_, err := newTestParser(t).Parse([]byte(raw))
	if err == nil {
		t.Fatalf("expected malformed error")
	}
	if core.ErrorTextCode(err) != core.ErrorMalformedPayload || core.IsRetryable(err) {
		t.Fatalf("expected permanent malformed error, got %v", err)
	}
}

func TestParser_EnvelopeSchemaFailures(t *testing.T) {
	cases := map[string]string{
		"not json":        `{"event":`,
		"missing eventId": `{"event":"Quotes","timestamp":"2026-03-01T10:00:00Z","data":{}}`,
		"data not object": `{"event":"Quotes","eventId":"e1","timestamp":"2026-03-01T10:00:00Z","data":[]}`,
		"bad timestamp":   `{"event":"Quotes","eventId":"e1","timestamp":"yesterday","data":{}}`,
	}
	parser := newTestParser(t)
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := parser.DecodeEnvelope([]byte(raw)); core.ErrorTextCode(err) != core.ErrorMalformedPayload {
				t.Fatalf("expected malformed envelope error, got %v", err)
			}
		})
	}
}

func TestParser_DataSchemaFailure(t *testing.T) {
	raw := `{"event":"TripRequestSellerResponse","eventId":"e1","timestamp":"2026-03-01T10:00:00Z",
	  "data":{"tripId":"t1","quote":{"id":"q_1","price":{"total":-5}},"seller":{"id":"op_1"}}}`
	_, err := newTestParser(t).Parse([]byte(raw))
	if core.ErrorTextCode(err) != core.ErrorMalformedPayload {
		t.Fatalf("expected schema violation to be malformed, got %v", err)
	}
}

func TestParser_SellerChatMessage(t *testing.T) {
	raw := `{"event":"TripChatSeller","eventId":"e_msg","timestamp":"2026-03-01T10:00:00Z",
	  "data":{"tripId":"t1","seller":{"id":"op_4","companyName":"Jet Ops"},
	  "message":{"id":"m_1","content":"Tail swapped to N777","sentAt":"2026-03-01T09:59:00Z"}}}`
	event, err := newTestParser(t).Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	payload := event.Payload.(MessagePayload)
	if payload.ConversationType != core.ConversationTypeOperator {
		t.Fatalf("expected operator conversation, got %q", payload.ConversationType)
	}
	if payload.Sender != core.OperatorSender("op_4") {
		t.Fatalf("expected operator sender, got %s", payload.Sender)
	}
	if payload.Operator == nil || payload.Operator.ExternalID != "op_4" {
		t.Fatalf("expected operator details, got %#v", payload.Operator)
	}
	if event.MessageRef != "m_1" || payload.SentAt.Format("15:04") != "09:59" {
		t.Fatalf("unexpected message refs %#v", payload)
	}
}

func TestParser_InternalChatMessage(t *testing.T) {
	raw := `{"event":"TripChatInternal","eventId":"e_int","timestamp":"2026-03-01T10:00:00Z",
	  "data":{"rfqId":"rfq_1","message":{"id":"m_2","content":"Client prefers midsize","parentId":"m_1",
	  "sender":{"type":"agent","id":"agent_3"}}}}`
	event, err := newTestParser(t).Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	payload := event.Payload.(MessagePayload)
	if payload.ConversationType != core.ConversationTypeInternal || payload.Sender != core.AgentSender("agent_3") {
		t.Fatalf("unexpected internal message %#v", payload)
	}
	if payload.ParentExternalMessageID != "m_1" || payload.Operator != nil {
		t.Fatalf("unexpected reply linkage %#v", payload)
	}

	operatorInternal := strings.Replace(raw, `"type":"agent"`, `"type":"operator"`, 1)
	if _, err := newTestParser(t).Parse([]byte(operatorInternal)); core.ErrorTextCode(err) != core.ErrorMalformedPayload {
		t.Fatalf("expected operator sender on internal chat to be malformed, got %v", err)
	}
}

func TestParser_StatusEvents(t *testing.T) {
	parser := newTestParser(t)
	raw := `{"event":"TripRequestMine","eventId":"e_s","timestamp":"2026-03-01T10:00:00Z",
	  "data":{"tripId":"t1","status":"Cancelled","reason":"client withdrew"}}`
	event, err := parser.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	payload := event.Payload.(StatusPayload)
	if !payload.Mapped || payload.Target != core.RequestStatusCancelled || payload.Reason != "client withdrew" {
		t.Fatalf("unexpected status payload %#v", payload)
	}

	unknown := strings.Replace(raw, "Cancelled", "teleported", 1)
	event, err = parser.Parse([]byte(unknown))
	if err != nil {
		t.Fatalf("parse unknown: %v", err)
	}
	if event.Payload.(StatusPayload).Mapped {
		t.Fatalf("expected unknown status to be unmapped")
	}
}

func TestParser_EmptyLegDoesNotRequireTrip(t *testing.T) {
	raw := `{"event":"EmptyLegDeletedMine","eventId":"e_leg","timestamp":"2026-03-01T10:00:00Z",
	  "data":{"emptyLeg":{"id":"leg_1","departureAirport":"kteb","arrivalAirport":"kpbi"}}}`
	event, err := newTestParser(t).Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	payload := event.Payload.(EmptyLegPayload)
	if payload.Action != EmptyLegDeleted || payload.DepartureAirport != "KTEB" {
		t.Fatalf("unexpected empty leg %#v", payload)
	}
}

func TestParser_QuoteListAndQuotedTrips(t *testing.T) {
	parser := newTestParser(t)
	list := `{"event":"Quotes","eventId":"e_l","timestamp":"2026-03-01T10:00:00Z",
	  "data":{"tripId":"t1","quotes":[
	    {"id":"q_1","price":{"total":10},"seller":{"id":"op_1"}},
	    {"id":"q_2","price":{"total":20},"seller":{"id":"op_2"}}]}}`
	event, err := parser.Parse([]byte(list))
	if err != nil {
		t.Fatalf("parse list: %v", err)
	}
	if quotes := event.Payload.(QuoteListPayload).Quotes; len(quotes) != 2 || quotes[1].Operator.ExternalID != "op_2" {
		t.Fatalf("unexpected quote list %#v", quotes)
	}

	trips := `{"event":"QuotedTrips","eventId":"e_t","timestamp":"2026-03-01T10:00:00Z",
	  "data":{"tripId":"t1","quotes":[{},{},{}]}}`
	event, err = parser.Parse([]byte(trips))
	if err != nil {
		t.Fatalf("parse quoted trips: %v", err)
	}
	if got := event.Payload.(QuotedTripsPayload).QuotesReceived; got != 3 {
		t.Fatalf("expected 3 quotes received, got %d", got)
	}
}

func TestParser_UnknownKindIsSkipped(t *testing.T) {
	raw := `{"event":"AircraftMaintenance","eventId":"e_u","timestamp":"2026-03-01T10:00:00Z","data":{}}`
	event, err := newTestParser(t).Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	skipped, ok := event.Payload.(SkippedPayload)
	if !ok || skipped.ExternalKind != "AircraftMaintenance" {
		t.Fatalf("expected skipped payload, got %#v", event.Payload)
	}
}

type recordingVisitor struct {
	visited []string
}

func (v *recordingVisitor) record(name string) (Result, error) {
	v.visited = append(v.visited, name)
	return Result{Details: map[string]any{"case": name}}, nil
}

func (v *recordingVisitor) VisitQuote(context.Context, CanonicalEvent, QuotePayload) (Result, error) {
	return v.record("quote")
}

func (v *recordingVisitor) VisitQuoteList(context.Context, CanonicalEvent, QuoteListPayload) (Result, error) {
	return v.record("quote_list")
}

func (v *recordingVisitor) VisitQuotedTrips(context.Context, CanonicalEvent, QuotedTripsPayload) (Result, error) {
	return v.record("quoted_trips")
}

func (v *recordingVisitor) VisitMessage(context.Context, CanonicalEvent, MessagePayload) (Result, error) {
	return v.record("message")
}

func (v *recordingVisitor) VisitStatus(context.Context, CanonicalEvent, StatusPayload) (Result, error) {
	return v.record("status")
}

func (v *recordingVisitor) VisitEmptyLeg(context.Context, CanonicalEvent, EmptyLegPayload) (Result, error) {
	return v.record("empty_leg")
}

func (v *recordingVisitor) VisitSkipped(context.Context, CanonicalEvent, SkippedPayload) (Result, error) {
	return v.record("skipped")
}

func TestDispatch_RoutesEveryVariant(t *testing.T) {
	visitor := &recordingVisitor{}
	payloads := []Payload{
		QuotePayload{},
		QuoteListPayload{},
		QuotedTripsPayload{},
		MessagePayload{},
		StatusPayload{},
		EmptyLegPayload{},
		SkippedPayload{},
	}
	for _, payload := range payloads {
		if _, err := Dispatch(context.Background(), CanonicalEvent{Payload: payload}, visitor); err != nil {
			t.Fatalf("dispatch %T: %v", payload, err)
		}
	}
	expected := []string{"quote", "quote_list", "quoted_trips", "message", "status", "empty_leg", "skipped"}
	if strings.Join(visitor.visited, ",") != strings.Join(expected, ",") {
		t.Fatalf("unexpected visit order %v", visitor.visited)
	}
	if _, err := Dispatch(context.Background(), CanonicalEvent{}, visitor); core.ErrorTextCode(err) != core.ErrorMalformedPayload {
		t.Fatalf("expected missing payload to be malformed, got %v", err)
	}
}

func TestMapExternalStatus(t *testing.T) {
	cases := map[string]core.RequestStatus{
		"Booked":            core.RequestStatusCompleted,
		"rfq-sent":          core.RequestStatusAwaitingQuotes,
		"searching_flights": core.RequestStatusSearchingFlights,
		"No Availability":   core.RequestStatusFailed,
	}
	for input, expected := range cases {
		got, ok := MapExternalStatus(input)
		if !ok || got != expected {
			t.Fatalf("expected %q -> %q, got %q ok=%v", input, expected, got, ok)
		}
	}
	if _, ok := MapExternalStatus(""); ok {
		t.Fatalf("expected empty status to be unmapped")
	}
}
