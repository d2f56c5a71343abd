// Package reconcile applies canonical events to requests, quotes, operators
// and conversation threads.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goliatone/go-charter-sync/core"
	"github.com/goliatone/go-charter-sync/events"
	"github.com/goliatone/go-charter-sync/workflow"
)

// Transitioner is the part of the workflow engine status events need.
type Transitioner interface {
	Transition(ctx context.Context, in workflow.TransitionInput) (workflow.TransitionResult, error)
}

// Reconciler is the payload visitor that writes domain state. Every write is
// idempotent so a replayed or redelivered event converges on the same state.
type Reconciler struct {
	requests      core.RequestStore
	quotes        core.QuoteStore
	operators     core.OperatorStore
	conversations core.ConversationStore
	engine        Transitioner
	observer      *core.Observer
}

type Option func(*Reconciler)

// WithOperatorStore replaces the provider's operator store, typically with a
// cached one.
func WithOperatorStore(store core.OperatorStore) Option {
	return func(r *Reconciler) {
		if store != nil {
			r.operators = store
		}
	}
}

func WithObserver(observer *core.Observer) Option {
	return func(r *Reconciler) {
		if observer != nil {
			r.observer = observer
		}
	}
}

func New(stores core.StoreProvider, engine Transitioner, opts ...Option) (*Reconciler, error) {
	if stores == nil {
		return nil, fmt.Errorf("reconcile: store provider is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("reconcile: workflow engine is required")
	}
	r := &Reconciler{
		requests:      stores.RequestStore(),
		quotes:        stores.QuoteStore(),
		operators:     stores.OperatorStore(),
		conversations: stores.ConversationStore(),
		engine:        engine,
		observer:      core.NewObserver("charter", nil, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Reconcile dispatches event to the matching visitor case.
func (r *Reconciler) Reconcile(ctx context.Context, event events.CanonicalEvent) (events.Result, error) {
	return events.Dispatch(ctx, event, r)
}

func (r *Reconciler) resolveRequest(ctx context.Context, event events.CanonicalEvent) (core.Request, error) {
	request, err := r.requests.FindByTripRef(ctx, event.TripRef, event.RequestRef)
	if err == nil {
		return request, nil
	}
	if errors.Is(err, core.ErrNotFound) {
		ref := event.TripRef
		if ref == "" {
			ref = event.RequestRef
		}
		return core.Request{}, core.UnresolvedReferenceError("request", ref, map[string]any{
			"trip_id":  event.TripRef,
			"rfq_id":   event.RequestRef,
			"event_id": event.EventID,
		})
	}
	return core.Request{}, core.TransientStoreError(err, "resolve request")
}

func (r *Reconciler) upsertOperator(ctx context.Context, details events.OperatorDetails) (core.OperatorProfile, error) {
	if strings.TrimSpace(details.ExternalID) == "" {
		return core.OperatorProfile{}, core.MalformedPayloadError("operator id is required", nil)
	}
	profile, err := r.operators.Upsert(ctx, details.UpsertInput())
	if err != nil {
		return core.OperatorProfile{}, storeError(err, "upsert operator")
	}
	return profile, nil
}

func (r *Reconciler) VisitQuote(ctx context.Context, event events.CanonicalEvent, payload events.QuotePayload) (events.Result, error) {
	request, err := r.resolveRequest(ctx, event)
	if err != nil {
		return events.Result{}, err
	}
	outcome, err := r.reconcileQuote(ctx, event, request, payload)
	if err != nil {
		return events.Result{}, err
	}
	return events.Result{
		Linked: core.LinkedIDs{
			RequestID:  request.ID,
			QuoteID:    outcome.quoteID,
			OperatorID: outcome.operatorID,
		},
		Details: map[string]any{
			"quote_update": outcome.update,
			"total":        payload.Quote.Price.Total,
			"currency":     payload.Quote.Price.Currency,
		},
	}, nil
}

type quoteOutcome struct {
	quoteID    string
	operatorID string
	update     string
}

func (r *Reconciler) reconcileQuote(
	ctx context.Context,
	event events.CanonicalEvent,
	request core.Request,
	payload events.QuotePayload,
) (quoteOutcome, error) {
	operator, err := r.upsertOperator(ctx, payload.Operator)
	if err != nil {
		return quoteOutcome{}, err
	}
	quote := payload.Quote
	result, err := r.quotes.Upsert(ctx, core.UpsertQuoteInput{
		RequestID:       request.ID,
		OperatorID:      operator.ID,
		ExternalQuoteID: quote.ExternalQuoteID,
		EventID:         event.EventID,
		Price:           quote.Price,
		ValidFrom:       quote.ValidFrom,
		ValidUntil:      quote.ValidUntil,
		Status:          quote.Status,
		AircraftType:    quote.AircraftType,
		AircraftTail:    quote.AircraftTail,
		Notes:           quote.Notes,
		SourceUpdatedAt: quote.SourceUpdatedAt,
	})
	if err != nil {
		return quoteOutcome{}, storeError(err, "upsert quote")
	}
	outcome := quoteOutcome{quoteID: result.Quote.ID, operatorID: operator.ID, update: quoteUpdateLabel(result)}
	if outcome.update == "stale" {
		r.observer.Warn(ctx, "stale quote update recorded without applying", map[string]any{
			"quote_id":   result.Quote.ID,
			"event_id":   event.EventID,
			"event_kind": event.Kind,
		})
	}
	return outcome, nil
}

func quoteUpdateLabel(result core.UpsertQuoteResult) string {
	switch {
	case result.Created:
		return "created"
	case result.Revision == nil:
		return "unchanged"
	case result.Revision.Applied:
		return "applied"
	default:
		return "stale"
	}
}

func (r *Reconciler) VisitQuoteList(ctx context.Context, event events.CanonicalEvent, payload events.QuoteListPayload) (events.Result, error) {
	request, err := r.resolveRequest(ctx, event)
	if err != nil {
		return events.Result{}, err
	}
	counts := map[string]int{}
	linked := core.LinkedIDs{RequestID: request.ID}
	for _, quote := range payload.Quotes {
		outcome, err := r.reconcileQuote(ctx, event, request, quote)
		if err != nil {
			return events.Result{}, err
		}
		counts[outcome.update]++
		linked.QuoteID = outcome.quoteID
		linked.OperatorID = outcome.operatorID
	}
	if len(payload.Quotes) != 1 {
		linked.QuoteID = ""
		linked.OperatorID = ""
	}
	details := map[string]any{"quotes": len(payload.Quotes)}
	for label, count := range counts {
		details["quotes_"+label] = count
	}
	return events.Result{Linked: linked, Details: details}, nil
}

func (r *Reconciler) VisitQuotedTrips(ctx context.Context, event events.CanonicalEvent, payload events.QuotedTripsPayload) (events.Result, error) {
	request, err := r.resolveRequest(ctx, event)
	if err != nil {
		return events.Result{}, err
	}
	updated, err := r.requests.RaiseQuotesReceived(ctx, request.ID, payload.QuotesReceived)
	if err != nil {
		return events.Result{}, storeError(err, "raise quotes received")
	}
	return events.Result{
		Linked: core.LinkedIDs{RequestID: request.ID},
		Details: map[string]any{
			"reported_quotes": payload.QuotesReceived,
			"quotes_received": updated.QuotesReceived,
		},
	}, nil
}

func (r *Reconciler) VisitMessage(ctx context.Context, event events.CanonicalEvent, payload events.MessagePayload) (events.Result, error) {
	request, err := r.resolveRequest(ctx, event)
	if err != nil {
		return events.Result{}, err
	}
	linked := core.LinkedIDs{RequestID: request.ID}
	if payload.Operator != nil {
		operator, err := r.upsertOperator(ctx, *payload.Operator)
		if err != nil {
			return events.Result{}, err
		}
		linked.OperatorID = operator.ID
	}

	conversation, err := r.conversations.GetOrCreate(ctx, request.ID, payload.ConversationType)
	if err != nil {
		return events.Result{}, storeError(err, "get or create conversation")
	}
	linked.ConversationID = conversation.ID
	for _, participant := range participantsFor(request, payload.Sender) {
		if _, err := r.conversations.EnsureParticipant(ctx, conversation.ID, participant.Kind(), participant.Ref()); err != nil {
			return events.Result{}, storeError(err, "ensure participant")
		}
	}

	appended, err := r.conversations.AppendMessage(ctx, core.AppendMessageInput{
		ConversationID:          conversation.ID,
		ExternalMessageID:       payload.ExternalMessageID,
		Sender:                  payload.Sender,
		Content:                 payload.Content,
		RichPayload:             payload.RichPayload,
		ParentExternalMessageID: payload.ParentExternalMessageID,
		SentAt:                  payload.SentAt,
	})
	if err != nil {
		return events.Result{}, storeError(err, "append message")
	}
	linked.MessageID = appended.Message.ID
	return events.Result{
		Linked: linked,
		Details: map[string]any{
			"conversation_type": string(payload.ConversationType),
			"sender":            payload.Sender.String(),
			"duplicate":         !appended.Created,
		},
	}, nil
}

// participantsFor lists the members every thread of request carries: the
// owning agent, the assistant and whoever sent the message.
func participantsFor(request core.Request, sender core.Sender) []core.Sender {
	out := make([]core.Sender, 0, 3)
	if agentID := strings.TrimSpace(request.AgentID); agentID != "" {
		out = append(out, core.AgentSender(agentID))
	}
	out = append(out, core.AssistantSender())
	for _, existing := range out {
		if existing == sender {
			return out
		}
	}
	return append(out, sender)
}

func (r *Reconciler) VisitStatus(ctx context.Context, event events.CanonicalEvent, payload events.StatusPayload) (events.Result, error) {
	if !payload.Mapped {
		return events.Result{
			Skipped:    true,
			SkipReason: fmt.Sprintf("external status %q has no request lifecycle equivalent", payload.ExternalStatus),
			Details:    map[string]any{"external_status": payload.ExternalStatus},
		}, nil
	}
	request, err := r.resolveRequest(ctx, event)
	if err != nil {
		return events.Result{}, err
	}
	transition, err := r.engine.Transition(ctx, workflow.TransitionInput{
		RequestID: request.ID,
		To:        payload.Target,
		Source:    workflow.SourceWebhook,
		EventID:   event.EventID,
		Reason:    firstNonEmpty(payload.Reason, "external status "+payload.ExternalStatus),
	})
	if err != nil {
		if errors.Is(err, core.ErrStatusConflict) {
			return events.Result{}, core.TransientStoreError(err, "request status changed concurrently")
		}
		return events.Result{}, err
	}
	return events.Result{
		Linked: core.LinkedIDs{RequestID: request.ID},
		Details: map[string]any{
			"external_status": payload.ExternalStatus,
			"from":            string(transition.From),
			"to":              string(transition.To),
			"changed":         transition.Changed,
		},
	}, nil
}

// VisitEmptyLeg records the normalized leg on the event only; no domain
// entity tracks empty legs.
func (r *Reconciler) VisitEmptyLeg(_ context.Context, _ events.CanonicalEvent, payload events.EmptyLegPayload) (events.Result, error) {
	details := map[string]any{
		"empty_leg_action":  string(payload.Action),
		"empty_leg_id":      payload.ExternalID,
		"departure_airport": payload.DepartureAirport,
		"arrival_airport":   payload.ArrivalAirport,
		"aircraft_type":     payload.AircraftType,
		"total":             payload.Price.Total,
		"currency":          payload.Price.Currency,
	}
	if payload.DepartureAt != nil {
		details["departure_at"] = payload.DepartureAt.UTC()
	}
	return events.Result{Details: details}, nil
}

func (r *Reconciler) VisitSkipped(_ context.Context, _ events.CanonicalEvent, payload events.SkippedPayload) (events.Result, error) {
	return events.Result{
		Skipped:    true,
		SkipReason: payload.Reason,
		Details:    map[string]any{"external_kind": payload.ExternalKind},
	}, nil
}

// storeError keeps rich errors and marks anything else as transient.
func storeError(err error, message string) error {
	if core.ErrorTextCode(err) != core.ErrorTransientStore {
		return err
	}
	return core.TransientStoreError(err, message)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

var _ events.PayloadVisitor = (*Reconciler)(nil)
