package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-charter-sync/core"
)

// Transition sources recorded in history.
const (
	SourceWebhook = "webhook"
	SourceAgent   = "agent"
	SourceSystem  = "system"
)

type TransitionInput struct {
	RequestID string
	To        core.RequestStatus
	Source    string
	AgentID   string
	EventID   string
	Reason    string
}

type TransitionResult struct {
	Request core.Request
	From    core.RequestStatus
	To      core.RequestStatus
	Changed bool
	History *core.WorkflowHistory
}

// Engine applies request lifecycle transitions. Illegal transitions are
// rejected without mutating anything.
type Engine struct {
	requests core.RequestStore
	store    core.WorkflowStore
	observer *core.Observer
	clock    core.Clock
}

type Option func(*Engine)

func WithObserver(observer *core.Observer) Option {
	return func(e *Engine) {
		if observer != nil {
			e.observer = observer
		}
	}
}

func WithClock(clock core.Clock) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

func NewEngine(requests core.RequestStore, store core.WorkflowStore, opts ...Option) *Engine {
	engine := &Engine{
		requests: requests,
		store:    store,
		observer: core.NewObserver("charter", nil, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(engine)
		}
	}
	return engine
}

func (e *Engine) Transition(ctx context.Context, in TransitionInput) (result TransitionResult, err error) {
	if e == nil || e.requests == nil || e.store == nil {
		return TransitionResult{}, fmt.Errorf("workflow: engine requires request and workflow stores")
	}
	startedAt := time.Now()
	fields := map[string]any{
		"request_id": in.RequestID,
		"to":         string(in.To),
		"source":     in.Source,
		"event_id":   in.EventID,
	}
	defer func() {
		if result.From != "" {
			fields["from"] = string(result.From)
		}
		fields["outcome"] = transitionOutcome(result, err)
		e.observer.ObserveOperation(ctx, startedAt, core.OperationTransition, err, fields)
	}()

	requestID := strings.TrimSpace(in.RequestID)
	if requestID == "" {
		return TransitionResult{}, core.BadInputError("workflow: request id is required", nil)
	}
	if !in.To.Valid() {
		return TransitionResult{}, core.BadInputError(
			fmt.Sprintf("workflow: unknown target state %q", in.To),
			map[string]any{"to": string(in.To)},
		)
	}

	request, err := e.requests.Get(ctx, requestID)
	if err != nil {
		return TransitionResult{}, err
	}
	result = TransitionResult{Request: request, From: request.Status, To: in.To}
	if request.Status == in.To {
		return result, nil
	}
	if !CanTransition(request.Status, in.To) {
		e.observer.Warn(ctx, "illegal request transition rejected", map[string]any{
			"request_id": requestID,
			"from":       string(request.Status),
			"to":         string(in.To),
			"allowed":    AllowedTargets(request.Status),
			"event_id":   in.EventID,
		})
		return result, core.IllegalTransitionError(requestID, request.Status, in.To)
	}

	source := strings.TrimSpace(in.Source)
	if source == "" {
		source = SourceSystem
	}
	history, err := e.store.ApplyTransition(ctx, core.TransitionRecord{
		RequestID: requestID,
		From:      request.Status,
		To:        in.To,
		Source:    source,
		AgentID:   strings.TrimSpace(in.AgentID),
		EventID:   strings.TrimSpace(in.EventID),
		Reason:    strings.TrimSpace(in.Reason),
		At:        e.clock.Now(),
	})
	if err != nil {
		return result, err
	}
	request.Status = in.To
	request.UpdatedAt = history.CreatedAt
	result.Request = request
	result.Changed = true
	result.History = &history
	return result, nil
}

func transitionOutcome(result TransitionResult, err error) string {
	switch {
	case err != nil && core.ErrorTextCode(err) == core.ErrorIllegalTransition:
		return "rejected"
	case err != nil:
		return "error"
	case result.Changed:
		return "applied"
	default:
		return "noop"
	}
}
