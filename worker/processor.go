package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/goliatone/go-charter-sync/core"
	"github.com/goliatone/go-charter-sync/events"
	"github.com/goliatone/go-charter-sync/webhooks"
)

type EventParser interface {
	Parse(raw []byte) (events.CanonicalEvent, error)
}

type EventReconciler interface {
	Reconcile(ctx context.Context, event events.CanonicalEvent) (events.Result, error)
}

var nopObserver = core.NewObserver("charter", nil, nil)

// Outcome is what one Process call did with an event.
type Outcome string

const (
	OutcomeLost       Outcome = "lost"
	OutcomeCompleted  Outcome = "completed"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeRetry      Outcome = "retry"
	OutcomeDeadLetter Outcome = "dead_letter"
)

// Report describes a processed event. Decision is set only on failure.
type Report struct {
	EventID  string
	Outcome  Outcome
	Result   events.Result
	Decision *core.FailureDecision
	Cause    error
}

// Processor runs one event through claim, parse, reconcile and the terminal
// write. Failures are recorded on the event rather than returned; the returned
// error is reserved for store failures that left the event untouched.
type Processor struct {
	Claims     *webhooks.ClaimManager
	Events     core.WebhookEventStore
	Parser     EventParser
	Reconciler EventReconciler
	Observer   *core.Observer
}

func NewProcessor(
	claims *webhooks.ClaimManager,
	store core.WebhookEventStore,
	parser EventParser,
	reconciler EventReconciler,
) *Processor {
	return &Processor{
		Claims:     claims,
		Events:     store,
		Parser:     parser,
		Reconciler: reconciler,
		Observer:   core.NewObserver("charter", nil, nil),
	}
}

func (p *Processor) Process(ctx context.Context, eventID string) (report Report, err error) {
	if p == nil || p.Claims == nil || p.Events == nil || p.Parser == nil || p.Reconciler == nil {
		return Report{}, fmt.Errorf("worker: processor requires claims, events, parser and reconciler")
	}
	eventID = strings.TrimSpace(eventID)
	report.EventID = eventID
	startedAt := time.Now()
	defer func() {
		fields := map[string]any{"event_id": eventID, "outcome": string(report.Outcome)}
		if report.Cause != nil {
			fields["error_code"] = core.ErrorTextCode(report.Cause)
		}
		p.observer().ObserveOperation(ctx, startedAt, core.OperationProcess, err, fields)
	}()

	claimed, err := p.Claims.Claim(ctx, eventID)
	if err != nil {
		return report, err
	}
	if !claimed {
		report.Outcome = OutcomeLost
		return report, nil
	}

	event, err := p.Events.Get(ctx, eventID)
	if err != nil {
		return p.fail(ctx, report, core.TransientStoreError(err, "load claimed event"), "worker.load")
	}

	result, stage, handleErr := p.handle(ctx, event)
	if handleErr != nil {
		return p.fail(ctx, report, handleErr, stage)
	}
	report.Result = result
	if result.Skipped {
		report.Outcome = OutcomeSkipped
		return report, p.Claims.Skip(ctx, eventID, result.SkipReason, result.Details)
	}
	report.Outcome = OutcomeCompleted
	return report, p.Claims.Complete(ctx, eventID, result.Linked, result.Details)
}

func (p *Processor) handle(ctx context.Context, event core.WebhookEvent) (result events.Result, stage string, err error) {
	stage = "worker.parse"
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("worker: panic while processing event: %v", recovered)
			stage = stage + "\n" + string(debug.Stack())
		}
	}()
	canonical, err := p.Parser.Parse(event.RawPayload)
	if err != nil {
		return events.Result{}, stage, err
	}
	stage = "reconcile." + canonical.Kind
	result, err = p.Reconciler.Reconcile(ctx, canonical)
	return result, stage, err
}

func (p *Processor) fail(ctx context.Context, report Report, cause error, stage string) (Report, error) {
	report.Cause = cause
	decision, err := p.Claims.Fail(ctx, report.EventID, cause, failureStack(cause, stage))
	if err != nil {
		if errors.Is(err, core.ErrEventNotProcessing) {
			report.Outcome = OutcomeLost
			return report, nil
		}
		return report, err
	}
	report.Decision = &decision
	report.Outcome = OutcomeRetry
	if decision.DeadLetter() {
		report.Outcome = OutcomeDeadLetter
	}
	return report, nil
}

// failureStack records the stage and the unwrapped error chain.
func failureStack(cause error, stage string) string {
	lines := []string{stage}
	for current := cause; current != nil; current = errors.Unwrap(current) {
		lines = append(lines, "  "+current.Error())
	}
	return strings.Join(lines, "\n")
}

func (p *Processor) observer() *core.Observer {
	if p.Observer == nil {
		return nopObserver
	}
	return p.Observer
}
