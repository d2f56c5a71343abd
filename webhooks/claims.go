package webhooks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-charter-sync/core"
)

var errLeaseExpired = errors.New("webhooks: claim lease expired before completion")

// ClaimManager owns the claim lifecycle of stored events:
// pending -> processing -> completed|skipped|pending(retry)|dead_letter.
type ClaimManager struct {
	events    core.WebhookEventStore
	scheduler *Scheduler
	observer  *core.Observer
	clock     core.Clock
}

type ClaimOption func(*ClaimManager)

func WithClaimObserver(observer *core.Observer) ClaimOption {
	return func(m *ClaimManager) {
		if observer != nil {
			m.observer = observer
		}
	}
}

func WithClaimClock(clock core.Clock) ClaimOption {
	return func(m *ClaimManager) {
		m.clock = clock
	}
}

func NewClaimManager(events core.WebhookEventStore, scheduler *Scheduler, opts ...ClaimOption) *ClaimManager {
	if scheduler == nil {
		scheduler = NewScheduler(core.DefaultConfig().Retry)
	}
	manager := &ClaimManager{
		events:    events,
		scheduler: scheduler,
		observer:  core.NewObserver("charter", nil, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(manager)
		}
	}
	return manager
}

// Claim atomically moves a pending event to processing. It reports false when
// another worker won the race or the event is no longer pending.
func (m *ClaimManager) Claim(ctx context.Context, eventID string) (claimed bool, err error) {
	startedAt := time.Now()
	defer func() {
		outcome := "lost"
		if claimed {
			outcome = "claimed"
		}
		m.observer.ObserveOperation(ctx, startedAt, core.OperationClaim, err, map[string]any{
			"event_id": eventID,
			"outcome":  outcome,
		})
	}()
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return false, core.BadInputError("event id is required", nil)
	}
	claimed, err = m.events.Claim(ctx, eventID, uuid.NewString(), m.clock.Now())
	if err != nil {
		return false, core.TransientStoreError(err, "claim webhook event")
	}
	return claimed, nil
}

func (m *ClaimManager) Complete(ctx context.Context, eventID string, linked core.LinkedIDs, parsed map[string]any) error {
	return m.events.Complete(ctx, strings.TrimSpace(eventID), linked, parsed, m.clock.Now())
}

func (m *ClaimManager) Skip(ctx context.Context, eventID string, reason string, parsed map[string]any) error {
	return m.events.Skip(ctx, strings.TrimSpace(eventID), strings.TrimSpace(reason), parsed, m.clock.Now())
}

// Fail records a failed attempt and schedules the next one, or dead-letters
// the event when it is permanent or out of retries.
func (m *ClaimManager) Fail(ctx context.Context, eventID string, cause error, stack string) (decision core.FailureDecision, err error) {
	startedAt := time.Now()
	defer func() {
		fields := map[string]any{
			"event_id":    eventID,
			"retry_count": decision.RetryCount,
			"outcome":     string(decision.Status),
			"error_code":  decision.ErrorCode,
		}
		m.observer.ObserveOperation(ctx, startedAt, core.OperationFailure, err, fields)
		if err == nil && decision.DeadLetter() {
			m.observer.Count(ctx, core.OperationDeadLetter+".total", 1, map[string]string{"error_code": decision.ErrorCode})
			m.observer.Warn(ctx, "webhook event dead-lettered", fields)
		}
	}()

	event, err := m.events.Get(ctx, strings.TrimSpace(eventID))
	if err != nil {
		return core.FailureDecision{}, err
	}
	if event.Status != core.EventStatusProcessing {
		return core.FailureDecision{}, core.ErrEventNotProcessing
	}
	now := m.clock.Now()
	decision = m.scheduler.Decide(event, cause, stack, now)
	if err := m.events.ApplyFailure(ctx, event.ID, decision, now); err != nil {
		return core.FailureDecision{}, err
	}
	return decision, nil
}

// FailWithMessage is Fail for drivers that only hold the error text. The
// failure is classified as transient and follows the retry schedule.
func (m *ClaimManager) FailWithMessage(ctx context.Context, eventID string, message string, stack string) (core.FailureDecision, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		message = "event processing failed"
	}
	return m.Fail(ctx, eventID, core.TransientStoreError(nil, message), stack)
}

// ReclaimExpired treats every claim older than leaseTimeout as a failed
// attempt so a crashed worker's events are retried.
func (m *ClaimManager) ReclaimExpired(ctx context.Context, leaseTimeout time.Duration, limit int) (reclaimed int, err error) {
	startedAt := time.Now()
	defer func() {
		m.observer.ObserveOperation(ctx, startedAt, core.OperationReclaim, err, map[string]any{
			"reclaimed": reclaimed,
		})
	}()
	if leaseTimeout <= 0 {
		leaseTimeout = core.DefaultConfig().Worker.LeaseTimeout
	}
	now := m.clock.Now()
	expired, err := m.events.FindExpiredClaims(ctx, now.Add(-leaseTimeout), limit)
	if err != nil {
		return 0, core.TransientStoreError(err, "find expired claims")
	}
	for _, event := range expired {
		cause := core.TransientStoreError(errLeaseExpired, "claim lease expired")
		stack := fmt.Sprintf("lease: claimed_at=%s timeout=%s", formatTime(event.ClaimedAt), leaseTimeout)
		decision := m.scheduler.Decide(event, cause, stack, now)
		if applyErr := m.events.ApplyFailure(ctx, event.ID, decision, now); applyErr != nil {
			if errors.Is(applyErr, core.ErrEventNotProcessing) {
				continue
			}
			return reclaimed, applyErr
		}
		reclaimed++
	}
	return reclaimed, nil
}

func formatTime(value *time.Time) string {
	if value == nil {
		return ""
	}
	return value.UTC().Format(time.RFC3339)
}
