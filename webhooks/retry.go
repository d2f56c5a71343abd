package webhooks

import (
	"strings"
	"time"

	"github.com/goliatone/go-charter-sync/core"
)

type RetryPolicy interface {
	NextDelay(attempt int) time.Duration
}

type ExponentialRetryPolicy struct {
	Initial time.Duration
	Max     time.Duration
}

func (p ExponentialRetryPolicy) NextDelay(attempt int) time.Duration {
	initial := p.Initial
	if initial <= 0 {
		initial = time.Second
	}
	maximum := p.Max
	if maximum <= 0 {
		maximum = 30 * time.Second
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	if delay > maximum {
		return maximum
	}
	return delay
}

// Scheduler turns a failed attempt into the next envelope state. Permanent
// errors dead-letter at once; others back off until max retries is reached.
type Scheduler struct {
	Policy     RetryPolicy
	MaxRetries int
}

func NewScheduler(cfg core.RetryConfig) *Scheduler {
	return &Scheduler{
		Policy:     ExponentialRetryPolicy{Initial: cfg.InitialBackoff, Max: cfg.MaxBackoff},
		MaxRetries: cfg.MaxRetries,
	}
}

func (s *Scheduler) Decide(event core.WebhookEvent, cause error, stack string, now time.Time) core.FailureDecision {
	attempts := event.RetryCount + 1
	decision := core.FailureDecision{
		RetryCount:   attempts,
		Status:       core.EventStatusDeadLetter,
		ErrorCode:    core.ErrorTextCode(cause),
		ErrorMessage: failureMessage(cause),
		ErrorStack:   strings.TrimSpace(stack),
	}
	if decision.ErrorCode == "" {
		decision.ErrorCode = core.ErrorTransientStore
	}
	if !core.IsRetryable(cause) {
		return decision
	}
	if attempts >= s.maxRetries(event) {
		return decision
	}
	next := now.UTC().Add(s.policy().NextDelay(attempts))
	decision.Status = core.EventStatusPending
	decision.NextRetryAt = &next
	return decision
}

func (s *Scheduler) maxRetries(event core.WebhookEvent) int {
	if event.MaxRetries > 0 {
		return event.MaxRetries
	}
	if s != nil && s.MaxRetries > 0 {
		return s.MaxRetries
	}
	return core.DefaultConfig().Retry.MaxRetries
}

func (s *Scheduler) policy() RetryPolicy {
	if s != nil && s.Policy != nil {
		return s.Policy
	}
	return ExponentialRetryPolicy{}
}

func failureMessage(cause error) string {
	if cause == nil {
		return "unknown failure"
	}
	return cause.Error()
}
