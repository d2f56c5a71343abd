package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/goliatone/go-charter-sync/core"
	"github.com/goliatone/go-charter-sync/webhooks"
)

// Poller drives the pull loop: reclaim expired leases, select processable
// events and process them with bounded concurrency.
type Poller struct {
	Processor *Processor
	Claims    *webhooks.ClaimManager
	Events    core.WebhookEventStore
	Config    core.WorkerConfig
	Observer  *core.Observer
	Now       core.Clock
}

// TickSummary counts what one poll did.
type TickSummary struct {
	Reclaimed int
	Selected  int
	Outcomes  map[Outcome]int
}

func NewPoller(processor *Processor, cfg core.WorkerConfig) *Poller {
	defaults := core.DefaultConfig().Worker
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaults.Concurrency
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.LeaseTimeout <= 0 {
		cfg.LeaseTimeout = defaults.LeaseTimeout
	}
	poller := &Poller{Processor: processor, Config: cfg}
	if processor != nil {
		poller.Claims = processor.Claims
		poller.Events = processor.Events
		poller.Observer = processor.Observer
	}
	return poller
}

// Run polls until ctx is cancelled. Tick errors are logged and the loop
// continues on the next interval.
func (p *Poller) Run(ctx context.Context) error {
	if err := p.validate(); err != nil {
		return err
	}
	ticker := time.NewTicker(p.Config.PollInterval)
	defer ticker.Stop()
	for {
		if _, err := p.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.observer().Error(ctx, "worker poll failed", map[string]any{"error": err.Error()})
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single poll and waits for every selected event.
func (p *Poller) RunOnce(ctx context.Context) (TickSummary, error) {
	summary := TickSummary{Outcomes: map[Outcome]int{}}
	if err := p.validate(); err != nil {
		return summary, err
	}
	reclaimed, err := p.Claims.ReclaimExpired(ctx, p.Config.LeaseTimeout, p.Config.BatchSize)
	summary.Reclaimed = reclaimed
	if err != nil {
		return summary, err
	}

	pending, err := p.Events.FindProcessable(ctx, p.Now.Now(), p.Config.BatchSize)
	if err != nil {
		return summary, core.TransientStoreError(err, "find processable events")
	}
	summary.Selected = len(pending)
	if len(pending) == 0 {
		return summary, nil
	}

	// A failing event must not cancel its siblings; claimed work always
	// reaches a terminal write.
	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(p.Config.Concurrency)
	for _, event := range pending {
		eventID := event.ID
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			report, err := p.Processor.Process(ctx, eventID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("worker: process event %s: %w", eventID, err))
				return nil
			}
			summary.Outcomes[report.Outcome]++
			return nil
		})
	}
	_ = g.Wait()
	return summary, errors.Join(errs...)
}

func (p *Poller) validate() error {
	if p == nil || p.Processor == nil || p.Claims == nil || p.Events == nil {
		return fmt.Errorf("worker: poller requires processor, claims and events")
	}
	return nil
}

func (p *Poller) observer() *core.Observer {
	if p.Observer == nil {
		return nopObserver
	}
	return p.Observer
}
