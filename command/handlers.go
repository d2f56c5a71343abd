package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-charter-sync/core"
	"github.com/goliatone/go-charter-sync/worker"
	"github.com/goliatone/go-charter-sync/workflow"
)

type EventService interface {
	ProcessEvent(ctx context.Context, eventID string) (worker.Report, error)
	Replay(ctx context.Context, eventID string, agentID string, reason string) (core.WebhookEvent, error)
}

type RequestService interface {
	Transition(ctx context.Context, in workflow.TransitionInput) (workflow.TransitionResult, error)
}

type ProcessEventCommand struct {
	service EventService
}

func NewProcessEventCommand(service EventService) *ProcessEventCommand {
	return &ProcessEventCommand{service: service}
}

func (c *ProcessEventCommand) Execute(ctx context.Context, msg ProcessEventMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: event service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.service.ProcessEvent(ctx, msg.EventID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ReplayEventCommand struct {
	service EventService
}

func NewReplayEventCommand(service EventService) *ReplayEventCommand {
	return &ReplayEventCommand{service: service}
}

func (c *ReplayEventCommand) Execute(ctx context.Context, msg ReplayEventMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: event service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.service.Replay(ctx, msg.EventID, msg.AgentID, msg.Reason)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type TransitionRequestCommand struct {
	service RequestService
}

func NewTransitionRequestCommand(service RequestService) *TransitionRequestCommand {
	return &TransitionRequestCommand{service: service}
}

func (c *TransitionRequestCommand) Execute(ctx context.Context, msg TransitionRequestMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: request service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.service.Transition(ctx, msg.input())
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
