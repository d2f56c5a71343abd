package command

import (
	"strings"

	"github.com/goliatone/go-charter-sync/core"
	"github.com/goliatone/go-charter-sync/workflow"
)

const (
	TypeProcessEvent      = "charter.command.event.process"
	TypeReplayEvent       = "charter.command.event.replay"
	TypeTransitionRequest = "charter.command.request.transition"
)

type ProcessEventMessage struct {
	EventID string
}

func (ProcessEventMessage) Type() string { return TypeProcessEvent }

func (m ProcessEventMessage) Validate() error {
	if strings.TrimSpace(m.EventID) == "" {
		return commandValidationError("event_id", "event id is required")
	}
	return nil
}

// ReplayEventMessage resets a terminal event to pending so it is reprocessed
// from its stored raw payload.
type ReplayEventMessage struct {
	EventID string
	AgentID string
	Reason  string
}

func (ReplayEventMessage) Type() string { return TypeReplayEvent }

func (m ReplayEventMessage) Validate() error {
	if strings.TrimSpace(m.EventID) == "" {
		return commandValidationError("event_id", "event id is required")
	}
	return nil
}

// TransitionRequestMessage is an agent-initiated lifecycle change. AgentID is
// supplied by the identity layer.
type TransitionRequestMessage struct {
	RequestID string
	To        core.RequestStatus
	AgentID   string
	Reason    string
}

func (TransitionRequestMessage) Type() string { return TypeTransitionRequest }

func (m TransitionRequestMessage) Validate() error {
	if strings.TrimSpace(m.RequestID) == "" {
		return commandValidationError("request_id", "request id is required")
	}
	if !m.To.Valid() {
		return commandValidationError("to", "target status is not a known request status")
	}
	if strings.TrimSpace(m.AgentID) == "" {
		return commandValidationError("agent_id", "acting agent id is required")
	}
	return nil
}

func (m TransitionRequestMessage) input() workflow.TransitionInput {
	return workflow.TransitionInput{
		RequestID: strings.TrimSpace(m.RequestID),
		To:        m.To,
		Source:    workflow.SourceAgent,
		AgentID:   strings.TrimSpace(m.AgentID),
		Reason:    strings.TrimSpace(m.Reason),
	}
}
