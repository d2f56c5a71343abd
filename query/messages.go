package query

import (
	"strings"

	"github.com/goliatone/go-charter-sync/core"
)

const (
	TypeListEvents         = "charter.query.events.list"
	TypeGetConversation    = "charter.query.conversation.get"
	TypeGetRequestWorkflow = "charter.query.request.workflow"

	// MaxListLimit caps a single page of the event ledger.
	MaxListLimit = 500
)

// ListEventsMessage backs the dead-letter operational view; any status can be
// filtered.
type ListEventsMessage struct {
	Filter core.EventFilter
}

func (ListEventsMessage) Type() string { return TypeListEvents }

func (m ListEventsMessage) Validate() error {
	if m.Filter.Status != "" && !validEventStatus(m.Filter.Status) {
		return queryValidationError("status", "unknown event status")
	}
	if m.Filter.Limit < 0 || m.Filter.Limit > MaxListLimit {
		return queryValidationError("limit", "limit must be between 0 and 500")
	}
	if m.Filter.Offset < 0 {
		return queryValidationError("offset", "offset must be >= 0")
	}
	return nil
}

// GetConversationMessage selects a conversation by id, or by request and
// type when ConversationID is empty. MessageLimit keeps only the most recent
// messages when positive.
type GetConversationMessage struct {
	ConversationID string
	RequestID      string
	Kind           core.ConversationType
	MessageLimit   int
}

func (GetConversationMessage) Type() string { return TypeGetConversation }

func (m GetConversationMessage) Validate() error {
	if strings.TrimSpace(m.ConversationID) != "" {
		return nil
	}
	if strings.TrimSpace(m.RequestID) == "" {
		return queryValidationError("conversation_id", "conversation id or request id is required")
	}
	if m.Kind != "" && !m.Kind.Valid() {
		return queryValidationError("kind", "unknown conversation type")
	}
	if m.MessageLimit < 0 {
		return queryValidationError("message_limit", "message limit must be >= 0")
	}
	return nil
}

type GetRequestWorkflowMessage struct {
	RequestID string
}

func (GetRequestWorkflowMessage) Type() string { return TypeGetRequestWorkflow }

func (m GetRequestWorkflowMessage) Validate() error {
	if strings.TrimSpace(m.RequestID) == "" {
		return queryValidationError("request_id", "request id is required")
	}
	return nil
}

func validEventStatus(status core.EventStatus) bool {
	switch status {
	case core.EventStatusPending,
		core.EventStatusProcessing,
		core.EventStatusCompleted,
		core.EventStatusSkipped,
		core.EventStatusDeadLetter:
		return true
	default:
		return false
	}
}
