package core

// ConversationView is the read model handed to the assistant-prompt layer.
type ConversationView struct {
	Conversation Conversation
	Participants []ConversationParticipant
	Messages     []Message
}

// RequestWorkflowView is a request with its workflow head and transition log.
// State is nil until the first transition is applied.
type RequestWorkflowView struct {
	Request Request
	State   *WorkflowState
	History []WorkflowHistory
}
