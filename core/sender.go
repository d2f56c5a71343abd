package core

import (
	"fmt"
	"strings"
)

type SenderKind string

const (
	SenderKindAgent     SenderKind = "agent"
	SenderKindAssistant SenderKind = "assistant"
	SenderKindOperator  SenderKind = "operator"
	SenderKindSystem    SenderKind = "system"
)

// AssistantRef and SystemRef identify the singleton non-human senders.
const (
	AssistantRef = "assistant"
	SystemRef    = "system"
)

func ParseSenderKind(value string) (SenderKind, bool) {
	switch SenderKind(strings.ToLower(strings.TrimSpace(value))) {
	case SenderKindAgent:
		return SenderKindAgent, true
	case SenderKindAssistant:
		return SenderKindAssistant, true
	case SenderKindOperator:
		return SenderKindOperator, true
	case SenderKindSystem:
		return SenderKindSystem, true
	default:
		return "", false
	}
}

// Sender is the single tagged sender reference of a message. Values are built
// through the constructors below so a message always has exactly one sender.
type Sender struct {
	kind SenderKind
	ref  string
}

func AgentSender(agentID string) Sender {
	return Sender{kind: SenderKindAgent, ref: strings.TrimSpace(agentID)}
}

func AssistantSender() Sender {
	return Sender{kind: SenderKindAssistant, ref: AssistantRef}
}

func OperatorSender(operatorID string) Sender {
	return Sender{kind: SenderKindOperator, ref: strings.TrimSpace(operatorID)}
}

func SystemSender() Sender {
	return Sender{kind: SenderKindSystem, ref: SystemRef}
}

// SenderFrom rebuilds a sender from its stored (type, id) pair.
func SenderFrom(kind string, ref string) (Sender, error) {
	parsed, ok := ParseSenderKind(kind)
	if !ok {
		return Sender{}, fmt.Errorf("core: unknown sender kind %q", kind)
	}
	var sender Sender
	switch parsed {
	case SenderKindAgent:
		sender = AgentSender(ref)
	case SenderKindOperator:
		sender = OperatorSender(ref)
	case SenderKindAssistant:
		sender = AssistantSender()
	case SenderKindSystem:
		sender = SystemSender()
	}
	if err := sender.Validate(); err != nil {
		return Sender{}, err
	}
	return sender, nil
}

func (s Sender) Kind() SenderKind { return s.kind }

func (s Sender) Ref() string { return s.ref }

func (s Sender) IsZero() bool { return s.kind == "" }

func (s Sender) Validate() error {
	if s.kind == "" {
		return fmt.Errorf("core: message sender is required")
	}
	if strings.TrimSpace(s.ref) == "" {
		return fmt.Errorf("core: %s sender id is required", s.kind)
	}
	return nil
}

func (s Sender) String() string {
	if s.kind == "" {
		return ""
	}
	return string(s.kind) + ":" + s.ref
}
