package domain

import (
	"fmt"
	"time"
)

// DirectiveKind names the remote operation a directive performs
type DirectiveKind string

// DirectiveKind constants
const (
	DirectivePushPresence           DirectiveKind = "push_presence"
	DirectivePushConversationRecord DirectiveKind = "push_conversation_record"
)

// Directive is an instruction to push local state to a remote platform.
// For presence directives Value is the platform value expected at emission time;
// the dispatcher re-derives the current value before acting on it.
type Directive struct {
	ID             string
	Kind           DirectiveKind
	Source         Platform
	Target         Platform
	AgentID        uint64
	ConversationID uint64
	Value          string
	Attempt        int
	CreatedAt      time.Time
}

// Key serializes remote pushes per target platform and agent
func (d Directive) Key() string {
	return fmt.Sprintf("%s:%d", d.Target, d.AgentID)
}

// ConversationRecord is the material pushed to the remote side when a conversation closes
type ConversationRecord struct {
	Conversation *Conversation
	Agent        *Agent
	Customer     *Customer // may be nil when the customer was never resolved
}
