package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Envelope carries the delivery metadata shared by every inbound event
type Envelope struct {
	Platform        Platform
	ExternalEventID string
	EventType       string
	OccurredAt      time.Time
	PayloadHash     string
}

// HashPayload returns the hex sha256 of a raw webhook body
func HashPayload(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Meta returns the envelope itself so variants satisfy Event by embedding it
func (e Envelope) Meta() Envelope { return e }

// CustomerRef is the raw customer reference as a platform reported it
type CustomerRef struct {
	ExternalID string
	Email      string
	Phone      string
	Name       string
}

// IsZero reports whether the reference carries nothing to resolve
func (r CustomerRef) IsZero() bool {
	return r.ExternalID == "" && strings.TrimSpace(r.Email) == "" && strings.TrimSpace(r.Phone) == ""
}

// Event is the closed set of canonical inbound events.
// The unexported marker keeps the set limited to the four variants below.
type Event interface {
	Meta() Envelope
	Session() string
	isEvent()
}

// ChatStarted opens a chat conversation
type ChatStarted struct {
	Envelope
	AgentRef  string
	Customer  CustomerRef
	SessionID string
}

// ChatEnded closes a chat conversation. AgentRef is filled when the platform reports it.
type ChatEnded struct {
	Envelope
	SessionID string
	AgentRef  string
}

// CallStarted opens a call conversation
type CallStarted struct {
	Envelope
	AgentRef  string
	Customer  CustomerRef
	SessionID string
	Direction string
}

// CallEnded closes a call conversation
type CallEnded struct {
	Envelope
	SessionID string
	AgentRef  string
}

func (ChatStarted) isEvent() {}
func (ChatEnded) isEvent()   {}
func (CallStarted) isEvent() {}
func (CallEnded) isEvent()   {}

func (e ChatStarted) Session() string { return e.SessionID }
func (e ChatEnded) Session() string   { return e.SessionID }
func (e CallStarted) Session() string { return e.SessionID }
func (e CallEnded) Session() string   { return e.SessionID }

// SessionKey is the per-conversation serialization key
func SessionKey(ev Event) string {
	return fmt.Sprintf("%s:%s", ev.Meta().Platform, ev.Session())
}

// ConversationTypeOf reports whether ev concerns a chat or a call
func ConversationTypeOf(ev Event) ConversationType {
	switch ev.(type) {
	case ChatStarted, ChatEnded:
		return ConversationChat
	default:
		return ConversationCall
	}
}

// IsStart reports whether ev opens a conversation
func IsStart(ev Event) bool {
	switch ev.(type) {
	case ChatStarted, CallStarted:
		return true
	default:
		return false
	}
}

// AgentRefOf returns the platform agent reference carried by ev, if any
func AgentRefOf(ev Event) string {
	switch e := ev.(type) {
	case ChatStarted:
		return e.AgentRef
	case ChatEnded:
		return e.AgentRef
	case CallStarted:
		return e.AgentRef
	case CallEnded:
		return e.AgentRef
	}
	return ""
}
