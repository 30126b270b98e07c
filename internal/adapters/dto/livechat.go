// Package dto contains data transfer objects for external APIs
// Separating DTOs from gateways and handlers prevents import cycles
package dto

import "time"

// LiveChat webhook actions the engine acts on
const (
	LiveChatActionIncomingChat    = "incoming_chat"
	LiveChatActionChatDeactivated = "chat_deactivated"
)

// LiveChatWebhook is the top-level webhook payload from LiveChat
// Ref: https://platform.text.com/docs/management/webhooks
type LiveChatWebhook struct {
	WebhookID      string          `json:"webhook_id"` // unique per delivery attempt group, used for deduplication
	SecretKey      string          `json:"secret_key,omitempty"`
	Action         string          `json:"action"`
	OrganizationID string          `json:"organization_id,omitempty"`
	Payload        LiveChatPayload `json:"payload"`
}

// LiveChatPayload carries the action-specific body
type LiveChatPayload struct {
	ChatID   string        `json:"chat_id,omitempty"`   // chat_deactivated
	ThreadID string        `json:"thread_id,omitempty"` // chat_deactivated
	Chat     *LiveChatChat `json:"chat,omitempty"`      // incoming_chat
}

// LiveChatChat is a chat with its participants
type LiveChatChat struct {
	ID     string          `json:"id"`
	Users  []LiveChatUser  `json:"users"`
	Thread *LiveChatThread `json:"thread,omitempty"`
}

// LiveChatThread is the active thread of a chat
type LiveChatThread struct {
	ID        string    `json:"id"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// LiveChatUser is a chat participant
type LiveChatUser struct {
	ID    string `json:"id"`
	Type  string `json:"type"` // "agent" or "customer"
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// SessionID returns the chat id from whichever field the action populates
func (p *LiveChatPayload) SessionID() string {
	if p.ChatID != "" {
		return p.ChatID
	}
	if p.Chat != nil {
		return p.Chat.ID
	}
	return ""
}

// FirstUser returns the first participant of the given type
func (c *LiveChatChat) FirstUser(userType string) *LiveChatUser {
	for i := range c.Users {
		if c.Users[i].Type == userType {
			return &c.Users[i]
		}
	}
	return nil
}

// LiveChatRoutingStatusRequest sets an agent's routing status
type LiveChatRoutingStatusRequest struct {
	AgentID string `json:"agent_id"`
	Status  string `json:"status"` // accepting_chats, not_accepting_chats
}

// LiveChatCustomerNoteRequest attaches a note to a customer
type LiveChatCustomerNoteRequest struct {
	CustomerID string       `json:"customer_id"`
	Note       LiveChatNote `json:"note"`
}

// LiveChatNote is the body of a customer note
type LiveChatNote struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// LiveChatErrorResponse is LiveChat's error body
type LiveChatErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
