// Package domain contains core business entities
// Following Hexagonal Architecture: entities carry storage tags but no storage logic
package domain

import (
	"time"
)

// Platform identifies one of the two synchronized SaaS platforms
type Platform string

// Platform constants
const (
	PlatformLiveChat    Platform = "livechat"
	PlatformRingCentral Platform = "ringcentral"
)

// Other returns the counterpart platform
func (p Platform) Other() Platform {
	if p == PlatformLiveChat {
		return PlatformRingCentral
	}
	return PlatformLiveChat
}

// Valid reports whether p is a known platform
func (p Platform) Valid() bool {
	return p == PlatformLiveChat || p == PlatformRingCentral
}

// WebhookReceipt is the idempotency ledger entry for one inbound event
type WebhookReceipt struct {
	ID              uint64    `json:"id" gorm:"primaryKey"`
	SourcePlatform  Platform  `json:"source_platform" gorm:"size:20;not null;uniqueIndex:idx_receipt_key,priority:1"`
	ExternalEventID string    `json:"external_event_id" gorm:"size:255;not null;uniqueIndex:idx_receipt_key,priority:2"`
	EventType       string    `json:"event_type" gorm:"size:100"`
	PayloadHash     string    `json:"payload_hash" gorm:"size:64;not null"` // hex sha256 of the raw body
	ReceivedAt      time.Time `json:"received_at" gorm:"not null;index"`
}

// Agent maps one human agent across both platforms
type Agent struct {
	ID                     uint64    `json:"id" gorm:"primaryKey"`
	LiveChatAgentID        string    `json:"livechat_agent_id" gorm:"column:livechat_agent_id;size:255;not null;uniqueIndex"`
	RingCentralExtensionID string    `json:"ringcentral_extension_id" gorm:"column:ringcentral_extension_id;size:255;not null;uniqueIndex"`
	Email                  string    `json:"email" gorm:"size:255;index"`
	Name                   string    `json:"name" gorm:"size:255"`
	LiveChatPresence       string    `json:"livechat_presence,omitempty" gorm:"column:livechat_presence;size:30"`
	RingCentralPresence    string    `json:"ringcentral_presence,omitempty" gorm:"column:ringcentral_presence;size:30"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// Pushed returns the presence values last directed at each platform
func (a *Agent) Pushed() PushedPresence {
	return PushedPresence{LiveChat: a.LiveChatPresence, RingCentral: a.RingCentralPresence}
}

// PushedPresence is the last presence value directed at each platform.
// Empty means nothing was ever pushed and the platform holds its available value.
type PushedPresence struct {
	LiveChat    string
	RingCentral string
}

// For returns the value platform p is believed to hold
func (p PushedPresence) For(platform Platform) string {
	v := p.RingCentral
	if platform == PlatformLiveChat {
		v = p.LiveChat
	}
	if v == "" {
		return PresenceAvailable.PlatformValue(platform)
	}
	return v
}

// RefFor returns the agent's identifier on platform p
func (a *Agent) RefFor(p Platform) string {
	if p == PlatformLiveChat {
		return a.LiveChatAgentID
	}
	return a.RingCentralExtensionID
}

// AgentPresence is one entry of an agent's append-only presence history.
// The current presence is the latest row by (changed_at, id).
type AgentPresence struct {
	ID            uint64         `json:"id" gorm:"primaryKey"`
	AgentID       uint64         `json:"agent_id" gorm:"not null;index:idx_presence_agent_changed,priority:1"`
	Status        PresenceStatus `json:"status" gorm:"size:20;not null"`
	Reason        string         `json:"reason" gorm:"size:100"`
	ChangedAt     time.Time      `json:"changed_at" gorm:"not null;index:idx_presence_agent_changed,priority:2"`
	SourceEventID string         `json:"source_event_id" gorm:"size:255"`
}

// Customer is the canonical identity behind platform-specific contacts.
// Identifying columns are nullable so that uniqueness only applies to known values.
type Customer struct {
	ID                   uint64    `json:"id" gorm:"primaryKey"`
	Email                *string   `json:"email,omitempty" gorm:"size:255;uniqueIndex"`
	Phone                *string   `json:"phone,omitempty" gorm:"size:32;uniqueIndex"` // E.164
	Name                 string    `json:"name" gorm:"size:255"`
	LiveChatCustomerID   *string   `json:"livechat_customer_id,omitempty" gorm:"column:livechat_customer_id;size:255;uniqueIndex"`
	RingCentralContactID *string   `json:"ringcentral_contact_id,omitempty" gorm:"column:ringcentral_contact_id;size:255;uniqueIndex"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// ExternalID returns the customer's identifier on platform p, or ""
func (c *Customer) ExternalID(p Platform) string {
	ptr := c.RingCentralContactID
	if p == PlatformLiveChat {
		ptr = c.LiveChatCustomerID
	}
	if ptr == nil {
		return ""
	}
	return *ptr
}

// ConversationType distinguishes chats from calls
type ConversationType string

// ConversationType constants
const (
	ConversationChat ConversationType = "chat"
	ConversationCall ConversationType = "call"
)

// ConversationStatus tracks the conversation lifecycle
type ConversationStatus string

// ConversationStatus constants
const (
	ConversationActive ConversationStatus = "active"
	ConversationEnded  ConversationStatus = "ended"
	ConversationFailed ConversationStatus = "failed"
)

// Conversation is the unified record of one chat session or one call session
type Conversation struct {
	ID                uint64             `json:"id" gorm:"primaryKey"`
	Type              ConversationType   `json:"type" gorm:"size:10;not null"`
	Platform          Platform           `json:"platform" gorm:"size:20;not null;uniqueIndex:idx_conversation_session,priority:1"`
	ExternalSessionID string             `json:"external_session_id" gorm:"size:255;not null;uniqueIndex:idx_conversation_session,priority:2"`
	AgentID           uint64             `json:"agent_id" gorm:"not null;index:idx_conversation_agent_status,priority:1"`
	CustomerID        *uint64            `json:"customer_id,omitempty"`
	Status            ConversationStatus `json:"status" gorm:"size:10;not null;index:idx_conversation_agent_status,priority:2"`
	Direction         string             `json:"direction,omitempty" gorm:"size:10"` // calls only: inbound, outbound
	StartedAt         time.Time          `json:"started_at" gorm:"not null"`
	EndedAt           *time.Time         `json:"ended_at,omitempty"`
	DurationSeconds   *int64             `json:"duration_seconds,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// SyncStatus is the outcome recorded for one dispatch attempt
type SyncStatus string

// SyncStatus constants
const (
	SyncSuccess  SyncStatus = "success"
	SyncFailed   SyncStatus = "failed"
	SyncRetrying SyncStatus = "retrying"
	SyncSkipped  SyncStatus = "skipped"
)

// SyncLog is the append-only audit trail of reconciliation and dispatch work
type SyncLog struct {
	ID             uint64     `json:"id" gorm:"primaryKey"`
	DirectiveID    string     `json:"directive_id,omitempty" gorm:"size:26;index"`
	OperationType  string     `json:"operation_type" gorm:"size:50;not null"`
	SourcePlatform Platform   `json:"source_platform" gorm:"size:20"`
	TargetPlatform Platform   `json:"target_platform" gorm:"size:20"`
	AgentID        uint64     `json:"agent_id" gorm:"index"`
	ConversationID *uint64    `json:"conversation_id,omitempty" gorm:"index"`
	Status         SyncStatus `json:"status" gorm:"size:10;not null;index:idx_sync_status_created,priority:1"`
	Attempt        int        `json:"attempt"`
	Detail         string     `json:"detail" gorm:"type:text"`
	CreatedAt      time.Time  `json:"created_at" gorm:"index:idx_sync_status_created,priority:2"`
}
