// Package ports defines interfaces for dependency inversion
// Following Hexagonal Architecture: Core defines contracts, Adapters implement them
package ports

import (
	"context"
	"time"

	"syncbridge/internal/core/domain"
)

// ReceiptRepository persists idempotency ledger entries
type ReceiptRepository interface {
	// InsertReceipt stores a new receipt.
	// Returns domain.ErrDuplicate when (platform, event id) is already recorded.
	InsertReceipt(ctx context.Context, receipt *domain.WebhookReceipt) error

	// DeleteReceipt removes a receipt whose hand-off failed so redelivery is processed
	DeleteReceipt(ctx context.Context, platform domain.Platform, externalEventID string) error

	// PurgeReceiptsBefore deletes receipts received before cutoff, in batches of batchSize
	PurgeReceiptsBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

// DedupCache is the fast-path duplicate filter in front of the receipt store
type DedupCache interface {
	// Claim atomically sets key if absent. Returns false when the key already existed.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Release drops a claim so a later delivery can be admitted
	Release(ctx context.Context, key string) error
}

// AgentRepository reads and seeds the agent mapping
type AgentRepository interface {
	// FindAgentByRef returns domain.ErrNotFound when no agent carries ref on platform
	FindAgentByRef(ctx context.Context, platform domain.Platform, ref string) (*domain.Agent, error)
	GetAgent(ctx context.Context, id uint64) (*domain.Agent, error)
	UpsertAgent(ctx context.Context, agent *domain.Agent) error
	ListAgents(ctx context.Context) ([]domain.Agent, error)
}

// PresenceRepository stores the append-only presence history
type PresenceRepository interface {
	// CurrentPresence returns domain.ErrNotFound for agents without history
	CurrentPresence(ctx context.Context, agentID uint64) (*domain.AgentPresence, error)
	AppendPresence(ctx context.Context, presence *domain.AgentPresence) error

	// PushedPresence returns the values last directed at each platform; domain.ErrNotFound for unknown agents
	PushedPresence(ctx context.Context, agentID uint64) (domain.PushedPresence, error)
	RecordPushedPresence(ctx context.Context, agentID uint64, platform domain.Platform, value string) error
}

// CustomerKey names an identifying customer column
type CustomerKey string

// CustomerKey constants
const (
	CustomerByLiveChatID    CustomerKey = "livechat_customer_id"
	CustomerByRingCentralID CustomerKey = "ringcentral_contact_id"
	CustomerByEmail         CustomerKey = "email"
	CustomerByPhone         CustomerKey = "phone"
)

// CustomerStore holds the primitive customer operations used inside a resolution transaction
type CustomerStore interface {
	// FindCustomerBy returns domain.ErrNotFound when no customer matches
	FindCustomerBy(ctx context.Context, key CustomerKey, value string) (*domain.Customer, error)

	// CreateCustomer inserts c unless a unique column conflicts.
	// Returns false (and no error) when the insert was skipped because of a conflict.
	CreateCustomer(ctx context.Context, c *domain.Customer) (bool, error)

	// UpdateCustomer returns domain.ErrDuplicate on a unique conflict
	UpdateCustomer(ctx context.Context, c *domain.Customer) error
}

// CustomerRepository adds transactions and plain reads to CustomerStore
type CustomerRepository interface {
	CustomerStore
	GetCustomer(ctx context.Context, id uint64) (*domain.Customer, error)
	InCustomerTx(ctx context.Context, fn func(store CustomerStore) error) error
}

// ConversationRepository persists unified conversations
type ConversationRepository interface {
	// CreateConversation inserts c keyed by (platform, external session id).
	// When the key already exists c is overwritten with the stored row and false is returned.
	CreateConversation(ctx context.Context, c *domain.Conversation) (bool, error)

	// FindConversation returns domain.ErrNotFound when the key is unknown
	FindConversation(ctx context.Context, platform domain.Platform, sessionID string) (*domain.Conversation, error)
	GetConversation(ctx context.Context, id uint64) (*domain.Conversation, error)

	// CloseConversation applies c's end fields only if the stored row is still active.
	// Returns false when another writer closed it first.
	CloseConversation(ctx context.Context, c *domain.Conversation) (bool, error)

	// CountOpenConversations returns the agent's active chat and call counts
	CountOpenConversations(ctx context.Context, agentID uint64) (chats int, calls int, err error)
}

// SyncLogRepository persists the audit trail
type SyncLogRepository interface {
	AppendSyncLog(ctx context.Context, entry *domain.SyncLog) error
	PurgeSyncLogsBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}
