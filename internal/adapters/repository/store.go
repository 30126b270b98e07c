package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"syncbridge/internal/core/domain"
	"syncbridge/internal/core/ports"
)

// Ensure Store implements the required interfaces
var (
	_ ports.ReceiptRepository      = (*Store)(nil)
	_ ports.AgentRepository        = (*Store)(nil)
	_ ports.PresenceRepository     = (*Store)(nil)
	_ ports.CustomerRepository     = (*Store)(nil)
	_ ports.ConversationRepository = (*Store)(nil)
	_ ports.SyncLogRepository      = (*Store)(nil)
)

// Store implements every persistence port on top of gorm (MariaDB/MySQL in production, sqlite for dev and tests)
type Store struct {
	db *gorm.DB
}

// NewStore creates a new store instance
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// ============================================================================
// ReceiptRepository Implementation
// ============================================================================

// InsertReceipt records an admitted event. The unique index is the authority on duplicates.
func (s *Store) InsertReceipt(ctx context.Context, receipt *domain.WebhookReceipt) error {
	err := s.db.WithContext(ctx).Create(receipt).Error
	if isDuplicateKey(err) {
		return domain.ErrDuplicate
	}
	if err != nil {
		slog.Error("Failed to save webhook receipt",
			"error", err,
			"platform", receipt.SourcePlatform,
			"event_id", receipt.ExternalEventID,
		)
		return fmt.Errorf("save receipt: %w", err)
	}
	return nil
}

// DeleteReceipt removes the receipt for (platform, externalEventID), if any
func (s *Store) DeleteReceipt(ctx context.Context, platform domain.Platform, externalEventID string) error {
	err := s.db.WithContext(ctx).
		Where("source_platform = ? AND external_event_id = ?", platform, externalEventID).
		Delete(&domain.WebhookReceipt{}).Error
	if err != nil {
		return fmt.Errorf("delete receipt: %w", err)
	}
	return nil
}

// PurgeReceiptsBefore deletes receipts older than cutoff in batches
func (s *Store) PurgeReceiptsBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	n, err := s.purgeBefore(ctx, &domain.WebhookReceipt{}, "received_at", cutoff, batchSize)
	if err != nil {
		return n, fmt.Errorf("purge receipts: %w", err)
	}
	return n, nil
}

// purgeBefore selects ids first and deletes by id so batching works the same on MySQL and sqlite
func (s *Store) purgeBefore(ctx context.Context, model interface{}, column string, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize < 1 {
		batchSize = 1000
	}
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		var ids []uint64
		err := s.db.WithContext(ctx).Model(model).
			Where(column+" < ?", cutoff).
			Order("id").
			Limit(batchSize).
			Pluck("id", &ids).Error
		if err != nil {
			return total, err
		}
		if len(ids) == 0 {
			return total, nil
		}

		res := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(model)
		if res.Error != nil {
			return total, res.Error
		}
		total += res.RowsAffected

		if len(ids) < batchSize {
			return total, nil
		}
	}
}

// ============================================================================
// AgentRepository Implementation
// ============================================================================

// FindAgentByRef looks an agent up by its identifier on platform
func (s *Store) FindAgentByRef(ctx context.Context, platform domain.Platform, ref string) (*domain.Agent, error) {
	column := "livechat_agent_id"
	if platform == domain.PlatformRingCentral {
		column = "ringcentral_extension_id"
	}

	var agent domain.Agent
	err := s.db.WithContext(ctx).Where(column+" = ?", ref).First(&agent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find agent: %w", err)
	}
	return &agent, nil
}

// GetAgent loads an agent by primary key
func (s *Store) GetAgent(ctx context.Context, id uint64) (*domain.Agent, error) {
	var agent domain.Agent
	err := s.db.WithContext(ctx).First(&agent, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return &agent, nil
}

// UpsertAgent inserts agent or updates the row with the same LiveChat agent id.
// agent is reloaded so its ID is always set.
func (s *Store) UpsertAgent(ctx context.Context, agent *domain.Agent) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "livechat_agent_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"ringcentral_extension_id", "email", "name", "updated_at"}),
	}).Create(agent).Error
	if isDuplicateKey(err) {
		return fmt.Errorf("upsert agent %s: extension %s already mapped: %w",
			agent.LiveChatAgentID, agent.RingCentralExtensionID, domain.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("upsert agent: %w", err)
	}

	stored, err := s.FindAgentByRef(ctx, domain.PlatformLiveChat, agent.LiveChatAgentID)
	if err != nil {
		return err
	}
	*agent = *stored
	return nil
}

// ListAgents returns every mapped agent ordered by id
func (s *Store) ListAgents(ctx context.Context) ([]domain.Agent, error) {
	var agents []domain.Agent
	if err := s.db.WithContext(ctx).Order("id").Find(&agents).Error; err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return agents, nil
}

// ============================================================================
// PresenceRepository Implementation
// ============================================================================

// CurrentPresence returns the latest presence row by (changed_at, id)
func (s *Store) CurrentPresence(ctx context.Context, agentID uint64) (*domain.AgentPresence, error) {
	var p domain.AgentPresence
	err := s.db.WithContext(ctx).
		Where("agent_id = ?", agentID).
		Order("changed_at DESC").Order("id DESC").
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("current presence: %w", err)
	}
	return &p, nil
}

// AppendPresence adds a presence history row
func (s *Store) AppendPresence(ctx context.Context, presence *domain.AgentPresence) error {
	if err := s.db.WithContext(ctx).Create(presence).Error; err != nil {
		slog.Error("Failed to append presence",
			"error", err,
			"agent_id", presence.AgentID,
			"status", presence.Status,
		)
		return fmt.Errorf("append presence: %w", err)
	}
	return nil
}

// PushedPresence loads the presence values last directed at each platform
func (s *Store) PushedPresence(ctx context.Context, agentID uint64) (domain.PushedPresence, error) {
	var agent domain.Agent
	err := s.db.WithContext(ctx).
		Select("id", "livechat_presence", "ringcentral_presence").
		First(&agent, agentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.PushedPresence{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.PushedPresence{}, fmt.Errorf("pushed presence: %w", err)
	}
	return agent.Pushed(), nil
}

// RecordPushedPresence stores value as the last presence directed at platform
func (s *Store) RecordPushedPresence(ctx context.Context, agentID uint64, platform domain.Platform, value string) error {
	column := "ringcentral_presence"
	if platform == domain.PlatformLiveChat {
		column = "livechat_presence"
	}
	res := s.db.WithContext(ctx).Model(&domain.Agent{}).Where("id = ?", agentID).Update(column, value)
	if res.Error != nil {
		slog.Error("Failed to record pushed presence",
			"error", res.Error,
			"agent_id", agentID,
			"platform", platform,
		)
		return fmt.Errorf("record pushed presence: %w", res.Error)
	}
	return nil
}

// ============================================================================
// CustomerRepository Implementation
// ============================================================================

// FindCustomerBy looks a customer up by one identifying column
func (s *Store) FindCustomerBy(ctx context.Context, key ports.CustomerKey, value string) (*domain.Customer, error) {
	switch key {
	case ports.CustomerByLiveChatID, ports.CustomerByRingCentralID, ports.CustomerByEmail, ports.CustomerByPhone:
	default:
		return nil, fmt.Errorf("find customer: unknown key %q", key)
	}

	var c domain.Customer
	err := s.db.WithContext(ctx).Where(string(key)+" = ?", value).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find customer: %w", err)
	}
	return &c, nil
}

// CreateCustomer inserts c with ON CONFLICT DO NOTHING.
// Returns false when a unique column already belongs to another customer.
func (s *Store) CreateCustomer(ctx context.Context, c *domain.Customer) (bool, error) {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(c)
	if isDuplicateKey(res.Error) {
		return false, nil
	}
	if res.Error != nil {
		return false, fmt.Errorf("create customer: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// UpdateCustomer saves every column of c
func (s *Store) UpdateCustomer(ctx context.Context, c *domain.Customer) error {
	err := s.db.WithContext(ctx).Save(c).Error
	if isDuplicateKey(err) {
		return domain.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("update customer: %w", err)
	}
	return nil
}

// GetCustomer loads a customer by primary key
func (s *Store) GetCustomer(ctx context.Context, id uint64) (*domain.Customer, error) {
	var c domain.Customer
	err := s.db.WithContext(ctx).First(&c, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get customer: %w", err)
	}
	return &c, nil
}

// InCustomerTx runs fn inside a transaction. fn must only use the store it is given.
func (s *Store) InCustomerTx(ctx context.Context, fn func(store ports.CustomerStore) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// ============================================================================
// ConversationRepository Implementation
// ============================================================================

// CreateConversation inserts c unless (platform, external_session_id) exists,
// in which case c is replaced by the stored row
func (s *Store) CreateConversation(ctx context.Context, c *domain.Conversation) (bool, error) {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(c)
	if res.Error != nil && !isDuplicateKey(res.Error) {
		slog.Error("Failed to create conversation",
			"error", res.Error,
			"platform", c.Platform,
			"session_id", c.ExternalSessionID,
		)
		return false, fmt.Errorf("create conversation: %w", res.Error)
	}
	if res.Error == nil && res.RowsAffected == 1 {
		return true, nil
	}

	existing, err := s.FindConversation(ctx, c.Platform, c.ExternalSessionID)
	if err != nil {
		return false, err
	}
	*c = *existing
	return false, nil
}

// FindConversation loads a conversation by its platform session key
func (s *Store) FindConversation(ctx context.Context, platform domain.Platform, sessionID string) (*domain.Conversation, error) {
	var c domain.Conversation
	err := s.db.WithContext(ctx).
		Where("platform = ? AND external_session_id = ?", platform, sessionID).
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	return &c, nil
}

// GetConversation loads a conversation by primary key
func (s *Store) GetConversation(ctx context.Context, id uint64) (*domain.Conversation, error) {
	var c domain.Conversation
	err := s.db.WithContext(ctx).First(&c, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &c, nil
}

// CloseConversation moves c from active to ended with a conditional UPDATE
func (s *Store) CloseConversation(ctx context.Context, c *domain.Conversation) (bool, error) {
	res := s.db.WithContext(ctx).Model(&domain.Conversation{}).
		Where("id = ? AND status = ?", c.ID, domain.ConversationActive).
		Updates(map[string]interface{}{
			"status":           domain.ConversationEnded,
			"ended_at":         c.EndedAt,
			"duration_seconds": c.DurationSeconds,
			"updated_at":       time.Now().UTC(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("close conversation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	c.Status = domain.ConversationEnded
	return true, nil
}

// CountOpenConversations returns how many active chats and calls the agent holds
func (s *Store) CountOpenConversations(ctx context.Context, agentID uint64) (int, int, error) {
	var rows []struct {
		Type domain.ConversationType
		N    int
	}
	err := s.db.WithContext(ctx).Model(&domain.Conversation{}).
		Select("type, COUNT(*) AS n").
		Where("agent_id = ? AND status = ?", agentID, domain.ConversationActive).
		Group("type").
		Scan(&rows).Error
	if err != nil {
		return 0, 0, fmt.Errorf("count open conversations: %w", err)
	}

	var chats, calls int
	for _, r := range rows {
		switch r.Type {
		case domain.ConversationChat:
			chats = r.N
		case domain.ConversationCall:
			calls = r.N
		}
	}
	return chats, calls, nil
}

// ============================================================================
// SyncLogRepository Implementation
// ============================================================================

// AppendSyncLog writes one audit row
func (s *Store) AppendSyncLog(ctx context.Context, entry *domain.SyncLog) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		slog.Error("Failed to append sync log",
			"error", err,
			"operation", entry.OperationType,
			"status", entry.Status,
		)
		return fmt.Errorf("append sync log: %w", err)
	}
	return nil
}

// PurgeSyncLogsBefore deletes audit rows older than cutoff in batches
func (s *Store) PurgeSyncLogsBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	n, err := s.purgeBefore(ctx, &domain.SyncLog{}, "created_at", cutoff, batchSize)
	if err != nil {
		return n, fmt.Errorf("purge sync logs: %w", err)
	}
	return n, nil
}

// RecentSyncLogs returns the newest audit rows, newest first
func (s *Store) RecentSyncLogs(ctx context.Context, limit int) ([]domain.SyncLog, error) {
	var logs []domain.SyncLog
	err := s.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("recent sync logs: %w", err)
	}
	return logs, nil
}
