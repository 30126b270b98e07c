package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"syncbridge/internal/core/domain"
	"syncbridge/internal/core/ports"
)

// AgentDirectory maps agents between platforms and exposes their last recorded presence
type AgentDirectory struct {
	agents   ports.AgentRepository
	presence ports.PresenceRepository
}

// NewAgentDirectory creates a new directory
func NewAgentDirectory(agents ports.AgentRepository, presence ports.PresenceRepository) *AgentDirectory {
	return &AgentDirectory{agents: agents, presence: presence}
}

// Lookup resolves a platform-specific agent reference. Unmapped references yield domain.ErrUnknownAgent.
func (d *AgentDirectory) Lookup(ctx context.Context, platform domain.Platform, ref string) (*domain.Agent, error) {
	if strings.TrimSpace(ref) == "" {
		return nil, fmt.Errorf("%s event without agent: %w", platform, domain.ErrUnknownAgent)
	}
	agent, err := d.agents.FindAgentByRef(ctx, platform, ref)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%s agent %s: %w", platform, ref, domain.ErrUnknownAgent)
	}
	if err != nil {
		return nil, err
	}
	return agent, nil
}

// Get loads an agent by canonical id
func (d *AgentDirectory) Get(ctx context.Context, id uint64) (*domain.Agent, error) {
	agent, err := d.agents.GetAgent(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("agent %d: %w", id, domain.ErrUnknownAgent)
	}
	return agent, err
}

// CurrentStatus returns the agent's recorded canonical status; agents without history are Available
func (d *AgentDirectory) CurrentStatus(ctx context.Context, agentID uint64) (domain.PresenceStatus, error) {
	p, err := d.presence.CurrentPresence(ctx, agentID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.PresenceAvailable, nil
	}
	if err != nil {
		return "", err
	}
	return p.Status, nil
}

// Register creates or updates a mapping. Both platform ids are required.
func (d *AgentDirectory) Register(ctx context.Context, agent *domain.Agent) error {
	agent.LiveChatAgentID = strings.TrimSpace(agent.LiveChatAgentID)
	agent.RingCentralExtensionID = strings.TrimSpace(agent.RingCentralExtensionID)
	if agent.LiveChatAgentID == "" || agent.RingCentralExtensionID == "" {
		return fmt.Errorf("register agent %q: livechat and ringcentral ids are required", agent.Name)
	}
	agent.Email = strings.ToLower(strings.TrimSpace(agent.Email))

	if err := d.agents.UpsertAgent(ctx, agent); err != nil {
		return err
	}
	slog.Info("Agent mapping registered",
		"agent_id", agent.ID,
		"livechat_agent_id", agent.LiveChatAgentID,
		"ringcentral_extension_id", agent.RingCentralExtensionID,
	)
	return nil
}

// List returns every mapped agent
func (d *AgentDirectory) List(ctx context.Context) ([]domain.Agent, error) {
	return d.agents.ListAgents(ctx)
}
