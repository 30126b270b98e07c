package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"syncbridge/internal/clock"
	"syncbridge/internal/core/domain"
	"syncbridge/internal/core/ports"
)

// OpPresenceTransition is the SyncLog operation recorded for every canonical status change
const OpPresenceTransition = "presence_transition"

// Transition describes the outcome of one reconciliation
type Transition struct {
	From       domain.PresenceStatus
	To         domain.PresenceStatus
	Presence   *domain.AgentPresence // nil when the status did not change
	Directives []domain.Directive
}

// Changed reports whether a new presence row was recorded
func (t Transition) Changed() bool {
	return t.Presence != nil
}

// Reconciler owns agent presence. Presence is always derived from the agent's open conversations,
// and Apply is the only place a presence row is written during event processing.
type Reconciler struct {
	conversations ports.ConversationRepository
	presence      ports.PresenceRepository
	syncLogs      ports.SyncLogRepository
	locks         *KeyedMutex
	clock         clock.Clock
}

// NewReconciler creates a reconciler. locks serializes work per agent and may be shared.
func NewReconciler(
	conversations ports.ConversationRepository,
	presence ports.PresenceRepository,
	syncLogs ports.SyncLogRepository,
	locks *KeyedMutex,
	clk clock.Clock,
) *Reconciler {
	return &Reconciler{
		conversations: conversations,
		presence:      presence,
		syncLogs:      syncLogs,
		locks:         locks,
		clock:         clk,
	}
}

// Apply runs step (the conversation mutation caused by ev) under the agent's lock,
// then re-derives presence and emits directives for every platform whose last pushed value
// no longer matches. A start event never targets its own platform, which already knows.
// If step fails nothing is reconciled and its error is returned.
func (r *Reconciler) Apply(ctx context.Context, agent *domain.Agent, ev domain.Event, step func(ctx context.Context) error) (Transition, error) {
	unlock := r.locks.Lock(agentLockKey(agent.ID))
	defer unlock()

	if step != nil {
		if err := step(ctx); err != nil {
			return Transition{}, err
		}
	}

	env := ev.Meta()
	var skip domain.Platform
	if domain.IsStart(ev) {
		skip = env.Platform
	}
	return r.reconcile(ctx, agent, env.Platform, env.ExternalEventID, skip)
}

// Recompute re-derives the agent's presence without an event. Drift between the recorded and
// derived status, or between the derived status and what either platform was last told, is corrected.
func (r *Reconciler) Recompute(ctx context.Context, agent *domain.Agent) (Transition, error) {
	unlock := r.locks.Lock(agentLockKey(agent.ID))
	defer unlock()

	return r.reconcile(ctx, agent, "", "", "")
}

// Desired derives the status the agent should hold right now
func (r *Reconciler) Desired(ctx context.Context, agentID uint64) (domain.PresenceStatus, error) {
	chats, calls, err := r.conversations.CountOpenConversations(ctx, agentID)
	if err != nil {
		return "", err
	}
	return domain.DerivePresence(chats, calls), nil
}

func (r *Reconciler) reconcile(ctx context.Context, agent *domain.Agent, source domain.Platform, eventID string, skip domain.Platform) (Transition, error) {
	to, err := r.Desired(ctx, agent.ID)
	if err != nil {
		return Transition{}, fmt.Errorf("derive presence for agent %d: %w", agent.ID, err)
	}

	current, err := r.presence.CurrentPresence(ctx, agent.ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return Transition{}, fmt.Errorf("load presence for agent %d: %w", agent.ID, err)
	}

	pushed, err := r.presence.PushedPresence(ctx, agent.ID)
	if err != nil {
		return Transition{}, fmt.Errorf("load pushed presence for agent %d: %w", agent.ID, err)
	}

	t := Transition{From: domain.PresenceAvailable, To: to}
	if current != nil {
		t.From = current.Status
	}

	changedAt := r.clock.Now().UTC()
	if current != nil && changedAt.Before(current.ChangedAt) {
		changedAt = current.ChangedAt
	}

	if t.From != t.To {
		row := &domain.AgentPresence{
			AgentID:       agent.ID,
			Status:        to,
			Reason:        to.Reason(),
			ChangedAt:     changedAt,
			SourceEventID: eventID,
		}
		if err := r.presence.AppendPresence(ctx, row); err != nil {
			return Transition{}, err
		}
		t.Presence = row
		r.logTransition(ctx, agent, source, t)
	}

	for _, target := range []domain.Platform{domain.PlatformLiveChat, domain.PlatformRingCentral} {
		if target == skip {
			continue
		}
		want := t.To.PlatformValue(target)
		if pushed.For(target) == want {
			continue
		}
		if err := r.presence.RecordPushedPresence(ctx, agent.ID, target, want); err != nil {
			return Transition{}, err
		}
		t.Directives = append(t.Directives, domain.Directive{
			Kind:      domain.DirectivePushPresence,
			Source:    source,
			Target:    target,
			AgentID:   agent.ID,
			Value:     want,
			CreatedAt: changedAt,
		})
	}

	if !t.Changed() && len(t.Directives) == 0 {
		return t, nil
	}
	slog.Info("Agent presence reconciled",
		"agent_id", agent.ID,
		"from", t.From,
		"to", t.To,
		"source", source,
		"event_id", eventID,
		"directives", len(t.Directives),
	)
	return t, nil
}

func (r *Reconciler) logTransition(ctx context.Context, agent *domain.Agent, source domain.Platform, t Transition) {
	entry := &domain.SyncLog{
		OperationType:  OpPresenceTransition,
		SourcePlatform: source,
		AgentID:        agent.ID,
		Status:         domain.SyncSuccess,
		Attempt:        1,
		Detail:         fmt.Sprintf("%s -> %s (%s)", t.From, t.To, t.To.Reason()),
		CreatedAt:      t.Presence.ChangedAt,
	}
	if err := r.syncLogs.AppendSyncLog(ctx, entry); err != nil {
		slog.Warn("Failed to record presence transition",
			"error", err,
			"agent_id", agent.ID,
		)
	}
}

func agentLockKey(agentID uint64) string {
	return fmt.Sprintf("agent:%d", agentID)
}
