package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"syncbridge/internal/core/domain"
)

func TestReconciler_ApplyEmitsOnlyForOtherPlatform(t *testing.T) {
	h := createTestHarness(t)
	ctx := context.Background()
	ev := callStarted("rc-1", "call-1", testEpoch)

	tr, err := h.reconciler.Apply(ctx, h.agent, ev, func(ctx context.Context) error {
		_, _, err := h.unifier.OnStart(ctx, ev, h.agent.ID, 0)
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, domain.PresenceAvailable, tr.From)
	assert.Equal(t, domain.PresenceBusyCall, tr.To)
	require.True(t, tr.Changed())
	assert.Equal(t, "rc-1", tr.Presence.SourceEventID)
	assert.Equal(t, "on_call", tr.Presence.Reason)

	require.Len(t, tr.Directives, 1)
	assert.Equal(t, domain.PlatformLiveChat, tr.Directives[0].Target)
	assert.Equal(t, domain.PlatformRingCentral, tr.Directives[0].Source)
	assert.Equal(t, domain.LiveChatNotAcceptingChats, tr.Directives[0].Value)

	logs, err := h.store.RecentSyncLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, OpPresenceTransition, logs[0].OperationType)
}

func TestReconciler_NoChangeNoRow(t *testing.T) {
	h := createTestHarness(t)
	ctx := context.Background()

	tr, err := h.reconciler.Apply(ctx, h.agent, chatEnded("lc-1", "chat-x", testEpoch), nil)
	require.NoError(t, err)
	assert.False(t, tr.Changed())
	assert.Empty(t, tr.Directives)

	_, err = h.store.CurrentPresence(ctx, h.agent.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReconciler_StepErrorAbortsReconcile(t *testing.T) {
	h := createTestHarness(t)

	_, err := h.reconciler.Apply(context.Background(), h.agent, chatEnded("lc-1", "chat-x", testEpoch), func(ctx context.Context) error {
		return domain.ErrConversationNotFound
	})
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)
}

func TestReconciler_ChangedAtNeverDecreases(t *testing.T) {
	h := createTestHarness(t)
	ctx := context.Background()

	// A row written by a clock that ran ahead
	future := testEpoch.Add(time.Hour)
	require.NoError(t, h.store.AppendPresence(ctx, &domain.AgentPresence{
		AgentID:   h.agent.ID,
		Status:    domain.PresenceAvailable,
		ChangedAt: future,
	}))

	ev := chatStarted("lc-1", "chat-1", testEpoch)
	tr, err := h.reconciler.Apply(ctx, h.agent, ev, func(ctx context.Context) error {
		_, _, err := h.unifier.OnStart(ctx, ev, h.agent.ID, 0)
		return err
	})
	require.NoError(t, err)
	require.True(t, tr.Changed())
	assert.True(t, tr.Presence.ChangedAt.Equal(future))

	cur, err := h.store.CurrentPresence(ctx, h.agent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PresenceBusyChat, cur.Status)
}

func TestReconciler_RecomputeCorrectsDrift(t *testing.T) {
	h := createTestHarness(t)
	ctx := context.Background()

	// Recorded BusyBoth, but nothing is open
	require.NoError(t, h.store.AppendPresence(ctx, &domain.AgentPresence{
		AgentID:   h.agent.ID,
		Status:    domain.PresenceBusyBoth,
		ChangedAt: testEpoch,
	}))
	require.NoError(t, h.store.RecordPushedPresence(ctx, h.agent.ID, domain.PlatformLiveChat, domain.LiveChatNotAcceptingChats))
	require.NoError(t, h.store.RecordPushedPresence(ctx, h.agent.ID, domain.PlatformRingCentral, domain.RingCentralBusy))

	tr, err := h.reconciler.Recompute(ctx, h.agent)
	require.NoError(t, err)
	assert.Equal(t, domain.PresenceAvailable, tr.To)
	require.Len(t, tr.Directives, 2, "both platforms are corrected")

	targets := map[domain.Platform]string{}
	for _, d := range tr.Directives {
		targets[d.Target] = d.Value
	}
	assert.Equal(t, domain.LiveChatAcceptingChats, targets[domain.PlatformLiveChat])
	assert.Equal(t, domain.RingCentralAvailable, targets[domain.PlatformRingCentral])

	tr, err = h.reconciler.Recompute(ctx, h.agent)
	require.NoError(t, err)
	assert.False(t, tr.Changed())
	assert.Empty(t, tr.Directives)
}

func TestReconciler_RecomputeRestoresMissingHold(t *testing.T) {
	h := createTestHarness(t)
	ctx := context.Background()
	ev := callStarted("rc-1", "call-1", testEpoch)

	// The call is open and recorded, but LiveChat was never told
	_, _, err := h.unifier.OnStart(ctx, ev, h.agent.ID, 0)
	require.NoError(t, err)
	require.NoError(t, h.store.AppendPresence(ctx, &domain.AgentPresence{
		AgentID:   h.agent.ID,
		Status:    domain.PresenceBusyCall,
		ChangedAt: testEpoch,
	}))

	tr, err := h.reconciler.Recompute(ctx, h.agent)
	require.NoError(t, err)
	assert.False(t, tr.Changed())
	require.Len(t, tr.Directives, 1)
	assert.Equal(t, domain.PlatformLiveChat, tr.Directives[0].Target)
	assert.Equal(t, domain.LiveChatNotAcceptingChats, tr.Directives[0].Value)

	pushed, err := h.store.PushedPresence(ctx, h.agent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LiveChatNotAcceptingChats, pushed.LiveChat)
	assert.Empty(t, pushed.RingCentral)

	tr, err = h.reconciler.Recompute(ctx, h.agent)
	require.NoError(t, err)
	assert.Empty(t, tr.Directives)
}
