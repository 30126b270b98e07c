package services

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"syncbridge/internal/core/domain"
)

func TestUnifier_StartIsIdempotent(t *testing.T) {
	h := createTestHarness(t)
	ctx := context.Background()

	first, created, err := h.unifier.OnStart(ctx, chatStarted("lc-1", "chat-1", testEpoch), h.agent.ID, 0)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Nil(t, first.CustomerID)

	again, created, err := h.unifier.OnStart(ctx, chatStarted("lc-2", "chat-1", testEpoch.Add(time.Minute)), h.agent.ID, 0)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.True(t, again.StartedAt.Equal(testEpoch))
}

func TestUnifier_EndedConversationIsNotResurrected(t *testing.T) {
	h := createTestHarness(t)
	ctx := context.Background()

	_, _, err := h.unifier.OnStart(ctx, chatStarted("lc-1", "chat-1", testEpoch), h.agent.ID, 0)
	require.NoError(t, err)
	_, closed, err := h.unifier.OnEnd(ctx, chatEnded("lc-2", "chat-1", testEpoch.Add(time.Minute)))
	require.NoError(t, err)
	require.True(t, closed)

	conv, created, err := h.unifier.OnStart(ctx, chatStarted("lc-3", "chat-1", testEpoch.Add(2*time.Minute)), h.agent.ID, 0)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, domain.ConversationEnded, conv.Status)
}

func TestUnifier_EndClosesOnce(t *testing.T) {
	h := createTestHarness(t)
	ctx := context.Background()

	_, _, err := h.unifier.OnStart(ctx, callStarted("rc-1", "call-1", testEpoch), h.agent.ID, 0)
	require.NoError(t, err)

	conv, closed, err := h.unifier.OnEnd(ctx, callEnded("rc-2", "call-1", testEpoch.Add(42*time.Second)))
	require.NoError(t, err)
	assert.True(t, closed)
	require.NotNil(t, conv.EndedAt)
	require.NotNil(t, conv.DurationSeconds)
	assert.Equal(t, int64(42), *conv.DurationSeconds)

	conv, closed, err = h.unifier.OnEnd(ctx, callEnded("rc-3", "call-1", testEpoch.Add(time.Hour)))
	require.NoError(t, err)
	assert.False(t, closed)
	assert.Equal(t, int64(42), *conv.DurationSeconds, "first end wins")
}

func TestUnifier_EndLogsDurationValue(t *testing.T) {
	h := createTestHarness(t)
	ctx := context.Background()

	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	_, _, err := h.unifier.OnStart(ctx, callStarted("rc-1", "call-1", testEpoch), h.agent.ID, 0)
	require.NoError(t, err)
	_, closed, err := h.unifier.OnEnd(ctx, callEnded("rc-2", "call-1", testEpoch.Add(42*time.Second)))
	require.NoError(t, err)
	require.True(t, closed)

	var ended string
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.Contains(line, `msg="Conversation ended"`) {
			ended = line
		}
	}
	require.NotEmpty(t, ended)
	assert.Contains(t, ended, "duration_seconds=42")
}

func TestUnifier_EndBeforeStartClamps(t *testing.T) {
	h := createTestHarness(t)
	ctx := context.Background()

	_, _, err := h.unifier.OnStart(ctx, chatStarted("lc-1", "chat-1", testEpoch), h.agent.ID, 0)
	require.NoError(t, err)

	conv, closed, err := h.unifier.OnEnd(ctx, chatEnded("lc-2", "chat-1", testEpoch.Add(-time.Minute)))
	require.NoError(t, err)
	assert.True(t, closed)
	assert.True(t, conv.EndedAt.Equal(testEpoch))
	assert.Zero(t, *conv.DurationSeconds)
}

func TestUnifier_EndWithoutStart(t *testing.T) {
	h := createTestHarness(t)

	_, _, err := h.unifier.OnEnd(context.Background(), chatEnded("lc-1", "chat-missing", testEpoch))
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)
}

func TestUnifier_MissingTimestampUsesClock(t *testing.T) {
	h := createTestHarness(t)

	conv, _, err := h.unifier.OnStart(context.Background(), chatStarted("lc-1", "chat-1", time.Time{}), h.agent.ID, 0)
	require.NoError(t, err)
	assert.True(t, conv.StartedAt.Equal(testEpoch))
}

func TestUnifier_RecordDirectiveTargetsOtherPlatform(t *testing.T) {
	h := createTestHarness(t)
	conv := &domain.Conversation{ID: 9, Platform: domain.PlatformRingCentral, AgentID: h.agent.ID}

	d := h.unifier.RecordDirective(conv)
	assert.Equal(t, domain.DirectivePushConversationRecord, d.Kind)
	assert.Equal(t, domain.PlatformLiveChat, d.Target)
	assert.Equal(t, uint64(9), d.ConversationID)
}
