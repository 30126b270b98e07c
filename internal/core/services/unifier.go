package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"syncbridge/internal/clock"
	"syncbridge/internal/core/domain"
	"syncbridge/internal/core/ports"
)

// Unifier materializes one Conversation row per platform session and closes it exactly once
type Unifier struct {
	conversations ports.ConversationRepository
	clock         clock.Clock
}

// NewUnifier creates a new unifier
func NewUnifier(conversations ports.ConversationRepository, clk clock.Clock) *Unifier {
	return &Unifier{conversations: conversations, clock: clk}
}

// OnStart records the conversation opened by ev. A repeated start returns the stored row
// unchanged, even when it has already ended.
func (u *Unifier) OnStart(ctx context.Context, ev domain.Event, agentID, customerID uint64) (*domain.Conversation, bool, error) {
	env := ev.Meta()
	conv := &domain.Conversation{
		Type:              domain.ConversationTypeOf(ev),
		Platform:          env.Platform,
		ExternalSessionID: ev.Session(),
		AgentID:           agentID,
		Status:            domain.ConversationActive,
		StartedAt:         u.eventTime(env),
	}
	if customerID != 0 {
		conv.CustomerID = &customerID
	}
	if call, ok := ev.(domain.CallStarted); ok {
		conv.Direction = strings.ToLower(call.Direction)
	}

	created, err := u.conversations.CreateConversation(ctx, conv)
	if err != nil {
		return nil, false, err
	}
	if created {
		slog.Info("Conversation started",
			"conversation_id", conv.ID,
			"type", conv.Type,
			"platform", conv.Platform,
			"session_id", conv.ExternalSessionID,
			"agent_id", agentID,
		)
	} else {
		slog.Info("Conversation already recorded",
			"conversation_id", conv.ID,
			"status", conv.Status,
			"session_id", conv.ExternalSessionID,
		)
	}
	return conv, created, nil
}

// Find returns the conversation ev refers to, or domain.ErrConversationNotFound
func (u *Unifier) Find(ctx context.Context, ev domain.Event) (*domain.Conversation, error) {
	env := ev.Meta()
	conv, err := u.conversations.FindConversation(ctx, env.Platform, ev.Session())
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%s session %s: %w", env.Platform, ev.Session(), domain.ErrConversationNotFound)
	}
	return conv, err
}

// OnEnd closes the conversation ev refers to. The bool reports whether this call performed
// the active -> ended transition; an already ended conversation is returned unchanged.
func (u *Unifier) OnEnd(ctx context.Context, ev domain.Event) (*domain.Conversation, bool, error) {
	conv, err := u.Find(ctx, ev)
	if err != nil {
		return nil, false, err
	}
	if conv.Status != domain.ConversationActive {
		return conv, false, nil
	}

	endedAt := u.eventTime(ev.Meta())
	if !conv.StartedAt.IsZero() {
		if endedAt.Before(conv.StartedAt) {
			endedAt = conv.StartedAt
		}
		dur := int64(endedAt.Sub(conv.StartedAt) / time.Second)
		conv.DurationSeconds = &dur
	}
	conv.EndedAt = &endedAt

	closed, err := u.conversations.CloseConversation(ctx, conv)
	if err != nil {
		return nil, false, err
	}
	if !closed {
		// Lost the race to a concurrent end; report the stored row
		stored, err := u.conversations.GetConversation(ctx, conv.ID)
		if err != nil {
			return nil, false, err
		}
		return stored, false, nil
	}

	attrs := []any{
		"conversation_id", conv.ID,
		"type", conv.Type,
		"session_id", conv.ExternalSessionID,
	}
	if conv.DurationSeconds != nil {
		attrs = append(attrs, "duration_seconds", *conv.DurationSeconds)
	}
	slog.Info("Conversation ended", attrs...)
	return conv, true, nil
}

// RecordDirective builds the summary push for a closed conversation, aimed at the other platform
func (u *Unifier) RecordDirective(conv *domain.Conversation) domain.Directive {
	return domain.Directive{
		Kind:           domain.DirectivePushConversationRecord,
		Source:         conv.Platform,
		Target:         conv.Platform.Other(),
		AgentID:        conv.AgentID,
		ConversationID: conv.ID,
		CreatedAt:      u.clock.Now().UTC(),
	}
}

func (u *Unifier) eventTime(env domain.Envelope) time.Time {
	if env.OccurredAt.IsZero() {
		return u.clock.Now().UTC()
	}
	return env.OccurredAt.UTC()
}
