package gateway

import (
	"fmt"
	"strings"
	"time"

	"syncbridge/internal/core/domain"
)

// summaryTitle names a conversation note, e.g. "LiveChat chat - 8a1f"
func summaryTitle(conv *domain.Conversation) string {
	return fmt.Sprintf("%s %s - %s", platformLabel(conv.Platform), conv.Type, conv.ExternalSessionID)
}

// summaryText renders the closed conversation as a plain-text note
func summaryText(record domain.ConversationRecord) string {
	conv := record.Conversation
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s summary\n", platformLabel(conv.Platform), conv.Type)
	fmt.Fprintf(&b, "Session: %s\n", conv.ExternalSessionID)
	if conv.Direction != "" {
		fmt.Fprintf(&b, "Direction: %s\n", conv.Direction)
	}
	if record.Agent != nil && record.Agent.Name != "" {
		fmt.Fprintf(&b, "Agent: %s\n", record.Agent.Name)
	}
	if c := record.Customer; c != nil {
		var parts []string
		if c.Name != "" {
			parts = append(parts, c.Name)
		}
		if c.Email != nil {
			parts = append(parts, *c.Email)
		}
		if c.Phone != nil {
			parts = append(parts, *c.Phone)
		}
		if len(parts) > 0 {
			fmt.Fprintf(&b, "Customer: %s\n", strings.Join(parts, ", "))
		}
	}
	fmt.Fprintf(&b, "Started: %s\n", conv.StartedAt.UTC().Format(time.RFC3339))
	if conv.EndedAt != nil {
		fmt.Fprintf(&b, "Ended: %s\n", conv.EndedAt.UTC().Format(time.RFC3339))
	}
	if conv.DurationSeconds != nil {
		fmt.Fprintf(&b, "Duration: %ds\n", *conv.DurationSeconds)
	}
	return b.String()
}

func platformLabel(p domain.Platform) string {
	if p == domain.PlatformLiveChat {
		return "LiveChat"
	}
	return "RingCentral"
}
