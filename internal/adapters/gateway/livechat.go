package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"syncbridge/internal/adapters/dto"
	"syncbridge/internal/config"
	"syncbridge/internal/core/domain"
	"syncbridge/internal/core/ports"
)

// LiveChatSignatureHeader carries the hex HMAC of the raw body
const LiveChatSignatureHeader = "X-LiveChat-Signature"

// LiveChat adapts the LiveChat webhooks and Agent API
type LiveChat struct {
	secret string
	schema *schemaValidator
	api    *apiClient
}

var _ ports.Platform = (*LiveChat)(nil)

// NewLiveChat creates the adapter. Outbound calls carry the configured access token as a bearer token.
func NewLiveChat(cfg config.LiveChatConfig) *LiveChat {
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, baseHTTPClient())
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: cfg.AccessToken,
		TokenType:   "Bearer",
	}))

	return &LiveChat{
		secret: cfg.WebhookSecret,
		schema: mustLoadSchema("livechat.json"),
		api:    newAPIClient(domain.PlatformLiveChat, cfg.APIURL, httpClient, parseLiveChatError),
	}
}

// Name implements ports.Platform
func (l *LiveChat) Name() domain.Platform {
	return domain.PlatformLiveChat
}

// VerifySignature implements ports.Platform
func (l *LiveChat) VerifySignature(header http.Header, body []byte) error {
	return verifyHMAC(l.secret, header.Get(LiveChatSignatureHeader), body)
}

// Normalize maps incoming_chat and chat_deactivated onto ChatStarted and ChatEnded
func (l *LiveChat) Normalize(body []byte) (domain.Event, error) {
	if err := l.schema.validate(body); err != nil {
		return nil, fmt.Errorf("livechat: %w", err)
	}

	var hook dto.LiveChatWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return nil, fmt.Errorf("livechat: %v: %w", err, domain.ErrMalformedPayload)
	}

	env := domain.Envelope{
		Platform:        domain.PlatformLiveChat,
		ExternalEventID: hook.WebhookID,
		EventType:       hook.Action,
		PayloadHash:     domain.HashPayload(body),
	}

	switch hook.Action {
	case dto.LiveChatActionIncomingChat:
		chat := hook.Payload.Chat
		if chat == nil {
			return nil, fmt.Errorf("livechat %s without chat: %w", hook.WebhookID, domain.ErrMalformedPayload)
		}
		if chat.Thread != nil {
			env.OccurredAt = chat.Thread.CreatedAt
		}

		ev := domain.ChatStarted{Envelope: env, SessionID: chat.ID}
		if agent := chat.FirstUser("agent"); agent != nil {
			ev.AgentRef = agent.ID
		}
		if customer := chat.FirstUser("customer"); customer != nil {
			ev.Customer = domain.CustomerRef{
				ExternalID: customer.ID,
				Email:      customer.Email,
				Name:       customer.Name,
			}
		}
		return ev, nil

	case dto.LiveChatActionChatDeactivated:
		return domain.ChatEnded{Envelope: env, SessionID: hook.Payload.SessionID()}, nil

	default:
		return nil, fmt.Errorf("livechat action %q: %w", hook.Action, domain.ErrUnsupportedEvent)
	}
}

// PushPresence sets the agent's routing status
func (l *LiveChat) PushPresence(ctx context.Context, agent *domain.Agent, value string) error {
	slog.Info("Setting LiveChat routing status",
		"agent_id", agent.ID,
		"livechat_agent_id", agent.LiveChatAgentID,
		"status", value,
	)
	return l.api.send(ctx, http.MethodPost, "/agent/action/set_routing_status", dto.LiveChatRoutingStatusRequest{
		AgentID: agent.LiveChatAgentID,
		Status:  value,
	})
}

// PushConversationRecord writes a call summary note on the LiveChat customer.
// Customers without a LiveChat id have nowhere to attach it.
func (l *LiveChat) PushConversationRecord(ctx context.Context, record domain.ConversationRecord) error {
	if record.Customer == nil || record.Customer.ExternalID(domain.PlatformLiveChat) == "" {
		return fmt.Errorf("conversation %d: customer has no livechat id: %w", record.Conversation.ID, domain.ErrNoRemoteTarget)
	}
	customerID := record.Customer.ExternalID(domain.PlatformLiveChat)

	slog.Info("Creating LiveChat customer note",
		"conversation_id", record.Conversation.ID,
		"livechat_customer_id", customerID,
	)
	return l.api.send(ctx, http.MethodPost, "/agent/action/create_customer_note", dto.LiveChatCustomerNoteRequest{
		CustomerID: customerID,
		Note: dto.LiveChatNote{
			Title: summaryTitle(record.Conversation),
			Text:  summaryText(record),
		},
	})
}

func parseLiveChatError(body []byte) string {
	var resp dto.LiveChatErrorResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Error.Message == "" {
		return ""
	}
	return strings.TrimSpace(resp.Error.Type + ": " + resp.Error.Message)
}
