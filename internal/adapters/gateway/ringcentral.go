package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"syncbridge/internal/adapters/dto"
	"syncbridge/internal/config"
	"syncbridge/internal/core/domain"
	"syncbridge/internal/core/ports"
)

const (
	// RingCentralSignatureHeader carries the hex HMAC of the raw body
	RingCentralSignatureHeader = "X-RingCentral-Signature"

	// ValidationTokenHeader is sent once when a webhook subscription is created
	ValidationTokenHeader = "Validation-Token"

	jwtBearerGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"
)

// RingCentral adapts telephony session notifications and the RingCentral REST API
type RingCentral struct {
	secret string
	schema *schemaValidator
	api    *apiClient
}

var _ ports.Platform = (*RingCentral)(nil)

// NewRingCentral creates the adapter. Outbound calls use the JWT bearer grant against
// {api_url}/restapi/oauth/token; tokens are cached and refreshed by oauth2.
func NewRingCentral(cfg config.RingCentralConfig) *RingCentral {
	base := strings.TrimRight(cfg.APIURL, "/")
	creds := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     base + "/restapi/oauth/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
		EndpointParams: url.Values{
			"grant_type": {jwtBearerGrant},
			"assertion":  {cfg.JWT},
		},
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, baseHTTPClient())

	return &RingCentral{
		secret: cfg.WebhookSecret,
		schema: mustLoadSchema("ringcentral.json"),
		api:    newAPIClient(domain.PlatformRingCentral, base, creds.Client(ctx), parseRingCentralError),
	}
}

// Name implements ports.Platform
func (r *RingCentral) Name() domain.Platform {
	return domain.PlatformRingCentral
}

// VerifySignature implements ports.Platform
func (r *RingCentral) VerifySignature(header http.Header, body []byte) error {
	return verifyHMAC(r.secret, header.Get(RingCentralSignatureHeader), body)
}

// ValidationToken returns the subscription handshake token from the header or,
// for older subscriptions, the body. Empty for regular notifications.
func (r *RingCentral) ValidationToken(header http.Header, body []byte) string {
	if token := header.Get(ValidationTokenHeader); token != "" {
		return token
	}
	var probe struct {
		ValidationToken string `json:"validationToken"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return ""
	}
	return probe.ValidationToken
}

// Normalize maps the agent party's status onto CallStarted or CallEnded.
// Ringing and answered states all open the call; repeated starts are absorbed by the unifier.
func (r *RingCentral) Normalize(body []byte) (domain.Event, error) {
	if err := r.schema.validate(body); err != nil {
		return nil, fmt.Errorf("ringcentral: %w", err)
	}

	var hook dto.RingCentralWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return nil, fmt.Errorf("ringcentral: %v: %w", err, domain.ErrMalformedPayload)
	}
	if hook.Body == nil {
		return nil, fmt.Errorf("ringcentral notification without body: %w", domain.ErrUnsupportedEvent)
	}

	party := hook.Body.AgentParty()
	if party == nil {
		return nil, fmt.Errorf("ringcentral session %s has no agent party: %w", hook.Body.SessionKey(), domain.ErrUnsupportedEvent)
	}

	status := string(party.Status)
	env := domain.Envelope{
		Platform:        domain.PlatformRingCentral,
		ExternalEventID: eventID(hook.UUID, body),
		EventType:       "telephony_session." + strings.ToLower(status),
		PayloadHash:     domain.HashPayload(body),
	}
	if hook.Timestamp != nil {
		env.OccurredAt = *hook.Timestamp
	}

	switch status {
	case dto.RingCentralStatusSetup, dto.RingCentralStatusProceeding,
		dto.RingCentralStatusAnswered, dto.RingCentralStatusConnected:
		direction := string(party.Direction)
		if direction == "" {
			direction = "Inbound"
		}
		remote := party.From
		if direction == "Outbound" {
			remote = party.To
		}
		return domain.CallStarted{
			Envelope:  env,
			AgentRef:  party.ExtensionID,
			SessionID: hook.Body.SessionKey(),
			Direction: direction,
			Customer: domain.CustomerRef{
				Phone: party.CustomerNumber(),
				Name:  remote.Name,
			},
		}, nil

	case dto.RingCentralStatusDisconnected:
		return domain.CallEnded{
			Envelope:  env,
			SessionID: hook.Body.SessionKey(),
			AgentRef:  party.ExtensionID,
		}, nil

	default:
		return nil, fmt.Errorf("ringcentral party status %q: %w", status, domain.ErrUnsupportedEvent)
	}
}

// PushPresence sets the extension's user status
func (r *RingCentral) PushPresence(ctx context.Context, agent *domain.Agent, value string) error {
	slog.Info("Setting RingCentral presence",
		"agent_id", agent.ID,
		"extension_id", agent.RingCentralExtensionID,
		"status", value,
	)
	path := fmt.Sprintf("/restapi/v1.0/account/~/extension/%s/presence", url.PathEscape(agent.RingCentralExtensionID))
	return r.api.send(ctx, http.MethodPut, path, dto.RingCentralPresenceRequest{UserStatus: value})
}

// PushConversationRecord writes a chat summary note on the agent's extension
func (r *RingCentral) PushConversationRecord(ctx context.Context, record domain.ConversationRecord) error {
	if record.Agent == nil {
		return fmt.Errorf("conversation %d has no agent: %w", record.Conversation.ID, domain.ErrNoRemoteTarget)
	}

	note := dto.RingCentralNoteRequest{
		Subject: summaryTitle(record.Conversation),
		Body:    summaryText(record),
	}
	if record.Customer != nil {
		note.ContactID = record.Customer.ExternalID(domain.PlatformRingCentral)
	}

	slog.Info("Creating RingCentral note",
		"conversation_id", record.Conversation.ID,
		"extension_id", record.Agent.RingCentralExtensionID,
	)
	path := fmt.Sprintf("/restapi/v1.0/account/~/extension/%s/note", url.PathEscape(record.Agent.RingCentralExtensionID))
	return r.api.send(ctx, http.MethodPost, path, note)
}

// eventID falls back to a name-based UUID of the body so redeliveries of an
// id-less notification still deduplicate
func eventID(id string, body []byte) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return "rc-" + uuid.NewSHA1(uuid.NameSpaceOID, body).String()
}

func parseRingCentralError(body []byte) string {
	var resp dto.RingCentralErrorResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Message == "" {
		return ""
	}
	if resp.ErrorCode == "" {
		return resp.Message
	}
	return resp.ErrorCode + ": " + resp.Message
}
