package ports

import (
	"context"
	"net/http"

	"syncbridge/internal/core/domain"
)

// Platform is the capability set every remote platform integration provides.
// The normalizer and dispatcher depend only on this interface.
type Platform interface {
	Name() domain.Platform

	// VerifySignature checks the webhook signature header against the shared secret.
	// Returns domain.ErrInvalidSignature on mismatch.
	VerifySignature(header http.Header, body []byte) error

	// Normalize maps a verified webhook body onto a canonical event.
	// Returns domain.ErrMalformedPayload or domain.ErrUnsupportedEvent.
	Normalize(body []byte) (domain.Event, error)

	// PushPresence sets the agent's platform-side status to value
	PushPresence(ctx context.Context, agent *domain.Agent, value string) error

	// PushConversationRecord writes a summary of a closed conversation on the platform
	PushConversationRecord(ctx context.Context, record domain.ConversationRecord) error
}

// Alerter surfaces failures that need operator attention
type Alerter interface {
	Alert(ctx context.Context, title, text string) error
}

// SyncObserver receives every SyncLog entry as it is written
type SyncObserver interface {
	Publish(entry *domain.SyncLog)
}
