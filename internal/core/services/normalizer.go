package services

import (
	"fmt"
	"net/http"
	"strings"

	"syncbridge/internal/core/domain"
	"syncbridge/internal/core/ports"
)

// Normalizer authenticates webhook bodies and maps them onto canonical events
type Normalizer struct {
	platforms map[domain.Platform]ports.Platform
}

// NewNormalizer registers one adapter per platform
func NewNormalizer(platforms ...ports.Platform) *Normalizer {
	n := &Normalizer{platforms: make(map[domain.Platform]ports.Platform, len(platforms))}
	for _, p := range platforms {
		n.platforms[p.Name()] = p
	}
	return n
}

// Normalize verifies the signature before looking at the body, then delegates to the platform adapter.
// The returned event always carries a non-empty event id and the payload hash.
func (n *Normalizer) Normalize(platform domain.Platform, header http.Header, body []byte) (domain.Event, error) {
	adapter, ok := n.platforms[platform]
	if !ok {
		return nil, fmt.Errorf("platform %q: %w", platform, domain.ErrMalformedPayload)
	}

	if err := adapter.VerifySignature(header, body); err != nil {
		return nil, err
	}

	ev, err := adapter.Normalize(body)
	if err != nil {
		return nil, err
	}

	env := ev.Meta()
	if strings.TrimSpace(env.ExternalEventID) == "" {
		return nil, fmt.Errorf("%s event without id: %w", platform, domain.ErrMalformedPayload)
	}
	if strings.TrimSpace(ev.Session()) == "" {
		return nil, fmt.Errorf("%s event %s without session: %w", platform, env.ExternalEventID, domain.ErrMalformedPayload)
	}
	return ev, nil
}
