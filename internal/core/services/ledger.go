// Package services contains core business logic
// Following Hexagonal Architecture: Services orchestrate domain logic using ports
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"syncbridge/internal/clock"
	"syncbridge/internal/core/domain"
	"syncbridge/internal/core/ports"
)

// Admission is the ledger's verdict on an inbound event
type Admission int

// Admission values
const (
	Admitted Admission = iota + 1
	Duplicate
)

func (a Admission) String() string {
	switch a {
	case Admitted:
		return "admitted"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Ledger records every admitted inbound event id so that redeliveries are processed at most once.
// The Redis cache is an optional fast path; the receipt table's unique index is the authority.
type Ledger struct {
	receipts  ports.ReceiptRepository
	cache     ports.DedupCache
	retention time.Duration
	clock     clock.Clock
}

// NewLedger creates a ledger. cache may be nil.
func NewLedger(receipts ports.ReceiptRepository, cache ports.DedupCache, retention time.Duration, clk clock.Clock) *Ledger {
	return &Ledger{
		receipts:  receipts,
		cache:     cache,
		retention: retention,
		clock:     clk,
	}
}

// Admit decides whether env is seen for the first time.
// Concurrent calls for the same (platform, event id) yield exactly one Admitted.
func (l *Ledger) Admit(ctx context.Context, env domain.Envelope) (Admission, error) {
	key := dedupKey(env.Platform, env.ExternalEventID)

	// ========================================================================
	// Step 1: Fast path. A cache outage degrades to the durable check.
	// ========================================================================
	claimed := false
	if l.cache != nil {
		ok, err := l.cache.Claim(ctx, key, l.retention)
		switch {
		case err != nil:
			slog.Warn("Dedup cache unavailable, falling back to receipt store",
				"error", err,
				"platform", env.Platform,
				"event_id", env.ExternalEventID,
			)
		case !ok:
			slog.Info("Duplicate event detected in cache",
				"platform", env.Platform,
				"event_id", env.ExternalEventID,
			)
			return Duplicate, nil
		default:
			claimed = true
		}
	}

	// ========================================================================
	// Step 2: Durable insert guarded by the unique index
	// ========================================================================
	receipt := &domain.WebhookReceipt{
		SourcePlatform:  env.Platform,
		ExternalEventID: env.ExternalEventID,
		EventType:       env.EventType,
		PayloadHash:     env.PayloadHash,
		ReceivedAt:      l.clock.Now().UTC(),
	}
	err := l.receipts.InsertReceipt(ctx, receipt)
	if errors.Is(err, domain.ErrDuplicate) {
		slog.Info("Duplicate event detected in receipt store",
			"platform", env.Platform,
			"event_id", env.ExternalEventID,
		)
		return Duplicate, nil
	}
	if err != nil {
		if claimed {
			l.releaseCache(key)
		}
		return 0, fmt.Errorf("admit %s event %s: %w", env.Platform, env.ExternalEventID, err)
	}

	return Admitted, nil
}

// Release undoes an admission whose hand-off failed so the sender's redelivery is processed
func (l *Ledger) Release(ctx context.Context, env domain.Envelope) error {
	if err := l.receipts.DeleteReceipt(ctx, env.Platform, env.ExternalEventID); err != nil {
		return fmt.Errorf("release %s event %s: %w", env.Platform, env.ExternalEventID, err)
	}
	if l.cache != nil {
		l.releaseCache(dedupKey(env.Platform, env.ExternalEventID))
	}
	return nil
}

// releaseCache runs on its own context so a cancelled request cannot strand the key
func (l *Ledger) releaseCache(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.cache.Release(ctx, key); err != nil {
		slog.Error("Failed to release dedup key",
			"error", err,
			"key", key,
		)
	}
}

// dedupKey builds the cache key dedup:{platform}:{event id}
func dedupKey(platform domain.Platform, eventID string) string {
	return fmt.Sprintf("dedup:%s:%s", platform, eventID)
}
