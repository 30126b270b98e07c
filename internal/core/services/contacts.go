package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nyaruka/phonenumbers"

	"syncbridge/internal/core/domain"
	"syncbridge/internal/core/ports"
)

// maxResolveAttempts bounds restarts after a unique-key race with a concurrent resolver
const maxResolveAttempts = 3

// ContactResolver maps platform customer references onto canonical customers
type ContactResolver struct {
	customers ports.CustomerRepository
	region    string
}

// NewContactResolver creates a resolver. region is the ISO 3166 default for phone numbers without a country code.
func NewContactResolver(customers ports.CustomerRepository, region string) *ContactResolver {
	return &ContactResolver{
		customers: customers,
		region:    strings.ToUpper(strings.TrimSpace(region)),
	}
}

// Resolve returns the canonical customer id for ref, creating or enriching the customer as needed.
// Match priority is platform external id, then email, then phone.
// An empty reference resolves to 0 without touching the store.
func (r *ContactResolver) Resolve(ctx context.Context, platform domain.Platform, ref domain.CustomerRef) (uint64, error) {
	ref = r.normalize(ref)
	if ref.IsZero() {
		return 0, nil
	}

	for attempt := 1; attempt <= maxResolveAttempts; attempt++ {
		var id uint64
		err := r.customers.InCustomerTx(ctx, func(tx ports.CustomerStore) error {
			var err error
			id, err = r.resolveOnce(ctx, tx, platform, ref)
			return err
		})
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, domain.ErrDuplicate) {
			return 0, fmt.Errorf("resolve customer: %w", err)
		}
		slog.Debug("Customer resolution raced, retrying",
			"platform", platform,
			"attempt", attempt,
		)
	}
	return 0, fmt.Errorf("resolve customer: conflict persisted after %d attempts: %w", maxResolveAttempts, domain.ErrDuplicate)
}

func (r *ContactResolver) resolveOnce(ctx context.Context, tx ports.CustomerStore, platform domain.Platform, ref domain.CustomerRef) (uint64, error) {
	candidates := []struct {
		key   ports.CustomerKey
		value string
	}{
		{externalKey(platform), ref.ExternalID},
		{ports.CustomerByEmail, ref.Email},
		{ports.CustomerByPhone, ref.Phone},
	}

	for _, cand := range candidates {
		if cand.value == "" {
			continue
		}
		c, err := tx.FindCustomerBy(ctx, cand.key, cand.value)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if err := r.enrich(ctx, tx, c, platform, ref); err != nil {
			return 0, err
		}
		return c.ID, nil
	}

	c := &domain.Customer{Name: ref.Name}
	setExternalID(c, platform, ref.ExternalID)
	c.Email = optional(ref.Email)
	c.Phone = optional(ref.Phone)

	created, err := tx.CreateCustomer(ctx, c)
	if err != nil {
		return 0, err
	}
	if !created {
		// Another resolver inserted a matching customer first; the next pass finds it
		return 0, domain.ErrDuplicate
	}

	slog.Info("Customer created",
		"customer_id", c.ID,
		"platform", platform,
	)
	return c.ID, nil
}

// enrich fills the customer's empty fields from ref, skipping values another customer already owns
func (r *ContactResolver) enrich(ctx context.Context, tx ports.CustomerStore, c *domain.Customer, platform domain.Platform, ref domain.CustomerRef) error {
	changed := false

	free := func(key ports.CustomerKey, value string) (bool, error) {
		other, err := tx.FindCustomerBy(ctx, key, value)
		if errors.Is(err, domain.ErrNotFound) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		return other.ID == c.ID, nil
	}

	fills := []struct {
		key     ports.CustomerKey
		value   string
		missing bool
		apply   func()
	}{
		{externalKey(platform), ref.ExternalID, c.ExternalID(platform) == "", func() { setExternalID(c, platform, ref.ExternalID) }},
		{ports.CustomerByEmail, ref.Email, c.Email == nil, func() { c.Email = optional(ref.Email) }},
		{ports.CustomerByPhone, ref.Phone, c.Phone == nil, func() { c.Phone = optional(ref.Phone) }},
	}
	for _, f := range fills {
		if f.value == "" || !f.missing {
			continue
		}
		ok, err := free(f.key, f.value)
		if err != nil {
			return err
		}
		if !ok {
			slog.Warn("Customer field owned by another customer, not merged",
				"customer_id", c.ID,
				"field", string(f.key),
			)
			continue
		}
		f.apply()
		changed = true
	}

	if c.Name == "" && ref.Name != "" {
		c.Name = ref.Name
		changed = true
	}

	if !changed {
		return nil
	}
	return tx.UpdateCustomer(ctx, c)
}

func (r *ContactResolver) normalize(ref domain.CustomerRef) domain.CustomerRef {
	return domain.CustomerRef{
		ExternalID: strings.TrimSpace(ref.ExternalID),
		Email:      strings.ToLower(strings.TrimSpace(ref.Email)),
		Phone:      NormalizePhone(ref.Phone, r.region),
		Name:       strings.TrimSpace(ref.Name),
	}
}

// NormalizePhone formats raw as E.164. Numbers the parser rejects are kept trimmed as given.
func NormalizePhone(raw, region string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	num, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return raw
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}

func externalKey(platform domain.Platform) ports.CustomerKey {
	if platform == domain.PlatformLiveChat {
		return ports.CustomerByLiveChatID
	}
	return ports.CustomerByRingCentralID
}

func setExternalID(c *domain.Customer, platform domain.Platform, id string) {
	if platform == domain.PlatformLiveChat {
		c.LiveChatCustomerID = optional(id)
		return
	}
	c.RingCentralContactID = optional(id)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
