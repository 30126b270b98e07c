package services

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"syncbridge/internal/adapters/repository"
	"syncbridge/internal/clock"
	"syncbridge/internal/core/domain"
	"syncbridge/internal/core/ports"
)

// ============================================================================
// Mocks and fakes
// ============================================================================

// MockPlatform mocks the remote side of ports.Platform; inbound calls are scripted by body
type MockPlatform struct {
	mock.Mock
	name   domain.Platform
	events map[string]domain.Event
}

func newMockPlatform(name domain.Platform) *MockPlatform {
	return &MockPlatform{name: name, events: make(map[string]domain.Event)}
}

func (m *MockPlatform) Name() domain.Platform { return m.name }

func (m *MockPlatform) VerifySignature(header http.Header, body []byte) error {
	if header.Get("X-Test-Signature") != "valid" {
		return domain.ErrInvalidSignature
	}
	return nil
}

func (m *MockPlatform) Normalize(body []byte) (domain.Event, error) {
	ev, ok := m.events[string(body)]
	if !ok {
		return nil, domain.ErrUnsupportedEvent
	}
	return ev, nil
}

func (m *MockPlatform) PushPresence(ctx context.Context, agent *domain.Agent, value string) error {
	args := m.Called(agent.ID, value)
	return args.Error(0)
}

func (m *MockPlatform) PushConversationRecord(ctx context.Context, record domain.ConversationRecord) error {
	args := m.Called(record.Conversation.ID)
	return args.Error(0)
}

// MockAlerter mocks ports.Alerter
type MockAlerter struct {
	mock.Mock
}

func (m *MockAlerter) Alert(ctx context.Context, title, text string) error {
	args := m.Called(title, text)
	return args.Error(0)
}

// recordingObserver captures published sync logs
type recordingObserver struct {
	mu      sync.Mutex
	entries []domain.SyncLog
}

func (o *recordingObserver) Publish(entry *domain.SyncLog) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries = append(o.entries, *entry)
}

func (o *recordingObserver) statuses() []domain.SyncStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]domain.SyncStatus, 0, len(o.entries))
	for _, e := range o.entries {
		out = append(out, e.Status)
	}
	return out
}

// recordingSink captures directives instead of dispatching them
type recordingSink struct {
	mu   sync.Mutex
	dirs []domain.Directive
}

func (s *recordingSink) Dispatch(dir domain.Directive) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirs = append(s.dirs, dir)
	return nil
}

func (s *recordingSink) take() []domain.Directive {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.dirs
	s.dirs = nil
	return out
}

// inlineRunner runs jobs on the submitting goroutine
type inlineRunner struct{}

func (inlineRunner) Submit(key string, job func(ctx context.Context)) error {
	job(context.Background())
	return nil
}

// fullRunner rejects every job
type fullRunner struct{}

func (fullRunner) Submit(string, func(ctx context.Context)) error {
	return domain.ErrQueueFull
}

// ============================================================================
// Test Helper Functions
// ============================================================================

var testEpoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// harness wires the ingest pipeline against an in-memory sqlite store
type harness struct {
	store      *repository.Store
	clock      *clock.FakeClock
	locks      *KeyedMutex
	lc         *MockPlatform
	rc         *MockPlatform
	directory  *AgentDirectory
	contacts   *ContactResolver
	unifier    *Unifier
	reconciler *Reconciler
	ledger     *Ledger
	sink       *recordingSink
	processor  *Processor
	agent      *domain.Agent
}

func openTestStore(t *testing.T) *repository.Store {
	t.Helper()
	db, err := repository.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return repository.NewStore(db)
}

func createTestHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store: openTestStore(t),
		clock: clock.NewFake(testEpoch),
		locks: NewKeyedMutex(),
		lc:    newMockPlatform(domain.PlatformLiveChat),
		rc:    newMockPlatform(domain.PlatformRingCentral),
		sink:  &recordingSink{},
	}
	h.directory = NewAgentDirectory(h.store, h.store)
	h.contacts = NewContactResolver(h.store, "US")
	h.unifier = NewUnifier(h.store, h.clock)
	h.reconciler = NewReconciler(h.store, h.store, h.store, h.locks, h.clock)
	h.ledger = NewLedger(h.store, nil, 720*time.Hour, h.clock)
	h.processor = NewProcessor(
		NewNormalizer(h.lc, h.rc),
		h.ledger,
		inlineRunner{},
		h.directory,
		h.contacts,
		h.unifier,
		h.reconciler,
		h.sink,
		5*time.Second,
	)

	h.agent = &domain.Agent{LiveChatAgentID: "lc-agent-1", RingCentralExtensionID: "101", Name: "Ann"}
	require.NoError(t, h.directory.Register(context.Background(), h.agent))
	return h
}

func envelope(p domain.Platform, id string, at time.Time) domain.Envelope {
	return domain.Envelope{
		Platform:        p,
		ExternalEventID: id,
		EventType:       "test",
		OccurredAt:      at,
		PayloadHash:     domain.HashPayload([]byte(id)),
	}
}

func chatStarted(id, session string, at time.Time) domain.ChatStarted {
	return domain.ChatStarted{
		Envelope:  envelope(domain.PlatformLiveChat, id, at),
		AgentRef:  "lc-agent-1",
		Customer:  domain.CustomerRef{ExternalID: "lc-cust-1", Email: "Customer@Example.com", Name: "Cus"},
		SessionID: session,
	}
}

func chatEnded(id, session string, at time.Time) domain.ChatEnded {
	return domain.ChatEnded{Envelope: envelope(domain.PlatformLiveChat, id, at), SessionID: session}
}

func callStarted(id, session string, at time.Time) domain.CallStarted {
	return domain.CallStarted{
		Envelope:  envelope(domain.PlatformRingCentral, id, at),
		AgentRef:  "101",
		Customer:  domain.CustomerRef{Phone: "(415) 555-0100"},
		SessionID: session,
		Direction: "Inbound",
	}
}

func callEnded(id, session string, at time.Time) domain.CallEnded {
	return domain.CallEnded{Envelope: envelope(domain.PlatformRingCentral, id, at), SessionID: session}
}

func validHeader() http.Header {
	h := http.Header{}
	h.Set("X-Test-Signature", "valid")
	return h
}

func currentStatus(t *testing.T, h *harness) domain.PresenceStatus {
	t.Helper()
	status, err := h.directory.CurrentStatus(context.Background(), h.agent.ID)
	require.NoError(t, err)
	return status
}

// interface assertions for the fakes
var (
	_ ports.Platform     = (*MockPlatform)(nil)
	_ ports.Alerter      = (*MockAlerter)(nil)
	_ ports.SyncObserver = (*recordingObserver)(nil)
	_ Runner             = inlineRunner{}
	_ DirectiveSink      = (*recordingSink)(nil)
)
