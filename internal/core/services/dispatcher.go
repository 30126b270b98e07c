package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"syncbridge/internal/clock"
	"syncbridge/internal/core/domain"
	"syncbridge/internal/core/ports"
)

// ErrDispatcherStopped is returned by Dispatch after Stop
var ErrDispatcherStopped = errors.New("dispatcher stopped")

// DispatcherConfig holds the outbound worker pool and retry policy
type DispatcherConfig struct {
	Workers        int
	QueueSize      int
	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	AttemptTimeout time.Duration
	RatePerSecond  float64 // per target platform; <= 0 disables limiting
	Burst          int
}

// DesiredPresence re-derives an agent's status at dispatch time
type DesiredPresence interface {
	Desired(ctx context.Context, agentID uint64) (domain.PresenceStatus, error)
}

// DispatcherDeps are the collaborators of the outbound dispatcher.
// Alerter and Observer are optional.
type DispatcherDeps struct {
	Platforms     []ports.Platform
	Directory     *AgentDirectory
	Desired       DesiredPresence
	Conversations ports.ConversationRepository
	Customers     ports.CustomerRepository
	SyncLogs      ports.SyncLogRepository
	Alerter       ports.Alerter
	Observer      ports.SyncObserver
	Gate          *DispatchGate
	Locks         *KeyedMutex
	Clock         clock.Clock
}

// Dispatcher pushes directives to remote platforms from a bounded queue.
// Retries are rescheduled on the clock rather than slept on, so workers never block on backoff.
type Dispatcher struct {
	cfg       DispatcherConfig
	deps      DispatcherDeps
	platforms map[domain.Platform]ports.Platform
	limiters  map[domain.Platform]*rate.Limiter
	ids       *idGenerator

	queue     chan domain.Directive
	scheduled atomic.Int64

	mu      sync.Mutex
	stopped bool

	runCtx    context.Context
	cancelRun context.CancelFunc
	wg        sync.WaitGroup
}

// NewDispatcher creates a dispatcher; call Start to launch workers
func NewDispatcher(cfg DispatcherConfig, deps DispatcherDeps) *Dispatcher {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = cfg.BaseBackoff
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 10 * time.Second
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := max(cfg.Burst, 1)

	d := &Dispatcher{
		cfg:       cfg,
		deps:      deps,
		platforms: make(map[domain.Platform]ports.Platform, len(deps.Platforms)),
		limiters:  make(map[domain.Platform]*rate.Limiter, len(deps.Platforms)),
		ids:       newIDGenerator(deps.Clock),
		queue:     make(chan domain.Directive, cfg.QueueSize),
	}
	for _, p := range deps.Platforms {
		d.platforms[p.Name()] = p
		d.limiters[p.Name()] = rate.NewLimiter(limit, burst)
	}
	d.runCtx, d.cancelRun = context.WithCancel(context.Background())
	return d
}

// Start launches the worker goroutines
func (d *Dispatcher) Start() {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	slog.Info("Outbound dispatcher started",
		"workers", d.cfg.Workers,
		"queue_size", d.cfg.QueueSize,
		"max_attempts", d.cfg.MaxAttempts,
	)
}

// Stop cancels in-flight attempts and waits for workers to exit.
// Directives still queued or waiting on a retry timer are dropped and logged.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()

	d.cancelRun()
	d.wg.Wait()

	if n := len(d.queue) + int(d.scheduled.Load()); n > 0 {
		slog.Warn("Outbound dispatcher stopped with undelivered directives", "count", n)
	}
}

// QueueDepth returns directives waiting in the queue or on a retry timer
func (d *Dispatcher) QueueDepth() int {
	return len(d.queue) + int(d.scheduled.Load())
}

// Dispatch assigns the directive an id and queues its first attempt.
// When the queue is full the directive is rescheduled rather than dropped.
func (d *Dispatcher) Dispatch(dir domain.Directive) error {
	if dir.ID == "" {
		dir.ID = d.ids.New()
	}
	if dir.Attempt < 1 {
		dir.Attempt = 1
	}
	if dir.CreatedAt.IsZero() {
		dir.CreatedAt = d.deps.Clock.Now().UTC()
	}
	return d.enqueue(dir)
}

func (d *Dispatcher) enqueue(dir domain.Directive) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return ErrDispatcherStopped
	}
	queued := false
	select {
	case d.queue <- dir:
		queued = true
	default:
	}
	d.mu.Unlock()

	if !queued {
		slog.Warn("Dispatch queue full, rescheduling directive",
			"directive_id", dir.ID,
			"target", dir.Target,
			"agent_id", dir.AgentID,
		)
		d.schedule(dir, d.cfg.BaseBackoff)
	}
	return nil
}

// schedule re-enqueues dir after delay
func (d *Dispatcher) schedule(dir domain.Directive, delay time.Duration) {
	d.scheduled.Add(1)
	d.deps.Clock.AfterFunc(delay, func() {
		d.scheduled.Add(-1)
		if err := d.enqueue(dir); err != nil {
			slog.Warn("Directive dropped",
				"error", err,
				"directive_id", dir.ID,
			)
		}
	})
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.runCtx.Done():
			return
		case dir := <-d.queue:
			d.handle(dir)
		}
	}
}

// handle runs one attempt of dir and records its outcome
func (d *Dispatcher) handle(dir domain.Directive) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("PANIC recovered in dispatch worker",
				"panic", r,
				"directive_id", dir.ID,
			)
		}
	}()

	if d.deps.Gate != nil && d.deps.Gate.Paused() {
		d.schedule(dir, d.cfg.BaseBackoff)
		return
	}

	if limiter, ok := d.limiters[dir.Target]; ok {
		if err := limiter.Wait(d.runCtx); err != nil {
			return
		}
	}

	unlock := d.deps.Locks.Lock(dir.Key())
	defer unlock()

	status, err := d.attempt(dir)
	switch {
	case err == nil:
		d.record(dir, status, "")

	case domain.Retryable(err) && dir.Attempt < d.cfg.MaxAttempts:
		delay := d.backoff(dir.Attempt)
		d.record(dir, domain.SyncRetrying, fmt.Sprintf("%v; retrying in %s", err, delay))
		next := dir
		next.Attempt++
		d.schedule(next, delay)

	default:
		d.record(dir, domain.SyncFailed, err.Error())
		d.alert(dir, err)
	}
}

// attempt performs the remote call. A nil error comes with SyncSuccess or SyncSkipped.
func (d *Dispatcher) attempt(dir domain.Directive) (domain.SyncStatus, error) {
	platform, ok := d.platforms[dir.Target]
	if !ok {
		return "", fmt.Errorf("no adapter for %q: %w", dir.Target, domain.ErrPermanent)
	}

	ctx, cancel := context.WithTimeout(d.runCtx, d.cfg.AttemptTimeout)
	defer cancel()

	agent, err := d.deps.Directory.Get(ctx, dir.AgentID)
	if errors.Is(err, domain.ErrUnknownAgent) {
		return "", fmt.Errorf("%w: %w", err, domain.ErrPermanent)
	}
	if err != nil {
		return "", err
	}

	switch dir.Kind {
	case domain.DirectivePushPresence:
		status, err := d.deps.Desired.Desired(ctx, agent.ID)
		if err != nil {
			return "", err
		}
		if want := status.PlatformValue(dir.Target); want != dir.Value {
			slog.Info("Presence directive superseded",
				"directive_id", dir.ID,
				"agent_id", agent.ID,
				"directive_value", dir.Value,
				"desired_value", want,
			)
			return domain.SyncSkipped, nil
		}
		if err := platform.PushPresence(ctx, agent, dir.Value); err != nil {
			return "", err
		}
		return domain.SyncSuccess, nil

	case domain.DirectivePushConversationRecord:
		record, err := d.loadRecord(ctx, agent, dir.ConversationID)
		if err != nil {
			return "", err
		}
		err = platform.PushConversationRecord(ctx, record)
		if errors.Is(err, domain.ErrNoRemoteTarget) {
			slog.Info("Conversation record has no remote target",
				"directive_id", dir.ID,
				"conversation_id", dir.ConversationID,
				"target", dir.Target,
			)
			return domain.SyncSkipped, nil
		}
		if err != nil {
			return "", err
		}
		return domain.SyncSuccess, nil
	}

	return "", fmt.Errorf("unknown directive kind %q: %w", dir.Kind, domain.ErrPermanent)
}

func (d *Dispatcher) loadRecord(ctx context.Context, agent *domain.Agent, conversationID uint64) (domain.ConversationRecord, error) {
	conv, err := d.deps.Conversations.GetConversation(ctx, conversationID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ConversationRecord{}, fmt.Errorf("conversation %d: %w", conversationID, domain.ErrPermanent)
	}
	if err != nil {
		return domain.ConversationRecord{}, err
	}

	record := domain.ConversationRecord{Conversation: conv, Agent: agent}
	if conv.CustomerID != nil {
		customer, err := d.deps.Customers.GetCustomer(ctx, *conv.CustomerID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return domain.ConversationRecord{}, err
		}
		record.Customer = customer
	}
	return record, nil
}

// backoff returns min(base * 2^(attempt-1), max)
func (d *Dispatcher) backoff(attempt int) time.Duration {
	delay := d.cfg.BaseBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= d.cfg.MaxBackoff {
			return d.cfg.MaxBackoff
		}
	}
	return min(delay, d.cfg.MaxBackoff)
}

// record writes the SyncLog row for one attempt and publishes it to observers
func (d *Dispatcher) record(dir domain.Directive, status domain.SyncStatus, detail string) {
	entry := &domain.SyncLog{
		DirectiveID:    dir.ID,
		OperationType:  string(dir.Kind),
		SourcePlatform: dir.Source,
		TargetPlatform: dir.Target,
		AgentID:        dir.AgentID,
		Status:         status,
		Attempt:        dir.Attempt,
		Detail:         detail,
		CreatedAt:      d.deps.Clock.Now().UTC(),
	}
	if dir.ConversationID != 0 {
		id := dir.ConversationID
		entry.ConversationID = &id
	}

	// The attempt context may already be cancelled; the audit row must still land
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.deps.SyncLogs.AppendSyncLog(ctx, entry); err != nil {
		slog.Error("Failed to record dispatch attempt",
			"error", err,
			"directive_id", dir.ID,
		)
	}
	if d.deps.Observer != nil {
		d.deps.Observer.Publish(entry)
	}

	level := slog.LevelInfo
	if status == domain.SyncFailed || status == domain.SyncRetrying {
		level = slog.LevelWarn
	}
	slog.Log(ctx, level, "Directive attempt recorded",
		"directive_id", dir.ID,
		"kind", dir.Kind,
		"target", dir.Target,
		"agent_id", dir.AgentID,
		"attempt", dir.Attempt,
		"status", status,
		"detail", detail,
	)
}

func (d *Dispatcher) alert(dir domain.Directive, cause error) {
	if d.deps.Alerter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	title := fmt.Sprintf("syncbridge: %s to %s failed", dir.Kind, dir.Target)
	text := fmt.Sprintf("directive %s for agent %d failed after %d attempt(s): %v",
		dir.ID, dir.AgentID, dir.Attempt, cause)
	if err := d.deps.Alerter.Alert(ctx, title, text); err != nil {
		slog.Error("Failed to send dispatch alert",
			"error", err,
			"directive_id", dir.ID,
		)
	}
}
