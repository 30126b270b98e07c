package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"syncbridge/internal/core/domain"
)

// DirectiveSink accepts directives for asynchronous delivery
type DirectiveSink interface {
	Dispatch(dir domain.Directive) error
}

// Acceptance is what the ingress handler learns about a webhook it handed over
type Acceptance struct {
	Event     domain.Event
	Admission Admission
}

// Processor orchestrates webhook processing: normalize, admit, then process asynchronously
// per conversation so the HTTP response never waits on remote APIs.
type Processor struct {
	normalizer *Normalizer
	ledger     *Ledger
	runner     Runner
	directory  *AgentDirectory
	contacts   *ContactResolver
	unifier    *Unifier
	reconciler *Reconciler
	sink       DirectiveSink
	timeout    time.Duration
}

// NewProcessor creates a new processor instance with dependencies injected
func NewProcessor(
	normalizer *Normalizer,
	ledger *Ledger,
	runner Runner,
	directory *AgentDirectory,
	contacts *ContactResolver,
	unifier *Unifier,
	reconciler *Reconciler,
	sink DirectiveSink,
	timeout time.Duration,
) *Processor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Processor{
		normalizer: normalizer,
		ledger:     ledger,
		runner:     runner,
		directory:  directory,
		contacts:   contacts,
		unifier:    unifier,
		reconciler: reconciler,
		sink:       sink,
		timeout:    timeout,
	}
}

// Accept authenticates and admits one webhook delivery, then queues it behind earlier events
// of the same conversation. Errors carry the domain sentinels the handler maps to status codes.
func (p *Processor) Accept(ctx context.Context, platform domain.Platform, header http.Header, body []byte) (Acceptance, error) {
	// ========================================================================
	// Step 1: Verify signature and normalize
	// ========================================================================
	ev, err := p.normalizer.Normalize(platform, header, body)
	if err != nil {
		return Acceptance{}, err
	}
	env := ev.Meta()

	// ========================================================================
	// Step 2: Idempotency gate
	// ========================================================================
	admitCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	admission, err := p.ledger.Admit(admitCtx, env)
	if err != nil {
		return Acceptance{}, err
	}
	acc := Acceptance{Event: ev, Admission: admission}
	if admission == Duplicate {
		return acc, nil
	}

	// ========================================================================
	// Step 3: Hand off to the per-conversation sequencer (fire and forget)
	// ========================================================================
	if err := p.runner.Submit(domain.SessionKey(ev), func(ctx context.Context) {
		_ = p.Process(ctx, ev)
	}); err != nil {
		relCtx, relCancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer relCancel()
		if relErr := p.ledger.Release(relCtx, env); relErr != nil {
			slog.Error("Failed to release receipt after rejected hand-off",
				"error", relErr,
				"platform", env.Platform,
				"event_id", env.ExternalEventID,
			)
		}
		return Acceptance{}, fmt.Errorf("queue %s event %s: %w", env.Platform, env.ExternalEventID, domain.ErrQueueFull)
	}

	slog.Info("Webhook accepted",
		"platform", env.Platform,
		"event_id", env.ExternalEventID,
		"event_type", env.EventType,
		"session_id", ev.Session(),
	)
	return acc, nil
}

// Process applies one admitted event. Failures are logged here; the returned error is for tests.
func (p *Processor) Process(ctx context.Context, ev domain.Event) (err error) {
	// ========================================================================
	// CRITICAL: Panic Recovery
	// A bad event must not take the worker pool down with it
	// ========================================================================
	defer func() {
		if r := recover(); r != nil {
			slog.Error("PANIC recovered in Process",
				"panic", r,
				"platform", ev.Meta().Platform,
				"event_id", ev.Meta().ExternalEventID,
			)
			err = fmt.Errorf("panic processing event: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	switch e := ev.(type) {
	case domain.ChatStarted:
		err = p.start(ctx, e, e.AgentRef, e.Customer)
	case domain.CallStarted:
		err = p.start(ctx, e, e.AgentRef, e.Customer)
	case domain.ChatEnded:
		err = p.end(ctx, e)
	case domain.CallEnded:
		err = p.end(ctx, e)
	default:
		err = fmt.Errorf("%T: %w", ev, domain.ErrUnsupportedEvent)
	}

	if err != nil {
		p.logFailure(ev, err)
	}
	return err
}

// start handles ChatStarted and CallStarted
func (p *Processor) start(ctx context.Context, ev domain.Event, agentRef string, customer domain.CustomerRef) error {
	env := ev.Meta()

	// ========================================================================
	// Step 1: Resolve agent and customer
	// ========================================================================
	agent, err := p.directory.Lookup(ctx, env.Platform, agentRef)
	if err != nil {
		return err
	}

	customerID, err := p.contacts.Resolve(ctx, env.Platform, customer)
	if err != nil {
		// Presence sync does not depend on the customer; keep going without one
		slog.Error("Failed to resolve customer",
			"error", err,
			"platform", env.Platform,
			"event_id", env.ExternalEventID,
		)
		customerID = 0
	}

	// ========================================================================
	// Step 2: Open the conversation and reconcile presence under the agent lock
	// ========================================================================
	t, err := p.reconciler.Apply(ctx, agent, ev, func(ctx context.Context) error {
		_, _, err := p.unifier.OnStart(ctx, ev, agent.ID, customerID)
		return err
	})
	if err != nil {
		return err
	}

	// ========================================================================
	// Step 3: Push the change to the other platform
	// ========================================================================
	p.dispatch(t.Directives...)
	return nil
}

// end handles ChatEnded and CallEnded
func (p *Processor) end(ctx context.Context, ev domain.Event) error {
	conv, err := p.unifier.Find(ctx, ev)
	if err != nil {
		return err
	}

	agent, err := p.directory.Get(ctx, conv.AgentID)
	if err != nil {
		return err
	}

	var closed bool
	t, err := p.reconciler.Apply(ctx, agent, ev, func(ctx context.Context) error {
		var err error
		conv, closed, err = p.unifier.OnEnd(ctx, ev)
		return err
	})
	if err != nil {
		return err
	}

	p.dispatch(t.Directives...)
	if closed {
		p.dispatch(p.unifier.RecordDirective(conv))
	}
	return nil
}

// Resync re-derives every agent's presence and pushes any drift to both platforms.
// It returns the number of agents whose status changed.
func (p *Processor) Resync(ctx context.Context) (int, error) {
	agents, err := p.directory.List(ctx)
	if err != nil {
		return 0, err
	}

	changed := 0
	for i := range agents {
		agent := &agents[i]
		t, err := p.reconciler.Recompute(ctx, agent)
		if err != nil {
			slog.Error("Failed to recompute presence",
				"error", err,
				"agent_id", agent.ID,
			)
			continue
		}
		if t.Changed() {
			changed++
			slog.Info("Presence drift corrected",
				"agent_id", agent.ID,
				"from", t.From,
				"to", t.To,
			)
		}
		p.dispatch(t.Directives...)
	}
	return changed, nil
}

func (p *Processor) dispatch(dirs ...domain.Directive) {
	for _, dir := range dirs {
		if err := p.sink.Dispatch(dir); err != nil {
			slog.Error("Failed to dispatch directive",
				"error", err,
				"kind", dir.Kind,
				"target", dir.Target,
				"agent_id", dir.AgentID,
			)
		}
	}
}

// logFailure picks the level by how expected the failure is
func (p *Processor) logFailure(ev domain.Event, err error) {
	env := ev.Meta()
	attrs := []any{
		"error", err,
		"platform", env.Platform,
		"event_id", env.ExternalEventID,
		"event_type", env.EventType,
		"session_id", ev.Session(),
	}

	switch {
	case errors.Is(err, domain.ErrConversationNotFound):
		slog.Warn("Conversation end without a recorded start",
			append(attrs, "kind", domain.ErrOrderingViolation.Error())...)
	case errors.Is(err, domain.ErrUnknownAgent):
		slog.Warn("Event skipped: agent not mapped", attrs...)
	default:
		slog.Error("Failed to process event", attrs...)
	}
}
