package services

import (
	"context"
	"log/slog"
	"sync"

	"syncbridge/internal/core/domain"
)

// Runner accepts keyed jobs. Jobs sharing a key run one at a time in submission order.
type Runner interface {
	Submit(key string, job func(ctx context.Context)) error
}

// Sequencer is a bounded worker pool with per-key FIFO ordering.
// Different keys run in parallel on up to `workers` goroutines.
type Sequencer struct {
	workers    int
	maxPending int

	mu      sync.Mutex
	queues  map[string][]func(ctx context.Context)
	pending int
	closed  bool

	// ready holds keys with queued work that no worker owns yet.
	// Its capacity is maxPending so sends under mu never block.
	ready chan string
	quit  chan struct{}
	idle  chan struct{}

	idleOnce sync.Once
	wg       sync.WaitGroup
}

var _ Runner = (*Sequencer)(nil)

// NewSequencer creates a sequencer; call Start before submitting work
func NewSequencer(workers, maxPending int) *Sequencer {
	if workers < 1 {
		workers = 1
	}
	if maxPending < 1 {
		maxPending = 1
	}
	return &Sequencer{
		workers:    workers,
		maxPending: maxPending,
		queues:     make(map[string][]func(ctx context.Context)),
		ready:      make(chan string, maxPending),
		quit:       make(chan struct{}),
		idle:       make(chan struct{}),
	}
}

// Submit queues job behind any earlier job with the same key.
// Returns domain.ErrQueueFull when maxPending jobs are already waiting or the sequencer is stopping.
func (s *Sequencer) Submit(key string, job func(ctx context.Context)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.pending >= s.maxPending {
		return domain.ErrQueueFull
	}

	s.pending++
	q, busy := s.queues[key]
	s.queues[key] = append(q, job)
	if !busy {
		s.ready <- key
	}
	return nil
}

// Pending returns the number of queued and running jobs
func (s *Sequencer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Start launches the worker goroutines
func (s *Sequencer) Start() {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	slog.Info("Ingest sequencer started", "workers", s.workers, "max_pending", s.maxPending)
}

// Stop refuses new work, waits for queued jobs to finish (or ctx to expire) and stops the workers
func (s *Sequencer) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	if s.pending == 0 {
		s.idleOnce.Do(func() { close(s.idle) })
	}
	s.mu.Unlock()

	var err error
	select {
	case <-s.idle:
	case <-ctx.Done():
		err = ctx.Err()
		slog.Warn("Ingest sequencer stopped with pending jobs", "pending", s.Pending())
	}
	close(s.quit)
	s.wg.Wait()
	return err
}

func (s *Sequencer) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.quit:
			return
		case key := <-s.ready:
			s.runNext(key)
		}
	}
}

// runNext runs one job for key, then hands the key back if more work is queued
func (s *Sequencer) runNext(key string) {
	s.mu.Lock()
	job := s.queues[key][0]
	s.mu.Unlock()

	s.run(key, job)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending--
	q := s.queues[key][1:]
	if len(q) == 0 {
		delete(s.queues, key)
	} else {
		s.queues[key] = q
		s.ready <- key
	}
	if s.closed && s.pending == 0 {
		s.idleOnce.Do(func() { close(s.idle) })
	}
}

func (s *Sequencer) run(key string, job func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("PANIC recovered in sequenced job",
				"panic", r,
				"key", key,
			)
		}
	}()
	job(context.Background())
}
