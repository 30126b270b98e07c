package services

import (
	"log/slog"
	"sync"
	"time"

	"syncbridge/internal/clock"
)

// DispatchGate lets an operator pause outbound pushes, e.g. during a remote API incident.
// Paused directives wait without consuming attempts.
type DispatchGate struct {
	mu       sync.RWMutex
	paused   bool
	pausedBy string
	pausedAt time.Time
	reason   string
	clock    clock.Clock
}

// GateStatus is the operator view of the gate
type GateStatus struct {
	Paused   bool      `json:"paused"`
	Reason   string    `json:"reason,omitempty"`
	PausedBy string    `json:"paused_by,omitempty"`
	PausedAt time.Time `json:"paused_at,omitempty"`
}

// NewDispatchGate creates an open gate
func NewDispatchGate(clk clock.Clock) *DispatchGate {
	return &DispatchGate{clock: clk}
}

// Paused returns whether outbound pushes are held
func (g *DispatchGate) Paused() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.paused
}

// Pause holds outbound pushes until Resume
func (g *DispatchGate) Pause(reason, pausedBy string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.paused = true
	g.reason = reason
	g.pausedBy = pausedBy
	g.pausedAt = g.clock.Now()

	slog.Warn("Outbound dispatch paused",
		"reason", reason,
		"paused_by", pausedBy,
	)
}

// Resume releases held pushes
func (g *DispatchGate) Resume(resumedBy string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.paused {
		return
	}
	duration := g.clock.Now().Sub(g.pausedAt)
	g.paused = false
	g.reason = ""
	g.pausedBy = ""

	slog.Info("Outbound dispatch resumed",
		"resumed_by", resumedBy,
		"duration", duration,
	)
}

// Status returns the current gate state
func (g *DispatchGate) Status() GateStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()

	s := GateStatus{Paused: g.paused}
	if g.paused {
		s.Reason = g.reason
		s.PausedBy = g.pausedBy
		s.PausedAt = g.pausedAt
	}
	return s
}
