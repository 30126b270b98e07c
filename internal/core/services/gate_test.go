package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"syncbridge/internal/clock"
)

func TestDispatchGate_PauseResume(t *testing.T) {
	clk := clock.NewFake(testEpoch)
	g := NewDispatchGate(clk)
	assert.False(t, g.Paused())
	assert.Equal(t, GateStatus{}, g.Status())

	g.Pause("ringcentral outage", "ops@example.com")
	assert.True(t, g.Paused())
	assert.Equal(t, GateStatus{
		Paused:   true,
		Reason:   "ringcentral outage",
		PausedBy: "ops@example.com",
		PausedAt: testEpoch,
	}, g.Status())

	clk.Advance(time.Minute)
	g.Resume("ops@example.com")
	assert.False(t, g.Paused())
	assert.Equal(t, GateStatus{}, g.Status())

	// Resuming an open gate is a no-op
	g.Resume("someone")
	assert.False(t, g.Paused())
}
