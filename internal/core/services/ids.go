package services

import (
	"crypto/rand"
	"sync"

	"github.com/oklog/ulid/v2"

	"syncbridge/internal/clock"
)

// idGenerator issues lexically sortable ULIDs; ids from one generator are strictly increasing
type idGenerator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	clock   clock.Clock
}

func newIDGenerator(clk clock.Clock) *idGenerator {
	return &idGenerator{
		entropy: ulid.Monotonic(rand.Reader, 0),
		clock:   clk,
	}
}

func (g *idGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(g.clock.Now()), g.entropy).String()
}
