package corestore

import (
	"sync"

	"github.com/google/uuid"
)

// IDGenerator produces the correlation IDs recorded on ActionStatus.DispatchID.
// Adapted from the teacher engine's FlowTokenGenerator (internal/engine/flow.go):
// same two implementations, renamed for dispatch correlation instead of flow
// correlation.
type IDGenerator interface {
	Generate() string
}

// UUIDGenerator generates time-sortable UUIDv7 dispatch IDs.
type UUIDGenerator struct{}

// Generate returns a new UUIDv7, hyphenated.
func (UUIDGenerator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedIDGenerator returns predetermined IDs in order, for deterministic
// tests and golden-trace comparisons.
type FixedIDGenerator struct {
	mu   sync.Mutex
	ids  []string
	next int
}

// NewFixedIDGenerator creates a generator that yields ids in order, then
// panics once exhausted (fail-fast on test misconfiguration).
func NewFixedIDGenerator(ids ...string) *FixedIDGenerator {
	return &FixedIDGenerator{ids: ids}
}

func (g *FixedIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.next >= len(g.ids) {
		panic("corestore: FixedIDGenerator exhausted")
	}
	id := g.ids[g.next]
	g.next++
	return id
}
