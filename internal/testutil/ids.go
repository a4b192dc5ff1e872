package testutil

import (
	"fmt"
	"sync"
)

// FixedIDGenerator returns ids from a fixed list, then numbered fallbacks.
//
// This keeps journal session ids stable across test runs.
//
// Thread-safety: safe for concurrent use.
type FixedIDGenerator struct {
	mu  sync.Mutex
	ids []string
	n   int
}

// NewFixedIDGenerator creates a generator returning ids in order.
func NewFixedIDGenerator(ids ...string) *FixedIDGenerator {
	return &FixedIDGenerator{ids: ids}
}

// Generate returns the next id.
func (g *FixedIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	if g.n <= len(g.ids) {
		return g.ids[g.n-1]
	}
	return fmt.Sprintf("test-id-%d", g.n)
}
