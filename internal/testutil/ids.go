package testutil

import (
	"fmt"
	"sync"
)

// SequenceGenerator produces deterministic ids of the form "<prefix>-0001",
// "<prefix>-0002", and so on.
//
// Scenario runs use it so that golden snapshots are byte-identical between
// runs. It satisfies record.IDGenerator.
//
// Thread-safety: Generate is safe for concurrent use.
type SequenceGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceGenerator creates a generator. An empty prefix means "id".
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	if prefix == "" {
		prefix = "id"
	}
	return &SequenceGenerator{prefix: prefix}
}

// Generate returns the next id.
func (g *SequenceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}
