package mocks

import (
	"fmt"
	"sync"

	"github.com/mcoot/turntimer/internal/dependencies/ids"
)

// SequentialIDs is a deterministic id generator for tests
type SequentialIDs struct {
	Prefix string

	mu   sync.Mutex
	next int
}

// Ensure SequentialIDs implements Generator
var _ ids.Generator = (*SequentialIDs)(nil)

// NewSequentialIDs creates a generator producing prefix-1, prefix-2, ...
func NewSequentialIDs(prefix string) *SequentialIDs {
	return &SequentialIDs{Prefix: prefix}
}

// NewID returns the next id in the sequence
func (g *SequentialIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("%s-%d", g.Prefix, g.next)
}
