package regions

import (
	"sync"

	"gridmap/internal/common"
)

// BlockTracker remembers which map-block ranges have been requested so each
// distinct range is asked for once per session
type BlockTracker struct {
	mu        sync.Mutex
	requested map[string]struct{}
}

// NewBlockTracker creates an empty tracker
func NewBlockTracker() *BlockTracker {
	return &BlockTracker{requested: make(map[string]struct{})}
}

// Mark records b and reports whether it was new
func (t *BlockTracker) Mark(b common.TileBounds) bool {
	key := b.Key()

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.requested[key]; ok {
		return false
	}
	t.requested[key] = struct{}{}
	return true
}

// Forget removes b so that the next Mark for it succeeds again
func (t *BlockTracker) Forget(b common.TileBounds) {
	t.mu.Lock()
	delete(t.requested, b.Key())
	t.mu.Unlock()
}

// Len returns the number of ranges requested so far
func (t *BlockTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.requested)
}
