package index

import (
	"context"
	"sync"
)

// InMemoryIndex is an in-memory Index implementation for tests and local
// development. Thread-safe via mutex; the add-if-absent check and the
// append happen under a single lock so concurrent writers for the same
// identity cannot lose updates.
type InMemoryIndex struct {
	mu      sync.RWMutex
	order   map[string][]string
	present map[string]map[string]struct{}
}

// NewInMemoryIndex creates an empty in-memory index.
func NewInMemoryIndex() *InMemoryIndex {
	return &InMemoryIndex{
		order:   make(map[string][]string),
		present: make(map[string]map[string]struct{}),
	}
}

// Append adds recordID for identity unless it is already present.
func (i *InMemoryIndex) Append(ctx context.Context, identity, recordID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	ids, ok := i.present[identity]
	if !ok {
		ids = make(map[string]struct{})
		i.present[identity] = ids
	}
	if _, exists := ids[recordID]; exists {
		return nil
	}

	ids[recordID] = struct{}{}
	i.order[identity] = append(i.order[identity], recordID)
	return nil
}

// List returns the identity's record ids in insertion order.
func (i *InMemoryIndex) List(ctx context.Context, identity string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	stored := i.order[identity]
	out := make([]string, len(stored))
	copy(out, stored)
	return out, nil
}
