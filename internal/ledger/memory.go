package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// InMemoryGateway is an in-memory Gateway implementation for tests and
// local development. It assigns ids of the form "tx-N" in append order
// and supports per-operation fault injection.
type InMemoryGateway struct {
	mu      sync.Mutex
	records map[string]*Record
	seq     int

	appendErr error
	fetchErrs map[string]error
}

// NewInMemoryGateway creates an empty in-memory gateway.
func NewInMemoryGateway() *InMemoryGateway {
	return &InMemoryGateway{
		records:   make(map[string]*Record),
		fetchErrs: make(map[string]error),
	}
}

// FailAppends makes every subsequent Append return err. Pass nil to
// restore normal behavior.
func (g *InMemoryGateway) FailAppends(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.appendErr = err
}

// FailFetch makes Fetch for the given id return err. Pass nil to restore
// normal behavior for that id.
func (g *InMemoryGateway) FailFetch(id string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.fetchErrs, id)
		return
	}
	g.fetchErrs[id] = err
}

// Append stores the result under a new sequential id.
func (g *InMemoryGateway) Append(ctx context.Context, result Result) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.appendErr != nil {
		return "", g.appendErr
	}

	g.seq++
	id := fmt.Sprintf("tx-%d", g.seq)
	g.records[id] = &Record{
		ID:        id,
		Result:    result,
		Timestamp: time.Now().UTC(),
	}
	return id, nil
}

// Fetch returns the record for id, or ErrNotFound.
func (g *InMemoryGateway) Fetch(ctx context.Context, id string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if err, ok := g.fetchErrs[id]; ok {
		return nil, err
	}

	record, ok := g.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	// Return a copy to prevent external mutation of stored state.
	copied := *record
	return &copied, nil
}

// Len returns the number of committed records.
func (g *InMemoryGateway) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.records)
}
