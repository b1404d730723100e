package health

import (
	"context"
	"fmt"
)

// Pinger verifies a dependency endpoint is reachable. Satisfied by the
// ledger client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LedgerChecker implements health checking for the external ledger.
type LedgerChecker struct {
	client Pinger
}

// NewLedgerChecker creates a new ledger health checker.
func NewLedgerChecker(client Pinger) *LedgerChecker {
	return &LedgerChecker{client: client}
}

// HealthCheck verifies the ledger API is reachable.
func (l *LedgerChecker) HealthCheck(ctx context.Context) error {
	if l.client == nil {
		return fmt.Errorf("ledger client not configured")
	}
	return l.client.Ping(ctx)
}
