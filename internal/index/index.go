// Package index provides the mutable per-identity record index: an
// ordered set of ledger record ids per identity, used only to enumerate
// what belongs to whom. The ledger remains the source of truth for
// record content.
package index

import "context"

// Index is the per-identity record id store.
//
// Append adds recordID to the identity's ordered sequence. The entry for
// an identity is created automatically on first append. Append is an
// atomic add-if-absent: appending an id already present for the identity
// is a no-op, which makes retries of a failed index write safe.
//
// List returns the identity's record ids in insertion order. An identity
// that was never written to yields an empty slice, not an error.
type Index interface {
	Append(ctx context.Context, identity, recordID string) error
	List(ctx context.Context, identity string) ([]string, error)
}
