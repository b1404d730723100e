// Package ledger provides a typed gateway to the external append-only,
// cryptographically signed record ledger. The ledger is the source of
// truth for prediction result content; this package only bridges to it
// and never reimplements its consensus or storage.
package ledger

import (
	"context"
	"errors"
	"time"
)

// Gateway failure taxonomy. Callers match with errors.Is.
var (
	// ErrUnavailable indicates a transport failure or timeout reaching
	// the ledger. The operation may be retried.
	ErrUnavailable = errors.New("ledger unavailable")

	// ErrRejected indicates the ledger refused the payload as malformed.
	// Retrying the same payload will not succeed.
	ErrRejected = errors.New("ledger rejected payload")

	// ErrNotFound indicates the record id is unknown to the ledger.
	ErrNotFound = errors.New("record not found in ledger")
)

// Result is the payload recorded in the ledger: the input parameter
// vector that produced a prediction plus the derived label and
// probability. A Result is immutable once appended.
type Result struct {
	Inputs      map[string]float64 `json:"inputs"`
	Prediction  string             `json:"prediction"`
	Probability float64            `json:"probability"`
}

// Record is the materialized triple returned by the ledger on fetch.
// The Timestamp is assigned at append time and returned by the ledger;
// it is never set locally on the read path.
type Record struct {
	ID        string    `json:"id"`
	Result    Result    `json:"result"`
	Timestamp time.Time `json:"timestamp"`
}

// Gateway is the narrow interface over the external ledger service.
//
// Append submits a Result for immutable storage and returns the
// ledger-assigned record id. There is no partial success: either the id
// is returned and the record is durably committed, or an error is
// returned and nothing was committed.
//
// Fetch retrieves a committed record by id. It is a pure read.
//
// Record ids are opaque tokens assigned by the ledger. They are never
// parsed or constructed on this side of the interface.
type Gateway interface {
	Append(ctx context.Context, result Result) (string, error)
	Fetch(ctx context.Context, id string) (*Record, error)
}
