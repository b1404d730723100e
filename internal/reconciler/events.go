package reconciler

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Commit stream parsing errors.
var (
	ErrInvalidFrame         = errors.New("invalid commit frame")
	ErrMissingTransactionID = errors.New("missing transaction id in commit frame")
)

// CommitEvent is one frame of the ledger's commit event stream. The ledger
// emits a frame for every transaction that reaches a committed block.
type CommitEvent struct {
	// TransactionID is the committed record id.
	TransactionID string `cbor:"transaction_id"`

	// AssetID mirrors the transaction id for CREATE transactions.
	AssetID string `cbor:"asset_id,omitempty"`

	// Height is the block height the transaction was committed at.
	Height int64 `cbor:"height"`

	// TimeUS is the commit timestamp in microseconds.
	TimeUS int64 `cbor:"time_us,omitempty"`
}

// DecodeCommitEvent decodes a CBOR-encoded commit frame.
// Returns the parsed event or an error if decoding fails.
func DecodeCommitEvent(data []byte) (*CommitEvent, error) {
	if len(data) == 0 {
		return nil, ErrInvalidFrame
	}

	var event CommitEvent
	dec := cbor.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}

	if event.TransactionID == "" {
		return nil, ErrMissingTransactionID
	}

	return &event, nil
}

// EncodeCommitEvent encodes a commit frame. Used by tests and the local
// development stream stub.
func EncodeCommitEvent(event CommitEvent) ([]byte, error) {
	data, err := cbor.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode commit frame: %w", err)
	}
	return data, nil
}
