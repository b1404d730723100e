// Package record implements the dual-store write and read paths: prediction
// results are appended to the external signed ledger first, then the returned
// record id is added to the caller's identity index. Reads join the index
// order against per-record ledger fetches.
package record

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/medtrust/predledger/internal/index"
	"github.com/medtrust/predledger/internal/ledger"
)

// ErrNotOwned is returned when a record exists but is not listed in the
// requesting identity's index.
var ErrNotOwned = errors.New("record not owned by identity")

// IndexWriteError reports that a result was committed to the ledger but the
// index append failed. RecordID identifies the committed ledger record so the
// caller can retry the index write later.
type IndexWriteError struct {
	RecordID string
	Err      error
}

func (e *IndexWriteError) Error() string {
	return fmt.Sprintf("index write failed for record %s: %v", e.RecordID, e.Err)
}

func (e *IndexWriteError) Unwrap() error {
	return e.Err
}

// Entry is one element of a record listing. When the ledger could not serve
// the record, Available is false and Reason carries a short cause while
// Record is nil.
type Entry struct {
	ID        string         `json:"id"`
	Record    *ledger.Record `json:"record,omitempty"`
	Available bool           `json:"available"`
	Reason    string         `json:"reason,omitempty"`
}

// Enqueuer accepts orphaned (ledger-committed, index-missing) records for
// background repair.
type Enqueuer interface {
	Enqueue(identity, recordID string)
}

// Service coordinates the ledger gateway and the identity index.
type Service struct {
	gateway ledger.Gateway
	index   index.Index
	pending Enqueuer
	logger  *slog.Logger
}

// NewService creates a record service. pending may be nil, in which case
// orphaned records are not queued for repair.
func NewService(gateway ledger.Gateway, idx index.Index, pending Enqueuer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		gateway: gateway,
		index:   idx,
		pending: pending,
		logger:  logger,
	}
}

// Store appends the result to the ledger and then records the returned id in
// the identity's index. If the ledger append fails, nothing is stored and the
// ledger error is returned. If the ledger append succeeds but the index write
// fails, the committed record id is returned together with an
// *IndexWriteError: the record exists on the ledger and a later Reindex (or
// the background reconciler) can restore it to the listing.
func (s *Service) Store(ctx context.Context, identity string, result ledger.Result) (string, error) {
	recordID, err := s.gateway.Append(ctx, result)
	if err != nil {
		return "", fmt.Errorf("ledger append: %w", err)
	}

	if err := s.index.Append(ctx, identity, recordID); err != nil {
		s.logger.Error("index append failed after ledger commit",
			"identity", identity,
			"record_id", recordID,
			"error", err,
		)
		if s.pending != nil {
			s.pending.Enqueue(identity, recordID)
		}
		return recordID, &IndexWriteError{RecordID: recordID, Err: err}
	}

	return recordID, nil
}

// List returns the identity's records in index order. Records the ledger
// cannot currently serve are reported as unavailable entries rather than
// failing the whole listing; an identity with no records gets an empty slice.
func (s *Service) List(ctx context.Context, identity string) ([]Entry, error) {
	ids, err := s.index.List(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("index list: %w", err)
	}

	entries := make([]Entry, 0, len(ids))
	for _, id := range ids {
		rec, err := s.gateway.Fetch(ctx, id)
		if err != nil {
			s.logger.Warn("ledger fetch failed during listing",
				"identity", identity,
				"record_id", id,
				"error", err,
			)
			entries = append(entries, Entry{
				ID:        id,
				Available: false,
				Reason:    fetchFailureReason(err),
			})
			continue
		}
		entries = append(entries, Entry{
			ID:        id,
			Record:    rec,
			Available: true,
		})
	}

	return entries, nil
}

// Get fetches a single record, verifying that it belongs to the identity's
// index first. Returns ErrNotOwned when the id is not in the index and the
// ledger's error otherwise.
func (s *Service) Get(ctx context.Context, identity, recordID string) (*ledger.Record, error) {
	owned, err := s.owns(ctx, identity, recordID)
	if err != nil {
		return nil, err
	}
	if !owned {
		return nil, ErrNotOwned
	}

	rec, err := s.gateway.Fetch(ctx, recordID)
	if err != nil {
		return nil, fmt.Errorf("ledger fetch: %w", err)
	}
	return rec, nil
}

// Reindex restores an orphaned record to the identity's index. The record
// must exist on the ledger; the index append is idempotent, so reindexing an
// already-listed record is a no-op.
func (s *Service) Reindex(ctx context.Context, identity, recordID string) error {
	if _, err := s.gateway.Fetch(ctx, recordID); err != nil {
		return fmt.Errorf("ledger fetch: %w", err)
	}

	if err := s.index.Append(ctx, identity, recordID); err != nil {
		return fmt.Errorf("index append: %w", err)
	}

	s.logger.Info("record reindexed", "identity", identity, "record_id", recordID)
	return nil
}

func (s *Service) owns(ctx context.Context, identity, recordID string) (bool, error) {
	ids, err := s.index.List(ctx, identity)
	if err != nil {
		return false, fmt.Errorf("index list: %w", err)
	}
	for _, id := range ids {
		if id == recordID {
			return true, nil
		}
	}
	return false, nil
}

func fetchFailureReason(err error) string {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return "not_found"
	case errors.Is(err, ledger.ErrUnavailable):
		return "ledger_unavailable"
	default:
		return "fetch_failed"
	}
}
