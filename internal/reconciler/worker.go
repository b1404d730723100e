package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/medtrust/predledger/internal/index"
	"github.com/medtrust/predledger/internal/ledger"
)

// pendingKey identifies one orphaned (identity, record) pair.
type pendingKey struct {
	identity string
	recordID string
}

// Worker holds the pending set of orphaned records and retries their index
// appends. It implements record.Enqueuer so the record service can hand off
// partial store failures, and MessageHandler so commit stream frames can
// trigger immediate repairs.
type Worker struct {
	gateway ledger.Gateway
	index   index.Index
	metrics *Metrics
	logger  *slog.Logger

	retryInterval time.Duration

	mu      sync.Mutex
	pending map[pendingKey]struct{}

	// kick wakes the run loop ahead of the ticker after an enqueue.
	kick chan struct{}
}

// NewWorker creates a reconciliation worker. metrics may be nil.
func NewWorker(gateway ledger.Gateway, idx index.Index, retryInterval time.Duration, metrics *Metrics, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if retryInterval <= 0 {
		retryInterval = DefaultRetryInterval
	}
	return &Worker{
		gateway:       gateway,
		index:         idx,
		metrics:       metrics,
		logger:        logger,
		retryInterval: retryInterval,
		pending:       make(map[pendingKey]struct{}),
		kick:          make(chan struct{}, 1),
	}
}

// Enqueue adds an orphaned (identity, recordID) pair to the pending set.
// Duplicate enqueues collapse into one entry. Never blocks.
func (w *Worker) Enqueue(identity, recordID string) {
	if identity == "" || recordID == "" {
		return
	}

	w.mu.Lock()
	w.pending[pendingKey{identity: identity, recordID: recordID}] = struct{}{}
	n := len(w.pending)
	w.mu.Unlock()

	if w.metrics != nil {
		w.metrics.SetPending(n)
	}
	w.logger.Info("orphaned record queued for repair",
		slog.String("identity", identity),
		slog.String("record_id", recordID),
		slog.Int("pending", n))

	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// PendingCount returns the number of pairs awaiting repair.
func (w *Worker) PendingCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// HandleFrame is the commit stream MessageHandler. A decodable frame whose
// transaction id is in the pending set triggers an immediate repair attempt
// for that record. Malformed frames are counted and skipped, never fatal.
func (w *Worker) HandleFrame(messageType int, payload []byte) error {
	event, err := DecodeCommitEvent(payload)
	if err != nil {
		if w.metrics != nil {
			w.metrics.IncFramesError()
		}
		w.logger.Warn("skipping malformed commit frame", slog.String("error", err.Error()))
		return nil
	}

	if w.metrics != nil {
		w.metrics.IncFramesProcessed()
	}

	for _, key := range w.pendingFor(event.TransactionID) {
		w.repair(context.Background(), key)
	}
	return nil
}

// Run retries the pending set every retry interval until the context is
// cancelled. Enqueue wakes it early.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("reconciler worker stopping", slog.Int("pending", w.PendingCount()))
			return ctx.Err()
		case <-ticker.C:
			w.Sweep(ctx)
		case <-w.kick:
			w.Sweep(ctx)
		}
	}
}

// Sweep attempts a repair for every pending pair.
func (w *Worker) Sweep(ctx context.Context) {
	for _, key := range w.snapshot() {
		if ctx.Err() != nil {
			return
		}
		w.repair(ctx, key)
	}
}

// repair confirms the record still exists on the ledger and retries the
// index append. The append is idempotent, so repairing an already-listed
// record is harmless.
func (w *Worker) repair(ctx context.Context, key pendingKey) {
	if _, err := w.gateway.Fetch(ctx, key.recordID); err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			// The ledger no longer serves the id it assigned. Nothing
			// can restore this entry; drop it rather than retry forever.
			w.logger.Error("dropping pending record unknown to ledger",
				slog.String("identity", key.identity),
				slog.String("record_id", key.recordID))
			w.remove(key)
			if w.metrics != nil {
				w.metrics.IncRepairFailures()
			}
			return
		}
		w.logger.Warn("ledger fetch failed during repair, will retry",
			slog.String("record_id", key.recordID),
			slog.String("error", err.Error()))
		if w.metrics != nil {
			w.metrics.IncRepairFailures()
		}
		return
	}

	if err := w.index.Append(ctx, key.identity, key.recordID); err != nil {
		w.logger.Warn("index append failed during repair, will retry",
			slog.String("identity", key.identity),
			slog.String("record_id", key.recordID),
			slog.String("error", err.Error()))
		if w.metrics != nil {
			w.metrics.IncRepairFailures()
		}
		return
	}

	w.remove(key)
	if w.metrics != nil {
		w.metrics.IncRepairs()
	}
	w.logger.Info("orphaned record repaired",
		slog.String("identity", key.identity),
		slog.String("record_id", key.recordID))
}

// snapshot copies the pending set so repairs run outside the lock.
func (w *Worker) snapshot() []pendingKey {
	w.mu.Lock()
	defer w.mu.Unlock()
	keys := make([]pendingKey, 0, len(w.pending))
	for key := range w.pending {
		keys = append(keys, key)
	}
	return keys
}

// pendingFor returns the pending pairs for one record id.
func (w *Worker) pendingFor(recordID string) []pendingKey {
	w.mu.Lock()
	defer w.mu.Unlock()
	var keys []pendingKey
	for key := range w.pending {
		if key.recordID == recordID {
			keys = append(keys, key)
		}
	}
	return keys
}

func (w *Worker) remove(key pendingKey) {
	w.mu.Lock()
	delete(w.pending, key)
	n := len(w.pending)
	w.mu.Unlock()
	if w.metrics != nil {
		w.metrics.SetPending(n)
	}
}
