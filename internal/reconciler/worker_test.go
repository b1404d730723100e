package reconciler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/medtrust/predledger/internal/index"
	"github.com/medtrust/predledger/internal/ledger"
	"github.com/medtrust/predledger/internal/record"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// flakyIndex wraps an in-memory index and fails appends while failing is set.
type flakyIndex struct {
	inner   *index.InMemoryIndex
	failing bool
}

func (f *flakyIndex) Append(ctx context.Context, identity, recordID string) error {
	if f.failing {
		return errors.New("index down")
	}
	return f.inner.Append(ctx, identity, recordID)
}

func (f *flakyIndex) List(ctx context.Context, identity string) ([]string, error) {
	return f.inner.List(ctx, identity)
}

func newWorkerFixture(t *testing.T) (*Worker, *ledger.InMemoryGateway, *flakyIndex) {
	t.Helper()
	gateway := ledger.NewInMemoryGateway()
	idx := &flakyIndex{inner: index.NewInMemoryIndex()}
	worker := NewWorker(gateway, idx, 10*time.Millisecond, NewMetrics(), newTestLogger())
	return worker, gateway, idx
}

func commitRecord(t *testing.T, gateway *ledger.InMemoryGateway) string {
	t.Helper()
	id, err := gateway.Append(context.Background(), ledger.Result{
		Prediction:  "You have a heart disease",
		Probability: 0.9,
	})
	if err != nil {
		t.Fatalf("seed ledger record: %v", err)
	}
	return id
}

func TestWorker_EnqueueDeduplicates(t *testing.T) {
	worker, _, _ := newWorkerFixture(t)

	worker.Enqueue("patient-1", "tx-1")
	worker.Enqueue("patient-1", "tx-1")
	worker.Enqueue("patient-1", "tx-2")
	worker.Enqueue("", "tx-3")
	worker.Enqueue("patient-1", "")

	if got := worker.PendingCount(); got != 2 {
		t.Errorf("expected 2 pending entries, got %d", got)
	}
}

func TestWorker_Sweep_RepairsOnceIndexRecovers(t *testing.T) {
	worker, gateway, idx := newWorkerFixture(t)
	recordID := commitRecord(t, gateway)

	idx.failing = true
	worker.Enqueue("patient-1", recordID)

	// Index still down: the entry stays pending.
	worker.Sweep(context.Background())
	if got := worker.PendingCount(); got != 1 {
		t.Fatalf("expected entry to stay pending while index is down, got %d", got)
	}

	// Index recovers: the next sweep repairs it.
	idx.failing = false
	worker.Sweep(context.Background())
	if got := worker.PendingCount(); got != 0 {
		t.Fatalf("expected empty pending set after repair, got %d", got)
	}

	ids, err := idx.List(context.Background(), "patient-1")
	if err != nil {
		t.Fatalf("list index: %v", err)
	}
	if len(ids) != 1 || ids[0] != recordID {
		t.Errorf("expected index to contain %s, got %v", recordID, ids)
	}

	// A second sweep is a no-op and introduces no duplicate.
	worker.Sweep(context.Background())
	ids, _ = idx.List(context.Background(), "patient-1")
	if len(ids) != 1 {
		t.Errorf("expected exactly one index entry, got %v", ids)
	}
}

func TestWorker_Sweep_KeepsEntryWhileLedgerUnavailable(t *testing.T) {
	worker, gateway, _ := newWorkerFixture(t)
	recordID := commitRecord(t, gateway)

	gateway.FailFetch(recordID, ledger.ErrUnavailable)
	worker.Enqueue("patient-1", recordID)

	worker.Sweep(context.Background())
	if got := worker.PendingCount(); got != 1 {
		t.Errorf("expected entry to survive a ledger outage, got %d pending", got)
	}
}

func TestWorker_Sweep_DropsRecordUnknownToLedger(t *testing.T) {
	worker, _, _ := newWorkerFixture(t)

	worker.Enqueue("patient-1", "tx-never-committed")
	worker.Sweep(context.Background())

	if got := worker.PendingCount(); got != 0 {
		t.Errorf("expected unknown record to be dropped, got %d pending", got)
	}
}

func TestWorker_HandleFrame_TriggersImmediateRepair(t *testing.T) {
	worker, gateway, idx := newWorkerFixture(t)
	recordID := commitRecord(t, gateway)

	idx.failing = true
	worker.Enqueue("patient-1", recordID)
	idx.failing = false

	frame, err := EncodeCommitEvent(CommitEvent{TransactionID: recordID, Height: 1})
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}

	if err := worker.HandleFrame(websocket.BinaryMessage, frame); err != nil {
		t.Fatalf("HandleFrame() error = %v", err)
	}

	if got := worker.PendingCount(); got != 0 {
		t.Errorf("expected commit frame to repair the pending entry, got %d pending", got)
	}
}

func TestWorker_HandleFrame_IgnoresUnrelatedCommits(t *testing.T) {
	worker, gateway, idx := newWorkerFixture(t)
	recordID := commitRecord(t, gateway)

	idx.failing = true
	worker.Enqueue("patient-1", recordID)

	frame, _ := EncodeCommitEvent(CommitEvent{TransactionID: "tx-other", Height: 1})
	if err := worker.HandleFrame(websocket.BinaryMessage, frame); err != nil {
		t.Fatalf("HandleFrame() error = %v", err)
	}

	if got := worker.PendingCount(); got != 1 {
		t.Errorf("expected unrelated frame to leave pending set alone, got %d", got)
	}
}

func TestWorker_HandleFrame_MalformedFrameIsNotFatal(t *testing.T) {
	worker, _, _ := newWorkerFixture(t)

	if err := worker.HandleFrame(websocket.BinaryMessage, []byte{0xff}); err != nil {
		t.Errorf("malformed frame must not disconnect the stream, got %v", err)
	}
}

func TestWorker_Run_RepairsAfterEnqueue(t *testing.T) {
	worker, gateway, _ := newWorkerFixture(t)
	recordID := commitRecord(t, gateway)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = worker.Run(ctx)
		close(done)
	}()

	worker.Enqueue("patient-1", recordID)

	deadline := time.After(2 * time.Second)
	for worker.PendingCount() != 0 {
		select {
		case <-deadline:
			t.Fatal("worker did not repair the pending entry in time")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestWorker_RepairsPartialStoreFromService(t *testing.T) {
	gateway := ledger.NewInMemoryGateway()
	idx := &flakyIndex{inner: index.NewInMemoryIndex(), failing: true}
	worker := NewWorker(gateway, idx, 10*time.Millisecond, nil, newTestLogger())

	svc := record.NewService(gateway, idx, worker, newTestLogger())

	// The store commits to the ledger but the index write fails, so the
	// service hands the orphan to the worker.
	recordID, err := svc.Store(context.Background(), "patient-1", ledger.Result{
		Prediction:  "You do not have a heart disease",
		Probability: 0.1,
	})
	var idxErr *record.IndexWriteError
	if !errors.As(err, &idxErr) {
		t.Fatalf("expected *IndexWriteError, got %v", err)
	}
	if worker.PendingCount() != 1 {
		t.Fatalf("expected the orphan to be queued, got %d pending", worker.PendingCount())
	}

	// Once the index recovers, a sweep restores the listing.
	idx.failing = false
	worker.Sweep(context.Background())

	entries, err := svc.List(context.Background(), "patient-1")
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != recordID {
		t.Errorf("expected listing with repaired record %s, got %+v", recordID, entries)
	}
}
