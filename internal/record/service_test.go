package record

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/medtrust/predledger/internal/index"
	"github.com/medtrust/predledger/internal/ledger"
)

type failingIndex struct {
	inner *index.InMemoryIndex
	err   error
}

func (f *failingIndex) Append(ctx context.Context, identity, recordID string) error {
	if f.err != nil {
		return f.err
	}
	return f.inner.Append(ctx, identity, recordID)
}

func (f *failingIndex) List(ctx context.Context, identity string) ([]string, error) {
	return f.inner.List(ctx, identity)
}

type captureQueue struct {
	mu      sync.Mutex
	entries [][2]string
}

func (q *captureQueue) Enqueue(identity, recordID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, [2]string{identity, recordID})
}

func testResult() ledger.Result {
	return ledger.Result{
		Inputs:      map[string]float64{"age": 55, "chol": 240},
		Prediction:  "Positive",
		Probability: 0.82,
	}
}

func newTestService() (*Service, *ledger.InMemoryGateway, *index.InMemoryIndex) {
	gateway := ledger.NewInMemoryGateway()
	idx := index.NewInMemoryIndex()
	svc := NewService(gateway, idx, nil, slog.Default())
	return svc, gateway, idx
}

func TestStoreAppendsLedgerThenIndex(t *testing.T) {
	svc, gateway, idx := newTestService()
	ctx := context.Background()

	id, err := svc.Store(ctx, "alice", testResult())
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if id != "tx-1" {
		t.Errorf("Store() id = %q, want tx-1", id)
	}
	if gateway.Len() != 1 {
		t.Errorf("ledger records = %d, want 1", gateway.Len())
	}

	ids, err := idx.List(ctx, "alice")
	if err != nil {
		t.Fatalf("index List() error = %v", err)
	}
	if len(ids) != 1 || ids[0] != "tx-1" {
		t.Errorf("index = %v, want [tx-1]", ids)
	}
}

func TestStoreLedgerFailureStoresNothing(t *testing.T) {
	svc, gateway, idx := newTestService()
	ctx := context.Background()

	gateway.FailAppends(ledger.ErrUnavailable)

	id, err := svc.Store(ctx, "alice", testResult())
	if !errors.Is(err, ledger.ErrUnavailable) {
		t.Fatalf("Store() error = %v, want ErrUnavailable", err)
	}
	if id != "" {
		t.Errorf("Store() id = %q, want empty", id)
	}

	ids, _ := idx.List(ctx, "alice")
	if len(ids) != 0 {
		t.Errorf("index = %v, want empty", ids)
	}
}

func TestStoreLedgerRejection(t *testing.T) {
	svc, gateway, _ := newTestService()
	gateway.FailAppends(ledger.ErrRejected)

	_, err := svc.Store(context.Background(), "alice", testResult())
	if !errors.Is(err, ledger.ErrRejected) {
		t.Fatalf("Store() error = %v, want ErrRejected", err)
	}
}

func TestStoreIndexFailureReturnsCommittedID(t *testing.T) {
	gateway := ledger.NewInMemoryGateway()
	idx := &failingIndex{inner: index.NewInMemoryIndex(), err: errors.New("connection refused")}
	queue := &captureQueue{}
	svc := NewService(gateway, idx, queue, slog.Default())

	id, err := svc.Store(context.Background(), "alice", testResult())
	if id != "tx-1" {
		t.Errorf("Store() id = %q, want tx-1", id)
	}

	var iwe *IndexWriteError
	if !errors.As(err, &iwe) {
		t.Fatalf("Store() error = %T, want *IndexWriteError", err)
	}
	if iwe.RecordID != "tx-1" {
		t.Errorf("IndexWriteError.RecordID = %q, want tx-1", iwe.RecordID)
	}

	// The record is committed on the ledger even though the index missed it.
	if gateway.Len() != 1 {
		t.Errorf("ledger records = %d, want 1", gateway.Len())
	}

	queue.mu.Lock()
	defer queue.mu.Unlock()
	if len(queue.entries) != 1 || queue.entries[0] != [2]string{"alice", "tx-1"} {
		t.Errorf("queue = %v, want [[alice tx-1]]", queue.entries)
	}
}

func TestStoreNilQueueDoesNotPanic(t *testing.T) {
	gateway := ledger.NewInMemoryGateway()
	idx := &failingIndex{inner: index.NewInMemoryIndex(), err: errors.New("down")}
	svc := NewService(gateway, idx, nil, nil)

	if _, err := svc.Store(context.Background(), "alice", testResult()); err == nil {
		t.Fatal("Store() expected error, got nil")
	}
}

func TestListPreservesIndexOrder(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.Store(ctx, "alice", testResult()); err != nil {
			t.Fatalf("Store() error = %v", err)
		}
	}

	entries, err := svc.List(ctx, "alice")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("List() len = %d, want 3", len(entries))
	}

	want := []string{"tx-1", "tx-2", "tx-3"}
	for i, e := range entries {
		if e.ID != want[i] {
			t.Errorf("entries[%d].ID = %q, want %q", i, e.ID, want[i])
		}
		if !e.Available || e.Record == nil {
			t.Errorf("entries[%d] unavailable, want available", i)
		}
	}
}

func TestListEmptyIdentity(t *testing.T) {
	svc, _, _ := newTestService()

	entries, err := svc.List(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("List() = %v, want empty", entries)
	}
}

func TestListPartialLedgerOutage(t *testing.T) {
	svc, gateway, _ := newTestService()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.Store(ctx, "alice", testResult()); err != nil {
			t.Fatalf("Store() error = %v", err)
		}
	}
	gateway.FailFetch("tx-2", ledger.ErrUnavailable)

	entries, err := svc.List(ctx, "alice")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("List() len = %d, want 3", len(entries))
	}

	if !entries[0].Available || !entries[2].Available {
		t.Error("healthy entries reported unavailable")
	}
	if entries[1].Available {
		t.Error("entries[1].Available = true, want false")
	}
	if entries[1].Record != nil {
		t.Error("unavailable entry carries a record")
	}
	if entries[1].Reason != "ledger_unavailable" {
		t.Errorf("entries[1].Reason = %q, want ledger_unavailable", entries[1].Reason)
	}
	if entries[1].ID != "tx-2" {
		t.Errorf("entries[1].ID = %q, want tx-2", entries[1].ID)
	}
}

func TestListMissingLedgerRecord(t *testing.T) {
	svc, gateway, idx := newTestService()
	ctx := context.Background()

	if _, err := svc.Store(ctx, "alice", testResult()); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	// An index entry whose id the ledger never committed.
	if err := idx.Append(ctx, "alice", "tx-ghost"); err != nil {
		t.Fatalf("index Append() error = %v", err)
	}
	_ = gateway

	entries, err := svc.List(ctx, "alice")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("List() len = %d, want 2", len(entries))
	}
	if entries[1].Available {
		t.Error("ghost entry reported available")
	}
	if entries[1].Reason != "not_found" {
		t.Errorf("entries[1].Reason = %q, want not_found", entries[1].Reason)
	}
}

func TestGetOwnedRecord(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	id, err := svc.Store(ctx, "alice", testResult())
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	rec, err := svc.Get(ctx, "alice", id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.ID != id {
		t.Errorf("Get() id = %q, want %q", rec.ID, id)
	}
	if rec.Result.Prediction != "Positive" {
		t.Errorf("Get() prediction = %q, want Positive", rec.Result.Prediction)
	}
}

func TestGetForeignRecord(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	id, err := svc.Store(ctx, "alice", testResult())
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	if _, err := svc.Get(ctx, "bob", id); !errors.Is(err, ErrNotOwned) {
		t.Fatalf("Get() error = %v, want ErrNotOwned", err)
	}
}

func TestReindexRestoresOrphan(t *testing.T) {
	gateway := ledger.NewInMemoryGateway()
	fi := &failingIndex{inner: index.NewInMemoryIndex(), err: errors.New("down")}
	svc := NewService(gateway, fi, nil, slog.Default())
	ctx := context.Background()

	id, err := svc.Store(ctx, "alice", testResult())
	var iwe *IndexWriteError
	if !errors.As(err, &iwe) {
		t.Fatalf("Store() error = %v, want *IndexWriteError", err)
	}

	// Index recovers; reindex restores the orphan.
	fi.err = nil
	if err := svc.Reindex(ctx, "alice", id); err != nil {
		t.Fatalf("Reindex() error = %v", err)
	}

	entries, err := svc.List(ctx, "alice")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 1 || entries[0].ID != id || !entries[0].Available {
		t.Errorf("List() = %+v, want one available entry %s", entries, id)
	}
}

func TestReindexIsIdempotent(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	id, err := svc.Store(ctx, "alice", testResult())
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := svc.Reindex(ctx, "alice", id); err != nil {
			t.Fatalf("Reindex() error = %v", err)
		}
	}

	entries, _ := svc.List(ctx, "alice")
	if len(entries) != 1 {
		t.Errorf("List() len = %d, want 1 after repeated reindex", len(entries))
	}
}

func TestReindexUnknownRecord(t *testing.T) {
	svc, _, _ := newTestService()

	err := svc.Reindex(context.Background(), "alice", "tx-nope")
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("Reindex() error = %v, want ErrNotFound", err)
	}
}

func TestStoreIdentityIsolation(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	aliceID, _ := svc.Store(ctx, "alice", testResult())
	bobID, _ := svc.Store(ctx, "bob", testResult())

	aliceEntries, _ := svc.List(ctx, "alice")
	bobEntries, _ := svc.List(ctx, "bob")

	if len(aliceEntries) != 1 || aliceEntries[0].ID != aliceID {
		t.Errorf("alice entries = %+v", aliceEntries)
	}
	if len(bobEntries) != 1 || bobEntries[0].ID != bobID {
		t.Errorf("bob entries = %+v", bobEntries)
	}
}
