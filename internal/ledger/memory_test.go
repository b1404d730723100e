package ledger

import (
	"context"
	"errors"
	"testing"
)

func TestInMemoryGateway_AppendAndFetch(t *testing.T) {
	gw := NewInMemoryGateway()

	id, err := gw.Append(context.Background(), testResult())
	if err != nil {
		t.Fatalf("Append returned error: %v", err)
	}
	if id != "tx-1" {
		t.Errorf("expected first id tx-1, got %s", id)
	}

	record, err := gw.Fetch(context.Background(), id)
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if record.Result.Prediction != "Positive" {
		t.Errorf("expected prediction Positive, got %s", record.Result.Prediction)
	}
	if record.Timestamp.IsZero() {
		t.Error("expected append-time timestamp to be set")
	}
}

func TestInMemoryGateway_FetchUnknown(t *testing.T) {
	gw := NewInMemoryGateway()

	_, err := gw.Fetch(context.Background(), "tx-unknown")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestInMemoryGateway_FaultInjection(t *testing.T) {
	gw := NewInMemoryGateway()

	gw.FailAppends(ErrUnavailable)
	if _, err := gw.Append(context.Background(), testResult()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected injected append error, got %v", err)
	}
	if gw.Len() != 0 {
		t.Errorf("failed append should not commit, got %d records", gw.Len())
	}

	gw.FailAppends(nil)
	id, err := gw.Append(context.Background(), testResult())
	if err != nil {
		t.Fatalf("Append returned error after clearing fault: %v", err)
	}

	gw.FailFetch(id, ErrUnavailable)
	if _, err := gw.Fetch(context.Background(), id); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected injected fetch error, got %v", err)
	}

	gw.FailFetch(id, nil)
	if _, err := gw.Fetch(context.Background(), id); err != nil {
		t.Errorf("expected fetch to succeed after clearing fault, got %v", err)
	}
}

func TestInMemoryGateway_SequentialIDs(t *testing.T) {
	gw := NewInMemoryGateway()

	first, _ := gw.Append(context.Background(), testResult())
	second, _ := gw.Append(context.Background(), testResult())

	if first == second {
		t.Error("ids must be unique")
	}
	if second != "tx-2" {
		t.Errorf("expected tx-2, got %s", second)
	}
}
