package reconciler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func streamConfig(serverURL string) Config {
	return Config{
		StreamURL:     "ws" + serverURL[4:],
		BaseDelay:     10 * time.Millisecond,
		MaxDelay:      100 * time.Millisecond,
		JitterFactor:  0,
		RetryInterval: time.Second,
	}
}

func TestClient_ReceivesCommitFrames(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		frame, _ := EncodeCommitEvent(CommitEvent{TransactionID: "tx-1", Height: 5})
		_ = conn.WriteMessage(websocket.BinaryMessage, frame)

		time.Sleep(100 * time.Millisecond)
	}))
	defer server.Close()

	var received atomic.Int32
	var lastID atomic.Value
	handler := func(msgType int, payload []byte) error {
		event, err := DecodeCommitEvent(payload)
		if err != nil {
			return err
		}
		lastID.Store(event.TransactionID)
		received.Add(1)
		return nil
	}

	client, err := NewClient(streamConfig(server.URL), handler, newTestLogger())
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_ = client.Run(ctx)

	if received.Load() == 0 {
		t.Fatal("expected at least one frame")
	}
	if got, _ := lastID.Load().(string); got != "tx-1" {
		t.Errorf("expected transaction id tx-1, got %q", got)
	}
}

func TestClient_ReconnectsAfterServerClose(t *testing.T) {
	var connections atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		connections.Add(1)

		upgrader := websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		frame, _ := EncodeCommitEvent(CommitEvent{TransactionID: "tx-1", Height: 1})
		_ = conn.WriteMessage(websocket.BinaryMessage, frame)
		time.Sleep(10 * time.Millisecond)
		conn.Close()
	}))
	defer server.Close()

	client, err := NewClient(streamConfig(server.URL), nil, newTestLogger())
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = client.Run(ctx)

	if connections.Load() < 2 {
		t.Errorf("expected at least 2 connections (initial + reconnect), got %d", connections.Load())
	}
}

func TestClient_RetriesWhileServerRefuses(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "not yet", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, err := NewClient(streamConfig(server.URL), nil, newTestLogger())
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_ = client.Run(ctx)

	if attempts.Load() < 3 {
		t.Errorf("expected repeated connection attempts, got %d", attempts.Load())
	}
	if client.IsConnected() {
		t.Error("client must not report connected after failures")
	}
}

func TestClient_InvalidConfig(t *testing.T) {
	_, err := NewClient(Config{}, nil, newTestLogger())
	if err == nil {
		t.Fatal("expected error for empty config")
	}
}
