package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fiatreserve/core/types"
)

func sampleBatch() []types.EventRecord {
	return []types.EventRecord{{
		ID:        "rec-1",
		Sequence:  1,
		Operation: "mint",
		Event:     &types.Event{Type: "reserve.mint", Attributes: map[string]string{"stableAmount": "1"}},
	}}
}

func TestDispatcherSignsPayload(t *testing.T) {
	var (
		mu        sync.Mutex
		signature string
		body      []byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		mu.Lock()
		body = raw
		signature = r.Header.Get(SignatureHeader)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()
	if err := dispatcher.Publish(context.Background(), sampleBatch()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return signature != ""
	}, time.Second)

	mu.Lock()
	defer mu.Unlock()
	if signature == "" {
		t.Fatalf("expected signature header")
	}
	if !Verify([]byte("secret"), body, signature) {
		t.Fatalf("signature does not verify")
	}
	var payload CommittedPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Type != EventCommitted || payload.Operation != "mint" || len(payload.Records) != 1 || payload.DeliveryID == "" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestDispatcherRetries(t *testing.T) {
	attempts := int32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"), WithRetryPolicy(5, time.Millisecond*10, time.Millisecond*20))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()
	if err := dispatcher.Publish(context.Background(), sampleBatch()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(func() bool { return atomic.LoadInt32(&attempts) >= 3 }, time.Second)
	if atomic.LoadInt32(&attempts) < 3 {
		t.Fatalf("expected retries, got %d", attempts)
	}
}

func TestDispatcherRequiresConfig(t *testing.T) {
	if _, err := NewDispatcher(" ", []byte("s")); err == nil {
		t.Fatalf("expected endpoint error")
	}
	if _, err := NewDispatcher("http://hooks", nil); err == nil {
		t.Fatalf("expected secret error")
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	sig := Sign([]byte("k"), []byte("body"))
	if Verify([]byte("k"), []byte("body!"), sig) {
		t.Fatalf("tampered body verified")
	}
}

func waitFor(cond func() bool, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond * 10)
	}
}

func TestCloseDrainsQueuedDeliveries(t *testing.T) {
	received := int32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&received, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := dispatcher.Publish(context.Background(), sampleBatch()); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	dispatcher.Close()
	if got := atomic.LoadInt32(&received); got != 5 {
		t.Fatalf("expected 5 deliveries before close returned, got %d", got)
	}
	if err := dispatcher.Publish(context.Background(), sampleBatch()); err != ErrDispatcherClosed {
		t.Fatalf("expected ErrDispatcherClosed, got %v", err)
	}
}
