package storage

import (
	"context"
	"testing"
	"time"
)

func newTestWorker(t *testing.T, backend Backend) (*Worker, context.CancelFunc) {
	w := NewWorker(backend, 1e9, 1e9, time.Millisecond) // effectively unlimited RCU/WCU
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = w.Run(ctx) }()
	t.Cleanup(cancel)
	return w, cancel
}

func TestWorkerPutThenGetRoundTrip(t *testing.T) {
	backend, err := NewMockBackend(0)
	if err != nil {
		t.Fatalf("NewMockBackend: %v", err)
	}
	backend.EnableImage()
	w, _ := newTestWorker(t, backend)

	ctx := context.Background()
	if err := <-w.PutAsync(ctx, "k", "0123456789"); err != nil {
		t.Fatalf("PutAsync: %v", err)
	}

	res := <-w.GetAsync(ctx, "k")
	if res.Err != nil {
		t.Fatalf("GetAsync: %v", res.Err)
	}
	if len(res.Val) != 10 {
		t.Errorf("len(Val) = %d, want 10", len(res.Val))
	}
}

func TestWorkerGetPropagatesBackendError(t *testing.T) {
	backend, err := NewMockBackend(0)
	if err != nil {
		t.Fatalf("NewMockBackend: %v", err)
	}
	backend.EnableImage() // never populated, so every Get misses
	w, _ := newTestWorker(t, backend)

	res := <-w.GetAsync(context.Background(), "missing")
	if res.Err == nil {
		t.Error("GetAsync on an untracked image key should propagate a backend error")
	}
}

func TestWorkerSetBackendSwapsBackend(t *testing.T) {
	first, err := NewMockBackend(0)
	if err != nil {
		t.Fatalf("NewMockBackend: %v", err)
	}
	first.EnableImage()
	w, _ := newTestWorker(t, first)

	ctx := context.Background()
	if err := <-w.PutAsync(ctx, "k", "aaaaaaaaaa"); err != nil { // 10 bytes into first
		t.Fatalf("PutAsync: %v", err)
	}

	second, err := NewMockBackend(0)
	if err != nil {
		t.Fatalf("NewMockBackend: %v", err)
	}
	second.EnableImage()
	w.SetBackend(second)

	// "k" was never written to second, so it should now miss.
	res := <-w.GetAsync(ctx, "k")
	if res.Err == nil {
		t.Error("GetAsync after SetBackend should see the new (empty) backend, not the old one")
	}
}

func TestWorkerRunStopsOnContextCancel(t *testing.T) {
	backend, err := NewMockBackend(0)
	if err != nil {
		t.Fatalf("NewMockBackend: %v", err)
	}
	w := NewWorker(backend, 1e9, 1e9, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		if err == nil {
			t.Error("Run() returned nil error after context cancellation, want ctx.Err()")
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return within 1s of context cancellation")
	}
}
