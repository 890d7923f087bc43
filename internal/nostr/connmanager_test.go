package nostr

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/zapkiosk/zapkiosk/internal/config"
)

// setupUnreachableManager builds a manager whose only relay is a local
// port nothing listens on, with a fast retry policy so tests stay quick.
func setupUnreachableManager(t *testing.T, maxRetries int) (*ConnManager, func()) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	cfg := &config.Relays{
		Seeds: []string{"ws://127.0.0.1:1"},
		Policy: config.RelayPolicy{
			ConnectTimeoutMs: 2000,
			MaxRetries:       maxRetries,
			RetryDelayMs:     20,
		},
	}

	client := NewClient(ctx, cfg, testLogger(t))
	mgr := NewConnManager(client, cfg.Policy, testLogger(t))

	cleanup := func() {
		mgr.Disconnect()
		client.Close()
		cancel()
	}
	return mgr, cleanup
}

func TestConnectAllRelaysUnreachable(t *testing.T) {
	mgr, cleanup := setupUnreachableManager(t, 2)
	defer cleanup()

	err := mgr.Connect(context.Background())
	if err == nil {
		t.Fatal("expected connect to fail with no reachable relays")
	}

	if !errors.Is(err, ErrRetriesExhausted) {
		t.Errorf("error = %v, want ErrRetriesExhausted", err)
	}

	status := mgr.Status()
	if status.State != StateDisconnected {
		t.Errorf("state = %v, want terminal disconnected", status.State)
	}
	if status.Reason == nil || !errors.Is(status.Reason, ErrRetriesExhausted) {
		t.Errorf("reason = %v, want ErrRetriesExhausted", status.Reason)
	}
}

func TestConnectNoRelays(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Relays{Seeds: nil}
	client := NewClient(ctx, cfg, testLogger(t))
	defer client.Close()

	mgr := NewConnManager(client, cfg.Policy, testLogger(t))
	err := mgr.Connect(ctx)
	if !errors.Is(err, ErrNoRelays) {
		t.Errorf("error = %v, want ErrNoRelays", err)
	}
	if got := mgr.Status().Reason; !errors.Is(got, ErrNoRelays) {
		t.Errorf("status reason = %v, want ErrNoRelays", got)
	}
}

func TestConnectCancellation(t *testing.T) {
	mgr, cleanup := setupUnreachableManager(t, 10)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- mgr.Connect(ctx)
	}()

	// Let the first attempt start, then cancel mid-retry
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected cancelled connect to return an error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Connect did not return promptly after cancellation")
	}
}

func TestOnForeground(t *testing.T) {
	mgr, cleanup := setupUnreachableManager(t, 0)
	defer cleanup()

	// Simulate a live connection: foreground resume must not churn
	mgr.setStatus(Status{State: StateConnected})
	if mgr.OnForeground(context.Background()) {
		t.Error("expected no reconnect attempt while connected")
	}

	// Terminal disconnected: one immediate attempt with counter reset
	mgr.setStatus(Status{State: StateDisconnected, Reason: ErrRetriesExhausted})
	if !mgr.OnForeground(context.Background()) {
		t.Error("expected a reconnect attempt while disconnected")
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	mgr, cleanup := setupUnreachableManager(t, 0)
	defer cleanup()

	filters := nostr.Filters{{Kinds: []int{9735}}}
	handle, err := mgr.Subscribe(context.Background(), filters, func(*nostr.Event) {})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if handle.ID == "" {
		t.Error("expected handle to carry an id")
	}
	if mgr.ActiveSubscriptions() != 1 {
		t.Errorf("ActiveSubscriptions() = %d, want 1", mgr.ActiveSubscriptions())
	}

	mgr.Unsubscribe(handle)
	if mgr.ActiveSubscriptions() != 0 {
		t.Errorf("ActiveSubscriptions() = %d, want 0 after release", mgr.ActiveSubscriptions())
	}

	// Idempotent: releasing again is a no-op
	mgr.Unsubscribe(handle)
	mgr.Unsubscribe(nil)
}

func TestSubscribeRequiresFilters(t *testing.T) {
	mgr, cleanup := setupUnreachableManager(t, 0)
	defer cleanup()

	if _, err := mgr.Subscribe(context.Background(), nil, func(*nostr.Event) {}); err == nil {
		t.Error("expected error for empty filters")
	}
}

func TestConnStateString(t *testing.T) {
	tests := []struct {
		state ConnState
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateRetrying, "retrying"},
		{ConnState(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("ConnState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
