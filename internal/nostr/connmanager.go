package nostr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"
	"github.com/zapkiosk/zapkiosk/internal/config"
	"github.com/zapkiosk/zapkiosk/internal/ops"
)

// ConnState describes the connection manager's lifecycle state
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateRetrying
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateRetrying:
		return "retrying"
	default:
		return "unknown"
	}
}

// Status is the externally visible connection state. Attempt is only
// meaningful while retrying; Reason is only set while disconnected and
// carries one of the sentinel errors from errors.go.
type Status struct {
	State   ConnState
	Attempt int
	Reason  error
}

// SubscriptionHandle represents one active subscription. It must be
// released via Unsubscribe before a replacement is created.
type SubscriptionHandle struct {
	ID     string
	cancel context.CancelFunc
}

// EventHandler is invoked once per raw inbound event, in per-relay
// delivery order.
type EventHandler func(*nostr.Event)

// ConnManager owns connectivity to the configured relay set. It dials
// all seeds concurrently, considers itself connected as soon as one
// relay accepts, and retries total connectivity loss a bounded number
// of times before going terminal.
type ConnManager struct {
	client *Client
	policy config.RelayPolicy
	log    *ops.Logger

	mu         sync.Mutex
	status     Status
	dialCancel context.CancelFunc
	subs       map[string]*SubscriptionHandle
}

// NewConnManager creates a connection manager over the given client
func NewConnManager(client *Client, policy config.RelayPolicy, logger *ops.Logger) *ConnManager {
	return &ConnManager{
		client: client,
		policy: policy,
		log:    logger.WithComponent("connmanager"),
		status: Status{State: StateDisconnected},
		subs:   make(map[string]*SubscriptionHandle),
	}
}

// Status returns the current connection status
func (m *ConnManager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *ConnManager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

// Connect dials all configured relays concurrently and succeeds as soon
// as at least one accepts. On total failure it retries per the policy
// (fixed delay between attempts) and then transitions to a terminal
// disconnected state; no further automatic attempts happen until
// Reconnect or OnForeground.
func (m *ConnManager) Connect(ctx context.Context) error {
	relays := m.client.SeedRelays()
	if len(relays) == 0 {
		m.setStatus(Status{State: StateDisconnected, Reason: ErrNoRelays})
		return ErrNoRelays
	}

	dialCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	if m.dialCancel != nil {
		m.dialCancel()
	}
	m.dialCancel = cancel
	m.mu.Unlock()

	m.setStatus(Status{State: StateConnecting})

	attempt := 0
	err := retry.Do(
		func() error {
			return m.connectOnce(dialCtx, relays)
		},
		retry.Context(dialCtx),
		retry.Attempts(uint(m.policy.MaxRetries)+1),
		retry.Delay(time.Duration(m.policy.RetryDelayMs)*time.Millisecond),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			attempt = int(n) + 1
			m.setStatus(Status{State: StateRetrying, Attempt: attempt})
			m.log.LogRetryAttempt(attempt, m.policy.MaxRetries, err)
		}),
	)
	if err != nil {
		if dialCtx.Err() != nil {
			// Cancelled mid-dial; whoever cancelled owns the state
			return dialCtx.Err()
		}
		reason := fmt.Errorf("%w: %w", ErrRetriesExhausted, err)
		m.setStatus(Status{State: StateDisconnected, Reason: reason})
		return reason
	}

	m.setStatus(Status{State: StateConnected})
	return nil
}

// connectOnce attempts every relay in parallel and returns nil when at
// least one connection is live before the dial timeout.
func (m *ConnManager) connectOnce(ctx context.Context, relays []string) error {
	results := make(chan error, len(relays))

	for _, url := range relays {
		go func(url string) {
			err := m.client.EnsureRelay(url)
			m.log.LogRelayConnection(url, err == nil, err)
			results <- err
		}(url)
	}

	timeout := time.NewTimer(m.client.ConnectTimeout())
	defer timeout.Stop()

	failures := 0
	for range relays {
		select {
		case err := <-results:
			if err == nil {
				return nil
			}
			failures++
		case <-timeout.C:
			return fmt.Errorf("%w: %d of %d relays failed before timeout", ErrAllRelaysFailed, failures, len(relays))
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return ErrAllRelaysFailed
}

// Reconnect resets retry state and attempts connection immediately,
// bypassing any backoff in progress.
func (m *ConnManager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	m.mu.Unlock()

	m.log.Info("manual reconnect requested")
	return m.Connect(ctx)
}

// OnForeground handles an app background-to-foreground transition: one
// immediate reconnect attempt with the retry counter reset, but only
// when currently disconnected. Returns true if a reconnect was attempted.
func (m *ConnManager) OnForeground(ctx context.Context) bool {
	if m.Status().State != StateDisconnected {
		return false
	}

	m.log.Info("reconnecting on foreground resume")
	if err := m.Connect(ctx); err != nil {
		m.log.Warn("foreground reconnect failed", "error", err)
	}
	return true
}

// OnBackground records an app foreground-to-background transition.
// Connections are left up; relays drop them on their own schedule.
func (m *ConnManager) OnBackground() {
	m.log.Debug("app backgrounded", "state", m.Status().State.String())
}

// Subscribe registers filters and a handler invoked once per inbound
// event. The returned handle must be released via Unsubscribe before a
// replacement subscription is created for the same purpose.
func (m *ConnManager) Subscribe(ctx context.Context, filters nostr.Filters, handler EventHandler) (*SubscriptionHandle, error) {
	if len(filters) == 0 {
		return nil, fmt.Errorf("no filters provided")
	}

	subCtx, cancel := context.WithCancel(ctx)
	handle := &SubscriptionHandle{
		ID:     uuid.NewString(),
		cancel: cancel,
	}

	events := m.client.SubscribeEvents(subCtx, m.client.SeedRelays(), filters)
	go func() {
		for event := range events {
			handler(event)
		}
	}()

	m.mu.Lock()
	m.subs[handle.ID] = handle
	m.mu.Unlock()

	m.log.Debug("subscription created", "sub_id", handle.ID, "filters", len(filters))
	return handle, nil
}

// Unsubscribe releases a subscription. Idempotent: releasing an unknown
// or already released handle is a no-op.
func (m *ConnManager) Unsubscribe(handle *SubscriptionHandle) {
	if handle == nil {
		return
	}

	m.mu.Lock()
	_, known := m.subs[handle.ID]
	delete(m.subs, handle.ID)
	m.mu.Unlock()

	if handle.cancel != nil {
		handle.cancel()
	}
	if known {
		m.log.Debug("subscription released", "sub_id", handle.ID)
	}
}

// ActiveSubscriptions returns the number of live subscriptions
func (m *ConnManager) ActiveSubscriptions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Disconnect cancels any in-flight dial, releases all subscriptions and
// marks the manager disconnected. Idempotent.
func (m *ConnManager) Disconnect() {
	m.mu.Lock()
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	handles := make([]*SubscriptionHandle, 0, len(m.subs))
	for _, h := range m.subs {
		handles = append(handles, h)
	}
	m.subs = make(map[string]*SubscriptionHandle)
	m.mu.Unlock()

	for _, h := range handles {
		h.cancel()
	}

	m.setStatus(Status{State: StateDisconnected})
}
