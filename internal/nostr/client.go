package nostr

import (
	"context"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/zapkiosk/zapkiosk/internal/config"
	"github.com/zapkiosk/zapkiosk/internal/ops"
)

// Client provides a high-level interface for interacting with Nostr relays
type Client struct {
	pool        *nostr.SimplePool
	relayConfig *config.Relays
	log         *ops.Logger
	ctx         context.Context
}

// NewClient creates a new Nostr client with the given configuration
func NewClient(ctx context.Context, relayConfig *config.Relays, logger *ops.Logger) *Client {
	pool := nostr.NewSimplePool(ctx)
	return &Client{
		pool:        pool,
		relayConfig: relayConfig,
		log:         logger.WithComponent("nostr"),
		ctx:         ctx,
	}
}

// Pool returns the underlying SimplePool for advanced operations
func (c *Client) Pool() *nostr.SimplePool {
	return c.pool
}

// EnsureRelay dials a single relay (or returns its live connection)
func (c *Client) EnsureRelay(url string) error {
	if _, err := c.pool.EnsureRelay(url); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	return nil
}

// FetchEvents fetches events from the given relays matching the filter
// and waits for EOSE
func (c *Client) FetchEvents(ctx context.Context, relays []string, filter nostr.Filter) ([]*nostr.Event, error) {
	events := make([]*nostr.Event, 0)

	for relayEvent := range c.pool.SubManyEose(ctx, relays, nostr.Filters{filter}) {
		if relayEvent.Event != nil {
			events = append(events, relayEvent.Event)
		}
	}

	return events, nil
}

// SubscribeEvents subscribes to events matching the filters on the given
// relays. Events arrive in per-relay delivery order; no cross-relay
// ordering is guaranteed. The returned channel is closed when the
// context is cancelled.
func (c *Client) SubscribeEvents(ctx context.Context, relays []string, filters nostr.Filters) <-chan *nostr.Event {
	eventChan := make(chan *nostr.Event, 100)

	go func() {
		defer close(eventChan)

		c.log.Debug("subscription started",
			"relays", len(relays),
			"filters", len(filters))

		eventCount := 0
		for relayEvent := range c.pool.SubMany(ctx, relays, filters) {
			if relayEvent.Event == nil {
				continue
			}

			eventCount++
			if eventCount == 1 {
				c.log.Debug("first event received", "relay", relayEvent.Relay.URL)
			}

			select {
			case eventChan <- relayEvent.Event:
			case <-ctx.Done():
				c.log.Debug("subscription cancelled", "events_received", eventCount)
				return
			}
		}

		c.log.Debug("subscription closed", "events_received", eventCount)
	}()

	return eventChan
}

// Close closes all relay connections
func (c *Client) Close() {
	c.pool.Close("client shutting down")
}

// SeedRelays returns the configured seed relays
func (c *Client) SeedRelays() []string {
	if c.relayConfig == nil {
		return []string{}
	}
	return c.relayConfig.Seeds
}

// ConnectTimeout returns the configured per-relay dial timeout
func (c *Client) ConnectTimeout() time.Duration {
	if c.relayConfig == nil || c.relayConfig.Policy.ConnectTimeoutMs == 0 {
		return 30 * time.Second
	}
	return time.Duration(c.relayConfig.Policy.ConnectTimeoutMs) * time.Millisecond
}
