package nostr

import "errors"

// Connection failure reasons. Callers distinguish these to render a
// specific recovery action instead of a generic failure.
var (
	// ErrNoIdentity means no keys are configured; fatal, never retried.
	ErrNoIdentity = errors.New("no keys configured")

	// ErrNoRelays means the relay seed list is empty; fatal config error.
	ErrNoRelays = errors.New("no relays configured")

	// ErrAllRelaysFailed means every configured relay refused or timed
	// out on a single connection attempt.
	ErrAllRelaysFailed = errors.New("all relays unreachable")

	// ErrRetriesExhausted means the automatic retry budget is spent and
	// no further attempts happen until Reconnect or a foreground resume.
	ErrRetriesExhausted = errors.New("connection retries exhausted")
)
