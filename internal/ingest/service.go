package ingest

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	gonostr "github.com/nbd-wtf/go-nostr"
	"github.com/zapkiosk/zapkiosk/internal/archive"
	"github.com/zapkiosk/zapkiosk/internal/config"
	"github.com/zapkiosk/zapkiosk/internal/donation"
	"github.com/zapkiosk/zapkiosk/internal/ledger"
	"github.com/zapkiosk/zapkiosk/internal/nostr"
	"github.com/zapkiosk/zapkiosk/internal/ops"
)

// State describes the coordinator lifecycle. Listening is the only
// state in which raw events are accepted into the ledger.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateListening
	StateRetrying
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateRetrying:
		return "retrying"
	default:
		return "unknown"
	}
}

// Connection is the slice of the connection manager the coordinator
// drives. *nostr.ConnManager implements it.
type Connection interface {
	Connect(ctx context.Context) error
	Reconnect(ctx context.Context) error
	Subscribe(ctx context.Context, filters gonostr.Filters, handler nostr.EventHandler) (*nostr.SubscriptionHandle, error)
	Unsubscribe(handle *nostr.SubscriptionHandle)
	OnForeground(ctx context.Context) bool
	OnBackground()
	Disconnect()
	Status() nostr.Status
}

// AlertSink receives accepted donations for presentation.
// *alerts.Queue implements it.
type AlertSink interface {
	Enqueue(d *donation.Donation)
}

// Service wires the connection manager through the normalizer into the
// ledger and alert queue. It owns at most one live subscription at any
// time; identity changes and reconnects release the old handle before
// creating a replacement.
type Service struct {
	cfg        *config.Config
	conn       Connection
	normalizer *donation.Normalizer
	ledger     *ledger.Store
	archive    *archive.Archive
	alerts     AlertSink
	log        *ops.Logger

	mu     sync.Mutex
	state  State
	sub    *nostr.SubscriptionHandle
	pubkey string
	ctx    context.Context
}

// NewService creates an ingestion coordinator. archive may be nil.
func NewService(cfg *config.Config, conn Connection, normalizer *donation.Normalizer, store *ledger.Store, arch *archive.Archive, sink AlertSink, logger *ops.Logger) *Service {
	return &Service{
		cfg:        cfg,
		conn:       conn,
		normalizer: normalizer,
		ledger:     store,
		archive:    arch,
		alerts:     sink,
		log:        logger.WithComponent("ingest"),
		state:      StateIdle,
	}
}

// State returns the coordinator state. While a connect is in flight the
// connection manager's retry progress shows through as Retrying.
func (s *Service) State() State {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if state == StateConnecting && s.conn.Status().State == nostr.StateRetrying {
		return StateRetrying
	}
	return state
}

func (s *Service) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Start connects and subscribes to zap receipts for the configured
// identity. A missing identity is a configuration error, surfaced
// immediately and never retried.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return fmt.Errorf("ingestion already started (state %s)", s.state)
	}
	s.state = StateConnecting
	s.ctx = ctx
	s.mu.Unlock()

	pubkey, err := s.cfg.Identity.Pubkey()
	if err != nil {
		s.setState(StateIdle)
		return fmt.Errorf("%w: %w", nostr.ErrNoIdentity, err)
	}
	s.mu.Lock()
	s.pubkey = pubkey
	s.mu.Unlock()

	if err := s.conn.Connect(ctx); err != nil {
		s.setState(StateIdle)
		return fmt.Errorf("failed to connect: %w", err)
	}

	if err := s.subscribe(ctx); err != nil {
		s.setState(StateIdle)
		return err
	}

	s.setState(StateListening)
	s.log.Info("listening for zaps", "pubkey", shortKey(pubkey))
	return nil
}

// subscribe creates the single live subscription, releasing any prior
// handle first.
func (s *Service) subscribe(ctx context.Context) error {
	s.mu.Lock()
	old := s.sub
	s.sub = nil
	pubkey := s.pubkey
	s.mu.Unlock()

	if old != nil {
		s.conn.Unsubscribe(old)
	}

	filter := gonostr.Filter{
		Kinds: []int{donation.KindZapReceipt},
		Tags:  gonostr.TagMap{"p": []string{pubkey}},
	}

	handle, err := s.conn.Subscribe(ctx, gonostr.Filters{filter}, s.handleEvent)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	s.mu.Lock()
	s.sub = handle
	s.mu.Unlock()
	return nil
}

// handleEvent runs one raw relay event through the pipeline:
// normalize, append, and only the appends that actually landed a new
// row produce an alert.
func (s *Service) handleEvent(event *gonostr.Event) {
	if s.State() != StateListening {
		return
	}

	d, ok := s.normalizer.Normalize(event)
	if !ok {
		return
	}

	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	wasNew, err := s.ledger.Append(ctx, d)
	if err != nil {
		// Persistence failure: the donation is not recorded, so no
		// alert may be shown for it.
		s.log.Error("ledger append failed", "event_id", d.ID, "error", err)
		return
	}
	if !wasNew {
		return
	}

	if err := s.archive.Save(ctx, event); err != nil {
		// Archive is advisory; the ledger already holds the donation
		s.log.Warn("receipt archive failed", "event_id", d.ID, "error", err)
	}

	s.alerts.Enqueue(d)
}

// Reconnect resets retry state and re-establishes the connection and
// subscription immediately.
func (s *Service) Reconnect(ctx context.Context) error {
	s.setState(StateConnecting)

	if err := s.conn.Reconnect(ctx); err != nil {
		s.setState(StateIdle)
		return fmt.Errorf("failed to reconnect: %w", err)
	}

	if err := s.subscribe(ctx); err != nil {
		s.setState(StateIdle)
		return err
	}

	s.setState(StateListening)
	return nil
}

// HandleForeground reacts to an app background-to-foreground signal:
// if the connection manager attempts a reconnect and it lands, the
// subscription is re-issued with the same filter.
func (s *Service) HandleForeground(ctx context.Context) {
	if !s.conn.OnForeground(ctx) {
		return
	}

	if s.conn.Status().State != nostr.StateConnected {
		return
	}

	if err := s.subscribe(ctx); err != nil {
		s.log.Warn("failed to resubscribe after foreground resume", "error", err)
		return
	}
	s.setState(StateListening)
}

// HandleBackground reacts to an app foreground-to-background signal
func (s *Service) HandleBackground() {
	s.conn.OnBackground()
}

// Stop tears down the subscription and connection and returns the
// coordinator to idle.
func (s *Service) Stop() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	if sub != nil {
		s.conn.Unsubscribe(sub)
	}
	s.conn.Disconnect()
	s.setState(StateIdle)
	s.log.Info("ingestion stopped")
}

// simulatedSenders are the demo sender names used by Simulate
var simulatedSenders = []string{"Carlos", "María", "Juan", "Ana", "Pedro", "Sofía", "Luis", "Carmen"}

// Simulate injects a synthetic donation through the regular
// append-then-alert path. Useful for demos and presentation testing
// without waiting for a real zap.
func (s *Service) Simulate(ctx context.Context) (*donation.Donation, error) {
	now := time.Now().Unix()
	d := &donation.Donation{
		ID:         uuid.NewString(),
		Sender:     simulatedSenders[rand.Intn(len(simulatedSenders))],
		AmountSats: int64(rand.Intn(1000) + 100),
		ReceivedAt: now,
		LocalDate:  donation.LocalDateOf(now),
	}

	wasNew, err := s.ledger.Append(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("failed to record simulated donation: %w", err)
	}
	if wasNew {
		s.alerts.Enqueue(d)
	}
	return d, nil
}

func shortKey(pubkey string) string {
	if len(pubkey) > 16 {
		return pubkey[:16] + "..."
	}
	return pubkey
}
