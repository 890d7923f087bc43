package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fiatjaf/eventstore"
	"github.com/fiatjaf/eventstore/sqlite3"
	"github.com/nbd-wtf/go-nostr"
	"github.com/zapkiosk/zapkiosk/internal/config"
	"github.com/zapkiosk/zapkiosk/internal/donation"
	"github.com/zapkiosk/zapkiosk/internal/ops"
)

// Archive keeps the raw zap receipt events that produced ledger
// entries. It is advisory: the ledger stays authoritative and ingestion
// proceeds even if an archive write fails.
type Archive struct {
	backend *sqlite3.SQLite3Backend
	log     *ops.Logger
}

// New opens the receipt archive at the configured path. Returns
// (nil, nil) when archiving is disabled.
func New(ctx context.Context, cfg *config.Storage, logger *ops.Logger) (*Archive, error) {
	if !cfg.ArchiveEnabled {
		return nil, nil
	}

	if dir := filepath.Dir(cfg.ArchivePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create archive directory: %w", err)
		}
	}

	backend := &sqlite3.SQLite3Backend{DatabaseURL: cfg.ArchivePath}
	if err := backend.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize receipt archive: %w", err)
	}

	return &Archive{
		backend: backend,
		log:     logger.WithComponent("archive"),
	}, nil
}

// Save stores a raw receipt event. Duplicate saves are absorbed
// silently; the same receipt arriving from several relays is expected.
func (a *Archive) Save(ctx context.Context, event *nostr.Event) error {
	if a == nil {
		return nil
	}

	if err := a.backend.SaveEvent(ctx, event); err != nil {
		if errors.Is(err, eventstore.ErrDupEvent) {
			return nil
		}
		return fmt.Errorf("failed to archive receipt: %w", err)
	}

	a.log.Debug("receipt archived", "event_id", event.ID)
	return nil
}

// Recent returns up to limit archived receipts, newest first
func (a *Archive) Recent(ctx context.Context, limit int) ([]*nostr.Event, error) {
	if a == nil {
		return nil, nil
	}

	filter := nostr.Filter{
		Kinds: []int{donation.KindZapReceipt},
		Limit: limit,
	}

	ch, err := a.backend.QueryEvents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query receipt archive: %w", err)
	}

	var events []*nostr.Event
	for event := range ch {
		events = append(events, event)
	}
	return events, nil
}

// Close closes the archive database
func (a *Archive) Close() error {
	if a == nil {
		return nil
	}
	a.backend.Close()
	return nil
}
