package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/zapkiosk/zapkiosk/internal/config"
	"github.com/zapkiosk/zapkiosk/internal/donation"
	"github.com/zapkiosk/zapkiosk/internal/ops"
)

// Store is the durable, append-only donation ledger. It is the single
// source of truth for accepted donations: everything else reads through
// its query methods and appends through Append, never touching the
// database directly.
type Store struct {
	db  *sql.DB
	log *ops.Logger
}

// New opens (creating if needed) the ledger database at the configured
// path and runs migrations.
func New(ctx context.Context, cfg *config.Storage, logger *ops.Logger) (*Store, error) {
	if cfg.LedgerPath == "" {
		return nil, fmt.Errorf("no ledger path configured")
	}

	if dir := filepath.Dir(cfg.LedgerPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.LedgerPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}

	s := &Store{
		db:  db,
		log: logger.WithComponent("ledger"),
	}

	if err := s.runMigrations(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// runMigrations creates the ledger schema. seq records insertion order;
// the receipt event id is the dedup key.
func (s *Store) runMigrations(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS donations (
			seq         INTEGER PRIMARY KEY AUTOINCREMENT,
			id          TEXT NOT NULL UNIQUE,
			sender      TEXT NOT NULL,
			amount_sats INTEGER NOT NULL CHECK (amount_sats > 0),
			received_at INTEGER NOT NULL,
			local_date  TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_donations_local_date ON donations(local_date);
	`)
	if err != nil {
		return fmt.Errorf("failed to create donations table: %w", err)
	}
	return nil
}

// Append persists a donation. The receipt event id is the dedup key: a
// donation whose id is already present is a no-op and returns
// wasNew=false, not an error. Invalid donations are rejected.
func (s *Store) Append(ctx context.Context, d *donation.Donation) (bool, error) {
	if d == nil || d.ID == "" {
		return false, fmt.Errorf("donation has no id")
	}
	if d.AmountSats <= 0 {
		return false, fmt.Errorf("donation amount must be positive, got %d", d.AmountSats)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO donations (id, sender, amount_sats, received_at, local_date)
		VALUES (?, ?, ?, ?, ?)
	`, d.ID, d.Sender, d.AmountSats, d.ReceivedAt, d.LocalDate)
	if err != nil {
		return false, fmt.Errorf("failed to append donation: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read append result: %w", err)
	}

	wasNew := rows > 0
	s.log.LogLedgerAppend(d.ID, d.Sender, d.AmountSats, wasNew)
	return wasNew, nil
}

// LoadAll returns every donation, newest first. The presentation
// layer shows the most recent at the top.
func (s *Store) LoadAll(ctx context.Context) ([]*donation.Donation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender, amount_sats, received_at, local_date
		FROM donations
		ORDER BY seq DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load donations: %w", err)
	}
	defer rows.Close()

	return scanDonations(rows)
}

// Count returns the number of donations in the ledger
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM donations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count donations: %w", err)
	}
	return n, nil
}

// TotalAll returns the sum of all donation amounts in satoshis
func (s *Store) TotalAll(ctx context.Context) (int64, error) {
	var total sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT SUM(amount_sats) FROM donations`).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to total donations: %w", err)
	}
	return total.Int64, nil
}

// TotalSince returns the satoshi total of donations on or after the
// given local date (YYYY-MM-DD).
func (s *Store) TotalSince(ctx context.Context, date string) (int64, error) {
	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT SUM(amount_sats) FROM donations WHERE local_date >= ?
	`, date).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to total donations since %s: %w", date, err)
	}
	return total.Int64, nil
}

// TotalToday returns the satoshi total of today's donations
func (s *Store) TotalToday(ctx context.Context) (int64, error) {
	today := donation.LocalDateOf(nowUnix())
	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT SUM(amount_sats) FROM donations WHERE local_date = ?
	`, today).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to total today's donations: %w", err)
	}
	return total.Int64, nil
}

// GroupByDate returns donations grouped by local calendar date, each
// group newest first.
func (s *Store) GroupByDate(ctx context.Context) (map[string][]*donation.Donation, error) {
	all, err := s.LoadAll(ctx)
	if err != nil {
		return nil, err
	}

	grouped := make(map[string][]*donation.Donation)
	for _, d := range all {
		grouped[d.LocalDate] = append(grouped[d.LocalDate], d)
	}
	return grouped, nil
}

// ClearAll wipes the ledger. Only the explicit user-facing "clear all
// data" flow calls this.
func (s *Store) ClearAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM donations`); err != nil {
		return fmt.Errorf("failed to clear ledger: %w", err)
	}
	s.log.Warn("ledger cleared")
	return nil
}

// Close closes the ledger database
func (s *Store) Close() error {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("failed to close ledger database: %w", err)
		}
	}
	return nil
}

// nowUnix is swapped in tests
var nowUnix = func() int64 { return time.Now().Unix() }

func scanDonations(rows *sql.Rows) ([]*donation.Donation, error) {
	var donations []*donation.Donation
	for rows.Next() {
		var d donation.Donation
		if err := rows.Scan(&d.ID, &d.Sender, &d.AmountSats, &d.ReceivedAt, &d.LocalDate); err != nil {
			return nil, fmt.Errorf("failed to scan donation: %w", err)
		}
		donations = append(donations, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate donations: %w", err)
	}
	return donations, nil
}
