package ops

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zapkiosk/zapkiosk/internal/config"
)

func setupBackupManager(t *testing.T) (*BackupManager, string) {
	t.Helper()

	dir := t.TempDir()
	ledgerPath := filepath.Join(dir, "ledger.db")
	if err := os.WriteFile(ledgerPath, []byte("ledger-contents"), 0o644); err != nil {
		t.Fatalf("failed to write test ledger: %v", err)
	}

	logger := NewLogger(&config.Logging{Level: "error", Format: "text"})
	return NewBackupManager(ledgerPath, logger), dir
}

func TestBackupAndRestore(t *testing.T) {
	mgr, dir := setupBackupManager(t)
	ctx := context.Background()

	destPath := filepath.Join(dir, "snapshots", "ledger-copy.db")
	if err := mgr.Backup(ctx, destPath); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}

	data, err := os.ReadFile(destPath)
	if err != nil {
		t.Fatalf("failed to read backup: %v", err)
	}
	if string(data) != "ledger-contents" {
		t.Errorf("backup contents = %q, want %q", data, "ledger-contents")
	}

	// Corrupt the ledger, then restore from the snapshot
	if err := os.WriteFile(mgr.ledgerPath, []byte("garbage"), 0o644); err != nil {
		t.Fatalf("failed to overwrite ledger: %v", err)
	}
	if err := mgr.Restore(ctx, destPath); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	data, err = os.ReadFile(mgr.ledgerPath)
	if err != nil {
		t.Fatalf("failed to read restored ledger: %v", err)
	}
	if string(data) != "ledger-contents" {
		t.Errorf("restored contents = %q, want %q", data, "ledger-contents")
	}
}

func TestBackupMissingLedger(t *testing.T) {
	logger := NewLogger(&config.Logging{Level: "error", Format: "text"})
	mgr := NewBackupManager(filepath.Join(t.TempDir(), "absent.db"), logger)

	if err := mgr.Backup(context.Background(), filepath.Join(t.TempDir(), "out.db")); err == nil {
		t.Error("Backup() of a missing ledger should fail")
	}
}

func TestRestoreMissingBackup(t *testing.T) {
	mgr, dir := setupBackupManager(t)

	if err := mgr.Restore(context.Background(), filepath.Join(dir, "absent.db")); err == nil {
		t.Error("Restore() of a missing backup should fail")
	}
}

func TestCleanOldBackups(t *testing.T) {
	dir := t.TempDir()
	logger := NewLogger(&config.Logging{Level: "error", Format: "text"})

	oldPath := filepath.Join(dir, backupPrefix+"20200101-000000.db")
	newPath := filepath.Join(dir, backupPrefix+"20990101-000000.db")
	otherPath := filepath.Join(dir, "unrelated.db")
	for _, path := range []string{oldPath, newPath, otherPath} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("failed to write %s: %v", path, err)
		}
	}
	stale := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(oldPath, stale, stale); err != nil {
		t.Fatalf("failed to age backup: %v", err)
	}
	if err := os.Chtimes(otherPath, stale, stale); err != nil {
		t.Fatalf("failed to age file: %v", err)
	}

	if err := CleanOldBackups(dir, 24*time.Hour, logger); err != nil {
		t.Fatalf("CleanOldBackups() error = %v", err)
	}

	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Error("stale snapshot should have been removed")
	}
	if _, err := os.Stat(newPath); err != nil {
		t.Error("fresh snapshot should have been kept")
	}
	if _, err := os.Stat(otherPath); err != nil {
		t.Error("non-snapshot file should have been kept")
	}
}
