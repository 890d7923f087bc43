package ops

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const backupPrefix = "zapkiosk-ledger-"

// BackupManager copies the donation ledger file to timestamped
// snapshots. The ledger runs in WAL mode, so a plain file copy of the
// main database is consistent after a checkpoint; snapshots taken
// between checkpoints may lag by the WAL tail, which the append-only
// ledger tolerates.
type BackupManager struct {
	ledgerPath string
	logger     *Logger
}

// NewBackupManager creates a backup manager for the ledger at the
// given path.
func NewBackupManager(ledgerPath string, logger *Logger) *BackupManager {
	return &BackupManager{
		ledgerPath: ledgerPath,
		logger:     logger.WithComponent("backup"),
	}
}

// Backup copies the ledger to destPath, creating parent directories as
// needed.
func (b *BackupManager) Backup(ctx context.Context, destPath string) error {
	start := time.Now()

	if b.ledgerPath == "" {
		return fmt.Errorf("ledger path not set")
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	size, err := copyFile(b.ledgerPath, destPath)
	if err != nil {
		return fmt.Errorf("failed to copy ledger: %w", err)
	}

	b.logger.Info("ledger backup completed",
		"destination", destPath,
		"size_bytes", size,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

// Restore copies a backup file over the ledger path. The ledger store
// must be closed while restoring.
func (b *BackupManager) Restore(ctx context.Context, backupPath string) error {
	if _, err := os.Stat(backupPath); os.IsNotExist(err) {
		return fmt.Errorf("backup file not found: %s", backupPath)
	}

	if err := os.MkdirAll(filepath.Dir(b.ledgerPath), 0o755); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}

	size, err := copyFile(backupPath, b.ledgerPath)
	if err != nil {
		return fmt.Errorf("failed to restore ledger: %w", err)
	}

	b.logger.Info("ledger restore completed",
		"backup", backupPath,
		"size_bytes", size)
	return nil
}

// Run takes timestamped snapshots into destDir at the given interval
// until the context is cancelled, pruning snapshots older than maxAge
// after each pass. maxAge <= 0 disables pruning.
func (b *BackupManager) Run(ctx context.Context, destDir string, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	b.logger.Info("periodic ledger backup started",
		"destination", destDir,
		"interval", interval)

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("periodic ledger backup stopped")
			return
		case <-ticker.C:
			timestamp := time.Now().Format("20060102-150405")
			destPath := filepath.Join(destDir, backupPrefix+timestamp+".db")
			if err := b.Backup(ctx, destPath); err != nil {
				b.logger.Error("periodic backup failed", "error", err)
				continue
			}
			if maxAge > 0 {
				if err := CleanOldBackups(destDir, maxAge, b.logger); err != nil {
					b.logger.Warn("backup cleanup failed", "error", err)
				}
			}
		}
	}
}

// CleanOldBackups removes ledger snapshots in backupDir older than
// maxAge.
func CleanOldBackups(backupDir string, maxAge time.Duration, logger *Logger) error {
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		return fmt.Errorf("failed to read backup directory: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	var deleted int

	for _, entry := range entries {
		if entry.IsDir() || !isBackupFile(entry.Name()) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			logger.Warn("failed to stat backup", "file", entry.Name(), "error", err)
			continue
		}

		if info.ModTime().Before(cutoff) {
			path := filepath.Join(backupDir, entry.Name())
			if err := os.Remove(path); err != nil {
				logger.Warn("failed to delete old backup", "file", path, "error", err)
				continue
			}
			deleted++
		}
	}

	if deleted > 0 {
		logger.Info("old backups removed", "count", deleted)
	}
	return nil
}

func isBackupFile(name string) bool {
	return strings.HasPrefix(name, backupPrefix) && filepath.Ext(name) == ".db"
}

func copyFile(src, dst string) (int64, error) {
	sourceFile, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("failed to open source file: %w", err)
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("failed to create destination file: %w", err)
	}
	defer destFile.Close()

	size, err := io.Copy(destFile, sourceFile)
	if err != nil {
		return size, fmt.Errorf("failed to copy file: %w", err)
	}

	if err := destFile.Sync(); err != nil {
		return size, fmt.Errorf("failed to sync file: %w", err)
	}

	return size, nil
}
