package config

import (
	"embed"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/nbd-wtf/go-nostr/nip19"
	"gopkg.in/yaml.v3"
)

//go:embed example.yaml
var exampleConfig embed.FS

// Config represents the complete zapkiosk configuration
type Config struct {
	Identity Identity `yaml:"identity"`
	Relays   Relays   `yaml:"relays"`
	Ingest   Ingest   `yaml:"ingest"`
	Storage  Storage  `yaml:"storage"`
	Alerts   Alerts   `yaml:"alerts"`
	Logging  Logging  `yaml:"logging"`
}

// Identity contains the Nostr identity zaps are received on
type Identity struct {
	Npub string `yaml:"npub"` // Public key, bech32 encoded
}

// Pubkey decodes the configured npub into a hex pubkey
func (id *Identity) Pubkey() (string, error) {
	if id.Npub == "" {
		return "", fmt.Errorf("no npub configured")
	}
	prefix, value, err := nip19.Decode(id.Npub)
	if err != nil {
		return "", fmt.Errorf("failed to decode npub: %w", err)
	}
	if prefix != "npub" {
		return "", fmt.Errorf("expected npub, got %s", prefix)
	}
	return value.(string), nil
}

// Relays contains relay configuration
type Relays struct {
	Seeds  []string    `yaml:"seeds"`
	Policy RelayPolicy `yaml:"policy"`
}

// RelayPolicy contains relay connection policies
type RelayPolicy struct {
	ConnectTimeoutMs int `yaml:"connect_timeout_ms"`
	MaxRetries       int `yaml:"max_retries"`
	RetryDelayMs     int `yaml:"retry_delay_ms"`
}

// Ingest contains donation ingestion settings
type Ingest struct {
	MinZapSats int `yaml:"min_zap_sats"`
}

// Storage contains storage backend settings
type Storage struct {
	LedgerPath     string `yaml:"ledger_path"`
	ArchivePath    string `yaml:"archive_path"`
	ArchiveEnabled bool   `yaml:"archive_enabled"`

	// Periodic ledger snapshots. Disabled unless backup_dir is set.
	BackupDir           string `yaml:"backup_dir"`
	BackupIntervalHours int    `yaml:"backup_interval_hours"`
	BackupMaxAgeDays    int    `yaml:"backup_max_age_days"`
}

// Alerts contains donation alert presentation timing.
// Each alert runs pulse -> visible -> exit; the next queued donation
// is not presented until all three phases complete.
type Alerts struct {
	PulseMs   int `yaml:"pulse_ms"`
	VisibleMs int `yaml:"visible_ms"`
	ExitMs    int `yaml:"exit_ms"`
}

// Logging contains logging configuration
type Logging struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // text|json
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Identity: Identity{
			Npub: "",
		},
		Relays: Relays{
			Seeds: []string{
				"wss://relay.damus.io",
				"wss://relay.primal.net",
				"wss://nos.lol",
				"wss://relay.nostr.band",
			},
			Policy: RelayPolicy{
				ConnectTimeoutMs: 10000,
				MaxRetries:       3,
				RetryDelayMs:     5000,
			},
		},
		Ingest: Ingest{
			MinZapSats: 1,
		},
		Storage: Storage{
			LedgerPath:     "./data/ledger.db",
			ArchivePath:    "./data/receipts.db",
			ArchiveEnabled: true,
		},
		Alerts: Alerts{
			PulseMs:   300,
			VisibleMs: 4000,
			ExitMs:    500,
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}

// applyDefaults fills in missing fields from the default configuration
func applyDefaults(cfg *Config) {
	defaults := Default()

	if len(cfg.Relays.Seeds) == 0 {
		cfg.Relays.Seeds = defaults.Relays.Seeds
	}
	if cfg.Relays.Policy.ConnectTimeoutMs == 0 {
		cfg.Relays.Policy.ConnectTimeoutMs = defaults.Relays.Policy.ConnectTimeoutMs
	}
	if cfg.Relays.Policy.MaxRetries == 0 {
		cfg.Relays.Policy.MaxRetries = defaults.Relays.Policy.MaxRetries
	}
	if cfg.Relays.Policy.RetryDelayMs == 0 {
		cfg.Relays.Policy.RetryDelayMs = defaults.Relays.Policy.RetryDelayMs
	}
	if cfg.Ingest.MinZapSats == 0 {
		cfg.Ingest.MinZapSats = defaults.Ingest.MinZapSats
	}
	if cfg.Storage.LedgerPath == "" {
		cfg.Storage.LedgerPath = defaults.Storage.LedgerPath
	}
	if cfg.Storage.ArchivePath == "" {
		cfg.Storage.ArchivePath = defaults.Storage.ArchivePath
	}
	if cfg.Storage.BackupDir != "" {
		if cfg.Storage.BackupIntervalHours == 0 {
			cfg.Storage.BackupIntervalHours = 24
		}
		if cfg.Storage.BackupMaxAgeDays == 0 {
			cfg.Storage.BackupMaxAgeDays = 30
		}
	}
	if cfg.Alerts.PulseMs == 0 {
		cfg.Alerts.PulseMs = defaults.Alerts.PulseMs
	}
	if cfg.Alerts.VisibleMs == 0 {
		cfg.Alerts.VisibleMs = defaults.Alerts.VisibleMs
	}
	if cfg.Alerts.ExitMs == 0 {
		cfg.Alerts.ExitMs = defaults.Alerts.ExitMs
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaults.Logging.Format
	}
}

// Load reads and parses a configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply defaults for missing fields
	applyDefaults(&cfg)

	// Apply environment variable overrides
	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	// Validate configuration
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(cfg *Config) error {
	if npub := os.Getenv("ZAPKIOSK_NPUB"); npub != "" {
		cfg.Identity.Npub = npub
	}
	if ledgerPath := os.Getenv("ZAPKIOSK_LEDGER_PATH"); ledgerPath != "" {
		cfg.Storage.LedgerPath = ledgerPath
	}
	if level := os.Getenv("ZAPKIOSK_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if minSats := os.Getenv("ZAPKIOSK_MIN_ZAP_SATS"); minSats != "" {
		n, err := strconv.Atoi(minSats)
		if err != nil {
			return fmt.Errorf("invalid ZAPKIOSK_MIN_ZAP_SATS: %w", err)
		}
		cfg.Ingest.MinZapSats = n
	}

	return nil
}

// GetExampleConfig returns the embedded example configuration
func GetExampleConfig() ([]byte, error) {
	return exampleConfig.ReadFile("example.yaml")
}

// Validate checks the configuration for errors
func Validate(cfg *Config) error {
	if cfg.Identity.Npub != "" {
		if _, err := cfg.Identity.Pubkey(); err != nil {
			return fmt.Errorf("invalid identity npub: %w", err)
		}
	}

	if len(cfg.Relays.Seeds) == 0 {
		return fmt.Errorf("at least one seed relay is required")
	}
	for _, seed := range cfg.Relays.Seeds {
		if !strings.HasPrefix(seed, "wss://") && !strings.HasPrefix(seed, "ws://") {
			return fmt.Errorf("invalid relay URL %q (must start with ws:// or wss://)", seed)
		}
	}

	if cfg.Relays.Policy.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if cfg.Relays.Policy.RetryDelayMs < 0 {
		return fmt.Errorf("retry_delay_ms must not be negative")
	}

	if cfg.Ingest.MinZapSats < 0 {
		return fmt.Errorf("min_zap_sats must not be negative")
	}

	if cfg.Storage.LedgerPath == "" {
		return fmt.Errorf("ledger_path is required")
	}
	if cfg.Storage.ArchiveEnabled && cfg.Storage.ArchivePath == "" {
		return fmt.Errorf("archive_path is required when archive is enabled")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", cfg.Logging.Level)
	}
	validLogFormats := map[string]bool{"text": true, "json": true}
	if !validLogFormats[cfg.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", cfg.Logging.Format)
	}

	return nil
}
