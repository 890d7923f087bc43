package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/zapkiosk/zapkiosk/internal/alerts"
	"github.com/zapkiosk/zapkiosk/internal/archive"
	"github.com/zapkiosk/zapkiosk/internal/config"
	"github.com/zapkiosk/zapkiosk/internal/donation"
	"github.com/zapkiosk/zapkiosk/internal/ingest"
	"github.com/zapkiosk/zapkiosk/internal/ledger"
	"github.com/zapkiosk/zapkiosk/internal/nostr"
	"github.com/zapkiosk/zapkiosk/internal/ops"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "init" {
		handleInit()
		return
	}

	var (
		showVersion   = flag.Bool("version", false, "Show version information")
		configPath    = flag.String("config", "", "Path to configuration file")
		simulateEvery = flag.Duration("simulate-every", 0, "Inject a simulated donation at this interval (demo mode)")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("zapkiosk %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
		os.Exit(0)
	}

	// .env is optional; real config comes from the yaml file plus
	// ZAPKIOSK_* environment overrides
	_ = godotenv.Load()

	if *configPath == "" {
		fmt.Println("zapkiosk - Lightning zap donation kiosk")
		fmt.Println()
		fmt.Println("No configuration file specified. Use --config <path> to specify config.")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  zapkiosk init              Generate example configuration")
		fmt.Println("  zapkiosk --version         Show version information")
		fmt.Println("  zapkiosk --config <path>   Start with configuration file")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, *simulateEvery); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, simulateEvery time.Duration) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := ops.NewLogger(&cfg.Logging)
	ops.SetDefault(logger)
	logger.LogStartup(version, commit)

	store, err := ledger.New(ctx, &cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer store.Close()

	arch, err := archive.New(ctx, &cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("failed to open receipt archive: %w", err)
	}
	defer arch.Close()

	client := nostr.NewClient(ctx, &cfg.Relays, logger)
	defer client.Close()
	conn := nostr.NewConnManager(client, cfg.Relays.Policy, logger)

	queue := alerts.NewQueue(&consolePresenter{}, cfg.Alerts, logger)
	queue.Start(ctx)
	defer queue.Stop()

	svc := ingest.NewService(cfg, conn, donation.NewNormalizer(cfg.Ingest.MinZapSats, logger), store, arch, queue, logger)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start ingestion: %w", err)
	}
	defer svc.Stop()

	printTotals(ctx, store, logger)

	if cfg.Storage.BackupDir != "" {
		backupMgr := ops.NewBackupManager(cfg.Storage.LedgerPath, logger)
		interval := time.Duration(cfg.Storage.BackupIntervalHours) * time.Hour
		maxAge := time.Duration(cfg.Storage.BackupMaxAgeDays) * 24 * time.Hour
		go backupMgr.Run(ctx, cfg.Storage.BackupDir, interval, maxAge)
	}

	if simulateEvery > 0 {
		go simulateLoop(ctx, svc, simulateEvery, logger)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.LogShutdown("signal received")
	return nil
}

func printTotals(ctx context.Context, store *ledger.Store, logger *ops.Logger) {
	total, err := store.TotalAll(ctx)
	if err != nil {
		logger.Warn("failed to read ledger totals", "error", err)
		return
	}
	today, err := store.TotalToday(ctx)
	if err != nil {
		logger.Warn("failed to read ledger totals", "error", err)
		return
	}
	logger.Info("ledger loaded",
		"total", donation.FormatSats(total),
		"today", donation.FormatSats(today))
}

func simulateLoop(ctx context.Context, svc *ingest.Service, every time.Duration, logger *ops.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.Simulate(ctx); err != nil {
				logger.Warn("simulated donation failed", "error", err)
			}
		}
	}
}

// consolePresenter renders the alert phases on stdout for terminal
// kiosk setups.
type consolePresenter struct{}

func (consolePresenter) Pulse(d *donation.Donation) {
	fmt.Print("\a")
}

func (consolePresenter) Show(d *donation.Donation) {
	fmt.Printf("\n  ⚡ %s donated %s\n\n", d.Sender, donation.FormatSats(d.AmountSats))
}

func (consolePresenter) Hide(*donation.Donation) {}

func handleInit() {
	exampleConfig, err := config.GetExampleConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading example config: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(string(exampleConfig))
}
