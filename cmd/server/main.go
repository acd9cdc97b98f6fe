// Command server runs the backup-monitoring reconciliation server: it
// wires the Job Store, FS Gateway, Reconciler and Notifier together and
// drives one scan pass per SCANNER_INTERVAL_MINUTES via the Ticker.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/backupwatch/server/internal/api"
	"github.com/backupwatch/server/internal/clock"
	"github.com/backupwatch/server/internal/config"
	"github.com/backupwatch/server/internal/eventbus"
	"github.com/backupwatch/server/internal/fsx"
	"github.com/backupwatch/server/internal/notifier"
	"github.com/backupwatch/server/internal/pathresolve"
	"github.com/backupwatch/server/internal/promoter"
	"github.com/backupwatch/server/internal/reconciler"
	"github.com/backupwatch/server/internal/store"
	"github.com/backupwatch/server/internal/ticker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	log.Println("Initializing backupwatch server...")
	log.Printf("Backup storage root: %s", cfg.BackupStorageRoot)
	log.Printf("Validated backups base path: %s", cfg.ValidatedBackupsBasePath)
	log.Printf("Scan interval: %d minutes, collection window: %d minutes",
		cfg.ScannerIntervalMinutes, cfg.ScannerReportCollectionWindowMinutes)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("store: connect: %v", err)
	}
	defer db.Close()

	schemaSQL, err := os.ReadFile("internal/store/schema.sql")
	if err != nil {
		log.Fatalf("store: read schema: %v", err)
	}
	if err := db.Migrate(ctx, string(schemaSQL)); err != nil {
		log.Fatalf("store: migrate: %v", err)
	}
	log.Println("Database migration complete.")

	gw, err := fsx.New(cfg.BackupStorageRoot)
	if err != nil {
		log.Fatalf("fsx: %v", err)
	}
	resolver := pathresolve.New(cfg.BackupStorageRoot, cfg.ValidatedBackupsBasePath)
	prom := promoter.New(gw, resolver)

	bus := eventbus.New()
	defer bus.Close()

	var sink notifier.Notifier = notifier.Noop{}
	if cfg.SMTPHost != "" {
		sink = notifier.NewSMTP(notifier.SMTPConfig{
			Host:               cfg.SMTPHost,
			Port:               cfg.SMTPPort,
			Username:           cfg.SMTPUser,
			Password:           cfg.SMTPPass,
			Sender:             cfg.SMTPSender,
			Recipient:          cfg.AdminRecipient,
			RateLimitPerMinute: cfg.NotifyRateLimitPerMinute,
		})
	}
	notifier.NewSubscriber(bus, sink)

	recon := reconciler.New(reconciler.Config{
		WindowMinutes:    cfg.ScannerReportCollectionWindowMinutes,
		MaxReportAge:     cfg.MaxStatusFileAge(),
		AgentConcurrency: cfg.AgentConcurrency,
	}, clock.System{}, gw, resolver, db, prom, bus)

	tk := ticker.New(cfg.ScannerInterval(), recon)

	apiServer := api.New(db, bus)
	httpServer := &http.Server{Addr: ":" + cfg.APIPort, Handler: apiServer}
	go func() {
		log.Printf("API listening on :%s", cfg.APIPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("API server stopped: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		tk.Run(ctx)
	}()

	<-sigCh
	log.Println("Shutting down...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	<-done
}
