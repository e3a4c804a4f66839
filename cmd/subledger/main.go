package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dukerupert/subledger/internal/backup"
	"github.com/dukerupert/subledger/internal/database"
	"github.com/dukerupert/subledger/internal/directory"
	"github.com/dukerupert/subledger/internal/entitlement"
	"github.com/dukerupert/subledger/internal/logging"
	"github.com/dukerupert/subledger/internal/server"
	"github.com/dukerupert/subledger/internal/store"
)

func main() {
	// Optional; env vars win over .env entries.
	_ = godotenv.Load()

	logger := logging.Setup(os.Getenv("SUBLEDGER_LOG_LEVEL"), os.Getenv("SUBLEDGER_LOG_FORMAT"))

	port := os.Getenv("SUBLEDGER_PORT")
	if port == "" {
		port = "8090"
	}

	dbPath := os.Getenv("SUBLEDGER_DB_PATH")
	if dbPath == "" {
		dbPath = "subledger.db"
	}

	directoryURL := os.Getenv("DIRECTORY_BASE_URL")
	directoryToken := os.Getenv("DIRECTORY_TOKEN")
	if directoryURL == "" {
		slog.Error("DIRECTORY_BASE_URL is required")
		os.Exit(1)
	}

	db, err := database.Open(dbPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	dir := directory.NewClient(directoryURL, directoryToken, directory.WithHTTPClient(&http.Client{
		Timeout: 15 * time.Second,
	}))

	accounts := store.NewAccountStore(db)
	subs := store.NewSubscriptionStore(db)
	transfers := store.NewTransferStore(db)

	sync := entitlement.NewReconciliationSync(accounts, subs, dir, logger.With("component", "sync"))
	coordinator := entitlement.NewTransferCoordinator(accounts, subs, transfers, logger.With("component", "transfer"))

	srv := server.New(accounts, subs, sync, server.Config{
		APIToken: os.Getenv("SUBLEDGER_API_TOKEN"),
	}, logger.With("component", "http"))

	backupMgr := backup.NewManager(backup.Config{
		S3: backup.S3Config{
			Endpoint:  os.Getenv("BACKUP_S3_ENDPOINT"),
			Bucket:    os.Getenv("BACKUP_S3_BUCKET"),
			Region:    os.Getenv("BACKUP_S3_REGION"),
			AccessKey: os.Getenv("BACKUP_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("BACKUP_S3_SECRET_KEY"),
		},
	}, db, logger.With("component", "backup"))

	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Background maintenance: reconcile every account, expire abandoned
	// transfers, trim the rate limiter.
	maintCtx, maintCancel := context.WithCancel(context.Background())
	defer maintCancel()
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := sync.SyncAll(maintCtx); err != nil {
					slog.Error("reconciliation sweep", "error", err)
				} else if n > 0 {
					slog.Info("reconciliation sweep complete", "accounts", n)
				}
				if n, err := coordinator.ExpirePending(time.Now().UTC()); err != nil {
					slog.Error("expire pending transfers", "error", err)
				} else if n > 0 {
					slog.Info("expired abandoned transfers", "count", n)
				}
				srv.RateLimiter().Cleanup()
			case <-maintCtx.Done():
				return
			}
		}
	}()

	backupMgr.Start(maintCtx)

	go func() {
		slog.Info("subledger starting", "addr", ":"+port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	maintCancel()
	backupMgr.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
