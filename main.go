package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/isdelr/folio-vault-be/internal/api"
	"github.com/isdelr/folio-vault-be/internal/auth"
	"github.com/isdelr/folio-vault-be/internal/config"
	"github.com/isdelr/folio-vault-be/internal/database"
	"github.com/isdelr/folio-vault-be/internal/logger"
	"github.com/isdelr/folio-vault-be/internal/models"
	"github.com/isdelr/folio-vault-be/internal/monitoring"
	"github.com/isdelr/folio-vault-be/internal/registry"
	"github.com/isdelr/folio-vault-be/internal/scheduler"
	"github.com/isdelr/folio-vault-be/internal/services"
	"github.com/isdelr/folio-vault-be/internal/websocket"
	"github.com/rs/zerolog/log"
)

func main() {
	logger.Init()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.JWTSecret == "" {
		log.Fatal().Msg("JWT_SECRET must be set")
	}

	// Set up database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply database migrations")
	}

	// Entity registry: the one place that knows the content model.
	reg := registry.Default(db)
	if err := registry.Migrate(db, reg); err != nil {
		log.Fatal().Err(err).Msg("Failed to create entity tables")
	}

	// Set up WebSocket Hub
	hub := websocket.NewHub()
	go hub.Run()

	// Set up services
	eventService := services.NewEventService(db)
	userService := services.NewUserService(db)
	versionService := services.NewVersionService(db, reg, eventService)
	backupService := services.NewBackupService(db, reg, eventService, hub)
	restoreService := services.NewRestoreService(db, reg, backupService, eventService, hub)

	if err := userService.EnsureAdmin(cfg.AdminEmail, cfg.AdminPassword); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed admin account")
	}

	// Reconcile backups abandoned in_progress by a previous crash.
	staleAge := time.Duration(cfg.StaleBackupMaxAge) * time.Minute
	if _, err := backupService.ReconcileStale(context.Background(), staleAge); err != nil {
		log.Error().Err(err).Msg("Failed to reconcile stale backups")
	}

	// Set up and run the background scheduler
	backupScheduler := scheduler.NewScheduler(backupService, eventService, cfg.RetentionDays)
	go backupScheduler.Run()
	registerStaticTasks(backupScheduler, cfg)

	// Set up and run the disk usage watcher
	diskWatcher := monitoring.NewDiskWatcher(eventService, cfg.DiskWatchPath, cfg.DiskAlertPercent)
	go diskWatcher.Run()

	// Set up router
	tokens := auth.NewManager(cfg.JWTSecret)
	router := api.NewRouter(hub, tokens, userService, backupService, restoreService, versionService, eventService, backupScheduler)

	// Set up server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.ServerPort),
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		log.Info().Int("port", cfg.ServerPort).Msg("Server starting")
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("ListenAndServe()")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	diskWatcher.Stop()
	backupScheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exiting")
}

// registerStaticTasks rebuilds the task registry from configuration. The
// registry is process-lifetime state only; nothing durable backs it.
func registerStaticTasks(s *scheduler.Scheduler, cfg *config.Config) {
	if cfg.FullBackupCron != "" {
		if err := s.CreateTask("full-weekly", cfg.FullBackupCron, models.BackupTypeFull, true); err != nil {
			log.Error().Err(err).Str("cron", cfg.FullBackupCron).Msg("Failed to register full backup task")
		}
	}
	if cfg.IncrementalBackupCron != "" {
		if err := s.CreateTask("incremental-daily", cfg.IncrementalBackupCron, models.BackupTypeIncremental, true); err != nil {
			log.Error().Err(err).Str("cron", cfg.IncrementalBackupCron).Msg("Failed to register incremental backup task")
		}
	}
}
