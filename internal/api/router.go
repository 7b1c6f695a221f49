package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/isdelr/folio-vault-be/internal/api/handlers"
	"github.com/isdelr/folio-vault-be/internal/auth"
	"github.com/isdelr/folio-vault-be/internal/scheduler"
	"github.com/isdelr/folio-vault-be/internal/services"
	"github.com/isdelr/folio-vault-be/internal/websocket"
)

// NewRouter creates and configures a new Chi router.
func NewRouter(
	hub *websocket.Hub,
	tokens *auth.Manager,
	userService services.UserServiceProvider,
	backupService services.BackupServiceProvider,
	restoreService services.RestoreServiceProvider,
	versionService services.VersionServiceProvider,
	eventService services.EventServiceProvider,
	backupScheduler *scheduler.Scheduler,
) *chi.Mux {
	r := chi.NewRouter()

	// Basic middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS configuration for development
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000"}, // Adjust for your frontend URL
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(userService, tokens)
	backupHandler := handlers.NewBackupHandler(backupService, restoreService)
	versionHandler := handlers.NewVersionHandler(versionService)
	scheduleHandler := handlers.NewScheduleHandler(backupScheduler)
	eventHandler := handlers.NewEventHandler(eventService)
	wsHandler := handlers.NewWebSocketHandler(hub)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", authHandler.Login)

		// Progress feed; the admin UI connects before authenticating.
		r.Get("/ws", wsHandler.Serve)

		// Everything else requires a valid admin token.
		r.Group(func(r chi.Router) {
			r.Use(tokens.Middleware())

			r.Post("/auth/password", authHandler.ChangePassword)

			r.Route("/backups", func(r chi.Router) {
				r.Get("/", backupHandler.List)
				r.Post("/", backupHandler.Create)
				r.Route("/{backupId}", func(r chi.Router) {
					r.Get("/", backupHandler.Get)
					r.Get("/download", backupHandler.Download)
					r.Post("/restore", backupHandler.Restore)
					r.Delete("/", backupHandler.Delete)
				})
			})

			r.Get("/restores", backupHandler.RestoreHistory)

			r.Route("/entities/{entityType}/{entityId}/versions", func(r chi.Router) {
				r.Get("/", versionHandler.History)
				r.Post("/", versionHandler.Create)
			})

			r.Route("/versions", func(r chi.Router) {
				r.Get("/compare", versionHandler.Compare)
				r.Route("/{versionId}", func(r chi.Router) {
					r.Get("/", versionHandler.Get)
					r.Post("/restore", versionHandler.Restore)
					r.Delete("/", versionHandler.Delete)
				})
			})

			r.Route("/schedules", func(r chi.Router) {
				r.Get("/", scheduleHandler.List)
				r.Post("/", scheduleHandler.Create)
				r.Post("/run", scheduleHandler.RunNow)
				r.Route("/{taskId}", func(r chi.Router) {
					r.Put("/", scheduleHandler.Update)
					r.Post("/toggle", scheduleHandler.Toggle)
					r.Delete("/", scheduleHandler.Delete)
				})
			})

			r.Get("/events", eventHandler.Recent)
		})
	})

	return r
}
