package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/isdelr/folio-vault-be/internal/auth"
	"github.com/isdelr/folio-vault-be/internal/models"
	"github.com/isdelr/folio-vault-be/internal/services"
	"github.com/rs/zerolog/log"
)

// BackupHandler handles HTTP requests related to backups.
type BackupHandler struct {
	backups  services.BackupServiceProvider
	restores services.RestoreServiceProvider
}

// NewBackupHandler creates a new BackupHandler.
func NewBackupHandler(backups services.BackupServiceProvider, restores services.RestoreServiceProvider) *BackupHandler {
	return &BackupHandler{backups: backups, restores: restores}
}

// List handles the request to list backups with optional type/status filters.
func (h *BackupHandler) List(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	filter := services.BackupFilter{
		Type:   models.BackupType(r.URL.Query().Get("type")),
		Status: models.BackupStatus(r.URL.Query().Get("status")),
	}

	result, err := h.backups.ListBackups(r.Context(), filter, page, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list backups")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// CreateBackupPayload is the expected JSON body for creating a backup.
type CreateBackupPayload struct {
	Type        models.BackupType `json:"type"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
}

// Create handles the request to create a new backup. The snapshot runs
// synchronously; the admin UI follows progress over the websocket feed.
func (h *BackupHandler) Create(w http.ResponseWriter, r *http.Request) {
	var payload CreateBackupPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if payload.Type == "" {
		payload.Type = models.BackupTypeFull
	}

	params := services.CreateBackupParams{
		Type:        payload.Type,
		Name:        payload.Name,
		Description: payload.Description,
		CreatedBy:   actingUser(r),
	}

	// Baseline policy mirrors the scheduler's: an incremental run is scoped
	// to the latest completed backup of any type, a differential run to the
	// latest completed full. Without a baseline the run degrades to full.
	if payload.Type == models.BackupTypeIncremental || payload.Type == models.BackupTypeDifferential {
		baselineType := models.BackupType("")
		if payload.Type == models.BackupTypeDifferential {
			baselineType = models.BackupTypeFull
		}
		baseline, err := h.backups.LatestCompletedBackup(r.Context(), baselineType)
		if err != nil {
			log.Error().Err(err).Msg("Failed to resolve backup baseline")
			writeError(w, err)
			return
		}
		if baseline == nil {
			params.Type = models.BackupTypeFull
		} else {
			since := baseline.CreatedAt
			params.Since = &since
		}
	}

	backup, err := h.backups.CreateBackup(r.Context(), params)
	if err != nil {
		log.Error().Err(err).Str("backup_name", payload.Name).Msg("Failed to create backup")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, backup)
}

// Get handles the request for a single backup record.
func (h *BackupHandler) Get(w http.ResponseWriter, r *http.Request) {
	backup, err := h.backups.GetBackupByID(r.Context(), chi.URLParam(r, "backupId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, backup)
}

// Download streams the raw snapshot payload.
func (h *BackupHandler) Download(w http.ResponseWriter, r *http.Request) {
	backupID := chi.URLParam(r, "backupId")
	data, err := h.backups.GetBackupData(r.Context(), backupID)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="backup-`+backupID+`.json"`)
	w.Write(data)
}

// RestorePayload is the expected JSON body for restoring a backup.
type RestorePayload struct {
	ConflictResolution models.ConflictResolution `json:"conflictResolution"`
	EntityTypes        []string                  `json:"entityTypes"`
	Notes              string                    `json:"notes"`
}

// Restore handles the request to replay a backup into the live stores.
func (h *BackupHandler) Restore(w http.ResponseWriter, r *http.Request) {
	backupID := chi.URLParam(r, "backupId")

	var payload RestorePayload
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	result, err := h.restores.Restore(r.Context(), backupID, services.RestoreOptions{
		ConflictResolution: payload.ConflictResolution,
		EntityTypes:        payload.EntityTypes,
		Notes:              payload.Notes,
		CreatedBy:          actingUser(r),
	})
	if err != nil {
		log.Error().Err(err).Str("backup_id", backupID).Msg("Failed to restore backup")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Delete handles the request to delete a backup.
func (h *BackupHandler) Delete(w http.ResponseWriter, r *http.Request) {
	backupID := chi.URLParam(r, "backupId")
	if err := h.backups.DeleteBackup(r.Context(), backupID); err != nil {
		log.Error().Err(err).Str("backup_id", backupID).Msg("Failed to delete backup")
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RestoreHistory lists recent restore attempts.
func (h *BackupHandler) RestoreHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	history, err := h.restores.ListRestoreHistory(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// actingUser resolves the acting identity from the request's JWT claims.
func actingUser(r *http.Request) string {
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		return claims.Username
	}
	return "anonymous"
}
