package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/isdelr/folio-vault-be/internal/models"
	"github.com/isdelr/folio-vault-be/internal/services"
	"github.com/rs/zerolog/log"
)

// VersionHandler handles HTTP requests for the entity version store.
type VersionHandler struct {
	versions services.VersionServiceProvider
}

// NewVersionHandler creates a new VersionHandler.
func NewVersionHandler(versions services.VersionServiceProvider) *VersionHandler {
	return &VersionHandler{versions: versions}
}

// History lists an entity's versions, newest first, without data payloads.
func (h *VersionHandler) History(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	history, err := h.versions.GetHistory(r.Context(),
		chi.URLParam(r, "entityType"), chi.URLParam(r, "entityId"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// CreateVersionPayload is the expected JSON body for recording a version.
type CreateVersionPayload struct {
	Data        json.RawMessage `json:"data"`
	Changes     []models.Change `json:"changes"`
	Description string          `json:"description"`
	Tags        []string        `json:"tags"`
	IsAutoSave  bool            `json:"isAutoSave"`
}

// Create records a new version for an entity.
func (h *VersionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var payload CreateVersionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	version, err := h.versions.CreateVersion(r.Context(), services.CreateVersionParams{
		EntityType:  chi.URLParam(r, "entityType"),
		EntityID:    chi.URLParam(r, "entityId"),
		Data:        payload.Data,
		Changes:     payload.Changes,
		CreatedBy:   actingUser(r),
		Description: payload.Description,
		Tags:        payload.Tags,
		IsAutoSave:  payload.IsAutoSave,
	})
	if err != nil {
		log.Error().Err(err).Str("entity_type", chi.URLParam(r, "entityType")).Msg("Failed to create version")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, version)
}

// Get returns one version including its full data payload.
func (h *VersionHandler) Get(w http.ResponseWriter, r *http.Request) {
	version, err := h.versions.GetVersion(r.Context(), chi.URLParam(r, "versionId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, version)
}

// Compare diffs two arbitrary versions field by field.
func (h *VersionHandler) Compare(w http.ResponseWriter, r *http.Request) {
	v1 := r.URL.Query().Get("v1")
	v2 := r.URL.Query().Get("v2")
	if v1 == "" || v2 == "" {
		http.Error(w, "Both v1 and v2 query parameters are required", http.StatusBadRequest)
		return
	}

	changes, err := h.versions.CompareVersions(r.Context(), v1, v2)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, changes)
}

// Restore writes a version's data back to the live store.
func (h *VersionHandler) Restore(w http.ResponseWriter, r *http.Request) {
	versionID := chi.URLParam(r, "versionId")
	entity, err := h.versions.RestoreVersion(r.Context(), versionID, actingUser(r))
	if err != nil {
		log.Error().Err(err).Str("version_id", versionID).Msg("Failed to restore version")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entity": entity})
}

// Delete removes a version, unless it is the entity's last one.
func (h *VersionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.versions.DeleteVersion(r.Context(), chi.URLParam(r, "versionId")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
