package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/isdelr/folio-vault-be/internal/models"
	"github.com/isdelr/folio-vault-be/internal/scheduler"
	"github.com/rs/zerolog/log"
)

// ScheduleHandler handles HTTP requests for the backup scheduler.
type ScheduleHandler struct {
	scheduler *scheduler.Scheduler
}

// NewScheduleHandler creates a new ScheduleHandler.
func NewScheduleHandler(s *scheduler.Scheduler) *ScheduleHandler {
	return &ScheduleHandler{scheduler: s}
}

// List returns a summary of every registered task.
func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scheduler.GetStatus())
}

// CreateTaskPayload is the expected JSON body for creating a task.
type CreateTaskPayload struct {
	ID       string            `json:"id"`
	Schedule string            `json:"schedule"`
	Type     models.BackupType `json:"type"`
	Enabled  bool              `json:"enabled"`
}

// Create registers a new scheduled backup task.
func (h *ScheduleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var payload CreateTaskPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.scheduler.CreateTask(payload.ID, payload.Schedule, payload.Type, payload.Enabled); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// UpdateTaskPayload carries partial task updates.
type UpdateTaskPayload struct {
	Schedule *string            `json:"schedule"`
	Type     *models.BackupType `json:"type"`
	Enabled  *bool              `json:"enabled"`
}

// Update mutates an existing task's schedule, type or enabled flag.
func (h *ScheduleHandler) Update(w http.ResponseWriter, r *http.Request) {
	var payload UpdateTaskPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	err := h.scheduler.UpdateTask(chi.URLParam(r, "taskId"), scheduler.TaskUpdate{
		Schedule: payload.Schedule,
		Type:     payload.Type,
		Enabled:  payload.Enabled,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Toggle enables or disables a task.
func (h *ScheduleHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.scheduler.ToggleTask(chi.URLParam(r, "taskId"), payload.Enabled); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete removes a task permanently.
func (h *ScheduleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.scheduler.RemoveTask(chi.URLParam(r, "taskId")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RunNow triggers a one-off backup, bypassing the schedules.
func (h *ScheduleHandler) RunNow(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Type models.BackupType `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if payload.Type == "" {
		payload.Type = models.BackupTypeFull
	}

	backup, err := h.scheduler.ExecuteNow(payload.Type, actingUser(r))
	if err != nil {
		log.Error().Err(err).Str("type", string(payload.Type)).Msg("Manual backup run failed")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, backup)
}
