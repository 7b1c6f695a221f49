package handlers

import (
	"net/http"
	"strconv"

	"github.com/isdelr/folio-vault-be/internal/services"
)

// EventHandler handles HTTP requests for the audit trail.
type EventHandler struct {
	events services.EventServiceProvider
}

// NewEventHandler creates a new EventHandler.
func NewEventHandler(events services.EventServiceProvider) *EventHandler {
	return &EventHandler{events: events}
}

// Recent lists the most recent audit events.
func (h *EventHandler) Recent(w http.ResponseWriter, r *http.Request) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 || limit > 200 {
		limit = 50
	}

	events, err := h.events.GetRecentEvents(limit)
	if err != nil {
		http.Error(w, "Failed to retrieve events: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, events)
}
