package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/isdelr/folio-vault-be/internal/apperrors"
)

// writeJSON encodes a response body with the right content type.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps service error kinds to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case apperrors.IsKind(err, apperrors.KindValidation),
		apperrors.IsKind(err, apperrors.KindInvalidSchedule):
		status = http.StatusBadRequest
	case apperrors.IsKind(err, apperrors.KindNotFound):
		status = http.StatusNotFound
	case apperrors.IsKind(err, apperrors.KindInvariant):
		status = http.StatusConflict
	case apperrors.IsKind(err, apperrors.KindIntegrity):
		status = http.StatusUnprocessableEntity
	}
	http.Error(w, err.Error(), status)
}
