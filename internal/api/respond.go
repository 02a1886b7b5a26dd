package api

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/didac-crst/mockexchange-api/pkg/errors"
)

// errorBody is the JSON envelope of every non-2xx response.
type errorBody struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// respondError maps an error kind onto its HTTP status.
func respondError(w http.ResponseWriter, err error) {
	respondJSON(w, statusOf(err), errorBody{Error: err.Error()})
}

func statusOf(err error) int {
	switch apperrors.KindOf(err) {
	case apperrors.KindInvalidArgument, apperrors.KindInsufficientFunds:
		return http.StatusBadRequest
	case apperrors.KindNotFound, apperrors.KindUnknownSymbol:
		return http.StatusNotFound
	case apperrors.KindIllegalTransition, apperrors.KindStaleTicker, apperrors.KindConflict:
		return http.StatusConflict
	case apperrors.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
