package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/support934/smartgecode-saas/internal/engine"
	"github.com/support934/smartgecode-saas/internal/store"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// errorBody is the shape of every user-visible failure.
type errorBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Status: statusError, Message: msg})
}

// writeError maps domain errors to status codes. Anything unrecognised is
// logged and reported as a 500 without internal detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve *engine.ValidationError
		qe *engine.QuotaExceededError
	)
	switch {
	case errors.As(err, &ve):
		writeMessage(w, http.StatusBadRequest, ve.Message)
	case errors.As(err, &qe):
		writeMessage(w, http.StatusForbidden, qe.Error())
	case errors.Is(err, store.ErrNotFound):
		writeMessage(w, http.StatusNotFound, "Batch not found")
	case errors.Is(err, engine.ErrNotRunning):
		writeMessage(w, http.StatusConflict, "Batch is not running")
	case errors.Is(err, engine.ErrClosed):
		writeMessage(w, http.StatusServiceUnavailable, "Server is shutting down")
	default:
		zap.L().Error("api: request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeMessage(w, http.StatusInternalServerError, "Internal error")
	}
}
