package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"pocketllm/internal/engine"
	"pocketllm/internal/profile"
	"pocketllm/internal/session"
	"pocketllm/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var he HTTPError
	switch {
	case errors.As(err, &he):
		return he.StatusCode()
	case profile.IsValidation(err):
		return http.StatusBadRequest
	case profile.IsNotFound(err):
		return http.StatusNotFound
	case profile.IsFormat(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, profile.ErrDefaultUndeletable):
		return http.StatusConflict
	case session.IsBusy(err):
		return http.StatusTooManyRequests
	case session.IsInvalidState(err):
		return http.StatusConflict
	case errors.Is(err, session.ErrClosed), engine.IsUnavailable(err):
		return http.StatusServiceUnavailable
	case session.IsEngineError(err):
		return http.StatusBadGateway
	case errors.Is(err, errGenerateTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err and writes it as JSON, counting busy rejections.
func writeError(w http.ResponseWriter, err error) int {
	status := statusFor(err)
	if status == http.StatusTooManyRequests {
		IncrementBackpressure("session_busy")
	}
	writeJSONError(w, status, err.Error())
	return status
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Error().Err(err).Msg("encode response")
	}
}
