// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/Shivanand-hulikatti/club-registration/internal/model"
)

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind model.ErrorKind, msg string) {
	writeJSON(w, status, model.ErrorResponse{ErrorKind: kind, Message: msg})
}

// writeDomainError maps err onto a status code and the standard envelope.
// Infrastructure failures are logged and answered with a generic 500 so
// driver messages never reach the client.
func writeDomainError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	kind := model.KindOf(err)
	if kind == model.KindInternal {
		log.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
			"request_id", middleware.GetReqID(r.Context()),
		)
		writeError(w, http.StatusInternalServerError, kind, "internal server error")
		return
	}
	writeError(w, statusFor(kind), kind, err.Error())
}

func statusFor(kind model.ErrorKind) int {
	switch kind {
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindDuplicateRegistration, model.KindCapacityExceeded, model.KindAlreadyCancelled,
		model.KindDuplicateRequest, model.KindAlreadyProcessed:
		return http.StatusConflict
	case model.KindInactive, model.KindAlreadyStarted, model.KindWithinDeadline:
		return http.StatusUnprocessableEntity
	case model.KindUnauthorized:
		return http.StatusForbidden
	case model.KindUnauthenticated:
		return http.StatusUnauthorized
	case model.KindInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
