package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Shivanand-hulikatti/club-registration/internal/auth"
	"github.com/Shivanand-hulikatti/club-registration/internal/model"
	"github.com/Shivanand-hulikatti/club-registration/internal/service"
)

// RegistrationHandler serves the registration endpoints.
type RegistrationHandler struct {
	svc *service.RegistrationService
	log *slog.Logger
}

// NewRegistrationHandler constructs a RegistrationHandler.
func NewRegistrationHandler(svc *service.RegistrationService, log *slog.Logger) *RegistrationHandler {
	return &RegistrationHandler{svc: svc, log: log}
}

// Register handles POST /registrations
// Body names exactly one of club_id and event_id.
func (h *RegistrationHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, model.KindInvalid, "invalid request body: "+err.Error())
		return
	}
	ref, err := service.ParseRef(req)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}

	reg, err := h.svc.Register(r.Context(), auth.IdentityFrom(r.Context()), ref)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusCreated, model.RegistrationResult{
		Success:      true,
		Registration: reg,
		Message:      "registration confirmed",
	})
}

// Cancel handles DELETE /registrations/{id}?reason=
func (h *RegistrationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	reg, err := h.svc.Cancel(r.Context(), auth.IdentityFrom(r.Context()), id, r.URL.Query().Get("reason"))
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, model.RegistrationResult{
		Success:      true,
		Registration: reg,
		Message:      "registration cancelled",
	})
}

// CanCancel handles GET /registrations/{id}/can-cancel
func (h *RegistrationHandler) CanCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	decision, err := h.svc.CanCancel(r.Context(), auth.IdentityFrom(r.Context()), id)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, decision)
}

// List handles GET /registrations
// With club_id or event_id it answers whether the caller is registered there,
// anonymously if need be. Without either it lists the caller's registrations.
func (h *RegistrationHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	who := auth.IdentityFrom(r.Context())

	if q.Has("club_id") || q.Has("event_id") {
		ref, err := service.ParseRef(model.RegisterRequest{ClubID: q.Get("club_id"), EventID: q.Get("event_id")})
		if err != nil {
			writeDomainError(w, r, h.log, err)
			return
		}
		check, err := h.svc.CheckActive(r.Context(), who, ref)
		if err != nil {
			writeDomainError(w, r, h.log, err)
			return
		}
		writeJSON(w, http.StatusOK, check)
		return
	}

	regs, err := h.svc.ListForUser(r.Context(), who)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}

	// Return an empty array rather than null for better client compatibility.
	if regs == nil {
		regs = []model.Registration{}
	}

	writeJSON(w, http.StatusOK, regs)
}
