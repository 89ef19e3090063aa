package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Shivanand-hulikatti/club-registration/internal/auth"
	"github.com/Shivanand-hulikatti/club-registration/internal/model"
	"github.com/Shivanand-hulikatti/club-registration/internal/service"
)

// RequestHandler serves club and event requests and their moderation.
type RequestHandler struct {
	svc *service.EntityService
	log *slog.Logger
}

// NewRequestHandler constructs a RequestHandler.
func NewRequestHandler(svc *service.EntityService, log *slog.Logger) *RequestHandler {
	return &RequestHandler{svc: svc, log: log}
}

// Submit handles POST /requests
func (h *RequestHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var sub model.SubmitRequest
	if err := decodeJSON(r, &sub); err != nil {
		writeError(w, http.StatusBadRequest, model.KindInvalid, "invalid request body: "+err.Error())
		return
	}

	req, err := h.svc.Submit(r.Context(), auth.IdentityFrom(r.Context()), sub)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusCreated, req)
}

// Mine handles GET /requests
func (h *RequestHandler) Mine(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.svc.MyRequests(r.Context(), auth.IdentityFrom(r.Context()))
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(reqs))
}

// Get handles GET /requests/{id}
func (h *RequestHandler) Get(w http.ResponseWriter, r *http.Request) {
	req, err := h.svc.GetRequest(r.Context(), auth.IdentityFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// List handles GET /admin/requests?status=
// Status defaults to pending.
func (h *RequestHandler) List(w http.ResponseWriter, r *http.Request) {
	status := model.RequestStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = model.RequestPending
	}

	reqs, err := h.svc.Requests(r.Context(), status)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(reqs))
}

// Approve handles POST /admin/requests/{id}/approve
func (h *RequestHandler) Approve(w http.ResponseWriter, r *http.Request) {
	approval, err := h.svc.Approve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, approval)
}

// Reject handles POST /admin/requests/{id}/reject
func (h *RequestHandler) Reject(w http.ResponseWriter, r *http.Request) {
	var body model.RejectRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, model.KindInvalid, "invalid request body: "+err.Error())
		return
	}

	req, err := h.svc.Reject(r.Context(), chi.URLParam(r, "id"), body.Reason)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func nonNil(reqs []model.EntityRequest) []model.EntityRequest {
	if reqs == nil {
		return []model.EntityRequest{}
	}
	return reqs
}
