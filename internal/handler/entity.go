package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Shivanand-hulikatti/club-registration/internal/model"
	"github.com/Shivanand-hulikatti/club-registration/internal/service"
)

// EntityHandler serves club and event reads and the admin endpoints.
type EntityHandler struct {
	svc *service.EntityService
	log *slog.Logger
}

// NewEntityHandler constructs an EntityHandler.
func NewEntityHandler(svc *service.EntityService, log *slog.Logger) *EntityHandler {
	return &EntityHandler{svc: svc, log: log}
}

// entityView adds the derived seat count to an entity.
type entityView struct {
	*model.Entity
	Remaining int `json:"remaining"`
}

func viewOf(e *model.Entity) entityView {
	return entityView{Entity: e, Remaining: e.Remaining()}
}

// kindFromPath maps the plural path segment to an entity kind.
func kindFromPath(segment string) (model.EntityKind, bool) {
	switch segment {
	case "clubs":
		return model.KindClub, true
	case "events":
		return model.KindEvent, true
	}
	return "", false
}

// List returns a handler for GET /clubs or GET /events.
func (h *EntityHandler) List(kind model.EntityKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entities, err := h.svc.List(r.Context(), kind)
		if err != nil {
			writeDomainError(w, r, h.log, err)
			return
		}

		views := make([]entityView, 0, len(entities))
		for i := range entities {
			views = append(views, viewOf(&entities[i]))
		}
		writeJSON(w, http.StatusOK, views)
	}
}

// Get returns a handler for GET /clubs/{id} or GET /events/{id}.
func (h *EntityHandler) Get(kind model.EntityKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref := model.EntityRef{Kind: kind, ID: chi.URLParam(r, "id")}

		e, err := h.svc.Get(r.Context(), ref)
		if err != nil {
			writeDomainError(w, r, h.log, err)
			return
		}

		writeJSON(w, http.StatusOK, viewOf(e))
	}
}

// Create handles POST /admin/entities
// Called when a moderation request for a club or event is approved.
func (h *EntityHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreateEntityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, model.KindInvalid, "invalid request body: "+err.Error())
		return
	}

	e, err := h.svc.CreateEntity(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusCreated, viewOf(e))
}

// Deactivate handles POST /admin/{kind}/{id}/deactivate
func (h *EntityHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

// Reactivate handles POST /admin/{kind}/{id}/reactivate
func (h *EntityHandler) Reactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *EntityHandler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	kind, ok := kindFromPath(chi.URLParam(r, "kind"))
	if !ok {
		writeError(w, http.StatusNotFound, model.KindNotFound, "unknown collection")
		return
	}
	ref := model.EntityRef{Kind: kind, ID: chi.URLParam(r, "id")}

	var (
		e   *model.Entity
		err error
	)
	if active {
		e, err = h.svc.Reactivate(r.Context(), ref)
	} else {
		e, err = h.svc.Deactivate(r.Context(), ref)
	}
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, viewOf(e))
}
