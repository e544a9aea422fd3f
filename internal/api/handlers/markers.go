package handlers

import (
	"net/http"
	"strconv"

	"github.com/Harshitk-cp/leandeep/internal/registry"
	"github.com/Harshitk-cp/leandeep/internal/service"
	"github.com/go-chi/chi/v5"
)

type MarkerHandler struct {
	svc *service.MarkerService
}

func NewMarkerHandler(svc *service.MarkerService) *MarkerHandler {
	return &MarkerHandler{svc: svc}
}

func (h *MarkerHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := registry.SearchQuery{
		Layer:  q.Get("layer"),
		Family: q.Get("family"),
		Tag:    q.Get("tag"),
		Text:   q.Get("search"),
	}

	var err error
	if v := q.Get("limit"); v != "" {
		if query.Limit, err = strconv.Atoi(v); err != nil || query.Limit == 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}
	if v := q.Get("offset"); v != "" {
		if query.Offset, err = strconv.Atoi(v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
	}

	list, err := h.svc.List(query)
	if err != nil {
		writeServiceError(w, err, "failed to list markers")
		return
	}

	writeJSON(w, http.StatusOK, list)
}

func (h *MarkerHandler) Get(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err, "failed to get marker")
		return
	}

	writeJSON(w, http.StatusOK, m)
}

func (h *MarkerHandler) EngineConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.EngineConfig())
}

func (h *MarkerHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Stats())
}

func (h *MarkerHandler) Reload(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Reload()
	if err != nil {
		writeServiceError(w, err, "failed to reload registry")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}
