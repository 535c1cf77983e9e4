package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/R3E-Network/program_portal/internal/httputil"
)

func (h *handler) listGhosts(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	listing, err := h.app.Ghosts.ListOpen(r.Context(), actor)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, listing)
}

func (h *handler) clearGhosts(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req struct {
		Identifiers []string `json:"identifiers"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	cleared, err := h.app.Ghosts.ClearMany(r.Context(), actor, req.Identifiers)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]int{"cleared": cleared})
}

func (h *handler) clearGhost(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	cleared, err := h.app.Ghosts.Clear(r.Context(), actor, chi.URLParam(r, "identifier"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]int{"cleared": cleared})
}
