package httpapi

import (
	"net/http"

	"github.com/R3E-Network/program_portal/internal/httputil"
)

type nameRequest struct {
	Name string `json:"name"`
}

func (h *handler) registerCompany(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req nameRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	company, err := h.app.Organizations.RegisterCompany(r.Context(), actor, req.Name)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteCreated(w, company)
}

func (h *handler) getCompany(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	company, err := h.app.Organizations.GetCompany(r.Context(), actor, id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, company)
}

func (h *handler) registerFacility(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	companyID, err := pathID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req nameRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	facility, err := h.app.Organizations.RegisterFacility(r.Context(), actor, companyID, req.Name)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteCreated(w, facility)
}

func (h *handler) listFacilities(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	companyID, err := pathID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	facilities, err := h.app.Organizations.ListFacilities(r.Context(), actor, companyID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, facilities)
}
