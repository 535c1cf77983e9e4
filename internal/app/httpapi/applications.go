package httpapi

import (
	"net/http"
	"strings"

	"github.com/R3E-Network/program_portal/internal/app/domain/application"
	"github.com/R3E-Network/program_portal/internal/app/services/applications"
	"github.com/R3E-Network/program_portal/internal/httputil"
)

func (h *handler) createApplication(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req applications.CreateRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	created, err := h.app.Applications.CreateApplication(r.Context(), actor, req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteCreated(w, created)
}

func (h *handler) previewIdentifier(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	companyID, err := queryInt(r, "company_id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	facilityID, err := queryInt(r, "facility_id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req := applications.CreateRequest{
		CompanyID:    companyID,
		FacilityID:   facilityID,
		ActivityType: strings.TrimSpace(r.URL.Query().Get("activity_type")),
	}
	identifier, err := h.app.Applications.PredictNextID(r.Context(), actor, req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"identifier": identifier})
}

func (h *handler) listApplications(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	companyID, err := queryInt(r, "company_id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	facilityID, err := queryInt(r, "facility_id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	apps, err := h.app.Applications.List(r.Context(), actor, application.Filter{CompanyID: companyID, FacilityID: facilityID})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, apps)
}

func (h *handler) getApplication(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	found, err := h.app.Applications.Get(r.Context(), actor, id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, found)
}

func (h *handler) applicationStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	summary, err := h.app.Applications.Summary(r.Context(), actor, id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, summary)
}

func (h *handler) transitionApplication(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req applications.TransitionRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	updated, err := h.app.Applications.Transition(r.Context(), actor, id, req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, updated)
}
