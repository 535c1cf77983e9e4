package httpapi

import (
	"net/http"

	"github.com/R3E-Network/program_portal/internal/app/domain/submission"
	"github.com/R3E-Network/program_portal/internal/app/services/submissions"
	"github.com/R3E-Network/program_portal/internal/httputil"
)

func (h *handler) saveDraft(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req submissions.DraftRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	draft, err := h.app.Submissions.SaveDraft(r.Context(), actor, req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.ID == 0 {
		httputil.WriteCreated(w, draft)
		return
	}
	httputil.WriteSuccess(w, draft)
}

func (h *handler) submit(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	sub, err := h.app.Submissions.Submit(r.Context(), actor, id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, sub)
}

func (h *handler) review(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req struct {
		Decision submission.Decision `json:"decision"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	sub, err := h.app.Submissions.Review(r.Context(), actor, id, req.Decision)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, sub)
}

func (h *handler) submissionHistory(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	subs, err := h.app.Submissions.History(r.Context(), actor, id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, subs)
}
