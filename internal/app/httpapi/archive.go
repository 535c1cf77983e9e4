package httpapi

import (
	"net/http"
	"strings"

	"github.com/R3E-Network/program_portal/internal/app/domain/archive"
	"github.com/R3E-Network/program_portal/internal/app/services/archives"
	svcerrors "github.com/R3E-Network/program_portal/internal/errors"
	"github.com/R3E-Network/program_portal/internal/httputil"
)

type refsRequest struct {
	Refs []string `json:"refs"`
}

func (req refsRequest) parse() ([]archive.Ref, error) {
	refs := make([]archive.Ref, 0, len(req.Refs))
	for _, raw := range req.Refs {
		ref, err := archive.ParseRef(raw)
		if err != nil {
			return nil, svcerrors.Validation(err.Error())
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func (h *handler) bulkArchive(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req archives.Request
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	result, err := h.app.Archive.BulkArchive(r.Context(), actor, req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

func (h *handler) restore(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req refsRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	refs, err := req.parse()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	restored, err := h.app.Archive.Restore(r.Context(), actor, refs)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, restored)
}

func (h *handler) permanentlyDelete(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req refsRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	refs, err := req.parse()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	deleted, err := h.app.Archive.PermanentlyDelete(r.Context(), actor, refs)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, deleted)
}

func (h *handler) listArchived(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	entityType := archive.EntityType(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("entity_type"))))
	records, err := h.app.Archive.ListArchived(r.Context(), actor, entityType)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, records)
}

func (h *handler) constraintIssues(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	issues, err := h.app.Archive.ConstraintIssues(r.Context(), actor)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]any{"count": len(issues), "issues": issues})
}
