package archives

import (
	"context"
	"errors"
	"sort"
	"strconv"

	"github.com/R3E-Network/program_portal/internal/app/domain/application"
	"github.com/R3E-Network/program_portal/internal/app/domain/archive"
	"github.com/R3E-Network/program_portal/internal/app/storage"
	svcerrors "github.com/R3E-Network/program_portal/internal/errors"
)

// node is one entity together with the references it holds.
type node struct {
	ref        archive.Ref
	parents    []archive.Ref
	identifier string
}

// describe loads ref and returns its outgoing references. Applications also
// carry their identifier so archiving can ghost it.
func describe(ctx context.Context, r storage.Repository, ref archive.Ref) (node, error) {
	n := node{ref: ref}
	var err error
	switch ref.Type {
	case archive.EntityCompany:
		_, err = r.GetCompany(ctx, ref.ID)
	case archive.EntityFacility:
		f, getErr := r.GetFacility(ctx, ref.ID)
		err = getErr
		n.parents = []archive.Ref{{Type: archive.EntityCompany, ID: f.CompanyID}}
	case archive.EntityApplication:
		app, getErr := r.GetApplication(ctx, ref.ID)
		err = getErr
		n.identifier = app.Identifier
		n.parents = applicationParents(app)
	case archive.EntitySubmission:
		sub, getErr := r.GetSubmission(ctx, ref.ID)
		err = getErr
		n.parents = []archive.Ref{{Type: archive.EntityApplication, ID: sub.ApplicationID}}
	default:
		return node{}, svcerrors.Validation("unknown entity type " + strconv.Quote(string(ref.Type)))
	}
	if errors.Is(err, storage.ErrNotFound) {
		return node{}, svcerrors.NotFound(string(ref.Type), strconv.FormatInt(ref.ID, 10))
	}
	if err != nil {
		return node{}, svcerrors.Internal("load "+ref.String(), err)
	}
	return n, nil
}

func applicationParents(app application.Application) []archive.Ref {
	parents := []archive.Ref{{Type: archive.EntityCompany, ID: app.CompanyID}}
	if app.FacilityID != 0 {
		parents = append(parents, archive.Ref{Type: archive.EntityFacility, ID: app.FacilityID})
	}
	return parents
}

// children lists entities that reference ref directly. Submissions beneath
// an application are only listed when withSubmissions is set.
func children(ctx context.Context, r storage.Repository, ref archive.Ref, withSubmissions bool) ([]archive.Ref, error) {
	var out []archive.Ref
	switch ref.Type {
	case archive.EntityCompany:
		facilities, err := r.ListFacilities(ctx, ref.ID)
		if err != nil {
			return nil, svcerrors.Internal("list facilities", err)
		}
		for _, f := range facilities {
			out = append(out, archive.Ref{Type: archive.EntityFacility, ID: f.ID})
		}
		apps, err := r.ListApplications(ctx, application.Filter{CompanyID: ref.ID})
		if err != nil {
			return nil, svcerrors.Internal("list applications", err)
		}
		for _, app := range apps {
			out = append(out, archive.Ref{Type: archive.EntityApplication, ID: app.ID})
		}
	case archive.EntityFacility:
		apps, err := r.ListApplications(ctx, application.Filter{FacilityID: ref.ID})
		if err != nil {
			return nil, svcerrors.Internal("list applications", err)
		}
		for _, app := range apps {
			out = append(out, archive.Ref{Type: archive.EntityApplication, ID: app.ID})
		}
	case archive.EntityApplication:
		if !withSubmissions {
			break
		}
		subs, err := r.ListSubmissions(ctx, ref.ID)
		if err != nil {
			return nil, svcerrors.Internal("list submissions", err)
		}
		for _, sub := range subs {
			out = append(out, archive.Ref{Type: archive.EntitySubmission, ID: sub.ID})
		}
	}
	return out, nil
}

// openRecords indexes every unrestored archive record by entity.
func openRecords(ctx context.Context, r storage.Repository) (map[archive.Ref]archive.Record, error) {
	records, err := r.ListOpenArchiveRecords(ctx, "")
	if err != nil {
		return nil, svcerrors.Internal("list archive records", err)
	}
	out := make(map[archive.Ref]archive.Record, len(records))
	for _, rec := range records {
		out[rec.Ref()] = rec
	}
	return out, nil
}

// sortTopDown orders refs parents first, then by id.
func sortTopDown(refs []archive.Ref) {
	sort.Slice(refs, func(i, j int) bool {
		if ri, rj := refs[i].Type.Rank(), refs[j].Type.Rank(); ri != rj {
			return ri < rj
		}
		return refs[i].ID < refs[j].ID
	})
}

// dedupe drops repeated refs, keeping first occurrences.
func dedupe(refs []archive.Ref) []archive.Ref {
	seen := make(map[archive.Ref]struct{}, len(refs))
	out := make([]archive.Ref, 0, len(refs))
	for _, ref := range refs {
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		out = append(out, ref)
	}
	return out
}

func refStrings(refs []archive.Ref) []string {
	out := make([]string, len(refs))
	for i, ref := range refs {
		out[i] = ref.String()
	}
	return out
}

func countByType(refs []archive.Ref) map[string]int {
	out := make(map[string]int)
	for _, ref := range refs {
		out[string(ref.Type)]++
	}
	return out
}
