package status

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/program_portal/internal/app/domain/application"
	"github.com/R3E-Network/program_portal/internal/app/domain/archive"
	"github.com/R3E-Network/program_portal/internal/app/domain/submission"
	"github.com/R3E-Network/program_portal/internal/app/storage/memory"
	svcerrors "github.com/R3E-Network/program_portal/internal/errors"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	ts := t0.Add(d)
	return &ts
}

func TestDeriveExamples(t *testing.T) {
	assert.Equal(t, "Draft", Derive(nil))

	assert.Equal(t, "Submitted: FRA", Derive([]submission.Submission{
		{ID: 1, Status: submission.StatusSubmitted, ActivityType: "FRA", SubmittedAt: at(0)},
	}))

	assert.Equal(t, "Approved: EAA", Derive([]submission.Submission{
		{ID: 1, Status: submission.StatusSubmitted, ActivityType: "FRA", SubmittedAt: at(0)},
		{ID: 2, Status: submission.StatusApproved, ActivityType: "EAA", SubmittedAt: at(time.Hour)},
	}))
}

func TestDeriveOrdering(t *testing.T) {
	cases := []struct {
		name string
		subs []submission.Submission
		want string
	}{
		{
			name: "latest submission time wins regardless of order",
			subs: []submission.Submission{
				{ID: 2, Status: submission.StatusCompleted, ActivityType: "EAA", SubmittedAt: at(2 * time.Hour)},
				{ID: 1, Status: submission.StatusSubmitted, ActivityType: "FRA", SubmittedAt: at(time.Hour)},
			},
			want: "Completed: EAA",
		},
		{
			name: "creation time used when never submitted",
			subs: []submission.Submission{
				{ID: 1, Status: submission.StatusApproved, ActivityType: "FRA", CreatedAt: t0.Add(3 * time.Hour)},
				{ID: 2, Status: submission.StatusSubmitted, ActivityType: "EAA", SubmittedAt: at(time.Hour)},
			},
			want: "Approved: FRA",
		},
		{
			name: "ties go to the later insert",
			subs: []submission.Submission{
				{ID: 7, Status: submission.StatusApproved, ActivityType: "EAA", SubmittedAt: at(0)},
				{ID: 3, Status: submission.StatusSubmitted, ActivityType: "FRA", SubmittedAt: at(0)},
			},
			want: "Approved: EAA",
		},
		{
			name: "rejected and drafts never outrank submitted",
			subs: []submission.Submission{
				{ID: 1, Status: submission.StatusSubmitted, ActivityType: "FRA", SubmittedAt: at(0)},
				{ID: 2, Status: submission.StatusRejected, ActivityType: "EAA", SubmittedAt: at(time.Hour)},
				{ID: 3, Status: submission.StatusDraft, ActivityType: "EAA", UpdatedAt: t0.Add(5 * time.Hour)},
			},
			want: "Submitted: FRA",
		},
		{
			name: "draft only",
			subs: []submission.Submission{
				{ID: 1, Status: submission.StatusDraft, ActivityType: "FRA", UpdatedAt: t0},
				{ID: 2, Status: submission.StatusRejected, ActivityType: "FRA"},
			},
			want: "Draft",
		},
		{
			name: "rejected only",
			subs: []submission.Submission{
				{ID: 1, Status: submission.StatusRejected, ActivityType: "FRA", SubmittedAt: at(0)},
			},
			want: "Draft",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Derive(tc.subs))
		})
	}
}

func TestDeriveIsPure(t *testing.T) {
	subs := []submission.Submission{
		{ID: 2, Status: submission.StatusApproved, ActivityType: "EAA", SubmittedAt: at(time.Hour)},
		{ID: 1, Status: submission.StatusSubmitted, ActivityType: "FRA", SubmittedAt: at(0)},
	}
	before := append([]submission.Submission(nil), subs...)

	first := Derive(subs)
	second := Derive(subs)
	assert.Equal(t, first, second)
	assert.Equal(t, before, subs)
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "Draft", label(submission.StatusDraft))
	assert.Equal(t, "In Progress", label(submission.Status("in_progress")))
	assert.Equal(t, "", label(submission.Status("")))
}

func TestSortByRecency(t *testing.T) {
	subs := []submission.Submission{
		{ID: 1, Status: submission.StatusDraft},
		{ID: 2, Status: submission.StatusSubmitted, SubmittedAt: at(0)},
		{ID: 3, Status: submission.StatusApproved, SubmittedAt: at(time.Hour)},
	}
	SortByRecency(subs)
	assert.Equal(t, []int64{3, 2, 1}, []int64{subs[0].ID, subs[1].ID, subs[2].ID})
}

func TestSummarize(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	app, err := store.CreateApplication(ctx, application.Application{
		Identifier:   "ACME-F01-FRA-001",
		ActivityType: "FRA",
		Phase:        application.PhaseReview,
		Status:       application.StatusInReview,
	})
	require.NoError(t, err)

	engine := New(store)
	label, err := engine.ComputeDetailedStatus(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, "Draft", label)

	_, err = store.CreateSubmission(ctx, submission.Submission{
		ApplicationID: app.ID,
		ActivityType:  "FRA",
		Status:        submission.StatusSubmitted,
		SubmittedAt:   at(0),
		Payload:       json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	_, err = store.CreateSubmission(ctx, submission.Submission{
		ApplicationID: app.ID,
		ActivityType:  "EAA",
		Status:        submission.StatusApproved,
		SubmittedAt:   at(time.Hour),
		Payload:       json.RawMessage(`{}`),
	})
	require.NoError(t, err)

	summary, err := engine.Summarize(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, "Approved: EAA", summary.DetailedStatus)
	assert.Equal(t, application.StatusInReview, summary.Status)
	assert.Equal(t, application.PhaseReview, summary.Phase)

	stored, err := store.GetApplication(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, application.StatusInReview, stored.Status, "derivation must not write back")

}

func TestSummarizeIgnoresArchivedSubmissions(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	app, err := store.CreateApplication(ctx, application.Application{Identifier: "ACME-F01-FRA-001", ActivityType: "FRA"})
	require.NoError(t, err)
	_, err = store.CreateSubmission(ctx, submission.Submission{
		ApplicationID: app.ID, ActivityType: "FRA", Status: submission.StatusSubmitted, SubmittedAt: at(0),
	})
	require.NoError(t, err)
	latest, err := store.CreateSubmission(ctx, submission.Submission{
		ApplicationID: app.ID, ActivityType: "EAA", Status: submission.StatusApproved, SubmittedAt: at(time.Hour),
	})
	require.NoError(t, err)
	_, err = store.CreateArchiveRecord(ctx, archive.Record{
		ID:         "rec-1",
		EntityType: archive.EntitySubmission,
		EntityID:   latest.ID,
		Reason:     "entered in error",
		ArchivedAt: t0,
	})
	require.NoError(t, err)

	label, err := New(store).ComputeDetailedStatus(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, "Submitted: FRA", label)
}

func TestSummarizeMissingApplication(t *testing.T) {
	_, err := New(memory.New()).Summarize(context.Background(), 42)
	assert.True(t, svcerrors.IsNotFound(err))
}
