package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	app "github.com/R3E-Network/program_portal/internal/app"
	"github.com/R3E-Network/program_portal/internal/app/domain/principal"
	"github.com/R3E-Network/program_portal/internal/app/storage/memory"
	"github.com/R3E-Network/program_portal/internal/middleware"
	"github.com/R3E-Network/program_portal/pkg/logger"
)

const (
	testSecret = "handler-secret"
	testIssuer = "program-portal"
)

var admin = principal.Principal{ID: "admin-1", Role: principal.RoleAdmin, Level: principal.LevelOwner}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

type apiFixture struct {
	t       *testing.T
	handler *Handler
}

func newAPI(t *testing.T, cfg Config) *apiFixture {
	t.Helper()
	application, err := app.New(memory.New(), app.Options{}, logger.NewDiscard())
	require.NoError(t, err)

	cfg.JWTSecret = testSecret
	cfg.Issuer = testIssuer
	h, err := NewHandler(application, cfg, logger.NewDiscard())
	require.NoError(t, err)
	return &apiFixture{t: t, handler: h}
}

func (f *apiFixture) do(p *principal.Principal, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if p != nil {
		token, err := middleware.IssueToken(testSecret, testIssuer, *p, time.Hour)
		require.NoError(f.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(f.t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func (f *apiFixture) data(env envelope, dst any) {
	f.t.Helper()
	require.NoError(f.t, json.Unmarshal(env.Data, dst))
}

func TestNewHandlerRequiresSecret(t *testing.T) {
	application, err := app.New(nil, app.Options{}, logger.NewDiscard())
	require.NoError(t, err)
	_, err = NewHandler(application, Config{}, logger.NewDiscard())
	require.Error(t, err)
}

func TestIdentifierLifecycleOverHTTP(t *testing.T) {
	api := newAPI(t, Config{})

	rec, env := api.do(&admin, http.MethodPost, "/companies", map[string]string{"name": "Acme Energy"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var company struct {
		ID   int64  `json:"id"`
		Code string `json:"code"`
	}
	api.data(env, &company)
	assert.Equal(t, "ACMENE", company.Code)

	rec, env = api.do(&admin, http.MethodPost, fmt.Sprintf("/companies/%d/facilities", company.ID), map[string]string{"name": "North Plant"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var facility struct {
		ID   int64  `json:"id"`
		Code string `json:"code"`
	}
	api.data(env, &facility)
	assert.Equal(t, "F01", facility.Code)

	preview := fmt.Sprintf("/applications/preview-id?company_id=%d&facility_id=%d&activity_type=fra", company.ID, facility.ID)
	rec, env = api.do(&admin, http.MethodGet, preview, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var predicted map[string]string
	api.data(env, &predicted)
	assert.Equal(t, "ACMENE-F01-FRA-001", predicted["identifier"])

	create := map[string]any{"company_id": company.ID, "facility_id": facility.ID, "activity_type": "fra"}
	rec, env = api.do(&admin, http.MethodPost, "/applications", create)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var first struct {
		ID         int64  `json:"id"`
		Identifier string `json:"identifier"`
	}
	api.data(env, &first)
	assert.Equal(t, "ACMENE-F01-FRA-001", first.Identifier)

	rec, env = api.do(&admin, http.MethodPost, "/archive", map[string]any{
		"entity_type": "application",
		"ids":         []int64{first.ID},
		"reason":      "duplicate filing",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var archived struct {
		Ghosted []string `json:"ghosted"`
	}
	api.data(env, &archived)
	assert.Equal(t, []string{"ACMENE-F01-FRA-001"}, archived.Ghosted)

	rec, env = api.do(&admin, http.MethodGet, "/ghosts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		OpenCount int `json:"open_count"`
	}
	api.data(env, &listing)
	assert.Equal(t, 1, listing.OpenCount)

	rec, env = api.do(&admin, http.MethodPost, "/applications", create)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var second struct {
		Identifier string `json:"identifier"`
	}
	api.data(env, &second)
	assert.Equal(t, "ACMENE-F01-FRA-002", second.Identifier, "a ghosted identifier is never reissued")

	rec, _ = api.do(&admin, http.MethodPost, "/archive/delete", map[string]any{"refs": []string{fmt.Sprintf("application:%d", first.ID)}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, _ = api.do(&admin, http.MethodGet, fmt.Sprintf("/applications/%d", first.ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, env = api.do(&admin, http.MethodDelete, "/ghosts/ACMENE-F01-FRA-001", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var cleared map[string]int
	api.data(env, &cleared)
	assert.Equal(t, 1, cleared["cleared"])

	rec, env = api.do(&admin, http.MethodGet, preview, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	api.data(env, &predicted)
	assert.Equal(t, "ACMENE-F01-FRA-001", predicted["identifier"], "a cleared identifier becomes available again")
}

func TestDetailedStatusOverHTTP(t *testing.T) {
	api := newAPI(t, Config{})
	appID := seedApplication(t, api)

	rec, env := api.do(&admin, http.MethodGet, fmt.Sprintf("/applications/%d/status", appID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary map[string]any
	api.data(env, &summary)
	assert.Equal(t, "Draft", summary["detailed_status"])

	rec, env = api.do(&admin, http.MethodPost, "/submissions", map[string]any{
		"application_id": appID,
		"activity_type":  "PRE_APPROVAL",
		"payload":        map[string]any{"measure": "lighting"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var draft struct {
		ID int64 `json:"id"`
	}
	api.data(env, &draft)

	rec, _ = api.do(&admin, http.MethodPost, fmt.Sprintf("/submissions/%d/submit", draft.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, env = api.do(&admin, http.MethodGet, fmt.Sprintf("/applications/%d/status", appID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	api.data(env, &summary)
	assert.Equal(t, "Submitted: PRE_APPROVAL", summary["detailed_status"])

	rec, _ = api.do(&admin, http.MethodPost, fmt.Sprintf("/submissions/%d/review", draft.ID), map[string]string{"decision": "approve"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, env = api.do(&admin, http.MethodGet, fmt.Sprintf("/applications/%d/submissions", appID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []map[string]any
	api.data(env, &history)
	require.Len(t, history, 1)
	assert.Equal(t, "approved", history[0]["status"])
}

func TestArchiveErrorsOverHTTP(t *testing.T) {
	api := newAPI(t, Config{})
	appID := seedApplication(t, api)

	applicant := principal.Principal{ID: "user-1", Role: principal.RoleApplicant, Level: principal.LevelOwner, CompanyID: 1}
	rec, env := api.do(&applicant, http.MethodPost, "/archive", map[string]any{
		"entity_type": "application", "ids": []int64{appID}, "reason": "cleanup",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "PERMISSION_DENIED", env.Error.Code)

	rec, env = api.do(&admin, http.MethodPost, "/archive/delete", map[string]any{"refs": []string{fmt.Sprintf("application:%d", appID)}})
	assert.Equal(t, http.StatusConflict, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "CONSTRAINT_VIOLATION", env.Error.Code)

	rec, _ = api.do(&admin, http.MethodPost, "/archive/restore", map[string]any{"refs": []string{"widget:1"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = api.do(&admin, http.MethodPost, "/archive", map[string]any{
		"entity_type": "company", "ids": []int64{1}, "reason": "closed", "include_related": true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, env = api.do(&admin, http.MethodGet, "/archive?entity_type=application", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var records []map[string]any
	api.data(env, &records)
	assert.Len(t, records, 1)

	rec, env = api.do(&admin, http.MethodGet, "/archive/issues", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var issues struct {
		Count int `json:"count"`
	}
	api.data(env, &issues)
	assert.Zero(t, issues.Count)

	rec, _ = api.do(&admin, http.MethodPost, "/archive/restore", map[string]any{"refs": []string{"company:1"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestAuthenticationAndRouting(t *testing.T) {
	api := newAPI(t, Config{})

	rec, _ := api.do(nil, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = api.do(nil, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env := api.do(nil, http.MethodGet, "/applications", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)

	rec, _ = api.do(&admin, http.MethodGet, "/applications/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = api.do(&admin, http.MethodGet, "/nowhere", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = api.do(&admin, http.MethodPost, "/companies", map[string]any{"name": "Acme", "unknown": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCompanyScopeOverHTTP(t *testing.T) {
	api := newAPI(t, Config{})
	appID := seedApplication(t, api)

	outsider := principal.Principal{ID: "user-9", Role: principal.RoleApplicant, Level: principal.LevelOwner, CompanyID: 99}
	rec, _ := api.do(&outsider, http.MethodGet, fmt.Sprintf("/applications/%d", appID), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	member := principal.Principal{ID: "user-1", Role: principal.RoleApplicant, Level: principal.LevelViewer, CompanyID: 1}
	rec, _ = api.do(&member, http.MethodGet, fmt.Sprintf("/applications/%d", appID), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = api.do(&member, http.MethodGet, "/ghosts", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAuditTrail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	api := newAPI(t, Config{AuditLogPath: path})

	rec, _ := api.do(&admin, http.MethodPost, "/companies", map[string]string{"name": "Acme"})
	require.Equal(t, http.StatusCreated, rec.Code)
	api.do(&admin, http.MethodGet, "/companies/1", nil)

	rec, env := api.do(&admin, http.MethodGet, "/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []auditEntry
	api.data(env, &entries)
	require.Len(t, entries, 1, "reads are not audited")
	assert.Equal(t, "admin-1", entries[0].Principal)
	assert.Equal(t, "/companies", entries[0].Path)
	assert.Equal(t, http.StatusCreated, entries[0].Status)
	assert.NotEmpty(t, entries[0].RequestID)

	require.NoError(t, api.handler.sink.Close())
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, bytes.Count(raw, []byte("\n")))

	member := principal.Principal{ID: "user-1", Role: principal.RoleApplicant, Level: principal.LevelOwner, CompanyID: 1}
	rec, _ = api.do(&member, http.MethodGet, "/audit", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAuditLogKeepsNewest(t *testing.T) {
	log := newAuditLog(2, nil)
	for i := 0; i < 3; i++ {
		log.add(auditEntry{Path: fmt.Sprintf("/%d", i)})
	}
	entries := log.listLimit(0)
	require.Len(t, entries, 2)
	assert.Equal(t, "/1", entries[0].Path)
	assert.Equal(t, "/2", entries[1].Path)
	assert.Equal(t, []auditEntry{{Path: "/2"}}, log.listLimit(1))
}

func seedApplication(t *testing.T, api *apiFixture) int64 {
	t.Helper()
	rec, _ := api.do(&admin, http.MethodPost, "/companies", map[string]string{"name": "Acme"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec, _ = api.do(&admin, http.MethodPost, "/companies/1/facilities", map[string]string{"name": "Plant"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec, env := api.do(&admin, http.MethodPost, "/applications", map[string]any{
		"company_id": 1, "facility_id": 2, "activity_type": "FRA",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		ID int64 `json:"id"`
	}
	api.data(env, &created)
	return created.ID
}
