// Package httpapi exposes the portal services over a JSON REST API.
package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	app "github.com/R3E-Network/program_portal/internal/app"
	"github.com/R3E-Network/program_portal/internal/app/domain/principal"
	"github.com/R3E-Network/program_portal/internal/app/metrics"
	svcerrors "github.com/R3E-Network/program_portal/internal/errors"
	"github.com/R3E-Network/program_portal/internal/httputil"
	"github.com/R3E-Network/program_portal/internal/middleware"
	"github.com/R3E-Network/program_portal/pkg/logger"
)

// Config controls the middleware placed in front of the routes.
type Config struct {
	JWTSecret      string
	Issuer         string
	RateLimit      float64
	RateBurst      int
	AllowedOrigins []string
	// AuditLogPath, when set, receives every mutating request as JSONL.
	AuditLogPath string
	AuditBuffer  int
}

// Handler is the routed portal API.
type Handler struct {
	router  chi.Router
	limiter *middleware.RateLimiter
	audit   *auditLog
	sink    *fileAuditSink
}

type handler struct {
	app   *app.Application
	audit *auditLog
	log   *logger.Logger
}

// NewHandler builds the router and its middleware stack.
func NewHandler(application *app.Application, cfg Config, log *logger.Logger) (*Handler, error) {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("httpapi: jwt secret is required")
	}

	out := &Handler{limiter: middleware.NewRateLimiter(cfg.RateLimit, cfg.RateBurst, log.Named("ratelimit"))}
	var sink auditSink
	if cfg.AuditLogPath != "" {
		fs, err := newFileAuditSink(cfg.AuditLogPath)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		out.sink = fs
		sink = fs
	}
	out.audit = newAuditLog(cfg.AuditBuffer, sink)

	h := &handler{app: application, audit: out.audit, log: log}
	auth := middleware.NewAuthMiddleware(cfg.JWTSecret, cfg.Issuer, []string{"/healthz", "/metrics"}, log.Named("auth"))

	r := chi.NewRouter()
	r.Use(middleware.NewRequestLogger(log.Named("http")).Handler)
	r.Use(chimw.Recoverer)
	r.Use(middleware.NewCORSMiddleware(cfg.AllowedOrigins).Handler)
	r.Use(metrics.InstrumentHandler)
	r.Use(auth.Handler)
	r.Use(out.limiter.Handler)
	r.Use(out.audit.middleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteError(w, svcerrors.NotFound("route", r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusMethodNotAllowed, httputil.APIResponse{
			Error: svcerrors.Validation("method " + r.Method + " not allowed"),
		})
	})

	r.Get("/healthz", h.health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/companies", func(r chi.Router) {
		r.Post("/", h.registerCompany)
		r.Get("/{id}", h.getCompany)
		r.Post("/{id}/facilities", h.registerFacility)
		r.Get("/{id}/facilities", h.listFacilities)
	})

	r.Route("/applications", func(r chi.Router) {
		r.Get("/", h.listApplications)
		r.Post("/", h.createApplication)
		r.Get("/preview-id", h.previewIdentifier)
		r.Get("/{id}", h.getApplication)
		r.Get("/{id}/status", h.applicationStatus)
		r.Post("/{id}/transition", h.transitionApplication)
		r.Get("/{id}/submissions", h.submissionHistory)
	})

	r.Route("/submissions", func(r chi.Router) {
		r.Post("/", h.saveDraft)
		r.Post("/{id}/submit", h.submit)
		r.Post("/{id}/review", h.review)
	})

	r.Route("/archive", func(r chi.Router) {
		r.Get("/", h.listArchived)
		r.Post("/", h.bulkArchive)
		r.Post("/restore", h.restore)
		r.Post("/delete", h.permanentlyDelete)
		r.Get("/issues", h.constraintIssues)
	})

	r.Route("/ghosts", func(r chi.Router) {
		r.Get("/", h.listGhosts)
		r.Post("/clear", h.clearGhosts)
		r.Delete("/{identifier}", h.clearGhost)
	})

	r.Get("/audit", h.listAudit)

	out.router = r
	return out, nil
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteSuccess(w, map[string]any{"status": "ok", "services": h.app.Services()})
}

func (h *handler) listAudit(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if !h.app.Gate.IsAdmin(actor) {
		httputil.WriteError(w, svcerrors.PermissionDenied("view audit log"))
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, h.audit.listLimit(int(limit)))
}

func actorFrom(w http.ResponseWriter, r *http.Request) (principal.Principal, bool) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		httputil.WriteError(w, svcerrors.Unauthorized(""))
	}
	return p, ok
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, svcerrors.Validation(fmt.Sprintf("invalid %s %q", name, raw))
	}
	return id, nil
}

// queryInt returns 0 when the parameter is absent.
func queryInt(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, svcerrors.Validation(fmt.Sprintf("invalid %s %q", name, raw))
	}
	return n, nil
}
