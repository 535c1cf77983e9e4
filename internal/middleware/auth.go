// Package middleware provides the HTTP middleware placed in front of the
// portal API.
package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/R3E-Network/program_portal/internal/app/domain/principal"
	svcerrors "github.com/R3E-Network/program_portal/internal/errors"
	"github.com/R3E-Network/program_portal/internal/httputil"
	"github.com/R3E-Network/program_portal/pkg/logger"
)

type principalKey struct{}

// Claims are the JWT claims identifying a portal principal. The subject
// carries the principal id.
type Claims struct {
	Role      principal.Role  `json:"role"`
	Level     principal.Level `json:"level,omitempty"`
	CompanyID int64           `json:"company_id,omitempty"`
	jwt.RegisteredClaims
}

// Principal converts the claims to the principal passed to services.
func (c *Claims) Principal() principal.Principal {
	return principal.Principal{
		ID:        c.Subject,
		Role:      c.Role,
		Level:     c.Level,
		CompanyID: c.CompanyID,
	}
}

// AuthMiddleware authenticates HS256 bearer tokens.
type AuthMiddleware struct {
	secret    []byte
	issuer    string
	log       *logger.Logger
	skipPaths map[string]bool
}

// NewAuthMiddleware creates the authentication middleware. Requests to
// skipPaths pass through without a principal.
func NewAuthMiddleware(secret, issuer string, skipPaths []string, log *logger.Logger) *AuthMiddleware {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	skip := make(map[string]bool, len(skipPaths))
	for _, path := range skipPaths {
		skip[path] = true
	}
	return &AuthMiddleware{
		secret:    []byte(secret),
		issuer:    issuer,
		log:       log,
		skipPaths: skip,
	}
}

// Handler returns the middleware handler.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			m.respondError(w, r, svcerrors.Unauthorized("missing Authorization header"))
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			m.respondError(w, r, svcerrors.Unauthorized("invalid Authorization header format"))
			return
		}

		claims, err := m.validateToken(strings.TrimSpace(parts[1]))
		if err != nil {
			m.respondError(w, r, err)
			return
		}

		p := claims.Principal()
		m.log.WithField("principal", p.ID).
			WithField("role", p.Role).
			WithField("request_id", RequestIDFrom(r.Context())).
			Debug("authenticated request")

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

func (m *AuthMiddleware) validateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, svcerrors.Unauthorized("invalid token")
	}
	if claims.Subject == "" || claims.Role == "" {
		return nil, svcerrors.Unauthorized("token is missing subject or role")
	}
	return claims, nil
}

func (m *AuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, err error) {
	m.log.WithError(err).
		WithField("path", r.URL.Path).
		WithField("method", r.Method).
		WithField("request_id", RequestIDFrom(r.Context())).
		Warn("authentication failed")
	httputil.WriteError(w, err)
}

// IssueToken signs an HS256 token for p. It backs the admin CLI and tests.
func IssueToken(secret, issuer string, p principal.Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Role:      p.Role,
		Level:     p.Level,
		CompanyID: p.CompanyID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p principal.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the authenticated principal, if any.
func PrincipalFrom(ctx context.Context) (principal.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(principal.Principal)
	return p, ok
}
