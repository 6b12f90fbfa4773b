package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/lodgepole/farmsight/internal/errors"
)

// Roles understood by the API surface.
const (
	RoleRenderRead    = "render:read"
	RoleRenderSubmit  = "render:submit"
	RoleRenderManage  = "render:manage"
	RoleIngestRead    = "ingest:read"
	RoleIngestRecord  = "ingest:record"
	RoleDashboardRead = "dashboard:read"
)

// Principal is an authenticated caller.
type Principal struct {
	Key   string
	roles map[string]struct{}
}

// HasRole reports whether the principal carries the role.
func (p *Principal) HasRole(role string) bool {
	if p == nil {
		return false
	}
	_, ok := p.roles[role]
	return ok
}

// Roles returns the principal's roles in arbitrary order.
func (p *Principal) Roles() []string {
	if p == nil {
		return nil
	}
	out := make([]string, 0, len(p.roles))
	for role := range p.roles {
		out = append(out, role)
	}
	return out
}

type principalCtxKey int

const principalKey principalCtxKey = 0

// PrincipalFrom returns the authenticated principal on the context, or
// nil when auth is disabled or the request was anonymous.
func PrincipalFrom(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey).(*Principal)
	return p
}

type servicePrincipal struct {
	secret string
	roles  map[string]struct{}
}

// Authenticator checks API requests against configured service
// credentials.
//
// The credential string is a comma-separated list of
// key:secret:role1|role2 entries. An empty string disables
// authentication entirely, which is the development default.
type Authenticator struct {
	logger     *zap.Logger
	principals map[string]servicePrincipal
}

// NewAuthenticator parses the credential string. Malformed entries are
// skipped with a warning rather than failing startup.
func NewAuthenticator(raw string, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &Authenticator{
		logger:     logger,
		principals: make(map[string]servicePrincipal),
	}

	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
			logger.Warn("Skipping malformed service credential entry",
				zap.Int("fields", len(parts)))
			continue
		}

		roles := make(map[string]struct{})
		for _, role := range strings.Split(parts[2], "|") {
			role = strings.TrimSpace(role)
			if role != "" {
				roles[role] = struct{}{}
			}
		}

		a.principals[parts[0]] = servicePrincipal{secret: parts[1], roles: roles}
	}

	return a
}

// Enabled reports whether any credentials are configured.
func (a *Authenticator) Enabled() bool {
	return len(a.principals) > 0
}

// authenticate resolves the request's credentials to a principal.
// Accepted forms: X-API-Key/X-API-Secret headers, or
// Authorization: Bearer key:secret.
func (a *Authenticator) authenticate(r *http.Request) *Principal {
	key := r.Header.Get("X-API-Key")
	secret := r.Header.Get("X-API-Secret")

	if key == "" {
		bearer := strings.TrimSpace(r.Header.Get("Authorization"))
		if token, ok := strings.CutPrefix(bearer, "Bearer "); ok {
			if k, s, found := strings.Cut(strings.TrimSpace(token), ":"); found {
				key, secret = k, s
			}
		}
	}
	if key == "" {
		return nil
	}

	sp, ok := a.principals[key]
	if !ok {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(sp.secret), []byte(secret)) != 1 {
		return nil
	}

	return &Principal{Key: key, roles: sp.roles}
}

// Require returns middleware enforcing the role. When no credentials are
// configured every request passes through anonymously.
func (a *Authenticator) Require(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			principal := a.authenticate(r)
			if principal == nil {
				env := apperrors.NewErrorEnvelope(
					apperrors.CodeUnauthorized,
					"missing or invalid API credentials",
				).WithHint("supply X-API-Key and X-API-Secret headers").
					WithRequestID(apperrors.RequestIDFrom(r.Context()))
				apperrors.Write(w, http.StatusUnauthorized, env)
				return
			}

			if !principal.HasRole(role) {
				a.logger.Warn("Credential lacks required role",
					zap.String("key", principal.Key),
					zap.String("required_role", role))
				env := apperrors.NewErrorEnvelope(
					apperrors.CodeForbidden,
					"credential does not carry the required role",
				).WithDetails(map[string]any{"required_role": role}).
					WithRequestID(apperrors.RequestIDFrom(r.Context()))
				apperrors.Write(w, http.StatusForbidden, env)
				return
			}

			ctx := context.WithValue(r.Context(), principalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdminToken admits only requests bearing the exact configured
// admin token. Admin routes ignore service credentials; the bearer
// token is the only accepted proof.
func RequireAdminToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := ""
			if raw, ok := strings.CutPrefix(strings.TrimSpace(r.Header.Get("Authorization")), "Bearer "); ok {
				presented = strings.TrimSpace(raw)
			}
			if presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				env := apperrors.NewErrorEnvelope(
					apperrors.CodeUnauthorized,
					"admin token required",
				).WithHint("supply Authorization: Bearer <admin token>").
					WithRequestID(apperrors.RequestIDFrom(r.Context()))
				apperrors.Write(w, http.StatusUnauthorized, env)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
