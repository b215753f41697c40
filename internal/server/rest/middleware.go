package rest

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/loanapp/internal/common"
	"github.com/dmitrijs2005/loanapp/internal/server/auth"
	"github.com/dmitrijs2005/loanapp/internal/server/models"
)

type ctxKey string

const principalKey ctxKey = "principal"

// Principal is the authenticated caller attached to the request context.
// User is the stripped view; the password hash never reaches handlers.
type Principal struct {
	UserID int64
	Role   models.Role
	User   *models.UserView
	Claims *auth.Claims
}

func withPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the caller set by RequireAuth.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok && p != nil
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(header string) string {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], common.BearerPrefix) {
		return ""
	}
	return parts[1]
}

// requireAuth verifies the bearer token, loads the user and rejects
// inactive accounts before calling next.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get(common.AuthorizationHeaderName))

		claims, user, err := s.users.Authenticate(r.Context(), token)
		if err != nil {
			s.logger.Debug(r.Context(), "authentication failed", "path", r.URL.Path, "error", err)
			s.writeServiceError(w, r, err)
			return
		}

		p := &Principal{UserID: user.ID, Role: user.Role, User: user.View(), Claims: claims}
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p)))
	})
}

// authorize admits only callers whose role is in roles. It must run
// behind requireAuth.
func (s *Server) authorize(roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, CodeUnauthenticated, msgUnauthenticated)
				return
			}
			if !slices.Contains(roles, p.Role) {
				writeError(w, http.StatusForbidden, CodeForbidden,
					fmt.Sprintf("User role '%s' is not authorized to access this route.", p.Role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type keyFunc func(*http.Request) string

func ipKey(r *http.Request) string { return "ip:" + clientIP(r) }

func userKey(r *http.Request) string {
	if p, ok := PrincipalFromContext(r.Context()); ok {
		return "user:" + strconv.FormatInt(p.UserID, 10)
	}
	return ipKey(r)
}

// rateLimit counts the request against bucket+key and answers 429 once the
// budget for the window is spent.
func (s *Server) rateLimit(bucket string, limit int, key keyFunc, next http.Handler) http.Handler {
	if limit <= 0 || s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := s.limiter.Allow(r.Context(), bucket+":"+key(r), limit, s.limits.Window)

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining(limit)))
		if !d.ResetAt.IsZero() {
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
		}

		if !d.Allowed {
			if !d.ResetAt.IsZero() {
				secs := int(time.Until(d.ResetAt).Seconds()) + 1
				h.Set("Retry-After", strconv.Itoa(max(secs, 1)))
			}
			s.metrics.rateLimited(bucket)
			writeError(w, http.StatusTooManyRequests, CodeRateLimited, msgRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return "unknown"
	}
	return host
}
