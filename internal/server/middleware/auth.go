package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/memepit/memepit/internal/domain"
)

// Authenticator resolves an API key to an actor. The crypto keyring
// implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, key string) (domain.Actor, error)
}

// actorContextKey is the context key under which the authenticated actor is
// stored.
type actorContextKey struct{}

// ActorFrom returns the actor attached to the request context by the Auth
// middleware. The zero actor (no roles) is returned when none is present.
func ActorFrom(ctx context.Context) domain.Actor {
	actor, _ := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor
}

// WithActor returns a context carrying actor. Exposed for tests and internal
// callers that bypass HTTP.
func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// Auth returns middleware that authenticates requests via a Bearer token in
// the Authorization header or a key in the X-API-Key header, and attaches the
// resulting actor to the request context. The health endpoint is always
// reachable without credentials.
//
// If authn is nil, authentication is disabled and every request runs as a
// development actor holding all roles. Role checks still happen downstream in
// the services.
func Auth(authn Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/api/health" {
				next.ServeHTTP(w, r)
				return
			}

			if authn == nil {
				ctx := WithActor(r.Context(), devActor)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			token := extractToken(r)
			if token == "" {
				writeUnauthorized(w, "missing authentication token")
				return
			}

			actor, err := authn.Authenticate(r.Context(), token)
			if err != nil {
				writeUnauthorized(w, "invalid authentication token")
				return
			}

			ctx := WithActor(r.Context(), actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// devActor is the all-roles actor used when authentication is disabled.
var devActor = domain.Actor{
	ID: "dev",
	Roles: []domain.Role{
		domain.RoleAdmin,
		domain.RoleEpochController,
		domain.RoleMatchSource,
	},
}

// extractToken looks for a token in the Authorization header (Bearer scheme)
// or in the X-API-Key header.
func extractToken(r *http.Request) string {
	// Check Authorization: Bearer <token>
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}

	// Check X-API-Key header.
	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}

	return ""
}

// writeUnauthorized sends a 401 response with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
