package middleware

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/hongminglow/flatkeeper/internal/auth"
	"github.com/hongminglow/flatkeeper/internal/http/respond"
	"github.com/hongminglow/flatkeeper/internal/logging"
	"github.com/hongminglow/flatkeeper/internal/models"
)

type actorKey struct{}

// RoleResolver looks up the role of an authenticated identity.
type RoleResolver interface {
	Resolve(ctx context.Context, identityID string) (models.Role, error)
}

// Authenticate requires a valid bearer token, resolves the bearer's role
// and stores the resulting Actor in the request context.
func Authenticate(tokens *auth.TokenManager, roles RoleResolver, log *zap.Logger) func(http.Handler) http.Handler {
	log = logging.OrNop(log)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearer(r)
			if !ok {
				respond.Error(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			id, err := tokens.Parse(raw)
			if err != nil {
				log.Debug("rejected token", zap.Error(err))
				respond.Error(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			role, err := roles.Resolve(r.Context(), id.ID)
			if err != nil {
				respond.FromError(w, err, nil)
				return
			}
			actor := models.Actor{ID: id.ID, Email: id.Email, Role: role}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

// WithActor returns ctx carrying actor.
func WithActor(ctx context.Context, actor models.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the authenticated actor, if any.
func ActorFrom(ctx context.Context) (models.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(models.Actor)
	return actor, ok
}

func bearer(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}
