package middleware

import (
	"context"
	"net/http"

	"roster-lookup/internal/logger"
	"roster-lookup/internal/session"
)

// unexported, collision-proof context key
type sessionContextKeyType struct{}

var sessionKey = sessionContextKeyType{}

// SessionFromContext returns the session attached by RequireAuth.
func SessionFromContext(ctx context.Context) (*session.Session, bool) {
	s, ok := ctx.Value(sessionKey).(*session.Session)
	return s, ok && s != nil
}

type AuthMiddleware struct {
	Store session.Store
}

func NewAuthMiddleware(store session.Store) *AuthMiddleware {
	return &AuthMiddleware{Store: store}
}

// RequireAuth rejects requests without a live session. The token is taken
// from the token query parameter or the session cookie.
func (a *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := session.TokenFromRequest(r)
		if token == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		sess, err := a.Store.Get(r.Context(), token)
		if err != nil {
			logger.Error("session lookup failed", map[string]any{
				"error": err.Error(),
			})
		}
		if err != nil || sess == nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), sessionKey, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
