package auth

import (
	"context"
	"group_chat/internal/model"
	"group_chat/internal/utils/log"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

type userContextKey struct{}

func WithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

func UserFromContext(ctx context.Context) (*model.User, bool) {
	user, ok := ctx.Value(userContextKey{}).(*model.User)
	return user, ok && user != nil
}

// Middleware gates HTTP routes on a valid "Authorization: Bearer" header
// and stores the resolved user in the request context.
func (a *Authorizer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			http.Error(w, PublicMessage, http.StatusUnauthorized)
			return
		}

		user, err := a.Authenticate(r.Context(), token)
		if err != nil {
			if IsRejection(err) {
				log.Debug("http request rejected", zap.String("path", r.URL.Path), zap.Error(err))
				http.Error(w, PublicMessage, http.StatusUnauthorized)
				return
			}
			log.Error("authenticate request failed", zap.Error(err))
			http.Error(w, "authentication unavailable", http.StatusServiceUnavailable)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
