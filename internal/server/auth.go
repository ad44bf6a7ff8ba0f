package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/me/owl/internal/auth"
	"github.com/me/owl/internal/store"
	"github.com/me/owl/pkg/model"
)

const ctxKeyUser ctxKey = "user"

// UserFromContext returns the authenticated user, or nil for anonymous
// requests.
func UserFromContext(ctx context.Context) *model.User {
	if u, ok := ctx.Value(ctxKeyUser).(*model.User); ok {
		return u
	}
	return nil
}

// identityMiddleware resolves credentials when present. Requests without
// credentials continue anonymously; bad credentials get a 401.
func identityMiddleware(authn auth.Authenticator, st store.Store, admins *AdminConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := RequestIDFromContext(r.Context())

			id, err := authn.Authenticate(r)
			if errors.Is(err, auth.ErrNoCredentials) {
				next.ServeHTTP(w, r)
				return
			}
			if err != nil {
				respondError(w, reqID, http.StatusUnauthorized, &model.APIError{
					Code:    model.ErrUnauthorized,
					Message: "invalid or expired credentials",
				})
				return
			}

			user, err := st.GetOrCreateUser(r.Context(), id.Subject, id.Username)
			if err != nil {
				logger.Error("user lookup/create failed", "subject", id.Subject, "error", err)
				respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError())
				return
			}
			if admins.IsAdmin(user.Username) {
				user.Role = model.RoleAdmin
			}

			ctx := context.WithValue(r.Context(), ctxKeyUser, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requireUser rejects anonymous requests.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if UserFromContext(r.Context()) == nil {
			respondError(w, RequestIDFromContext(r.Context()), http.StatusUnauthorized, &model.APIError{
				Code:    model.ErrUnauthorized,
				Message: "authentication required",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
