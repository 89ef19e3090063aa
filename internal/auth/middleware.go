package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/Shivanand-hulikatti/club-registration/internal/model"
)

type contextKeyIdentity struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id model.Identity) context.Context {
	return context.WithValue(ctx, contextKeyIdentity{}, id)
}

// IdentityFrom returns the caller identity, or an anonymous identity when the
// request carried no token.
func IdentityFrom(ctx context.Context) model.Identity {
	id, _ := ctx.Value(contextKeyIdentity{}).(model.Identity)
	return id
}

// Authenticate resolves a bearer token when one is present. Requests without
// an Authorization header continue anonymously; a malformed or invalid token
// is rejected with 401.
func Authenticate(validator Validator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				logger.WarnContext(ctx, "unauthenticated request - malformed authorization header",
					"request_id", middleware.GetReqID(ctx))
				reject(w, http.StatusUnauthorized, model.KindUnauthenticated, "missing or invalid Authorization header", logger)
				return
			}

			id, err := validator.Validate(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthenticated request - invalid token",
					"error", err,
					"request_id", middleware.GetReqID(ctx))
				reject(w, http.StatusUnauthorized, model.KindUnauthenticated, err.Error(), logger)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, id)))
		})
	}
}

// RequireAuth rejects anonymous callers with 401.
func RequireAuth(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !IdentityFrom(r.Context()).Authenticated {
				reject(w, http.StatusUnauthorized, model.KindUnauthenticated, model.ErrUnauthenticated.Message, logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin rejects callers without the admin role with 403.
func RequireAdmin(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := IdentityFrom(r.Context())
			switch {
			case !id.Authenticated:
				reject(w, http.StatusUnauthorized, model.KindUnauthenticated, model.ErrUnauthenticated.Message, logger)
			case !id.IsAdmin():
				logger.WarnContext(r.Context(), "admin route denied", "user_id", id.UserID)
				reject(w, http.StatusForbidden, model.KindUnauthorized, "admin role required", logger)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func reject(w http.ResponseWriter, status int, kind model.ErrorKind, msg string, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(model.ErrorResponse{ErrorKind: kind, Message: msg}); err != nil {
		logger.Error("failed to write auth rejection", "error", err)
	}
}
