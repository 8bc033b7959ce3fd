package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hyperengineering/mealclarify/internal/validation"
)

// userIDContextKey is the context key for the validated user ID.
type userIDContextKey struct{}

// ErrNoUserInContext indicates no user ID was found in the context.
var ErrNoUserInContext = errors.New("no user in context")

// WithUserID returns a new context with the user ID attached.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey{}, userID)
}

// UserIDFromContext extracts the user ID from the context.
// Returns ErrNoUserInContext if not present or empty.
func UserIDFromContext(ctx context.Context) (string, error) {
	id, ok := ctx.Value(userIDContextKey{}).(string)
	if !ok || id == "" {
		return "", ErrNoUserInContext
	}
	return id, nil
}

// MustUserIDFromContext extracts the user ID or panics.
// Use only when UserMiddleware guarantees presence.
func MustUserIDFromContext(ctx context.Context) string {
	id, err := UserIDFromContext(ctx)
	if err != nil {
		panic("user ID not in context: middleware misconfiguration")
	}
	return id
}

// UserMiddleware validates the {userID} path parameter and attaches it to
// the request context. Invalid IDs get a 422 with field errors.
func UserMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		if errs := validation.ValidateUserID(userID); len(errs) > 0 {
			WriteProblemWithErrors(w, r, "Invalid user ID", errs)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}
