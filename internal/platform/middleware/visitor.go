package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// VisitorCookie names the first-party cookie that scopes a visitor's storage.
// It is strictly necessary and set regardless of consent.
const VisitorCookie = "ilm_visitor"

const visitorCookieMaxAge = 365 * 24 * time.Hour

type visitorKey struct{}

// Visitor reads the visitor cookie, issuing a new random id when it is missing
// or malformed.
func Visitor(secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			visitor := ""
			if c, err := r.Cookie(VisitorCookie); err == nil {
				if id, err := uuid.Parse(c.Value); err == nil {
					visitor = id.String()
				}
			}
			if visitor == "" {
				visitor = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     VisitorCookie,
					Value:    visitor,
					Path:     "/",
					MaxAge:   int(visitorCookieMaxAge.Seconds()),
					HttpOnly: true,
					Secure:   secure,
					SameSite: http.SameSiteLaxMode,
				})
			}
			next.ServeHTTP(w, r.WithContext(WithVisitor(r.Context(), visitor)))
		})
	}
}

// WithVisitor injects a visitor id, for tests and background work.
func WithVisitor(ctx context.Context, visitor string) context.Context {
	return context.WithValue(ctx, visitorKey{}, visitor)
}

// GetVisitor returns the visitor id, or "" outside the Visitor middleware.
func GetVisitor(ctx context.Context) string {
	v, _ := ctx.Value(visitorKey{}).(string)
	return v
}
