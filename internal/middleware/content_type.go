package middleware

import (
	"mime"
	"net/http"

	"github.com/gluk-w/pingmatrix/internal/respond"
)

// RequireJSON rejects bodies that are not application/json with 400. A
// request without Content-Type is assumed to be JSON; parameters such as
// charset are accepted.
func RequireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "" {
			mediaType, _, err := mime.ParseMediaType(ct)
			if err != nil || mediaType != "application/json" {
				respond.Error(w, http.StatusBadRequest, "only application/json is accepted")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
