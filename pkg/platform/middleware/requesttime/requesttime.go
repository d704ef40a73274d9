// Package requesttime pins a single "now" for the whole request so every
// timestamp written by one transition agrees.
package requesttime

import (
	"net/http"
	"time"

	"github.com/vishalp-65/patient-case-notes-system/pkg/requestcontext"
)

func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
