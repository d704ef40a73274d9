package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"

	dErrors "github.com/vishalp-65/patient-case-notes-system/pkg/domain-errors"
	"github.com/vishalp-65/patient-case-notes-system/pkg/platform/httputil"
	"github.com/vishalp-65/patient-case-notes-system/pkg/requestcontext"
)

// PerActor limits requests by authenticated user, falling back to client IP.
// It must run after auth.RequireActor. A store failure lets the request through.
func (l *Limiter) PerActor(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := "ip:" + requestcontext.ClientIP(ctx)
			if userID := requestcontext.UserID(ctx); !userID.IsNil() {
				key = "user:" + userID.String()
			}

			res, err := l.Check(ctx, key)
			if err != nil {
				logger.ErrorContext(ctx, "rate limit check failed",
					"request_id", requestcontext.RequestID(ctx),
					"limiter", l.name,
					"error", err,
				)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
			if !res.Allowed {
				retry := res.RetryAfter(l.now())
				w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())))
				logger.WarnContext(ctx, "rate limit exceeded",
					"request_id", requestcontext.RequestID(ctx),
					"limiter", l.name,
					"key", key,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeRateLimited, "too many requests, retry after "+retry.String()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
