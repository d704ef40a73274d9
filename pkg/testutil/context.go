package testutil

import (
	"context"
	"net/http"
	"time"

	id "github.com/vishalp-65/patient-case-notes-system/pkg/domain"
	"github.com/vishalp-65/patient-case-notes-system/pkg/requestcontext"
)

// WithActor adds a user ID and role to the request context.
// This simulates what the auth middleware would do for authenticated requests.
// If the userID is not a valid UUID, the request is returned unchanged.
func WithActor(req *http.Request, userID string, role id.Role) *http.Request {
	parsed, err := id.ParseUserID(userID)
	if err != nil {
		return req
	}
	return req.WithContext(requestcontext.WithActor(req.Context(), parsed, role))
}

// WithDoctor is WithActor for the doctor role.
func WithDoctor(req *http.Request, userID string) *http.Request {
	return WithActor(req, userID, id.RoleDoctor)
}

// WithTime pins requestcontext.Now for the request.
func WithTime(req *http.Request, t time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), t))
}

// WithContextValue adds an arbitrary key-value pair to the request context.
func WithContextValue(req *http.Request, key, value any) *http.Request {
	ctx := context.WithValue(req.Context(), key, value)
	return req.WithContext(ctx)
}
