package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	dErrors "github.com/vishalp-65/patient-case-notes-system/pkg/domain-errors"
	"github.com/vishalp-65/patient-case-notes-system/pkg/platform/httputil"
	"github.com/vishalp-65/patient-case-notes-system/pkg/requestcontext"
)

// writeFailure logs err at a level matching its code and writes the error
// response. Client errors are warnings; storage and upstream failures are errors.
func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	attrs := []any{
		"request_id", requestcontext.RequestID(ctx),
		"operation", op,
		"error", err,
	}
	if httputil.StatusFor(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, "request failed", attrs...)
	} else {
		h.logger.WarnContext(ctx, "request rejected", attrs...)
	}
	httputil.WriteError(w, err)
}

// pathParam parses the {id} route parameter with parse, writing a
// validation error and returning false when it is malformed.
func pathParam[T any](h *Handler, w http.ResponseWriter, r *http.Request, parse func(string) (T, error)) (T, bool) {
	v, err := parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeFailure(w, r, "parse_path", err)
		var zero T
		return zero, false
	}
	return v, true
}
