package httptransport

import (
	"crypto/subtle"
	"net/http"

	"github.com/vishalp-65/patient-case-notes-system/internal/review"
	id "github.com/vishalp-65/patient-case-notes-system/pkg/domain"
	dErrors "github.com/vishalp-65/patient-case-notes-system/pkg/domain-errors"
	"github.com/vishalp-65/patient-case-notes-system/pkg/platform/httputil"
	"github.com/vishalp-65/patient-case-notes-system/pkg/requestcontext"
)

// HeaderCallbackToken authenticates pushes from the recognition service.
const HeaderCallbackToken = "X-Callback-Token"

func (h *Handler) handleReviewPending(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	notes, err := h.review.ListPending(ctx, requestcontext.Role(ctx))
	if err != nil {
		h.writeFailure(w, r, "review_pending", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, noteListResponse{CaseNotes: notes, Count: len(notes)})
}

func (h *Handler) handleReviewDecision(w http.ResponseWriter, r *http.Request) {
	noteID, ok := pathParam(h, w, r, id.ParseCaseNoteID)
	if !ok {
		return
	}
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[decisionRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	reviewer := review.Reviewer{ID: requestcontext.UserID(ctx), Role: requestcontext.Role(ctx)}
	note, err := h.review.Decide(ctx, noteID, reviewer, req.decision, req.Content)
	if err != nil {
		h.writeFailure(w, r, "review_decision", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, note)
}

// handleTranscriptionCallback receives a pushed result. An unknown request
// id is a 404 so the provider retries a push that raced the submission.
func (h *Handler) handleTranscriptionCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.callbackAuthorized(r) {
		h.writeFailure(w, r, "transcription_callback", dErrors.New(dErrors.CodeUnauthorized, "invalid callback token"))
		return
	}
	req, ok := httputil.DecodeAndPrepare[callbackRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	if err := h.callbacks.Deliver(ctx, req.RequestID, req.status()); err != nil {
		h.writeFailure(w, r, "transcription_callback", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) callbackAuthorized(r *http.Request) bool {
	if h.callbackToken == "" {
		return false
	}
	got := r.Header.Get(HeaderCallbackToken)
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.callbackToken)) == 1
}
