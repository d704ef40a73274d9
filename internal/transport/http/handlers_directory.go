package httptransport

import (
	"net/http"

	id "github.com/vishalp-65/patient-case-notes-system/pkg/domain"
	"github.com/vishalp-65/patient-case-notes-system/pkg/platform/httputil"
	"github.com/vishalp-65/patient-case-notes-system/pkg/requestcontext"
)

func (h *Handler) handleRegisterPatient(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[registerPatientRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	patient, err := h.directory.RegisterPatient(ctx, req.NHSNumber, req.Name, req.dob)
	if err != nil {
		h.writeFailure(w, r, "register_patient", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, patient)
}

func (h *Handler) handleCorrectPatient(w http.ResponseWriter, r *http.Request) {
	patientID, ok := pathParam(h, w, r, id.ParsePatientID)
	if !ok {
		return
	}
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[correctPatientRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	patient, err := h.directory.CorrectPatient(ctx, patientID, req.correction)
	if err != nil {
		h.writeFailure(w, r, "correct_patient", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, patient)
}

func (h *Handler) handleGetPatient(w http.ResponseWriter, r *http.Request) {
	patientID, ok := pathParam(h, w, r, id.ParsePatientID)
	if !ok {
		return
	}
	patient, err := h.directory.GetPatient(r.Context(), patientID)
	if err != nil {
		h.writeFailure(w, r, "get_patient", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, patient)
}

func (h *Handler) handleRegisterUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[registerUserRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	user, err := h.directory.RegisterUser(ctx, req.Email, req.Name, req.NHSID, req.role)
	if err != nil {
		h.writeFailure(w, r, "register_user", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, user)
}

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathParam(h, w, r, id.ParseUserID)
	if !ok {
		return
	}
	user, err := h.directory.GetUser(r.Context(), userID)
	if err != nil {
		h.writeFailure(w, r, "get_user", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, user)
}
