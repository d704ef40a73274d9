package httptransport

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/vishalp-65/patient-case-notes-system/internal/casenote/models"
	"github.com/vishalp-65/patient-case-notes-system/internal/intake"
	id "github.com/vishalp-65/patient-case-notes-system/pkg/domain"
	dErrors "github.com/vishalp-65/patient-case-notes-system/pkg/domain-errors"
	"github.com/vishalp-65/patient-case-notes-system/pkg/platform/httputil"
	"github.com/vishalp-65/patient-case-notes-system/pkg/requestcontext"
)

// multipartOverhead is the allowance for form boundaries and the non-file
// fields on top of the configured file limit.
const multipartOverhead = 1 << 20

// handleUpload accepts multipart fields file, patient_id, optional note_type
// and optional mime_type. The file part's Content-Type is used when
// mime_type is absent.
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	doctorID := requestcontext.UserID(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(multipartOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeFailure(w, r, "upload", dErrors.New(dErrors.CodeValidation, "file exceeds maximum size"))
			return
		}
		h.writeFailure(w, r, "upload", dErrors.New(dErrors.CodeBadRequest, "invalid multipart form"))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	patientID, err := id.ParsePatientID(r.FormValue("patient_id"))
	if err != nil {
		h.writeFailure(w, r, "upload", err)
		return
	}
	noteType := models.NoteTypeScanned
	if raw := r.FormValue("note_type"); raw != "" {
		if noteType, err = models.ParseNoteType(raw); err != nil {
			h.writeFailure(w, r, "upload", err)
			return
		}
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeFailure(w, r, "upload", dErrors.New(dErrors.CodeValidation, "file is required"))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		h.writeFailure(w, r, "upload", dErrors.Wrap(err, dErrors.CodeBadRequest, "failed to read file"))
		return
	}

	mimeType := r.FormValue("mime_type")
	if mimeType == "" {
		mimeType = header.Header.Get("Content-Type")
	}

	result, err := h.intake.Intake(ctx, intake.Request{
		DoctorID:  doctorID,
		PatientID: patientID,
		Filename:  header.Filename,
		MimeType:  mimeType,
		Data:      data,
		NoteType:  noteType,
	})
	if err != nil {
		if result != nil && result.Upload != nil {
			h.logger.ErrorContext(ctx, "upload recorded as failed",
				"request_id", requestcontext.RequestID(ctx),
				"file_upload_id", result.Upload.ID,
				"status", result.Upload.Status,
				"error", err,
			)
			code := dErrors.CodeOf(err)
			httputil.WriteJSON(w, httputil.StatusFor(code), uploadErrorResponse{
				Error:            string(code),
				ErrorDescription: dErrors.MessageOf(err),
				FileUpload:       result.Upload,
			})
			return
		}
		h.writeFailure(w, r, "upload", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, uploadResponse{FileUpload: result.Upload, CaseNote: result.Note})
}

func (h *Handler) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[createNoteRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	note, err := h.notes.CreateManual(ctx, req.patientID, requestcontext.UserID(ctx), req.Content)
	if err != nil {
		h.writeFailure(w, r, "create_manual", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, note)
}

func (h *Handler) handleGetNote(w http.ResponseWriter, r *http.Request) {
	noteID, ok := pathParam(h, w, r, id.ParseCaseNoteID)
	if !ok {
		return
	}
	note, err := h.notes.Get(r.Context(), noteID)
	if err != nil {
		h.writeFailure(w, r, "get_note", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, note)
}

func (h *Handler) handlePatientHistory(w http.ResponseWriter, r *http.Request) {
	patientID, ok := pathParam(h, w, r, id.ParsePatientID)
	if !ok {
		return
	}
	notes, err := h.notes.History(r.Context(), patientID)
	if err != nil {
		h.writeFailure(w, r, "history", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, noteListResponse{CaseNotes: notes, Count: len(notes)})
}

func (h *Handler) handleReviseNote(w http.ResponseWriter, r *http.Request) {
	h.contentChange(w, r, "revise", h.notes.ReviseNote)
}

func (h *Handler) handleReplaceRejected(w http.ResponseWriter, r *http.Request) {
	h.contentChange(w, r, "replace_rejected", h.notes.ReplaceRejected)
}

func (h *Handler) handleManualOverride(w http.ResponseWriter, r *http.Request) {
	h.contentChange(w, r, "manual_override", h.notes.ManualOverride)
}

type contentOp func(ctx context.Context, noteID id.CaseNoteID, doctorID id.UserID, content string) (*models.CaseNote, error)

// contentChange serves the routes that append a new manual version.
func (h *Handler) contentChange(w http.ResponseWriter, r *http.Request, op string, apply contentOp) {
	noteID, ok := pathParam(h, w, r, id.ParseCaseNoteID)
	if !ok {
		return
	}
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[contentRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	note, err := apply(ctx, noteID, requestcontext.UserID(ctx), req.Content)
	if err != nil {
		h.writeFailure(w, r, op, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, note)
}

func (h *Handler) handleRedispatch(w http.ResponseWriter, r *http.Request) {
	noteID, ok := pathParam(h, w, r, id.ParseCaseNoteID)
	if !ok {
		return
	}
	note, err := h.notes.Redispatch(r.Context(), noteID)
	if err != nil {
		h.writeFailure(w, r, "redispatch", err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, note)
}
