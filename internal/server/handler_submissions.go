package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/me/owl/internal/intake"
	"github.com/me/owl/pkg/model"
)

const maxSubmissionBody = 64 << 10

func (s *Server) handleCreateSubmission(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req model.CreateSubmissionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmissionBody)).Decode(&req); err != nil {
		respondError(w, reqID, http.StatusBadRequest, &model.APIError{
			Code:    model.ErrValidation,
			Message: "Invalid JSON body: " + err.Error(),
		})
		return
	}

	var missing []model.FieldError
	if !req.ModelType.Valid() {
		missing = append(missing, model.FieldError{Field: "model_type", Message: "model_type must be hf or gguf"})
	}
	if req.ModelID == "" {
		missing = append(missing, model.FieldError{Field: "model_id", Message: "model_id is required"})
	}
	if len(missing) > 0 {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid submission", missing...))
		return
	}

	res, err := s.intake.Submit(r.Context(), intake.Request{
		User:         UserFromContext(r.Context()),
		ClientIP:     clientIP(r),
		ModelType:    req.ModelType,
		ModelRef:     req.ModelID,
		Params:       req.Params,
		CaptchaToken: req.CaptchaToken,
	})
	if err != nil {
		s.respondInternal(w, r, "submission intake failed", err)
		return
	}
	if res.Rejection != nil {
		respondRejection(w, reqID, res.Rejection)
		return
	}

	sub := res.Submission
	respondCreated(w, reqID, model.CreateSubmissionResponse{
		ID:          sub.ID,
		Status:      sub.Status,
		ModelID:     sub.ModelID,
		DisplayName: sub.DisplayName,
		Params:      sub.Params,
	})
}

func (s *Server) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	user := UserFromContext(r.Context())

	opts := model.DefaultListOptions()
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Offset = n
		}
	}
	if v := r.URL.Query().Get("status"); v != "" {
		if !model.SubmissionStatus(v).Valid() {
			respondError(w, reqID, http.StatusBadRequest,
				model.NewValidationError("invalid filter", model.FieldError{Field: "status", Message: "unknown status " + v}))
			return
		}
		opts.Status = v
	}
	opts.UserID = user.ID
	if user.IsAdmin() && r.URL.Query().Get("all") == "true" {
		opts.UserID = ""
	}
	opts.Clamp()

	subs, total, err := s.store.ListSubmissions(r.Context(), opts)
	if err != nil {
		s.respondInternal(w, r, "list submissions", err)
		return
	}
	if subs == nil {
		subs = []*model.Submission{}
	}

	respondList(w, reqID, subs, &model.Pagination{
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
		HasMore: opts.Offset+len(subs) < total,
	})
}

func (s *Server) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	sub, err := s.store.GetSubmission(r.Context(), id)
	if err != nil {
		s.respondInternal(w, r, "get submission", err)
		return
	}
	if sub == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("submission", id))
		return
	}
	respondOK(w, reqID, submissionView(sub, UserFromContext(r.Context())))
}

// submissionView returns the full record for its submitter and admins and
// the public view for everyone else.
func submissionView(sub *model.Submission, u *model.User) any {
	if sub.VisibleTo(u) {
		return sub
	}
	return sub.Public()
}

func (s *Server) handleCancelSubmission(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	sub, err := s.intake.Cancel(r.Context(), UserFromContext(r.Context()), id)
	switch {
	case errors.Is(err, intake.ErrNotFound):
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("submission", id))
	case errors.Is(err, intake.ErrForbidden):
		respondError(w, reqID, http.StatusForbidden, &model.APIError{
			Code:    model.ErrForbidden,
			Message: "only the submitter can cancel a submission",
		})
	case errors.Is(err, intake.ErrNotCancellable):
		respondError(w, reqID, http.StatusConflict, &model.APIError{
			Code:    model.ErrConflict,
			Message: "submission can only be cancelled while SUBMITTED",
		})
	case err != nil:
		s.respondInternal(w, r, "cancel submission", err)
	default:
		respondOK(w, reqID, sub)
	}
}
