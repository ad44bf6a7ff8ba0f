package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/me/owl/internal/intake"
	"github.com/me/owl/pkg/model"
)

// requestID generates a unique request identifier.
func requestID() string {
	return "req_" + uuid.New().String()[:8]
}

// respondOK writes a success response with the standard envelope.
func respondOK(w http.ResponseWriter, reqID string, data any) {
	respondJSON(w, http.StatusOK, reqID, data, nil, nil)
}

// respondCreated writes a 201 response with the standard envelope.
func respondCreated(w http.ResponseWriter, reqID string, data any) {
	respondJSON(w, http.StatusCreated, reqID, data, nil, nil)
}

// respondList writes a success response with pagination.
func respondList(w http.ResponseWriter, reqID string, data any, pg *model.Pagination) {
	respondJSON(w, http.StatusOK, reqID, data, pg, nil)
}

// respondError writes an error response with the standard envelope.
func respondError(w http.ResponseWriter, reqID string, status int, apiErr *model.APIError) {
	respondJSON(w, status, reqID, nil, nil, apiErr)
}

// respondInternal logs err and writes a generic 500.
func (s *Server) respondInternal(w http.ResponseWriter, r *http.Request, msg string, err error) {
	reqID := RequestIDFromContext(r.Context())
	s.logger.Error(msg, "error", err, "request_id", reqID, "path", r.URL.Path)
	respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError())
}

// respondRejection maps an intake rejection onto a status code and error.
func respondRejection(w http.ResponseWriter, reqID string, rej *intake.Rejection) {
	apiErr := &model.APIError{Message: rej.Reason, Reason: string(rej.Kind)}
	var status int
	switch rej.Kind {
	case intake.KindUnauthenticated:
		status, apiErr.Code = http.StatusUnauthorized, model.ErrUnauthorized
	case intake.KindRateLimited:
		status, apiErr.Code = http.StatusTooManyRequests, model.ErrRateLimited
		apiErr.ResetAt = rej.ResetAt
		if rej.ResetAt != nil {
			secs := int(time.Until(*rej.ResetAt).Seconds()) + 1
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
	case intake.KindDuplicateLeaderboard, intake.KindDuplicateSubmission:
		status, apiErr.Code = http.StatusConflict, model.ErrConflict
		apiErr.ConflictID = rej.ConflictID
	case intake.KindUnverifiable:
		status, apiErr.Code = http.StatusServiceUnavailable, model.ErrUnavailable
	default:
		status, apiErr.Code = http.StatusBadRequest, model.ErrValidation
	}
	respondError(w, reqID, status, apiErr)
}

func respondJSON(w http.ResponseWriter, status int, reqID string, data any, pg *model.Pagination, apiErr *model.APIError) {
	resp := model.Response{
		RequestID:  reqID,
		Timestamp:  time.Now().UTC(),
		Data:       data,
		Pagination: pg,
		Error:      apiErr,
	}
	if apiErr != nil {
		resp.Status = "error"
	} else {
		resp.Status = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
