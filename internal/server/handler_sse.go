package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/me/owl/pkg/model"
)

// handleSubmissionEvents streams status changes via Server-Sent Events
// until the submission reaches a terminal status or the client leaves.
// GET /api/v1/submissions/{id}/events
func (s *Server) handleSubmissionEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	reqID := RequestIDFromContext(r.Context())
	user := UserFromContext(r.Context())

	sub, err := s.store.GetSubmission(r.Context(), id)
	if err != nil {
		s.respondInternal(w, r, "get submission", err)
		return
	}
	if sub == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("submission", id))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	if err := sendSSEEvent(w, flusher, "init", submissionView(sub, user)); err != nil {
		return
	}
	if sub.Status.IsTerminal() {
		sendSSEEvent(w, flusher, "complete", submissionView(sub, user))
		return
	}

	ticker := time.NewTicker(s.sseInterval)
	defer ticker.Stop()

	last := sub.Status
	lastPriority := sub.PriorityScore
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			sub, err = s.store.GetSubmission(r.Context(), id)
			if err != nil {
				s.logger.Error("sse fetch error", "id", id, "error", err)
				continue
			}
			if sub == nil {
				return
			}

			if sub.Status != last || sub.PriorityScore != lastPriority {
				if err := sendSSEEvent(w, flusher, "update", submissionView(sub, user)); err != nil {
					s.logger.Debug("sse client disconnected", "id", id)
					return
				}
				last, lastPriority = sub.Status, sub.PriorityScore
			} else {
				fmt.Fprintf(w, ": heartbeat\n\n")
				flusher.Flush()
			}

			if sub.Status.IsTerminal() {
				sendSSEEvent(w, flusher, "complete", submissionView(sub, user))
				return
			}
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
