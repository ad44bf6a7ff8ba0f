package server

import (
	"net/http"
	"strconv"

	"github.com/me/owl/internal/queue"
	"github.com/me/owl/pkg/model"
)

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	active, err := s.store.ListActiveSubmissions(r.Context())
	if err != nil {
		s.respondInternal(w, r, "list active submissions", err)
		return
	}
	recent, err := s.store.ListRecentCompleted(r.Context(), s.config.RecentLimit)
	if err != nil {
		s.respondInternal(w, r, "list recent submissions", err)
		return
	}

	if s.metrics != nil {
		depth := make(map[string]int)
		for _, sub := range active {
			depth[string(sub.Status)]++
		}
		s.metrics.SetQueueDepth(depth)
	}

	respondOK(w, reqID, queue.Build(active, recent))
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

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
	opts.Clamp()

	entries, total, err := s.store.ListLeaderboard(r.Context(), opts)
	if err != nil {
		s.respondInternal(w, r, "list leaderboard", err)
		return
	}
	if entries == nil {
		entries = []*model.LeaderboardEntry{}
	}
	respondList(w, reqID, entries, &model.Pagination{
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
		HasMore: opts.Offset+len(entries) < total,
	})
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	respondOK(w, RequestIDFromContext(r.Context()), s.intake.Schema().Public())
}

func (s *Server) handleRateLimit(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	res, err := s.intake.RateStatus(r.Context(), UserFromContext(r.Context()), clientIP(r))
	if err != nil {
		s.respondInternal(w, r, "rate status", err)
		return
	}
	respondOK(w, reqID, res)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	respondOK(w, RequestIDFromContext(r.Context()), UserFromContext(r.Context()))
}
