package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, discoveryResponse{
		Name:        "owl API",
		Version:     "v1",
		Description: "Open Writing Leaderboard submission intake and queue",
		Endpoints: []endpointInfo{
			{"/api/v1/submissions", []string{"GET", "POST"}, "Submit a model; list your submissions"},
			{"/api/v1/submissions/{id}", []string{"GET"}, "Single submission status"},
			{"/api/v1/submissions/{id}/events", []string{"GET"}, "Server-sent status updates until the submission finishes"},
			{"/api/v1/submissions/{id}/cancel", []string{"PUT"}, "Cancel a submission that has not been queued yet"},
			{"/api/v1/queue", []string{"GET"}, "Active submissions in display order plus recent results"},
			{"/api/v1/leaderboard", []string{"GET"}, "Published rankings"},
			{"/api/v1/schema", []string{"GET"}, "Engine parameters a submission may set"},
			{"/api/v1/ratelimit", []string{"GET"}, "Your current submission allowance"},
			{"/api/v1/me", []string{"GET"}, "The authenticated user"},
			{"/api/v1/health", []string{"GET"}, "Server health and version"},
		},
	})
}
