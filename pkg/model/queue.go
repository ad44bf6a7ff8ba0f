package model

import "time"

// QueueItem is one row of the public queue view.
type QueueItem struct {
	ID            string           `json:"id"`
	Status        SubmissionStatus `json:"status"`
	DisplayName   string           `json:"display_name"`
	PriorityScore int              `json:"priority_score"`
	Position      *int             `json:"position,omitempty"` // Set for queued items with an assigned rank
	CreatedAt     time.Time        `json:"created_at"`
	StartedAt     *time.Time       `json:"started_at,omitempty"`
	FinishedAt    *time.Time       `json:"finished_at,omitempty"`
}

// QueueView is the response of the queue endpoint.
type QueueView struct {
	Active []QueueItem `json:"active"`
	Recent []QueueItem `json:"recent"`
}
