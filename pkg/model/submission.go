package model

import "time"

// Priority score sentinels. Positive scores are queue ranks assigned by the
// external scheduler (lower runs sooner).
const (
	PriorityUnassigned = 0
	PriorityHeld       = -1
)

// Submission is a request to benchmark one model.
type Submission struct {
	ID            string           `json:"id"`
	UserID        string           `json:"user_id"`
	Status        SubmissionStatus `json:"status"`
	ModelType     ModelType        `json:"model_type"`
	ModelID       string           `json:"model_id"`
	DisplayName   string           `json:"display_name"`
	Params        EngineConfig     `json:"params"`
	EngineConfig  EngineConfig     `json:"-"` // Params merged with server-mandated entries
	IPHash        string           `json:"-"`
	PriorityScore int              `json:"priority_score"`
	ErrorMsg      string           `json:"error_msg,omitempty"`
	RunKey        string           `json:"run_key,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	StartedAt     *time.Time       `json:"started_at"`
	FinishedAt    *time.Time       `json:"finished_at"`
}

// PublicSubmission is the view of a submission shown to anyone other than
// its submitter or an admin.
type PublicSubmission struct {
	ID            string           `json:"id"`
	Status        SubmissionStatus `json:"status"`
	ModelType     ModelType        `json:"model_type"`
	ModelID       string           `json:"model_id"`
	DisplayName   string           `json:"display_name"`
	PriorityScore int              `json:"priority_score"`
	CreatedAt     time.Time        `json:"created_at"`
	StartedAt     *time.Time       `json:"started_at"`
	FinishedAt    *time.Time       `json:"finished_at"`
}

// Public drops the submitter, engine parameters and pipeline details.
func (s *Submission) Public() *PublicSubmission {
	return &PublicSubmission{
		ID:            s.ID,
		Status:        s.Status,
		ModelType:     s.ModelType,
		ModelID:       s.ModelID,
		DisplayName:   s.DisplayName,
		PriorityScore: s.PriorityScore,
		CreatedAt:     s.CreatedAt,
		StartedAt:     s.StartedAt,
		FinishedAt:    s.FinishedAt,
	}
}

// VisibleTo reports whether u may see the full record.
func (s *Submission) VisibleTo(u *User) bool {
	return u != nil && (u.ID == s.UserID || u.IsAdmin())
}

// LeaderboardEntry is a published result row. It is written by the
// evaluation pipeline and only read here.
type LeaderboardEntry struct {
	ModelID     string    `json:"model_id"`
	DisplayName string    `json:"display_name"`
	ELO         float64   `json:"elo"`
	Rank        int       `json:"rank"`
	SampleCount int       `json:"sample_count"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RateLimitResult is the outcome of a submission rate check.
type RateLimitResult struct {
	Allowed         bool       `json:"allowed"`
	Reason          string     `json:"reason,omitempty"`
	UserSubmissions *int       `json:"userSubmissions,omitempty"`
	IPSubmissions   *int       `json:"ipSubmissions,omitempty"`
	ResetAt         *time.Time `json:"resetAt,omitempty"`
}
