package store

import (
	"context"
	"errors"
	"time"

	"github.com/me/owl/pkg/model"
)

// ErrStatusConflict is returned by conditional status updates when the
// submission is no longer in the expected status.
var ErrStatusConflict = errors.New("submission status changed concurrently")

// Store defines the persistence layer. Get/Find methods return (nil, nil)
// when nothing matches.
type Store interface {
	// Users
	GetOrCreateUser(ctx context.Context, subject, username string) (*model.User, error)
	GetUser(ctx context.Context, id string) (*model.User, error)

	// Submissions
	CreateSubmission(ctx context.Context, sub *model.Submission) error
	GetSubmission(ctx context.Context, id string) (*model.Submission, error)
	ListSubmissions(ctx context.Context, opts model.ListOptions) ([]*model.Submission, int, error)
	ListActiveSubmissions(ctx context.Context) ([]*model.Submission, error)
	ListRecentCompleted(ctx context.Context, limit int) ([]*model.Submission, error)
	// TransitionSubmission moves id from one status to another only if it
	// is still in from; otherwise it returns ErrStatusConflict.
	TransitionSubmission(ctx context.Context, id string, from, to model.SubmissionStatus, finishedAt *time.Time) error
	// FindBlockingSubmission returns the oldest submission of modelID
	// (case-insensitive) whose status blocks resubmission.
	FindBlockingSubmission(ctx context.Context, modelID string) (*model.Submission, error)
	CountUserSubmissionsSince(ctx context.Context, userID string, since time.Time) (int, time.Time, error)
	CountIPSubmissionsSince(ctx context.Context, ipHash string, since time.Time) (int, error)

	// Leaderboard (written by the evaluation pipeline)
	FindLeaderboardEntry(ctx context.Context, modelID string) (*model.LeaderboardEntry, error)
	ListLeaderboard(ctx context.Context, opts model.ListOptions) ([]*model.LeaderboardEntry, int, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
}

// PipelineStore adds the writes owned by the external evaluation pipeline.
// The server never calls them; they keep both backends compatible with the
// pipeline's schema and let tests seed queue and leaderboard state.
type PipelineStore interface {
	Store
	// UpdateSubmission writes the pipeline-owned fields (status, priority,
	// timestamps, error, run key).
	UpdateSubmission(ctx context.Context, sub *model.Submission) error
	UpsertLeaderboardEntry(ctx context.Context, e *model.LeaderboardEntry) error
}

var (
	_ PipelineStore = (*SQLiteStore)(nil)
	_ PipelineStore = (*PostgresStore)(nil)
)

func statusStrings(statuses []model.SubmissionStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
