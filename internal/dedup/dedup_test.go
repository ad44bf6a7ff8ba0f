package dedup

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/me/owl/internal/store"
	"github.com/me/owl/pkg/model"
)

func testStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
	st, err := store.NewSQLiteStore(":memory:", logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func addSubmission(t *testing.T, st *store.SQLiteStore, id, modelID string, status model.SubmissionStatus) {
	t.Helper()
	err := st.CreateSubmission(context.Background(), &model.Submission{
		ID: id, UserID: "usr_1", Status: status, ModelType: model.ModelTypeHosted,
		ModelID: modelID, IPHash: "h", CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
}

func TestCheckLeaderboardCaseInsensitive(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	if err := st.UpsertLeaderboardEntry(ctx, &model.LeaderboardEntry{ModelID: "Org/Model-A", UpdatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}

	dup, err := New(st).Check(ctx, "org/model-a")
	if err != nil {
		t.Fatal(err)
	}
	if dup.Kind != KindLeaderboard {
		t.Fatalf("kind = %q, want leaderboard", dup.Kind)
	}
	if dup.ConflictID != "Org/Model-A" {
		t.Errorf("conflict = %q", dup.ConflictID)
	}
	if dup.Reason() == "" {
		t.Error("expected a reason")
	}
}

func TestCheckSubmissionStatuses(t *testing.T) {
	tests := []struct {
		status  model.SubmissionStatus
		blocked bool
	}{
		{model.StatusSubmitted, true},
		{model.StatusQueued, true},
		{model.StatusStarting, true},
		{model.StatusRunning, true},
		{model.StatusSucceeded, true},
		{model.StatusTimeout, true},
		{model.StatusFailed, false},
		{model.StatusCancelled, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			st := testStore(t)
			addSubmission(t, st, "sub_1", "org/model-b", tt.status)

			dup, err := New(st).Check(context.Background(), "ORG/Model-B")
			if err != nil {
				t.Fatal(err)
			}
			if dup.Found() != tt.blocked {
				t.Fatalf("found = %v, want %v", dup.Found(), tt.blocked)
			}
			if tt.blocked && (dup.Kind != KindSubmission || dup.ConflictID != "sub_1") {
				t.Errorf("unexpected duplicate %+v", dup)
			}
		})
	}
}

func TestCheckLeaderboardWinsOverSubmission(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	addSubmission(t, st, "sub_1", "org/model-c", model.StatusRunning)
	if err := st.UpsertLeaderboardEntry(ctx, &model.LeaderboardEntry{ModelID: "org/model-c", UpdatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}

	dup, err := New(st).Check(ctx, "org/model-c")
	if err != nil {
		t.Fatal(err)
	}
	if dup.Kind != KindLeaderboard {
		t.Errorf("kind = %q, want leaderboard", dup.Kind)
	}
}

func TestCheckNoMatch(t *testing.T) {
	st := testStore(t)
	addSubmission(t, st, "sub_1", "org/model-d-v2", model.StatusRunning)

	dup, err := New(st).Check(context.Background(), "org/model-d")
	if err != nil {
		t.Fatal(err)
	}
	if dup.Found() {
		t.Errorf("prefix match must not collide: %+v", dup)
	}
}
