// Package dedup rejects submissions for models that are already ranked or
// already in flight.
package dedup

import (
	"context"
	"fmt"

	"github.com/me/owl/pkg/model"
)

// Kind identifies which record a duplicate collided with.
type Kind string

const (
	KindNone        Kind = ""
	KindLeaderboard Kind = "leaderboard"
	KindSubmission  Kind = "submission"
)

// Duplicate describes a collision. A zero Duplicate means none was found.
type Duplicate struct {
	Kind       Kind
	ConflictID string
	Status     model.SubmissionStatus
}

// Found reports whether a collision was detected.
func (d Duplicate) Found() bool { return d.Kind != KindNone }

// Reason is the caller-facing rejection text.
func (d Duplicate) Reason() string {
	switch d.Kind {
	case KindLeaderboard:
		return "model is already on the leaderboard"
	case KindSubmission:
		return fmt.Sprintf("model already has a %s submission; resubmit once it finishes", d.Status)
	}
	return ""
}

// Source is the subset of the store the deduplicator reads.
type Source interface {
	FindLeaderboardEntry(ctx context.Context, modelID string) (*model.LeaderboardEntry, error)
	FindBlockingSubmission(ctx context.Context, modelID string) (*model.Submission, error)
}

// Deduplicator checks a validated model id against published results and
// live submissions. Both lookups are case-insensitive exact matches.
type Deduplicator struct {
	src Source
}

// New returns a Deduplicator reading from src.
func New(src Source) *Deduplicator {
	return &Deduplicator{src: src}
}

// Check must only be called after the model id has passed validation.
func (d *Deduplicator) Check(ctx context.Context, modelID string) (Duplicate, error) {
	entry, err := d.src.FindLeaderboardEntry(ctx, modelID)
	if err != nil {
		return Duplicate{}, fmt.Errorf("lookup leaderboard: %w", err)
	}
	if entry != nil {
		return Duplicate{Kind: KindLeaderboard, ConflictID: entry.ModelID}, nil
	}

	sub, err := d.src.FindBlockingSubmission(ctx, modelID)
	if err != nil {
		return Duplicate{}, fmt.Errorf("lookup submissions: %w", err)
	}
	if sub != nil {
		return Duplicate{Kind: KindSubmission, ConflictID: sub.ID, Status: sub.Status}, nil
	}
	return Duplicate{}, nil
}
