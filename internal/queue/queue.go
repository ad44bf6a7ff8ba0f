// Package queue orders active submissions for display.
package queue

import (
	"sort"
	"time"

	"github.com/me/owl/internal/registry"
	"github.com/me/owl/pkg/model"
)

// priority classes, in display order.
const (
	classRanked = iota
	classUnassigned
	classHeld
)

func class(score int) int {
	switch {
	case score > 0:
		return classRanked
	case score == model.PriorityUnassigned:
		return classUnassigned
	default:
		return classHeld
	}
}

func startTime(s *model.Submission) time.Time {
	if s.StartedAt != nil {
		return *s.StartedAt
	}
	return s.CreatedAt
}

// Less reports whether a is shown before b. Running and starting
// submissions come first by start time; the rest are ranked by priority
// class (positive scores ascending, then unassigned, then held) and then by
// creation time. IDs break exact timestamp ties.
func Less(a, b *model.Submission) bool {
	ar, br := a.Status.IsRunning(), b.Status.IsRunning()
	if ar != br {
		return ar
	}
	if ar {
		at, bt := startTime(a), startTime(b)
		if !at.Equal(bt) {
			return at.Before(bt)
		}
		return a.ID < b.ID
	}

	ac, bc := class(a.PriorityScore), class(b.PriorityScore)
	if ac != bc {
		return ac < bc
	}
	if ac == classRanked && a.PriorityScore != b.PriorityScore {
		return a.PriorityScore < b.PriorityScore
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Sort orders subs in place.
func Sort(subs []*model.Submission) {
	sort.SliceStable(subs, func(i, j int) bool { return Less(subs[i], subs[j]) })
}

// Build returns the queue view for a snapshot of active submissions and
// recently finished ones. active is sorted in place. Queued items with a
// positive priority get a 1-based position among themselves.
func Build(active, recent []*model.Submission) model.QueueView {
	Sort(active)

	view := model.QueueView{
		Active: make([]model.QueueItem, 0, len(active)),
		Recent: make([]model.QueueItem, 0, len(recent)),
	}
	pos := 0
	for _, s := range active {
		item := toItem(s)
		if s.Status == model.StatusQueued && s.PriorityScore > 0 {
			pos++
			p := pos
			item.Position = &p
		}
		view.Active = append(view.Active, item)
	}
	for _, s := range recent {
		view.Recent = append(view.Recent, toItem(s))
	}
	return view
}

func toItem(s *model.Submission) model.QueueItem {
	name := s.DisplayName
	if name == "" {
		name = registry.DisplayName(s.ModelType, s.ModelID)
	}
	return model.QueueItem{
		ID:            s.ID,
		Status:        s.Status,
		DisplayName:   name,
		PriorityScore: s.PriorityScore,
		CreatedAt:     s.CreatedAt,
		StartedAt:     s.StartedAt,
		FinishedAt:    s.FinishedAt,
	}
}
