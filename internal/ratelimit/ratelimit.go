// Package ratelimit enforces per-user and per-IP submission ceilings over a
// trailing window.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/me/owl/pkg/model"
)

// Rejection reasons reported in RateLimitResult.Reason.
const (
	ReasonUserCeiling = "user ceiling reached"
	ReasonIPCeiling   = "IP ceiling reached"
)

// Counter reports persisted submission counts. The store implements it.
type Counter interface {
	// CountUserSubmissionsSince counts the user's submissions created at or
	// after since and returns the creation time of the oldest one counted.
	CountUserSubmissionsSince(ctx context.Context, userID string, since time.Time) (int, time.Time, error)
	// CountIPSubmissionsSince counts submissions with the given IP hash
	// created at or after since.
	CountIPSubmissionsSince(ctx context.Context, ipHash string, since time.Time) (int, error)
}

// Ceilings are the fixed limits applied per trailing window.
type Ceilings struct {
	User   int
	IP     int
	Window time.Duration
}

// DefaultCeilings returns the limits published in the submission guidelines.
func DefaultCeilings() Ceilings {
	return Ceilings{User: 3, IP: 150, Window: 24 * time.Hour}
}

// Limiter decides whether a new submission is allowed. It never writes;
// the caller persists the submission once every intake check has passed.
type Limiter struct {
	counter  Counter
	ceilings Ceilings
	now      func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New returns a Limiter over counter.
func New(counter Counter, ceilings Ceilings, opts ...Option) *Limiter {
	l := &Limiter{
		counter:  counter,
		ceilings: ceilings,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Ceilings returns the configured limits.
func (l *Limiter) Ceilings() Ceilings {
	return l.ceilings
}

// Check evaluates the user ceiling first, then the IP ceiling. A "not
// allowed" outcome is reported in the result; the error is reserved for
// invalid input and counter failures.
func (l *Limiter) Check(ctx context.Context, userID, ipHash string) (model.RateLimitResult, error) {
	if userID == "" {
		return model.RateLimitResult{}, errors.New("rate limit: empty user id")
	}
	if ipHash == "" {
		return model.RateLimitResult{}, errors.New("rate limit: empty ip hash")
	}

	since := l.now().Add(-l.ceilings.Window)

	userCount, oldest, err := l.counter.CountUserSubmissionsSince(ctx, userID, since)
	if err != nil {
		return model.RateLimitResult{}, fmt.Errorf("count user submissions: %w", err)
	}
	if userCount >= l.ceilings.User {
		reset := oldest.Add(l.ceilings.Window)
		return model.RateLimitResult{
			Allowed:         false,
			Reason:          ReasonUserCeiling,
			UserSubmissions: &userCount,
			ResetAt:         &reset,
		}, nil
	}

	ipCount, err := l.counter.CountIPSubmissionsSince(ctx, ipHash, since)
	if err != nil {
		return model.RateLimitResult{}, fmt.Errorf("count ip submissions: %w", err)
	}
	if ipCount >= l.ceilings.IP {
		// No reset time on this path: IP rejections stay less informative.
		return model.RateLimitResult{
			Allowed:       false,
			Reason:        ReasonIPCeiling,
			IPSubmissions: &ipCount,
		}, nil
	}

	return model.RateLimitResult{
		Allowed:         true,
		UserSubmissions: &userCount,
		IPSubmissions:   &ipCount,
	}, nil
}
