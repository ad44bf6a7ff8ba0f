// Package intake runs the submission pipeline: identity, rate limit,
// captcha, parameter sanitizing, model validation, deduplication and
// persistence, in that order. Policy and validation failures come back as a
// Rejection value; only storage faults are returned as errors.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/me/owl/internal/captcha"
	"github.com/me/owl/internal/dedup"
	"github.com/me/owl/internal/ipkey"
	"github.com/me/owl/internal/params"
	"github.com/me/owl/internal/ratelimit"
	"github.com/me/owl/internal/registry"
	"github.com/me/owl/internal/store"
	"github.com/me/owl/pkg/model"
)

// RejectionKind classifies why a submission was refused.
type RejectionKind string

const (
	KindUnauthenticated      RejectionKind = "unauthenticated"
	KindRateLimited          RejectionKind = "rate_limited"
	KindCaptcha              RejectionKind = "captcha"
	KindInvalid              RejectionKind = "invalid"
	KindUnverifiable         RejectionKind = "unverifiable"
	KindDuplicateLeaderboard RejectionKind = "duplicate_leaderboard"
	KindDuplicateSubmission  RejectionKind = "duplicate_submission"
)

// Rejection is a structured refusal. ResetAt is set only for user-ceiling
// rate limits, ConflictID only for duplicates.
type Rejection struct {
	Kind       RejectionKind
	Reason     string
	ResetAt    *time.Time
	ConflictID string
	RateLimit  *model.RateLimitResult
}

// Result holds exactly one of Submission or Rejection.
type Result struct {
	Submission *model.Submission
	Rejection  *Rejection
}

// Request is one intake attempt.
type Request struct {
	User         *model.User
	ClientIP     string
	ModelType    model.ModelType
	ModelRef     string
	Params       model.ConfigPayload
	CaptchaToken string
}

// ModelValidator checks model references.
type ModelValidator interface {
	Validate(ctx context.Context, modelType model.ModelType, ref string) registry.Verdict
}

// Recorder observes pipeline outcomes.
type Recorder interface {
	Accepted()
	Rejected(kind string)
}

type nopRecorder struct{}

func (nopRecorder) Accepted()       {}
func (nopRecorder) Rejected(string) {}

// Deps are the collaborators of a Service. Recorder and Now are optional.
type Deps struct {
	Store     store.Store
	Hasher    *ipkey.Hasher
	Limiter   *ratelimit.Limiter
	Captcha   captcha.Verifier
	Schema    *params.Schema
	Validator ModelValidator
	Recorder  Recorder
	Now       func() time.Time
}

// Service is the submission intake pipeline.
type Service struct {
	store     store.Store
	hasher    *ipkey.Hasher
	limiter   *ratelimit.Limiter
	captcha   captcha.Verifier
	schema    *params.Schema
	validator ModelValidator
	dedup     *dedup.Deduplicator
	recorder  Recorder
	now       func() time.Time
	logger    *slog.Logger
}

// New builds a Service from deps.
func New(deps Deps, logger *slog.Logger) *Service {
	s := &Service{
		store:     deps.Store,
		hasher:    deps.Hasher,
		limiter:   deps.Limiter,
		captcha:   deps.Captcha,
		schema:    deps.Schema,
		validator: deps.Validator,
		dedup:     dedup.New(deps.Store),
		recorder:  deps.Recorder,
		now:       deps.Now,
		logger:    logger.With("component", "intake"),
	}
	if s.recorder == nil {
		s.recorder = nopRecorder{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.captcha == nil {
		s.captcha = captcha.Disabled{}
	}
	return s
}

// Schema returns the parameter schema used for sanitizing.
func (s *Service) Schema() *params.Schema { return s.schema }

func (s *Service) reject(rej *Rejection) *Result {
	s.recorder.Rejected(string(rej.Kind))
	return &Result{Rejection: rej}
}

// Submit runs the pipeline for req. No row is written unless every check
// passes.
func (s *Service) Submit(ctx context.Context, req Request) (*Result, error) {
	if req.User == nil || req.User.ID == "" {
		return s.reject(&Rejection{Kind: KindUnauthenticated, Reason: "sign in to submit a model"}), nil
	}

	ipHash, err := s.hasher.Hash(req.ClientIP)
	if err != nil {
		s.logger.Warn("unusable client address", "user_id", req.User.ID, "error", err)
		return s.reject(&Rejection{Kind: KindInvalid, Reason: "could not determine client address"}), nil
	}

	rl, err := s.limiter.Check(ctx, req.User.ID, ipHash)
	if err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	if !rl.Allowed {
		s.logger.Info("submission rate limited", "user_id", req.User.ID, "reason", rl.Reason)
		return s.reject(&Rejection{Kind: KindRateLimited, Reason: rl.Reason, ResetAt: rl.ResetAt, RateLimit: &rl}), nil
	}

	ok, err := s.captcha.Verify(ctx, req.CaptchaToken, req.ClientIP)
	if err != nil {
		s.logger.Warn("captcha verification unavailable", "error", err)
		return s.reject(&Rejection{Kind: KindUnverifiable, Reason: "could not verify captcha, try again later"}), nil
	}
	if !ok {
		return s.reject(&Rejection{Kind: KindCaptcha, Reason: "captcha verification failed"}), nil
	}

	userParams := params.Sanitize(s.schema, req.Params)
	engineConfig := params.MergeRequired(s.schema, userParams)

	verdict := s.validator.Validate(ctx, req.ModelType, req.ModelRef)
	switch {
	case verdict.Outcome == registry.OutcomeUnverifiable:
		return s.reject(&Rejection{Kind: KindUnverifiable, Reason: verdict.Reason}), nil
	case !verdict.OK():
		return s.reject(&Rejection{Kind: KindInvalid, Reason: verdict.Reason}), nil
	}

	dup, err := s.dedup.Check(ctx, verdict.ModelID)
	if err != nil {
		return nil, err
	}
	switch dup.Kind {
	case dedup.KindLeaderboard:
		return s.reject(&Rejection{Kind: KindDuplicateLeaderboard, Reason: dup.Reason(), ConflictID: dup.ConflictID}), nil
	case dedup.KindSubmission:
		return s.reject(&Rejection{Kind: KindDuplicateSubmission, Reason: dup.Reason(), ConflictID: dup.ConflictID}), nil
	}

	sub := &model.Submission{
		ID:            "sub_" + uuid.New().String(),
		UserID:        req.User.ID,
		Status:        model.StatusSubmitted,
		ModelType:     req.ModelType,
		ModelID:       verdict.ModelID,
		DisplayName:   registry.DisplayName(req.ModelType, verdict.ModelID),
		Params:        userParams,
		EngineConfig:  engineConfig,
		IPHash:        ipHash,
		PriorityScore: model.PriorityUnassigned,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.store.CreateSubmission(ctx, sub); err != nil {
		return nil, fmt.Errorf("create submission: %w", err)
	}

	s.recorder.Accepted()
	s.logger.Info("submission accepted", "id", sub.ID, "user_id", sub.UserID, "model", sub.ModelID)
	return &Result{Submission: sub}, nil
}

var (
	// ErrNotFound is returned when the submission does not exist.
	ErrNotFound = errors.New("submission not found")
	// ErrForbidden is returned when the caller does not own the submission.
	ErrForbidden = errors.New("submission belongs to another user")
	// ErrNotCancellable is returned once the pipeline has picked the
	// submission up.
	ErrNotCancellable = errors.New("submission can no longer be cancelled")
)

// Cancel moves a SUBMITTED submission owned by user to CANCELLED.
func (s *Service) Cancel(ctx context.Context, user *model.User, id string) (*model.Submission, error) {
	sub, err := s.store.GetSubmission(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get submission: %w", err)
	}
	if sub == nil {
		return nil, ErrNotFound
	}
	if user == nil || sub.UserID != user.ID {
		return nil, ErrForbidden
	}
	if !sub.Status.CanTransitionTo(model.StatusCancelled) {
		return nil, fmt.Errorf("%w: %w", ErrNotCancellable,
			&model.InvalidTransitionError{ID: id, From: sub.Status, To: model.StatusCancelled})
	}

	finished := s.now().UTC()
	err = s.store.TransitionSubmission(ctx, id, sub.Status, model.StatusCancelled, &finished)
	if errors.Is(err, store.ErrStatusConflict) {
		return nil, ErrNotCancellable
	}
	if err != nil {
		return nil, fmt.Errorf("cancel submission: %w", err)
	}

	sub.Status = model.StatusCancelled
	sub.FinishedAt = &finished
	s.logger.Info("submission cancelled", "id", id, "user_id", user.ID)
	return sub, nil
}

// RateStatus reports the caller's current standing without submitting.
func (s *Service) RateStatus(ctx context.Context, user *model.User, clientIP string) (model.RateLimitResult, error) {
	if user == nil {
		return model.RateLimitResult{}, errors.New("rate status: no user")
	}
	ipHash, err := s.hasher.Hash(clientIP)
	if err != nil {
		return model.RateLimitResult{}, fmt.Errorf("rate status: %w", err)
	}
	return s.limiter.Check(ctx, user.ID, ipHash)
}
