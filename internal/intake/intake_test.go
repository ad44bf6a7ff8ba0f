package intake

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/me/owl/internal/captcha"
	"github.com/me/owl/internal/ipkey"
	"github.com/me/owl/internal/params"
	"github.com/me/owl/internal/ratelimit"
	"github.com/me/owl/internal/registry"
	"github.com/me/owl/internal/store"
	"github.com/me/owl/pkg/model"
)

type fakeValidator struct {
	mu      sync.Mutex
	calls   int
	verdict func(ref string) registry.Verdict
}

func (v *fakeValidator) Validate(_ context.Context, _ model.ModelType, ref string) registry.Verdict {
	v.mu.Lock()
	v.calls++
	v.mu.Unlock()
	if v.verdict != nil {
		return v.verdict(ref)
	}
	return registry.Verdict{Outcome: registry.OutcomeOK, ModelID: strings.TrimSpace(ref)}
}

type fakeCaptcha struct {
	ok  bool
	err error
}

func (c fakeCaptcha) Verify(context.Context, string, string) (bool, error) { return c.ok, c.err }

type countingRecorder struct {
	accepted int
	rejected map[string]int
}

func (r *countingRecorder) Accepted() { r.accepted++ }
func (r *countingRecorder) Rejected(kind string) {
	if r.rejected == nil {
		r.rejected = map[string]int{}
	}
	r.rejected[kind]++
}

type fixture struct {
	svc       *Service
	store     *store.SQLiteStore
	validator *fakeValidator
	recorder  *countingRecorder
	now       time.Time
	user      *model.User
}

func newFixture(t *testing.T, verifier captcha.Verifier) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
	st, err := store.NewSQLiteStore(":memory:", logger)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	hasher, err := ipkey.NewHasher("test-secret")
	require.NoError(t, err)

	user, err := st.GetOrCreateUser(context.Background(), "sub-alice", "alice")
	require.NoError(t, err)

	f := &fixture{
		store:     st,
		validator: &fakeValidator{},
		recorder:  &countingRecorder{},
		now:       time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		user:      user,
	}
	clock := func() time.Time { return f.now }
	f.svc = New(Deps{
		Store:     st,
		Hasher:    hasher,
		Limiter:   ratelimit.New(st, ratelimit.DefaultCeilings(), ratelimit.WithClock(clock)),
		Captcha:   verifier,
		Schema:    params.DefaultSchema(),
		Validator: f.validator,
		Recorder:  f.recorder,
		Now:       clock,
	}, logger)
	return f
}

func (f *fixture) request(modelID string) Request {
	return Request{
		User:         f.user,
		ClientIP:     "198.51.100.20:5555",
		ModelType:    model.ModelTypeHosted,
		ModelRef:     modelID,
		CaptchaToken: "tok",
	}
}

func (f *fixture) count(t *testing.T) int {
	t.Helper()
	_, total, err := f.store.ListSubmissions(context.Background(), model.ListOptions{})
	require.NoError(t, err)
	return total
}

func TestSubmitAcceptsAndClamps(t *testing.T) {
	f := newFixture(t, captcha.Disabled{})
	req := f.request("org/model-a")
	req.Params = model.ConfigPayload{
		Args: map[string]any{"gpu_memory_utilization": 1.5, "port": 9999, "rm_rf": "/"},
		Env:  map[string]any{"HF_HUB_OFFLINE": "1"},
	}

	res, err := f.svc.Submit(context.Background(), req)
	require.NoError(t, err)
	require.Nil(t, res.Rejection)
	require.NotNil(t, res.Submission)

	sub := res.Submission
	assert.True(t, strings.HasPrefix(sub.ID, "sub_"))
	assert.Equal(t, model.StatusSubmitted, sub.Status)
	assert.Equal(t, model.PriorityUnassigned, sub.PriorityScore)

	gpu, ok := sub.Params.Arg("gpu_memory_utilization")
	require.True(t, ok)
	assert.Equal(t, 0.98, gpu.Value)
	_, ok = sub.Params.Arg("rm_rf")
	assert.False(t, ok)

	port, ok := sub.EngineConfig.Arg("port")
	require.True(t, ok)
	assert.Equal(t, "8000", port.Value)
	assert.Equal(t, "0", sub.EngineConfig.Env["HF_HUB_OFFLINE"])

	stored, err := f.store.GetSubmission(context.Background(), sub.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, f.user.ID, stored.UserID)
	assert.NotEmpty(t, stored.IPHash)
	assert.NotContains(t, stored.IPHash, "198.51.100.20")
	assert.Equal(t, 1, f.recorder.accepted)
}

func TestSubmitUnauthenticated(t *testing.T) {
	f := newFixture(t, captcha.Disabled{})
	req := f.request("org/model-a")
	req.User = nil

	res, err := f.svc.Submit(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, res.Rejection)
	assert.Equal(t, KindUnauthenticated, res.Rejection.Kind)
	assert.Equal(t, 0, f.validator.calls)
}

func TestSubmitRateLimitedBeforeValidation(t *testing.T) {
	f := newFixture(t, captcha.Disabled{})
	ctx := context.Background()

	first := f.now
	for i, id := range []string{"org/a", "org/b", "org/c"} {
		f.now = first.Add(time.Duration(i) * time.Minute)
		res, err := f.svc.Submit(ctx, f.request(id))
		require.NoError(t, err)
		require.Nil(t, res.Rejection, "submission %d", i)
	}
	calls := f.validator.calls

	f.now = first.Add(time.Hour)
	res, err := f.svc.Submit(ctx, f.request("org/d"))
	require.NoError(t, err)
	require.NotNil(t, res.Rejection)
	assert.Equal(t, KindRateLimited, res.Rejection.Kind)
	require.NotNil(t, res.Rejection.ResetAt)
	assert.True(t, res.Rejection.ResetAt.Equal(first.Add(24*time.Hour)))
	require.NotNil(t, res.Rejection.RateLimit)
	assert.Equal(t, 3, *res.Rejection.RateLimit.UserSubmissions)

	assert.Equal(t, calls, f.validator.calls, "validator must not run after a rate limit")
	assert.Equal(t, 3, f.count(t))
	assert.Equal(t, 1, f.recorder.rejected["rate_limited"])

	f.now = first.Add(24*time.Hour + time.Second)
	res, err = f.svc.Submit(ctx, f.request("org/d"))
	require.NoError(t, err)
	assert.Nil(t, res.Rejection, "oldest submission left the window")
}

func TestSubmitCaptcha(t *testing.T) {
	t.Run("rejected", func(t *testing.T) {
		f := newFixture(t, fakeCaptcha{ok: false})
		res, err := f.svc.Submit(context.Background(), f.request("org/model-a"))
		require.NoError(t, err)
		require.NotNil(t, res.Rejection)
		assert.Equal(t, KindCaptcha, res.Rejection.Kind)
		assert.Equal(t, 0, f.validator.calls)
	})

	t.Run("unavailable", func(t *testing.T) {
		f := newFixture(t, fakeCaptcha{err: captcha.ErrUnavailable})
		res, err := f.svc.Submit(context.Background(), f.request("org/model-a"))
		require.NoError(t, err)
		require.NotNil(t, res.Rejection)
		assert.Equal(t, KindUnverifiable, res.Rejection.Kind)
		assert.NotContains(t, res.Rejection.Reason, "unavailable")
		assert.Equal(t, 0, f.count(t))
	})
}

func TestSubmitValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		verdict registry.Verdict
		kind    RejectionKind
	}{
		{"not found", registry.Verdict{Outcome: registry.OutcomeNotFound, Reason: "model not found"}, KindInvalid},
		{"gated", registry.Verdict{Outcome: registry.OutcomeGated, Reason: "gated"}, KindInvalid},
		{"malformed", registry.Verdict{Outcome: registry.OutcomeInvalid, Reason: "bad id"}, KindInvalid},
		{"transport", registry.Verdict{Outcome: registry.OutcomeUnverifiable, Reason: registry.ReasonUnverifiable}, KindUnverifiable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, captcha.Disabled{})
			f.validator.verdict = func(string) registry.Verdict { return tt.verdict }

			res, err := f.svc.Submit(context.Background(), f.request("org/model-a"))
			require.NoError(t, err)
			require.NotNil(t, res.Rejection)
			assert.Equal(t, tt.kind, res.Rejection.Kind)
			assert.Equal(t, tt.verdict.Reason, res.Rejection.Reason)
			assert.Equal(t, 0, f.count(t))
		})
	}
}

func TestSubmitDuplicateLeaderboard(t *testing.T) {
	f := newFixture(t, captcha.Disabled{})
	ctx := context.Background()
	require.NoError(t, f.store.UpsertLeaderboardEntry(ctx, &model.LeaderboardEntry{
		ModelID: "Org/Model-A", ELO: 1500, Rank: 1, UpdatedAt: f.now,
	}))

	res, err := f.svc.Submit(ctx, f.request("org/model-a"))
	require.NoError(t, err)
	require.NotNil(t, res.Rejection)
	assert.Equal(t, KindDuplicateLeaderboard, res.Rejection.Kind)
	assert.Equal(t, 0, f.count(t))
}

func TestSubmitDuplicateSubmission(t *testing.T) {
	f := newFixture(t, captcha.Disabled{})
	ctx := context.Background()

	first, err := f.svc.Submit(ctx, f.request("org/model-a"))
	require.NoError(t, err)
	require.NotNil(t, first.Submission)

	res, err := f.svc.Submit(ctx, f.request("ORG/MODEL-A"))
	require.NoError(t, err)
	require.NotNil(t, res.Rejection)
	assert.Equal(t, KindDuplicateSubmission, res.Rejection.Kind)
	assert.Equal(t, first.Submission.ID, res.Rejection.ConflictID)

	_, err = f.svc.Cancel(ctx, f.user, first.Submission.ID)
	require.NoError(t, err)

	res, err = f.svc.Submit(ctx, f.request("org/model-a"))
	require.NoError(t, err)
	assert.Nil(t, res.Rejection, "cancelled submissions do not block")
}

func TestCancel(t *testing.T) {
	f := newFixture(t, captcha.Disabled{})
	ctx := context.Background()

	res, err := f.svc.Submit(ctx, f.request("org/model-a"))
	require.NoError(t, err)
	id := res.Submission.ID

	other, err := f.store.GetOrCreateUser(ctx, "sub-bob", "bob")
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, other, id)
	assert.True(t, errors.Is(err, ErrForbidden))

	_, err = f.svc.Cancel(ctx, f.user, "sub_missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	sub, err := f.svc.Cancel(ctx, f.user, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, sub.Status)
	require.NotNil(t, sub.FinishedAt)

	_, err = f.svc.Cancel(ctx, f.user, id)
	assert.True(t, errors.Is(err, ErrNotCancellable))
}

func TestCancelAfterPickup(t *testing.T) {
	f := newFixture(t, captcha.Disabled{})
	ctx := context.Background()

	res, err := f.svc.Submit(ctx, f.request("org/model-a"))
	require.NoError(t, err)
	sub := res.Submission
	sub.Status = model.StatusQueued
	require.NoError(t, f.store.UpdateSubmission(ctx, sub))

	_, err = f.svc.Cancel(ctx, f.user, sub.ID)
	assert.True(t, errors.Is(err, ErrNotCancellable))
}

func TestRateStatus(t *testing.T) {
	f := newFixture(t, captcha.Disabled{})
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, f.request("org/model-a"))
	require.NoError(t, err)

	rl, err := f.svc.RateStatus(ctx, f.user, "198.51.100.20")
	require.NoError(t, err)
	assert.True(t, rl.Allowed)
	require.NotNil(t, rl.UserSubmissions)
	assert.Equal(t, 1, *rl.UserSubmissions)
	require.NotNil(t, rl.IPSubmissions)
	assert.Equal(t, 1, *rl.IPSubmissions)

	_, err = f.svc.RateStatus(ctx, f.user, "not-an-ip")
	assert.Error(t, err)
}

func TestCancelReportsTransition(t *testing.T) {
	f := newFixture(t, captcha.Disabled{})
	ctx := context.Background()

	res, err := f.svc.Submit(ctx, f.request("org/model-a"))
	require.NoError(t, err)
	sub := res.Submission
	sub.Status = model.StatusRunning
	require.NoError(t, f.store.UpdateSubmission(ctx, sub))

	_, err = f.svc.Cancel(ctx, f.user, sub.ID)
	var te *model.InvalidTransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, model.StatusRunning, te.From)
	assert.Equal(t, model.StatusCancelled, te.To)
}
