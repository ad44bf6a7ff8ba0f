// Package registry validates model references against format rules and the
// public model registry.
package registry

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/coocood/freecache"
	"github.com/me/owl/pkg/model"
)

// Outcome classifies a validation result.
type Outcome string

const (
	OutcomeOK           Outcome = "ok"
	OutcomeInvalid      Outcome = "invalid"
	OutcomeNotFound     Outcome = "not_found"
	OutcomeForbidden    Outcome = "forbidden"
	OutcomeGated        Outcome = "gated"
	OutcomeDisabled     Outcome = "disabled"
	OutcomeUnverifiable Outcome = "unverifiable"
)

// ReasonUnverifiable is the only detail callers see for transport failures.
const ReasonUnverifiable = "could not verify model, try again later"

var modelIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+(/[A-Za-z0-9._-]+)?$`)

// ValidateFormat reports whether id is "owner/name" or "name" using only
// [A-Za-z0-9._-].
func ValidateFormat(id string) bool {
	if !modelIDPattern.MatchString(id) {
		return false
	}
	for _, seg := range strings.Split(id, "/") {
		if strings.Trim(seg, ".") == "" {
			return false
		}
	}
	return true
}

// Verdict is the result of validating one model reference.
type Verdict struct {
	Outcome Outcome
	Reason  string
	ModelID string     // Normalized reference, set when Outcome is OutcomeOK
	Info    *ModelInfo // Registry metadata for hosted models
}

// OK reports whether the reference was accepted.
func (v Verdict) OK() bool { return v.Outcome == OutcomeOK }

// Lookup fetches registry metadata. *Client implements it.
type Lookup interface {
	GetModel(ctx context.Context, id string) (*ModelInfo, error)
}

// FileRule constrains direct file references.
type FileRule struct {
	Host      string // Trusted hosting domain
	Extension string // Required path suffix
}

// DefaultFileRule accepts quantized weight files on the model hub.
func DefaultFileRule() FileRule {
	return FileRule{Host: "huggingface.co", Extension: ".gguf"}
}

// Validator checks model references. Transport failures become an
// unverifiable verdict; Validate never returns an error.
type Validator struct {
	lookup   Lookup
	files    FileRule
	cache    *freecache.Cache
	cacheTTL int
	observe  func(Outcome)
	logger   *slog.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithCache caches successful and not-found lookups for ttlSeconds.
func WithCache(sizeBytes, ttlSeconds int) Option {
	return func(v *Validator) {
		if sizeBytes > 0 && ttlSeconds > 0 {
			v.cache = freecache.NewCache(sizeBytes)
			v.cacheTTL = ttlSeconds
		}
	}
}

// WithObserver registers a callback invoked with every outcome.
func WithObserver(fn func(Outcome)) Option {
	return func(v *Validator) {
		v.observe = fn
	}
}

// NewValidator creates a Validator.
func NewValidator(lookup Lookup, files FileRule, logger *slog.Logger, opts ...Option) *Validator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	v := &Validator{
		lookup: lookup,
		files:  files,
		logger: logger.With("component", "validator"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks ref according to modelType.
func (v *Validator) Validate(ctx context.Context, modelType model.ModelType, ref string) Verdict {
	var verdict Verdict
	switch modelType {
	case model.ModelTypeHosted:
		verdict = v.validateHosted(ctx, strings.TrimSpace(ref))
	case model.ModelTypeFile:
		verdict = v.validateFile(strings.TrimSpace(ref))
	default:
		verdict = Verdict{Outcome: OutcomeInvalid, Reason: "unsupported model type"}
	}
	if v.observe != nil {
		v.observe(verdict.Outcome)
	}
	return verdict
}

func (v *Validator) validateHosted(ctx context.Context, id string) Verdict {
	if !ValidateFormat(id) {
		return Verdict{Outcome: OutcomeInvalid, Reason: "model id must be owner/name using letters, digits, '.', '_' or '-'"}
	}

	info, notFound, cached := v.cached(id)
	if !cached {
		var err error
		info, err = v.lookup.GetModel(ctx, id)
		switch {
		case err == nil:
			v.store(id, cachedLookup{Info: info})
		case IsNotFound(err):
			notFound = true
			v.store(id, cachedLookup{NotFound: true})
		case IsForbidden(err):
			return Verdict{Outcome: OutcomeForbidden, Reason: "model is private or gated"}
		default:
			v.logger.Warn("registry lookup failed", "model", id, "error", err)
			return Verdict{Outcome: OutcomeUnverifiable, Reason: ReasonUnverifiable}
		}
	}

	switch {
	case notFound:
		return Verdict{Outcome: OutcomeNotFound, Reason: "model not found"}
	case info == nil:
		return Verdict{Outcome: OutcomeUnverifiable, Reason: ReasonUnverifiable}
	case info.Private:
		return Verdict{Outcome: OutcomeForbidden, Reason: "model is private"}
	case info.IsGated():
		return Verdict{Outcome: OutcomeGated, Reason: "gated models are not accepted"}
	case info.Disabled:
		return Verdict{Outcome: OutcomeDisabled, Reason: "model is disabled"}
	}

	canonical := id
	if info.ID != "" && strings.EqualFold(info.ID, id) {
		canonical = info.ID
	}
	return Verdict{Outcome: OutcomeOK, ModelID: canonical, Info: info}
}

func (v *Validator) validateFile(ref string) Verdict {
	u, err := url.Parse(ref)
	if err != nil || !u.IsAbs() || u.Scheme != "https" || u.User != nil {
		return Verdict{Outcome: OutcomeInvalid, Reason: "file reference must be an absolute https URL"}
	}
	if !strings.EqualFold(u.Hostname(), v.files.Host) || u.Port() != "" {
		return Verdict{Outcome: OutcomeInvalid, Reason: "file must be hosted on " + v.files.Host}
	}
	if !strings.HasSuffix(strings.ToLower(u.Path), v.files.Extension) || path.Base(u.Path) == v.files.Extension {
		return Verdict{Outcome: OutcomeInvalid, Reason: "file must end in " + v.files.Extension}
	}
	u.RawQuery = ""
	u.Fragment = ""
	return Verdict{Outcome: OutcomeOK, ModelID: u.String()}
}

type cachedLookup struct {
	Info     *ModelInfo `json:"info,omitempty"`
	NotFound bool       `json:"not_found,omitempty"`
}

func (v *Validator) cached(id string) (*ModelInfo, bool, bool) {
	if v.cache == nil {
		return nil, false, false
	}
	data, err := v.cache.Get(cacheKey(id))
	if err != nil {
		return nil, false, false
	}
	var c cachedLookup
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, false, false
	}
	return c.Info, c.NotFound, true
}

func (v *Validator) store(id string, c cachedLookup) {
	if v.cache == nil {
		return
	}
	data, err := json.Marshal(c)
	if err != nil {
		return
	}
	if err := v.cache.Set(cacheKey(id), data, v.cacheTTL); err != nil {
		v.logger.Debug("cache set failed", "model", id, "error", err)
	}
}

func cacheKey(id string) []byte {
	return []byte("model:" + strings.ToLower(id))
}

// DisplayName returns the human-facing name of a reference: hosted ids as
// given, file URLs as the file name without extension.
func DisplayName(modelType model.ModelType, ref string) string {
	ref = strings.TrimSpace(ref)
	if modelType != model.ModelTypeFile {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil || u.Path == "" {
		return ref
	}
	base := path.Base(u.Path)
	if ext := path.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}
