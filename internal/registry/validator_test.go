package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/me/owl/pkg/model"
)

type fakeLookup struct {
	models map[string]*ModelInfo
	errs   map[string]error
	calls  int
}

func (f *fakeLookup) GetModel(_ context.Context, id string) (*ModelInfo, error) {
	f.calls++
	if err, ok := f.errs[id]; ok {
		return nil, err
	}
	if m, ok := f.models[id]; ok {
		return m, nil
	}
	return nil, &HTTPError{StatusCode: 404}
}

func newFake() *fakeLookup {
	return &fakeLookup{
		models: map[string]*ModelInfo{
			"org/model-a":  {ID: "org/model-a", SHA: "abc"},
			"Org/Mixed":    {ID: "Org/Mixed"},
			"org/private":  {ID: "org/private", Private: true},
			"org/gated":    {ID: "org/gated", Gated: "manual"},
			"org/disabled": {ID: "org/disabled", Disabled: true},
			"gpt2":         {ID: "gpt2"},
		},
		errs: map[string]error{
			"org/forbidden": &HTTPError{StatusCode: 403},
			"org/flaky":     errors.New("dial tcp: connection refused"),
			"org/badgw":     &HTTPError{StatusCode: 502},
		},
	}
}

func TestValidateFormat(t *testing.T) {
	valid := []string{"org/model-a", "gpt2", "Org.Name/model_v1.5", "a/b"}
	invalid := []string{"", "org/", "/model", "a/b/c", "org/model a", "org/mödel", "org/model?x=1", "../etc"}
	for _, id := range valid {
		if !ValidateFormat(id) {
			t.Errorf("ValidateFormat(%q) = false, want true", id)
		}
	}
	for _, id := range invalid {
		if ValidateFormat(id) {
			t.Errorf("ValidateFormat(%q) = true, want false", id)
		}
	}
}

func TestValidator_Hosted(t *testing.T) {
	tests := []struct {
		ref     string
		outcome Outcome
		modelID string
	}{
		{"org/model-a", OutcomeOK, "org/model-a"},
		{"  org/model-a ", OutcomeOK, "org/model-a"},
		{"gpt2", OutcomeOK, "gpt2"},
		{"Org/Mixed", OutcomeOK, "Org/Mixed"},
		{"org/missing", OutcomeNotFound, ""},
		{"org/private", OutcomeForbidden, ""},
		{"org/forbidden", OutcomeForbidden, ""},
		{"org/gated", OutcomeGated, ""},
		{"org/disabled", OutcomeDisabled, ""},
		{"org/flaky", OutcomeUnverifiable, ""},
		{"org/badgw", OutcomeUnverifiable, ""},
		{"bad id!", OutcomeInvalid, ""},
	}
	v := NewValidator(newFake(), DefaultFileRule(), nil)
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got := v.Validate(context.Background(), model.ModelTypeHosted, tt.ref)
			if got.Outcome != tt.outcome {
				t.Fatalf("Outcome = %q (%s), want %q", got.Outcome, got.Reason, tt.outcome)
			}
			if got.ModelID != tt.modelID {
				t.Errorf("ModelID = %q, want %q", got.ModelID, tt.modelID)
			}
			if got.OK() && got.Info == nil {
				t.Error("accepted hosted model should carry registry metadata")
			}
			if !got.OK() && got.Reason == "" {
				t.Error("rejection without reason")
			}
		})
	}
}

func TestValidator_TransportReasonIsGeneric(t *testing.T) {
	v := NewValidator(newFake(), DefaultFileRule(), nil)
	got := v.Validate(context.Background(), model.ModelTypeHosted, "org/flaky")
	if got.Reason != ReasonUnverifiable {
		t.Errorf("Reason = %q, want %q", got.Reason, ReasonUnverifiable)
	}
}

func TestValidator_File(t *testing.T) {
	tests := []struct {
		ref     string
		ok      bool
		modelID string
	}{
		{"https://huggingface.co/org/repo/resolve/main/model-Q4_K_M.gguf", true, "https://huggingface.co/org/repo/resolve/main/model-Q4_K_M.gguf"},
		{"https://huggingface.co/org/repo/resolve/main/model.GGUF?download=true", true, "https://huggingface.co/org/repo/resolve/main/model.GGUF"},
		{"http://huggingface.co/org/repo/model.gguf", false, ""},
		{"https://evil.example/org/repo/model.gguf", false, ""},
		{"https://huggingface.co.evil.example/model.gguf", false, ""},
		{"https://huggingface.co:8443/org/model.gguf", false, ""},
		{"https://user:pw@huggingface.co/org/model.gguf", false, ""},
		{"https://huggingface.co/org/repo/model.safetensors", false, ""},
		{"https://huggingface.co/.gguf", false, ""},
		{"/org/repo/model.gguf", false, ""},
		{"not a url", false, ""},
	}
	v := NewValidator(newFake(), DefaultFileRule(), nil)
	for _, tt := range tests {
		got := v.Validate(context.Background(), model.ModelTypeFile, tt.ref)
		if got.OK() != tt.ok {
			t.Errorf("Validate(%q) ok = %v (%s), want %v", tt.ref, got.OK(), got.Reason, tt.ok)
		}
		if got.ModelID != tt.modelID {
			t.Errorf("Validate(%q) ModelID = %q, want %q", tt.ref, got.ModelID, tt.modelID)
		}
	}
}

func TestValidator_UnknownType(t *testing.T) {
	v := NewValidator(newFake(), DefaultFileRule(), nil)
	if got := v.Validate(context.Background(), model.ModelType("onnx"), "org/model-a"); got.Outcome != OutcomeInvalid {
		t.Errorf("Outcome = %q, want invalid", got.Outcome)
	}
}

func TestValidator_Cache(t *testing.T) {
	f := newFake()
	v := NewValidator(f, DefaultFileRule(), nil, WithCache(1<<20, 60))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if got := v.Validate(ctx, model.ModelTypeHosted, "org/model-a"); !got.OK() {
			t.Fatalf("Validate = %+v", got)
		}
		if got := v.Validate(ctx, model.ModelTypeHosted, "org/missing"); got.Outcome != OutcomeNotFound {
			t.Fatalf("Validate missing = %+v", got)
		}
	}
	if f.calls != 2 {
		t.Errorf("lookups = %d, want 2 (one per model)", f.calls)
	}

	// Transport failures are never cached.
	v.Validate(ctx, model.ModelTypeHosted, "org/flaky")
	v.Validate(ctx, model.ModelTypeHosted, "org/flaky")
	if f.calls != 4 {
		t.Errorf("lookups = %d, want 4", f.calls)
	}
}

func TestValidator_Observer(t *testing.T) {
	var seen []Outcome
	v := NewValidator(newFake(), DefaultFileRule(), nil, WithObserver(func(o Outcome) { seen = append(seen, o) }))
	v.Validate(context.Background(), model.ModelTypeHosted, "org/model-a")
	v.Validate(context.Background(), model.ModelTypeHosted, "org/gated")
	if len(seen) != 2 || seen[0] != OutcomeOK || seen[1] != OutcomeGated {
		t.Errorf("observed = %v", seen)
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		typ  model.ModelType
		ref  string
		want string
	}{
		{model.ModelTypeHosted, " org/model-a ", "org/model-a"},
		{model.ModelTypeFile, "https://huggingface.co/org/repo/resolve/main/model-Q4_K_M.gguf", "model-Q4_K_M"},
		{model.ModelTypeFile, "https://huggingface.co/org/repo/resolve/main/weights", "weights"},
	}
	for _, tt := range tests {
		if got := DisplayName(tt.typ, tt.ref); got != tt.want {
			t.Errorf("DisplayName(%q, %q) = %q, want %q", tt.typ, tt.ref, got, tt.want)
		}
	}
}
