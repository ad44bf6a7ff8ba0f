package model

import (
	"reflect"
	"testing"
)

func TestEngineConfig_Argv(t *testing.T) {
	cfg := EngineConfig{Args: []Arg{
		{Name: "gpu_memory_utilization", Value: 0.9},
		{Name: "enforce_eager", Flag: true},
		{Name: "max_model_len", Value: 4096.0},
		{Name: "dtype", Value: "bfloat16"},
	}}
	want := []string{
		"--gpu-memory-utilization", "0.9",
		"--enforce-eager",
		"--max-model-len", "4096",
		"--dtype", "bfloat16",
	}
	if got := cfg.Argv(); !reflect.DeepEqual(got, want) {
		t.Errorf("Argv() = %v, want %v", got, want)
	}
}

func TestEngineConfig_Environ(t *testing.T) {
	cfg := EngineConfig{Env: map[string]any{"B_KEY": "x", "A_KEY": 2.0}}
	want := []string{"A_KEY=2", "B_KEY=x"}
	if got := cfg.Environ(); !reflect.DeepEqual(got, want) {
		t.Errorf("Environ() = %v, want %v", got, want)
	}
}

func TestEngineConfig_Payload(t *testing.T) {
	cfg := EngineConfig{
		Args: []Arg{{Name: "enforce_eager", Flag: true}, {Name: "dtype", Value: "half"}},
		Env:  map[string]any{"K": "v"},
	}
	p := cfg.Payload()
	if p.Args["enforce_eager"] != true {
		t.Errorf("flag payload = %v, want true", p.Args["enforce_eager"])
	}
	if p.Args["dtype"] != "half" {
		t.Errorf("dtype payload = %v, want half", p.Args["dtype"])
	}
	if p.Env["K"] != "v" {
		t.Errorf("env payload = %v, want v", p.Env["K"])
	}

	empty := EngineConfig{}.Payload()
	if empty.Args != nil || empty.Env != nil {
		t.Errorf("empty config payload = %+v, want zero", empty)
	}
}
