// Package params whitelists and clamps user-supplied engine configuration.
package params

import (
	"fmt"
	"os"

	"github.com/me/owl/pkg/model"
	"gopkg.in/yaml.v3"
)

// FieldType selects how a value is validated.
type FieldType string

const (
	TypeNumber FieldType = "number"
	TypeFlag   FieldType = "flag"
	TypeSelect FieldType = "select"
	TypeText   FieldType = "text"
)

// Field is one whitelisted argument or environment variable.
type Field struct {
	Name    string    `yaml:"name" json:"name"`
	Type    FieldType `yaml:"type" json:"type"`
	Label   string    `yaml:"label,omitempty" json:"label,omitempty"`
	Min     *float64  `yaml:"min,omitempty" json:"min,omitempty"`
	Max     *float64  `yaml:"max,omitempty" json:"max,omitempty"`
	Options []string  `yaml:"options,omitempty" json:"options,omitempty"`
}

// Required holds server-mandated entries. They always win over user input
// and are never shown to users.
type Required struct {
	Args []model.Arg       `yaml:"args,omitempty" json:"-"`
	Env  map[string]string `yaml:"env,omitempty" json:"-"`
}

// Schema is a versioned whitelist.
type Schema struct {
	Version  string   `yaml:"version" json:"version"`
	Args     []Field  `yaml:"args" json:"args"`
	Env      []Field  `yaml:"env,omitempty" json:"env,omitempty"`
	Required Required `yaml:"required,omitempty" json:"-"`
}

// Public returns a copy of the schema without server-mandated entries.
func (s *Schema) Public() *Schema {
	return &Schema{Version: s.Version, Args: s.Args, Env: s.Env}
}

// Validate checks the schema for internal consistency.
func (s *Schema) Validate() error {
	if s.Version == "" {
		return fmt.Errorf("schema: missing version")
	}
	for _, group := range [][]Field{s.Args, s.Env} {
		seen := make(map[string]bool, len(group))
		for _, f := range group {
			if f.Name == "" {
				return fmt.Errorf("schema %s: field with empty name", s.Version)
			}
			if seen[f.Name] {
				return fmt.Errorf("schema %s: duplicate field %q", s.Version, f.Name)
			}
			seen[f.Name] = true
			switch f.Type {
			case TypeNumber:
				if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
					return fmt.Errorf("schema %s: field %q has min > max", s.Version, f.Name)
				}
			case TypeSelect:
				if len(f.Options) == 0 {
					return fmt.Errorf("schema %s: select field %q has no options", s.Version, f.Name)
				}
			case TypeFlag, TypeText:
			default:
				return fmt.Errorf("schema %s: field %q has unknown type %q", s.Version, f.Name, f.Type)
			}
		}
	}
	return nil
}

// LoadSchema reads a YAML schema file.
func LoadSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", path, err)
	}
	return ParseSchema(data)
}

// ParseSchema decodes and validates a YAML schema.
func ParseSchema(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func bound(v float64) *float64 { return &v }

// DefaultSchema returns the built-in v1 whitelist for the inference engine.
func DefaultSchema() *Schema {
	return &Schema{
		Version: "v1",
		Args: []Field{
			{Name: "gpu_memory_utilization", Type: TypeNumber, Label: "GPU memory utilization", Min: bound(0.5), Max: bound(0.98)},
			{Name: "max_model_len", Type: TypeNumber, Label: "Max context length", Min: bound(512), Max: bound(131072)},
			{Name: "dtype", Type: TypeSelect, Options: []string{"auto", "half", "float16", "bfloat16", "float32"}},
			{Name: "quantization", Type: TypeSelect, Options: []string{"awq", "gptq", "fp8", "bitsandbytes", "gguf"}},
			{Name: "kv_cache_dtype", Type: TypeSelect, Options: []string{"auto", "fp8", "fp8_e4m3", "fp8_e5m2"}},
			{Name: "enforce_eager", Type: TypeFlag},
			{Name: "trust_remote_code", Type: TypeFlag},
			{Name: "tokenizer", Type: TypeText},
			{Name: "revision", Type: TypeText},
		},
		Env: []Field{
			{Name: "VLLM_ATTENTION_BACKEND", Type: TypeSelect, Options: []string{"FLASH_ATTN", "XFORMERS", "FLASHINFER"}},
		},
		Required: Required{
			Args: []model.Arg{
				{Name: "disable_log_requests", Flag: true},
				{Name: "port", Value: "8000"},
				{Name: "host", Value: "127.0.0.1"},
			},
			Env: map[string]string{
				"HF_HUB_OFFLINE":      "0",
				"VLLM_NO_USAGE_STATS": "1",
			},
		},
	}
}
