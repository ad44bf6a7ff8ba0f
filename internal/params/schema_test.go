package params

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchemaYAML = `
version: v2
args:
  - name: gpu_memory_utilization
    type: number
    min: 0.5
    max: 0.9
  - name: enforce_eager
    type: flag
  - name: dtype
    type: select
    options: [auto, half]
env:
  - name: VLLM_ATTENTION_BACKEND
    type: text
required:
  args:
    - name: port
      value: "8000"
    - name: disable_log_requests
      flag: true
  env:
    HF_HUB_OFFLINE: "0"
`

func TestParseSchema(t *testing.T) {
	s, err := ParseSchema([]byte(testSchemaYAML))
	require.NoError(t, err)
	assert.Equal(t, "v2", s.Version)
	require.Len(t, s.Args, 3)
	require.NotNil(t, s.Args[0].Max)
	assert.Equal(t, 0.9, *s.Args[0].Max)
	assert.Equal(t, []string{"auto", "half"}, s.Args[2].Options)
	require.Len(t, s.Required.Args, 2)
	assert.Equal(t, "8000", s.Required.Args[0].Value)
	assert.True(t, s.Required.Args[1].Flag)
	assert.Equal(t, "0", s.Required.Env["HF_HUB_OFFLINE"])
}

func TestLoadSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testSchemaYAML), 0o644))
	s, err := LoadSchema(path)
	require.NoError(t, err)
	assert.Equal(t, "v2", s.Version)

	_, err = LoadSchema(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSchema_Validate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing version", "args: []"},
		{"duplicate", "version: x\nargs: [{name: a, type: flag}, {name: a, type: flag}]"},
		{"empty name", "version: x\nargs: [{type: flag}]"},
		{"unknown type", "version: x\nargs: [{name: a, type: blob}]"},
		{"select without options", "version: x\nargs: [{name: a, type: select}]"},
		{"inverted bounds", "version: x\nargs: [{name: a, type: number, min: 2, max: 1}]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSchema([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
	assert.NoError(t, DefaultSchema().Validate())
}

func TestSchema_Public(t *testing.T) {
	s := DefaultSchema()
	pub := s.Public()
	assert.Empty(t, pub.Required.Args)
	assert.Empty(t, pub.Required.Env)
	assert.Equal(t, s.Args, pub.Args)
	assert.NotEmpty(t, s.Required.Args, "original keeps required entries")
}
