package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Arg is one engine argument. Flag arguments carry no value.
type Arg struct {
	Name  string `json:"name"`
	Value any    `json:"value,omitempty"`
	Flag  bool   `json:"flag,omitempty"`
}

// EngineConfig is an ordered argument list plus environment overrides.
type EngineConfig struct {
	Args []Arg          `json:"args"`
	Env  map[string]any `json:"env,omitempty"`
}

// ConfigPayload is the untrusted engine configuration a user submits.
type ConfigPayload struct {
	Args map[string]any `json:"args,omitempty"`
	Env  map[string]any `json:"env,omitempty"`
}

// Payload converts a config back into the shape users submit. Flags become
// literal true.
func (c EngineConfig) Payload() ConfigPayload {
	p := ConfigPayload{}
	if len(c.Args) > 0 {
		p.Args = make(map[string]any, len(c.Args))
		for _, a := range c.Args {
			if a.Flag {
				p.Args[a.Name] = true
				continue
			}
			p.Args[a.Name] = a.Value
		}
	}
	if len(c.Env) > 0 {
		p.Env = make(map[string]any, len(c.Env))
		for k, v := range c.Env {
			p.Env[k] = v
		}
	}
	return p
}

// Arg returns the argument named name.
func (c EngineConfig) Arg(name string) (Arg, bool) {
	for _, a := range c.Args {
		if a.Name == name {
			return a, true
		}
	}
	return Arg{}, false
}

// Argv renders the arguments as command-line flags, e.g.
// gpu_memory_utilization=0.9 becomes "--gpu-memory-utilization", "0.9".
func (c EngineConfig) Argv() []string {
	var argv []string
	for _, a := range c.Args {
		flag := "--" + strings.ReplaceAll(a.Name, "_", "-")
		if a.Flag {
			argv = append(argv, flag)
			continue
		}
		argv = append(argv, flag, FormatValue(a.Value))
	}
	return argv
}

// Environ renders the environment overrides as sorted KEY=value pairs.
func (c EngineConfig) Environ() []string {
	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+FormatValue(c.Env[k]))
	}
	return env
}

// FormatValue renders a sanitized value without exponent notation for floats.
func FormatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}
