package params

import (
	"encoding/json"
	"math"
	"slices"
	"strings"

	"github.com/me/owl/pkg/model"
)

// Sanitize returns the subset of p allowed by the schema, with values
// coerced to each field's constraints. Unknown keys and invalid values are
// dropped silently rather than failing the payload; callers depend on this.
// Output follows schema field order.
func Sanitize(s *Schema, p model.ConfigPayload) model.EngineConfig {
	var cfg model.EngineConfig
	for _, f := range s.Args {
		raw, ok := p.Args[f.Name]
		if !ok {
			continue
		}
		v, ok := coerce(f, raw)
		if !ok {
			continue
		}
		if f.Type == TypeFlag {
			cfg.Args = append(cfg.Args, model.Arg{Name: f.Name, Flag: true})
			continue
		}
		cfg.Args = append(cfg.Args, model.Arg{Name: f.Name, Value: v})
	}
	for _, f := range s.Env {
		raw, ok := p.Env[f.Name]
		if !ok {
			continue
		}
		v, ok := coerce(f, raw)
		if !ok {
			continue
		}
		if cfg.Env == nil {
			cfg.Env = make(map[string]any)
		}
		cfg.Env[f.Name] = v
	}
	return cfg
}

// MergeRequired drops user arguments whose names collide with
// server-mandated ones, appends the mandated arguments, and overlays the
// mandated environment.
func MergeRequired(s *Schema, cfg model.EngineConfig) model.EngineConfig {
	required := make(map[string]bool, len(s.Required.Args))
	for _, a := range s.Required.Args {
		required[a.Name] = true
	}

	var out model.EngineConfig
	for _, a := range cfg.Args {
		if !required[a.Name] {
			out.Args = append(out.Args, a)
		}
	}
	out.Args = append(out.Args, s.Required.Args...)

	if len(cfg.Env) > 0 || len(s.Required.Env) > 0 {
		out.Env = make(map[string]any, len(cfg.Env)+len(s.Required.Env))
		for k, v := range cfg.Env {
			out.Env[k] = v
		}
		for k, v := range s.Required.Env {
			out.Env[k] = v
		}
	}
	return out
}

// coerce validates raw against f. For flags the returned value is only
// meaningful through ok: true means "emit the flag".
func coerce(f Field, raw any) (any, bool) {
	switch f.Type {
	case TypeNumber:
		n, ok := toFloat(raw)
		if !ok || math.IsNaN(n) || math.IsInf(n, 0) {
			return nil, false
		}
		if f.Min != nil && f.Max != nil {
			n = math.Min(math.Max(n, *f.Min), *f.Max)
		}
		return n, true
	case TypeFlag:
		b, ok := raw.(bool)
		return b, ok && b
	case TypeSelect:
		v, ok := raw.(string)
		if !ok || !slices.Contains(f.Options, v) {
			return nil, false
		}
		return v, true
	case TypeText:
		v, ok := raw.(string)
		if !ok {
			return nil, false
		}
		v = cleanText(v)
		return v, v != ""
	}
	return nil, false
}

func toFloat(raw any) (float64, bool) {
	switch n := raw.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// cleanText trims v and keeps only [A-Za-z0-9_./-].
func cleanText(v string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '_', r == '.', r == '/', r == '-':
			return r
		}
		return -1
	}, strings.TrimSpace(v))
}
