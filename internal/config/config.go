package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/me/owl/internal/logging"
)

// ServerConfig holds configuration for the owl server.
type ServerConfig struct {
	Addr         string `mapstructure:"addr"`       // Listen address (default ":8080")
	LogLevel     string `mapstructure:"log_level"`  // debug, info, warn, error
	LogFormat    string `mapstructure:"log_format"` // text, json
	IPHashSecret string `mapstructure:"ip_hash_secret"`
	SchemaPath   string `mapstructure:"schema_path"` // Parameter schema YAML; empty uses the built-in schema
	RecentLimit  int    `mapstructure:"recent_limit"`
	// Admins are usernames that may view every submission.
	Admins []string `mapstructure:"admins"`
	// TrustedProxies are CIDRs (or bare addresses) of reverse proxies whose
	// X-Forwarded-For and X-Real-IP headers are honoured. Empty trusts none.
	TrustedProxies []string `mapstructure:"trusted_proxies"`

	DB        DBConfig        `mapstructure:"db"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Throttle  ThrottleConfig  `mapstructure:"throttle"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Captcha   CaptchaConfig   `mapstructure:"captcha"`
	Auth      AuthConfig      `mapstructure:"auth"`
}

// DBConfig selects and configures the store.
type DBConfig struct {
	Driver   string `mapstructure:"driver"` // sqlite or postgres
	Path     string `mapstructure:"path"`   // SQLite file, ":memory:" for testing
	URL      string `mapstructure:"url"`    // Postgres connection URL
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RateLimitConfig sets the rolling submission ceilings.
type RateLimitConfig struct {
	UserCeiling int           `mapstructure:"user_ceiling"`
	IPCeiling   int           `mapstructure:"ip_ceiling"`
	Window      time.Duration `mapstructure:"window"`
}

// ThrottleConfig bounds request bursts on the submission endpoint per client.
type ThrottleConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// RegistryConfig configures the model registry client.
type RegistryConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	FileHost   string        `mapstructure:"file_host"`
	CacheBytes int           `mapstructure:"cache_bytes"`
	CacheTTL   time.Duration `mapstructure:"cache_ttl"`
}

// CaptchaConfig configures challenge verification. An empty secret
// disables verification.
type CaptchaConfig struct {
	Secret    string `mapstructure:"secret"`
	VerifyURL string `mapstructure:"verify_url"`
}

// AuthConfig configures identity. With no issuer, StaticTokens
// (token: username) authenticate callers.
type AuthConfig struct {
	IssuerURL     string            `mapstructure:"issuer_url"`
	ClientID      string            `mapstructure:"client_id"`
	ClientSecret  string            `mapstructure:"client_secret"`
	RedirectURL   string            `mapstructure:"redirect_url"`
	PostLoginURL  string            `mapstructure:"post_login_url"`
	SecureCookies bool              `mapstructure:"secure_cookies"`
	StaticTokens  map[string]string `mapstructure:"static_tokens"`
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:        ":8080",
		LogLevel:    "info",
		LogFormat:   "text",
		RecentLimit: 10,
		DB: DBConfig{
			Driver:   "sqlite",
			Path:     "owl.db",
			MaxConns: 10,
			MinConns: 2,
		},
		RateLimit: RateLimitConfig{
			UserCeiling: 3,
			IPCeiling:   150,
			Window:      24 * time.Hour,
		},
		Throttle: ThrottleConfig{RPS: 1, Burst: 5},
		Registry: RegistryConfig{
			BaseURL:    "https://huggingface.co",
			Timeout:    10 * time.Second,
			FileHost:   "huggingface.co",
			CacheBytes: 8 << 20,
			CacheTTL:   5 * time.Minute,
		},
		Captcha: CaptchaConfig{
			VerifyURL: "https://challenges.cloudflare.com/turnstile/v0/siteverify",
		},
		Auth: AuthConfig{PostLoginURL: "/"},
	}
}

// Load reads defaults, then the optional YAML file at path, then OWL_*
// environment variables (OWL_DB_DRIVER, OWL_RATE_LIMIT_USER_CEILING, ...).
func Load(path string) (ServerConfig, error) {
	v := viper.New()
	setDefaults(v, DefaultServerConfig())

	v.SetEnvPrefix("OWL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return ServerConfig{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Auth.IssuerURL = strings.TrimRight(strings.TrimSpace(cfg.Auth.IssuerURL), "/")
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d ServerConfig) {
	v.SetDefault("addr", d.Addr)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("ip_hash_secret", d.IPHashSecret)
	v.SetDefault("schema_path", d.SchemaPath)
	v.SetDefault("recent_limit", d.RecentLimit)
	v.SetDefault("admins", d.Admins)
	v.SetDefault("trusted_proxies", d.TrustedProxies)

	v.SetDefault("db.driver", d.DB.Driver)
	v.SetDefault("db.path", d.DB.Path)
	v.SetDefault("db.url", d.DB.URL)
	v.SetDefault("db.max_conns", d.DB.MaxConns)
	v.SetDefault("db.min_conns", d.DB.MinConns)

	v.SetDefault("rate_limit.user_ceiling", d.RateLimit.UserCeiling)
	v.SetDefault("rate_limit.ip_ceiling", d.RateLimit.IPCeiling)
	v.SetDefault("rate_limit.window", d.RateLimit.Window)

	v.SetDefault("throttle.rps", d.Throttle.RPS)
	v.SetDefault("throttle.burst", d.Throttle.Burst)

	v.SetDefault("registry.base_url", d.Registry.BaseURL)
	v.SetDefault("registry.timeout", d.Registry.Timeout)
	v.SetDefault("registry.file_host", d.Registry.FileHost)
	v.SetDefault("registry.cache_bytes", d.Registry.CacheBytes)
	v.SetDefault("registry.cache_ttl", d.Registry.CacheTTL)

	v.SetDefault("captcha.secret", d.Captcha.Secret)
	v.SetDefault("captcha.verify_url", d.Captcha.VerifyURL)

	v.SetDefault("auth.issuer_url", d.Auth.IssuerURL)
	v.SetDefault("auth.client_id", d.Auth.ClientID)
	v.SetDefault("auth.client_secret", d.Auth.ClientSecret)
	v.SetDefault("auth.redirect_url", d.Auth.RedirectURL)
	v.SetDefault("auth.post_login_url", d.Auth.PostLoginURL)
	v.SetDefault("auth.secure_cookies", d.Auth.SecureCookies)
}

// Validate reports configuration the server cannot start with.
func (c ServerConfig) Validate() error {
	var errs []error
	switch c.DB.Driver {
	case "sqlite":
		if c.DB.Path == "" {
			errs = append(errs, errors.New("db.path is required for sqlite"))
		}
	case "postgres":
		if c.DB.URL == "" {
			errs = append(errs, errors.New("db.url is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("db.driver %q: want sqlite or postgres", c.DB.Driver))
	}
	if !logging.ValidFormat(c.LogFormat) {
		errs = append(errs, fmt.Errorf("log_format %q: want text or json", c.LogFormat))
	}
	if c.IPHashSecret == "" {
		errs = append(errs, errors.New("ip_hash_secret is required"))
	}
	if c.RateLimit.UserCeiling <= 0 || c.RateLimit.IPCeiling <= 0 {
		errs = append(errs, errors.New("rate_limit ceilings must be positive"))
	}
	if c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate_limit.window must be positive"))
	}
	if _, err := c.TrustedProxyPrefixes(); err != nil {
		errs = append(errs, err)
	}
	if c.Auth.IssuerURL != "" && c.Auth.ClientID == "" {
		errs = append(errs, errors.New("auth.client_id is required with auth.issuer_url"))
	}
	return errors.Join(errs...)
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address is a
// single-host prefix.
func (c ServerConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, raw := range c.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("trusted_proxies %q: %w", raw, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("trusted_proxies %q: %w", raw, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}
