package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	want := DefaultServerConfig()
	assert.Equal(t, want.Addr, cfg.Addr)
	assert.Equal(t, "sqlite", cfg.DB.Driver)
	assert.Equal(t, 3, cfg.RateLimit.UserCeiling)
	assert.Equal(t, 150, cfg.RateLimit.IPCeiling)
	assert.Equal(t, 24*time.Hour, cfg.RateLimit.Window)
	assert.Equal(t, 5*time.Minute, cfg.Registry.CacheTTL)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "owl.yaml")
	data := `
addr: ":9090"
ip_hash_secret: from-file
db:
  driver: postgres
  url: postgres://owl@localhost/owl
rate_limit:
  user_ceiling: 100
  window: 12h
auth:
  issuer_url: https://issuer.example.com/
  client_id: owl
  static_tokens:
    dev-token: alice
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	t.Setenv("OWL_IP_HASH_SECRET", "from-env")
	t.Setenv("OWL_RATE_LIMIT_IP_CEILING", "20")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, "from-env", cfg.IPHashSecret)
	assert.Equal(t, "postgres", cfg.DB.Driver)
	assert.Equal(t, 100, cfg.RateLimit.UserCeiling)
	assert.Equal(t, 20, cfg.RateLimit.IPCeiling)
	assert.Equal(t, 12*time.Hour, cfg.RateLimit.Window)
	assert.Equal(t, "https://issuer.example.com", cfg.Auth.IssuerURL)
	assert.Equal(t, "alice", cfg.Auth.StaticTokens["dev-token"])
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := DefaultServerConfig()
	assert.Error(t, cfg.Validate(), "missing secret")

	cfg.IPHashSecret = "s"
	assert.NoError(t, cfg.Validate())

	cfg.DB.Driver = "mysql"
	assert.Error(t, cfg.Validate())

	cfg = DefaultServerConfig()
	cfg.IPHashSecret = "s"
	cfg.RateLimit.UserCeiling = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultServerConfig()
	cfg.IPHashSecret = "s"
	cfg.LogFormat = "logfmt"
	assert.ErrorContains(t, cfg.Validate(), "log_format")
}

func TestTrustedProxyPrefixes(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.IPHashSecret = "s"
	cfg.TrustedProxies = []string{"10.0.0.0/8", " 192.0.2.7 ", "2001:db8::/32"}
	require.NoError(t, cfg.Validate())

	prefixes, err := cfg.TrustedProxyPrefixes()
	require.NoError(t, err)
	require.Len(t, prefixes, 3)
	assert.Equal(t, "10.0.0.0/8", prefixes[0].String())
	assert.Equal(t, "192.0.2.7/32", prefixes[1].String())

	cfg.TrustedProxies = []string{"10.0.0.0/33"}
	assert.ErrorContains(t, cfg.Validate(), "trusted_proxies")

	cfg.TrustedProxies = []string{"proxy.internal"}
	assert.ErrorContains(t, cfg.Validate(), "trusted_proxies")
}
