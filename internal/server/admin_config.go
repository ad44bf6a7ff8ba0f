package server

import (
	"os"
	"slices"
	"strings"
)

// AdminConfig decides which usernames get the admin role. Admins come from
// the server config and from a comma-separated environment variable.
type AdminConfig struct {
	configAdmins []string
	envAdmins    []string
}

// NewAdminConfig merges admins from config with those named in envVar.
func NewAdminConfig(configAdmins []string, envVar string) *AdminConfig {
	cfg := &AdminConfig{}
	for _, username := range configAdmins {
		if username = strings.TrimSpace(username); username != "" {
			cfg.configAdmins = append(cfg.configAdmins, username)
		}
	}
	if envVal := os.Getenv(envVar); envVal != "" {
		for _, username := range strings.Split(envVal, ",") {
			if username = strings.TrimSpace(username); username != "" {
				cfg.envAdmins = append(cfg.envAdmins, username)
			}
		}
	}
	return cfg
}

// IsAdmin reports whether username should have the admin role.
func (c *AdminConfig) IsAdmin(username string) bool {
	if c == nil || username == "" {
		return false
	}
	return slices.Contains(c.configAdmins, username) || slices.Contains(c.envAdmins, username)
}
