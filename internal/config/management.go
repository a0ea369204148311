package config

import "golang.org/x/crypto/bcrypt"

// CheckManagementKey verifies whether the provided key matches the configured management credential.
func CheckManagementKey(cfg *Config, candidate string) bool {
	if cfg == nil || candidate == "" {
		return false
	}
	if cfg.Security.ManagementKey != "" && candidate == cfg.Security.ManagementKey {
		return true
	}
	if cfg.Security.ManagementKeyHash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(cfg.Security.ManagementKeyHash), []byte(candidate)); err == nil {
			return true
		}
	}
	return false
}

// CheckStreamKey accepts the dedicated stream key or any management credential.
// SSE clients cannot set headers, so the stream key travels in the query string.
func CheckStreamKey(cfg *Config, candidate string) bool {
	if cfg == nil || candidate == "" {
		return false
	}
	if cfg.Security.StreamKey != "" && candidate == cfg.Security.StreamKey {
		return true
	}
	return CheckManagementKey(cfg, candidate)
}

// ManagementEnabled reports whether any management credential is configured.
func ManagementEnabled(cfg *Config) bool {
	return cfg != nil && (cfg.Security.ManagementKey != "" || cfg.Security.ManagementKeyHash != "")
}
