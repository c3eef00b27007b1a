package config

import (
	"slices"
	"sync"
)

// StatusFields are the reloadable fields that only take effect on restart.
var StatusFields = []string{"status_http_enabled", "status_http_host", "status_http_port"}

// Live owns the running configuration and serializes reloads against readers.
type Live struct {
	mu  sync.RWMutex
	cfg Config
}

// NewLive wraps cfg.
func NewLive(cfg *Config) *Live {
	return &Live{cfg: *cfg}
}

// Snapshot returns a copy of the running configuration.
func (l *Live) Snapshot() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// Apply merges the reloadable fields of fresh and returns the changed names
// together with the resulting configuration.
func (l *Live) Apply(fresh *Config) ([]string, Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	changed := l.cfg.ApplyReloadable(fresh)
	return changed, l.cfg
}

// TouchesStatus reports whether any changed field belongs to the status server.
func TouchesStatus(changed []string) bool {
	for _, f := range changed {
		if slices.Contains(StatusFields, f) {
			return true
		}
	}
	return false
}
