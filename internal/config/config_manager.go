package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"grok2api-go/internal/events"

	log "github.com/sirupsen/logrus"
)

// ConfigManager owns the live configuration and hot-reloads it from disk.
type ConfigManager struct {
	mu         sync.RWMutex
	config     *Config
	configPath string
	stopCh     chan struct{}
	stopOnce   sync.Once
	onChange   []func(*Config)
	lastMod    time.Time
	publisher  events.Publisher
}

// NewConfigManager loads configPath (or the first config found in the usual
// locations), overlays env vars and starts a watcher when the file exists.
func NewConfigManager(configPath string) (*ConfigManager, error) {
	if configPath == "" {
		for _, loc := range []string{
			"config.yaml",
			"config.yml",
			"config.json",
			filepath.Join(os.Getenv("HOME"), ".grok2api", "config.yaml"),
			"/etc/grok2api/config.yaml",
		} {
			if _, err := os.Stat(loc); err == nil {
				configPath = loc
				break
			}
		}
	}
	if strings.HasPrefix(configPath, "~") {
		configPath = expandPath(configPath)
	}

	cm := &ConfigManager{
		configPath: configPath,
		stopCh:     make(chan struct{}),
	}
	cfg, err := cm.read()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		log.WithField("path", configPath).Warn("using default configuration (no config file found)")
	}
	cm.config = cfg

	if cm.configPath != "" {
		if _, err := os.Stat(cm.configPath); err == nil {
			cm.startWatcher()
		}
	}
	return cm, nil
}

// NewStaticManager wraps an already built configuration without file watching.
func NewStaticManager(cfg *Config) *ConfigManager {
	if cfg == nil {
		cfg = Defaults()
	}
	return &ConfigManager{config: cfg, stopCh: make(chan struct{})}
}

// read loads the file, merges env vars and normalizes. On a missing file it
// still returns a usable config together with os.ErrNotExist.
func (cm *ConfigManager) read() (*Config, error) {
	cfg, loadErr := LoadFile(cm.configPath)
	if cfg == nil {
		return nil, loadErr
	}
	if info, err := os.Stat(cm.configPath); err == nil {
		cm.lastMod = info.ModTime()
	}
	mergeEnvVars(cfg)
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	if loadErr == nil {
		log.WithField("path", cm.configPath).Info("configuration loaded")
	}
	return cfg, loadErr
}

// Path returns the backing file path, empty for static managers.
func (cm *ConfigManager) Path() string { return cm.configPath }

// Get returns a copy of the current configuration.
func (cm *ConfigManager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if cm.config == nil {
		return Defaults()
	}
	c := *cm.config
	c.Security.APIKeys = append([]string(nil), cm.config.Security.APIKeys...)
	c.Grok.RetryStatusCodes = append([]int(nil), cm.config.Grok.RetryStatusCodes...)
	return &c
}

// OnChange registers a callback invoked with the new config after a reload.
func (cm *ConfigManager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.onChange = append(cm.onChange, fn)
}

// SetEventPublisher wires the event hub used to broadcast config updates.
func (cm *ConfigManager) SetEventPublisher(p events.Publisher) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.publisher = p
}

// Update applies fn to a copy of the config, persists it and notifies listeners.
func (cm *ConfigManager) Update(fn func(*Config)) error {
	oldCfg := cm.Get()
	next := cm.Get()
	fn(next)
	if err := next.Normalize(); err != nil {
		return err
	}
	if cm.configPath != "" {
		if err := Save(cm.configPath, next); err != nil {
			return err
		}
	}
	cm.mu.Lock()
	cm.config = next
	cm.mu.Unlock()
	cm.emitChange(oldCfg, cm.Get())
	return nil
}

// Close stops the watcher.
func (cm *ConfigManager) Close() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}

func (cm *ConfigManager) emitChange(oldCfg, newCfg *Config) {
	cm.mu.RLock()
	callbacks := make([]func(*Config), len(cm.onChange))
	copy(callbacks, cm.onChange)
	publisher := cm.publisher
	path := cm.configPath
	cm.mu.RUnlock()

	for _, fn := range callbacks {
		fn(newCfg)
	}
	if publisher != nil {
		publisher.Publish(context.Background(), events.TopicConfigUpdated, ChangeEvent{
			Path:      path,
			UpdatedAt: time.Now().UTC(),
			Config:    newCfg,
			Previous:  oldCfg,
		}, nil)
	}
}

// ChangeEvent is the payload broadcast on events.TopicConfigUpdated.
type ChangeEvent struct {
	Path      string    `json:"path"`
	UpdatedAt time.Time `json:"updated_at"`
	Config    *Config   `json:"config"`
	Previous  *Config   `json:"previous,omitempty"`
}
