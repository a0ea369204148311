package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

func (cm *ConfigManager) startWatcher() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.WithError(err).Warn("failed to create file watcher, falling back to polling")
		cm.startPollingWatcher()
		return
	}

	// Watch the directory too so atomic rename-based writes are seen.
	configDir := filepath.Dir(cm.configPath)
	if err := watcher.Add(configDir); err != nil {
		log.WithError(err).WithField("dir", configDir).Warn("failed to watch config directory, falling back to polling")
		watcher.Close()
		cm.startPollingWatcher()
		return
	}
	log.WithField("path", cm.configPath).Info("config watcher started using fsnotify")

	go func() {
		defer watcher.Close()

		var debounce *time.Timer
		const debounceDuration = 100 * time.Millisecond
		target := filepath.Clean(cm.configPath)

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceDuration, cm.checkAndReload)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("config watcher error")

			case <-cm.stopCh:
				if debounce != nil {
					debounce.Stop()
				}
				return
			}
		}
	}()
}

// startPollingWatcher is a fallback when fsnotify is not available
func (cm *ConfigManager) startPollingWatcher() {
	ticker := time.NewTicker(5 * time.Second)
	log.WithField("interval", "5s").Info("config watcher started using polling")

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				cm.checkAndReload()
			case <-cm.stopCh:
				return
			}
		}
	}()
}

func (cm *ConfigManager) checkAndReload() {
	if cm.configPath == "" {
		return
	}
	info, err := os.Stat(cm.configPath)
	if err != nil {
		return
	}

	cm.mu.RLock()
	lastMod := cm.lastMod
	cm.mu.RUnlock()
	if !info.ModTime().After(lastMod) {
		return
	}

	oldCfg := cm.Get()
	cm.mu.Lock()
	next, err := cm.read()
	if err != nil {
		cm.mu.Unlock()
		log.WithError(err).WithField("path", cm.configPath).Warn("failed to reload config")
		return
	}
	cm.config = next
	cm.mu.Unlock()

	newCfg := cm.Get()
	cm.emitChange(oldCfg, newCfg)
	logConfigChanges(oldCfg, newCfg)
}

func logConfigChanges(old, new *Config) {
	if old.Logging.Debug != new.Logging.Debug {
		log.WithFields(log.Fields{"field": "logging.debug", "old": old.Logging.Debug, "new": new.Logging.Debug}).Info("config changed")
	}
	if old.Token.RefreshIntervalHours != new.Token.RefreshIntervalHours {
		log.WithFields(log.Fields{"field": "token.refresh_interval_hours", "old": old.Token.RefreshIntervalHours, "new": new.Token.RefreshIntervalHours}).Info("config changed")
	}
	if old.Grok.ImagineDailyLimit != new.Grok.ImagineDailyLimit {
		log.WithFields(log.Fields{"field": "grok.imagine_sso_daily_limit", "old": old.Grok.ImagineDailyLimit, "new": new.Grok.ImagineDailyLimit}).Info("config changed")
	}
	if old.Storage.Backend != new.Storage.Backend {
		log.WithFields(log.Fields{"field": "storage.backend", "old": old.Storage.Backend, "new": new.Storage.Backend}).Warn("config changed; storage backend switch requires restart")
	}
}
