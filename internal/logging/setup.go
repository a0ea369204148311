package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"grok2api-go/internal/config"

	log "github.com/sirupsen/logrus"
)

var (
	setupMu sync.Mutex
	logFile *os.File
	redact  = &redactHook{}
)

// redactedFields 这些字段里的值可能是完整 sso token
var redactedFields = []string{"token", "sso", "cookie"}

// Setup (re)configures the global logrus logger. Safe to call on every
// config reload.
func Setup(cfg *config.Config) error {
	setupMu.Lock()
	defer setupMu.Unlock()

	var lc config.LoggingConfig
	if cfg != nil {
		lc = cfg.Logging
	}

	if lc.Debug {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&log.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	}
	log.SetLevel(resolveLevel(lc))
	installRedactHook()

	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
	if lc.File == "" {
		log.SetOutput(os.Stdout)
		return nil
	}
	f, err := openLogFile(lc.File)
	if err != nil {
		log.SetOutput(os.Stdout)
		return err
	}
	logFile = f
	log.SetOutput(io.MultiWriter(os.Stdout, f))
	return nil
}

// resolveLevel: log_level 优先，debug 至少提升到 DebugLevel
func resolveLevel(lc config.LoggingConfig) log.Level {
	level := log.InfoLevel
	if lc.Level != "" {
		if parsed, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(lc.Level))); err == nil {
			level = parsed
		}
	}
	if lc.Debug && level < log.DebugLevel {
		level = log.DebugLevel
	}
	return level
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

func installRedactHook() {
	for _, h := range log.StandardLogger().Hooks[log.InfoLevel] {
		if h == redact {
			return
		}
	}
	log.AddHook(redact)
}

// redactHook masks credential-like fields before any formatter sees them.
type redactHook struct{}

func (*redactHook) Levels() []log.Level { return log.AllLevels }

func (*redactHook) Fire(e *log.Entry) error {
	for _, key := range redactedFields {
		if v, ok := e.Data[key].(string); ok {
			e.Data[key] = MaskToken(v)
		}
	}
	return nil
}
