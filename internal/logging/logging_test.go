package logging

import (
	"os"
	"path/filepath"
	"testing"

	"grok2api-go/internal/config"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "abcdefgh...", MaskToken("sso=abcdefghijklmnop"))
	assert.Equal(t, "short", MaskToken("short"))
	assert.Equal(t, "abcdefgh...0123456789abcdef", MaskTokenLong("abcdefghXXXX0123456789abcdef"))
	assert.Equal(t, "tiny", MaskTokenLong("tiny"))
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "aborted", ErrorKind(0, true))
	assert.Equal(t, "auth", ErrorKind(401, false))
	assert.Equal(t, "rate_limited", ErrorKind(429, false))
	assert.Equal(t, "upstream", ErrorKind(502, true))
	assert.Equal(t, "server_error", ErrorKind(503, true))
	assert.Equal(t, "client_error", ErrorKind(404, false))
	assert.Equal(t, "ok", ErrorKind(200, false))
}

func TestSetupWritesLogFile(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.Logging.File = filepath.Join(dir, "logs", "app.log")
	cfg.Logging.Level = "warn"
	require.NoError(t, Setup(cfg))
	t.Cleanup(func() { _ = Setup(nil) })

	assert.Equal(t, log.WarnLevel, log.GetLevel())
	log.Warn("written to file")

	data, err := os.ReadFile(cfg.Logging.File)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}

func TestResolveLevel(t *testing.T) {
	assert.Equal(t, log.InfoLevel, resolveLevel(config.LoggingConfig{}))
	assert.Equal(t, log.ErrorLevel, resolveLevel(config.LoggingConfig{Level: " ERROR "}))
	assert.Equal(t, log.DebugLevel, resolveLevel(config.LoggingConfig{Level: "warn", Debug: true}))
	assert.Equal(t, log.TraceLevel, resolveLevel(config.LoggingConfig{Level: "trace", Debug: true}))
	assert.Equal(t, log.InfoLevel, resolveLevel(config.LoggingConfig{Level: "loud"}))
}

func TestSetupRedactsTokenFields(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.Logging.File = filepath.Join(dir, "app.log")
	require.NoError(t, Setup(cfg))
	require.NoError(t, Setup(cfg))
	t.Cleanup(func() { _ = Setup(nil) })

	log.WithField("token", "sso=abcdefghijklmnopqrstuvwxyz").Info("refreshed")

	data, err := os.ReadFile(cfg.Logging.File)
	require.NoError(t, err)
	assert.Contains(t, string(data), "abcdefgh...")
	assert.NotContains(t, string(data), "ijklmnopqrstuvwxyz")
}
