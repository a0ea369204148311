package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"grok2api-go/internal/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestCheckManagementKeyPlain(t *testing.T) {
	cfg := &Config{Security: SecurityConfig{ManagementKey: "secret"}}
	require.True(t, CheckManagementKey(cfg, "secret"))
	require.False(t, CheckManagementKey(cfg, "other"))
	require.False(t, CheckManagementKey(cfg, ""))
}

func TestCheckManagementKeyHash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)
	cfg := &Config{Security: SecurityConfig{ManagementKeyHash: string(hash)}}
	require.True(t, CheckManagementKey(cfg, "secret"))
	require.False(t, CheckManagementKey(cfg, "other"))
}

func TestCheckStreamKey(t *testing.T) {
	cfg := &Config{Security: SecurityConfig{ManagementKey: "admin", StreamKey: "viewer"}}
	assert.True(t, CheckStreamKey(cfg, "viewer"))
	assert.True(t, CheckStreamKey(cfg, "admin"))
	assert.False(t, CheckStreamKey(cfg, "nobody"))
}

func TestLoadFileOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9100
token:
  refresh_interval_hours: 2
performance:
  usage_batch_size: 7
`), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Normalize())

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Token.RefreshIntervalHours)
	assert.Equal(t, 7, cfg.Performance.UsageBatchSize)
	// untouched keys keep their defaults
	assert.Equal(t, 30, cfg.Token.ReloadIntervalSec)
	assert.Equal(t, 25, cfg.Performance.UsageMaxConcurrent)
	assert.Equal(t, "grok-3", cfg.Token.RefreshModel)
	assert.Equal(t, []int{401, 429, 403}, cfg.Grok.RetryStatusCodes)
}

func TestLoadFileMissingReturnsDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
	require.NotNil(t, cfg)
	assert.Equal(t, 8000, cfg.Server.Port)
}

func TestMergeEnvVars(t *testing.T) {
	t.Setenv("GROK2API_STORAGE_BACKEND", "REDIS")
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("GROK2API_GROK_RETRY_STATUS_CODES", "429, 503")
	t.Setenv("DEBUG", "true")

	cfg := Defaults()
	mergeEnvVars(cfg)
	require.NoError(t, cfg.Normalize())

	assert.Equal(t, "redis", cfg.Storage.Backend)
	assert.Equal(t, "redis:6380", cfg.Storage.RedisAddr)
	assert.Equal(t, []int{429, 503}, cfg.Grok.RetryStatusCodes)
	assert.True(t, cfg.Logging.Debug)
}

func TestNormalizeRejectsUnknownBackend(t *testing.T) {
	cfg := Defaults()
	cfg.Storage.Backend = "etcd"
	require.Error(t, cfg.Normalize())
}

func TestNormalizeClampsNonPositive(t *testing.T) {
	cfg := Defaults()
	cfg.Performance.AssetsBatchSize = 0
	cfg.Grok.ImagineMaxRetries = -3
	cfg.Server.BasePath = "admin//"
	require.NoError(t, cfg.Normalize())
	assert.Equal(t, 10, cfg.Performance.AssetsBatchSize)
	assert.Equal(t, 5, cfg.Grok.ImagineMaxRetries)
	assert.Equal(t, "/admin", cfg.Server.BasePath)
}

func TestConfigManagerUpdatePersistsAndPublishes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, Save(path, Defaults()))

	cm, err := NewConfigManager(path)
	require.NoError(t, err)
	defer cm.Close()

	hub := events.NewHub()
	published := make(chan ChangeEvent, 1)
	hub.Subscribe(events.TopicConfigUpdated, func(_ context.Context, evt events.Event) {
		if ce, ok := evt.Payload.(ChangeEvent); ok {
			select {
			case published <- ce:
			default:
			}
		}
	})
	cm.SetEventPublisher(hub)

	var seen int
	cm.OnChange(func(c *Config) { seen = c.Grok.ImagineDailyLimit })

	require.NoError(t, cm.Update(func(c *Config) { c.Grok.ImagineDailyLimit = 42 }))
	assert.Equal(t, 42, seen)
	assert.Equal(t, 42, cm.Get().Grok.ImagineDailyLimit)

	select {
	case ce := <-published:
		assert.Equal(t, 42, ce.Config.Grok.ImagineDailyLimit)
		assert.Equal(t, 10, ce.Previous.Grok.ImagineDailyLimit)
	case <-time.After(time.Second):
		t.Fatal("expected config.updated event")
	}

	reloaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 42, reloaded.Grok.ImagineDailyLimit)
}

func TestConfigManagerGetReturnsCopy(t *testing.T) {
	cm := NewStaticManager(nil)
	c := cm.Get()
	c.Grok.RetryStatusCodes[0] = 999
	c.Server.Port = 1
	assert.Equal(t, 401, cm.Get().Grok.RetryStatusCodes[0])
	assert.Equal(t, 8000, cm.Get().Server.Port)
}
