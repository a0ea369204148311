package storage

import (
	"context"
	"testing"

	"grok2api-go/internal/config"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenFile(t *testing.T) {
	b, err := Open(context.Background(), config.StorageConfig{Backend: "file", BaseDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "file", BackendName(b))
	require.NoError(t, b.Health(context.Background()))
}

func TestOpenRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	defer mr.Close()

	b, err := Open(context.Background(), config.StorageConfig{Backend: "REDIS", RedisAddr: mr.Addr()})
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, "redis", BackendName(b))
}

func TestOpenGit(t *testing.T) {
	b, err := Open(context.Background(), config.StorageConfig{Backend: "git", BaseDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "git", BackendName(b))
}

func TestOpenErrors(t *testing.T) {
	_, err := Open(context.Background(), config.StorageConfig{Backend: "etcd"})
	require.Error(t, err)
	_, err = Open(context.Background(), config.StorageConfig{Backend: "postgres"})
	require.Error(t, err)
	_, err = Open(context.Background(), config.StorageConfig{Backend: "mongodb"})
	require.Error(t, err)
}
