package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestMongoBackend_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("mongodb integration test skipped in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForListeningPort("27017/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("mongodb container unavailable: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "27017/tcp")
	require.NoError(t, err)

	backend := NewMongoBackend(fmt.Sprintf("mongodb://%s:%s", host, port.Port()), "grok2api_it")
	require.NoError(t, backend.Initialize(ctx))
	t.Cleanup(func() {
		_ = backend.Close()
	})

	require.NoError(t, backend.Health(ctx))

	doc, err := backend.LoadTokens(ctx)
	require.NoError(t, err)
	require.Empty(t, doc)

	require.NoError(t, backend.SaveTokens(ctx, Document{"ssoBasic": json.RawMessage(`[{"token":"m"}]`)}))
	got, err := backend.LoadTokens(ctx)
	require.NoError(t, err)
	require.JSONEq(t, `[{"token":"m"}]`, string(got["ssoBasic"]))

	_, err = backend.LoadState(ctx, "imagine_nsfw_state")
	require.ErrorIs(t, err, ErrNotFound)

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = backend.WithLock(ctx, TokensSaveLock, time.Second, func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	err = backend.WithLock(ctx, TokensSaveLock, 150*time.Millisecond, func(context.Context) error { return nil })
	close(release)
	require.True(t, errors.Is(err, ErrLockTimeout))
}
