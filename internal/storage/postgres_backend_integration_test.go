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

func TestPostgresBackend_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("postgres integration test skipped in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_DB":       "itdb",
				"POSTGRES_USER":     "ituser",
				"POSTGRES_PASSWORD": "itpass",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://ituser:itpass@%s:%s/itdb?sslmode=disable", host, port.Port())
	backend, err := NewPostgresBackend(dsn)
	require.NoError(t, err)
	require.NoError(t, backend.Initialize(ctx))
	t.Cleanup(func() {
		_ = backend.Close()
	})

	t.Run("token document", func(t *testing.T) {
		doc, err := backend.LoadTokens(ctx)
		require.NoError(t, err)
		require.Empty(t, doc)

		require.NoError(t, backend.SaveTokens(ctx, Document{"ssoBasic": json.RawMessage(`[{"token":"pg","quota":3}]`)}))
		require.NoError(t, backend.SaveTokens(ctx, Document{"ssoBasic": json.RawMessage(`[{"token":"pg","quota":2}]`)}))

		got, err := backend.LoadTokens(ctx)
		require.NoError(t, err)
		require.JSONEq(t, `[{"token":"pg","quota":2}]`, string(got["ssoBasic"]))

		hist, err := backend.History(ctx, 5)
		require.NoError(t, err)
		require.Len(t, hist, 2)
	})

	t.Run("state document", func(t *testing.T) {
		_, err := backend.LoadState(ctx, "imagine_nsfw_state")
		require.ErrorIs(t, err, ErrNotFound)
		require.NoError(t, backend.SaveState(ctx, "imagine_nsfw_state", []byte(`{"last_reset":5}`)))
		data, err := backend.LoadState(ctx, "imagine_nsfw_state")
		require.NoError(t, err)
		require.JSONEq(t, `{"last_reset":5}`, string(data))
	})

	t.Run("advisory lock", func(t *testing.T) {
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
		err := backend.WithLock(ctx, TokensSaveLock, 150*time.Millisecond, func(context.Context) error { return nil })
		close(release)
		require.True(t, errors.Is(err, ErrLockTimeout))

		require.Eventually(t, func() bool {
			return backend.WithLock(ctx, TokensSaveLock, 100*time.Millisecond, func(context.Context) error { return nil }) == nil
		}, 3*time.Second, 50*time.Millisecond)
	})
}
