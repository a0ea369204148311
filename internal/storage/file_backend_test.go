package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFileBackend(t *testing.T) *FileBackend {
	t.Helper()
	fb := NewFileBackend(t.TempDir())
	require.NoError(t, fb.Initialize(context.Background()))
	return fb
}

func TestFileBackend_LoadTokensMissingIsEmpty(t *testing.T) {
	fb := newTestFileBackend(t)
	doc, err := fb.LoadTokens(context.Background())
	require.NoError(t, err)
	assert.Empty(t, doc)
}

func TestFileBackend_SaveLoadTokens(t *testing.T) {
	ctx := context.Background()
	fb := newTestFileBackend(t)

	doc := Document{"ssoBasic": json.RawMessage(`[{"token":"abc","quota":80}]`)}
	require.NoError(t, fb.SaveTokens(ctx, doc))

	got, err := fb.LoadTokens(ctx)
	require.NoError(t, err)
	require.Contains(t, got, "ssoBasic")
	assert.JSONEq(t, `[{"token":"abc","quota":80}]`, string(got["ssoBasic"]))

	// no temp files left behind
	entries, err := os.ReadDir(fb.BaseDir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}
}

func TestFileBackend_StateRoundTrip(t *testing.T) {
	ctx := context.Background()
	fb := newTestFileBackend(t)

	_, err := fb.LoadState(ctx, "imagine_nsfw_state")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, fb.SaveState(ctx, "imagine_nsfw_state", []byte(`{"last_reset":1}`)))
	data, err := fb.LoadState(ctx, "imagine_nsfw_state")
	require.NoError(t, err)
	assert.JSONEq(t, `{"last_reset":1}`, string(data))

	_, err = os.Stat(filepath.Join(fb.BaseDir(), "imagine_nsfw_state.json"))
	require.NoError(t, err)
}

func TestFileBackend_RejectsTraversalNames(t *testing.T) {
	ctx := context.Background()
	fb := newTestFileBackend(t)
	require.Error(t, fb.SaveState(ctx, "../escape", []byte("{}")))
	_, err := fb.LoadState(ctx, "a/b")
	require.Error(t, err)
	require.Error(t, fb.WithLock(ctx, "..", time.Second, func(context.Context) error { return nil }))
}

func TestFileBackend_WithLockSerializes(t *testing.T) {
	fb := newTestFileBackend(t)
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := fb.WithLock(context.Background(), TokensSaveLock, 5*time.Second, func(context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestFileBackend_WithLockTimeout(t *testing.T) {
	fb := newTestFileBackend(t)
	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = fb.WithLock(context.Background(), "busy", 5*time.Second, func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	err := fb.WithLock(context.Background(), "busy", 60*time.Millisecond, func(context.Context) error {
		t.Fatal("should not run")
		return nil
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLockTimeout))
	assert.Equal(t, "lock timeout: busy", err.Error())
}

func TestFileBackend_WithLockPropagatesError(t *testing.T) {
	fb := newTestFileBackend(t)
	boom := errors.New("boom")
	err := fb.WithLock(context.Background(), TokensSaveLock, time.Second, func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
	// lock released
	require.NoError(t, fb.WithLock(context.Background(), TokensSaveLock, time.Second, func(context.Context) error { return nil }))
}

func TestDocumentClone(t *testing.T) {
	doc := Document{"a": json.RawMessage(`[1]`)}
	c := doc.Clone()
	c["a"][1] = '2'
	assert.Equal(t, `[1]`, string(doc["a"]))
	assert.NotNil(t, Document(nil).Clone())
}
