package management

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"grok2api-go/internal/config"
	"grok2api-go/internal/imagine"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCacheFixture(t *testing.T) (*fixture, string) {
	base := t.TempDir()
	f := newFixture(t, twoTokens, func(c *config.Config) { c.Storage.BaseDir = base })
	dir := imagine.ImageDir(base)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	return f, dir
}

func TestLocalCacheStatsAndList(t *testing.T) {
	f, dir := newCacheFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jpg"), make([]byte, 1024*1024), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.jpg"), make([]byte, 1024*1024), 0o644))

	w := f.do(t, http.MethodGet, "/cache", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, map[string]any{"count": float64(2), "size_mb": float64(2)}, body["local_image"])
	assert.Len(t, body["online_accounts"], 2)

	w = f.do(t, http.MethodGet, "/cache/list?page=1&page_size=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, float64(2), body["total"])
	assert.Equal(t, float64(1), body["page_size"])
	items := body["items"].([]any)
	require.Len(t, items, 1)
	assert.Contains(t, items[0].(map[string]any)["view_url"], "/images/")

	w = f.do(t, http.MethodGet, "/cache/list?type=video", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLocalCacheDeleteAndClear(t *testing.T) {
	f, dir := newCacheFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jpg"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.jpg"), []byte("x"), 0o644))
	outside := filepath.Join(filepath.Dir(dir), "keep.jpg")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o644))

	w := f.do(t, http.MethodPost, "/cache/item/delete", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/cache/item/delete", map[string]string{"name": "../keep.jpg"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{"deleted": false}, decode(t, w)["result"])
	_, err := os.Stat(outside)
	assert.NoError(t, err)

	w = f.do(t, http.MethodPost, "/cache/item/delete", map[string]string{"name": "a.jpg"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{"deleted": true}, decode(t, w)["result"])

	w = f.do(t, http.MethodPost, "/cache/clear", map[string]string{"type": "video"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/cache/clear", nil)
	require.Equal(t, http.StatusOK, w.Code)
	res := decode(t, w)["result"].(map[string]any)
	assert.Equal(t, float64(1), res["count"])

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLocalCacheMissingDirIsEmpty(t *testing.T) {
	f := newFixture(t, twoTokens, func(c *config.Config) { c.Storage.BaseDir = filepath.Join(t.TempDir(), "nothing") })
	w := f.do(t, http.MethodGet, "/cache/list", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(0), body["total"])
	assert.Equal(t, []any{}, body["items"])
}
