package imagine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeImage(t *testing.T, dir, name string, size int, age time.Duration) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	ts := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, ts, ts))
}

func TestImageStats(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, dir, "a.jpg", 1024*1024, 0)
	writeImage(t, dir, "b.png", 512*1024, 0)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	stats, err := ImageStats(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Count)
	assert.Equal(t, 1.5, stats.SizeMB)

	stats, err = ImageStats(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Equal(t, CacheStats{}, stats)
}

func TestListImagesNewestFirstAndPaged(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, dir, "old.jpg", 1, 3*time.Hour)
	writeImage(t, dir, "mid.jpg", 2, 2*time.Hour)
	writeImage(t, dir, "new.jpg", 3, time.Hour)

	p, err := ListImages(dir, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Total)
	require.Len(t, p.Items, 2)
	assert.Equal(t, "new.jpg", p.Items[0].Name)
	assert.Equal(t, "/images/new.jpg", p.Items[0].ViewURL)
	assert.Equal(t, int64(3), p.Items[0].SizeBytes)
	assert.Equal(t, "mid.jpg", p.Items[1].Name)

	p, err = ListImages(dir, 2, 2)
	require.NoError(t, err)
	require.Len(t, p.Items, 1)
	assert.Equal(t, "old.jpg", p.Items[0].Name)

	p, err = ListImages(dir, 9, 2)
	require.NoError(t, err)
	assert.Empty(t, p.Items)
	assert.NotNil(t, p.Items)

	p, err = ListImages(dir, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, DefaultCachePageSize, p.PageSize)
	assert.Len(t, p.Items, 3)
}

func TestClearAndDeleteImages(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, dir, "a.jpg", 1024*1024, 0)
	writeImage(t, dir, "b.jpg", 1024*1024, 0)

	assert.False(t, DeleteImage(dir, "../a.jpg"))
	assert.False(t, DeleteImage(dir, "nope.jpg"))
	assert.True(t, DeleteImage(dir, "a.jpg"))

	stats, err := ClearImages(dir)
	require.NoError(t, err)
	assert.Equal(t, CacheStats{Count: 1, SizeMB: 1}, stats)

	left, err := ImageStats(dir)
	require.NoError(t, err)
	assert.Zero(t, left.Count)
}
