package imagine

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
)

// CacheStats summarizes the local image directory.
type CacheStats struct {
	Count  int     `json:"count"`
	SizeMB float64 `json:"size_mb"`
}

// CachedImage is one file in the local image directory.
type CachedImage struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	MtimeMS   int64  `json:"mtime_ms"`
	ViewURL   string `json:"view_url"`
}

// CachePage is one page of ListImages, newest first.
type CachePage struct {
	Total    int           `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
	Items    []CachedImage `json:"items"`
}

// sizeMB 保留两位小数
func sizeMB(bytes int64) float64 {
	return math.Round(float64(bytes)/1024/1024*100) / 100
}

func readImages(dir string) ([]CachedImage, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]CachedImage, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, CachedImage{
			Name:      e.Name(),
			SizeBytes: info.Size(),
			MtimeMS:   info.ModTime().UnixMilli(),
			ViewURL:   imageRoute + e.Name(),
		})
	}
	return out, nil
}

// ImageStats counts the files under dir. A missing dir is empty.
func ImageStats(dir string) (CacheStats, error) {
	imgs, err := readImages(dir)
	if err != nil {
		return CacheStats{}, err
	}
	var total int64
	for _, img := range imgs {
		total += img.SizeBytes
	}
	return CacheStats{Count: len(imgs), SizeMB: sizeMB(total)}, nil
}

// ListImages pages through dir sorted by mtime, newest first. page starts at 1.
func ListImages(dir string, page, pageSize int) (CachePage, error) {
	page = max(page, 1)
	if pageSize <= 0 {
		pageSize = DefaultCachePageSize
	}
	imgs, err := readImages(dir)
	if err != nil {
		return CachePage{}, err
	}
	sort.Slice(imgs, func(i, j int) bool {
		if imgs[i].MtimeMS != imgs[j].MtimeMS {
			return imgs[i].MtimeMS > imgs[j].MtimeMS
		}
		return imgs[i].Name < imgs[j].Name
	})
	start := min((page-1)*pageSize, len(imgs))
	end := min(start+pageSize, len(imgs))
	return CachePage{
		Total:    len(imgs),
		Page:     page,
		PageSize: pageSize,
		Items:    append([]CachedImage{}, imgs[start:end]...),
	}, nil
}

// DefaultCachePageSize is the page size used when none is given.
const DefaultCachePageSize = 1000

// ClearImages removes every file under dir and reports what was removed.
func ClearImages(dir string) (CacheStats, error) {
	imgs, err := readImages(dir)
	if err != nil {
		return CacheStats{}, err
	}
	var out CacheStats
	var total int64
	for _, img := range imgs {
		if os.Remove(filepath.Join(dir, img.Name)) == nil {
			out.Count++
			total += img.SizeBytes
		}
	}
	out.SizeMB = sizeMB(total)
	return out, nil
}

// DeleteImage removes one cached file. Names that are not plain file names
// are refused; false means nothing was deleted.
func DeleteImage(dir, name string) bool {
	path, ok := ResolveImage(dir, name)
	if !ok {
		return false
	}
	return os.Remove(path) == nil
}
