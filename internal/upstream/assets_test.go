package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListAssetsFollowsPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/assets", r.URL.Path)
		assert.Equal(t, "50", r.URL.Query().Get("pageSize"))
		assert.Equal(t, "ORDER_BY_LAST_USE_TIME", r.URL.Query().Get("orderBy"))
		switch r.URL.Query().Get("pageToken") {
		case "":
			_, _ = w.Write([]byte(`{"assets":[{"assetId":"a1"},{"assetId":"a2"}],"nextPageToken":"p2"}`))
		case "p2":
			_, _ = w.Write([]byte(`{"assets":[{"assetId":"a3"}]}`))
		}
	}))
	defer srv.Close()

	assets, err := newTestClient(t, srv).ListAssets(context.Background(), "tok")
	require.NoError(t, err)
	require.Len(t, assets, 3)
	assert.Equal(t, "a3", assets[2].ID)
}

func TestListAssetsStopsOnRepeatedPageToken(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"assets":[{"assetId":"x"}],"nextPageToken":"same"}`))
	}))
	defer srv.Close()

	n, err := newTestClient(t, srv).CountAssets(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDeleteAll(t *testing.T) {
	var (
		mu      sync.Mutex
		deleted []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte(`{"assets":[{"assetId":"ok1"},{"assetId":"bad"},{"name":"no-id"},{"assetId":"ok2"}]}`))
			return
		}
		assert.Equal(t, http.MethodDelete, r.Method)
		id := strings.TrimPrefix(r.URL.Path, "/rest/assets-metadata/")
		mu.Lock()
		deleted = append(deleted, id)
		mu.Unlock()
		if id == "bad" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	res := newTestClient(t, srv).DeleteAll(context.Background(), "tok")
	assert.Equal(t, DeleteAllResult{Total: 4, Success: 2, Failed: 1}, res)
	assert.Equal(t, []string{"ok1", "bad", "ok2"}, deleted)
}

func TestDeleteAllSkipsEmptyOrFailedListing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	res := newTestClient(t, srv).DeleteAll(context.Background(), "tok")
	assert.Equal(t, DeleteAllResult{Skipped: true}, res)
}
