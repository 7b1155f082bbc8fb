package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloadWritesFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("image-bytes"))
	}))
	defer server.Close()

	ing := New(Options{Workers: 1})
	dest := filepath.Join(t.TempDir(), "img.jpg")

	require.NoError(t, ing.Enqueue(context.Background(), server.URL+"/img.jpg", dest))
	ing.Close()

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "image-bytes", string(data))
	assert.Zero(t, ing.ErrorCount())
}

func TestDownloadFailureIsCountedNotFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	ing := New(Options{Workers: 1})
	dest := filepath.Join(t.TempDir(), "img.jpg")

	require.NoError(t, ing.Enqueue(context.Background(), server.URL+"/img.jpg", dest))
	ing.Close()

	assert.NoFileExists(t, dest)
	assert.Equal(t, uint64(1), ing.ErrorCount())
}

func TestDiscardedDownloadLeavesNoFile(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write([]byte("image-bytes"))
	}))
	defer server.Close()

	ing := New(Options{Workers: 1})
	dest := filepath.Join(t.TempDir(), "img.jpg")

	require.NoError(t, ing.Enqueue(context.Background(), server.URL+"/img.jpg", dest))

	// Cancel arrives while the fetch is still in flight.
	ing.Discard(dest)
	close(release)
	ing.Close()

	assert.NoFileExists(t, dest)
}

func TestEnqueueAfterClose(t *testing.T) {
	ing := New(Options{Workers: 1})
	ing.Close()

	err := ing.Enqueue(context.Background(), "http://x/img.jpg", "img.jpg")
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestSweepRemovesStaleFiles(t *testing.T) {
	mediaRoot := t.TempDir()
	stale := filepath.Join(mediaRoot, "old.jpg")
	fresh := filepath.Join(mediaRoot, "new.jpg")
	require.NoError(t, os.WriteFile(stale, []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(fresh, []byte("b"), 0o644))

	oldTime := time.Now().Add(-3 * time.Hour)
	require.NoError(t, os.Chtimes(stale, oldTime, oldTime))

	ing := New(Options{Workers: 1})
	defer ing.Close()
	ing.Sweep(mediaRoot, 2*time.Hour)

	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh)
}
