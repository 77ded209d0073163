// client_test.go - Tests fuer Hub Client und Resolve gegen einen httptest Server
package huggingface

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCommit = "c0ffee"

var testFiles = map[string]string{
	"config.json":       `{"model_type": "gemma3n"}`,
	"model.safetensors": strings.Repeat("w", 4096),
	"tokenizer.model":   "spm",
	"README.md":         "# readme",
}

type fakeHub struct {
	*httptest.Server
	apiCalls  atomic.Int32
	fileCalls atomic.Int32
	failFirst atomic.Int32 // Anzahl Datei-Anfragen die mit 500 beantwortet werden
}

func newFakeHub(t *testing.T) *fakeHub {
	h := &fakeHub{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/models/test-org/test-model/revision/{rev}", func(w http.ResponseWriter, r *http.Request) {
		h.apiCalls.Add(1)
		if r.URL.Query().Get("blobs") != "true" {
			t.Errorf("blobs=true fehlt: %s", r.URL)
		}

		var siblings []APISibling
		for name, content := range testFiles {
			siblings = append(siblings, APISibling{Filename: name, Size: int64(len(content))})
		}
		json.NewEncoder(w).Encode(APIModelInfo{ID: "test-org/test-model", SHA: testCommit, Siblings: siblings})
	})
	mux.HandleFunc("GET /test-org/test-model/resolve/{rev}/{file}", func(w http.ResponseWriter, r *http.Request) {
		h.fileCalls.Add(1)
		if r.PathValue("rev") != testCommit {
			t.Errorf("Revision = %q, erwartet %q", r.PathValue("rev"), testCommit)
		}
		if h.failFirst.Load() > 0 {
			h.failFirst.Add(-1)
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		content, ok := testFiles[r.PathValue("file")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		http.ServeContent(w, r, r.PathValue("file"), time.Time{}, strings.NewReader(content))
	})
	mux.HandleFunc("GET /api/models/gated-org/gated-model/revision/{rev}", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gated", http.StatusUnauthorized)
	})

	h.Server = httptest.NewServer(mux)
	t.Cleanup(h.Close)
	return h
}

func (h *fakeHub) client(t *testing.T, opts ...ClientOption) (*Client, string) {
	cacheDir := t.TempDir()
	opts = append([]ClientOption{WithBaseURL(h.URL), WithCacheDir(cacheDir), WithToken(""), WithRetryDelay(time.Millisecond)}, opts...)
	return NewClient(opts...), cacheDir
}

func TestResolveDownloadsAndCaches(t *testing.T) {
	hub := newFakeHub(t)
	c, cacheDir := hub.client(t)

	dir, err := c.Resolve(t.Context(), "test-org/test-model", "", nil)
	require.NoError(t, err)
	assert.Equal(t, snapshotPath(cacheDir, "test-org/test-model", testCommit), dir)

	for name, content := range testFiles {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if name == "README.md" {
			assert.True(t, errors.Is(err, os.ErrNotExist), "README.md sollte nicht geladen werden")
			continue
		}
		require.NoError(t, err, name)
		assert.Equal(t, content, string(b), name)
	}

	ref, err := os.ReadFile(filepath.Join(cacheDir, modelIDToCacheDir("test-org/test-model"), CacheRefDir, "main"))
	require.NoError(t, err)
	assert.Equal(t, testCommit, string(ref))
	assert.Equal(t, int32(3), hub.fileCalls.Load())

	// zweiter Aufruf kommt aus dem Cache
	again, err := c.Resolve(t.Context(), "test-org/test-model", "main", nil)
	require.NoError(t, err)
	assert.Equal(t, dir, again)
	assert.Equal(t, int32(1), hub.apiCalls.Load())
	assert.Equal(t, int32(3), hub.fileCalls.Load())
}

func TestResolveIncompleteSnapshot(t *testing.T) {
	hub := newFakeHub(t)
	c, cacheDir := hub.client(t)

	// abgebrochener Download einer festen Revision: nur config.json liegt im Snapshot
	snapshot := snapshotPath(cacheDir, "test-org/test-model", testCommit)
	require.NoError(t, os.MkdirAll(snapshot, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(snapshot, "config.json"), []byte(testFiles["config.json"]), 0o644))

	dir, err := c.Resolve(t.Context(), "test-org/test-model", testCommit, nil)
	require.NoError(t, err)
	assert.Equal(t, snapshot, dir)
	assert.Equal(t, int32(1), hub.apiCalls.Load())
	assert.Equal(t, int32(2), hub.fileCalls.Load(), "config.json ist vollstaendig, der Rest wird geladen")

	for _, name := range []string{"model.safetensors", "tokenizer.model"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}

	// jetzt vollstaendig
	_, err = c.Resolve(t.Context(), "test-org/test-model", testCommit, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), hub.apiCalls.Load())
	assert.Equal(t, int32(2), hub.fileCalls.Load())
}

func TestResolveFailedDownloadNotCached(t *testing.T) {
	hub := newFakeHub(t)
	hub.failFirst.Store(100)
	c, _ := hub.client(t, WithParallelism(1))

	_, err := c.Resolve(t.Context(), "test-org/test-model", "main", nil)
	require.Error(t, err)

	hub.failFirst.Store(0)
	dir, err := c.Resolve(t.Context(), "test-org/test-model", "main", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), hub.apiCalls.Load(), "fehlgeschlagener Download darf kein Cache-Treffer sein")

	b, err := os.ReadFile(filepath.Join(dir, "model.safetensors"))
	require.NoError(t, err)
	assert.Equal(t, testFiles["model.safetensors"], string(b))
}

func TestResolvePatterns(t *testing.T) {
	hub := newFakeHub(t)
	c, _ := hub.client(t)

	dir, err := c.Download(t.Context(), "test-org/test-model", "main", []string{"*.json"})
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "config.json", entries[0].Name())

	_, err = c.Download(t.Context(), "test-org/test-model", "main", []string{"*.gguf"})
	assert.ErrorIs(t, err, ErrNoFiles)
}

func TestResolveRetries(t *testing.T) {
	hub := newFakeHub(t)
	hub.failFirst.Store(2)
	c, _ := hub.client(t, WithParallelism(1))

	_, err := c.Resolve(t.Context(), "test-org/test-model", "main", []string{"config.json"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), hub.fileCalls.Load())
}

func TestResolveResumesPartialDownload(t *testing.T) {
	hub := newFakeHub(t)
	c, cacheDir := hub.client(t)

	target := filepath.Join(snapshotPath(cacheDir, "test-org/test-model", testCommit), "model.safetensors")
	require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o755))
	require.NoError(t, os.WriteFile(target+".download", []byte(testFiles["model.safetensors"][:1000]), 0o644))

	dir, err := c.Download(t.Context(), "test-org/test-model", "main", []string{"model.safetensors"})
	require.NoError(t, err)

	b, err := os.ReadFile(filepath.Join(dir, "model.safetensors"))
	require.NoError(t, err)
	assert.Equal(t, testFiles["model.safetensors"], string(b))
}

func TestResolveErrors(t *testing.T) {
	hub := newFakeHub(t)
	c, _ := hub.client(t)

	_, err := c.Resolve(t.Context(), "missing-org/missing", "main", nil)
	assert.ErrorIs(t, err, ErrModelNotFound)

	_, err = c.Resolve(t.Context(), "gated-org/gated-model", "main", nil)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Contains(t, err.Error(), "HF_TOKEN")

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)

	_, err = c.Resolve(t.Context(), "not-a-valid-id", "main", nil)
	assert.ErrorIs(t, err, ErrInvalidModelID)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err = c.Resolve(ctx, "test-org/test-model", "main", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolveLocalDirectory(t *testing.T) {
	dir := t.TempDir()
	c := NewClient(WithBaseURL("http://127.0.0.1:0"), WithCacheDir(t.TempDir()))

	got, err := c.Resolve(t.Context(), dir, "", nil)
	require.NoError(t, err)
	assert.Equal(t, dir, got)
}

func TestClientToken(t *testing.T) {
	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(APIModelInfo{ID: "a/b", Gated: "manual"})
	}))
	defer srv.Close()

	t.Setenv("HF_TOKEN", "hf_secret")
	info, err := NewClient(WithBaseURL(srv.URL)).ModelInfo(t.Context(), "a/b", "")
	require.NoError(t, err)
	assert.Equal(t, "Bearer hf_secret", auth.Load())
	assert.True(t, info.IsGated())
}

func TestDownloadGatedWithoutToken(t *testing.T) {
	var fileCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/models/google/gemma-3n-e2b-it/revision/{rev}", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(APIModelInfo{
			ID:       "google/gemma-3n-e2b-it",
			SHA:      testCommit,
			Gated:    "manual",
			Siblings: []APISibling{{Filename: "config.json", Size: 2}},
		})
	})
	mux.HandleFunc("GET /google/gemma-3n-e2b-it/resolve/{rev}/{file}", func(w http.ResponseWriter, r *http.Request) {
		fileCalls.Add(1)
		w.Write([]byte("{}"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := NewClient(WithBaseURL(srv.URL), WithCacheDir(t.TempDir()), WithToken("")).
		Resolve(t.Context(), "google/gemma-3n-e2b-it", "", nil)
	require.ErrorIs(t, err, ErrGatedModel)
	assert.Contains(t, err.Error(), "HF_TOKEN")
	assert.Zero(t, fileCalls.Load(), "ohne Token darf nichts geladen werden")

	dir, err := NewClient(WithBaseURL(srv.URL), WithCacheDir(t.TempDir()), WithToken("hf_secret")).
		Resolve(t.Context(), "google/gemma-3n-e2b-it", "", nil)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "config.json"))
}

func TestNewHTTPClientHeaderTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
			return
		}
		json.NewEncoder(w).Encode(APIModelInfo{ID: "a/b"})
	}))
	defer srv.Close()

	slow := NewClient(WithBaseURL(srv.URL), WithHTTPClient(NewHTTPClient(20*time.Millisecond)))
	_, err := slow.ModelInfo(t.Context(), "a/b", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout awaiting response headers")

	patient := NewClient(WithBaseURL(srv.URL), WithHTTPClient(NewHTTPClient(5*time.Second)))
	info, err := patient.ModelInfo(t.Context(), "a/b", "")
	require.NoError(t, err)
	assert.Equal(t, "a/b", info.ID)
}
