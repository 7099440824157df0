// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/nwb-convert/internal/httputil"
	"github.com/pdiddy/nwb-convert/pkg/types"
)

func init() {
	httputil.RetryBaseDelay = 1 * time.Millisecond
}

// fakeArchive is an in-memory stand-in for the upload API.
type fakeArchive struct {
	mu        sync.Mutex
	chunks    map[int][]byte
	completed bool
	chunkSize int64
	rateLimit int // number of requests to 429 first
	authSeen  string
}

func (a *fakeArchive) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		defer a.mu.Unlock()

		a.authSeen = r.Header.Get("Authorization")
		if a.rateLimit > 0 {
			a.rateLimit--
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/uploads/":
			resp := map[string]any{"upload_id": "up-123"}
			if a.chunkSize > 0 {
				resp["chunk_size"] = a.chunkSize
			}
			json.NewEncoder(w).Encode(resp)

		case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/uploads/up-123/chunks/"):
			var idx int
			fmt.Sscanf(r.URL.Path, "/uploads/up-123/chunks/%d", &idx)
			body, _ := io.ReadAll(r.Body)

			sum := sha256.Sum256(body)
			if r.Header.Get("X-Chunk-Sha256") != hex.EncodeToString(sum[:]) {
				http.Error(w, "chunk digest mismatch", http.StatusBadRequest)
				return
			}
			if a.chunks == nil {
				a.chunks = map[int][]byte{}
			}
			a.chunks[idx] = body
			w.WriteHeader(http.StatusOK)

		case r.Method == http.MethodPost && r.URL.Path == "/uploads/up-123/complete":
			a.completed = true
			json.NewEncoder(w).Encode(map[string]string{"blob_id": "blob-9"})

		default:
			http.NotFound(w, r)
		}
	})
}

func (a *fakeArchive) assembled() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []byte
	for i := 0; i < len(a.chunks); i++ {
		out = append(out, a.chunks[i]...)
	}
	return out
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(types.ArchiveConfig{
		BaseURL:     url,
		APIKey:      "ak_test",
		ChunkSizeMB: 1,
		HTTPConfig:  types.HTTPConfig{UserAgent: "nwb-convert/test"},
	})
	require.NoError(t, err)
	return c
}

func writeArtifact(t *testing.T, size int) string {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i * 31)
	}
	path := filepath.Join(t.TempDir(), "ses01.nwb.db")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestClient_Upload(t *testing.T) {
	fake := &fakeArchive{chunkSize: 1024}
	ts := httptest.NewServer(fake.handler())
	defer ts.Close()

	path := writeArtifact(t, 2500) // three 1024-byte chunks
	var status bytes.Buffer

	res, err := newTestClient(t, ts.URL).Upload(context.Background(), path, &status)
	require.NoError(t, err)

	assert.Equal(t, "up-123", res.UploadID)
	assert.Equal(t, "blob-9", res.BlobID)
	assert.Equal(t, int64(2500), res.Size)
	assert.Equal(t, 3, res.Chunks)
	assert.True(t, fake.completed)
	assert.Equal(t, "token ak_test", fake.authSeen)

	want, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, want, fake.assembled())

	sum := sha256.Sum256(want)
	assert.Equal(t, hex.EncodeToString(sum[:]), res.Digest)

	assert.Contains(t, status.String(), "uploading: ses01.nwb.db (2500 bytes, 3 chunks)")
	assert.Contains(t, status.String(), "uploaded: chunk 3/3")
	assert.Contains(t, status.String(), "upload complete: blob-9")
}

func TestClient_Upload_RetriesOn429(t *testing.T) {
	fake := &fakeArchive{rateLimit: 2}
	ts := httptest.NewServer(fake.handler())
	defer ts.Close()

	path := writeArtifact(t, 100)
	res, err := newTestClient(t, ts.URL).Upload(context.Background(), path, io.Discard)
	require.NoError(t, err)
	assert.True(t, fake.completed)
	assert.Equal(t, 1, res.Chunks)
}

func TestClient_Upload_EmptyArtifactRejected(t *testing.T) {
	ts := httptest.NewServer((&fakeArchive{}).handler())
	defer ts.Close()

	path := filepath.Join(t.TempDir(), "empty.nwb.db")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	_, err := newTestClient(t, ts.URL).Upload(context.Background(), path, io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestClient_Upload_ServerErrorSurfaces(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusForbidden)
	}))
	defer ts.Close()

	path := writeArtifact(t, 64)
	_, err := newTestClient(t, ts.URL).Upload(context.Background(), path, io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestNewClient_RequiresConfig(t *testing.T) {
	_, err := NewClient(types.ArchiveConfig{APIKey: "k"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base URL")

	_, err = NewClient(types.ArchiveConfig{BaseURL: "https://archive.example.org/api"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
}
