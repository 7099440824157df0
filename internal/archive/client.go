// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package archive uploads finished session artifacts to a data archive
// over its chunked upload API.
// Implements: prd005-archive (R1-R4);
//
//	docs/ARCHITECTURE § Archive Upload.
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
	"os"
	"path/filepath"
	"time"

	"github.com/pdiddy/nwb-convert/internal/httputil"
	"github.com/pdiddy/nwb-convert/pkg/types"
)

// DefaultChunkSizeMB is the upload part size when the config leaves it unset.
const DefaultChunkSizeMB = 16

// Client talks to the archive upload API.
type Client struct {
	cfg    types.ArchiveConfig
	client *http.Client
}

// NewClient builds an archive client from config. The API key must be set;
// it usually comes from .secrets/archive-api-key.
func NewClient(cfg types.ArchiveConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("archive base URL is not configured")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("archive API key is not configured (put it in .secrets/archive-api-key)")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// UploadResult is the archive's record of a completed upload.
type UploadResult struct {
	// UploadID is the server-side upload session ID.
	UploadID string

	// BlobID identifies the stored artifact after finalization.
	BlobID string

	// Size is the uploaded byte count.
	Size int64

	// Digest is the hex SHA-256 of the whole artifact.
	Digest string

	Chunks int
}

type createUploadRequest struct {
	FileName string `json:"file_name"`
	Size     int64  `json:"size"`
	Digest   digest `json:"digest"`
}

type digest struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

type createUploadResponse struct {
	UploadID  string `json:"upload_id"`
	ChunkSize int64  `json:"chunk_size,omitempty"`
}

type completeUploadResponse struct {
	BlobID string `json:"blob_id"`
}

// Upload pushes the artifact at path through the three-step upload flow:
// create an upload session, PUT each chunk with its own digest, then
// finalize. Progress lines go to w. Rate-limited responses are retried
// with backoff.
func (c *Client) Upload(ctx context.Context, path string, w io.Writer) (*UploadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening artifact: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	if size == 0 {
		return nil, fmt.Errorf("artifact %s is empty", path)
	}

	fullDigest, err := fileSHA256(f)
	if err != nil {
		return nil, err
	}

	chunkSize := int64(c.cfg.ChunkSizeMB)
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSizeMB
	}
	chunkSize *= 1 << 20

	created, err := c.createUpload(ctx, filepath.Base(path), size, fullDigest)
	if err != nil {
		return nil, err
	}
	// The server may dictate its own part size.
	if created.ChunkSize > 0 {
		chunkSize = created.ChunkSize
	}

	chunks := int((size + chunkSize - 1) / chunkSize)
	fmt.Fprintf(w, "uploading: %s (%d bytes, %d chunks)\n", filepath.Base(path), size, chunks)

	buf := make([]byte, chunkSize)
	for i := 0; i < chunks; i++ {
		n, err := io.ReadFull(f, buf)
		if err == io.ErrUnexpectedEOF && i == chunks-1 {
			err = nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading chunk %d: %w", i, err)
		}
		if i == chunks-1 {
			n = int(size - int64(i)*chunkSize)
		}
		if err := c.putChunk(ctx, created.UploadID, i, buf[:n]); err != nil {
			return nil, err
		}
		fmt.Fprintf(w, "uploaded: chunk %d/%d\n", i+1, chunks)
	}

	blobID, err := c.completeUpload(ctx, created.UploadID, fullDigest)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(w, "upload complete: %s\n", blobID)

	return &UploadResult{
		UploadID: created.UploadID,
		BlobID:   blobID,
		Size:     size,
		Digest:   fullDigest,
		Chunks:   chunks,
	}, nil
}

func (c *Client) createUpload(ctx context.Context, name string, size int64, sha string) (*createUploadResponse, error) {
	body, _ := json.Marshal(createUploadRequest{
		FileName: name,
		Size:     size,
		Digest:   digest{Algorithm: "sha256", Value: sha},
	})

	req, err := c.newRequest(ctx, http.MethodPost, "/uploads/", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httputil.DoWithRetry(ctx, c.client, req, 0)
	if err != nil {
		return nil, fmt.Errorf("creating upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, apiError("creating upload", resp)
	}

	var out createUploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding upload session: %w", err)
	}
	if out.UploadID == "" {
		return nil, fmt.Errorf("archive returned no upload ID")
	}
	return &out, nil
}

func (c *Client) putChunk(ctx context.Context, uploadID string, index int, chunk []byte) error {
	sum := sha256.Sum256(chunk)

	url := fmt.Sprintf("/uploads/%s/chunks/%d", uploadID, index)
	req, err := c.newRequest(ctx, http.MethodPut, url, bytes.NewReader(chunk))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Chunk-Sha256", hex.EncodeToString(sum[:]))

	resp, err := httputil.DoWithRetry(ctx, c.client, req, 0)
	if err != nil {
		return fmt.Errorf("uploading chunk %d: %w", index, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return apiError(fmt.Sprintf("uploading chunk %d", index), resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) completeUpload(ctx context.Context, uploadID, sha string) (string, error) {
	body, _ := json.Marshal(map[string]any{
		"digest": digest{Algorithm: "sha256", Value: sha},
	})

	req, err := c.newRequest(ctx, http.MethodPost, "/uploads/"+uploadID+"/complete", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httputil.DoWithRetry(ctx, c.client, req, 0)
	if err != nil {
		return "", fmt.Errorf("finalizing upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", apiError("finalizing upload", resp)
	}

	var out completeUploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding completion: %w", err)
	}
	return out.BlobID, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "token "+c.cfg.APIKey)
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	return req, nil
}

func apiError(action string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%s: archive returned %s: %s", action, resp.Status, bytes.TrimSpace(snippet))
}

// fileSHA256 hashes the whole file and rewinds it.
func fileSHA256(f *os.File) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing artifact: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
