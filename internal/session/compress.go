// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package session

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"

	"github.com/pdiddy/nwb-convert/pkg/types"
)

// encodeChunk compresses raw with the given codec. CompressionNone
// returns raw unchanged.
func encodeChunk(codec types.Compression, raw []byte) ([]byte, error) {
	switch codec {
	case types.CompressionNone, "":
		return raw, nil
	case types.CompressionGzip:
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(raw); err != nil {
			return nil, fmt.Errorf("gzip chunk: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("gzip chunk: %w", err)
		}
		return buf.Bytes(), nil
	case types.CompressionBrotli:
		var buf bytes.Buffer
		bw := brotli.NewWriter(&buf)
		if _, err := bw.Write(raw); err != nil {
			return nil, fmt.Errorf("brotli chunk: %w", err)
		}
		if err := bw.Close(); err != nil {
			return nil, fmt.Errorf("brotli chunk: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown compression codec %q", codec)
	}
}

// decodeChunk reverses encodeChunk.
func decodeChunk(codec types.Compression, stored []byte) ([]byte, error) {
	switch codec {
	case types.CompressionNone, "":
		return stored, nil
	case types.CompressionGzip:
		zr, err := gzip.NewReader(bytes.NewReader(stored))
		if err != nil {
			return nil, fmt.Errorf("gunzip chunk: %w", err)
		}
		defer zr.Close()
		raw, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("gunzip chunk: %w", err)
		}
		return raw, nil
	case types.CompressionBrotli:
		raw, err := io.ReadAll(brotli.NewReader(bytes.NewReader(stored)))
		if err != nil {
			return nil, fmt.Errorf("brotli decode chunk: %w", err)
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("unknown compression codec %q", codec)
	}
}

// ParseCompression validates a codec name from flags or config.
func ParseCompression(name string) (types.Compression, error) {
	switch types.Compression(name) {
	case types.CompressionNone, types.CompressionGzip, types.CompressionBrotli:
		return types.Compression(name), nil
	case "":
		return types.CompressionGzip, nil
	default:
		return "", fmt.Errorf("unknown compression codec %q (expected none, gzip, or brotli)", name)
	}
}
