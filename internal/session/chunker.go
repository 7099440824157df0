// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package session

import "fmt"

const (
	mib = 1 << 20
	gib = 1 << 30

	// DefaultChunkMB is the target uncompressed chunk size. Kept small so
	// partial reads of a series touch few blobs.
	DefaultChunkMB = 1.0

	// DefaultBufferGB bounds how much source data is held in memory per
	// read pass during conversion.
	DefaultBufferGB = 1.0
)

// Plan describes how a series is split for storage and how much of the
// source is read at a time. BufferFrames is always a whole multiple of
// ChunkFrames, and 1 <= ChunkFrames <= BufferFrames <= TotalFrames.
// Contiguous sources are read one buffer per pass; formats whose on-disk
// layout interleaves channels, blocks, or pages read chunk-aligned and
// treat BufferFrames as an upper bound.
type Plan struct {
	ChunkFrames  int
	BufferFrames int
	TotalFrames  int
}

// NumChunks returns the number of chunks the series will occupy.
func (p Plan) NumChunks() int {
	if p.ChunkFrames == 0 {
		return 0
	}
	return (p.TotalFrames + p.ChunkFrames - 1) / p.ChunkFrames
}

// PlanChunks computes a storage plan for a series of totalFrames frames,
// each frame holding channels samples of bytesPerSample bytes. chunkMB and
// bufferGB fall back to the defaults when zero or negative.
func PlanChunks(totalFrames, channels, bytesPerSample int, chunkMB, bufferGB float64) (Plan, error) {
	if totalFrames <= 0 || channels <= 0 || bytesPerSample <= 0 {
		return Plan{}, fmt.Errorf("invalid series shape: %d frames x %d channels x %d bytes",
			totalFrames, channels, bytesPerSample)
	}
	if chunkMB <= 0 {
		chunkMB = DefaultChunkMB
	}
	if bufferGB <= 0 {
		bufferGB = DefaultBufferGB
	}

	bytesPerFrame := channels * bytesPerSample

	chunkFrames := int(chunkMB * mib / float64(bytesPerFrame))
	if chunkFrames < 1 {
		chunkFrames = 1
	}
	if chunkFrames > totalFrames {
		chunkFrames = totalFrames
	}

	bufferFrames := int(bufferGB * gib / float64(bytesPerFrame))
	if bufferFrames < chunkFrames {
		bufferFrames = chunkFrames
	}
	if bufferFrames > totalFrames {
		bufferFrames = totalFrames
	}
	if bufferFrames < chunkFrames {
		chunkFrames = bufferFrames
	}

	// Buffers are read chunk-aligned so a buffer never splits a chunk.
	bufferFrames -= bufferFrames % chunkFrames

	return Plan{
		ChunkFrames:  chunkFrames,
		BufferFrames: bufferFrames,
		TotalFrames:  totalFrames,
	}, nil
}
