package types

import "time"

// HTTPConfig holds shared HTTP settings used by stages that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "nwb-convert/0.1"). Per prd005-archive R4.2.
	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

// ConversionConfig holds settings for the conversion stage.
// Per prd003-conversion R4.1-R4.6.
type ConversionConfig struct {
	// OutputDir is the directory where session artifacts are written.
	OutputDir string `json:"output_dir" yaml:"output_dir"`

	// Compression selects the chunk codec: none, gzip, or brotli.
	Compression Compression `json:"compression" yaml:"compression"`

	// ChunkMB is the target uncompressed size of one stored chunk in
	// mebibytes (default 1).
	ChunkMB float64 `json:"chunk_mb" yaml:"chunk_mb"`

	// BufferGB is the upper bound on memory used per read from a source
	// file, in gibibytes (default 1).
	BufferGB float64 `json:"buffer_gb" yaml:"buffer_gb"`

	// Overwrite replaces an existing artifact instead of appending to it.
	Overwrite bool `json:"overwrite" yaml:"overwrite"`

	// Stub truncates every series to StubFrames frames, for fast trial
	// conversions before committing to a full run.
	Stub bool `json:"stub" yaml:"stub"`

	// StubFrames is the frame budget in stub mode (default 100).
	StubFrames int `json:"stub_frames" yaml:"stub_frames"`
}

// ArchiveConfig holds settings for the archive upload stage.
// Per prd005-archive R1.2, R4.1-R4.3.
type ArchiveConfig struct {
	HTTPConfig `yaml:",inline"`

	// BaseURL is the archive API root (e.g. "https://archive.example.org/api").
	BaseURL string `json:"base_url" yaml:"base_url"`

	// APIKey authenticates upload requests. Usually loaded from .secrets/.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// ChunkSizeMB is the upload part size in mebibytes (default 16).
	ChunkSizeMB int `json:"chunk_size_mb" yaml:"chunk_size_mb"`
}

// InspectorConfig holds settings for the container-based artifact inspector.
// Per prd002-metadata R5.3.
type InspectorConfig struct {
	// Image is the inspector container image.
	Image string `json:"image" yaml:"image"`
}

// PipelineConfig groups all stage configurations.
type PipelineConfig struct {
	Conversion ConversionConfig `json:"conversion" yaml:"conversion"`
	Archive    ArchiveConfig    `json:"archive" yaml:"archive"`
	Inspector  InspectorConfig  `json:"inspector" yaml:"inspector"`
}
