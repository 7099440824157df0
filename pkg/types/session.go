// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// ConversionStatus indicates the outcome of converting one source.
type ConversionStatus string

const (
	ConversionNone   ConversionStatus = "none"
	ConversionDone   ConversionStatus = "converted"
	ConversionFailed ConversionStatus = "failed"
)

// Compression selects the codec for series chunk blobs.
// Per prd004-session R4.1-R4.3.
type Compression string

const (
	CompressionNone   Compression = "none"
	CompressionGzip   Compression = "gzip"
	CompressionBrotli Compression = "brotli"
)

// Electrode is one row of the electrodes table. Properties holds
// format-specific columns (shank_electrode_number, custom_channel_name, ...).
type Electrode struct {
	Index      int            `json:"index" yaml:"index"`
	Group      string         `json:"group" yaml:"group"`
	Location   string         `json:"location,omitempty" yaml:"location,omitempty"`
	Properties map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// Unit is one sorted spiking unit with spike times in seconds.
type Unit struct {
	ID         int            `json:"id" yaml:"id"`
	SpikeTimes []float64      `json:"spike_times" yaml:"spike_times"`
	Properties map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// ROIMask is one segmented region-of-interest image mask, stored
// row-major with the given height and width.
type ROIMask struct {
	ID     int       `json:"id" yaml:"id"`
	Height int       `json:"height" yaml:"height"`
	Width  int       `json:"width" yaml:"width"`
	Data   []float32 `json:"-" yaml:"-"`
}
