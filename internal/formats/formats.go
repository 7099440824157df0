// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package formats implements the data interfaces that read proprietary
// acquisition formats and write them into a session artifact.
// Implements: prd001-formats (R1-R6);
//
//	docs/ARCHITECTURE § Format Interfaces.
package formats

import (
	"context"
	"fmt"
	"io"

	"github.com/pdiddy/nwb-convert/internal/schema"
	"github.com/pdiddy/nwb-convert/internal/session"
	"github.com/pdiddy/nwb-convert/pkg/types"
)

// Modality categorizes a data interface by the kind of data it carries.
type Modality string

const (
	ModalityRecording    Modality = "recording"
	ModalityLFP          Modality = "lfp"
	ModalitySorting      Modality = "sorting"
	ModalityImaging      Modality = "imaging"
	ModalitySegmentation Modality = "segmentation"
)

// WriteOptions controls how a data interface streams into the artifact.
type WriteOptions struct {
	// Stub truncates series to StubFrames frames for trial conversions.
	Stub       bool
	StubFrames int

	// ChunkMB and BufferGB feed session.PlanChunks. Zero means default.
	ChunkMB  float64
	BufferGB float64
}

// DefaultStubFrames is the frame budget when stub mode is on and no
// explicit budget was given.
const DefaultStubFrames = 100

// LimitFrames applies the stub budget to a series length.
func (o WriteOptions) LimitFrames(total int) int {
	if !o.Stub {
		return total
	}
	budget := o.StubFrames
	if budget <= 0 {
		budget = DefaultStubFrames
	}
	if total > budget {
		return budget
	}
	return total
}

// DataInterface reads one source format. Construction parses headers
// eagerly, so a non-nil interface is known to point at readable data.
type DataInterface interface {
	// Name returns the registry name (e.g. "neuroscope-recording").
	Name() string

	// Modality returns the data category.
	Modality() Modality

	// Source returns the source configuration for provenance records.
	Source() map[string]any

	// Metadata returns the metadata extracted from the source headers.
	Metadata() types.Metadata

	// WriteTo streams the source data into the artifact, using the merged
	// metadata tree for names and descriptions. Progress lines go to status.
	WriteTo(ctx context.Context, w *session.Writer, meta types.Metadata, opts WriteOptions, status io.Writer) error
}

// Descriptor registers one data interface with the toolkit.
type Descriptor struct {
	Name        string
	Modality    Modality
	Extensions  []string
	Description string

	// SourceSchema describes and validates the source map for New.
	SourceSchema schema.Schema

	// New constructs the interface from a validated source map.
	New func(source map[string]any) (DataInterface, error)
}

// registry holds descriptors in registration order so the formats command
// prints a stable listing.
var registry []Descriptor

func register(d Descriptor) {
	registry = append(registry, d)
}

// Registered returns all registered descriptors.
func Registered() []Descriptor {
	out := make([]Descriptor, len(registry))
	copy(out, registry)
	return out
}

// Lookup finds a descriptor by name.
func Lookup(name string) (Descriptor, error) {
	for _, d := range registry {
		if d.Name == name {
			return d, nil
		}
	}
	return Descriptor{}, fmt.Errorf("unknown data interface %q", name)
}

// Build validates source against the descriptor's schema and constructs
// the interface.
func Build(name string, source map[string]any) (DataInterface, error) {
	d, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(d.SourceSchema, source); err != nil {
		return nil, fmt.Errorf("source for %s: %w", name, err)
	}
	iface, err := d.New(source)
	if err != nil {
		return nil, fmt.Errorf("constructing %s: %w", name, err)
	}
	return iface, nil
}

// stringField extracts a required string from a source map.
func stringField(source map[string]any, key string) (string, error) {
	v, ok := source[key]
	if !ok {
		return "", fmt.Errorf("missing source field %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("source field %q: expected string, got %T", key, v)
	}
	return s, nil
}

// floatField extracts an optional number from a source map, returning
// fallback when absent.
func floatField(source map[string]any, key string, fallback float64) (float64, error) {
	v, ok := source[key]
	if !ok {
		return fallback, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("source field %q: expected number, got %T", key, v)
	}
}

// boolField extracts an optional bool from a source map.
func boolField(source map[string]any, key string, fallback bool) (bool, error) {
	v, ok := source[key]
	if !ok {
		return fallback, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("source field %q: expected bool, got %T", key, v)
	}
	return b, nil
}
