// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package converter orchestrates one or more data interfaces into a single
// session artifact.
// Implements: prd003-converter (R1, R2, R3);
//
//	docs/ARCHITECTURE § Converter.
package converter

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/nwb-convert/internal/formats"
	"github.com/pdiddy/nwb-convert/internal/session"
	"github.com/pdiddy/nwb-convert/pkg/types"
)

// NamedInterface pairs a user-chosen label with a constructed data
// interface. Labels key per-interface options and appear in status output.
type NamedInterface struct {
	Label     string
	Interface formats.DataInterface
}

// Converter runs a fixed set of data interfaces against one artifact.
type Converter struct {
	interfaces []NamedInterface
}

// New builds a converter. Labels must be unique and non-empty.
func New(interfaces ...NamedInterface) (*Converter, error) {
	if len(interfaces) == 0 {
		return nil, fmt.Errorf("at least one data interface is required")
	}
	seen := map[string]bool{}
	for _, ni := range interfaces {
		if ni.Label == "" {
			return nil, fmt.Errorf("data interface label must not be empty")
		}
		if seen[ni.Label] {
			return nil, fmt.Errorf("duplicate data interface label %q", ni.Label)
		}
		seen[ni.Label] = true
		if ni.Interface == nil {
			return nil, fmt.Errorf("data interface %q is nil", ni.Label)
		}
	}
	return &Converter{interfaces: interfaces}, nil
}

// InterfaceSpec is one entry of a conversion spec file.
type InterfaceSpec struct {
	Label     string         `yaml:"name"`
	Interface string         `yaml:"interface"`
	Source    map[string]any `yaml:"source"`
}

// Spec is the YAML conversion spec consumed by the convert command: which
// interfaces to run and where their data lives.
type Spec struct {
	Interfaces []InterfaceSpec `yaml:"interfaces"`
}

// LoadSpec reads and parses a conversion spec file.
func LoadSpec(path string) (*Spec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading conversion spec: %w", err)
	}
	var s Spec
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parsing conversion spec %s: %w", path, err)
	}
	if len(s.Interfaces) == 0 {
		return nil, fmt.Errorf("conversion spec %s lists no interfaces", path)
	}
	return &s, nil
}

// FromSpec validates each source against its interface schema and builds
// the converter. Construction opens and checks every source up front, so
// a returned converter is known to point at readable data.
func FromSpec(s *Spec) (*Converter, error) {
	named := make([]NamedInterface, 0, len(s.Interfaces))
	for _, is := range s.Interfaces {
		iface, err := formats.Build(is.Interface, is.Source)
		if err != nil {
			return nil, fmt.Errorf("interface %q: %w", is.Label, err)
		}
		label := is.Label
		if label == "" {
			label = is.Interface
		}
		named = append(named, NamedInterface{Label: label, Interface: iface})
	}
	return New(named...)
}

// FromPaths detects the data interface for each path and builds the
// converter. Labels default to the interface name, numbered when the same
// interface appears more than once.
func FromPaths(paths ...string) (*Converter, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("at least one data path is required")
	}
	named := make([]NamedInterface, 0, len(paths))
	counts := map[string]int{}
	for _, p := range paths {
		det, err := formats.Detect(p)
		if err != nil {
			return nil, err
		}
		iface, err := formats.Build(det.Interface, det.Source)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		label := det.Interface
		counts[label]++
		if n := counts[label]; n > 1 {
			label = fmt.Sprintf("%s-%d", label, n)
		}
		named = append(named, NamedInterface{Label: label, Interface: iface})
	}
	return New(named...)
}

// Interfaces returns the converter's interfaces in run order.
func (c *Converter) Interfaces() []NamedInterface {
	out := make([]NamedInterface, len(c.interfaces))
	copy(out, c.interfaces)
	return out
}

// BatchResult holds the outcome of one conversion run.
type BatchResult struct {
	Converted int
	Failed    int
}

// Total returns the number of interfaces processed.
func (r BatchResult) Total() int {
	return r.Converted + r.Failed
}

// HasFailures reports whether any interface failed.
func (r BatchResult) HasFailures() bool {
	return r.Failed > 0
}

// RunOptions controls one conversion run.
type RunOptions struct {
	// OutputPath is the artifact file to write.
	OutputPath string

	// Overwrite replaces an existing artifact; without it new series are
	// appended to the existing file.
	Overwrite bool

	// Stub truncates series for a fast trial conversion.
	Stub       bool
	StubFrames int

	Compression types.Compression
	ChunkMB     float64
	BufferGB    float64

	// Tool is the provenance string recorded with each run (name and
	// version of the binary).
	Tool string
}

// Run writes the merged metadata and every interface's data into the
// artifact, printing per-interface status lines to w. A failing interface
// is recorded and skipped; the remaining interfaces still run.
func (c *Converter) Run(ctx context.Context, meta types.Metadata, opts RunOptions, w io.Writer) (BatchResult, error) {
	var result BatchResult

	if err := ValidateMetadata(meta); err != nil {
		return result, err
	}

	codec, err := session.ParseCompression(string(opts.Compression))
	if err != nil {
		return result, err
	}

	sw, err := session.Create(opts.OutputPath, opts.Overwrite, codec)
	if err != nil {
		return result, err
	}
	defer sw.Close()

	if err := sw.SetSession(meta.Session, meta.Subject); err != nil {
		return result, err
	}

	writeOpts := formats.WriteOptions{
		Stub:       opts.Stub,
		StubFrames: opts.StubFrames,
		ChunkMB:    opts.ChunkMB,
		BufferGB:   opts.BufferGB,
	}

	for _, ni := range c.interfaces {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		fmt.Fprintf(w, "converting: %s (%s)\n", ni.Label, ni.Interface.Name())

		status := types.ConversionDone
		if err := ni.Interface.WriteTo(ctx, sw, meta, writeOpts, w); err != nil {
			fmt.Fprintf(w, "failed:  %s (%v)\n", ni.Label, err)
			status = types.ConversionFailed
			result.Failed++
		} else {
			fmt.Fprintf(w, "converted: %s\n", ni.Label)
			result.Converted++
		}

		if err := sw.RecordRun(session.RunRecord{
			Tool:      opts.Tool,
			Interface: ni.Interface.Name(),
			Source:    ni.Interface.Source(),
			Stub:      opts.Stub,
			Status:    status,
		}); err != nil {
			return result, err
		}
	}

	fmt.Fprintf(w, "\nConversion summary: %d converted, %d failed (total: %d)\n",
		result.Converted, result.Failed, result.Total())
	return result, nil
}
