// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package formats

import (
	"context"
	"fmt"
	"io"

	"github.com/pdiddy/nwb-convert/internal/session"
	"github.com/pdiddy/nwb-convert/pkg/types"
)

// writeEcephysTables writes the device, electrode group, and electrode
// tables that every extracellular interface shares.
func writeEcephysTables(w *session.Writer, ecephys *types.EcephysMetadata, rows []types.Electrode, warn io.Writer) error {
	if ecephys == nil {
		return nil
	}
	for _, d := range ecephys.Devices {
		if err := w.AddDevice(d); err != nil {
			return err
		}
	}
	for _, g := range ecephys.ElectrodeGroups {
		if err := w.AddElectrodeGroup(g, warn); err != nil {
			return err
		}
	}
	if len(rows) > 0 {
		if err := w.AddElectrodes(rows, ecephys.Electrodes); err != nil {
			return err
		}
	}
	return nil
}

// pickSeries returns the series spec with the given name from the merged
// metadata, falling back to the interface's own default. User-supplied
// metadata overrides descriptions and conversion factors this way.
func pickSeries(ecephys *types.EcephysMetadata, name string, fallback types.SeriesSpec) types.SeriesSpec {
	if ecephys != nil {
		for _, s := range ecephys.Series {
			if s.Name == name {
				return s
			}
		}
	}
	return fallback
}

// streamFrames copies whole frames from r into the artifact following the
// chunk plan: one buffer-sized read pass at a time, split into chunks for
// storage. frameBytes is the byte width of one frame across all channels.
// The reader must be positioned at frame zero.
func streamFrames(ctx context.Context, w *session.Writer, series string, r io.Reader, plan session.Plan, frameBytes int) error {
	buf := make([]byte, plan.BufferFrames*frameBytes)
	written := 0
	chunk := 0
	for written < plan.TotalFrames {
		if err := ctx.Err(); err != nil {
			return err
		}
		frames := plan.BufferFrames
		if remaining := plan.TotalFrames - written; frames > remaining {
			frames = remaining
		}
		raw := buf[:frames*frameBytes]
		if _, err := io.ReadFull(r, raw); err != nil {
			return fmt.Errorf("reading frames %d-%d of %s: %w",
				written, written+frames, series, err)
		}
		for off := 0; off < frames; off += plan.ChunkFrames {
			n := plan.ChunkFrames
			if frames-off < n {
				n = frames - off
			}
			if err := w.AppendChunk(series, chunk, written+off, n,
				raw[off*frameBytes:(off+n)*frameBytes]); err != nil {
				return err
			}
			chunk++
		}
		written += frames
	}
	return nil
}
