// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package formats

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/pdiddy/nwb-convert/internal/schema"
	"github.com/pdiddy/nwb-convert/internal/session"
	"github.com/pdiddy/nwb-convert/pkg/types"
)

func init() {
	register(Descriptor{
		Name:        "tiff-imaging",
		Modality:    ModalityImaging,
		Extensions:  []string{".tif", ".tiff"},
		Description: "Multi-page TIFF imaging stack (uncompressed)",
		SourceSchema: schema.Object(map[string]any{
			"file_path":          schema.FilePath("path to the .tif stack"),
			"sampling_frequency": schema.Number("frame rate in Hz"),
		}, "file_path", "sampling_frequency"),
		New: func(source map[string]any) (DataInterface, error) {
			path, err := stringField(source, "file_path")
			if err != nil {
				return nil, err
			}
			rate, err := floatField(source, "sampling_frequency", 0)
			if err != nil {
				return nil, err
			}
			if rate <= 0 {
				return nil, fmt.Errorf("sampling_frequency must be positive")
			}
			return NewTiffImaging(path, rate)
		},
	})
}

// TIFF tags consumed by the page walker.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagStripByteCounts = 279
)

// tiffPage is one IFD with its pixel strips located.
type tiffPage struct {
	width, height int
	bits          int
	stripOffsets  []int64
	stripCounts   []int64
}

// TiffImaging reads an uncompressed grayscale multi-page TIFF as a frame
// stack. Compressed and RGB TIFFs are rejected at open time.
type TiffImaging struct {
	filePath string
	rate     float64
	order    binary.ByteOrder
	pages    []tiffPage
}

// NewTiffImaging walks the IFD chain and validates that every page shares
// one shape and sample depth.
func NewTiffImaging(filePath string, rate float64) (*TiffImaging, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var head [8]byte
	if _, err := io.ReadFull(f, head[:]); err != nil {
		return nil, fmt.Errorf("%s: reading TIFF header: %w", filePath, err)
	}

	var order binary.ByteOrder
	switch string(head[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%s: not a TIFF file", filePath)
	}
	if order.Uint16(head[2:4]) != 42 {
		return nil, fmt.Errorf("%s: bad TIFF magic", filePath)
	}

	t := &TiffImaging{filePath: filePath, rate: rate, order: order}
	next := int64(order.Uint32(head[4:8]))
	for next != 0 {
		page, following, err := t.readIFD(f, next)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filePath, err)
		}
		t.pages = append(t.pages, page)
		next = following
	}
	if len(t.pages) == 0 {
		return nil, fmt.Errorf("%s: no pages", filePath)
	}

	first := t.pages[0]
	for i, p := range t.pages[1:] {
		if p.width != first.width || p.height != first.height || p.bits != first.bits {
			return nil, fmt.Errorf("%s: page %d shape %dx%d/%d-bit differs from page 0",
				filePath, i+1, p.height, p.width, p.bits)
		}
	}
	return t, nil
}

func (t *TiffImaging) readIFD(f *os.File, offset int64) (tiffPage, int64, error) {
	var countBuf [2]byte
	if _, err := f.ReadAt(countBuf[:], offset); err != nil {
		return tiffPage{}, 0, fmt.Errorf("reading IFD at %d: %w", offset, err)
	}
	entries := int(t.order.Uint16(countBuf[:]))

	raw := make([]byte, entries*12+4)
	if _, err := f.ReadAt(raw, offset+2); err != nil {
		return tiffPage{}, 0, fmt.Errorf("reading IFD entries: %w", err)
	}

	page := tiffPage{bits: 1, width: -1, height: -1}
	compression := int64(1)
	samplesPerPixel := int64(1)
	for i := 0; i < entries; i++ {
		e := raw[i*12 : i*12+12]
		tag := t.order.Uint16(e[0:2])
		typ := t.order.Uint16(e[2:4])
		count := t.order.Uint32(e[4:8])

		values, err := t.tagValues(f, typ, count, e[8:12])
		if err != nil {
			return tiffPage{}, 0, fmt.Errorf("tag %d: %w", tag, err)
		}
		if len(values) == 0 {
			continue
		}
		switch tag {
		case tagImageWidth:
			page.width = int(values[0])
		case tagImageLength:
			page.height = int(values[0])
		case tagBitsPerSample:
			page.bits = int(values[0])
		case tagCompression:
			compression = values[0]
		case tagSamplesPerPixel:
			samplesPerPixel = values[0]
		case tagStripOffsets:
			page.stripOffsets = values
		case tagStripByteCounts:
			page.stripCounts = values
		}
	}

	if compression != 1 {
		return tiffPage{}, 0, fmt.Errorf("compressed TIFF (scheme %d) is not supported", compression)
	}
	if samplesPerPixel != 1 {
		return tiffPage{}, 0, fmt.Errorf("%d samples per pixel; only grayscale stacks are supported", samplesPerPixel)
	}
	if page.bits != 8 && page.bits != 16 {
		return tiffPage{}, 0, fmt.Errorf("%d bits per sample; expected 8 or 16", page.bits)
	}
	if page.width <= 0 || page.height <= 0 {
		return tiffPage{}, 0, fmt.Errorf("page is missing image dimensions")
	}
	if len(page.stripOffsets) == 0 || len(page.stripOffsets) != len(page.stripCounts) {
		return tiffPage{}, 0, fmt.Errorf("page has inconsistent strip tables")
	}

	next := int64(t.order.Uint32(raw[entries*12:]))
	return page, next, nil
}

// tagValues decodes a SHORT or LONG entry value, following the offset when
// the values do not fit inline.
func (t *TiffImaging) tagValues(f *os.File, typ uint16, count uint32, inline []byte) ([]int64, error) {
	var size uint32
	switch typ {
	case 3: // SHORT
		size = 2
	case 4: // LONG
		size = 4
	default:
		return nil, nil // other types carry nothing we consume
	}

	total := size * count
	var raw []byte
	if total <= 4 {
		raw = inline[:total]
	} else {
		raw = make([]byte, total)
		if _, err := f.ReadAt(raw, int64(t.order.Uint32(inline))); err != nil {
			return nil, fmt.Errorf("reading offsite values: %w", err)
		}
	}

	out := make([]int64, count)
	for i := uint32(0); i < count; i++ {
		if typ == 3 {
			out[i] = int64(t.order.Uint16(raw[i*2:]))
		} else {
			out[i] = int64(t.order.Uint32(raw[i*4:]))
		}
	}
	return out, nil
}

func (t *TiffImaging) Name() string       { return "tiff-imaging" }
func (t *TiffImaging) Modality() Modality { return ModalityImaging }

func (t *TiffImaging) Source() map[string]any {
	return map[string]any{"file_path": t.filePath, "sampling_frequency": t.rate}
}

// Frames reports the page count.
func (t *TiffImaging) Frames() int { return len(t.pages) }

// Shape reports the per-page height and width.
func (t *TiffImaging) Shape() (height, width int) {
	return t.pages[0].height, t.pages[0].width
}

func (t *TiffImaging) Metadata() types.Metadata {
	return types.Metadata{
		Ophys: &types.OphysMetadata{
			Devices: []types.Device{{Name: "Microscope"}},
			ImagingPlanes: []types.ImagingPlane{{
				Name:        "ImagingPlane",
				Description: "Imaging plane of the TIFF stack.",
				Device:      "Microscope",
			}},
			Series: []types.SeriesSpec{{
				Name:        "TwoPhotonSeries",
				Description: "Imaging data from a TIFF stack.",
				Kind:        types.SeriesImaging,
				Rate:        t.rate,
			}},
		},
	}
}

func (t *TiffImaging) WriteTo(ctx context.Context, w *session.Writer, meta types.Metadata, opts WriteOptions, status io.Writer) error {
	if meta.Ophys != nil {
		for _, d := range meta.Ophys.Devices {
			if err := w.AddDevice(d); err != nil {
				return err
			}
		}
	}

	page := t.pages[0]
	pixels := page.width * page.height
	sampleBytes := page.bits / 8
	dtype := "uint8"
	if page.bits == 16 {
		dtype = "uint16"
	}

	spec := types.SeriesSpec{
		Name: "TwoPhotonSeries", Description: "Imaging data from a TIFF stack.",
		Kind: types.SeriesImaging, Rate: t.rate,
	}
	if meta.Ophys != nil {
		for _, s := range meta.Ophys.Series {
			if s.Name == spec.Name {
				spec = s
			}
		}
	}

	frames := opts.LimitFrames(len(t.pages))
	plan, err := session.PlanChunks(frames, pixels, sampleBytes, opts.ChunkMB, opts.BufferGB)
	if err != nil {
		return err
	}
	if err := w.CreateSeries(spec, pixels, dtype, plan); err != nil {
		return err
	}

	f, err := os.Open(t.filePath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", t.filePath, err)
	}
	defer f.Close()

	frameBytes := pixels * sampleBytes
	buf := make([]byte, plan.ChunkFrames*frameBytes)
	buffered := 0
	written := 0
	chunk := 0
	for p := 0; p < frames; p++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		dst := buf[buffered*frameBytes : (buffered+1)*frameBytes]
		if err := t.readPage(f, t.pages[p], dst); err != nil {
			return fmt.Errorf("page %d: %w", p, err)
		}
		buffered++
		if buffered == plan.ChunkFrames || p == frames-1 {
			if err := w.AppendChunk(spec.Name, chunk, written, buffered, buf[:buffered*frameBytes]); err != nil {
				return err
			}
			written += buffered
			buffered = 0
			chunk++
		}
	}
	return nil
}

// readPage concatenates a page's strips into dst.
func (t *TiffImaging) readPage(f *os.File, p tiffPage, dst []byte) error {
	pos := 0
	for i := range p.stripOffsets {
		n := int(p.stripCounts[i])
		if pos+n > len(dst) {
			return fmt.Errorf("strip data exceeds the %d-byte page", len(dst))
		}
		if _, err := f.ReadAt(dst[pos:pos+n], p.stripOffsets[i]); err != nil {
			return fmt.Errorf("reading strip %d: %w", i, err)
		}
		pos += n
	}
	if pos != len(dst) {
		return fmt.Errorf("strips cover %d of %d page bytes", pos, len(dst))
	}
	return nil
}
