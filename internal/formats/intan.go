// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package formats

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf16"

	"github.com/pdiddy/nwb-convert/internal/schema"
	"github.com/pdiddy/nwb-convert/internal/session"
	"github.com/pdiddy/nwb-convert/pkg/types"
)

func init() {
	register(Descriptor{
		Name:        "intan",
		Modality:    ModalityRecording,
		Extensions:  []string{".rhd", ".rhs"},
		Description: "Intan RHD2000 / RHS2000 recording (single .rhd or .rhs file)",
		SourceSchema: schema.Object(map[string]any{
			"file_path": schema.FilePath("path to the .rhd or .rhs file"),
		}, "file_path"),
		New: func(source map[string]any) (DataInterface, error) {
			path, err := stringField(source, "file_path")
			if err != nil {
				return nil, err
			}
			return NewIntanRecording(path)
		},
	})
}

const (
	intanRHDMagic = 0xC6912702
	intanRHSMagic = 0xD69127AC

	// RHD 1.x stores 60 samples per data block.
	intanBlockSamples = 60

	// Amplifier LSB in microvolts.
	intanBitMicrovolts = 0.195
)

// intanChannel is one channel record from the signal group listing.
type intanChannel struct {
	nativeName  string
	customName  string
	nativeOrder int
	signalType  int
	enabled     bool
}

// port derives the electrode group from the native name prefix before the
// dash, e.g. "A-001" belongs to port "A".
func (c intanChannel) port() string {
	if i := strings.IndexByte(c.nativeName, '-'); i > 0 {
		return c.nativeName[:i]
	}
	return c.nativeName
}

// excluded reports whether the channel is a non-neural auxiliary stream.
func (c intanChannel) excluded() bool {
	for _, prefix := range []string{"AUX", "ADC", "VDD", "STIM", "ANALOG"} {
		if strings.HasPrefix(strings.ToUpper(c.nativeName), prefix) {
			return true
		}
	}
	return false
}

// intanHeader is the parsed binary header of an .rhd/.rhs file.
type intanHeader struct {
	rhs          bool
	versionMajor int
	versionMinor int
	sampleRate   float64
	notes        [3]string

	amplifier []intanChannel
	// Per-type counts of enabled channels, indexed by signal type. Needed
	// to size the interleaved data blocks.
	typeCounts   [6]int
	tempSensors  int
	headerBytes  int64
	digInSaved   bool
	digOutSaved  bool
}

type intanReader struct {
	r   *bufio.Reader
	n   int64
	err error
}

func (ir *intanReader) read(v any) {
	if ir.err != nil {
		return
	}
	if err := binary.Read(ir.r, binary.LittleEndian, v); err != nil {
		ir.err = err
		return
	}
	ir.n += int64(binary.Size(v))
}

func (ir *intanReader) u32() uint32 {
	var v uint32
	ir.read(&v)
	return v
}

func (ir *intanReader) i16() int16 {
	var v int16
	ir.read(&v)
	return v
}

func (ir *intanReader) f32() float32 {
	var v float32
	ir.read(&v)
	return v
}

// qstring reads the Qt serialization of a string: a u32 byte length
// (0xFFFFFFFF for null) followed by UTF-16LE code units.
func (ir *intanReader) qstring() string {
	length := ir.u32()
	if ir.err != nil || length == 0xFFFFFFFF || length == 0 {
		return ""
	}
	if length%2 != 0 {
		ir.err = fmt.Errorf("odd QString byte length %d", length)
		return ""
	}
	raw := make([]byte, length)
	if _, err := io.ReadFull(ir.r, raw); err != nil {
		ir.err = err
		return ""
	}
	ir.n += int64(length)

	units := make([]uint16, length/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(raw[2*i:])
	}
	return string(utf16.Decode(units))
}

// parseIntanHeader reads the header up to the start of the data blocks.
func parseIntanHeader(f *os.File) (*intanHeader, error) {
	ir := &intanReader{r: bufio.NewReader(f)}
	h := &intanHeader{}

	switch magic := ir.u32(); magic {
	case intanRHDMagic:
	case intanRHSMagic:
		h.rhs = true
	default:
		return nil, fmt.Errorf("unrecognized Intan magic number 0x%08X", magic)
	}

	h.versionMajor = int(ir.i16())
	h.versionMinor = int(ir.i16())
	if h.versionMajor >= 2 {
		return nil, fmt.Errorf("Intan file format v%d.%d is not supported (v1.x only)",
			h.versionMajor, h.versionMinor)
	}

	h.sampleRate = float64(ir.f32())

	ir.i16() // dsp_enabled
	if h.rhs {
		// actual dsp cutoff, lower, lower settle, upper; desired x4.
		for i := 0; i < 8; i++ {
			ir.f32()
		}
	} else {
		// actual dsp cutoff, lower, upper; desired x3.
		for i := 0; i < 6; i++ {
			ir.f32()
		}
	}
	ir.i16() // notch filter mode
	ir.f32() // desired impedance test frequency
	ir.f32() // actual impedance test frequency

	if h.rhs {
		ir.i16() // amp settle mode
		ir.i16() // charge recovery mode
		ir.f32() // stim step size
		ir.f32() // recovery current limit
		ir.f32() // recovery target voltage
	}

	for i := range h.notes {
		h.notes[i] = ir.qstring()
	}

	if h.rhs {
		ir.i16() // dc amplifier data saved
		ir.i16() // board mode
	} else {
		if h.versionMajor >= 1 && h.versionMinor >= 1 {
			h.tempSensors = int(ir.i16())
		}
		if h.versionMajor >= 1 && h.versionMinor >= 3 {
			ir.i16() // board mode
		}
	}

	groups := int(ir.i16())
	if ir.err != nil {
		return nil, fmt.Errorf("reading header: %w", ir.err)
	}
	if groups < 0 || groups > 64 {
		return nil, fmt.Errorf("implausible signal group count %d", groups)
	}

	for g := 0; g < groups; g++ {
		ir.qstring() // group name
		ir.qstring() // group prefix
		groupEnabled := ir.i16() != 0
		nchan := int(ir.i16())
		ir.i16() // number of amplifier channels in group

		for c := 0; c < nchan; c++ {
			ch := intanChannel{}
			ch.nativeName = ir.qstring()
			ch.customName = ir.qstring()
			ch.nativeOrder = int(ir.i16())
			ir.i16() // custom order
			ch.signalType = int(ir.i16())
			ch.enabled = ir.i16() != 0 && groupEnabled
			ir.i16() // chip channel
			if h.rhs {
				ir.i16() // command stream
			}
			ir.i16() // board stream
			ir.i16() // trigger mode
			ir.i16() // voltage trigger threshold
			ir.i16() // digital trigger channel
			ir.i16() // digital edge polarity
			ir.f32() // impedance magnitude
			ir.f32() // impedance phase

			if ir.err != nil {
				return nil, fmt.Errorf("reading channel listing: %w", ir.err)
			}
			if !ch.enabled {
				continue
			}
			if ch.signalType >= 0 && ch.signalType < len(h.typeCounts) {
				h.typeCounts[ch.signalType]++
			}
			if ch.signalType == 0 {
				h.amplifier = append(h.amplifier, ch)
			}
		}
	}
	if ir.err != nil {
		return nil, fmt.Errorf("reading header: %w", ir.err)
	}

	h.digInSaved = h.typeCounts[4] > 0
	h.digOutSaved = h.typeCounts[5] > 0
	h.headerBytes = ir.n
	return h, nil
}

// blockBytes is the size of one interleaved data block on disk.
func (h *intanHeader) blockBytes() int64 {
	n := int64(intanBlockSamples * 4) // timestamps
	n += intanBlockSamples * 2 * int64(h.typeCounts[0])
	n += (intanBlockSamples / 4) * 2 * int64(h.typeCounts[1]) // aux at rate/4
	n += 2 * int64(h.typeCounts[2])                           // supply, one per block
	n += 2 * int64(h.tempSensors)
	n += intanBlockSamples * 2 * int64(h.typeCounts[3])
	if h.digInSaved {
		n += intanBlockSamples * 2
	}
	if h.digOutSaved {
		n += intanBlockSamples * 2
	}
	return n
}

// IntanRecording reads the amplifier channels of an RHD2000/RHS2000 file.
type IntanRecording struct {
	filePath string
	header   *intanHeader
	frames   int
}

// NewIntanRecording opens and validates an .rhd/.rhs file. RHS stimulation
// data sections are not streamed yet.
// TODO: stream RHS amplifier blocks once the stim section layout is covered
// by a fixture.
func NewIntanRecording(filePath string) (*IntanRecording, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	header, err := parseIntanHeader(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filePath, err)
	}
	if len(header.amplifier) == 0 {
		return nil, fmt.Errorf("%s: no enabled amplifier channels", filePath)
	}

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	dataBytes := info.Size() - header.headerBytes
	if dataBytes < 0 {
		return nil, fmt.Errorf("%s: truncated header", filePath)
	}

	// blockBytes describes the RHD 1.x layout only; RHS data sections are
	// laid out differently, so their size is not validated and the frame
	// count stays unknown until streaming is supported.
	frames := 0
	if !header.rhs {
		block := header.blockBytes()
		if dataBytes%block != 0 {
			return nil, fmt.Errorf("%s: %d data bytes is not a whole number of %d-byte blocks",
				filePath, dataBytes, block)
		}
		frames = int(dataBytes/block) * intanBlockSamples
	}

	return &IntanRecording{
		filePath: filePath,
		header:   header,
		frames:   frames,
	}, nil
}

func (r *IntanRecording) Name() string       { return "intan" }
func (r *IntanRecording) Modality() Modality { return ModalityRecording }

func (r *IntanRecording) Source() map[string]any {
	return map[string]any{"file_path": r.filePath}
}

// Frames reports the amplifier frame count.
func (r *IntanRecording) Frames() int { return r.frames }

// ports lists the distinct electrode group names in channel order.
func (r *IntanRecording) ports() []string {
	var out []string
	seen := map[string]bool{}
	for _, ch := range r.header.amplifier {
		if ch.excluded() {
			continue
		}
		p := ch.port()
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// electrodeColumns reports which optional per-electrode columns the file
// carries: group_electrode_number only when channels span more than one
// port, custom_channel_name only when some channel was renamed in the
// acquisition software.
func (r *IntanRecording) electrodeColumns() (multiGroup, hasCustom bool) {
	for _, ch := range r.header.amplifier {
		if ch.excluded() {
			continue
		}
		if ch.customName != "" {
			hasCustom = true
		}
	}
	return len(r.ports()) > 1, hasCustom
}

func (r *IntanRecording) electrodeColumnSpecs() []types.ElectrodeColumn {
	columns := []types.ElectrodeColumn{
		{Name: "group_name", Description: "The name of the ElectrodeGroup this electrode is a part of."},
	}
	multiGroup, hasCustom := r.electrodeColumns()
	if multiGroup {
		columns = append(columns, types.ElectrodeColumn{
			Name: "group_electrode_number", Description: "0-indexed channel within a group."})
	}
	if hasCustom {
		columns = append(columns, types.ElectrodeColumn{
			Name: "custom_channel_name", Description: "Custom channel name assigned in the acquisition software."})
	}
	return columns
}

func (r *IntanRecording) Metadata() types.Metadata {
	groups := make([]types.ElectrodeGroup, 0)
	for _, p := range r.ports() {
		groups = append(groups, types.ElectrodeGroup{
			Name:        p,
			Description: fmt.Sprintf("Channels on headstage port %s", p),
			Device:      "Intan",
		})
	}

	microvoltGain, _ := GainFromUnit("uV")
	return types.Metadata{
		Session: types.SessionMetadata{Notes: strings.TrimSpace(
			strings.Join([]string{r.header.notes[0], r.header.notes[1], r.header.notes[2]}, " "))},
		Ecephys: &types.EcephysMetadata{
			Devices: []types.Device{{
				Name: "Intan", Description: "Intan recording controller", Manufacturer: "Intan",
			}},
			ElectrodeGroups: groups,
			Electrodes: r.electrodeColumnSpecs(),
			Series: []types.SeriesSpec{{
				Name:        "ElectricalSeries",
				Description: "Raw acquisition traces.",
				Kind:        types.SeriesAcquisition,
				Unit:        "volts",
				Rate:        r.header.sampleRate,
				Conversion:  intanBitMicrovolts * microvoltGain,
			}},
		},
	}
}

func (r *IntanRecording) WriteTo(ctx context.Context, w *session.Writer, meta types.Metadata, opts WriteOptions, status io.Writer) error {
	if r.header.rhs {
		return fmt.Errorf("%s: RHS amplifier data streaming is not supported yet", r.filePath)
	}

	multiGroup, hasCustom := r.electrodeColumns()
	var rows []types.Electrode
	idx := 0
	for _, ch := range r.header.amplifier {
		if ch.excluded() {
			continue
		}
		props := map[string]any{"group_name": ch.port()}
		if multiGroup {
			props["group_electrode_number"] = ch.nativeOrder
		}
		if hasCustom {
			props["custom_channel_name"] = ch.customName
		}
		rows = append(rows, types.Electrode{
			Index:      idx,
			Group:      ch.port(),
			Properties: props,
		})
		idx++
	}
	if err := writeEcephysTables(w, meta.Ecephys, rows, status); err != nil {
		return err
	}

	microvoltGain, _ := GainFromUnit("uV")
	spec := pickSeries(meta.Ecephys, "ElectricalSeries", types.SeriesSpec{
		Name: "ElectricalSeries", Kind: types.SeriesAcquisition,
		Unit: "volts", Rate: r.header.sampleRate,
		Conversion: intanBitMicrovolts * microvoltGain,
	})

	channels := len(rows)
	frames := opts.LimitFrames(r.frames)
	plan, err := session.PlanChunks(frames, channels, 2, opts.ChunkMB, opts.BufferGB)
	if err != nil {
		return err
	}
	if err := w.CreateSeries(spec, channels, "int16", plan); err != nil {
		return err
	}

	f, err := os.Open(r.filePath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", r.filePath, err)
	}
	defer f.Close()
	if _, err := f.Seek(r.header.headerBytes, io.SeekStart); err != nil {
		return err
	}
	br := bufio.NewReaderSize(f, 1<<20)

	// Blocks interleave amplifier data channel-major in 60-sample runs; the
	// artifact stores frame-major int16, so samples are transposed and
	// re-centered (unsigned with a 32768 offset on disk).
	kept := make([]int, 0, channels)
	for i, ch := range r.header.amplifier {
		if !ch.excluded() {
			kept = append(kept, i)
		}
	}

	block := make([]byte, r.header.blockBytes())
	// A block can straddle a chunk boundary, so the staging buffer holds
	// one chunk plus a block's worth of spill.
	chunkBuf := make([]byte, (plan.ChunkFrames+intanBlockSamples)*channels*2)
	buffered := 0
	written := 0
	chunk := 0

	flush := func(n int) error {
		if err := w.AppendChunk(spec.Name, chunk, written, n, chunkBuf[:n*channels*2]); err != nil {
			return err
		}
		written += n
		chunk++
		buffered -= n
		copy(chunkBuf, chunkBuf[n*channels*2:(n+buffered)*channels*2])
		return nil
	}

	for written+buffered < frames {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := io.ReadFull(br, block); err != nil {
			return fmt.Errorf("reading data block at frame %d: %w", written+buffered, err)
		}
		ampBase := intanBlockSamples * 4

		blockFrames := intanBlockSamples
		if remaining := frames - written - buffered; blockFrames > remaining {
			blockFrames = remaining
		}
		for s := 0; s < blockFrames; s++ {
			frame := buffered + s
			for c, src := range kept {
				off := ampBase + (src*intanBlockSamples+s)*2
				v := binary.LittleEndian.Uint16(block[off:])
				binary.LittleEndian.PutUint16(
					chunkBuf[2*(frame*channels+c):], uint16(int16(int32(v)-32768)))
			}
		}
		buffered += blockFrames

		for buffered >= plan.ChunkFrames {
			if err := flush(plan.ChunkFrames); err != nil {
				return err
			}
		}
	}
	if buffered > 0 {
		if err := flush(buffered); err != nil {
			return err
		}
	}
	return nil
}
