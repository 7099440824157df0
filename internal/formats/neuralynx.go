// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package formats

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/charmap"

	"github.com/pdiddy/nwb-convert/internal/schema"
	"github.com/pdiddy/nwb-convert/internal/session"
	"github.com/pdiddy/nwb-convert/pkg/types"
)

func init() {
	register(Descriptor{
		Name:        "neuralynx",
		Modality:    ModalityRecording,
		Extensions:  []string{".ncs"},
		Description: "Neuralynx Cheetah continuous recording (folder of .ncs files)",
		SourceSchema: schema.Object(map[string]any{
			"folder_path": schema.DirPath("session folder holding one .ncs file per channel"),
		}, "folder_path"),
		New: func(source map[string]any) (DataInterface, error) {
			folder, err := stringField(source, "folder_path")
			if err != nil {
				return nil, err
			}
			return NewNeuralynxRecording(folder)
		},
	})
}

// ncsHeaderBytes is the fixed size of the .ncs text header.
const ncsHeaderBytes = 16 * 1024

// ncsRecordBytes is the on-disk record size: an 8-byte timestamp, three
// 4-byte fields, then 512 int16 samples.
const (
	ncsRecordBytes     = 1044
	ncsSamplesPerRec   = 512
	ncsRecordHeadBytes = 20
)

// ncsHeader is the parsed text header of one .ncs file.
type ncsHeader struct {
	fields map[string]string
	lines  []string
}

// parseNCSHeader decodes the 16 KiB latin1 text header. Keys are the
// "-Key value" lines; the raw lines are kept for the legacy date format.
func parseNCSHeader(raw []byte) (*ncsHeader, error) {
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding header text: %w", err)
	}
	text := strings.TrimRight(string(decoded), "\x00")

	h := &ncsHeader{fields: map[string]string{}}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r ")
		if line == "" {
			continue
		}
		h.lines = append(h.lines, line)
		if !strings.HasPrefix(line, "-") {
			continue
		}
		key, value, _ := strings.Cut(line[1:], " ")
		h.fields[key] = strings.TrimSpace(value)
	}
	return h, nil
}

// startTime extracts the recording open time. Cheetah 3.4+ headers carry a
// -TimeCreated field; Cheetah 5.4-era headers bury the date in a
// "## Time Opened" comment line instead.
func (h *ncsHeader) startTime() (time.Time, bool) {
	if v, ok := h.fields["TimeCreated"]; ok {
		if t, err := time.Parse("2006/01/02 15:04:05", v); err == nil {
			return t.UTC(), true
		}
	}
	for _, line := range h.lines {
		if !strings.Contains(line, "Time Opened") {
			continue
		}
		if t, ok := parseLegacyOpened(line); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseLegacyOpened parses lines like
// "## Time Opened (m/d/y): 2/16/2017  (h:m:s.ms) 17:56:4.79".
func parseLegacyOpened(line string) (time.Time, bool) {
	var datePart, timePart string
	for _, f := range strings.Fields(line) {
		if strings.Count(f, "/") == 2 {
			datePart = f
		}
		if strings.Count(f, ":") == 2 {
			timePart = f
		}
	}
	if datePart == "" || timePart == "" {
		return time.Time{}, false
	}

	d := strings.Split(datePart, "/")
	month, err1 := strconv.Atoi(d[0])
	day, err2 := strconv.Atoi(d[1])
	year, err3 := strconv.Atoi(d[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, false
	}

	c := strings.Split(timePart, ":")
	hour, err1 := strconv.Atoi(c[0])
	minute, err2 := strconv.Atoi(c[1])
	secs, err3 := strconv.ParseFloat(c[2], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, false
	}

	sec := int(secs)
	nsec := int((secs - float64(sec)) * 1e9)
	return time.Date(year, time.Month(month), day, hour, minute, sec, nsec, time.UTC), true
}

// filtering collects the Dsp* header fields into a JSON object, preserving
// the acquisition-side filter settings on each channel.
func (h *ncsHeader) filtering() string {
	dsp := map[string]string{}
	for k, v := range h.fields {
		if strings.HasPrefix(k, "Dsp") {
			dsp[k] = v
		}
	}
	if len(dsp) == 0 {
		return ""
	}
	out, _ := json.Marshal(dsp)
	return string(out)
}

func (h *ncsHeader) float(key string) (float64, bool) {
	v, ok := h.fields[key]
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// ncsChannel is one .ncs file of a session.
type ncsChannel struct {
	path      string
	name      string
	header    *ncsHeader
	frames    int
	rate      float64
	bitVolts  float64
	filtering string
}

func openNCSChannel(path string) (*ncsChannel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	raw := make([]byte, ncsHeaderBytes)
	if _, err := io.ReadFull(f, raw); err != nil {
		return nil, fmt.Errorf("%s: reading header: %w", path, err)
	}
	header, err := parseNCSHeader(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	dataBytes := info.Size() - ncsHeaderBytes
	if dataBytes < 0 || dataBytes%ncsRecordBytes != 0 {
		return nil, fmt.Errorf("%s: %d data bytes is not a whole number of %d-byte records",
			path, dataBytes, ncsRecordBytes)
	}
	nrec := int(dataBytes / ncsRecordBytes)

	frames := 0
	rate := 0.0
	if nrec > 0 {
		// Sampling rate comes from the first record; the last record's valid
		// count trims any partial tail.
		var head [ncsRecordHeadBytes]byte
		if _, err := f.ReadAt(head[:], ncsHeaderBytes); err != nil {
			return nil, fmt.Errorf("%s: reading first record: %w", path, err)
		}
		rate = float64(binary.LittleEndian.Uint32(head[12:16]))

		if _, err := f.ReadAt(head[:], ncsHeaderBytes+int64(nrec-1)*ncsRecordBytes); err != nil {
			return nil, fmt.Errorf("%s: reading last record: %w", path, err)
		}
		lastValid := int(binary.LittleEndian.Uint32(head[16:20]))
		if lastValid > ncsSamplesPerRec {
			return nil, fmt.Errorf("%s: last record claims %d valid samples", path, lastValid)
		}
		frames = (nrec-1)*ncsSamplesPerRec + lastValid
	}
	if hdrRate, ok := header.float("SamplingFrequency"); ok && hdrRate > 0 {
		rate = hdrRate
	}

	name := header.fields["AcqEntName"]
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	bitVolts, _ := header.float("ADBitVolts")

	return &ncsChannel{
		path:      path,
		name:      name,
		header:    header,
		frames:    frames,
		rate:      rate,
		bitVolts:  bitVolts,
		filtering: header.filtering(),
	}, nil
}

// readSamples copies count int16 samples starting at sample index start,
// skipping the 20-byte record headers.
func (c *ncsChannel) readSamples(f *os.File, start, count int, dst []int16) error {
	for count > 0 {
		rec := start / ncsSamplesPerRec
		within := start % ncsSamplesPerRec
		n := ncsSamplesPerRec - within
		if n > count {
			n = count
		}

		off := int64(ncsHeaderBytes) + int64(rec)*ncsRecordBytes +
			ncsRecordHeadBytes + int64(within)*2
		raw := make([]byte, n*2)
		if _, err := f.ReadAt(raw, off); err != nil {
			return fmt.Errorf("%s: reading record %d: %w", c.path, rec, err)
		}
		for i := 0; i < n; i++ {
			dst[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
		}

		dst = dst[n:]
		start += n
		count -= n
	}
	return nil
}

// NeuralynxRecording reads a folder of Cheetah .ncs files, one channel per
// file, ordered naturally by file name.
type NeuralynxRecording struct {
	folderPath string
	channels   []*ncsChannel
	frames     int
	rate       float64
	start      time.Time
	uuid       string
}

// NewNeuralynxRecording scans folderPath for .ncs files and validates that
// they form one coherent recording.
func NewNeuralynxRecording(folderPath string) (*NeuralynxRecording, error) {
	entries, err := os.ReadDir(folderPath)
	if err != nil {
		return nil, fmt.Errorf("reading folder: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".ncs") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no .ncs files in %s", folderPath)
	}
	sort.Slice(names, func(i, j int) bool { return natLess(names[i], names[j]) })

	r := &NeuralynxRecording{folderPath: folderPath}
	for _, name := range names {
		ch, err := openNCSChannel(filepath.Join(folderPath, name))
		if err != nil {
			return nil, err
		}
		r.channels = append(r.channels, ch)
	}

	first := r.channels[0]
	r.frames = first.frames
	r.rate = first.rate
	r.uuid = first.header.fields["SessionUUID"]
	if t, ok := first.header.startTime(); ok {
		r.start = t
	}

	for _, ch := range r.channels[1:] {
		if ch.rate != first.rate {
			return nil, fmt.Errorf("%s: sampling rate %g differs from %s (%g)",
				ch.path, ch.rate, first.path, first.rate)
		}
		if ch.frames < r.frames {
			r.frames = ch.frames
		}
	}
	return r, nil
}

func (r *NeuralynxRecording) Name() string       { return "neuralynx" }
func (r *NeuralynxRecording) Modality() Modality { return ModalityRecording }

func (r *NeuralynxRecording) Source() map[string]any {
	return map[string]any{"folder_path": r.folderPath}
}

// Frames reports the common frame count across channels.
func (r *NeuralynxRecording) Frames() int { return r.frames }

func (r *NeuralynxRecording) Metadata() types.Metadata {
	conversion := r.channels[0].bitVolts

	columns := []types.ElectrodeColumn{
		{Name: "custom_channel_name", Description: "Channel name assigned by the acquisition system."},
		{Name: "group_name", Description: "The name of the ElectrodeGroup this electrode is a part of."},
	}
	hasFiltering := false
	for _, ch := range r.channels {
		if ch.filtering != "" {
			hasFiltering = true
			break
		}
	}
	if hasFiltering {
		columns = append(columns, types.ElectrodeColumn{
			Name: "filtering", Description: "DSP filter settings from the .ncs header, as JSON.",
		})
	}

	return types.Metadata{
		Session: types.SessionMetadata{
			Identifier: r.uuid,
			StartTime:  r.start,
			SessionID:  filepath.Base(filepath.Clean(r.folderPath)),
		},
		Ecephys: &types.EcephysMetadata{
			Devices: []types.Device{{Name: "Neuralynx", Manufacturer: "Neuralynx"}},
			ElectrodeGroups: []types.ElectrodeGroup{{
				Name: "Group1", Description: "Neuralynx continuous channels", Device: "Neuralynx",
			}},
			Electrodes: columns,
			Series: []types.SeriesSpec{{
				Name:        "ElectricalSeries",
				Description: "Raw acquisition traces.",
				Kind:        types.SeriesAcquisition,
				Unit:        "volts",
				Rate:        r.rate,
				Conversion:  conversion,
			}},
		},
	}
}

func (r *NeuralynxRecording) WriteTo(ctx context.Context, w *session.Writer, meta types.Metadata, opts WriteOptions, status io.Writer) error {
	rows := make([]types.Electrode, len(r.channels))
	for i, ch := range r.channels {
		props := map[string]any{
			"custom_channel_name": ch.name,
			"group_name":          "Group1",
		}
		if ch.filtering != "" {
			props["filtering"] = ch.filtering
		}
		rows[i] = types.Electrode{Index: i, Group: "Group1", Properties: props}
	}
	if err := writeEcephysTables(w, meta.Ecephys, rows, status); err != nil {
		return err
	}

	spec := pickSeries(meta.Ecephys, "ElectricalSeries", types.SeriesSpec{
		Name: "ElectricalSeries", Kind: types.SeriesAcquisition,
		Unit: "volts", Rate: r.rate, Conversion: r.channels[0].bitVolts,
	})
	channels := len(r.channels)
	frames := opts.LimitFrames(r.frames)

	plan, err := session.PlanChunks(frames, channels, 2, opts.ChunkMB, opts.BufferGB)
	if err != nil {
		return err
	}
	if err := w.CreateSeries(spec, channels, "int16", plan); err != nil {
		return err
	}

	files := make([]*os.File, channels)
	for i, ch := range r.channels {
		f, err := os.Open(ch.path)
		if err != nil {
			return fmt.Errorf("opening %s: %w", ch.path, err)
		}
		defer f.Close()
		files[i] = f
	}

	// Channels live in separate files, so each chunk is gathered per
	// channel and interleaved into frame order before storage.
	column := make([]int16, plan.ChunkFrames)
	raw := make([]byte, plan.ChunkFrames*channels*2)
	written := 0
	chunk := 0
	for written < frames {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := plan.ChunkFrames
		if remaining := frames - written; n > remaining {
			n = remaining
		}
		for c, ch := range r.channels {
			if err := ch.readSamples(files[c], written, n, column[:n]); err != nil {
				return err
			}
			for i := 0; i < n; i++ {
				binary.LittleEndian.PutUint16(raw[2*(i*channels+c):], uint16(column[i]))
			}
		}
		if err := w.AppendChunk(spec.Name, chunk, written, n, raw[:n*channels*2]); err != nil {
			return err
		}
		written += n
		chunk++
	}
	return nil
}
