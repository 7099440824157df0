// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package formats

import (
	"bufio"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pdiddy/nwb-convert/internal/schema"
	"github.com/pdiddy/nwb-convert/internal/session"
	"github.com/pdiddy/nwb-convert/pkg/types"
)

func init() {
	register(Descriptor{
		Name:        "neuroscope-recording",
		Modality:    ModalityRecording,
		Extensions:  []string{".dat"},
		Description: "NeuroScope wideband recording (.dat with session .xml)",
		SourceSchema: schema.Object(map[string]any{
			"file_path": schema.FilePath("path to the .dat file; the session .xml must sit beside it"),
		}, "file_path"),
		New: func(source map[string]any) (DataInterface, error) {
			path, err := stringField(source, "file_path")
			if err != nil {
				return nil, err
			}
			return NewNeuroscopeRecording(path)
		},
	})
	register(Descriptor{
		Name:        "neuroscope-lfp",
		Modality:    ModalityLFP,
		Extensions:  []string{".eeg", ".lfp"},
		Description: "NeuroScope downsampled LFP (.eeg with session .xml)",
		SourceSchema: schema.Object(map[string]any{
			"file_path": schema.FilePath("path to the .eeg file; the session .xml must sit beside it"),
		}, "file_path"),
		New: func(source map[string]any) (DataInterface, error) {
			path, err := stringField(source, "file_path")
			if err != nil {
				return nil, err
			}
			return NewNeuroscopeLFP(path)
		},
	})
	register(Descriptor{
		Name:        "neuroscope-sorting",
		Modality:    ModalitySorting,
		Extensions:  []string{".res", ".clu"},
		Description: "NeuroScope spike sorting (.res.N / .clu.N pairs)",
		SourceSchema: schema.Object(map[string]any{
			"folder_path": schema.DirPath("session folder holding .res.N and .clu.N files"),
			"keep_mua":    schema.Boolean("keep the noise/multi-unit clusters 0 and 1"),
		}, "folder_path"),
		New: func(source map[string]any) (DataInterface, error) {
			folder, err := stringField(source, "folder_path")
			if err != nil {
				return nil, err
			}
			keepMUA, err := boolField(source, "keep_mua", false)
			if err != nil {
				return nil, err
			}
			return NewNeuroscopeSorting(folder, keepMUA)
		},
	})
}

// neuroscopeParams mirrors the session .xml fields the toolkit consumes.
type neuroscopeParams struct {
	XMLName     xml.Name `xml:"parameters"`
	Acquisition struct {
		NBits         int     `xml:"nBits"`
		NChannels     int     `xml:"nChannels"`
		SamplingRate  float64 `xml:"samplingRate"`
		VoltageRange  float64 `xml:"voltageRange"`
		Amplification float64 `xml:"amplification"`
	} `xml:"acquisitionSystem"`
	FieldPotentials struct {
		LFPSamplingRate float64 `xml:"lfpSamplingRate"`
	} `xml:"fieldPotentials"`
	SpikeDetection struct {
		Groups []struct {
			Channels []int `xml:"channels>channel"`
		} `xml:"channelGroups>group"`
	} `xml:"spikeDetection"`
	Anatomical struct {
		Groups []struct {
			Channels []int `xml:"channel"`
		} `xml:"channelGroups>group"`
	} `xml:"anatomicalDescription"`
}

// sessionXMLPath infers the session .xml beside a data file, following the
// session_id naming convention (folder stem names the session).
func sessionXMLPath(dataPath string) string {
	dir := filepath.Dir(dataPath)
	return filepath.Join(dir, filepath.Base(dir)+".xml")
}

func parseNeuroscopeXML(xmlPath string) (*neuroscopeParams, error) {
	data, err := os.ReadFile(xmlPath)
	if err != nil {
		return nil, fmt.Errorf("reading session xml: %w", err)
	}
	var p neuroscopeParams
	if err := xml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing session xml %s: %w", xmlPath, err)
	}
	return &p, nil
}

// shankChannels returns the structured shank-only channel groups. Groups
// come from spikeDetection when spike sorting was run on the raw data, and
// fall back to anatomicalDescription otherwise.
func (p *neuroscopeParams) shankChannels() ([][]int, error) {
	if len(p.SpikeDetection.Groups) > 0 {
		out := make([][]int, len(p.SpikeDetection.Groups))
		for i, g := range p.SpikeDetection.Groups {
			out[i] = g.Channels
		}
		return out, nil
	}
	if len(p.Anatomical.Groups) > 0 {
		out := make([][]int, len(p.Anatomical.Groups))
		for i, g := range p.Anatomical.Groups {
			out[i] = g.Channels
		}
		return out, nil
	}
	return nil, fmt.Errorf("session xml has neither spikeDetection nor anatomicalDescription channel groups")
}

// voltsPerBit derives the conversion factor from the acquisition settings.
func (p *neuroscopeParams) voltsPerBit() float64 {
	if p.Acquisition.Amplification == 0 || p.Acquisition.NBits == 0 {
		return 1.0
	}
	return p.Acquisition.VoltageRange / p.Acquisition.Amplification /
		math.Pow(2, float64(p.Acquisition.NBits))
}

// neuroscopeBinary is the shared core of the raw and LFP interfaces: a
// flat file of interleaved little-endian int16 frames described by the
// session .xml.
type neuroscopeBinary struct {
	name       string
	filePath   string
	xmlPath    string
	sessionID  string
	params     *neuroscopeParams
	shanks     [][]int
	frames     int
	rate       float64
	seriesSpec types.SeriesSpec
	modality   Modality
}

func newNeuroscopeBinary(filePath string) (*neuroscopeBinary, error) {
	xmlPath := sessionXMLPath(filePath)
	params, err := parseNeuroscopeXML(xmlPath)
	if err != nil {
		return nil, err
	}
	shanks, err := params.shankChannels()
	if err != nil {
		return nil, err
	}
	if params.Acquisition.NChannels <= 0 {
		return nil, fmt.Errorf("session xml %s: nChannels missing", xmlPath)
	}

	info, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("data file: %w", err)
	}
	frameBytes := int64(2 * params.Acquisition.NChannels)
	if info.Size()%frameBytes != 0 {
		return nil, fmt.Errorf("%s: size %d is not a multiple of the %d-byte frame",
			filePath, info.Size(), frameBytes)
	}

	return &neuroscopeBinary{
		filePath:  filePath,
		xmlPath:   xmlPath,
		sessionID: strings.TrimSuffix(filepath.Base(xmlPath), ".xml"),
		params:    params,
		shanks:    shanks,
		frames:    int(info.Size() / frameBytes),
	}, nil
}

func (n *neuroscopeBinary) Name() string       { return n.name }
func (n *neuroscopeBinary) Modality() Modality { return n.modality }

func (n *neuroscopeBinary) Source() map[string]any {
	return map[string]any{"file_path": n.filePath}
}

func (n *neuroscopeBinary) Metadata() types.Metadata {
	groups := make([]types.ElectrodeGroup, len(n.shanks))
	for i := range n.shanks {
		groups[i] = types.ElectrodeGroup{
			Name:        fmt.Sprintf("Shank%d", i+1),
			Description: fmt.Sprintf("Shank%d electrodes", i+1),
			Device:      "NeuroScope",
		}
	}
	spec := n.seriesSpec
	spec.Rate = n.rate
	spec.Unit = "volts"
	spec.Conversion = n.params.voltsPerBit()

	return types.Metadata{
		Session: types.SessionMetadata{SessionID: n.sessionID},
		Ecephys: &types.EcephysMetadata{
			Devices: []types.Device{{
				Name:        "NeuroScope",
				Description: n.sessionID + ".xml",
			}},
			ElectrodeGroups: groups,
			Electrodes: []types.ElectrodeColumn{
				{Name: "shank_electrode_number", Description: "0-indexed channel within a shank."},
				{Name: "group_name", Description: "The name of the ElectrodeGroup this electrode is a part of."},
			},
			Series: []types.SeriesSpec{spec},
		},
	}
}

func (n *neuroscopeBinary) WriteTo(ctx context.Context, w *session.Writer, meta types.Metadata, opts WriteOptions, status io.Writer) error {
	if err := writeEcephysTables(w, meta.Ecephys, n.electrodes(), status); err != nil {
		return err
	}

	spec := pickSeries(meta.Ecephys, n.seriesSpec.Name, n.seriesSpec)
	channels := n.params.Acquisition.NChannels
	frames := opts.LimitFrames(n.frames)

	plan, err := session.PlanChunks(frames, channels, 2, opts.ChunkMB, opts.BufferGB)
	if err != nil {
		return err
	}
	if err := w.CreateSeries(spec, channels, "int16", plan); err != nil {
		return err
	}

	f, err := os.Open(n.filePath)
	if err != nil {
		return fmt.Errorf("opening data file: %w", err)
	}
	defer f.Close()

	return streamFrames(ctx, w, spec.Name, f, plan, 2*channels)
}

// electrodes builds the electrode table rows from the shank layout.
func (n *neuroscopeBinary) electrodes() []types.Electrode {
	var rows []types.Electrode
	for s, channels := range n.shanks {
		group := fmt.Sprintf("Shank%d", s+1)
		for i, ch := range channels {
			rows = append(rows, types.Electrode{
				Index: ch,
				Group: group,
				Properties: map[string]any{
					"shank_electrode_number": i,
					"group_name":             group,
				},
			})
		}
	}
	return rows
}

// NewNeuroscopeRecording opens a wideband .dat recording.
func NewNeuroscopeRecording(filePath string) (DataInterface, error) {
	n, err := newNeuroscopeBinary(filePath)
	if err != nil {
		return nil, err
	}
	n.name = "neuroscope-recording"
	n.modality = ModalityRecording
	n.rate = n.params.Acquisition.SamplingRate
	n.seriesSpec = types.SeriesSpec{
		Name:        "ElectricalSeries",
		Description: "Raw acquisition traces.",
		Kind:        types.SeriesAcquisition,
	}
	return n, nil
}

// NewNeuroscopeLFP opens a downsampled .eeg LFP file.
func NewNeuroscopeLFP(filePath string) (DataInterface, error) {
	n, err := newNeuroscopeBinary(filePath)
	if err != nil {
		return nil, err
	}
	n.name = "neuroscope-lfp"
	n.modality = ModalityLFP
	n.rate = n.params.FieldPotentials.LFPSamplingRate
	if n.rate == 0 {
		return nil, fmt.Errorf("session xml %s: lfpSamplingRate missing", n.xmlPath)
	}
	n.seriesSpec = types.SeriesSpec{
		Name:        "LFP",
		Description: "Local field potential signal.",
		Kind:        types.SeriesLFP,
	}
	return n, nil
}

// NeuroscopeSorting reads .res.N / .clu.N spike sorting output.
type NeuroscopeSorting struct {
	folderPath string
	keepMUA    bool
	rate       float64
	units      []types.Unit
}

// NewNeuroscopeSorting scans folderPath for .res.N/.clu.N pairs and loads
// the spike trains. Clusters 0 and 1 are the noise and multi-unit
// clusters by NeuroScope convention and are dropped unless keepMUA.
func NewNeuroscopeSorting(folderPath string, keepMUA bool) (*NeuroscopeSorting, error) {
	xmlPath := filepath.Join(folderPath, filepath.Base(filepath.Clean(folderPath))+".xml")
	params, err := parseNeuroscopeXML(xmlPath)
	if err != nil {
		return nil, err
	}
	if params.Acquisition.SamplingRate <= 0 {
		return nil, fmt.Errorf("session xml %s: samplingRate missing", xmlPath)
	}

	groups, err := findSortedGroups(folderPath)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("no .res.N/.clu.N pairs found in %s", folderPath)
	}

	s := &NeuroscopeSorting{
		folderPath: folderPath,
		keepMUA:    keepMUA,
		rate:       params.Acquisition.SamplingRate,
	}

	unitID := 0
	for _, g := range groups {
		res, err := readIntLines(filepath.Join(folderPath, g.resFile))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", g.resFile, err)
		}
		clu, err := readIntLines(filepath.Join(folderPath, g.cluFile))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", g.cluFile, err)
		}
		if len(clu) == 0 {
			return nil, fmt.Errorf("%s: empty cluster file", g.cluFile)
		}
		// First line of the .clu file is the cluster count.
		clu = clu[1:]
		if len(clu) != len(res) {
			return nil, fmt.Errorf("%s: %d cluster labels for %d spikes",
				g.cluFile, len(clu), len(res))
		}

		byCluster := map[int][]float64{}
		for i, c := range clu {
			if !keepMUA && (c == 0 || c == 1) {
				continue
			}
			byCluster[int(c)] = append(byCluster[int(c)], float64(res[i])/s.rate)
		}

		clusters := make([]int, 0, len(byCluster))
		for c := range byCluster {
			clusters = append(clusters, c)
		}
		sort.Ints(clusters)

		for _, c := range clusters {
			s.units = append(s.units, types.Unit{
				ID:         unitID,
				SpikeTimes: byCluster[c],
				Properties: map[string]any{
					"shank_id":   g.shank,
					"cluster_id": c,
				},
			})
			unitID++
		}
	}
	return s, nil
}

func (s *NeuroscopeSorting) Name() string       { return "neuroscope-sorting" }
func (s *NeuroscopeSorting) Modality() Modality { return ModalitySorting }

func (s *NeuroscopeSorting) Source() map[string]any {
	return map[string]any{"folder_path": s.folderPath, "keep_mua": s.keepMUA}
}

// Units exposes the loaded spike trains (used by tests and inspect).
func (s *NeuroscopeSorting) Units() []types.Unit { return s.units }

func (s *NeuroscopeSorting) Metadata() types.Metadata {
	return types.Metadata{
		Session: types.SessionMetadata{
			SessionID: filepath.Base(filepath.Clean(s.folderPath)),
		},
		Units: []types.UnitColumn{
			{Name: "shank_id", Description: "Shank group the unit was detected on."},
			{Name: "cluster_id", Description: "Original cluster label within the shank."},
		},
	}
}

func (s *NeuroscopeSorting) WriteTo(ctx context.Context, w *session.Writer, meta types.Metadata, opts WriteOptions, status io.Writer) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	fmt.Fprintf(status, "writing %d units\n", len(s.units))
	return w.AddUnits(s.units, meta.Units)
}

// sortedGroup is one .res.N/.clu.N pair.
type sortedGroup struct {
	shank   int
	resFile string
	cluFile string
}

func findSortedGroups(folderPath string) ([]sortedGroup, error) {
	entries, err := os.ReadDir(folderPath)
	if err != nil {
		return nil, fmt.Errorf("reading folder: %w", err)
	}

	res := map[int]string{}
	clu := map[int]string{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if n, ok := trailingGroupNumber(name, ".res."); ok {
			res[n] = name
		}
		if n, ok := trailingGroupNumber(name, ".clu."); ok {
			clu[n] = name
		}
	}

	var shanks []int
	for n := range res {
		if _, ok := clu[n]; ok {
			shanks = append(shanks, n)
		}
	}
	sort.Ints(shanks)

	groups := make([]sortedGroup, len(shanks))
	for i, n := range shanks {
		groups[i] = sortedGroup{shank: n, resFile: res[n], cluFile: clu[n]}
	}
	return groups, nil
}

// trailingGroupNumber extracts N from names like "session.res.3".
func trailingGroupNumber(name, marker string) (int, bool) {
	i := strings.LastIndex(name, marker)
	if i < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(name[i+len(marker):])
	if err != nil {
		return 0, false
	}
	return n, true
}

// readIntLines parses a whitespace-trimmed integer per line.
func readIntLines(path string) ([]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []int64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		n, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", len(out)+1, err)
		}
		out = append(out, n)
	}
	return out, sc.Err()
}
