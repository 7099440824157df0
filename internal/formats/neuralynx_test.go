// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package formats

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/nwb-convert/internal/session"
)

// writeNCS builds a minimal .ncs file: the padded 16 KiB text header
// followed by 512-sample records, the last one possibly partial.
func writeNCS(t *testing.T, path, acqName string, headerExtra []string, samples []int16) {
	t.Helper()

	lines := []string{
		"######## Neuralynx Data File Header",
		"-FileVersion 3.4",
		"-SamplingFrequency 32000",
		"-ADBitVolts 0.000000036621",
		"-AcqEntName " + acqName,
	}
	lines = append(lines, headerExtra...)
	header := make([]byte, ncsHeaderBytes)
	copy(header, []byte(joinCRLF(lines)))

	var buf bytes.Buffer
	buf.Write(header)

	for start := 0; start < len(samples); start += ncsSamplesPerRec {
		end := start + ncsSamplesPerRec
		if end > len(samples) {
			end = len(samples)
		}
		rec := make([]byte, ncsRecordBytes)
		binary.LittleEndian.PutUint64(rec[0:8], uint64(start))       // timestamp
		binary.LittleEndian.PutUint32(rec[8:12], 0)                  // channel
		binary.LittleEndian.PutUint32(rec[12:16], 32000)             // frequency
		binary.LittleEndian.PutUint32(rec[16:20], uint32(end-start)) // valid samples
		for i, s := range samples[start:end] {
			binary.LittleEndian.PutUint16(rec[ncsRecordHeadBytes+2*i:], uint16(s))
		}
		buf.Write(rec)
	}
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func joinCRLF(lines []string) string {
	var b bytes.Buffer
	for _, l := range lines {
		b.WriteString(l)
		b.WriteString("\r\n")
	}
	return b.String()
}

func rampSamples(n int, offset int16) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(i%200) + offset
	}
	return out
}

func TestNeuralynx_NaturalChannelOrder(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"CSC10", "CSC2", "CSC1"} {
		writeNCS(t, filepath.Join(dir, name+".ncs"), name, nil, rampSamples(600, 0))
	}

	r, err := NewNeuralynxRecording(dir)
	require.NoError(t, err)
	require.Len(t, r.channels, 3)
	assert.Equal(t, "CSC1", r.channels[0].name)
	assert.Equal(t, "CSC2", r.channels[1].name)
	assert.Equal(t, "CSC10", r.channels[2].name)
	assert.Equal(t, 600, r.Frames())
}

func TestNeuralynx_HeaderMetadata(t *testing.T) {
	dir := t.TempDir()
	writeNCS(t, filepath.Join(dir, "CSC1.ncs"), "CSC1", []string{
		"-TimeCreated 2017/02/16 17:56:04",
		"-SessionUUID 2ed79e66-9a08-4f9f-9b49-7ca2b6be5aba",
		"-DspLowCutFilterEnabled True",
		"-DspLowCutFrequency 0.1",
	}, rampSamples(512, 0))

	r, err := NewNeuralynxRecording(dir)
	require.NoError(t, err)

	meta := r.Metadata()
	assert.Equal(t, "2ed79e66-9a08-4f9f-9b49-7ca2b6be5aba", meta.Session.Identifier)
	assert.True(t, meta.Session.StartTime.Equal(
		time.Date(2017, 2, 16, 17, 56, 4, 0, time.UTC)))
	assert.InDelta(t, 0.000000036621, meta.Ecephys.Series[0].Conversion, 1e-18)
	assert.Equal(t, 32000.0, meta.Ecephys.Series[0].Rate)

	cols := make([]string, len(meta.Ecephys.Electrodes))
	for i, c := range meta.Ecephys.Electrodes {
		cols[i] = c.Name
	}
	assert.Contains(t, cols, "filtering")
}

func TestParseLegacyOpened(t *testing.T) {
	got, ok := parseLegacyOpened("## Time Opened (m/d/y): 2/16/2017  (h:m:s.ms) 17:56:4.79")
	require.True(t, ok)
	assert.Equal(t, 2017, got.Year())
	assert.Equal(t, time.February, got.Month())
	assert.Equal(t, 16, got.Day())
	assert.Equal(t, 17, got.Hour())
	assert.Equal(t, 56, got.Minute())
	assert.Equal(t, 4, got.Second())
}

func TestNeuralynx_WriteInterleavesChannels(t *testing.T) {
	dir := t.TempDir()
	writeNCS(t, filepath.Join(dir, "CSC1.ncs"), "CSC1", nil, rampSamples(520, 0))
	writeNCS(t, filepath.Join(dir, "CSC2.ncs"), "CSC2", nil, rampSamples(520, 1000))

	r, err := NewNeuralynxRecording(dir)
	require.NoError(t, err)
	assert.Equal(t, 520, r.Frames())

	w, out := newFormatsTestWriter(t)
	require.NoError(t, r.WriteTo(context.Background(), w, r.Metadata(), WriteOptions{}, &bytes.Buffer{}))
	require.NoError(t, w.Close())

	sr, err := session.Open(out)
	require.NoError(t, err)
	defer sr.Close()

	raw, err := sr.ReadSeries("ElectricalSeries")
	require.NoError(t, err)
	samples := session.Int16FromBytes(raw)
	require.Len(t, samples, 520*2)
	for f := 0; f < 520; f++ {
		assert.Equal(t, int16(f%200), samples[2*f], "frame %d channel 0", f)
		assert.Equal(t, int16(f%200)+1000, samples[2*f+1], "frame %d channel 1", f)
	}

	sum, err := sr.Summarize()
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Electrodes)
	assert.Equal(t, []string{"Neuralynx"}, sum.Devices)
}

func TestNeuralynx_RateMismatchRejected(t *testing.T) {
	dir := t.TempDir()
	writeNCS(t, filepath.Join(dir, "CSC1.ncs"), "CSC1", nil, rampSamples(512, 0))
	writeNCS(t, filepath.Join(dir, "CSC2.ncs"), "CSC2",
		[]string{"-SamplingFrequency 16000"}, rampSamples(512, 0))

	_, err := NewNeuralynxRecording(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sampling rate")
}

func TestNeuralynx_EmptyFolderRejected(t *testing.T) {
	_, err := NewNeuralynxRecording(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no .ncs files")
}

func TestNatLess(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"CSC2.ncs", "CSC10.ncs", true},
		{"CSC10.ncs", "CSC2.ncs", false},
		{"CSC1.ncs", "CSC1.ncs", false},
		{"A9", "B1", true},
		{"file2part3", "file2part10", true},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, natLess(c.a, c.b), "%s < %s", c.a, c.b)
	}
}

func ExampleGainFromUnit() {
	gain, known := GainFromUnit("uV")
	fmt.Println(gain, known)
	// Output: 1e-06 true
}
