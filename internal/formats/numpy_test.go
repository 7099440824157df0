package formats

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/nwb-convert/internal/session"
)

// writeNPY builds a version 1.0 .npy file with the given descr, shape,
// and raw little-endian body.
func writeNPY(t *testing.T, path, descr string, shape []int, body []byte) {
	t.Helper()

	dims := make([]string, len(shape))
	for i, s := range shape {
		dims[i] = fmt.Sprintf("%d", s)
	}
	shapeStr := strings.Join(dims, ", ")
	if len(shape) == 1 {
		shapeStr += ","
	}
	header := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%s), }", descr, shapeStr)
	// Total preamble (magic + version + length field + header) pads to a
	// 64-byte boundary and ends with a newline.
	for (10+len(header)+1)%64 != 0 {
		header += " "
	}
	header += "\n"

	var b bytes.Buffer
	b.WriteString("\x93NUMPY")
	b.WriteByte(1)
	b.WriteByte(0)
	binary.Write(&b, binary.LittleEndian, uint16(len(header)))
	b.WriteString(header)
	b.Write(body)

	require.NoError(t, os.WriteFile(path, b.Bytes(), 0o644))
}

func float32Body(vals []float32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

func TestNumpySegmentation_ThreeDimensional(t *testing.T) {
	path := filepath.Join(t.TempDir(), "masks.npy")
	writeNPY(t, path, "<f4", []int{2, 2, 3}, float32Body([]float32{
		1, 0, 0, 0, 1, 0,
		0, 0, 1, 1, 1, 0,
	}))

	s, err := NewNumpySegmentation(path, "PlaneSegmentation")
	require.NoError(t, err)

	masks := s.Masks()
	require.Len(t, masks, 2)
	assert.Equal(t, 2, masks[0].Height)
	assert.Equal(t, 3, masks[0].Width)
	assert.Equal(t, []float32{1, 0, 0, 0, 1, 0}, masks[0].Data)
	assert.Equal(t, []float32{0, 0, 1, 1, 1, 0}, masks[1].Data)
}

func TestNumpySegmentation_TwoDimensionalSingleMask(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mask.npy")
	writeNPY(t, path, "<f4", []int{2, 2}, float32Body([]float32{1, 0, 0, 1}))

	s, err := NewNumpySegmentation(path, "PlaneSegmentation")
	require.NoError(t, err)
	require.Len(t, s.Masks(), 1)
	assert.Equal(t, []float32{1, 0, 0, 1}, s.Masks()[0].Data)
}

func TestNumpySegmentation_BoolDtype(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mask.npy")
	writeNPY(t, path, "|b1", []int{1, 2, 2}, []byte{1, 0, 0, 1})

	s, err := NewNumpySegmentation(path, "PlaneSegmentation")
	require.NoError(t, err)
	require.Len(t, s.Masks(), 1)
	assert.Equal(t, []float32{1, 0, 0, 1}, s.Masks()[0].Data)
}

func TestNumpySegmentation_RejectsOneDimensional(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mask.npy")
	writeNPY(t, path, "<f4", []int{4}, float32Body([]float32{1, 0, 0, 1}))

	_, err := NewNumpySegmentation(path, "PlaneSegmentation")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2-D or 3-D")
}

func TestNumpySegmentation_WritesMasks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "masks.npy")
	writeNPY(t, path, "<f4", []int{3, 2, 2}, float32Body(make([]float32, 12)))

	s, err := NewNumpySegmentation(path, "Suite2pSegmentation")
	require.NoError(t, err)

	w, out := newFormatsTestWriter(t)
	var status bytes.Buffer
	require.NoError(t, s.WriteTo(context.Background(), w, s.Metadata(), WriteOptions{}, &status))
	require.NoError(t, w.Close())
	assert.Contains(t, status.String(), "writing 3 ROI masks")

	r, err := session.Open(out)
	require.NoError(t, err)
	defer r.Close()
	sum, err := r.Summarize()
	require.NoError(t, err)
	assert.Equal(t, 3, sum.ROIMasks)
}
