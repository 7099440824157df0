package formats

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sbinet/npyio"

	"github.com/pdiddy/nwb-convert/internal/schema"
	"github.com/pdiddy/nwb-convert/internal/session"
	"github.com/pdiddy/nwb-convert/pkg/types"
)

func init() {
	register(Descriptor{
		Name:        "numpy-segmentation",
		Modality:    ModalitySegmentation,
		Extensions:  []string{".npy"},
		Description: "Segmented ROI image masks from a NumPy .npy array",
		SourceSchema: schema.Object(map[string]any{
			"file_path": schema.FilePath("path to a .npy array of shape (rois, height, width)"),
			"name":      schema.String("plane segmentation name (default PlaneSegmentation)"),
		}, "file_path"),
		New: func(source map[string]any) (DataInterface, error) {
			path, err := stringField(source, "file_path")
			if err != nil {
				return nil, err
			}
			name, _ := source["name"].(string)
			if name == "" {
				name = "PlaneSegmentation"
			}
			return NewNumpySegmentation(path, name)
		},
	})
}

// NumpySegmentation loads ROI image masks from a .npy array. A 3-D array
// is one mask per leading index; a 2-D array is a single mask.
type NumpySegmentation struct {
	filePath string
	segName  string
	masks    []types.ROIMask
}

func NewNumpySegmentation(filePath, segName string) (*NumpySegmentation, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filePath, err)
	}

	shape := r.Header.Descr.Shape
	var count, height, width int
	switch len(shape) {
	case 2:
		count, height, width = 1, shape[0], shape[1]
	case 3:
		count, height, width = shape[0], shape[1], shape[2]
	default:
		return nil, fmt.Errorf("%s: expected a 2-D or 3-D array, got shape %v", filePath, shape)
	}
	if r.Header.Descr.Fortran {
		return nil, fmt.Errorf("%s: Fortran-ordered arrays are not supported", filePath)
	}

	data, err := readAsFloat32(r, count*height*width)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filePath, err)
	}

	s := &NumpySegmentation{filePath: filePath, segName: segName}
	pixels := height * width
	for i := 0; i < count; i++ {
		s.masks = append(s.masks, types.ROIMask{
			ID:     i,
			Height: height,
			Width:  width,
			Data:   data[i*pixels : (i+1)*pixels],
		})
	}
	return s, nil
}

// readAsFloat32 reads the array body in its native dtype and widens or
// narrows to float32.
func readAsFloat32(r *npyio.Reader, n int) ([]float32, error) {
	out := make([]float32, n)
	switch dtype := r.Header.Descr.Type; dtype {
	case "<f4", "f4":
		if err := r.Read(&out); err != nil {
			return nil, err
		}
	case "<f8", "f8":
		var v []float64
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		for i := range v {
			out[i] = float32(v[i])
		}
	case "|b1", "b1":
		var v []bool
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		for i := range v {
			if v[i] {
				out[i] = 1
			}
		}
	case "|u1", "u1":
		var v []uint8
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		for i := range v {
			out[i] = float32(v[i])
		}
	case "<i4", "i4":
		var v []int32
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		for i := range v {
			out[i] = float32(v[i])
		}
	case "<i8", "i8":
		var v []int64
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		for i := range v {
			out[i] = float32(v[i])
		}
	default:
		return nil, fmt.Errorf("unsupported dtype %q", dtype)
	}
	return out, nil
}

func (s *NumpySegmentation) Name() string       { return "numpy-segmentation" }
func (s *NumpySegmentation) Modality() Modality { return ModalitySegmentation }

func (s *NumpySegmentation) Source() map[string]any {
	return map[string]any{"file_path": s.filePath, "name": s.segName}
}

// Masks exposes the loaded ROI masks.
func (s *NumpySegmentation) Masks() []types.ROIMask { return s.masks }

func (s *NumpySegmentation) Metadata() types.Metadata {
	return types.Metadata{
		Ophys: &types.OphysMetadata{
			Devices: []types.Device{{Name: "Microscope"}},
			ImagingPlanes: []types.ImagingPlane{{
				Name:        "ImagingPlane",
				Description: "Imaging plane of the segmented recording.",
				Device:      "Microscope",
			}},
			PlaneSegmentation: s.segName,
		},
	}
}

func (s *NumpySegmentation) WriteTo(ctx context.Context, w *session.Writer, meta types.Metadata, opts WriteOptions, status io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if meta.Ophys != nil {
		for _, d := range meta.Ophys.Devices {
			if err := w.AddDevice(d); err != nil {
				return err
			}
		}
	}
	name := s.segName
	if meta.Ophys != nil && meta.Ophys.PlaneSegmentation != "" {
		name = meta.Ophys.PlaneSegmentation
	}
	fmt.Fprintf(status, "writing %d ROI masks\n", len(s.masks))
	return w.AddROIMasks(name, s.masks)
}
