package formats

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Detection names a data interface and the source map that opens a path
// with it.
type Detection struct {
	Interface string         `json:"interface" yaml:"interface"`
	Source    map[string]any `json:"source" yaml:"source"`
}

// Detect maps a file or folder onto the data interface that reads it.
// Folders are classified by their contents (Neuralynx sessions and
// NeuroScope sorting output are folder-shaped), files by extension.
func Detect(path string) (Detection, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Detection{}, fmt.Errorf("detecting format: %w", err)
	}
	if info.IsDir() {
		return detectFolder(path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".dat":
		return Detection{"neuroscope-recording", map[string]any{"file_path": path}}, nil
	case ".eeg", ".lfp":
		return Detection{"neuroscope-lfp", map[string]any{"file_path": path}}, nil
	case ".ncs":
		return Detection{"neuralynx", map[string]any{"folder_path": filepath.Dir(path)}}, nil
	case ".rhd", ".rhs":
		return Detection{"intan", map[string]any{"file_path": path}}, nil
	case ".tif", ".tiff":
		return Detection{"tiff-imaging", map[string]any{"file_path": path}}, nil
	case ".npy":
		return Detection{"numpy-segmentation", map[string]any{"file_path": path}}, nil
	}
	return Detection{}, fmt.Errorf("no data interface recognizes %s", path)
}

func detectFolder(path string) (Detection, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return Detection{}, fmt.Errorf("detecting format: %w", err)
	}

	var hasNCS, hasRes, hasClu bool
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.EqualFold(filepath.Ext(name), ".ncs") {
			hasNCS = true
		}
		if _, ok := trailingGroupNumber(name, ".res."); ok {
			hasRes = true
		}
		if _, ok := trailingGroupNumber(name, ".clu."); ok {
			hasClu = true
		}
	}

	if hasNCS {
		return Detection{"neuralynx", map[string]any{"folder_path": path}}, nil
	}
	if hasRes && hasClu {
		return Detection{"neuroscope-sorting", map[string]any{"folder_path": path}}, nil
	}
	return Detection{}, fmt.Errorf("no data interface recognizes the contents of %s", path)
}
