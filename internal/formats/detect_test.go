package formats

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestDetect_FileExtensions(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		file string
		want string
	}{
		{"ses01.dat", "neuroscope-recording"},
		{"ses01.eeg", "neuroscope-lfp"},
		{"ses01.lfp", "neuroscope-lfp"},
		{"rec.rhd", "intan"},
		{"rec.rhs", "intan"},
		{"stack.tif", "tiff-imaging"},
		{"stack.TIFF", "tiff-imaging"},
		{"masks.npy", "numpy-segmentation"},
	}
	for _, c := range cases {
		path := filepath.Join(dir, c.file)
		touch(t, path)
		got, err := Detect(path)
		require.NoError(t, err, c.file)
		assert.Equal(t, c.want, got.Interface, c.file)
		assert.Equal(t, path, got.Source["file_path"], c.file)
	}
}

func TestDetect_NCSFilePointsAtFolder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "CSC1.ncs")
	touch(t, path)

	got, err := Detect(path)
	require.NoError(t, err)
	assert.Equal(t, "neuralynx", got.Interface)
	assert.Equal(t, dir, got.Source["folder_path"])
}

func TestDetect_Folders(t *testing.T) {
	ncsDir := t.TempDir()
	touch(t, filepath.Join(ncsDir, "CSC1.ncs"))
	got, err := Detect(ncsDir)
	require.NoError(t, err)
	assert.Equal(t, "neuralynx", got.Interface)

	sortDir := t.TempDir()
	touch(t, filepath.Join(sortDir, "ses01.res.1"))
	touch(t, filepath.Join(sortDir, "ses01.clu.1"))
	got, err = Detect(sortDir)
	require.NoError(t, err)
	assert.Equal(t, "neuroscope-sorting", got.Interface)

	_, err = Detect(t.TempDir())
	require.Error(t, err)
}

func TestDetect_UnknownExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.xyz")
	touch(t, path)
	_, err := Detect(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no data interface")
}

func TestRegistry_LookupAndBuildValidation(t *testing.T) {
	names := make(map[string]bool)
	for _, d := range Registered() {
		names[d.Name] = true
		assert.NotEmpty(t, d.Description, d.Name)
		assert.NotNil(t, d.New, d.Name)
	}
	for _, want := range []string{
		"neuroscope-recording", "neuroscope-lfp", "neuroscope-sorting",
		"neuralynx", "intan", "tiff-imaging", "numpy-segmentation",
	} {
		assert.True(t, names[want], want)
	}

	_, err := Lookup("blackrock")
	require.Error(t, err)

	// Source schemas reject unknown and missing fields before construction.
	_, err = Build("intan", map[string]any{"flie_path": "/tmp/rec.rhd"})
	require.Error(t, err)
	_, err = Build("tiff-imaging", map[string]any{"file_path": "/tmp/s.tif"})
	require.Error(t, err)
}
