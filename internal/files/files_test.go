package files

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilenameTimestamp(t *testing.T) {
	for name, want := range map[string]float64{
		"Camera_Left_12345.6789.jpg": 12345.6789,
		"m0001234.pgm":               1234,
		"file.png":                   Unknown,
		".png":                       Unknown,
		"dir/left_7_cam2_100.pgm":    100,
		"/data/run3/depth_0042.pdm":  42,
		"frame_1.5_2.25.png":         2.25,
		"v2.x.png":                   2,
		"frame_12.5":                 12.5,
		"1700000000.25":              1700000000.25,
		"run_3.":                     3,
	} {
		assert.Equal(t, want, FilenameTimestamp(name), name)
	}
}

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("x"), 0644))
	}
}

func TestFindRegexSorted(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "left_002.pgm", "left_001.pgm", "right_001.pgm", "left_003.png")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "left_dir.pgm"), 0755))

	paths, err := Find(dir, "left.*pgm")
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Equal(t, "left_001.pgm", filepath.Base(paths[0]))
	assert.Equal(t, "left_002.pgm", filepath.Base(paths[1]))

	// Whole-name match only.
	paths, err = Find(dir, "left")
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestFindGlobFallback(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a1.png", "a2.png", "b1.png")

	// "*" alone is not a valid regular expression.
	paths, err := Find(dir, "*.png")
	require.NoError(t, err)
	assert.Len(t, paths, 3)
}

func TestFindChannelSubdirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "cam", "left"), 0755))
	touch(t, filepath.Join(dir, "cam", "left"), "l0.png", "l1.png")

	paths, err := FindChannel(dir, "cam/left/l.*png")
	require.NoError(t, err)
	assert.Len(t, paths, 2)

	_, err = FindChannel(dir, "missing/x.png")
	assert.Error(t, err)
}

func TestCheckReadable(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "ok.png")
	assert.NoError(t, CheckReadable([]string{filepath.Join(dir, "ok.png")}))
	assert.Error(t, CheckReadable([]string{filepath.Join(dir, "gone.png")}))
}

func TestReadTimestamps(t *testing.T) {
	times, err := ReadTimestamps(strings.NewReader(`# seconds
0.0
0.033 extra columns

0.066,foo
`))
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.033, 0.066}, times)

	_, err = ReadTimestamps(strings.NewReader("zero\n"))
	assert.Error(t, err)
}
