package match

import (
	"context"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sceneTree() fstest.MapFS {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	file := func(size int, age time.Duration) *fstest.MapFile {
		return &fstest.MapFile{
			Data:    make([]byte, size),
			ModTime: base.Add(-age),
		}
	}
	return fstest.MapFS{
		"shots/ep01/sc010/lighting_v012.ma":          file(4096, 0),
		"shots/ep01/sc010/autosave/lighting_v011.ma": file(4096, time.Hour),
		"shots/ep01/sc020/comp_v003.nk":              file(2048, time.Hour),
		"shots/ep02/sc030/lighting_v004.ma":          file(8192, 48*time.Hour),
		"shots/ep02/sc030/broken.ma":                 file(0, 0),
		"shots/.snapshot/sc010/lighting_v001.ma":     file(4096, 0),
		"assets/chars/hero/model.ma":                 file(1024, 0),
		".DS_Store":                                  file(10, 0),
	}
}

func scanPaths(files []FileInfo) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Path
	}
	return out
}

func TestScanMatchesAndSorts(t *testing.T) {
	m, err := New(Config{
		Includes: []string{"shots/**/*.ma"},
		Excludes: []string{"**/autosave/**"},
	})
	require.NoError(t, err)

	files, err := Scan(context.Background(), sceneTree(), m, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"shots/ep01/sc010/lighting_v012.ma",
		"shots/ep02/sc030/broken.ma",
		"shots/ep02/sc030/lighting_v004.ma",
	}, scanPaths(files))
}

func TestScanOnlyWalksPrefixSubtrees(t *testing.T) {
	m, err := New(Config{Includes: []string{"shots/ep01/**/*.ma"}})
	require.NoError(t, err)
	require.Equal(t, []string{"shots/ep01/"}, m.Prefixes())

	files, err := Scan(context.Background(), sceneTree(), m, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"shots/ep01/sc010/autosave/lighting_v011.ma",
		"shots/ep01/sc010/lighting_v012.ma",
	}, scanPaths(files))
}

func TestScanMissingPrefixIsSkipped(t *testing.T) {
	m, err := New(Config{Includes: []string{"shots/ep01/**", "shots/ep99/**"}})
	require.NoError(t, err)

	files, err := Scan(context.Background(), sceneTree(), m, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, files)
	for _, f := range files {
		assert.NotContains(t, f.Path, "ep99")
	}
}

func TestScanAppliesFilter(t *testing.T) {
	m, err := New(Config{
		Includes: []string{"shots/**/*.ma"},
		Excludes: []string{"**/autosave/**"},
	})
	require.NoError(t, err)

	filter, err := NewFilterFromConfig(&FilterConfig{
		Size:     &SizeFilterConfig{Min: "1"},
		Modified: &DateFilterConfig{After: "2026-02-28"},
	})
	require.NoError(t, err)

	files, err := Scan(context.Background(), sceneTree(), m, filter)
	require.NoError(t, err)

	// The zero-byte save and the two-day-old scene are filtered out.
	assert.Equal(t, []string{"shots/ep01/sc010/lighting_v012.ma"}, scanPaths(files))
}

func TestScanSkipsHiddenSubtrees(t *testing.T) {
	m, err := New(Config{Includes: []string{"**/*.ma"}})
	require.NoError(t, err)

	files, err := Scan(context.Background(), sceneTree(), m, nil)
	require.NoError(t, err)
	for _, f := range files {
		assert.NotContains(t, f.Path, ".snapshot")
	}

	hidden, err := New(Config{Includes: []string{"**/*.ma"}, IncludeHidden: true})
	require.NoError(t, err)

	files, err = Scan(context.Background(), sceneTree(), hidden, nil)
	require.NoError(t, err)
	assert.Contains(t, scanPaths(files), "shots/.snapshot/sc010/lighting_v001.ma")
}

func TestScanExactFilePrefix(t *testing.T) {
	m, err := New(Config{Includes: []string{"assets/chars/hero/model.ma"}})
	require.NoError(t, err)

	files, err := Scan(context.Background(), sceneTree(), m, nil)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "assets/chars/hero/model.ma", files[0].Path)
	assert.Equal(t, int64(1024), files[0].Size)
}

func TestScanHonorsCancellation(t *testing.T) {
	m, err := New(Config{Includes: []string{"**"}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = Scan(ctx, sceneTree(), m, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
