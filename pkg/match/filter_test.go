package match

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fileAt(path string, size int64, modified string) FileInfo {
	t, err := time.Parse(time.RFC3339, modified)
	if err != nil {
		panic(err)
	}
	return FileInfo{Path: path, Size: size, ModTime: t}
}

func TestSizeFilter(t *testing.T) {
	tests := []struct {
		name     string
		cfg      *SizeFilterConfig
		info     FileInfo
		expected bool
	}{
		{"nil config matches all", nil, fileAt("a.ma", 10, "2026-01-01T00:00:00Z"), true},
		{"within range", &SizeFilterConfig{Min: "1KB", Max: "1MB"}, fileAt("a.ma", 500_000, "2026-01-01T00:00:00Z"), true},
		{"below min", &SizeFilterConfig{Min: "1KB"}, fileAt("a.ma", 512, "2026-01-01T00:00:00Z"), false},
		{"at min inclusive", &SizeFilterConfig{Min: "1KB"}, fileAt("a.ma", 1000, "2026-01-01T00:00:00Z"), true},
		{"above max", &SizeFilterConfig{Max: "1KiB"}, fileAt("a.ma", 2048, "2026-01-01T00:00:00Z"), false},
		{"at max inclusive", &SizeFilterConfig{Max: "1KiB"}, fileAt("a.ma", 1024, "2026-01-01T00:00:00Z"), true},
		{"empty scene rejected", &SizeFilterConfig{Min: "1"}, fileAt("broken.ma", 0, "2026-01-01T00:00:00Z"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewSizeFilter(tt.cfg)
			require.NoError(t, err)
			if tt.cfg == nil {
				assert.Nil(t, f)
				return
			}
			assert.Equal(t, tt.expected, f.Match(tt.info))
		})
	}
}

func TestNewSizeFilterErrors(t *testing.T) {
	_, err := NewSizeFilter(&SizeFilterConfig{Min: "bogus"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidSize))

	_, err = NewSizeFilter(&SizeFilterConfig{Min: "2MB", Max: "1MB"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidSize))
}

func TestDateFilter(t *testing.T) {
	tests := []struct {
		name     string
		cfg      *DateFilterConfig
		info     FileInfo
		expected bool
	}{
		{"within range", &DateFilterConfig{After: "2026-01-01", Before: "2026-02-01"}, fileAt("a.ma", 1, "2026-01-15T12:00:00Z"), true},
		{"before after bound", &DateFilterConfig{After: "2026-01-01"}, fileAt("a.ma", 1, "2025-12-31T23:59:59Z"), false},
		{"at after bound inclusive", &DateFilterConfig{After: "2026-01-01"}, fileAt("a.ma", 1, "2026-01-01T00:00:00Z"), true},
		{"at before bound exclusive", &DateFilterConfig{Before: "2026-02-01"}, fileAt("a.ma", 1, "2026-02-01T00:00:00Z"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewDateFilter(tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, f.Match(tt.info))
		})
	}
}

func TestNewDateFilterErrors(t *testing.T) {
	_, err := NewDateFilter(&DateFilterConfig{After: "not-a-date"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidDate))

	_, err = NewDateFilter(&DateFilterConfig{After: "2026-02-01", Before: "2026-01-01"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidDate))
}

func TestRegexFilter(t *testing.T) {
	f, err := NewRegexFilter(`lighting_v\d{3}\.ma$`)
	require.NoError(t, err)

	assert.True(t, f.Match(fileAt("shots/ep01/lighting_v012.ma", 1, "2026-01-01T00:00:00Z")))
	assert.False(t, f.Match(fileAt("shots/ep01/lighting_final.ma", 1, "2026-01-01T00:00:00Z")))

	_, err = NewRegexFilter("[unclosed")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidRegex))

	nilFilter, err := NewRegexFilter("")
	require.NoError(t, err)
	assert.Nil(t, nilFilter)
}

func TestNewFilterFromConfig(t *testing.T) {
	cfg := &FilterConfig{
		Size:      &SizeFilterConfig{Min: "1KB"},
		Modified:  &DateFilterConfig{After: "2026-01-01"},
		PathRegex: `\.ma$`,
	}
	f, err := NewFilterFromConfig(cfg)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Len(t, f.Filters(), 3)

	// All criteria must pass
	assert.True(t, f.Match(fileAt("shots/sc010.ma", 2048, "2026-01-15T00:00:00Z")))
	assert.False(t, f.Match(fileAt("shots/sc010.ma", 100, "2026-01-15T00:00:00Z")), "too small")
	assert.False(t, f.Match(fileAt("shots/sc010.ma", 2048, "2025-06-01T00:00:00Z")), "too old")
	assert.False(t, f.Match(fileAt("shots/sc010.nk", 2048, "2026-01-15T00:00:00Z")), "wrong extension")
}

func TestNewFilterFromConfigEmpty(t *testing.T) {
	f, err := NewFilterFromConfig(nil)
	require.NoError(t, err)
	assert.Nil(t, f)

	f, err = NewFilterFromConfig(&FilterConfig{})
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestCompositeFilterString(t *testing.T) {
	f, err := NewFilterFromConfig(&FilterConfig{
		Size:     &SizeFilterConfig{Min: "1KiB", Max: "1GiB"},
		Modified: &DateFilterConfig{After: "2026-01-01"},
	})
	require.NoError(t, err)
	assert.Equal(t, "size: 1.0KiB - 1.0GiB, modified: on/after 2026-01-01", f.String())
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
		wantErr  bool
	}{
		{"1024", 1024, false},
		{"1KB", 1000, false},
		{"1KiB", 1024, false},
		{"100MB", 100 * 1000 * 1000, false},
		{"1.5GiB", int64(1.5 * float64(GiB)), false},
		{"2gb", 2 * GB, false},
		{"10 MiB", 10 * MiB, false},
		{"", 0, true},
		{"abc", 0, true},
		{"1XB", 0, true},
		{"999999999999TB", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSize(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512B", FormatSize(512))
	assert.Equal(t, "1.0KiB", FormatSize(1024))
	assert.Equal(t, "1.5MiB", FormatSize(1572864))
	assert.Equal(t, "2.0GiB", FormatSize(2*GiB))
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2026-01-15")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC), d)

	d, err = ParseDate("2026-01-15T10:30:00+05:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 15, 5, 30, 0, 0, time.UTC), d)

	_, err = ParseDate("15/01/2026")
	require.Error(t, err)
}
