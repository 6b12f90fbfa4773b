package match

import (
	"context"
	"errors"
	"io/fs"
	"sort"
	"strings"
)

// Scan walks the scene tree and returns every file accepted by the
// matcher and filter. The walk is seeded with the matcher's static
// prefixes, so only subtrees where a pattern can match are visited.
//
// filter may be nil. A prefix pointing at a missing subtree is skipped;
// episode directories come and go between batches. Results are sorted
// by path.
func Scan(ctx context.Context, fsys fs.FS, m *Matcher, filter Filter) ([]FileInfo, error) {
	var out []FileInfo

	for _, prefix := range m.Prefixes() {
		files, err := scanPrefix(ctx, fsys, m, filter, prefix)
		if err != nil {
			return nil, err
		}
		out = append(out, files...)
	}

	// Prefixes are disjoint after deduplication, so no duplicate paths
	// to remove here.
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func scanPrefix(ctx context.Context, fsys fs.FS, m *Matcher, filter Filter, prefix string) ([]FileInfo, error) {
	root := "."
	if prefix != "" {
		root = strings.TrimSuffix(prefix, "/")
	}

	var out []FileInfo
	err := fs.WalkDir(fsys, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// The prefix names a subtree that does not exist yet.
			if errors.Is(err, fs.ErrNotExist) && path == root {
				return fs.SkipAll
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if d.IsDir() {
			// Skip hidden subtrees outright instead of rejecting each
			// file inside them.
			if !m.IncludesHidden() && path != "." && IsHidden(path) {
				return fs.SkipDir
			}
			return nil
		}

		if !m.Match(path) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		fi := FileInfo{Path: path, Size: info.Size(), ModTime: info.ModTime()}
		if filter != nil && !filter.Match(fi) {
			return nil
		}
		out = append(out, fi)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
