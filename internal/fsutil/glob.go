// Package fsutil enumerates migration files on a virtual filesystem.
package fsutil

import (
	"fmt"
	"os"
	"path"
	"sort"

	"github.com/gobwas/glob"
	"github.com/mandelsoft/vfs/pkg/vfs"
)

// Match returns the slash-separated paths, relative to root, of regular
// files matching pattern. Files also matching an ignore pattern are
// excluded. `*` does not cross path separators, `**` does.
//
// The walk is depth-first with entries of each directory visited in
// lexicographic order, so results are deterministic for a given tree.
// Zero matches yields an empty slice, not an error.
func Match(fsys vfs.FileSystem, root, pattern string, ignore []string) ([]string, error) {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	ignored := make([]glob.Glob, 0, len(ignore))
	for _, p := range ignore {
		ig, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid ignore pattern %q: %w", p, err)
		}
		ignored = append(ignored, ig)
	}

	matched := []string{}
	err = walk(fsys, root, "", func(rel string) {
		if !g.Match(rel) {
			return
		}
		for _, ig := range ignored {
			if ig.Match(rel) {
				return
			}
		}
		matched = append(matched, rel)
	})
	if err != nil {
		return nil, err
	}
	return matched, nil
}

func walk(fsys vfs.FileSystem, dir, rel string, visit func(rel string)) error {
	infos, err := readDir(fsys, dir)
	if err != nil {
		return err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })
	for _, info := range infos {
		childRel := info.Name()
		if rel != "" {
			childRel = rel + "/" + info.Name()
		}
		if info.IsDir() {
			if err := walk(fsys, path.Join(dir, info.Name()), childRel, visit); err != nil {
				return err
			}
			continue
		}
		visit(childRel)
	}
	return nil
}

func readDir(fsys vfs.FileSystem, dir string) ([]os.FileInfo, error) {
	f, err := fsys.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("reading directory %q: %w", dir, err)
	}
	defer f.Close()
	infos, err := f.Readdir(-1)
	if err != nil {
		return nil, fmt.Errorf("reading directory %q: %w", dir, err)
	}
	return infos, nil
}
