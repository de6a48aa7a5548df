package trek

import (
	"context"
	"errors"
	"path"
	"slices"
	"strings"

	"github.com/mandelsoft/vfs/pkg/osfs"
	"github.com/mandelsoft/vfs/pkg/vfs"

	"github.com/go-trek/trek/internal/fsutil"
)

// Source yields the ordered migration sequence for an engine. The live
// storage adapter is passed so migrations can close over it.
type Source interface {
	Migrations(ctx context.Context, store Storage) ([]Migration, error)
}

// ListSource is an explicit, already-ordered migration list.
type ListSource []Migration

func (s ListSource) Migrations(_ context.Context, _ Storage) ([]Migration, error) {
	return slices.Clone(s), nil
}

// FuncSource produces the migration list at resolution time. It is
// invoked once with the storage adapter the engine was built with.
type FuncSource func(store Storage) ([]Migration, error)

func (s FuncSource) Migrations(_ context.Context, store Storage) ([]Migration, error) {
	return s(store)
}

// ResolveParams is passed to a glob source's per-file callback.
type ResolveParams struct {
	// Name derived from the matched path via the source's name formatter.
	Name string
	// Path of the matched file, slash-separated and relative to Dir.
	Path string
	// Storage the engine is being built with.
	Storage Storage
}

// ResolveFunc turns one matched file into its pair of actions. An error
// aborts resolution entirely; no partial sequence is produced.
type ResolveFunc func(p ResolveParams) (Actions, error)

// GlobSource resolves migrations from files matching a glob pattern.
// Matches are enumerated depth-first in lexicographic order; the engine
// does not re-sort (see SortByName).
type GlobSource struct {
	// FS to enumerate. Defaults to the operating system filesystem.
	FS vfs.FileSystem
	// Dir is the working directory the pattern is evaluated under.
	// Defaults to ".".
	Dir string
	// Pattern in glob syntax; `*` does not cross path separators, `**`
	// does. Zero matches is not an error.
	Pattern string
	// Ignore patterns exclude files that also match Pattern.
	Ignore []string
	// Resolve is called for every match. Required.
	Resolve ResolveFunc
	// FormatName derives the unit name from the matched relative path.
	// Defaults to BaseName.
	FormatName func(path string) string
}

func (s *GlobSource) Migrations(_ context.Context, store Storage) ([]Migration, error) {
	if s.Resolve == nil {
		return nil, &ResolutionError{Err: errors.New("glob source requires a Resolve callback")}
	}
	fsys := s.FS
	if fsys == nil {
		fsys = osfs.New()
	}
	dir := s.Dir
	if dir == "" {
		dir = "."
	}
	format := s.FormatName
	if format == nil {
		format = BaseName
	}

	paths, err := fsutil.Match(fsys, dir, s.Pattern, s.Ignore)
	if err != nil {
		return nil, &ResolutionError{Err: err}
	}

	migrations := make([]Migration, 0, len(paths))
	for _, p := range paths {
		params := ResolveParams{Name: format(p), Path: p, Storage: store}
		acts, err := s.Resolve(params)
		if err != nil {
			return nil, &ResolutionError{Path: p, Err: err}
		}
		if acts.Up == nil && acts.Down == nil {
			return nil, &ResolutionError{Path: p, Err: ErrMissingAction}
		}
		migrations = append(migrations, Migration{
			Name: params.Name,
			Path: p,
			Up:   acts.Up,
			Down: acts.Down,
		})
	}
	return migrations, nil
}

// BaseName is the default name formatter: it strips the directory and
// the final extension, so "deeply/nested/m2.sql" becomes "m2".
func BaseName(p string) string {
	base := path.Base(p)
	return strings.TrimSuffix(base, path.Ext(base))
}
