// Package sqlsource resolves migrations from plain SQL files. Every
// NAME.sql file becomes one unit; an optional NAME.down.sql sibling
// provides the rollback. File contents are read lazily at execution time
// and each file runs inside its own transaction.
//
// Note that a multi-statement file needs driver support for it, e.g.
// multiStatements=true in a MySQL DSN.
package sqlsource

import (
	"context"
	"database/sql"
	"path"
	"strings"

	"github.com/mandelsoft/vfs/pkg/osfs"
	"github.com/mandelsoft/vfs/pkg/vfs"

	"github.com/go-trek/trek"
)

// New returns a glob source over dir matching every .sql file except
// *.down.sql rollbacks. A nil fsys means the operating system
// filesystem. Unit names are the file base names without extension, so
// "0001_init.sql" resolves to "0001_init".
func New(db *sql.DB, fsys vfs.FileSystem, dir string) *trek.GlobSource {
	if fsys == nil {
		fsys = osfs.New()
	}
	return &trek.GlobSource{
		FS:      fsys,
		Dir:     dir,
		Pattern: "**.sql",
		Ignore:  []string{"**.down.sql"},
		Resolve: func(p trek.ResolveParams) (trek.Actions, error) {
			upPath := path.Join(dir, p.Path)
			downPath := strings.TrimSuffix(upPath, ".sql") + ".down.sql"
			acts := trek.Actions{Up: execFile(db, fsys, upPath)}
			if _, err := fsys.Stat(downPath); err == nil {
				acts.Down = execFile(db, fsys, downPath)
			} else if !vfs.IsErrNotExist(err) {
				return trek.Actions{}, err
			}
			return acts, nil
		},
	}
}

func execFile(db *sql.DB, fsys vfs.FileSystem, p string) trek.Action {
	return func(ctx context.Context) error {
		stmt, err := vfs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(stmt)); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	}
}
