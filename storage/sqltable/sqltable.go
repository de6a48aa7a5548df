// Package sqltable persists the Execution Record in a database table.
// The statements stick to `?` placeholders and portable DDL, so the
// backend works against MySQL and SQLite alike.
package sqltable

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-trek/trek"
)

// DefaultTable is used when no table name is given.
const DefaultTable = "trek_migrations"

// Storage records executed names in one row per migration, ordered by an
// explicit execution counter so Executed reflects insertion order.
type Storage struct {
	db    *sql.DB
	table string
}

var _ trek.Storage = (*Storage)(nil)

// New returns a record backed by the given table. An empty table name
// selects DefaultTable. Call EnsureTable before the first run.
func New(db *sql.DB, table string) *Storage {
	if table == "" {
		table = DefaultTable
	}
	return &Storage{db: db, table: table}
}

// EnsureTable creates the record table if it does not exist yet.
func (s *Storage) EnsureTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  name VARCHAR(255) NOT NULL PRIMARY KEY,
  applied_at TIMESTAMP NOT NULL,
  execution_order BIGINT NOT NULL
)`, s.table)
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Storage) Log(ctx context.Context, name string) error {
	order, err := s.maxOrder(ctx)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (name, applied_at, execution_order) VALUES (?, ?, ?)`, s.table),
		name, time.Now().UTC(), order+1,
	)
	return err
}

func (s *Storage) Unlog(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE name = ?`, s.table), name)
	return err
}

func (s *Storage) Executed(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT name FROM %s ORDER BY execution_order ASC`, s.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (s *Storage) maxOrder(ctx context.Context) (int64, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COALESCE(MAX(execution_order), 0) FROM %s`, s.table))
	var max int64
	if err := row.Scan(&max); err != nil {
		return 0, err
	}
	return max, nil
}
