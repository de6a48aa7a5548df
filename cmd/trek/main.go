// Command trek applies SQL file migrations to a MySQL or SQLite
// database, tracking executed state in a record table or a JSON file.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	// Database drivers.
	_ "github.com/glebarez/go-sqlite"
	_ "github.com/go-sql-driver/mysql"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/go-trek/trek"
	"github.com/go-trek/trek/internal/config"
	"github.com/go-trek/trek/sqlsource"
	"github.com/go-trek/trek/storage/jsonfile"
	"github.com/go-trek/trek/storage/sqltable"
)

type cli struct {
	Up     upCmd     `kong:"cmd,help='Apply pending migrations.'"`
	Down   downCmd   `kong:"cmd,help='Revert applied migrations.'"`
	Status statusCmd `kong:"cmd,help='Show applied and pending migrations.'"`
	Create createCmd `kong:"cmd,help='Scaffold a new migration file pair.'"`

	Config    string `kong:"help='Path to a YAML configuration file.'"`
	Driver    string `kong:"help='Database driver: sqlite or mysql.'"`
	DSN       string `kong:"name='dsn',help='Database DSN, or file path for sqlite.'"`
	Dir       string `kong:"help='Migrations directory.'"`
	Store     string `kong:"help='Execution record backend: sql or json.'"`
	StorePath string `kong:"help='Record file used by the json store.'"`
	Table     string `kong:"help='Record table used by the sql store.'"`
	Lock      bool   `kong:"help='Hold a MySQL advisory lock for the run.'"`

	LogLevel slog.Level `kong:"name='log-level',enum='DEBUG,INFO,WARN,ERROR',default='INFO',help='Set the logging level.'"`
}

type runEnv struct {
	ctx    context.Context
	cfg    *config.Config
	logger *slog.Logger
}

func main() {
	c := &cli{}
	kctx := kong.Parse(c,
		kong.Name("trek"),
		kong.Description("Migration runner for SQL file migrations."),
		kong.UsageOnError(),
	)

	logger := slog.New(tint.NewHandler(
		colorable.NewColorable(os.Stderr),
		&tint.Options{
			Level:      c.LogLevel,
			NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
			TimeFormat: "2006-01-02 15:04:05.000",
		},
	))
	slog.SetDefault(logger)

	cfg, err := loadConfig(c)
	if err != nil {
		logger.Error("failed loading configuration", "error", err)
		os.Exit(1)
	}

	env := &runEnv{ctx: context.Background(), cfg: cfg, logger: logger}
	if err := kctx.Run(env); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func loadConfig(c *cli) (*config.Config, error) {
	cfg, err := config.LoadYAML(c.Config)
	if err != nil && c.Config != "" {
		return nil, err
	}
	cfg = config.MergeEnv(cfg)
	if c.Driver != "" {
		cfg.Driver = c.Driver
	}
	if c.DSN != "" {
		cfg.DSN = c.DSN
	}
	if c.Dir != "" {
		cfg.Dir = c.Dir
	}
	if c.Store != "" {
		cfg.Store = c.Store
	}
	if c.StorePath != "" {
		cfg.StorePath = c.StorePath
	}
	if c.Table != "" {
		cfg.Table = c.Table
	}
	if c.Lock {
		cfg.Lock = true
	}
	return cfg, nil
}

// setup opens the database, builds the record backend and resolves the
// migration sequence. The returned cleanup releases the advisory lock,
// if one was taken, and closes the database.
func setup(env *runEnv) (*trek.Migrator, func(), error) {
	db, err := openDB(env.cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	cleanup := func() { _ = db.Close() }

	var store trek.Storage
	switch env.cfg.Store {
	case "json":
		store = jsonfile.New(nil, env.cfg.StorePath)
	default:
		st := sqltable.New(db, env.cfg.Table)
		if err := st.EnsureTable(env.ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("ensuring record table: %w", err)
		}
		store = st
	}

	if env.cfg.Lock && env.cfg.Driver == "mysql" {
		lock := sqltable.NewLock(sqltable.LockKey(dbName(env.cfg.DSN), env.cfg.Table))
		if err := lock.Acquire(env.ctx, db, env.cfg.LockTimeout()); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("acquiring advisory lock: %w", err)
		}
		closeDB := cleanup
		cleanup = func() {
			_ = lock.Release(env.ctx)
			closeDB()
		}
	}

	src := sqlsource.New(db, nil, env.cfg.Dir)
	eng, err := trek.New(env.ctx, src, store, trek.WithLogger(env.logger))
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return eng, cleanup, nil
}

func openDB(cfg *config.Config) (*sql.DB, error) {
	switch cfg.Driver {
	case "sqlite", "":
		return sql.Open("sqlite", cfg.DSN)
	case "mysql":
		dsn := cfg.DSN
		if !strings.Contains(strings.ToLower(dsn), "parsetime=") {
			if strings.Contains(dsn, "?") {
				dsn += "&parseTime=true"
			} else {
				dsn += "?parseTime=true"
			}
		}
		db, err := sql.Open("mysql", dsn)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		return db, nil
	default:
		return nil, fmt.Errorf("unknown driver %q", cfg.Driver)
	}
}

// dbName naively extracts the database name from a MySQL DSN of the form
// user:pass@tcp(host:port)/dbname?params.
func dbName(dsn string) string {
	i := strings.LastIndex(dsn, "/")
	if i == -1 || i == len(dsn)-1 {
		return "db"
	}
	rest := dsn[i+1:]
	if j := strings.Index(rest, "?"); j != -1 {
		return rest[:j]
	}
	return rest
}

type upCmd struct {
	To string `kong:"help='Apply only up to and including this migration.'"`
}

func (c *upCmd) Run(env *runEnv) error {
	eng, cleanup, err := setup(env)
	if err != nil {
		return err
	}
	defer cleanup()

	var targets []trek.Target
	if c.To != "" {
		targets = append(targets, trek.To(c.To))
	}
	applied, err := eng.Up(env.ctx, targets...)
	if err != nil {
		env.logger.Error("up failed", "applied", len(applied), "error", err)
		return err
	}
	if len(applied) == 0 {
		env.logger.Info("no pending migrations")
		return nil
	}
	env.logger.Info("up complete", "applied", len(applied))
	return nil
}

type downCmd struct {
	Steps string `kong:"arg,optional,default='1',help='Number of migrations to revert, or all.'"`
}

func (c *downCmd) Run(env *runEnv) error {
	eng, cleanup, err := setup(env)
	if err != nil {
		return err
	}
	defer cleanup()

	var targets []trek.Target
	if strings.EqualFold(c.Steps, "all") {
		targets = append(targets, trek.All())
	} else {
		n, err := strconv.Atoi(c.Steps)
		if err != nil || n <= 0 {
			return fmt.Errorf("down requires a positive step count or 'all', got %q", c.Steps)
		}
		targets = append(targets, trek.Step(n))
	}
	reverted, err := eng.Down(env.ctx, targets...)
	if err != nil {
		env.logger.Error("down failed", "reverted", len(reverted), "error", err)
		return err
	}
	if len(reverted) == 0 {
		env.logger.Info("nothing to roll back")
		return nil
	}
	env.logger.Info("down complete", "reverted", len(reverted))
	return nil
}

type statusCmd struct{}

func (c *statusCmd) Run(env *runEnv) error {
	eng, cleanup, err := setup(env)
	if err != nil {
		return err
	}
	defer cleanup()

	executed, err := eng.Executed(env.ctx)
	if err != nil {
		return err
	}
	pending, err := eng.Pending(env.ctx)
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(executed)+len(pending))
	for _, m := range executed {
		rows = append(rows, []string{m.Name, "applied", m.Path})
	}
	for _, m := range pending {
		rows = append(rows, []string{m.Name, "pending", m.Path})
	}
	return renderTable([]string{"NAME", "STATUS", "SOURCE"}, rows, os.Stdout)
}

type createCmd struct {
	Name string `kong:"arg,help='Name of the new migration.'"`
}

func (c *createCmd) Run(env *runEnv) error {
	if err := os.MkdirAll(env.cfg.Dir, 0o755); err != nil {
		return err
	}
	ts := time.Now().UTC().Format("20060102150405")
	base := fmt.Sprintf("%s_%s", ts, sanitize(c.Name))
	up := filepath.Join(env.cfg.Dir, base+".sql")
	down := filepath.Join(env.cfg.Dir, base+".down.sql")
	if err := os.WriteFile(up, []byte("-- write your UP migration here\n"), 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(down, []byte("-- write your DOWN migration here\n"), 0o644); err != nil {
		return err
	}
	env.logger.Info("created migration pair", "up", up, "down", down)
	return nil
}

func sanitize(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	return s
}
