// Package trek orchestrates ordered, idempotent change units
// ("migrations") against any stateful resource. A Source resolves a
// declarative description into a canonical sequence, a Storage backend
// records which units have already run, and the Migrator computes and
// executes the subset needed to reach the desired state.
package trek

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Migrator holds a resolved migration sequence and the storage backend
// tracking executed state. Migrations run strictly sequentially; later
// units may depend on the durable effects of earlier ones and the
// Execution Record must reflect a linear history.
//
// A Migrator is safe for use from a single goroutine. It does not
// provide cross-process locking; concurrent instances against the same
// backend are outside the guaranteed contract.
type Migrator struct {
	migrations []Migration
	store      Storage
	logger     *slog.Logger
	wrap       WrapFunc
}

// Option configures a Migrator.
type Option func(*Migrator)

// WithLogger sets the logger used for per-migration events. The default
// discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Migrator) { m.logger = logger }
}

// WithWrap decorates every action before it runs.
func WithWrap(wrap WrapFunc) Option {
	return func(m *Migrator) { m.wrap = wrap }
}

// New resolves src once and returns an engine over the resulting
// sequence. Resolution failures, empty names, units with neither action,
// and duplicate names are all reported here, before anything executes.
func New(ctx context.Context, src Source, store Storage, opts ...Option) (*Migrator, error) {
	if src == nil {
		return nil, errors.New("trek: nil source")
	}
	if store == nil {
		return nil, errors.New("trek: nil storage")
	}
	m := &Migrator{
		store:  store,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(m)
	}

	migrations, err := src.Migrations(ctx, store)
	if err != nil {
		var rerr *ResolutionError
		if errors.As(err, &rerr) {
			return nil, err
		}
		return nil, &ResolutionError{Err: err}
	}
	seen := make(map[string]bool, len(migrations))
	for _, mig := range migrations {
		if mig.Name == "" {
			return nil, &ResolutionError{Path: mig.Path, Err: errors.New("migration without a name")}
		}
		if mig.Up == nil && mig.Down == nil {
			return nil, &ResolutionError{Path: mig.Path, Err: fmt.Errorf("%w: %q", ErrMissingAction, mig.Name)}
		}
		if seen[mig.Name] {
			return nil, &ResolutionError{Err: fmt.Errorf("%w: %q", ErrDuplicateName, mig.Name)}
		}
		seen[mig.Name] = true
	}
	m.migrations = migrations
	return m, nil
}

// Migrations returns the resolved sequence in execution order.
func (m *Migrator) Migrations() []Migration {
	out := make([]Migration, len(m.migrations))
	copy(out, m.migrations)
	return out
}

// Pending returns the units not present in the Execution Record, in
// sequence order. Pure read.
func (m *Migrator) Pending(ctx context.Context) ([]Migration, error) {
	executed, err := m.executedSet(ctx)
	if err != nil {
		return nil, err
	}
	var out []Migration
	for _, mig := range m.migrations {
		if !executed[mig.Name] {
			out = append(out, mig)
		}
	}
	return out, nil
}

// Executed returns the units present in the Execution Record, in
// sequence order. Pure read.
func (m *Migrator) Executed(ctx context.Context) ([]Migration, error) {
	executed, err := m.executedSet(ctx)
	if err != nil {
		return nil, err
	}
	var out []Migration
	for _, mig := range m.migrations {
		if executed[mig.Name] {
			out = append(out, mig)
		}
	}
	return out, nil
}

// Up executes pending migrations in sequence order, recording each one
// before starting the next. With no target it runs everything pending.
// On failure it stops and returns the units already committed alongside
// an *ExecutionError or *StorageError; a later call resumes from the
// failed unit because committed ones are recorded.
//
// Calling Up twice without an intervening Down is a no-op.
func (m *Migrator) Up(ctx context.Context, targets ...Target) ([]Migration, error) {
	sel := buildSelection(targets)
	pending, err := m.Pending(ctx)
	if err != nil {
		return nil, err
	}
	run, err := sel.forward(m.migrations, pending)
	if err != nil {
		return nil, err
	}

	done := make([]Migration, 0, len(run))
	for _, mig := range run {
		m.logger.Info("migrating", "name", mig.Name)
		start := time.Now()
		if err := m.execute(ctx, mig, DirectionUp); err != nil {
			return done, err
		}
		if err := m.store.Log(ctx, mig.Name); err != nil {
			return done, &StorageError{Op: "log", Name: mig.Name, Err: err}
		}
		m.logger.Info("migrated", "name", mig.Name, "duration", time.Since(start))
		done = append(done, mig)
	}
	return done, nil
}

// Down reverts executed migrations in reverse sequence order, removing
// each record before starting the next. With no target it reverts only
// the single most recently executed unit; pass All to revert everything
// or Step(n) for the last n.
func (m *Migrator) Down(ctx context.Context, targets ...Target) ([]Migration, error) {
	sel := buildSelection(targets)
	executed, err := m.Executed(ctx)
	if err != nil {
		return nil, err
	}
	run, err := sel.backward(m.migrations, executed)
	if err != nil {
		return nil, err
	}

	done := make([]Migration, 0, len(run))
	for _, mig := range run {
		m.logger.Info("reverting", "name", mig.Name)
		start := time.Now()
		if err := m.execute(ctx, mig, DirectionDown); err != nil {
			return done, err
		}
		if err := m.store.Unlog(ctx, mig.Name); err != nil {
			return done, &StorageError{Op: "unlog", Name: mig.Name, Err: err}
		}
		m.logger.Info("reverted", "name", mig.Name, "duration", time.Since(start))
		done = append(done, mig)
	}
	return done, nil
}

func (m *Migrator) execute(ctx context.Context, mig Migration, dir Direction) error {
	action := mig.action(dir)
	if action == nil {
		return &ExecutionError{Name: mig.Name, Direction: dir, Err: ErrMissingAction}
	}
	if m.wrap != nil {
		if action = m.wrap(mig, dir, action); action == nil {
			return &ExecutionError{Name: mig.Name, Direction: dir, Err: ErrActionContract}
		}
	}
	if err := action(ctx); err != nil {
		return &ExecutionError{Name: mig.Name, Direction: dir, Err: err}
	}
	return nil
}

func (m *Migrator) executedSet(ctx context.Context) (map[string]bool, error) {
	names, err := m.store.Executed(ctx)
	if err != nil {
		return nil, &StorageError{Op: "executed", Err: err}
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set, nil
}
