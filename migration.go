package trek

import (
	"context"
	"sort"
)

// Direction of a migration run.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Action is one direction of a migration. Actions receive the caller's
// context and are expected to be idempotent against the target resource.
type Action func(ctx context.Context) error

// Actions is the pair returned by a ResolveFunc for one source file.
// Down may be nil if the migration is not reversible.
type Actions struct {
	Up   Action
	Down Action
}

// WrapFunc decorates an action before execution, e.g. for dependency
// injection or instrumentation. Returning nil violates the contract and
// fails the run with ErrActionContract.
type WrapFunc func(m Migration, dir Direction, a Action) Action

// Migration is a named pair of forward and backward actions. The name is
// the sole identity matched against the Execution Record; it must be
// unique within a resolved sequence and stable for the unit's lifetime.
// Migrations are immutable once resolved.
type Migration struct {
	Name string
	// Path is the source file the unit was resolved from, relative to
	// the glob source's directory. Empty for list and func sources.
	Path string
	Up   Action
	Down Action
}

func (m Migration) action(dir Direction) Action {
	if dir == DirectionDown {
		return m.Down
	}
	return m.Up
}

// SortByName orders a resolved sequence lexicographically by name.
// The engine itself never re-sorts; callers wanting a deterministic
// cross-platform order apply this before construction.
func SortByName(migrations []Migration) {
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Name < migrations[j].Name
	})
}
