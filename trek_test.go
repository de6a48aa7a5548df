package trek

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testStorage is an in-memory Execution Record with failure injection.
type testStorage struct {
	mu       sync.Mutex
	executed []string
	failLog  map[string]error
}

func newTestStorage() *testStorage {
	return &testStorage{failLog: map[string]error{}}
}

func (s *testStorage) Log(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failLog[name]; err != nil {
		return err
	}
	s.executed = append(s.executed, name)
	return nil
}

func (s *testStorage) Unlog(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executed = slices.DeleteFunc(s.executed, func(n string) bool { return n == name })
	return nil
}

func (s *testStorage) Executed(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.executed), nil
}

// failingStorage fails every operation.
type failingStorage struct{ err error }

func (s failingStorage) Log(context.Context, string) error { return s.err }

func (s failingStorage) Unlog(context.Context, string) error { return s.err }

func (s failingStorage) Executed(context.Context) ([]string, error) { return nil, s.err }

// recorder builds migrations that append "name:direction" entries to a
// shared trace, with optional per-unit failures.
type recorder struct {
	trace []string
	fail  map[string]error
}

func (r *recorder) migration(name string) Migration {
	act := func(dir Direction) Action {
		return func(context.Context) error {
			key := name + ":" + string(dir)
			if err := r.fail[key]; err != nil {
				return err
			}
			r.trace = append(r.trace, key)
			return nil
		}
	}
	return Migration{Name: name, Up: act(DirectionUp), Down: act(DirectionDown)}
}

func (r *recorder) sequence(names ...string) ListSource {
	src := make(ListSource, 0, len(names))
	for _, n := range names {
		src = append(src, r.migration(n))
	}
	return src
}

func names(ms []Migration) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.Name)
	}
	return out
}

func TestUpAppliesAllInOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rec := &recorder{}
	eng, err := New(ctx, rec.sequence("m1", "m2", "m3"), newTestStorage())
	require.NoError(t, err)

	applied, err := eng.Up(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3"}, names(applied))
	assert.Equal(t, []string{"m1:up", "m2:up", "m3:up"}, rec.trace)

	executed, err := eng.Executed(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3"}, names(executed))

	pending, err := eng.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestUpTwiceIsNoop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rec := &recorder{}
	eng, err := New(ctx, rec.sequence("m1", "m2"), newTestStorage())
	require.NoError(t, err)

	_, err = eng.Up(ctx)
	require.NoError(t, err)
	require.Len(t, rec.trace, 2)

	applied, err := eng.Up(ctx)
	require.NoError(t, err)
	assert.Empty(t, applied)
	assert.Len(t, rec.trace, 2, "second up must invoke zero actions")
}

func TestUpFailureHaltsRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	boom := errors.New("boom")
	rec := &recorder{fail: map[string]error{"m2:up": boom}}
	store := newTestStorage()
	eng, err := New(ctx, rec.sequence("m1", "m2", "m3"), store)
	require.NoError(t, err)

	applied, err := eng.Up(ctx)
	require.Error(t, err)
	var eerr *ExecutionError
	require.ErrorAs(t, err, &eerr)
	assert.Equal(t, "m2", eerr.Name)
	assert.Equal(t, DirectionUp, eerr.Direction)
	assert.ErrorIs(t, err, boom)

	// m1 committed, m2 not, m3 never invoked.
	assert.Equal(t, []string{"m1"}, names(applied))
	assert.Equal(t, []string{"m1:up"}, rec.trace)
	assert.Equal(t, []string{"m1"}, store.executed)

	// pending still lists the failed unit and everything after it.
	pending, err := eng.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"m2", "m3"}, names(pending))

	// a retry resumes from the failed unit, skipping committed ones.
	rec.fail = nil
	applied, err = eng.Up(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"m2", "m3"}, names(applied))
	assert.Equal(t, []string{"m1:up", "m2:up", "m3:up"}, rec.trace)
}

func TestStorageWriteFailureStopsRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rec := &recorder{}
	store := newTestStorage()
	store.failLog["m2"] = errors.New("disk full")
	eng, err := New(ctx, rec.sequence("m1", "m2", "m3"), store)
	require.NoError(t, err)

	applied, err := eng.Up(ctx)
	require.Error(t, err)
	var serr *StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "log", serr.Op)
	assert.Equal(t, "m2", serr.Name)

	// m2's action ran but was not recorded; m3 never started.
	assert.Equal(t, []string{"m1"}, names(applied))
	assert.Equal(t, []string{"m1:up", "m2:up"}, rec.trace)
	assert.Equal(t, []string{"m1"}, store.executed)
}

func TestStorageReadFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rec := &recorder{}
	eng, err := New(ctx, rec.sequence("m1"), failingStorage{err: errors.New("locked")})
	require.NoError(t, err)

	_, err = eng.Up(ctx)
	var serr *StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "executed", serr.Op)
	assert.Empty(t, rec.trace)
}

func TestDownDefaultsToMostRecent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rec := &recorder{}
	store := newTestStorage()
	eng, err := New(ctx, rec.sequence("m1", "m2", "m3"), store)
	require.NoError(t, err)
	_, err = eng.Up(ctx)
	require.NoError(t, err)

	reverted, err := eng.Down(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"m3"}, names(reverted))
	assert.Equal(t, []string{"m1", "m2"}, store.executed)

	executed, err := eng.Executed(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, names(executed))
}

func TestDownAllRevertsInReverseOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rec := &recorder{}
	store := newTestStorage()
	eng, err := New(ctx, rec.sequence("m1", "m2", "m3"), store)
	require.NoError(t, err)
	_, err = eng.Up(ctx)
	require.NoError(t, err)
	rec.trace = nil

	reverted, err := eng.Down(ctx, All())
	require.NoError(t, err)
	assert.Equal(t, []string{"m3", "m2", "m1"}, names(reverted))
	assert.Equal(t, []string{"m3:down", "m2:down", "m1:down"}, rec.trace)
	assert.Empty(t, store.executed)
}

func TestDownStep(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rec := &recorder{}
	store := newTestStorage()
	eng, err := New(ctx, rec.sequence("m1", "m2", "m3"), store)
	require.NoError(t, err)
	_, err = eng.Up(ctx)
	require.NoError(t, err)

	reverted, err := eng.Down(ctx, Step(2))
	require.NoError(t, err)
	assert.Equal(t, []string{"m3", "m2"}, names(reverted))
	assert.Equal(t, []string{"m1"}, store.executed)
}

func TestUpTo(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rec := &recorder{}
	eng, err := New(ctx, rec.sequence("m1", "m2", "m3"), newTestStorage())
	require.NoError(t, err)

	applied, err := eng.Up(ctx, To("m2"))
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, names(applied))

	pending, err := eng.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"m3"}, names(pending))
}

func TestDownTo(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rec := &recorder{}
	store := newTestStorage()
	eng, err := New(ctx, rec.sequence("m1", "m2", "m3"), store)
	require.NoError(t, err)
	_, err = eng.Up(ctx)
	require.NoError(t, err)

	reverted, err := eng.Down(ctx, To("m2"))
	require.NoError(t, err)
	assert.Equal(t, []string{"m3", "m2"}, names(reverted))
	assert.Equal(t, []string{"m1"}, store.executed)
}

func TestUpOnlySkipsExecuted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rec := &recorder{}
	eng, err := New(ctx, rec.sequence("m1", "m2", "m3"), newTestStorage())
	require.NoError(t, err)

	_, err = eng.Up(ctx, Only("m1"))
	require.NoError(t, err)

	applied, err := eng.Up(ctx, Only("m1", "m3"))
	require.NoError(t, err)
	assert.Equal(t, []string{"m3"}, names(applied))
	assert.Equal(t, []string{"m1:up", "m3:up"}, rec.trace)
}

func TestUpStep(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rec := &recorder{}
	eng, err := New(ctx, rec.sequence("m1", "m2", "m3"), newTestStorage())
	require.NoError(t, err)

	applied, err := eng.Up(ctx, Step(2))
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, names(applied))
}

func TestUnknownTargetFailsBeforeExecuting(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rec := &recorder{}
	store := newTestStorage()
	eng, err := New(ctx, rec.sequence("m1", "m2"), store)
	require.NoError(t, err)

	_, err = eng.Up(ctx, To("nope"))
	require.ErrorIs(t, err, ErrNotFound)

	_, err = eng.Up(ctx, Only("m1", "nope"))
	require.ErrorIs(t, err, ErrNotFound)

	_, err = eng.Down(ctx, To("nope"))
	require.ErrorIs(t, err, ErrNotFound)

	assert.Empty(t, rec.trace, "no action may run on a bad selection")
	assert.Empty(t, store.executed)
}

func TestDuplicateNamesRejectedAtResolution(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rec := &recorder{}
	_, err := New(ctx, rec.sequence("m1", "m1"), newTestStorage())
	require.Error(t, err)
	var rerr *ResolutionError
	assert.ErrorAs(t, err, &rerr)
	assert.ErrorIs(t, err, ErrDuplicateName)
}

func TestMigrationWithoutActionsRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	_, err := New(ctx, ListSource{{Name: "m1"}}, newTestStorage())
	require.ErrorIs(t, err, ErrMissingAction)
}

func TestMissingDownAction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	src := ListSource{{
		Name: "m1",
		Up:   func(context.Context) error { return nil },
	}}
	store := newTestStorage()
	eng, err := New(ctx, src, store)
	require.NoError(t, err)
	_, err = eng.Up(ctx)
	require.NoError(t, err)

	_, err = eng.Down(ctx)
	var eerr *ExecutionError
	require.ErrorAs(t, err, &eerr)
	assert.Equal(t, "m1", eerr.Name)
	assert.Equal(t, DirectionDown, eerr.Direction)
	assert.ErrorIs(t, err, ErrMissingAction)
	assert.Equal(t, []string{"m1"}, store.executed, "failed down must keep the record")
}

func TestWrapDecoratesEveryAction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rec := &recorder{}
	var wrapped []string
	wrap := func(m Migration, dir Direction, a Action) Action {
		return func(ctx context.Context) error {
			wrapped = append(wrapped, fmt.Sprintf("%s:%s", m.Name, dir))
			return a(ctx)
		}
	}
	eng, err := New(ctx, rec.sequence("m1", "m2"), newTestStorage(), WithWrap(wrap))
	require.NoError(t, err)

	_, err = eng.Up(ctx)
	require.NoError(t, err)
	_, err = eng.Down(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1:up", "m2:up", "m2:down"}, wrapped)
	assert.Equal(t, []string{"m1:up", "m2:up", "m2:down"}, rec.trace)
}

func TestWrapReturningNilViolatesContract(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rec := &recorder{}
	wrap := func(Migration, Direction, Action) Action { return nil }
	store := newTestStorage()
	eng, err := New(ctx, rec.sequence("m1"), store, WithWrap(wrap))
	require.NoError(t, err)

	_, err = eng.Up(ctx)
	require.ErrorIs(t, err, ErrActionContract)
	assert.Empty(t, store.executed)
}

func TestReversedSequenceRunsReversed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rec := &recorder{}
	seq := []Migration(rec.sequence("m1", "m2", "m3"))
	slices.Reverse(seq)
	store := newTestStorage()
	eng, err := New(ctx, ListSource(seq), store)
	require.NoError(t, err)

	_, err = eng.Up(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"m3:up", "m2:up", "m1:up"}, rec.trace)
	assert.Equal(t, []string{"m3", "m2", "m1"}, store.executed)
}

func TestFuncSourceReceivesStorage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStorage()
	var got Storage
	src := FuncSource(func(s Storage) ([]Migration, error) {
		got = s
		rec := &recorder{}
		return []Migration(rec.sequence("m1")), nil
	})
	_, err := New(ctx, src, store)
	require.NoError(t, err)
	assert.Same(t, store, got)
}

func TestSortByName(t *testing.T) {
	t.Parallel()
	ms := []Migration{
		{Name: "m4", Up: func(context.Context) error { return nil }},
		{Name: "m1", Up: func(context.Context) error { return nil }},
		{Name: "m3", Up: func(context.Context) error { return nil }},
		{Name: "m2", Up: func(context.Context) error { return nil }},
	}
	SortByName(ms)
	assert.Equal(t, []string{"m1", "m2", "m3", "m4"}, names(ms))
}
