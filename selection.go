package trek

import "fmt"

// Target narrows which migrations a single Up or Down call touches.
// Selections are evaluated against the live sequence and the live
// Execution Record at the moment of invocation, never cached.
type Target func(*selection)

// To targets every eligible unit up to and including the named one. The
// name must exist in the resolved sequence.
func To(name string) Target {
	return func(s *selection) { s.to = name; s.hasTo = true }
}

// Only targets exactly the named units. Names must exist in the resolved
// sequence; ones already in the desired state are skipped.
func Only(names ...string) Target {
	return func(s *selection) { s.only = names }
}

// Step targets the next n pending units for Up, or the last n executed
// units for Down.
func Step(n int) Target {
	return func(s *selection) { s.step = n }
}

// All targets every eligible unit. This is the Up default; Down defaults
// to the single most recently executed unit.
func All() Target {
	return func(s *selection) { s.all = true }
}

type selection struct {
	to    string
	hasTo bool
	only  []string
	step  int
	all   bool
}

func buildSelection(targets []Target) selection {
	var s selection
	for _, t := range targets {
		t(&s)
	}
	return s
}

// indexOf validates that name exists in the sequence before anything
// executes.
func indexOf(seq []Migration, name string) (int, error) {
	for i, m := range seq {
		if m.Name == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrNotFound, name)
}

func (s selection) forward(seq, pending []Migration) ([]Migration, error) {
	switch {
	case s.only != nil:
		return pick(seq, pending, s.only)
	case s.hasTo:
		limit, err := indexOf(seq, s.to)
		if err != nil {
			return nil, err
		}
		var out []Migration
		for _, m := range pending {
			i, err := indexOf(seq, m.Name)
			if err != nil {
				return nil, err
			}
			if i <= limit {
				out = append(out, m)
			}
		}
		return out, nil
	case s.step > 0 && s.step < len(pending):
		return pending[:s.step], nil
	default:
		return pending, nil
	}
}

func (s selection) backward(seq, executed []Migration) ([]Migration, error) {
	switch {
	case s.only != nil:
		picked, err := pick(seq, executed, s.only)
		if err != nil {
			return nil, err
		}
		reverse(picked)
		return picked, nil
	case s.hasTo:
		limit, err := indexOf(seq, s.to)
		if err != nil {
			return nil, err
		}
		var out []Migration
		for _, m := range executed {
			i, err := indexOf(seq, m.Name)
			if err != nil {
				return nil, err
			}
			if i >= limit {
				out = append(out, m)
			}
		}
		reverse(out)
		return out, nil
	case s.all:
		out := make([]Migration, len(executed))
		copy(out, executed)
		reverse(out)
		return out, nil
	default:
		n := s.step
		if n <= 0 {
			n = 1
		}
		if n > len(executed) {
			n = len(executed)
		}
		out := make([]Migration, 0, n)
		for i := len(executed) - 1; i >= len(executed)-n; i-- {
			out = append(out, executed[i])
		}
		return out, nil
	}
}

// pick keeps the eligible units whose names were requested, preserving
// sequence order. Unknown names fail before anything executes.
func pick(seq, eligible []Migration, names []string) ([]Migration, error) {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		if _, err := indexOf(seq, n); err != nil {
			return nil, err
		}
		want[n] = true
	}
	var out []Migration
	for _, m := range eligible {
		if want[m.Name] {
			out = append(out, m)
		}
	}
	return out, nil
}

func reverse(ms []Migration) {
	for i, j := 0, len(ms)-1; i < j; i, j = i+1, j-1 {
		ms[i], ms[j] = ms[j], ms[i]
	}
}
