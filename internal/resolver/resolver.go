// Package resolver finds the concrete upstream task instances a
// freshly submitted task's dependency declarations refer to.
package resolver

import (
	"fmt"

	"github.com/kronos-sched/core/internal/provider"
	"github.com/kronos-sched/core/internal/task"
)

// Resolver resolves a task's DependsOn entries against a Provider's
// name index. It holds no state of its own.
type Resolver struct {
	provider *provider.Provider
}

// New creates a Resolver backed by p.
func New(p *provider.Provider) *Resolver {
	return &Resolver{provider: p}
}

// Named pairs a resolved upstream instance with the dependency entry
// name it was selected for, so callers can build a name-keyed context
// map without re-deriving the selection later.
type Named struct {
	Name string
	ID   task.TaskID
}

// Resolve finds, for every dependency entry on t, the upstream
// task(s) selected by its mode within its look-back window, scoped to
// t's own (Namespace, Workflow, Job). Returns the selected instances
// tagged with the dependency name they satisfy, or an error naming
// the first unresolvable entry. The returned set is exactly what must
// be wired as reverse edges and later used to assemble interpolation
// context — it is not safe to recompute independently, since the
// candidate pool can grow after resolution.
func (r *Resolver) Resolve(t *task.Task) ([]Named, error) {
	var upstreams []Named

	for _, dep := range t.DependsOn {
		candidates := r.provider.CandidatesByName(t.Namespace, t.Workflow, t.Job, dep.Name)
		windowed := inWindow(candidates, t.CreatedAt, dep.LookbackWindow.Milliseconds())
		if len(windowed) == 0 {
			return nil, fmt.Errorf("resolve dependency %q: %w", dep.Name, ErrNoCandidateInWindow)
		}

		selected, err := selectByMode(windowed, dep.Mode)
		if err != nil {
			return nil, fmt.Errorf("resolve dependency %q: %w", dep.Name, err)
		}
		for _, u := range selected {
			upstreams = append(upstreams, Named{Name: dep.Name, ID: u.ID()})
		}
	}

	return upstreams, nil
}

// inWindow filters candidates to createdAt-ascending-ordered tasks
// whose CreatedAt falls in [t.CreatedAt-window, t.CreatedAt]. The
// input slice is already ordered by the provider's secondary index.
func inWindow(candidates []*task.Task, createdAt, windowMs int64) []*task.Task {
	lower := createdAt - windowMs
	var out []*task.Task
	for _, c := range candidates {
		if c.CreatedAt >= lower && c.CreatedAt <= createdAt {
			out = append(out, c)
		}
	}
	return out
}

// selectByMode applies the all/first/last selection rule. windowed is
// already ordered ascending by CreatedAt, tie-broken by id tuple.
func selectByMode(windowed []*task.Task, mode task.DependencyMode) ([]*task.Task, error) {
	switch mode {
	case task.ModeAll:
		return windowed, nil
	case task.ModeFirst:
		return windowed[:1], nil
	case task.ModeLast:
		return windowed[len(windowed)-1:], nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDependencyMode, mode)
	}
}
