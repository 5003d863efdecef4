// Package provider holds the in-memory task graph: the single
// authoritative index of every live task, its dependency edges, and
// the lookups the scheduler and resolver need to drive the state
// machine and the cleanup sweep.
package provider

import (
	"sort"

	"github.com/kronos-sched/core/internal/task"
)

type jobKey struct {
	Namespace string
	Workflow  string
	Job       string
}

// Provider is the in-memory indexed task graph. It holds no lock of
// its own: callers (the scheduler) must serialize access themselves,
// since a single Resolve or status transition touches several of its
// indexes as one atomic step.
type Provider struct {
	byID       map[task.TaskID]*task.Task
	byNameFeed map[nameKey][]*task.Task
	dependents map[task.TaskID]map[task.TaskID]struct{}
	upstreams  map[task.TaskID]map[task.TaskID]struct{}
	byStatus   map[task.Status]map[task.TaskID]struct{}
	byJob      map[jobKey]map[task.TaskID]struct{}
}

type nameKey struct {
	Namespace string
	Workflow  string
	Job       string
	Name      string
}

// New creates an empty Provider.
func New() *Provider {
	return &Provider{
		byID:       make(map[task.TaskID]*task.Task),
		byNameFeed: make(map[nameKey][]*task.Task),
		dependents: make(map[task.TaskID]map[task.TaskID]struct{}),
		upstreams:  make(map[task.TaskID]map[task.TaskID]struct{}),
		byStatus:   make(map[task.Status]map[task.TaskID]struct{}),
		byJob:      make(map[jobKey]map[task.TaskID]struct{}),
	}
}

// Add inserts t if its id is absent. Returns true on insert, false on
// a duplicate submission, which is a silent no-op per the invariant
// that no two live tasks share an id tuple.
func (p *Provider) Add(t *task.Task) bool {
	id := t.ID()
	if _, exists := p.byID[id]; exists {
		return false
	}

	p.byID[id] = t
	nk := nameKey{Namespace: id.Namespace, Workflow: id.Workflow, Job: id.Job, Name: id.Name}
	p.byNameFeed[nk] = insertSorted(p.byNameFeed[nk], t)

	jk := jobKey{Namespace: id.Namespace, Workflow: id.Workflow, Job: id.Job}
	if p.byJob[jk] == nil {
		p.byJob[jk] = make(map[task.TaskID]struct{})
	}
	p.byJob[jk][id] = struct{}{}

	p.indexStatus(t, t.Status)
	return true
}

func insertSorted(list []*task.Task, t *task.Task) []*task.Task {
	i := sort.Search(len(list), func(i int) bool {
		if list[i].CreatedAt != t.CreatedAt {
			return list[i].CreatedAt >= t.CreatedAt
		}
		return !list[i].ID().Less(t.ID())
	})
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = t
	return list
}

// CandidatesByName returns every task sharing (namespace, workflow,
// job, name), ordered ascending by CreatedAt then id tuple. Used by
// the resolver; the slice must not be mutated by callers.
func (p *Provider) CandidatesByName(namespace, workflow, job, name string) []*task.Task {
	return p.byNameFeed[nameKey{Namespace: namespace, Workflow: workflow, Job: job, Name: name}]
}

// AddDependencyEdge records that dependent depends on upstream,
// wiring both the reverse-edge index failure cascades walk and the
// forward index IsReadyForExecution checks.
func (p *Provider) AddDependencyEdge(upstream, dependent task.TaskID) {
	if p.dependents[upstream] == nil {
		p.dependents[upstream] = make(map[task.TaskID]struct{})
	}
	p.dependents[upstream][dependent] = struct{}{}

	if p.upstreams[dependent] == nil {
		p.upstreams[dependent] = make(map[task.TaskID]struct{})
	}
	p.upstreams[dependent][upstream] = struct{}{}
}

// GetTask looks up a task by id.
func (p *Provider) GetTask(id task.TaskID) (*task.Task, bool) {
	t, ok := p.byID[id]
	return t, ok
}

// GetTasks returns every task whose status is one of statuses.
func (p *Provider) GetTasks(statuses ...task.Status) []*task.Task {
	var out []*task.Task
	for _, st := range statuses {
		for id := range p.byStatus[st] {
			out = append(out, p.byID[id])
		}
	}
	return out
}

// GetActiveTasks returns every non-terminal task.
func (p *Provider) GetActiveTasks() []*task.Task {
	return p.GetTasks(task.StatusCreated, task.StatusWaiting, task.StatusScheduled,
		task.StatusSubmitted, task.StatusRunning)
}

// GetReadyTasks returns every WAITING task whose upstreams are all
// SUCCESSFUL, ordered by CreatedAt ascending, ties broken by id
// tuple — the dispatch order spec.md §5 mandates.
func (p *Provider) GetReadyTasks() []*task.Task {
	var out []*task.Task
	for id := range p.byStatus[task.StatusWaiting] {
		t := p.byID[id]
		if p.IsReadyForExecution(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID().Less(out[j].ID())
	})
	return out
}

// GetDependentTasks returns the direct dependents of t via the
// reverse-edge index, not a graph walk.
func (p *Provider) GetDependentTasks(t *task.Task) []*task.Task {
	deps := p.dependents[t.ID()]
	out := make([]*task.Task, 0, len(deps))
	for id := range deps {
		if dt, ok := p.byID[id]; ok {
			out = append(out, dt)
		}
	}
	return out
}

// IsReadyForExecution reports whether t is WAITING and every upstream
// it depends on is SUCCESSFUL.
func (p *Provider) IsReadyForExecution(t *task.Task) bool {
	if t.Status != task.StatusWaiting {
		return false
	}
	for upstream := range p.upstreams[t.ID()] {
		u, ok := p.byID[upstream]
		if !ok || u.Status != task.StatusSuccessful {
			return false
		}
	}
	return true
}

// Size returns the count of all live tasks.
func (p *Provider) Size() int {
	return len(p.byID)
}

// CountByStatus returns the number of live tasks in status.
func (p *Provider) CountByStatus(status task.Status) int {
	return len(p.byStatus[status])
}

// SetStatus updates t.Status and keeps the by-status index in sync.
// It is the only sanctioned way to mutate a task's status.
func (p *Provider) SetStatus(t *task.Task, status task.Status) {
	p.deindexStatus(t, t.Status)
	t.Status = status
	p.indexStatus(t, status)
}

func (p *Provider) indexStatus(t *task.Task, status task.Status) {
	if p.byStatus[status] == nil {
		p.byStatus[status] = make(map[task.TaskID]struct{})
	}
	p.byStatus[status][t.ID()] = struct{}{}
}

func (p *Provider) deindexStatus(t *task.Task, status task.Status) {
	if set, ok := p.byStatus[status]; ok {
		delete(set, t.ID())
	}
}

// RemoveStaleTasks evicts every job whose tasks are all terminal and
// have been completed for at least minAgeMs, siblings evicted
// together so no dangling reverse edge into a half-removed job
// survives. Idempotent: a job with no eligible tasks is left alone.
// Returns the evicted ids so callers can drop any side-table entries
// keyed by them.
func (p *Provider) RemoveStaleTasks(now, minAgeMs int64) []task.TaskID {
	var evicted []task.TaskID
	for jk, ids := range p.byJob {
		if !p.jobEvictable(ids, now, minAgeMs) {
			continue
		}
		for id := range ids {
			p.evict(id)
			evicted = append(evicted, id)
		}
		delete(p.byJob, jk)
	}
	return evicted
}

func (p *Provider) jobEvictable(ids map[task.TaskID]struct{}, now, minAgeMs int64) bool {
	for id := range ids {
		t, ok := p.byID[id]
		if !ok {
			continue
		}
		if !t.Status.IsTerminal() {
			return false
		}
		if now-t.CompletedAt < minAgeMs {
			return false
		}
	}
	return true
}

func (p *Provider) evict(id task.TaskID) {
	t, ok := p.byID[id]
	if !ok {
		return
	}
	p.deindexStatus(t, t.Status)
	delete(p.byID, id)
	delete(p.dependents, id)
	delete(p.upstreams, id)
	for _, deps := range p.dependents {
		delete(deps, id)
	}
	for _, ups := range p.upstreams {
		delete(ups, id)
	}

	nk := nameKey{Namespace: id.Namespace, Workflow: id.Workflow, Job: id.Job, Name: id.Name}
	feed := p.byNameFeed[nk]
	for i, ft := range feed {
		if ft.ID() == id {
			feed = append(feed[:i], feed[i+1:]...)
			break
		}
	}
	if len(feed) == 0 {
		delete(p.byNameFeed, nk)
	} else {
		p.byNameFeed[nk] = feed
	}
}
