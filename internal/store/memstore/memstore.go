// Package memstore is an in-memory store.TaskStore and
// store.NamespaceService used by the scheduler's own unit tests.
package memstore

import (
	"context"
	"sync"

	"github.com/kronos-sched/core/internal/store"
	"github.com/kronos-sched/core/internal/task"
)

// Store is a map-backed fake, safe for concurrent use.
type Store struct {
	mu         sync.Mutex
	tasks      map[task.TaskID]*task.Task
	namespaces map[string]struct{}
}

var _ store.TaskStore = (*Store)(nil)
var _ store.NamespaceService = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{
		tasks:      make(map[task.TaskID]*task.Task),
		namespaces: make(map[string]struct{}),
	}
}

func (s *Store) List(ctx context.Context) ([]store.Namespace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]store.Namespace, 0, len(s.namespaces))
	for n := range s.namespaces {
		out = append(out, store.Namespace{Name: n})
	}
	return out, nil
}

func (s *Store) GetByStatus(ctx context.Context, namespace string, statuses []task.Status) ([]*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[task.Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}

	var out []*task.Task
	for id, t := range s.tasks {
		if id.Namespace == namespace && want[t.Status] {
			copied := *t
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *Store) GetAll(ctx context.Context, namespace string) ([]*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*task.Task
	for id, t := range s.tasks {
		if id.Namespace == namespace {
			copied := *t
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *Store) Put(ctx context.Context, t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *t
	s.tasks[t.ID()] = &copied
	s.namespaces[t.Namespace] = struct{}{}
	return nil
}

func (s *Store) UpdateStatus(ctx context.Context, id task.TaskID, status task.Status, message string, ctxData map[string]any, completedAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil
	}
	t.Status = status
	t.StatusMessage = message
	t.Context = ctxData
	t.CompletedAt = completedAt
	return nil
}

// Get returns the stored copy of id, for test assertions.
func (s *Store) Get(id task.TaskID) (*task.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	return t, ok
}
