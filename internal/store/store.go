// Package store defines the persistence boundary the scheduler core
// depends on for crash recovery: a TaskStore it reads every task
// (terminal included, so reloaded dependents still find their
// completed upstreams) from at startup and writes status transitions
// to, and a NamespaceService it enumerates to know which namespaces to
// reload.
package store

import (
	"context"

	"github.com/kronos-sched/core/internal/task"
)

// Namespace groups tasks for restart rehydration.
type Namespace struct {
	Name string
}

// NamespaceService enumerates the namespaces the scheduler must
// reload tasks for on startup.
type NamespaceService interface {
	List(ctx context.Context) ([]Namespace, error)
}

// TaskStore persists tasks and their status changes.
type TaskStore interface {
	GetByStatus(ctx context.Context, namespace string, statuses []task.Status) ([]*task.Task, error)
	// GetAll returns every task in namespace regardless of status,
	// used at startup so a reloaded dependent's already-SUCCESSFUL
	// upstreams are available for re-resolution, not just the
	// non-terminal tasks GetByStatus would return.
	GetAll(ctx context.Context, namespace string) ([]*task.Task, error)
	Put(ctx context.Context, t *task.Task) error
	UpdateStatus(ctx context.Context, id task.TaskID, status task.Status, message string, ctxData map[string]any, completedAt int64) error
}
