package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kronos-sched/core/internal/task"
)

func newTask(name string, createdAt int64, status task.Status) *task.Task {
	return &task.Task{
		TaskID:    task.TaskID{Namespace: "ns", Workflow: "wf", Job: "job1", Name: name},
		CreatedAt: createdAt,
		Status:    status,
	}
}

func TestAdd_DuplicateIsNoOp(t *testing.T) {
	p := New()
	a := newTask("a", 100, task.StatusCreated)

	require.True(t, p.Add(a))
	require.False(t, p.Add(a))
	assert.Equal(t, 1, p.Size())
}

func TestGetReadyTasks_OrderedByCreatedAtThenID(t *testing.T) {
	p := New()
	b := newTask("b", 200, task.StatusWaiting)
	a := newTask("a", 100, task.StatusWaiting)
	c := newTask("c", 100, task.StatusWaiting)

	p.Add(b)
	p.Add(a)
	p.Add(c)

	ready := p.GetReadyTasks()
	require.Len(t, ready, 3)
	assert.Equal(t, "a", ready[0].Name)
	assert.Equal(t, "c", ready[1].Name)
	assert.Equal(t, "b", ready[2].Name)
}

func TestIsReadyForExecution_RequiresAllUpstreamsSuccessful(t *testing.T) {
	p := New()
	u1 := newTask("u1", 100, task.StatusSuccessful)
	u2 := newTask("u2", 100, task.StatusRunning)
	d := newTask("d", 200, task.StatusWaiting)

	p.Add(u1)
	p.Add(u2)
	p.Add(d)
	p.AddDependencyEdge(u1.ID(), d.ID())
	p.AddDependencyEdge(u2.ID(), d.ID())

	assert.False(t, p.IsReadyForExecution(d))

	p.SetStatus(u2, task.StatusSuccessful)
	assert.True(t, p.IsReadyForExecution(d))
}

func TestGetDependentTasks_ReverseEdges(t *testing.T) {
	p := New()
	u := newTask("u", 100, task.StatusSuccessful)
	d1 := newTask("d1", 200, task.StatusWaiting)
	d2 := newTask("d2", 200, task.StatusWaiting)

	p.Add(u)
	p.Add(d1)
	p.Add(d2)
	p.AddDependencyEdge(u.ID(), d1.ID())
	p.AddDependencyEdge(u.ID(), d2.ID())

	deps := p.GetDependentTasks(u)
	require.Len(t, deps, 2)
}

func TestRemoveStaleTasks_SiblingsEvictedTogether(t *testing.T) {
	p := New()
	a := newTask("a", 0, task.StatusSuccessful)
	b := newTask("b", 0, task.StatusSuccessful)
	c := newTask("c", 0, task.StatusWaiting)
	a.CompletedAt = 1000
	b.CompletedAt = 1000

	p.Add(a)
	p.Add(b)
	p.Add(c)

	p.RemoveStaleTasks(100_000, 1000)
	assert.Equal(t, 3, p.Size(), "job retained while c is still active")

	p.SetStatus(c, task.StatusSuccessful)
	c.CompletedAt = 1000
	p.RemoveStaleTasks(100_000, 1000)
	assert.Equal(t, 0, p.Size(), "whole job evicted once every sibling is terminal")
}

func TestRemoveStaleTasks_RespectsMinAge(t *testing.T) {
	p := New()
	a := newTask("a", 0, task.StatusSuccessful)
	a.CompletedAt = 99_000

	p.Add(a)
	p.RemoveStaleTasks(100_000, 5000)
	assert.Equal(t, 1, p.Size(), "not yet old enough to evict")
}
