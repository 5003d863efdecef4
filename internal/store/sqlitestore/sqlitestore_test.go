package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kronos-sched/core/internal/task"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kronos.db")
	s, err := Open(zap.NewNop(), path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutAndGetByStatus_RoundTrips(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	tk := &task.Task{
		TaskID:             task.TaskID{Namespace: "ns", Workflow: "wf", Job: "job1", Name: "a"},
		Type:               "extract",
		CreatedAt:          100,
		MaxExecutionTimeMs: 60_000,
		DependsOn:          []task.Dependency{{Name: "seed", Mode: task.ModeLast, LookbackWindow: time.Second}},
		Properties:         map[string]any{"x": "y"},
		Status:             task.StatusWaiting,
	}
	require.NoError(t, s.Put(ctx, tk))

	tasks, err := s.GetByStatus(ctx, "ns", []task.Status{task.StatusWaiting})
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	got := tasks[0]
	assert.Equal(t, tk.ID(), got.ID())
	assert.Equal(t, "extract", got.Type)
	assert.Equal(t, "y", got.Properties["x"])
	require.Len(t, got.DependsOn, 1)
	assert.Equal(t, "seed", got.DependsOn[0].Name)
}

func TestPut_UpsertsOnConflict(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	tk := &task.Task{
		TaskID:    task.TaskID{Namespace: "ns", Workflow: "wf", Job: "job1", Name: "a"},
		Type:      "extract",
		CreatedAt: 100,
		Status:    task.StatusWaiting,
	}
	require.NoError(t, s.Put(ctx, tk))

	tk.Status = task.StatusScheduled
	require.NoError(t, s.Put(ctx, tk))

	waiting, err := s.GetByStatus(ctx, "ns", []task.Status{task.StatusWaiting})
	require.NoError(t, err)
	assert.Empty(t, waiting)

	scheduled, err := s.GetByStatus(ctx, "ns", []task.Status{task.StatusScheduled})
	require.NoError(t, err)
	assert.Len(t, scheduled, 1)
}

func TestUpdateStatus_AppliesToExistingRow(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	tk := &task.Task{
		TaskID:    task.TaskID{Namespace: "ns", Workflow: "wf", Job: "job1", Name: "a"},
		Type:      "extract",
		CreatedAt: 100,
		Status:    task.StatusRunning,
	}
	require.NoError(t, s.Put(ctx, tk))

	require.NoError(t, s.UpdateStatus(ctx, tk.ID(), task.StatusSuccessful, "", map[string]any{"rows": float64(3)}, 500))

	rows, err := s.GetByStatus(ctx, "ns", []task.Status{task.StatusSuccessful})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, float64(3), rows[0].Context["rows"])
	assert.Equal(t, int64(500), rows[0].CompletedAt)
}

func TestUpdateStatus_UnknownTaskLogsAndDoesNotError(t *testing.T) {
	s := openTest(t)
	err := s.UpdateStatus(context.Background(), task.TaskID{Name: "ghost"}, task.StatusSuccessful, "", nil, 0)
	assert.NoError(t, err)
}

func TestList_ReturnsEveryNamespaceATaskWasSubmittedUnder(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, &task.Task{TaskID: task.TaskID{Namespace: "ns-a", Workflow: "wf", Job: "j", Name: "a"}, CreatedAt: 1, Status: task.StatusWaiting}))
	require.NoError(t, s.Put(ctx, &task.Task{TaskID: task.TaskID{Namespace: "ns-b", Workflow: "wf", Job: "j", Name: "b"}, CreatedAt: 1, Status: task.StatusWaiting}))

	namespaces, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, namespaces, 2)
	assert.Equal(t, "ns-a", namespaces[0].Name)
	assert.Equal(t, "ns-b", namespaces[1].Name)
}
