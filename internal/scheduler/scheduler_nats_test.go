package scheduler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kronos-sched/core/internal/queue/natsqueue"
	"github.com/kronos-sched/core/internal/store/memstore"
	"github.com/kronos-sched/core/internal/task"
	"github.com/kronos-sched/core/internal/testutil"
)

// S1 over a real JetStream transport: a single dependency-free task
// is dispatched onto the "task.test" subject, and a worker-reported
// SUCCESSFUL status published onto the status subject is picked up by
// the scheduler's own poll loop.
func TestScheduler_S1_OverJetStream(t *testing.T) {
	srv, js, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	q, err := natsqueue.New(natsqueue.Options{URL: srv.ClientURL()}, zap.NewNop())
	require.NoError(t, err)
	defer q.Close()

	require.NoError(t, testutil.WaitForStream(t, js, "KRONOS_TASKS", 5*time.Second))

	st := memstore.New()
	cfg := Config{StatusQueueName: "status", PollInterval: 20 * time.Millisecond, PurgeInterval: time.Hour, PurgeMinAge: time.Hour}
	s := New(cfg, zap.NewNop(), q, q, st, st)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	a := mkTask("ns", "wf", "job1", "a", "test", 1)
	require.True(t, s.Submit(a))

	require.Eventually(t, func() bool {
		at, ok := s.provider.GetTask(a.ID())
		return ok && at.Status == task.StatusScheduled
	}, 5*time.Second, 20*time.Millisecond)

	update := task.StatusUpdate{TaskID: a.ID(), Status: task.StatusSuccessful, Context: map[string]any{}}
	payload, err := json.Marshal(update)
	require.NoError(t, err)
	require.NoError(t, q.Send(context.Background(), "status", payload))

	require.Eventually(t, func() bool {
		at, ok := s.provider.GetTask(a.ID())
		return ok && at.Status == task.StatusSuccessful
	}, 5*time.Second, 20*time.Millisecond)
}
