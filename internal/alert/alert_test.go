package alert

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kronos-sched/core/internal/queue/memqueue"
	"github.com/kronos-sched/core/internal/task"
)

type fixedGauge int

func (g fixedGauge) ActiveCount() int { return int(g) }

func TestOnStatusUpdate_ReservedMessageRaisesMatchingAlert(t *testing.T) {
	q := memqueue.New()
	m := New(q, fixedGauge(0), 0, time.Hour, zap.NewNop())

	m.OnStatusUpdate(task.TaskID{Name: "a"}, task.StatusFailed, task.MessageTimedOut)

	sent := q.SentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, alertQueueName, sent[0].QueueName)

	var a Alert
	require.NoError(t, json.Unmarshal(sent[0].Payload, &a))
	assert.Equal(t, TypeTimedOut, a.Type)
	assert.NotEmpty(t, a.ID)
}

func TestOnStatusUpdate_NonFailedStatusRaisesNothing(t *testing.T) {
	q := memqueue.New()
	m := New(q, fixedGauge(0), 0, time.Hour, zap.NewNop())

	m.OnStatusUpdate(task.TaskID{Name: "a"}, task.StatusSuccessful, "")
	assert.Empty(t, q.SentMessages())
}

func TestOnStatusUpdate_UnreservedMessageRaisesNothing(t *testing.T) {
	q := memqueue.New()
	m := New(q, fixedGauge(0), 0, time.Hour, zap.NewNop())

	m.OnStatusUpdate(task.TaskID{Name: "a"}, task.StatusFailed, "some worker-specific failure")
	assert.Empty(t, q.SentMessages())
}

func TestEvaluateBacklog_AboveThresholdRaisesAlert(t *testing.T) {
	q := memqueue.New()
	m := New(q, fixedGauge(5), 3, time.Hour, zap.NewNop())

	m.evaluateBacklog()

	sent := q.SentMessages()
	require.Len(t, sent, 1)
	var a Alert
	require.NoError(t, json.Unmarshal(sent[0].Payload, &a))
	assert.Equal(t, TypeBacklogThreshold, a.Type)
	assert.Equal(t, float64(5), a.Data["active"])
}

func TestEvaluateBacklog_AtOrBelowThresholdRaisesNothing(t *testing.T) {
	q := memqueue.New()
	m := New(q, fixedGauge(3), 3, time.Hour, zap.NewNop())

	m.evaluateBacklog()
	assert.Empty(t, q.SentMessages())
}
