package timeout

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kronos-sched/core/internal/task"
)

func synchronousSubmit(f func()) { f() }

func TestArm_FiresAfterDeadline(t *testing.T) {
	var mu sync.Mutex
	var fired task.TaskID
	done := make(chan struct{})

	m := New(func(id task.TaskID) {
		mu.Lock()
		fired = id
		mu.Unlock()
		close(done)
	}, nil)

	tk := &task.Task{
		TaskID:             task.TaskID{Name: "a"},
		SubmittedAt:        time.Now().UnixMilli(),
		MaxExecutionTimeMs: 20,
	}
	m.Arm(tk)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, tk.ID(), fired)
}

func TestArm_PastDeadlineFiresImmediatelyViaSubmit(t *testing.T) {
	var firedOnSubmitGoroutine bool

	m := New(func(id task.TaskID) {}, func(f func()) {
		firedOnSubmitGoroutine = true
		f()
	})

	tk := &task.Task{
		TaskID:             task.TaskID{Name: "a"},
		SubmittedAt:        time.Now().UnixMilli() - 10_000,
		MaxExecutionTimeMs: 10,
	}
	m.Arm(tk)

	assert.True(t, firedOnSubmitGoroutine)
}

func TestArm_FirstArmWins(t *testing.T) {
	calls := 0
	m := New(func(id task.TaskID) { calls++ }, synchronousSubmit)

	tk := &task.Task{
		TaskID:             task.TaskID{Name: "a"},
		SubmittedAt:        time.Now().UnixMilli() - 10_000,
		MaxExecutionTimeMs: 10,
	}
	m.Arm(tk)
	require.Equal(t, 1, calls)

	m.Arm(tk)
	assert.Equal(t, 1, calls, "re-arming an already-armed task is ignored")
}

func TestCancel_BeforeFireIsNoOp(t *testing.T) {
	calls := 0
	m := New(func(id task.TaskID) { calls++ }, nil)

	tk := &task.Task{
		TaskID:             task.TaskID{Name: "a"},
		SubmittedAt:        time.Now().UnixMilli(),
		MaxExecutionTimeMs: 60_000,
	}
	m.Arm(tk)
	m.Cancel(tk.ID())

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, calls)
}

func TestCancel_UnknownIDIsNoOp(t *testing.T) {
	m := New(func(id task.TaskID) {}, nil)
	assert.NotPanics(t, func() {
		m.Cancel(task.TaskID{Name: "never-armed"})
	})
}
