// Package memqueue is an in-memory queue.Producer/queue.Consumer used
// by the scheduler's own unit tests in place of a real broker.
package memqueue

import (
	"context"
	"sync"

	"github.com/kronos-sched/core/internal/queue"
)

// Queue is a simple in-memory fan-in/fan-out broker keyed by queue
// name. It implements both queue.Producer and queue.Consumer so a
// single instance can stand in for the whole transport in tests.
type Queue struct {
	mu       sync.Mutex
	messages map[string][][]byte
	failNext map[string]int
	sent     []Sent
}

// Sent records one successful Send call, useful for asserting which
// queue a task was dispatched to.
type Sent struct {
	QueueName string
	Payload   []byte
}

// New creates an empty Queue.
func New() *Queue {
	return &Queue{
		messages: make(map[string][][]byte),
		failNext: make(map[string]int),
	}
}

var _ queue.Producer = (*Queue)(nil)
var _ queue.Consumer = (*Queue)(nil)

// FailNext makes the next n Send calls to queueName return an error,
// used to exercise the TASK_SUBMISSION_FAILED path (spec scenario S6).
func (q *Queue) FailNext(queueName string, n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failNext[queueName] += n
}

func (q *Queue) Send(ctx context.Context, queueName string, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.failNext[queueName] > 0 {
		q.failNext[queueName]--
		return errSendFailed
	}

	q.messages[queueName] = append(q.messages[queueName], payload)
	q.sent = append(q.sent, Sent{QueueName: queueName, Payload: payload})
	return nil
}

// Poll drains and returns every message buffered for queueName.
func (q *Queue) Poll(ctx context.Context, queueName string) ([][]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	msgs := q.messages[queueName]
	q.messages[queueName] = nil
	return msgs, nil
}

// Push injects a raw message into queueName as if a remote producer
// had sent it, for feeding status updates into a Consumer under test.
func (q *Queue) Push(queueName string, payload []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages[queueName] = append(q.messages[queueName], payload)
}

// SentMessages returns every payload successfully sent so far, across all
// queue names, in send order.
func (q *Queue) SentMessages() []Sent {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Sent, len(q.sent))
	copy(out, q.sent)
	return out
}

func (q *Queue) Close() error { return nil }

type sendError struct{}

func (sendError) Error() string { return "memqueue: injected send failure" }

var errSendFailed = sendError{}
