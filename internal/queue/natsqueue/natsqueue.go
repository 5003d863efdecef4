// Package natsqueue implements queue.Producer and queue.Consumer on
// top of a NATS JetStream context, carrying both outbound task
// dispatch and inbound status reporting under the single "task.*"
// subject space, since JetStream rejects a second stream whose
// subjects overlap an existing one.
package natsqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/kronos-sched/core/internal/queue"
)

const (
	streamName     = "KRONOS_TASKS"
	streamMaxAge   = 24 * time.Hour
	pollBatch      = 100
	pollWait       = 250 * time.Millisecond
	operationDelay = 5 * time.Second
)

// Queue is a JetStream-backed Producer/Consumer pair. Every queue
// name — a task type for dispatch, or the configured status queue
// name for inbound reporting — is published and subscribed under
// "task.<queueName>", all sharing the one KRONOS_TASKS stream.
type Queue struct {
	js     nats.JetStreamContext
	nc     *nats.Conn
	logger *zap.Logger
	subs   map[string]*nats.Subscription
}

var _ queue.Producer = (*Queue)(nil)
var _ queue.Consumer = (*Queue)(nil)

// Options configures the NATS connection. Zero-value fields fall
// back to sane defaults in New.
type Options struct {
	URL            string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
}

// New connects per opts, enables JetStream, and ensures the task
// stream exists.
func New(opts Options, logger *zap.Logger) (*Queue, error) {
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = operationDelay
	}
	if opts.ReconnectWait == 0 {
		opts.ReconnectWait = time.Second
	}
	if opts.MaxReconnects == 0 {
		opts.MaxReconnects = 10
	}

	nc, err := nats.Connect(opts.URL,
		nats.Name("kronos-scheduler"),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.Timeout(opts.ConnectTimeout),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("nats connection error", zap.String("subject", subject), zap.Error(err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := nc.JetStream(nats.MaxWait(operationDelay))
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	q := &Queue{js: js, nc: nc, logger: logger, subs: make(map[string]*nats.Subscription)}
	if err := q.ensureStream(streamName, []string{"task.*"}); err != nil {
		nc.Close()
		return nil, err
	}
	return q, nil
}

func (q *Queue) ensureStream(name string, subjects []string) error {
	_, err := q.js.AddStream(&nats.StreamConfig{
		Name:     name,
		Subjects: subjects,
		Storage:  nats.FileStorage,
		MaxAge:   streamMaxAge,
		MaxMsgs:  -1,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		return fmt.Errorf("create stream %s: %w", name, err)
	}
	return nil
}

// Send publishes payload to "task.<queueName>".
func (q *Queue) Send(ctx context.Context, queueName string, payload []byte) error {
	subject := "task." + queueName
	_, err := q.js.Publish(subject, payload, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// Poll pulls up to pollBatch pending messages from a durable pull
// consumer on queueName, acking each as it is returned.
func (q *Queue) Poll(ctx context.Context, queueName string) ([][]byte, error) {
	sub, err := q.subscription(queueName)
	if err != nil {
		return nil, err
	}

	msgs, err := sub.Fetch(pollBatch, nats.MaxWait(pollWait))
	if err != nil && err != nats.ErrTimeout {
		return nil, fmt.Errorf("fetch from %s: %w", queueName, err)
	}

	out := make([][]byte, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Data)
		if err := m.Ack(); err != nil {
			q.logger.Error("failed to ack status message", zap.String("queue", queueName), zap.Error(err))
		}
	}
	return out, nil
}

func (q *Queue) subscription(queueName string) (*nats.Subscription, error) {
	if sub, ok := q.subs[queueName]; ok {
		return sub, nil
	}

	subject := "task." + queueName
	sub, err := q.js.PullSubscribe(subject, "kronos-"+queueName,
		nats.AckExplicit(),
		nats.MaxDeliver(3),
	)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}
	q.subs[queueName] = sub
	return sub, nil
}

// Close unsubscribes every pull subscription and closes the
// underlying connection.
func (q *Queue) Close() error {
	for _, sub := range q.subs {
		_ = sub.Unsubscribe()
	}
	q.nc.Close()
	return nil
}
