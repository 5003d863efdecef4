// Package queue defines the outbound/inbound transport the scheduler
// core depends on. The core never talks to a concrete broker — it
// calls Producer.Send and Consumer.Poll and lets an adapter (natsqueue,
// memqueue) do the rest.
package queue

import "context"

// Producer sends a task payload to the outbound queue named after the
// task's type. Send must be non-blocking from the scheduler's
// perspective, or the adapter must apply its own async buffering —
// the scheduler calls Send while holding its monitor (spec §5).
type Producer interface {
	Send(ctx context.Context, queueName string, payload []byte) error
	Close() error
}

// Consumer polls a named queue for status messages, returning each
// message's raw bytes. Poll is the only suspension point besides the
// periodic cleanup sweep.
type Consumer interface {
	Poll(ctx context.Context, queueName string) ([][]byte, error)
	Close() error
}
