// Package metrics periodically publishes a scheduler-health snapshot
// onto the outbound queue: the total live task count and the count in
// each status, for external consumers to alert or graph on.
package metrics

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/kronos-sched/core/internal/queue"
	"github.com/kronos-sched/core/internal/task"
)

// StatusCounter is the subset of scheduler.Scheduler the collector
// needs: counts by status, without exposing the task graph itself.
type StatusCounter interface {
	Size() int
	CountByStatus(status task.Status) int
}

// Snapshot is the published metrics payload.
type Snapshot struct {
	Timestamp  time.Time `json:"timestamp"`
	Size       int       `json:"size"`
	Waiting    int       `json:"waiting"`
	Scheduled  int       `json:"scheduled"`
	Submitted  int       `json:"submitted"`
	Running    int       `json:"running"`
	Successful int       `json:"successful"`
	Failed     int       `json:"failed"`
}

const queueName = "metrics.scheduler"

// Collector publishes a Snapshot to the outbound queue on a fixed
// interval, replacing host CPU/memory sampling with counters drawn
// straight from the task graph.
type Collector struct {
	logger   *zap.Logger
	producer queue.Producer
	counter  StatusCounter
	interval time.Duration
	stop     chan struct{}
}

// New creates a Collector that samples counter every interval.
func New(producer queue.Producer, counter StatusCounter, interval time.Duration, logger *zap.Logger) *Collector {
	return &Collector{
		logger:   logger.Named("metrics"),
		producer: producer,
		counter:  counter,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start begins the collection loop until ctx is done or Stop is called.
func (c *Collector) Start(ctx context.Context) {
	go c.collectLoop(ctx)
}

// Stop ends the collection loop.
func (c *Collector) Stop() {
	close(c.stop)
}

func (c *Collector) collectLoop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.collect(ctx)
		}
	}
}

func (c *Collector) collect(ctx context.Context) {
	snap := Snapshot{
		Timestamp:  time.Now(),
		Size:       c.counter.Size(),
		Waiting:    c.counter.CountByStatus(task.StatusWaiting),
		Scheduled:  c.counter.CountByStatus(task.StatusScheduled),
		Submitted:  c.counter.CountByStatus(task.StatusSubmitted),
		Running:    c.counter.CountByStatus(task.StatusRunning),
		Successful: c.counter.CountByStatus(task.StatusSuccessful),
		Failed:     c.counter.CountByStatus(task.StatusFailed),
	}

	data, err := json.Marshal(snap)
	if err != nil {
		c.logger.Error("failed to marshal metrics snapshot", zap.Error(err))
		return
	}

	if err := c.producer.Send(ctx, queueName, data); err != nil {
		c.logger.Error("failed to publish metrics snapshot", zap.Error(err))
		return
	}

	c.logger.Debug("metrics snapshot published",
		zap.Int("size", snap.Size), zap.Int("running", snap.Running), zap.Int("failed", snap.Failed))
}
