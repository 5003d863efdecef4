// Package alert watches scheduler status events and raises alerts on
// the core's own reserved failure messages, plus a backlog-size
// threshold, publishing each alert to the outbound queue.
package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kronos-sched/core/internal/queue"
	"github.com/kronos-sched/core/internal/task"
)

// Type distinguishes the kind of condition an alert reports.
type Type string

const (
	TypeTimedOut          Type = "TIMED_OUT"
	TypeDependencyFailure Type = "FAILED_TO_RESOLVE_DEPENDENCY"
	TypeSubmissionFailure Type = "TASK_SUBMISSION_FAILED"
	TypeBacklogThreshold  Type = "BACKLOG_THRESHOLD"
)

// Alert is the published notification payload.
type Alert struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

const alertQueueName = "alert.scheduler"

// BacklogGauge is the subset of scheduler.Scheduler the Manager polls
// to evaluate the backlog-size threshold rule.
type BacklogGauge interface {
	ActiveCount() int
}

// Manager raises alerts for the scheduler's reserved status messages
// and for an active-task backlog exceeding a configured threshold.
type Manager struct {
	logger           *zap.Logger
	producer         queue.Producer
	gauge            BacklogGauge
	backlogThreshold int
	evalInterval     time.Duration
	stop             chan struct{}
}

// New creates a Manager. backlogThreshold <= 0 disables the backlog
// rule entirely.
func New(producer queue.Producer, gauge BacklogGauge, backlogThreshold int, evalInterval time.Duration, logger *zap.Logger) *Manager {
	return &Manager{
		logger:           logger.Named("alert"),
		producer:         producer,
		gauge:            gauge,
		backlogThreshold: backlogThreshold,
		evalInterval:     evalInterval,
		stop:             make(chan struct{}),
	}
}

// Start begins the backlog evaluation loop.
func (m *Manager) Start(ctx context.Context) {
	if m.backlogThreshold > 0 {
		go m.evaluationLoop(ctx)
	}
}

// Stop ends the evaluation loop.
func (m *Manager) Stop() {
	close(m.stop)
}

// OnStatusUpdate inspects a task's terminal status transition and
// raises the matching reserved-message alert, if any.
func (m *Manager) OnStatusUpdate(id task.TaskID, status task.Status, statusMessage string) {
	if status != task.StatusFailed {
		return
	}

	var alertType Type
	switch statusMessage {
	case task.MessageTimedOut:
		alertType = TypeTimedOut
	case task.MessageFailedToResolveDependency:
		alertType = TypeDependencyFailure
	case task.MessageTaskSubmissionFailed:
		alertType = TypeSubmissionFailure
	default:
		return
	}

	m.raise(alertType, fmt.Sprintf("task %s failed: %s", id.String(), statusMessage),
		map[string]any{"taskId": id.String()})
}

func (m *Manager) evaluationLoop(ctx context.Context) {
	ticker := time.NewTicker(m.evalInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.evaluateBacklog()
		}
	}
}

func (m *Manager) evaluateBacklog() {
	active := m.gauge.ActiveCount()
	if active <= m.backlogThreshold {
		return
	}
	m.raise(TypeBacklogThreshold, fmt.Sprintf("active task backlog %d exceeds threshold %d", active, m.backlogThreshold),
		map[string]any{"active": active, "threshold": m.backlogThreshold})
}

func (m *Manager) raise(alertType Type, message string, data map[string]any) {
	a := Alert{
		ID:        uuid.New().String(),
		Type:      alertType,
		Message:   message,
		Data:      data,
		CreatedAt: time.Now(),
	}

	payload, err := json.Marshal(a)
	if err != nil {
		m.logger.Error("failed to marshal alert", zap.Error(err))
		return
	}

	if err := m.producer.Send(context.Background(), alertQueueName, payload); err != nil {
		m.logger.Error("failed to publish alert", zap.Error(err))
		return
	}

	m.logger.Info("alert raised", zap.String("id", a.ID), zap.String("type", string(a.Type)))
}
