// Package scheduler orchestrates the task lifecycle: accepting
// submissions, driving state transitions, dispatching ready tasks
// onto the outbound queue, and consuming status updates from the
// inbound status queue.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kronos-sched/core/internal/interpolate"
	"github.com/kronos-sched/core/internal/provider"
	"github.com/kronos-sched/core/internal/queue"
	"github.com/kronos-sched/core/internal/resolver"
	"github.com/kronos-sched/core/internal/store"
	"github.com/kronos-sched/core/internal/task"
	"github.com/kronos-sched/core/internal/timeout"
)

// Config tunes the scheduler's background behavior.
type Config struct {
	StatusQueueName string
	PollInterval    time.Duration
	PurgeInterval   time.Duration
	PurgeMinAge     time.Duration
	ShutdownGrace   time.Duration
}

// DefaultConfig mirrors the tunables' documented defaults.
func DefaultConfig() Config {
	return Config{
		StatusQueueName: "status",
		PollInterval:    time.Second,
		PurgeInterval:   time.Hour,
		PurgeMinAge:     time.Hour,
		ShutdownGrace:   10 * time.Second,
	}
}

// Scheduler is the core orchestrator. A single mutex serializes every
// operation that mutates the task graph or transitions a task:
// Submit, UpdateStatus, scheduleReady, DeleteStaleTasks, and the
// timeout-firing callback. provider.Provider itself holds no lock —
// Scheduler is the sole caller and the sole owner of the monitor.
type Scheduler struct {
	mu sync.Mutex

	cfg      Config
	logger   *zap.Logger
	provider *provider.Provider
	resolver *resolver.Resolver
	timeouts *timeout.Manager

	// resolved retains each task's resolver.Named selection, keyed by
	// the task's own id, so interpolation context at dispatch time
	// uses exactly the instances picked at resolution time rather than
	// re-deriving a (possibly different) set from a candidate pool
	// that may have grown since.
	resolved map[task.TaskID][]resolver.Named

	producer   queue.Producer
	consumer   queue.Consumer
	taskStore  store.TaskStore
	namespaces store.NamespaceService

	group  *errgroup.Group
	loops  sync.WaitGroup
	cancel context.CancelFunc
	done   chan struct{}

	onFail func(id task.TaskID, status task.Status, statusMessage string)
}

// OnFail registers a hook invoked whenever a task transitions to
// FAILED, after the in-memory and store writes complete. Used to feed
// the alert manager without coupling the scheduler to it directly.
func (s *Scheduler) OnFail(hook func(id task.TaskID, status task.Status, statusMessage string)) {
	s.onFail = hook
}

// New wires a Scheduler from its injected collaborators. Lifecycle is
// New → Start → (serving) → Stop; nothing is reachable before Start.
func New(cfg Config, logger *zap.Logger, producer queue.Producer, consumer queue.Consumer,
	taskStore store.TaskStore, namespaces store.NamespaceService) *Scheduler {

	p := provider.New()
	s := &Scheduler{
		cfg:        cfg,
		logger:     logger.Named("scheduler"),
		provider:   p,
		resolver:   resolver.New(p),
		resolved:   make(map[task.TaskID][]resolver.Named),
		producer:   producer,
		consumer:   consumer,
		taskStore:  taskStore,
		namespaces: namespaces,
	}
	s.timeouts = timeout.New(s.fireTimeout, s.submitBackground)
	return s
}

// Submit is the entry point for external clients. It acquires the
// monitor, adds the task to the provider, resolves its dependencies,
// transitions it to WAITING or FAILED, then drives scheduleReady.
func (s *Scheduler) Submit(t *task.Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.Status == "" {
		t.Status = task.StatusCreated
	}
	if !s.provider.Add(t) {
		return false
	}

	if err := s.taskStore.Put(context.Background(), t); err != nil {
		s.logger.Error("store write failed on submit", zap.String("task", t.ID().String()), zap.Error(err))
	}

	s.resolveAndTransition(t)
	s.scheduleReady()
	return true
}

// resolveAndTransition runs the resolver for t and moves it to
// WAITING on success or FAILED(FAILED_TO_RESOLVE_DEPENDENCY) on
// failure, cascading in the failure case. Caller must hold s.mu.
func (s *Scheduler) resolveAndTransition(t *task.Task) {
	if !s.resolveEdges(t) {
		return
	}
	s.provider.SetStatus(t, task.StatusWaiting)
	s.persistStatus(t)
}

// resolveEdges runs the resolver for t and rebuilds its dependency
// edges and resolved-selection record, without altering t's status.
// It reports whether resolution succeeded; on failure t has already
// been failed and cascaded. Caller must hold s.mu.
func (s *Scheduler) resolveEdges(t *task.Task) bool {
	upstreams, err := s.resolver.Resolve(t)
	if err != nil {
		s.logger.Error("dependency resolution failed", zap.String("task", t.ID().String()), zap.Error(err))
		s.failTask(t, task.MessageFailedToResolveDependency)
		return false
	}

	for _, u := range upstreams {
		s.provider.AddDependencyEdge(u.ID, t.ID())
	}
	s.resolved[t.ID()] = upstreams
	return true
}

// scheduleReady collects every ready task and attempts to dispatch it
// onto the outbound queue, in createdAt-ascending order tie-broken by
// id tuple. Caller must hold s.mu.
func (s *Scheduler) scheduleReady() {
	ready := s.provider.GetReadyTasks()
	for _, t := range ready {
		s.dispatch(t)
	}
}

// dispatch interpolates t's properties from its resolved upstream
// contexts, serializes it, and sends it to the queue named after its
// type. On success it transitions to SCHEDULED; on failure it fails
// the task with TASK_SUBMISSION_FAILED and cascades. Caller must hold
// s.mu.
func (s *Scheduler) dispatch(t *task.Task) {
	upstreams := s.upstreamContexts(t)
	interpolate.Interpolate(t, upstreams, s.logger)

	payload, err := json.Marshal(t)
	if err != nil {
		s.logger.Error("failed to marshal task for dispatch", zap.String("task", t.ID().String()), zap.Error(err))
		s.failTask(t, task.MessageTaskSubmissionFailed)
		return
	}

	if err := s.producer.Send(context.Background(), t.Type, payload); err != nil {
		s.logger.Error("outbound send failed", zap.String("task", t.ID().String()), zap.Error(err))
		s.failTask(t, task.MessageTaskSubmissionFailed)
		return
	}

	s.provider.SetStatus(t, task.StatusScheduled)
	s.persistStatus(t)
}

// upstreamContexts builds the interpolate.Upstream list for t from
// exactly the instances its resolveAndTransition selected — never a
// fresh scan of same-name candidates, since a mode=first/last
// dependency must interpolate from the one instance it picked even if
// the candidate pool has grown since resolution.
func (s *Scheduler) upstreamContexts(t *task.Task) []interpolate.Upstream {
	var out []interpolate.Upstream
	for _, n := range s.resolved[t.ID()] {
		candidate, ok := s.provider.GetTask(n.ID)
		if !ok {
			continue
		}
		out = append(out, interpolate.Upstream{
			Name:      n.Name,
			ID:        n.ID,
			CreatedAt: candidate.CreatedAt,
			Context:   candidate.Context,
		})
	}
	return out
}

// UpdateStatus applies a status transition reported either by a
// worker via the status consumer, or internally (timeout firing).
// An update for an unknown id is logged and ignored, never propagated
// as an error.
func (s *Scheduler) UpdateStatus(update task.StatusUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.provider.GetTask(update.TaskID)
	if !ok {
		s.logger.Error("status update for unknown task", zap.String("task", update.TaskID.String()))
		return
	}

	if t.Status.IsTerminal() {
		return
	}

	switch update.Status {
	case task.StatusSubmitted:
		if t.SubmittedAt == 0 {
			t.SubmittedAt = time.Now().UnixMilli()
		}
		s.provider.SetStatus(t, task.StatusSubmitted)
		s.timeouts.Arm(t)
	case task.StatusRunning:
		s.provider.SetStatus(t, task.StatusRunning)
	case task.StatusSuccessful:
		t.Context = update.Context
		t.CompletedAt = time.Now().UnixMilli()
		s.timeouts.Cancel(t.ID())
		s.provider.SetStatus(t, task.StatusSuccessful)
		s.scheduleReady()
	case task.StatusFailed:
		t.CompletedAt = time.Now().UnixMilli()
		s.timeouts.Cancel(t.ID())
		s.failTask(t, update.StatusMessage)
		s.scheduleReady()
		return
	default:
		s.logger.Error("unrecognized status in update", zap.String("task", t.ID().String()), zap.String("status", string(update.Status)))
		return
	}
	s.persistStatus(t)
}

// failTask transitions t to FAILED with message and cascades the
// failure transitively to every dependent, per invariant 4.
func (s *Scheduler) failTask(t *task.Task, message string) {
	if t.CompletedAt == 0 {
		t.CompletedAt = time.Now().UnixMilli()
	}
	t.StatusMessage = message
	s.provider.SetStatus(t, task.StatusFailed)
	s.persistStatus(t)
	if s.onFail != nil {
		s.onFail(t.ID(), task.StatusFailed, message)
	}
	s.cascadeFailure(t)
}

// cascadeFailure walks the reverse-edge index breadth-first, failing
// every transitive dependent with FAILED_TO_RESOLVE_DEPENDENCY. Each
// dependent's own dependents are visited in turn, so the whole
// reachable set is terminal before cascadeFailure returns.
func (s *Scheduler) cascadeFailure(t *task.Task) {
	pending := s.provider.GetDependentTasks(t)
	for len(pending) > 0 {
		dependent := pending[0]
		pending = pending[1:]

		if dependent.Status.IsTerminal() {
			continue
		}
		if dependent.CompletedAt == 0 {
			dependent.CompletedAt = time.Now().UnixMilli()
		}
		dependent.StatusMessage = task.MessageFailedToResolveDependency
		s.provider.SetStatus(dependent, task.StatusFailed)
		s.persistStatus(dependent)
		if s.onFail != nil {
			s.onFail(dependent.ID(), task.StatusFailed, dependent.StatusMessage)
		}
		pending = append(pending, s.provider.GetDependentTasks(dependent)...)
	}
}

// fireTimeout is the TimeoutManager's FireFunc: it issues exactly one
// UpdateStatus(id, FAILED, TIMED_OUT). An update for an already
// terminal task (the cancellation raced the fire) is a tolerated
// no-op inside UpdateStatus.
func (s *Scheduler) fireTimeout(id task.TaskID) {
	s.UpdateStatus(task.StatusUpdate{TaskID: id, Status: task.StatusFailed, StatusMessage: task.MessageTimedOut})
}

// persistStatus writes t's current status to the store. A write
// failure is logged only — in-memory state has already advanced and
// is authoritative until the next restart reload.
func (s *Scheduler) persistStatus(t *task.Task) {
	err := s.taskStore.UpdateStatus(context.Background(), t.ID(), t.Status, t.StatusMessage, t.Context, t.CompletedAt)
	if err != nil {
		s.logger.Error("store write failed on status update", zap.String("task", t.ID().String()), zap.Error(err))
	}
}

// DeleteStaleTasks delegates to the provider's cleanup policy and
// drops the resolved-dependency entries of whatever it evicts.
func (s *Scheduler) DeleteStaleTasks() {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := s.provider.RemoveStaleTasks(time.Now().UnixMilli(), s.cfg.PurgeMinAge.Milliseconds())
	for _, id := range evicted {
		delete(s.resolved, id)
	}
}

// Size returns the count of all live tasks, for health reporting.
func (s *Scheduler) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.provider.Size()
}

// ActiveCount returns the count of non-terminal tasks.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.provider.GetActiveTasks())
}

// CountByStatus returns the number of live tasks in status, for the
// periodic metrics snapshot.
func (s *Scheduler) CountByStatus(status task.Status) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.provider.CountByStatus(status)
}

// Start reloads every task from the store via the namespace service,
// re-resolves the non-terminal ones and re-arms their timers, then
// starts status-queue polling and the periodic cleanup sweep on their
// own goroutines, with timeout fires dispatched onto a bounded worker
// pool.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.recover(ctx); err != nil {
		return fmt.Errorf("recover tasks on startup: %w", err)
	}

	gctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	// The bounded pool is sized and reserved for the ephemeral jobs
	// submitBackground dispatches (timeout fires); pollLoop and
	// purgeLoop run for the whole serving lifetime and would otherwise
	// permanently occupy two of its slots, starving timeout fires on
	// machines with NumCPU() <= 2.
	group, gctx := errgroup.WithContext(gctx)
	group.SetLimit(runtime.NumCPU())
	s.group = group

	s.loops.Add(2)
	go func() {
		defer s.loops.Done()
		if err := s.pollLoop(gctx); err != nil {
			s.logger.Error("poll loop exited", zap.Error(err))
		}
	}()
	go func() {
		defer s.loops.Done()
		if err := s.purgeLoop(gctx); err != nil {
			s.logger.Error("purge loop exited", zap.Error(err))
		}
	}()

	go func() {
		s.loops.Wait()
		_ = group.Wait()
		close(s.done)
	}()

	return nil
}

// recover reloads every task from every known namespace, ordered by
// createdAt ascending. A CREATED task is resolved and moved to WAITING
// as a fresh submission would be; every other non-terminal task only
// has its dependency edges rebuilt, keeping its status, and
// SUBMITTED/RUNNING tasks get their timers re-armed.
//
// Terminal tasks are reloaded too, not just non-terminal ones: a
// reloaded SCHEDULED-or-later task's resolver re-run needs its
// upstreams present in the provider to find them as candidates, and
// for any task past CREATED that upstream may already be terminal.
// Loading only non-terminal tasks would leave such an upstream absent
// from the provider, so re-resolution would come up empty and the
// dependent would be wrongly failed on every restart.
func (s *Scheduler) recover(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	namespaces, err := s.namespaces.List(ctx)
	if err != nil {
		return fmt.Errorf("list namespaces: %w", err)
	}

	var loaded []*task.Task
	for _, ns := range namespaces {
		tasks, err := s.taskStore.GetAll(ctx, ns.Name)
		if err != nil {
			return fmt.Errorf("load tasks for namespace %q: %w", ns.Name, err)
		}
		loaded = append(loaded, tasks...)
	}

	sort.Slice(loaded, func(i, j int) bool {
		if loaded[i].CreatedAt != loaded[j].CreatedAt {
			return loaded[i].CreatedAt < loaded[j].CreatedAt
		}
		return loaded[i].ID().Less(loaded[j].ID())
	})

	var active int
	for _, t := range loaded {
		if !s.provider.Add(t) {
			continue
		}
		if t.Status.IsTerminal() {
			continue
		}
		active++

		switch t.Status {
		case task.StatusCreated:
			s.resolveAndTransition(t)
			continue
		}
		// Every other non-terminal task was resolved before the
		// restart, but the in-memory edges and resolved-selection
		// record it depended on are gone; rebuild them so
		// IsReadyForExecution sees its real upstream set instead of
		// an empty one.
		if !s.resolveEdges(t) {
			continue
		}
		switch t.Status {
		case task.StatusSubmitted, task.StatusRunning:
			s.timeouts.Arm(t)
		}
	}
	s.scheduleReady()

	s.logger.Info("recovered tasks from store", zap.Int("loaded", len(loaded)), zap.Int("active", active))
	return nil
}

// pollLoop drains the inbound status queue at the configured
// interval, decoding and applying each status message.
func (s *Scheduler) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

func (s *Scheduler) pollOnce(ctx context.Context) {
	messages, err := s.consumer.Poll(ctx, s.cfg.StatusQueueName)
	if err != nil {
		s.logger.Error("status queue poll failed", zap.Error(err))
		return
	}

	for _, raw := range messages {
		var update task.StatusUpdate
		if err := json.Unmarshal(raw, &update); err != nil {
			s.logger.Error("malformed status message", zap.Error(err))
			continue
		}
		s.UpdateStatus(update)
	}
}

// purgeLoop runs DeleteStaleTasks at the configured purge interval.
func (s *Scheduler) purgeLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.DeleteStaleTasks()
		}
	}
}

// submitBackground dispatches f onto the worker pool, used by the
// TimeoutManager so a firing timer never runs its callback inline. A
// panic in f is recovered and logged so it cannot stop the scheduler.
func (s *Scheduler) submitBackground(f func()) {
	run := func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("background job panicked", zap.Any("panic", r))
			}
		}()
		f()
	}
	if s.group == nil {
		go run()
		return
	}
	s.group.Go(func() error {
		run()
		return nil
	})
}

// Stop cancels the worker pool, stops all timers, drains with the
// configured grace period, then closes the outbound producer.
func (s *Scheduler) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.timeouts.CancelAll()

	if s.done != nil {
		select {
		case <-s.done:
		case <-time.After(s.cfg.ShutdownGrace):
			s.logger.Warn("worker pool did not drain within grace period")
		}
	}

	return s.producer.Close()
}
