// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package scheduler runs worker tasks on cron, interval and one-shot
// schedules. Tasks are persisted in the document store so the CLI and the
// daemon share them.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/opencorp/internal/config"
	"github.com/tombee/opencorp/internal/events"
	"github.com/tombee/opencorp/internal/log"
	"github.com/tombee/opencorp/internal/metrics"
	"github.com/tombee/opencorp/internal/store"
	"github.com/tombee/opencorp/internal/worker"
	corperrors "github.com/tombee/opencorp/pkg/errors"
)

// Collection holds scheduled tasks.
const Collection = "scheduled_tasks"

// Schedule types.
const (
	TypeCron     = "cron"
	TypeInterval = "interval"
	TypeOnce     = "once"
)

// ValidTypes lists the accepted schedule types.
var ValidTypes = []string{TypeCron, TypeInterval, TypeOnce}

// Loop timing.
const (
	DefaultTickInterval   = time.Second
	DefaultResyncInterval = 30 * time.Second
	maxResponseRunes      = 500
)

// Task is a persisted scheduled task.
type Task struct {
	ID            string `json:"id"`
	WorkerName    string `json:"worker_name"`
	Message       string `json:"message"`
	ScheduleType  string `json:"schedule_type"`
	ScheduleValue string `json:"schedule_value"`
	Enabled       bool   `json:"enabled"`
	Description   string `json:"description"`
	CreatedAt     string `json:"created_at"`
}

// NewTask returns an enabled task ready for AddTask.
func NewTask(workerName, message, scheduleType, scheduleValue string) Task {
	return Task{
		WorkerName:    workerName,
		Message:       message,
		ScheduleType:  scheduleType,
		ScheduleValue: scheduleValue,
		Enabled:       true,
	}
}

// TaskRunner runs one message against a named worker.
type TaskRunner interface {
	RunTask(ctx context.Context, worker, message string) (string, error)
}

type job struct {
	task     Task
	cron     *CronExpr
	interval time.Duration
	next     time.Time
}

// Scheduler owns the task table and, once started, the timing loop.
type Scheduler struct {
	project *config.Project
	coll    *store.Collection
	st      *store.Store
	runner  TaskRunner
	emitter events.Emitter
	logger  *slog.Logger
	now     func() time.Time

	tickInterval   time.Duration
	resyncInterval time.Duration

	mu       sync.Mutex
	jobs     map[string]*job
	running  bool
	cancel   context.CancelFunc
	doneCh   chan struct{}
	inflight sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithEmitter sets where task events are published.
func WithEmitter(em events.Emitter) Option {
	return func(s *Scheduler) { s.emitter = em }
}

// WithLogger sets the scheduler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithTickInterval sets how often due tasks are checked.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tickInterval = d
		}
	}
}

// WithResyncInterval sets how often the running loop re-reads the task
// table to pick up changes made by other processes.
func WithResyncInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.resyncInterval = d
		}
	}
}

// New creates a scheduler over the project's task table.
func New(p *config.Project, st *store.Store, runner TaskRunner, opts ...Option) *Scheduler {
	s := &Scheduler{
		project:        p,
		st:             st,
		coll:           st.Collection(Collection),
		runner:         runner,
		emitter:        events.Discard{},
		logger:         slog.Default(),
		now:            time.Now,
		tickInterval:   DefaultTickInterval,
		resyncInterval: DefaultResyncInterval,
		jobs:           make(map[string]*job),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = log.WithComponent(s.logger, "scheduler")
	return s
}

// ValidateSchedule checks a schedule type and value.
func ValidateSchedule(scheduleType, value string) error {
	switch scheduleType {
	case TypeCron:
		if _, err := ParseCron(value); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", value, err)
		}
	case TypeInterval:
		if _, err := parseInterval(value); err != nil {
			return err
		}
	case TypeOnce:
		if _, err := ParseRunAt(value); err != nil {
			return err
		}
	default:
		return fmt.Errorf("Invalid schedule_type '%s'. Must be one of: %s", scheduleType, strings.Join(ValidTypes, ", "))
	}
	return nil
}

func parseInterval(value string) (time.Duration, error) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("interval must be a positive number of seconds, got %q", value)
	}
	return time.Duration(n) * time.Second, nil
}

var runAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// ParseRunAt parses a one-shot run time. Values without an offset are
// local time.
func ParseRunAt(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range runAtLayouts {
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid datetime %q: expected ISO 8601 such as 2025-01-02T15:04:05", value)
}

// AddTask validates and stores t, assigning an id and creation time when
// they are empty. A running scheduler picks the task up immediately.
func (s *Scheduler) AddTask(ctx context.Context, t Task) (Task, error) {
	ref := t.ID
	if ref == "" {
		ref = "new"
	}

	switch t.ScheduleType {
	case TypeCron, TypeInterval, TypeOnce:
	default:
		return Task{}, &corperrors.SchedulerError{
			TaskID: ref,
			Reason: fmt.Sprintf("Invalid schedule_type '%s'. Must be one of: %s", t.ScheduleType, strings.Join(ValidTypes, ", ")),
		}
	}
	if !worker.Exists(s.project, t.WorkerName) {
		return Task{}, &corperrors.SchedulerError{
			TaskID: ref,
			Reason: fmt.Sprintf("Worker '%s' not found", t.WorkerName),
			Hint:   "Run 'corp workers' to see available workers.",
		}
	}
	if err := ValidateSchedule(t.ScheduleType, t.ScheduleValue); err != nil {
		return Task{}, &corperrors.SchedulerError{TaskID: ref, Reason: err.Error()}
	}

	if t.ID == "" {
		t.ID = uuid.NewString()[:8]
	}
	if t.CreatedAt == "" {
		t.CreatedAt = s.now().UTC().Format(time.RFC3339Nano)
	}
	if err := s.coll.Insert(ctx, t); err != nil {
		return Task{}, fmt.Errorf("saving task %s: %w", t.ID, err)
	}
	s.logger.Info("task added", log.TaskIDKey, t.ID, "type", t.ScheduleType, "worker", t.WorkerName)

	s.mu.Lock()
	if s.running && t.Enabled {
		s.register(t, s.now())
	}
	s.mu.Unlock()
	return t, nil
}

// RemoveTask deletes a task.
func (s *Scheduler) RemoveTask(ctx context.Context, id string) error {
	n, err := s.coll.RemoveWhere(ctx, func(d store.Document) bool { return d.String("id") == id })
	if err != nil {
		return fmt.Errorf("removing task %s: %w", id, err)
	}
	if n == 0 {
		return &corperrors.SchedulerError{TaskID: id, Reason: "Task not found"}
	}
	s.mu.Lock()
	delete(s.jobs, id)
	s.mu.Unlock()
	return nil
}

// ListTasks returns every task in creation order.
func (s *Scheduler) ListTasks(ctx context.Context) ([]Task, error) {
	var tasks []Task
	if err := s.coll.All(ctx, &tasks); err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	return tasks, nil
}

// GetTask returns one task or a *SchedulerError when it does not exist.
func (s *Scheduler) GetTask(ctx context.Context, id string) (Task, error) {
	var tasks []Task
	if err := s.coll.Search(ctx, "id", id, &tasks); err != nil {
		return Task{}, fmt.Errorf("loading task %s: %w", id, err)
	}
	if len(tasks) == 0 {
		return Task{}, &corperrors.SchedulerError{TaskID: id, Reason: "Task not found"}
	}
	return tasks[0], nil
}

// SetEnabled persists the enabled flag of a task.
func (s *Scheduler) SetEnabled(ctx context.Context, id string, enabled bool) error {
	var updated Task
	err := s.st.Update(ctx, func(tx *store.Tx) error {
		docs, err := tx.Search(Collection, "id", id)
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			return &corperrors.SchedulerError{TaskID: id, Reason: "Task not found"}
		}
		if err := docs[0].Decode(&updated); err != nil {
			return fmt.Errorf("decoding task %s: %w", id, err)
		}
		updated.Enabled = enabled
		return tx.Replace(Collection, docs[0].Seq, updated)
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	if enabled {
		if _, ok := s.jobs[id]; !ok {
			s.register(updated, s.now())
		}
	} else {
		delete(s.jobs, id)
	}
	return nil
}

// register schedules t. Callers hold s.mu. Tasks whose schedule no longer
// parses are logged and skipped.
func (s *Scheduler) register(t Task, now time.Time) {
	j := &job{task: t}
	switch t.ScheduleType {
	case TypeCron:
		c, err := ParseCron(t.ScheduleValue)
		if err != nil {
			s.logger.Warn("skipping task with invalid cron", log.TaskIDKey, t.ID, log.Error(err))
			return
		}
		j.cron = c
		j.next = c.Next(now)
	case TypeInterval:
		d, err := parseInterval(t.ScheduleValue)
		if err != nil {
			s.logger.Warn("skipping task with invalid interval", log.TaskIDKey, t.ID, log.Error(err))
			return
		}
		j.interval = d
		j.next = now.Add(d)
	case TypeOnce:
		at, err := ParseRunAt(t.ScheduleValue)
		if err != nil {
			s.logger.Warn("skipping task with invalid run time", log.TaskIDKey, t.ID, log.Error(err))
			return
		}
		j.next = at
	default:
		s.logger.Warn("skipping task with unknown schedule type", log.TaskIDKey, t.ID, "type", t.ScheduleType)
		return
	}
	s.jobs[t.ID] = j
}

// Reload re-reads the task table. Jobs for unchanged tasks keep their next
// fire time.
func (s *Scheduler) Reload(ctx context.Context) error {
	tasks, err := s.ListTasks(ctx)
	if err != nil {
		return err
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	keep := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if !t.Enabled {
			continue
		}
		keep[t.ID] = true
		if j, ok := s.jobs[t.ID]; ok && j.task == t {
			continue
		}
		s.register(t, now)
	}
	for id := range s.jobs {
		if !keep[id] {
			delete(s.jobs, id)
		}
	}
	return nil
}

// Start registers every enabled task and starts the timing loop. It is a
// no-op when already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.jobs = make(map[string]*job)
	s.mu.Unlock()

	if err := s.Reload(ctx); err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.doneCh = make(chan struct{})
	n := len(s.jobs)
	s.mu.Unlock()

	s.logger.Info("scheduler started", "jobs", n)
	go s.loop(runCtx)
	return nil
}

// Stop ends the loop, cancels in-flight executions and waits for them.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.doneCh
	s.mu.Unlock()

	cancel()
	<-done
	s.inflight.Wait()
	s.logger.Info("scheduler stopped")
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	resync := time.NewTicker(s.resyncInterval)
	defer resync.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-resync.C:
			if err := s.Reload(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("task resync failed", log.Error(err))
			}
		case <-ticker.C:
			s.tick(ctx, s.now())
		}
	}
}

// tick fires every job that is due at now and advances its schedule.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var due []Task
	for id, j := range s.jobs {
		if j.next.IsZero() || now.Before(j.next) {
			continue
		}
		due = append(due, j.task)
		switch {
		case j.cron != nil:
			j.next = j.cron.Next(now)
		case j.interval > 0:
			for !j.next.After(now) {
				j.next = j.next.Add(j.interval)
			}
		default:
			delete(s.jobs, id)
		}
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, k int) bool { return due[i].ID < due[k].ID })
	for _, t := range due {
		if t.ScheduleType == TypeOnce {
			if err := s.SetEnabled(ctx, t.ID, false); err != nil {
				s.logger.Warn("failed to disable one-shot task", log.TaskIDKey, t.ID, log.Error(err))
			}
		}
		s.inflight.Add(1)
		go func(id string) {
			defer s.inflight.Done()
			if _, err := s.ExecuteTask(ctx, id); err != nil {
				s.logger.Warn("scheduled task failed", log.TaskIDKey, id, log.Error(err))
			}
		}(t.ID)
	}
}

// ExecuteTask runs a task now and publishes task.started followed by
// task.completed or task.failed.
func (s *Scheduler) ExecuteTask(ctx context.Context, id string) (string, error) {
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return "", err
	}
	source := "scheduler:" + id
	logger := s.logger.With(log.TaskIDKey, id, log.WorkerKey, t.WorkerName)

	s.emitter.Emit(ctx, events.Event{
		Type:   events.TaskStarted,
		Source: source,
		Data:   map[string]any{"worker": t.WorkerName, "message": t.Message},
	})
	logger.Info("executing scheduled task")

	response, err := s.runner.RunTask(ctx, t.WorkerName, t.Message)
	if err != nil {
		metrics.ScheduledExecutions.WithLabelValues("failed").Inc()
		s.emitter.Emit(ctx, events.Event{
			Type:   events.TaskFailed,
			Source: source,
			Data:   map[string]any{"worker": t.WorkerName, "error": err.Error()},
		})
		return "", err
	}

	metrics.ScheduledExecutions.WithLabelValues("completed").Inc()
	s.emitter.Emit(ctx, events.Event{
		Type:   events.TaskCompleted,
		Source: source,
		Data:   map[string]any{"worker": t.WorkerName, "response": truncateRunes(response, maxResponseRunes)},
	})
	return response, nil
}

// NextRuns reports the next fire time of each registered job.
func (s *Scheduler) NextRuns() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.jobs))
	for id, j := range s.jobs {
		out[id] = j.next
	}
	return out
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
