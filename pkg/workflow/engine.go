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

package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/opencorp/internal/events"
	"github.com/tombee/opencorp/internal/log"
	"github.com/tombee/opencorp/internal/metrics"
	"github.com/tombee/opencorp/internal/tracing"
)

// Engine defaults.
const (
	DefaultMaxWorkers = 4
	MaxOutputRunes    = 2000
)

// Reason recorded for nodes never attempted because the run ran out of time.
const ReasonWorkflowTimeout = "Workflow timeout exceeded"

// WorkerRunner runs one message against a named worker.
type WorkerRunner interface {
	RunTask(ctx context.Context, worker, message string) (string, error)
}

// Engine executes workflows.
type Engine struct {
	runner     WorkerRunner
	emitter    events.Emitter
	runs       RunStore
	conditions *Conditions
	maxWorkers int
	logger     *slog.Logger
	now        func() time.Time
	tracer     trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxWorkers bounds how many nodes of one layer run at once.
func WithMaxWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxWorkers = n
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithEmitter sets where lifecycle events are published.
func WithEmitter(em events.Emitter) Option {
	return func(e *Engine) { e.emitter = em }
}

// WithRunStore sets where finished runs are saved.
func WithRunStore(rs RunStore) Option {
	return func(e *Engine) { e.runs = rs }
}

// WithClock overrides the time source used for timestamps and the
// workflow deadline.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine that runs nodes through runner.
func NewEngine(runner WorkerRunner, opts ...Option) *Engine {
	e := &Engine{
		runner:     runner,
		emitter:    events.Discard{},
		runs:       NewMemoryRunStore(),
		conditions: NewConditions(),
		maxWorkers: DefaultMaxWorkers,
		logger:     slog.Default(),
		now:        time.Now,
		tracer:     tracing.Tracer("workflow"),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = log.WithComponent(e.logger, "workflow")
	return e
}

// Runs returns the store finished runs are saved to.
func (e *Engine) Runs() RunStore { return e.runs }

// RunFile loads the workflow at path and runs it.
func (e *Engine) RunFile(ctx context.Context, path string) (*Run, error) {
	wf, err := Load(path)
	if err != nil {
		return nil, err
	}
	return e.Run(ctx, wf)
}

// Run executes wf layer by layer. Node failures are recorded in the
// returned run; an error is returned only when the graph itself is invalid.
func (e *Engine) Run(ctx context.Context, wf *Workflow) (*Run, error) {
	sorted, err := TopologicalSort(wf.Name, wf.Nodes)
	if err != nil {
		return nil, err
	}
	layers := Layers(sorted, ComputeDepths(sorted))

	started := e.now()
	run := &Run{
		ID:           newRunID(),
		WorkflowName: wf.Name,
		Status:       StatusRunning,
		NodeResults:  make(map[string]NodeResult, len(sorted)),
		StartedAt:    started.UTC().Format(time.RFC3339Nano),
	}
	logger := log.WithRunContext(e.logger, wf.Name, run.ID)
	source := "workflow:" + wf.Name

	ctx, span := e.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("workflow.name", wf.Name),
		attribute.String("workflow.run_id", run.ID),
		attribute.Int("workflow.nodes", len(sorted)),
	))
	defer span.End()

	logger.Info("workflow started", "nodes", len(sorted), "layers", len(layers))

	ids := make([]string, len(sorted))
	for i, n := range sorted {
		ids[i] = n.ID
	}
	e.emitter.Emit(ctx, events.Event{
		Type:   events.WorkflowStarted,
		Source: source,
		Data:   map[string]any{"run_id": run.ID, "nodes": ids},
	})

	var mu sync.Mutex
	failed := false

	for i, layer := range layers {
		if reason := e.deadlineReason(ctx, wf, started); reason != "" {
			logger.Warn("workflow stopped before layer", "layer", i, "reason", reason)
			for _, rest := range layers[i:] {
				for _, n := range rest {
					if _, ok := run.NodeResults[n.ID]; !ok {
						run.NodeResults[n.ID] = NodeResult{Status: StatusFailed, Error: reason}
					}
				}
			}
			failed = true
			break
		}

		snapshot := make(map[string]NodeResult, len(run.NodeResults))
		for k, v := range run.NodeResults {
			snapshot[k] = v
		}

		sem := make(chan struct{}, e.maxWorkers)
		var wg sync.WaitGroup
		for _, node := range layer {
			wg.Add(1)
			go func(n Node) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()

				res := e.executeNode(ctx, logger, source, run.ID, n, snapshot)

				mu.Lock()
				run.NodeResults[n.ID] = res
				if res.Status == StatusFailed {
					failed = true
				}
				mu.Unlock()
			}(node)
		}
		wg.Wait()
	}

	run.Status = StatusCompleted
	if failed {
		run.Status = StatusFailed
		span.SetStatus(codes.Error, "one or more nodes failed")
	}
	run.CompletedAt = e.now().UTC().Format(time.RFC3339Nano)
	span.SetAttributes(attribute.String("workflow.status", run.Status))

	if err := e.runs.Save(ctx, run); err != nil {
		logger.Error("failed to save workflow run", log.Error(err))
	}
	metrics.WorkflowRuns.WithLabelValues(run.Status).Inc()
	logger.Info("workflow finished", "status", run.Status)

	evType := events.WorkflowCompleted
	if failed {
		evType = events.WorkflowFailed
	}
	e.emitter.Emit(ctx, events.Event{
		Type:   evType,
		Source: source,
		Data:   map[string]any{"run_id": run.ID, "status": run.Status},
	})

	return run, nil
}

// deadlineReason reports why no further layer should start, or "".
func (e *Engine) deadlineReason(ctx context.Context, wf *Workflow, started time.Time) string {
	if wf.Timeout > 0 && e.now().Sub(started) >= time.Duration(wf.Timeout)*time.Second {
		return ReasonWorkflowTimeout
	}
	if err := ctx.Err(); err != nil {
		return fmt.Sprintf("Workflow cancelled: %v", err)
	}
	return ""
}

func (e *Engine) executeNode(ctx context.Context, logger *slog.Logger, source, runID string, n Node, results map[string]NodeResult) NodeResult {
	logger = log.WithNodeContext(logger, n.ID, n.Worker)

	if len(n.DependsOn) > 0 {
		ok, err := e.conditions.Check(n.Condition, n.DependsOn, results)
		if err != nil {
			logger.Warn("condition evaluation failed", "condition", n.Condition, log.Error(err))
		}
		if !ok {
			logger.Info("node skipped", "condition", n.Condition)
			return NodeResult{Status: StatusSkipped}
		}
	}

	ctx, span := e.tracer.Start(ctx, "workflow.node", trace.WithAttributes(
		attribute.String("workflow.node_id", n.ID),
		attribute.String("workflow.worker", n.Worker),
	))
	defer span.End()

	message := SubstituteOutputs(n.Message, results)
	start := time.Now()

	var lastErr error
	for attempt := 0; attempt <= n.Retries; attempt++ {
		if attempt > 0 {
			if ctx.Err() != nil {
				break
			}
			logger.Warn("retrying node", "attempt", attempt, "retries", n.Retries)
		}
		out, err := e.attempt(ctx, n, message)
		if err == nil {
			metrics.NodeDuration.WithLabelValues(StatusCompleted).Observe(time.Since(start).Seconds())
			e.emitter.Emit(ctx, events.Event{
				Type:   events.WorkflowNodeCompleted,
				Source: source,
				Data:   map[string]any{"run_id": runID, "node": n.ID, "status": StatusCompleted},
			})
			return NodeResult{Status: StatusCompleted, Output: out}
		}
		lastErr = err
	}

	msg := lastErr.Error()
	logger.Warn("node failed", log.Error(lastErr))
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, msg)
	metrics.NodeDuration.WithLabelValues(StatusFailed).Observe(time.Since(start).Seconds())
	e.emitter.Emit(ctx, events.Event{
		Type:   events.WorkflowNodeCompleted,
		Source: source,
		Data:   map[string]any{"run_id": runID, "node": n.ID, "status": StatusFailed, "error": msg},
	})
	return NodeResult{Status: StatusFailed, Error: msg}
}

// attempt runs the node once. On timeout the call is abandoned, not
// cancelled, and its eventual result is discarded.
func (e *Engine) attempt(ctx context.Context, n Node, message string) (string, error) {
	type outcome struct {
		out string
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		out, err := e.runner.RunTask(ctx, n.Worker, message)
		done <- outcome{out: out, err: err}
	}()

	var timeout <-chan time.Time
	if n.Timeout > 0 {
		timer := time.NewTimer(time.Duration(n.Timeout) * time.Second)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case o := <-done:
		if o.err != nil {
			return "", o.err
		}
		return truncateRunes(o.out, MaxOutputRunes), nil
	case <-timeout:
		return "", fmt.Errorf("Node '%s' timed out after %ds", n.ID, n.Timeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
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

func newRunID() string {
	return uuid.NewString()[:8]
}
