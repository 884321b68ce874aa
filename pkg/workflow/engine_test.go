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
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/opencorp/internal/events"
	internallog "github.com/tombee/opencorp/internal/log"
	corperrors "github.com/tombee/opencorp/pkg/errors"
)

type taskFunc func(ctx context.Context, message string) (string, error)

// fakeRunner dispatches by worker name and records every call.
type fakeRunner struct {
	mu     sync.Mutex
	tasks  map[string]taskFunc
	calls  []string
	inputs map[string]string
}

func newFakeRunner(tasks map[string]taskFunc) *fakeRunner {
	return &fakeRunner{tasks: tasks, inputs: make(map[string]string)}
}

func (f *fakeRunner) RunTask(ctx context.Context, worker, message string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, worker)
	f.inputs[worker] = message
	fn, ok := f.tasks[worker]
	f.mu.Unlock()
	if !ok {
		return worker + " done", nil
	}
	return fn(ctx, message)
}

func (f *fakeRunner) callCount(worker string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == worker {
			n++
		}
	}
	return n
}

type recorder struct {
	mu  sync.Mutex
	evs []events.Event
}

func (r *recorder) Emit(_ context.Context, ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = append(r.evs, ev)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.evs))
	for i, ev := range r.evs {
		out[i] = ev.Type
	}
	return out
}

func (r *recorder) ofType(t string) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, ev := range r.evs {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func newTestEngine(runner WorkerRunner, opts ...Option) (*Engine, *recorder) {
	rec := &recorder{}
	opts = append([]Option{WithLogger(internallog.Discard()), WithEmitter(rec)}, opts...)
	return NewEngine(runner, opts...), rec
}

func mustParse(t *testing.T, doc string) *Workflow {
	t.Helper()
	wf, err := Parse([]byte(doc), "test")
	require.NoError(t, err)
	return wf
}

func TestRunLinearPipeline(t *testing.T) {
	runner := newFakeRunner(map[string]taskFunc{
		"writer": func(context.Context, string) (string, error) { return "a haiku about go", nil },
	})
	e, rec := newTestEngine(runner)

	run, err := e.Run(context.Background(), mustParse(t, pipelineYAML))
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, run.Status)
	assert.Len(t, run.ID, 8)
	assert.Equal(t, "review-pipeline", run.WorkflowName)
	assert.NotEmpty(t, run.StartedAt)
	assert.NotEmpty(t, run.CompletedAt)
	assert.Equal(t, NodeResult{Status: StatusCompleted, Output: "a haiku about go"}, run.NodeResults["draft"])
	assert.Equal(t, "Review: a haiku about go", runner.inputs["reviewer"])
	assert.Equal(t, StatusCompleted, run.NodeResults["archive"].Status)

	assert.Equal(t, []string{
		events.WorkflowStarted,
		events.WorkflowNodeCompleted,
		events.WorkflowNodeCompleted,
		events.WorkflowNodeCompleted,
		events.WorkflowCompleted,
	}, rec.types())

	started := rec.ofType(events.WorkflowStarted)[0]
	assert.Equal(t, "workflow:review-pipeline", started.Source)
	assert.Equal(t, run.ID, started.Data["run_id"])
	assert.Equal(t, []string{"draft", "review", "archive"}, started.Data["nodes"])

	done := rec.ofType(events.WorkflowCompleted)[0]
	assert.Equal(t, map[string]any{"run_id": run.ID, "status": StatusCompleted}, done.Data)

	saved, err := e.Runs().Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.NodeResults, saved.NodeResults)
}

func TestRunConditionSkipsNode(t *testing.T) {
	runner := newFakeRunner(map[string]taskFunc{
		"writer": func(context.Context, string) (string, error) { return "a limerick", nil },
	})
	e, rec := newTestEngine(runner)

	run, err := e.Run(context.Background(), mustParse(t, pipelineYAML))
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, run.Status, "skips are not failures")
	assert.Equal(t, NodeResult{Status: StatusSkipped}, run.NodeResults["review"])
	assert.Equal(t, StatusSkipped, run.NodeResults["archive"].Status, "success condition on a skipped dep")
	assert.Equal(t, 0, runner.callCount("reviewer"))
	assert.Len(t, rec.ofType(events.WorkflowNodeCompleted), 1, "skipped nodes emit nothing")
}

func TestRunFailurePropagates(t *testing.T) {
	runner := newFakeRunner(map[string]taskFunc{
		"a": func(context.Context, string) (string, error) { return "", errors.New("model exploded") },
	})
	e, rec := newTestEngine(runner)
	wf := mustParse(t, `
nodes:
  first: {worker: a}
  second: {worker: b, depends_on: [first]}
  other: {worker: c}
`)

	run, err := e.Run(context.Background(), wf)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, run.Status)
	assert.Equal(t, NodeResult{Status: StatusFailed, Error: "model exploded"}, run.NodeResults["first"])
	assert.Equal(t, StatusSkipped, run.NodeResults["second"].Status)
	assert.Equal(t, StatusCompleted, run.NodeResults["other"].Status)

	var failedNode events.Event
	for _, ev := range rec.ofType(events.WorkflowNodeCompleted) {
		if ev.Data["node"] == "first" {
			failedNode = ev
		}
	}
	assert.Equal(t, map[string]any{"run_id": run.ID, "node": "first", "status": StatusFailed, "error": "model exploded"}, failedNode.Data)
	assert.Len(t, rec.ofType(events.WorkflowFailed), 1)
}

func TestRunRetries(t *testing.T) {
	var attempts atomic.Int32
	runner := newFakeRunner(map[string]taskFunc{
		"flaky": func(context.Context, string) (string, error) {
			if attempts.Add(1) < 3 {
				return "", errors.New("transient")
			}
			return "finally", nil
		},
	})
	e, rec := newTestEngine(runner)

	run, err := e.Run(context.Background(), mustParse(t, "nodes:\n  n: {worker: flaky, retries: 2}\n"))
	require.NoError(t, err)
	assert.Equal(t, NodeResult{Status: StatusCompleted, Output: "finally"}, run.NodeResults["n"])
	assert.Equal(t, int32(3), attempts.Load())
	assert.Len(t, rec.ofType(events.WorkflowNodeCompleted), 1, "one event per node, not per attempt")
}

func TestRunRetriesExhausted(t *testing.T) {
	runner := newFakeRunner(map[string]taskFunc{
		"flaky": func(_ context.Context, _ string) (string, error) { return "", errors.New("still broken") },
	})
	e, _ := newTestEngine(runner)

	run, err := e.Run(context.Background(), mustParse(t, "nodes:\n  n: {worker: flaky, retries: 1}\n"))
	require.NoError(t, err)
	assert.Equal(t, "still broken", run.NodeResults["n"].Error)
	assert.Equal(t, 2, runner.callCount("flaky"))
}

func TestRunNodeTimeoutAbandonsCall(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	runner := newFakeRunner(map[string]taskFunc{
		"slow": func(context.Context, string) (string, error) {
			<-release
			return "too late", nil
		},
	})
	e, _ := newTestEngine(runner)

	start := time.Now()
	run, err := e.Run(context.Background(), mustParse(t, "nodes:\n  slow: {worker: slow, timeout: 1}\n"))
	require.NoError(t, err)

	assert.True(t, time.Since(start) < 5*time.Second, "the slow call is abandoned")
	assert.Equal(t, NodeResult{Status: StatusFailed, Error: "Node 'slow' timed out after 1s"}, run.NodeResults["slow"])
	assert.Equal(t, StatusFailed, run.Status)
}

func TestRunZeroNodeTimeoutIsUnlimited(t *testing.T) {
	runner := newFakeRunner(map[string]taskFunc{
		"slow": func(context.Context, string) (string, error) {
			time.Sleep(50 * time.Millisecond)
			return "finished", nil
		},
	})
	e, _ := newTestEngine(runner)

	wf := mustParse(t, "nodes:\n  slow: {worker: slow, timeout: 0}\n")
	require.Equal(t, 0, wf.Nodes[0].Timeout)

	run, err := e.Run(context.Background(), wf)
	require.NoError(t, err)
	assert.Equal(t, NodeResult{Status: StatusCompleted, Output: "finished"}, run.NodeResults["slow"])
	assert.Equal(t, StatusCompleted, run.Status)
}

func TestRunWorkflowTimeout(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	runner := newFakeRunner(map[string]taskFunc{
		"slowpoke": func(context.Context, string) (string, error) {
			mu.Lock()
			now = now.Add(10 * time.Second)
			mu.Unlock()
			return "done", nil
		},
	})
	e, _ := newTestEngine(runner, WithClock(clock))
	wf := mustParse(t, `
timeout: 5
nodes:
  a: {worker: slowpoke}
  b: {worker: x, depends_on: [a]}
  c: {worker: y, depends_on: [b]}
`)

	run, err := e.Run(context.Background(), wf)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, run.Status)
	assert.Equal(t, StatusCompleted, run.NodeResults["a"].Status)
	assert.Equal(t, NodeResult{Status: StatusFailed, Error: ReasonWorkflowTimeout}, run.NodeResults["b"])
	assert.Equal(t, NodeResult{Status: StatusFailed, Error: ReasonWorkflowTimeout}, run.NodeResults["c"])
	assert.Equal(t, 0, runner.callCount("x"))
	assert.Equal(t, "2025-05-01T09:00:00Z", run.StartedAt)
	assert.Equal(t, "2025-05-01T09:00:10Z", run.CompletedAt)
}

func TestRunBoundsConcurrency(t *testing.T) {
	var active, peak atomic.Int32
	work := func(context.Context, string) (string, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		active.Add(-1)
		return "ok", nil
	}
	tasks := make(map[string]taskFunc)
	var doc strings.Builder
	doc.WriteString("nodes:\n")
	for i := 0; i < 6; i++ {
		name := fmt.Sprintf("w%d", i)
		tasks[name] = work
		fmt.Fprintf(&doc, "  n%d: {worker: %s}\n", i, name)
	}
	doc.WriteString("  join: {worker: joiner, depends_on: [n0, n1, n2, n3, n4, n5]}\n")

	e, _ := newTestEngine(newFakeRunner(tasks), WithMaxWorkers(2))
	run, err := e.Run(context.Background(), mustParse(t, doc.String()))
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, run.Status)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, StatusCompleted, run.NodeResults["join"].Status)
}

func TestRunTruncatesOutput(t *testing.T) {
	long := strings.Repeat("é", MaxOutputRunes+50)
	runner := newFakeRunner(map[string]taskFunc{
		"verbose": func(context.Context, string) (string, error) { return long, nil },
	})
	e, _ := newTestEngine(runner)

	run, err := e.Run(context.Background(), mustParse(t, "nodes:\n  n: {worker: verbose}\n"))
	require.NoError(t, err)
	assert.Equal(t, MaxOutputRunes, len([]rune(run.NodeResults["n"].Output)))
}

func TestRunRecoversPanickingWorker(t *testing.T) {
	runner := newFakeRunner(map[string]taskFunc{
		"bad": func(context.Context, string) (string, error) { panic("boom") },
	})
	e, _ := newTestEngine(runner)

	run, err := e.Run(context.Background(), mustParse(t, "nodes:\n  n: {worker: bad}\n"))
	require.NoError(t, err)
	assert.Equal(t, "panic: boom", run.NodeResults["n"].Error)
}

func TestRunCycleIsError(t *testing.T) {
	e, rec := newTestEngine(newFakeRunner(nil))
	wf := mustParse(t, "nodes:\n  a: {worker: w, depends_on: [b]}\n  b: {worker: w, depends_on: [a]}\n")

	_, err := e.Run(context.Background(), wf)
	var we *corperrors.WorkflowError
	require.True(t, errors.As(err, &we))
	assert.Empty(t, rec.types(), "nothing is emitted for an invalid graph")
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runner := newFakeRunner(nil)
	e, _ := newTestEngine(runner)

	run, err := e.Run(ctx, mustParse(t, "nodes:\n  a: {worker: w}\n"))
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, run.Status)
	assert.Contains(t, run.NodeResults["a"].Error, "Workflow cancelled")
	assert.Equal(t, 0, runner.callCount("w"))
}

func TestRunListByName(t *testing.T) {
	e, _ := newTestEngine(newFakeRunner(nil))
	ctx := context.Background()

	first, err := e.Run(ctx, mustParse(t, "name: alpha\nnodes:\n  a: {worker: w}\n"))
	require.NoError(t, err)
	_, err = e.Run(ctx, mustParse(t, "name: beta\nnodes:\n  a: {worker: w}\n"))
	require.NoError(t, err)

	runs, err := e.Runs().List(ctx, "alpha")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, first.ID, runs[0].ID)

	all, err := e.Runs().List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
