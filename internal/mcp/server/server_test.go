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

package server

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/opencorp/internal/budget"
	"github.com/tombee/opencorp/internal/events"
	"github.com/tombee/opencorp/internal/worker"
	"github.com/tombee/opencorp/pkg/workflow"
)

type fakeBackend struct {
	workers   map[string]bool
	workflows map[string]string
	filter    events.Filter
	ran       []string
	chats     []string
}

func (f *fakeBackend) Budget(ctx context.Context) (*budget.Report, error) {
	return &budget.Report{TotalSpent: 0.25, DailyLimit: 3, Remaining: 2.75, Status: "green"}, nil
}

func (f *fakeBackend) Workers(ctx context.Context) ([]worker.Info, error) {
	var out []worker.Info
	for name := range f.workers {
		out = append(out, worker.Info{Name: name, Level: 1})
	}
	return out, nil
}

func (f *fakeBackend) Events(ctx context.Context, filter events.Filter) ([]events.Event, error) {
	f.filter = filter
	return []events.Event{{Type: events.WorkflowStarted, Source: "workflow:w"}}, nil
}

func (f *fakeBackend) KnownWorker(name string) bool { return f.workers[name] }

func (f *fakeBackend) LoadWorkflow(name string) (*workflow.Workflow, error) {
	src, ok := f.workflows[name]
	if !ok {
		return nil, errors.New("workflow not found")
	}
	return workflow.Parse([]byte(src), name)
}

func (f *fakeBackend) RunWorkflow(ctx context.Context, wf *workflow.Workflow) (*workflow.Run, error) {
	f.ran = append(f.ran, wf.Name)
	return &workflow.Run{ID: "run-1", WorkflowName: wf.Name, Status: workflow.StatusCompleted}, nil
}

func (f *fakeBackend) Chat(ctx context.Context, workerName, message string) (string, error) {
	f.chats = append(f.chats, workerName+": "+message)
	return "done", nil
}

const pipeline = `name: pipeline
nodes:
  research:
    worker: analyst
    message: dig in
  write:
    worker: writer
    message: summarise
    depends_on: [research]
`

func newTestServer(t *testing.T, runsPerMinute int) (*Server, *fakeBackend) {
	t.Helper()
	b := &fakeBackend{
		workers:   map[string]bool{"analyst": true, "writer": true},
		workflows: map[string]string{"pipeline": pipeline},
	}
	s, err := New(Config{Backend: b, RunsPerMinute: runsPerMinute})
	require.NoError(t, err)
	return s, b
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return text.Text
}

func TestNewRequiresBackend(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestBudgetTool(t *testing.T) {
	s, _ := newTestServer(t, 0)
	res, err := s.handleBudget(context.Background(), call(nil))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	var report budget.Report
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &report))
	assert.Equal(t, 3.0, report.DailyLimit)
	assert.Equal(t, "green", report.Status)
}

func TestEventsToolPassesFilter(t *testing.T) {
	s, b := newTestServer(t, 0)
	res, err := s.handleEvents(context.Background(), call(map[string]any{
		"type":  events.WorkflowStarted,
		"limit": float64(5),
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, events.WorkflowStarted, b.filter.Type)
	assert.Equal(t, 5, b.filter.Limit)

	res, err = s.handleEvents(context.Background(), call(nil))
	require.NoError(t, err)
	assert.Equal(t, defaultEventLimit, b.filter.Limit)

	res, err = s.handleEvents(context.Background(), call(map[string]any{"limit": float64(-1)}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestValidateTool(t *testing.T) {
	tests := []struct {
		name      string
		yaml      string
		wantValid bool
		wantError string
	}{
		{"valid", pipeline, true, ""},
		{"unknown worker", "nodes:\n  a:\n    worker: ghost\n", false, `unknown worker "ghost"`},
		{"auto worker", "nodes:\n  a:\n    worker: auto\n", true, ""},
		{"cycle", "nodes:\n  a:\n    worker: analyst\n    depends_on: [b]\n  b:\n    worker: analyst\n    depends_on: [a]\n", false, "Cycle detected"},
		{"bad yaml", "nodes: [unclosed", false, "Invalid YAML"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, 0)
			res, err := s.handleValidate(context.Background(), call(map[string]any{"workflow_yaml": tt.yaml}))
			require.NoError(t, err)
			require.False(t, res.IsError)

			var result ValidationResult
			require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &result))
			assert.Equal(t, tt.wantValid, result.Valid, "errors: %v", result.Errors)
			if tt.wantError != "" {
				require.NotEmpty(t, result.Errors)
				assert.Contains(t, result.Errors[0], tt.wantError)
			}
			if tt.wantValid {
				assert.NotNil(t, result.Plan)
			}
		})
	}
}

func TestValidateToolRequiresYAML(t *testing.T) {
	s, _ := newTestServer(t, 0)
	res, err := s.handleValidate(context.Background(), call(nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestRunToolDefaultsToDryRun(t *testing.T) {
	s, b := newTestServer(t, 0)
	res, err := s.handleRun(context.Background(), call(map[string]any{"workflow": "pipeline"}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))
	assert.Empty(t, b.ran)

	var plan Plan
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &plan))
	assert.Equal(t, "pipeline", plan.Workflow)
	require.Len(t, plan.Layers, 2)
	assert.Equal(t, "research", plan.Layers[0][0].ID)
	assert.Equal(t, []string{"research"}, plan.Layers[1][0].DependsOn)
}

func TestRunToolExecutes(t *testing.T) {
	s, b := newTestServer(t, 0)
	res, err := s.handleRun(context.Background(), call(map[string]any{"workflow": "pipeline", "dry_run": false}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))
	assert.Equal(t, []string{"pipeline"}, b.ran)

	var run workflow.Run
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &run))
	assert.Equal(t, workflow.StatusCompleted, run.Status)
}

func TestRunToolRejectsBadNames(t *testing.T) {
	s, _ := newTestServer(t, 0)
	for _, name := range []string{"../secrets", "a/b", ".hidden", "missing"} {
		res, err := s.handleRun(context.Background(), call(map[string]any{"workflow": name}))
		require.NoError(t, err)
		assert.True(t, res.IsError, name)
	}
}

func TestChatTool(t *testing.T) {
	s, b := newTestServer(t, 0)
	res, err := s.handleChat(context.Background(), call(map[string]any{"worker": "writer", "message": "hello"}))
	require.NoError(t, err)
	assert.Equal(t, "done", resultText(t, res))
	assert.Equal(t, []string{"writer: hello"}, b.chats)

	res, err = s.handleChat(context.Background(), call(map[string]any{"worker": "ghost", "message": "hello"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = s.handleChat(context.Background(), call(map[string]any{"worker": "writer", "message": "  "}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestSpendingToolsAreRateLimited(t *testing.T) {
	s, b := newTestServer(t, 1)
	args := map[string]any{"worker": "auto", "message": "hello"}

	res, err := s.handleChat(context.Background(), call(args))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	res, err = s.handleChat(context.Background(), call(args))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Len(t, b.chats, 1)

	res, err = s.handleRun(context.Background(), call(map[string]any{"workflow": "pipeline"}))
	require.NoError(t, err)
	assert.False(t, res.IsError, "dry runs do not spend")
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, 3)
	assert.True(t, rl.AllowRun())
	assert.True(t, rl.AllowRun())
	assert.False(t, rl.AllowRun())

	assert.True(t, rl.AllowCall())
	assert.True(t, rl.AllowCall())
	assert.True(t, rl.AllowCall())
	assert.False(t, rl.AllowCall())
}
