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

package schedule

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/opencorp/internal/commands/shared"
	"github.com/tombee/opencorp/internal/config"
	"github.com/tombee/opencorp/internal/events"
	internallog "github.com/tombee/opencorp/internal/log"
	"github.com/tombee/opencorp/internal/scheduler"
	"github.com/tombee/opencorp/internal/testing/fixture"
)

func setup(t *testing.T) *config.Project {
	t.Helper()
	p := fixture.NewProject(t, fixture.Spec{Workers: []fixture.Worker{{Name: "alice", Role: "writer"}}})
	shared.SetProjectForTest(p.Dir)
	t.Cleanup(func() {
		shared.SetProjectForTest("")
		shared.SetJSONForTest(false)
	})
	return p
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func addTask(t *testing.T, args ...string) scheduler.Task {
	t.Helper()
	shared.SetJSONForTest(true)
	defer shared.SetJSONForTest(false)
	out, err := run(t, append([]string{"add"}, args...)...)
	require.NoError(t, err)
	var resp struct {
		Task scheduler.Task `json:"task"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	return resp.Task
}

func listTasks(t *testing.T) []scheduler.Task {
	t.Helper()
	shared.SetJSONForTest(true)
	defer shared.SetJSONForTest(false)
	out, err := run(t, "list")
	require.NoError(t, err)
	var resp ListResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	return resp.Tasks
}

func TestAdd(t *testing.T) {
	setup(t)
	tests := []struct {
		name  string
		args  []string
		kind  string
		value string
	}{
		{"cron", []string{"alice", "daily", "notes", "--cron", "0 9 * * 1-5"}, scheduler.TypeCron, "0 9 * * 1-5"},
		{"interval", []string{"alice", "ping", "--interval", "60"}, scheduler.TypeInterval, "60"},
		{"once", []string{"alice", "launch", "--once", "2030-01-01T10:00:00Z"}, scheduler.TypeOnce, "2030-01-01T10:00:00Z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := addTask(t, tt.args...)
			assert.Len(t, task.ID, 8)
			assert.Equal(t, tt.kind, task.ScheduleType)
			assert.Equal(t, tt.value, task.ScheduleValue)
			assert.True(t, task.Enabled)
		})
	}
	tasks := listTasks(t)
	require.Len(t, tasks, 3)
	assert.Equal(t, "daily notes", tasks[0].Message)
}

func TestAddValidation(t *testing.T) {
	setup(t)
	tests := []struct {
		name string
		args []string
	}{
		{"no schedule", []string{"add", "alice", "hi"}},
		{"two schedules", []string{"add", "alice", "hi", "--cron", "@daily", "--interval", "5"}},
		{"bad cron", []string{"add", "alice", "hi", "--cron", "61 * * * *"}},
		{"bad interval", []string{"add", "alice", "hi", "--interval", "0"}},
		{"unknown worker", []string{"add", "ghost", "hi", "--cron", "@daily"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			assert.Error(t, err)
		})
	}
	assert.Empty(t, listTasks(t))
}

func TestAddSchedulerErrorsAreInvalidInput(t *testing.T) {
	setup(t)
	_, err := run(t, "add", "ghost", "hi", "--cron", "@daily")
	require.Error(t, err)
	assert.Equal(t, shared.ExitInvalidInput, shared.ExitCode(err))
}

func TestListText(t *testing.T) {
	setup(t)
	out, err := run(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No scheduled tasks.")

	addTask(t, "alice", "ping", "--interval", "60", "--description", "heartbeat")
	out, err = run(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "heartbeat")
	assert.Contains(t, out, "every 60s")
}

func TestEnableDisableRemove(t *testing.T) {
	setup(t)
	task := addTask(t, "alice", "ping", "--interval", "60")

	_, err := run(t, "disable", task.ID)
	require.NoError(t, err)
	assert.False(t, listTasks(t)[0].Enabled)

	_, err = run(t, "enable", task.ID)
	require.NoError(t, err)
	assert.True(t, listTasks(t)[0].Enabled)

	out, err := run(t, "remove", task.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "Removed task "+task.ID)
	assert.Empty(t, listTasks(t))

	for _, verb := range []string{"remove", "enable", "disable"} {
		_, err := run(t, verb, task.ID)
		require.Error(t, err, verb)
		assert.Equal(t, shared.ExitNotFound, shared.ExitCode(err), verb)
	}
}

func TestRunNow(t *testing.T) {
	p := setup(t)
	fixture.NewOpenRouter(t, "standup notes ready")
	task := addTask(t, "alice", "write", "standup", "--interval", "3600")

	out, err := run(t, "run", task.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "standup notes ready")

	app, err := shared.NewApp(context.Background(), p, internallog.Discard())
	require.NoError(t, err)
	defer app.Close()
	evs, err := app.Events.Query(context.Background(), events.Filter{Source: "scheduler:" + task.ID})
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, events.TaskCompleted, evs[0].Type, "newest first")
	assert.Equal(t, events.TaskStarted, evs[1].Type)

	_, err = run(t, "run", "deadbeef")
	require.Error(t, err)
	assert.Equal(t, shared.ExitNotFound, shared.ExitCode(err))
}
