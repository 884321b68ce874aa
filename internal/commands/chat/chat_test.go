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

package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/opencorp/internal/commands/shared"
	"github.com/tombee/opencorp/internal/config"
	"github.com/tombee/opencorp/internal/testing/fixture"
	"github.com/tombee/opencorp/internal/worker"
)

func setup(t *testing.T) (*config.Project, *fixture.OpenRouter) {
	t.Helper()
	p := fixture.NewProject(t, fixture.Spec{Workers: []fixture.Worker{
		{Name: "alice", Role: "writer", Skills: []string{"blog", "posts", "copy"}},
		{Name: "bob", Role: "coder", Skills: []string{"go", "programming"}},
	}})
	fake := fixture.NewOpenRouter(t, "Here is the draft.")
	shared.SetProjectForTest(p.Dir)
	t.Cleanup(func() {
		shared.SetProjectForTest("")
		shared.SetJSONForTest(false)
	})
	return p, fake
}

func execute(t *testing.T, cmd *cobra.Command, stdin string, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func readMemory(t *testing.T, p *config.Project, name string) []worker.MemoryEntry {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(p.WorkersDir(), name, worker.MemoryFile))
	require.NoError(t, err)
	var entries []worker.MemoryEntry
	require.NoError(t, json.Unmarshal(data, &entries))
	return entries
}

func TestChatOneShot(t *testing.T) {
	p, fake := setup(t)

	out, err := execute(t, NewCommand(), "", "alice", "-m", "Write a tagline")
	require.NoError(t, err)
	assert.Contains(t, out, "Here is the draft.")

	reqs := fake.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "cheap-a", reqs[0]["model"])

	mem := readMemory(t, p, "alice")
	require.Len(t, mem, 2)
	assert.Equal(t, "User: Write a tagline", mem[0].Content)
}

func TestChatOneShotJSON(t *testing.T) {
	setup(t)
	shared.SetJSONForTest(true)

	out, err := execute(t, NewCommand(), "", "alice", "-m", "hi")
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "Here is the draft.", got["response"])
	assert.Equal(t, "alice", got["worker"])
}

func TestChatSession(t *testing.T) {
	p, fake := setup(t)

	out, err := execute(t, NewCommand(), "first question\n\nsecond question\nquit\nignored\n", "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "Here is the draft."))
	assert.Contains(t, out, "Session summary saved to memory.")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(out), "Bye."))

	reqs := fake.Requests()
	require.Len(t, reqs, 3, "two turns and one summary")
	msgs, ok := reqs[1]["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, msgs, 4, "system, first exchange, second question")

	mem := readMemory(t, p, "alice")
	require.Len(t, mem, 5)
	assert.Equal(t, worker.MemorySessionSummary, mem[4].Type)
}

func TestChatSessionEOFWithoutTurns(t *testing.T) {
	_, fake := setup(t)

	out, err := execute(t, NewCommand(), "", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "Bye.")
	assert.NotContains(t, out, "Session summary")
	assert.Empty(t, fake.Requests())
}

func TestChatMissingWorker(t *testing.T) {
	setup(t)
	_, err := execute(t, NewCommand(), "", "ghost", "-m", "hi")
	require.Error(t, err)
	assert.Equal(t, shared.ExitNotFound, shared.ExitCode(err))
}

func TestDelegateAutoRoutes(t *testing.T) {
	p, _ := setup(t)

	out, err := execute(t, NewDelegateCommand(), "", "draft", "blog", "posts")
	require.NoError(t, err)
	assert.Contains(t, out, "Delegated to")
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "Here is the draft.")

	w, err := worker.Load(p, "alice")
	require.NoError(t, err)
	require.Len(t, w.Performance, 1)
	assert.Equal(t, worker.ResultCompleted, w.Performance[0].Result)
	assert.Equal(t, "draft blog posts", w.Performance[0].Task)
}

func TestDelegateExplicitWorker(t *testing.T) {
	setup(t)
	shared.SetJSONForTest(true)

	out, err := execute(t, NewDelegateCommand(), "", "--worker", "bob", "draft", "blog", "posts")
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "bob", got["worker"])
}

func TestDelegateWithoutWorkers(t *testing.T) {
	p := fixture.NewProject(t, fixture.Spec{})
	fixture.NewOpenRouter(t, "unused")
	shared.SetProjectForTest(p.Dir)
	defer shared.SetProjectForTest("")

	_, err := execute(t, NewDelegateCommand(), "", "anything")
	require.Error(t, err)
	assert.Equal(t, shared.ExitNotFound, shared.ExitCode(err))
}
