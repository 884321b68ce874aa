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

package completion

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/opencorp/internal/commands/shared"
	"github.com/tombee/opencorp/internal/config"
	internallog "github.com/tombee/opencorp/internal/log"
	"github.com/tombee/opencorp/internal/scheduler"
	"github.com/tombee/opencorp/internal/testing/fixture"
	pkgworkflow "github.com/tombee/opencorp/pkg/workflow"
)

const flow = `name: review
nodes:
  draft:
    worker: alice
    message: Draft it
`

func setup(t *testing.T) *config.Project {
	t.Helper()
	p := fixture.NewProject(t, fixture.Spec{
		Workers:   []fixture.Worker{{Name: "bob"}, {Name: "alice"}},
		Workflows: map[string]string{"review.yaml": flow, "team/weekly.yml": flow},
	})
	shared.SetProjectForTest(p.Dir)
	t.Cleanup(func() { shared.SetProjectForTest("") })
	return p
}

func names(completions []string) []string {
	out := make([]string, len(completions))
	for i, c := range completions {
		out[i], _, _ = strings.Cut(c, "\t")
	}
	return out
}

func TestCompletionScripts(t *testing.T) {
	for _, shell := range []string{"bash", "zsh", "fish", "powershell"} {
		t.Run(shell, func(t *testing.T) {
			root := &cobra.Command{Use: "corp"}
			root.AddCommand(NewCommand())
			var buf bytes.Buffer
			root.SetOut(&buf)
			root.SetArgs([]string{"completion", shell})
			require.NoError(t, root.Execute())
			assert.Contains(t, buf.String(), "corp")
		})
	}
}

func TestCompletionRejectsUnknownShell(t *testing.T) {
	root := &cobra.Command{Use: "corp"}
	root.AddCommand(NewCommand())
	root.SetOut(new(bytes.Buffer))
	root.SetErr(new(bytes.Buffer))
	root.SetArgs([]string{"completion", "tcsh"})
	assert.Error(t, root.Execute())
}

func TestCompleteWorkers(t *testing.T) {
	setup(t)

	got, directive := CompleteWorkers(nil, nil, "")
	assert.Equal(t, []string{"alice", "bob"}, got)
	assert.Equal(t, cobra.ShellCompDirectiveNoFileComp, directive)

	got, _ = CompleteWorkers(nil, []string{"alice"}, "")
	assert.Empty(t, got, "only the first argument is a worker")

	got, _ = CompleteWorkerFlag(nil, nil, "")
	assert.Equal(t, []string{"auto", "alice", "bob"}, names(got))
}

func TestCompleteWorkflows(t *testing.T) {
	setup(t)

	got, directive := CompleteWorkflows(nil, nil, "")
	assert.ElementsMatch(t, []string{"review", "team/weekly"}, got)
	assert.Equal(t, cobra.ShellCompDirectiveDefault, directive)
}

func TestCompleteWithoutProject(t *testing.T) {
	shared.SetProjectForTest(t.TempDir())
	t.Cleanup(func() { shared.SetProjectForTest("") })

	got, _ := CompleteWorkers(nil, nil, "")
	assert.Empty(t, got)
	got, _ = CompleteTaskIDs(nil, nil, "")
	assert.Empty(t, got)
	got, _ = CompleteWorkerFlag(nil, nil, "")
	assert.Equal(t, []string{"auto"}, names(got))
}

func TestCompleteTaskAndRunIDs(t *testing.T) {
	p := setup(t)
	ctx := context.Background()

	got, _ := CompleteTaskIDs(nil, nil, "")
	assert.Empty(t, got, "no store yet")

	app, err := shared.NewApp(ctx, p, internallog.Discard())
	require.NoError(t, err)
	for _, id := range []string{"aa11", "ab22"} {
		task := scheduler.NewTask("alice", "report", scheduler.TypeInterval, "60")
		task.ID = id
		require.NoError(t, app.Store.Collection(scheduler.Collection).Insert(ctx, task))
	}
	runs := pkgworkflow.NewDocumentRunStore(app.Store)
	require.NoError(t, runs.Save(ctx, &pkgworkflow.Run{ID: "run-1", WorkflowName: "review", Status: pkgworkflow.StatusCompleted}))
	require.NoError(t, runs.Save(ctx, &pkgworkflow.Run{ID: "run-2", WorkflowName: "review", Status: pkgworkflow.StatusFailed}))
	require.NoError(t, app.Close())

	got, _ = CompleteTaskIDs(nil, nil, "")
	assert.Equal(t, []string{"aa11", "ab22"}, names(got))
	assert.Contains(t, got[0], "alice interval 60")

	got, _ = CompleteTaskIDs(nil, nil, "ab")
	assert.Equal(t, []string{"ab22"}, names(got))

	got, _ = CompleteRunIDs(nil, nil, "")
	assert.Equal(t, []string{"run-2", "run-1"}, names(got), "newest first")
	assert.Contains(t, got[0], "review (failed)")
}

func TestCompleteEventTypes(t *testing.T) {
	got, _ := CompleteEventTypes(nil, nil, "")
	assert.Contains(t, got, "task.failed")
	assert.Contains(t, got, "workflow.started")
}

func TestSafeCompletionWrapperRecovers(t *testing.T) {
	got, directive := SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		panic("boom")
	})
	assert.Empty(t, got)
	assert.Equal(t, cobra.ShellCompDirectiveNoFileComp, directive)
}
