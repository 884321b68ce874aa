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

package validate

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/opencorp/internal/commands/shared"
	"github.com/tombee/opencorp/internal/config"
	internallog "github.com/tombee/opencorp/internal/log"
	"github.com/tombee/opencorp/internal/scheduler"
	"github.com/tombee/opencorp/internal/testing/fixture"
)

const goodWorkflow = `name: review
nodes:
  draft:
    worker: alice
    message: Draft it
  check:
    worker: auto
    message: Check it
    depends_on: [draft]
`

func setup(t *testing.T, spec fixture.Spec) *config.Project {
	t.Helper()
	p := fixture.NewProject(t, spec)
	shared.SetProjectForTest(p.Dir)
	t.Cleanup(func() {
		shared.SetProjectForTest("")
		shared.SetJSONForTest(false)
	})
	return p
}

func run(t *testing.T) (string, error) {
	t.Helper()
	cmd := NewCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(nil)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestValidateClean(t *testing.T) {
	setup(t, fixture.Spec{
		Workers:   []fixture.Worker{{Name: "alice", Role: "writer"}},
		Workflows: map[string]string{"review.yaml": goodWorkflow},
	})

	out, err := run(t)
	require.NoError(t, err)
	assert.Contains(t, out, "Checked 1 worker(s), 1 workflow(s), 0 scheduled task(s)")
	assert.Contains(t, out, "No problems found")
}

func TestValidateReportsProblems(t *testing.T) {
	p := setup(t, fixture.Spec{
		Workers: []fixture.Worker{{Name: "alice", Role: "writer"}, {Name: "bob", Level: 9}},
		Workflows: map[string]string{
			"review.yaml": goodWorkflow,
			"broken.yaml": "nodes: [",
			"orphan.yaml": "nodes:\n  a:\n    worker: carol\n    message: hi\n",
		},
	})

	app, err := shared.NewApp(context.Background(), p, internallog.Discard())
	require.NoError(t, err)
	task := scheduler.NewTask("dave", "report", scheduler.TypeInterval, "60")
	task.ID = "deadbeef"
	require.NoError(t, app.Store.Collection(scheduler.Collection).Insert(context.Background(), task))
	require.NoError(t, app.Close())

	shared.SetJSONForTest(true)
	out, err := run(t)
	require.Error(t, err)
	assert.Equal(t, shared.ExitInvalidInput, shared.ExitCode(err))

	var report Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.False(t, report.Success)
	assert.Equal(t, 2, report.Workers)
	assert.Equal(t, 3, report.Workflows)
	assert.Equal(t, 1, report.Tasks)

	byKind := map[string][]Issue{}
	for _, is := range report.Issues {
		byKind[is.Kind] = append(byKind[is.Kind], is)
	}
	require.Len(t, byKind["worker"], 1)
	assert.Equal(t, "bob", byKind["worker"][0].Name)
	assert.Contains(t, byKind["worker"][0].Message, "level 9")

	require.Len(t, byKind["workflow"], 2)
	assert.Equal(t, "workflows/broken.yaml", byKind["workflow"][0].Name)
	assert.Equal(t, "workflows/orphan.yaml", byKind["workflow"][1].Name)
	assert.Contains(t, byKind["workflow"][1].Message, `unknown worker "carol"`)

	require.Len(t, byKind["task"], 1)
	assert.Contains(t, byKind["task"][0].Message, `"dave"`)
}
