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

package mcpserver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/opencorp/internal/commands/shared"
	"github.com/tombee/opencorp/internal/events"
	internallog "github.com/tombee/opencorp/internal/log"
	"github.com/tombee/opencorp/internal/testing/fixture"
	corperrors "github.com/tombee/opencorp/pkg/errors"
)

func newBackend(t *testing.T) *appBackend {
	t.Helper()
	p := fixture.NewProject(t, fixture.Spec{
		Workers: []fixture.Worker{{Name: "alice", Role: "writer"}},
		Workflows: map[string]string{
			"review.yaml": "nodes:\n  draft:\n    worker: alice\n    message: Draft it\n",
		},
	})
	app, err := shared.NewApp(context.Background(), p, internallog.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { app.Close() })
	return &appBackend{app: app}
}

func TestBackendWorkflows(t *testing.T) {
	b := newBackend(t)

	wf, err := b.LoadWorkflow("review")
	require.NoError(t, err)
	assert.Equal(t, "review", wf.Name)
	require.Len(t, wf.Nodes, 1)

	_, err = b.LoadWorkflow("missing")
	var nf *corperrors.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "workflow", nf.Resource)
}

func TestBackendReadOnlyTools(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)

	assert.True(t, b.KnownWorker("alice"))
	assert.False(t, b.KnownWorker("bob"))

	roster, err := b.Workers(ctx)
	require.NoError(t, err)
	require.Len(t, roster, 1)
	assert.Equal(t, "alice", roster[0].Name)

	report, err := b.Budget(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.CallCount)

	b.app.Events.Emit(ctx, events.Event{Type: events.WorkflowStarted, Source: "workflow:review"})
	evs, err := b.Events(ctx, events.Filter{Type: events.WorkflowStarted, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, evs, 1)
}
