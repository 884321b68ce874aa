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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/opencorp/internal/store"
	corperrors "github.com/tombee/opencorp/pkg/errors"
)

func runStores(t *testing.T) map[string]RunStore {
	t.Helper()
	m := store.NewManager()
	t.Cleanup(func() { m.Close() })
	st, err := m.Open(filepath.Join(t.TempDir(), "corp.db"))
	require.NoError(t, err)
	return map[string]RunStore{
		"memory":   NewMemoryRunStore(),
		"document": NewDocumentRunStore(st),
	}
}

func sampleRun(id, name string) *Run {
	return &Run{
		ID:           id,
		WorkflowName: name,
		Status:       StatusFailed,
		NodeResults: map[string]NodeResult{
			"a": {Status: StatusCompleted, Output: "out"},
			"b": {Status: StatusFailed, Error: "boom"},
			"c": {Status: StatusSkipped},
		},
		StartedAt:   "2025-05-01T09:00:00.123456Z",
		CompletedAt: "2025-05-01T09:00:05Z",
	}
}

func TestRunStores(t *testing.T) {
	for name, rs := range runStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, rs.Save(ctx, sampleRun("r1", "alpha")))
			require.NoError(t, rs.Save(ctx, sampleRun("r2", "beta")))
			require.NoError(t, rs.Save(ctx, sampleRun("r3", "alpha")))

			got, err := rs.Get(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, sampleRun("r1", "alpha"), got)

			alpha, err := rs.List(ctx, "alpha")
			require.NoError(t, err)
			require.Len(t, alpha, 2)
			assert.Equal(t, "r1", alpha[0].ID)
			assert.Equal(t, "r3", alpha[1].ID)

			all, err := rs.List(ctx, "")
			require.NoError(t, err)
			assert.Len(t, all, 3)

			none, err := rs.List(ctx, "gamma")
			require.NoError(t, err)
			assert.Empty(t, none)

			_, err = rs.Get(ctx, "nope")
			var nf *corperrors.NotFoundError
			assert.True(t, errors.As(err, &nf))

			assert.Error(t, rs.Save(ctx, &Run{}))
		})
	}
}

func TestRunStoresReplaceOnSave(t *testing.T) {
	for name, rs := range runStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			run := sampleRun("r1", "alpha")
			require.NoError(t, rs.Save(ctx, run))

			run.Status = StatusCompleted
			require.NoError(t, rs.Save(ctx, run))

			all, err := rs.List(ctx, "")
			require.NoError(t, err)
			require.Len(t, all, 1)
			assert.Equal(t, StatusCompleted, all[0].Status)
		})
	}
}

func TestMemoryRunStoreCopies(t *testing.T) {
	ctx := context.Background()
	rs := NewMemoryRunStore()
	run := sampleRun("r1", "alpha")
	require.NoError(t, rs.Save(ctx, run))

	run.NodeResults["a"] = NodeResult{Status: StatusFailed}
	got, err := rs.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.NodeResults["a"].Status)
}
