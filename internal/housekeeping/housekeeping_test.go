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

package housekeeping

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/opencorp/internal/budget"
	"github.com/tombee/opencorp/internal/config"
	"github.com/tombee/opencorp/internal/events"
	internallog "github.com/tombee/opencorp/internal/log"
	"github.com/tombee/opencorp/internal/store"
	"github.com/tombee/opencorp/internal/worker"
	"github.com/tombee/opencorp/pkg/workflow"
)

var now = time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)

func newHousekeeper(t *testing.T) (*Housekeeper, *config.Project, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	p := &config.Project{Dir: dir, Charter: &config.Charter{
		Name: "test",
		Retention: config.RetentionConfig{
			EventsDays:     7,
			SpendingDays:   30,
			WorkflowsDays:  14,
			PerformanceMax: 3,
		},
	}}
	m := store.NewManager()
	t.Cleanup(func() { m.Close() })
	st, err := m.Open(p.StorePath())
	require.NoError(t, err)

	h := New(p, st, WithLogger(internallog.Discard()), WithClock(func() time.Time { return now }))
	return h, p, st
}

func ts(daysAgo int) string {
	return now.AddDate(0, 0, -daysAgo).Format(time.RFC3339Nano)
}

func writePerformance(t *testing.T, p *config.Project, name string, n int) string {
	t.Helper()
	dir := filepath.Join(p.WorkersDir(), name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	entries := make([]map[string]any, n)
	for i := range entries {
		entries[i] = map[string]any{"task": fmt.Sprintf("t%d", i)}
	}
	data, err := json.Marshal(entries)
	require.NoError(t, err)
	path := filepath.Join(dir, worker.PerformanceFile)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestRunAll(t *testing.T) {
	ctx := context.Background()
	h, p, st := newHousekeeper(t)

	evs := st.Collection(events.Collection)
	for _, days := range []int{1, 6, 8, 30} {
		require.NoError(t, evs.Insert(ctx, events.Event{Type: "x", Source: "test", Timestamp: ts(days)}))
	}
	require.NoError(t, evs.Insert(ctx, map[string]any{"type": "x", "timestamp": "garbage"}))

	spend := st.Collection(budget.Collection)
	for _, days := range []int{0, 29, 31, 60} {
		date := now.AddDate(0, 0, -days).Format(budget.DateLayout)
		require.NoError(t, spend.Insert(ctx, budget.SpendRecord{Date: date, Model: "m", Cost: 0.01}))
	}

	runs := workflow.NewDocumentRunStore(st)
	for i, days := range []int{2, 15, 40} {
		require.NoError(t, runs.Save(ctx, &workflow.Run{ID: fmt.Sprintf("r%d", i), WorkflowName: "wf", StartedAt: ts(days)}))
	}

	alice := writePerformance(t, p, "alice", 5)
	writePerformance(t, p, "bob", 2)
	require.NoError(t, os.MkdirAll(filepath.Join(p.WorkersDir(), "carol"), 0o755))

	got := h.RunAll(ctx)
	assert.Equal(t, map[string]int{
		KeyEvents:      2,
		KeySpending:    2,
		KeyWorkflows:   2,
		KeyPerformance: 2,
	}, got)

	n, err := evs.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "recent and malformed events are kept")

	left, err := runs.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "r0", left[0].ID)

	var trimmed []map[string]any
	data, err := os.ReadFile(alice)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &trimmed))
	require.Len(t, trimmed, 3)
	assert.Equal(t, "t2", trimmed[0]["task"], "newest entries are kept")

	again := h.RunAll(ctx)
	assert.Equal(t, map[string]int{KeyEvents: 0, KeySpending: 0, KeyWorkflows: 0, KeyPerformance: 0}, again)
}

func TestRunAllEmptyProject(t *testing.T) {
	h, _, _ := newHousekeeper(t)
	got := h.RunAll(context.Background())
	assert.Len(t, got, 4)
	for k, v := range got {
		assert.Zero(t, v, k)
	}
}

func TestRunAllDryRun(t *testing.T) {
	ctx := context.Background()
	_, p, st := newHousekeeper(t)
	h := New(p, st, WithLogger(internallog.Discard()), WithClock(func() time.Time { return now }), WithDryRun(true))

	evs := st.Collection(events.Collection)
	for _, days := range []int{1, 8, 30} {
		require.NoError(t, evs.Insert(ctx, events.Event{Type: "x", Source: "test", Timestamp: ts(days)}))
	}
	alice := writePerformance(t, p, "alice", 5)

	got := h.RunAll(ctx)
	assert.Equal(t, 2, got[KeyEvents])
	assert.Equal(t, 2, got[KeyPerformance])

	n, err := evs.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "dry run removes nothing")

	count, err := worker.CountJSONList(p.FileLocks(), alice)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}
