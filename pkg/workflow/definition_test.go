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
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	corperrors "github.com/tombee/opencorp/pkg/errors"
)

const pipelineYAML = `
name: review-pipeline
description: draft then review
timeout: 600
nodes:
  draft:
    worker: writer
    message: Write a haiku
  review:
    worker: reviewer
    message: "Review: {draft.output}"
    depends_on: [draft]
    condition: "contains: haiku"
    timeout: 30
    retries: 2
  archive:
    worker: clerk
    depends_on: [review]
`

func TestParseDefaultsAndOrder(t *testing.T) {
	wf, err := Parse([]byte(pipelineYAML), "fallback")
	require.NoError(t, err)

	assert.Equal(t, "review-pipeline", wf.Name)
	assert.Equal(t, "draft then review", wf.Description)
	assert.Equal(t, 600, wf.Timeout)
	assert.Equal(t, []string{"draft", "review", "archive"}, wf.NodeIDs())

	draft := wf.Nodes[0]
	assert.Equal(t, ConditionSuccess, draft.Condition)
	assert.Equal(t, DefaultNodeTimeout, draft.Timeout)
	assert.Equal(t, 0, draft.Retries)
	assert.Empty(t, draft.DependsOn)

	review := wf.Nodes[1]
	assert.Equal(t, "contains: haiku", review.Condition)
	assert.Equal(t, 30, review.Timeout)
	assert.Equal(t, 2, review.Retries)
	assert.Equal(t, []string{"draft"}, review.DependsOn)

	assert.Equal(t, "", wf.Nodes[2].Message)
}

func TestParseKeepsDeclaredOrderNotAlphabetical(t *testing.T) {
	wf, err := Parse([]byte("nodes:\n  zeta: {worker: w}\n  alpha: {worker: w}\n  mid: {worker: w}\n"), "order")
	require.NoError(t, err)
	assert.Equal(t, "order", wf.Name)
	assert.Equal(t, 0, wf.Timeout)
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, wf.NodeIDs())
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name   string
		doc    string
		reason string
		node   string
	}{
		{"invalid yaml", "nodes: [unclosed", "Invalid YAML", ""},
		{"not a mapping", "- a\n- b\n", "Workflow file must be a YAML mapping", ""},
		{"empty document", "", "Workflow file must be a YAML mapping", ""},
		{"no nodes key", "name: x\n", "Workflow has no nodes", ""},
		{"empty nodes", "nodes: {}\n", "Workflow has no nodes", ""},
		{"missing worker", "nodes:\n  a:\n    message: hi\n", "Node must have a 'worker' field", "a"},
		{"null node", "nodes:\n  a:\n", "Node must have a 'worker' field", "a"},
		{"negative timeout", "nodes:\n  a: {worker: w, timeout: -1}\n", "Node timeout must not be negative", "a"},
		{"negative retries", "nodes:\n  a: {worker: w, retries: -2}\n", "Node retries must not be negative", "a"},
		{"negative workflow timeout", "timeout: -5\nnodes:\n  a: {worker: w}\n", "Workflow timeout must not be negative", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), "wf")
			var we *corperrors.WorkflowError
			require.True(t, errors.As(err, &we), "got %v", err)
			assert.Contains(t, we.Reason, tt.reason)
			assert.Equal(t, tt.node, we.Node)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nightly.yaml")
	require.NoError(t, os.WriteFile(path, []byte("nodes:\n  a: {worker: w}\n"), 0o644))

	wf, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "nightly", wf.Name)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	var we *corperrors.WorkflowError
	require.True(t, errors.As(err, &we))
	assert.Equal(t, "unknown", we.Workflow)
	assert.Contains(t, we.Reason, "Workflow file not found")
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	for _, f := range []string{"b.yaml", "a.yml", "nested/c.yaml", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte("x"), 0o644))
	}

	files, err := Discover(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.yml", "b.yaml", filepath.Join("nested", "c.yaml")}, files)

	files, err = Discover(filepath.Join(dir, "absent"))
	require.NoError(t, err)
	assert.Empty(t, files)
}
