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

package pricing

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internallog "github.com/tombee/opencorp/internal/log"
	"github.com/tombee/opencorp/pkg/llm"
)

type fakeLister struct {
	models []llm.ModelInfo
	err    error
}

func (f *fakeLister) ListModels(context.Context) ([]llm.ModelInfo, error) {
	return f.models, f.err
}

func newCache(t *testing.T) (*Cache, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "model_pricing.json")
	return NewCache(path, internallog.Discard()), path
}

func TestEstimate(t *testing.T) {
	c, _ := newCache(t)
	_, err := c.Refresh(context.Background(), &fakeLister{models: []llm.ModelInfo{
		{ID: "a/cheap", PromptPerMillion: 0.5, CompletionPerMillion: 1.5},
	}})
	require.NoError(t, err)

	tests := []struct {
		name    string
		model   string
		in, out int
		want    float64
	}{
		{"priced", "a/cheap", 1000, 2000, (1000*0.5 + 2000*1.5) / 1e6},
		{"unpriced uses defaults", "x/unknown", 100, 50, (100*1.0 + 50*2.0) / 1e6},
		{"zero tokens", "a/cheap", 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, c.Estimate(tt.model, tt.in, tt.out), 1e-12)
		})
	}
}

func TestRefreshPersists(t *testing.T) {
	c, path := newCache(t)
	n, err := c.Refresh(context.Background(), &fakeLister{models: []llm.ModelInfo{
		{ID: "b/model", PromptPerMillion: 3, CompletionPerMillion: 15},
		{ID: "a/model", PromptPerMillion: 0.1, CompletionPerMillion: 0.2},
	}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	reloaded := NewCache(path, internallog.Discard())
	p, ok := reloaded.Lookup("b/model")
	require.True(t, ok)
	assert.Equal(t, ModelPrice{PromptPerMillion: 3, CompletionPerMillion: 15}, p)
	assert.Equal(t, []string{"a/model", "b/model"}, reloaded.Models())
	assert.False(t, reloaded.UpdatedAt().IsZero())
	assert.Empty(t, reloaded.StalenessWarning())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file should be renamed away")
}

func TestRefreshFailureKeepsPrices(t *testing.T) {
	c, _ := newCache(t)
	_, err := c.Refresh(context.Background(), &fakeLister{models: []llm.ModelInfo{{ID: "a", PromptPerMillion: 9}}})
	require.NoError(t, err)

	_, err = c.Refresh(context.Background(), &fakeLister{err: errors.New("network down")})
	require.Error(t, err)

	p, ok := c.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, 9.0, p.PromptPerMillion)
}

func TestLoadCorruptOrMissing(t *testing.T) {
	c, path := newCache(t)
	c.Load()
	assert.Empty(t, c.Models())
	assert.NotEmpty(t, c.StalenessWarning())

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	c.Load()
	assert.Empty(t, c.Models())
	assert.InDelta(t, 3.0/1e6, c.Estimate("any", 1, 1), 1e-15)
}

func TestStalenessWarning(t *testing.T) {
	c, _ := newCache(t)
	_, err := c.Refresh(context.Background(), &fakeLister{models: []llm.ModelInfo{{ID: "a"}}})
	require.NoError(t, err)

	c.SetStalenessThreshold(time.Nanosecond)
	time.Sleep(time.Millisecond)
	assert.Contains(t, c.StalenessWarning(), "days old")
}
