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
	"fmt"
	"sync"

	"github.com/tombee/opencorp/internal/store"
	corperrors "github.com/tombee/opencorp/pkg/errors"
)

// RunsCollection holds persisted workflow runs.
const RunsCollection = "workflow_runs"

// Run is one execution of a workflow. Timestamps are RFC3339Nano UTC.
type Run struct {
	ID           string                `json:"id"`
	WorkflowName string                `json:"workflow_name"`
	Status       string                `json:"status"`
	NodeResults  map[string]NodeResult `json:"node_results"`
	StartedAt    string                `json:"started_at"`
	CompletedAt  string                `json:"completed_at,omitempty"`
}

func (r *Run) clone() *Run {
	c := *r
	c.NodeResults = make(map[string]NodeResult, len(r.NodeResults))
	for k, v := range r.NodeResults {
		c.NodeResults[k] = v
	}
	return &c
}

// RunStore persists finished runs.
type RunStore interface {
	// Save inserts the run, replacing any stored run with the same id.
	Save(ctx context.Context, run *Run) error

	// Get returns the run with the given id or a *NotFoundError.
	Get(ctx context.Context, id string) (*Run, error)

	// List returns runs in the order they were saved. An empty name lists
	// every run.
	List(ctx context.Context, workflowName string) ([]*Run, error)
}

// MemoryRunStore keeps runs in process memory. It is safe for concurrent use.
type MemoryRunStore struct {
	mu    sync.RWMutex
	runs  map[string]*Run
	order []string
}

// NewMemoryRunStore returns an empty store.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{runs: make(map[string]*Run)}
}

// Save implements RunStore.
func (s *MemoryRunStore) Save(ctx context.Context, run *Run) error {
	if run == nil || run.ID == "" {
		return &corperrors.ValidationError{Field: "id", Message: "run id is required"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		s.order = append(s.order, run.ID)
	}
	s.runs[run.ID] = run.clone()
	return nil
}

// Get implements RunStore.
func (s *MemoryRunStore) Get(ctx context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, &corperrors.NotFoundError{Resource: "run", ID: id}
	}
	return run.clone(), nil
}

// List implements RunStore.
func (s *MemoryRunStore) List(ctx context.Context, workflowName string) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Run, 0, len(s.order))
	for _, id := range s.order {
		run := s.runs[id]
		if workflowName != "" && run.WorkflowName != workflowName {
			continue
		}
		out = append(out, run.clone())
	}
	return out, nil
}

// DocumentRunStore keeps runs in the document store.
type DocumentRunStore struct {
	st *store.Store
}

// NewDocumentRunStore returns a RunStore backed by st.
func NewDocumentRunStore(st *store.Store) *DocumentRunStore {
	return &DocumentRunStore{st: st}
}

// Save implements RunStore.
func (s *DocumentRunStore) Save(ctx context.Context, run *Run) error {
	if run == nil || run.ID == "" {
		return &corperrors.ValidationError{Field: "id", Message: "run id is required"}
	}
	return s.st.Update(ctx, func(tx *store.Tx) error {
		existing, err := tx.Search(RunsCollection, "id", run.ID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return tx.Replace(RunsCollection, existing[0].Seq, run)
		}
		_, err = tx.Insert(RunsCollection, run)
		return err
	})
}

// Get implements RunStore.
func (s *DocumentRunStore) Get(ctx context.Context, id string) (*Run, error) {
	var runs []*Run
	if err := s.st.Collection(RunsCollection).Search(ctx, "id", id, &runs); err != nil {
		return nil, fmt.Errorf("loading run %s: %w", id, err)
	}
	if len(runs) == 0 {
		return nil, &corperrors.NotFoundError{Resource: "run", ID: id}
	}
	return runs[0], nil
}

// List implements RunStore.
func (s *DocumentRunStore) List(ctx context.Context, workflowName string) ([]*Run, error) {
	var runs []*Run
	c := s.st.Collection(RunsCollection)
	var err error
	if workflowName == "" {
		err = c.All(ctx, &runs)
	} else {
		err = c.Search(ctx, "workflow_name", workflowName, &runs)
	}
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	if runs == nil {
		runs = []*Run{}
	}
	return runs, nil
}
