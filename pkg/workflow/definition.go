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

// Package workflow loads YAML DAG definitions and executes them layer by
// layer against workers.
package workflow

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	corperrors "github.com/tombee/opencorp/pkg/errors"
)

// Node defaults applied when a field is absent.
const (
	DefaultCondition   = ConditionSuccess
	DefaultNodeTimeout = 300
)

// Workflow is a parsed definition. Nodes keep the order they were declared in.
type Workflow struct {
	Name        string
	Description string
	// Timeout bounds the whole run in seconds. Zero means unlimited.
	Timeout int
	Nodes   []Node
}

// Node is one unit of work assigned to a worker.
type Node struct {
	ID        string
	Worker    string
	Message   string
	DependsOn []string
	Condition string
	// Timeout bounds each attempt in seconds. An explicit zero means
	// unlimited, matching the workflow timeout.
	Timeout int
	Retries int
}

// NodeIDs returns the node ids in declared order.
func (w *Workflow) NodeIDs() []string {
	ids := make([]string, len(w.Nodes))
	for i, n := range w.Nodes {
		ids[i] = n.ID
	}
	return ids
}

type fileNode struct {
	Worker    string   `yaml:"worker"`
	Message   string   `yaml:"message"`
	DependsOn []string `yaml:"depends_on"`
	Condition *string  `yaml:"condition"`
	Timeout   *int     `yaml:"timeout"`
	Retries   *int     `yaml:"retries"`
}

type fileWorkflow struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Timeout     int       `yaml:"timeout"`
	Nodes       yaml.Node `yaml:"nodes"`
}

// Load reads and parses the workflow at path. The workflow name defaults to
// the file name without its extension.
func Load(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &corperrors.WorkflowError{
				Workflow: "unknown",
				Reason:   fmt.Sprintf("Workflow file not found: %s", path),
				Cause:    err,
			}
		}
		return nil, fmt.Errorf("reading workflow %s: %w", path, err)
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return Parse(data, stem)
}

// Parse decodes a workflow document. defaultName is used when the document
// has no name.
func Parse(data []byte, defaultName string) (*Workflow, error) {
	fail := func(name, reason, node string, cause error) error {
		return &corperrors.WorkflowError{Workflow: name, Reason: reason, Node: node, Cause: cause}
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fail(defaultName, fmt.Sprintf("Invalid YAML: %v", err), "", err)
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, fail(defaultName, "Workflow file must be a YAML mapping", "", nil)
	}

	var raw fileWorkflow
	if err := doc.Content[0].Decode(&raw); err != nil {
		return nil, fail(defaultName, fmt.Sprintf("Invalid YAML: %v", err), "", err)
	}

	wf := &Workflow{
		Name:        raw.Name,
		Description: raw.Description,
		Timeout:     raw.Timeout,
	}
	if wf.Name == "" {
		wf.Name = defaultName
	}
	if wf.Timeout < 0 {
		return nil, fail(wf.Name, "Workflow timeout must not be negative", "", nil)
	}

	if raw.Nodes.Kind != yaml.MappingNode || len(raw.Nodes.Content) == 0 {
		return nil, fail(wf.Name, "Workflow has no nodes", "", nil)
	}

	// Mapping content alternates key, value.
	seen := make(map[string]bool)
	for i := 0; i+1 < len(raw.Nodes.Content); i += 2 {
		id := raw.Nodes.Content[i].Value
		body := raw.Nodes.Content[i+1]

		if seen[id] {
			return nil, fail(wf.Name, "Duplicate node id", id, nil)
		}
		seen[id] = true

		var fn fileNode
		if body.Kind == yaml.MappingNode {
			if err := body.Decode(&fn); err != nil {
				return nil, fail(wf.Name, fmt.Sprintf("Invalid YAML: %v", err), id, err)
			}
		}
		if fn.Worker == "" {
			return nil, fail(wf.Name, "Node must have a 'worker' field", id, nil)
		}

		n := Node{
			ID:        id,
			Worker:    fn.Worker,
			Message:   fn.Message,
			DependsOn: fn.DependsOn,
			Condition: DefaultCondition,
			Timeout:   DefaultNodeTimeout,
		}
		if fn.Condition != nil && *fn.Condition != "" {
			n.Condition = *fn.Condition
		}
		if fn.Timeout != nil {
			n.Timeout = *fn.Timeout
		}
		if fn.Retries != nil {
			n.Retries = *fn.Retries
		}
		if n.Timeout < 0 {
			return nil, fail(wf.Name, "Node timeout must not be negative", id, nil)
		}
		if n.Retries < 0 {
			return nil, fail(wf.Name, "Node retries must not be negative", id, nil)
		}
		wf.Nodes = append(wf.Nodes, n)
	}

	return wf, nil
}
