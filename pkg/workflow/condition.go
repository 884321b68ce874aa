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
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Condition kinds recognised in a node's condition field.
const (
	ConditionSuccess  = "success"
	ConditionContains = "contains:"
	ConditionExpr     = "expr:"
)

// Node statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
	StatusRunning   = "running"
)

// NodeResult is the recorded outcome of one node.
type NodeResult struct {
	Status string `json:"status"`
	Output string `json:"output"`
	Error  string `json:"error,omitempty"`
}

var outputRef = regexp.MustCompile(`\{(\w+)\.output\}`)

// SubstituteOutputs replaces {id.output} references with the recorded output
// of node id. References to nodes without a result are replaced with a
// visible placeholder.
func SubstituteOutputs(message string, results map[string]NodeResult) string {
	return outputRef.ReplaceAllStringFunc(message, func(m string) string {
		id := outputRef.FindStringSubmatch(m)[1]
		if r, ok := results[id]; ok {
			return r.Output
		}
		return fmt.Sprintf("{{ %s.output not available }}", id)
	})
}

// Conditions evaluates node conditions. Compiled expr programs are cached.
type Conditions struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewConditions returns an empty evaluator.
func NewConditions() *Conditions {
	return &Conditions{cache: make(map[string]*vm.Program)}
}

// Check reports whether a node with the given condition and dependencies
// should run. Unknown condition kinds behave like success. An expr
// condition that fails to compile or run evaluates to false and the error
// is returned alongside.
func (c *Conditions) Check(condition string, deps []string, results map[string]NodeResult) (bool, error) {
	switch {
	case condition == "" || condition == ConditionSuccess:
		return allCompleted(deps, results), nil

	case strings.HasPrefix(condition, ConditionContains):
		keyword := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(condition, ConditionContains)))
		for _, dep := range deps {
			if strings.Contains(strings.ToLower(results[dep].Output), keyword) {
				return true, nil
			}
		}
		return false, nil

	case strings.HasPrefix(condition, ConditionExpr):
		return c.eval(strings.TrimSpace(strings.TrimPrefix(condition, ConditionExpr)), deps, results)

	default:
		return allCompleted(deps, results), nil
	}
}

func allCompleted(deps []string, results map[string]NodeResult) bool {
	for _, dep := range deps {
		if r, ok := results[dep]; !ok || r.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// eval runs an expression against {deps: {id: {status, output}}}.
func (c *Conditions) eval(expression string, deps []string, results map[string]NodeResult) (bool, error) {
	prog, err := c.compile(expression)
	if err != nil {
		return false, fmt.Errorf("compiling condition %q: %w", expression, err)
	}

	env := make(map[string]any, len(deps))
	for _, dep := range deps {
		r := results[dep]
		env[dep] = map[string]any{"status": r.Status, "output": r.Output}
	}
	out, err := expr.Run(prog, map[string]any{"deps": env})
	if err != nil {
		return false, fmt.Errorf("evaluating condition %q: %w", expression, err)
	}
	ok, _ := out.(bool)
	return ok, nil
}

func (c *Conditions) compile(expression string) (*vm.Program, error) {
	c.mu.RLock()
	prog, ok := c.cache[expression]
	c.mu.RUnlock()
	if ok {
		return prog, nil
	}

	prog, err := expr.Compile(expression, expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[expression] = prog
	c.mu.Unlock()
	return prog, nil
}
