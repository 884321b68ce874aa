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

package errors

import (
	"fmt"
	"strings"
)

// BudgetExceededError is returned when today's spend has reached the
// critical threshold of the daily limit. It is never retried; it clears
// when the UTC day rolls over or the limit is raised.
type BudgetExceededError struct {
	Remaining  float64
	DailyLimit float64
}

// Error implements the error interface.
func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("Budget frozen: $%.4f remaining of $%.2f daily limit", e.Remaining, e.DailyLimit)
}

// ModelUnavailableError is returned when every candidate model failed or
// the resolved candidate list was empty.
type ModelUnavailableError struct {
	// Model is the explicit override, or the requested tier when none was given.
	Model string
	Tier  string
	// Tried lists every model attempted, in order.
	Tried []string
}

// Error implements the error interface.
func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("Model '%s' unavailable in tier '%s'. Tried: [%s]",
		e.Model, e.Tier, strings.Join(e.Tried, ", "))
}

// WorkerNotFoundError is returned when workers/<name> does not exist.
type WorkerNotFoundError struct {
	Name string
}

// Error implements the error interface.
func (e *WorkerNotFoundError) Error() string {
	return fmt.Sprintf("Worker '%s' not found in workers/ directory", e.Name)
}

// Suggestion implements Suggester.
func (e *WorkerNotFoundError) Suggestion() string {
	return "Run 'corp workers' to see available workers."
}

// WorkflowError reports a structural problem with a workflow definition:
// missing file, malformed YAML, missing worker reference or a cycle.
type WorkflowError struct {
	Workflow string
	Reason   string
	// Node is set when the problem is attributable to a single node.
	Node string
	Cause error
}

// Error implements the error interface.
func (e *WorkflowError) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("workflow '%s': %s (node '%s')", e.Workflow, e.Reason, e.Node)
	}
	return fmt.Sprintf("workflow '%s': %s", e.Workflow, e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *WorkflowError) Unwrap() error {
	return e.Cause
}

// SchedulerError reports an invalid or missing scheduled task.
type SchedulerError struct {
	TaskID string
	Reason string
	Hint   string
}

// Error implements the error interface.
func (e *SchedulerError) Error() string {
	return fmt.Sprintf("scheduler task '%s': %s", e.TaskID, e.Reason)
}

// Suggestion implements Suggester.
func (e *SchedulerError) Suggestion() string {
	return e.Hint
}
