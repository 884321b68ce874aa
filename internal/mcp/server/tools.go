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

package server

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tombee/opencorp/internal/events"
	"github.com/tombee/opencorp/internal/worker"
	"github.com/tombee/opencorp/pkg/workflow"
)

const (
	maxYAMLSize       = 1 << 20
	defaultEventLimit = 50
)

const rateLimited = "Rate limit exceeded. Please try again later."

// ValidationResult is returned by corp_validate_workflow.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Workflow string   `json:"workflow,omitempty"`
	Errors   []string `json:"errors"`
	Plan     *Plan    `json:"plan,omitempty"`
}

// Plan lists nodes in the layers they would run in.
type Plan struct {
	Workflow string       `json:"workflow"`
	Layers   [][]PlanNode `json:"layers"`
}

// PlanNode is one node of a plan.
type PlanNode struct {
	ID        string   `json:"id"`
	Worker    string   `json:"worker"`
	DependsOn []string `json:"depends_on,omitempty"`
}

func (s *Server) handleBudget(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.rateLimiter.AllowCall() {
		return errorResponse(rateLimited), nil
	}
	report, err := s.backend.Budget(ctx)
	if err != nil {
		return errorResponse(fmt.Sprintf("Reading budget: %v", err)), nil
	}
	return jsonResponse(report), nil
}

func (s *Server) handleWorkers(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.rateLimiter.AllowCall() {
		return errorResponse(rateLimited), nil
	}
	roster, err := s.backend.Workers(ctx)
	if err != nil {
		return errorResponse(fmt.Sprintf("Listing workers: %v", err)), nil
	}
	if roster == nil {
		roster = []worker.Info{}
	}
	return jsonResponse(roster), nil
}

func (s *Server) handleEvents(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.rateLimiter.AllowCall() {
		return errorResponse(rateLimited), nil
	}
	limit := int(request.GetFloat("limit", defaultEventLimit))
	if limit <= 0 {
		return errorResponse("'limit' must be positive"), nil
	}
	evs, err := s.backend.Events(ctx, events.Filter{
		Type:   request.GetString("type", ""),
		Source: request.GetString("source", ""),
		Limit:  limit,
	})
	if err != nil {
		return errorResponse(fmt.Sprintf("Querying events: %v", err)), nil
	}
	if evs == nil {
		evs = []events.Event{}
	}
	return jsonResponse(evs), nil
}

func (s *Server) handleValidate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.rateLimiter.AllowCall() {
		return errorResponse(rateLimited), nil
	}
	content, err := request.RequireString("workflow_yaml")
	if err != nil {
		return errorResponse("Missing or invalid 'workflow_yaml' argument"), nil
	}
	if len(content) > maxYAMLSize {
		return errorResponse(fmt.Sprintf("Workflow YAML exceeds maximum size of %d bytes", maxYAMLSize)), nil
	}
	return jsonResponse(s.validate([]byte(content))), nil
}

// validate never fails; problems are reported in the result.
func (s *Server) validate(data []byte) ValidationResult {
	result := ValidationResult{Errors: []string{}}
	wf, err := workflow.Parse(data, "inline")
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}
	result.Workflow = wf.Name

	plan, err := buildPlan(wf)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
	}
	for _, n := range wf.Nodes {
		if n.Worker != worker.AutoWorker && !s.backend.KnownWorker(n.Worker) {
			result.Errors = append(result.Errors, fmt.Sprintf("node %q uses unknown worker %q", n.ID, n.Worker))
		}
	}
	result.Valid = len(result.Errors) == 0
	if result.Valid {
		result.Plan = plan
	}
	return result
}

func (s *Server) handleRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.rateLimiter.AllowCall() {
		return errorResponse(rateLimited), nil
	}
	name, err := request.RequireString("workflow")
	if err != nil {
		return errorResponse("Missing or invalid 'workflow' argument"), nil
	}
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return errorResponse(fmt.Sprintf("Invalid workflow name %q", name)), nil
	}
	dryRun := request.GetBool("dry_run", true)

	wf, err := s.backend.LoadWorkflow(name)
	if err != nil {
		return errorResponse(err.Error()), nil
	}
	if dryRun {
		plan, err := buildPlan(wf)
		if err != nil {
			return errorResponse(err.Error()), nil
		}
		return jsonResponse(plan), nil
	}

	if !s.rateLimiter.AllowRun() {
		return errorResponse(rateLimited), nil
	}
	s.logger.Info("running workflow", "workflow", wf.Name, "nodes", len(wf.Nodes))
	run, err := s.backend.RunWorkflow(ctx, wf)
	if err != nil {
		return errorResponse(fmt.Sprintf("Running workflow: %v", err)), nil
	}
	return jsonResponse(run), nil
}

func (s *Server) handleChat(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.rateLimiter.AllowCall() {
		return errorResponse(rateLimited), nil
	}
	name, err := request.RequireString("worker")
	if err != nil {
		return errorResponse("Missing or invalid 'worker' argument"), nil
	}
	message, err := request.RequireString("message")
	if err != nil || strings.TrimSpace(message) == "" {
		return errorResponse("Missing or invalid 'message' argument"), nil
	}
	if name != worker.AutoWorker && !s.backend.KnownWorker(name) {
		return errorResponse(fmt.Sprintf("Worker %q not found", name)), nil
	}
	if !s.rateLimiter.AllowRun() {
		return errorResponse(rateLimited), nil
	}

	reply, err := s.backend.Chat(ctx, name, message)
	if err != nil {
		return errorResponse(err.Error()), nil
	}
	return textResponse(reply), nil
}

func buildPlan(wf *workflow.Workflow) (*Plan, error) {
	sorted, err := workflow.TopologicalSort(wf.Name, wf.Nodes)
	if err != nil {
		return nil, err
	}
	plan := &Plan{Workflow: wf.Name}
	for _, layer := range workflow.Layers(sorted, workflow.ComputeDepths(sorted)) {
		nodes := make([]PlanNode, len(layer))
		for i, n := range layer {
			nodes[i] = PlanNode{ID: n.ID, Worker: n.Worker, DependsOn: n.DependsOn}
		}
		plan.Layers = append(plan.Layers, nodes)
	}
	return plan, nil
}
