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

// Package server exposes a project to MCP clients over stdio. Each tool
// maps onto one corp operation: budget reports, the roster, the event log,
// workflow validation and execution, and single-worker chat.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tombee/opencorp/internal/budget"
	"github.com/tombee/opencorp/internal/events"
	internallog "github.com/tombee/opencorp/internal/log"
	"github.com/tombee/opencorp/internal/worker"
	"github.com/tombee/opencorp/pkg/workflow"
)

// Default rate limits applied when Config leaves them at zero.
const (
	DefaultRunsPerMinute  = 10
	DefaultCallsPerMinute = 100
)

// Backend is the project surface the tools operate on.
type Backend interface {
	Budget(ctx context.Context) (*budget.Report, error)
	Workers(ctx context.Context) ([]worker.Info, error)
	Events(ctx context.Context, f events.Filter) ([]events.Event, error)
	// KnownWorker reports whether a worker profile exists.
	KnownWorker(name string) bool
	// LoadWorkflow resolves a workflow by its file name under workflows/.
	LoadWorkflow(name string) (*workflow.Workflow, error)
	RunWorkflow(ctx context.Context, wf *workflow.Workflow) (*workflow.Run, error)
	Chat(ctx context.Context, workerName, message string) (string, error)
}

// Config configures the MCP server.
type Config struct {
	// Name is the server name (default: "opencorp")
	Name string

	// Version is reported to clients during initialization.
	Version string

	Backend Backend

	// Logger must not write to stdout, which carries the protocol.
	Logger *slog.Logger

	// RunsPerMinute bounds tools that spend money: chat and non-dry-run
	// workflow runs.
	RunsPerMinute int

	// CallsPerMinute bounds every tool call.
	CallsPerMinute int
}

// Server wraps the MCP server and its tools.
type Server struct {
	mcpServer   *server.MCPServer
	backend     Backend
	rateLimiter *RateLimiter
	logger      *slog.Logger
}

// New creates a server with every tool registered.
func New(cfg Config) (*Server, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("mcp server requires a backend")
	}
	if cfg.Name == "" {
		cfg.Name = "opencorp"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.RunsPerMinute <= 0 {
		cfg.RunsPerMinute = DefaultRunsPerMinute
	}
	if cfg.CallsPerMinute <= 0 {
		cfg.CallsPerMinute = DefaultCallsPerMinute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = internallog.Discard()
	}

	s := &Server{
		mcpServer:   server.NewMCPServer(cfg.Name, cfg.Version),
		backend:     cfg.Backend,
		rateLimiter: NewRateLimiter(cfg.RunsPerMinute, cfg.CallsPerMinute),
		logger:      internallog.WithComponent(logger, "mcp"),
	}
	s.registerTools()
	return s, nil
}

// Serve speaks the protocol over in and out until ctx is cancelled or in
// is closed.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.Info("mcp server listening on stdio")
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, in, out)
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "corp_budget",
		Description: "Report today's spend against the daily limit, broken down by worker and model.",
		InputSchema: mcp.ToolInputSchema{Type: "object", Properties: map[string]any{}},
	}, s.handleBudget)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "corp_workers",
		Description: "List hired workers with their level, role and model tier.",
		InputSchema: mcp.ToolInputSchema{Type: "object", Properties: map[string]any{}},
	}, s.handleWorkers)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "corp_events",
		Description: "Query the event log, newest first.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"type": map[string]any{
					"type":        "string",
					"description": "Only events of this type, e.g. workflow.completed",
				},
				"source": map[string]any{
					"type":        "string",
					"description": "Only events from this source",
				},
				"limit": map[string]any{
					"type":        "number",
					"description": "Maximum events to return (default 50)",
				},
			},
		},
	}, s.handleEvents)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "corp_validate_workflow",
		Description: "Check workflow YAML without running it. Reports parse errors, dependency cycles and unknown workers, and returns the execution layers.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"workflow_yaml": map[string]any{
					"type":        "string",
					"description": "The complete YAML content of the workflow",
				},
			},
			Required: []string{"workflow_yaml"},
		},
	}, s.handleValidate)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "corp_run_workflow",
		Description: "Run a workflow from the project's workflows/ directory. Defaults to a dry run that only returns the plan.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"workflow": map[string]any{
					"type":        "string",
					"description": "Workflow file name without extension",
				},
				"dry_run": map[string]any{
					"type":        "boolean",
					"description": "Return the execution plan without calling any model (default true)",
				},
			},
			Required: []string{"workflow"},
		},
	}, s.handleRun)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "corp_chat",
		Description: "Send one message to a worker and return its reply. Use \"auto\" to pick the best matching worker.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"worker": map[string]any{
					"type":        "string",
					"description": "Worker name or \"auto\"",
				},
				"message": map[string]any{
					"type":        "string",
					"description": "The task or question",
				},
			},
			Required: []string{"worker", "message"},
		},
	}, s.handleChat)
}

func textResponse(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(text)},
	}
}

func errorResponse(message string) *mcp.CallToolResult {
	return mcp.NewToolResultError(message)
}

func jsonResponse(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResponse(fmt.Sprintf("Failed to encode result: %v", err))
	}
	return textResponse(string(data))
}
