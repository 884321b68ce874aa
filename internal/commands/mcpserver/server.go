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

package mcpserver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"

	"github.com/tombee/opencorp/internal/budget"
	"github.com/tombee/opencorp/internal/commands/shared"
	"github.com/tombee/opencorp/internal/events"
	"github.com/tombee/opencorp/internal/mcp/server"
	"github.com/tombee/opencorp/internal/worker"
	corperrors "github.com/tombee/opencorp/pkg/errors"
	pkgworkflow "github.com/tombee/opencorp/pkg/workflow"
)

var (
	runsPerMinute  int
	callsPerMinute int
)

// NewCommand creates the mcp-server command.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp-server",
		Short: "Serve the project to MCP clients over stdio",
		Long: `Start a Model Context Protocol server on stdin/stdout so coding assistants
can inspect and drive the operation.

Tools:
  corp_budget             Today's spend and remaining budget
  corp_workers            The roster
  corp_events             Query the event log
  corp_validate_workflow  Check workflow YAML and show its execution layers
  corp_run_workflow       Run a workflow (dry_run defaults to true)
  corp_chat               Send one message to a worker

Calls that spend money are rate limited separately from read-only calls.

Configuration example for an MCP client:
  {
    "mcpServers": {
      "opencorp": {
        "command": "corp",
        "args": ["mcp-server", "--project", "/path/to/operation"]
      }
    }
  }`,
		Annotations: map[string]string{"group": "automation"},
		Args:        cobra.NoArgs,
		RunE:        runMCPServer,
	}
	cmd.Flags().IntVar(&runsPerMinute, "runs-per-minute", server.DefaultRunsPerMinute, "Chat and workflow runs allowed per minute")
	cmd.Flags().IntVar(&callsPerMinute, "calls-per-minute", server.DefaultCallsPerMinute, "Tool calls allowed per minute")
	return cmd
}

func runMCPServer(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := shared.OpenApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	version, _, _ := shared.GetVersion()
	srv, err := server.New(server.Config{
		Name:           "opencorp",
		Version:        version,
		Backend:        &appBackend{app: app},
		Logger:         app.Logger,
		RunsPerMinute:  runsPerMinute,
		CallsPerMinute: callsPerMinute,
	})
	if err != nil {
		return shared.NewExecutionError("starting MCP server", err)
	}
	if err := srv.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout()); err != nil && ctx.Err() == nil {
		return shared.NewExecutionError("MCP server stopped", err)
	}
	return nil
}

// appBackend serves tools from an open project. The runner is built on
// first use so read-only tools work without an API key.
type appBackend struct {
	app *shared.App

	mu     sync.Mutex
	runner *worker.Runner
}

func (b *appBackend) Budget(ctx context.Context) (*budget.Report, error) {
	return b.app.Ledger.DailyReport(ctx)
}

func (b *appBackend) Workers(ctx context.Context) ([]worker.Info, error) {
	return worker.Roster(b.app.Project)
}

func (b *appBackend) Events(ctx context.Context, f events.Filter) ([]events.Event, error) {
	return b.app.Events.Query(ctx, f)
}

func (b *appBackend) KnownWorker(name string) bool {
	return worker.Exists(b.app.Project, name)
}

func (b *appBackend) LoadWorkflow(name string) (*pkgworkflow.Workflow, error) {
	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(b.app.Project.WorkflowsDir(), name+ext)
		if _, err := os.Stat(path); err == nil {
			return pkgworkflow.Load(path)
		}
	}
	return nil, &corperrors.NotFoundError{Resource: "workflow", ID: name}
}

func (b *appBackend) RunWorkflow(ctx context.Context, wf *pkgworkflow.Workflow) (*pkgworkflow.Run, error) {
	r, err := b.getRunner(ctx)
	if err != nil {
		return nil, err
	}
	return b.app.Engine(r).Run(ctx, wf)
}

func (b *appBackend) Chat(ctx context.Context, workerName, message string) (string, error) {
	r, err := b.getRunner(ctx)
	if err != nil {
		return "", err
	}
	reply, err := r.RunTask(ctx, workerName, message)
	if err != nil {
		return "", fmt.Errorf("worker %s: %w", workerName, err)
	}
	return reply, nil
}

func (b *appBackend) getRunner(ctx context.Context) (*worker.Runner, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.runner != nil {
		return b.runner, nil
	}
	r, err := b.app.Runner(ctx)
	if err != nil {
		return nil, err
	}
	b.runner = r
	return r, nil
}
