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

	"github.com/spf13/cobra"

	"github.com/tombee/opencorp/internal/commands/completion"
	"github.com/tombee/opencorp/internal/commands/shared"
	pkgworkflow "github.com/tombee/opencorp/pkg/workflow"
)

var (
	runFull       bool
	runMaxWorkers int
)

// RunResponse is the JSON form of corp workflow run and status.
type RunResponse struct {
	shared.JSONResponse
	*pkgworkflow.Run
}

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <file|name>",
		Short: "Run a workflow",
		Long: `Run a workflow definition and wait for it to finish. The argument is a
path or the name of a file in the project's workflows/ directory.

Exits with status 1 when any node fails.`,
		Example: `  corp workflow run workflows/weekly-report.yaml
  corp workflow run weekly-report`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteWorkflows,
		RunE:              runRun,
	}
	cmd.Flags().BoolVar(&runFull, "full", false, "Print complete node outputs")
	cmd.Flags().IntVar(&runMaxWorkers, "max-workers", pkgworkflow.DefaultMaxWorkers, "Nodes run concurrently within a layer")
	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := shared.OpenApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	path, err := resolvePath(app.Project, args[0])
	if err != nil {
		return err
	}
	wf, err := pkgworkflow.Load(path)
	if err != nil {
		return err
	}
	runner, err := app.Runner(ctx)
	if err != nil {
		return err
	}
	engine := app.Engine(runner, pkgworkflow.WithMaxWorkers(runMaxWorkers))

	spin := shared.NewSpinner()
	spin.Start(fmt.Sprintf("Running %s (%d nodes)", wf.Name, len(wf.Nodes)))
	run, err := engine.Run(ctx, wf)
	elapsed := spin.Stop()
	if err != nil {
		return err
	}

	if shared.GetJSON() {
		if err := shared.EmitJSON(cmd.OutOrStdout(), RunResponse{
			JSONResponse: shared.JSONResponse{Version: "1.0", Command: "workflow run", Success: run.Status == pkgworkflow.StatusCompleted},
			Run:          run,
		}); err != nil {
			return err
		}
	} else {
		out := cmd.OutOrStdout()
		printRun(out, run, wf.NodeIDs(), runFull)
		fmt.Fprintln(out)
		fmt.Fprintln(out, shared.Muted.Render("finished in "+shared.FormatElapsed(elapsed)))
	}

	if run.Status != pkgworkflow.StatusCompleted {
		return &shared.ExitError{Code: shared.ExitExecutionFailed, Message: fmt.Sprintf("workflow %s %s", wf.Name, run.Status), Quiet: shared.GetJSON()}
	}
	return nil
}
