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

package chat

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/opencorp/internal/cli/format"
	"github.com/tombee/opencorp/internal/commands/completion"
	"github.com/tombee/opencorp/internal/commands/shared"
	"github.com/tombee/opencorp/internal/worker"
)

var delegateWorker string

// NewDelegateCommand creates the delegate command.
func NewDelegateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "delegate <task>...",
		Annotations: map[string]string{"group": "core"},
		Short:       "Hand a task to the best matching worker",
		Long: `Pick the worker whose skills, track record and seniority best fit the
task, run it and print the result. The outcome is added to the worker's
performance log.`,
		Example: `  corp delegate "summarize yesterday's support tickets"`,
		Args:    cobra.MinimumNArgs(1),
		RunE:    runDelegate,
	}
	cmd.Flags().StringVarP(&delegateWorker, "worker", "w", worker.AutoWorker, "Worker to use instead of auto-routing")
	cmd.RegisterFlagCompletionFunc("worker", completion.CompleteWorkerFlag)
	return cmd
}

func runDelegate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	task := strings.Join(args, " ")

	app, err := shared.OpenApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	runner, err := app.Runner(ctx)
	if err != nil {
		return err
	}
	name, err := runner.Resolve(delegateWorker, task)
	if errors.Is(err, worker.ErrNoWorkers) {
		return shared.NewNotFoundError("no worker to delegate to; hire one with 'corp workers hire'", err)
	}
	if err != nil {
		return err
	}

	spin := shared.NewSpinner()
	spin.Start(fmt.Sprintf("%s is working on it", name))
	response, err := runner.RunTask(ctx, name, task)
	elapsed := spin.Stop()
	if err != nil {
		return err
	}

	if shared.GetJSON() {
		return shared.EmitJSON(cmd.OutOrStdout(), map[string]any{
			"@version": "1.0", "command": "delegate", "success": true,
			"worker": name, "response": response, "duration_ms": elapsed.Milliseconds(),
		})
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s\n\n", shared.RenderLabel("Delegated to"), shared.Bold.Render(name))
	fmt.Fprintln(out, format.Markdown(response, format.IsTTY()))
	fmt.Fprintln(out, shared.Muted.Render("done in "+shared.FormatElapsed(elapsed)))
	return nil
}
