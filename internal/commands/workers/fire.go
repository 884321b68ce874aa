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

package workers

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tombee/opencorp/internal/commands/completion"
	"github.com/tombee/opencorp/internal/commands/shared"
	"github.com/tombee/opencorp/internal/worker"
)

var fireYes bool

func newFireCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fire <name>",
		Short: "Fire a worker",
		Long: `Delete workers/<name> and every scheduled task assigned to the worker.
Asks for confirmation unless --yes is given.`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteWorkers,
		RunE:              runFire,
	}
	cmd.Flags().BoolVarP(&fireYes, "yes", "y", false, "Skip confirmation")
	return cmd
}

func runFire(cmd *cobra.Command, args []string) error {
	name := args[0]
	ctx := cmd.Context()

	app, err := shared.OpenApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	if !worker.Exists(app.Project, name) {
		return notFound(name)
	}

	if !fireYes {
		p := shared.NewPrompter()
		if !p.IsInteractive() {
			return shared.NewInvalidInputError("refusing to fire without confirmation; pass --yes", nil)
		}
		ok, err := p.Confirm(ctx, fmt.Sprintf("Fire %s? This deletes their memory and history.", name), false)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
			return nil
		}
	}

	sched := app.Scheduler(nil)
	tasks, err := sched.ListTasks(ctx)
	if err != nil {
		return shared.NewExecutionError("listing scheduled tasks", err)
	}
	removed := 0
	for _, t := range tasks {
		if t.WorkerName != name {
			continue
		}
		if err := sched.RemoveTask(ctx, t.ID); err != nil {
			return shared.NewExecutionError("removing scheduled task "+t.ID, err)
		}
		removed++
	}

	if err := worker.Fire(app.Project, name); err != nil {
		return shared.NewExecutionError("firing worker", err)
	}
	app.Logger.Info("worker fired", "worker", name, "tasks_removed", removed)

	if shared.GetJSON() {
		return shared.EmitJSON(cmd.OutOrStdout(), map[string]any{
			"@version": "1.0", "command": "workers fire", "success": true,
			"worker": name, "tasks_removed": removed,
		})
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, shared.RenderOK("Fired "+name))
	if removed > 0 {
		fmt.Fprintf(out, "  removed %d scheduled task(s)\n", removed)
	}
	return nil
}
