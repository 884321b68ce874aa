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

package schedule

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tombee/opencorp/internal/cli/format"
	"github.com/tombee/opencorp/internal/commands/completion"
	"github.com/tombee/opencorp/internal/commands/shared"
)

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run <task-id>",
		Short: "Run a scheduled task now",
		Long: `Execute a scheduled task immediately, outside its schedule. The usual
task.started and task.completed (or task.failed) events are recorded.`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteTaskIDs,
		RunE:              runNow,
	}
}

func runNow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := shared.OpenApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	runner, err := app.Runner(ctx)
	if err != nil {
		return err
	}
	sched := app.Scheduler(runner)
	if _, err := sched.GetTask(ctx, args[0]); err != nil {
		return taskNotFound(args[0], err)
	}

	spin := shared.NewSpinner()
	spin.Start("Running task " + args[0])
	response, err := sched.ExecuteTask(ctx, args[0])
	spin.Stop()
	if err != nil {
		return err
	}

	if shared.GetJSON() {
		return shared.EmitJSON(cmd.OutOrStdout(), map[string]any{
			"@version": "1.0", "command": "schedule run", "success": true,
			"task_id": args[0], "response": response,
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), format.Markdown(response, format.IsTTY()))
	return nil
}
