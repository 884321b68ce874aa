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

	"github.com/tombee/opencorp/internal/commands/completion"
	"github.com/tombee/opencorp/internal/commands/shared"
)

func newRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:               "remove <task-id>",
		Aliases:           []string{"rm"},
		Short:             "Delete a scheduled task",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteTaskIDs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := shared.OpenApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Scheduler(nil).RemoveTask(ctx, args[0]); err != nil {
				return taskNotFound(args[0], err)
			}
			return report(cmd, "schedule remove", args[0], "Removed task "+args[0])
		},
	}
}

func newToggleCommand(verb, short string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:               verb + " <task-id>",
		Short:             short,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteTaskIDs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := shared.OpenApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Scheduler(nil).SetEnabled(ctx, args[0], enabled); err != nil {
				return taskNotFound(args[0], err)
			}
			return report(cmd, "schedule "+verb, args[0], fmt.Sprintf("Task %s %sd", args[0], verb))
		},
	}
}

func report(cmd *cobra.Command, command, id, msg string) error {
	if shared.GetJSON() {
		return shared.EmitJSON(cmd.OutOrStdout(), map[string]any{
			"@version": "1.0", "command": command, "success": true, "task_id": id,
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK(msg))
	return nil
}
