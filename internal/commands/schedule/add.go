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
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/opencorp/internal/commands/completion"
	"github.com/tombee/opencorp/internal/commands/shared"
	"github.com/tombee/opencorp/internal/scheduler"
)

var (
	addCron        string
	addInterval    int
	addOnce        string
	addDescription string
)

func newAddCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <worker> <message>...",
		Short: "Schedule a message for a worker",
		Example: `  corp schedule add alice "Write the daily standup notes" --cron "0 9 * * 1-5"
  corp schedule add bob "Check the build" --interval 3600
  corp schedule add alice "Send the launch post" --once 2025-07-01T10:00:00`,
		Args:              cobra.MinimumNArgs(2),
		ValidArgsFunction: completion.CompleteWorkers,
		RunE:              runAdd,
	}
	cmd.Flags().StringVar(&addCron, "cron", "", "Five-field cron expression or @hourly, @daily, @weekly, @monthly, @yearly")
	cmd.Flags().IntVar(&addInterval, "interval", 0, "Run every N seconds")
	cmd.Flags().StringVar(&addOnce, "once", "", "Run once at this time (RFC 3339, or local YYYY-MM-DDTHH:MM[:SS])")
	cmd.Flags().StringVar(&addDescription, "description", "", "Short description")
	cmd.MarkFlagsMutuallyExclusive("cron", "interval", "once")
	cmd.MarkFlagsOneRequired("cron", "interval", "once")
	return cmd
}

func runAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	name, message := args[0], strings.Join(args[1:], " ")

	var kind, value string
	switch {
	case addCron != "":
		kind, value = scheduler.TypeCron, addCron
	case cmd.Flags().Changed("interval"):
		kind, value = scheduler.TypeInterval, strconv.Itoa(addInterval)
	default:
		kind, value = scheduler.TypeOnce, addOnce
	}

	app, err := shared.OpenApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	t := scheduler.NewTask(name, message, kind, value)
	t.Description = addDescription
	t, err = app.Scheduler(nil).AddTask(ctx, t)
	if err != nil {
		return err
	}

	if shared.GetJSON() {
		return shared.EmitJSON(cmd.OutOrStdout(), map[string]any{
			"@version": "1.0", "command": "schedule add", "success": true, "task": t,
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK(fmt.Sprintf("Scheduled task %s: %s %s for %s", t.ID, kind, value, name)))
	return nil
}
