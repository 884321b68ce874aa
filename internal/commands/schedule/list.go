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
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/opencorp/internal/commands/shared"
	"github.com/tombee/opencorp/internal/scheduler"
)

// ListResponse is the JSON form of corp schedule list.
type ListResponse struct {
	shared.JSONResponse
	Tasks []scheduler.Task `json:"tasks"`
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List scheduled tasks",
		Args:    cobra.NoArgs,
		RunE:    runList,
	}
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := shared.OpenApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	tasks, err := app.Scheduler(nil).ListTasks(ctx)
	if err != nil {
		return shared.NewExecutionError("listing scheduled tasks", err)
	}

	if shared.GetJSON() {
		if tasks == nil {
			tasks = []scheduler.Task{}
		}
		return shared.EmitJSON(cmd.OutOrStdout(), ListResponse{
			JSONResponse: shared.JSONResponse{Version: "1.0", Command: "schedule list", Success: true},
			Tasks:        tasks,
		})
	}

	out := cmd.OutOrStdout()
	if len(tasks) == 0 {
		fmt.Fprintln(out, "No scheduled tasks.")
		return nil
	}
	now := time.Now()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tWORKER\tTYPE\tSCHEDULE\tENABLED\tNEXT\tDESCRIPTION")
	for _, t := range tasks {
		enabled := shared.StatusOK.Render("yes")
		if !t.Enabled {
			enabled = shared.Muted.Render("no")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.WorkerName, t.ScheduleType, t.ScheduleValue, enabled, nextRun(t, now), describe(t))
	}
	return w.Flush()
}
