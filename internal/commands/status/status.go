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

// Package status implements the status and budget overview commands.
package status

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tombee/opencorp/internal/budget"
	"github.com/tombee/opencorp/internal/commands/shared"
	"github.com/tombee/opencorp/internal/worker"
)

// Overview is the JSON form of corp status.
type Overview struct {
	shared.JSONResponse
	Project   string  `json:"project"`
	Owner     string  `json:"owner"`
	Mission   string  `json:"mission"`
	Spent     float64 `json:"spent"`
	Limit     float64 `json:"daily_limit"`
	Ratio     float64 `json:"usage_ratio"`
	Status    string  `json:"status"`
	Calls     int     `json:"calls"`
	Workers   int     `json:"workers"`
	Scheduled int     `json:"scheduled_tasks"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "status",
		Annotations: map[string]string{"group": "core"},
		Short:       "Show project and budget status",
		Args:        cobra.NoArgs,
		RunE:        runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := shared.OpenApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	report, err := app.Ledger.DailyReport(ctx)
	if err != nil {
		return shared.NewExecutionError("reading budget", err)
	}
	names, err := worker.List(app.Project)
	if err != nil {
		return shared.NewExecutionError("listing workers", err)
	}
	tasks, err := app.Scheduler(nil).ListTasks(ctx)
	if err != nil {
		return shared.NewExecutionError("listing scheduled tasks", err)
	}

	c := app.Project.Charter
	ov := Overview{
		JSONResponse: shared.JSONResponse{Version: "1.0", Command: "status", Success: true},
		Project:      c.Name,
		Owner:        c.Owner,
		Mission:      c.Mission,
		Spent:        report.TotalSpent,
		Limit:        report.DailyLimit,
		Ratio:        report.UsageRatio,
		Status:       report.Status,
		Calls:        report.CallCount,
		Workers:      len(names),
		Scheduled:    len(tasks),
	}
	if shared.GetJSON() {
		return shared.EmitJSON(cmd.OutOrStdout(), ov)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, shared.Header.Render(ov.Project))
	fmt.Fprintf(out, "%s %s\n", shared.RenderLabel("Owner:  "), ov.Owner)
	fmt.Fprintf(out, "%s %s\n", shared.RenderLabel("Mission:"), ov.Mission)
	fmt.Fprintln(out)
	fmt.Fprintf(out, "%s $%.4f / $%.2f (%.1f%%) %s\n", shared.RenderLabel("Budget: "),
		ov.Spent, ov.Limit, ov.Ratio*100, shared.RenderBudgetStatus(budget.ClassifyRatio(ov.Ratio, c.Budget.Thresholds)))
	fmt.Fprintf(out, "%s %d\n", shared.RenderLabel("Calls:  "), ov.Calls)
	fmt.Fprintf(out, "%s %d\n", shared.RenderLabel("Workers:"), ov.Workers)
	fmt.Fprintf(out, "%s %d\n", shared.RenderLabel("Tasks:  "), ov.Scheduled)
	return nil
}
