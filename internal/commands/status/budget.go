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

package status

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tombee/opencorp/internal/budget"
	"github.com/tombee/opencorp/internal/commands/shared"
)

// BudgetResponse is the JSON form of corp budget.
type BudgetResponse struct {
	shared.JSONResponse
	*budget.Report
}

// NewBudgetCommand creates the budget command.
func NewBudgetCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "budget",
		Annotations: map[string]string{"group": "core"},
		Short:       "Show today's spending report",
		Long: `Show today's spending against the charter's daily limit, broken
down by worker and by model. Dates are UTC.`,
		Args: cobra.NoArgs,
		RunE: runBudget,
	}
}

func runBudget(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := shared.OpenApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	r, err := app.Ledger.DailyReport(ctx)
	if err != nil {
		return shared.NewExecutionError("reading budget", err)
	}
	if shared.GetJSON() {
		return shared.EmitJSON(cmd.OutOrStdout(), BudgetResponse{
			JSONResponse: shared.JSONResponse{Version: "1.0", Command: "budget", Success: true},
			Report:       r,
		})
	}

	out := cmd.OutOrStdout()
	status := budget.ClassifyRatio(r.UsageRatio, app.Project.Charter.Budget.Thresholds)
	fmt.Fprintln(out, shared.Header.Render("Budget for "+r.Date))
	fmt.Fprintf(out, "%s $%.4f of $%.2f (%.1f%%)\n", shared.RenderLabel("Spent:    "), r.TotalSpent, r.DailyLimit, r.UsageRatio*100)
	fmt.Fprintf(out, "%s $%.4f\n", shared.RenderLabel("Remaining:"), r.Remaining)
	fmt.Fprintf(out, "%s %s\n", shared.RenderLabel("Status:   "), shared.RenderBudgetStatus(status))
	fmt.Fprintf(out, "%s %d\n", shared.RenderLabel("Calls:    "), r.CallCount)
	fmt.Fprintf(out, "%s %d in / %d out\n", shared.RenderLabel("Tokens:   "), r.TotalTokensIn, r.TotalTokensOut)

	printBreakdown(out, "By worker", "WORKER", r.ByWorker)
	printBreakdown(out, "By model", "MODEL", r.ByModel)
	return nil
}

// printBreakdown lists costs, largest first.
func printBreakdown(out io.Writer, title, column string, costs map[string]float64) {
	if len(costs) == 0 {
		return
	}
	keys := make([]string, 0, len(costs))
	for k := range costs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if costs[keys[i]] != costs[keys[j]] {
			return costs[keys[i]] > costs[keys[j]]
		}
		return keys[i] < keys[j]
	})

	fmt.Fprintln(out)
	fmt.Fprintln(out, shared.Bold.Render(title))
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "%s\tCOST\n", column)
	for _, k := range keys {
		fmt.Fprintf(w, "%s\t$%.4f\n", k, costs[k])
	}
	w.Flush()
}
