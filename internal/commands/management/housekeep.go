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

package management

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tombee/opencorp/internal/commands/shared"
	"github.com/tombee/opencorp/internal/housekeeping"
)

var housekeepDryRun bool

// NewHousekeepCommand creates the housekeep command
func NewHousekeepCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "housekeep",
		Annotations: map[string]string{"group": "management"},
		Short:       "Apply the charter's data retention policy",
		Long: `Remove events, spend records and workflow runs older than the
retention periods in charter.yaml, and trim each worker's performance log.
The daemon does this once a day.`,
		Args: cobra.NoArgs,
		RunE: runHousekeep,
	}
	cmd.Flags().BoolVar(&housekeepDryRun, "dry-run", false, "Report what would be removed without removing it")
	return cmd
}

func runHousekeep(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := shared.OpenApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	h := housekeeping.New(app.Project, app.Store,
		housekeeping.WithLogger(app.Logger),
		housekeeping.WithDryRun(housekeepDryRun),
	)
	results := h.RunAll(ctx)

	if shared.GetJSON() {
		return shared.EmitJSON(cmd.OutOrStdout(), map[string]any{
			"@version": "1.0", "command": "housekeep", "success": true,
			"dry_run": housekeepDryRun, "removed": results,
		})
	}

	out := cmd.OutOrStdout()
	verb := "Removed"
	if housekeepDryRun {
		verb = "Would remove"
	}
	r := app.Project.Charter.Retention
	fmt.Fprintf(out, "%s %d event(s) older than %d days\n", verb, results[housekeeping.KeyEvents], r.EventsDays)
	fmt.Fprintf(out, "%s %d spend record(s) older than %d days\n", verb, results[housekeeping.KeySpending], r.SpendingDays)
	fmt.Fprintf(out, "%s %d workflow run(s) older than %d days\n", verb, results[housekeeping.KeyWorkflows], r.WorkflowsDays)
	fmt.Fprintf(out, "%s %d performance entr(ies) beyond %d per worker\n", verb, results[housekeeping.KeyPerformance], r.PerformanceMax)
	return nil
}
