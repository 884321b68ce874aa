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
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tombee/opencorp/internal/commands/shared"
	pkgworkflow "github.com/tombee/opencorp/pkg/workflow"
)

var (
	listName  string
	listLimit int
)

// ListResponse is the JSON form of corp workflow list.
type ListResponse struct {
	shared.JSONResponse
	Runs []*pkgworkflow.Run `json:"runs"`
}

func newListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflow runs, newest first",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}
	cmd.Flags().StringVar(&listName, "name", "", "Only runs of this workflow")
	cmd.Flags().IntVar(&listLimit, "limit", 20, "Maximum runs to show (0 for all)")
	return cmd
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := shared.OpenApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	runs, err := app.RunStore().List(ctx, listName)
	if err != nil {
		return shared.NewExecutionError("listing runs", err)
	}
	for i, j := 0, len(runs)-1; i < j; i, j = i+1, j-1 {
		runs[i], runs[j] = runs[j], runs[i]
	}
	if listLimit > 0 && len(runs) > listLimit {
		runs = runs[:listLimit]
	}

	if shared.GetJSON() {
		return shared.EmitJSON(cmd.OutOrStdout(), ListResponse{
			JSONResponse: shared.JSONResponse{Version: "1.0", Command: "workflow list", Success: true},
			Runs:         runs,
		})
	}

	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "No workflow runs yet.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tWORKFLOW\tSTATUS\tNODES\tSTARTED")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", r.ID, r.WorkflowName, shared.RenderRunStatus(r.Status), len(r.NodeResults), r.StartedAt)
	}
	return w.Flush()
}
