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

// Package workers implements the corp workers command group: listing,
// hiring, firing, promoting, inspecting and rating workers.
package workers

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tombee/opencorp/internal/commands/shared"
	"github.com/tombee/opencorp/internal/worker"
	corperrors "github.com/tombee/opencorp/pkg/errors"
)

// ListResponse is the JSON form of corp workers.
type ListResponse struct {
	shared.JSONResponse
	Workers []worker.Info `json:"workers"`
}

// NewCommand creates the workers command. Without a subcommand it lists
// the roster.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "workers",
		Aliases:     []string{"worker"},
		Annotations: map[string]string{"group": "workers"},
		Short:       "List and manage workers",
		Args:        cobra.NoArgs,
		RunE:        runList,
	}

	cmd.AddCommand(newHireCommand())
	cmd.AddCommand(newFireCommand())
	cmd.AddCommand(newPromoteCommand())
	cmd.AddCommand(newInspectCommand())
	cmd.AddCommand(newRateCommand())

	return cmd
}

func runList(cmd *cobra.Command, args []string) error {
	app, err := shared.OpenApp(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close()

	roster, err := worker.Roster(app.Project)
	if err != nil {
		return shared.NewExecutionError("listing workers", err)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(cmd.OutOrStdout(), ListResponse{
			JSONResponse: shared.JSONResponse{Version: "1.0", Command: "workers", Success: true},
			Workers:      roster,
		})
	}

	out := cmd.OutOrStdout()
	if len(roster) == 0 {
		fmt.Fprintln(out, "No workers hired yet.")
		fmt.Fprintln(out, shared.Muted.Render("Hire one with: corp workers hire <name> --role <role>"))
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tLEVEL\tROLE\tTIER")
	for _, info := range roster {
		fmt.Fprintf(w, "%s\t%s (L%d)\t%s\t%s\n", info.Name, worker.Title(info.Level), info.Level, info.Role, info.Tier)
	}
	return w.Flush()
}

func notFound(name string) error {
	return &corperrors.WorkerNotFoundError{Name: name}
}
