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
	"github.com/spf13/cobra"

	"github.com/tombee/opencorp/internal/commands/completion"
	"github.com/tombee/opencorp/internal/commands/shared"
)

var statusFull bool

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "status <run-id>",
		Short:             "Show the node results of a workflow run",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteRunIDs,
		RunE:              runStatus,
	}
	cmd.Flags().BoolVar(&statusFull, "full", false, "Print complete node outputs")
	return cmd
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := shared.OpenApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	run, err := app.RunStore().Get(ctx, args[0])
	if err != nil {
		return err
	}

	if shared.GetJSON() {
		return shared.EmitJSON(cmd.OutOrStdout(), RunResponse{
			JSONResponse: shared.JSONResponse{Version: "1.0", Command: "workflow status", Success: true},
			Run:          run,
		})
	}
	printRun(cmd.OutOrStdout(), run, nil, statusFull)
	return nil
}
