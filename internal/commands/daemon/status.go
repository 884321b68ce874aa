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

package daemon

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tombee/opencorp/internal/commands/shared"
)

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the daemon is running",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
}

// StatusResponse is the JSON form of corp daemon status.
type StatusResponse struct {
	shared.JSONResponse
	State
}

func newStatusResponse(state State) StatusResponse {
	return StatusResponse{
		JSONResponse: shared.JSONResponse{Version: "1.0", Command: "daemon status", Success: true},
		State:        state,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	app, err := shared.OpenApp(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close()

	state, err := inspect(app.Project)
	if err != nil {
		return err
	}

	if shared.GetJSON() {
		return shared.EmitJSON(cmd.OutOrStdout(), newStatusResponse(state))
	}

	out := cmd.OutOrStdout()
	switch {
	case state.Running:
		fmt.Fprintln(out, shared.RenderOK(fmt.Sprintf("Daemon running (pid %d)", state.PID)))
		fmt.Fprintf(out, "%s %s\n", shared.RenderLabel("Command:"), state.Command)
	case state.Stale:
		fmt.Fprintln(out, shared.RenderWarn("Daemon not running (stale PID file; run 'corp daemon stop' to clear it)"))
	default:
		fmt.Fprintln(out, "Daemon not running.")
	}
	return nil
}
