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
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/opencorp/internal/commands/shared"
	"github.com/tombee/opencorp/internal/daemon"
	"github.com/tombee/opencorp/internal/lifecycle"
)

var (
	stopTimeout time.Duration
	stopForce   bool
)

func newStopCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a running daemon",
		Long: `Send SIGTERM to the daemon and wait for it to exit. With --force a daemon
still running after the timeout is killed.`,
		Args: cobra.NoArgs,
		RunE: runStop,
	}
	cmd.Flags().DurationVar(&stopTimeout, "timeout", 30*time.Second, "How long to wait for a clean exit")
	cmd.Flags().BoolVar(&stopForce, "force", false, "Kill the daemon if it does not exit in time")
	return cmd
}

func runStop(cmd *cobra.Command, args []string) error {
	app, err := shared.OpenApp(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close()

	out := cmd.OutOrStdout()
	state, err := inspect(app.Project)
	if err != nil {
		return err
	}
	if state.Stale {
		if err := os.Remove(daemon.PIDPath(app.Project)); err != nil && !os.IsNotExist(err) {
			return shared.NewExecutionError("removing stale PID file", err)
		}
	}
	if !state.Running {
		if shared.GetJSON() {
			return shared.EmitJSON(out, map[string]any{
				"@version": "1.0", "command": "daemon stop", "success": true, "stopped": false,
			})
		}
		fmt.Fprintln(out, "Daemon is not running.")
		return nil
	}

	err = lifecycle.Stop(state.PID, stopTimeout, stopForce)
	if err != nil && !errors.Is(err, lifecycle.ErrNotRunning) {
		return shared.NewExecutionError(fmt.Sprintf("stopping daemon (pid %d)", state.PID), err)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(out, map[string]any{
			"@version": "1.0", "command": "daemon stop", "success": true, "stopped": true, "pid": state.PID,
		})
	}
	fmt.Fprintln(out, shared.RenderOK(fmt.Sprintf("Daemon stopped (pid %d)", state.PID)))
	return nil
}
