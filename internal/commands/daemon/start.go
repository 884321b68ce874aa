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
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/opencorp/internal/commands/shared"
	"github.com/tombee/opencorp/internal/daemon"
	"github.com/tombee/opencorp/internal/housekeeping"
	"github.com/tombee/opencorp/internal/lifecycle"
)

var (
	startDetach       bool
	startHousekeeping time.Duration
	startNoWatch      bool
)

func newStartCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon",
		Long: `Start the daemon in the foreground. It stops on SIGINT or SIGTERM after
in-flight tasks finish.

With --detach the daemon is started as a background process whose output
goes to data/daemon.log.`,
		Example: `  corp daemon start
  corp daemon start -d`,
		Args: cobra.NoArgs,
		RunE: runStart,
	}
	cmd.Flags().BoolVarP(&startDetach, "detach", "d", false, "Run in the background")
	cmd.Flags().DurationVar(&startHousekeeping, "housekeeping-interval", daemon.DefaultHousekeepingInterval, "How often to apply the retention policy (0 disables)")
	cmd.Flags().BoolVar(&startNoWatch, "no-watch", false, "Do not reload when charter.yaml changes")
	return cmd
}

func runStart(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := shared.OpenApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	state, err := inspect(app.Project)
	if err != nil {
		return err
	}
	if state.Running {
		return shared.NewExecutionError(fmt.Sprintf("daemon already running (pid %d)", state.PID), nil)
	}

	if startDetach {
		return detach(cmd, app)
	}

	runner, err := app.Runner(ctx)
	if err != nil {
		return err
	}
	hk := housekeeping.New(app.Project, app.Store, housekeeping.WithLogger(app.Logger))
	d := daemon.New(app.Project, app.Scheduler(runner), hk,
		daemon.WithLogger(app.Logger),
		daemon.WithHousekeepingInterval(startHousekeeping),
		daemon.WithCharterWatch(!startNoWatch),
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(cmd.OutOrStdout(), "Daemon running for %s (pid %d). Press Ctrl+C to stop.\n",
		app.Project.Charter.Name, os.Getpid())
	if err := d.Run(ctx); err != nil {
		if errors.Is(err, lifecycle.ErrAlreadyRunning) {
			return shared.NewExecutionError("cannot start daemon", err)
		}
		return shared.NewExecutionError("daemon failed", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Daemon stopped.")
	return nil
}

// detach re-runs this binary as "corp daemon start" in a new session and
// waits for it to take the PID file.
func detach(cmd *cobra.Command, app *shared.App) error {
	exe, err := os.Executable()
	if err != nil {
		return shared.NewExecutionError("locating corp binary", err)
	}
	args := []string{
		"--project", app.Project.Dir,
		"daemon", "start",
		"--housekeeping-interval", startHousekeeping.String(),
	}
	if startNoWatch {
		args = append(args, "--no-watch")
	}
	if shared.GetVerbose() {
		args = append([]string{"--verbose"}, args...)
	}

	logPath := daemon.LogPath(app.Project)
	pid, err := lifecycle.SpawnDetached(exe, args, logPath, nil)
	if err != nil {
		return shared.NewExecutionError("starting daemon", err)
	}
	if err := waitForPIDFile(cmd.Context(), daemon.PIDPath(app.Project), pid, 5*time.Second); err != nil {
		return shared.NewExecutionError(fmt.Sprintf("daemon did not start; see %s", logPath), err)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(cmd.OutOrStdout(), map[string]any{
			"@version": "1.0", "command": "daemon start", "success": true,
			"pid": pid, "log": logPath,
		})
	}
	rel, err := filepath.Rel(app.Project.Dir, logPath)
	if err != nil {
		rel = logPath
	}
	fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK(fmt.Sprintf("Daemon started (pid %d), logging to %s", pid, rel)))
	return nil
}

func waitForPIDFile(ctx context.Context, path string, pid int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if got, err := lifecycle.ReadPID(path); err == nil && got == pid {
			return nil
		}
		if !lifecycle.IsRunning(pid) {
			return lifecycle.ErrNotRunning
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return fmt.Errorf("no PID file after %s", timeout)
}
