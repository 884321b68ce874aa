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

// Package daemon implements the corp daemon commands.
package daemon

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/tombee/opencorp/internal/config"
	"github.com/tombee/opencorp/internal/daemon"
	"github.com/tombee/opencorp/internal/lifecycle"
)

// NewCommand creates the daemon command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "daemon",
		Annotations: map[string]string{"group": "automation"},
		Short:       "Run scheduled tasks in the background",
		Long: `The daemon runs the scheduler, applies the retention policy once a day
and reloads scheduled tasks when charter.yaml changes.

Only one daemon runs per project; data/daemon.pid records which process
owns it.`,
	}
	cmd.AddCommand(newStartCommand())
	cmd.AddCommand(newStopCommand())
	cmd.AddCommand(newStatusCommand())
	return cmd
}

// State describes the daemon process for a project.
type State struct {
	Running bool   `json:"running"`
	PID     int    `json:"pid,omitempty"`
	Command string `json:"process_command,omitempty"`
	// Stale is set when a PID file exists but its process is gone or is
	// not corp.
	Stale bool `json:"stale,omitempty"`
}

func inspect(p *config.Project) (State, error) {
	pid, err := lifecycle.ReadPID(daemon.PIDPath(p))
	if os.IsNotExist(err) {
		return State{}, nil
	}
	if err != nil {
		return State{Stale: true}, nil
	}
	if !lifecycle.IsRunning(pid) || !lifecycle.IsCorpProcess(pid) {
		return State{PID: pid, Stale: true}, nil
	}
	return State{Running: true, PID: pid, Command: lifecycle.Command(pid)}, nil
}
