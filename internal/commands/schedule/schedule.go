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

// Package schedule implements the corp schedule command group.
package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/opencorp/internal/commands/shared"
	"github.com/tombee/opencorp/internal/scheduler"
	corperrors "github.com/tombee/opencorp/pkg/errors"
)

// NewCommand creates the schedule command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "schedule",
		Annotations: map[string]string{"group": "automation"},
		Short:       "Manage scheduled worker tasks",
		Long: `Scheduled tasks send a message to a worker on a cron expression, at a
fixed interval or once at a given time. They run while 'corp daemon start'
is active.`,
	}

	cmd.AddCommand(newAddCommand())
	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newRemoveCommand())
	cmd.AddCommand(newToggleCommand("enable", "Resume a scheduled task", true))
	cmd.AddCommand(newToggleCommand("disable", "Pause a scheduled task without deleting it", false))
	cmd.AddCommand(newRunCommand())

	return cmd
}

// taskNotFound turns the scheduler's missing-task error into exit code 4.
func taskNotFound(id string, err error) error {
	var se *corperrors.SchedulerError
	if errors.As(err, &se) && se.Reason == "Task not found" {
		return shared.NewNotFoundError(fmt.Sprintf("scheduled task %q not found", id), nil)
	}
	return err
}

// nextRun estimates the next fire time without a running scheduler.
// Intervals count from daemon start, so they have no fixed next run.
func nextRun(t scheduler.Task, now time.Time) string {
	if !t.Enabled {
		return "-"
	}
	switch t.ScheduleType {
	case scheduler.TypeCron:
		c, err := scheduler.ParseCron(t.ScheduleValue)
		if err != nil {
			return "invalid"
		}
		return c.Next(now).Local().Format(time.DateTime)
	case scheduler.TypeOnce:
		at, err := scheduler.ParseRunAt(t.ScheduleValue)
		if err != nil {
			return "invalid"
		}
		return at.Local().Format(time.DateTime)
	}
	return "every " + t.ScheduleValue + "s"
}

func describe(t scheduler.Task) string {
	if t.Description != "" {
		return t.Description
	}
	msg := []rune(strings.ReplaceAll(t.Message, "\n", " "))
	if len(msg) > 40 {
		return string(msg[:40]) + "..."
	}
	return string(msg)
}
