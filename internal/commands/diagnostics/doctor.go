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

// Package diagnostics implements corp doctor.
package diagnostics

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/opencorp/internal/budget"
	"github.com/tombee/opencorp/internal/commands/shared"
	"github.com/tombee/opencorp/internal/daemon"
	"github.com/tombee/opencorp/internal/lifecycle"
	"github.com/tombee/opencorp/internal/webhook"
	"github.com/tombee/opencorp/internal/worker"
)

// Check outcomes.
const (
	StatusOK   = "ok"
	StatusWarn = "warn"
	StatusFail = "fail"
	StatusSkip = "skip"
)

// Check is one health check.
type Check struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// Result contains every check. Healthy is false when any check failed;
// warnings do not count.
type Result struct {
	shared.JSONResponse
	Project string  `json:"project,omitempty"`
	Checks  []Check `json:"checks"`
	Healthy bool    `json:"healthy"`
}

func (r *Result) add(name, status, message, suggestion string) {
	r.Checks = append(r.Checks, Check{Name: name, Status: status, Message: message, Suggestion: suggestion})
}

// NewDoctorCommand creates the doctor command.
func NewDoctorCommand() *cobra.Command {
	return &cobra.Command{
		Use: "doctor",
		Annotations: map[string]string{
			"group": "management",
		},
		Short: "Check project health and configuration",
		Long: `Check that the project loads and is ready to work:

  - charter.yaml parses and the data store opens
  - an OpenRouter API key is configured
  - workers exist and every tier they use has models
  - today's budget is not frozen
  - the daemon is running when tasks are scheduled
  - the webhook API key is set

Exits with status 1 when a check fails. Warnings do not change the exit
status.`,
		Args: cobra.NoArgs,
		RunE: runDoctor,
	}
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	result := Result{
		JSONResponse: shared.JSONResponse{Version: "1.0", Command: "doctor"},
		Checks:       []Check{},
	}

	app, err := shared.OpenApp(ctx)
	if err != nil {
		result.add("project", StatusFail, err.Error(), "Run 'corp init' or pass --project.")
		return finish(cmd, &result)
	}
	defer app.Close()

	result.Project = app.Project.Dir
	result.add("project", StatusOK, fmt.Sprintf("%s (%s)", app.Project.Charter.Name, app.Project.Dir), "")

	if app.Secrets.Lookup(ctx, shared.APIKeySecret) != "" {
		result.add("api_key", StatusOK, "OpenRouter API key from "+app.Secrets.Source(ctx, shared.APIKeySecret), "")
	} else {
		result.add("api_key", StatusFail, "No OpenRouter API key configured", "Run 'corp auth set-key' or set OPENROUTER_API_KEY in .env.")
	}

	checkWorkers(app, &result)
	checkBudget(ctx, app, &result)
	checkDaemon(ctx, app, &result)

	if os.Getenv(webhook.APIKeyEnv) != "" {
		result.add("webhook", StatusOK, webhook.APIKeyEnv+" is set", "")
	} else {
		result.add("webhook", StatusSkip, webhook.APIKeyEnv+" is not set; the webhook server will not start", "")
	}

	return finish(cmd, &result)
}

func checkWorkers(app *shared.App, result *Result) {
	roster, err := worker.Roster(app.Project)
	if err != nil {
		result.add("workers", StatusFail, err.Error(), "Run 'corp validate' for details.")
		return
	}
	if len(roster) == 0 {
		result.add("workers", StatusWarn, "No workers hired", "Run 'corp workers hire <name>'.")
		return
	}
	for _, w := range roster {
		if len(app.Project.Charter.TierModels(w.Tier)) == 0 {
			result.add("workers", StatusFail,
				fmt.Sprintf("worker %s uses tier %q, which has no models", w.Name, w.Tier),
				"Add models for the tier under tiers in charter.yaml.")
			return
		}
	}
	result.add("workers", StatusOK, fmt.Sprintf("%d worker(s)", len(roster)), "")
}

func checkBudget(ctx context.Context, app *shared.App, result *Result) {
	report, err := app.Ledger.DailyReport(ctx)
	if err != nil {
		result.add("budget", StatusFail, fmt.Sprintf("reading spend records: %v", err), "")
		return
	}
	msg := fmt.Sprintf("$%.2f of $%.2f spent today (%s)", report.TotalSpent, report.DailyLimit, report.Status)
	if report.Status == budget.StatusFrozen.String() {
		result.add("budget", StatusWarn, msg, "Model calls are refused until tomorrow or until budget.daily_limit is raised.")
		return
	}
	result.add("budget", StatusOK, msg, "")
}

func checkDaemon(ctx context.Context, app *shared.App, result *Result) {
	tasks, err := app.Scheduler(nil).ListTasks(ctx)
	if err != nil {
		result.add("daemon", StatusFail, fmt.Sprintf("reading scheduled tasks: %v", err), "")
		return
	}
	enabled := 0
	for _, t := range tasks {
		if t.Enabled {
			enabled++
		}
	}

	pid, err := lifecycle.ReadPID(daemon.PIDPath(app.Project))
	switch {
	case err == nil && lifecycle.IsRunning(pid) && lifecycle.IsCorpProcess(pid):
		result.add("daemon", StatusOK, fmt.Sprintf("running (pid %d), %d enabled task(s)", pid, enabled), "")
	case err == nil || !os.IsNotExist(err):
		result.add("daemon", StatusWarn, "stale PID file "+daemon.PIDPath(app.Project), "Run 'corp daemon start'; it replaces a stale PID file.")
	case enabled > 0:
		result.add("daemon", StatusWarn, fmt.Sprintf("not running, %d enabled task(s) will not fire", enabled), "Run 'corp daemon start'.")
	default:
		result.add("daemon", StatusOK, "not running, no tasks scheduled", "")
	}
}

func finish(cmd *cobra.Command, result *Result) error {
	result.Healthy = true
	for _, c := range result.Checks {
		if c.Status == StatusFail {
			result.Healthy = false
		}
	}
	result.Success = result.Healthy

	if shared.GetJSON() {
		if err := shared.EmitJSON(cmd.OutOrStdout(), result); err != nil {
			return err
		}
	} else {
		printResult(cmd, result)
	}
	if !result.Healthy {
		return &shared.ExitError{Code: shared.ExitExecutionFailed, Message: "health checks failed", Quiet: true}
	}
	return nil
}

func printResult(cmd *cobra.Command, r *Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, shared.Header.Render("Health Check"))
	for _, c := range r.Checks {
		line := fmt.Sprintf("%-8s %s", c.Name, c.Message)
		switch c.Status {
		case StatusOK:
			fmt.Fprintln(out, shared.RenderOK(line))
		case StatusWarn:
			fmt.Fprintln(out, shared.RenderWarn(line))
		case StatusFail:
			fmt.Fprintln(out, shared.RenderError(line))
		default:
			fmt.Fprintln(out, "  "+shared.Muted.Render(line))
		}
		if c.Suggestion != "" && c.Status != StatusOK {
			fmt.Fprintln(out, "    "+shared.Muted.Render(c.Suggestion))
		}
	}
	fmt.Fprintln(out)
	if r.Healthy {
		fmt.Fprintln(out, shared.RenderOK("Ready"))
	} else {
		fmt.Fprintln(out, shared.RenderError("Problems found"))
	}
}
