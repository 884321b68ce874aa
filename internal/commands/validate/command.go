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

// Package validate checks a project for problems that would only surface
// at run time: broken workers, invalid workflows and orphaned tasks.
package validate

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tombee/opencorp/internal/commands/shared"
	"github.com/tombee/opencorp/internal/worker"
	pkgworkflow "github.com/tombee/opencorp/pkg/workflow"
)

// Issue is one problem found in the project.
type Issue struct {
	Kind    string `json:"kind"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Report is the JSON form of corp validate.
type Report struct {
	shared.JSONResponse
	Workers   int     `json:"workers"`
	Workflows int     `json:"workflows"`
	Tasks     int     `json:"tasks"`
	Issues    []Issue `json:"issues"`
}

// NewCommand creates the validate command
func NewCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Annotations: map[string]string{"group": "management"},
		Short:       "Check the project for configuration problems",
		Long: `Validate loads charter.yaml, every worker and every workflow file, and
checks that workflow nodes and scheduled tasks name workers that exist.

Exits with code 2 when any problem is found.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runValidate,
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := shared.OpenApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	report := Report{
		JSONResponse: shared.JSONResponse{Version: "1.0", Command: "validate"},
		Issues:       []Issue{},
	}
	v := &validator{app: app, report: &report}
	v.workers()
	v.workflows()
	if err := v.tasks(ctx); err != nil {
		return shared.NewExecutionError("reading scheduled tasks", err)
	}
	report.Success = len(report.Issues) == 0

	if shared.GetJSON() {
		if err := shared.EmitJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
	} else {
		printReport(cmd, report)
	}
	if !report.Success {
		return &shared.ExitError{
			Code:    shared.ExitInvalidInput,
			Message: fmt.Sprintf("%d problem(s) found", len(report.Issues)),
			Quiet:   true,
		}
	}
	return nil
}

type validator struct {
	app    *shared.App
	report *Report
	known  map[string]bool
}

func (v *validator) add(kind, name, format string, args ...any) {
	v.report.Issues = append(v.report.Issues, Issue{Kind: kind, Name: name, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) workers() {
	v.known = make(map[string]bool)
	names, err := worker.List(v.app.Project)
	if err != nil {
		v.add("worker", "", "listing workers: %v", err)
		return
	}
	for _, name := range names {
		v.report.Workers++
		if err := worker.ValidateName(name); err != nil {
			v.add("worker", name, "%v", err)
			continue
		}
		w, err := worker.Load(v.app.Project, name, worker.WithLogger(v.app.Logger))
		if err != nil {
			v.add("worker", name, "%v", err)
			continue
		}
		v.known[name] = true
		if lvl := w.Level(); lvl < 1 || lvl > worker.MaxLevel {
			v.add("worker", name, "level %d is outside 1-%d", lvl, worker.MaxLevel)
		}
		if len(v.app.Project.Charter.TierModels(w.Tier())) == 0 {
			v.add("worker", name, "no models configured for tier %q", w.Tier())
		}
	}
}

func (v *validator) workflows() {
	dir := v.app.Project.WorkflowsDir()
	files, err := pkgworkflow.Discover(dir)
	if err != nil {
		v.add("workflow", "", "discovering workflows: %v", err)
		return
	}
	for _, f := range files {
		v.report.Workflows++
		file := filepath.Join("workflows", f)
		wf, err := pkgworkflow.Load(filepath.Join(dir, f))
		if err != nil {
			v.add("workflow", file, "%v", err)
			continue
		}
		for _, n := range wf.Nodes {
			if n.Worker != worker.AutoWorker && !v.known[n.Worker] {
				v.add("workflow", file, "node %q uses unknown worker %q", n.ID, n.Worker)
			}
		}
	}
}

func (v *validator) tasks(ctx context.Context) error {
	tasks, err := v.app.Scheduler(nil).ListTasks(ctx)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		v.report.Tasks++
		if t.WorkerName != worker.AutoWorker && !v.known[t.WorkerName] {
			v.add("task", t.ID, "assigned to unknown worker %q", t.WorkerName)
		}
	}
	return nil
}

func printReport(cmd *cobra.Command, r Report) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Checked %d worker(s), %d workflow(s), %d scheduled task(s)\n",
		r.Workers, r.Workflows, r.Tasks)
	if len(r.Issues) == 0 {
		fmt.Fprintln(out, shared.RenderOK("No problems found"))
		return
	}
	fmt.Fprintln(out)
	for _, is := range r.Issues {
		label := is.Kind
		if is.Name != "" {
			label += " " + is.Name
		}
		fmt.Fprintln(out, shared.RenderError(label+": "+is.Message))
	}
}
