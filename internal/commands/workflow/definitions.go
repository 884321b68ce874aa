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
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tombee/opencorp/internal/commands/shared"
	pkgworkflow "github.com/tombee/opencorp/pkg/workflow"
)

// Definition is one discovered workflow file.
type Definition struct {
	File        string `json:"file"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Nodes       int    `json:"nodes"`
	Error       string `json:"error,omitempty"`
}

func newDefinitionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "definitions",
		Aliases: []string{"defs"},
		Short:   "List workflow files in the project",
		Args:    cobra.NoArgs,
		RunE:    runDefinitions,
	}
}

func runDefinitions(cmd *cobra.Command, args []string) error {
	app, err := shared.OpenApp(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close()

	files, err := pkgworkflow.Discover(app.Project.WorkflowsDir())
	if err != nil {
		return shared.NewExecutionError("discovering workflows", err)
	}
	defs := make([]Definition, 0, len(files))
	for _, f := range files {
		d := Definition{File: filepath.Join("workflows", f)}
		wf, err := pkgworkflow.Load(filepath.Join(app.Project.WorkflowsDir(), f))
		if err != nil {
			d.Error = err.Error()
		} else {
			d.Name, d.Description, d.Nodes = wf.Name, wf.Description, len(wf.Nodes)
		}
		defs = append(defs, d)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(cmd.OutOrStdout(), map[string]any{
			"@version": "1.0", "command": "workflow definitions", "success": true, "workflows": defs,
		})
	}
	out := cmd.OutOrStdout()
	if len(defs) == 0 {
		fmt.Fprintln(out, "No workflows in workflows/.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tNAME\tNODES\tDESCRIPTION")
	for _, d := range defs {
		if d.Error != "" {
			fmt.Fprintf(w, "%s\t%s\t-\t%s\n", d.File, shared.StatusError.Render("invalid"), d.Error)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", d.File, d.Name, d.Nodes, d.Description)
	}
	return w.Flush()
}
