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

// Package workflow implements the corp workflow command group.
package workflow

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tombee/opencorp/internal/commands/shared"
	"github.com/tombee/opencorp/internal/config"
	pkgworkflow "github.com/tombee/opencorp/pkg/workflow"
)

// NewCommand creates the workflow command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "workflow",
		Aliases:     []string{"wf"},
		Annotations: map[string]string{"group": "workflow"},
		Short:       "Run and inspect multi-worker workflows",
		Long: `Workflows are YAML files describing a graph of worker tasks. Nodes
without dependencies on each other run concurrently; a node can use an
earlier node's result with {node_id.output}.`,
	}

	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newStatusCommand())
	cmd.AddCommand(newDefinitionsCommand())

	return cmd
}

// resolvePath finds a workflow file given a path or a name under the
// project's workflows directory.
func resolvePath(p *config.Project, ref string) (string, error) {
	candidates := []string{ref}
	if !filepath.IsAbs(ref) {
		candidates = append(candidates, filepath.Join(p.Dir, ref))
		for _, ext := range []string{"", ".yaml", ".yml"} {
			candidates = append(candidates, filepath.Join(p.WorkflowsDir(), ref+ext))
		}
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, nil
		}
	}
	return "", shared.NewNotFoundError(fmt.Sprintf("workflow %q not found", ref), nil)
}

func statusSymbol(status string) string {
	switch status {
	case pkgworkflow.StatusCompleted:
		return shared.StatusOK.Render(shared.SymbolOK)
	case pkgworkflow.StatusFailed:
		return shared.StatusError.Render(shared.SymbolError)
	case pkgworkflow.StatusSkipped:
		return shared.Muted.Render("-")
	default:
		return shared.StatusInfo.Render(shared.SymbolInfo)
	}
}

// printRun writes node results in order. order may be nil, in which case
// results are listed by node id.
func printRun(out io.Writer, run *pkgworkflow.Run, order []string, full bool) {
	fmt.Fprintf(out, "%s %s  %s\n", shared.Header.Render(run.WorkflowName), shared.Muted.Render(run.ID), shared.RenderRunStatus(run.Status))
	fmt.Fprintf(out, "%s %s\n", shared.RenderLabel("Started:  "), run.StartedAt)
	if run.CompletedAt != "" {
		fmt.Fprintf(out, "%s %s\n", shared.RenderLabel("Completed:"), run.CompletedAt)
	}
	if order == nil {
		order = sortedKeys(run.NodeResults)
	}

	fmt.Fprintln(out)
	for _, id := range order {
		res, ok := run.NodeResults[id]
		if !ok {
			continue
		}
		fmt.Fprintf(out, "%s %s %s\n", statusSymbol(res.Status), shared.Bold.Render(id), shared.Muted.Render(res.Status))
		switch {
		case res.Error != "":
			fmt.Fprintf(out, "    %s\n", shared.StatusError.Render(res.Error))
		case res.Output != "":
			fmt.Fprintf(out, "    %s\n", indent(preview(res.Output, full)))
		}
	}
}
