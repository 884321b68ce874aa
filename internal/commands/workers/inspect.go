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

package workers

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/opencorp/internal/cli/format"
	"github.com/tombee/opencorp/internal/commands/completion"
	"github.com/tombee/opencorp/internal/commands/shared"
	"github.com/tombee/opencorp/internal/worker"
)

const recentMemory = 5

// InspectResponse is the JSON form of corp workers inspect.
type InspectResponse struct {
	shared.JSONResponse
	Name        string                    `json:"name"`
	Level       int                       `json:"level"`
	Title       string                    `json:"title"`
	Tier        string                    `json:"tier"`
	Role        string                    `json:"role"`
	Skills      []string                  `json:"skills"`
	Model       string                    `json:"model,omitempty"`
	Tools       []string                  `json:"tools,omitempty"`
	Profile     string                    `json:"profile"`
	Performance worker.PerformanceSummary `json:"performance"`
	Memory      []worker.MemoryEntry      `json:"recent_memory"`
}

func newInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:               "inspect <name>",
		Short:             "Show a worker's profile, skills, performance and recent memory",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteWorkers,
		RunE:              runInspect,
	}
}

func runInspect(cmd *cobra.Command, args []string) error {
	app, err := shared.OpenApp(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close()

	w, err := worker.Load(app.Project, args[0], worker.WithLogger(app.Logger))
	if err != nil {
		return err
	}

	mem := w.Memory
	if len(mem) > recentMemory {
		mem = mem[len(mem)-recentMemory:]
	}
	resp := InspectResponse{
		JSONResponse: shared.JSONResponse{Version: "1.0", Command: "workers inspect", Success: true},
		Name:         w.Name,
		Level:        w.Level(),
		Title:        worker.Title(w.Level()),
		Tier:         w.Tier(),
		Role:         w.Skills.Role,
		Skills:       w.Skills.Names(),
		Model:        w.Config.Model,
		Tools:        w.Config.Tools,
		Profile:      w.Profile,
		Performance:  w.Summary(),
		Memory:       mem,
	}
	if shared.GetJSON() {
		return shared.EmitJSON(cmd.OutOrStdout(), resp)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s  %s (L%d, %s tier)\n", shared.Header.Render(resp.Name), resp.Title, resp.Level, resp.Tier)
	fmt.Fprintf(out, "%s %s\n", shared.RenderLabel("Role:  "), resp.Role)
	fmt.Fprintf(out, "%s %s\n", shared.RenderLabel("Skills:"), strings.Join(resp.Skills, ", "))
	if resp.Model != "" {
		fmt.Fprintf(out, "%s %s\n", shared.RenderLabel("Model: "), resp.Model)
	}
	if len(resp.Tools) > 0 {
		fmt.Fprintf(out, "%s %s\n", shared.RenderLabel("Tools: "), strings.Join(resp.Tools, ", "))
	}

	perf := resp.Performance
	fmt.Fprintln(out)
	fmt.Fprintln(out, shared.Bold.Render("Performance"))
	fmt.Fprintf(out, "  %d tasks, %.0f%% successful, average rating %.2f (%d rated)",
		perf.TaskCount, perf.SuccessRate*100, perf.AvgRating, perf.RatedCount)
	if perf.Trend != 0 {
		fmt.Fprintf(out, ", trend %+.2f", perf.Trend)
	}
	fmt.Fprintln(out)

	if strings.TrimSpace(resp.Profile) != "" {
		fmt.Fprintln(out)
		fmt.Fprintln(out, format.Markdown(resp.Profile, format.IsTTY()))
	}

	if len(mem) > 0 {
		fmt.Fprintln(out, shared.Bold.Render("Recent memory"))
		for _, m := range mem {
			fmt.Fprintf(out, "  %s %s %s\n", shared.Muted.Render(m.Timestamp), shared.RenderLabel("["+m.Type+"]"), m.Content)
		}
	}
	return nil
}
