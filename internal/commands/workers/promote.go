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

	"github.com/spf13/cobra"

	"github.com/tombee/opencorp/internal/commands/completion"
	"github.com/tombee/opencorp/internal/commands/shared"
	"github.com/tombee/opencorp/internal/worker"
)

func newPromoteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "promote <name>",
		Short: "Raise a worker's level by one",
		Long: `Raise the worker's seniority level by one, up to 5. Higher levels are
routed to more capable model tiers and unlock more tools.`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteWorkers,
		RunE:              runPromote,
	}
}

func runPromote(cmd *cobra.Command, args []string) error {
	name := args[0]
	app, err := shared.OpenApp(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close()

	level, err := worker.Promote(app.Project, name)
	if err != nil {
		return err
	}
	app.Logger.Info("worker promoted", "worker", name, "level", level)

	w, err := worker.Load(app.Project, name, worker.WithLogger(app.Logger))
	if err != nil {
		return err
	}

	if shared.GetJSON() {
		return shared.EmitJSON(cmd.OutOrStdout(), map[string]any{
			"@version": "1.0", "command": "workers promote", "success": true,
			"worker": name, "level": level, "title": worker.Title(level), "tier": w.Tier(),
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK(fmt.Sprintf("%s is now %s (L%d, %s tier)", name, worker.Title(level), level, w.Tier())))
	return nil
}
