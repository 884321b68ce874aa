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

package model

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tombee/opencorp/internal/commands/shared"
)

func newRefreshCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Download current model prices from OpenRouter",
		Long: `Fetch the OpenRouter model catalogue and cache per-million-token prices
in data/model_pricing.json. No API key is needed. On failure the cached
prices stay in effect.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := shared.OpenApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			provider, err := app.Provider(ctx, false)
			if err != nil {
				return err
			}

			spinner := shared.NewSpinner()
			spinner.Start("Fetching model catalogue")
			n, err := app.Pricing.Refresh(ctx, provider)
			spinner.Stop()
			if err != nil {
				return shared.NewExecutionError("refreshing prices", err)
			}

			if shared.GetJSON() {
				return shared.EmitJSON(cmd.OutOrStdout(), map[string]any{
					"@version": "1.0", "command": "models refresh", "success": true,
					"models": n, "updated_at": app.Pricing.UpdatedAt(),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK(fmt.Sprintf("Cached prices for %d models", n)))
			return nil
		},
	}
}
