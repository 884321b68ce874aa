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
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/opencorp/internal/commands/shared"
)

var (
	listAll    bool
	listSearch string
)

// ModelInfo is one row of corp models list.
type ModelInfo struct {
	ID                   string  `json:"id"`
	Tier                 string  `json:"tier,omitempty"`
	Priced               bool    `json:"priced"`
	PromptPerMillion     float64 `json:"prompt_per_million"`
	CompletionPerMillion float64 `json:"completion_per_million"`
}

// ListResponse is the JSON form of corp models list.
type ListResponse struct {
	shared.JSONResponse
	Models        []ModelInfo `json:"models"`
	PricesUpdated *time.Time  `json:"prices_updated,omitempty"`
	Warning       string      `json:"warning,omitempty"`
}

func newListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tier models with their prices",
		Example: `  corp models list
  corp models list --all --search claude`,
		Args: cobra.NoArgs,
		RunE: runList,
	}
	cmd.Flags().BoolVar(&listAll, "all", false, "Include every model in the pricing cache")
	cmd.Flags().StringVar(&listSearch, "search", "", "Only models whose id contains this text")
	return cmd
}

func runList(cmd *cobra.Command, args []string) error {
	app, err := shared.OpenApp(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close()

	charter := app.Project.Charter
	var models []ModelInfo
	seen := make(map[string]bool)
	add := func(id, tier string) {
		if seen[id] || (listSearch != "" && !strings.Contains(strings.ToLower(id), strings.ToLower(listSearch))) {
			return
		}
		seen[id] = true
		m := ModelInfo{ID: id, Tier: tier}
		if p, ok := app.Pricing.Lookup(id); ok {
			m.Priced = true
			m.PromptPerMillion, m.CompletionPerMillion = p.PromptPerMillion, p.CompletionPerMillion
		}
		models = append(models, m)
	}
	for _, tier := range charter.TierNames() {
		for _, id := range charter.TierModels(tier) {
			add(id, tier)
		}
	}
	if listAll {
		for _, id := range app.Pricing.Models() {
			add(id, "")
		}
	}

	warning := app.Pricing.StalenessWarning()
	if shared.GetJSON() {
		resp := ListResponse{
			JSONResponse: shared.JSONResponse{Version: "1.0", Command: "models list", Success: true},
			Models:       models,
			Warning:      warning,
		}
		if resp.Models == nil {
			resp.Models = []ModelInfo{}
		}
		if updated := app.Pricing.UpdatedAt(); !updated.IsZero() {
			resp.PricesUpdated = &updated
		}
		return shared.EmitJSON(cmd.OutOrStdout(), resp)
	}

	out := cmd.OutOrStdout()
	if len(models) == 0 {
		fmt.Fprintln(out, "No models match.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tTIER\tPROMPT $/M\tCOMPLETION $/M")
	for _, m := range models {
		tier := m.Tier
		if tier == "" {
			tier = "-"
		}
		prompt, completion := "-", "-"
		if m.Priced {
			prompt = fmt.Sprintf("%.4f", m.PromptPerMillion)
			completion = fmt.Sprintf("%.4f", m.CompletionPerMillion)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.ID, tier, prompt, completion)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if warning != "" {
		fmt.Fprintln(out)
		fmt.Fprintln(out, shared.RenderWarn(warning))
	}
	return nil
}
