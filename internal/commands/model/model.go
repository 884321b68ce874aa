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

// Package model implements the corp models commands: the pricing cache and
// the charter's tier assignments.
package model

import (
	"github.com/spf13/cobra"
)

// NewCommand creates the models command group. Without a subcommand it
// lists the tier models.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "models",
		Aliases:     []string{"model"},
		Annotations: map[string]string{"group": "setup"},
		Short:       "Show model tiers and refresh pricing",
		Long: `Models are grouped into the cheap, mid and premium tiers configured in
charter.yaml. Prices come from the cached OpenRouter catalogue in
data/model_pricing.json; refresh it with 'corp models refresh'.`,
		Args: cobra.NoArgs,
		RunE: runList,
	}
	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newRefreshCommand())
	return cmd
}
