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

package completion

import (
	"github.com/spf13/cobra"

	"github.com/tombee/opencorp/internal/commands/shared"
	"github.com/tombee/opencorp/internal/config"
)

// loadProject resolves the project the same way commands do. Completion
// never reports errors, so callers treat a nil project as "no suggestions".
func loadProject() *config.Project {
	dir, err := shared.ProjectDir()
	if err != nil {
		return nil
	}
	p, err := config.Load(dir)
	if err != nil {
		return nil
	}
	return p
}

// SafeCompletionWrapper wraps completion functions with panic recovery.
// Returns empty completion on panic, never crashing the shell.
func SafeCompletionWrapper(fn func() ([]string, cobra.ShellCompDirective)) (results []string, directive cobra.ShellCompDirective) {
	results = []string{}
	directive = cobra.ShellCompDirectiveNoFileComp

	defer func() {
		if r := recover(); r != nil {
			results = []string{}
			directive = cobra.ShellCompDirectiveNoFileComp
		}
	}()

	results, directive = fn()
	if results == nil {
		return []string{}, cobra.ShellCompDirectiveNoFileComp
	}
	return results, directive
}
