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
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/tombee/opencorp/internal/commands/shared"
	"github.com/tombee/opencorp/internal/worker"
)

var (
	hireRole        string
	hireDescription string
)

// hireForm asks for the role and description. Replaced in tests.
var hireForm = func(name string) (role, description string, err error) {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Role").
				Description("What does " + name + " do? Used for skill matching.").
				Validate(func(s string) error {
					if s == "" {
						return errors.New("role is required")
					}
					return nil
				}).
				Value(&role),
			huh.NewText().
				Title("Description").
				Description("Written into the worker's profile").
				Value(&description),
		),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return "", "", shared.NewInvalidInputError("hire cancelled", err)
		}
		return "", "", fmt.Errorf("form cancelled: %w", err)
	}
	return role, description, nil
}

func newHireCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hire <name>",
		Short: "Hire a new worker",
		Long: `Create workers/<name> with a profile, skills and a config at the
charter's starting level. Without --role an interactive form asks for it.`,
		Example: `  corp workers hire alice --role writer --description "Writes the blog"`,
		Args:    cobra.ExactArgs(1),
		RunE:    runHire,
	}
	cmd.Flags().StringVar(&hireRole, "role", "", "Worker role")
	cmd.Flags().StringVar(&hireDescription, "description", "", "Profile description")
	return cmd
}

func runHire(cmd *cobra.Command, args []string) error {
	name := args[0]
	if err := worker.ValidateName(name); err != nil {
		return shared.NewInvalidInputError("", err)
	}

	app, err := shared.OpenApp(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close()

	role, description := hireRole, hireDescription
	if role == "" {
		if !shared.NewPrompter().IsInteractive() {
			return shared.NewInvalidInputError("--role is required in non-interactive mode", nil)
		}
		if role, description, err = hireForm(name); err != nil {
			return err
		}
	}

	if err := worker.Hire(app.Project, name, role, description); err != nil {
		return shared.NewInvalidInputError("", err)
	}
	app.Logger.Info("worker hired", "worker", name, "role", role)

	if shared.GetJSON() {
		return shared.EmitJSON(cmd.OutOrStdout(), map[string]any{
			"@version": "1.0", "command": "workers hire", "success": true,
			"worker": name, "role": role, "level": app.Project.Charter.WorkerDefaults.StartingLevel,
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK(fmt.Sprintf("Hired %s as %s", name, role)))
	return nil
}
