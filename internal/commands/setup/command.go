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

// Package setup provides corp init, which scaffolds a new project.
package setup

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tombee/opencorp/internal/commands/shared"
	"github.com/tombee/opencorp/internal/config"
	"github.com/tombee/opencorp/internal/registry"
)

var (
	initName       string
	initOwner      string
	initMission    string
	initDailyLimit float64
	initForce      bool
	initNoRegister bool
	initAccessible bool
)

// NewCommand creates the init command.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Create a new project",
		Long: `Write charter.yaml and .env and create the workers/, workflows/,
templates/ and data/ directories. The directory defaults to --project or
the working directory.

Missing answers are asked for interactively. In non-interactive mode
--name, --owner and --mission are required. The new project is registered
as an operation named after the project unless --no-register is set.

Use --accessible for plain text prompts, or set OPENCORP_ACCESSIBLE=1.`,
		Example: `  corp init
  corp init ./acme --name Acme --owner Jo --mission "Ship things" --daily-limit 5`,
		Annotations: map[string]string{"group": "setup"},
		Args:        cobra.MaximumNArgs(1),
		RunE:        runInit,
	}
	cmd.Flags().StringVar(&initName, "name", "", "Project name")
	cmd.Flags().StringVar(&initOwner, "owner", "", "Owner name")
	cmd.Flags().StringVar(&initMission, "mission", "", "Mission statement")
	cmd.Flags().Float64Var(&initDailyLimit, "daily-limit", DefaultDailyLimit, "Daily budget in USD")
	cmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing charter.yaml")
	cmd.Flags().BoolVar(&initNoRegister, "no-register", false, "Do not register the project as an operation")
	cmd.Flags().BoolVar(&initAccessible, "accessible", false, "Use plain text prompts instead of the TUI")
	return cmd
}

func runInit(cmd *cobra.Command, args []string) error {
	dir, err := targetDir(args)
	if err != nil {
		return err
	}
	interactive := shared.NewPrompter().IsInteractive()
	accessible := shouldUseAccessibleMode(initAccessible)

	overwrite := initForce
	charterPath := filepath.Join(dir, config.CharterFile)
	if _, err := os.Stat(charterPath); err == nil && !overwrite {
		if !interactive {
			return shared.NewInvalidInputError(charterPath+" already exists (use --force to overwrite)", nil)
		}
		ok, err := confirmOverwrite(charterPath, accessible)
		if err != nil {
			return err
		}
		if !ok {
			return &shared.ExitError{Code: shared.ExitInvalidInput, Message: "aborted"}
		}
		overwrite = true
	}

	answers := Answers{Name: initName, Owner: initOwner, Mission: initMission, DailyLimit: initDailyLimit}
	if answers.Validate() != nil {
		if !interactive {
			return shared.NewInvalidInputError("--name, --owner and --mission are required in non-interactive mode", nil)
		}
		if err := runForm(&answers, accessible); err != nil {
			return err
		}
	}
	answers.APIKey = strings.TrimSpace(answers.APIKey)

	created, err := Scaffold(dir, answers, overwrite)
	if err != nil {
		return shared.NewInvalidInputError("", err)
	}

	logger := shared.NewLogger()
	registered := ""
	if !initNoRegister {
		registered = registerOperation(answers.Name, dir)
		if registered == "" {
			logger.Warn("could not register operation", "name", answers.Name, "dir", dir)
		}
	}
	logger.Debug("project initialized", "dir", dir, "name", answers.Name)

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		return shared.EmitJSON(out, map[string]any{
			"@version": "1.0", "command": "init", "success": true,
			"dir": dir, "created": created, "operation": registered,
		})
	}

	if answers.APIKey != "" && !strings.HasPrefix(answers.APIKey, "sk-or-") {
		fmt.Fprintln(out, shared.RenderWarn("API key does not start with 'sk-or-'"))
	}
	lines := []string{
		fmt.Sprintf("Project '%s' initialized in %s", answers.Name, dir),
		"Created: " + strings.Join(created, ", "),
		"API key: " + MaskCredential(answers.APIKey),
	}
	if registered != "" {
		lines = append(lines, "Operation: "+registered)
	}
	fmt.Fprintln(out, BoxStyle.Render(strings.Join(lines, "\n")))
	if answers.APIKey == "" {
		fmt.Fprintln(out, shared.Muted.Render("Next: corp auth set-key"))
	}
	return nil
}

func targetDir(args []string) (string, error) {
	dir := shared.GetProjectFlag()
	if len(args) == 1 {
		dir = args[0]
	}
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("getting working directory: %w", err)
		}
		dir = cwd
	}
	return filepath.Abs(dir)
}

// registerOperation is best effort. Returns the registered name, or "".
func registerOperation(project, dir string) string {
	name := strings.ToLower(strings.Join(strings.Fields(project), "-"))
	if registry.ValidateName(name) != nil {
		return ""
	}
	reg, err := registry.Default()
	if err != nil {
		return ""
	}
	if _, err := reg.Register(name, dir); err != nil {
		return ""
	}
	return name
}

// shouldUseAccessibleMode is true for --accessible, OPENCORP_ACCESSIBLE=1
// or when stdin is not a terminal.
func shouldUseAccessibleMode(flagValue bool) bool {
	if flagValue {
		return true
	}
	if os.Getenv("OPENCORP_ACCESSIBLE") == "1" {
		return true
	}
	return !term.IsTerminal(int(os.Stdin.Fd()))
}
