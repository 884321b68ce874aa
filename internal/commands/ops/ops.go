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

// Package ops provides commands for switching between registered projects.
package ops

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tombee/opencorp/internal/commands/shared"
	"github.com/tombee/opencorp/internal/registry"
	corperrors "github.com/tombee/opencorp/pkg/errors"
)

var createDir string

// NewCommand creates the ops command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ops",
		Short: "Manage registered operations",
		Long: `An operation is a named corp project directory. When a command runs
outside any project and without --project, the active operation is used.

The registry lives in ~/.open-corp, or $OPENCORP_HOME.`,
		Example: `  corp ops create acme
  corp ops switch acme
  corp ops list`,
		Annotations: map[string]string{"group": "setup"},
	}

	cmd.AddCommand(newCreateCommand())
	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newSwitchCommand())
	cmd.AddCommand(newActiveCommand())
	cmd.AddCommand(newRemoveCommand())
	return cmd
}

func newCreateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Register an operation",
		Long: `Register a project directory under a name. Without --dir a directory
called <name> is created in the working directory. Run 'corp init' there
to write its charter.`,
		Args: cobra.ExactArgs(1),
		RunE: runCreate,
	}
	cmd.Flags().StringVar(&createDir, "dir", "", "Use an existing directory instead of creating one")
	return cmd
}

func runCreate(cmd *cobra.Command, args []string) error {
	name := args[0]
	if err := registry.ValidateName(name); err != nil {
		return shared.NewInvalidInputError("", err)
	}
	dir := createDir
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("getting working directory: %w", err)
		}
		dir = filepath.Join(cwd, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	} else if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return shared.NewInvalidInputError(fmt.Sprintf("%s is not a directory", dir), err)
	}

	reg, err := registry.Default()
	if err != nil {
		return err
	}
	path, err := reg.Register(name, dir)
	if err != nil {
		return err
	}

	if shared.GetJSON() {
		return shared.EmitJSON(cmd.OutOrStdout(), map[string]any{
			"@version": "1.0", "command": "ops create", "success": true,
			"name": name, "path": path,
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK(fmt.Sprintf("Registered operation '%s' at %s", name, path)))
	return nil
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered operations",
		Long:  "List registered operations. The active one is marked with an asterisk (*).",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}
}

func runList(cmd *cobra.Command, args []string) error {
	reg, err := registry.Default()
	if err != nil {
		return err
	}
	ops := reg.List()
	out := cmd.OutOrStdout()

	if shared.GetJSON() {
		return shared.EmitJSON(out, map[string]any{
			"@version": "1.0", "command": "ops list", "success": true,
			"operations": ops,
		})
	}
	if len(ops) == 0 {
		fmt.Fprintln(out, shared.Muted.Render("No operations registered. Use: corp ops create <name>"))
		return nil
	}
	for _, op := range ops {
		marker := " "
		name := op.Name
		if op.Active {
			marker = shared.StatusOK.Render("*")
			name = shared.Bold.Render(name)
		}
		fmt.Fprintf(out, "%s %s  %s\n", marker, name, shared.Muted.Render(op.Path))
	}
	return nil
}

func newSwitchCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "switch <name>",
		Aliases: []string{"use"},
		Short:   "Make an operation active",
		Args:    cobra.ExactArgs(1),
		RunE:    runSwitch,
	}
}

func runSwitch(cmd *cobra.Command, args []string) error {
	reg, err := registry.Default()
	if err != nil {
		return err
	}
	if err := reg.SetActive(args[0]); err != nil {
		return notRegistered(err, args[0])
	}
	if shared.GetJSON() {
		return shared.EmitJSON(cmd.OutOrStdout(), map[string]any{
			"@version": "1.0", "command": "ops switch", "success": true, "active": args[0],
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK(fmt.Sprintf("Switched to '%s'", args[0])))
	return nil
}

func newActiveCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "active",
		Aliases: []string{"current"},
		Short:   "Show the active operation",
		Args:    cobra.NoArgs,
		RunE:    runActive,
	}
}

func runActive(cmd *cobra.Command, args []string) error {
	reg, err := registry.Default()
	if err != nil {
		return err
	}
	op, ok := reg.Active()
	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		resp := map[string]any{"@version": "1.0", "command": "ops active", "success": true, "active": nil}
		if ok {
			resp["active"] = op
		}
		return shared.EmitJSON(out, resp)
	}
	if !ok {
		fmt.Fprintln(out, shared.Muted.Render("No active operation. Use: corp ops switch <name>"))
		return nil
	}
	fmt.Fprintf(out, "%s: %s\n", op.Name, op.Path)
	return nil
}

func newRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Unregister an operation",
		Long:    "Remove an operation from the registry. The project directory is not touched.",
		Args:    cobra.ExactArgs(1),
		RunE:    runRemove,
	}
}

func runRemove(cmd *cobra.Command, args []string) error {
	reg, err := registry.Default()
	if err != nil {
		return err
	}
	if err := reg.Unregister(args[0]); err != nil {
		return notRegistered(err, args[0])
	}
	if shared.GetJSON() {
		return shared.EmitJSON(cmd.OutOrStdout(), map[string]any{
			"@version": "1.0", "command": "ops remove", "success": true, "name": args[0],
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK(fmt.Sprintf("Removed '%s' from registry", args[0])))
	return nil
}

func notRegistered(err error, name string) error {
	var nf *corperrors.NotFoundError
	if errors.As(err, &nf) {
		return shared.NewNotFoundError(fmt.Sprintf("operation '%s' is not registered (see 'corp ops list')", name), err)
	}
	return err
}
