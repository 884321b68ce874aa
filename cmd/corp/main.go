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

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tombee/opencorp/internal/cli"
	"github.com/tombee/opencorp/internal/commands/chat"
	"github.com/tombee/opencorp/internal/commands/completion"
	daemoncmd "github.com/tombee/opencorp/internal/commands/daemon"
	"github.com/tombee/opencorp/internal/commands/diagnostics"
	"github.com/tombee/opencorp/internal/commands/management"
	"github.com/tombee/opencorp/internal/commands/mcpserver"
	"github.com/tombee/opencorp/internal/commands/model"
	"github.com/tombee/opencorp/internal/commands/ops"
	"github.com/tombee/opencorp/internal/commands/schedule"
	"github.com/tombee/opencorp/internal/commands/secrets"
	"github.com/tombee/opencorp/internal/commands/setup"
	"github.com/tombee/opencorp/internal/commands/status"
	"github.com/tombee/opencorp/internal/commands/validate"
	versioncmd "github.com/tombee/opencorp/internal/commands/version"
	webhookcmd "github.com/tombee/opencorp/internal/commands/webhook"
	"github.com/tombee/opencorp/internal/commands/workers"
	"github.com/tombee/opencorp/internal/commands/workflow"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildDate)

	rootCmd := cli.NewRootCommand()

	// Project setup
	rootCmd.AddCommand(setup.NewCommand())
	rootCmd.AddCommand(ops.NewCommand())
	rootCmd.AddCommand(secrets.NewCommand())
	rootCmd.AddCommand(model.NewCommand())
	rootCmd.AddCommand(completion.NewCommand())

	// Company overview
	rootCmd.AddCommand(status.NewStatusCommand())
	rootCmd.AddCommand(status.NewBudgetCommand())
	rootCmd.AddCommand(workers.NewCommand())

	// Work
	rootCmd.AddCommand(chat.NewCommand())
	rootCmd.AddCommand(chat.NewDelegateCommand())
	rootCmd.AddCommand(workflow.NewCommand())

	// Automation
	rootCmd.AddCommand(schedule.NewCommand())
	rootCmd.AddCommand(daemoncmd.NewCommand())
	rootCmd.AddCommand(webhookcmd.NewCommand())
	rootCmd.AddCommand(mcpserver.NewCommand())

	// Management
	rootCmd.AddCommand(management.NewEventsCommand())
	rootCmd.AddCommand(management.NewHousekeepCommand())
	rootCmd.AddCommand(validate.NewCommand())
	rootCmd.AddCommand(diagnostics.NewDoctorCommand())

	rootCmd.AddCommand(versioncmd.NewVersionCommand())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		cli.HandleExitError(err)
	}
}
