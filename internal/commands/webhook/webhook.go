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

// Package webhook implements the corp webhook commands.
package webhook

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/opencorp/internal/commands/shared"
	"github.com/tombee/opencorp/internal/webhook"
	corperrors "github.com/tombee/opencorp/pkg/errors"
)

var (
	startHost string
	startPort int

	tokenSubject string
	tokenScopes  []string
	tokenTTL     time.Duration
)

// NewCommand creates the webhook command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "webhook",
		Annotations: map[string]string{"group": "automation"},
		Short:       "Accept workflow, task and event triggers over HTTP",
	}
	cmd.AddCommand(newStartCommand())
	cmd.AddCommand(newKeygenCommand())
	cmd.AddCommand(newTokenCommand())
	return cmd
}

func newStartCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the webhook server",
		Long: `Serve the webhook API until interrupted:

  GET  /health              no authentication
  GET  /metrics             Prometheus metrics
  POST /trigger/workflow    {"workflow_file": "workflows/x.yaml"}
  POST /trigger/task        {"worker": "alice", "message": "...", "run_at": "..."}
  POST /events              {"type": "...", "data": {...}}

Every route except /health requires "Authorization: Bearer $WEBHOOK_API_KEY"
or a short-lived token from 'corp webhook token'. Tokens may be limited to
the workflow, task, events and metrics scopes.
Tasks created through /trigger/task are run by the daemon.`,
		Example: `  export WEBHOOK_API_KEY=$(corp webhook keygen | cut -d= -f2)
  corp webhook start --port 9000`,
		Args: cobra.NoArgs,
		RunE: runStart,
	}
	cmd.Flags().StringVar(&startHost, "host", "127.0.0.1", "Address to bind")
	cmd.Flags().IntVar(&startPort, "port", 8080, "Port to bind")
	return cmd
}

func requireKey() (string, error) {
	key := os.Getenv(webhook.APIKeyEnv)
	if key == "" {
		return "", &corperrors.ConfigError{
			Key:        webhook.APIKeyEnv,
			Reason:     "webhook API key is not set",
			Suggestion: "Run 'corp webhook keygen' and export the printed variable.",
		}
	}
	return key, nil
}

func runStart(cmd *cobra.Command, args []string) error {
	if _, err := requireKey(); err != nil {
		return err
	}
	if startPort <= 0 || startPort > 65535 {
		return shared.NewInvalidInputError(fmt.Sprintf("invalid port %d", startPort), nil)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := shared.OpenApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	runner, err := app.Runner(ctx)
	if err != nil {
		return err
	}
	srv := webhook.New(app.Project, webhook.ConfigFromProject(app.Project), app.Engine(runner), app.Events,
		webhook.WithScheduler(app.Scheduler(nil)),
		webhook.WithLogger(app.Logger),
	)

	addr := net.JoinHostPort(startHost, strconv.Itoa(startPort))
	fmt.Fprintf(cmd.OutOrStdout(), "Webhook server for %s on http://%s. Press Ctrl+C to stop.\n", app.Project.Charter.Name, addr)
	if err := srv.ListenAndServe(ctx, addr); err != nil {
		return shared.NewExecutionError("webhook server failed", err)
	}
	return nil
}

func newKeygenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a webhook API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := webhook.GenerateKey()
			if err != nil {
				return shared.NewExecutionError("generating key", err)
			}
			if shared.GetJSON() {
				return shared.EmitJSON(cmd.OutOrStdout(), map[string]any{
					"@version": "1.0", "command": "webhook keygen", "success": true, "key": key,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", webhook.APIKeyEnv, key)
			return nil
		},
	}
}

func newTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a short-lived bearer token signed with the webhook API key",
		Long: `Print a signed token that the webhook server accepts in place of the raw
API key until it expires. Without --scope the token may call every route.

Scopes: ` + strings.Join(webhook.Scopes, ", "),
		Example: `  corp webhook token --subject ci --scope workflow --ttl 15m`,
		Args:    cobra.NoArgs,
		RunE:    runToken,
	}
	cmd.Flags().StringVar(&tokenSubject, "subject", "cli", "Who the token is for; logged on scope failures")
	cmd.Flags().StringSliceVar(&tokenScopes, "scope", nil, "Limit the token to these scopes (repeatable)")
	cmd.Flags().DurationVar(&tokenTTL, "ttl", webhook.DefaultTokenTTL, "How long the token stays valid")
	return cmd
}

func runToken(cmd *cobra.Command, args []string) error {
	key, err := requireKey()
	if err != nil {
		return err
	}
	if tokenTTL <= 0 {
		return shared.NewInvalidInputError(fmt.Sprintf("invalid ttl %s", tokenTTL), nil)
	}
	now := time.Now()
	token, err := webhook.IssueToken(key, tokenSubject, tokenScopes, tokenTTL, now)
	if err != nil {
		return shared.NewInvalidInputError(err.Error(), err)
	}
	expires := now.Add(tokenTTL).UTC().Format(time.RFC3339)
	if shared.GetJSON() {
		return shared.EmitJSON(cmd.OutOrStdout(), map[string]any{
			"@version": "1.0", "command": "webhook token", "success": true,
			"token": token, "expires_at": expires, "scopes": tokenScopes,
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
