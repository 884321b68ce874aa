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

// Package secrets implements the corp auth commands that manage the
// OpenRouter API key.
package secrets

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/opencorp/internal/commands/shared"
	internallog "github.com/tombee/opencorp/internal/log"
	"github.com/tombee/opencorp/internal/secrets"
)

// NewSecrets returns the resolver the auth commands use. Tests replace it.
var NewSecrets = secrets.Default

// NewCommand creates the auth command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "auth",
		Annotations: map[string]string{"group": "setup"},
		Short:       "Manage the OpenRouter API key",
		Long: `The API key is read from OPENROUTER_API_KEY (the environment or the
project's .env file), then from the system keychain, then from an encrypted
file in ~/.open-corp when OPENCORP_MASTER_KEY (or ~/.open-corp/master.key)
holds its passphrase.`,
	}
	cmd.AddCommand(newSetKeyCommand())
	cmd.AddCommand(newStatusCommand())
	return cmd
}

func newSetKeyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set-key",
		Short: "Store the OpenRouter API key in the keychain or encrypted file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p := shared.NewPrompter()
			if !p.IsInteractive() {
				return shared.NewInvalidInputError("set-key needs a terminal; set OPENROUTER_API_KEY in .env instead", nil)
			}
			key, err := p.Password(ctx, "OpenRouter API key:")
			if err != nil {
				return shared.NewExecutionError("reading key", err)
			}
			key = strings.TrimSpace(key)
			if key == "" {
				return shared.NewInvalidInputError("no key entered", nil)
			}

			r := NewSecrets()
			if err := r.Set(ctx, shared.APIKeySecret, key); err != nil {
				if errors.Is(err, secrets.ErrBackendUnavailable) {
					return shared.NewExecutionError("no system keychain available; set OPENCORP_MASTER_KEY to use the encrypted secrets file, or set OPENROUTER_API_KEY in .env", err)
				}
				return shared.NewExecutionError("storing key", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK("API key saved ("+internallog.SanitizeAPIKey(key)+")"))
			return nil
		},
	}
}

// Status is the JSON form of corp auth status.
type Status struct {
	shared.JSONResponse
	Configured bool   `json:"configured"`
	Source     string `json:"source,omitempty"`
	Key        string `json:"key,omitempty"`
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show where the API key comes from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r := NewSecrets()
			st := Status{JSONResponse: shared.JSONResponse{Version: "1.0", Command: "auth status", Success: true}}
			if key := r.Lookup(ctx, shared.APIKeySecret); key != "" {
				st.Configured = true
				st.Source = r.Source(ctx, shared.APIKeySecret)
				st.Key = internallog.SanitizeAPIKey(key)
			}

			if shared.GetJSON() {
				return shared.EmitJSON(cmd.OutOrStdout(), st)
			}
			out := cmd.OutOrStdout()
			if !st.Configured {
				fmt.Fprintln(out, shared.RenderWarn("No OpenRouter API key configured"))
				fmt.Fprintln(out, shared.Muted.Render("Set OPENROUTER_API_KEY in .env or run 'corp auth set-key'."))
				return nil
			}
			fmt.Fprintln(out, shared.RenderOK(fmt.Sprintf("API key %s from %s", st.Key, st.Source)))
			return nil
		},
	}
}
