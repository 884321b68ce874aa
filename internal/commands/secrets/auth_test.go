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

package secrets

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/tombee/opencorp/internal/cli/prompt"
	"github.com/tombee/opencorp/internal/commands/shared"
	"github.com/tombee/opencorp/internal/secrets"
)

func setup(t *testing.T, p prompt.Prompter) {
	t.Helper()
	keyring.MockInit()
	t.Setenv("OPENROUTER_API_KEY", "")
	prevPrompter, prevSecrets := shared.NewPrompter, NewSecrets
	shared.NewPrompter = func() prompt.Prompter { return p }
	NewSecrets = func() *secrets.Resolver {
		return secrets.NewResolver(secrets.NewEnvBackend(), secrets.NewKeychainBackend())
	}
	t.Cleanup(func() {
		shared.NewPrompter, NewSecrets = prevPrompter, prevSecrets
		shared.SetJSONForTest(false)
	})
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestSetKeyThenStatus(t *testing.T) {
	setup(t, prompt.NewMockPrompter(true, "  sk-or-abcdefgh1234  "))

	out, err := run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "No OpenRouter API key configured")

	out, err = run(t, "set-key")
	require.NoError(t, err)
	assert.Contains(t, out, "API key saved (...1234)")

	shared.SetJSONForTest(true)
	out, err = run(t, "status")
	require.NoError(t, err)
	var st Status
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.True(t, st.Configured)
	assert.Equal(t, "keychain", st.Source)
	assert.Equal(t, "...1234", st.Key)
	assert.NotContains(t, out, "abcdefgh")
}

func TestStatusFromEnvironment(t *testing.T) {
	setup(t, prompt.NewMockPrompter(false))
	t.Setenv("OPENROUTER_API_KEY", "sk-or-fromenv9876")

	out, err := run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "API key ...9876 from env")
}

func TestSetKeyErrors(t *testing.T) {
	tests := []struct {
		name     string
		prompter *prompt.MockPrompter
	}{
		{"non-interactive", prompt.NewMockPrompter(false)},
		{"empty key", prompt.NewMockPrompter(true, "   ")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setup(t, tt.prompter)
			_, err := run(t, "set-key")
			require.Error(t, err)
			assert.Equal(t, shared.ExitInvalidInput, shared.ExitCode(err))
		})
	}
}
