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
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestEnvBackend(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "sk-or-test")
	b := NewEnvBackend()

	v, err := b.Get(context.Background(), OpenRouterAPIKey)
	require.NoError(t, err)
	assert.Equal(t, "sk-or-test", v)

	_, err = b.Get(context.Background(), "definitely_not_set_anywhere")
	assert.ErrorIs(t, err, ErrSecretNotFound)
	assert.ErrorIs(t, b.Set(context.Background(), "k", "v"), ErrReadOnlyBackend)
}

func TestResolverPrefersEnvThenKeychain(t *testing.T) {
	keyring.MockInit()
	ctx := context.Background()

	t.Setenv("OPENROUTER_API_KEY", "")
	r := NewResolver(NewEnvBackend(), NewKeychainBackend())

	_, err := r.Get(ctx, OpenRouterAPIKey)
	assert.ErrorIs(t, err, ErrSecretNotFound)

	assert.Empty(t, r.Source(ctx, OpenRouterAPIKey))

	require.NoError(t, r.Set(ctx, OpenRouterAPIKey, "from-keychain"))
	assert.Equal(t, "from-keychain", r.Lookup(ctx, OpenRouterAPIKey))
	assert.Equal(t, "keychain", r.Source(ctx, OpenRouterAPIKey))

	t.Setenv("OPENROUTER_API_KEY", "from-env")
	assert.Equal(t, "from-env", r.Lookup(ctx, OpenRouterAPIKey))
	assert.Equal(t, "env", r.Source(ctx, OpenRouterAPIKey))
}

func TestResolverWithoutWritableBackend(t *testing.T) {
	r := NewResolver(NewEnvBackend())
	err := r.Set(context.Background(), WebhookAPIKey, "x")
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestFileBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "secrets.enc")
	b := NewFileBackend(path, "correct horse")
	require.True(t, b.Available())

	_, err := b.Get(ctx, OpenRouterAPIKey)
	assert.ErrorIs(t, err, ErrSecretNotFound)

	require.NoError(t, b.Set(ctx, OpenRouterAPIKey, "sk-or-file"))
	require.NoError(t, b.Set(ctx, WebhookAPIKey, "hook"))

	reopened := NewFileBackend(path, "correct horse")
	v, err := reopened.Get(ctx, OpenRouterAPIKey)
	require.NoError(t, err)
	assert.Equal(t, "sk-or-file", v)
	v, err = reopened.Get(ctx, WebhookAPIKey)
	require.NoError(t, err)
	assert.Equal(t, "hook", v)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "sk-or-file")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileBackendWrongKey(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "secrets.enc")
	require.NoError(t, NewFileBackend(path, "right").Set(ctx, OpenRouterAPIKey, "v"))

	_, err := NewFileBackend(path, "wrong").Get(ctx, OpenRouterAPIKey)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSecretNotFound)
	assert.Contains(t, err.Error(), "wrong master key")
}

func TestFileBackendMasterKeySources(t *testing.T) {
	home := t.TempDir()
	t.Setenv("OPENCORP_HOME", home)
	t.Setenv(MasterKeyEnv, "")

	b := NewFileBackend("", "")
	assert.False(t, b.Available())
	assert.Equal(t, filepath.Join(home, "secrets.enc"), b.Path())
	assert.ErrorIs(t, b.Set(context.Background(), "k", "v"), ErrBackendUnavailable)

	keyFile := filepath.Join(home, "master.key")
	require.NoError(t, os.WriteFile(keyFile, []byte("from-file\n"), 0o644))
	assert.False(t, NewFileBackend("", "").Available(), "world-readable key file is ignored")

	require.NoError(t, os.Chmod(keyFile, 0o600))
	assert.True(t, NewFileBackend("", "").Available())

	t.Setenv(MasterKeyEnv, "from-env")
	assert.True(t, NewFileBackend("", "").Available())
}

func TestResolverFallsBackToFile(t *testing.T) {
	ctx := context.Background()
	t.Setenv("OPENROUTER_API_KEY", "")
	file := NewFileBackend(filepath.Join(t.TempDir(), "secrets.enc"), "passphrase")
	r := NewResolver(NewEnvBackend(), &KeychainBackend{available: false}, file)

	require.NoError(t, r.Set(ctx, OpenRouterAPIKey, "stored"))
	assert.Equal(t, "stored", r.Lookup(ctx, OpenRouterAPIKey))
	assert.Equal(t, "file", r.Source(ctx, OpenRouterAPIKey))
}
