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

package webhook

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixtureNow = time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)

func TestIssueAndParseToken(t *testing.T) {
	token, err := IssueToken(testKey, "ci", []string{ScopeWorkflow}, 10*time.Minute, fixtureNow)
	require.NoError(t, err)

	claims, err := ParseToken(testKey, token, func() time.Time { return fixtureNow.Add(5 * time.Minute) })
	require.NoError(t, err)
	assert.Equal(t, "ci", claims.Subject)
	assert.Equal(t, TokenIssuer, claims.Issuer)
	assert.True(t, claims.Allows(ScopeWorkflow))
	assert.False(t, claims.Allows(ScopeTask))
}

func TestParseTokenRejects(t *testing.T) {
	good, err := IssueToken(testKey, "ci", nil, time.Minute, fixtureNow)
	require.NoError(t, err)
	otherKey, err := IssueToken("other-key", "ci", nil, time.Minute, fixtureNow)
	require.NoError(t, err)

	tests := []struct {
		name  string
		key   string
		token string
		at    time.Time
	}{
		{"expired", testKey, good, fixtureNow.Add(time.Hour)},
		{"wrong key", testKey, otherKey, fixtureNow},
		{"garbage", testKey, "a.b.c", fixtureNow},
		{"no key", "", good, fixtureNow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseToken(tt.key, tt.token, func() time.Time { return tt.at })
			assert.Error(t, err)
		})
	}
}

func TestIssueTokenValidation(t *testing.T) {
	_, err := IssueToken("", "ci", nil, time.Minute, fixtureNow)
	assert.Error(t, err)
	_, err = IssueToken(testKey, "ci", []string{"admin"}, time.Minute, fixtureNow)
	assert.ErrorContains(t, err, "unknown scope")
}

func TestTokenAuthScopes(t *testing.T) {
	all, err := IssueToken(testKey, "ci", nil, time.Minute, fixtureNow)
	require.NoError(t, err)
	eventsOnly, err := IssueToken(testKey, "ci", []string{ScopeEvents}, time.Minute, fixtureNow)
	require.NoError(t, err)
	expired, err := IssueToken(testKey, "ci", nil, time.Minute, fixtureNow.Add(-time.Hour))
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		token  string
		status int
	}{
		{"unscoped token posts events", http.MethodPost, "/events", `{"type":"ping"}`, all, http.StatusOK},
		{"unscoped token reads metrics", http.MethodGet, "/metrics", "", all, http.StatusOK},
		{"scoped token posts events", http.MethodPost, "/events", `{"type":"ping"}`, eventsOnly, http.StatusOK},
		{"scoped token denied metrics", http.MethodGet, "/metrics", "", eventsOnly, http.StatusForbidden},
		{"expired token", http.MethodPost, "/events", `{"type":"ping"}`, expired, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{APIKey: testKey})
			rec := f.do(tt.method, tt.path, tt.body, tt.token)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}
