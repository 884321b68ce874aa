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
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenIssuer is the iss claim of tokens minted by IssueToken.
const TokenIssuer = "opencorp"

// DefaultTokenTTL applies when IssueToken is given a zero ttl.
const DefaultTokenTTL = time.Hour

// Route scopes. A token without scopes may call every authenticated route;
// the raw API key always may.
const (
	ScopeWorkflow = "workflow"
	ScopeTask     = "task"
	ScopeEvents   = "events"
	ScopeMetrics  = "metrics"
)

// Scopes lists every scope a token may carry.
var Scopes = []string{ScopeWorkflow, ScopeTask, ScopeEvents, ScopeMetrics}

// Claims are carried by short-lived webhook tokens.
type Claims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scopes,omitempty"`
}

// Allows reports whether the token may call a route with scope.
func (c *Claims) Allows(scope string) bool {
	return len(c.Scopes) == 0 || slices.Contains(c.Scopes, scope)
}

// IssueToken signs an HS256 token with the webhook API key.
func IssueToken(key, subject string, scopes []string, ttl time.Duration, now time.Time) (string, error) {
	if key == "" {
		return "", errors.New("no signing key configured")
	}
	for _, s := range scopes {
		if !slices.Contains(Scopes, s) {
			return "", fmt.Errorf("unknown scope %q", s)
		}
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    TokenIssuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Scopes: scopes,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ParseToken validates signature, issuer and expiry against now.
func ParseToken(key, token string, now func() time.Time) (*Claims, error) {
	if key == "" {
		return nil, errors.New("no signing key configured")
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(now),
		jwt.WithLeeway(30*time.Second),
	)
	claims := &Claims{}
	if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(key), nil
	}); err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return claims, nil
}
