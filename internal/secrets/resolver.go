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
	"errors"
	"fmt"
)

// Resolver queries backends in order and returns the first hit.
type Resolver struct {
	backends []Backend
}

// NewResolver keeps only the available backends, in the order given.
func NewResolver(backends ...Backend) *Resolver {
	available := make([]Backend, 0, len(backends))
	for _, b := range backends {
		if b.Available() {
			available = append(available, b)
		}
	}
	return &Resolver{backends: available}
}

// Default resolves from the environment, then the keychain, then the
// encrypted file. Set goes to the keychain when it exists, else the file.
func Default() *Resolver {
	return NewResolver(NewEnvBackend(), NewKeychainBackend(), NewFileBackend("", ""))
}

// Get returns the first value found. Backend errors other than not-found are
// remembered and returned only when no backend has the key.
func (r *Resolver) Get(ctx context.Context, key string) (string, error) {
	var lastErr error
	for _, b := range r.backends {
		value, err := b.Get(ctx, key)
		if err == nil {
			return value, nil
		}
		if !errors.Is(err, ErrSecretNotFound) {
			lastErr = err
		}
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
}

// Lookup is Get with errors folded into an empty result.
func (r *Resolver) Lookup(ctx context.Context, key string) string {
	value, _ := r.Get(ctx, key)
	return value
}

// Set writes to the first backend that accepts writes.
func (r *Resolver) Set(ctx context.Context, key, value string) error {
	for _, b := range r.backends {
		err := b.Set(ctx, key, value)
		if errors.Is(err, ErrReadOnlyBackend) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%s: %w", b.Name(), err)
		}
		return nil
	}
	return fmt.Errorf("%w: no writable secret backend", ErrBackendUnavailable)
}

// Source returns the name of the first backend holding key, or "".
func (r *Resolver) Source(ctx context.Context, key string) string {
	for _, b := range r.backends {
		if _, err := b.Get(ctx, key); err == nil {
			return b.Name()
		}
	}
	return ""
}
