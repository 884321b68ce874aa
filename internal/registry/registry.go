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

// Package registry keeps a name to directory mapping of corp projects
// ("operations") and remembers which one is active. Commands fall back to
// the active operation when no project is found from the working directory.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	corperrors "github.com/tombee/opencorp/pkg/errors"
)

// HomeEnv overrides the registry directory.
const HomeEnv = "OPENCORP_HOME"

const (
	registryFile = "registry.json"
	activeFile   = "active"
)

// Operation is one registered project.
type Operation struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Active bool   `json:"active"`
}

// Registry is backed by registry.json and a one-line active file in Dir.
type Registry struct {
	Dir string
	mu  sync.Mutex
}

// DefaultDir is $OPENCORP_HOME, or ~/.open-corp.
func DefaultDir() (string, error) {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("finding home directory: %w", err)
	}
	return filepath.Join(home, ".open-corp"), nil
}

// Default opens the registry in DefaultDir.
func Default() (*Registry, error) {
	dir, err := DefaultDir()
	if err != nil {
		return nil, err
	}
	return New(dir), nil
}

// New returns a registry stored in dir. Nothing is created until the
// first write.
func New(dir string) *Registry {
	return &Registry{Dir: dir}
}

// load treats a missing or corrupt registry as empty.
func (r *Registry) load() map[string]string {
	data, err := os.ReadFile(filepath.Join(r.Dir, registryFile))
	if err != nil {
		return map[string]string{}
	}
	var ops map[string]string
	if err := json.Unmarshal(data, &ops); err != nil || ops == nil {
		return map[string]string{}
	}
	return ops
}

func (r *Registry) save(ops map[string]string) error {
	if err := os.MkdirAll(r.Dir, 0o700); err != nil {
		return fmt.Errorf("creating registry directory: %w", err)
	}
	data, err := json.MarshalIndent(ops, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding registry: %w", err)
	}
	tmp := filepath.Join(r.Dir, registryFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing registry: %w", err)
	}
	return os.Rename(tmp, filepath.Join(r.Dir, registryFile))
}

// ValidateName rejects names that would be awkward on a command line.
func ValidateName(name string) error {
	if name == "" || strings.ContainsAny(name, " \t\n/\\") {
		return &corperrors.ValidationError{
			Field:      "name",
			Message:    fmt.Sprintf("invalid operation name %q", name),
			Suggestion: "Use letters, digits, '-' or '_'.",
		}
	}
	return nil
}

// Register adds or replaces name, storing path as an absolute path.
func (r *Registry) Register(name, path string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", path, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ops := r.load()
	ops[name] = abs
	return abs, r.save(ops)
}

// Unregister removes name and clears it as the active operation. Project
// files are left alone.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ops := r.load()
	if _, ok := ops[name]; !ok {
		return notFound(name)
	}
	delete(ops, name)
	if err := r.save(ops); err != nil {
		return err
	}
	if r.active() == name {
		if err := os.Remove(filepath.Join(r.Dir, activeFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("clearing active operation: %w", err)
		}
	}
	return nil
}

// List returns every operation sorted by name.
func (r *Registry) List() []Operation {
	r.mu.Lock()
	defer r.mu.Unlock()
	ops := r.load()
	active := r.active()
	out := make([]Operation, 0, len(ops))
	for name, path := range ops {
		out = append(out, Operation{Name: name, Path: path, Active: name == active})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Path returns the directory registered for name.
func (r *Registry) Path(name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	path, ok := r.load()[name]
	return path, ok
}

// SetActive marks name as the active operation.
func (r *Registry) SetActive(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.load()[name]; !ok {
		return notFound(name)
	}
	if err := os.MkdirAll(r.Dir, 0o700); err != nil {
		return fmt.Errorf("creating registry directory: %w", err)
	}
	return os.WriteFile(filepath.Join(r.Dir, activeFile), []byte(name+"\n"), 0o600)
}

// Active returns the active operation, if one is set and still registered.
func (r *Registry) Active() (Operation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := r.active()
	if name == "" {
		return Operation{}, false
	}
	path, ok := r.load()[name]
	if !ok {
		return Operation{}, false
	}
	return Operation{Name: name, Path: path, Active: true}, true
}

func (r *Registry) active() string {
	data, err := os.ReadFile(filepath.Join(r.Dir, activeFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func notFound(name string) error {
	return &corperrors.NotFoundError{Resource: "operation", ID: name}
}
