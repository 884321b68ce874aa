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

package worker

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tombee/opencorp/internal/config"
	corperrors "github.com/tombee/opencorp/pkg/errors"
)

// MaxLevel is the highest seniority.
const MaxLevel = 5

// AutoWorker asks the engine to pick a worker by skill match.
const AutoWorker = "auto"

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,63}$`)

// ValidateName rejects names that could escape the workers directory or
// break file names.
func ValidateName(name string) error {
	if name == "" {
		return &corperrors.ValidationError{
			Field:      "worker",
			Message:    "Worker name must be a non-empty string.",
			Suggestion: "Use only letters, numbers, hyphens, and underscores.",
		}
	}
	if !namePattern.MatchString(name) {
		return &corperrors.ValidationError{
			Field:      "worker",
			Message:    fmt.Sprintf("Invalid worker name '%s'. Must match [a-zA-Z0-9][a-zA-Z0-9_-]{0,63}.", name),
			Suggestion: "Use only letters, numbers, hyphens, and underscores (1-64 chars, start with alphanumeric).",
		}
	}
	return nil
}

func notFound(name string) error {
	return &corperrors.WorkerNotFoundError{Name: name}
}

// Exists reports whether the worker directory exists.
func Exists(p *config.Project, name string) bool {
	if ValidateName(name) != nil {
		return false
	}
	info, err := os.Stat(filepath.Join(p.WorkersDir(), name))
	return err == nil && info.IsDir()
}

// List returns worker directory names, sorted. Hidden directories are skipped.
func List(p *config.Project) ([]string, error) {
	entries, err := os.ReadDir(p.WorkersDir())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing workers: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Info is the roster view of one worker.
type Info struct {
	Name  string `json:"name"`
	Level int    `json:"level"`
	Role  string `json:"role"`
	Tier  string `json:"tier"`
}

// Roster loads a summary of every worker.
func Roster(p *config.Project) ([]Info, error) {
	names, err := List(p)
	if err != nil {
		return nil, err
	}
	out := make([]Info, 0, len(names))
	for _, name := range names {
		w, err := Load(p, name)
		if err != nil {
			continue
		}
		role := w.Skills.Role
		if role == "" {
			role = "unknown"
		}
		out = append(out, Info{Name: name, Level: w.Level(), Role: role, Tier: w.Tier()})
	}
	return out, nil
}

// Hire creates a worker directory with default files.
func Hire(p *config.Project, name, role, description string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	dir := filepath.Join(p.WorkersDir(), name)
	if _, err := os.Stat(dir); err == nil {
		return &corperrors.ValidationError{
			Field:      "worker",
			Message:    fmt.Sprintf("Worker '%s' already exists", name),
			Suggestion: "Choose another name or fire the existing worker first.",
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating worker directory: %w", err)
	}

	defaults := p.Charter.WorkerDefaults
	level := defaults.StartingLevel
	tokens := defaults.MaxContextTokens
	cfg := Config{Level: &level, MaxContextTokens: &tokens, Model: defaults.Model}

	skills := struct {
		Role   string   `yaml:"role"`
		Skills []string `yaml:"skills"`
	}{Role: role, Skills: []string{role}}

	files := map[string][]byte{
		ProfileFile:     []byte(fmt.Sprintf("# %s\n\n**Role:** %s\n\n%s\n", name, role, description)),
		MemoryFile:      []byte("[]"),
		PerformanceFile: []byte("[]"),
	}
	for file, v := range map[string]any{SkillsFile: skills, ConfigFile: cfg} {
		data, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", file, err)
		}
		files[file] = data
	}
	for file, data := range files {
		if err := os.WriteFile(filepath.Join(dir, file), data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", file, err)
		}
	}
	return nil
}

// Fire deletes the worker directory and everything in it.
func Fire(p *config.Project, name string) error {
	if !Exists(p, name) {
		return notFound(name)
	}
	return os.RemoveAll(filepath.Join(p.WorkersDir(), name))
}

// Promote raises the worker's level by one, capped at MaxLevel, and returns
// the new level. Other config.yaml keys are preserved.
func Promote(p *config.Project, name string) (int, error) {
	if !Exists(p, name) {
		return 0, notFound(name)
	}
	path := filepath.Join(p.WorkersDir(), name, ConfigFile)

	unlock := p.FileLocks().Lock(path)
	defer unlock()

	raw := map[string]any{}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return 0, fmt.Errorf("reading %s: %w", ConfigFile, err)
		}
		if raw == nil {
			raw = map[string]any{}
		}
	}

	current := p.Charter.WorkerDefaults.StartingLevel
	if v, ok := raw["level"].(int); ok {
		current = v
	}
	next := min(current+1, MaxLevel)
	raw["level"] = next

	data, err := yaml.Marshal(raw)
	if err != nil {
		return 0, fmt.Errorf("encoding %s: %w", ConfigFile, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return 0, fmt.Errorf("writing %s: %w", ConfigFile, err)
	}
	return next, nil
}
