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

// Package fixture builds throwaway project directories for command and
// integration tests.
package fixture

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/tombee/opencorp/internal/config"
)

// Charter is a small charter with all three tiers configured.
const Charter = `project:
  name: Acme
  owner: Jo
  mission: Ship things
budget:
  daily_limit: 3.0
models:
  tiers:
    cheap:
      models: [cheap-a, cheap-b]
    mid:
      models: [mid-a]
    premium:
      models: [premium-a]
`

// Worker describes one workers/<name> directory.
type Worker struct {
	Name    string
	Profile string
	Role    string
	Skills  []string
	Level   int
}

// Spec describes a project to create. An empty Charter uses the package
// Charter.
type Spec struct {
	Charter   string
	Workers   []Worker
	Workflows map[string]string
}

// NewProject writes spec under t.TempDir and loads it.
func NewProject(t testing.TB, spec Spec) *config.Project {
	t.Helper()
	dir := t.TempDir()

	charter := spec.Charter
	if charter == "" {
		charter = Charter
	}
	writeFile(t, filepath.Join(dir, config.CharterFile), []byte(charter))

	for _, w := range spec.Workers {
		AddWorker(t, dir, w)
	}
	for name, body := range spec.Workflows {
		writeFile(t, filepath.Join(dir, "workflows", name), []byte(body))
	}

	p, err := config.Load(dir)
	require.NoError(t, err)
	return p
}

// AddWorker writes profile.md, skills.yaml and config.yaml for w.
func AddWorker(t testing.TB, projectDir string, w Worker) {
	t.Helper()
	wdir := filepath.Join(projectDir, "workers", w.Name)

	profile := w.Profile
	if profile == "" {
		profile = "# " + w.Name + "\n"
	}
	writeFile(t, filepath.Join(wdir, "profile.md"), []byte(profile))

	skills, err := yaml.Marshal(map[string]any{"role": w.Role, "skills": w.Skills})
	require.NoError(t, err)
	writeFile(t, filepath.Join(wdir, "skills.yaml"), skills)

	level := w.Level
	if level == 0 {
		level = 1
	}
	cfg, err := yaml.Marshal(map[string]any{"level": level})
	require.NoError(t, err)
	writeFile(t, filepath.Join(wdir, "config.yaml"), cfg)
}

func writeFile(t testing.TB, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}
