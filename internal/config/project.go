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

package config

import (
	"fmt"
	"os"
	"path/filepath"

	corperrors "github.com/tombee/opencorp/pkg/errors"
)

// ProjectEnv names the environment variable that overrides project discovery.
const ProjectEnv = "OPENCORP_PROJECT"

// Project is a loaded project directory.
type Project struct {
	Dir     string
	Charter *Charter

	locks FileLocks
}

// FileLocks guards files that are rewritten in place, such as worker memory.
func (p *Project) FileLocks() *FileLocks { return &p.locks }

// DataDir is where the document store and pricing cache live.
func (p *Project) DataDir() string { return filepath.Join(p.Dir, "data") }

// WorkersDir holds one subdirectory per worker.
func (p *Project) WorkersDir() string { return filepath.Join(p.Dir, "workers") }

// WorkflowsDir holds workflow definitions.
func (p *Project) WorkflowsDir() string { return filepath.Join(p.Dir, "workflows") }

// StorePath is the sqlite document store.
func (p *Project) StorePath() string { return filepath.Join(p.DataDir(), "corp.db") }

// PricingPath is the model pricing cache.
func (p *Project) PricingPath() string { return filepath.Join(p.DataDir(), "model_pricing.json") }

// Load loads .env and charter.yaml from dir.
func Load(dir string) (*Project, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving project dir: %w", err)
	}
	if err := LoadDotEnv(filepath.Join(abs, ".env")); err != nil {
		return nil, &corperrors.ConfigError{Key: ".env", Reason: err.Error(), Cause: err}
	}
	charter, err := LoadCharter(abs)
	if err != nil {
		return nil, err
	}
	return &Project{Dir: abs, Charter: charter}, nil
}

// FindProjectDir resolves the project directory: an explicit flag value wins,
// then $OPENCORP_PROJECT, then the nearest ancestor of start containing
// charter.yaml. Falls back to start itself so the caller gets a useful
// "charter.yaml not found" error.
func FindProjectDir(flagValue, start string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv(ProjectEnv); env != "" {
		return env
	}
	dir, err := filepath.Abs(start)
	if err != nil {
		return start
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, CharterFile)); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return start
		}
		dir = parent
	}
}
