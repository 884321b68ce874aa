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

package setup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/tombee/opencorp/internal/config"
	corperrors "github.com/tombee/opencorp/pkg/errors"
)

// DefaultDailyLimit is the budget offered by init.
const DefaultDailyLimit = 3.00

// ProjectDirs are created empty by init.
var ProjectDirs = []string{"workers", "workflows", "templates", "data"}

// Answers are the values init writes into a new project.
type Answers struct {
	Name       string
	Owner      string
	Mission    string
	DailyLimit float64
	APIKey     string
}

// Validate reports the first missing or out of range answer.
func (a Answers) Validate() error {
	for _, f := range []struct{ field, value string }{
		{"name", a.Name}, {"owner", a.Owner}, {"mission", a.Mission},
	} {
		if f.value == "" {
			return &corperrors.ValidationError{Field: f.field, Message: fmt.Sprintf("project %s is required", f.field)}
		}
	}
	if a.DailyLimit <= 0 {
		return &corperrors.ValidationError{Field: "daily_limit", Message: "budget must be positive"}
	}
	return nil
}

type charterTier struct {
	Models []string `yaml:"models"`
	For    string   `yaml:"for"`
}

type charterDoc struct {
	Project struct {
		Name    string `yaml:"name"`
		Owner   string `yaml:"owner"`
		Mission string `yaml:"mission"`
	} `yaml:"project"`
	Budget struct {
		DailyLimit float64            `yaml:"daily_limit"`
		Currency   string             `yaml:"currency"`
		Thresholds map[string]float64 `yaml:"thresholds"`
	} `yaml:"budget"`
	Models struct {
		Tiers map[string]charterTier `yaml:"tiers"`
	} `yaml:"models"`
	WorkerDefaults config.WorkerDefaults  `yaml:"worker_defaults"`
	Retention      config.RetentionConfig `yaml:"retention"`
}

// CharterYAML renders charter.yaml for a new project.
func CharterYAML(a Answers) ([]byte, error) {
	var doc charterDoc
	doc.Project.Name, doc.Project.Owner, doc.Project.Mission = a.Name, a.Owner, a.Mission

	th := config.DefaultThresholds()
	doc.Budget.DailyLimit = a.DailyLimit
	doc.Budget.Currency = "USD"
	doc.Budget.Thresholds = map[string]float64{
		"normal": th.Normal, "caution": th.Caution, "austerity": th.Austerity, "critical": th.Critical,
	}

	doc.Models.Tiers = map[string]charterTier{
		"cheap":   {Models: []string{"deepseek/deepseek-chat", "mistralai/mistral-tiny"}, For: "Simple tasks"},
		"mid":     {Models: []string{"anthropic/claude-sonnet-4-20250514"}, For: "Complex tasks"},
		"premium": {Models: []string{"anthropic/claude-opus-4-5-20251101"}, For: "Board-level decisions"},
	}
	doc.WorkerDefaults = config.WorkerDefaults{
		StartingLevel:      1,
		MaxContextTokens:   2000,
		Model:              "deepseek/deepseek-chat",
		HonestAI:           true,
		MaxHistoryMessages: 50,
	}
	doc.Retention = config.RetentionConfig{EventsDays: 90, SpendingDays: 90, WorkflowsDays: 90, PerformanceMax: 100}

	return yaml.Marshal(doc)
}

// Scaffold writes charter.yaml, .env and the empty project directories
// into dir. An existing charter is only replaced when overwrite is set.
// Returns the paths it created, relative to dir.
func Scaffold(dir string, a Answers, overwrite bool) ([]string, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	charterPath := filepath.Join(dir, config.CharterFile)
	if _, err := os.Stat(charterPath); err == nil && !overwrite {
		return nil, &corperrors.ValidationError{
			Field:      "charter",
			Message:    fmt.Sprintf("%s already exists", charterPath),
			Suggestion: "Pass --force to overwrite it.",
		}
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("checking %s: %w", charterPath, err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", dir, err)
	}

	charter, err := CharterYAML(a)
	if err != nil {
		return nil, fmt.Errorf("encoding charter: %w", err)
	}
	// The loader must accept whatever init writes.
	if _, err := config.ParseCharter(charter); err != nil {
		return nil, err
	}
	if err := os.WriteFile(charterPath, charter, 0o644); err != nil {
		return nil, fmt.Errorf("writing charter: %w", err)
	}

	env := "OPENROUTER_API_KEY=" + a.APIKey + "\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0o600); err != nil {
		return nil, fmt.Errorf("writing .env: %w", err)
	}

	created := []string{config.CharterFile, ".env"}
	for _, d := range ProjectDirs {
		if err := os.MkdirAll(filepath.Join(dir, d), 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", d, err)
		}
		created = append(created, d+"/")
	}
	return created, nil
}
