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

// Package config loads a project's charter.yaml and .env.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	corperrors "github.com/tombee/opencorp/pkg/errors"
)

// CharterFile is the name of the project configuration file.
const CharterFile = "charter.yaml"

// Budget threshold keys.
const (
	ThresholdNormal    = "normal"
	ThresholdCaution   = "caution"
	ThresholdAusterity = "austerity"
	ThresholdCritical  = "critical"
)

// DefaultThresholds returns the budget thresholds used when charter.yaml
// omits them.
func DefaultThresholds() Thresholds {
	return Thresholds{Normal: 0.60, Caution: 0.80, Austerity: 0.95, Critical: 1.00}
}

// Thresholds are fractions of the daily limit at which the budget status
// escalates.
type Thresholds struct {
	Normal    float64
	Caution   float64
	Austerity float64
	Critical  float64
}

// BudgetConfig is the budget section of charter.yaml.
type BudgetConfig struct {
	DailyLimit float64
	Currency   string
	Thresholds Thresholds
}

// ModelTier is one named group of candidate models.
type ModelTier struct {
	Name        string
	Models      []string
	Description string
}

// WorkerDefaults apply to every worker unless its config.yaml overrides them.
type WorkerDefaults struct {
	StartingLevel      int    `yaml:"starting_level"`
	MaxContextTokens   int    `yaml:"max_context_tokens"`
	Model              string `yaml:"model"`
	HonestAI           bool   `yaml:"honest_ai"`
	MaxHistoryMessages int    `yaml:"max_history_messages"`
}

// RetentionConfig controls the housekeeping sweeps.
type RetentionConfig struct {
	EventsDays     int `yaml:"events_days"`
	SpendingDays   int `yaml:"spending_days"`
	WorkflowsDays  int `yaml:"workflows_days"`
	PerformanceMax int `yaml:"performance_max"`
}

// SecurityConfig holds webhook rate limits.
type SecurityConfig struct {
	WebhookRateLimit float64 `yaml:"webhook_rate_limit"`
	WebhookRateBurst int     `yaml:"webhook_rate_burst"`
}

// Charter is the parsed charter.yaml.
type Charter struct {
	Name    string
	Owner   string
	Mission string

	Budget         BudgetConfig
	Tiers          map[string]ModelTier
	WorkerDefaults WorkerDefaults
	Retention      RetentionConfig
	Security       SecurityConfig
}

// TierModels returns the configured models for a tier, or nil.
func (c *Charter) TierModels(tier string) []string {
	t, ok := c.Tiers[tier]
	if !ok {
		return nil
	}
	return t.Models
}

// TierModelMap flattens Tiers to name -> models.
func (c *Charter) TierModelMap() map[string][]string {
	out := make(map[string][]string, len(c.Tiers))
	for name, t := range c.Tiers {
		out[name] = t.Models
	}
	return out
}

// TierNames returns configured tier names sorted alphabetically.
func (c *Charter) TierNames() []string {
	names := make([]string, 0, len(c.Tiers))
	for name := range c.Tiers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type rawCharter struct {
	Project *struct {
		Name    *string `yaml:"name"`
		Owner   *string `yaml:"owner"`
		Mission *string `yaml:"mission"`
	} `yaml:"project"`
	Budget *struct {
		DailyLimit *float64           `yaml:"daily_limit"`
		Currency   string             `yaml:"currency"`
		Thresholds map[string]float64 `yaml:"thresholds"`
	} `yaml:"budget"`
	Models struct {
		Tiers map[string]struct {
			Models []string `yaml:"models"`
			For    string   `yaml:"for"`
		} `yaml:"tiers"`
	} `yaml:"models"`
	WorkerDefaults *WorkerDefaults  `yaml:"worker_defaults"`
	Retention      *RetentionConfig `yaml:"retention"`
	Security       *SecurityConfig  `yaml:"security"`
}

func defaultWorkerDefaults() WorkerDefaults {
	return WorkerDefaults{
		StartingLevel:      1,
		MaxContextTokens:   2000,
		Model:              "deepseek/deepseek-chat",
		HonestAI:           true,
		MaxHistoryMessages: 50,
	}
}

func defaultRetention() RetentionConfig {
	return RetentionConfig{EventsDays: 90, SpendingDays: 90, WorkflowsDays: 90, PerformanceMax: 100}
}

func defaultSecurity() SecurityConfig {
	return SecurityConfig{WebhookRateLimit: 10.0, WebhookRateBurst: 20}
}

// LoadCharter reads and validates <dir>/charter.yaml.
func LoadCharter(dir string) (*Charter, error) {
	path := filepath.Join(dir, CharterFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &corperrors.ConfigError{
				Reason:     fmt.Sprintf("charter.yaml not found in %s", dir),
				Suggestion: "Run 'corp init' to create a new project.",
				Cause:      err,
			}
		}
		return nil, &corperrors.ConfigError{Reason: "reading charter.yaml", Cause: err}
	}
	return ParseCharter(data)
}

// ParseCharter parses charter.yaml content.
func ParseCharter(data []byte) (*Charter, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, &corperrors.ConfigError{Reason: fmt.Sprintf("Invalid YAML in charter.yaml: %v", err), Cause: err}
	}
	if len(node.Content) == 0 || node.Content[0].Kind != yaml.MappingNode {
		return nil, &corperrors.ConfigError{Reason: "charter.yaml must be a YAML mapping"}
	}

	// WorkerDefaults and friends decode onto their defaults so partial sections merge.
	raw := rawCharter{}
	wd, ret, sec := defaultWorkerDefaults(), defaultRetention(), defaultSecurity()
	raw.WorkerDefaults, raw.Retention, raw.Security = &wd, &ret, &sec

	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil {
		return nil, &corperrors.ConfigError{Reason: fmt.Sprintf("Invalid YAML in charter.yaml: %v", err), Cause: err}
	}

	// An explicitly empty section decodes to nil.
	if raw.WorkerDefaults == nil {
		raw.WorkerDefaults = &wd
	}
	if raw.Retention == nil {
		raw.Retention = &ret
	}
	if raw.Security == nil {
		raw.Security = &sec
	}

	if raw.Project == nil {
		return nil, &corperrors.ConfigError{
			Key:        "project",
			Reason:     "charter.yaml missing 'project' section",
			Suggestion: "Add a 'project' section with name, owner, and mission to charter.yaml.",
		}
	}
	required := []struct {
		field string
		value *string
	}{
		{"name", raw.Project.Name},
		{"owner", raw.Project.Owner},
		{"mission", raw.Project.Mission},
	}
	for _, r := range required {
		field := r.field
		if r.value == nil {
			return nil, &corperrors.ConfigError{
				Key:        "project." + field,
				Reason:     fmt.Sprintf("charter.yaml project.%s is required", field),
				Suggestion: fmt.Sprintf("Add '%s' to the project section in charter.yaml.", field),
			}
		}
	}

	if raw.Budget == nil {
		return nil, &corperrors.ConfigError{
			Key:        "budget",
			Reason:     "charter.yaml missing 'budget' section",
			Suggestion: "Add a 'budget' section with daily_limit to charter.yaml.",
		}
	}
	if raw.Budget.DailyLimit == nil {
		return nil, &corperrors.ConfigError{
			Key:        "budget.daily_limit",
			Reason:     "charter.yaml budget.daily_limit is required",
			Suggestion: "Add 'daily_limit' to the budget section in charter.yaml.",
		}
	}

	thresholds, err := mergeThresholds(raw.Budget.Thresholds)
	if err != nil {
		return nil, err
	}

	currency := raw.Budget.Currency
	if currency == "" {
		currency = "USD"
	}

	c := &Charter{
		Name:    *raw.Project.Name,
		Owner:   *raw.Project.Owner,
		Mission: *raw.Project.Mission,
		Budget: BudgetConfig{
			DailyLimit: *raw.Budget.DailyLimit,
			Currency:   currency,
			Thresholds: thresholds,
		},
		Tiers:          make(map[string]ModelTier, len(raw.Models.Tiers)),
		WorkerDefaults: *raw.WorkerDefaults,
		Retention:      *raw.Retention,
		Security:       *raw.Security,
	}
	for name, t := range raw.Models.Tiers {
		c.Tiers[name] = ModelTier{Name: name, Models: t.Models, Description: t.For}
	}

	return c, nil
}

func mergeThresholds(in map[string]float64) (Thresholds, error) {
	t := DefaultThresholds()
	for key, v := range in {
		if v < 0 || v > 1 {
			return t, &corperrors.ConfigError{
				Key:    "budget.thresholds." + key,
				Reason: fmt.Sprintf("threshold %s must be between 0 and 1, got %g", key, v),
			}
		}
		switch key {
		case ThresholdNormal:
			t.Normal = v
		case ThresholdCaution:
			t.Caution = v
		case ThresholdAusterity:
			t.Austerity = v
		case ThresholdCritical:
			t.Critical = v
		default:
			return t, &corperrors.ConfigError{
				Key:    "budget.thresholds." + key,
				Reason: fmt.Sprintf("unknown threshold %q", key),
			}
		}
	}
	if !(t.Normal <= t.Caution && t.Caution <= t.Austerity && t.Austerity <= t.Critical) {
		return t, &corperrors.ConfigError{
			Key:        "budget.thresholds",
			Reason:     "thresholds must satisfy normal <= caution <= austerity <= critical",
			Suggestion: "Defaults are normal 0.60, caution 0.80, austerity 0.95, critical 1.00.",
		}
	}
	return t, nil
}
