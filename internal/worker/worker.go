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

// Package worker loads worker personas from a project's workers/ directory
// and runs chat turns through the router on their behalf.
//
// A worker directory holds:
//
//	profile.md        persona text
//	skills.yaml       {role, skills: [name | {name}]}
//	config.yaml       {level, max_context_tokens, model, tools}
//	memory.json       [{timestamp, type, content}]
//	performance.json  [{timestamp, task, result, rating}]
//
// Missing or unreadable files degrade to empty values. A corrupt JSON file
// is moved aside to <file>.corrupt so the next write starts clean.
package worker

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/tombee/opencorp/internal/config"
	"github.com/tombee/opencorp/internal/router"
	"github.com/tombee/opencorp/pkg/tools"
)

// File names inside a worker directory.
const (
	ProfileFile     = "profile.md"
	SkillsFile      = "skills.yaml"
	ConfigFile      = "config.yaml"
	MemoryFile      = "memory.json"
	PerformanceFile = "performance.json"
)

// Memory entry types.
const (
	MemoryInteraction    = "interaction"
	MemorySessionSummary = "session_summary"
	MemoryNote           = "note"
)

const honestAIReminder = "\nIMPORTANT: Never fabricate data or results. If you don't know something, say so."

// levelTiers maps seniority to the router tier. Unlisted levels use cheap.
var levelTiers = map[int]string{
	1: router.TierCheap,
	2: router.TierCheap,
	3: router.TierMid,
	4: router.TierPremium,
	5: router.TierPremium,
}

var levelTitles = map[int]string{
	1: "Intern",
	2: "Junior",
	3: "Mid",
	4: "Senior",
	5: "Principal",
}

// Title names a seniority level.
func Title(level int) string {
	if t, ok := levelTitles[level]; ok {
		return t
	}
	return fmt.Sprintf("Level %d", level)
}

// Skill is one entry of skills.yaml. Entries may be plain strings or
// mappings with a name key.
type Skill struct {
	Name string
}

// UnmarshalYAML accepts both "skill" and {name: skill}.
func (s *Skill) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		s.Name = node.Value
		return nil
	case yaml.MappingNode:
		var m struct {
			Name string `yaml:"name"`
		}
		if err := node.Decode(&m); err != nil {
			return err
		}
		s.Name = m.Name
		return nil
	default:
		return fmt.Errorf("line %d: skill must be a string or a mapping", node.Line)
	}
}

// Skills is skills.yaml.
type Skills struct {
	Role   string  `yaml:"role"`
	Skills []Skill `yaml:"skills"`
}

// Names returns the non-empty skill names in file order.
func (s Skills) Names() []string {
	var out []string
	for _, sk := range s.Skills {
		if sk.Name != "" {
			out = append(out, sk.Name)
		}
	}
	return out
}

// Config is config.yaml. Nil pointers fall back to the charter defaults.
type Config struct {
	Level            *int   `yaml:"level,omitempty"`
	MaxContextTokens *int   `yaml:"max_context_tokens,omitempty"`
	Model            string `yaml:"model,omitempty"`

	// Tools restricts the worker to the listed tools. Nil means the worker
	// chats without tools.
	Tools []string `yaml:"tools,omitempty"`
}

// MemoryEntry is one line of worker memory.
type MemoryEntry struct {
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Content   string `json:"content"`
}

// PerformanceEntry records the outcome of one task.
type PerformanceEntry struct {
	Timestamp string `json:"timestamp"`
	Task      string `json:"task"`
	Result    string `json:"result"`
	Rating    *int   `json:"rating"`
}

// Worker is a loaded persona.
type Worker struct {
	Name        string
	Dir         string
	Profile     string
	Skills      Skills
	Config      Config
	Memory      []MemoryEntry
	Performance []PerformanceEntry

	defaults config.WorkerDefaults
	locks    *config.FileLocks
	tools    *tools.Registry
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a loaded Worker.
type Option func(*Worker)

// WithTools lets the worker call tools when its config lists any.
func WithTools(reg *tools.Registry) Option {
	return func(w *Worker) { w.tools = reg }
}

// WithLogger sets the worker logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

// WithClock overrides the timestamp source for memory and performance.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

// Load reads the named worker from the project.
func Load(p *config.Project, name string, opts ...Option) (*Worker, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	dir := filepath.Join(p.WorkersDir(), name)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, notFound(name)
	}

	w := &Worker{
		Name:     name,
		Dir:      dir,
		defaults: p.Charter.WorkerDefaults,
		locks:    p.FileLocks(),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("worker", name)

	w.Profile = w.loadProfile()
	loadYAML(filepath.Join(dir, SkillsFile), &w.Skills, w.logger)
	loadYAML(filepath.Join(dir, ConfigFile), &w.Config, w.logger)
	w.Memory = readJSONList[MemoryEntry](filepath.Join(dir, MemoryFile), w.logger)
	w.Performance = readJSONList[PerformanceEntry](filepath.Join(dir, PerformanceFile), w.logger)
	return w, nil
}

func (w *Worker) loadProfile() string {
	data, err := os.ReadFile(filepath.Join(w.Dir, ProfileFile))
	if err != nil {
		return "Worker: " + w.Name
	}
	return string(data)
}

func loadYAML(path string, out any, logger *slog.Logger) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		logger.Warn("ignoring unreadable worker file", "path", path, "error", err)
	}
}

// Level is the worker's seniority, 1 to 5.
func (w *Worker) Level() int {
	if w.Config.Level != nil {
		return *w.Config.Level
	}
	return w.defaults.StartingLevel
}

// Tier is the router tier for the worker's level.
func (w *Worker) Tier() string {
	if t, ok := levelTiers[w.Level()]; ok {
		return t
	}
	return router.TierCheap
}

// MaxContextTokens is the prompt budget in tokens.
func (w *Worker) MaxContextTokens() int {
	if w.Config.MaxContextTokens != nil {
		return *w.Config.MaxContextTokens
	}
	return w.defaults.MaxContextTokens
}

// SystemPrompt assembles profile, skills, recent memory and the honesty
// reminder. Memory is walked newest first until the character budget
// (four characters per context token, less the header) runs out, then
// emitted oldest first.
func (w *Worker) SystemPrompt() string {
	parts := []string{w.Profile}
	if names := w.Skills.Names(); len(names) > 0 {
		parts = append(parts, "\nYour skills: "+strings.Join(names, ", "))
	}

	header := 0
	for _, p := range parts {
		header += utf8.RuneCountInString(p)
	}
	budget := max(0, w.MaxContextTokens()*4-header)

	if len(w.Memory) > 0 && budget > 0 {
		var recent []string
		used := 0
		for i := len(w.Memory) - 1; i >= 0; i-- {
			entry := w.Memory[i]
			kind := entry.Type
			if kind == "" {
				kind = MemoryNote
			}
			text := fmt.Sprintf("[%s] %s", kind, entry.Content)
			n := utf8.RuneCountInString(text)
			if used+n > budget {
				break
			}
			recent = append(recent, text)
			used += n
		}
		if len(recent) > 0 {
			for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
				recent[i], recent[j] = recent[j], recent[i]
			}
			parts = append(parts, "\nRecent context:\n"+strings.Join(recent, "\n"))
		}
	}

	if w.defaults.HonestAI {
		parts = append(parts, honestAIReminder)
	}
	return strings.Join(parts, "\n")
}

// truncateRunes cuts s to at most n characters.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
