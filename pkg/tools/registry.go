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

// Package tools provides the registry of functions a worker's model may call.
//
// Each tool has a name, an input schema and a tier. The tier sets the minimum
// worker level that may use it, so junior workers only see safe tools.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/tombee/opencorp/pkg/errors"
	"github.com/tombee/opencorp/pkg/llm"
)

// MaxResultChars caps the text returned to the model from one tool call.
const MaxResultChars = 4000

// Tier classifies how much damage a tool can do.
type Tier string

const (
	TierSafe       Tier = "safe"
	TierStandard   Tier = "standard"
	TierPrivileged Tier = "privileged"
)

// MinLevel is the lowest worker level allowed to use tools of this tier.
func (t Tier) MinLevel() int {
	switch t {
	case TierStandard:
		return 3
	case TierPrivileged:
		return 4
	default:
		return 1
	}
}

// Tool represents a function the model can call.
type Tool interface {
	// Name returns the unique identifier for this tool
	Name() string

	// Description returns a human-readable description of what the tool does
	Description() string

	// Schema returns the JSON schema of the tool's inputs
	Schema() *ParameterSchema

	// Tier returns the tool's permission tier
	Tier() Tier

	// Execute runs the tool. The returned text is passed back to the model.
	Execute(ctx context.Context, inputs map[string]any) (string, error)
}

// ParameterSchema defines a set of parameters using JSON Schema conventions.
type ParameterSchema struct {
	// Type is the JSON type (e.g., "object", "string", "number")
	Type string `json:"type"`

	// Properties defines nested properties (for type="object")
	Properties map[string]*Property `json:"properties,omitempty"`

	// Required lists the required property names
	Required []string `json:"required,omitempty"`

	// Description provides human-readable context
	Description string `json:"description,omitempty"`
}

// Property defines a single property in a parameter schema.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Default     any    `json:"default,omitempty"`
}

// Map converts the schema to the generic form sent to the provider.
func (s *ParameterSchema) Map() map[string]any {
	if s == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"type": "object"}
	}
	if _, ok := out["properties"]; !ok {
		out["properties"] = map[string]any{}
	}
	return out
}

// Error is a tool failure whose message is shown to the model.
type Error struct {
	Tool    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Tool, e.Message)
}

// Registry maintains a collection of registered tools.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	logger *slog.Logger
}

// NewRegistry creates a new tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]Tool),
		logger: logger,
	}
}

// Register adds a tool to the registry.
// Returns an error if a tool with the same name is already registered.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("cannot register nil tool")
	}

	name := tool.Name()
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool already registered: %s", name)
	}
	r.tools[name] = tool
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, exists := r.tools[name]
	if !exists {
		return nil, &errors.NotFoundError{
			Resource: "tool",
			ID:       name,
		}
	}
	return tool, nil
}

// List returns all registered tool names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AvailableForLevel returns the tools a worker of the given level may use,
// sorted by name.
func (r *Registry) AvailableForLevel(level int) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Tool
	for _, t := range r.tools {
		if t.Tier().MinLevel() <= level {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// ResolveForWorker returns the tools a worker gets. A nil explicit list means
// every tool the level qualifies for; otherwise the listed tools the level
// qualifies for, in list order. Unknown names are dropped.
func (r *Registry) ResolveForWorker(level int, explicit []string) []Tool {
	qualified := r.AvailableForLevel(level)
	if explicit == nil {
		return qualified
	}

	byName := make(map[string]Tool, len(qualified))
	for _, t := range qualified {
		byName[t.Name()] = t
	}
	var out []Tool
	seen := map[string]bool{}
	for _, name := range explicit {
		if t, ok := byName[name]; ok && !seen[name] {
			out = append(out, t)
			seen[name] = true
		}
	}
	return out
}

// Definitions converts tools to the provider-neutral function definitions.
func Definitions(tools []Tool) []llm.Tool {
	defs := make([]llm.Tool, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, llm.Tool{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.Schema().Map(),
		})
	}
	return defs
}

// Execute runs a tool call. Failures never escape as errors: unknown tools,
// bad arguments and tool errors all come back as text for the model.
func (r *Registry) Execute(ctx context.Context, name, rawArgs string) string {
	tool, err := r.Get(name)
	if err != nil {
		return fmt.Sprintf("Error: Unknown tool '%s'", name)
	}

	inputs := map[string]any{}
	if rawArgs != "" {
		if err := json.Unmarshal([]byte(rawArgs), &inputs); err != nil {
			return fmt.Sprintf("Error: Invalid JSON arguments for tool '%s'", name)
		}
	}

	if err := validateInputs(tool, inputs); err != nil {
		return fmt.Sprintf("Error: %v", err)
	}

	result, err := r.safeExecute(ctx, tool, inputs)
	if err != nil {
		var toolErr *Error
		if errors.As(err, &toolErr) {
			return "Error: " + toolErr.Message
		}
		r.logger.Warn("tool raised", "tool", name, "error", err)
		return fmt.Sprintf("Error executing tool '%s': %v", name, err)
	}

	if len(result) > MaxResultChars {
		result = result[:MaxResultChars] + fmt.Sprintf("\n... (truncated to %d chars)", MaxResultChars)
	}
	return result
}

func (r *Registry) safeExecute(ctx context.Context, tool Tool, inputs map[string]any) (out string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return tool.Execute(ctx, inputs)
}

// validateInputs checks that required fields are present.
func validateInputs(tool Tool, inputs map[string]any) error {
	schema := tool.Schema()
	if schema == nil {
		return nil
	}
	for _, required := range schema.Required {
		if _, exists := inputs[required]; !exists {
			return fmt.Errorf("required input missing for tool '%s': %s", tool.Name(), required)
		}
	}
	return nil
}

// StringInput returns inputs[name] as a string. Non-string values are
// formatted; a missing value yields def.
func StringInput(inputs map[string]any, name, def string) string {
	v, ok := inputs[name]
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
