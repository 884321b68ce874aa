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

package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tombee/opencorp/internal/jq"
	"github.com/tombee/opencorp/pkg/tools"
)

// JSONTransform extracts values from JSON by dot-path or jq expression.
type JSONTransform struct {
	jq *jq.Executor
}

// NewJSONTransform creates the json_transform tool.
func NewJSONTransform() *JSONTransform {
	return &JSONTransform{jq: jq.NewExecutor(0, 0)}
}

func (j *JSONTransform) Name() string { return "json_transform" }

func (j *JSONTransform) Description() string {
	return "Parse JSON data and extract values by dot-path or jq query."
}

func (j *JSONTransform) Tier() tools.Tier { return tools.TierSafe }

func (j *JSONTransform) Schema() *tools.ParameterSchema {
	return &tools.ParameterSchema{
		Type: "object",
		Properties: map[string]*tools.Property{
			"data": {
				Type:        "string",
				Description: "JSON string to parse",
			},
			"path": {
				Type:        "string",
				Description: "Dot-path to extract (e.g. 'users.0.name')",
			},
			"query": {
				Type:        "string",
				Description: "jq expression, used instead of path (e.g. '[.users[].name]')",
			},
		},
		Required: []string{"data"},
	}
}

func (j *JSONTransform) Execute(ctx context.Context, inputs map[string]any) (string, error) {
	raw := tools.StringInput(inputs, "data", "")
	if raw == "" {
		return "", toolErr(j.Name(), "No data provided")
	}
	data, err := j.jq.Decode(raw)
	if err != nil {
		if cause := errors.Unwrap(err); cause != nil {
			return "", toolErr(j.Name(), "Invalid JSON: %v", cause)
		}
		return "", toolErr(j.Name(), "%v", err)
	}

	if query := strings.TrimSpace(tools.StringInput(inputs, "query", "")); query != "" {
		results, err := j.jq.Execute(ctx, query, data)
		if err != nil {
			return "", toolErr(j.Name(), "Query failed: %v", err)
		}
		lines := make([]string, len(results))
		for i, r := range results {
			lines[i] = render(r)
		}
		return strings.Join(lines, "\n"), nil
	}

	path := tools.StringInput(inputs, "path", "")
	if path == "" {
		return render(data), nil
	}

	current := data
	for _, key := range strings.Split(path, ".") {
		switch node := current.(type) {
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(node) {
				return fmt.Sprintf("Invalid path: '%s' is not a valid index", key), nil
			}
			current = node[idx]
		case map[string]any:
			next, ok := node[key]
			if !ok {
				return fmt.Sprintf("Key not found: '%s'", key), nil
			}
			current = next
		default:
			return fmt.Sprintf("Cannot traverse into %s with key '%s'", typeName(current), key), nil
		}
	}
	return render(current), nil
}

// render prints containers as indented JSON and scalars bare.
func render(v any) string {
	switch t := v.(type) {
	case map[string]any, []any:
		out, err := json.MarshalIndent(t, "", "  ")
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(out)
	case string:
		return t
	case nil:
		return "null"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

func typeName(v any) string {
	switch v.(type) {
	case string:
		return "str"
	case float64, int:
		return "number"
	case bool:
		return "bool"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", v)
	}
}
