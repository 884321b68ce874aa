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
	"math"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/tombee/opencorp/pkg/tools"
)

// Calculator evaluates arithmetic expressions. Identifiers are rejected at
// compile time because the environment is empty.
type Calculator struct{}

// NewCalculator creates the calculator tool.
func NewCalculator() *Calculator { return &Calculator{} }

func (c *Calculator) Name() string { return "calculator" }

func (c *Calculator) Description() string {
	return "Evaluate a mathematical expression (arithmetic only)."
}

func (c *Calculator) Tier() tools.Tier { return tools.TierSafe }

func (c *Calculator) Schema() *tools.ParameterSchema {
	return &tools.ParameterSchema{
		Type: "object",
		Properties: map[string]*tools.Property{
			"expression": {
				Type:        "string",
				Description: "Mathematical expression to evaluate (e.g. '2 + 3 * 4')",
			},
		},
		Required: []string{"expression"},
	}
}

func (c *Calculator) Execute(ctx context.Context, inputs map[string]any) (string, error) {
	expression := strings.TrimSpace(tools.StringInput(inputs, "expression", ""))
	if expression == "" {
		return "", toolErr(c.Name(), "No expression provided")
	}

	env := map[string]any{}
	program, err := expr.Compile(expression, expr.Env(env))
	if err != nil {
		if strings.Contains(err.Error(), "divide by zero") {
			return "", toolErr(c.Name(), "Division by zero")
		}
		return "", toolErr(c.Name(), "Invalid expression: %v", err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		if strings.Contains(err.Error(), "divide by zero") {
			return "", toolErr(c.Name(), "Division by zero")
		}
		return "", toolErr(c.Name(), "Evaluation error: %v", err)
	}

	switch v := out.(type) {
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return "", toolErr(c.Name(), "Division by zero")
		}
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	default:
		return "", toolErr(c.Name(), "Expression must evaluate to a number")
	}
}
