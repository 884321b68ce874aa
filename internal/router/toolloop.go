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

package router

import (
	"context"

	"github.com/tombee/opencorp/pkg/llm"
)

// DefaultMaxToolIterations bounds ToolLoop when no limit is given.
const DefaultMaxToolIterations = 10

// ToolExecutor runs one tool call and returns the text for the model.
// Implementations report failures in the returned text.
type ToolExecutor interface {
	Execute(ctx context.Context, name, rawArgs string) string
}

// ToolLoop calls Chat with req.Tools, runs any tool calls the model makes
// and feeds the results back until the model answers without calling a tool
// or maxIterations rounds have run. Token counts and cost are summed across
// rounds.
func (r *Router) ToolLoop(ctx context.Context, req Request, exec ToolExecutor, maxIterations int) (*Result, error) {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxToolIterations
	}

	messages := append([]llm.Message(nil), req.Messages...)
	total := &Result{}
	var last *Result

	for i := 0; i < maxIterations; i++ {
		round := req
		round.Messages = messages

		res, err := r.Chat(ctx, round)
		if err != nil {
			return nil, err
		}
		last = res
		total.ModelUsed = res.ModelUsed
		total.TokensIn += res.TokensIn
		total.TokensOut += res.TokensOut
		total.Cost += res.Cost
		total.ToolIterations = i + 1

		if len(res.ToolCalls) == 0 {
			total.Content = res.Content
			return total, nil
		}

		messages = append(messages, llm.Message{
			Role:      llm.MessageRoleAssistant,
			Content:   res.Content,
			ToolCalls: res.ToolCalls,
		})
		for _, call := range res.ToolCalls {
			args := call.Arguments
			if args == "" {
				args = "{}"
			}
			r.logger.Debug("executing tool", "tool", call.Name, "call_id", call.ID)
			messages = append(messages, llm.Message{
				Role:       llm.MessageRoleTool,
				ToolCallID: call.ID,
				Content:    exec.Execute(ctx, call.Name, args),
			})
		}
	}

	total.Content = last.Content
	if total.Content == "" {
		total.Content = "Tool loop reached maximum iterations."
	}
	return total, nil
}
