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
	"context"
	"fmt"
	"strings"

	"github.com/tombee/opencorp/internal/router"
	"github.com/tombee/opencorp/pkg/llm"
	"github.com/tombee/opencorp/pkg/tools"
)

// memorySnippetChars bounds each interaction line written to memory.
const memorySnippetChars = 200

// Chatter sends one chat request. *router.Router implements it.
type Chatter interface {
	Chat(ctx context.Context, req router.Request) (*router.Result, error)
}

// ToolLooper runs a chat request with tool calling.
type ToolLooper interface {
	ToolLoop(ctx context.Context, req router.Request, exec router.ToolExecutor, maxIterations int) (*router.Result, error)
}

// Streamer streams one chat request.
type Streamer interface {
	Stream(ctx context.Context, req router.Request) (<-chan router.Chunk, error)
}

// Chat runs one turn. history holds prior user and assistant messages and
// is cut to the newest max_history_messages before sending. The returned
// history includes the new exchange. Budget and model errors from the
// router are returned unchanged.
func (w *Worker) Chat(ctx context.Context, c Chatter, message string, history []llm.Message) (string, []llm.Message, error) {
	history = w.trimHistory(history)
	req := w.request(message, history)

	var res *router.Result
	var err error
	if looper, ok := c.(ToolLooper); ok && w.tools != nil && w.Config.Tools != nil {
		allowed := w.tools.ResolveForWorker(w.Level(), w.Config.Tools)
		if len(allowed) > 0 {
			req.Tools = tools.Definitions(allowed)
			res, err = looper.ToolLoop(ctx, req, newScopedExecutor(w.tools, allowed), 0)
		} else {
			res, err = c.Chat(ctx, req)
		}
	} else {
		res, err = c.Chat(ctx, req)
	}
	if err != nil {
		return "", history, err
	}

	return res.Content, w.finishTurn(message, res.Content, history), nil
}

// ChatStream runs one turn through s, calling onDelta for each piece of
// content as it arrives. Tools are not offered while streaming.
func (w *Worker) ChatStream(ctx context.Context, s Streamer, message string, history []llm.Message, onDelta func(string)) (string, []llm.Message, error) {
	history = w.trimHistory(history)

	chunks, err := s.Stream(ctx, w.request(message, history))
	if err != nil {
		return "", history, err
	}

	var full strings.Builder
	for c := range chunks {
		if c.Err != nil {
			return "", history, c.Err
		}
		if c.Done {
			full.Reset()
			full.WriteString(c.FullContent)
			continue
		}
		full.WriteString(c.Content)
		if onDelta != nil {
			onDelta(c.Content)
		}
	}
	if err := ctx.Err(); err != nil {
		return "", history, err
	}

	response := full.String()
	return response, w.finishTurn(message, response, history), nil
}

func (w *Worker) trimHistory(history []llm.Message) []llm.Message {
	limit := w.defaults.MaxHistoryMessages
	if limit > 0 && len(history) > limit {
		return history[len(history)-limit:]
	}
	return history
}

func (w *Worker) request(message string, history []llm.Message) router.Request {
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.MessageRoleSystem, Content: w.SystemPrompt()})
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: llm.MessageRoleUser, Content: message})

	return router.Request{
		Messages: messages,
		Tier:     w.Tier(),
		Model:    w.Config.Model,
		Worker:   w.Name,
	}
}

// finishTurn records the exchange in memory and returns the new history.
// A memory write failure is logged; the response has already been paid for.
func (w *Worker) finishTurn(message, response string, history []llm.Message) []llm.Message {
	updated := make([]llm.Message, 0, len(history)+2)
	updated = append(updated, history...)
	updated = append(updated,
		llm.Message{Role: llm.MessageRoleUser, Content: message},
		llm.Message{Role: llm.MessageRoleAssistant, Content: response},
	)

	if err := w.UpdateMemory(MemoryInteraction, "User: "+truncateRunes(message, memorySnippetChars)); err != nil {
		w.logger.Warn("failed to save memory", "error", err)
	}
	if err := w.UpdateMemory(MemoryInteraction, "Response: "+truncateRunes(response, memorySnippetChars)); err != nil {
		w.logger.Warn("failed to save memory", "error", err)
	}
	return updated
}

// SummarizeSession asks the model for a short summary of history and stores
// it in memory. An empty history returns "" without a call.
func (w *Worker) SummarizeSession(ctx context.Context, c Chatter, history []llm.Message) (string, error) {
	if len(history) == 0 {
		return "", nil
	}

	lines := make([]string, 0, len(history))
	for _, m := range history {
		speaker := w.Name
		if m.Role == llm.MessageRoleUser {
			speaker = "User"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", speaker, m.Content))
	}
	prompt := "Summarize this conversation in 2-3 sentences. " +
		"Focus on what was discussed, decisions made, and any action items.\n\n" +
		strings.Join(lines, "\n")

	res, err := c.Chat(ctx, router.Request{
		Messages: []llm.Message{
			{Role: llm.MessageRoleSystem, Content: "You are a concise summarizer."},
			{Role: llm.MessageRoleUser, Content: prompt},
		},
		Tier:   w.Tier(),
		Worker: w.Name,
	})
	if err != nil {
		return "", err
	}

	if err := w.UpdateMemory(MemorySessionSummary, res.Content); err != nil {
		return res.Content, err
	}
	return res.Content, nil
}

// scopedExecutor refuses tools the worker was not given, even when the
// registry knows them.
type scopedExecutor struct {
	reg     *tools.Registry
	allowed map[string]bool
}

func newScopedExecutor(reg *tools.Registry, allowed []tools.Tool) *scopedExecutor {
	names := make(map[string]bool, len(allowed))
	for _, t := range allowed {
		names[t.Name()] = true
	}
	return &scopedExecutor{reg: reg, allowed: names}
}

func (s *scopedExecutor) Execute(ctx context.Context, name, rawArgs string) string {
	if !s.allowed[name] {
		return fmt.Sprintf("Error: Unknown tool '%s'", name)
	}
	return s.reg.Execute(ctx, name, rawArgs)
}
