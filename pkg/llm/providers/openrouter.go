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

// Package providers contains concrete implementations of LLM providers.
package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	corperrors "github.com/tombee/opencorp/pkg/errors"
	"github.com/tombee/opencorp/pkg/httpclient"
	"github.com/tombee/opencorp/pkg/llm"
)

const (
	// OpenRouterBaseURL is the public OpenRouter API.
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"

	openRouterName = "openrouter"

	defaultReferer = "https://github.com/open-corp"
	defaultTitle   = "open-corp"
)

// OpenRouterConfig configures NewOpenRouter.
type OpenRouterConfig struct {
	APIKey string

	// BaseURL overrides OpenRouterBaseURL. Used by tests.
	BaseURL string

	// Referer and Title are sent as HTTP-Referer and X-Title.
	Referer string
	Title   string

	// ChatTimeout bounds a non-streaming completion. Default: 60s.
	ChatTimeout time.Duration

	// StreamTimeout bounds a whole streaming completion. Default: 120s.
	StreamTimeout time.Duration

	// ModelsTimeout bounds a model listing request. Default: 15s.
	ModelsTimeout time.Duration

	Logger *slog.Logger
}

// OpenRouter implements llm.Provider and llm.ModelLister against the
// OpenRouter chat completions API.
type OpenRouter struct {
	apiKey        string
	baseURL       string
	referer       string
	title         string
	modelsTimeout time.Duration

	chatClient   *http.Client
	streamClient *http.Client
	logger       *slog.Logger
}

var (
	_ llm.Provider    = (*OpenRouter)(nil)
	_ llm.ModelLister = (*OpenRouter)(nil)
)

// NewOpenRouter creates an OpenRouter provider.
// The API key may be empty for model listing, which is unauthenticated.
func NewOpenRouter(cfg OpenRouterConfig) (*OpenRouter, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = OpenRouterBaseURL
	}
	if cfg.Referer == "" {
		cfg.Referer = defaultReferer
	}
	if cfg.Title == "" {
		cfg.Title = defaultTitle
	}
	if cfg.ChatTimeout <= 0 {
		cfg.ChatTimeout = 60 * time.Second
	}
	if cfg.StreamTimeout <= 0 {
		cfg.StreamTimeout = 120 * time.Second
	}
	if cfg.ModelsTimeout <= 0 {
		cfg.ModelsTimeout = 15 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Failover across models is the router's job, so the transport does not retry.
	chatCfg := httpclient.DefaultConfig()
	chatCfg.Timeout = cfg.ChatTimeout
	chatCfg.RetryAttempts = 0
	chatCfg.Logger = logger
	chatClient, err := httpclient.New(chatCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	streamCfg := chatCfg
	streamCfg.Timeout = cfg.StreamTimeout
	streamClient, err := httpclient.New(streamCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming HTTP client: %w", err)
	}

	return &OpenRouter{
		apiKey:        cfg.APIKey,
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		referer:       cfg.Referer,
		title:         cfg.Title,
		modelsTimeout: cfg.ModelsTimeout,
		chatClient:    chatClient,
		streamClient:  streamClient,
		logger:        logger,
	}, nil
}

// Name returns the provider identifier.
func (p *OpenRouter) Name() string {
	return openRouterName
}

// Wire types for the OpenAI-compatible chat completions API.

type orRequest struct {
	Model       string      `json:"model"`
	Messages    []orMessage `json:"messages"`
	Tools       []orTool    `json:"tools,omitempty"`
	Temperature *float64    `json:"temperature,omitempty"`
	MaxTokens   *int        `json:"max_tokens,omitempty"`
	Stream      bool        `json:"stream,omitempty"`
}

type orMessage struct {
	Role       string       `json:"role"`
	Content    string       `json:"content"`
	ToolCalls  []orToolCall `json:"tool_calls,omitempty"`
	ToolCallID string       `json:"tool_call_id,omitempty"`
	Name       string       `json:"name,omitempty"`
}

type orTool struct {
	Type     string         `json:"type"`
	Function orToolFunction `json:"function"`
}

type orToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type orToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type orUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type orResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content   string       `json:"content"`
			ToolCalls []orToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *orUsage `json:"usage"`
}

type orStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *orUsage `json:"usage"`
}

type orErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

type orModelsResponse struct {
	Data []struct {
		ID            string `json:"id"`
		Name          string `json:"name"`
		ContextLength int    `json:"context_length"`
		Pricing       struct {
			Prompt     string `json:"prompt"`
			Completion string `json:"completion"`
		} `json:"pricing"`
	} `json:"data"`
}

// Complete sends a synchronous completion request.
func (p *OpenRouter) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	requestID := uuid.New().String()

	httpReq, err := p.newChatRequest(ctx, req, false, requestID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := p.chatClient.Do(httpReq)
	if err != nil {
		return nil, p.transportError(err, req.Model, requestID, "chat completion", time.Since(start))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, p.transportError(err, req.Model, requestID, "chat completion", time.Since(start))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp.StatusCode, body, req.Model, requestID)
	}

	var apiResp orResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, &corperrors.ProviderError{
			Provider:   openRouterName,
			Model:      req.Model,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("failed to parse response: %v", err),
			RequestID:  requestID,
			Cause:      err,
		}
	}
	if len(apiResp.Choices) == 0 {
		return nil, &corperrors.ProviderError{
			Provider:   openRouterName,
			Model:      req.Model,
			StatusCode: resp.StatusCode,
			Message:    "response contained no choices",
			RequestID:  requestID,
		}
	}

	choice := apiResp.Choices[0]
	out := &llm.CompletionResponse{
		Content:      choice.Message.Content,
		FinishReason: mapFinishReason(choice.FinishReason),
		Model:        apiResp.Model,
		RequestID:    requestID,
	}
	if out.Model == "" {
		out.Model = req.Model
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	if apiResp.Usage != nil {
		out.Usage = toUsage(*apiResp.Usage)
	}
	return out, nil
}

// Stream sends a streaming completion request. Content deltas are delivered
// as they arrive; the last chunk carries the finish reason and, when the
// backend reported it, token usage.
func (p *OpenRouter) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	requestID := uuid.New().String()

	httpReq, err := p.newChatRequest(ctx, req, true, requestID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := p.streamClient.Do(httpReq)
	if err != nil {
		return nil, p.transportError(err, req.Model, requestID, "streaming chat completion", time.Since(start))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, statusError(resp.StatusCode, body, req.Model, requestID)
	}

	chunks := make(chan llm.StreamChunk, 16)
	go p.processStream(ctx, resp.Body, chunks)
	return chunks, nil
}

// processStream reads "data: " lines until [DONE] or EOF. Lines that are not
// valid JSON are skipped.
func (p *OpenRouter) processStream(ctx context.Context, body io.ReadCloser, chunks chan<- llm.StreamChunk) {
	defer close(chunks)
	defer body.Close()

	var usage *llm.TokenUsage
	finish := llm.FinishReasonStop

	send := func(c llm.StreamChunk) bool {
		select {
		case chunks <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			break
		}

		var chunk orStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			p.logger.Debug("skipping malformed stream chunk", "error", err)
			continue
		}
		if chunk.Usage != nil {
			u := toUsage(*chunk.Usage)
			usage = &u
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if fr := chunk.Choices[0].FinishReason; fr != "" {
			finish = mapFinishReason(fr)
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			if !send(llm.StreamChunk{Content: delta}) {
				return
			}
		}
	}

	if err := scanner.Err(); err != nil {
		send(llm.StreamChunk{
			Error:        fmt.Errorf("stream read error: %w", err),
			FinishReason: llm.FinishReasonError,
		})
		return
	}
	if ctx.Err() != nil {
		send(llm.StreamChunk{Error: ctx.Err(), FinishReason: llm.FinishReasonError})
		return
	}

	send(llm.StreamChunk{FinishReason: finish, Usage: usage})
}

// ListModels fetches the model catalogue. Prices are converted from the
// per-token strings the API returns to per-million floats.
func (p *OpenRouter) ListModels(ctx context.Context) ([]llm.ModelInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, p.modelsTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	start := time.Now()
	resp, err := p.chatClient.Do(httpReq)
	if err != nil {
		return nil, p.transportError(err, "", "", "model listing", time.Since(start))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, p.transportError(err, "", "", "model listing", time.Since(start))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp.StatusCode, body, "", "")
	}

	var parsed orModelsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &corperrors.ProviderError{
			Provider:   openRouterName,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("failed to parse model list: %v", err),
			Cause:      err,
		}
	}

	models := make([]llm.ModelInfo, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		if m.ID == "" {
			continue
		}
		models = append(models, llm.ModelInfo{
			ID:                   m.ID,
			Name:                 m.Name,
			ContextLength:        m.ContextLength,
			PromptPerMillion:     perMillion(m.Pricing.Prompt),
			CompletionPerMillion: perMillion(m.Pricing.Completion),
		})
	}
	return models, nil
}

func (p *OpenRouter) newChatRequest(ctx context.Context, req llm.CompletionRequest, stream bool, requestID string) (*http.Request, error) {
	if len(req.Messages) == 0 {
		return nil, &corperrors.ValidationError{
			Field:      "messages",
			Message:    "completion request must have at least one message",
			Suggestion: "Add at least one message to the completion request",
		}
	}
	if req.Model == "" {
		return nil, &corperrors.ValidationError{Field: "model", Message: "model is required"}
	}

	apiReq := orRequest{
		Model:       req.Model,
		Messages:    toWireMessages(req.Messages),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
	for _, t := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, orTool{
			Type: "function",
			Function: orToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, &corperrors.ProviderError{
			Provider:  openRouterName,
			Model:     req.Model,
			Message:   fmt.Sprintf("failed to marshal request: %v", err),
			RequestID: requestID,
			Cause:     err,
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("HTTP-Referer", p.referer)
	httpReq.Header.Set("X-Title", p.title)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	return httpReq, nil
}

// transportError classifies a failed round trip. Timeouts become
// TimeoutError, everything else a ProviderError with no status.
func (p *OpenRouter) transportError(err error, model, requestID, op string, elapsed time.Duration) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &corperrors.TimeoutError{
			Operation: openRouterName + " " + op,
			Duration:  elapsed.Round(time.Millisecond),
			Cause:     err,
		}
	}
	return &corperrors.ProviderError{
		Provider:  openRouterName,
		Model:     model,
		Message:   fmt.Sprintf("request failed: %v", err),
		RequestID: requestID,
		Cause:     err,
	}
}

func statusError(status int, body []byte, model, requestID string) error {
	msg := fmt.Sprintf("API request failed with status %d", status)
	var errResp orErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		msg = errResp.Error.Message
	} else if len(body) > 0 {
		msg = fmt.Sprintf("%s: %s", msg, truncateBody(body, 200))
	}
	return &corperrors.ProviderError{
		Provider:   openRouterName,
		Model:      model,
		StatusCode: status,
		Message:    msg,
		Suggestion: suggestionForStatus(status),
		RequestID:  requestID,
	}
}

func suggestionForStatus(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "Check OPENROUTER_API_KEY or run 'corp auth set-key'"
	case http.StatusPaymentRequired:
		return "Your OpenRouter account has insufficient credits"
	case http.StatusNotFound:
		return "Check the model id in charter.yaml against 'corp models refresh'"
	case http.StatusTooManyRequests:
		return "Rate limited by OpenRouter. Retry after a short delay"
	}
	if status >= 500 {
		return "OpenRouter is experiencing issues. Retry after a short delay"
	}
	return ""
}

func truncateBody(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

func toWireMessages(msgs []llm.Message) []orMessage {
	out := make([]orMessage, len(msgs))
	for i, m := range msgs {
		wm := orMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		for _, tc := range m.ToolCalls {
			var w orToolCall
			w.ID = tc.ID
			w.Type = "function"
			w.Function.Name = tc.Name
			w.Function.Arguments = tc.Arguments
			wm.ToolCalls = append(wm.ToolCalls, w)
		}
		out[i] = wm
	}
	return out
}

func toUsage(u orUsage) llm.TokenUsage {
	total := u.TotalTokens
	if total == 0 {
		total = u.PromptTokens + u.CompletionTokens
	}
	return llm.TokenUsage{
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
		TotalTokens:  total,
	}
}

func mapFinishReason(s string) llm.FinishReason {
	switch s {
	case "length":
		return llm.FinishReasonLength
	case "tool_calls", "function_call":
		return llm.FinishReasonToolCalls
	case "error":
		return llm.FinishReasonError
	default:
		return llm.FinishReasonStop
	}
}

// perMillion converts a per-token price string to a per-million float.
// Unparseable or empty prices count as zero.
func perMillion(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v * 1_000_000
}
