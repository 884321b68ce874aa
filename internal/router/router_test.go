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
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/opencorp/internal/budget"
	"github.com/tombee/opencorp/internal/log"
	corperrors "github.com/tombee/opencorp/pkg/errors"
	"github.com/tombee/opencorp/pkg/llm"
)

type fakeLedger struct {
	mu      sync.Mutex
	status  budget.Status
	err     error
	records []budget.SpendRecord
}

func (f *fakeLedger) PreCheck(ctx context.Context) (budget.Status, error) {
	return f.status, f.err
}

func (f *fakeLedger) RecordCall(ctx context.Context, rec budget.SpendRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

type flatPricer struct{}

// Estimate charges $1 per million tokens in and $2 per million out.
func (flatPricer) Estimate(model string, in, out int) float64 {
	return (float64(in)*1 + float64(out)*2) / 1_000_000
}

type fakeProvider struct {
	mu        sync.Mutex
	calls     []string
	responses map[string]func(req llm.CompletionRequest) (*llm.CompletionResponse, error)
	stream    []llm.StreamChunk
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.Model)
	fn := f.responses[req.Model]
	f.mu.Unlock()
	if fn == nil {
		return nil, &corperrors.ProviderError{Provider: "fake", StatusCode: http.StatusNotFound, Model: req.Model, Message: "no such model"}
	}
	return fn(req)
}

func (f *fakeProvider) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.Model)
	f.mu.Unlock()
	ch := make(chan llm.StreamChunk, len(f.stream))
	for _, c := range f.stream {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func reply(content string, in, out int) func(llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return func(llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return &llm.CompletionResponse{
			Content: content,
			Usage:   llm.TokenUsage{InputTokens: in, OutputTokens: out},
		}, nil
	}
}

var testTiers = map[string][]string{
	TierCheap:   {"cheap-a", "cheap-b"},
	TierMid:     {"mid-a"},
	TierPremium: {"prem-a"},
}

func TestSelectTiers(t *testing.T) {
	tests := []struct {
		requested string
		status    budget.Status
		want      []string
	}{
		{TierPremium, budget.StatusGreen, []string{"premium", "mid", "cheap"}},
		{TierMid, budget.StatusGreen, []string{"mid", "cheap"}},
		{TierCheap, budget.StatusGreen, []string{"cheap"}},
		{"custom", budget.StatusGreen, []string{"custom"}},
		{TierPremium, budget.StatusCaution, []string{"mid", "cheap"}},
		{TierMid, budget.StatusCaution, []string{"mid", "cheap"}},
		{TierCheap, budget.StatusCaution, []string{"cheap"}},
		{TierPremium, budget.StatusAusterity, []string{"cheap"}},
		{TierPremium, budget.StatusCritical, []string{"cheap"}},
	}
	for _, tt := range tests {
		t.Run(tt.requested+"/"+tt.status.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, SelectTiers(tt.requested, tt.status))
		})
	}
}

func TestCandidatesDedup(t *testing.T) {
	got := Candidates("cheap-b", TierMid, budget.StatusGreen, testTiers)
	assert.Equal(t, []string{"cheap-b", "mid-a", "cheap-a"}, got)

	assert.Empty(t, Candidates("", TierCheap, budget.StatusGreen, map[string][]string{}))
}

func TestCandidatesNeverMoreExpensive(t *testing.T) {
	for _, status := range []budget.Status{budget.StatusGreen, budget.StatusCaution, budget.StatusAusterity, budget.StatusCritical} {
		for _, m := range Candidates("", TierCheap, status, testTiers) {
			assert.Contains(t, testTiers[TierCheap], m)
		}
	}
}

func newTestRouter(p llm.Provider, l Ledger) *Router {
	return New(p, l, flatPricer{}, testTiers, WithLogger(log.Discard()))
}

func TestChatFailsOverAndRecordsSpend(t *testing.T) {
	p := &fakeProvider{responses: map[string]func(llm.CompletionRequest) (*llm.CompletionResponse, error){
		"mid-a": func(llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return nil, &corperrors.TimeoutError{Operation: "chat", Duration: time.Second}
		},
		"cheap-a": reply("hello", 1000, 500),
	}}
	l := &fakeLedger{}

	res, err := newTestRouter(p, l).Chat(context.Background(), Request{
		Messages: []llm.Message{{Role: llm.MessageRoleUser, Content: "hi"}},
		Tier:     TierMid,
		Worker:   "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Content)
	assert.Equal(t, "cheap-a", res.ModelUsed)
	assert.InDelta(t, 0.002, res.Cost, 1e-12)
	assert.Equal(t, []string{"mid-a", "cheap-a"}, p.calls)

	require.Len(t, l.records, 1)
	assert.Equal(t, "alice", l.records[0].Worker)
	assert.Equal(t, "cheap-a", l.records[0].Model)
	assert.Equal(t, 1000, l.records[0].TokensIn)
}

func TestChatExhausted(t *testing.T) {
	p := &fakeProvider{}
	l := &fakeLedger{}

	_, err := newTestRouter(p, l).Chat(context.Background(), Request{Tier: TierMid, Model: "override"})
	var mu *corperrors.ModelUnavailableError
	require.ErrorAs(t, err, &mu)
	assert.Equal(t, "override", mu.Model)
	assert.Equal(t, TierMid, mu.Tier)
	assert.Equal(t, []string{"override", "mid-a", "cheap-a", "cheap-b"}, mu.Tried)
	assert.Empty(t, l.records)
}

func TestChatEmptyCandidates(t *testing.T) {
	r := New(&fakeProvider{}, &fakeLedger{}, flatPricer{}, map[string][]string{}, WithLogger(log.Discard()))

	_, err := r.Chat(context.Background(), Request{Tier: TierPremium})
	var mu *corperrors.ModelUnavailableError
	require.ErrorAs(t, err, &mu)
	assert.Equal(t, "premium", mu.Model)
	assert.Empty(t, mu.Tried)
	assert.NotNil(t, mu.Tried)
}

func TestChatBudgetFrozen(t *testing.T) {
	p := &fakeProvider{}
	l := &fakeLedger{status: budget.StatusFrozen, err: &corperrors.BudgetExceededError{Remaining: 0, DailyLimit: 1}}

	_, err := newTestRouter(p, l).Chat(context.Background(), Request{})
	var be *corperrors.BudgetExceededError
	require.ErrorAs(t, err, &be)
	assert.Empty(t, p.calls)
}

func TestChatAusterityForcesCheap(t *testing.T) {
	p := &fakeProvider{responses: map[string]func(llm.CompletionRequest) (*llm.CompletionResponse, error){
		"cheap-a": reply("ok", 1, 1),
		"prem-a":  reply("expensive", 1, 1),
	}}
	l := &fakeLedger{status: budget.StatusAusterity}

	res, err := newTestRouter(p, l).Chat(context.Background(), Request{Tier: TierPremium})
	require.NoError(t, err)
	assert.Equal(t, "cheap-a", res.ModelUsed)
	assert.Equal(t, []string{"cheap-a"}, p.calls)
}

func TestChatCancelledDoesNotFailOver(t *testing.T) {
	p := &fakeProvider{responses: map[string]func(llm.CompletionRequest) (*llm.CompletionResponse, error){
		"cheap-a": func(llm.CompletionRequest) (*llm.CompletionResponse, error) { return nil, context.Canceled },
		"cheap-b": reply("never", 1, 1),
	}}

	_, err := newTestRouter(p, &fakeLedger{}).Chat(context.Background(), Request{})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, []string{"cheap-a"}, p.calls)
}

func TestStreamRecordsOnce(t *testing.T) {
	p := &fakeProvider{stream: []llm.StreamChunk{
		{Content: "Hel"},
		{Content: "lo"},
		{FinishReason: llm.FinishReasonStop, Usage: &llm.TokenUsage{InputTokens: 10, OutputTokens: 4}},
	}}
	l := &fakeLedger{}

	ch, err := newTestRouter(p, l).Stream(context.Background(), Request{Tier: TierCheap, Worker: "bob"})
	require.NoError(t, err)

	var chunks []Chunk
	for c := range ch {
		chunks = append(chunks, c)
	}
	require.Len(t, chunks, 3)
	assert.Equal(t, "Hel", chunks[0].Content)
	assert.Equal(t, "lo", chunks[1].Content)

	final := chunks[2]
	assert.True(t, final.Done)
	assert.Equal(t, "Hello", final.FullContent)
	assert.Equal(t, "cheap-a", final.ModelUsed)
	assert.Equal(t, 10, final.TokensIn)
	assert.Equal(t, 4, final.TokensOut)

	require.Len(t, l.records, 1)
	assert.Equal(t, "bob", l.records[0].Worker)
	assert.Equal(t, []string{"cheap-a"}, p.calls)
}

func TestStreamErrorChunkSkipsRecord(t *testing.T) {
	p := &fakeProvider{stream: []llm.StreamChunk{
		{Content: "par"},
		{Error: errors.New("connection reset")},
	}}
	l := &fakeLedger{}

	ch, err := newTestRouter(p, l).Stream(context.Background(), Request{})
	require.NoError(t, err)

	var last Chunk
	for c := range ch {
		last = c
	}
	assert.EqualError(t, last.Err, "connection reset")
	assert.False(t, last.Done)
	assert.Empty(t, l.records)
}

type echoExecutor struct {
	calls []string
}

func (e *echoExecutor) Execute(ctx context.Context, name, rawArgs string) string {
	e.calls = append(e.calls, name+" "+rawArgs)
	return "result of " + name
}

func TestToolLoop(t *testing.T) {
	round := 0
	var lastMessages []llm.Message
	p := &fakeProvider{responses: map[string]func(llm.CompletionRequest) (*llm.CompletionResponse, error){
		"cheap-a": func(req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			round++
			lastMessages = req.Messages
			if round == 1 {
				return &llm.CompletionResponse{
					ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "calculator", Arguments: `{"expression":"6*7"}`}},
					Usage:     llm.TokenUsage{InputTokens: 100, OutputTokens: 10},
				}, nil
			}
			return &llm.CompletionResponse{Content: "It is 42.", Usage: llm.TokenUsage{InputTokens: 150, OutputTokens: 5}}, nil
		},
	}}
	l := &fakeLedger{}
	exec := &echoExecutor{}

	res, err := newTestRouter(p, l).ToolLoop(context.Background(), Request{
		Messages: []llm.Message{{Role: llm.MessageRoleUser, Content: "what is 6*7"}},
		Tools:    []llm.Tool{{Name: "calculator"}},
	}, exec, 0)
	require.NoError(t, err)

	assert.Equal(t, "It is 42.", res.Content)
	assert.Equal(t, 2, res.ToolIterations)
	assert.Equal(t, 250, res.TokensIn)
	assert.Equal(t, 15, res.TokensOut)
	assert.Equal(t, []string{`calculator {"expression":"6*7"}`}, exec.calls)
	assert.Len(t, l.records, 2)

	require.Len(t, lastMessages, 3)
	assert.Equal(t, llm.MessageRoleAssistant, lastMessages[1].Role)
	assert.Len(t, lastMessages[1].ToolCalls, 1)
	assert.Equal(t, llm.MessageRoleTool, lastMessages[2].Role)
	assert.Equal(t, "call_1", lastMessages[2].ToolCallID)
	assert.Equal(t, "result of calculator", lastMessages[2].Content)
}

func TestToolLoopMaxIterations(t *testing.T) {
	p := &fakeProvider{responses: map[string]func(llm.CompletionRequest) (*llm.CompletionResponse, error){
		"cheap-a": func(llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return &llm.CompletionResponse{ToolCalls: []llm.ToolCall{{ID: "x", Name: "loop"}}}, nil
		},
	}}
	exec := &echoExecutor{}

	res, err := newTestRouter(p, &fakeLedger{}).ToolLoop(context.Background(), Request{}, exec, 3)
	require.NoError(t, err)
	assert.Equal(t, "Tool loop reached maximum iterations.", res.Content)
	assert.Equal(t, 3, res.ToolIterations)
	assert.Equal(t, []string{"loop {}", "loop {}", "loop {}"}, exec.calls)
}
