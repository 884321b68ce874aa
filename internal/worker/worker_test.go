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
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/opencorp/internal/config"
	internallog "github.com/tombee/opencorp/internal/log"
	"github.com/tombee/opencorp/internal/router"
	corperrors "github.com/tombee/opencorp/pkg/errors"
	"github.com/tombee/opencorp/pkg/llm"
	"github.com/tombee/opencorp/pkg/tools"
)

func testProject(t *testing.T) *config.Project {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "workers"), 0o755))
	return &config.Project{
		Dir: dir,
		Charter: &config.Charter{
			Name: "test",
			WorkerDefaults: config.WorkerDefaults{
				StartingLevel:      1,
				MaxContextTokens:   2000,
				Model:              "deepseek/deepseek-chat",
				HonestAI:           true,
				MaxHistoryMessages: 4,
			},
		},
	}
}

func writeWorker(t *testing.T, p *config.Project, name string, files map[string]string) {
	t.Helper()
	dir := filepath.Join(p.WorkersDir(), name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for file, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(content), 0o644))
	}
}

type recordingChatter struct {
	mu       sync.Mutex
	requests []router.Request
	reply    string
	err      error
}

func (c *recordingChatter) Chat(ctx context.Context, req router.Request) (*router.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if c.err != nil {
		return nil, c.err
	}
	return &router.Result{Content: c.reply, ModelUsed: "m"}, nil
}

func TestLoadMissingWorker(t *testing.T) {
	p := testProject(t)
	_, err := Load(p, "ghost")
	var nf *corperrors.WorkerNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "ghost", nf.Name)

	_, err = Load(p, "../etc")
	var ve *corperrors.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestLoadDefaultsAndCorruptFiles(t *testing.T) {
	p := testProject(t)
	writeWorker(t, p, "alice", map[string]string{
		MemoryFile: "{not json",
		SkillsFile: "role: analyst\nskills:\n  - research\n  - name: writing\n",
		ConfigFile: "level: [1, 2",
	})

	w, err := Load(p, "alice", WithLogger(internallog.Discard()))
	require.NoError(t, err)
	assert.Equal(t, "Worker: alice", w.Profile)
	assert.Empty(t, w.Memory)
	assert.Equal(t, []string{"research", "writing"}, w.Skills.Names())
	assert.Equal(t, 1, w.Level())

	_, err = os.Stat(filepath.Join(w.Dir, MemoryFile+".corrupt"))
	assert.NoError(t, err)
}

func TestLevelTier(t *testing.T) {
	p := testProject(t)
	tests := []struct {
		level int
		tier  string
	}{
		{1, "cheap"}, {2, "cheap"}, {3, "mid"}, {4, "premium"}, {5, "premium"}, {9, "cheap"},
	}
	for _, tt := range tests {
		writeWorker(t, p, "w", map[string]string{ConfigFile: "level: " + itoa(tt.level)})
		w, err := Load(p, "w")
		require.NoError(t, err)
		assert.Equal(t, tt.tier, w.Tier(), "level %d", tt.level)
	}
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "Intern", Title(1))
	assert.Equal(t, "Principal", Title(MaxLevel))
	assert.Equal(t, "Level 9", Title(9))
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestSystemPromptMemoryWindow(t *testing.T) {
	p := testProject(t)
	memory := []MemoryEntry{
		{Type: "note", Content: strings.Repeat("a", 30)},
		{Type: "note", Content: "second"},
		{Content: "third"},
	}
	data, _ := json.Marshal(memory)
	writeWorker(t, p, "bob", map[string]string{
		ProfileFile: "I am Bob.",
		SkillsFile:  "skills: [go]",
		ConfigFile:  "max_context_tokens: 10",
		MemoryFile:  string(data),
	})

	w, err := Load(p, "bob")
	require.NoError(t, err)

	// Budget is 40 characters less the header ("I am Bob." + "\nYour skills: go").
	prompt := w.SystemPrompt()
	assert.True(t, strings.HasPrefix(prompt, "I am Bob.\n\nYour skills: go"))
	assert.Contains(t, prompt, "[note] third")
	assert.NotContains(t, prompt, "second")
	assert.NotContains(t, prompt, "aaaa")
	assert.True(t, strings.HasSuffix(prompt, honestAIReminder))
}

func TestSystemPromptChronological(t *testing.T) {
	p := testProject(t)
	memory := []MemoryEntry{{Type: "interaction", Content: "first"}, {Type: "interaction", Content: "second"}}
	data, _ := json.Marshal(memory)
	writeWorker(t, p, "carol", map[string]string{MemoryFile: string(data)})
	p.Charter.WorkerDefaults.HonestAI = false

	w, err := Load(p, "carol")
	require.NoError(t, err)
	assert.Equal(t, "Worker: carol\n\nRecent context:\n[interaction] first\n[interaction] second", w.SystemPrompt())
}

func TestChatUpdatesHistoryAndMemory(t *testing.T) {
	p := testProject(t)
	writeWorker(t, p, "dave", map[string]string{ConfigFile: "level: 3\nmodel: custom/model\n"})
	fixed := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

	w, err := Load(p, "dave", WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)

	chatter := &recordingChatter{reply: strings.Repeat("r", 300)}
	history := []llm.Message{
		{Role: llm.MessageRoleUser, Content: "1"}, {Role: llm.MessageRoleAssistant, Content: "2"},
		{Role: llm.MessageRoleUser, Content: "3"}, {Role: llm.MessageRoleAssistant, Content: "4"},
		{Role: llm.MessageRoleUser, Content: "5"}, {Role: llm.MessageRoleAssistant, Content: "6"},
	}

	resp, updated, err := w.Chat(context.Background(), chatter, "hello", history)
	require.NoError(t, err)
	assert.Len(t, resp, 300)

	require.Len(t, chatter.requests, 1)
	req := chatter.requests[0]
	assert.Equal(t, "mid", req.Tier)
	assert.Equal(t, "custom/model", req.Model)
	assert.Equal(t, "dave", req.Worker)
	// system + 4 trimmed history + user
	require.Len(t, req.Messages, 6)
	assert.Equal(t, llm.MessageRoleSystem, req.Messages[0].Role)
	assert.Equal(t, "3", req.Messages[1].Content)
	assert.Equal(t, "hello", req.Messages[5].Content)

	require.Len(t, updated, 6)
	assert.Equal(t, "hello", updated[4].Content)
	assert.Equal(t, llm.MessageRoleAssistant, updated[5].Role)

	reloaded, err := Load(p, "dave")
	require.NoError(t, err)
	require.Len(t, reloaded.Memory, 2)
	assert.Equal(t, "User: hello", reloaded.Memory[0].Content)
	assert.Equal(t, "Response: "+strings.Repeat("r", 200), reloaded.Memory[1].Content)
	assert.Equal(t, MemoryInteraction, reloaded.Memory[1].Type)
	assert.Equal(t, "2025-05-01T09:00:00Z", reloaded.Memory[0].Timestamp)
}

func TestChatPropagatesBudgetError(t *testing.T) {
	p := testProject(t)
	writeWorker(t, p, "erin", nil)
	w, err := Load(p, "erin")
	require.NoError(t, err)

	chatter := &recordingChatter{err: &corperrors.BudgetExceededError{DailyLimit: 1}}
	_, _, err = w.Chat(context.Background(), chatter, "hi", nil)
	var be *corperrors.BudgetExceededError
	require.ErrorAs(t, err, &be)

	reloaded, err := Load(p, "erin")
	require.NoError(t, err)
	assert.Empty(t, reloaded.Memory)
}

func TestConcurrentMemoryWrites(t *testing.T) {
	p := testProject(t)
	writeWorker(t, p, "frank", nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w, err := Load(p, "frank")
			if assert.NoError(t, err) {
				assert.NoError(t, w.UpdateMemory(MemoryNote, "x"))
			}
		}()
	}
	wg.Wait()

	w, err := Load(p, "frank")
	require.NoError(t, err)
	assert.Len(t, w.Memory, 10)
}

type toolChatter struct {
	recordingChatter
	gotTools []llm.Tool
	executed string
}

func (c *toolChatter) ToolLoop(ctx context.Context, req router.Request, exec router.ToolExecutor, maxIterations int) (*router.Result, error) {
	c.gotTools = req.Tools
	c.executed = exec.Execute(ctx, "shell_exec", `{"command":"ls"}`)
	return &router.Result{Content: "done"}, nil
}

type namedTool struct {
	name string
	tier tools.Tier
}

func (n namedTool) Name() string                   { return n.name }
func (n namedTool) Description() string            { return n.name }
func (n namedTool) Tier() tools.Tier               { return n.tier }
func (n namedTool) Schema() *tools.ParameterSchema { return nil }

func (n namedTool) Execute(context.Context, map[string]any) (string, error) {
	return "ran " + n.name, nil
}

func TestChatWithTools(t *testing.T) {
	p := testProject(t)
	writeWorker(t, p, "gina", map[string]string{ConfigFile: "level: 2\ntools: [calculator, shell_exec]\n"})

	reg := tools.NewRegistry(internallog.Discard())
	require.NoError(t, reg.Register(namedTool{"calculator", tools.TierSafe}))
	require.NoError(t, reg.Register(namedTool{"shell_exec", tools.TierPrivileged}))

	w, err := Load(p, "gina", WithTools(reg))
	require.NoError(t, err)

	c := &toolChatter{}
	resp, _, err := w.Chat(context.Background(), c, "compute", nil)
	require.NoError(t, err)
	assert.Equal(t, "done", resp)
	require.Len(t, c.gotTools, 1)
	assert.Equal(t, "calculator", c.gotTools[0].Name)
	assert.Equal(t, "Error: Unknown tool 'shell_exec'", c.executed)
}

func TestSummarizeSession(t *testing.T) {
	p := testProject(t)
	writeWorker(t, p, "hank", nil)
	w, err := Load(p, "hank")
	require.NoError(t, err)

	c := &recordingChatter{reply: "We talked."}
	summary, err := w.SummarizeSession(context.Background(), c, nil)
	require.NoError(t, err)
	assert.Empty(t, summary)
	assert.Empty(t, c.requests)

	summary, err = w.SummarizeSession(context.Background(), c, []llm.Message{
		{Role: llm.MessageRoleUser, Content: "hi"},
		{Role: llm.MessageRoleAssistant, Content: "hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, "We talked.", summary)
	require.Len(t, c.requests, 1)
	assert.Contains(t, c.requests[0].Messages[1].Content, "User: hi\nhank: hello")
	assert.Equal(t, MemorySessionSummary, w.Memory[len(w.Memory)-1].Type)
}

func TestPerformanceSummary(t *testing.T) {
	r := func(n int) *int { return &n }
	tests := []struct {
		name    string
		entries []PerformanceEntry
		want    PerformanceSummary
	}{
		{"empty", nil, PerformanceSummary{}},
		{
			"unrated",
			[]PerformanceEntry{{Result: "completed"}, {Result: "failed"}},
			PerformanceSummary{TaskCount: 2, SuccessRate: 0.5},
		},
		{
			"three ratings have no trend",
			[]PerformanceEntry{{Result: "completed", Rating: r(2)}, {Result: "completed", Rating: r(3)}, {Result: "completed", Rating: r(5)}},
			PerformanceSummary{TaskCount: 3, AvgRating: 3.33, SuccessRate: 1, RatedCount: 3},
		},
		{
			"trend",
			[]PerformanceEntry{{Rating: r(2)}, {Rating: r(2)}, {Rating: r(4)}, {Rating: r(5), Result: "completed"}},
			PerformanceSummary{TaskCount: 4, AvgRating: 3.25, SuccessRate: 0.25, RatedCount: 4, Trend: 2.5},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, summarize(tt.entries))
		})
	}
}

func TestRecordPerformance(t *testing.T) {
	p := testProject(t)
	writeWorker(t, p, "ivy", nil)
	w, err := Load(p, "ivy")
	require.NoError(t, err)

	rating := 4
	require.NoError(t, w.RecordPerformance("write report", "completed", &rating))
	require.NoError(t, w.RecordPerformance("review", "failed", nil))

	reloaded, err := Load(p, "ivy")
	require.NoError(t, err)
	s := reloaded.Summary()
	assert.Equal(t, 2, s.TaskCount)
	assert.Equal(t, 1, s.RatedCount)
	assert.Equal(t, 4.0, s.AvgRating)
	assert.Equal(t, 0.5, s.SuccessRate)
}
