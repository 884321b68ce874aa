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

package shared

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	corperrors "github.com/tombee/opencorp/pkg/errors"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain", errors.New("boom"), ExitExecutionFailed},
		{"budget", &corperrors.BudgetExceededError{DailyLimit: 3}, ExitBudgetFrozen},
		{"wrapped budget", fmt.Errorf("chat: %w", &corperrors.BudgetExceededError{}), ExitBudgetFrozen},
		{"validation", &corperrors.ValidationError{Field: "name", Message: "bad"}, ExitInvalidInput},
		{"config", &corperrors.ConfigError{Reason: "missing"}, ExitInvalidInput},
		{"workflow", &corperrors.WorkflowError{Workflow: "w", Reason: "Workflow has no nodes"}, ExitInvalidInput},
		{"scheduler", &corperrors.SchedulerError{TaskID: "new", Reason: "bad cron"}, ExitInvalidInput},
		{"worker missing", &corperrors.WorkerNotFoundError{Name: "ghost"}, ExitNotFound},
		{"not found", &corperrors.NotFoundError{Resource: "run", ID: "abc"}, ExitNotFound},
		{"explicit exit error", NewNotFoundError("no such task", nil), ExitNotFound},
		{"exit error wins", NewExecutionError("x", &corperrors.BudgetExceededError{}), ExitExecutionFailed},
		{"model unavailable", &corperrors.ModelUnavailableError{Model: "cheap", Tier: "cheap"}, ExitExecutionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestExitErrorMessage(t *testing.T) {
	assert.Equal(t, "loading: boom", NewExecutionError("loading", errors.New("boom")).Error())
	assert.Equal(t, "boom", (&ExitError{Cause: errors.New("boom")}).Error())
	assert.Equal(t, "plain", NewInvalidInputError("plain", nil).Error())

	inner := errors.New("inner")
	assert.ErrorIs(t, NewExecutionError("outer", inner), inner)
}

func TestPrintErrorIncludesSuggestion(t *testing.T) {
	var buf bytes.Buffer
	printError(&buf, fmt.Errorf("chat: %w", &corperrors.WorkerNotFoundError{Name: "ghost"}))

	out := buf.String()
	assert.Contains(t, out, "Error: chat: Worker 'ghost' not found")
	assert.Contains(t, out, "Suggestion: Run 'corp workers' to see available workers.")
}

func TestEmitJSONError(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EmitJSONError(&buf, "chat", &corperrors.WorkerNotFoundError{Name: "ghost"}))

	var got struct {
		Version string `json:"@version"`
		Command string `json:"command"`
		Success bool   `json:"success"`
		Error   struct {
			Code       int    `json:"code"`
			Message    string `json:"message"`
			Suggestion string `json:"suggestion"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "1.0", got.Version)
	assert.Equal(t, "chat", got.Command)
	assert.False(t, got.Success)
	assert.Equal(t, ExitNotFound, got.Error.Code)
	assert.Contains(t, got.Error.Message, "ghost")
	assert.NotEmpty(t, got.Error.Suggestion)
}

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{400 * time.Millisecond, "0s"},
		{12 * time.Second, "12s"},
		{2 * time.Minute, "2m"},
		{83 * time.Second, "1m 23s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatElapsed(tt.d))
	}
}
