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

package prompt

import (
	"context"
	"fmt"
)

// MockPrompter implements Prompter with scripted responses for testing.
type MockPrompter struct {
	responses    []any
	currentIndex int
	interactive  bool
	Calls        []string
}

// NewMockPrompter creates a mock prompter that answers in order.
func NewMockPrompter(interactive bool, responses ...any) *MockPrompter {
	return &MockPrompter{responses: responses, interactive: interactive}
}

// IsInteractive implements Prompter.
func (mp *MockPrompter) IsInteractive() bool { return mp.interactive }

func (mp *MockPrompter) next(call string) (any, bool, error) {
	mp.Calls = append(mp.Calls, call)
	if !mp.interactive {
		return nil, false, ErrNonInteractive
	}
	if mp.currentIndex >= len(mp.responses) {
		return nil, false, nil
	}
	resp := mp.responses[mp.currentIndex]
	mp.currentIndex++
	return resp, true, nil
}

// Input implements Prompter.
func (mp *MockPrompter) Input(ctx context.Context, message, def string) (string, error) {
	resp, ok, err := mp.next(fmt.Sprintf("Input(%s)", message))
	if err != nil || !ok {
		return def, err
	}
	s, isString := resp.(string)
	if !isString {
		return "", fmt.Errorf("mock response is not a string")
	}
	if s == "" {
		return def, nil
	}
	return s, nil
}

// Password implements Prompter.
func (mp *MockPrompter) Password(ctx context.Context, message string) (string, error) {
	resp, ok, err := mp.next(fmt.Sprintf("Password(%s)", message))
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("no scripted password")
	}
	s, isString := resp.(string)
	if !isString {
		return "", fmt.Errorf("mock response is not a string")
	}
	return s, nil
}

// Confirm implements Prompter.
func (mp *MockPrompter) Confirm(ctx context.Context, message string, def bool) (bool, error) {
	resp, ok, err := mp.next(fmt.Sprintf("Confirm(%s)", message))
	if err != nil || !ok {
		return def, err
	}
	b, isBool := resp.(bool)
	if !isBool {
		return false, fmt.Errorf("mock response is not a bool")
	}
	return b, nil
}
