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

// Package prompt asks the user for values the CLI could not get from flags.
// Every prompt fails in non-interactive mode instead of blocking on stdin.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/AlecAivazis/survey/v2"
)

// ErrNonInteractive is returned when a prompt is needed but stdin or stdout
// is not a terminal.
var ErrNonInteractive = errors.New("cannot prompt in non-interactive mode")

// MaxInputSize bounds a single answer.
const MaxInputSize = 65536

// Prompter collects single values from the user.
// Implementations include SurveyPrompter (production) and MockPrompter (testing).
type Prompter interface {
	// Input asks for a line of text. def is returned for an empty answer.
	Input(ctx context.Context, message, def string) (string, error)

	// Password asks for a secret without echoing it.
	Password(ctx context.Context, message string) (string, error)

	// Confirm asks a yes/no question.
	Confirm(ctx context.Context, message string, def bool) (bool, error)

	// IsInteractive returns true if prompts can be displayed
	IsInteractive() bool
}

// SurveyPrompter implements Prompter using the survey library.
type SurveyPrompter struct {
	interactive bool
}

// NewSurveyPrompter creates a new survey-based prompter.
func NewSurveyPrompter(interactive bool) *SurveyPrompter {
	return &SurveyPrompter{interactive: interactive}
}

// IsInteractive implements Prompter.
func (sp *SurveyPrompter) IsInteractive() bool {
	return sp.interactive
}

// Input implements Prompter.
func (sp *SurveyPrompter) Input(ctx context.Context, message, def string) (string, error) {
	if !sp.interactive {
		return "", ErrNonInteractive
	}
	var result string
	err := survey.AskOne(&survey.Input{Message: message, Default: def}, &result,
		survey.WithValidator(validateSize))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(result), nil
}

// Password implements Prompter. Empty answers are rejected.
func (sp *SurveyPrompter) Password(ctx context.Context, message string) (string, error) {
	if !sp.interactive {
		return "", ErrNonInteractive
	}
	var result string
	err := survey.AskOne(&survey.Password{Message: message}, &result,
		survey.WithValidator(survey.Required), survey.WithValidator(validateSize))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(result), nil
}

// Confirm implements Prompter.
func (sp *SurveyPrompter) Confirm(ctx context.Context, message string, def bool) (bool, error) {
	if !sp.interactive {
		return false, ErrNonInteractive
	}
	result := def
	if err := survey.AskOne(&survey.Confirm{Message: message, Default: def}, &result); err != nil {
		return false, err
	}
	return result, nil
}

func validateSize(ans interface{}) error {
	if s, ok := ans.(string); ok && len(s) > MaxInputSize {
		return fmt.Errorf("input exceeds %d bytes", MaxInputSize)
	}
	return nil
}
