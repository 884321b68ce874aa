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

package setup

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/charmbracelet/huh"

	"github.com/tombee/opencorp/internal/commands/shared"
)

// runForm asks for every answer not already given by flags. Replaced in
// tests.
var runForm = func(a *Answers, accessible bool) error {
	limit := strconv.FormatFloat(a.DailyLimit, 'f', 2, 64)

	required := func(field string) func(string) error {
		return func(s string) error {
			if s == "" {
				return fmt.Errorf("%s is required", field)
			}
			return nil
		}
	}

	form := NewThemedForm(
		huh.NewGroup(
			huh.NewInput().Title("Project name").Validate(required("name")).Value(&a.Name),
			huh.NewInput().Title("Owner name").Validate(required("owner")).Value(&a.Owner),
			huh.NewInput().Title("Mission statement").Validate(required("mission")).Value(&a.Mission),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Daily budget (USD)").
				Validate(func(s string) error {
					v, err := strconv.ParseFloat(s, 64)
					if err != nil {
						return errors.New("enter a valid number")
					}
					if v <= 0 {
						return errors.New("budget must be positive")
					}
					return nil
				}).
				Value(&limit),
			huh.NewInput().
				Title("OpenRouter API key").
				Description("Optional. Written to .env; 'corp auth set-key' stores it in the keychain instead.").
				EchoMode(huh.EchoModePassword).
				Value(&a.APIKey),
		),
	).WithAccessible(accessible)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return shared.NewInvalidInputError("init cancelled", err)
		}
		return fmt.Errorf("form cancelled: %w", err)
	}
	v, err := strconv.ParseFloat(limit, 64)
	if err != nil {
		return shared.NewInvalidInputError("invalid daily budget", err)
	}
	a.DailyLimit = v
	return nil
}

// confirmOverwrite asks before replacing an existing charter. Replaced in
// tests.
var confirmOverwrite = func(path string, accessible bool) (bool, error) {
	var ok bool
	err := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().Title(path + " already exists. Overwrite?").Value(&ok),
	)).WithTheme(Theme()).WithAccessible(accessible).Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return false, nil
	}
	return ok, err
}
