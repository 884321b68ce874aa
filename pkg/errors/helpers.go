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

package errors

import (
	"errors"
	"fmt"
)

// Suggester is implemented by errors that carry a remediation hint.
type Suggester interface {
	error
	Suggestion() string
}

// Wrap creates a new error that wraps the given error with additional context.
// If err is nil, returns nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf creates a new error that wraps the given error with formatted context.
// If err is nil, returns nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	message := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", message, err)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target type.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New creates a new error with the given message.
func New(message string) error {
	return errors.New(message)
}

// SuggestionOf walks err's tree and returns the first remediation hint found,
// or "" when none of the wrapped errors carries one.
func SuggestionOf(err error) string {
	var s Suggester
	if errors.As(err, &s) && s.Suggestion() != "" {
		return s.Suggestion()
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Suggestion
	}
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ce.Suggestion
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Suggestion
	}
	return ""
}
