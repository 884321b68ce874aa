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
	"errors"
	"fmt"
	"io"
	"os"

	corperrors "github.com/tombee/opencorp/pkg/errors"
)

// Exit codes for corp commands
const (
	ExitSuccess         = 0
	ExitExecutionFailed = 1
	ExitInvalidInput    = 2
	ExitBudgetFrozen    = 3
	ExitNotFound        = 4
)

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error

	// Quiet means the command already reported the failure; only the exit
	// code is applied.
	Quiet bool
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		if e.Message == "" {
			return e.Cause.Error()
		}
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewExecutionError creates an error for runtime failures
func NewExecutionError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitExecutionFailed, Message: msg, Cause: cause}
}

// NewInvalidInputError creates an error for bad flags, arguments or definitions
func NewInvalidInputError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitInvalidInput, Message: msg, Cause: cause}
}

// NewNotFoundError creates an error for missing workers, runs or tasks
func NewNotFoundError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitNotFound, Message: msg, Cause: cause}
}

// ExitCode maps an error to the process exit code. An ExitError anywhere in
// the chain wins; otherwise the domain error type decides.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	var (
		budgetErr    *corperrors.BudgetExceededError
		validation   *corperrors.ValidationError
		configErr    *corperrors.ConfigError
		workflowErr  *corperrors.WorkflowError
		schedulerErr *corperrors.SchedulerError
		notFound     *corperrors.NotFoundError
		workerErr    *corperrors.WorkerNotFoundError
	)
	switch {
	case errors.As(err, &budgetErr):
		return ExitBudgetFrozen
	case errors.As(err, &notFound), errors.As(err, &workerErr):
		return ExitNotFound
	case errors.As(err, &validation), errors.As(err, &configErr),
		errors.As(err, &workflowErr), errors.As(err, &schedulerErr):
		return ExitInvalidInput
	}
	return ExitExecutionFailed
}

// HandleExitError prints err and its suggestion, if any, then exits with the
// mapped code.
func HandleExitError(err error) {
	if err == nil {
		return
	}
	var ee *ExitError
	switch {
	case errors.As(err, &ee) && ee.Quiet:
	case GetJSON():
		EmitJSONError(os.Stdout, "", err)
	default:
		printError(os.Stderr, err)
	}
	os.Exit(ExitCode(err))
}

func printError(w io.Writer, err error) {
	if msg := err.Error(); msg != "" {
		fmt.Fprintln(w, RenderError("Error: "+msg))
	}
	if suggestion := corperrors.SuggestionOf(err); suggestion != "" {
		fmt.Fprintf(w, "\nSuggestion: %s\n", suggestion)
	}
}
