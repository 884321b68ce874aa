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
	"errors"
	"log/slog"

	"github.com/tombee/opencorp/internal/config"
	corperrors "github.com/tombee/opencorp/pkg/errors"
	"github.com/tombee/opencorp/pkg/tools"
)

// Runner runs single-turn tasks by worker name. The workflow engine and the
// scheduler use it.
type Runner struct {
	project  *config.Project
	chatter  Chatter
	tools    *tools.Registry
	logger   *slog.Logger
	selector *Selector
}

// NewRunner creates a runner. reg may be nil to run without tools.
func NewRunner(p *config.Project, c Chatter, reg *tools.Registry, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{project: p, chatter: c, tools: reg, logger: logger, selector: NewSelector(p)}
}

// ErrNoWorkers is returned for the auto worker when the project has none.
var ErrNoWorkers = errors.New("no workers available for auto-routing")

// Resolve maps the auto worker to a concrete name.
func (r *Runner) Resolve(name, message string) (string, error) {
	if name != AutoWorker {
		return name, nil
	}
	selected, ok := r.selector.Select(message, nil)
	if !ok {
		return "", ErrNoWorkers
	}
	r.logger.Debug("auto-routed task", "worker", selected)
	return selected, nil
}

// RunTask loads the worker and runs one message with no history.
func (r *Runner) RunTask(ctx context.Context, name, message string) (string, error) {
	name, err := r.Resolve(name, message)
	if err != nil {
		return "", err
	}
	w, err := Load(r.project, name, WithTools(r.tools), WithLogger(r.logger))
	if err != nil {
		return "", err
	}
	response, _, err := w.Chat(ctx, r.chatter, message, nil)
	r.record(w, message, err)
	return response, err
}

// ResultFailed marks a task that returned an error.
const ResultFailed = "failed"

// record appends the outcome to the worker's performance history. Budget
// refusals and cancellations say nothing about the worker and are skipped.
func (r *Runner) record(w *Worker, message string, err error) {
	var budgetErr *corperrors.BudgetExceededError
	if errors.As(err, &budgetErr) || errors.Is(err, context.Canceled) {
		return
	}
	result := ResultCompleted
	if err != nil {
		result = ResultFailed
	}
	if perr := w.RecordPerformance(truncateRunes(message, memorySnippetChars), result, nil); perr != nil {
		r.logger.Warn("failed to record performance", "worker", w.Name, "error", perr)
	}
}
