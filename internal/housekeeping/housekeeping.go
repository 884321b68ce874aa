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

// Package housekeeping enforces the charter's data retention policy.
package housekeeping

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/tombee/opencorp/internal/budget"
	"github.com/tombee/opencorp/internal/config"
	"github.com/tombee/opencorp/internal/events"
	"github.com/tombee/opencorp/internal/log"
	"github.com/tombee/opencorp/internal/store"
	"github.com/tombee/opencorp/internal/worker"
	"github.com/tombee/opencorp/pkg/workflow"
)

// Keys of the RunAll result.
const (
	KeyEvents      = "events"
	KeySpending    = "spending"
	KeyWorkflows   = "workflows"
	KeyPerformance = "performance"
)

// Housekeeper removes records older than the configured retention.
type Housekeeper struct {
	project   *config.Project
	st        *store.Store
	retention config.RetentionConfig
	logger    *slog.Logger
	now       func() time.Time
	dryRun    bool
}

// Option configures a Housekeeper.
type Option func(*Housekeeper)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Housekeeper) { h.logger = logger }
}

// WithClock overrides the time source used for cutoffs.
func WithClock(now func() time.Time) Option {
	return func(h *Housekeeper) { h.now = now }
}

// WithDryRun counts what each policy would remove and leaves the data alone.
func WithDryRun(dryRun bool) Option {
	return func(h *Housekeeper) { h.dryRun = dryRun }
}

// New creates a housekeeper for the project's store and worker files.
func New(p *config.Project, st *store.Store, opts ...Option) *Housekeeper {
	h := &Housekeeper{
		project:   p,
		st:        st,
		retention: p.Charter.Retention,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = log.WithComponent(h.logger, "housekeeping")
	return h
}

// RunAll applies every policy and reports how many records each removed.
// A failing policy is logged and reports zero.
func (h *Housekeeper) RunAll(ctx context.Context) map[string]int {
	policies := []struct {
		key string
		fn  func(context.Context) (int, error)
	}{
		{KeyEvents, h.CleanEvents},
		{KeySpending, h.CleanSpending},
		{KeyWorkflows, h.CleanWorkflows},
		{KeyPerformance, h.CleanPerformance},
	}

	results := make(map[string]int, len(policies))
	total := 0
	for _, p := range policies {
		n, err := p.fn(ctx)
		if err != nil {
			h.logger.Error("retention policy failed", "policy", p.key, log.Error(err))
		}
		results[p.key] = n
		total += n
	}
	h.logger.Info("housekeeping complete",
		"removed", total,
		"dry_run", h.dryRun,
		KeyEvents, results[KeyEvents],
		KeySpending, results[KeySpending],
		KeyWorkflows, results[KeyWorkflows],
		KeyPerformance, results[KeyPerformance],
	)
	return results
}

func (h *Housekeeper) remove(ctx context.Context, collection string, pred func(store.Document) bool) (int, error) {
	coll := h.st.Collection(collection)
	if h.dryRun {
		return coll.CountWhere(ctx, pred)
	}
	return coll.RemoveWhere(ctx, pred)
}

func (h *Housekeeper) cutoff(days int) time.Time {
	return h.now().UTC().AddDate(0, 0, -days)
}

// olderThan matches documents whose RFC 3339 field is before cutoff.
// Documents with a missing or malformed field are kept.
func olderThan(field string, cutoff time.Time) func(store.Document) bool {
	return func(d store.Document) bool {
		ts, err := time.Parse(time.RFC3339Nano, d.String(field))
		if err != nil {
			return false
		}
		return ts.Before(cutoff)
	}
}

// CleanEvents removes events older than events_days.
func (h *Housekeeper) CleanEvents(ctx context.Context) (int, error) {
	n, err := h.remove(ctx, events.Collection, olderThan("timestamp", h.cutoff(h.retention.EventsDays)))
	if err != nil {
		return 0, fmt.Errorf("cleaning events: %w", err)
	}
	return n, nil
}

// CleanSpending removes spend records dated before spending_days ago.
func (h *Housekeeper) CleanSpending(ctx context.Context) (int, error) {
	cutoff := h.cutoff(h.retention.SpendingDays).Format(budget.DateLayout)
	n, err := h.remove(ctx, budget.Collection, func(d store.Document) bool {
		date := d.String("date")
		return date != "" && date < cutoff
	})
	if err != nil {
		return 0, fmt.Errorf("cleaning spending: %w", err)
	}
	return n, nil
}

// CleanWorkflows removes workflow runs started before workflows_days ago.
func (h *Housekeeper) CleanWorkflows(ctx context.Context) (int, error) {
	n, err := h.remove(ctx, workflow.RunsCollection, olderThan("started_at", h.cutoff(h.retention.WorkflowsDays)))
	if err != nil {
		return 0, fmt.Errorf("cleaning workflow runs: %w", err)
	}
	return n, nil
}

// CleanPerformance trims every worker's performance log to
// performance_max entries, keeping the newest.
func (h *Housekeeper) CleanPerformance(ctx context.Context) (int, error) {
	names, err := worker.List(h.project)
	if err != nil {
		return 0, fmt.Errorf("listing workers: %w", err)
	}
	total := 0
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		path := filepath.Join(h.project.WorkersDir(), name, worker.PerformanceFile)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		n, err := h.trim(path)
		if err != nil {
			h.logger.Warn("failed to trim performance log", log.WorkerKey, name, log.Error(err))
			continue
		}
		total += n
	}
	return total, nil
}

func (h *Housekeeper) trim(path string) (int, error) {
	keep := h.retention.PerformanceMax
	if !h.dryRun {
		return worker.TrimJSONList(h.project.FileLocks(), path, keep, h.logger)
	}
	n, err := worker.CountJSONList(h.project.FileLocks(), path)
	if err != nil || keep < 0 || n <= keep {
		return 0, err
	}
	return n - keep, nil
}
