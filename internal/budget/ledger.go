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

// Package budget tracks daily LLM spend against the charter's limit and
// derives the budget status that gates model selection.
package budget

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/tombee/opencorp/internal/config"
	"github.com/tombee/opencorp/internal/metrics"
	"github.com/tombee/opencorp/internal/store"
	corperrors "github.com/tombee/opencorp/pkg/errors"
)

// Collection is the store collection holding spend records.
const Collection = "spending"

// DefaultWorker is recorded when a call is not attributed to a worker.
const DefaultWorker = "system"

// DateLayout formats SpendRecord.Date.
const DateLayout = "2006-01-02"

// Status is the budget state derived from today's usage ratio.
// Values are ordered by severity.
type Status int

const (
	StatusGreen Status = iota
	StatusCaution
	StatusAusterity
	StatusCritical
	StatusFrozen
)

func (s Status) String() string {
	switch s {
	case StatusGreen:
		return "green"
	case StatusCaution:
		return "caution"
	case StatusAusterity:
		return "austerity"
	case StatusCritical:
		return "critical"
	case StatusFrozen:
		return "frozen"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ClassifyRatio maps a usage ratio to a status. Thresholds are checked from
// the most severe down, and each comparison is inclusive.
func ClassifyRatio(ratio float64, t config.Thresholds) Status {
	switch {
	case ratio >= t.Critical:
		return StatusFrozen
	case ratio >= t.Austerity:
		return StatusCritical
	case ratio >= t.Caution:
		return StatusAusterity
	case ratio >= t.Normal:
		return StatusCaution
	default:
		return StatusGreen
	}
}

// SpendRecord is one recorded model call.
type SpendRecord struct {
	Timestamp string  `json:"timestamp"`
	Date      string  `json:"date"`
	Model     string  `json:"model"`
	TokensIn  int     `json:"tokens_in"`
	TokensOut int     `json:"tokens_out"`
	Cost      float64 `json:"cost"`
	Worker    string  `json:"worker"`
}

// Report is today's spending breakdown.
type Report struct {
	Date           string             `json:"date"`
	TotalSpent     float64            `json:"total_spent"`
	DailyLimit     float64            `json:"daily_limit"`
	Remaining      float64            `json:"remaining"`
	UsageRatio     float64            `json:"usage_ratio"`
	Status         string             `json:"status"`
	ByWorker       map[string]float64 `json:"by_worker"`
	ByModel        map[string]float64 `json:"by_model"`
	TotalTokensIn  int                `json:"total_tokens_in"`
	TotalTokensOut int                `json:"total_tokens_out"`
	CallCount      int                `json:"call_count"`
}

// Ledger records spend in the document store. All reads and writes go
// through the store lock, so concurrent RecordCall calls never lose an
// update.
type Ledger struct {
	cfg    config.BudgetConfig
	coll   *store.Collection
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// NewLedger creates a ledger over the spending collection of st.
func NewLedger(cfg config.BudgetConfig, st *store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		cfg:    cfg,
		coll:   st.Collection(Collection),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Currency returns the configured currency code.
func (l *Ledger) Currency() string { return l.cfg.Currency }

// DailyLimit returns the configured daily limit.
func (l *Ledger) DailyLimit() float64 { return l.cfg.DailyLimit }

func (l *Ledger) today() string {
	return l.now().UTC().Format(DateLayout)
}

// TodaySpent sums today's costs. The sum is rounded to 1e-9 so that many
// small float costs compare equal to their decimal total.
func (l *Ledger) TodaySpent(ctx context.Context) (float64, error) {
	var total float64
	err := l.coll.Store().View(ctx, func(tx *store.Tx) error {
		var err error
		total, err = tx.SumWhere(Collection, "cost", "date", l.today())
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("summing today's spend: %w", err)
	}
	return roundNano(total), nil
}

// UsageRatio is today's spend divided by the daily limit. A non-positive
// limit counts as fully used.
func (l *Ledger) UsageRatio(ctx context.Context) (float64, error) {
	spent, err := l.TodaySpent(ctx)
	if err != nil {
		return 0, err
	}
	return l.ratio(spent), nil
}

func (l *Ledger) ratio(spent float64) float64 {
	if l.cfg.DailyLimit <= 0 {
		return 1.0
	}
	return spent / l.cfg.DailyLimit
}

// Status returns the current status without failing on FROZEN.
func (l *Ledger) Status(ctx context.Context) (Status, error) {
	spent, err := l.TodaySpent(ctx)
	if err != nil {
		return StatusGreen, err
	}
	ratio := l.ratio(spent)
	metrics.BudgetUsageRatio.Set(ratio)
	return ClassifyRatio(ratio, l.cfg.Thresholds), nil
}

// PreCheck returns the current status before a model call. A FROZEN budget
// is reported as *BudgetExceededError.
func (l *Ledger) PreCheck(ctx context.Context) (Status, error) {
	spent, err := l.TodaySpent(ctx)
	if err != nil {
		return StatusGreen, err
	}
	ratio := l.ratio(spent)
	metrics.BudgetUsageRatio.Set(ratio)

	status := ClassifyRatio(ratio, l.cfg.Thresholds)
	if status == StatusFrozen {
		return status, &corperrors.BudgetExceededError{
			Remaining:  math.Max(0, l.cfg.DailyLimit-spent),
			DailyLimit: l.cfg.DailyLimit,
		}
	}
	return status, nil
}

// CanSpend reports whether the budget is not frozen. Store errors count as
// "cannot spend".
func (l *Ledger) CanSpend(ctx context.Context) bool {
	_, err := l.PreCheck(ctx)
	return err == nil
}

// RecordCall appends a spend record. Timestamp and date are filled from the
// ledger clock; an empty worker is recorded as "system". It never returns a
// budget error, even when the call pushes spend past the limit.
func (l *Ledger) RecordCall(ctx context.Context, rec SpendRecord) error {
	now := l.now().UTC()
	rec.Timestamp = now.Format(time.RFC3339Nano)
	rec.Date = now.Format(DateLayout)
	if rec.Worker == "" {
		rec.Worker = DefaultWorker
	}

	if err := l.coll.Insert(ctx, rec); err != nil {
		l.logger.Error("failed to record spend",
			"model", rec.Model, "worker", rec.Worker, "cost", rec.Cost, "error", err)
		return fmt.Errorf("recording spend: %w", err)
	}
	metrics.SpendTotal.WithLabelValues(rec.Worker, rec.Model).Add(rec.Cost)
	l.logger.Debug("recorded spend",
		"model", rec.Model, "worker", rec.Worker, "cost", rec.Cost,
		"tokens_in", rec.TokensIn, "tokens_out", rec.TokensOut)
	return nil
}

// DailyReport returns today's spend broken down by worker and model.
func (l *Ledger) DailyReport(ctx context.Context) (*Report, error) {
	today := l.today()
	var records []SpendRecord
	if err := l.coll.Search(ctx, "date", today, &records); err != nil {
		return nil, fmt.Errorf("loading today's spend: %w", err)
	}

	report := &Report{
		Date:       today,
		DailyLimit: l.cfg.DailyLimit,
		ByWorker:   map[string]float64{},
		ByModel:    map[string]float64{},
		CallCount:  len(records),
	}
	var spent float64
	for _, r := range records {
		worker := r.Worker
		if worker == "" {
			worker = DefaultWorker
		}
		model := r.Model
		if model == "" {
			model = "unknown"
		}
		report.ByWorker[worker] += r.Cost
		report.ByModel[model] += r.Cost
		report.TotalTokensIn += r.TokensIn
		report.TotalTokensOut += r.TokensOut
		spent += r.Cost
	}
	for k, v := range report.ByWorker {
		report.ByWorker[k] = roundNano(v)
	}
	for k, v := range report.ByModel {
		report.ByModel[k] = roundNano(v)
	}

	report.TotalSpent = roundNano(spent)
	report.Remaining = math.Max(0, l.cfg.DailyLimit-report.TotalSpent)
	report.UsageRatio = l.ratio(report.TotalSpent)
	report.Status = ClassifyRatio(report.UsageRatio, l.cfg.Thresholds).String()
	return report, nil
}

func roundNano(v float64) float64 {
	return math.Round(v*1e9) / 1e9
}
