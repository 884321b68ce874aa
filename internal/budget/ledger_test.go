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

package budget

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/opencorp/internal/config"
	internallog "github.com/tombee/opencorp/internal/log"
	"github.com/tombee/opencorp/internal/store"
	corperrors "github.com/tombee/opencorp/pkg/errors"
)

func newLedger(t *testing.T, limit float64, opts ...Option) (*Ledger, *store.Store) {
	t.Helper()
	m := store.NewManager()
	t.Cleanup(func() { m.Close() })
	st, err := m.Open(filepath.Join(t.TempDir(), "corp.db"))
	require.NoError(t, err)

	cfg := config.BudgetConfig{DailyLimit: limit, Currency: "USD", Thresholds: config.DefaultThresholds()}
	opts = append([]Option{WithLogger(internallog.Discard())}, opts...)
	return NewLedger(cfg, st, opts...), st
}

func TestClassifyRatio(t *testing.T) {
	th := config.DefaultThresholds()
	tests := []struct {
		ratio float64
		want  Status
	}{
		{0, StatusGreen},
		{0.59, StatusGreen},
		{0.60, StatusCaution},
		{0.79, StatusCaution},
		{0.80, StatusAusterity},
		{0.95, StatusCritical},
		{0.99, StatusCritical},
		{1.0, StatusFrozen},
		{2.5, StatusFrozen},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyRatio(tt.ratio, th), "ratio %v", tt.ratio)
	}
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "green", StatusGreen.String())
	assert.Equal(t, "austerity", StatusAusterity.String())
	assert.Equal(t, "frozen", StatusFrozen.String())
	assert.True(t, StatusCaution < StatusCritical)
}

func TestPreCheckThresholds(t *testing.T) {
	tests := []struct {
		name  string
		spend float64
		want  Status
	}{
		{"fresh", 0, StatusGreen},
		{"caution", 2.00, StatusCaution},
		{"austerity", 2.60, StatusAusterity},
		{"critical", 2.90, StatusCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			l, _ := newLedger(t, 3.00)
			if tt.spend > 0 {
				require.NoError(t, l.RecordCall(ctx, SpendRecord{Model: "m", Cost: tt.spend, Worker: "w"}))
			}
			got, err := l.PreCheck(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, l.CanSpend(ctx))
		})
	}
}

func TestPreCheckFrozen(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t, 3.00)
	require.NoError(t, l.RecordCall(ctx, SpendRecord{Model: "m", Cost: 2.50}))
	require.NoError(t, l.RecordCall(ctx, SpendRecord{Model: "m", Cost: 2.50}), "recording never fails on budget")

	status, err := l.PreCheck(ctx)
	assert.Equal(t, StatusFrozen, status)
	var be *corperrors.BudgetExceededError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, 0.0, be.Remaining)
	assert.Equal(t, 3.00, be.DailyLimit)
	assert.False(t, l.CanSpend(ctx))

	got, err := l.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusFrozen, got)
}

func TestZeroLimitIsFrozen(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t, 0)

	ratio, err := l.UsageRatio(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.0, ratio)
	assert.False(t, l.CanSpend(ctx))
}

func TestRecordCallDefaults(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2025, 3, 4, 23, 30, 0, 0, time.FixedZone("X", -5*3600))
	l, st := newLedger(t, 3.00, WithClock(func() time.Time { return fixed }))

	require.NoError(t, l.RecordCall(ctx, SpendRecord{Model: "m", TokensIn: 10, TokensOut: 5, Cost: 0.01}))

	var recs []SpendRecord
	require.NoError(t, st.Collection(Collection).All(ctx, &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, "2025-03-05", recs[0].Date, "dates are UTC")
	assert.Equal(t, DefaultWorker, recs[0].Worker)
	assert.Equal(t, "2025-03-05T04:30:00Z", recs[0].Timestamp)
}

func TestOnlyTodayCounts(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 2, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	l, _ := newLedger(t, 3.00, WithClock(clock))

	require.NoError(t, l.RecordCall(ctx, SpendRecord{Model: "m", Cost: 2.00}))
	now = now.Add(24 * time.Hour)
	require.NoError(t, l.RecordCall(ctx, SpendRecord{Model: "m", Cost: 0.50}))

	spent, err := l.TodaySpent(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.50, spent)
}

func TestConcurrentRecordCallsAreExact(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t, 3.00)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.RecordCall(ctx, SpendRecord{Model: "m", Cost: 0.001, Worker: "w"}))
		}()
	}
	wg.Wait()

	spent, err := l.TodaySpent(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.02, spent)
}

func TestDailyReport(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t, 3.00)
	require.NoError(t, l.RecordCall(ctx, SpendRecord{Model: "model-a", TokensIn: 100, TokensOut: 50, Cost: 0.10, Worker: "worker-1"}))
	require.NoError(t, l.RecordCall(ctx, SpendRecord{Model: "model-b", TokensIn: 200, TokensOut: 100, Cost: 0.20, Worker: "worker-2"}))
	require.NoError(t, l.RecordCall(ctx, SpendRecord{Model: "model-a", TokensIn: 150, TokensOut: 75, Cost: 0.05, Worker: "worker-1"}))

	r, err := l.DailyReport(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.35, r.TotalSpent, 1e-9)
	assert.Equal(t, 3.00, r.DailyLimit)
	assert.InDelta(t, 2.65, r.Remaining, 1e-9)
	assert.Equal(t, 3, r.CallCount)
	assert.InDelta(t, 0.15, r.ByWorker["worker-1"], 1e-9)
	assert.InDelta(t, 0.20, r.ByWorker["worker-2"], 1e-9)
	assert.InDelta(t, 0.15, r.ByModel["model-a"], 1e-9)
	assert.InDelta(t, 0.20, r.ByModel["model-b"], 1e-9)
	assert.Equal(t, 450, r.TotalTokensIn)
	assert.Equal(t, 225, r.TotalTokensOut)
	assert.Equal(t, "green", r.Status)
}

func TestDailyReportFrozen(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t, 1.00)
	require.NoError(t, l.RecordCall(ctx, SpendRecord{Model: "m", Cost: 1.50}))

	r, err := l.DailyReport(ctx)
	require.NoError(t, err)
	assert.Equal(t, "frozen", r.Status)
	assert.Equal(t, 0.0, r.Remaining)
	assert.Equal(t, 1.5, r.UsageRatio)
}
