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

package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCronErrors(t *testing.T) {
	tests := []string{
		"",
		"* * * *",
		"60 * * * *",
		"* 24 * * *",
		"* * 0 * *",
		"* * * 13 *",
		"* * * * 8",
		"*/0 * * * *",
		"5-1 * * * *",
		"a * * * *",
		"* * * foo *",
	}
	for _, expr := range tests {
		_, err := ParseCron(expr)
		assert.Error(t, err, "expr %q", expr)
	}
}

func TestCronNext(t *testing.T) {
	// 2025-03-05 is a Wednesday.
	from := time.Date(2025, 3, 5, 10, 17, 30, 0, time.UTC)
	tests := []struct {
		expr string
		want time.Time
	}{
		{"* * * * *", time.Date(2025, 3, 5, 10, 18, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2025, 3, 5, 10, 30, 0, 0, time.UTC)},
		{"0 * * * *", time.Date(2025, 3, 5, 11, 0, 0, 0, time.UTC)},
		{"@hourly", time.Date(2025, 3, 5, 11, 0, 0, 0, time.UTC)},
		{"@daily", time.Date(2025, 3, 6, 0, 0, 0, 0, time.UTC)},
		{"0 9 * * 1-5", time.Date(2025, 3, 6, 9, 0, 0, 0, time.UTC)},
		{"0 9 * * sat", time.Date(2025, 3, 8, 9, 0, 0, 0, time.UTC)},
		{"0 0 * * 7", time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC)},
		{"0 0 1 * *", time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)},
		{"30 8 1 jan *", time.Date(2026, 1, 1, 8, 30, 0, 0, time.UTC)},
		{"5/20 10 * * *", time.Date(2025, 3, 5, 10, 25, 0, 0, time.UTC)},
		{"0 12 7 * mon", time.Date(2025, 3, 7, 12, 0, 0, 0, time.UTC)},
		{"0 0 29 2 *", time.Date(2028, 2, 29, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			c, err := ParseCron(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Next(from))
		})
	}
}

func TestCronNextIsStrictlyAfter(t *testing.T) {
	c, err := ParseCron("30 10 * * *")
	require.NoError(t, err)
	at := time.Date(2025, 3, 5, 10, 30, 0, 0, time.UTC)
	assert.Equal(t, at.AddDate(0, 0, 1), c.Next(at))
}
