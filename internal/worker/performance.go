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

import "math"

// PerformanceSummary aggregates performance.json.
type PerformanceSummary struct {
	TaskCount   int     `json:"task_count"`
	AvgRating   float64 `json:"avg_rating"`
	SuccessRate float64 `json:"success_rate"`
	RatedCount  int     `json:"rated_count"`

	// Trend is the mean rating of the newer half minus the older half.
	// It stays 0 until four tasks are rated.
	Trend float64 `json:"trend"`
}

// ResultCompleted marks a successful task in performance.json.
const ResultCompleted = "completed"

// Summary computes the performance summary, rounded to two decimals.
func (w *Worker) Summary() PerformanceSummary {
	return summarize(w.Performance)
}

func summarize(entries []PerformanceEntry) PerformanceSummary {
	var rated []float64
	successes := 0
	for _, e := range entries {
		if e.Rating != nil {
			rated = append(rated, float64(*e.Rating))
		}
		if e.Result == ResultCompleted {
			successes++
		}
	}

	s := PerformanceSummary{TaskCount: len(entries), RatedCount: len(rated)}
	if len(rated) > 0 {
		s.AvgRating = round2(mean(rated))
	}
	if len(entries) > 0 {
		s.SuccessRate = round2(float64(successes) / float64(len(entries)))
	}
	if len(rated) >= 4 {
		mid := len(rated) / 2
		s.Trend = round2(mean(rated[mid:]) - mean(rated[:mid]))
	}
	return s
}

func mean(xs []float64) float64 {
	total := 0.0
	for _, x := range xs {
		total += x
	}
	return total / float64(len(xs))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
