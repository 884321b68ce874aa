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
	"strings"

	"github.com/tombee/opencorp/internal/config"
)

// Score weights for Select.
const (
	skillWeight       = 0.5
	performanceWeight = 0.35
	seniorityWeight   = 0.15
	seniorityPerLevel = 0.04
	unratedScore      = 0.5
)

// Selector picks the worker best suited to a task description.
type Selector struct {
	project *config.Project
}

// NewSelector creates a selector over the project's workers.
func NewSelector(p *config.Project) *Selector {
	return &Selector{project: p}
}

// Select scores each candidate by keyword overlap with its skills and role,
// its average rating and its level, and returns the best. A nil candidates
// list considers every worker. ok is false when nobody qualifies.
func (s *Selector) Select(task string, candidates []string) (name string, ok bool) {
	names, err := List(s.project)
	if err != nil || len(names) == 0 {
		return "", false
	}
	if candidates != nil {
		allowed := make(map[string]bool, len(candidates))
		for _, c := range candidates {
			allowed[c] = true
		}
		filtered := names[:0]
		for _, n := range names {
			if allowed[n] {
				filtered = append(filtered, n)
			}
		}
		names = filtered
	}

	taskWords := wordSet(task)
	best := -1.0
	for _, n := range names {
		w, err := Load(s.project, n)
		if err != nil {
			continue
		}
		if score := Score(w, taskWords); score > best {
			best = score
			name = n
		}
	}
	return name, name != ""
}

// Score rates one worker against the lower-cased words of a task.
func Score(w *Worker, taskWords map[string]bool) float64 {
	skillWords := map[string]bool{}
	for _, sk := range w.Skills.Names() {
		for word := range wordSet(sk) {
			skillWords[word] = true
		}
	}
	for word := range wordSet(w.Skills.Role) {
		skillWords[word] = true
	}

	skill := 0.0
	if len(skillWords) > 0 && len(taskWords) > 0 {
		overlap := 0
		for word := range taskWords {
			if skillWords[word] {
				overlap++
			}
		}
		skill = float64(overlap) / float64(len(taskWords))
	}

	perf := unratedScore
	if summary := w.Summary(); summary.RatedCount > 0 {
		perf = summary.AvgRating / 5.0
	}

	seniority := float64(w.Level()) * seniorityPerLevel
	return skill*skillWeight + perf*performanceWeight + seniority*seniorityWeight
}

func wordSet(s string) map[string]bool {
	out := map[string]bool{}
	for _, word := range strings.Fields(strings.ToLower(s)) {
		out[word] = true
	}
	return out
}
