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

package router

import "github.com/tombee/opencorp/internal/budget"

// Canonical tier names.
const (
	TierCheap   = "cheap"
	TierMid     = "mid"
	TierPremium = "premium"
)

// fallbackOrder runs from most to least expensive.
var fallbackOrder = []string{TierPremium, TierMid, TierCheap}

// SelectTiers returns the tiers to try for a request, in order. Budget
// pressure narrows the list toward cheap; a healthy budget allows the
// requested tier and every cheaper one, never a more expensive tier.
func SelectTiers(requested string, status budget.Status) []string {
	switch status {
	case budget.StatusAusterity, budget.StatusCritical, budget.StatusFrozen:
		return []string{TierCheap}
	case budget.StatusCaution:
		switch requested {
		case TierPremium:
			return []string{TierMid, TierCheap}
		case TierCheap:
			return []string{TierCheap}
		default:
			return []string{requested, TierCheap}
		}
	}

	var tiers []string
	found := false
	for _, t := range fallbackOrder {
		if t == requested {
			found = true
		}
		if found {
			tiers = append(tiers, t)
		}
	}
	if len(tiers) == 0 {
		return []string{requested}
	}
	return tiers
}

// Candidates builds the ordered, de-duplicated model list: the explicit
// model first, then every model of each selected tier.
func Candidates(model, tier string, status budget.Status, tiers map[string][]string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(m string) {
		if m == "" || seen[m] {
			return
		}
		seen[m] = true
		out = append(out, m)
	}

	add(model)
	for _, t := range SelectTiers(tier, status) {
		for _, m := range tiers[t] {
			add(m)
		}
	}
	return out
}
