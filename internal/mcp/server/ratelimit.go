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

package server

import (
	"golang.org/x/time/rate"
)

// RateLimiter bounds tool calls per minute. Runs draw from their own bucket
// as well as the shared call bucket.
type RateLimiter struct {
	runs  *rate.Limiter
	calls *rate.Limiter
}

// NewRateLimiter allows bursts of a full minute's budget, refilled evenly.
func NewRateLimiter(runsPerMinute, callsPerMinute int) *RateLimiter {
	return &RateLimiter{
		runs:  rate.NewLimiter(rate.Limit(float64(runsPerMinute)/60), runsPerMinute),
		calls: rate.NewLimiter(rate.Limit(float64(callsPerMinute)/60), callsPerMinute),
	}
}

// AllowRun reports whether a spending call may proceed.
func (rl *RateLimiter) AllowRun() bool {
	return rl.runs.Allow()
}

// AllowCall reports whether any tool call may proceed.
func (rl *RateLimiter) AllowCall() bool {
	return rl.calls.Allow()
}
