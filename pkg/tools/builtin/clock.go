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

package builtin

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/tombee/opencorp/pkg/tools"
)

// CurrentTime reports the current time at a UTC offset.
type CurrentTime struct {
	now func() time.Time
}

// NewCurrentTime creates the current_time tool.
func NewCurrentTime(now func() time.Time) *CurrentTime {
	return &CurrentTime{now: now}
}

func (c *CurrentTime) Name() string        { return "current_time" }
func (c *CurrentTime) Description() string { return "Get the current date and time." }
func (c *CurrentTime) Tier() tools.Tier    { return tools.TierSafe }

func (c *CurrentTime) Schema() *tools.ParameterSchema {
	return &tools.ParameterSchema{
		Type: "object",
		Properties: map[string]*tools.Property{
			"timezone_offset": {
				Type:        "string",
				Description: "UTC offset in hours (e.g. '-5', '5.5') or 'UTC'",
			},
		},
	}
}

// Execute returns an ISO 8601 timestamp. Unparseable offsets fall back to UTC.
func (c *CurrentTime) Execute(ctx context.Context, inputs map[string]any) (string, error) {
	offset := strings.TrimSpace(tools.StringInput(inputs, "timezone_offset", "UTC"))
	now := c.now().UTC()

	if offset != "UTC" && offset != "0" && offset != "" {
		if hours, err := strconv.ParseFloat(offset, 64); err == nil && hours > -24 && hours < 24 {
			secs := int(hours * 3600)
			now = now.In(time.FixedZone("", secs))
		}
	}
	return now.Format("2006-01-02T15:04:05.000000-07:00"), nil
}
