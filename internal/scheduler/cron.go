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
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CronExpr is a parsed five-field cron expression.
type CronExpr struct {
	minute     fieldSet
	hour       fieldSet
	dayOfMonth fieldSet
	month      fieldSet
	dayOfWeek  fieldSet
	// domStar and dowStar record an unrestricted field. When both day
	// fields are restricted a time matches if either one does.
	domStar bool
	dowStar bool
}

// fieldSet has bit i set when value i is allowed.
type fieldSet uint64

func (f fieldSet) has(v int) bool { return f&(1<<uint(v)) != 0 }

var macros = map[string]string{
	"@hourly":   "0 * * * *",
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@weekly":   "0 0 * * 0",
	"@monthly":  "0 0 1 * *",
	"@yearly":   "0 0 1 1 *",
	"@annually": "0 0 1 1 *",
}

var monthNames = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

var dayNames = map[string]int{
	"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
}

// ParseCron parses "minute hour day-of-month month day-of-week". Fields
// accept *, lists, ranges and steps; month and weekday also accept
// three-letter names. Day-of-week 7 is Sunday.
//
// Examples:
//   - "0 * * * *"    every hour on the hour
//   - "*/15 * * * *" every 15 minutes
//   - "0 9 * * 1-5"  09:00 on weekdays
//   - "@daily"       midnight
func ParseCron(expr string) (*CronExpr, error) {
	expr = strings.TrimSpace(expr)
	if m, ok := macros[strings.ToLower(expr)]; ok {
		expr = m
	}

	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("expected 5 fields, got %d", len(fields))
	}

	c := &CronExpr{
		domStar: fields[2] == "*" || fields[2] == "?",
		dowStar: fields[4] == "*" || fields[4] == "?",
	}
	var err error
	if c.minute, err = parseField(fields[0], 0, 59, nil); err != nil {
		return nil, fmt.Errorf("invalid minute field: %w", err)
	}
	if c.hour, err = parseField(fields[1], 0, 23, nil); err != nil {
		return nil, fmt.Errorf("invalid hour field: %w", err)
	}
	if c.dayOfMonth, err = parseField(fields[2], 1, 31, nil); err != nil {
		return nil, fmt.Errorf("invalid day-of-month field: %w", err)
	}
	if c.month, err = parseField(fields[3], 1, 12, monthNames); err != nil {
		return nil, fmt.Errorf("invalid month field: %w", err)
	}
	if c.dayOfWeek, err = parseField(fields[4], 0, 7, dayNames); err != nil {
		return nil, fmt.Errorf("invalid day-of-week field: %w", err)
	}
	if c.dayOfWeek.has(7) {
		c.dayOfWeek |= 1
	}
	return c, nil
}

func parseField(field string, min, max int, names map[string]int) (fieldSet, error) {
	if field == "?" {
		field = "*"
	}
	var set fieldSet
	for _, part := range strings.Split(field, ",") {
		bits, err := parsePart(part, min, max, names)
		if err != nil {
			return 0, err
		}
		set |= bits
	}
	return set, nil
}

// parsePart handles one list element: a value, a range or *, with an
// optional /step.
func parsePart(part string, min, max int, names map[string]int) (fieldSet, error) {
	step := 1
	if idx := strings.Index(part, "/"); idx != -1 {
		s, err := strconv.Atoi(part[idx+1:])
		if err != nil || s <= 0 {
			return 0, fmt.Errorf("invalid step: %s", part[idx+1:])
		}
		step = s
		part = part[:idx]
	}

	var start, end int
	switch {
	case part == "*":
		start, end = min, max
	case strings.Contains(part, "-"):
		idx := strings.Index(part, "-")
		var err error
		if start, err = parseValue(part[:idx], names); err != nil {
			return 0, fmt.Errorf("invalid range start: %s", part[:idx])
		}
		if end, err = parseValue(part[idx+1:], names); err != nil {
			return 0, fmt.Errorf("invalid range end: %s", part[idx+1:])
		}
	default:
		v, err := parseValue(part, names)
		if err != nil {
			return 0, fmt.Errorf("invalid value: %s", part)
		}
		start, end = v, v
		if step > 1 {
			end = max
		}
	}

	if start < min || start > max {
		return 0, fmt.Errorf("value %d out of range [%d-%d]", start, min, max)
	}
	if end < min || end > max {
		return 0, fmt.Errorf("value %d out of range [%d-%d]", end, min, max)
	}
	if start > end {
		return 0, fmt.Errorf("invalid range: %d > %d", start, end)
	}

	var set fieldSet
	for i := start; i <= end; i += step {
		set |= 1 << uint(i)
	}
	return set, nil
}

func parseValue(s string, names map[string]int) (int, error) {
	if v, ok := names[strings.ToLower(s)]; ok {
		return v, nil
	}
	return strconv.Atoi(s)
}

func (c *CronExpr) dayMatches(t time.Time) bool {
	dom := c.dayOfMonth.has(t.Day())
	dow := c.dayOfWeek.has(int(t.Weekday()))
	switch {
	case c.domStar && c.dowStar:
		return true
	case c.domStar:
		return dow
	case c.dowStar:
		return dom
	default:
		return dom || dow
	}
}

// Next returns the first matching minute strictly after from, in from's
// location. The zero time is returned when nothing matches within five years.
func (c *CronExpr) Next(from time.Time) time.Time {
	t := from.Truncate(time.Minute).Add(time.Minute)
	limit := from.AddDate(5, 0, 0)

	for t.Before(limit) {
		if !c.month.has(int(t.Month())) {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location())
			continue
		}
		if !c.dayMatches(t) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
			continue
		}
		if !c.hour.has(t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, t.Location())
			continue
		}
		if !c.minute.has(t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}
		return t
	}
	return time.Time{}
}
