// Package cronsched evaluates CronSchedules, firing new pipeline executions
// at each matching instant with catch-up-aware handling of missed intervals.
package cronsched

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Expression is a parsed five-field cron expression (minute hour
// day-of-month month day-of-week), evaluated against a specific IANA
// timezone. No third-party cron library appears anywhere in the retrieval
// pack, so the field matcher is hand-rolled standard-library code.
type Expression struct {
	minute field
	hour   field
	dom    field
	month  field
	dow    field
	loc    *time.Location
}

// field is a bitmask of the values a cron field accepts.
type field uint64

func (f field) has(v int) bool { return f&(1<<uint(v)) != 0 }

// Parse compiles expr (standard five-field cron syntax: `*`, `N`, `N-M`,
// `*/N`, `N,M,...`, and combinations thereof) against timezone tz.
func Parse(expr, tz string) (*Expression, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, errors.Errorf("cron expression %q: expected 5 fields, got %d", expr, len(fields))
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, errors.Wrapf(err, "cron expression %q: invalid timezone %q", expr, tz)
	}

	minute, err := parseField(fields[0], 0, 59)
	if err != nil {
		return nil, errors.Wrapf(err, "cron expression %q: minute field", expr)
	}
	hour, err := parseField(fields[1], 0, 23)
	if err != nil {
		return nil, errors.Wrapf(err, "cron expression %q: hour field", expr)
	}
	dom, err := parseField(fields[2], 1, 31)
	if err != nil {
		return nil, errors.Wrapf(err, "cron expression %q: day-of-month field", expr)
	}
	month, err := parseField(fields[3], 1, 12)
	if err != nil {
		return nil, errors.Wrapf(err, "cron expression %q: month field", expr)
	}
	dow, err := parseField(fields[4], 0, 7)
	if err != nil {
		return nil, errors.Wrapf(err, "cron expression %q: day-of-week field", expr)
	}
	// 7 is a common alias for Sunday alongside 0.
	if dow.has(7) {
		dow |= 1 << 0
	}

	return &Expression{minute: minute, hour: hour, dom: dom, month: month, dow: dow, loc: loc}, nil
}

func parseField(s string, min, max int) (field, error) {
	var f field
	for _, part := range strings.Split(s, ",") {
		if part == "*" {
			for v := min; v <= max; v++ {
				f |= 1 << uint(v)
			}
			continue
		}
		step := 1
		rangePart := part
		if idx := strings.Index(part, "/"); idx >= 0 {
			var err error
			step, err = strconv.Atoi(part[idx+1:])
			if err != nil || step <= 0 {
				return 0, errors.Errorf("invalid step in %q", part)
			}
			rangePart = part[:idx]
		}

		lo, hi := min, max
		if rangePart != "*" {
			if idx := strings.Index(rangePart, "-"); idx >= 0 {
				var err error
				lo, err = strconv.Atoi(rangePart[:idx])
				if err != nil {
					return 0, errors.Errorf("invalid range start in %q", part)
				}
				hi, err = strconv.Atoi(rangePart[idx+1:])
				if err != nil {
					return 0, errors.Errorf("invalid range end in %q", part)
				}
			} else {
				v, err := strconv.Atoi(rangePart)
				if err != nil {
					return 0, errors.Errorf("invalid value %q", part)
				}
				lo, hi = v, v
			}
		}
		if lo < min || hi > max || lo > hi {
			return 0, errors.Errorf("value out of range [%d,%d] in %q", min, max, part)
		}
		for v := lo; v <= hi; v += step {
			f |= 1 << uint(v)
		}
	}
	return f, nil
}

// Next returns the earliest instant strictly after after that matches the
// expression, in the expression's configured timezone.
func (e *Expression) Next(after time.Time) time.Time {
	t := after.In(e.loc).Truncate(time.Minute).Add(time.Minute)
	// Bounded search: five years of minutes is far more than any reasonable
	// schedule will ever need to scan past.
	limit := t.AddDate(5, 0, 0)
	for t.Before(limit) {
		if e.matches(t) {
			return t
		}
		t = t.Add(time.Minute)
	}
	return limit
}

func (e *Expression) matches(t time.Time) bool {
	if !e.minute.has(t.Minute()) {
		return false
	}
	if !e.hour.has(t.Hour()) {
		return false
	}
	if !e.month.has(int(t.Month())) {
		return false
	}
	if !e.dom.has(t.Day()) {
		return false
	}
	if !e.dow.has(int(t.Weekday())) {
		return false
	}
	return true
}
