package recurrence

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Kind enumerates the supported repeat rules.
type Kind string

const (
	Daily    Kind = "daily"
	Weekly   Kind = "weekly"
	Biweekly Kind = "biweekly"
	Monthly  Kind = "monthly"
	Yearly   Kind = "yearly"
	// Custom repeats every Interval days.
	Custom Kind = "custom"
	// RRule delegates to an RFC 5545 recurrence rule.
	RRule Kind = "rrule"
)

// ErrInvalidPattern is the sentinel wrapped by every ConfigError.
var ErrInvalidPattern = errors.New("invalid recurrence pattern")

// ConfigError reports a pattern that cannot be saved.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%v: %s", ErrInvalidPattern, e.Reason)
	}
	return fmt.Sprintf("%v: %s: %s", ErrInvalidPattern, e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidPattern }

func configErr(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Pattern describes how often an item repeats.
//
// Weekdays distinguishes nil (repeat on the anchor's weekday) from an empty,
// non-nil set, which is rejected by Validate.
type Pattern struct {
	Kind       Kind           `json:"kind" yaml:"kind"`
	Interval   int            `json:"interval,omitempty" yaml:"interval,omitempty"`
	Weekdays   []time.Weekday `json:"weekdays,omitempty" yaml:"weekdays,omitempty"`
	DayOfMonth int            `json:"day_of_month,omitempty" yaml:"day_of_month,omitempty"`
	RRule      string         `json:"rrule,omitempty" yaml:"rrule,omitempty"`
}

// step returns the effective interval, defaulting to 1.
func (p Pattern) step() int {
	if p.Interval <= 0 {
		return 1
	}
	return p.Interval
}

// weekStep is the number of weeks between weekly occurrences.
func (p Pattern) weekStep() int {
	if p.Kind == Biweekly {
		return 2 * p.step()
	}
	return p.step()
}

// Validate fails fast on configurations Next cannot honour.
func Validate(p Pattern) error {
	if p.Interval < 0 {
		return configErr("interval", "must be >= 1, got %d", p.Interval)
	}
	if p.Weekdays != nil && p.Kind != Weekly && p.Kind != Biweekly {
		return configErr("weekdays", "only allowed for weekly and biweekly patterns")
	}
	if p.DayOfMonth != 0 && p.Kind != Monthly && p.Kind != Yearly {
		return configErr("day_of_month", "only allowed for monthly and yearly patterns")
	}
	if p.RRule != "" && p.Kind != RRule {
		return configErr("rrule", "only allowed for rrule patterns")
	}

	switch p.Kind {
	case Daily:
	case Weekly, Biweekly:
		if p.Weekdays != nil && len(p.Weekdays) == 0 {
			return configErr("weekdays", "empty weekday set")
		}
		for _, wd := range p.Weekdays {
			if wd < time.Sunday || wd > time.Saturday {
				return configErr("weekdays", "unknown weekday %d", int(wd))
			}
		}
	case Monthly, Yearly:
		if p.DayOfMonth < 0 || p.DayOfMonth > 31 {
			return configErr("day_of_month", "must be within 1..31, got %d", p.DayOfMonth)
		}
	case Custom:
		if p.Interval < 1 {
			return configErr("interval", "custom patterns need an interval in days")
		}
	case RRule:
		if _, err := parseRule(p.RRule); err != nil {
			return err
		}
	case "":
		return configErr("kind", "required")
	default:
		return configErr("kind", "unknown kind %q", string(p.Kind))
	}
	return nil
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday, "su": time.Sunday,
	"mon": time.Monday, "monday": time.Monday, "mo": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday, "tu": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday, "we": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday, "th": time.Thursday,
	"fri": time.Friday, "friday": time.Friday, "fr": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday, "sa": time.Saturday,
}

// ParseWeekdays parses a comma separated weekday list such as "mon,thu".
func ParseWeekdays(raw string) ([]time.Weekday, error) {
	out := []time.Weekday{}
	for _, part := range strings.Split(raw, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		wd, ok := weekdayNames[name]
		if !ok {
			return nil, configErr("weekdays", "unknown weekday %q", part)
		}
		out = append(out, wd)
	}
	return out, nil
}

// ParsePattern parses the compact form used by the CLI and config files:
//
//	daily | daily/3
//	weekly | weekly:mon,thu | biweekly/2:fri
//	monthly | monthly@31 | monthly/3@15 | yearly@29
//	custom/10
//	rrule:FREQ=WEEKLY;BYDAY=MO,TH
//
// The result is validated.
func ParsePattern(raw string) (Pattern, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Pattern{}, configErr("kind", "required")
	}
	if low := strings.ToLower(s); strings.HasPrefix(low, "rrule:") {
		p := Pattern{Kind: RRule, RRule: strings.TrimSpace(s[len("rrule:"):])}
		return p, Validate(p)
	}

	var p Pattern
	head := s
	if i := strings.IndexAny(head, ":@"); i >= 0 {
		rest := head[i:]
		head = head[:i]
		switch rest[0] {
		case ':':
			days, err := ParseWeekdays(rest[1:])
			if err != nil {
				return Pattern{}, err
			}
			p.Weekdays = days
		case '@':
			dom, err := strconv.Atoi(strings.TrimSpace(rest[1:]))
			if err != nil {
				return Pattern{}, configErr("day_of_month", "invalid number %q", rest[1:])
			}
			p.DayOfMonth = dom
			if dom == 0 {
				return Pattern{}, configErr("day_of_month", "must be within 1..31, got 0")
			}
		}
	}
	if i := strings.IndexByte(head, '/'); i >= 0 {
		n, err := strconv.Atoi(strings.TrimSpace(head[i+1:]))
		if err != nil || n < 1 {
			return Pattern{}, configErr("interval", "invalid interval %q", head[i+1:])
		}
		p.Interval = n
		head = head[:i]
	}
	p.Kind = Kind(strings.ToLower(strings.TrimSpace(head)))
	return p, Validate(p)
}

// String renders p in the form accepted by ParsePattern.
func (p Pattern) String() string {
	if p.Kind == RRule {
		return "rrule:" + p.RRule
	}
	var b strings.Builder
	b.WriteString(string(p.Kind))
	if p.Interval > 0 && !(p.Interval == 1 && p.Kind != Custom) {
		b.WriteString("/")
		b.WriteString(strconv.Itoa(p.Interval))
	}
	if len(p.Weekdays) > 0 {
		b.WriteString(":")
		b.WriteString(FormatWeekdays(p.Weekdays))
	}
	if p.DayOfMonth > 0 {
		b.WriteString("@")
		b.WriteString(strconv.Itoa(p.DayOfMonth))
	}
	return b.String()
}

// FormatWeekdays renders weekdays Monday-first, deduplicated, as "mon,thu".
func FormatWeekdays(days []time.Weekday) string {
	offs := weekOffsets(days)
	parts := make([]string, 0, len(offs))
	for _, o := range offs {
		parts = append(parts, strings.ToLower(weekdayAt(o).String()[:3]))
	}
	return strings.Join(parts, ",")
}

// weekOffsets converts weekdays into sorted unique Monday-based offsets (Mon=0).
func weekOffsets(days []time.Weekday) []int {
	seen := [7]bool{}
	out := make([]int, 0, len(days))
	for _, d := range days {
		o := mondayOffset(d)
		if o < 0 || o > 6 || seen[o] {
			continue
		}
		seen[o] = true
		out = append(out, o)
	}
	sort.Ints(out)
	return out
}

func mondayOffset(d time.Weekday) int { return (int(d) + 6) % 7 }

func weekdayAt(offset int) time.Weekday { return time.Weekday((offset + 1) % 7) }
