package recurrence

import (
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

var rruleWeekdays = [7]rrule.Weekday{rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA, rrule.SU}

// parseRule parses an RFC 5545 rule body, optionally preceded by a DTSTART
// line. Bounded rules are rejected: a recurring item never runs out.
func parseRule(raw string) (*rrule.ROption, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, configErr("rrule", "required")
	}
	opt, err := rrule.StrToROption(s)
	if err != nil {
		return nil, configErr("rrule", "%v", err)
	}
	if opt.Count != 0 || !opt.Until.IsZero() {
		return nil, configErr("rrule", "COUNT and UNTIL are not supported")
	}
	if opt.Interval < 0 {
		return nil, configErr("rrule", "negative INTERVAL")
	}
	return opt, nil
}

func nextRule(p Pattern, a time.Time) (time.Time, error) {
	opt, err := parseRule(p.RRule)
	if err != nil {
		return time.Time{}, err
	}
	if opt.Dtstart.IsZero() {
		opt.Dtstart = a
	}
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return time.Time{}, configErr("rrule", "%v", err)
	}
	// Occurrences carry DTSTART's zone; the day after the anchor must begin
	// in that zone or a match late on the anchor's date would be returned.
	from := time.Date(a.Year(), a.Month(), a.Day()+1, 0, 0, 0, 0, opt.Dtstart.Location())
	next := r.After(from, true)
	for !next.IsZero() && !DateOf(next).After(a) {
		next = r.After(next, false)
	}
	if next.IsZero() {
		return time.Time{}, ErrNoOccurrence
	}
	return DateOf(next), nil
}

// RuleOption translates p into an rrule option starting at start.
//
// Kinds that borrow fields from the anchor (weekday, day of month, month)
// take them from start. Days 29-31 are rendered as a BYMONTHDAY range with
// BYSETPOS=-1 so short months resolve to their last day, matching Next.
func RuleOption(p Pattern, start time.Time) (*rrule.ROption, error) {
	if err := Validate(p); err != nil {
		return nil, err
	}
	start = DateOf(start)
	if p.Kind == RRule {
		opt, err := parseRule(p.RRule)
		if err != nil {
			return nil, err
		}
		if opt.Dtstart.IsZero() {
			opt.Dtstart = start
		}
		return opt, nil
	}

	opt := &rrule.ROption{Dtstart: start, Interval: p.step()}
	switch p.Kind {
	case Daily, Custom:
		opt.Freq = rrule.DAILY
	case Weekly, Biweekly:
		opt.Freq = rrule.WEEKLY
		opt.Interval = p.weekStep()
		for _, o := range weekOffsets(p.Weekdays) {
			opt.Byweekday = append(opt.Byweekday, rruleWeekdays[o])
		}
	case Monthly, Yearly:
		opt.Freq = rrule.MONTHLY
		if p.Kind == Yearly {
			opt.Freq = rrule.YEARLY
			opt.Bymonth = []int{int(start.Month())}
		}
		dom := p.DayOfMonth
		if dom == 0 {
			dom = start.Day()
		}
		if dom <= 28 {
			opt.Bymonthday = []int{dom}
		} else {
			for d := 28; d <= dom; d++ {
				opt.Bymonthday = append(opt.Bymonthday, d)
			}
			opt.Bysetpos = []int{-1}
		}
	}
	return opt, nil
}

// RRuleString renders p as an RRULE value (without DTSTART) anchored at start.
func RRuleString(p Pattern, start time.Time) (string, error) {
	opt, err := RuleOption(p, start)
	if err != nil {
		return "", err
	}
	return opt.RRuleString(), nil
}
