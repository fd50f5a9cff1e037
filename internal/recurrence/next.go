package recurrence

import (
	"errors"
	"slices"
	"time"
)

// ErrNoOccurrence is returned when a rule has no occurrence after the anchor.
var ErrNoOccurrence = errors.New("recurrence has no further occurrence")

// DateOf truncates t to its civil date, expressed at midnight UTC.
// Stored dates and anchors are always civil dates.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses YYYY-MM-DD into a civil date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, err
	}
	return DateOf(t), nil
}

// Next returns the first occurrence of p strictly after anchor.
//
// Only the civil date of anchor is used. Month-based kinds clamp days 29-31
// to the last day of shorter months. Weekly kinds with a weekday set return
// the next listed weekday in the anchor's own week (weeks start Monday)
// before applying the interval, so weekly/2:mon,thu from a Tuesday yields
// that week's Thursday and then the Monday two weeks after its Monday. The error is non-nil only for patterns
// Validate rejects, or for rrule patterns with no further occurrence.
func Next(p Pattern, anchor time.Time) (time.Time, error) {
	if err := Validate(p); err != nil {
		return time.Time{}, err
	}
	a := DateOf(anchor)

	switch p.Kind {
	case Daily, Custom:
		return a.AddDate(0, 0, p.step()), nil
	case Weekly, Biweekly:
		return nextWeekly(p, a), nil
	case Monthly:
		return nextMonthly(p, a), nil
	case Yearly:
		return nextYearly(p, a), nil
	case RRule:
		return nextRule(p, a)
	}
	// Validate covers every kind above.
	return time.Time{}, configErr("kind", "unknown kind %q", string(p.Kind))
}

// Occurrences returns up to n consecutive occurrences after anchor.
func Occurrences(p Pattern, anchor time.Time, n int) ([]time.Time, error) {
	out := make([]time.Time, 0, min(max(n, 0), 64))
	cur := anchor
	for i := 0; i < n; i++ {
		next, err := Next(p, cur)
		if err != nil {
			if errors.Is(err, ErrNoOccurrence) && len(out) > 0 {
				return out, nil
			}
			return out, err
		}
		out = append(out, next)
		cur = next
	}
	return out, nil
}

// Align returns the first date on or after d that fits p. Only weekly kinds
// with a weekday set can move d; every other pattern accepts any start.
func Align(p Pattern, d time.Time) time.Time {
	d = DateOf(d)
	if (p.Kind != Weekly && p.Kind != Biweekly) || len(p.Weekdays) == 0 {
		return d
	}
	for i := 0; i < 7; i++ {
		c := d.AddDate(0, 0, i)
		if slices.Contains(p.Weekdays, c.Weekday()) {
			return c
		}
	}
	return d
}

func nextWeekly(p Pattern, a time.Time) time.Time {
	step := p.weekStep()
	if p.Weekdays == nil {
		return a.AddDate(0, 0, 7*step)
	}
	offs := weekOffsets(p.Weekdays)
	cur := mondayOffset(a.Weekday())
	for _, o := range offs {
		if o > cur {
			return a.AddDate(0, 0, o-cur)
		}
	}
	weekStart := a.AddDate(0, 0, -cur)
	return weekStart.AddDate(0, 0, 7*step+offs[0])
}

func nextMonthly(p Pattern, a time.Time) time.Time {
	dom := p.DayOfMonth
	if dom == 0 {
		dom = a.Day()
	}
	if c := clampedDate(a.Year(), a.Month(), dom); c.After(a) {
		return c
	}
	return clampedDate(a.Year(), a.Month()+time.Month(p.step()), dom)
}

func nextYearly(p Pattern, a time.Time) time.Time {
	dom := p.DayOfMonth
	if dom == 0 {
		dom = a.Day()
	}
	if c := clampedDate(a.Year(), a.Month(), dom); c.After(a) {
		return c
	}
	return clampedDate(a.Year()+p.step(), a.Month(), dom)
}

// clampedDate builds year/month/day, normalising month overflow and clamping
// day to the month's length.
func clampedDate(year int, month time.Month, day int) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	if last := DaysIn(first.Year(), first.Month()); day > last {
		day = last
	}
	return first.AddDate(0, 0, day-1)
}

// DaysIn reports the number of days in the month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
