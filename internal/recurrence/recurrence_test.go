package recurrence

import (
	"errors"
	"math"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/google/go-cmp/cmp"
	"github.com/teambition/rrule-go"
)

func day(s string) time.Time {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func mustParse(t *testing.T, raw string) Pattern {
	t.Helper()
	p, err := ParsePattern(raw)
	if err != nil {
		t.Fatalf("ParsePattern(%q) error: %v", raw, err)
	}
	return p
}

func TestNext(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		pattern string
		anchor  string
		want    string
	}{
		{name: "daily", pattern: "daily", anchor: "2024-01-02", want: "2024-01-03"},
		{name: "daily interval", pattern: "daily/3", anchor: "2024-12-30", want: "2025-01-02"},
		{name: "weekly same weekday", pattern: "weekly", anchor: "2024-01-02", want: "2024-01-09"},
		{name: "weekly later in week", pattern: "weekly:mon,thu", anchor: "2024-01-02", want: "2024-01-04"},
		{name: "weekly wraps to next week", pattern: "weekly:mon,thu", anchor: "2024-01-04", want: "2024-01-08"},
		{name: "weekly sunday is end of week", pattern: "weekly:sun", anchor: "2024-01-01", want: "2024-01-07"},
		{name: "biweekly without days", pattern: "biweekly", anchor: "2024-01-02", want: "2024-01-16"},
		{name: "biweekly wraps two weeks", pattern: "biweekly:mon,thu", anchor: "2024-01-04", want: "2024-01-15"},
		{name: "monthly default day", pattern: "monthly", anchor: "2024-01-15", want: "2024-02-15"},
		{name: "monthly later this month", pattern: "monthly@20", anchor: "2024-01-15", want: "2024-01-20"},
		{name: "monthly clamps to leap february", pattern: "monthly@31", anchor: "2024-01-31", want: "2024-02-29"},
		{name: "monthly clamps to february", pattern: "monthly@31", anchor: "2023-01-31", want: "2023-02-28"},
		{name: "monthly clamps to thirty days", pattern: "monthly@31", anchor: "2023-03-31", want: "2023-04-30"},
		{name: "monthly recovers after clamp", pattern: "monthly@31", anchor: "2023-02-28", want: "2023-03-31"},
		{name: "monthly interval", pattern: "monthly/3@15", anchor: "2024-11-15", want: "2025-02-15"},
		{name: "yearly", pattern: "yearly", anchor: "2024-06-01", want: "2025-06-01"},
		{name: "yearly leap day clamps", pattern: "yearly@29", anchor: "2024-02-29", want: "2025-02-28"},
		{name: "yearly leap day returns", pattern: "yearly@29", anchor: "2027-02-28", want: "2028-02-29"},
		{name: "custom", pattern: "custom/10", anchor: "2024-02-25", want: "2024-03-06"},
		{name: "rrule weekly", pattern: "rrule:FREQ=WEEKLY;BYDAY=MO,TH", anchor: "2024-01-02", want: "2024-01-04"},
		{name: "rrule with dtstart", pattern: "rrule:DTSTART:20240105T000000Z\nRRULE:FREQ=MONTHLY;BYMONTHDAY=5", anchor: "2024-03-05", want: "2024-04-05"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Next(mustParse(t, tt.pattern), day(tt.anchor))
			if err != nil {
				t.Fatalf("Next error: %v", err)
			}
			if want := day(tt.want); !got.Equal(want) {
				t.Fatalf("Next(%s, %s) = %s, want %s", tt.pattern, tt.anchor, got.Format(time.DateOnly), tt.want)
			}
		})
	}
}

func TestNextIgnoresTimeOfDay(t *testing.T) {
	t.Parallel()
	anchor := time.Date(2024, 1, 2, 23, 59, 0, 0, time.UTC)
	got, err := Next(Pattern{Kind: Daily}, anchor)
	if err != nil {
		t.Fatalf("Next error: %v", err)
	}
	if !got.Equal(day("2024-01-03")) {
		t.Fatalf("Next = %s, want 2024-01-03", got)
	}
}

func TestNextAlwaysAfterAnchor(t *testing.T) {
	t.Parallel()
	patterns := []string{
		"daily", "daily/5", "weekly", "weekly:sat", "weekly/3:mon,wed,fri", "biweekly:tue",
		"monthly", "monthly@29", "monthly@31", "monthly/2@30", "yearly", "yearly@31", "custom/45",
		"rrule:FREQ=MONTHLY;BYDAY=-1FR",
	}
	start := day("2023-01-01")
	for _, raw := range patterns {
		assertAlwaysAfter(t, raw, mustParse(t, raw), start)
	}
	// Rules whose DTSTART zone is far from UTC.
	for _, raw := range []string{
		"DTSTART;TZID=Pacific/Honolulu:20220101T200000\nRRULE:FREQ=DAILY",
		"DTSTART;TZID=Pacific/Honolulu:20220101T233000\nRRULE:FREQ=WEEKLY;BYDAY=MO,TH",
		"DTSTART;TZID=Pacific/Kiritimati:20220101T010000\nRRULE:FREQ=DAILY",
		"DTSTART;TZID=Pacific/Kiritimati:20220101T003000\nRRULE:FREQ=MONTHLY;BYMONTHDAY=1,15",
	} {
		assertAlwaysAfter(t, raw, Pattern{Kind: RRule, RRule: raw}, start)
	}
}

func assertAlwaysAfter(t *testing.T, name string, p Pattern, start time.Time) {
	t.Helper()
	for i := 0; i < 3*366; i++ {
		anchor := start.AddDate(0, 0, i)
		got, err := Next(p, anchor)
		if err != nil {
			t.Fatalf("Next(%s, %s) error: %v", name, anchor.Format(time.DateOnly), err)
		}
		if !got.After(anchor) {
			t.Fatalf("Next(%s, %s) = %s, not after anchor", name, anchor.Format(time.DateOnly), got.Format(time.DateOnly))
		}
	}
}

func TestNextRuleInZoneBehindUTC(t *testing.T) {
	t.Parallel()
	p := Pattern{Kind: RRule, RRule: "DTSTART;TZID=Pacific/Honolulu:20250101T200000\nRRULE:FREQ=DAILY"}
	got, err := Next(p, day("2025-01-05"))
	if err != nil {
		t.Fatal(err)
	}
	if want := day("2025-01-06"); !got.Equal(want) {
		t.Fatalf("Next = %s, want %s", got.Format(time.DateOnly), want.Format(time.DateOnly))
	}
}

// The rendered RRULE must describe exactly the series produced by chaining Next.
func TestSeriesMatchesRenderedRule(t *testing.T) {
	t.Parallel()
	tests := []struct {
		pattern string
		start   string
	}{
		{pattern: "daily/2", start: "2024-01-01"},
		{pattern: "custom/9", start: "2024-02-20"},
		{pattern: "weekly", start: "2024-01-03"},
		{pattern: "weekly:mon,thu", start: "2024-01-02"},
		{pattern: "biweekly:mon,thu", start: "2024-01-02"},
		{pattern: "weekly/3:sun,wed", start: "2024-05-05"},
		{pattern: "monthly", start: "2024-01-10"},
		{pattern: "monthly@31", start: "2023-01-31"},
		{pattern: "monthly/2@30", start: "2024-01-31"},
		{pattern: "yearly@29", start: "2024-02-29"},
		{pattern: "yearly@29", start: "2024-02-10"},
		{pattern: "yearly/2", start: "2023-07-04"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.pattern+"@"+tt.start, func(t *testing.T) {
			t.Parallel()
			p := mustParse(t, tt.pattern)
			start := day(tt.start)

			got, err := Occurrences(p, start, 40)
			if err != nil {
				t.Fatalf("Occurrences error: %v", err)
			}

			opt, err := RuleOption(p, start)
			if err != nil {
				t.Fatalf("RuleOption error: %v", err)
			}
			r, err := rrule.NewRRule(*opt)
			if err != nil {
				t.Fatalf("NewRRule(%s) error: %v", opt.RRuleString(), err)
			}
			want := make([]time.Time, 0, len(got))
			cur := start
			for len(want) < len(got) {
				cur = r.After(cur, false)
				if cur.IsZero() {
					break
				}
				want = append(want, cur)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("series mismatch for %s (-rrule +next):\n%s", opt.RRuleString(), diff)
			}
		})
	}
}

func TestRRuleString(t *testing.T) {
	t.Parallel()
	tests := []struct {
		pattern string
		start   string
		want    string
	}{
		{pattern: "daily", start: "2024-01-01", want: "FREQ=DAILY;INTERVAL=1"},
		{pattern: "biweekly:thu,mon", start: "2024-01-01", want: "FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,TH"},
		{pattern: "monthly@15", start: "2024-01-01", want: "FREQ=MONTHLY;INTERVAL=1;BYMONTHDAY=15"},
		{pattern: "monthly@30", start: "2024-01-01", want: "FREQ=MONTHLY;INTERVAL=1;BYSETPOS=-1;BYMONTHDAY=28,29,30"},
		{pattern: "yearly", start: "2024-03-09", want: "FREQ=YEARLY;INTERVAL=1;BYMONTH=3;BYMONTHDAY=9"},
		{pattern: "rrule:FREQ=WEEKLY;BYDAY=FR", start: "2024-01-01", want: "FREQ=WEEKLY;BYDAY=FR"},
	}
	for _, tt := range tests {
		got, err := RRuleString(mustParse(t, tt.pattern), day(tt.start))
		if err != nil {
			t.Fatalf("RRuleString(%s) error: %v", tt.pattern, err)
		}
		if got != tt.want {
			t.Fatalf("RRuleString(%s) = %q, want %q", tt.pattern, got, tt.want)
		}
	}
}

func TestValidateRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		pattern Pattern
		field   string
	}{
		{name: "missing kind", pattern: Pattern{}, field: "kind"},
		{name: "unknown kind", pattern: Pattern{Kind: "hourly"}, field: "kind"},
		{name: "negative interval", pattern: Pattern{Kind: Daily, Interval: -1}, field: "interval"},
		{name: "custom without interval", pattern: Pattern{Kind: Custom}, field: "interval"},
		{name: "empty weekday set", pattern: Pattern{Kind: Weekly, Weekdays: []time.Weekday{}}, field: "weekdays"},
		{name: "weekday out of range", pattern: Pattern{Kind: Weekly, Weekdays: []time.Weekday{9}}, field: "weekdays"},
		{name: "weekdays on monthly", pattern: Pattern{Kind: Monthly, Weekdays: []time.Weekday{time.Monday}}, field: "weekdays"},
		{name: "day of month too large", pattern: Pattern{Kind: Monthly, DayOfMonth: 32}, field: "day_of_month"},
		{name: "day of month on daily", pattern: Pattern{Kind: Daily, DayOfMonth: 3}, field: "day_of_month"},
		{name: "bounded rrule", pattern: Pattern{Kind: RRule, RRule: "FREQ=DAILY;COUNT=3"}, field: "rrule"},
		{name: "garbage rrule", pattern: Pattern{Kind: RRule, RRule: "FREQ=SOMETIMES"}, field: "rrule"},
		{name: "rrule on daily", pattern: Pattern{Kind: Daily, RRule: "FREQ=DAILY"}, field: "rrule"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Validate(tt.pattern)
			if !errors.Is(err, ErrInvalidPattern) {
				t.Fatalf("Validate error = %v, want ErrInvalidPattern", err)
			}
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Validate error %T is not *ConfigError", err)
			}
			if cfgErr.Field != tt.field {
				t.Fatalf("Field = %q, want %q", cfgErr.Field, tt.field)
			}
			if _, err := Next(tt.pattern, day("2024-01-01")); !errors.Is(err, ErrInvalidPattern) {
				t.Fatalf("Next error = %v, want ErrInvalidPattern", err)
			}
		})
	}
}

func TestParsePattern(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want Pattern
	}{
		{raw: "daily", want: Pattern{Kind: Daily}},
		{raw: " Weekly:Mon, Thu ", want: Pattern{Kind: Weekly, Weekdays: []time.Weekday{time.Monday, time.Thursday}}},
		{raw: "biweekly/2:fri", want: Pattern{Kind: Biweekly, Interval: 2, Weekdays: []time.Weekday{time.Friday}}},
		{raw: "monthly/2@31", want: Pattern{Kind: Monthly, Interval: 2, DayOfMonth: 31}},
		{raw: "custom/10", want: Pattern{Kind: Custom, Interval: 10}},
		{raw: "rrule:FREQ=DAILY", want: Pattern{Kind: RRule, RRule: "FREQ=DAILY"}},
	}
	for _, tt := range tests {
		got, err := ParsePattern(tt.raw)
		if err != nil {
			t.Fatalf("ParsePattern(%q) error: %v", tt.raw, err)
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Fatalf("ParsePattern(%q) mismatch (-want +got):\n%s", tt.raw, diff)
		}
	}

	for _, raw := range []string{"", "weekly:", "weekly:funday", "monthly@x", "daily/0", "custom"} {
		if _, err := ParsePattern(raw); !errors.Is(err, ErrInvalidPattern) {
			t.Fatalf("ParsePattern(%q) error = %v, want ErrInvalidPattern", raw, err)
		}
	}
}

func TestPatternStringRoundTrip(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"daily", "weekly:mon,thu", "biweekly/2:fri", "monthly/3@15", "yearly@29", "custom/10"} {
		p := mustParse(t, raw)
		if got := p.String(); got != raw {
			t.Fatalf("String() = %q, want %q", got, raw)
		}
	}
}

func TestOccurrences(t *testing.T) {
	t.Parallel()
	got, err := Occurrences(mustParse(t, "monthly@31"), day("2024-01-01"), 4)
	if err != nil {
		t.Fatalf("Occurrences error: %v", err)
	}
	want := []time.Time{day("2024-01-31"), day("2024-02-29"), day("2024-03-31"), day("2024-04-30")}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Occurrences mismatch (-want +got):\n%s", diff)
	}
}

func TestOccurrencesLargeCountFailsFast(t *testing.T) {
	t.Parallel()
	_, err := Occurrences(Pattern{Kind: Custom}, day("2024-01-01"), math.MaxInt)
	if !errors.Is(err, ErrInvalidPattern) {
		t.Fatalf("error = %v, want ErrInvalidPattern", err)
	}
}

func TestAlign(t *testing.T) {
	t.Parallel()
	tests := []struct {
		pattern string
		start   string
		want    string
	}{
		{pattern: "weekly:mon,thu", start: "2024-01-03", want: "2024-01-04"},
		{pattern: "weekly:mon,thu", start: "2024-01-05", want: "2024-01-08"},
		{pattern: "biweekly:tue", start: "2024-01-02", want: "2024-01-02"},
		{pattern: "weekly", start: "2024-01-03", want: "2024-01-03"},
		{pattern: "monthly@31", start: "2024-01-03", want: "2024-01-03"},
	}
	for _, tt := range tests {
		if got := Align(mustParse(t, tt.pattern), day(tt.start)); !got.Equal(day(tt.want)) {
			t.Errorf("Align(%s, %s) = %s, want %s", tt.pattern, tt.start, got.Format(time.DateOnly), tt.want)
		}
	}
}
