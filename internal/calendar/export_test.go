package calendar

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/go-cmp/cmp"

	"lifejourney/internal/recurrence"
	"lifejourney/internal/storage"
)

func item(t *testing.T, id, next string, p recurrence.Pattern) storage.Item {
	t.Helper()
	d, err := recurrence.ParseDate(next)
	if err != nil {
		t.Fatal(err)
	}
	return storage.Item{ID: id, Kind: storage.KindTask, Title: "Item " + id, Pattern: p, NextOccurrence: d, Revision: 2}
}

func TestWriteFeed(t *testing.T) {
	t.Parallel()
	items := []storage.Item{
		item(t, "daily", "2024-01-10", recurrence.Pattern{Kind: recurrence.Daily, Interval: 2}),
		item(t, "month-end", "2024-01-31", recurrence.Pattern{Kind: recurrence.Monthly, DayOfMonth: 31}),
		item(t, "broken", "2024-01-10", recurrence.Pattern{Kind: "fortnightly"}),
		{ID: "undated", Kind: storage.KindTask, Pattern: recurrence.Pattern{Kind: recurrence.Daily}},
	}
	items[1].Kind = storage.KindEvent

	var buf bytes.Buffer
	skipped, err := Write(&buf, "Ana", items, time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(skipped) != 2 || skipped[0].ItemID != "broken" || skipped[1].ItemID != "undated" {
		t.Fatalf("skipped = %+v", skipped)
	}
	if !errors.Is(skipped[0].Err, recurrence.ErrInvalidPattern) {
		t.Fatalf("broken item error = %v", skipped[0].Err)
	}

	out := buf.String()
	for _, line := range []string{
		"X-WR-CALNAME:Ana",
		"DTSTART;VALUE=DATE:20240131",
		"DTEND;VALUE=DATE:20240201",
		"RRULE:FREQ=DAILY;INTERVAL=2",
		"RRULE:FREQ=MONTHLY;INTERVAL=1;BYSETPOS=-1;BYMONTHDAY=28,29,30,31",
		"CATEGORIES:EVENT",
		"SEQUENCE:2",
	} {
		if !strings.Contains(out, line) {
			t.Errorf("feed lacks %q", line)
		}
	}
	if t.Failed() {
		t.Logf("feed:\n%s", out)
	}
}

func TestFeedParses(t *testing.T) {
	t.Parallel()
	items := []storage.Item{
		item(t, "a", "2024-01-10", recurrence.Pattern{Kind: recurrence.Weekly}),
		item(t, "b", "2024-02-29", recurrence.Pattern{Kind: recurrence.Yearly}),
	}
	var buf bytes.Buffer
	if _, err := Write(&buf, "", items, time.Now()); err != nil {
		t.Fatal(err)
	}

	cal, err := ical.ParseCalendar(strings.NewReader(buf.String()))
	if err != nil {
		t.Fatalf("ParseCalendar: %v", err)
	}
	got := map[string]string{}
	for _, ev := range cal.Events() {
		if p := ev.GetProperty(ical.ComponentPropertySummary); p != nil {
			got[ev.Id()] = p.Value
		}
	}
	want := map[string]string{"a@lifejourney": "Item a", "b@lifejourney": "Item b"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
}
