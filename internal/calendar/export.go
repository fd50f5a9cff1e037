// Package calendar renders recurring items as an iCalendar feed so they can
// be subscribed to from ordinary calendar apps.
package calendar

import (
	"fmt"
	"io"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"lifejourney/internal/recurrence"
	"lifejourney/internal/storage"
)

const productID = "-//lifejourney//recurring items//EN"

// Skipped is an item left out of the feed.
type Skipped struct {
	ItemID string
	Err    error
}

// Build returns a calendar with one all-day VEVENT per item. DTSTART is the
// item's next occurrence and the RRULE continues the series from there.
// Items whose pattern cannot be rendered are reported, not fatal.
func Build(name string, items []storage.Item, stamp time.Time) (*ical.Calendar, []Skipped) {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if name = strings.TrimSpace(name); name != "" {
		cal.SetXWRCalName(name)
	}

	var skipped []Skipped
	for _, it := range items {
		if err := addEvent(cal, it, stamp.UTC()); err != nil {
			skipped = append(skipped, Skipped{ItemID: it.ID, Err: err})
		}
	}
	return cal, skipped
}

func addEvent(cal *ical.Calendar, it storage.Item, stamp time.Time) error {
	start := recurrence.DateOf(it.NextOccurrence)
	if start.IsZero() {
		return fmt.Errorf("item %s has no next occurrence", it.ID)
	}
	rule, err := recurrence.RRuleString(it.Pattern, start)
	if err != nil {
		return err
	}

	ev := cal.AddEvent(it.ID + "@lifejourney")
	ev.SetDtStampTime(stamp)
	if !it.CreatedAt.IsZero() {
		ev.SetCreatedTime(it.CreatedAt.UTC())
	}
	if !it.UpdatedAt.IsZero() {
		ev.SetModifiedAt(it.UpdatedAt.UTC())
	}
	ev.SetSummary(it.Title)
	if it.Notes != "" {
		ev.SetDescription(it.Notes)
	}
	ev.SetAllDayStartAt(start)
	ev.SetAllDayEndAt(start.AddDate(0, 0, 1))
	ev.SetProperty(ical.ComponentPropertyRrule, rule)
	ev.SetProperty(ical.ComponentPropertyCategories, strings.ToUpper(string(it.Kind)))
	ev.SetProperty(ical.ComponentPropertySequence, fmt.Sprint(it.Revision))
	return nil
}

// Write serializes the feed to w.
func Write(w io.Writer, name string, items []storage.Item, stamp time.Time) ([]Skipped, error) {
	cal, skipped := Build(name, items, stamp)
	if _, err := io.WriteString(w, cal.Serialize()); err != nil {
		return skipped, fmt.Errorf("write calendar: %w", err)
	}
	return skipped, nil
}
